// Package auth provides API-key authentication for the HTTP and WebSocket
// endpoints.
package auth

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/R3duxLabs/EchoMind-Backend/internal/event"
)

var (
	// ErrMissingKey is returned when a request carries no API key.
	ErrMissingKey = errors.New("missing API key")

	// ErrInvalidKey is returned when a request carries an unknown API key.
	ErrInvalidKey = errors.New("invalid API key")
)

// Keys is the set of accepted API keys. Keys are held as SHA-256 digests
// and compared in constant time.
type Keys struct {
	digests [][sha256.Size]byte
}

// NewKeys builds a key set. Blank keys are rejected.
func NewKeys(keys ...string) (*Keys, error) {
	k := &Keys{}
	for i, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("API key %d is empty", i)
		}
		k.digests = append(k.digests, sha256.Sum256([]byte(key)))
	}
	if len(k.digests) == 0 {
		return nil, errors.New("at least one API key is required")
	}
	return k, nil
}

// LoadKeyFile builds a key set from a key file.
func LoadKeyFile(path string) (*Keys, error) {
	keys, err := ReadKeyFile(path)
	if err != nil {
		return nil, err
	}
	return NewKeys(keys...)
}

// ReadKeyFile reads one API key per line. Blank lines and lines starting
// with # are skipped.
func ReadKeyFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var keys []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan key file: %w", err)
	}
	return keys, nil
}

// Check validates key against the set.
func (k *Keys) Check(key string) error {
	if key == "" {
		return ErrMissingKey
	}
	digest := sha256.Sum256([]byte(key))
	match := 0
	for _, d := range k.digests {
		match |= subtle.ConstantTimeCompare(digest[:], d[:])
	}
	if match != 1 {
		return ErrInvalidKey
	}
	return nil
}

// FromRequest extracts the API key from the X-API-Key header, falling back
// to the api_key query parameter for browser WebSocket clients that cannot
// set headers.
func FromRequest(r *http.Request) string {
	if key := r.Header.Get(event.APIKeyHeader); key != "" {
		return key
	}
	return r.URL.Query().Get(event.ParamAPIKey)
}

// Middleware rejects requests without a valid API key. A nil key set
// disables authentication.
func Middleware(keys *Keys, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if keys == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := keys.Check(FromRequest(r)); err != nil {
				logger.Warn("rejected request",
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
					"error", err,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]string{
					"error":  "forbidden",
					"detail": ErrInvalidKey.Error(),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
