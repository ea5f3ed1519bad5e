package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/R3duxLabs/EchoMind-Backend/internal/batch"
	"github.com/R3duxLabs/EchoMind-Backend/internal/bus"
	"github.com/R3duxLabs/EchoMind-Backend/internal/event"
)

const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status     string `json:"status"`
	Identities int    `json:"identities"`
	Sessions   int    `json:"sessions"`
	Storage    string `json:"storage"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.Bus.Stats()
	resp := healthResponse{
		Status:     "ok",
		Identities: stats.Identities,
		Sessions:   stats.Sessions,
		Storage:    "none",
	}

	status := http.StatusOK
	if s.deps.Storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.deps.Storage.Ping(ctx); err != nil {
			s.logger.Warn("storage health check failed", "error", err)
			resp.Status = "degraded"
			resp.Storage = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Storage = "ok"
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var req batch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}

	ctx := r.Context()
	if identity := r.Header.Get(event.SubscriberHeader); identity != "" {
		ctx = batch.WithIdentity(ctx, identity)
	}

	result, err := s.deps.Processor.Execute(ctx, req.Operations)
	if err != nil {
		// Request-level rejections happen before any operation runs.
		if errors.Is(err, batch.ErrNoOperations) || errors.Is(err, batch.ErrTooManyOperations) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		s.logger.Error("batch failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "batch failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type publishRequest struct {
	Identity string         `json:"identity"`
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload"`
}

type publishResponse struct {
	Delivered int `json:"delivered"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}

	delivered, err := s.deps.Bus.Publish(req.Identity, req.Type, req.Payload)
	if err != nil {
		if errors.Is(err, bus.ErrEmptyIdentity) || errors.Is(err, bus.ErrEmptyType) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		s.logger.Error("publish failed", "identity", req.Identity, "type", req.Type, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "publish failed")
		return
	}
	writeJSON(w, http.StatusAccepted, publishResponse{Delivered: delivered})
}

type presenceResponse struct {
	Identity  string `json:"identity"`
	Connected bool   `json:"connected"`
	Sessions  int    `json:"sessions"`
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	n, err := s.deps.Bus.Sessions(ctx, identity)
	if err != nil {
		if errors.Is(err, bus.ErrEmptyIdentity) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		s.logger.Warn("presence lookup failed", "identity", identity, "error", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "presence lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, presenceResponse{
		Identity:  identity,
		Connected: n > 0,
		Sessions:  n,
	})
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail})
}
