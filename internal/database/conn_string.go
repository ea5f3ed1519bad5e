package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/R3duxLabs/EchoMind-Backend/internal/config"
)

// ApplicationName is reported to the server as application_name.
const ApplicationName = "echomind"

// BuildConnString builds a PostgreSQL URL from config. Credentials are
// escaped as URL userinfo and IPv6 hosts are bracketed.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", ApplicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
