package server

import (
	"github.com/bxacosta/wsclip/internal/ratelimit"
	"github.com/bxacosta/wsclip/internal/relay"
)

// RejectionResponse is the JSON body for upgrade requests rejected
// before the socket exists. Shape matches the error catalog:
// {code, status, message}.
type RejectionResponse struct {
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	Version       string             `json:"version"`
	UptimeSeconds int                `json:"uptime_seconds"`
	StartedAt     string             `json:"started_at"`
	Relay         relay.Stats        `json:"relay"`
	RateLimit     ratelimit.Snapshot `json:"rate_limit"`
}
