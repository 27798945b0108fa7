package server

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bxacosta/wsclip/internal/protocol"
	"github.com/bxacosta/wsclip/internal/relay"
)

// handleUpgrade is the admission gate. Each check short-circuits with
// a catalog-shaped JSON rejection; only fully validated requests are
// upgraded.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ip := sourceIP(r)
	if !s.limiter.Allow(ip) {
		s.reject(w, protocol.ErrRateLimitExceeded, ip)
		return
	}

	q := r.URL.Query()

	channelID := q.Get("channelId")
	if perr := protocol.ValidateChannelID(channelID); perr != nil {
		s.reject(w, perr, ip)
		return
	}

	peerID, perr := protocol.ValidatePeerID(q.Get("peerId"))
	if perr != nil {
		s.reject(w, perr, ip)
		return
	}

	if !s.authenticate(r) {
		s.reject(w, protocol.ErrInvalidSecret, ip)
		return
	}

	// Reject doomed admissions with an HTTP status while the request
	// is still HTTP. AddPeer re-checks authoritatively after upgrade.
	if perr := s.registry.CheckAdmission(channelID, peerID); perr != nil {
		s.reject(w, perr, ip)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already wrote the response via upgradeError.
		s.log.Warn("upgrade failed", "remote", ip, "error", err)
		return
	}

	state := &relay.ConnState{
		ChannelID:   channelID,
		PeerID:      peerID,
		ConnectedAt: time.Now(),
		ClientInfo:  clientInfo(q),
	}
	conn := relay.NewWSConn(ws, s.cfg.IdleTimeout, s.cfg.MaxMessageSize, s.log)

	s.metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()
	s.log.Debug("connection admitted",
		"channel", channelID, "peer", peerID, "remote", ip)

	// The handler goroutine owns the connection for its lifetime; the
	// upgrade hijacked it from the HTTP server.
	s.hub.Run(conn, state)
}

// authenticate compares the presented secret against the configured
// one in constant time. Authorization: Bearer is preferred; the secret
// query parameter is the fallback for clients that cannot set headers.
func (s *Server) authenticate(r *http.Request) bool {
	secret := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		secret = strings.TrimPrefix(auth, "Bearer ")
	} else {
		secret = r.URL.Query().Get("secret")
	}
	if secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.ServerSecret)) == 1
}

// reject writes a catalog-shaped JSON rejection and records it.
func (s *Server) reject(w http.ResponseWriter, perr *protocol.Error, ip string) {
	s.registry.IncrementError(perr.Code)
	s.metrics.ConnectionsTotal.WithLabelValues("rejected").Inc()
	s.metrics.UpgradesRejected.WithLabelValues(perr.Code).Inc()
	s.log.Warn("upgrade rejected", "code", perr.Code, "remote", ip)

	respondJSON(w, perr.HTTPStatus, RejectionResponse{
		Code:    perr.Code,
		Status:  perr.HTTPStatus,
		Message: perr.Message,
	})
}

// upgradeError is the Upgrader's error callback: handshake failures
// after validation get the catalog's UPGRADE_FAILED shape.
func (s *Server) upgradeError(w http.ResponseWriter, r *http.Request, status int, reason error) {
	s.registry.IncrementError(protocol.ErrUpgradeFailed.Code)
	respondJSON(w, status, RejectionResponse{
		Code:    protocol.ErrUpgradeFailed.Code,
		Status:  status,
		Message: protocol.ErrUpgradeFailed.Message,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStats serves counter snapshots. Authenticated with the same
// shared secret as the upgrade gate, as a Bearer token.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if !strings.HasPrefix(auth, "Bearer ") ||
		subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.ServerSecret)) != 1 {
		respondJSON(w, http.StatusUnauthorized, RejectionResponse{
			Code:    protocol.ErrInvalidSecret.Code,
			Status:  http.StatusUnauthorized,
			Message: "Invalid or missing bearer token",
		})
		return
	}

	respondJSON(w, http.StatusOK, StatsResponse{
		Version:       s.version,
		UptimeSeconds: int(time.Since(s.startTime).Seconds()),
		StartedAt:     s.startTime.UTC().Format(time.RFC3339),
		Relay:         s.registry.GetStats(),
		RateLimit:     s.limiter.Snapshot(),
	})
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// sourceIP extracts the client IP, honoring X-Forwarded-For when the
// server sits behind a proxy. The first hop in the list is the
// original client.
func sourceIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientInfo collects the optional client-provided metadata from the
// upgrade query string.
func clientInfo(q map[string][]string) map[string]any {
	info := make(map[string]any)
	for _, key := range []string{"platform", "version"} {
		if vals, ok := q[key]; ok && len(vals) > 0 && vals[0] != "" {
			info[key] = vals[0]
		}
	}
	if len(info) == 0 {
		return nil
	}
	return info
}
