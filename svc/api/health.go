package api

import (
	"context"
	"net/http"
	"time"

	"zerobin/svc/util"
)

const probeTimeout = 500 * time.Millisecond

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Ready    bool   `json:"ready"`
	Degraded bool   `json:"degraded"`
	Draining bool   `json:"draining,omitempty"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready reports 503 when sqlite is down, when a configured redis is down, or
// once the paste service has begun shutting down.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Database: probe(r.Context(), "database", s.db.Ping),
		Cache:    "unavailable",
	}
	if s.rdb != nil {
		resp.Cache = probe(r.Context(), "cache", s.rdb.Ping)
	}
	resp.Degraded = resp.Database == "down" || resp.Cache == "down"
	resp.Draining = s.paste != nil && s.paste.Draining()
	resp.Ready = !resp.Degraded && !resp.Draining

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func probe(ctx context.Context, component string, ping func(context.Context) error) string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := ping(ctx); err != nil {
		util.Error().Err(err).Str("component", component).Msg("readiness probe failed")
		return "down"
	}
	return "up"
}
