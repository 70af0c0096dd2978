package api

import (
	"net/http"
	"time"

	"github.com/bdobrica/ruriko-events/common/version"
)

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// statusResponse is returned by GET /status.
type statusResponse struct {
	Status       string    `json:"status"`
	Version      string    `json:"version"`
	Commit       string    `json:"commit"`
	BuildTime    string    `json:"build_time"`
	StartedAt    time.Time `json:"started_at"`
	UptimeSecs   float64   `json:"uptime_seconds"`
	EventsTotal  int64     `json:"events_total"`
	RuleCount    int       `json:"active_rule_count"`
}

// handleHealth responds with a simple ok JSON payload.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus responds with runtime statistics: uptime, build info, and a
// cheap snapshot of engine state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var eventsTotal int64
	if metrics, err := s.engine.Metrics(r.Context()); err == nil {
		eventsTotal = metrics.EventsTotal
	}

	resp := statusResponse{
		Status:      "ok",
		Version:     version.Version,
		Commit:      version.GitCommit,
		BuildTime:   version.BuildTime,
		StartedAt:   s.startedAt,
		UptimeSecs:  time.Since(s.startedAt).Seconds(),
		EventsTotal: eventsTotal,
		RuleCount:   len(s.engine.ListRules()),
	}
	writeJSON(w, http.StatusOK, resp)
}
