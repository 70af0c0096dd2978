package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bdobrica/ruriko-events/internal/events"
)

type ruleRunResponse struct {
	RunID         string    `json:"run_id"`
	RuleID        string    `json:"rule_id"`
	EventID       string    `json:"event_id"`
	Decision      string    `json:"decision"`
	Reason        string    `json:"reason"`
	Status        string    `json:"status"`
	ActionTraceID string    `json:"action_trace_id"`
	DurationMs    int       `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

func toRuleRunResponse(r events.RuleRun) ruleRunResponse {
	return ruleRunResponse{
		RunID:         r.RunID,
		RuleID:        r.RuleID,
		EventID:       r.EventID,
		Decision:      r.Decision,
		Reason:        r.Reason,
		Status:        r.Status,
		ActionTraceID: r.ActionTraceID,
		DurationMs:    r.DurationMs,
		CreatedAt:     r.CreatedAt,
	}
}

// handleDashboardEvents serves GET /v1/dashboard/events, a cursor-paginated
// event feed. A cursor is the event_id of the previous page's last row;
// omitting it starts from the oldest event.
func (s *Server) handleDashboardEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	limit := parseLimit(r, 50)
	eventType := r.URL.Query().Get("event_type")
	cursor := r.URL.Query().Get("resume_from")
	if cursor == "" {
		cursor = r.URL.Query().Get("cursor")
	}

	// Pages run oldest to newest; an empty cursor starts from the beginning.
	// The returned cursor is always safe to feed back: an empty page echoes
	// the incoming one so a client can poll for new rows.
	list, err := s.engine.ListEventsAfter(r.Context(), cursor, eventType, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]eventResponse, 0, len(list))
	for _, e := range list {
		out = append(out, toEventResponse(e))
	}

	nextCursor := cursor
	if len(list) > 0 {
		nextCursor = list[len(list)-1].EventID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":       out,
		"next_cursor": nextCursor,
	})
}

// handleDashboardRuleRuns serves GET /v1/dashboard/rule-runs, filterable by
// rule_id, event_id, and status.
func (s *Server) handleDashboardRuleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	list, err := s.engine.ListRuleRuns(r.Context(), q.Get("rule_id"), q.Get("event_id"), q.Get("status"), parseLimit(r, 100))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]ruleRunResponse, 0, len(list))
	for _, run := range list {
		out = append(out, toRuleRunResponse(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule_runs": out})
}

// handleMetrics serves GET /v1/metrics/events, the engine's aggregate
// counters.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	metrics, err := s.engine.Metrics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// handleDashboardSummary serves GET /v1/dashboard/summary: metrics plus the
// active rule set and pending approval count, the single call a dashboard
// needs on load.
func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	metrics, err := s.engine.Metrics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	pending, err := s.engine.ListPendingApprovals(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metrics":          metrics,
		"pending_approvals": len(pending),
		"active_rule_count": len(s.engine.ListRules()),
	})
}

const (
	liveModeSnapshot      = "snapshot"
	liveModeDelta         = "delta"
	liveModeSnapshotDelta = "snapshot_delta"

	liveChannelEvents   = "events"
	liveChannelSnapshot = "summary"
)

// liveTick is one Server-Sent Events payload emitted by
// handleDashboardLive. stream_mode always names the mode that produced it,
// even in snapshot_delta mode where a single tick carries both pieces.
type liveTick struct {
	StreamMode string          `json:"stream_mode"`
	Snapshot   map[string]any  `json:"snapshot,omitempty"`
	Events     []eventResponse `json:"events,omitempty"`
	Cursor     string          `json:"cursor,omitempty"`
}

// handleDashboardLive serves GET /v1/dashboard/live, a Server-Sent Events
// stream of snapshot/delta ticks. It polls the store since the bus has
// exactly one subscriber already claimed by the rules engine; there is no
// separate incremental channel for rule-runs or approvals, so "channels"
// only ever gates the two pieces this handler can produce: "events" (the
// delta feed) and "summary" (the snapshot).
//
// Query parameters:
//   - mode: snapshot | delta | snapshot_delta (default delta)
//   - interval: tick period in seconds, may be fractional (default 2)
//   - max_ticks: stop after this many ticks, 0 means unbounded (default 0)
//   - channels: comma-separated subset of {events, summary} (default both)
//   - event_type: filters the events delta to one event type
//   - resume_from: an event_id cursor to resume a delta stream from,
//     equivalent to dashboard/events' cursor parameter
func (s *Server) handleDashboardLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("api: streaming unsupported"))
		return
	}

	q := r.URL.Query()
	mode := q.Get("mode")
	switch mode {
	case "":
		mode = liveModeDelta
	case liveModeSnapshot, liveModeDelta, liveModeSnapshotDelta:
	default:
		badRequest(w, "mode must be one of snapshot, delta, snapshot_delta")
		return
	}

	interval := 2 * time.Second
	if raw := q.Get("interval"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || seconds <= 0 {
			badRequest(w, "interval must be a positive number of seconds")
			return
		}
		interval = time.Duration(seconds * float64(time.Second))
	}

	maxTicks := 0
	if raw := q.Get("max_ticks"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, "max_ticks must be a non-negative integer")
			return
		}
		maxTicks = n
	}

	channels := map[string]bool{liveChannelEvents: true, liveChannelSnapshot: true}
	if raw := q.Get("channels"); raw != "" {
		channels = map[string]bool{}
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				channels[c] = true
			}
		}
	}
	wantEvents := mode != liveModeSnapshot && channels[liveChannelEvents]
	wantSnapshot := mode != liveModeDelta && channels[liveChannelSnapshot]

	eventType := q.Get("event_type")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cursor := q.Get("resume_from")
	if cursor == "" {
		if recent, err := s.engine.ListEvents(ctx, eventType, 1); err == nil && len(recent) > 0 {
			cursor = recent[0].EventID
		}
	}

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick := liveTick{StreamMode: mode}

			if wantEvents {
				var (
					fresh []events.Event
					err   error
				)
				if cursor == "" {
					fresh, err = s.engine.ListEvents(ctx, eventType, 10)
				} else {
					fresh, err = s.engine.ListEventsAfter(ctx, cursor, eventType, 50)
				}
				if err == nil {
					// ListEvents pages newest-first, ListEventsAfter
					// oldest-first; ticks always carry events in
					// chronological order and advance the cursor to the
					// newest row.
					if len(fresh) > 0 && cursor == "" {
						cursor = fresh[0].EventID
						for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
							fresh[i], fresh[j] = fresh[j], fresh[i]
						}
					} else if len(fresh) > 0 {
						cursor = fresh[len(fresh)-1].EventID
					}
					out := make([]eventResponse, 0, len(fresh))
					for _, e := range fresh {
						out = append(out, toEventResponse(e))
					}
					tick.Events = out
				}
			}
			tick.Cursor = cursor

			if wantSnapshot {
				if metrics, err := s.engine.Metrics(ctx); err == nil {
					pending, _ := s.engine.ListPendingApprovals(ctx)
					tick.Snapshot = map[string]any{
						"metrics":           metrics,
						"pending_approvals": len(pending),
						"active_rule_count": len(s.engine.ListRules()),
					}
				}
			}

			payload, err := json.Marshal(tick)
			if err == nil {
				fmt.Fprintf(w, "event: tick\ndata: %s\n\n", payload)
				flusher.Flush()
			}

			ticks++
			if maxTicks > 0 && ticks >= maxTicks {
				return
			}
		}
	}
}
