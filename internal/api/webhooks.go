package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/ruriko-events/internal/events"
)

// handleWebhook serves POST /v1/webhooks/{event_type}, a generic inbound
// event sink for integrations that have no dedicated provider adapter: the
// path segment after /v1/webhooks/ becomes the event type verbatim, and
// the request body becomes the event payload. A "subject" key in the body,
// if present, doubles as the event's correlation subject.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	eventType := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/")
	eventType = strings.Trim(eventType, "/")
	if eventType == "" {
		badRequest(w, "expected /v1/webhooks/{event_type}")
		return
	}

	payload := map[string]any{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			badRequest(w, "malformed JSON body")
			return
		}
	}
	subject, _ := payload["subject"].(string)

	event := &events.Event{
		EventID:   "evt_" + uuid.NewString(),
		EventType: eventType,
		Source:    "webhook",
		Subject:   subject,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	event.IdempotencyKey = event.EventID

	results, err := s.engine.Emit(r.Context(), event)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"event":   toEventResponse(*event),
		"results": toResultResponses(results),
	})
}
