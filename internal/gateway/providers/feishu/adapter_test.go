package feishu

import "testing"

func TestVerifyTokenDisabledWhenNoExpectedToken(t *testing.T) {
	a := New("app1")
	if !a.VerifyToken(nil, "") {
		t.Fatalf("expected verification disabled")
	}
}

func TestVerifyTokenMatch(t *testing.T) {
	a := New("app1")
	if !a.VerifyToken([]byte(`{"token": "secret"}`), "secret") {
		t.Fatalf("expected match on top-level token")
	}
	if !a.VerifyToken([]byte(`{"header": {"token": "secret"}}`), "secret") {
		t.Fatalf("expected match on header token")
	}
	if a.VerifyToken([]byte(`{"token": "wrong"}`), "secret") {
		t.Fatalf("expected mismatch")
	}
	if a.VerifyToken([]byte(`not json`), "secret") {
		t.Fatalf("expected mismatch on malformed body")
	}
}

func TestURLVerificationChallenge(t *testing.T) {
	a := New("app1")
	body := []byte(`{"type": "url_verification", "challenge": "abc123"}`)
	challenge, ok := a.URLVerificationChallenge(body)
	if !ok || challenge != "abc123" {
		t.Fatalf("challenge=%q ok=%v", challenge, ok)
	}

	_, ok = a.URLVerificationChallenge([]byte(`{"type": "event_callback"}`))
	if ok {
		t.Fatalf("expected no challenge for a non-verification payload")
	}
}

func TestNormalizeMessageEvent(t *testing.T) {
	a := New("app1")
	body := []byte(`{
		"header": {"event_type": "im.message.receive_v1", "event_id": "ev1"},
		"event": {
			"message": {
				"chat_id": "oc_1",
				"message_type": "text",
				"content": "{\"text\": \"hi there\"}",
				"mentions": [{"key": "@_user_1"}]
			},
			"sender": {"sender_id": {"open_id": "ou_1"}}
		}
	}`)

	msg, ok, err := a.Normalize(body)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok")
	}
	if msg.Text != "hi there" {
		t.Fatalf("text = %q", msg.Text)
	}
	if msg.Identity.ChatID != "oc_1" || msg.Identity.BotID != "app1" {
		t.Fatalf("unexpected identity: %+v", msg.Identity)
	}
	if msg.SenderID != "ou_1" {
		t.Fatalf("sender id = %q", msg.SenderID)
	}
	if !msg.IsMention {
		t.Fatalf("expected mention true")
	}
	if msg.IdempotencyKey != "feishu:event:ev1" {
		t.Fatalf("idempotency key = %q, want feishu:event:ev1", msg.IdempotencyKey)
	}
}

func TestNormalizeMessageEventIdempotencyKeyPrefersMessageID(t *testing.T) {
	a := New("app1")
	body := []byte(`{
		"header": {"event_type": "im.message.receive_v1", "event_id": "ev1"},
		"event": {
			"message": {
				"chat_id": "oc_1",
				"message_id": "om_9",
				"message_type": "text",
				"content": "{\"text\": \"hi\"}"
			}
		}
	}`)

	msg, ok, err := a.Normalize(body)
	if err != nil || !ok {
		t.Fatalf("Normalize: ok=%v err=%v", ok, err)
	}
	if msg.IdempotencyKey != "feishu:message:om_9" {
		t.Fatalf("idempotency key = %q, want feishu:message:om_9", msg.IdempotencyKey)
	}
}

func TestNormalizeIgnoresOtherEventTypes(t *testing.T) {
	a := New("app1")
	_, ok, err := a.Normalize([]byte(`{"header": {"event_type": "im.message.reaction"}}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ok {
		t.Fatalf("expected not ok")
	}
}

func TestParseCardActionFromValue(t *testing.T) {
	a := New("app1")
	body := []byte(`{"action": {"value": {"decision": "approved", "approval_id": "apr_1"}}}`)
	action, id, ok := a.ParseCardAction(body)
	if !ok || action != "approve" || id != "apr_1" {
		t.Fatalf("got action=%q id=%q ok=%v", action, id, ok)
	}
}

func TestParseCardActionTopLevelFallback(t *testing.T) {
	a := New("app1")
	body := []byte(`{"decision": "rejected", "approval_id": "apr_2"}`)
	action, id, ok := a.ParseCardAction(body)
	if !ok || action != "reject" || id != "apr_2" {
		t.Fatalf("got action=%q id=%q ok=%v", action, id, ok)
	}
}

func TestParseCardActionNoDecision(t *testing.T) {
	a := New("app1")
	if _, _, ok := a.ParseCardAction([]byte(`{}`)); ok {
		t.Fatalf("expected no match")
	}
}
