package telegram

import "testing"

func TestVerifySecretTokenConstantTime(t *testing.T) {
	a := New("mybot", "bot1")
	if !a.VerifySecretToken(nil, "") {
		t.Fatalf("expected verification disabled when no secret configured")
	}
	headers := map[string]string{"X-Telegram-Bot-Api-Secret-Token": "s3cret"}
	if !a.VerifySecretToken(headers, "s3cret") {
		t.Fatalf("expected match")
	}
	if a.VerifySecretToken(headers, "wrong") {
		t.Fatalf("expected mismatch")
	}
	if a.VerifySecretToken(nil, "s3cret") {
		t.Fatalf("expected mismatch with no headers")
	}
}

func TestNormalizeChatMessage(t *testing.T) {
	a := New("mybot", "bot1")
	body := []byte(`{
		"update_id": 42,
		"message": {
			"message_id": 7,
			"text": "hello @mybot",
			"chat": {"id": 555, "type": "group"},
			"from": {"id": 99, "is_bot": false},
			"entities": [{"type": "mention"}]
		}
	}`)

	msg, ok, err := a.Normalize(body)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok")
	}
	if msg.Identity.ChatID != "555" || msg.Identity.BotID != "bot1" {
		t.Fatalf("unexpected identity: %+v", msg.Identity)
	}
	if !msg.IsMention {
		t.Fatalf("expected mention detected")
	}
	if msg.SenderID != "99" {
		t.Fatalf("sender id = %q, want 99", msg.SenderID)
	}
	if msg.IdempotencyKey != "telegram:update:42" {
		t.Fatalf("idempotency key = %q, want telegram:update:42", msg.IdempotencyKey)
	}
}

func TestNormalizeReplyToBot(t *testing.T) {
	a := New("", "bot1")
	body := []byte(`{
		"message": {
			"message_id": 8,
			"text": "yes",
			"chat": {"id": 1},
			"reply_to_message": {"message_id": 1, "from": {"id": 2, "is_bot": true}}
		}
	}`)
	msg, ok, err := a.Normalize(body)
	if err != nil || !ok {
		t.Fatalf("Normalize: ok=%v err=%v", ok, err)
	}
	if !msg.IsReplyToBot {
		t.Fatalf("expected reply_to_bot true")
	}
}

func TestNormalizeNonMessageUpdateReturnsNotOK(t *testing.T) {
	a := New("mybot", "bot1")
	_, ok, err := a.Normalize([]byte(`{"update_id": 1, "callback_query": {"id": "1", "data": "approve:apr_1"}}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ok {
		t.Fatalf("expected not ok for a callback-only update")
	}
}

func TestParseCallbackActionPlainString(t *testing.T) {
	a := New("mybot", "bot1")
	body := []byte(`{"callback_query": {"id": "1", "data": "approve:apr_42"}}`)
	action, id, ok := a.ParseCallbackAction(body)
	if !ok || action != "approve" || id != "apr_42" {
		t.Fatalf("got action=%q id=%q ok=%v", action, id, ok)
	}
}

func TestParseCallbackActionJSONPayload(t *testing.T) {
	a := New("mybot", "bot1")
	body := []byte(`{"callback_query": {"id": "1", "data": "{\"decision\": \"rejected\", \"approval_id\": \"apr_9\"}"}}`)
	action, id, ok := a.ParseCallbackAction(body)
	if !ok || action != "reject" || id != "apr_9" {
		t.Fatalf("got action=%q id=%q ok=%v", action, id, ok)
	}
}

func TestParseCallbackActionSlashCommand(t *testing.T) {
	a := New("mybot", "bot1")
	body := []byte(`{"callback_query": {"id": "1", "data": "/approve apr_7"}}`)
	action, id, ok := a.ParseCallbackAction(body)
	if !ok || action != "approve" || id != "apr_7" {
		t.Fatalf("got action=%q id=%q ok=%v", action, id, ok)
	}
}

func TestParseCallbackActionNoMatch(t *testing.T) {
	a := New("mybot", "bot1")
	if _, _, ok := a.ParseCallbackAction([]byte(`{"message": {"chat": {"id": 1}}}`)); ok {
		t.Fatalf("expected no match without a callback_query")
	}
}
