// Package gateway implements the chat-gateway context service: per-chat
// conversation state, addressing policy, and isolated task-run execution
// shared across the Telegram, Feishu, and Matrix provider adapters.
package gateway

import (
	"strings"
	"time"
)

// AddressingPolicy controls when an inbound chat message is treated as
// directed at the bot and, separately, whether it should trigger execution.
type AddressingPolicy struct {
	Mode                         string
	AllowReplyToBot              bool
	ExecuteOnUnaddressed         bool
	CommandPrefixes              []string
	SessionContinuationWindowSec int
}

// Addressing mode constants.
const (
	ModeAllMessages = "all_messages"
	ModeMentionOnly = "mention_only"
)

// DefaultAddressingPolicy returns provider's default policy. Telegram
// defaults to all_messages; Feishu and Matrix default to mention_only
// (multi-user rooms where an unaddressed reply would be noisy).
func DefaultAddressingPolicy(provider string) AddressingPolicy {
	mode := ModeMentionOnly
	if provider == "telegram" {
		mode = ModeAllMessages
	}
	return AddressingPolicy{
		Mode:                         mode,
		AllowReplyToBot:              true,
		ExecuteOnUnaddressed:         false,
		CommandPrefixes:              []string{"/ask", "/run", "/approve", "/reject"},
		SessionContinuationWindowSec: 300,
	}
}

// AddressingDecision is the outcome of DecideAddressing.
type AddressingDecision struct {
	Addressed     bool
	ShouldExecute bool
	Reason        string
}

// DecideAddressing applies the addressing decision table: the first matching
// row wins. continuationHit is computed by the caller from the
// conversation's most recent assistant message timestamp.
func DecideAddressing(text string, isMention, isReplyToBot bool, policy AddressingPolicy, continuationHit, forceExecute bool) AddressingDecision {
	switch {
	case forceExecute:
		return AddressingDecision{Addressed: true, ShouldExecute: true, Reason: "forced"}
	case hasCommandPrefix(text, policy.CommandPrefixes):
		return AddressingDecision{Addressed: true, ShouldExecute: true, Reason: "command_prefix"}
	case isMention:
		return AddressingDecision{Addressed: true, ShouldExecute: true, Reason: "mention"}
	case isReplyToBot && policy.AllowReplyToBot:
		return AddressingDecision{Addressed: true, ShouldExecute: true, Reason: "reply_to_bot"}
	case policy.Mode == ModeAllMessages:
		return AddressingDecision{Addressed: true, ShouldExecute: true, Reason: "all_messages_mode"}
	case continuationHit:
		return AddressingDecision{Addressed: true, ShouldExecute: true, Reason: "session_continuation"}
	default:
		return AddressingDecision{Addressed: false, ShouldExecute: policy.ExecuteOnUnaddressed, Reason: "not_addressed"}
	}
}

func hasCommandPrefix(text string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

// ContinuationHit reports whether the most recent assistant message in a
// conversation falls within policy's session-continuation window of now.
// found is false when the conversation has no assistant message yet.
func ContinuationHit(found bool, lastAssistantAt time.Time, policy AddressingPolicy, now time.Time) bool {
	window := policy.SessionContinuationWindowSec
	if window <= 0 || !found {
		return false
	}
	return !lastAssistantAt.Before(now.Add(-time.Duration(window) * time.Second))
}
