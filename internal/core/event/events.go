package event

import (
	"time"

	"github.com/paperline/sales-voice-service/internal/domain"
)

// Type identifies a normalized call event. Webhook-sourced types mirror
// the provider's event names; the rest are raised internally.
type Type string

const (
	// Webhook-sourced events
	TypeCallInitiated  Type = "call.initiated"
	TypeCallAnswered   Type = "call.answered"
	TypeCallHangup     Type = "call.hangup"
	TypeGatherEnded    Type = "call.gather.ended"
	TypeSpeakEnded     Type = "call.speak.ended"
	TypeRecordingSaved Type = "call.recording.saved"

	// Internally raised events
	TypePlaceCallRequested Type = "place_call_requested"
	TypeSessionsReady      Type = "sessions_ready"
	TypeCleanupComplete    Type = "cleanup_complete"
	TypeAssistantResponse  Type = "assistant_response"
	TypeTranscript         Type = "transcript"
	TypeNoInput            Type = "no_input"
	TypeFatalError         Type = "fatal_error"
)

// SessionOutcome reports which enhancement sessions the coordinator
// managed to open for an answered call.
type SessionOutcome struct {
	ConversationOK        bool
	MediaOK               bool
	ConversationSessionID string
	MediaRoomName         string
}

// CallEvent is the normalized form every provider payload and internal
// signal is reduced to before it reaches a state machine.
type CallEvent struct {
	CallID    string
	Type      Type
	Seq       int64
	Timestamp time.Time

	// Webhook payload fields, populated per event type
	From         string
	To           string
	Direction    domain.CallDirection
	Digits       string
	HangupCause  string
	RecordingURL string

	// Assistant output carried by TypeAssistantResponse
	Text string

	// Coordinator outcome carried by TypeSessionsReady
	Outcome *SessionOutcome
}

// IsWebhook reports whether the event came off the provider webhook
// stream rather than being raised internally.
func (e CallEvent) IsWebhook() bool {
	switch e.Type {
	case TypeCallInitiated, TypeCallAnswered, TypeCallHangup,
		TypeGatherEnded, TypeSpeakEnded, TypeRecordingSaved:
		return true
	}
	return false
}
