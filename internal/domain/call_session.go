package domain

import (
	"time"
)

// CallDirection represents the direction of a call leg
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// CallStatus represents the lifecycle state of a call session.
// Transitions move strictly forward through the graph; Failed is a
// parallel terminal state reachable from any non-terminal status.
type CallStatus string

const (
	StatusCreated            CallStatus = "created"
	StatusInitiated          CallStatus = "initiated"
	StatusRinging            CallStatus = "ringing"
	StatusAnswered           CallStatus = "answered"
	StatusConversationActive CallStatus = "conversation_active"
	StatusEnding             CallStatus = "ending"
	StatusEnded              CallStatus = "ended"
	StatusFailed             CallStatus = "failed"
)

// statusRank orders statuses along the forward path. Failed sits at the
// end so that no event can move a failed session anywhere else.
var statusRank = map[CallStatus]int{
	StatusCreated:            0,
	StatusInitiated:          1,
	StatusRinging:            2,
	StatusAnswered:           3,
	StatusConversationActive: 4,
	StatusEnding:             5,
	StatusEnded:              6,
	StatusFailed:             6,
}

// Rank returns the position of s on the forward transition path.
func (s CallStatus) Rank() int {
	return statusRank[s]
}

// IsTerminal reports whether no further transitions are possible.
func (s CallStatus) IsTerminal() bool {
	return s == StatusEnded || s == StatusFailed
}

// ConversationMode is the degradation level selected once session
// creation outcomes are known for an answered call.
type ConversationMode string

const (
	// ModeFullDuplex means both the AI conversation session and the media
	// room are up.
	ModeFullDuplex ConversationMode = "full_duplex"
	// ModeConversationOnly means the AI session is up but no media room;
	// audio flows through the call-control leg.
	ModeConversationOnly ConversationMode = "conversation_only"
	// ModeMediaOnly means the media room is up without the AI engine.
	ModeMediaOnly ConversationMode = "media_only"
	// ModeScripted is the basic fallback: TTS plus a keypad menu.
	ModeScripted ConversationMode = "scripted"
)

// MessageRole identifies the author of a conversation turn
type MessageRole string

const (
	RoleCustomer  MessageRole = "customer"
	RoleAssistant MessageRole = "assistant"
)

// ConversationMessage is one turn in a call's transcript
type ConversationMessage struct {
	Role      MessageRole `json:"role"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
}

// AgentProfile carries the AI persona for a call. Supplied at call
// creation and immutable for the session's lifetime.
type AgentProfile struct {
	Name              string   `json:"name"`
	Voice             string   `json:"voice"`
	Language          string   `json:"language"`
	SystemPrompt      string   `json:"system_prompt"`
	KnowledgeSnippets []string `json:"knowledge_snippets,omitempty"`
}

// SessionRefs holds identifiers of the optional enhancement sessions.
// Each field is set iff the corresponding session is currently open.
type SessionRefs struct {
	ConversationSessionID string `json:"conversation_session_id,omitempty"`
	MediaRoomName         string `json:"media_room_name,omitempty"`
}

// Empty reports whether no external session is currently open.
func (r SessionRefs) Empty() bool {
	return r.ConversationSessionID == "" && r.MediaRoomName == ""
}

// CallSession is the central per-call entity. One exists per live callID.
// All mutation happens on the session's single worker goroutine; other
// goroutines only ever see snapshots.
type CallSession struct {
	CallID      string        `json:"call_id"`
	Direction   CallDirection `json:"direction"`
	PhoneNumber string        `json:"phone_number"`
	FromNumber  string        `json:"from_number"`
	CustomerRef string        `json:"customer_ref,omitempty"`

	AgentProfile *AgentProfile `json:"agent_profile,omitempty"`

	Status       CallStatus            `json:"status"`
	Mode         ConversationMode      `json:"mode,omitempty"`
	ExternalRefs SessionRefs           `json:"external_refs"`
	History      []ConversationMessage `json:"history,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`

	RecordingURL string `json:"recording_url,omitempty"`
	HangupCause  string `json:"hangup_cause,omitempty"`

	// LastEventSeq rejects stale webhook redelivery; it only ever grows.
	LastEventSeq int64 `json:"last_event_seq"`
}

// AppendMessage adds a turn to the transcript. Terminal sessions are
// immutable, so the append is refused once the call has ended.
func (s *CallSession) AppendMessage(role MessageRole, text string, at time.Time) bool {
	if s.Status.IsTerminal() {
		return false
	}
	s.History = append(s.History, ConversationMessage{Role: role, Text: text, Timestamp: at})
	return true
}

// AdoptDialData fills fields only the dialer knows onto a session that
// was created from the provider's first webhook: the agent profile, the
// numbers and the customer linkage. Status, history and timestamps stay
// with the receiver, which may already be ahead of the dialer.
func (s *CallSession) AdoptDialData(from *CallSession) {
	if from == nil {
		return
	}
	if s.PhoneNumber == "" {
		s.PhoneNumber = from.PhoneNumber
	}
	if s.FromNumber == "" {
		s.FromNumber = from.FromNumber
	}
	if s.CustomerRef == "" {
		s.CustomerRef = from.CustomerRef
	}
	if s.AgentProfile == nil {
		s.AgentProfile = from.AgentProfile
	}
	if from.Direction != "" {
		s.Direction = from.Direction
	}
}

// Clone returns a deep copy safe to hand to readers outside the worker.
func (s *CallSession) Clone() *CallSession {
	cp := *s
	if s.AgentProfile != nil {
		ap := *s.AgentProfile
		cp.AgentProfile = &ap
	}
	if len(s.History) > 0 {
		cp.History = make([]ConversationMessage, len(s.History))
		copy(cp.History, s.History)
	}
	if s.AnsweredAt != nil {
		t := *s.AnsweredAt
		cp.AnsweredAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}
