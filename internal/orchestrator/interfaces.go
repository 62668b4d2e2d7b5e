package orchestrator

import (
	"context"

	"github.com/paperline/sales-voice-service/internal/core/session"
	"github.com/paperline/sales-voice-service/internal/domain"
)

// GatherSpec describes a keypad collection request
type GatherSpec struct {
	Prompt        string
	ValidDigits   string
	MaxDigits     int
	TimeoutMillis int
}

// ActionGateway wraps outbound actions against the call-control
// provider. All errors are pre-classified transient or fatal.
type ActionGateway interface {
	PlaceCall(ctx context.Context, to, from string) (callID string, err error)
	Answer(ctx context.Context, callID string) error
	Speak(ctx context.Context, callID, text, voice, language string) error
	GatherDigits(ctx context.Context, callID string, spec GatherSpec) error
	Hangup(ctx context.Context, callID string) error
}

// ConversationHandlers receive streamed output from a conversation
// session. Implementations must be safe to call from the session's own
// goroutines; the orchestrator funnels them back onto the call's queue.
type ConversationHandlers struct {
	OnResponse   func(text string)
	OnTranscript func(text string)
	OnError      func(err error)
}

// ConversationSession is one live AI dialogue bound to a call leg
type ConversationSession interface {
	ID() string
	SendText(text string) error
	Close() error
}

// ConversationClient creates AI conversation sessions
type ConversationClient interface {
	Create(ctx context.Context, callID string, profile *domain.AgentProfile, customerContext string, handlers ConversationHandlers) (ConversationSession, error)
}

// MediaRoomClient wraps the realtime media room provider
type MediaRoomClient interface {
	CreateRoom(ctx context.Context, callID, metadata string) (roomName string, err error)
	SendData(ctx context.Context, roomName string, payload []byte) error
	DeleteRoom(ctx context.Context, roomName string) error
}

// Recorder persists finished sessions and recording bookkeeping
type Recorder interface {
	SaveCallRecord(ctx context.Context, session *domain.CallSession, campaignID string) error
	AttachRecording(ctx context.Context, callID, url string) error
}

// CleanupBroadcaster shares call liveness across pods: live calls are
// registered so every instance can see them, and teardowns are
// announced so whichever pod still holds provider resources for a call
// releases them.
type CleanupBroadcaster interface {
	Register(ctx context.Context, info session.SessionInfo) error
	Unregister(ctx context.Context, callID string) error
	NotifyCleanup(ctx context.Context, callID string) error
}

// CustomerStore is the narrow view of the external customer service
type CustomerStore interface {
	LookupByPhone(ctx context.Context, phone string) (*domain.CustomerProfile, error)
	MarkOptedOut(ctx context.Context, phone string) error
}
