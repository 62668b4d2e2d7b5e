package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/paperline/sales-voice-service/internal/core/event"
	"github.com/paperline/sales-voice-service/internal/domain"
	"github.com/paperline/sales-voice-service/pkg/logger"
)

// ModeFor maps session-creation outcomes to the conversation mode.
// The fallback chain is total: every combination lands on exactly one
// mode, so an answered call always gets some conversation path.
func ModeFor(conversationOK, mediaOK bool) domain.ConversationMode {
	switch {
	case conversationOK && mediaOK:
		return domain.ModeFullDuplex
	case conversationOK:
		return domain.ModeConversationOnly
	case mediaOK:
		return domain.ModeMediaOnly
	default:
		return domain.ModeScripted
	}
}

// openSessions attempts to create the conversation session and the
// media room for a freshly answered call. The two attempts are
// independent; each failure is logged and folded into the outcome,
// never propagated. Runs off the call's worker goroutine and reports
// back by enqueueing a sessionsReady event. Called at most once per
// call: the Answered transition that requests it cannot repeat.
func (o *Orchestrator) openSessions(snapshot *domain.CallSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	outcome := &event.SessionOutcome{}

	if o.conversation != nil {
		handlers := o.conversationHandlers(snapshot.CallID)
		sess, err := o.conversation.Create(ctx, snapshot.CallID, snapshot.AgentProfile, o.customerContextFor(ctx, snapshot), handlers)
		if err != nil {
			logger.Base().Warn("Conversation session creation failed, continuing without AI",
				zap.String("call_id", snapshot.CallID), zap.Error(err))
		} else {
			outcome.ConversationOK = true
			outcome.ConversationSessionID = sess.ID()
			o.storeConversation(snapshot.CallID, sess)
		}
	}

	if o.media != nil {
		roomName, err := o.media.CreateRoom(ctx, snapshot.CallID, snapshot.PhoneNumber)
		if err != nil {
			logger.Base().Warn("Media room creation failed, continuing without room",
				zap.String("call_id", snapshot.CallID), zap.Error(err))
		} else {
			outcome.MediaOK = true
			outcome.MediaRoomName = roomName
		}
	}

	logger.Base().Info("Enhancement sessions attempted",
		zap.String("call_id", snapshot.CallID),
		zap.Bool("conversation_ok", outcome.ConversationOK),
		zap.Bool("media_ok", outcome.MediaOK),
		zap.String("mode", string(ModeFor(outcome.ConversationOK, outcome.MediaOK))))

	err := o.registry.Enqueue(snapshot.CallID, event.CallEvent{
		CallID:    snapshot.CallID,
		Type:      event.TypeSessionsReady,
		Timestamp: time.Now(),
		Outcome:   outcome,
	})
	if err != nil {
		// The call vanished while we were opening sessions; release
		// whatever was just created so nothing leaks.
		logger.Base().Warn("Session outcome undeliverable, releasing fresh sessions",
			zap.String("call_id", snapshot.CallID))
		o.releaseOutcome(snapshot.CallID, outcome)
	}
}

// customerContextFor builds a short context blurb for the AI session
// from the external customer store. Best effort; lookup failures just
// mean less context.
func (o *Orchestrator) customerContextFor(ctx context.Context, snapshot *domain.CallSession) string {
	if o.customers == nil || snapshot.PhoneNumber == "" {
		return ""
	}
	profile, err := o.customers.LookupByPhone(ctx, snapshot.PhoneNumber)
	if err != nil || profile == nil {
		return ""
	}
	out := "Name: " + profile.Name
	if profile.Company != "" {
		out += "\nCompany: " + profile.Company
	}
	if profile.Notes != "" {
		out += "\nNotes: " + profile.Notes
	}
	return out
}

// releaseOutcome tears down sessions that were created but can no
// longer be attached to a live call.
func (o *Orchestrator) releaseOutcome(callID string, outcome *event.SessionOutcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if outcome.ConversationOK {
		if sess := o.takeConversation(callID); sess != nil {
			if err := sess.Close(); err != nil {
				logger.Base().Warn("Failed closing orphaned conversation session",
					zap.String("call_id", callID), zap.Error(err))
			}
		}
	}
	if outcome.MediaOK && o.media != nil {
		if err := o.media.DeleteRoom(ctx, outcome.MediaRoomName); err != nil {
			logger.Base().Warn("Failed deleting orphaned media room",
				zap.String("room_name", outcome.MediaRoomName), zap.Error(err))
		}
	}
}
