package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/paperline/sales-voice-service/internal/core/event"
	"github.com/paperline/sales-voice-service/internal/domain"
	"github.com/paperline/sales-voice-service/pkg/logger"
)

// teardown releases every external resource a call opened: the
// conversation session, the media room, and (for fatal failures) the
// call leg itself. Each release is independent and best-effort; a
// failure tearing down one never blocks the others, and the session
// always receives cleanupComplete so it can reach Ended.
//
// Exactly-once is guaranteed upstream: the Ending/Failed transition
// that requests teardown cannot repeat, and the conversation handle is
// removed from the runtime before closing so a second caller finds
// nothing to close.
// HandleCleanupBroadcast reacts to a cross-pod cleanup announcement.
// Calls this pod owns go through their own state machine; only dangling
// relay state for a call that lives elsewhere is released here.
func (o *Orchestrator) HandleCleanupBroadcast(callID string) {
	if _, ok := o.registry.Get(callID); ok {
		return
	}
	if sess := o.takeConversation(callID); sess != nil {
		logger.Base().Info("Releasing orphaned conversation session on cleanup broadcast",
			zap.String("call_id", callID))
		if err := sess.Close(); err != nil {
			logger.Base().Warn("Failed closing orphaned conversation session",
				zap.String("call_id", callID), zap.Error(err))
		}
	}
	o.dropRuntime(callID)
}

func (o *Orchestrator) teardown(callID string, refs domain.SessionRefs, hangupLeg bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if refs.ConversationSessionID != "" {
		if sess := o.takeConversation(callID); sess != nil {
			if err := sess.Close(); err != nil {
				logger.Base().Warn("Conversation session teardown failed",
					zap.String("call_id", callID), zap.Error(err))
			}
		}
	}

	if refs.MediaRoomName != "" && o.media != nil {
		if err := o.media.DeleteRoom(ctx, refs.MediaRoomName); err != nil {
			logger.Base().Warn("Media room teardown failed",
				zap.String("call_id", callID),
				zap.String("room_name", refs.MediaRoomName), zap.Error(err))
		}
	}

	if hangupLeg {
		if err := o.gateway.Hangup(ctx, callID); err != nil {
			logger.Base().Warn("Call leg hangup during teardown failed",
				zap.String("call_id", callID), zap.Error(err))
		}
	}

	if o.broadcaster != nil {
		if err := o.broadcaster.NotifyCleanup(ctx, callID); err != nil {
			logger.Base().Warn("Cleanup broadcast failed",
				zap.String("call_id", callID), zap.Error(err))
		}
	}

	logger.Base().Info("Call resources released", zap.String("call_id", callID))

	err := o.registry.Enqueue(callID, event.CallEvent{
		CallID: callID, Type: event.TypeCleanupComplete, Timestamp: time.Now(),
	})
	if err != nil {
		logger.Base().Debug("Session gone before cleanupComplete delivery",
			zap.String("call_id", callID))
	}
}
