package orchestrator

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/paperline/sales-voice-service/internal/core/event"
	"github.com/paperline/sales-voice-service/internal/domain"
	"github.com/paperline/sales-voice-service/pkg/logger"
)

// Router is the single entry point for normalized webhook events. It
// assigns arrival sequence numbers, creates sessions for fresh inbound
// calls, and dispatches everything else to the owning session's queue.
type Router struct {
	orch *Orchestrator
	seq  atomic.Int64
}

// NewRouter creates the webhook event router.
func NewRouter(orch *Orchestrator) *Router {
	return &Router{orch: orch}
}

// Route delivers one normalized event. Events for one callID are
// processed in arrival order; unknown callIDs are only accepted for
// call.initiated (a fresh inbound leg), anything else is dropped and
// logged so replays after eviction cannot resurrect state.
func (r *Router) Route(ev event.CallEvent) {
	ev.Seq = r.seq.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if _, ok := r.orch.registry.Get(ev.CallID); !ok {
		if ev.Type != event.TypeCallInitiated {
			logger.Base().Warn("Dropping event for unknown call",
				zap.String("call_id", ev.CallID),
				zap.String("event_type", string(ev.Type)))
			return
		}
		session := &domain.CallSession{
			CallID:    ev.CallID,
			Direction: ev.Direction,
			Status:    domain.StatusCreated,
			StartedAt: ev.Timestamp,
		}
		if session.Direction == "" {
			session.Direction = domain.DirectionInbound
		}
		if _, created := r.orch.registry.Create(session); created {
			logger.Base().Info("Call session created from webhook",
				zap.String("call_id", ev.CallID),
				zap.String("direction", string(session.Direction)))
			r.orch.registerLiveCall(session)
		}
	}

	if err := r.orch.registry.Enqueue(ev.CallID, ev); err != nil {
		logger.Base().Warn("Event undeliverable",
			zap.String("call_id", ev.CallID),
			zap.String("event_type", string(ev.Type)), zap.Error(err))
	}
}
