package statemachine

import (
	"github.com/paperline/sales-voice-service/internal/core/event"
	"github.com/paperline/sales-voice-service/internal/domain"
)

// Effect is a side effect the caller must execute after a transition.
// The machine itself performs no I/O.
type Effect string

const (
	// EffectStartCall places the outbound call leg with the provider.
	EffectStartCall Effect = "start_call"
	// EffectOpenSessions asks the coordinator to open the enhancement sessions.
	EffectOpenSessions Effect = "open_sessions"
	// EffectSpeakWelcome asks the relay to dispatch the opening line.
	EffectSpeakWelcome Effect = "speak_welcome"
	// EffectTeardown asks the cleanup manager to release external resources.
	EffectTeardown Effect = "teardown"
	// EffectFinalize persists the finished session and schedules eviction.
	EffectFinalize Effect = "finalize"
	// EffectRelay forwards the event to the conversation relay.
	EffectRelay Effect = "relay"
	// EffectRecording records the saved recording URL.
	EffectRecording Effect = "recording"
)

// Decision is the result of applying one event to a session's status.
// Applied is false when the event was absorbed as a duplicate, arrived
// post-terminal, or is invalid for the current status; in that case
// Next equals the current status and Effects is empty or log-only.
type Decision struct {
	Next    domain.CallStatus
	Effects []Effect
	Applied bool
}

func noop(current domain.CallStatus) Decision {
	return Decision{Next: current, Applied: false}
}

// Apply computes the transition for ev given the session's current
// status. It never errors: invalid, duplicate and post-terminal events
// all come back as no-op decisions so that malformed webhook delivery
// can never crash the router.
//
// Out-of-order delivery is normalized by fast-forwarding: each webhook
// event implies the minimum prior status, and the machine jumps there
// without re-issuing the skipped states' side effects.
func Apply(current domain.CallStatus, ev event.CallEvent) Decision {
	// Terminal sessions absorb everything. Recording bookkeeping is the
	// one effect still allowed, since it touches the persisted row only.
	if current.IsTerminal() {
		if ev.Type == event.TypeRecordingSaved {
			return Decision{Next: current, Effects: []Effect{EffectRecording}, Applied: false}
		}
		return noop(current)
	}

	switch ev.Type {
	case event.TypePlaceCallRequested:
		if current != domain.StatusCreated {
			return noop(current)
		}
		return Decision{Next: domain.StatusInitiated, Effects: []Effect{EffectStartCall}, Applied: true}

	case event.TypeCallInitiated:
		// Duplicate call.initiated for a session already ringing or
		// beyond is a no-op.
		if current.Rank() >= domain.StatusRinging.Rank() {
			return noop(current)
		}
		return Decision{Next: domain.StatusRinging, Applied: true}

	case event.TypeCallAnswered:
		if current.Rank() >= domain.StatusAnswered.Rank() {
			return noop(current)
		}
		return Decision{Next: domain.StatusAnswered, Effects: []Effect{EffectOpenSessions}, Applied: true}

	case event.TypeSessionsReady:
		if current != domain.StatusAnswered {
			return noop(current)
		}
		return Decision{Next: domain.StatusConversationActive, Effects: []Effect{EffectSpeakWelcome}, Applied: true}

	case event.TypeCallHangup:
		if current == domain.StatusEnding {
			return noop(current)
		}
		return Decision{Next: domain.StatusEnding, Effects: []Effect{EffectTeardown}, Applied: true}

	case event.TypeCleanupComplete:
		if current != domain.StatusEnding {
			return noop(current)
		}
		return Decision{Next: domain.StatusEnded, Effects: []Effect{EffectFinalize}, Applied: true}

	case event.TypeFatalError:
		// A fatal error during teardown must not keep the session from
		// reaching Ended; cleanup is already in flight.
		if current == domain.StatusEnding {
			return noop(current)
		}
		return Decision{Next: domain.StatusFailed, Effects: []Effect{EffectTeardown, EffectFinalize}, Applied: true}

	case event.TypeGatherEnded, event.TypeSpeakEnded, event.TypeAssistantResponse,
		event.TypeTranscript, event.TypeNoInput:
		// Conversation traffic only flows while the call is up.
		if current == domain.StatusAnswered || current == domain.StatusConversationActive {
			return Decision{Next: current, Effects: []Effect{EffectRelay}, Applied: true}
		}
		return noop(current)

	case event.TypeRecordingSaved:
		return Decision{Next: current, Effects: []Effect{EffectRecording}, Applied: true}
	}

	// Unknown event types are accepted and ignored.
	return noop(current)
}
