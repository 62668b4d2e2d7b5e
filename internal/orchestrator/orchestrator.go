package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paperline/sales-voice-service/internal/core/event"
	"github.com/paperline/sales-voice-service/internal/core/registry"
	"github.com/paperline/sales-voice-service/internal/core/session"
	"github.com/paperline/sales-voice-service/internal/core/statemachine"
	"github.com/paperline/sales-voice-service/internal/domain"
	"github.com/paperline/sales-voice-service/pkg/logger"
)

// Options tunes the orchestrator
type Options struct {
	// Retention keeps terminal sessions around to absorb late webhooks.
	Retention time.Duration
	// JanitorInterval is how often the eviction loop runs.
	JanitorInterval time.Duration
	// GatherTimeoutMillis bounds each keypad collection.
	GatherTimeoutMillis int
	// SpeakTimeout bounds each text-to-speech dispatch.
	SpeakTimeout time.Duration
	// FromNumber is the default caller ID for outbound calls.
	FromNumber string
}

// Orchestrator owns the lifecycle of every call session: it routes
// normalized events through the state machine and executes the side
// effects the machine requests against the external providers.
type Orchestrator struct {
	registry *registry.Registry

	gateway      ActionGateway
	conversation ConversationClient
	media        MediaRoomClient
	recorder     Recorder
	broadcaster  CleanupBroadcaster
	customers    CustomerStore

	opts Options

	// relay runtime, one per live call
	runtimeMu sync.Mutex
	runtimes  map[string]*callRuntime

	// onFinalized fires after a session is persisted; the campaign
	// runner uses it to collect per-call outcomes.
	finalizeMu  sync.RWMutex
	onFinalized func(session *domain.CallSession, campaignID string)

	// campaign attribution for calls placed by the runner
	campaignMu sync.Mutex
	campaigns  map[string]string // callID -> campaignID
}

// New wires an orchestrator. conversation, media, recorder, broadcaster
// and customers may each be nil; the affected feature degrades per the
// fallback policy instead of failing.
func New(gateway ActionGateway, conversation ConversationClient, media MediaRoomClient,
	recorder Recorder, broadcaster CleanupBroadcaster, customers CustomerStore, opts Options) *Orchestrator {

	if opts.Retention <= 0 {
		opts.Retention = 5 * time.Minute
	}
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = 30 * time.Second
	}
	if opts.GatherTimeoutMillis <= 0 {
		opts.GatherTimeoutMillis = 15000
	}
	if opts.SpeakTimeout <= 0 {
		opts.SpeakTimeout = 10 * time.Second
	}

	o := &Orchestrator{
		gateway:      gateway,
		conversation: conversation,
		media:        media,
		recorder:     recorder,
		broadcaster:  broadcaster,
		customers:    customers,
		opts:         opts,
		runtimes:     make(map[string]*callRuntime),
		campaigns:    make(map[string]string),
	}
	o.registry = registry.NewRegistry(o.handleEvent, opts.Retention)
	o.registry.SetEvictHook(o.purgeRuntime)
	o.registry.StartJanitor(opts.JanitorInterval)
	return o
}

// Registry exposes the session registry for read access and routing.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// SetFinalizeHook installs the per-call completion callback.
func (o *Orchestrator) SetFinalizeHook(hook func(session *domain.CallSession, campaignID string)) {
	o.finalizeMu.Lock()
	o.onFinalized = hook
	o.finalizeMu.Unlock()
}

// Shutdown stops all workers.
func (o *Orchestrator) Shutdown() {
	o.registry.Shutdown()
}

// GetSession returns a snapshot of a live session.
func (o *Orchestrator) GetSession(callID string) (*domain.CallSession, error) {
	s, ok := o.registry.Get(callID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// ActiveCalls returns the number of live sessions.
func (o *Orchestrator) ActiveCalls() int {
	return o.registry.Len()
}

// StartOutboundCall places a call to phone and registers its session.
// The opt-out flag is a hard precondition: an opted-out customer is
// rejected before the provider is ever contacted.
func (o *Orchestrator) StartOutboundCall(ctx context.Context, phone string, profile *domain.AgentProfile, campaignID string) (string, error) {
	var customerRef string
	if o.customers != nil {
		customer, err := o.customers.LookupByPhone(ctx, phone)
		if err != nil {
			logger.Base().Warn("Customer lookup failed, placing call without context",
				zap.String("phone", phone), zap.Error(err))
		} else if customer != nil {
			if customer.DoNotCall {
				return "", domain.ErrCustomerOptedOut
			}
			customerRef = customer.ID
		}
	}

	sess := &domain.CallSession{
		Direction:    domain.DirectionOutbound,
		PhoneNumber:  phone,
		FromNumber:   o.opts.FromNumber,
		CustomerRef:  customerRef,
		AgentProfile: profile,
		Status:       domain.StatusCreated,
		StartedAt:    time.Now(),
	}

	d := statemachine.Apply(sess.Status, event.CallEvent{Type: event.TypePlaceCallRequested})
	if !d.Applied {
		return "", fmt.Errorf("call not placeable from status %s", sess.Status)
	}

	callID, err := o.gateway.PlaceCall(ctx, phone, o.opts.FromNumber)
	if err != nil {
		if domain.IsFatal(err) {
			sess.CallID = "rejected-" + uuid.NewString()
			sess.Status = domain.StatusFailed
			now := time.Now()
			sess.EndedAt = &now
			o.persist(sess, campaignID)
		}
		return "", err
	}

	sess.CallID = callID
	sess.Status = d.Next
	if _, created := o.registry.Create(sess); !created {
		// The provider's first webhook won the race and registered a
		// skeleton; Create merged the dial data onto it.
		logger.Base().Info("Webhook beat outbound call registration, dial data merged",
			zap.String("call_id", callID))
	} else {
		o.registerLiveCall(sess)
	}

	if campaignID != "" {
		o.campaignMu.Lock()
		o.campaigns[callID] = campaignID
		o.campaignMu.Unlock()
	}

	logger.Base().Info("Outbound call session registered",
		zap.String("call_id", callID), zap.String("phone", phone))
	return callID, nil
}

// registerLiveCall records the call in the cross-pod session registry
// so every instance can see who owns it.
func (o *Orchestrator) registerLiveCall(s *domain.CallSession) {
	if o.broadcaster == nil {
		return
	}
	info := session.SessionInfo{
		CallID:      s.CallID,
		PhoneNumber: s.PhoneNumber,
		Direction:   string(s.Direction),
		StartTime:   s.StartedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.broadcaster.Register(ctx, info); err != nil {
			logger.Base().Warn("Failed registering call for cross-pod monitoring",
				zap.String("call_id", info.CallID), zap.Error(err))
		}
	}()
}

func (o *Orchestrator) unregisterLiveCall(callID string) {
	if o.broadcaster == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.broadcaster.Unregister(ctx, callID); err != nil {
			logger.Base().Warn("Failed unregistering finished call",
				zap.String("call_id", callID), zap.Error(err))
		}
	}()
}

// HangupCall asks the provider to end a live call. The resulting
// call.hangup webhook drives the teardown like any other hangup.
func (o *Orchestrator) HangupCall(ctx context.Context, callID string) error {
	if _, ok := o.registry.Get(callID); !ok {
		return domain.ErrSessionNotFound
	}
	return o.gateway.Hangup(ctx, callID)
}

// handleEvent is the registry worker body: one event against one
// session, strictly serialized per callID.
func (o *Orchestrator) handleEvent(s *domain.CallSession, ev event.CallEvent) {
	if ev.IsWebhook() && ev.Seq > 0 && ev.Seq <= s.LastEventSeq {
		logger.Base().Debug("Absorbed stale webhook redelivery",
			zap.String("call_id", s.CallID), zap.String("event_type", string(ev.Type)))
		return
	}

	wasTerminal := s.Status.IsTerminal()
	d := statemachine.Apply(s.Status, ev)

	if !d.Applied && len(d.Effects) == 0 {
		logger.Base().Debug("Event absorbed without transition",
			zap.String("call_id", s.CallID),
			zap.String("event_type", string(ev.Type)),
			zap.String("status", string(s.Status)))
		o.discardUndeliveredOutcome(s, ev)
		if ev.Seq > s.LastEventSeq && !wasTerminal {
			s.LastEventSeq = ev.Seq
		}
		return
	}

	if d.Applied {
		o.applyEventFields(s, ev, d.Next)
	}
	s.Status = d.Next
	if ev.Seq > s.LastEventSeq {
		s.LastEventSeq = ev.Seq
	}

	for _, effect := range d.Effects {
		o.execute(s, ev, effect)
	}

	// Inbound legs are answered as soon as the provider reports them.
	if d.Applied && ev.Type == event.TypeCallInitiated && s.Direction == domain.DirectionInbound {
		o.answerInbound(s.CallID)
	}
}

func (o *Orchestrator) answerInbound(callID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.gateway.Answer(ctx, callID); err != nil {
			logger.Base().Warn("Failed answering inbound call", zap.String("call_id", callID), zap.Error(err))
			if domain.IsFatal(err) {
				o.enqueueInternal(callID, event.TypeFatalError)
			}
		}
	}()
}

// applyEventFields copies event payload data onto the session for an
// applied transition.
func (o *Orchestrator) applyEventFields(s *domain.CallSession, ev event.CallEvent, next domain.CallStatus) {
	switch ev.Type {
	case event.TypeCallInitiated:
		if ev.Direction != "" {
			s.Direction = ev.Direction
		}
		if s.PhoneNumber == "" {
			if s.Direction == domain.DirectionInbound {
				s.PhoneNumber = ev.From
				s.FromNumber = ev.To
			} else {
				s.PhoneNumber = ev.To
				s.FromNumber = ev.From
			}
		}
	case event.TypeCallAnswered:
		now := ev.Timestamp
		if now.IsZero() {
			now = time.Now()
		}
		s.AnsweredAt = &now
	case event.TypeSessionsReady:
		if ev.Outcome != nil {
			s.Mode = ModeFor(ev.Outcome.ConversationOK, ev.Outcome.MediaOK)
			s.ExternalRefs = domain.SessionRefs{
				ConversationSessionID: ev.Outcome.ConversationSessionID,
				MediaRoomName:         ev.Outcome.MediaRoomName,
			}
		}
	case event.TypeCallHangup:
		s.HangupCause = ev.HangupCause
		now := time.Now()
		s.EndedAt = &now
	case event.TypeRecordingSaved:
		if next != domain.StatusEnded && next != domain.StatusFailed {
			s.RecordingURL = ev.RecordingURL
		}
	case event.TypeFatalError:
		now := time.Now()
		s.EndedAt = &now
	}
}

// execute runs one requested side effect. Blocking provider calls are
// dispatched to goroutines so the call's worker never stalls on I/O.
func (o *Orchestrator) execute(s *domain.CallSession, ev event.CallEvent, effect statemachine.Effect) {
	switch effect {
	case statemachine.EffectStartCall:
		// Outbound dialing happens before the session has a callID, so
		// StartOutboundCall executes this effect inline.

	case statemachine.EffectOpenSessions:
		go o.openSessions(s.Clone())

	case statemachine.EffectSpeakWelcome:
		o.beginConversation(s)

	case statemachine.EffectRelay:
		o.relayEvent(s, ev)

	case statemachine.EffectTeardown:
		refs := s.ExternalRefs
		hangupLeg := ev.Type == event.TypeFatalError
		if ev.Type == event.TypeFatalError {
			// Failed is terminal immediately; clear the refs now, the
			// teardown goroutine works from its own copy.
			s.ExternalRefs = domain.SessionRefs{}
		}
		go o.teardown(s.CallID, refs, hangupLeg)

	case statemachine.EffectFinalize:
		if ev.Type == event.TypeCleanupComplete {
			s.ExternalRefs = domain.SessionRefs{}
		}
		if s.EndedAt == nil {
			now := time.Now()
			s.EndedAt = &now
		}
		o.dropRuntime(s.CallID)
		o.unregisterLiveCall(s.CallID)
		o.persist(s.Clone(), o.campaignFor(s.CallID))

	case statemachine.EffectRecording:
		if o.recorder != nil && ev.RecordingURL != "" {
			callID, url := s.CallID, ev.RecordingURL
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := o.recorder.AttachRecording(ctx, callID, url); err != nil {
					logger.Base().Warn("Failed attaching recording URL",
						zap.String("call_id", callID), zap.Error(err))
				}
			}()
		}
	}
}

// discardUndeliveredOutcome releases sessions carried by a
// sessionsReady event that arrived after the call left Answered;
// without this a hangup racing the coordinator would leak fresh refs.
func (o *Orchestrator) discardUndeliveredOutcome(s *domain.CallSession, ev event.CallEvent) {
	if ev.Type != event.TypeSessionsReady || ev.Outcome == nil {
		return
	}
	if !ev.Outcome.ConversationOK && !ev.Outcome.MediaOK {
		return
	}
	logger.Base().Info("Sessions became ready after call left Answered, releasing",
		zap.String("call_id", s.CallID), zap.String("status", string(s.Status)))
	outcome := ev.Outcome
	go o.releaseOutcome(s.CallID, outcome)
}

func (o *Orchestrator) enqueueInternal(callID string, t event.Type) {
	err := o.registry.Enqueue(callID, event.CallEvent{CallID: callID, Type: t, Timestamp: time.Now()})
	if err != nil {
		logger.Base().Debug("Internal event dropped for missing session",
			zap.String("call_id", callID), zap.String("event_type", string(t)))
	}
}

func (o *Orchestrator) campaignFor(callID string) string {
	o.campaignMu.Lock()
	defer o.campaignMu.Unlock()
	return o.campaigns[callID]
}

// persist writes the finished session through the recorder and fires
// the completion hook. Persistence failures are logged, never escalated.
func (o *Orchestrator) persist(session *domain.CallSession, campaignID string) {
	go func() {
		if o.recorder != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := o.recorder.SaveCallRecord(ctx, session, campaignID); err != nil {
				logger.Base().Error("Failed persisting call record",
					zap.String("call_id", session.CallID), zap.Error(err))
			}
		}

		o.finalizeMu.RLock()
		hook := o.onFinalized
		o.finalizeMu.RUnlock()
		if hook != nil {
			hook(session, campaignID)
		}

		o.campaignMu.Lock()
		delete(o.campaigns, session.CallID)
		o.campaignMu.Unlock()
	}()
}
