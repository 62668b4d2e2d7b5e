package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperline/sales-voice-service/internal/core/event"
	"github.com/paperline/sales-voice-service/internal/core/session"
	"github.com/paperline/sales-voice-service/internal/domain"
)

type fakeGateway struct {
	mu       sync.Mutex
	placed   []string
	answered []string
	speaks   []string
	gathers  []GatherSpec
	hangups  []string

	placeErr error
	speakErr error

	// onPlace runs after a successful dial, before PlaceCall returns,
	// mimicking a provider whose first webhook beats the API response.
	onPlace func(callID string)
}

func (g *fakeGateway) PlaceCall(ctx context.Context, to, from string) (string, error) {
	g.mu.Lock()
	if g.placeErr != nil {
		g.mu.Unlock()
		return "", g.placeErr
	}
	g.placed = append(g.placed, to)
	hook := g.onPlace
	g.mu.Unlock()
	if hook != nil {
		hook("v3:test-call")
	}
	return "v3:test-call", nil
}

func (g *fakeGateway) Answer(ctx context.Context, callID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.answered = append(g.answered, callID)
	return nil
}

func (g *fakeGateway) Speak(ctx context.Context, callID, text, voice, language string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.speakErr != nil {
		return g.speakErr
	}
	g.speaks = append(g.speaks, text)
	return nil
}

func (g *fakeGateway) GatherDigits(ctx context.Context, callID string, spec GatherSpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gathers = append(g.gathers, spec)
	return nil
}

func (g *fakeGateway) Hangup(ctx context.Context, callID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hangups = append(g.hangups, callID)
	return nil
}

func (g *fakeGateway) speakCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.speaks)
}

func (g *fakeGateway) gatherCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.gathers)
}

func (g *fakeGateway) placedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.placed)
}

type fakeConvSession struct {
	id       string
	handlers ConversationHandlers
	respond  bool

	mu     sync.Mutex
	sent   []string
	closed int
}

func (s *fakeConvSession) ID() string { return s.id }

func (s *fakeConvSession) SendText(text string) error {
	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()
	if s.respond && s.handlers.OnResponse != nil {
		go s.handlers.OnResponse("Hi, thanks for taking my call!")
	}
	return nil
}

func (s *fakeConvSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeConvSession) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeConvSession) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeConvClient struct {
	mu      sync.Mutex
	err     error
	respond bool
	session *fakeConvSession
}

func (c *fakeConvClient) Create(ctx context.Context, callID string, profile *domain.AgentProfile, customerContext string, handlers ConversationHandlers) (ConversationSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.session = &fakeConvSession{id: "conv-" + callID, handlers: handlers, respond: c.respond}
	return c.session, nil
}

type fakeMedia struct {
	mu      sync.Mutex
	err     error
	created []string
	deleted []string
	data    [][]byte
}

func (m *fakeMedia) CreateRoom(ctx context.Context, callID, metadata string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	name := "call-" + callID
	m.created = append(m.created, name)
	return name, nil
}

func (m *fakeMedia) SendData(ctx context.Context, roomName string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append(m.data, payload)
	return nil
}

func (m *fakeMedia) DeleteRoom(ctx context.Context, roomName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, roomName)
	return nil
}

func (m *fakeMedia) deletedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deleted)
}

type fakeCustomers struct {
	mu       sync.Mutex
	profiles map[string]*domain.CustomerProfile
	optedOut []string
}

func (c *fakeCustomers) LookupByPhone(ctx context.Context, phone string) (*domain.CustomerProfile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profiles[phone], nil
}

func (c *fakeCustomers) MarkOptedOut(ctx context.Context, phone string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.optedOut = append(c.optedOut, phone)
	return nil
}

type fakeRecorder struct {
	mu         sync.Mutex
	saved      []*domain.CallSession
	recordings map[string]string
}

func (r *fakeRecorder) SaveCallRecord(ctx context.Context, session *domain.CallSession, campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, session)
	return nil
}

func (r *fakeRecorder) AttachRecording(ctx context.Context, callID, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordings == nil {
		r.recordings = make(map[string]string)
	}
	r.recordings[callID] = url
	return nil
}

func (r *fakeRecorder) savedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

type fakeBroadcaster struct {
	mu         sync.Mutex
	registered []string
	removed    []string
	notified   []string
}

func (b *fakeBroadcaster) Register(ctx context.Context, info session.SessionInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered = append(b.registered, info.CallID)
	return nil
}

func (b *fakeBroadcaster) Unregister(ctx context.Context, callID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, callID)
	return nil
}

func (b *fakeBroadcaster) NotifyCleanup(ctx context.Context, callID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notified = append(b.notified, callID)
	return nil
}

func (b *fakeBroadcaster) counts() (registered, removed, notified int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.registered), len(b.removed), len(b.notified)
}

type harness struct {
	orch        *Orchestrator
	router      *Router
	gateway     *fakeGateway
	conv        *fakeConvClient
	media       *fakeMedia
	customers   *fakeCustomers
	recorder    *fakeRecorder
	broadcaster *fakeBroadcaster
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		gateway:     &fakeGateway{},
		conv:        &fakeConvClient{respond: true},
		media:       &fakeMedia{},
		customers:   &fakeCustomers{profiles: map[string]*domain.CustomerProfile{}},
		recorder:    &fakeRecorder{},
		broadcaster: &fakeBroadcaster{},
	}
	h.orch = New(h.gateway, h.conv, h.media, h.recorder, h.broadcaster, h.customers, Options{
		Retention:  time.Minute,
		FromNumber: "+15550001111",
	})
	h.router = NewRouter(h.orch)
	t.Cleanup(h.orch.Shutdown)
	return h
}

func (h *harness) webhook(callID string, typ event.Type, mutate ...func(*event.CallEvent)) {
	ev := event.CallEvent{CallID: callID, Type: typ, Timestamp: time.Now()}
	for _, m := range mutate {
		m(&ev)
	}
	h.router.Route(ev)
}

func (h *harness) waitStatus(t *testing.T, callID string, status domain.CallStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := h.orch.GetSession(callID)
		return err == nil && s.Status == status
	}, 3*time.Second, 5*time.Millisecond, "waiting for status %s", status)
}

func TestOutboundOptedOutCustomerRejectedBeforeDialing(t *testing.T) {
	h := newHarness(t)
	h.customers.profiles["+15557770000"] = &domain.CustomerProfile{
		ID: "cust-1", PhoneNumber: "+15557770000", DoNotCall: true,
	}

	_, err := h.orch.StartOutboundCall(context.Background(), "+15557770000", nil, "")
	assert.ErrorIs(t, err, domain.ErrCustomerOptedOut)
	assert.Equal(t, 0, h.gateway.placedCount())
}

func TestFullDuplexCallReachesConversationActive(t *testing.T) {
	h := newHarness(t)

	callID, err := h.orch.StartOutboundCall(context.Background(), "+15559992222", &domain.AgentProfile{Name: "Sarah"}, "")
	require.NoError(t, err)

	h.webhook(callID, event.TypeCallInitiated)
	h.webhook(callID, event.TypeCallAnswered)

	h.waitStatus(t, callID, domain.StatusConversationActive)

	s, err := h.orch.GetSession(callID)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeFullDuplex, s.Mode)
	assert.Equal(t, "conv-"+callID, s.ExternalRefs.ConversationSessionID)
	assert.Equal(t, "call-"+callID, s.ExternalRefs.MediaRoomName)

	// The AI is asked to greet exactly once, and its reply is spoken.
	require.Eventually(t, func() bool { return h.gateway.speakCount() == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.conv.session.sentCount())

	require.Eventually(t, func() bool {
		s, _ := h.orch.GetSession(callID)
		return s != nil && len(s.History) == 1 && s.History[0].Role == domain.RoleAssistant
	}, 3*time.Second, 5*time.Millisecond)
}

func TestInitiatedWebhookBeatingRegistrationKeepsDialData(t *testing.T) {
	h := newHarness(t)
	h.conv.err = domain.TransientError("openai.create", assert.AnError)
	h.media.err = domain.TransientError("livekit.create_room", assert.AnError)
	h.gateway.onPlace = func(callID string) {
		h.webhook(callID, event.TypeCallInitiated, func(ev *event.CallEvent) {
			ev.Direction = domain.DirectionOutbound
		})
	}

	callID, err := h.orch.StartOutboundCall(context.Background(), "+15559992222", &domain.AgentProfile{Name: "Sarah"}, "")
	require.NoError(t, err)

	h.waitStatus(t, callID, domain.StatusRinging)
	s, err := h.orch.GetSession(callID)
	require.NoError(t, err)
	require.NotNil(t, s.AgentProfile)
	assert.Equal(t, "Sarah", s.AgentProfile.Name)
	assert.Equal(t, "+15559992222", s.PhoneNumber)
	assert.Equal(t, domain.DirectionOutbound, s.Direction)
	assert.Equal(t, 1, h.orch.ActiveCalls())

	// The rest of the call runs normally, including a keypad opt-out
	// that must land on the dialed number.
	h.webhook(callID, event.TypeCallAnswered)
	h.waitStatus(t, callID, domain.StatusConversationActive)
	h.webhook(callID, event.TypeGatherEnded, func(ev *event.CallEvent) { ev.Digits = "9" })
	require.Eventually(t, func() bool {
		h.customers.mu.Lock()
		defer h.customers.mu.Unlock()
		return len(h.customers.optedOut) == 1 && h.customers.optedOut[0] == "+15559992222"
	}, 3*time.Second, 5*time.Millisecond)
}

func TestScriptedFallbackSpeaksMenuWithValidDigits(t *testing.T) {
	h := newHarness(t)
	h.conv.err = domain.TransientError("openai.create", assert.AnError)
	h.media.err = domain.TransientError("livekit.create_room", assert.AnError)

	callID, err := h.orch.StartOutboundCall(context.Background(), "+15559992222", &domain.AgentProfile{Name: "Sarah"}, "")
	require.NoError(t, err)

	h.webhook(callID, event.TypeCallInitiated)
	h.webhook(callID, event.TypeCallAnswered)

	h.waitStatus(t, callID, domain.StatusConversationActive)

	s, _ := h.orch.GetSession(callID)
	assert.Equal(t, domain.ModeScripted, s.Mode)
	assert.True(t, s.ExternalRefs.Empty())

	require.Eventually(t, func() bool {
		return h.gateway.speakCount() == 1 && h.gateway.gatherCount() == 1
	}, 3*time.Second, 5*time.Millisecond)

	h.gateway.mu.Lock()
	speak := h.gateway.speaks[0]
	gather := h.gateway.gathers[0]
	h.gateway.mu.Unlock()
	assert.Contains(t, speak, "Premium Paper Solutions")
	assert.Equal(t, "129", gather.ValidDigits)
	assert.Equal(t, 1, gather.MaxDigits)
}

func TestScriptedOptOutDigitMarksCustomer(t *testing.T) {
	h := newHarness(t)
	h.conv.err = domain.TransientError("openai.create", assert.AnError)
	h.media.err = domain.TransientError("livekit.create_room", assert.AnError)

	callID, err := h.orch.StartOutboundCall(context.Background(), "+15559992222", nil, "")
	require.NoError(t, err)
	h.webhook(callID, event.TypeCallInitiated)
	h.webhook(callID, event.TypeCallAnswered)
	h.waitStatus(t, callID, domain.StatusConversationActive)

	h.webhook(callID, event.TypeGatherEnded, func(ev *event.CallEvent) { ev.Digits = "9" })

	require.Eventually(t, func() bool {
		h.customers.mu.Lock()
		defer h.customers.mu.Unlock()
		return len(h.customers.optedOut) == 1 && h.customers.optedOut[0] == "+15559992222"
	}, 3*time.Second, 5*time.Millisecond)
}

func TestHangupMidSpeakDiscardsLateCompletion(t *testing.T) {
	h := newHarness(t)

	callID, err := h.orch.StartOutboundCall(context.Background(), "+15559992222", nil, "")
	require.NoError(t, err)
	h.webhook(callID, event.TypeCallInitiated)
	h.webhook(callID, event.TypeCallAnswered)
	h.waitStatus(t, callID, domain.StatusConversationActive)

	require.Eventually(t, func() bool { return h.gateway.speakCount() == 1 }, 3*time.Second, 5*time.Millisecond)

	h.webhook(callID, event.TypeCallHangup, func(ev *event.CallEvent) { ev.HangupCause = "normal_clearing" })
	h.waitStatus(t, callID, domain.StatusEnded)

	// The speak completion arrives after the call has ended; it must
	// produce no further provider actions.
	before := h.gateway.speakCount()
	h.webhook(callID, event.TypeSpeakEnded)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, h.gateway.speakCount())
	assert.Equal(t, 0, h.gateway.gatherCount())

	s, _ := h.orch.GetSession(callID)
	assert.Equal(t, domain.StatusEnded, s.Status)
}

func TestCleanupClearsRefsExactlyOnce(t *testing.T) {
	h := newHarness(t)

	callID, err := h.orch.StartOutboundCall(context.Background(), "+15559992222", nil, "")
	require.NoError(t, err)
	h.webhook(callID, event.TypeCallInitiated)
	h.webhook(callID, event.TypeCallAnswered)
	h.waitStatus(t, callID, domain.StatusConversationActive)

	s, _ := h.orch.GetSession(callID)
	require.False(t, s.ExternalRefs.Empty())

	h.webhook(callID, event.TypeCallHangup)
	h.waitStatus(t, callID, domain.StatusEnded)

	s, _ = h.orch.GetSession(callID)
	assert.True(t, s.ExternalRefs.Empty())
	assert.Equal(t, 1, h.media.deletedCount())
	assert.Equal(t, 1, h.conv.session.closedCount())

	// Duplicate hangup after Ended: no state change, no second teardown.
	h.webhook(callID, event.TypeCallHangup)
	time.Sleep(50 * time.Millisecond)

	s, _ = h.orch.GetSession(callID)
	assert.Equal(t, domain.StatusEnded, s.Status)
	assert.Equal(t, 1, h.media.deletedCount())
	assert.Equal(t, 1, h.conv.session.closedCount())
}

func TestTerminalSessionHistoryIsImmutable(t *testing.T) {
	h := newHarness(t)

	callID, err := h.orch.StartOutboundCall(context.Background(), "+15559992222", nil, "")
	require.NoError(t, err)
	h.webhook(callID, event.TypeCallInitiated)
	h.webhook(callID, event.TypeCallAnswered)
	h.waitStatus(t, callID, domain.StatusConversationActive)
	h.webhook(callID, event.TypeCallHangup)
	h.waitStatus(t, callID, domain.StatusEnded)

	before, _ := h.orch.GetSession(callID)

	h.webhook(callID, event.TypeGatherEnded, func(ev *event.CallEvent) { ev.Digits = "1" })
	h.webhook(callID, event.TypeTranscript, func(ev *event.CallEvent) { ev.Text = "too late" })
	time.Sleep(50 * time.Millisecond)

	after, _ := h.orch.GetSession(callID)
	assert.Equal(t, len(before.History), len(after.History))
	assert.True(t, after.ExternalRefs.Empty())
}

func TestDuplicateInitiatedProducesOneSessionOneRinging(t *testing.T) {
	h := newHarness(t)

	h.webhook("v3:inbound-1", event.TypeCallInitiated, func(ev *event.CallEvent) {
		ev.Direction = domain.DirectionInbound
		ev.From = "+15553334444"
		ev.To = "+15550001111"
	})
	h.webhook("v3:inbound-1", event.TypeCallInitiated, func(ev *event.CallEvent) {
		ev.Direction = domain.DirectionInbound
		ev.From = "+15553334444"
		ev.To = "+15550001111"
	})

	h.waitStatus(t, "v3:inbound-1", domain.StatusRinging)
	assert.Equal(t, 1, h.orch.ActiveCalls())

	// Inbound legs are answered once, not once per delivery.
	require.Eventually(t, func() bool {
		h.gateway.mu.Lock()
		defer h.gateway.mu.Unlock()
		return len(h.gateway.answered) == 1
	}, 3*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	h.gateway.mu.Lock()
	answered := len(h.gateway.answered)
	h.gateway.mu.Unlock()
	assert.Equal(t, 1, answered)

	s, _ := h.orch.GetSession("v3:inbound-1")
	assert.Equal(t, "+15553334444", s.PhoneNumber)
}

func TestEventsForUnknownCallIDAreDropped(t *testing.T) {
	h := newHarness(t)

	h.webhook("v3:never-seen", event.TypeCallAnswered)
	h.webhook("v3:never-seen", event.TypeCallHangup)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, h.orch.ActiveCalls())
}

func TestFatalPlaceCallPersistsFailedRecord(t *testing.T) {
	h := newHarness(t)
	h.gateway.placeErr = domain.FatalError("telnyx.place_call", assert.AnError)

	_, err := h.orch.StartOutboundCall(context.Background(), "+15559992222", nil, "")
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))

	require.Eventually(t, func() bool { return h.recorder.savedCount() == 1 }, 3*time.Second, 5*time.Millisecond)
	h.recorder.mu.Lock()
	saved := h.recorder.saved[0]
	h.recorder.mu.Unlock()
	assert.Equal(t, domain.StatusFailed, saved.Status)
}

func TestFinishedCallIsPersistedWithTranscript(t *testing.T) {
	h := newHarness(t)

	callID, err := h.orch.StartOutboundCall(context.Background(), "+15559992222", nil, "")
	require.NoError(t, err)
	h.webhook(callID, event.TypeCallInitiated)
	h.webhook(callID, event.TypeCallAnswered)
	h.waitStatus(t, callID, domain.StatusConversationActive)

	require.Eventually(t, func() bool {
		s, _ := h.orch.GetSession(callID)
		return s != nil && len(s.History) == 1
	}, 3*time.Second, 5*time.Millisecond)

	h.webhook(callID, event.TypeCallHangup)
	h.waitStatus(t, callID, domain.StatusEnded)

	require.Eventually(t, func() bool { return h.recorder.savedCount() == 1 }, 3*time.Second, 5*time.Millisecond)
	h.recorder.mu.Lock()
	saved := h.recorder.saved[0]
	h.recorder.mu.Unlock()
	assert.Equal(t, domain.StatusEnded, saved.Status)
	assert.Len(t, saved.History, 1)
}

func TestRecordingSavedAttachesURL(t *testing.T) {
	h := newHarness(t)

	callID, err := h.orch.StartOutboundCall(context.Background(), "+15559992222", nil, "")
	require.NoError(t, err)
	h.webhook(callID, event.TypeCallInitiated)
	h.webhook(callID, event.TypeCallAnswered)
	h.waitStatus(t, callID, domain.StatusConversationActive)
	h.webhook(callID, event.TypeCallHangup)
	h.waitStatus(t, callID, domain.StatusEnded)

	h.webhook(callID, event.TypeRecordingSaved, func(ev *event.CallEvent) {
		ev.RecordingURL = "https://example.com/rec.mp3"
	})

	require.Eventually(t, func() bool {
		h.recorder.mu.Lock()
		defer h.recorder.mu.Unlock()
		return h.recorder.recordings[callID] == "https://example.com/rec.mp3"
	}, 3*time.Second, 5*time.Millisecond)
}

func TestSessionsReadyAfterHangupReleasesFreshSessions(t *testing.T) {
	h := newHarness(t)

	callID, err := h.orch.StartOutboundCall(context.Background(), "+15559992222", nil, "")
	require.NoError(t, err)
	h.webhook(callID, event.TypeCallInitiated)
	h.webhook(callID, event.TypeCallAnswered)
	h.waitStatus(t, callID, domain.StatusConversationActive)
	h.webhook(callID, event.TypeCallHangup)
	h.waitStatus(t, callID, domain.StatusEnded)

	// A straggler outcome for a call that is already gone must tear
	// its room down instead of leaking it.
	require.NoError(t, h.orch.registry.Enqueue(callID, event.CallEvent{
		CallID: callID, Type: event.TypeSessionsReady,
		Outcome: &event.SessionOutcome{MediaOK: true, MediaRoomName: "call-" + callID},
	}))

	require.Eventually(t, func() bool { return h.media.deletedCount() == 2 }, 3*time.Second, 5*time.Millisecond)
}

func TestLiveCallTrackedAcrossPods(t *testing.T) {
	h := newHarness(t)

	callID, err := h.orch.StartOutboundCall(context.Background(), "+15559992222", nil, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		registered, _, _ := h.broadcaster.counts()
		return registered == 1
	}, 3*time.Second, 5*time.Millisecond)

	h.webhook(callID, event.TypeCallInitiated)
	h.webhook(callID, event.TypeCallAnswered)
	h.waitStatus(t, callID, domain.StatusConversationActive)
	h.webhook(callID, event.TypeCallHangup)
	h.waitStatus(t, callID, domain.StatusEnded)

	// Teardown is announced and the monitoring record removed.
	require.Eventually(t, func() bool {
		_, removed, notified := h.broadcaster.counts()
		return removed == 1 && notified == 1
	}, 3*time.Second, 5*time.Millisecond)

	h.broadcaster.mu.Lock()
	defer h.broadcaster.mu.Unlock()
	assert.Equal(t, []string{callID}, h.broadcaster.registered)
	assert.Equal(t, []string{callID}, h.broadcaster.removed)
}

func TestCleanupBroadcastReleasesOrphanedRuntime(t *testing.T) {
	h := newHarness(t)

	orphan := &fakeConvSession{id: "conv-orphan"}
	h.orch.storeConversation("v3:orphan", orphan)

	h.orch.HandleCleanupBroadcast("v3:orphan")
	assert.Equal(t, 1, orphan.closedCount())
	h.orch.runtimeMu.Lock()
	_, ok := h.orch.runtimes["v3:orphan"]
	h.orch.runtimeMu.Unlock()
	assert.False(t, ok)

	// A call this pod owns is untouched; its own state machine will
	// tear it down.
	callID, err := h.orch.StartOutboundCall(context.Background(), "+15559992222", nil, "")
	require.NoError(t, err)
	h.webhook(callID, event.TypeCallInitiated)
	h.webhook(callID, event.TypeCallAnswered)
	h.waitStatus(t, callID, domain.StatusConversationActive)

	h.orch.HandleCleanupBroadcast(callID)
	assert.Equal(t, 0, h.conv.session.closedCount())
}

func TestEvictionPurgesLateRuntimeState(t *testing.T) {
	gateway := &fakeGateway{}
	conv := &fakeConvClient{}
	orch := New(gateway, conv, nil, nil, nil, nil, Options{
		Retention:       100 * time.Millisecond,
		JanitorInterval: 10 * time.Millisecond,
		FromNumber:      "+15550001111",
	})
	t.Cleanup(orch.Shutdown)
	router := NewRouter(orch)

	callID, err := orch.StartOutboundCall(context.Background(), "+15559992222", nil, "")
	require.NoError(t, err)
	router.Route(event.CallEvent{CallID: callID, Type: event.TypeCallInitiated, Timestamp: time.Now()})
	router.Route(event.CallEvent{CallID: callID, Type: event.TypeCallHangup, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		s, err := orch.GetSession(callID)
		return err == nil && s.Status == domain.StatusEnded
	}, 3*time.Second, 5*time.Millisecond)

	// A straggler conversation handle lands after finalize dropped the
	// runtime; eviction must close it and purge the entry.
	late := &fakeConvSession{id: "conv-late"}
	orch.storeConversation(callID, late)

	require.Eventually(t, func() bool {
		_, err := orch.GetSession(callID)
		return err != nil
	}, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return late.closedCount() == 1 }, 3*time.Second, 5*time.Millisecond)

	orch.runtimeMu.Lock()
	remaining := len(orch.runtimes)
	orch.runtimeMu.Unlock()
	assert.Equal(t, 0, remaining)
}

func TestModeForCoversAllOutcomes(t *testing.T) {
	assert.Equal(t, domain.ModeFullDuplex, ModeFor(true, true))
	assert.Equal(t, domain.ModeConversationOnly, ModeFor(true, false))
	assert.Equal(t, domain.ModeMediaOnly, ModeFor(false, true))
	assert.Equal(t, domain.ModeScripted, ModeFor(false, false))
}

func TestWelcomeInstructionMentionsAgent(t *testing.T) {
	h := newHarness(t)
	h.media.err = domain.TransientError("livekit.create_room", assert.AnError)

	callID, err := h.orch.StartOutboundCall(context.Background(), "+15559992222", &domain.AgentProfile{Name: "Priya"}, "")
	require.NoError(t, err)
	h.webhook(callID, event.TypeCallInitiated)
	h.webhook(callID, event.TypeCallAnswered)
	h.waitStatus(t, callID, domain.StatusConversationActive)

	s, _ := h.orch.GetSession(callID)
	assert.Equal(t, domain.ModeConversationOnly, s.Mode)

	require.Eventually(t, func() bool { return h.conv.session != nil && h.conv.session.sentCount() == 1 }, 3*time.Second, 5*time.Millisecond)
	h.conv.session.mu.Lock()
	sent := h.conv.session.sent[0]
	h.conv.session.mu.Unlock()
	assert.True(t, strings.Contains(sent, "Priya"))
}
