package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paperline/sales-voice-service/internal/core/event"
	"github.com/paperline/sales-voice-service/internal/domain"
	"github.com/paperline/sales-voice-service/pkg/logger"
)

// Handler processes one event against one session. It runs on the
// session's worker goroutine, so it may mutate the session freely;
// no two invocations for the same callID ever overlap.
type Handler func(session *domain.CallSession, ev event.CallEvent)

const defaultQueueSize = 64

// entry owns one call session, its inbound event queue and its worker.
type entry struct {
	mu      sync.Mutex
	session *domain.CallSession
	evictAt time.Time

	events chan event.CallEvent
	quit   chan struct{}
}

// Registry is the process-wide map of live call sessions. The outer map
// is guarded by a mutex; per-session state is confined to each entry's
// single worker goroutine, so entries need no lock beyond the snapshot
// guard.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	handler   Handler
	retention time.Duration
	onEvict   func(callID string)

	janitorStop chan struct{}
	janitorOnce sync.Once
	wg          sync.WaitGroup
}

// NewRegistry creates a registry. Terminal sessions are kept for the
// retention window to absorb late duplicate webhooks, then evicted.
func NewRegistry(handler Handler, retention time.Duration) *Registry {
	return &Registry{
		entries:     make(map[string]*entry),
		handler:     handler,
		retention:   retention,
		janitorStop: make(chan struct{}),
	}
}

// SetEvictHook installs a callback that fires after a terminal session
// is evicted. Must be set before the janitor starts.
func (r *Registry) SetEvictHook(fn func(callID string)) {
	r.onEvict = fn
}

// Create inserts a session for its callID and starts its worker. The
// insert is idempotent: if a session already exists for the callID the
// existing one wins and created is false, but creation-only fields the
// existing session lacks are adopted from the new one. The provider's
// first webhook can beat the dialer's registration, leaving a skeleton
// that only the dialer can complete.
func (r *Registry) Create(session *domain.CallSession) (snapshot *domain.CallSession, created bool) {
	r.mu.Lock()
	if e, ok := r.entries[session.CallID]; ok {
		r.mu.Unlock()
		e.mu.Lock()
		e.session.AdoptDialData(session)
		snap := e.session.Clone()
		e.mu.Unlock()
		return snap, false
	}
	e := &entry{
		session: session,
		events:  make(chan event.CallEvent, defaultQueueSize),
		quit:    make(chan struct{}),
	}
	r.entries[session.CallID] = e
	r.mu.Unlock()

	r.wg.Add(1)
	go r.runWorker(e)

	return session.Clone(), true
}

// Get returns a snapshot of the session for callID.
func (r *Registry) Get(callID string) (*domain.CallSession, bool) {
	r.mu.RLock()
	e, ok := r.entries[callID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.snapshot(), true
}

// Enqueue pushes an event onto the session's queue. Events for one
// callID are processed strictly in arrival order; events for different
// callIDs never wait on each other.
func (r *Registry) Enqueue(callID string, ev event.CallEvent) error {
	r.mu.RLock()
	e, ok := r.entries[callID]
	r.mu.RUnlock()
	if !ok {
		return domain.ErrSessionNotFound
	}
	select {
	case e.events <- ev:
		return nil
	case <-e.quit:
		logger.Base().Warn("Dropping event for evicted session",
			zap.String("call_id", callID), zap.String("event_type", string(ev.Type)))
		return domain.ErrSessionNotFound
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// StartJanitor starts the eviction loop that removes terminal sessions
// once their retention window has passed.
func (r *Registry) StartJanitor(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.evictExpired(time.Now())
			case <-r.janitorStop:
				return
			}
		}
	}()
}

// Shutdown stops the janitor and all workers and waits for them.
func (r *Registry) Shutdown() {
	r.janitorOnce.Do(func() { close(r.janitorStop) })

	r.mu.Lock()
	for id, e := range r.entries {
		close(e.quit)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Registry) runWorker(e *entry) {
	defer r.wg.Done()
	for {
		select {
		case ev := <-e.events:
			e.mu.Lock()
			r.handler(e.session, ev)
			terminal := e.session.Status.IsTerminal()
			if terminal && e.evictAt.IsZero() {
				e.evictAt = time.Now().Add(r.retention)
			}
			e.mu.Unlock()
		case <-e.quit:
			return
		}
	}
}

func (r *Registry) evictExpired(now time.Time) {
	var evicted []string
	r.mu.Lock()
	for id, e := range r.entries {
		e.mu.Lock()
		due := !e.evictAt.IsZero() && now.After(e.evictAt)
		e.mu.Unlock()
		if due {
			close(e.quit)
			delete(r.entries, id)
			evicted = append(evicted, id)
			logger.Base().Info("Evicted terminal call session", zap.String("call_id", id))
		}
	}
	r.mu.Unlock()

	if r.onEvict != nil {
		for _, id := range evicted {
			r.onEvict(id)
		}
	}
}

func (e *entry) snapshot() *domain.CallSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone()
}
