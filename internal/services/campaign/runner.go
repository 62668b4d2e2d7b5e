package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/paperline/sales-voice-service/internal/domain"
	"github.com/paperline/sales-voice-service/pkg/logger"
)

// Dialer places one outbound call and reports the provider call ID.
type Dialer interface {
	StartOutboundCall(ctx context.Context, phone string, profile *domain.AgentProfile, campaignID string) (string, error)
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusStopping  Status = "stopping"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeOptedOut  Outcome = "opted_out"
	OutcomeDialError Outcome = "dial_error"
)

// CallResult is the per-target record a campaign accumulates.
type CallResult struct {
	Phone       string        `json:"phone"`
	CallID      string        `json:"call_id,omitempty"`
	Outcome     Outcome       `json:"outcome"`
	FinalStatus string        `json:"final_status,omitempty"`
	HangupCause string        `json:"hangup_cause,omitempty"`
	Turns       int           `json:"turns"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// Report is the externally visible snapshot of a campaign.
type Report struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Status    Status       `json:"status"`
	Total     int          `json:"total"`
	Dialed    int          `json:"dialed"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	OptedOut  int          `json:"opted_out"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
	Results   []CallResult `json:"results"`
}

type campaignState struct {
	id        string
	name      string
	status    Status
	targets   []string
	profile   *domain.AgentProfile
	results   []CallResult
	dialed    int
	startedAt time.Time
	endedAt   *time.Time
	cancel    context.CancelFunc
}

// Runner drives outbound campaigns: it walks a target list under a
// rate limiter, bounds in-flight calls, and collects per-call outcomes
// through the orchestrator's finalize hook.
type Runner struct {
	dialer    Dialer
	limiter   *rate.Limiter
	slots     chan struct{}
	mu        sync.Mutex
	campaigns map[string]*campaignState
	inFlight  map[string]string // callID -> campaignID
}

// NewRunner builds a campaign runner. callsPerMinute and maxConcurrent
// fall back to 2/min and 3 when non-positive.
func NewRunner(dialer Dialer, callsPerMinute, maxConcurrent int) *Runner {
	if callsPerMinute <= 0 {
		callsPerMinute = 2
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Runner{
		dialer:    dialer,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(callsPerMinute)), 1),
		slots:     make(chan struct{}, maxConcurrent),
		campaigns: make(map[string]*campaignState),
		inFlight:  make(map[string]string),
	}
}

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrNoTargets        = errors.New("campaign has no targets")
)

// Start launches a campaign over the given phone numbers and returns
// its ID immediately; dialing happens in the background.
func (r *Runner) Start(name string, phones []string, profile *domain.AgentProfile) (string, error) {
	if len(phones) == 0 {
		return "", ErrNoTargets
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &campaignState{
		id:        uuid.NewString(),
		name:      name,
		status:    StatusRunning,
		targets:   append([]string(nil), phones...),
		profile:   profile,
		startedAt: time.Now(),
		cancel:    cancel,
	}

	r.mu.Lock()
	r.campaigns[c.id] = c
	r.mu.Unlock()

	logger.Base().Info("Campaign started",
		zap.String("campaign_id", c.id), zap.String("name", name), zap.Int("targets", len(phones)))

	go r.run(ctx, c)
	return c.id, nil
}

// Stop asks a running campaign to finish after its in-flight calls.
func (r *Runner) Stop(campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return ErrCampaignNotFound
	}
	if c.status == StatusRunning {
		c.status = StatusStopping
		c.cancel()
	}
	return nil
}

// Status returns a snapshot report for one campaign.
func (r *Runner) Status(campaignID string) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	return r.reportLocked(c), nil
}

// List returns snapshot reports for all known campaigns.
func (r *Runner) List() []*Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Report, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		out = append(out, r.reportLocked(c))
	}
	return out
}

// OnCallFinalized is wired as the orchestrator's finalize hook; it
// records the session outcome against its campaign and frees a slot.
func (r *Runner) OnCallFinalized(session *domain.CallSession, campaignID string) {
	if campaignID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.inFlight, session.CallID)
	select {
	case <-r.slots:
	default:
	}

	c, ok := r.campaigns[campaignID]
	if !ok {
		return
	}

	outcome := OutcomeCompleted
	if session.Status == domain.StatusFailed {
		outcome = OutcomeFailed
	}
	result := CallResult{
		Phone:       session.PhoneNumber,
		CallID:      session.CallID,
		Outcome:     outcome,
		FinalStatus: string(session.Status),
		HangupCause: session.HangupCause,
		Turns:       len(session.History),
	}
	if session.EndedAt != nil {
		result.Duration = session.EndedAt.Sub(session.StartedAt)
	}
	c.results = append(c.results, result)
	r.maybeFinishLocked(c)
}

func (r *Runner) run(ctx context.Context, c *campaignState) {
	for _, phone := range c.targets {
		if ctx.Err() != nil {
			break
		}
		if err := r.limiter.Wait(ctx); err != nil {
			break
		}
		acquired := false
		select {
		case r.slots <- struct{}{}:
			acquired = true
		case <-ctx.Done():
		}
		if !acquired {
			break
		}

		r.dialOne(ctx, c, phone)
	}

	r.mu.Lock()
	if c.status == StatusStopping {
		c.status = StatusStopped
	}
	r.maybeFinishLocked(c)
	r.mu.Unlock()
}

func (r *Runner) dialOne(ctx context.Context, c *campaignState, phone string) {
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	callID, err := r.dialer.StartOutboundCall(dialCtx, phone, c.profile, c.id)

	r.mu.Lock()
	defer r.mu.Unlock()
	c.dialed++

	if err != nil {
		// The call never got a session, so no finalize hook will fire;
		// release the slot and record the result here.
		select {
		case <-r.slots:
		default:
		}
		outcome := OutcomeDialError
		if errors.Is(err, domain.ErrCustomerOptedOut) {
			outcome = OutcomeOptedOut
		}
		c.results = append(c.results, CallResult{
			Phone:   phone,
			Outcome: outcome,
			Error:   err.Error(),
		})
		logger.Base().Warn("Campaign dial skipped",
			zap.String("campaign_id", c.id), zap.String("phone", phone), zap.Error(err))
		return
	}

	r.inFlight[callID] = c.id
	logger.Base().Info("Campaign call placed",
		zap.String("campaign_id", c.id), zap.String("call_id", callID), zap.String("phone", phone))
}

// maybeFinishLocked marks a campaign complete once every target has a
// result and nothing is still in flight for it.
func (r *Runner) maybeFinishLocked(c *campaignState) {
	if c.status != StatusRunning && c.status != StatusStopping && c.status != StatusStopped {
		return
	}
	if c.dialed < len(c.targets) && c.status == StatusRunning {
		return
	}
	for _, id := range r.inFlight {
		if id == c.id {
			return
		}
	}
	if len(c.results) < c.dialed {
		return
	}
	if c.status == StatusStopping || c.status == StatusStopped {
		c.status = StatusStopped
	} else {
		c.status = StatusCompleted
	}
	if c.endedAt == nil {
		now := time.Now()
		c.endedAt = &now
		logger.Base().Info("Campaign finished",
			zap.String("campaign_id", c.id), zap.String("status", string(c.status)),
			zap.Int("results", len(c.results)))
	}
}

func (r *Runner) reportLocked(c *campaignState) *Report {
	rep := &Report{
		ID:        c.id,
		Name:      c.name,
		Status:    c.status,
		Total:     len(c.targets),
		Dialed:    c.dialed,
		StartedAt: c.startedAt,
		EndedAt:   c.endedAt,
		Results:   append([]CallResult(nil), c.results...),
	}
	for _, res := range c.results {
		switch res.Outcome {
		case OutcomeCompleted:
			rep.Completed++
		case OutcomeFailed, OutcomeDialError:
			rep.Failed++
		case OutcomeOptedOut:
			rep.OptedOut++
		}
	}
	return rep
}

// Summary renders a one-line progress string for logs and the status API.
func (rep *Report) Summary() string {
	return fmt.Sprintf("%s: %d/%d dialed, %d completed, %d failed, %d opted out",
		rep.Status, rep.Dialed, rep.Total, rep.Completed, rep.Failed, rep.OptedOut)
}
