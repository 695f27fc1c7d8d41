// Package monitor watches how guardians respond to an active emergency and
// escalates when too few of them engage in time. It is advisory and never
// gates an execution.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
	"github.com/Mindburn-Labs/helm-guardian/pkg/notify"
)

// Outcome is how a watch ended.
type Outcome string

const (
	OutcomeRunning   Outcome = "RUNNING"
	OutcomeSatisfied Outcome = "SATISFIED"
	OutcomeEscalated Outcome = "ESCALATED"
	OutcomeStopped   Outcome = "STOPPED"
)

const (
	DefaultPollInterval      = time.Minute
	DefaultTimeout           = 30 * time.Minute
	DefaultResponseThreshold = 0.7
)

// Request starts a watch.
type Request struct {
	EmergencyID string
	ExecutionID string
	Roster      []string
	Timeout     time.Duration
}

// Escalator is invoked once when a watch times out.
type Escalator interface {
	Escalate(ctx context.Context, req Request, states map[string]contracts.GuardianResponseState) error
}

// EscalatorFunc adapts a function to Escalator.
type EscalatorFunc func(ctx context.Context, req Request, states map[string]contracts.GuardianResponseState) error

func (f EscalatorFunc) Escalate(ctx context.Context, req Request, states map[string]contracts.GuardianResponseState) error {
	return f(ctx, req, states)
}

// Watch is one running monitor.
type Watch struct {
	req    Request
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	outcome  Outcome
	fraction float64
	states   map[string]contracts.GuardianResponseState
}

// Done is closed when the watch ends.
func (w *Watch) Done() <-chan struct{} { return w.done }

func (w *Watch) Outcome() Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome
}

// Fraction is the last observed share of engaged guardians.
func (w *Watch) Fraction() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fraction
}

// Supervisor owns the watches, one per execution. Several executions may
// watch the same emergency.
type Supervisor struct {
	mu      sync.Mutex
	watches map[string]*Watch

	source       notify.StatusSource
	escalator    Escalator
	pollInterval time.Duration
	threshold    float64
	logger       *slog.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func WithThreshold(f float64) Option {
	return func(s *Supervisor) {
		if f > 0 && f <= 1 {
			s.threshold = f
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l.With("component", "response_monitor") }
}

// NewSupervisor creates a supervisor. escalator may be nil.
func NewSupervisor(source notify.StatusSource, escalator Escalator, opts ...Option) *Supervisor {
	s := &Supervisor{
		watches:      make(map[string]*Watch),
		source:       source,
		escalator:    escalator,
		pollInterval: DefaultPollInterval,
		threshold:    DefaultResponseThreshold,
		logger:       slog.Default().With("component", "response_monitor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins watching an emergency on behalf of an execution. A running
// watch for the same execution is returned unchanged.
func (s *Supervisor) Start(ctx context.Context, req Request) *Watch {
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.watches[req.ExecutionID]; ok {
		return w
	}
	wctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		req:     req,
		cancel:  cancel,
		done:    make(chan struct{}),
		outcome: OutcomeRunning,
		states:  make(map[string]contracts.GuardianResponseState),
	}
	s.watches[req.ExecutionID] = w
	go s.run(wctx, w)

	s.logger.Info("response monitor started",
		"emergency_id", req.EmergencyID,
		"execution_id", req.ExecutionID,
		"timeout", req.Timeout,
	)
	return w
}

// Stop ends the watch for an execution. It reports whether one was running.
func (s *Supervisor) Stop(executionID string) bool {
	s.mu.Lock()
	w, ok := s.watches[executionID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	w.cancel()
	<-w.done
	return true
}

// Active returns the number of running watches.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

func (s *Supervisor) run(ctx context.Context, w *Watch) {
	defer func() {
		w.cancel()
		s.mu.Lock()
		if s.watches[w.req.ExecutionID] == w {
			delete(s.watches, w.req.ExecutionID)
		}
		s.mu.Unlock()
		close(w.done)
	}()

	deadline := time.NewTimer(w.req.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	if s.poll(ctx, w) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			s.finish(w, OutcomeStopped)
			return
		case <-deadline.C:
			s.escalate(ctx, w)
			return
		case <-ticker.C:
			if s.poll(ctx, w) {
				return
			}
		}
	}
}

// poll refreshes states and reports whether the threshold is met.
func (s *Supervisor) poll(ctx context.Context, w *Watch) bool {
	engaged := 0
	states := make(map[string]contracts.GuardianResponseState, len(w.req.Roster))
	for _, gid := range w.req.Roster {
		st, err := s.source.ResponseState(ctx, w.req.EmergencyID, gid)
		if err != nil {
			s.logger.Warn("response state unavailable", "guardian_id", gid, "error", err)
			st = contracts.ResponseUnknown
		}
		states[gid] = st
		if st.Engaged() {
			engaged++
		}
	}
	fraction := 0.0
	if len(w.req.Roster) > 0 {
		fraction = float64(engaged) / float64(len(w.req.Roster))
	}

	w.mu.Lock()
	w.states = states
	w.fraction = fraction
	w.mu.Unlock()

	if len(w.req.Roster) > 0 && fraction >= s.threshold {
		s.finish(w, OutcomeSatisfied)
		s.logger.Info("guardian response threshold met", "emergency_id", w.req.EmergencyID, "fraction", fraction)
		return true
	}
	return false
}

func (s *Supervisor) escalate(ctx context.Context, w *Watch) {
	w.mu.Lock()
	states := make(map[string]contracts.GuardianResponseState, len(w.states))
	for k, v := range w.states {
		states[k] = v
	}
	fraction := w.fraction
	w.mu.Unlock()

	s.logger.Warn("guardian response timeout, escalating",
		"emergency_id", w.req.EmergencyID,
		"execution_id", w.req.ExecutionID,
		"fraction", fraction,
	)
	if s.escalator != nil {
		if err := s.escalator.Escalate(ctx, w.req, states); err != nil {
			s.logger.Error("escalation failed", "emergency_id", w.req.EmergencyID, "error", err)
		}
	}
	s.finish(w, OutcomeEscalated)
}

func (s *Supervisor) finish(w *Watch, o Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.outcome == OutcomeRunning {
		w.outcome = o
	}
}
