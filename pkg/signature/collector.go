// Package signature runs the guardian signature collection for an execution:
// roster selection, request fan-out, verified submission and expiry.
package signature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
	"github.com/Mindburn-Labs/helm-guardian/pkg/crypto"
	"github.com/Mindburn-Labs/helm-guardian/pkg/notify"
)

var (
	ErrCollectionNotFound = errors.New("signature collection not found")
	ErrCollectionExists   = errors.New("signature collection already exists")
	ErrCollectionClosed   = errors.New("signature collection not accepting signatures")
	ErrCollectionExpired  = errors.New("signature collection expired")
	ErrNotOnRoster        = errors.New("guardian not on roster")
	ErrDuplicateSignature = errors.New("guardian already signed")
	ErrInvalidSignature   = errors.New("signature verification failed")
	ErrInsufficientRoster = errors.New("not enough guardians to reach quorum")
)

// DefaultRosterBuffer is the number of guardians asked beyond the requirement.
const DefaultRosterBuffer = 2

// RosterSource picks the guardians asked to sign.
type RosterSource interface {
	Select(n int) []contracts.Guardian
}

// InitRequest describes a new collection.
type InitRequest struct {
	ExecutionID string
	EmergencyID string
	Recipient   string
	Amount      contracts.Money
	Required    int
	Timelock    time.Duration
	Priority    contracts.Priority
}

type entry struct {
	mu       sync.Mutex
	col      contracts.SignatureCollection
	priority contracts.Priority
	amount   contracts.Money
	target   string
	timer    *time.Timer
	done     chan struct{}
}

// finishLocked moves the collection to a terminal status exactly once.
func (e *entry) finishLocked(status contracts.SignatureStatus, reason string, at time.Time) bool {
	if e.col.Status.Terminal() {
		return false
	}
	e.col.Status = status
	e.col.CloseReason = reason
	e.col.ClosedAt = at
	if e.timer != nil {
		e.timer.Stop()
	}
	close(e.done)
	return true
}

// Collector owns every live signature collection, keyed by execution id.
type Collector struct {
	mu      sync.Mutex
	entries map[string]*entry

	roster       RosterSource
	verifier     crypto.SignatureVerifier
	dispatcher   *notify.Dispatcher
	rosterBuffer int
	logger       *slog.Logger
	clock        func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

func WithClock(clock func() time.Time) Option {
	return func(c *Collector) { c.clock = clock }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.logger = l.With("component", "signature_collector") }
}

// WithRosterBuffer overrides how many extra guardians are asked.
func WithRosterBuffer(n int) Option {
	return func(c *Collector) {
		if n >= 0 {
			c.rosterBuffer = n
		}
	}
}

// NewCollector creates a collector.
func NewCollector(roster RosterSource, verifier crypto.SignatureVerifier, dispatcher *notify.Dispatcher, opts ...Option) *Collector {
	c := &Collector{
		entries:      make(map[string]*entry),
		roster:       roster,
		verifier:     verifier,
		dispatcher:   dispatcher,
		rosterBuffer: DefaultRosterBuffer,
		logger:       slog.Default().With("component", "signature_collector"),
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collector) get(executionID string) (*entry, error) {
	c.mu.Lock()
	e, ok := c.entries[executionID]
	c.mu.Unlock()
	if !ok {
		return nil, contracts.WrapError(contracts.KindNotFound, contracts.StepSignatureCollection, ErrCollectionNotFound, "execution %s", executionID)
	}
	return e, nil
}

// Initialize creates a PENDING collection and arms its expiry timer.
func (c *Collector) Initialize(_ context.Context, req InitRequest) (contracts.SignatureCollection, error) {
	if req.ExecutionID == "" {
		return contracts.SignatureCollection{}, contracts.NewError(contracts.KindValidation, contracts.StepSignatureCollection, "execution id is required")
	}
	if req.Required < 1 {
		return contracts.SignatureCollection{}, contracts.NewError(contracts.KindValidation, contracts.StepSignatureCollection, "required signatures must be at least 1, got %d", req.Required)
	}
	if req.Timelock <= 0 {
		return contracts.SignatureCollection{}, contracts.NewError(contracts.KindValidation, contracts.StepSignatureCollection, "timelock must be positive")
	}

	message, digest, err := crypto.ApprovalDigest(req.ExecutionID, req.EmergencyID, req.Recipient, req.Amount)
	if err != nil {
		return contracts.SignatureCollection{}, fmt.Errorf("approval digest: %w", err)
	}

	now := c.clock()
	e := &entry{
		col: contracts.SignatureCollection{
			CollectionID: "col_" + uuid.New().String(),
			ExecutionID:  req.ExecutionID,
			EmergencyID:  req.EmergencyID,
			Required:     req.Required,
			Signatures:   []contracts.GuardianSignature{},
			Status:       contracts.SignaturePending,
			CreatedAt:    now,
			ExpiresAt:    now.Add(req.Timelock),
			Message:      message,
			Digest:       digest,
		},
		priority: req.Priority,
		amount:   req.Amount,
		target:   req.Recipient,
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	if _, exists := c.entries[req.ExecutionID]; exists {
		c.mu.Unlock()
		return contracts.SignatureCollection{}, contracts.WrapError(contracts.KindConflict, contracts.StepSignatureCollection, ErrCollectionExists, "execution %s", req.ExecutionID)
	}
	c.entries[req.ExecutionID] = e
	e.mu.Lock()
	e.timer = time.AfterFunc(req.Timelock, func() { c.expire(req.ExecutionID, true) })
	snap := e.col.Clone()
	e.mu.Unlock()
	c.mu.Unlock()

	c.logger.Info("signature collection initialized",
		"execution_id", req.ExecutionID,
		"required", req.Required,
		"expires_at", snap.ExpiresAt,
	)
	return snap, nil
}

// Start selects the roster and fans out signature requests. Delivery is
// fire-and-forget; outcomes are recorded on the collection as they arrive,
// unless it has already closed.
func (c *Collector) Start(ctx context.Context, executionID string) (contracts.SignatureCollection, error) {
	e, err := c.get(executionID)
	if err != nil {
		return contracts.SignatureCollection{}, err
	}

	e.mu.Lock()
	if e.col.Status != contracts.SignaturePending {
		st := e.col.Status
		e.mu.Unlock()
		return contracts.SignatureCollection{}, contracts.WrapError(contracts.KindConflict, contracts.StepSignatureCollection, ErrCollectionClosed, "cannot start collection in status %s", st)
	}

	guardians := c.roster.Select(e.col.Required + c.rosterBuffer)
	if len(guardians) < e.col.Required {
		e.finishLocked(contracts.SignatureFailed, ErrInsufficientRoster.Error(), c.clock())
		e.mu.Unlock()
		return contracts.SignatureCollection{}, contracts.WrapError(contracts.KindValidation, contracts.StepSignatureCollection, ErrInsufficientRoster, "have %d, need %d", len(guardians), e.col.Required)
	}

	targets := make([]notify.Target, 0, len(guardians))
	roster := make([]string, 0, len(guardians))
	for _, g := range guardians {
		roster = append(roster, g.ID)
		ch := contracts.ChannelEmail
		if len(g.Channels) > 0 {
			ch = g.Channels[0]
		}
		targets = append(targets, notify.Target{GuardianID: g.ID, Channel: ch})
	}
	e.col.Roster = roster
	e.col.Status = contracts.SignatureInProgress
	payload := notify.Payload{
		Kind:        notify.KindSignatureRequest,
		ExecutionID: e.col.ExecutionID,
		EmergencyID: e.col.EmergencyID,
		Priority:    e.priority,
		Message:     e.col.Message,
		Digest:      e.col.Digest,
		Amount:      e.amount,
		Recipient:   e.target,
		ExpiresAt:   e.col.ExpiresAt,
	}
	snap := e.col.Clone()
	e.mu.Unlock()

	c.logger.InfoContext(ctx, "signature collection started", "execution_id", executionID, "roster", roster)

	if c.dispatcher != nil {
		c.dispatcher.DispatchAsync(context.WithoutCancel(ctx), targets, payload, func(recs []contracts.NotificationRecord) {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.col.Status.Terminal() {
				return
			}
			e.col.Notifications = append(e.col.Notifications, recs...)
		})
	}
	return snap, nil
}

// Submit records a guardian signature after verifying it against the
// collection digest. The first verified signatures win; once the quorum is
// met the collection is closed and later submissions are rejected.
func (c *Collector) Submit(ctx context.Context, executionID, guardianID, signature string, scheme contracts.SignatureScheme) (contracts.SignatureCollection, error) {
	e, err := c.get(executionID)
	if err != nil {
		return contracts.SignatureCollection{}, err
	}

	e.mu.Lock()
	if err := c.acceptingLocked(e, guardianID); err != nil {
		e.mu.Unlock()
		return contracts.SignatureCollection{}, err
	}
	digest := e.col.Digest
	e.mu.Unlock()

	ok, verr := c.verifier.Verify(ctx, guardianID, signature, scheme, digest)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := c.acceptingLocked(e, guardianID); err != nil {
		return contracts.SignatureCollection{}, err
	}
	now := c.clock()
	if verr != nil || !ok {
		e.col.Rejected++
		cause := ErrInvalidSignature
		if verr != nil {
			cause = fmt.Errorf("%w: %v", ErrInvalidSignature, verr)
		}
		c.logger.WarnContext(ctx, "signature rejected",
			"execution_id", executionID,
			"guardian_id", guardianID,
			"rejected", e.col.Rejected,
		)
		return contracts.SignatureCollection{}, contracts.WrapError(contracts.KindVerification, contracts.StepSignatureCollection, cause, "guardian %s", guardianID)
	}

	e.col.Signatures = append(e.col.Signatures, contracts.GuardianSignature{
		GuardianID: guardianID,
		Signature:  signature,
		Scheme:     scheme,
		SignedAt:   now,
		Digest:     digest,
		Verified:   true,
	})
	c.logger.InfoContext(ctx, "signature accepted",
		"execution_id", executionID,
		"guardian_id", guardianID,
		"collected", e.col.CollectedCount(),
		"required", e.col.Required,
	)
	if e.col.QuorumMet() {
		e.finishLocked(contracts.SignatureCompleted, "quorum reached", now)
		c.logger.InfoContext(ctx, "signature quorum reached", "execution_id", executionID)
	}
	return e.col.Clone(), nil
}

// acceptingLocked checks whether guardianID may submit now. An elapsed
// window is expired on the spot.
func (c *Collector) acceptingLocked(e *entry, guardianID string) error {
	id := e.col.ExecutionID
	if e.col.Status == contracts.SignatureInProgress && e.col.ExpiredAt(c.clock()) {
		c.expireLocked(e)
	}
	switch {
	case e.col.Status == contracts.SignatureExpired:
		return contracts.WrapError(contracts.KindQuorumTimeout, contracts.StepSignatureCollection, ErrCollectionExpired, "execution %s", id)
	case e.col.Status != contracts.SignatureInProgress:
		return contracts.WrapError(contracts.KindConflict, contracts.StepSignatureCollection, ErrCollectionClosed, "execution %s is %s", id, e.col.Status)
	case !e.col.OnRoster(guardianID):
		return contracts.WrapError(contracts.KindValidation, contracts.StepSignatureCollection, ErrNotOnRoster, "guardian %s", guardianID)
	case e.col.HasGuardian(guardianID):
		return contracts.WrapError(contracts.KindConflict, contracts.StepSignatureCollection, ErrDuplicateSignature, "guardian %s", guardianID)
	}
	return nil
}

func (c *Collector) expireLocked(e *entry) bool {
	if !e.finishLocked(contracts.SignatureExpired, "approval window elapsed", c.clock()) {
		return false
	}
	c.logger.Warn("signature collection expired",
		"execution_id", e.col.ExecutionID,
		"collected", e.col.CollectedCount(),
		"required", e.col.Required,
	)
	return true
}

// expire is shared by the timer and CheckExpirations. force skips the clock
// check for the timer, whose own duration is authoritative.
func (c *Collector) expire(executionID string, force bool) bool {
	c.mu.Lock()
	e, ok := c.entries[executionID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !force && !e.col.ExpiredAt(c.clock()) {
		return false
	}
	return c.expireLocked(e)
}

// Expire closes an active collection as expired regardless of the clock.
func (c *Collector) Expire(executionID string) bool {
	return c.expire(executionID, true)
}

// CheckExpirations expires every due collection and returns how many changed.
func (c *Collector) CheckExpirations() int {
	c.mu.Lock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	n := 0
	for _, id := range ids {
		if c.expire(id, false) {
			n++
		}
	}
	return n
}

// Status returns a snapshot of the collection.
func (c *Collector) Status(executionID string) (contracts.SignatureCollection, error) {
	e, err := c.get(executionID)
	if err != nil {
		return contracts.SignatureCollection{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.col.Clone(), nil
}

// Signatures returns the verified signatures.
func (c *Collector) Signatures(executionID string) ([]contracts.GuardianSignature, error) {
	e, err := c.get(executionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]contracts.GuardianSignature, 0, len(e.col.Signatures))
	for _, s := range e.col.Signatures {
		if s.Verified {
			out = append(out, s)
		}
	}
	return out, nil
}

// Cancel closes a non-terminal collection. It reports whether anything changed.
func (c *Collector) Cancel(executionID, reason string) bool {
	e, err := c.get(executionID)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.finishLocked(contracts.SignatureCancelled, reason, c.clock()) {
		return false
	}
	c.logger.Info("signature collection cancelled", "execution_id", executionID, "reason", reason)
	return true
}

// Wait blocks until the collection is terminal or ctx ends. A ctx deadline
// is reported as a quorum timeout.
func (c *Collector) Wait(ctx context.Context, executionID string) (contracts.SignatureCollection, error) {
	e, err := c.get(executionID)
	if err != nil {
		return contracts.SignatureCollection{}, err
	}
	select {
	case <-e.done:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.col.Clone(), nil
	case <-ctx.Done():
		e.mu.Lock()
		snap := e.col.Clone()
		e.mu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return snap, contracts.WrapError(contracts.KindQuorumTimeout, contracts.StepSignatureCollection, ctx.Err(),
				"collected %d of %d signatures", snap.CollectedCount(), snap.Required)
		}
		return snap, contracts.WrapError(contracts.KindCancelled, contracts.StepSignatureCollection, ctx.Err(), "wait aborted")
	}
}

// Release drops a collection and its timer.
func (c *Collector) Release(executionID string) {
	c.mu.Lock()
	e, ok := c.entries[executionID]
	delete(c.entries, executionID)
	c.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()
}

// Summary counts collections by status.
type Summary struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Expired   int `json:"expired"`
	Cancelled int `json:"cancelled"`
}

// Summary reports counts over the live collections.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	var s Summary
	for _, e := range entries {
		e.mu.Lock()
		st := e.col.Status
		e.mu.Unlock()
		s.Total++
		switch st {
		case contracts.SignaturePending, contracts.SignatureInProgress:
			s.Active++
		case contracts.SignatureCompleted:
			s.Completed++
		case contracts.SignatureFailed:
			s.Failed++
		case contracts.SignatureExpired:
			s.Expired++
		case contracts.SignatureCancelled:
			s.Cancelled++
		}
	}
	return s
}
