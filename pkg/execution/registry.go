package execution

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

var (
	ErrPlanNotFound    = errors.New("execution plan not found")
	ErrPlanExists      = errors.New("execution plan already exists")
	ErrPlanTerminal    = errors.New("execution plan is terminal")
	ErrInvalidState    = errors.New("invalid status/phase combination")
	ErrAlreadyRunning  = errors.New("execution already running")
	errTransitionAbort = errors.New("transition refused")
)

// Snapshotter persists committed plan transitions.
type Snapshotter interface {
	SavePlan(ctx context.Context, plan contracts.ExecutionPlan) error
}

type record struct {
	mu      sync.Mutex
	plan    contracts.ExecutionPlan
	running bool
	cancel  context.CancelFunc
}

// Registry owns every execution plan. Mutations of one plan are serialized
// by that plan's mutex; the map lock is never held while a plan is mutated.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record

	snapshots Snapshotter
	clock     func() time.Time
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. snapshots may be nil.
func NewRegistry(snapshots Snapshotter) *Registry {
	return &Registry{
		records:   make(map[string]*record),
		snapshots: snapshots,
		clock:     time.Now,
		logger:    slog.Default().With("component", "execution_registry"),
	}
}

func (r *Registry) lookup(id string) (*record, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, contracts.WrapError(contracts.KindNotFound, "", ErrPlanNotFound, "execution %s", id)
	}
	return rec, nil
}

// Create stores a new plan.
func (r *Registry) Create(ctx context.Context, plan contracts.ExecutionPlan) error {
	if !contracts.ValidState(plan.Status, plan.Phase) {
		return contracts.WrapError(contracts.KindValidation, contracts.StepPreparation, ErrInvalidState,
			"%s/%s", plan.Status, plan.Phase)
	}
	r.mu.Lock()
	if _, exists := r.records[plan.ExecutionID]; exists {
		r.mu.Unlock()
		return contracts.WrapError(contracts.KindConflict, "", ErrPlanExists, "execution %s", plan.ExecutionID)
	}
	rec := &record{plan: plan.Clone()}
	r.records[plan.ExecutionID] = rec
	r.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	r.persistLocked(ctx, rec)
	return nil
}

// Get returns a snapshot of the plan.
func (r *Registry) Get(id string) (contracts.ExecutionPlan, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return contracts.ExecutionPlan{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.plan.Clone(), nil
}

// Update applies fn to a working copy of the plan and commits it if fn
// returns nil and the result is a valid state. Terminal plans are immutable.
func (r *Registry) Update(ctx context.Context, id string, fn func(p *contracts.ExecutionPlan) error) (contracts.ExecutionPlan, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return contracts.ExecutionPlan{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.plan.Status.Terminal() {
		return rec.plan.Clone(), contracts.WrapError(contracts.KindConflict, "", ErrPlanTerminal,
			"execution %s is %s", id, rec.plan.Status)
	}
	next := rec.plan.Clone()
	if err := fn(&next); err != nil {
		return rec.plan.Clone(), err
	}
	if !contracts.ValidState(next.Status, next.Phase) {
		return rec.plan.Clone(), contracts.WrapError(contracts.KindValidation, "", ErrInvalidState,
			"%s/%s", next.Status, next.Phase)
	}
	next.UpdatedAt = r.clock()
	rec.plan = next
	r.persistLocked(ctx, rec)
	return next.Clone(), nil
}

func (r *Registry) persistLocked(ctx context.Context, rec *record) {
	if r.snapshots == nil {
		return
	}
	if err := r.snapshots.SavePlan(ctx, rec.plan.Clone()); err != nil {
		r.logger.WarnContext(ctx, "plan snapshot failed", "execution_id", rec.plan.ExecutionID, "error", err)
	}
}

// claim marks the plan as running so Execute cannot be entered twice.
func (r *Registry) claim(id string, cancel context.CancelFunc) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.running {
		return contracts.WrapError(contracts.KindConflict, "", ErrAlreadyRunning, "execution %s", id)
	}
	if rec.plan.Status != contracts.ExecutionPending {
		return contracts.NewError(contracts.KindConflict, "", "execution %s is %s, not %s",
			id, rec.plan.Status, contracts.ExecutionPending)
	}
	rec.running = true
	rec.cancel = cancel
	return nil
}

func (r *Registry) release(id string) {
	rec, err := r.lookup(id)
	if err != nil {
		return
	}
	rec.mu.Lock()
	rec.running = false
	rec.cancel = nil
	rec.mu.Unlock()
}

// abort cancels the running Execute of id, if any.
func (r *Registry) abort(id string) {
	rec, err := r.lookup(id)
	if err != nil {
		return
	}
	rec.mu.Lock()
	cancel := rec.cancel
	rec.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// List returns snapshots ordered by creation time.
func (r *Registry) List() []contracts.ExecutionPlan {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]contracts.ExecutionPlan, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.plan.Clone())
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ExecutionID < out[j].ExecutionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Counts returns the number of plans per status.
func (r *Registry) Counts() map[contracts.ExecutionStatus]int {
	counts := make(map[contracts.ExecutionStatus]int)
	for _, p := range r.List() {
		counts[p.Status]++
	}
	return counts
}

// Sweep drops terminal plans last updated before now-retention and returns
// their ids.
func (r *Registry) Sweep(now time.Time, retention time.Duration) []string {
	cutoff := now.Add(-retention)
	r.mu.Lock()
	defer r.mu.Unlock()

	var swept []string
	for id, rec := range r.records {
		rec.mu.Lock()
		drop := rec.plan.Status.Terminal() && !rec.running && rec.plan.UpdatedAt.Before(cutoff)
		rec.mu.Unlock()
		if drop {
			delete(r.records, id)
			swept = append(swept, id)
		}
	}
	sort.Strings(swept)
	return swept
}
