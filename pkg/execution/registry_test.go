package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

type failingSnapshots struct{ calls int }

func (f *failingSnapshots) SavePlan(context.Context, contracts.ExecutionPlan) error {
	f.calls++
	return errors.New("disk full")
}

func pendingPlan(id string, created time.Time) contracts.ExecutionPlan {
	return contracts.ExecutionPlan{
		ExecutionID: id,
		EmergencyID: "em_" + id,
		Steps:       []contracts.WorkflowStep{{StepID: "s1", Kind: "verification"}},
		Signers:     []string{"g1"},
		CreatedAt:   created,
		Status:      contracts.ExecutionPending,
		Phase:       contracts.PhasePreparation,
	}
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, pendingPlan("a", time.Now())))

	err := r.Create(ctx, pendingPlan("a", time.Now()))
	assert.ErrorIs(t, err, ErrPlanExists)
	assert.ErrorIs(t, err, contracts.ErrConflict)

	bad := pendingPlan("b", time.Now())
	bad.Phase = contracts.PhaseSettlement
	assert.ErrorIs(t, r.Create(ctx, bad), ErrInvalidState)

	got, err := r.Get("a")
	require.NoError(t, err)
	got.Signers[0] = "mutated"
	got.Steps[0].StepID = "mutated"
	again, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "g1", again.Signers[0])
	assert.Equal(t, "s1", again.Steps[0].StepID)
}

func TestRegistry_UpdateRejectsInvalidState(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, pendingPlan("a", time.Now())))

	_, err := r.Update(ctx, "a", func(p *contracts.ExecutionPlan) error {
		p.Status = contracts.ExecutionExecuting
		return nil
	})
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, contracts.ExecutionPending, got.Status)
}

func TestRegistry_UpdateFnErrorLeavesPlan(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, pendingPlan("a", time.Now())))

	boom := errors.New("boom")
	_, err := r.Update(ctx, "a", func(p *contracts.ExecutionPlan) error {
		p.Recipient = "changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, _ := r.Get("a")
	assert.Empty(t, got.Recipient)
}

func TestRegistry_TerminalPlansAreImmutable(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, pendingPlan("a", time.Now())))
	_, err := r.Update(ctx, "a", func(p *contracts.ExecutionPlan) error {
		p.Status = contracts.ExecutionCancelled
		return nil
	})
	require.NoError(t, err)

	_, err = r.Update(ctx, "a", func(p *contracts.ExecutionPlan) error {
		p.Status = contracts.ExecutionPending
		return nil
	})
	assert.ErrorIs(t, err, ErrPlanTerminal)
}

func TestRegistry_SnapshotFailureIsNotFatal(t *testing.T) {
	snaps := &failingSnapshots{}
	r := NewRegistry(snaps)
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, pendingPlan("a", time.Now())))
	_, err := r.Update(ctx, "a", func(p *contracts.ExecutionPlan) error {
		p.Status = contracts.ExecutionInProgress
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, snaps.calls)
}

func TestRegistry_ClaimOnce(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Create(context.Background(), pendingPlan("a", time.Now())))

	cancelled := false
	require.NoError(t, r.claim("a", func() { cancelled = true }))
	assert.ErrorIs(t, r.claim("a", func() {}), ErrAlreadyRunning)

	r.abort("a")
	assert.True(t, cancelled)
	r.release("a")
	assert.NoError(t, r.claim("a", func() {}))
}

func TestRegistry_ListAndSweep(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry(nil)
	r.clock = func() time.Time { return base }
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, pendingPlan("late", base.Add(time.Minute))))
	require.NoError(t, r.Create(ctx, pendingPlan("early", base)))
	require.NoError(t, r.Create(ctx, pendingPlan("running", base.Add(2*time.Minute))))

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "early", list[0].ExecutionID)
	assert.Equal(t, "late", list[1].ExecutionID)

	for _, id := range []string{"early", "running"} {
		_, err := r.Update(ctx, id, func(p *contracts.ExecutionPlan) error {
			p.Status = contracts.ExecutionFailed
			return nil
		})
		require.NoError(t, err)
	}
	rec, err := r.lookup("running")
	require.NoError(t, err)
	rec.running = true

	assert.Equal(t, map[contracts.ExecutionStatus]int{
		contracts.ExecutionPending: 1,
		contracts.ExecutionFailed:  2,
	}, r.Counts())

	swept := r.Sweep(base.Add(48*time.Hour), 24*time.Hour)
	assert.Equal(t, []string{"early"}, swept)
	assert.Len(t, r.List(), 2)
}
