package signature

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
	"github.com/Mindburn-Labs/helm-guardian/pkg/crypto"
	"github.com/Mindburn-Labs/helm-guardian/pkg/notify"
	"github.com/Mindburn-Labs/helm-guardian/pkg/roster"
)

type fixture struct {
	collector *Collector
	signers   map[string]*crypto.Ed25519Signer
	notifier  *countingNotifier
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Notify(context.Context, string, contracts.Channel, notify.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return nil
}

func newFixture(t *testing.T, guardians int, opts ...Option) *fixture {
	t.Helper()
	dir, err := roster.NewDirectory()
	require.NoError(t, err)
	signers := make(map[string]*crypto.Ed25519Signer)
	for i := 1; i <= guardians; i++ {
		id := fmt.Sprintf("g%d", i)
		s, err := crypto.NewEd25519Signer(id)
		require.NoError(t, err)
		signers[id] = s
		require.NoError(t, dir.Add(contracts.Guardian{ID: id, PublicKey: s.PublicKey()}))
	}
	reg := crypto.NewSchemeRegistry()
	reg.Register(contracts.SchemeEd25519, crypto.NewEd25519Verifier(dir))
	n := &countingNotifier{}
	return &fixture{
		collector: NewCollector(dir, reg, notify.NewDispatcher(n), opts...),
		signers:   signers,
		notifier:  n,
	}
}

func (f *fixture) sign(t *testing.T, executionID, guardianID string) string {
	t.Helper()
	col, err := f.collector.Status(executionID)
	require.NoError(t, err)
	sig, err := f.signers[guardianID].SignDigest(col.Digest)
	require.NoError(t, err)
	return sig
}

func initStarted(t *testing.T, f *fixture, id string, required int, timelock time.Duration) {
	t.Helper()
	_, err := f.collector.Initialize(context.Background(), InitRequest{
		ExecutionID: id, EmergencyID: "em_" + id, Recipient: "clinic",
		Amount: contracts.NewMoney(5000, "USD"), Required: required, Timelock: timelock,
	})
	require.NoError(t, err)
	_, err = f.collector.Start(context.Background(), id)
	require.NoError(t, err)
}

func TestCollector_QuorumReached(t *testing.T) {
	f := newFixture(t, 5)
	initStarted(t, f, "exec_1", 2, time.Hour)
	ctx := context.Background()

	col, err := f.collector.Status("exec_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2", "g3", "g4"}, col.Roster)
	assert.Equal(t, contracts.SignatureInProgress, col.Status)

	col, err = f.collector.Submit(ctx, "exec_1", "g1", f.sign(t, "exec_1", "g1"), contracts.SchemeEd25519)
	require.NoError(t, err)
	assert.Equal(t, contracts.SignatureInProgress, col.Status)

	col, err = f.collector.Submit(ctx, "exec_1", "g3", f.sign(t, "exec_1", "g3"), contracts.SchemeEd25519)
	require.NoError(t, err)
	assert.Equal(t, contracts.SignatureCompleted, col.Status)
	assert.Equal(t, 2, col.CollectedCount())

	// Closed: a third valid signature is refused and state does not change.
	_, err = f.collector.Submit(ctx, "exec_1", "g2", f.sign(t, "exec_1", "g2"), contracts.SchemeEd25519)
	assert.ErrorIs(t, err, ErrCollectionClosed)
	sigs, err := f.collector.Signatures("exec_1")
	require.NoError(t, err)
	assert.Len(t, sigs, 2)

	got, err := f.collector.Wait(ctx, "exec_1")
	require.NoError(t, err)
	assert.Equal(t, contracts.SignatureCompleted, got.Status)
}

func TestCollector_Rejections(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()
	_, err := f.collector.Initialize(ctx, InitRequest{ExecutionID: "exec_1", Required: 2, Timelock: time.Hour, Amount: contracts.NewMoney(1, "USD")})
	require.NoError(t, err)

	// Pending collections do not accept signatures.
	_, err = f.collector.Submit(ctx, "exec_1", "g1", "00", contracts.SchemeEd25519)
	assert.ErrorIs(t, err, ErrCollectionClosed)

	_, err = f.collector.Start(ctx, "exec_1")
	require.NoError(t, err)

	t.Run("unknown execution", func(t *testing.T) {
		_, err := f.collector.Submit(ctx, "nope", "g1", "00", contracts.SchemeEd25519)
		assert.ErrorIs(t, err, ErrCollectionNotFound)
		assert.True(t, errors.Is(err, contracts.ErrNotFound))
	})
	t.Run("off roster guardian", func(t *testing.T) {
		_, err := f.collector.Submit(ctx, "exec_1", "g6", f.sign(t, "exec_1", "g6"), contracts.SchemeEd25519)
		assert.ErrorIs(t, err, ErrNotOnRoster)
	})
	t.Run("bad signature", func(t *testing.T) {
		_, err := f.collector.Submit(ctx, "exec_1", "g1", f.sign(t, "exec_1", "g2"), contracts.SchemeEd25519)
		assert.ErrorIs(t, err, ErrInvalidSignature)
		assert.Equal(t, contracts.KindVerification, contracts.KindOf(err))
		col, _ := f.collector.Status("exec_1")
		assert.Equal(t, 0, col.CollectedCount())
	})
	t.Run("duplicate guardian", func(t *testing.T) {
		sig := f.sign(t, "exec_1", "g1")
		_, err := f.collector.Submit(ctx, "exec_1", "g1", sig, contracts.SchemeEd25519)
		require.NoError(t, err)
		_, err = f.collector.Submit(ctx, "exec_1", "g1", sig, contracts.SchemeEd25519)
		assert.ErrorIs(t, err, ErrDuplicateSignature)
		col, _ := f.collector.Status("exec_1")
		assert.Equal(t, 1, col.CollectedCount())
	})
	t.Run("start twice", func(t *testing.T) {
		_, err := f.collector.Start(ctx, "exec_1")
		assert.ErrorIs(t, err, ErrCollectionClosed)
	})
}

func TestCollector_RejectedSignaturesAreNotStored(t *testing.T) {
	f := newFixture(t, 4)
	initStarted(t, f, "exec_1", 2, time.Hour)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		_, err := f.collector.Submit(ctx, "exec_1", "g1", "00", contracts.SchemeEd25519)
		require.ErrorIs(t, err, ErrInvalidSignature)
	}
	col, err := f.collector.Status("exec_1")
	require.NoError(t, err)
	assert.Empty(t, col.Signatures)
	assert.Equal(t, 200, col.Rejected)
	assert.Equal(t, contracts.SignatureInProgress, col.Status)

	// The guardian can still sign correctly afterwards.
	col, err = f.collector.Submit(ctx, "exec_1", "g1", f.sign(t, "exec_1", "g1"), contracts.SchemeEd25519)
	require.NoError(t, err)
	require.Len(t, col.Signatures, 1)
	assert.True(t, col.Signatures[0].Verified)
}

func TestCollector_InitializeValidation(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	_, err := f.collector.Initialize(ctx, InitRequest{ExecutionID: "x", Required: 0, Timelock: time.Hour})
	assert.True(t, errors.Is(err, contracts.ErrValidation))
	_, err = f.collector.Initialize(ctx, InitRequest{ExecutionID: "x", Required: 1})
	assert.True(t, errors.Is(err, contracts.ErrValidation))

	_, err = f.collector.Initialize(ctx, InitRequest{ExecutionID: "x", Required: 1, Timelock: time.Hour})
	require.NoError(t, err)
	_, err = f.collector.Initialize(ctx, InitRequest{ExecutionID: "x", Required: 1, Timelock: time.Hour})
	assert.ErrorIs(t, err, ErrCollectionExists)
}

func TestCollector_InsufficientRoster(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	_, err := f.collector.Initialize(ctx, InitRequest{ExecutionID: "x", Required: 2, Timelock: time.Hour})
	require.NoError(t, err)
	_, err = f.collector.Start(ctx, "x")
	assert.ErrorIs(t, err, ErrInsufficientRoster)
	col, _ := f.collector.Status("x")
	assert.Equal(t, contracts.SignatureFailed, col.Status)
}

func TestCollector_TimerExpiry(t *testing.T) {
	f := newFixture(t, 3)
	initStarted(t, f, "exec_1", 3, 30*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	col, err := f.collector.Wait(ctx, "exec_1")
	require.NoError(t, err)
	assert.Equal(t, contracts.SignatureExpired, col.Status)

	_, err = f.collector.Submit(context.Background(), "exec_1", "g1", f.sign(t, "exec_1", "g1"), contracts.SchemeEd25519)
	assert.ErrorIs(t, err, ErrCollectionExpired)
	assert.Equal(t, contracts.KindQuorumTimeout, contracts.KindOf(err))
}

func TestCollector_CheckExpirationsWithClock(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	f := newFixture(t, 3, WithClock(clock))
	initStarted(t, f, "exec_1", 2, time.Hour)

	assert.Equal(t, 0, f.collector.CheckExpirations())

	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()

	assert.Equal(t, 1, f.collector.CheckExpirations())
	// Exactly once.
	assert.Equal(t, 0, f.collector.CheckExpirations())
	col, _ := f.collector.Status("exec_1")
	assert.Equal(t, contracts.SignatureExpired, col.Status)
}

func TestCollector_ExpiryRacesConcurrentSubmissions(t *testing.T) {
	const (
		required = 3
		rounds   = 20
	)
	for round := 0; round < rounds; round++ {
		f := newFixture(t, required+DefaultRosterBuffer)
		id := fmt.Sprintf("exec_%d", round)
		timelock := 15 * time.Millisecond
		initStarted(t, f, id, required, timelock)

		col, err := f.collector.Status(id)
		require.NoError(t, err)
		sigs := make(map[string]string, len(col.Roster))
		for _, g := range col.Roster {
			sigs[g] = f.sign(t, id, g)
		}

		type accepted struct {
			guardian string
			status   contracts.SignatureStatus
		}
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			oks  []accepted
			stop = make(chan struct{})
		)
		// Sweeps race the timer for the same transition.
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					f.collector.CheckExpirations()
					time.Sleep(100 * time.Microsecond)
				}
			}
		}()

		var submitters sync.WaitGroup
		i := 0
		for g, sig := range sigs {
			submitters.Add(1)
			// Spread submissions across the expiry boundary.
			delay := time.Duration(i*4) * time.Millisecond
			i++
			go func(g, sig string) {
				defer submitters.Done()
				time.Sleep(delay)
				got, err := f.collector.Submit(context.Background(), id, g, sig, contracts.SchemeEd25519)
				if err != nil {
					assert.True(t,
						errors.Is(err, ErrCollectionExpired) || errors.Is(err, ErrCollectionClosed),
						"unexpected rejection: %v", err)
					return
				}
				mu.Lock()
				oks = append(oks, accepted{guardian: g, status: got.Status})
				mu.Unlock()
			}(g, sig)
		}
		submitters.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		final, err := f.collector.Wait(ctx, id)
		cancel()
		close(stop)
		wg.Wait()
		require.NoError(t, err)

		// A terminal status is never replaced.
		assert.False(t, f.collector.Expire(id))
		assert.Zero(t, f.collector.CheckExpirations())
		again, err := f.collector.Status(id)
		require.NoError(t, err)
		assert.Equal(t, final.Status, again.Status)
		assert.Equal(t, final.ClosedAt, again.ClosedAt)

		assert.Len(t, oks, final.CollectedCount(), "every accepted submission is recorded")
		for _, ok := range oks {
			assert.NotEqual(t, contracts.SignatureExpired, ok.status)
		}
		switch final.Status {
		case contracts.SignatureExpired:
			assert.Less(t, final.CollectedCount(), required)
			for _, s := range final.Signatures {
				assert.False(t, s.SignedAt.After(final.ClosedAt), "signature accepted after expiry")
			}
		case contracts.SignatureCompleted:
			assert.Equal(t, required, final.CollectedCount())
		default:
			t.Fatalf("unexpected terminal status %s", final.Status)
		}
	}
}

func TestCollector_WaitDeadline(t *testing.T) {
	f := newFixture(t, 3)
	initStarted(t, f, "exec_1", 2, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.collector.Wait(ctx, "exec_1")
	assert.True(t, errors.Is(err, contracts.ErrQuorumTimeout))
}

func TestCollector_Cancel(t *testing.T) {
	f := newFixture(t, 3)
	initStarted(t, f, "exec_1", 2, time.Hour)

	assert.True(t, f.collector.Cancel("exec_1", "principal withdrew"))
	assert.False(t, f.collector.Cancel("exec_1", "again"))
	assert.False(t, f.collector.Cancel("missing", "x"))

	col, _ := f.collector.Status("exec_1")
	assert.Equal(t, contracts.SignatureCancelled, col.Status)
	assert.Equal(t, "principal withdrew", col.CloseReason)

	_, err := f.collector.Submit(context.Background(), "exec_1", "g1", f.sign(t, "exec_1", "g1"), contracts.SchemeEd25519)
	assert.ErrorIs(t, err, ErrCollectionClosed)
}

func TestCollector_ConcurrentSubmitsFirstWins(t *testing.T) {
	f := newFixture(t, 5)
	initStarted(t, f, "exec_1", 2, time.Hour)
	ctx := context.Background()

	sigs := map[string]string{}
	for _, g := range []string{"g1", "g2", "g3", "g4"} {
		sigs[g] = f.sign(t, "exec_1", g)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for g, s := range sigs {
		wg.Add(1)
		go func(g, s string) {
			defer wg.Done()
			if _, err := f.collector.Submit(ctx, "exec_1", g, s, contracts.SchemeEd25519); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(g, s)
	}
	wg.Wait()

	assert.Equal(t, 2, accepted)
	col, _ := f.collector.Status("exec_1")
	assert.Equal(t, contracts.SignatureCompleted, col.Status)
	assert.Equal(t, 2, col.CollectedCount())
}

func TestCollector_NotificationsRecorded(t *testing.T) {
	f := newFixture(t, 3)
	initStarted(t, f, "exec_1", 1, time.Hour)

	require.Eventually(t, func() bool {
		col, _ := f.collector.Status("exec_1")
		return len(col.Notifications) == 3
	}, 2*time.Second, 10*time.Millisecond)
}

type gatedNotifier struct {
	release chan struct{}
}

func (n *gatedNotifier) Notify(ctx context.Context, _ string, _ contracts.Channel, _ notify.Payload) error {
	select {
	case <-n.release:
	case <-ctx.Done():
	}
	return nil
}

func TestCollector_NoDeliveryRecordsAfterClose(t *testing.T) {
	dir, err := roster.NewDirectory(
		contracts.Guardian{ID: "g1", PublicKey: "00"},
		contracts.Guardian{ID: "g2", PublicKey: "00"},
	)
	require.NoError(t, err)
	n := &gatedNotifier{release: make(chan struct{})}
	c := NewCollector(dir, crypto.NewSchemeRegistry(), notify.NewDispatcher(n))

	ctx := context.Background()
	_, err = c.Initialize(ctx, InitRequest{ExecutionID: "exec_1", Required: 1, Timelock: time.Hour, Amount: contracts.NewMoney(1, "USD")})
	require.NoError(t, err)
	_, err = c.Start(ctx, "exec_1")
	require.NoError(t, err)

	require.True(t, c.Cancel("exec_1", "withdrawn"))
	close(n.release)

	assert.Never(t, func() bool {
		col, _ := c.Status("exec_1")
		return len(col.Notifications) > 0
	}, 150*time.Millisecond, 10*time.Millisecond)
}

func TestCollector_SummaryAndRelease(t *testing.T) {
	f := newFixture(t, 3)
	initStarted(t, f, "a", 1, time.Hour)
	initStarted(t, f, "b", 1, time.Hour)
	f.collector.Cancel("b", "test")

	s := f.collector.Summary()
	assert.Equal(t, Summary{Total: 2, Active: 1, Cancelled: 1}, s)

	f.collector.Release("b")
	_, err := f.collector.Status("b")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
	assert.Equal(t, 1, f.collector.Summary().Total)
}
