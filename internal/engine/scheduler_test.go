package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/roach88/listburn/internal/burn"
	"github.com/roach88/listburn/internal/chain"
	"github.com/roach88/listburn/internal/ledger"
	"github.com/roach88/listburn/internal/metrics"
	"github.com/roach88/listburn/internal/notify"
	"github.com/roach88/listburn/internal/resolution"
	tu "github.com/roach88/listburn/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testToken = Token{TotalSupply: 1_000_000_000, Decimals: 6}

// 0.5% of 1e9 tokens at 6 decimals
const aliceAmount uint64 = 5_000_000_000_000

type harness struct {
	clock    *tu.ManualClock
	store    *ledger.Store
	sim      *chain.Simulated
	executor *tu.FlakyExecutor
	sink     *tu.RecordingSink
	registry *burn.Registry
	metrics  *metrics.Metrics
	promReg  *prometheus.Registry
	sched    *Scheduler
}

type harnessOpts struct {
	requireConfirmation bool
	delay               time.Duration
	balance             uint64
	source              resolution.Source
	path                string
	// executor replaces the flaky simulated executor.
	executor chain.Executor
	// wrapLedger decorates the store the scheduler writes through.
	wrapLedger func(*ledger.Store) Ledger
}

func newTestRegistry(t *testing.T) *burn.Registry {
	t.Helper()
	mk := func(name, slug, pct string, status burn.Status) burn.Target {
		tg, err := burn.NewTarget("cast", name, slug, decimal.RequireFromString(pct), decimal.Zero, status)
		require.NoError(t, err)
		return tg
	}
	reg, err := burn.NewRegistry(burn.Collection{
		Name: "cast",
		Targets: []burn.Target{
			mk("Alice Example", "alice", "0.5", burn.StatusPending),
			mk("Bob Builder", "bob", "0.25", burn.StatusPending),
			mk("Carol Owed", "carol", "1", burn.StatusConfirmed),
		},
	})
	require.NoError(t, err)
	return reg
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	if o.balance == 0 {
		o.balance = 1_000_000_000_000_000
	}
	if o.source == nil {
		o.source = resolution.Static{Names: map[string][]string{"evt-1": {"alice example"}}}
	}
	if o.path == "" {
		o.path = filepath.Join(t.TempDir(), "ledger.db")
	}

	h := &harness{
		clock:    tu.NewManualClock(tu.Epoch),
		sink:     &tu.RecordingSink{},
		registry: newTestRegistry(t),
		promReg:  prometheus.NewRegistry(),
	}
	h.metrics = metrics.New(h.promReg)
	store, err := ledger.Open(o.path, ledger.WithNow(h.clock.Now), ledger.WithLogger(tu.DiscardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	h.store = store

	h.sim = chain.NewSimulated(o.balance, h.clock.Now, tu.DiscardLogger())
	h.executor = tu.NewFlakyExecutor(h.sim)
	var exec chain.Executor = h.executor
	if o.executor != nil {
		exec = o.executor
	}
	var l Ledger = store
	if o.wrapLedger != nil {
		l = o.wrapLedger(store)
	}
	h.sched = NewScheduler(
		SchedulerConfig{
			Token:               testToken,
			Events:              map[string]string{"cast": "evt-1"},
			RequireConfirmation: o.requireConfirmation,
			ExecutionDelay:      o.delay,
		},
		h.registry, l, o.source, exec,
		WithSink(h.sink),
		WithClock(h.clock),
		WithMetrics(h.metrics),
		WithLogger(tu.DiscardLogger()),
	)
	require.NoError(t, h.sched.Restore(context.Background()))
	return h
}

// counter sums every series of the named metric.
func (h *harness) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := h.promReg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

type failingSource struct{}

func (failingSource) FetchConfirmedNames(context.Context, string) ([]string, error) {
	return nil, resolution.ErrUnavailable
}

func TestScheduler_TickDetectsAndExecutesOnce(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	require.NoError(t, h.sched.Tick(ctx))

	assert.Equal(t, []notify.Kind{notify.KindDetected, notify.KindExecuted}, h.sink.Kinds())
	assert.Equal(t, aliceAmount, h.sim.Burned())

	entry, ok, err := h.store.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, burn.StageExecuted, entry.Stage)
	assert.Equal(t, aliceAmount, entry.Amount)
	assert.Equal(t, "simulated_1772366400_alice", entry.TxRef)

	executed := h.sink.Events()[1]
	assert.Equal(t, "5000000", executed.AmountDisplay)
	assert.Equal(t, entry.TxRef, executed.TxRef)

	// The same confirmation on later polls changes nothing.
	h.clock.Advance(time.Minute)
	require.NoError(t, h.sched.Tick(ctx))
	assert.Len(t, h.sink.Events(), 2)
	assert.Equal(t, 1, h.executor.BurnCalls())
	assert.Empty(t, h.sched.Scheduled())
}

func TestScheduler_ExecutionDelay(t *testing.T) {
	h := newHarness(t, harnessOpts{delay: time.Hour})
	ctx := context.Background()

	confirmed, err := h.sched.CheckResolutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice example"}, confirmed)

	scheduled := h.sched.Scheduled()
	require.Len(t, scheduled, 1)
	assert.Equal(t, tu.Epoch.Add(time.Hour), scheduled[0].ScheduledFor)
	assert.Equal(t, burn.StatusConfirmed, scheduled[0].Target.Status)

	done, err := h.sched.ExecuteDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, done)

	h.clock.Advance(time.Hour)
	done, err = h.sched.ExecuteDue(ctx)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.True(t, done[0].Executed)
	assert.Equal(t, burn.StatusExecuted, done[0].Target.Status)
	require.NotNil(t, done[0].Target.ExecutedAt)
}

func TestScheduler_ApprovalFlow(t *testing.T) {
	h := newHarness(t, harnessOpts{requireConfirmation: true})
	ctx := context.Background()

	require.NoError(t, h.sched.Tick(ctx))
	assert.Equal(t, []notify.Kind{notify.KindPendingApproval}, h.sink.Kinds())
	assert.Equal(t, 0, h.executor.BurnCalls())

	pending := h.sched.PendingApprovals()
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].Target.Slug)
	assert.Equal(t, aliceAmount, pending[0].Amount)

	sb, err := h.sched.Approve(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", sb.Target.Slug)
	assert.Empty(t, h.sched.PendingApprovals())

	_, err = h.sched.Approve(ctx, "alice")
	assert.ErrorIs(t, err, burn.ErrNotPending)

	require.NoError(t, h.sched.Tick(ctx))
	assert.Equal(t, []notify.Kind{notify.KindPendingApproval, notify.KindExecuted}, h.sink.Kinds())
	assert.Equal(t, aliceAmount, h.sim.Burned())
}

func TestScheduler_ApproveUnknownChangesNothing(t *testing.T) {
	h := newHarness(t, harnessOpts{requireConfirmation: true})
	ctx := context.Background()

	_, err := h.sched.Approve(ctx, "bob")
	assert.ErrorIs(t, err, burn.ErrNotPending)
	assert.ErrorIs(t, h.sched.Reject(ctx, "bob"), burn.ErrNotPending)

	detected, err := h.store.IsDetected(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, detected)
	assert.Empty(t, h.sink.Events())
}

func TestScheduler_RejectIsFinal(t *testing.T) {
	h := newHarness(t, harnessOpts{requireConfirmation: true})
	ctx := context.Background()

	require.NoError(t, h.sched.Tick(ctx))
	require.NoError(t, h.sched.Reject(ctx, "alice"))
	assert.Equal(t, []notify.Kind{notify.KindPendingApproval, notify.KindRejected}, h.sink.Kinds())

	h.clock.Advance(time.Hour)
	require.NoError(t, h.sched.Tick(ctx))
	assert.Empty(t, h.sched.PendingApprovals())
	assert.Empty(t, h.sched.Scheduled())
	assert.Len(t, h.sink.Events(), 2)
	assert.Equal(t, 0, h.executor.BurnCalls())

	entry, _, err := h.store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, burn.StageRejected, entry.Stage)
}

func TestScheduler_RestoreAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	first := newHarness(t, harnessOpts{requireConfirmation: true, path: path})
	require.NoError(t, first.sched.Tick(ctx))
	require.Len(t, first.sched.PendingApprovals(), 1)
	require.NoError(t, first.store.Close())

	second := newHarness(t, harnessOpts{requireConfirmation: true, path: path})
	pending := second.sched.PendingApprovals()
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].Target.Slug)
	assert.Equal(t, aliceAmount, pending[0].Amount)

	// Restoring and re-polling never announces the same detection again.
	require.NoError(t, second.sched.Tick(ctx))
	assert.Empty(t, second.sink.Events())

	_, err := second.sched.Approve(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, second.sched.Tick(ctx))
	assert.Equal(t, []notify.Kind{notify.KindExecuted}, second.sink.Kinds())
}

func TestScheduler_RestoreScheduledKeepsAttempts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	first := newHarness(t, harnessOpts{path: path})
	first.executor.FailBurns(1)
	require.NoError(t, first.sched.Tick(ctx))
	require.NoError(t, first.store.Close())

	second := newHarness(t, harnessOpts{path: path})
	scheduled := second.sched.Scheduled()
	require.Len(t, scheduled, 1)
	assert.Equal(t, 1, scheduled[0].Attempts)
	assert.Contains(t, scheduled[0].LastError, "injected failure")
}

func TestScheduler_FailedBurnIsRetried(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	h.executor.FailBurns(1)

	require.NoError(t, h.sched.Tick(ctx))
	assert.Equal(t, []notify.Kind{notify.KindDetected, notify.KindExecutionFailed}, h.sink.Kinds())
	failed := h.sink.Events()[1]
	assert.Contains(t, failed.Error, "injected failure")

	scheduled := h.sched.Scheduled()
	require.Len(t, scheduled, 1)
	assert.Equal(t, 1, scheduled[0].Attempts)

	entry, _, err := h.store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, burn.StageScheduled, entry.Stage)
	assert.Equal(t, 1, entry.Attempts)

	require.NoError(t, h.sched.Tick(ctx))
	assert.Equal(t, notify.KindExecuted, h.sink.Kinds()[2])
	assert.Empty(t, h.sched.Scheduled())
	assert.Equal(t, 1.0, h.counter(t, "listburn_burn_failures_total"))
}

func TestScheduler_InsufficientBalanceStaysScheduled(t *testing.T) {
	h := newHarness(t, harnessOpts{balance: 10})
	ctx := context.Background()

	require.NoError(t, h.sched.Tick(ctx))
	scheduled := h.sched.Scheduled()
	require.Len(t, scheduled, 1)
	assert.Contains(t, scheduled[0].LastError, chain.ErrInsufficientBalance.Error())
	assert.Equal(t, uint64(0), h.sim.Burned())
}

func TestScheduler_SourceFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, harnessOpts{source: failingSource{}})
	ctx := context.Background()

	require.NoError(t, h.sched.Tick(ctx))
	assert.Empty(t, h.sink.Events())
	assert.Equal(t, 1.0, h.counter(t, "listburn_resolution_poll_failures_total"))

	stats, err := h.store.Stats(ctx)
	require.NoError(t, err)
	assert.Nil(t, stats.LastCheck, "no event was fetched")
}

func TestScheduler_OwedBurns(t *testing.T) {
	h := newHarness(t, harnessOpts{requireConfirmation: true})
	ctx := context.Background()

	added, err := h.sched.CheckOwedBurns(ctx)
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "carol", added[0].Target.Slug)
	assert.Equal(t, []notify.Kind{notify.KindDetected}, h.sink.Kinds())

	again, err := h.sched.CheckOwedBurns(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	summary, err := h.sched.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Owed, 1)
	assert.True(t, summary.TotalOwedPercent.Equal(decimal.NewFromInt(1)))

	done, err := h.sched.ExecuteDue(ctx)
	require.NoError(t, err)
	require.Len(t, done, 1)

	again, err = h.sched.CheckOwedBurns(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	summary, err = h.sched.Summary(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.Owed)
	assert.True(t, summary.TotalExecutedPercent.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 1, summary.Stats.Executed)
	require.Len(t, summary.Executed, 1)
	assert.Equal(t, "carol", summary.Executed[0].Slug)
}

func TestScheduler_RefreshOdds(t *testing.T) {
	h := newHarness(t, harnessOpts{source: resolution.Static{
		Odds: map[string]map[string]decimal.Decimal{
			"evt-1": {"BOB BUILDER": decimal.NewFromInt(42)},
		},
	}})

	assert.Equal(t, 1, h.sched.RefreshOdds(context.Background()))
	bob, ok := h.registry.Get("bob")
	require.True(t, ok)
	assert.True(t, bob.Odds.Equal(decimal.NewFromInt(42)))
}

func TestScheduler_RefreshOddsWithoutOddsSource(t *testing.T) {
	h := newHarness(t, harnessOpts{source: failingSource{}})
	assert.Equal(t, 0, h.sched.RefreshOdds(context.Background()))
}

func TestScheduler_Amount(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	amount, err := h.sched.Amount("alice")
	require.NoError(t, err)
	assert.Equal(t, aliceAmount, amount)

	_, err = h.sched.Amount("nobody")
	assert.True(t, errors.Is(err, burn.ErrUnknownTarget))
}

func TestScheduler_NotificationFailureDoesNotBlock(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.sink.Fail = true

	require.NoError(t, h.sched.Tick(context.Background()))
	assert.Equal(t, aliceAmount, h.sim.Burned())
}

func TestScheduler_LastCheckMovesAfterFetch(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	_, err := h.sched.CheckResolutions(ctx)
	require.NoError(t, err)
	stats, err := h.store.Stats(ctx)
	require.NoError(t, err)
	require.NotNil(t, stats.LastCheck)
	assert.True(t, stats.LastCheck.Equal(tu.Epoch))
}

// blockingSource waits for its context to end.
type blockingSource struct {
	entered chan struct{}
}

func (s blockingSource) FetchConfirmedNames(ctx context.Context, _ string) ([]string, error) {
	close(s.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestScheduler_ShutdownInterruptsResolutionFetch(t *testing.T) {
	src := blockingSource{entered: make(chan struct{})}
	h := newHarness(t, harnessOpts{source: src})

	checkErr := make(chan error, 1)
	r, err := NewRunner(tu.DiscardLogger(), Job{
		Name:       "check",
		Interval:   time.Hour,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			_, err := h.sched.CheckResolutions(ctx)
			checkErr <- err
			return err
		},
	})
	require.NoError(t, err)

	cancel, done := startRunner(t, r)
	<-src.entered
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop while a fetch was in progress")
	}
	require.NoError(t, <-checkErr)
	assert.Equal(t, 1.0, h.counter(t, "listburn_resolution_poll_failures_total"))

	stats, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stats.LastCheck)
}

// inFlightExecutor fails every burn as unconfirmed, leaving an attempt
// behind.
type inFlightExecutor struct {
	chain.Executor

	mu    sync.Mutex
	burns int
}

func (e *inFlightExecutor) Burn(context.Context, string, uint64) chain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.burns++
	sig := fmt.Sprintf("sig-%d", e.burns)
	return chain.Result{
		Reference: sig,
		Attempt:   sig + "@100",
		Err:       errors.New("confirm: context deadline exceeded"),
	}
}

func (e *inFlightExecutor) Burns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.burns
}

// trackingExecutor is an inFlightExecutor whose attempts resolve to status.
type trackingExecutor struct {
	*inFlightExecutor

	mu      sync.Mutex
	status  chain.AttemptStatus
	tracked []string
}

func (e *trackingExecutor) Track(_ context.Context, attempt string) (chain.AttemptStatus, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracked = append(e.tracked, attempt)
	if e.status != chain.AttemptLanded {
		return e.status, "", nil
	}
	sig, _, _ := strings.Cut(attempt, "@")
	return e.status, sig, nil
}

func (e *trackingExecutor) set(status chain.AttemptStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
}

func (e *trackingExecutor) Tracked() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.tracked...)
}

func TestScheduler_InFlightBurnIsNotResubmitted(t *testing.T) {
	exec := &trackingExecutor{inFlightExecutor: &inFlightExecutor{}, status: chain.AttemptPending}
	path := filepath.Join(t.TempDir(), "ledger.db")
	h := newHarness(t, harnessOpts{executor: exec, path: path})
	ctx := context.Background()

	require.NoError(t, h.sched.Tick(ctx))
	require.Equal(t, 1, exec.Burns())
	scheduled := h.sched.Scheduled()
	require.Len(t, scheduled, 1)
	assert.Equal(t, "sig-1@100", scheduled[0].AttemptRef)

	entry, _, err := h.store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "sig-1@100", entry.AttemptRef)

	// Still in flight: checked, not sent again.
	require.NoError(t, h.sched.Tick(ctx))
	assert.Equal(t, 1, exec.Burns())
	assert.Equal(t, []string{"sig-1@100"}, exec.Tracked())

	// A restart keeps the attempt.
	second := newHarness(t, harnessOpts{executor: exec, path: path})
	require.NoError(t, second.sched.Tick(ctx))
	assert.Equal(t, 1, exec.Burns())
	assert.Len(t, exec.Tracked(), 2)

	exec.set(chain.AttemptLanded)
	executed, err := second.sched.ExecuteDue(ctx)
	require.NoError(t, err)
	require.Len(t, executed, 1)
	assert.Equal(t, "sig-1", executed[0].TxRef)
	assert.Equal(t, 1, exec.Burns())
	assert.Empty(t, second.sched.Scheduled())

	entry, _, err = second.store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, burn.StageExecuted, entry.Stage)
	assert.Equal(t, "sig-1", entry.TxRef)
	assert.Empty(t, entry.AttemptRef)
	assert.Equal(t, notify.KindExecuted, second.sink.Kinds()[len(second.sink.Kinds())-1])
}

func TestScheduler_DroppedAttemptIsResubmitted(t *testing.T) {
	exec := &trackingExecutor{inFlightExecutor: &inFlightExecutor{}, status: chain.AttemptDropped}
	h := newHarness(t, harnessOpts{executor: exec})
	ctx := context.Background()

	require.NoError(t, h.sched.Tick(ctx))
	require.NoError(t, h.sched.Tick(ctx))

	assert.Equal(t, 2, exec.Burns())
	assert.Equal(t, []string{"sig-1@100"}, exec.Tracked())
	scheduled := h.sched.Scheduled()
	require.Len(t, scheduled, 1)
	assert.Equal(t, 2, scheduled[0].Attempts)
	assert.Equal(t, "sig-2@100", scheduled[0].AttemptRef)
}

func TestScheduler_UntrackableAttemptIsNotResubmitted(t *testing.T) {
	exec := &inFlightExecutor{}
	h := newHarness(t, harnessOpts{executor: exec})
	ctx := context.Background()

	require.NoError(t, h.sched.Tick(ctx))
	require.NoError(t, h.sched.Tick(ctx))

	assert.Equal(t, 1, exec.Burns())
	require.Len(t, h.sched.Scheduled(), 1)
	assert.Equal(t, "sig-1@100", h.sched.Scheduled()[0].AttemptRef)
}

// flakyLedger fails the first RecordExecuted calls.
type flakyLedger struct {
	*ledger.Store

	mu   sync.Mutex
	fail int
}

func (l *flakyLedger) RecordExecuted(ctx context.Context, slug, txRef string, amount uint64) (ledger.Entry, error) {
	l.mu.Lock()
	if l.fail > 0 {
		l.fail--
		l.mu.Unlock()
		return ledger.Entry{}, errors.New("database is locked")
	}
	l.mu.Unlock()
	return l.Store.RecordExecuted(ctx, slug, txRef, amount)
}

func TestScheduler_UnrecordedBurnIsNotRepeated(t *testing.T) {
	fl := &flakyLedger{fail: 3}
	h := newHarness(t, harnessOpts{wrapLedger: func(s *ledger.Store) Ledger {
		fl.Store = s
		return fl
	}})
	h.sched.recordRetry = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1)
	}
	ctx := context.Background()

	err := h.sched.Tick(ctx)
	require.ErrorContains(t, err, "database is locked")
	assert.Equal(t, 1, h.executor.BurnCalls())
	assert.Equal(t, aliceAmount, h.sim.Burned())

	scheduled := h.sched.Scheduled()
	require.Len(t, scheduled, 1)
	assert.True(t, scheduled[0].Executed)
	assert.Equal(t, "simulated_1772366400_alice", scheduled[0].TxRef)

	executed, err := h.sched.ExecuteDue(ctx)
	require.NoError(t, err)
	require.Len(t, executed, 1)
	assert.Equal(t, 1, h.executor.BurnCalls(), "only the ledger write is retried")
	assert.Equal(t, aliceAmount, h.sim.Burned())
	assert.Empty(t, h.sched.Scheduled())

	entry, _, err := h.store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, burn.StageExecuted, entry.Stage)
	assert.Equal(t, "simulated_1772366400_alice", entry.TxRef)
	assert.Equal(t, []notify.Kind{notify.KindDetected, notify.KindExecuted}, h.sink.Kinds())
}
