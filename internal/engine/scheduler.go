package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/roach88/listburn/internal/alloc"
	"github.com/roach88/listburn/internal/burn"
	"github.com/roach88/listburn/internal/chain"
	"github.com/roach88/listburn/internal/ledger"
	"github.com/roach88/listburn/internal/metrics"
	"github.com/roach88/listburn/internal/notify"
	"github.com/roach88/listburn/internal/resolution"
	"github.com/shopspring/decimal"
)

// Ledger is the durable store the scheduler writes through.
// Implemented by *ledger.Store.
type Ledger interface {
	RecordDetected(ctx context.Context, slug string, meta ledger.Meta) (ledger.Entry, bool, error)
	RecordExecuted(ctx context.Context, slug, txRef string, amount uint64) (ledger.Entry, error)
	Transition(ctx context.Context, slug string, ev burn.StageEvent) (ledger.Entry, error)
	RecordAttemptFailure(ctx context.Context, slug, reason, attemptRef string) error
	IsDetected(ctx context.Context, slug string) (bool, error)
	List(ctx context.Context, stages ...burn.Stage) ([]ledger.Entry, error)
	Stats(ctx context.Context) (ledger.Stats, error)
	TouchLastCheck(ctx context.Context) error
}

// Token describes the supply the allocation percentages apply to.
type Token struct {
	TotalSupply uint64
	Decimals    uint8
}

// SchedulerConfig is the static part of the scheduler.
type SchedulerConfig struct {
	Token Token
	// Events maps a collection name to the resolution event that decides
	// its targets. Collections without an event only burn when configured
	// as confirmed.
	Events map[string]string
	// RequireConfirmation routes every new detection through manual
	// approval. It is fixed for the lifetime of the scheduler.
	RequireConfirmation bool
	// ExecutionDelay is added to the detection time to get the earliest
	// execution time.
	ExecutionDelay time.Duration
}

// PendingApproval is a detected burn waiting for a human decision.
type PendingApproval struct {
	Target     burn.Target `json:"target"`
	Amount     uint64      `json:"amount"`
	DetectedAt time.Time   `json:"detected_at"`
}

// ScheduledBurn is a burn cleared for execution at ScheduledFor.
type ScheduledBurn struct {
	Target       burn.Target `json:"target"`
	Amount       uint64      `json:"amount"`
	ScheduledFor time.Time   `json:"scheduled_for"`
	Executed     bool        `json:"executed"`
	TxRef        string      `json:"tx_ref,omitempty"`
	Attempts     int         `json:"attempts"`
	LastError    string      `json:"last_error,omitempty"`
	// AttemptRef names a submission that may still land. No new burn is
	// sent while it is set.
	AttemptRef string `json:"attempt_ref,omitempty"`
}

// Summary is a point-in-time view of the workflow.
type Summary struct {
	Owed                 []burn.Target     `json:"owed"`
	PendingApprovals     []PendingApproval `json:"pending_approvals"`
	Scheduled            []ScheduledBurn   `json:"scheduled"`
	Executed             []ledger.Entry    `json:"executed"`
	TotalOwedPercent     decimal.Decimal   `json:"total_owed_percent"`
	TotalExecutedPercent decimal.Decimal   `json:"total_executed_percent"`
	Stats                ledger.Stats      `json:"stats"`
}

// Scheduler drives targets through detection, approval and execution.
//
// Mutating methods are meant to be called from one goroutine (the Runner).
// Read methods (PendingApprovals, Scheduled) may be called from any
// goroutine.
type Scheduler struct {
	cfg      SchedulerConfig
	registry *burn.Registry
	ledger   Ledger
	source   resolution.Source
	executor chain.Executor
	sink     notify.Sink
	clock    Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
	// recordRetry paces ledger writes after a confirmed burn.
	recordRetry func() backoff.BackOff

	mu        sync.RWMutex
	pending   map[string]PendingApproval
	scheduled map[string]ScheduledBurn
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSink sets the notification sink. The default drops events.
func WithSink(sink notify.Sink) SchedulerOption {
	return func(s *Scheduler) { s.sink = sink }
}

// WithClock sets the clock. The default is SystemClock.
func WithClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a scheduler. Call Restore before first use to load
// the state left by a previous process.
func NewScheduler(
	cfg SchedulerConfig,
	registry *burn.Registry,
	l Ledger,
	source resolution.Source,
	executor chain.Executor,
	opts ...SchedulerOption,
) *Scheduler {
	s := &Scheduler{
		cfg:         cfg,
		registry:    registry,
		ledger:      l,
		source:      source,
		executor:    executor,
		sink:        notify.Nop{},
		clock:       SystemClock{},
		logger:      slog.Default(),
		recordRetry: defaultRecordRetry,
		pending:     make(map[string]PendingApproval),
		scheduled:   make(map[string]ScheduledBurn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultRecordRetry() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4)
}

// Restore rebuilds the approval and execution queues from the ledger.
// Nothing is announced: every entry was announced when it was detected.
func (s *Scheduler) Restore(ctx context.Context) error {
	entries, err := s.ledger.List(ctx, burn.StageAwaitingApproval, burn.StageScheduled)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	pending := make(map[string]PendingApproval)
	scheduled := make(map[string]ScheduledBurn)
	for _, e := range entries {
		target := s.targetFor(e)
		amount, err := s.amountFor(target)
		if err != nil {
			return fmt.Errorf("restore %s: %w", e.Slug, err)
		}
		switch e.Stage {
		case burn.StageAwaitingApproval:
			pending[e.Slug] = PendingApproval{Target: target, Amount: amount, DetectedAt: e.DetectedAt}
		case burn.StageScheduled:
			scheduled[e.Slug] = ScheduledBurn{
				Target:       target,
				Amount:       amount,
				ScheduledFor: e.ScheduledFor,
				Attempts:     e.Attempts,
				LastError:    e.LastError,
				AttemptRef:   e.AttemptRef,
			}
		}
	}

	s.mu.Lock()
	s.pending = pending
	s.scheduled = scheduled
	s.mu.Unlock()
	s.publishQueues()

	s.logger.Info("scheduler restored", "pending_approvals", len(pending), "scheduled", len(scheduled))
	return nil
}

// CheckOwedBurns schedules every target configured as already confirmed
// that has not been burned yet. Owed burns skip approval: the decision was
// made when the target was configured.
func (s *Scheduler) CheckOwedBurns(ctx context.Context) ([]ScheduledBurn, error) {
	var added []ScheduledBurn
	for _, t := range s.registry.Owed() {
		if s.tracked(t.Slug) {
			continue
		}
		amount, err := s.amountFor(t)
		if err != nil {
			s.logger.Error("owed burn amount", "slug", t.Slug, "error", err)
			continue
		}

		now := s.clock.Now()
		entry, inserted, err := s.ledger.RecordDetected(ctx, t.Slug, ledger.Meta{
			Name:              t.Name,
			AllocationPercent: t.AllocationPercent,
			Stage:             burn.StageScheduled,
			ScheduledFor:      now,
		})
		if err != nil {
			return added, fmt.Errorf("check owed burns: %w", err)
		}
		if entry.Stage != burn.StageScheduled {
			// executed or rejected in an earlier run
			continue
		}

		sb := ScheduledBurn{
			Target:       t.WithDetection(entry.DetectedAt),
			Amount:       amount,
			ScheduledFor: entry.ScheduledFor,
			Attempts:     entry.Attempts,
			LastError:    entry.LastError,
			AttemptRef:   entry.AttemptRef,
		}
		s.mu.Lock()
		s.scheduled[t.Slug] = sb
		s.mu.Unlock()
		added = append(added, sb)

		s.logger.Info("scheduled owed burn", "slug", t.Slug, "name", t.Name, "percent", t.AllocationPercent.String())
		if inserted {
			s.metrics.BurnDetected(string(burn.StageScheduled))
			s.announce(ctx, notify.KindDetected, sb.Target, amount, "", "")
		}
	}
	s.publishQueues()
	return added, nil
}

// CheckResolutions asks the resolution source for confirmed names and
// moves every matching pending target into the workflow exactly once.
//
// A failing source is logged and treated as "nothing new"; only ledger
// failures are returned. The last check time only moves when at least one
// event was fetched.
func (s *Scheduler) CheckResolutions(ctx context.Context) ([]string, error) {
	var confirmed []string
	fetched := 0
	for _, event := range s.events() {
		names, err := s.fetchConfirmed(ctx, event.id)
		if err != nil {
			s.metrics.PollFailed()
			s.logger.Warn("resolution check failed, will retry", "event", event.id, "error", err)
			continue
		}
		fetched++

		for _, name := range names {
			for _, t := range s.registry.MatchName(name) {
				if t.Status != burn.StatusPending || !event.collections[t.Collection] {
					continue
				}
				ok, err := s.detect(ctx, t)
				if err != nil {
					return confirmed, err
				}
				if ok {
					confirmed = append(confirmed, name)
				}
			}
		}
	}

	if fetched > 0 {
		if err := s.ledger.TouchLastCheck(ctx); err != nil {
			return confirmed, fmt.Errorf("check resolutions: %w", err)
		}
	}
	s.publishQueues()
	return confirmed, nil
}

// fetchConfirmed queries the source on a context that shutdown cancels, so
// a stopping runner does not wait out the source's retries.
func (s *Scheduler) fetchConfirmed(ctx context.Context, eventID string) ([]string, error) {
	ctx, cancel := Interruptible(ctx)
	defer cancel()
	return s.source.FetchConfirmedNames(ctx, eventID)
}

// detect records a newly confirmed target. It reports false when the target
// was already known, in memory or in the ledger.
func (s *Scheduler) detect(ctx context.Context, t burn.Target) (bool, error) {
	if s.tracked(t.Slug) {
		return false, nil
	}
	known, err := s.ledger.IsDetected(ctx, t.Slug)
	if err != nil {
		return false, fmt.Errorf("check resolutions: %w", err)
	}
	if known {
		return false, nil
	}

	amount, err := s.amountFor(t)
	if err != nil {
		s.logger.Error("burn amount", "slug", t.Slug, "error", err)
		return false, nil
	}

	now := s.clock.Now()
	stage := burn.StageFor(s.cfg.RequireConfirmation)
	entry, inserted, err := s.ledger.RecordDetected(ctx, t.Slug, ledger.Meta{
		Name:              t.Name,
		AllocationPercent: t.AllocationPercent,
		Stage:             stage,
		ScheduledFor:      now.Add(s.cfg.ExecutionDelay),
	})
	if err != nil {
		return false, fmt.Errorf("check resolutions: %w", err)
	}
	if !inserted {
		return false, nil
	}

	confirmedTarget, err := t.WithStatus(burn.StatusConfirmed)
	if err != nil {
		return false, fmt.Errorf("check resolutions: %w", err)
	}
	confirmedTarget = confirmedTarget.WithDetection(entry.DetectedAt)
	s.metrics.BurnDetected(string(stage))

	if stage == burn.StageAwaitingApproval {
		s.mu.Lock()
		s.pending[t.Slug] = PendingApproval{Target: confirmedTarget, Amount: amount, DetectedAt: entry.DetectedAt}
		s.mu.Unlock()
		s.logger.Info("new confirmation requires approval", "slug", t.Slug, "name", t.Name)
		s.announce(ctx, notify.KindPendingApproval, confirmedTarget, amount, "", "")
		return true, nil
	}

	s.mu.Lock()
	s.scheduled[t.Slug] = ScheduledBurn{Target: confirmedTarget, Amount: amount, ScheduledFor: entry.ScheduledFor}
	s.mu.Unlock()
	s.logger.Info("new confirmation scheduled", "slug", t.Slug, "name", t.Name, "at", entry.ScheduledFor)
	s.announce(ctx, notify.KindDetected, confirmedTarget, amount, "", "")
	return true, nil
}

// Approve clears a pending burn for execution. It fails with
// burn.ErrNotPending when slug is not awaiting approval and changes nothing.
func (s *Scheduler) Approve(ctx context.Context, slug string) (ScheduledBurn, error) {
	s.mu.RLock()
	pa, ok := s.pending[slug]
	s.mu.RUnlock()
	if !ok {
		return ScheduledBurn{}, fmt.Errorf("approve %s: %w", slug, burn.ErrNotPending)
	}

	entry, err := s.ledger.Transition(ctx, slug, burn.EventApprove)
	if err != nil {
		return ScheduledBurn{}, fmt.Errorf("approve: %w", err)
	}

	sb := ScheduledBurn{
		Target:       pa.Target,
		Amount:       pa.Amount,
		ScheduledFor: entry.ScheduledFor,
		Attempts:     entry.Attempts,
	}
	s.mu.Lock()
	delete(s.pending, slug)
	s.scheduled[slug] = sb
	s.mu.Unlock()
	s.publishQueues()

	s.logger.Info("approved burn", "slug", slug, "name", pa.Target.Name)
	return sb, nil
}

// Reject discards a pending burn. The ledger keeps the detection so the
// same confirmation never comes up for approval again.
func (s *Scheduler) Reject(ctx context.Context, slug string) error {
	s.mu.RLock()
	pa, ok := s.pending[slug]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("reject %s: %w", slug, burn.ErrNotPending)
	}

	if _, err := s.ledger.Transition(ctx, slug, burn.EventReject); err != nil {
		return fmt.Errorf("reject: %w", err)
	}

	s.mu.Lock()
	delete(s.pending, slug)
	s.mu.Unlock()
	s.publishQueues()

	s.logger.Info("rejected burn", "slug", slug, "name", pa.Target.Name)
	s.announce(ctx, notify.KindRejected, pa.Target, pa.Amount, "", "")
	return nil
}

// ExecuteDue burns every scheduled item whose time has come, one at a time.
// A failed burn stays scheduled and is retried on the next call. A burn
// whose earlier submission may still land is only sent again once the
// executor reports that submission dropped.
func (s *Scheduler) ExecuteDue(ctx context.Context) ([]ScheduledBurn, error) {
	now := s.clock.Now()
	due := s.dueAt(now)

	var executed []ScheduledBurn
	for _, sb := range due {
		res, ok := s.submit(ctx, sb)
		if !ok {
			continue
		}
		if !res.Success {
			s.metrics.BurnFailed()
			sb.Attempts++
			sb.LastError = res.Error()
			sb.AttemptRef = res.Attempt
			s.keep(sb)

			s.logger.Warn("burn failed, will retry",
				"slug", sb.Target.Slug,
				"attempt", sb.Attempts,
				"in_flight", sb.AttemptRef != "",
				"error", res.Err)
			if err := s.ledger.RecordAttemptFailure(ctx, sb.Target.Slug, sb.LastError, sb.AttemptRef); err != nil {
				return executed, fmt.Errorf("execute due: %w", err)
			}
			s.announce(ctx, notify.KindExecutionFailed, sb.Target, sb.Amount, res.Reference, sb.LastError)
			continue
		}

		// The burn is final from here on. Until the ledger has it, the
		// queue holds it as executed so only the write is retried.
		sb.Executed = true
		sb.TxRef = res.Reference
		sb.AttemptRef = ""
		s.keep(sb)

		entry, err := s.recordExecuted(ctx, sb)
		if err != nil {
			s.logger.Error("burn executed but not recorded",
				"slug", sb.Target.Slug,
				"tx_ref", sb.TxRef,
				"error", err)
			return executed, fmt.Errorf("execute due: %w", err)
		}
		s.mu.Lock()
		delete(s.scheduled, sb.Target.Slug)
		s.mu.Unlock()

		target := sb.Target
		if ts := entry.ExecutedAt; ts != nil {
			if t, err := target.WithExecution(*ts, sb.TxRef); err == nil {
				target = t
			}
		}
		sb.Target = target
		executed = append(executed, sb)

		s.metrics.BurnExecuted()
		s.logger.Info("burn executed", "slug", target.Slug, "tx_ref", sb.TxRef)
		s.announce(ctx, notify.KindExecuted, target, sb.Amount, sb.TxRef, "")
	}

	s.publishQueues()
	return executed, nil
}

// submit burns sb unless an earlier attempt makes that unsafe. It reports
// false when nothing should happen on this pass.
func (s *Scheduler) submit(ctx context.Context, sb ScheduledBurn) (chain.Result, bool) {
	slug := sb.Target.Slug
	switch {
	case sb.Executed:
		return chain.Succeeded(sb.TxRef), true
	case sb.AttemptRef != "":
		tracker, ok := s.executor.(chain.Tracker)
		if !ok {
			s.logger.Error("burn has an unresolved attempt the executor cannot track",
				"slug", slug, "attempt_ref", sb.AttemptRef)
			return chain.Result{}, false
		}
		status, ref, err := tracker.Track(ctx, sb.AttemptRef)
		if err != nil {
			s.logger.Warn("attempt check failed, will retry", "slug", slug, "attempt_ref", sb.AttemptRef, "error", err)
			return chain.Result{}, false
		}
		switch status {
		case chain.AttemptLanded:
			s.logger.Info("earlier burn attempt landed", "slug", slug, "tx_ref", ref)
			return chain.Succeeded(ref), true
		case chain.AttemptPending:
			s.logger.Info("burn still in flight", "slug", slug, "attempt_ref", sb.AttemptRef)
			return chain.Result{}, false
		}
		s.logger.Info("earlier burn attempt dropped, resubmitting", "slug", slug, "attempt_ref", sb.AttemptRef)
	}

	s.logger.Info("executing burn", "slug", slug, "amount", alloc.FormatBaseUnits(sb.Amount, s.cfg.Token.Decimals))
	return s.executor.Burn(ctx, slug, sb.Amount), true
}

// recordExecuted writes a confirmed burn to the ledger, retrying transient
// failures.
func (s *Scheduler) recordExecuted(ctx context.Context, sb ScheduledBurn) (ledger.Entry, error) {
	var entry ledger.Entry
	err := backoff.Retry(func() error {
		var err error
		entry, err = s.ledger.RecordExecuted(ctx, sb.Target.Slug, sb.TxRef, sb.Amount)
		return err
	}, backoff.WithContext(s.recordRetry(), ctx))
	return entry, err
}

// keep stores sb back in the queue unless it was removed meanwhile.
func (s *Scheduler) keep(sb ScheduledBurn) {
	s.mu.Lock()
	if _, still := s.scheduled[sb.Target.Slug]; still {
		s.scheduled[sb.Target.Slug] = sb
	}
	s.mu.Unlock()
}

// Tick runs one poll-detect pass: resolutions first, then due burns.
func (s *Scheduler) Tick(ctx context.Context) error {
	confirmed, err := s.CheckResolutions(ctx)
	if err != nil {
		return err
	}
	if len(confirmed) > 0 {
		s.logger.Info("new confirmations", "count", len(confirmed), "names", confirmed)
	}
	if _, err := s.ExecuteDue(ctx); err != nil {
		return err
	}
	s.metrics.TickCompleted(s.clock.Now())
	return nil
}

// RefreshOdds updates informational odds from the source when it reports
// them. Failures are logged.
func (s *Scheduler) RefreshOdds(ctx context.Context) int {
	src, ok := s.source.(resolution.OddsSource)
	if !ok {
		return 0
	}
	updated := 0
	for _, event := range s.events() {
		fetchCtx, cancel := Interruptible(ctx)
		odds, err := src.FetchOdds(fetchCtx, event.id)
		cancel()
		if err != nil {
			s.logger.Warn("odds refresh failed", "event", event.id, "error", err)
			continue
		}
		updated += s.registry.SetOdds(odds)
	}
	return updated
}

// PendingApprovals returns burns awaiting approval, oldest first.
func (s *Scheduler) PendingApprovals() []PendingApproval {
	s.mu.RLock()
	out := make([]PendingApproval, 0, len(s.pending))
	for _, pa := range s.pending {
		out = append(out, pa)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].Target.Slug < out[j].Target.Slug
	})
	return out
}

// Scheduled returns burns waiting for execution, earliest first.
func (s *Scheduler) Scheduled() []ScheduledBurn {
	s.mu.RLock()
	out := make([]ScheduledBurn, 0, len(s.scheduled))
	for _, sb := range s.scheduled {
		out = append(out, sb)
	}
	s.mu.RUnlock()

	sortScheduled(out)
	return out
}

// Summary reports owed, queued and executed burns with ledger statistics.
func (s *Scheduler) Summary(ctx context.Context) (Summary, error) {
	stats, err := s.ledger.Stats(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}
	executed, err := s.ledger.List(ctx, burn.StageExecuted)
	if err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}

	done := make(map[string]bool, len(executed))
	executedPercent := decimal.Zero
	for _, e := range executed {
		done[e.Slug] = true
		executedPercent = executedPercent.Add(e.AllocationPercent)
	}

	var owed []burn.Target
	for _, t := range s.registry.Owed() {
		if !done[t.Slug] {
			owed = append(owed, t)
		}
	}

	return Summary{
		Owed:                 owed,
		PendingApprovals:     s.PendingApprovals(),
		Scheduled:            s.Scheduled(),
		Executed:             executed,
		TotalOwedPercent:     burn.SumPercent(owed),
		TotalExecutedPercent: executedPercent,
		Stats:                stats,
	}, nil
}

// Amount returns the base units a target would burn.
func (s *Scheduler) Amount(slug string) (uint64, error) {
	t, ok := s.registry.Get(slug)
	if !ok {
		return 0, fmt.Errorf("amount %s: %w", slug, burn.ErrUnknownTarget)
	}
	return s.amountFor(t)
}

type eventScope struct {
	id          string
	collections map[string]bool
}

// events groups collections by resolution event, in a stable order.
func (s *Scheduler) events() []eventScope {
	byID := make(map[string]map[string]bool)
	for collection, id := range s.cfg.Events {
		if id == "" {
			continue
		}
		if byID[id] == nil {
			byID[id] = make(map[string]bool)
		}
		byID[id][collection] = true
	}
	out := make([]eventScope, 0, len(byID))
	for id, cols := range byID {
		out = append(out, eventScope{id: id, collections: cols})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *Scheduler) tracked(slug string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, p := s.pending[slug]
	_, q := s.scheduled[slug]
	return p || q
}

func (s *Scheduler) dueAt(now time.Time) []ScheduledBurn {
	s.mu.RLock()
	var due []ScheduledBurn
	for _, sb := range s.scheduled {
		if !sb.ScheduledFor.After(now) {
			due = append(due, sb)
		}
	}
	s.mu.RUnlock()
	sortScheduled(due)
	return due
}

func sortScheduled(items []ScheduledBurn) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].ScheduledFor.Equal(items[j].ScheduledFor) {
			return items[i].ScheduledFor.Before(items[j].ScheduledFor)
		}
		return items[i].Target.Slug < items[j].Target.Slug
	})
}

func (s *Scheduler) amountFor(t burn.Target) (uint64, error) {
	return alloc.ComputeAmount(s.cfg.Token.TotalSupply, s.cfg.Token.Decimals, t.AllocationPercent)
}

// targetFor returns the configured target for a ledger entry, or one
// rebuilt from the entry when the configuration no longer lists it.
func (s *Scheduler) targetFor(e ledger.Entry) burn.Target {
	t, ok := s.registry.Get(e.Slug)
	if !ok {
		t = burn.Target{
			Name:              e.Name,
			Slug:              e.Slug,
			AllocationPercent: e.AllocationPercent,
		}
	}
	t.Status = burn.StatusOf(e.Stage)
	return t.WithDetection(e.DetectedAt)
}

func (s *Scheduler) publishQueues() {
	s.mu.RLock()
	p, q := len(s.pending), len(s.scheduled)
	s.mu.RUnlock()
	s.metrics.SetQueues(p, q)
}

// announce notifies the sink. Delivery failure is logged and otherwise
// ignored.
func (s *Scheduler) announce(ctx context.Context, kind notify.Kind, t burn.Target, amount uint64, txRef, errMsg string) {
	ev := notify.Event{
		Kind:              kind,
		Slug:              t.Slug,
		Name:              t.Name,
		AllocationPercent: t.AllocationPercent,
		Amount:            amount,
		AmountDisplay:     alloc.FormatBaseUnits(amount, s.cfg.Token.Decimals),
		TxRef:             txRef,
		Error:             errMsg,
		At:                s.clock.Now(),
	}
	if !s.sink.Notify(ctx, ev) {
		s.logger.Warn("notification not delivered", "kind", kind, "slug", t.Slug)
	}
}
