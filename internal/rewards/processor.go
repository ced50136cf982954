package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/roach88/listburn/internal/alloc"
	"github.com/roach88/listburn/internal/chain"
	"github.com/roach88/listburn/internal/ledger"
	"github.com/roach88/listburn/internal/metrics"
)

// DefaultPlaceholderPrefix marks example wallets left in seed data.
const DefaultPlaceholderPrefix = "Example"

// Store is the part of the ledger the processor reads and settles.
type Store interface {
	Ambassadors(ctx context.Context, activeOnly bool) ([]ledger.Ambassador, error)
	UnpaidRaids(ctx context.Context) ([]ledger.RaidContribution, error)
	ReadyReferrals(ctx context.Context, today string) ([]ledger.Referral, error)
	UnpaidContestWinners(ctx context.Context) ([]ledger.ContestWinner, error)
	Settle(ctx context.Context, st ledger.Settlement) error
}

// Caps bound a batch. Amounts are whole tokens; zero disables a cap.
type Caps struct {
	// PerPerson limits what one recipient receives across every program.
	PerPerson uint64 `json:"per_person"`
	// Total limits the whole batch.
	Total uint64 `json:"total"`
	// PerProgram limits what one recipient receives from one program.
	// Applied before PerPerson.
	PerProgram map[alloc.Program]uint64 `json:"per_program,omitempty"`
	// MaxAmbassadors limits how many ambassadors are paid in one run.
	MaxAmbassadors int `json:"max_ambassadors,omitempty"`
}

// Config configures a Processor.
type Config struct {
	Decimals          uint8
	Caps              Caps
	PlaceholderPrefix string
	ReferralHold      time.Duration
}

// Batch is a capped set of line items.
type Batch struct {
	Items      []alloc.Payout `json:"items"`
	Requested  uint64         `json:"requested"`
	Total      uint64         `json:"total"`
	Recipients int            `json:"recipients"`
	Caps       Caps           `json:"caps"`
}

// Report is the outcome of Run.
type Report struct {
	DryRun    bool                  `json:"dry_run"`
	RunID     string                `json:"run_id,omitempty"`
	Batch     Batch                 `json:"batch"`
	Results   []ledger.PayoutResult `json:"results,omitempty"`
	Paid      uint64                `json:"paid"`
	Succeeded int                   `json:"succeeded"`
	Failed    int                   `json:"failed"`
}

// Processor gathers, caps and pays reward batches.
type Processor struct {
	cfg      Config
	store    Store
	executor chain.Executor
	now      func() time.Time
	ids      interface{ Generate() string }
	metrics  *metrics.Metrics
	logger   *slog.Logger
	// attemptRetry paces checks on transfers whose outcome was unknown.
	attemptRetry func() backoff.BackOff
}

// Option configures a Processor.
type Option func(*Processor)

// WithNow sets the time source.
func WithNow(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithIDs sets the run id generator.
func WithIDs(ids interface{ Generate() string }) Option {
	return func(p *Processor) { p.ids = ids }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// NewProcessor creates a processor paying through executor.
func NewProcessor(cfg Config, store Store, executor chain.Executor, opts ...Option) *Processor {
	if cfg.PlaceholderPrefix == "" {
		cfg.PlaceholderPrefix = DefaultPlaceholderPrefix
	}
	p := &Processor{
		cfg:          cfg,
		store:        store,
		executor:     executor,
		now:          time.Now,
		ids:          uuidV7{},
		logger:       slog.Default(),
		attemptRetry: defaultAttemptRetry,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Gather collects uncapped line items from every program, in program order:
// ambassadors, raids, referrals, contest winners.
func (p *Processor) Gather(ctx context.Context) ([]alloc.Payout, error) {
	var items []alloc.Payout

	ambassadors, err := p.store.Ambassadors(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}
	paidAmbassadors := 0
	for _, a := range ambassadors {
		if p.placeholder(a.Wallet) {
			continue
		}
		if limit := p.cfg.Caps.MaxAmbassadors; limit > 0 && paidAmbassadors >= limit {
			p.logger.Warn("ambassador limit reached", "limit", limit, "skipped", a.Handle)
			continue
		}
		paidAmbassadors++
		items = append(items, alloc.Payout{
			Recipient: a.Wallet,
			Amount:    a.MonthlyReward / 4,
			Reason:    fmt.Sprintf("Ambassador (%s): %s", a.Tier, a.Handle),
			Program:   alloc.ProgramAmbassador,
			SourceID:  a.ID,
		})
	}

	raids, err := p.store.UnpaidRaids(ctx)
	if err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}
	for _, r := range raids {
		if p.placeholder(r.Wallet) {
			continue
		}
		items = append(items, alloc.Payout{
			Recipient: r.Wallet,
			Amount:    r.Reward,
			Reason:    fmt.Sprintf("Raid %s: %s", r.Kind, r.Handle),
			Program:   alloc.ProgramRaid,
			SourceID:  r.ID,
		})
	}

	today := p.now().UTC().Format(time.DateOnly)
	referrals, err := p.store.ReadyReferrals(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}
	for _, r := range referrals {
		if !r.NewPaid && !p.placeholder(r.NewWallet) {
			items = append(items, alloc.Payout{
				Recipient: r.NewWallet,
				Amount:    r.NewReward,
				Reason:    "Referral bonus: " + r.NewHandle,
				Program:   alloc.ProgramReferral,
				SourceID:  r.ID,
				Party:     ledger.PartyNew,
			})
		}
		if !r.ReferrerPaid && !p.placeholder(r.ReferrerWallet) {
			items = append(items, alloc.Payout{
				Recipient: r.ReferrerWallet,
				Amount:    r.ReferrerReward,
				Reason:    "Referral reward: " + r.ReferrerHandle,
				Program:   alloc.ProgramReferral,
				SourceID:  r.ID,
				Party:     ledger.PartyReferrer,
			})
		}
	}

	winners, err := p.store.UnpaidContestWinners(ctx)
	if err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}
	for _, w := range winners {
		if p.placeholder(w.Wallet) {
			continue
		}
		items = append(items, alloc.Payout{
			Recipient: w.Wallet,
			Amount:    w.Reward,
			Reason:    fmt.Sprintf("Contest #%d: %s", w.Place, w.Handle),
			Program:   alloc.ProgramContest,
			SourceID:  w.ID,
		})
	}

	return items, nil
}

// Preview gathers the batch and applies the caps without paying anything.
func (p *Processor) Preview(ctx context.Context) (Batch, error) {
	items, err := p.Gather(ctx)
	if err != nil {
		return Batch{}, err
	}
	capped := p.applyCaps(items)
	return Batch{
		Items:      capped,
		Requested:  alloc.Total(items),
		Total:      alloc.Total(capped),
		Recipients: len(alloc.SumByRecipient(capped)),
		Caps:       p.cfg.Caps,
	}, nil
}

// applyCaps runs the per-program caps, then the per-person and total caps.
func (p *Processor) applyCaps(items []alloc.Payout) []alloc.Payout {
	out := append([]alloc.Payout(nil), items...)
	for program, limit := range p.cfg.Caps.PerProgram {
		if limit == 0 {
			continue
		}
		var idx []int
		var subset []alloc.Payout
		for i, it := range out {
			if it.Program == program {
				idx = append(idx, i)
				subset = append(subset, it)
			}
		}
		for j, it := range alloc.ComputeCappedBatch(subset, limit, 0) {
			out[idx[j]] = it
		}
	}
	return alloc.ComputeCappedBatch(out, p.cfg.Caps.PerPerson, p.cfg.Caps.Total)
}

// Run previews the batch and, unless dryRun, pays it.
//
// A live run checks the paying balance first and returns an
// InsufficientFundsError without transferring anything when it falls short.
// Otherwise every item is attempted in order; a failed transfer is recorded
// and the run moves on. Zero-amount items are settled without a transfer.
// Successful items are settled and the run is appended to the payout
// history in one ledger transaction.
func (p *Processor) Run(ctx context.Context, dryRun bool) (Report, error) {
	batch, err := p.Preview(ctx)
	if err != nil {
		p.metrics.PayoutRun("aborted")
		return Report{}, fmt.Errorf("payout run: %w", err)
	}
	report := Report{DryRun: dryRun, Batch: batch}

	if dryRun {
		p.metrics.PayoutRun("dry_run")
		p.logger.Info("payout preview", "items", len(batch.Items), "total", batch.Total, "recipients", batch.Recipients)
		return report, nil
	}
	if len(batch.Items) == 0 {
		p.logger.Info("no payouts to process")
		return report, nil
	}

	need, err := alloc.ToBaseUnits(batch.Total, p.cfg.Decimals)
	if err != nil {
		p.metrics.PayoutRun("aborted")
		return report, fmt.Errorf("payout run: %w", err)
	}
	have, err := p.executor.Balance(ctx)
	if err != nil {
		p.metrics.PayoutRun("aborted")
		return report, fmt.Errorf("payout run: balance: %w", err)
	}
	if have < need {
		p.metrics.PayoutRun("aborted")
		return report, fmt.Errorf("payout run: %w", &InsufficientFundsError{Need: need, Have: have})
	}

	st := ledger.Settlement{AmbassadorPaid: make(map[int64]uint64)}
	for _, item := range batch.Items {
		res := p.pay(ctx, item)
		report.Results = append(report.Results, res)
		if !res.Success {
			report.Failed++
			continue
		}
		report.Succeeded++
		report.Paid += item.Amount
		settle(&st, item)
	}

	report.RunID = p.ids.Generate()
	st.Run = ledger.PayoutRun{
		ID:         report.RunID,
		RanAt:      p.now().UTC(),
		Total:      report.Paid,
		Recipients: batch.Recipients,
		Succeeded:  report.Succeeded,
		Failed:     report.Failed,
		Results:    report.Results,
	}
	if err := p.store.Settle(ctx, st); err != nil {
		p.logger.Error("payouts sent but not recorded", "run_id", report.RunID, "error", err)
		p.metrics.PayoutRun("aborted")
		return report, fmt.Errorf("payout run: %w", err)
	}

	p.metrics.PayoutRun("completed")
	p.logger.Info("payout run complete",
		"run_id", report.RunID,
		"paid", report.Paid,
		"succeeded", report.Succeeded,
		"failed", report.Failed)
	return report, nil
}

func (p *Processor) pay(ctx context.Context, item alloc.Payout) ledger.PayoutResult {
	res := ledger.PayoutResult{
		Recipient: item.Recipient,
		Program:   string(item.Program),
		SourceID:  item.SourceID,
		Party:     item.Party,
		Reason:    item.Reason,
		Amount:    item.Amount,
	}
	if item.Amount == 0 {
		res.Success = true
		p.metrics.PayoutItem(string(item.Program), "skipped", 0)
		return res
	}

	base, err := alloc.ToBaseUnits(item.Amount, p.cfg.Decimals)
	if err != nil {
		res.Error = err.Error()
		p.metrics.PayoutItem(string(item.Program), "failed", item.Amount)
		return res
	}
	out := p.executor.Transfer(ctx, item.Recipient, base)
	if !out.Success && out.Attempt != "" {
		out = p.resolve(ctx, item, out)
	}
	res.Success = out.Success
	res.Reference = out.Reference
	res.Error = out.Error()
	if !out.Success {
		p.logger.Warn("payout failed", "recipient", item.Recipient, "reason", item.Reason, "error", out.Err)
		p.metrics.PayoutItem(string(item.Program), "failed", item.Amount)
		return res
	}
	if out.Err != nil {
		p.logger.Error("payout outcome unknown, settled as paid",
			"recipient", item.Recipient,
			"amount", item.Amount,
			"reference", out.Reference,
			"error", out.Err)
		p.metrics.PayoutItem(string(item.Program), "unconfirmed", item.Amount)
		return res
	}
	p.logger.Info("payout sent", "recipient", item.Recipient, "amount", item.Amount, "reference", out.Reference)
	p.metrics.PayoutItem(string(item.Program), "paid", item.Amount)
	return res
}

var errStillPending = errors.New("transfer still pending")

// A blockhash expires after about 150 blocks, so an attempt is normally
// decided well within MaxElapsedTime.
func defaultAttemptRetry() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 3 * time.Minute
	return b
}

// resolve waits until a transfer that may still land is decided. One that
// stays undecided is reported as paid with an error: settling it keeps a
// later run from paying the recipient twice.
func (p *Processor) resolve(ctx context.Context, item alloc.Payout, out chain.Result) chain.Result {
	tracker, ok := p.executor.(chain.Tracker)
	if !ok {
		return unconfirmed(out, errors.New("executor cannot track transfers"))
	}

	var (
		status chain.AttemptStatus
		ref    string
	)
	err := backoff.Retry(func() error {
		var err error
		status, ref, err = tracker.Track(ctx, out.Attempt)
		if err != nil {
			return err
		}
		if status == chain.AttemptPending {
			return errStillPending
		}
		return nil
	}, backoff.WithContext(p.attemptRetry(), ctx))
	if err != nil {
		return unconfirmed(out, err)
	}

	if status == chain.AttemptLanded {
		p.logger.Info("pending payout landed", "recipient", item.Recipient, "reference", ref)
		return chain.Succeeded(ref)
	}
	return chain.Result{Reference: out.Reference, Err: out.Err}
}

func unconfirmed(out chain.Result, err error) chain.Result {
	return chain.Result{
		Success:   true,
		Reference: out.Reference,
		Err:       fmt.Errorf("outcome unconfirmed, verify %s before paying again: %w", out.Reference, err),
	}
}

// settle records a paid item against its source record.
func settle(st *ledger.Settlement, item alloc.Payout) {
	switch item.Program {
	case alloc.ProgramAmbassador:
		st.AmbassadorPaid[item.SourceID] += item.Amount
	case alloc.ProgramRaid:
		st.RaidIDs = append(st.RaidIDs, item.SourceID)
	case alloc.ProgramReferral:
		st.Referrals = append(st.Referrals, ledger.ReferralParty{ID: item.SourceID, Party: item.Party})
	case alloc.ProgramContest:
		st.WinnerIDs = append(st.WinnerIDs, item.SourceID)
	}
}

func (p *Processor) placeholder(wallet string) bool {
	return wallet == "" || strings.HasPrefix(wallet, p.cfg.PlaceholderPrefix)
}

type uuidV7 struct{}

func (uuidV7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
