package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/roach88/listburn/internal/alloc"
	"github.com/roach88/listburn/internal/burn"
	"github.com/roach88/listburn/internal/chain"
	"github.com/roach88/listburn/internal/config"
	"github.com/roach88/listburn/internal/content"
	"github.com/roach88/listburn/internal/engine"
	"github.com/roach88/listburn/internal/ledger"
	"github.com/roach88/listburn/internal/metrics"
	"github.com/roach88/listburn/internal/notify"
	"github.com/roach88/listburn/internal/resolution"
	"github.com/roach88/listburn/internal/rewards"
)

// app is every component of a configured daemon.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	clock     engine.Clock
	store     *ledger.Store
	registry  *burn.Registry
	executor  chain.Executor
	metrics   *metrics.Metrics
	scheduler *engine.Scheduler
	payouts   *rewards.Processor
	calendar  *content.Calendar // nil when content is disabled
}

type appOptions struct {
	// offline builds a read-only scheduler: simulated executor, static
	// source, log-only notifications.
	offline  bool
	clock    engine.Clock
	executor chain.Executor
	registry *prometheus.Registry
}

func buildApp(cfg *config.Config, logger *slog.Logger, o appOptions) (_ *app, err error) {
	if o.clock == nil {
		o.clock = engine.SystemClock{}
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		clock:   o.clock,
		metrics: metrics.New(o.registry),
	}

	a.registry, err = cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("targets: %w", err)
	}

	a.store, err = openLedger(cfg.Database.Path, a.clock, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = a.store.Close()
		}
	}()

	a.executor = o.executor
	if a.executor == nil {
		a.executor, err = buildExecutor(cfg, o.offline, a.clock, logger)
		if err != nil {
			return nil, err
		}
	}

	var source resolution.Source = resolution.Static{}
	sink := notify.Sink(notify.Log{Logger: logger})
	var webhook *notify.Webhook
	if !o.offline {
		source = buildSource(cfg, logger)
		sink, webhook, err = buildSink(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	a.scheduler = engine.NewScheduler(
		engine.SchedulerConfig{
			Token:               engine.Token{TotalSupply: cfg.Token.TotalSupply, Decimals: cfg.Token.Decimals},
			Events:              cfg.Events(),
			RequireConfirmation: cfg.Burns.RequireConfirmation,
			ExecutionDelay:      cfg.Burns.ExecutionDelay,
		},
		a.registry, a.store, source, a.executor,
		engine.WithSink(sink),
		engine.WithClock(a.clock),
		engine.WithMetrics(a.metrics),
		engine.WithLogger(logger),
	)

	a.payouts = rewards.NewProcessor(payoutConfig(cfg), a.store, a.executor,
		rewards.WithNow(a.clock.Now),
		rewards.WithIDs(engine.UUIDv7Generator{}),
		rewards.WithMetrics(a.metrics),
		rewards.WithLogger(logger),
	)

	if cfg.Content.Enabled && !o.offline {
		a.calendar, err = buildCalendar(cfg, a, webhook, logger)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func openLedger(path string, clock engine.Clock, logger *slog.Logger) (*ledger.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}
	st, err := ledger.Open(path, ledger.WithNow(clock.Now), ledger.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return st, nil
}

func buildExecutor(cfg *config.Config, offline bool, clock engine.Clock, logger *slog.Logger) (chain.Executor, error) {
	if cfg.Chain.Kind == config.ChainSolana && !offline {
		ex, err := chain.NewSolana(chain.SolanaConfig{
			RPCURL:            cfg.Chain.RPCURL,
			Mint:              cfg.Chain.Mint,
			Decimals:          cfg.Token.Decimals,
			PrivateKey:        cfg.Chain.PrivateKey,
			ConfirmTimeout:    cfg.Chain.ConfirmTimeout,
			PollInterval:      cfg.Chain.PollInterval,
			RequestsPerSecond: cfg.Chain.RequestsPerSecond,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("chain: %w", err)
		}
		return ex, nil
	}
	balance, err := alloc.ToBaseUnits(cfg.Chain.SimulatedBalance, cfg.Token.Decimals)
	if err != nil {
		return nil, fmt.Errorf("chain: simulated balance: %w", err)
	}
	return chain.NewSimulated(balance, clock.Now, logger), nil
}

func buildSource(cfg *config.Config, logger *slog.Logger) resolution.Source {
	r := cfg.Resolution
	if r.Kind == config.ResolutionStatic {
		return resolution.Static{Names: r.Confirmed}
	}
	return resolution.NewPolymarket(resolution.Config{
		BaseURL:           r.BaseURL,
		Timeout:           r.Timeout,
		RequestsPerSecond: r.RequestsPerSecond,
		MaxRetries:        r.MaxRetries,
		BreakerFailures:   r.BreakerFailures,
		BreakerCooldown:   r.BreakerCooldown,
	}, logger)
}

// buildSink combines the configured sinks. The webhook is returned on its
// own so the content calendar can publish through it.
func buildSink(cfg *config.Config, logger *slog.Logger) (notify.Sink, *notify.Webhook, error) {
	n := cfg.Notify
	var sinks notify.Fanout
	if n.Log {
		sinks = append(sinks, notify.Log{Logger: logger})
	}

	var webhook *notify.Webhook
	if n.WebhookURL != "" {
		templates := make(map[notify.Kind]string, len(n.Templates))
		for k, v := range n.Templates {
			templates[notify.Kind(k)] = v
		}
		var err error
		webhook, err = notify.NewWebhook(notify.WebhookConfig{
			URL:               n.WebhookURL,
			Username:          n.Username,
			Templates:         templates,
			Timeout:           n.Timeout,
			RequestsPerSecond: n.RequestsPerSecond,
			MaxRetries:        n.MaxRetries,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("notify: %w", err)
		}
		sinks = append(sinks, webhook)
	}

	switch len(sinks) {
	case 0:
		return notify.Nop{}, webhook, nil
	case 1:
		return sinks[0], webhook, nil
	default:
		return sinks, webhook, nil
	}
}

func payoutConfig(cfg *config.Config) rewards.Config {
	p := cfg.Payouts
	perProgram := make(map[alloc.Program]uint64, len(p.PerProgramCaps))
	for k, v := range p.PerProgramCaps {
		perProgram[alloc.Program(k)] = v
	}
	return rewards.Config{
		Decimals: cfg.Token.Decimals,
		Caps: rewards.Caps{
			PerPerson:      p.PerPersonCap,
			Total:          p.TotalCap,
			PerProgram:     perProgram,
			MaxAmbassadors: p.MaxAmbassadors,
		},
		PlaceholderPrefix: p.PlaceholderPrefix,
		ReferralHold:      p.ReferralHold,
	}
}

var errNoPublisher = errors.New("content.enabled needs content.webhook_url or notify.webhook_url")

func buildCalendar(cfg *config.Config, a *app, notifyHook *notify.Webhook, logger *slog.Logger) (*content.Calendar, error) {
	publisher := notifyHook
	if cfg.Content.WebhookURL != "" {
		var err error
		publisher, err = notify.NewWebhook(notify.WebhookConfig{
			URL:               cfg.Content.WebhookURL,
			Username:          cfg.Notify.Username,
			Timeout:           cfg.Notify.Timeout,
			RequestsPerSecond: cfg.Notify.RequestsPerSecond,
			MaxRetries:        cfg.Notify.MaxRetries,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("content: %w", err)
		}
	}
	if publisher == nil {
		return nil, errNoPublisher
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	countdown, err := cfg.CountdownDate()
	if err != nil {
		return nil, err
	}
	cal, err := content.NewCalendar(content.Config{
		StaleAfter:     cfg.Content.StaleAfter,
		Location:       loc,
		Templates:      cfg.Content.Templates,
		CountdownTo:    countdown,
		CountdownLabel: cfg.Content.CountdownLabel,
	}, a.store, publisher, a.facts,
		content.WithNow(a.clock.Now),
		content.WithIDs(engine.UUIDv7Generator{}),
		content.WithMetrics(a.metrics),
		content.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	return cal, nil
}

// facts feeds the content calendar from the current burn summary.
func (a *app) facts(ctx context.Context) (content.Facts, error) {
	sum, err := a.scheduler.Summary(ctx)
	if err != nil {
		return content.Facts{}, err
	}

	owed := sum.TotalOwedPercent
	next := ""
	for _, sb := range sum.Scheduled {
		owed = owed.Add(sb.Target.AllocationPercent)
		if next == "" {
			next = sb.Target.Name
		}
	}
	for _, pa := range sum.PendingApprovals {
		owed = owed.Add(pa.Target.AllocationPercent)
		if next == "" {
			next = pa.Target.Name
		}
	}

	top := a.registry.TopByOdds(5)
	if next == "" && len(top) > 0 {
		next = top[0].Name
	}
	return content.Facts{
		Top:           top,
		BurnedPercent: sum.TotalExecutedPercent,
		OwedPercent:   owed,
		Next:          next,
	}, nil
}

// jobs lists the periodic work of the daemon.
func (a *app) jobs() []engine.Job {
	cfg := a.cfg
	jobs := []engine.Job{
		{
			Name:       "burn-tick",
			Interval:   cfg.Burns.CheckInterval,
			RunAtStart: true,
			Run:        a.scheduler.Tick,
		},
	}
	if cfg.Burns.OddsInterval > 0 {
		jobs = append(jobs, engine.Job{
			Name:       "odds-refresh",
			Interval:   cfg.Burns.OddsInterval,
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				n := a.scheduler.RefreshOdds(ctx)
				a.logger.Debug("odds refreshed", "updated", n)
				return nil
			},
		})
	}
	if cfg.Payouts.Enabled {
		jobs = append(jobs, engine.Job{
			Name:     "payouts",
			Interval: cfg.Payouts.Interval,
			Run: func(ctx context.Context) error {
				report, err := a.payouts.Run(ctx, false)
				if err != nil {
					return err
				}
				a.logger.Info("payout run finished",
					"run_id", report.RunID,
					"paid", report.Paid,
					"succeeded", report.Succeeded,
					"failed", report.Failed)
				return nil
			},
		})
	}
	if a.calendar != nil {
		jobs = append(jobs, engine.Job{
			Name:       "content",
			Interval:   cfg.Content.Interval,
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				if _, err := a.calendar.Ensure(ctx); err != nil {
					return err
				}
				_, err := a.calendar.PublishDue(ctx)
				return err
			},
		})
	}
	return jobs
}

