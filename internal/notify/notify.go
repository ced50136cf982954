package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Kind is the type of a lifecycle event.
type Kind string

const (
	KindDetected        Kind = "detected"
	KindPendingApproval Kind = "pending_approval"
	KindRejected        Kind = "rejected"
	KindExecuted        Kind = "executed"
	KindExecutionFailed Kind = "execution_failed"
)

// Event describes one lifecycle step of a burn target.
type Event struct {
	Kind              Kind            `json:"kind"`
	Slug              string          `json:"slug"`
	Name              string          `json:"name"`
	AllocationPercent decimal.Decimal `json:"allocation_percent"`
	Amount            uint64          `json:"amount,omitempty"`
	// AmountDisplay is Amount in whole tokens, formatted for people.
	AmountDisplay string    `json:"amount_display,omitempty"`
	TxRef         string    `json:"tx_ref,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// Sink receives events. Notify returns false when delivery failed.
type Sink interface {
	Notify(ctx context.Context, ev Event) bool
}

// Nop drops every event.
type Nop struct{}

// Notify implements Sink.
func (Nop) Notify(context.Context, Event) bool { return true }

// Log writes events to a structured logger.
type Log struct {
	Logger *slog.Logger
}

// Notify implements Sink.
func (l Log) Notify(ctx context.Context, ev Event) bool {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if ev.Kind == KindExecutionFailed {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "burn event",
		"kind", ev.Kind,
		"slug", ev.Slug,
		"name", ev.Name,
		"percent", ev.AllocationPercent.String(),
		"amount", ev.AmountDisplay,
		"tx_ref", ev.TxRef,
		"error", ev.Error)
	return true
}

// Fanout delivers to every sink concurrently and succeeds only when all of
// them do.
type Fanout []Sink

// Notify implements Sink.
func (f Fanout) Notify(ctx context.Context, ev Event) bool {
	results := make([]bool, len(f))
	var g errgroup.Group
	for i, sink := range f {
		g.Go(func() error {
			results[i] = sink.Notify(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()

	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}
