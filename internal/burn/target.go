package burn

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Target is a named, resolvable event with a share of total supply to burn
// once the event is confirmed.
//
// Target is a value type. Methods that change a field return a modified
// copy, so a Target taken from the Registry can never mutate configuration.
type Target struct {
	Name              string          `json:"name"`
	Slug              string          `json:"slug"`
	Collection        string          `json:"collection"`
	AllocationPercent decimal.Decimal `json:"allocation_percent"`
	Odds              decimal.Decimal `json:"odds"`
	Status            Status          `json:"status"`
	DetectedAt        *time.Time      `json:"detected_at,omitempty"`
	ExecutedAt        *time.Time      `json:"executed_at,omitempty"`
	TxReference       string          `json:"tx_reference,omitempty"`
}

// NewTarget validates and builds a target.
// Percent above 100 is accepted; amount computation leaves that to the caller.
func NewTarget(collection, name, slug string, percent, odds decimal.Decimal, status Status) (Target, error) {
	if name == "" {
		return Target{}, fmt.Errorf("target: empty name")
	}
	if slug == "" {
		return Target{}, fmt.Errorf("target %q: empty slug", name)
	}
	if percent.IsNegative() {
		return Target{}, fmt.Errorf("target %q: negative allocation %s", slug, percent)
	}
	if status == "" {
		status = StatusPending
	}
	if !status.Valid() {
		return Target{}, fmt.Errorf("target %q: unknown status %q", slug, status)
	}
	return Target{
		Name:              name,
		Slug:              slug,
		Collection:        collection,
		AllocationPercent: percent,
		Odds:              odds,
		Status:            status,
	}, nil
}

// WithStatus returns a copy advanced to status. Backwards moves fail.
func (t Target) WithStatus(status Status) (Target, error) {
	next, err := t.Status.Advance(status)
	if err != nil {
		return t, fmt.Errorf("target %q: %w", t.Slug, err)
	}
	t.Status = next
	return t, nil
}

// WithOdds returns a copy carrying updated informational odds.
func (t Target) WithOdds(odds decimal.Decimal) Target {
	t.Odds = odds
	return t
}

// WithDetection returns a copy stamped as detected at ts.
// An existing detection time is kept.
func (t Target) WithDetection(ts time.Time) Target {
	if t.DetectedAt == nil {
		t.DetectedAt = &ts
	}
	return t
}

// WithExecution returns a copy stamped as executed with the chain reference.
func (t Target) WithExecution(ts time.Time, ref string) (Target, error) {
	next, err := t.WithStatus(StatusExecuted)
	if err != nil {
		return t, err
	}
	if next.ExecutedAt == nil {
		next.ExecutedAt = &ts
	}
	next.TxReference = ref
	return next, nil
}
