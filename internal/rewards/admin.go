package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/listburn/internal/ledger"
)

// RecordStore is the part of the ledger that takes new reward records.
type RecordStore interface {
	AddAmbassador(ctx context.Context, a ledger.Ambassador) (ledger.Ambassador, error)
	AddRaid(ctx context.Context, r ledger.RaidContribution) (ledger.RaidContribution, error)
	AddReferral(ctx context.Context, r ledger.Referral) (ledger.Referral, error)
	AddContestWinner(ctx context.Context, w ledger.ContestWinner) (ledger.ContestWinner, error)
}

var errNoWallet = errors.New("wallet is required")

// Admin validates and stores reward records.
type Admin struct {
	store RecordStore
	hold  time.Duration
	now   func() time.Time
}

// NewAdmin creates an Admin. hold is the referral hold period.
func NewAdmin(store RecordStore, hold time.Duration, now func() time.Time) *Admin {
	if now == nil {
		now = time.Now
	}
	return &Admin{store: store, hold: hold, now: now}
}

// AddAmbassador stores an active ambassador.
func (a *Admin) AddAmbassador(ctx context.Context, amb ledger.Ambassador) (ledger.Ambassador, error) {
	if amb.Wallet == "" {
		return ledger.Ambassador{}, fmt.Errorf("add ambassador: %w", errNoWallet)
	}
	if amb.MonthlyReward == 0 {
		return ledger.Ambassador{}, fmt.Errorf("add ambassador: monthly reward must be positive")
	}
	if amb.Tier == "" {
		amb.Tier = "bronze"
	}
	amb.Active = true
	amb.JoinedAt = a.now().UTC()
	return a.store.AddAmbassador(ctx, amb)
}

// AddRaid stores an unpaid raid contribution.
func (a *Admin) AddRaid(ctx context.Context, r ledger.RaidContribution) (ledger.RaidContribution, error) {
	if r.Wallet == "" {
		return ledger.RaidContribution{}, fmt.Errorf("add raid: %w", errNoWallet)
	}
	if r.Kind == "" {
		r.Kind = "reply"
	}
	r.SubmittedAt = a.now().UTC()
	return a.store.AddRaid(ctx, r)
}

// AddReferral stores a referral held until the hold period has passed.
func (a *Admin) AddReferral(ctx context.Context, r ledger.Referral) (ledger.Referral, error) {
	if r.NewWallet == "" || r.ReferrerWallet == "" {
		return ledger.Referral{}, fmt.Errorf("add referral: %w", errNoWallet)
	}
	if r.NewWallet == r.ReferrerWallet {
		return ledger.Referral{}, fmt.Errorf("add referral: self-referral")
	}
	now := a.now().UTC()
	r.SubmittedAt = now
	r.HoldUntil = now.Add(a.hold).Format(time.DateOnly)
	return a.store.AddReferral(ctx, r)
}

// AddContestWinner stores an unpaid contest winner.
func (a *Admin) AddContestWinner(ctx context.Context, w ledger.ContestWinner) (ledger.ContestWinner, error) {
	if w.Wallet == "" {
		return ledger.ContestWinner{}, fmt.Errorf("add contest winner: %w", errNoWallet)
	}
	if w.Place < 1 {
		return ledger.ContestWinner{}, fmt.Errorf("add contest winner: place must be 1 or more")
	}
	return a.store.AddContestWinner(ctx, w)
}
