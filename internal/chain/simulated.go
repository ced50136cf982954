package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Simulated is an in-memory Executor for dry environments. Burns and
// transfers draw on a single balance.
type Simulated struct {
	mu      sync.Mutex
	balance uint64
	burned  uint64
	sent    map[string]uint64
	now     func() time.Time
	logger  *slog.Logger
}

// NewSimulated returns a simulated executor holding balance base units.
func NewSimulated(balance uint64, now func() time.Time, logger *slog.Logger) *Simulated {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulated{
		balance: balance,
		sent:    make(map[string]uint64),
		now:     now,
		logger:  logger,
	}
}

// Burn implements Executor.
func (s *Simulated) Burn(ctx context.Context, label string, amount uint64) Result {
	if err := ctx.Err(); err != nil {
		return Failed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if amount > s.balance {
		return Failed(fmt.Errorf("burn %d: %w (have %d)", amount, ErrInsufficientBalance, s.balance))
	}
	s.balance -= amount
	s.burned += amount

	ref := fmt.Sprintf("simulated_%d_%s", s.now().Unix(), label)
	s.logger.Info("simulated burn", "label", label, "amount", amount, "reference", ref)
	return Succeeded(ref)
}

// Transfer implements Executor.
func (s *Simulated) Transfer(ctx context.Context, recipient string, amount uint64) Result {
	if err := ctx.Err(); err != nil {
		return Failed(err)
	}
	if recipient == "" {
		return Failed(fmt.Errorf("transfer: empty recipient"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if amount > s.balance {
		return Failed(fmt.Errorf("transfer %d to %s: %w (have %d)", amount, recipient, ErrInsufficientBalance, s.balance))
	}
	s.balance -= amount
	s.sent[recipient] += amount

	ref := fmt.Sprintf("simulated_%d_%s", s.now().Unix(), recipient)
	s.logger.Info("simulated transfer", "recipient", recipient, "amount", amount, "reference", ref)
	return Succeeded(ref)
}

// Balance implements Executor.
func (s *Simulated) Balance(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

// Burned reports the total burned so far.
func (s *Simulated) Burned() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.burned
}

// Sent reports the total transferred to recipient.
func (s *Simulated) Sent(recipient string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[recipient]
}
