package testutil

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/listburn/internal/chain"
	"github.com/roach88/listburn/internal/notify"
)

// ErrInjected is the failure FlakyExecutor reports.
var ErrInjected = errors.New("injected failure")

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RecordingSink is a notify.Sink that keeps every event.
type RecordingSink struct {
	mu     sync.Mutex
	events []notify.Event
	// Fail makes Notify report non-delivery. Events are still recorded.
	Fail bool
}

// Notify implements notify.Sink.
func (s *RecordingSink) Notify(_ context.Context, ev notify.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return !s.Fail
}

// Events returns a copy of the recorded events.
func (s *RecordingSink) Events() []notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Event(nil), s.events...)
}

// Kinds returns the kinds of the recorded events in order.
func (s *RecordingSink) Kinds() []notify.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Kind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

// Reset forgets recorded events.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// FlakyExecutor wraps an executor and fails a set number of calls before
// delegating.
type FlakyExecutor struct {
	chain.Executor

	mu            sync.Mutex
	failBurns     int
	failTransfers map[string]int
	burnCalls     int
	transferCalls int
}

// NewFlakyExecutor wraps next.
func NewFlakyExecutor(next chain.Executor) *FlakyExecutor {
	return &FlakyExecutor{Executor: next, failTransfers: make(map[string]int)}
}

// FailBurns makes the next n burns fail.
func (f *FlakyExecutor) FailBurns(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failBurns = n
}

// FailTransfersTo makes the next n transfers to recipient fail.
func (f *FlakyExecutor) FailTransfersTo(recipient string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTransfers[recipient] = n
}

// Burn implements chain.Executor.
func (f *FlakyExecutor) Burn(ctx context.Context, label string, amount uint64) chain.Result {
	f.mu.Lock()
	f.burnCalls++
	fail := f.failBurns > 0
	if fail {
		f.failBurns--
	}
	f.mu.Unlock()

	if fail {
		return chain.Failed(ErrInjected)
	}
	return f.Executor.Burn(ctx, label, amount)
}

// Transfer implements chain.Executor.
func (f *FlakyExecutor) Transfer(ctx context.Context, recipient string, amount uint64) chain.Result {
	f.mu.Lock()
	f.transferCalls++
	fail := f.failTransfers[recipient] > 0
	if fail {
		f.failTransfers[recipient]--
	}
	f.mu.Unlock()

	if fail {
		return chain.Failed(ErrInjected)
	}
	return f.Executor.Transfer(ctx, recipient, amount)
}

// BurnCalls reports how many burns were attempted.
func (f *FlakyExecutor) BurnCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.burnCalls
}

// TransferCalls reports how many transfers were attempted.
func (f *FlakyExecutor) TransferCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transferCalls
}
