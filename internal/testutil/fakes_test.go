package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/roach88/listburn/internal/chain"
	"github.com/roach88/listburn/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingSink(t *testing.T) {
	sink := &RecordingSink{}
	ctx := context.Background()

	assert.True(t, sink.Notify(ctx, notify.Event{Kind: notify.KindDetected, Slug: "a"}))
	sink.Fail = true
	assert.False(t, sink.Notify(ctx, notify.Event{Kind: notify.KindExecuted, Slug: "a"}))

	assert.Equal(t, []notify.Kind{notify.KindDetected, notify.KindExecuted}, sink.Kinds())
	require.Len(t, sink.Events(), 2)

	sink.Reset()
	assert.Empty(t, sink.Events())
}

func TestFlakyExecutor_FailsThenDelegates(t *testing.T) {
	sim := chain.NewSimulated(1000, func() time.Time { return Epoch }, DiscardLogger())
	ex := NewFlakyExecutor(sim)
	ctx := context.Background()

	ex.FailBurns(1)
	res := ex.Burn(ctx, "x", 10)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrInjected)

	res = ex.Burn(ctx, "x", 10)
	assert.True(t, res.Success)
	assert.Equal(t, 2, ex.BurnCalls())
	assert.Equal(t, uint64(10), sim.Burned())

	ex.FailTransfersTo("bob", 1)
	assert.True(t, ex.Transfer(ctx, "alice", 5).Success)
	assert.False(t, ex.Transfer(ctx, "bob", 5).Success)
	assert.True(t, ex.Transfer(ctx, "bob", 5).Success)
	assert.Equal(t, 3, ex.TransferCalls())
	assert.Equal(t, uint64(5), sim.Sent("bob"))
}
