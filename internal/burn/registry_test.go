package burn

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTarget(t *testing.T, name, slug, pct string, status Status) Target {
	t.Helper()
	tg, err := NewTarget("", name, slug, decimal.RequireFromString(pct), decimal.Zero, status)
	require.NoError(t, err)
	return tg
}

func TestNewRegistry_RejectsDuplicateSlugAcrossCollections(t *testing.T) {
	a := Collection{Name: "a", Targets: []Target{mustTarget(t, "Tony Blair", "tony-blair", "2.5", StatusPending)}}
	b := Collection{Name: "b", Targets: []Target{mustTarget(t, "Tony B", "tony-blair", "1", StatusPending)}}

	_, err := NewRegistry(a, b)
	assert.ErrorIs(t, err, ErrDuplicateSlug)
}

func TestRegistry_MatchNameIsCaseInsensitiveExact(t *testing.T) {
	r, err := NewRegistry(Collection{Name: "list", Targets: []Target{
		mustTarget(t, "Robert Downey Jr.", "robert-downey-jr", "1.25", StatusPending),
		mustTarget(t, "Al Gore", "al-gore", "2", StatusPending),
	}})
	require.NoError(t, err)

	got := r.MatchName("AL GORE")
	require.Len(t, got, 1)
	assert.Equal(t, "al-gore", got[0].Slug)
	assert.Equal(t, "list", got[0].Collection)

	// Exact match only: a missing suffix does not match.
	assert.Empty(t, r.MatchName("Robert Downey"))
	assert.Len(t, r.MatchName("robert downey jr."), 1)
}

func TestFoldName_NormalizesComposition(t *testing.T) {
	composed := "Beyonc\u00e9"
	decomposed := "BEYONCE\u0301"
	assert.Equal(t, FoldName(composed), FoldName(decomposed))
}

func TestRegistry_OwedAndPending(t *testing.T) {
	r, err := NewRegistry(
		Collection{Name: "resolved", Targets: []Target{
			mustTarget(t, "Prince Andrew", "prince-andrew", "5.0", StatusConfirmed),
			mustTarget(t, "Bill Clinton", "bill-clinton", "3.5", StatusExecuted),
		}},
		Collection{Name: "active", Targets: []Target{
			mustTarget(t, "Tony Blair", "tony-blair", "2.5", StatusPending),
		}},
	)
	require.NoError(t, err)

	owed := r.Owed()
	require.Len(t, owed, 1)
	assert.Equal(t, "prince-andrew", owed[0].Slug)

	pending := r.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "tony-blair", pending[0].Slug)

	assert.True(t, SumPercent(r.All()).Equal(decimal.RequireFromString("11")))
}

func TestRegistry_SetOddsAndTop(t *testing.T) {
	r, err := NewRegistry(Collection{Name: "list", Targets: []Target{
		mustTarget(t, "A", "a", "1", StatusPending),
		mustTarget(t, "B", "b", "1", StatusPending),
		mustTarget(t, "C", "c", "1", StatusPending),
	}})
	require.NoError(t, err)

	n := r.SetOdds(map[string]decimal.Decimal{
		"b":       decimal.NewFromInt(40),
		"c":       decimal.NewFromInt(12),
		"unknown": decimal.NewFromInt(99),
	})
	assert.Equal(t, 2, n)

	top := r.TopByOdds(2)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].Slug)
	assert.Equal(t, "c", top[1].Slug)
}

func TestTarget_CopiesDoNotMutateRegistry(t *testing.T) {
	r, err := NewRegistry(Collection{Name: "list", Targets: []Target{
		mustTarget(t, "A", "a", "1", StatusPending),
	}})
	require.NoError(t, err)

	tg, _ := r.Get("a")
	confirmed, err := tg.WithStatus(StatusConfirmed)
	require.NoError(t, err)
	executed, err := confirmed.WithExecution(time.Unix(100, 0), "sig")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, executed.Status)
	assert.Equal(t, "sig", executed.TxReference)

	again, _ := r.Get("a")
	assert.Equal(t, StatusPending, again.Status)
	assert.Empty(t, again.TxReference)

	_, err = executed.WithStatus(StatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestNewTarget_Validation(t *testing.T) {
	_, err := NewTarget("c", "", "x", decimal.NewFromInt(1), decimal.Zero, StatusPending)
	assert.Error(t, err)
	_, err = NewTarget("c", "X", "", decimal.NewFromInt(1), decimal.Zero, StatusPending)
	assert.Error(t, err)
	_, err = NewTarget("c", "X", "x", decimal.NewFromInt(-1), decimal.Zero, StatusPending)
	assert.Error(t, err)

	tg, err := NewTarget("c", "X", "x", decimal.NewFromInt(150), decimal.Zero, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, tg.Status)
}
