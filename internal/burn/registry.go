package burn

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Collection is a named group of targets from configuration.
type Collection struct {
	Name    string
	Targets []Target
}

// Registry holds every configured target.
//
// Configuration fields are immutable after construction. Only the
// informational odds can change, through SetOdds.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	order  []string // slugs in declaration order
	bySlug map[string]Target
	byName map[string][]string // folded name -> slugs
}

// NewRegistry builds a registry, rejecting slugs that repeat anywhere across
// the collections.
func NewRegistry(collections ...Collection) (*Registry, error) {
	r := &Registry{
		bySlug: make(map[string]Target),
		byName: make(map[string][]string),
	}
	for _, c := range collections {
		for _, t := range c.Targets {
			if _, dup := r.bySlug[t.Slug]; dup {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateSlug, t.Slug)
			}
			if t.Collection == "" {
				t.Collection = c.Name
			}
			r.bySlug[t.Slug] = t
			r.order = append(r.order, t.Slug)
			key := FoldName(t.Name)
			r.byName[key] = append(r.byName[key], t.Slug)
		}
	}
	return r, nil
}

// FoldName normalizes a name for comparison: NFC, then Unicode case folding.
// Comparison stays an exact match; punctuation and suffixes still matter
// ("Robert Downey Jr." does not match "Robert Downey").
func FoldName(name string) string {
	return cases.Fold().String(norm.NFC.String(name))
}

// Get returns the target for slug.
func (r *Registry) Get(slug string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.bySlug[slug]
	return t, ok
}

// All returns every target in declaration order.
func (r *Registry) All() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Target, 0, len(r.order))
	for _, slug := range r.order {
		out = append(out, r.bySlug[slug])
	}
	return out
}

// MatchName returns every configured target whose name equals name,
// ignoring case, in declaration order.
func (r *Registry) MatchName(name string) []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slugs := r.byName[FoldName(name)]
	out := make([]Target, 0, len(slugs))
	for _, slug := range slugs {
		out = append(out, r.bySlug[slug])
	}
	return out
}

// Owed returns targets configured as confirmed: the outcome already
// happened and the burn is owed.
func (r *Registry) Owed() []Target {
	return r.withStatus(StatusConfirmed)
}

// Pending returns targets still waiting on an external resolution.
func (r *Registry) Pending() []Target {
	return r.withStatus(StatusPending)
}

func (r *Registry) withStatus(s Status) []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Target
	for _, slug := range r.order {
		if t := r.bySlug[slug]; t.Status == s {
			out = append(out, t)
		}
	}
	return out
}

// SetOdds updates informational odds for every target whose folded name is a
// key in odds. Returns the number of targets updated.
func (r *Registry) SetOdds(odds map[string]decimal.Decimal) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, o := range odds {
		for _, slug := range r.byName[FoldName(name)] {
			r.bySlug[slug] = r.bySlug[slug].WithOdds(o)
			n++
		}
	}
	return n
}

// TopByOdds returns up to n pending targets ordered by odds, highest first.
// Ties keep declaration order.
func (r *Registry) TopByOdds(n int) []Target {
	pending := r.Pending()
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Odds.GreaterThan(pending[j].Odds)
	})
	if n >= 0 && len(pending) > n {
		pending = pending[:n]
	}
	return pending
}

// SumPercent adds the allocation percentages of targets.
func SumPercent(targets []Target) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range targets {
		sum = sum.Add(t.AllocationPercent)
	}
	return sum
}
