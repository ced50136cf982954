package resolution

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnavailable wraps failures to reach the source. A caller treats it as
// "no new resolutions this round".
var ErrUnavailable = errors.New("resolution source unavailable")

// Source lists the names confirmed for an event.
type Source interface {
	FetchConfirmedNames(ctx context.Context, eventID string) ([]string, error)
}

// OddsSource reports current "Yes" odds per name, in percent.
type OddsSource interface {
	FetchOdds(ctx context.Context, eventID string) (map[string]decimal.Decimal, error)
}

// Static is a fixed Source, useful for dry runs and tests.
type Static struct {
	Names map[string][]string
	Odds  map[string]map[string]decimal.Decimal
}

// FetchConfirmedNames implements Source.
func (s Static) FetchConfirmedNames(_ context.Context, eventID string) ([]string, error) {
	return append([]string(nil), s.Names[eventID]...), nil
}

// FetchOdds implements OddsSource.
func (s Static) FetchOdds(_ context.Context, eventID string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(s.Odds[eventID]))
	for k, v := range s.Odds[eventID] {
		out[k] = v
	}
	return out, nil
}
