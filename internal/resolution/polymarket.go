package resolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public gamma API.
const DefaultBaseURL = "https://gamma-api.polymarket.com"

var questionName = regexp.MustCompile(`(?i)Will (.+?) be named`)

// Config configures the Polymarket client.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        uint64
	InitialBackoff    time.Duration
	// BreakerFailures consecutive failed fetches open the circuit for
	// BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Polymarket fetches events from the gamma API.
type Polymarket struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retries uint64
	initial time.Duration
	logger  *slog.Logger
}

// NewPolymarket builds a client. Zero config values take defaults.
func NewPolymarket(cfg Config, logger *slog.Logger) *Polymarket {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}

	failures := cfg.BreakerFailures
	st := gobreaker.Settings{
		Name:    "polymarket",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Polymarket{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker(st),
		retries: cfg.MaxRetries,
		initial: cfg.InitialBackoff,
		logger:  logger,
	}
}

type event struct {
	Slug    string   `json:"slug"`
	Markets []market `json:"markets"`
}

type market struct {
	Question      string    `json:"question"`
	Closed        bool      `json:"closed"`
	OutcomePrices priceList `json:"outcomePrices"`
}

// priceList accepts both a JSON array and the gamma API's string-encoded
// array ("[\"0.95\", \"0.05\"]").
type priceList []decimal.Decimal

func (p *priceList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		if inner == "" {
			*p = nil
			return nil
		}
		data = []byte(inner)
	}
	var out []decimal.Decimal
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("outcome prices: %w", err)
	}
	*p = out
	return nil
}

// ExtractName returns the candidate name from a market question such as
// "Will Jane Doe be named in ...?".
func ExtractName(question string) (string, bool) {
	m := questionName.FindStringSubmatch(question)
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(m[1])
	return name, name != ""
}

// FetchConfirmedNames implements Source.
func (p *Polymarket) FetchConfirmedNames(ctx context.Context, eventID string) ([]string, error) {
	events, err := p.fetchEvents(ctx, eventID)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, ev := range events {
		for _, m := range ev.Markets {
			if !m.Closed || len(m.OutcomePrices) == 0 {
				continue
			}
			if !m.OutcomePrices[0].Equal(decimal.NewFromInt(1)) {
				continue
			}
			if name, ok := ExtractName(m.Question); ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// FetchOdds implements OddsSource. Keys are names as they appear in the
// questions; values are the "Yes" price in percent.
func (p *Polymarket) FetchOdds(ctx context.Context, eventID string) (map[string]decimal.Decimal, error) {
	events, err := p.fetchEvents(ctx, eventID)
	if err != nil {
		return nil, err
	}

	odds := make(map[string]decimal.Decimal)
	for _, ev := range events {
		for _, m := range ev.Markets {
			if len(m.OutcomePrices) == 0 {
				continue
			}
			if name, ok := ExtractName(m.Question); ok {
				odds[name] = m.OutcomePrices[0].Shift(2)
			}
		}
	}
	return odds, nil
}

func (p *Polymarket) fetchEvents(ctx context.Context, eventID string) ([]event, error) {
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.fetchWithRetry(ctx, eventID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch event %s: %w", ErrUnavailable, eventID, err)
	}
	return out.([]event), nil
}

// httpError is a non-2xx response.
type httpError struct {
	Status int
	Body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("polymarket returned %d: %s", e.Status, e.Body)
}

// StatusCode returns the HTTP status of a failed fetch, or 0.
func StatusCode(err error) int {
	var he *httpError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

func (p *Polymarket) fetchWithRetry(ctx context.Context, eventID string) ([]event, error) {
	endpoint := p.base + "/events?slug=" + url.QueryEscape(eventID)

	var events []event
	op := func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			herr := &httpError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return herr
			}
			return backoff.Permanent(herr)
		}

		parsed, err := decodeEvents(raw)
		if err != nil {
			return backoff.Permanent(err)
		}
		events = parsed
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.initial
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, p.retries), ctx)

	notify := func(err error, wait time.Duration) {
		p.logger.Info("polymarket request failed, retrying", "event", eventID, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return events, nil
}

// decodeEvents accepts an array of events or a single event object.
func decodeEvents(raw []byte) ([]event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var one event
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		return []event{one}, nil
	}
	var many []event
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return many, nil
}
