package content

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/roach88/listburn/internal/burn"
	"github.com/roach88/listburn/internal/ledger"
	"github.com/roach88/listburn/internal/metrics"
	"github.com/shopspring/decimal"
)

// DefaultStaleAfter is how long a generated calendar stays valid.
const DefaultStaleAfter = 24 * time.Hour

// Facts is what post templates are rendered from.
type Facts struct {
	Top            []burn.Target
	BurnedPercent  decimal.Decimal
	OwedPercent    decimal.Decimal
	Next           string
	DaysLeft       int
	CountdownLabel string
}

// FactsFunc gathers the current facts.
type FactsFunc func(ctx context.Context) (Facts, error)

// Publisher posts text somewhere public and returns its external reference.
type Publisher interface {
	Publish(ctx context.Context, text string) (string, error)
}

// Store keeps the calendar.
type Store interface {
	ReplaceCalendar(ctx context.Context, posts []ledger.Post, generatedAt time.Time) error
	Calendar(ctx context.Context) (ledger.CalendarInfo, error)
	DuePosts(ctx context.Context, now time.Time) ([]ledger.Post, error)
	MarkPosted(ctx context.Context, id, externalRef string) error
}

// Config configures a Calendar.
type Config struct {
	StaleAfter time.Duration
	Location   *time.Location
	Templates  map[string]string
	// CountdownTo is the date the weekly countdown post counts down to.
	// A zero value leaves the countdown out.
	CountdownTo    time.Time
	CountdownLabel string
}

// Calendar generates and publishes scheduled posts.
type Calendar struct {
	cfg       Config
	store     Store
	publisher Publisher
	facts     FactsFunc
	templates map[string]*template.Template
	now       func() time.Time
	ids       interface{ Generate() string }
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures a Calendar.
type Option func(*Calendar)

// WithNow sets the time source.
func WithNow(now func() time.Time) Option {
	return func(c *Calendar) { c.now = now }
}

// WithIDs sets the post id generator.
func WithIDs(ids interface{ Generate() string }) Option {
	return func(c *Calendar) { c.ids = ids }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Calendar) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Calendar) { c.logger = l }
}

// NewCalendar creates a calendar. It fails when a template override does
// not parse.
func NewCalendar(cfg Config, store Store, publisher Publisher, facts FactsFunc, opts ...Option) (*Calendar, error) {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CountdownLabel == "" {
		cfg.CountdownLabel = "the deadline"
	}
	tmpls, err := parseTemplates(cfg.Templates)
	if err != nil {
		return nil, fmt.Errorf("content calendar: %w", err)
	}
	c := &Calendar{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		facts:     facts,
		templates: tmpls,
		now:       time.Now,
		ids:       uuidV7{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ensure regenerates the calendar when it is stale or has nothing left to
// post. It reports whether a new calendar was stored.
func (c *Calendar) Ensure(ctx context.Context) (bool, error) {
	info, err := c.store.Calendar(ctx)
	if err != nil {
		return false, fmt.Errorf("ensure calendar: %w", err)
	}
	now := c.now()
	if info.Unposted > 0 && !info.GeneratedAt.IsZero() && now.Sub(info.GeneratedAt) < c.cfg.StaleAfter {
		return false, nil
	}

	posts, err := c.Generate(ctx, now)
	if err != nil {
		return false, fmt.Errorf("ensure calendar: %w", err)
	}
	if err := c.store.ReplaceCalendar(ctx, posts, now); err != nil {
		return false, fmt.Errorf("ensure calendar: %w", err)
	}
	c.logger.Info("content calendar generated", "posts", len(posts))
	return true, nil
}

type slot struct {
	kind string
	day  int
	hour int
}

// weekly lists every slot of one week, relative to the generation day.
var weekly = func() []slot {
	var out []slot
	for d := 0; d < 7; d++ {
		out = append(out, slot{KindOdds, d, 9})
	}
	for d := 0; d < 7; d += 2 {
		out = append(out, slot{KindEngagement, d, 14})
	}
	for d := 1; d < 7; d += 3 {
		out = append(out, slot{KindFomo, d, 19})
	}
	return out
}()

// Generate renders a week of posts starting today, in scheduled order.
// Slots already in the past are left out.
func (c *Calendar) Generate(ctx context.Context, now time.Time) ([]ledger.Post, error) {
	facts, err := c.facts(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate calendar: %w", err)
	}

	local := now.In(c.cfg.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.cfg.Location)

	var posts []ledger.Post
	add := func(kind string, at time.Time) error {
		if at.Before(now) {
			return nil
		}
		text, err := c.render(kind, facts)
		if err != nil {
			return err
		}
		posts = append(posts, ledger.Post{
			ID:           c.ids.Generate(),
			Kind:         kind,
			Content:      text,
			ScheduledFor: at.UTC(),
		})
		return nil
	}

	for _, s := range weekly {
		at := midnight.AddDate(0, 0, s.day).Add(time.Duration(s.hour) * time.Hour)
		if err := add(s.kind, at); err != nil {
			return nil, err
		}
	}

	if !c.cfg.CountdownTo.IsZero() {
		// next Sunday, a full week ahead when today is Sunday
		sunday := midnight.AddDate(0, 0, 7-int(local.Weekday())).Add(12 * time.Hour)
		facts.DaysLeft = int(math.Ceil(c.cfg.CountdownTo.Sub(now).Hours() / 24))
		facts.CountdownLabel = c.cfg.CountdownLabel
		if facts.DaysLeft > 0 {
			if err := add(KindCountdown, sunday); err != nil {
				return nil, err
			}
		}
	}

	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].ScheduledFor.Before(posts[j].ScheduledFor)
	})
	return posts, nil
}

func (c *Calendar) render(kind string, facts Facts) (string, error) {
	var b strings.Builder
	if err := c.templates[kind].Execute(&b, facts); err != nil {
		return "", fmt.Errorf("render %s: %w", kind, err)
	}
	return b.String(), nil
}

// PublishDue posts every due entry in order. A failed post stays unposted
// and is tried again on the next call.
func (c *Calendar) PublishDue(ctx context.Context) (int, error) {
	due, err := c.store.DuePosts(ctx, c.now())
	if err != nil {
		return 0, fmt.Errorf("publish due posts: %w", err)
	}

	published := 0
	for _, p := range due {
		ref, err := c.publisher.Publish(ctx, p.Content)
		if err != nil {
			c.metrics.PostPublished(false)
			c.logger.Warn("post failed, will retry", "id", p.ID, "kind", p.Kind, "error", err)
			continue
		}
		if err := c.store.MarkPosted(ctx, p.ID, ref); err != nil {
			return published, fmt.Errorf("publish due posts: %w", err)
		}
		published++
		c.metrics.PostPublished(true)
		c.logger.Info("post published", "id", p.ID, "kind", p.Kind, "ref", ref)
	}
	return published, nil
}

type uuidV7 struct{}

func (uuidV7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
