package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/kelseyhightower/envconfig"
	"github.com/roach88/listburn/internal/burn"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// LISTBURN_CHAIN_PRIVATE_KEY.
const EnvPrefix = "listburn"

//go:embed schema.cue
var schemaSource string

// Chain kinds.
const (
	ChainSimulated = "simulated"
	ChainSolana    = "solana"
)

// Resolution kinds.
const (
	ResolutionPolymarket = "polymarket"
	ResolutionStatic     = "static"
)

// Config is the whole daemon configuration.
type Config struct {
	Token      Token        `yaml:"token"      envconfig:"TOKEN"`
	Database   Database     `yaml:"database"   envconfig:"DATABASE"`
	Burns      Burns        `yaml:"burns"      envconfig:"BURNS"`
	Targets    []Collection `yaml:"targets"    ignored:"true"`
	Resolution Resolution   `yaml:"resolution" envconfig:"RESOLUTION"`
	Chain      Chain        `yaml:"chain"      envconfig:"CHAIN"`
	Payouts    Payouts      `yaml:"payouts"    envconfig:"PAYOUTS"`
	Content    Content      `yaml:"content"    envconfig:"CONTENT"`
	Notify     Notify       `yaml:"notify"     envconfig:"NOTIFY"`
	Server     Server       `yaml:"server"     envconfig:"SERVER"`
}

type Token struct {
	TotalSupply uint64 `yaml:"total_supply" split_words:"true"`
	Decimals    uint8  `yaml:"decimals"`
	Symbol      string `yaml:"symbol"`
}

type Database struct {
	Path string `yaml:"path"`
}

type Burns struct {
	RequireConfirmation bool          `yaml:"require_confirmation" split_words:"true"`
	CheckInterval       time.Duration `yaml:"check_interval"       split_words:"true"`
	ExecutionDelay      time.Duration `yaml:"execution_delay"      split_words:"true"`
	OddsInterval        time.Duration `yaml:"odds_interval"        split_words:"true"`
}

// Collection is a group of targets decided by one resolution event.
type Collection struct {
	Name    string   `yaml:"name"`
	Event   string   `yaml:"event"`
	Targets []Target `yaml:"targets"`
}

type Target struct {
	Name    string  `yaml:"name"`
	Slug    string  `yaml:"slug"`
	Percent Percent `yaml:"percent"`
	Status  string  `yaml:"status"`
	Odds    Percent `yaml:"odds"`
}

type Resolution struct {
	Kind              string        `yaml:"kind"`
	BaseURL           string        `yaml:"base_url"            envconfig:"BASE_URL"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" split_words:"true"`
	MaxRetries        uint64        `yaml:"max_retries"         split_words:"true"`
	BreakerFailures   uint32        `yaml:"breaker_failures"    split_words:"true"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown"    split_words:"true"`
	// Confirmed lists names per event for the static source.
	Confirmed map[string][]string `yaml:"confirmed" ignored:"true"`
}

type Chain struct {
	Kind              string        `yaml:"kind"`
	RPCURL            string        `yaml:"rpc_url"             envconfig:"RPC_URL"`
	Mint              string        `yaml:"mint"`
	PrivateKey        string        `yaml:"-"                   split_words:"true"`
	ConfirmTimeout    time.Duration `yaml:"confirm_timeout"     split_words:"true"`
	PollInterval      time.Duration `yaml:"poll_interval"       split_words:"true"`
	RequestsPerSecond float64       `yaml:"requests_per_second" split_words:"true"`
	// SimulatedBalance is in whole tokens.
	SimulatedBalance uint64 `yaml:"simulated_balance" split_words:"true"`
}

type Payouts struct {
	Enabled           bool              `yaml:"enabled"`
	Interval          time.Duration     `yaml:"interval"`
	PerPersonCap      uint64            `yaml:"per_person_cap"     split_words:"true"`
	TotalCap          uint64            `yaml:"total_cap"          split_words:"true"`
	PerProgramCaps    map[string]uint64 `yaml:"per_program_caps"   ignored:"true"`
	MaxAmbassadors    int               `yaml:"max_ambassadors"    split_words:"true"`
	ReferralHold      time.Duration     `yaml:"referral_hold"      split_words:"true"`
	PlaceholderPrefix string            `yaml:"placeholder_prefix" split_words:"true"`
}

type Content struct {
	Enabled        bool              `yaml:"enabled"`
	Interval       time.Duration     `yaml:"interval"`
	StaleAfter     time.Duration     `yaml:"stale_after"     split_words:"true"`
	Timezone       string            `yaml:"timezone"`
	CountdownTo    string            `yaml:"countdown_to"    split_words:"true"`
	CountdownLabel string            `yaml:"countdown_label" split_words:"true"`
	WebhookURL     string            `yaml:"webhook_url"     envconfig:"WEBHOOK_URL"`
	Templates      map[string]string `yaml:"templates"       ignored:"true"`
}

type Notify struct {
	Log               bool              `yaml:"log"`
	WebhookURL        string            `yaml:"webhook_url"         envconfig:"WEBHOOK_URL"`
	Username          string            `yaml:"username"`
	Timeout           time.Duration     `yaml:"timeout"`
	RequestsPerSecond float64           `yaml:"requests_per_second" split_words:"true"`
	MaxRetries        uint64            `yaml:"max_retries"         split_words:"true"`
	Templates         map[string]string `yaml:"templates"           ignored:"true"`
}

type Server struct {
	Listen       string        `yaml:"listen"`
	ReadTimeout  time.Duration `yaml:"read_timeout"  split_words:"true"`
	WriteTimeout time.Duration `yaml:"write_timeout" split_words:"true"`
	// Token, when set, is required as a bearer token on mutating requests.
	Token string `yaml:"-"`
}

// Percent is an exact decimal read from a YAML number.
type Percent struct {
	decimal.Decimal
}

// UnmarshalYAML parses the scalar text so 4.25 stays exactly 4.25.
func (p *Percent) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: percent must be a number", node.Line)
	}
	d, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: parse percent %q: %w", node.Line, node.Value, err)
	}
	p.Decimal = d
	return nil
}

// Default returns the configuration used for anything a file leaves out.
func Default() *Config {
	return &Config{
		Database: Database{Path: "data/listburn.db"},
		Burns: Burns{
			CheckInterval: time.Minute,
			OddsInterval:  15 * time.Minute,
		},
		Resolution: Resolution{
			Kind:              ResolutionPolymarket,
			Timeout:           15 * time.Second,
			RequestsPerSecond: 2,
			MaxRetries:        3,
			BreakerFailures:   5,
			BreakerCooldown:   time.Minute,
		},
		Chain: Chain{
			Kind:              ChainSimulated,
			ConfirmTimeout:    time.Minute,
			PollInterval:      2 * time.Second,
			RequestsPerSecond: 5,
		},
		Payouts: Payouts{
			Interval:          7 * 24 * time.Hour,
			ReferralHold:      7 * 24 * time.Hour,
			PlaceholderPrefix: "Example",
		},
		Content: Content{
			Interval:   5 * time.Minute,
			StaleAfter: 24 * time.Hour,
			Timezone:   "UTC",
		},
		Notify: Notify{
			Log:               true,
			Username:          "listburn",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 1,
			MaxRetries:        3,
		},
		Server: Server{
			Listen:       "127.0.0.1:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Load reads path, validates it against the schema, applies it over the
// defaults and finally applies LISTBURN_* environment overrides.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load without the file.
func Parse(buf []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(buf, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SchemaError lists every schema violation in a document.
type SchemaError struct {
	Details string
}

func (e *SchemaError) Error() string {
	return "schema: " + e.Details
}

// IsSchemaError reports whether err came from schema validation.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

func validateSchema(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	doc := ctx.Encode(normalize(raw))
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		details := strings.TrimSpace(cueerrors.Details(err, nil))
		return &SchemaError{Details: details}
	}
	return nil
}

// normalize rewrites decoded YAML so it encodes cleanly: timestamps become
// their date text and empty keys are dropped.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			if val == nil {
				continue
			}
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	case time.Time:
		if x.Equal(x.Truncate(24 * time.Hour)) {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339)
	default:
		return v
	}
}

// Validate checks what the schema cannot: cross-field requirements and
// values that need parsing.
func (c *Config) Validate() error {
	var errs []error
	if c.Chain.Kind == ChainSolana {
		if c.Chain.RPCURL == "" {
			errs = append(errs, errors.New("chain.rpc_url is required for solana"))
		}
		if c.Chain.Mint == "" {
			errs = append(errs, errors.New("chain.mint is required for solana"))
		}
		if c.Chain.PrivateKey == "" {
			errs = append(errs, errors.New("LISTBURN_CHAIN_PRIVATE_KEY is required for solana"))
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	} else if _, err := c.CountdownDate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Registry(); err != nil {
		errs = append(errs, err)
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"burns.check_interval", c.Burns.CheckInterval},
		{"payouts.interval", c.Payouts.Interval},
		{"content.interval", c.Content.Interval},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Registry builds the target registry in declaration order.
func (c *Config) Registry() (*burn.Registry, error) {
	collections := make([]burn.Collection, 0, len(c.Targets))
	for _, col := range c.Targets {
		bc := burn.Collection{Name: col.Name}
		for _, t := range col.Targets {
			target, err := burn.NewTarget(col.Name, t.Name, t.Slug,
				t.Percent.Decimal, t.Odds.Decimal, burn.Status(t.Status))
			if err != nil {
				return nil, fmt.Errorf("targets.%s: %w", col.Name, err)
			}
			bc.Targets = append(bc.Targets, target)
		}
		collections = append(collections, bc)
	}
	return burn.NewRegistry(collections...)
}

// Events maps each collection to its resolution event.
func (c *Config) Events() map[string]string {
	events := make(map[string]string)
	for _, col := range c.Targets {
		if col.Event != "" {
			events[col.Name] = col.Event
		}
	}
	return events
}

// Location loads content.timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Content.Timezone)
	if err != nil {
		return nil, fmt.Errorf("content.timezone: %w", err)
	}
	return loc, nil
}

// CountdownDate parses content.countdown_to in the content timezone. A zero
// time means no countdown.
func (c *Config) CountdownDate() (time.Time, error) {
	if c.Content.CountdownTo == "" {
		return time.Time{}, nil
	}
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}
	d, err := time.ParseInLocation(time.DateOnly, c.Content.CountdownTo, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("content.countdown_to: %w", err)
	}
	return d, nil
}
