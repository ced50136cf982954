package content

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/shopspring/decimal"
)

// Post kinds.
const (
	KindOdds       = "odds"
	KindEngagement = "engagement"
	KindFomo       = "fomo"
	KindCountdown  = "countdown"
)

// DefaultTemplates is the copy for each post kind. Templates receive Facts.
var DefaultTemplates = map[string]string{
	KindOdds: `POLYMARKET UPDATE

Hottest burn candidates:
{{range $i, $t := .Top}}{{inc $i}}. {{$t.Name}}: {{pct $t.Odds}} odds, {{pct $t.AllocationPercent}} burn
{{end}}
Who's next?`,
	KindEngagement: `{{pct .BurnedPercent}} of supply burned so far. {{pct .OwedPercent}} more is owed.{{if .Next}} Next up: {{.Next}}.{{end}}`,
	KindFomo:       `Every confirmed name burns supply for good. Fewer tokens, same community.`,
	KindCountdown:  `{{.DaysLeft}} days left until {{.CountdownLabel}}.`,
}

var funcs = template.FuncMap{
	"pct": func(d decimal.Decimal) string { return d.String() + "%" },
	"inc": func(i int) int { return i + 1 },
}

func parseTemplates(overrides map[string]string) (map[string]*template.Template, error) {
	out := make(map[string]*template.Template, len(DefaultTemplates))
	for kind, text := range DefaultTemplates {
		if o, ok := overrides[kind]; ok && strings.TrimSpace(o) != "" {
			text = o
		}
		tmpl, err := template.New(kind).Funcs(funcs).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", kind, err)
		}
		out[kind] = tmpl
	}
	for kind := range overrides {
		if _, ok := DefaultTemplates[kind]; !ok {
			return nil, fmt.Errorf("template %s: unknown post kind", kind)
		}
	}
	return out, nil
}
