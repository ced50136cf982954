package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/roach88/listburn/internal/alloc"
	"github.com/roach88/listburn/internal/engine"
	"github.com/roach88/listburn/internal/ledger"
	"github.com/roach88/listburn/internal/rewards"
	"github.com/shopspring/decimal"
)

const timeLayout = "2006-01-02 15:04 MST"

func tokens(base uint64, decimals uint8) string {
	return alloc.FormatBaseUnits(base, decimals)
}

func table(fn func(w *tabwriter.Writer)) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fn(w)
	_ = w.Flush()
	return b.String()
}

type statusView struct {
	summary  engine.Summary
	decimals uint8
}

func (v statusView) JSONValue() any { return v.summary }

func (v statusView) String() string {
	s := v.summary
	var b strings.Builder
	fmt.Fprintf(&b, "Burns: %d detected, %d executed, %d awaiting approval, %d rejected\n",
		s.Stats.Total, s.Stats.Executed, s.Stats.AwaitingApproval, s.Stats.Rejected)
	fmt.Fprintf(&b, "Burned: %s%% of supply. Owed: %s%%.\n",
		s.TotalExecutedPercent.String(), s.TotalOwedPercent.String())
	if s.Stats.LastCheck != nil {
		fmt.Fprintf(&b, "Last check: %s\n", s.Stats.LastCheck.UTC().Format(timeLayout))
	} else {
		b.WriteString("Last check: never\n")
	}

	if len(s.PendingApprovals) > 0 {
		b.WriteString("\nAwaiting approval:\n")
		b.WriteString(pendingView{items: s.PendingApprovals, decimals: v.decimals}.rows())
	}
	if len(s.Scheduled) > 0 {
		b.WriteString("\nScheduled:\n")
		b.WriteString(table(func(w *tabwriter.Writer) {
			for _, sb := range s.Scheduled {
				fmt.Fprintf(w, "  %s\t%s\t%s%%\t%s\tdue %s",
					sb.Target.Slug, sb.Target.Name, sb.Target.AllocationPercent,
					tokens(sb.Amount, v.decimals), sb.ScheduledFor.UTC().Format(timeLayout))
				if sb.Attempts > 0 {
					fmt.Fprintf(w, "\t%d failed: %s", sb.Attempts, sb.LastError)
				}
				fmt.Fprintln(w)
			}
		}))
	}
	if len(s.Owed) > 0 {
		b.WriteString("\nOwed:\n")
		b.WriteString(table(func(w *tabwriter.Writer) {
			for _, t := range s.Owed {
				fmt.Fprintf(w, "  %s\t%s\t%s%%\n", t.Slug, t.Name, t.AllocationPercent)
			}
		}))
	}
	if len(s.Executed) > 0 {
		b.WriteString("\nExecuted:\n")
		b.WriteString(table(func(w *tabwriter.Writer) {
			for _, e := range s.Executed {
				fmt.Fprintf(w, "  %s\t%s\t%s%%\t%s\t%s\n",
					e.Slug, e.Name, e.AllocationPercent, tokens(e.Amount, v.decimals), e.TxRef)
			}
		}))
	}
	return strings.TrimRight(b.String(), "\n")
}

type pendingView struct {
	items    []engine.PendingApproval
	decimals uint8
}

func (v pendingView) JSONValue() any {
	if v.items == nil {
		return []engine.PendingApproval{}
	}
	return v.items
}

func (v pendingView) String() string {
	if len(v.items) == 0 {
		return "No burns awaiting approval."
	}
	return strings.TrimRight(v.rows(), "\n")
}

func (v pendingView) rows() string {
	return table(func(w *tabwriter.Writer) {
		for _, pa := range v.items {
			fmt.Fprintf(w, "  %s\t%s\t%s%%\t%s\tdetected %s\n",
				pa.Target.Slug, pa.Target.Name, pa.Target.AllocationPercent,
				tokens(pa.Amount, v.decimals), pa.DetectedAt.UTC().Format(timeLayout))
		}
	})
}

type scheduledView struct {
	burn     engine.ScheduledBurn
	decimals uint8
}

func (v scheduledView) JSONValue() any { return v.burn }

func (v scheduledView) String() string {
	return fmt.Sprintf("Approved %s: %s tokens, due %s",
		v.burn.Target.Slug, tokens(v.burn.Amount, v.decimals), v.burn.ScheduledFor.UTC().Format(timeLayout))
}

type amountView struct {
	Percent   decimal.Decimal `json:"percent"`
	BaseUnits uint64          `json:"base_units"`
	Tokens    string          `json:"tokens"`
}

func (v amountView) String() string {
	return fmt.Sprintf("%s%% of supply = %s tokens (%d base units)", v.Percent, v.Tokens, v.BaseUnits)
}

type reportView struct {
	report rewards.Report
}

func (v reportView) JSONValue() any { return v.report }

func (v reportView) String() string {
	r := v.report
	batch := r.Batch
	var b strings.Builder
	switch {
	case len(batch.Items) == 0:
		return "Nothing to pay."
	case r.DryRun:
		fmt.Fprintf(&b, "Payout preview: %d items to %d recipients, %d of %d requested tokens\n",
			len(batch.Items), batch.Recipients, batch.Total, batch.Requested)
		b.WriteString(table(func(w *tabwriter.Writer) {
			for _, it := range batch.Items {
				fmt.Fprintf(w, "  %s\t%s\t%d\t%s\n", it.Program, it.Recipient, it.Amount, it.Reason)
			}
		}))
	default:
		fmt.Fprintf(&b, "Payout run %s: paid %d tokens, %d succeeded, %d failed\n",
			r.RunID, r.Paid, r.Succeeded, r.Failed)
		b.WriteString(table(func(w *tabwriter.Writer) {
			for _, res := range r.Results {
				outcome := res.Reference
				if !res.Success {
					outcome = "FAILED: " + res.Error
				}
				fmt.Fprintf(w, "  %s\t%s\t%d\t%s\n", res.Program, res.Recipient, res.Amount, outcome)
			}
		}))
	}
	return strings.TrimRight(b.String(), "\n")
}

type postsView struct {
	posts []ledger.Post
	loc   *time.Location
}

func (v postsView) JSONValue() any {
	if v.posts == nil {
		return []ledger.Post{}
	}
	return v.posts
}

func (v postsView) String() string {
	if len(v.posts) == 0 {
		return "No upcoming posts."
	}
	loc := v.loc
	if loc == nil {
		loc = time.UTC
	}
	return strings.TrimRight(table(func(w *tabwriter.Writer) {
		for _, p := range v.posts {
			first, _, _ := strings.Cut(p.Content, "\n")
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.ScheduledFor.In(loc).Format(timeLayout), p.Kind, first)
		}
	}), "\n")
}

type recordView struct {
	label  string
	id     int64
	record any
}

func (v recordView) JSONValue() any { return v.record }

func (v recordView) String() string {
	return fmt.Sprintf("Added %s #%d", v.label, v.id)
}
