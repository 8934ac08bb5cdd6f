package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Pot Report: %s\n\n", r.Event.EventName))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Event: %d | Cutoff: %s | Pot: `%s`\n\n",
		r.Event.EventID, time.UnixMilli(r.Event.CutoffTime).UTC().Format(time.RFC3339), r.PotID))

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Positions | %d |\n", r.Summary.PositionCount))
	sb.WriteString(fmt.Sprintf("| Locked (ADA) | %s |\n", FormatADA(r.Summary.TotalLocked)))
	sb.WriteString(fmt.Sprintf("| Injected (ADA) | %s |\n", FormatADA(r.Summary.TotalInjected)))
	sb.WriteString(fmt.Sprintf("| Paid to winners (ADA) | %s |\n", FormatADA(r.Summary.TotalPaid)))
	sb.WriteString(fmt.Sprintf("| Swept (ADA) | %s |\n", FormatADA(r.Summary.TotalSwept)))
	sb.WriteString(fmt.Sprintf("| Live records | %d |\n", r.Summary.LiveFunds))
	sb.WriteString(fmt.Sprintf("| Live value (ADA) | %s |\n", FormatADA(r.Summary.LiveValue)))
	sb.WriteString(fmt.Sprintf("| Redeemed positions | %d |\n", r.Summary.Redeemed))
	sb.WriteString("\n")

	// Outcome
	sb.WriteString("## Outcome\n\n")
	if o := r.Outcome; o != nil {
		status := "live"
		if o.Burned {
			status = "burned"
		}
		sb.WriteString("| Field | Value |\n")
		sb.WriteString("|-------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Winner | %s |\n", o.WinningOutcome))
		sb.WriteString(fmt.Sprintf("| Total pot (ADA) | %s |\n", FormatADA(o.TotalPotAda)))
		sb.WriteString(fmt.Sprintf("| Winning stake | %d |\n", o.TotalWinningStake))
		sb.WriteString(fmt.Sprintf("| Unclaimed (ADA) | %s |\n", FormatADA(o.Unclaimed)))
		sb.WriteString(fmt.Sprintf("| Marker | `%s` (%s) |\n", o.MarkerFundID, status))
	} else {
		sb.WriteString("Outcome not posted.\n")
	}
	sb.WriteString("\n")

	// Stake by outcome
	sb.WriteString("## Stake by Outcome\n\n")
	sb.WriteString("| Outcome | Positions | ADA | Stake |\n")
	sb.WriteString("|---------|-----------|-----|-------|\n")
	for _, row := range r.OutcomeTotals {
		sb.WriteString(fmt.Sprintf("| %s | %d | %s | %d |\n",
			row.Outcome, row.Positions, FormatADA(row.Ada), row.Stake))
	}
	sb.WriteString("\n")

	// Positions
	sb.WriteString("## Positions\n\n")
	if len(r.Positions) > 0 {
		sb.WriteString("| Position | Owner | Outcome | ADA | BEAD | Stake | Winner | Redeemed | Payout (ADA) |\n")
		sb.WriteString("|----------|-------|---------|-----|------|-------|--------|----------|--------------|\n")
		for _, p := range r.Positions {
			sb.WriteString(fmt.Sprintf("| `%s` | %s | %s | %s | %d | %d | %s | %s | %s |\n",
				shortID(p.PositionID), p.Owner, p.Outcome, FormatADA(p.Ada), p.Bead, p.Stake,
				yesNo(p.Winner), yesNo(p.Redeemed), FormatADA(p.Payout)))
		}
	} else {
		sb.WriteString("No positions locked.\n")
	}
	sb.WriteString("\n")

	// Transitions
	sb.WriteString("## Transitions\n\n")
	if len(r.Transitions) > 0 {
		sb.WriteString("| Transition | Kind | In | Out | Inflow (ADA) | Outflow (ADA) | Live after (ADA) | Recipient |\n")
		sb.WriteString("|------------|------|----|-----|--------------|---------------|------------------|-----------|\n")
		for _, t := range r.Transitions {
			live := "-"
			if t.LiveValueAfter != nil {
				live = FormatADA(*t.LiveValueAfter)
			}
			sb.WriteString(fmt.Sprintf("| `%s` | %s | %d | %d | %s | %s | %s | %s |\n",
				shortID(t.TransitionID), t.Kind, t.Consumed, t.Produced,
				FormatADA(t.Inflow), FormatADA(t.Outflow), live, t.Recipient))
		}
	} else {
		sb.WriteString("No transitions applied.\n")
	}
	sb.WriteString("\n")

	// Reconciliation
	if rec := r.Reconciliation; rec != nil {
		sb.WriteString("## Reconciliation\n\n")
		if rec.Match {
			sb.WriteString("**Ledger reconciles.** Stored state matches the transition log.\n\n")
		} else {
			sb.WriteString("**Ledger diverges.**\n\n")
			for _, d := range rec.Divergences {
				sb.WriteString(fmt.Sprintf("- %s\n", d))
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
