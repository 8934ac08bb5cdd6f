package reporting

import (
	"fmt"
	"strings"
)

// RenderPositionsCSV renders position rows as CSV string.
func RenderPositionsCSV(rows []PositionRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("position_id,owner,outcome,ada,bead,stake,winner,redeemed,payout_ada\n")

	// Rows
	for _, p := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%d,%d,%t,%t,%s\n",
			p.PositionID,
			csvField(p.Owner),
			p.Outcome,
			FormatADA(p.Ada),
			p.Bead,
			p.Stake,
			p.Winner,
			p.Redeemed,
			FormatADA(p.Payout),
		))
	}

	return sb.String()
}

// RenderTransitionsCSV renders transition rows as CSV string.
func RenderTransitionsCSV(rows []TransitionRow) string {
	var sb strings.Builder

	sb.WriteString("transition_id,kind,consumed,produced,inflow_ada,outflow_ada,live_after_ada,recipient,applied_at\n")

	for _, t := range rows {
		live := ""
		if t.LiveValueAfter != nil {
			live = FormatADA(*t.LiveValueAfter)
		}
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%d,%s,%s,%s,%s,%d\n",
			t.TransitionID,
			t.Kind,
			t.Consumed,
			t.Produced,
			FormatADA(t.Inflow),
			FormatADA(t.Outflow),
			live,
			csvField(t.Recipient),
			t.AppliedAt,
		))
	}

	return sb.String()
}

// csvField quotes values containing separators.
func csvField(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
