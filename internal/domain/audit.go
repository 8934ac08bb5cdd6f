package domain

// AuditEntry is the flattened, append-only record of one applied transition.
// Corresponds to ledger_audit table in ClickHouse.
type AuditEntry struct {
	TransitionID   string
	PotID          string
	Kind           TransitionKind
	ConsumedCount  int
	ConsumedValue  int64
	ProducedCount  int
	ProducedValue  int64
	Inflow         int64
	Outflow        int64
	Recipient      string
	PositionID     string // LOCK or REDEEM
	LiveValueAfter int64  // pot value once the transition is applied
	AppliedAt      int64  // Unix timestamp in milliseconds
}

// NewAuditEntry flattens a transition.
func NewAuditEntry(t *Transition, consumedValue, liveValueAfter int64) *AuditEntry {
	e := &AuditEntry{
		TransitionID:   t.TransitionID,
		PotID:          t.PotID,
		Kind:           t.Kind,
		ConsumedCount:  len(t.Consumed),
		ConsumedValue:  consumedValue,
		ProducedCount:  len(t.Produced),
		ProducedValue:  t.ProducedValue(),
		Inflow:         t.Inflow,
		Outflow:        t.Outflow,
		Recipient:      t.Recipient,
		LiveValueAfter: liveValueAfter,
		AppliedAt:      t.AppliedAt,
	}
	switch {
	case t.Position != nil:
		e.PositionID = t.Position.PositionID
	case t.RedeemedPositionID != "":
		e.PositionID = t.RedeemedPositionID
	}
	return e
}
