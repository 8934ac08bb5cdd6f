package domain

import (
	"encoding/json"
	"fmt"
)

// MarkerAssetName is the token name of the settlement marker.
const MarkerAssetName = "ORACLE"

// OutcomeRecord is the oracle's posted result plus settlement statistics.
// Corresponds to outcomes table in PostgreSQL; also attached as datum to the marker.
type OutcomeRecord struct {
	PotID              string  `json:"-"`
	EventID            int64   `json:"event_id"`
	WinningOutcome     Outcome `json:"winning_outcome"`
	GameStakePolicyRef string  `json:"game_stake_policy_ref"`
	TotalPotAda        int64   `json:"total_pot_ada"`
	TotalWinningStake  int64   `json:"total_winning_stake"`
	MarkerFundID       string  `json:"-"`
	PostedAt           int64   `json:"-"`
	Burned             bool    `json:"-"`
}

// MarshalDatum encodes the external representation attached to the marker.
func (o *OutcomeRecord) MarshalDatum() ([]byte, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshal outcome datum: %w", err)
	}
	return data, nil
}

// UnmarshalOutcomeDatum decodes a marker datum.
func UnmarshalOutcomeDatum(data []byte) (*OutcomeRecord, error) {
	var o OutcomeRecord
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("unmarshal outcome datum: %w", err)
	}
	if !o.WinningOutcome.IsValid() {
		return nil, NewError(CodeInvalidInput, "datum carries unknown outcome", map[string]any{
			"winning_outcome": int(o.WinningOutcome),
		})
	}
	return &o, nil
}
