package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/mr-tron/base58"

	"parimutuel-escrow/internal/domain"
)

// ComputePotID computes the deterministic pot identity of an event.
// Formula: base58(SHA256(event_id|event_name|cutoff_time))
// Any change in the triple yields a different pot.
func ComputePotID(p domain.EventParams) string {
	data := fmt.Sprintf("%d|%s|%d", p.EventID, p.EventName, p.CutoffTime)
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}

// ComputeGameStakePolicyRef identifies the stake token family of an event.
// Formula: SHA256("stake"|pot_id), hex-encoded.
func ComputeGameStakePolicyRef(p domain.EventParams) string {
	hash := sha256.Sum256([]byte("stake|" + ComputePotID(p)))
	return hex.EncodeToString(hash[:])
}

// ComputeMarkerPolicyRef identifies the settlement marker token of an event.
// Formula: SHA256("marker"|pot_id), hex-encoded.
func ComputeMarkerPolicyRef(p domain.EventParams) string {
	hash := sha256.Sum256([]byte("marker|" + ComputePotID(p)))
	return hex.EncodeToString(hash[:])
}

// StakeTokenName derives the stake token name: str(outcome) + eventName.
func StakeTokenName(outcome domain.Outcome, eventName string) string {
	return strconv.Itoa(int(outcome)) + eventName
}
