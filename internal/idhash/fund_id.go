package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"parimutuel-escrow/internal/domain"
)

// ComputeTransitionID computes a deterministic transition_id using SHA256.
// Formula: SHA256(pot_id|kind|nonce)
// Returns hex-encoded hash (64 characters).
func ComputeTransitionID(potID string, kind domain.TransitionKind, nonce string) string {
	data := fmt.Sprintf("%s|%s|%s", potID, string(kind), nonce)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeFundID computes the id of the index-th record produced by a transition.
// Formula: SHA256(transition_id#index)
func ComputeFundID(transitionID string, index int) string {
	data := fmt.Sprintf("%s#%d", transitionID, index)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputePositionID computes a deterministic position_id.
// Formula: SHA256(pot_id|owner|transition_id)
func ComputePositionID(potID, owner, transitionID string) string {
	data := fmt.Sprintf("%s|%s|%s", potID, owner, transitionID)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
