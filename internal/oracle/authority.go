package oracle

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"parimutuel-escrow/internal/domain"
)

// Signature domains keep settlement and sweep capabilities apart.
const (
	capabilityDomain = "parimutuel-escrow/settle|"
	sweepDomain      = "parimutuel-escrow/sweep|"
)

// Authority is the settlement authority's public key.
type Authority struct {
	key ed25519.PublicKey
}

// NewAuthority validates pub as an ed25519 curve point.
func NewAuthority(pub []byte) (*Authority, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("authority key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	if _, err := new(edwards25519.Point).SetBytes(pub); err != nil {
		return nil, fmt.Errorf("authority key is not a valid curve point: %w", err)
	}
	key := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(key, pub)
	return &Authority{key: key}, nil
}

// ParseAuthority decodes a base58 public key.
func ParseAuthority(encoded string) (*Authority, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode authority key: %w", err)
	}
	return NewAuthority(raw)
}

// String returns the base58 public key.
func (a *Authority) String() string {
	return base58.Encode(a.key)
}

// Capability authorizes one outcome post for one pot.
type Capability struct {
	PotID     string
	Signature []byte
}

// Encode returns the base58 signature.
func (c Capability) Encode() string {
	return base58.Encode(c.Signature)
}

// DecodeCapability parses a base58 signature for potID.
func DecodeCapability(potID, encoded string) (Capability, error) {
	sig, err := base58.Decode(encoded)
	if err != nil {
		return Capability{}, fmt.Errorf("decode capability: %w", err)
	}
	return Capability{PotID: potID, Signature: sig}, nil
}

// IssueCapability signs potID with the authority's private key.
func IssueCapability(priv ed25519.PrivateKey, potID string) Capability {
	return Capability{
		PotID:     potID,
		Signature: ed25519.Sign(priv, []byte(capabilityDomain+potID)),
	}
}

// Verify checks that c was issued by the authority for potID.
func (a *Authority) Verify(c Capability, potID string) error {
	if c.PotID != potID || len(c.Signature) != ed25519.SignatureSize ||
		!ed25519.Verify(a.key, []byte(capabilityDomain+potID), c.Signature) {
		return domain.NewSettlementError(domain.ReasonUnauthorized, "capability does not authorize settlement", map[string]any{
			"pot_id": potID,
		})
	}
	return nil
}

// SweepCapability authorizes sweeping one pot to one treasury target.
type SweepCapability struct {
	PotID     string
	Target    string
	Signature []byte
}

func sweepMessage(potID, target string) []byte {
	return []byte(sweepDomain + potID + "|" + target)
}

// Encode returns the base58 signature.
func (c SweepCapability) Encode() string {
	return base58.Encode(c.Signature)
}

// DecodeSweepCapability parses a base58 signature for potID and target.
func DecodeSweepCapability(potID, target, encoded string) (SweepCapability, error) {
	sig, err := base58.Decode(encoded)
	if err != nil {
		return SweepCapability{}, fmt.Errorf("decode sweep capability: %w", err)
	}
	return SweepCapability{PotID: potID, Target: target, Signature: sig}, nil
}

// IssueSweepCapability signs potID and target with the treasury's private key.
func IssueSweepCapability(priv ed25519.PrivateKey, potID, target string) SweepCapability {
	return SweepCapability{
		PotID:     potID,
		Target:    target,
		Signature: ed25519.Sign(priv, sweepMessage(potID, target)),
	}
}

// VerifySweep checks that c was issued by the authority for potID and target.
func (a *Authority) VerifySweep(c SweepCapability, potID, target string) error {
	if c.PotID != potID || c.Target != target || len(c.Signature) != ed25519.SignatureSize ||
		!ed25519.Verify(a.key, sweepMessage(potID, target), c.Signature) {
		return domain.NewSettlementError(domain.ReasonUnauthorized, "capability does not authorize sweep", map[string]any{
			"pot_id":   potID,
			"treasury": target,
		})
	}
	return nil
}

// GenerateKey creates a new authority key pair, both base58 encoded.
// The private key is the 32-byte seed.
func GenerateKey() (pub, seed string, err error) {
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	return base58.Encode(pk), base58.Encode(sk.Seed()), nil
}

// ParsePrivateKey decodes a base58 seed.
func ParsePrivateKey(seed string) (ed25519.PrivateKey, error) {
	raw, err := base58.Decode(seed)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key seed must be %d bytes, got %d", ed25519.SeedSize, len(raw))
	}
	return ed25519.NewKeyFromSeed(raw), nil
}
