// Package tiers implements adaptive scoring tiers: corpus-size detection,
// per-tier capability configuration, cascading scorer fallback, and operator
// warnings. The tier decides which scoring regime is trustworthy for the
// current number of published notes; scorers themselves live elsewhere and
// are invoked through the fallback runner.
package tiers

import (
	"encoding/json"
	"fmt"
)

// Tier is a scoring capability level. Tiers are totally ordered by data
// volume: Minimal carries the least data and Full the most, so integer
// comparison (t < u) answers "is t more conservative than u".
type Tier int

const (
	TierMinimal Tier = iota
	TierLimited
	TierBasic
	TierIntermediate
	TierAdvanced
	TierFull
)

var tierNames = [...]string{"minimal", "limited", "basic", "intermediate", "advanced", "full"}

func (t Tier) String() string {
	if t >= 0 && int(t) < len(tierNames) {
		return tierNames[t]
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Valid reports whether t is one of the six defined tiers.
func (t Tier) Valid() bool {
	return t >= TierMinimal && t <= TierFull
}

// MarshalJSON implements json.Marshaler.
func (t Tier) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("tiers: marshal: %w: %d", ErrUnknownTier, int(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier converts a tier name ("minimal" .. "full") to its Tier.
func ParseTier(s string) (Tier, error) {
	for i, name := range tierNames {
		if s == name {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("tiers: %w: %q", ErrUnknownTier, s)
}

// AllTiers returns the six tiers in ascending order.
func AllTiers() []Tier {
	return []Tier{TierMinimal, TierLimited, TierBasic, TierIntermediate, TierAdvanced, TierFull}
}
