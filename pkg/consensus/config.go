package consensus

import (
	"errors"
	"fmt"
	"time"
)

// StrengthPolicy decides how much leader eligibility strength a
// block contributes to its branch.
type StrengthPolicy int

// strength policies
const (
	// StrengthStake credits the stake of the block's leader.
	StrengthStake StrengthPolicy = iota
	// StrengthRank credits LeadersPerSlot - rank, the primary
	// leader of the slot contributes the most.
	StrengthRank
	// StrengthUnit credits 1 per block.
	StrengthUnit
)

func (p StrengthPolicy) String() string {
	switch p {
	case StrengthStake:
		return "stake"
	case StrengthRank:
		return "rank"
	case StrengthUnit:
		return "unit"
	default:
		return fmt.Sprintf("strength policy %d", int(p))
	}
}

// ParseStrengthPolicy parses the policy name.
func ParseStrengthPolicy(s string) (StrengthPolicy, error) {
	switch s {
	case "stake":
		return StrengthStake, nil
	case "rank":
		return StrengthRank, nil
	case "unit":
		return StrengthUnit, nil
	}
	return 0, fmt.Errorf("unknown strength policy: %q", s)
}

// Config is the consensus configuration.
type Config struct {
	SlotDuration  time.Duration
	SlotsPerEpoch uint64
	// StabilitySlots is the number of slots before an epoch
	// boundary at which the stake distribution for the epoch's
	// schedule is taken.
	StabilitySlots uint64
	// LeadersPerSlot is the number of stake-ranked participants
	// eligible to produce a block in one slot.
	LeadersPerSlot int
	Strength       StrengthPolicy
	// FinalityDepth is the number of blocks on the canonical
	// branch beyond a block after which the block is finalized.
	FinalityDepth uint64

	MaxOrphans        int
	OrphanTTL         time.Duration
	MaxOrphanSlotLead uint64
	QueueSize         int
	Workers           int
	MaxClockSkewSlots uint64
	MaxBlockTxns      int
	// LivenessSlots is the number of slots without tip progress
	// after which a liveness warning is logged.
	LivenessSlots     uint64
	ScheduleCacheSize int
	InvalidCacheSize  int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		SlotDuration:      2 * time.Second,
		SlotsPerEpoch:     720,
		StabilitySlots:    120,
		LeadersPerSlot:    3,
		Strength:          StrengthStake,
		FinalityDepth:     10,
		MaxOrphans:        1024,
		OrphanTTL:         5 * time.Minute,
		MaxOrphanSlotLead: 360,
		QueueSize:         1024,
		Workers:           4,
		MaxClockSkewSlots: 2,
		MaxBlockTxns:      4096,
		LivenessSlots:     30,
		ScheduleCacheSize: 64,
		InvalidCacheSize:  4096,
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.SlotDuration <= 0 {
		return errors.New("slot duration must be positive")
	}

	if c.SlotsPerEpoch == 0 {
		return errors.New("slots per epoch must be positive")
	}

	if c.StabilitySlots >= c.SlotsPerEpoch {
		return fmt.Errorf("stability slots %d must be less than slots per epoch %d", c.StabilitySlots, c.SlotsPerEpoch)
	}

	if c.LeadersPerSlot <= 0 {
		return errors.New("leaders per slot must be positive")
	}

	if c.FinalityDepth == 0 {
		return errors.New("finality depth must be positive")
	}

	if c.MaxOrphans <= 0 || c.QueueSize <= 0 || c.Workers <= 0 {
		return errors.New("orphan buffer, queue size and worker count must be positive")
	}

	if c.ScheduleCacheSize <= 0 || c.InvalidCacheSize <= 0 {
		return errors.New("cache sizes must be positive")
	}

	return nil
}
