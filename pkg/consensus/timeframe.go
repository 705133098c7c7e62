package consensus

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// TimeFrame maps wall clock time to slots and epochs.
type TimeFrame struct {
	Genesis       time.Time
	SlotDuration  time.Duration
	SlotsPerEpoch uint64
}

// NewTimeFrame creates the time frame of the configuration.
func NewTimeFrame(genesis time.Time, cfg Config) TimeFrame {
	return TimeFrame{
		Genesis:       genesis,
		SlotDuration:  cfg.SlotDuration,
		SlotsPerEpoch: cfg.SlotsPerEpoch,
	}
}

// SlotAt returns the slot of the given time. Slot 0 is the genesis
// slot, times before genesis map to it.
func (t TimeFrame) SlotAt(tm time.Time) uint64 {
	if !tm.After(t.Genesis) {
		return 0
	}

	return uint64(tm.Sub(t.Genesis) / t.SlotDuration)
}

// SlotStart returns the start time of the slot.
func (t TimeFrame) SlotStart(slot uint64) time.Time {
	return t.Genesis.Add(time.Duration(slot) * t.SlotDuration)
}

// EpochOf returns the epoch of the slot.
func (t TimeFrame) EpochOf(slot uint64) uint64 {
	return slot / t.SlotsPerEpoch
}

// EpochStart returns the first slot of the epoch.
func (t TimeFrame) EpochStart(epoch uint64) uint64 {
	return epoch * t.SlotsPerEpoch
}
