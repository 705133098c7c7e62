package consensus

import (
	"encoding/binary"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// EpochSchedule is the leader schedule of one epoch. It is derived
// from the stake distribution at the epoch's stability point and is
// never modified, a new version replaces it.
//
// Each slot has a stake weighted ranking of the pools, the pools
// ranked below LeadersPerSlot are eligible to produce a block in the
// slot.
type EpochSchedule struct {
	Epoch uint64
	// Version is the hash of the block whose stake distribution
	// the schedule is derived from.
	Version Hash
	Nonce   Rand
	Stake   StakeDistribution

	leadersPerSlot int
	strength       StrengthPolicy
	weights        []uint64
}

func newEpochSchedule(epoch uint64, version Hash, nonce Rand, stake StakeDistribution, cfg Config) *EpochSchedule {
	var entries StakeDistribution
	for _, e := range stake {
		if e.Stake > 0 {
			entries = append(entries, e)
		}
	}

	weights := make([]uint64, len(entries))
	for i, e := range entries {
		weights[i] = e.Stake
	}

	return &EpochSchedule{
		Epoch:          epoch,
		Version:        version,
		Nonce:          nonce,
		Stake:          entries,
		leadersPerSlot: cfg.LeadersPerSlot,
		strength:       cfg.Strength,
		weights:        weights,
	}
}

// Ranking returns the eligible pools of the slot, best rank first.
func (s *EpochSchedule) Ranking(slot uint64) []StakeEntry {
	r := s.Nonce.DeriveUint64(slot)
	perm := r.WeightedPerm(s.leadersPerSlot, s.weights)
	ret := make([]StakeEntry, len(perm))
	for i, idx := range perm {
		ret[i] = s.Stake[idx]
	}
	return ret
}

// LeaderForSlot returns the primary leader of the slot. It returns
// false if no pool holds stake.
func (s *EpochSchedule) LeaderForSlot(slot uint64) (StakeEntry, bool) {
	ranking := s.Ranking(slot)
	if len(ranking) == 0 {
		return StakeEntry{}, false
	}
	return ranking[0], true
}

// Rank returns the rank of the pool in the slot, false if the pool
// is not eligible.
func (s *EpochSchedule) Rank(pool Addr, slot uint64) (int, bool) {
	for i, e := range s.Ranking(slot) {
		if e.Pool == pool {
			return i, true
		}
	}
	return 0, false
}

// Strength returns the strength credited to a block produced by the
// pool at the given rank.
func (s *EpochSchedule) Strength(e StakeEntry, rank int) uint64 {
	switch s.strength {
	case StrengthRank:
		return uint64(s.leadersPerSlot - rank)
	case StrengthUnit:
		return 1
	default:
		return e.Stake
	}
}

// VerifyEligibility checks that the header's leader is eligible for
// the header's slot and the leader proof is signed by the pool's
// key. It returns the rank and the strength of the block.
func (s *EpochSchedule) VerifyEligibility(h *Header, v Verifier) (int, uint64, error) {
	for rank, e := range s.Ranking(h.Slot) {
		if e.Pool != h.Leader {
			continue
		}

		if string(e.PK) != string(h.LeaderPK) {
			return 0, 0, ErrLeaderPKMismatch
		}

		if !v.VerifySignature(e.PK, LeaderProofMsg(s.Nonce, h.Slot), h.LeaderProof) {
			return 0, 0, ErrBadLeaderProof
		}

		return rank, s.Strength(e, rank), nil
	}

	return 0, 0, ErrNotEligible
}

// StakeLookup finds the stake distribution of the branch ending at
// a block at a given slot.
type StakeLookup interface {
	// StakeAt returns the latest ancestor of from (from
	// included) whose slot is not greater than slot, and its
	// stake distribution.
	StakeAt(from Hash, slot uint64) (Hash, StakeDistribution, error)
}

type scheduleKey struct {
	epoch   uint64
	version Hash
}

// Scheduler derives and caches the epoch schedules.
type Scheduler struct {
	cfg    Config
	tf     TimeFrame
	seed   Rand
	lookup StakeLookup
	cache  *lru.Cache
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg Config, tf TimeFrame, seed Rand, lookup StakeLookup) *Scheduler {
	c, err := lru.New(cfg.ScheduleCacheSize)
	if err != nil {
		panic(err)
	}

	return &Scheduler{
		cfg:    cfg,
		tf:     tf,
		seed:   seed,
		lookup: lookup,
		cache:  c,
	}
}

// StabilitySlot returns the slot whose stake distribution decides
// the schedule of the epoch.
func (s *Scheduler) StabilitySlot(epoch uint64) uint64 {
	if epoch == 0 {
		return 0
	}

	return s.tf.EpochStart(epoch) - s.cfg.StabilitySlots
}

func (s *Scheduler) nonce(epoch uint64, version Hash) Rand {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], epoch)
	return s.seed.Derive(b[:]).Derive(version[:])
}

// ScheduleFor returns the schedule used to validate a block at the
// given slot extending parent.
func (s *Scheduler) ScheduleFor(parent *BranchNode, slot uint64) (*EpochSchedule, error) {
	epoch := s.tf.EpochOf(slot)
	version, stake, err := s.lookup.StakeAt(parent.Hash, s.StabilitySlot(epoch))
	if err != nil {
		return nil, &ScheduleError{Epoch: epoch, Err: err}
	}

	key := scheduleKey{epoch: epoch, version: version}
	if v, ok := s.cache.Get(key); ok {
		return v.(*EpochSchedule), nil
	}

	sched := newEpochSchedule(epoch, version, s.nonce(epoch, version), stake, s.cfg)
	s.cache.Add(key, sched)
	return sched, nil
}

// Lookahead returns the schedule of the epoch as seen from the tip.
// It fails with a future ScheduleError when the tip has not reached
// the epoch's stability point yet, since blocks before the stability
// point may still change the distribution.
func (s *Scheduler) Lookahead(tip *BranchNode, epoch uint64) (*EpochSchedule, error) {
	stability := s.StabilitySlot(epoch)
	if stability > tip.Slot() {
		return nil, &ScheduleError{
			Epoch:  epoch,
			Future: true,
			Err:    fmt.Errorf("stability slot %d not reached, tip slot %d", stability, tip.Slot()),
		}
	}

	return s.ScheduleFor(tip, s.tf.EpochStart(epoch))
}

// ShouldProduce reports whether the local pool is eligible to
// produce a block extending tip in the slot.
func (s *Scheduler) ShouldProduce(local Addr, tip *BranchNode, slot uint64) (bool, error) {
	if slot <= tip.Slot() {
		return false, nil
	}

	sched, err := s.ScheduleFor(tip, slot)
	if err != nil {
		return false, err
	}

	_, ok := sched.Rank(local, slot)
	return ok, nil
}
