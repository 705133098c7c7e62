package consensus

import (
	"encoding/binary"
	"time"
)

type testSnapshot struct {
	root  Hash
	stake StakeDistribution
}

func (s *testSnapshot) Root() Hash {
	return s.root
}

func (s *testSnapshot) Stake() StakeDistribution {
	return s.stake
}

func (s *testSnapshot) Encode() []byte {
	return s.root[:]
}

func testRoot(stake StakeDistribution) *BranchNode {
	b := &Block{Header: Header{ContentHash: SHA3([]byte("genesis"))}}
	return &BranchNode{Block: b, Hash: b.Hash(), Snapshot: &testSnapshot{stake: stake}}
}

// testBlock creates an unsigned block, salt makes siblings with the
// same slot distinct.
func testBlock(parent Hash, slot uint64, salt uint64) *ValidatedBlock {
	var s [8]byte
	binary.BigEndian.PutUint64(s[:], salt)
	b := &Block{Header: Header{Parent: parent, Slot: slot, ContentHash: SHA3(s[:])}}
	return &ValidatedBlock{Block: b, Hash: b.Hash(), Strength: 1}
}

func insert(t *Tree, parent *BranchNode, slot, strength, salt uint64) *BranchNode {
	vb := testBlock(parent.Hash, slot, salt)
	vb.Strength = strength
	n, _, err := t.Insert(vb, parent.Snapshot)
	if err != nil {
		panic(err)
	}
	return n
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type testPool struct {
	sk SK
	pk PK
}

func (p testPool) addr() Addr {
	return p.pk.Addr()
}

// testStake creates the pools with the given stakes, the
// distribution is sorted by pool address.
func testStake(stakes ...uint64) ([]testPool, StakeDistribution) {
	pools := make([]testPool, len(stakes))
	d := make(StakeDistribution, len(stakes))
	for i, s := range stakes {
		pk, sk := RandKeyPair()
		pools[i] = testPool{sk: sk, pk: pk}
		d[i] = StakeEntry{Pool: pk.Addr(), PK: pk, Stake: s}
	}
	sortStake(d)
	return pools, d
}

func sortStake(d StakeDistribution) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j].Pool.Less(d[j-1].Pool); j-- {
			d[j], d[j-1] = d[j-1], d[j]
		}
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SlotDuration = time.Second
	cfg.SlotsPerEpoch = 10
	cfg.StabilitySlots = 2
	cfg.LeadersPerSlot = 2
	cfg.FinalityDepth = 2
	return cfg
}

// signedBlock creates a block of the pool extending parent with a
// valid leader proof and signature.
func signedBlock(sched *Scheduler, tf TimeFrame, p testPool, parent *BranchNode, slot uint64, txns ...[]byte) *Block {
	s, err := sched.ScheduleFor(parent, slot)
	if err != nil {
		panic(err)
	}

	b := &Block{
		Header: Header{
			Parent:      parent.Hash,
			Slot:        slot,
			Epoch:       tf.EpochOf(slot),
			Leader:      p.addr(),
			LeaderPK:    p.pk,
			LeaderProof: p.sk.Sign(LeaderProofMsg(s.Nonce, slot)),
			ContentHash: ContentHash(txns),
		},
		Txns: txns,
	}
	b.Header.Sig = p.sk.Sign(b.Header.Encode(false))
	return b
}
