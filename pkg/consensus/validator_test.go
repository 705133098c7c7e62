package consensus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validatorFixture struct {
	v     *Validator
	sched *Scheduler
	tf    TimeFrame
	clock *fakeClock
	root  *BranchNode
	pools []testPool
}

func newValidatorFixture() *validatorFixture {
	pools, stake := testStake(10, 5)
	s, tree, tf := newTestScheduler(stake)
	clock := &fakeClock{now: tf.SlotStart(5)}
	cfg := testConfig()
	return &validatorFixture{
		v:     NewValidator(cfg, tf, clock, DefaultVerifier, s),
		sched: s,
		tf:    tf,
		clock: clock,
		root:  tree.Root(),
		pools: pools,
	}
}

func validationErr(t *testing.T, err error) *ValidationError {
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
	return ve
}

func TestValidateValid(t *testing.T) {
	f := newValidatorFixture()
	b := f.signed(0, 1, []byte{1}, []byte{2})
	assert.Nil(t, f.v.Plausible(b))

	vb, err := f.v.Validate(b, f.root)
	require.Nil(t, err)
	assert.Equal(t, b.Hash(), vb.Hash)
	rank, ok := vb.Schedule.Rank(f.pools[0].addr(), 1)
	require.True(t, ok)
	assert.Equal(t, rank, vb.Rank)
	assert.Equal(t, uint64(10), vb.Strength)
}

func (f *validatorFixture) signed(pool int, slot uint64, txns ...[]byte) *Block {
	return signedBlock(f.sched, f.tf, f.pools[pool], f.root, slot, txns...)
}

func (f *validatorFixture) resign(b *Block, pool int) {
	b.Header.Sig = f.pools[pool].sk.Sign(b.Header.Encode(false))
}

func TestValidateErrors(t *testing.T) {
	f := newValidatorFixture()
	cases := []struct {
		name string
		mod  func(b *Block)
		err  error
	}{
		{"parent", func(b *Block) { b.Header.Parent = Hash{1} }, ErrParentMismatch},
		{"slot", func(b *Block) { b.Header.Slot = 0 }, ErrSlotNotIncreasing},
		{"epoch", func(b *Block) { b.Header.Epoch = 1 }, ErrEpochMismatch},
		{"leader key", func(b *Block) { b.Header.LeaderPK = f.pools[1].pk }, ErrLeaderPKMismatch},
		{"leader proof", func(b *Block) { b.Header.LeaderProof = f.pools[0].sk.Sign([]byte{1}) }, ErrBadLeaderProof},
		{"content hash", func(b *Block) { b.Txns = append(b.Txns, []byte{3}) }, ErrContentHash},
		{"duplicate txn", func(b *Block) {
			b.Txns = [][]byte{{1}, {1}}
			b.Header.ContentHash = ContentHash(b.Txns)
		}, ErrDuplicateTxn},
		{"empty txn", func(b *Block) {
			b.Txns = [][]byte{{}}
			b.Header.ContentHash = ContentHash(b.Txns)
		}, ErrEmptyTxn},
	}

	for _, c := range cases {
		b := f.signed(0, 1, []byte{1})
		c.mod(b)
		f.resign(b, 0)
		_, err := f.v.Validate(b, f.root)
		ve := validationErr(t, err)
		assert.Equal(t, c.err, ve.Err, c.name)
		assert.False(t, ve.Retryable, c.name)
	}

	// the signature is checked after the eligibility.
	b := f.signed(0, 1)
	b.Header.Sig = f.pools[1].sk.Sign(b.Header.Encode(false))
	_, err := f.v.Validate(b, f.root)
	assert.Equal(t, ErrBadSignature, validationErr(t, err).Err)
	assert.Equal(t, ErrBadSignature, validationErr(t, f.v.Plausible(b)).Err)
}

func TestValidateNotEligible(t *testing.T) {
	f := newValidatorFixture()
	other, _ := testStake(1)
	b := signedBlock(f.sched, f.tf, f.pools[0], f.root, 1)
	b.Header.Leader = other[0].addr()
	b.Header.LeaderPK = other[0].pk
	b.Header.Sig = other[0].sk.Sign(b.Header.Encode(false))

	_, err := f.v.Validate(b, f.root)
	assert.Equal(t, ErrNotEligible, validationErr(t, err).Err)
}

func TestValidateFutureSlot(t *testing.T) {
	f := newValidatorFixture()
	b := f.signed(0, 9)
	_, err := f.v.Validate(b, f.root)
	ve := validationErr(t, err)
	assert.Equal(t, ErrFutureSlot, ve.Err)
	assert.True(t, ve.Retryable)

	f.clock.now = f.tf.SlotStart(9)
	_, err = f.v.Validate(b, f.root)
	assert.Nil(t, err)
}

func TestValidateUnknownParentSchedule(t *testing.T) {
	f := newValidatorFixture()
	b := f.signed(0, 1)
	// a parent unknown to the tree has no stake distribution.
	detached := &BranchNode{Block: &Block{}, Hash: Hash{5}}
	b.Header.Parent = detached.Hash
	f.resign(b, 0)

	_, err := f.v.Validate(b, detached)
	var se *ScheduleError
	assert.True(t, errors.As(err, &se))
}

func TestPlausible(t *testing.T) {
	f := newValidatorFixture()
	b := f.signed(0, 1)
	b.Header.Leader = f.pools[1].addr()
	assert.Equal(t, ErrLeaderPKMismatch, validationErr(t, f.v.Plausible(b)).Err)

	b = f.signed(0, 1, make([][]byte, testConfig().MaxBlockTxns+1)...)
	assert.Equal(t, ErrTooManyTxns, validationErr(t, f.v.Plausible(b)).Err)

	// a body not matching the signed header.
	b = f.signed(0, 1, []byte{1})
	b.Txns = [][]byte{{2}}
	assert.Equal(t, ErrContentHash, validationErr(t, f.v.Plausible(b)).Err)

	// the content hash is checked before the transaction count, a
	// forged oversized body does not look like an oversized block.
	b.Txns = make([][]byte, testConfig().MaxBlockTxns+1)
	assert.Equal(t, ErrContentHash, validationErr(t, f.v.Plausible(b)).Err)
}

func TestFarFutureSlot(t *testing.T) {
	f := newValidatorFixture()
	lead := testConfig().MaxOrphanSlotLead
	// the clock is at slot 5.
	b := f.signed(0, 5+lead)
	assert.Nil(t, f.v.Plausible(b))
	_, err := f.v.Validate(b, f.root)
	assert.True(t, validationErr(t, err).Retryable)

	b = f.signed(0, 6+lead)
	ve := validationErr(t, f.v.Plausible(b))
	assert.Equal(t, ErrFarFutureSlot, ve.Err)
	assert.False(t, ve.Retryable)

	_, err = f.v.Validate(b, f.root)
	ve = validationErr(t, err)
	assert.Equal(t, ErrFarFutureSlot, ve.Err)
	assert.False(t, ve.Retryable)
}
