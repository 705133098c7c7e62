package consensus

// Validator checks the structural integrity and the leader
// eligibility of candidate blocks. It never applies the ledger
// transition.
type Validator struct {
	cfg      Config
	tf       TimeFrame
	clock    Clock
	verifier Verifier
	sched    *Scheduler
}

// NewValidator creates a new validator.
func NewValidator(cfg Config, tf TimeFrame, clock Clock, verifier Verifier, sched *Scheduler) *Validator {
	return &Validator{
		cfg:      cfg,
		tf:       tf,
		clock:    clock,
		verifier: verifier,
		sched:    sched,
	}
}

// Plausible is the cheap check done before a candidate is queued:
// the leader address matches the leader key, the slot is not beyond
// MaxOrphanSlotLead, the header signature verifies and the body
// matches the content hash.
//
// ErrContentHash says nothing about the header, the block hash must
// not be remembered as invalid for it.
func (v *Validator) Plausible(b *Block) error {
	h := b.Hash()
	if b.Header.LeaderPK.Addr() != b.Header.Leader {
		return invalid(h, ErrLeaderPKMismatch)
	}

	if v.farFuture(b.Header.Slot) {
		return invalid(h, ErrFarFutureSlot)
	}

	if !v.verifier.VerifySignature(b.Header.LeaderPK, b.Header.Encode(false), b.Header.Sig) {
		return invalid(h, ErrBadSignature)
	}

	if ContentHash(b.Txns) != b.Header.ContentHash {
		return invalid(h, ErrContentHash)
	}

	if len(b.Txns) > v.cfg.MaxBlockTxns {
		return invalid(h, ErrTooManyTxns)
	}

	return nil
}

func (v *Validator) farFuture(slot uint64) bool {
	return slot > v.tf.SlotAt(v.clock.Now())+v.cfg.MaxOrphanSlotLead
}

// Validate validates the candidate extending parent. The checks
// short-circuit on the first failure. A candidate from a slot that
// has not started yet fails with a retryable ValidationError.
func (v *Validator) Validate(b *Block, parent *BranchNode) (*ValidatedBlock, error) {
	h := b.Hash()
	hdr := &b.Header

	if hdr.Parent != parent.Hash {
		return nil, invalid(h, ErrParentMismatch)
	}

	if hdr.Slot <= parent.Slot() {
		return nil, invalid(h, ErrSlotNotIncreasing)
	}

	if hdr.Epoch != v.tf.EpochOf(hdr.Slot) {
		return nil, invalid(h, ErrEpochMismatch)
	}

	if v.farFuture(hdr.Slot) {
		return nil, invalid(h, ErrFarFutureSlot)
	}

	if now := v.tf.SlotAt(v.clock.Now()); hdr.Slot > now+v.cfg.MaxClockSkewSlots {
		return nil, &ValidationError{Block: h, Err: ErrFutureSlot, Retryable: true}
	}

	if hdr.LeaderPK.Addr() != hdr.Leader {
		return nil, invalid(h, ErrLeaderPKMismatch)
	}

	sched, err := v.sched.ScheduleFor(parent, hdr.Slot)
	if err != nil {
		return nil, err
	}

	rank, strength, err := sched.VerifyEligibility(hdr, v.verifier)
	if err != nil {
		return nil, invalid(h, err)
	}

	if !v.verifier.VerifySignature(hdr.LeaderPK, hdr.Encode(false), hdr.Sig) {
		return nil, invalid(h, ErrBadSignature)
	}

	if err := v.validateBody(b); err != nil {
		return nil, invalid(h, err)
	}

	return &ValidatedBlock{
		Block:    b,
		Hash:     h,
		Rank:     rank,
		Strength: strength,
		Schedule: sched,
	}, nil
}

func (v *Validator) validateBody(b *Block) error {
	if len(b.Txns) > v.cfg.MaxBlockTxns {
		return ErrTooManyTxns
	}

	if ContentHash(b.Txns) != b.Header.ContentHash {
		return ErrContentHash
	}

	seen := make(map[Hash]struct{}, len(b.Txns))
	for _, t := range b.Txns {
		if len(t) == 0 {
			return ErrEmptyTxn
		}

		th := TxnHash(t)
		if _, ok := seen[th]; ok {
			return ErrDuplicateTxn
		}
		seen[th] = struct{}{}
	}

	return nil
}
