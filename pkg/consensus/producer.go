package consensus

import (
	"context"
	"errors"
	"time"

	log "github.com/inconshreveable/log15"
)

// ErrSlotMissed is returned when the block is not ready before the
// end of its slot.
var ErrSlotMissed = errors.New("slot ended before the block was produced")

// Producer produces a block extending the tip in every slot the
// local stake pool is eligible for.
type Producer struct {
	sk  SK
	pk  PK
	m   *TipManager
	txn TxnSource
}

// NewProducer creates a new block producer.
func NewProducer(sk SK, m *TipManager, txn TxnSource) *Producer {
	return &Producer{sk: sk, pk: sk.MustPK(), m: m, txn: txn}
}

// Addr returns the address of the producing pool.
func (p *Producer) Addr() Addr {
	return p.pk.Addr()
}

// Run produces blocks until the context is done.
func (p *Producer) Run(ctx context.Context) error {
	tf := p.m.TimeFrame()
	clock := p.m.deps.Clock
	for {
		slot := tf.SlotAt(clock.Now()) + 1
		t := time.NewTimer(tf.SlotStart(slot).Sub(clock.Now()))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}

		b, err := p.ProduceSlot(ctx, slot)
		if err != nil {
			log.Warn("block production abandoned", "slot", slot, "err", err)
			continue
		}

		if b == nil {
			continue
		}

		err = p.m.Submit(Candidate{Block: b, From: LocalProvenance})
		if err == ErrQueueClosed {
			return nil
		}

		if err != nil {
			log.Error("produced block not accepted", "slot", slot, "err", err)
		}
	}
}

// ProduceSlot produces the block of the slot if the pool is
// eligible, it returns nil if not. The production is abandoned when
// the slot ends.
func (p *Producer) ProduceSlot(ctx context.Context, slot uint64) (*Block, error) {
	tf := p.m.TimeFrame()
	clock := p.m.deps.Clock
	end := tf.SlotStart(slot + 1)
	ctx, cancel := context.WithTimeout(ctx, end.Sub(clock.Now()))
	defer cancel()

	missed := func() bool {
		return ctx.Err() != nil || !clock.Now().Before(end)
	}

	tip := p.m.Tip()
	ok, err := p.m.sched.ShouldProduce(p.Addr(), tip, slot)
	if err != nil || !ok {
		return nil, err
	}

	sched, err := p.m.sched.ScheduleFor(tip, slot)
	if err != nil {
		return nil, err
	}

	var candidates [][]byte
	if p.txn != nil {
		candidates = p.txn.Txns()
	}

	txns := p.m.deps.Ledger.Select(tip.Snapshot, slot, candidates, p.m.cfg.MaxBlockTxns)
	if missed() {
		return nil, ErrSlotMissed
	}

	b := &Block{
		Header: Header{
			Parent:      tip.Hash,
			Slot:        slot,
			Epoch:       tf.EpochOf(slot),
			Leader:      p.Addr(),
			LeaderPK:    p.pk,
			LeaderProof: p.sk.Sign(LeaderProofMsg(sched.Nonce, slot)),
			ContentHash: ContentHash(txns),
		},
		Txns: txns,
	}
	b.Header.Sig = p.sk.Sign(b.Header.Encode(false))

	if missed() {
		return nil, ErrSlotMissed
	}

	log.Info("block produced", "hash", b.Hash(), "slot", slot, "parent", tip.Hash, "txns", len(txns))
	return b, nil
}
