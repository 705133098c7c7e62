package consensus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const maxSubscribers = 64

// Deps are the collaborators of the tip manager. Ledger and Store
// are required, the others have no-op or system defaults.
type Deps struct {
	Ledger      Ledger
	Store       Store
	Broadcaster Broadcaster
	Reputation  Reputation
	// Requester fetches the missing parents of orphans, parent
	// fetching is disabled when nil.
	Requester  BlockRequester
	Txns       TxnSource
	Clock      Clock
	Verifier   Verifier
	Registerer prometheus.Registerer
	PhaseHook  PhaseHook
}

type resultKind int

const (
	resultApplied resultKind = iota
	resultOrphan
	resultRejected
)

type result struct {
	kind  resultKind
	c     Candidate
	vb    *ValidatedBlock
	snap  Snapshot
	err   error
	phase *candidatePhase
}

// Status is the status of the tip manager.
type Status struct {
	Tip             Hash
	TipSlot         uint64
	TipLength       uint64
	TipStrength     uint64
	Finalized       Hash
	FinalizedSlot   uint64
	FinalizedLength uint64
	CurrentSlot     uint64
	TreeSize        int
	Heads           int
	Orphans         int
	Queued          int
	// Future is the number of buffered candidates from slots that
	// have not started.
	Future int
	// Stalled is set when the tip has not advanced for
	// LivenessSlots.
	Stalled bool
}

// InSync reports whether the tip is close to the current slot.
func (s *Status) InSync(maxLag uint64) bool {
	return s.TipSlot+maxLag >= s.CurrentSlot
}

// TipManager ingests the candidate blocks, validates them in
// parallel and inserts them into the block tree from a single
// writer goroutine that selects, publishes and finalizes the tip.
type TipManager struct {
	cfg       Config
	tf        TimeFrame
	deps      Deps
	genesis   Hash
	tree      *Tree
	orphans   *OrphanBuffer
	future    *futureBuffer
	queue     *candidateQueue
	results   chan *result
	sched     *Scheduler
	validator *Validator
	invalid   *lru.Cache
	pruned    *lru.Cache
	notifier  *Notifier
	syncer    *blockSyncer
	m         *metrics

	tip       atomic.Pointer[BranchNode]
	finalized atomic.Pointer[BranchNode]
	stalled   atomic.Bool

	// only accessed by the writer.
	lastProgress time.Time
}

// NewTipManager creates the tip manager. The block tree is rooted
// at the last finalized block of the store, the store is
// initialized with the genesis block if empty.
func NewTipManager(cfg Config, genesis *Genesis, deps Deps) (*TipManager, error) {
	genesis.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if deps.Ledger == nil || deps.Store == nil {
		return nil, errors.New("ledger and store are required")
	}

	if deps.Broadcaster == nil {
		deps.Broadcaster = nopBroadcaster{}
	}
	if deps.Reputation == nil {
		deps.Reputation = nopReputation{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Verifier == nil {
		deps.Verifier = DefaultVerifier
	}

	invalidCache, err := lru.New(cfg.InvalidCacheSize)
	if err != nil {
		return nil, err
	}

	prunedCache, err := lru.New(cfg.InvalidCacheSize)
	if err != nil {
		return nil, err
	}

	future, err := newFutureBuffer(cfg.MaxOrphans)
	if err != nil {
		return nil, err
	}

	m := &TipManager{
		cfg:      cfg,
		tf:       NewTimeFrame(genesis.StartTime(), cfg),
		deps:     deps,
		orphans:  NewOrphanBuffer(cfg.MaxOrphans, cfg.OrphanTTL),
		future:   future,
		queue:    newCandidateQueue(cfg.QueueSize),
		results:  make(chan *result, 2*cfg.Workers),
		invalid:  invalidCache,
		pruned:   prunedCache,
		notifier: NewNotifier(maxSubscribers),
		m:        newMetrics(deps.Registerer),
	}

	root, history, err := m.loadRoot(genesis)
	if err != nil {
		return nil, err
	}

	m.genesis = genesis.Block().Hash()
	m.tree = NewTree(root, history)
	m.sched = NewScheduler(cfg, m.tf, Rand(genesis.Seed), m.tree)
	m.validator = NewValidator(cfg, m.tf, deps.Clock, deps.Verifier, m.sched)
	if deps.Requester != nil {
		m.syncer = newBlockSyncer(deps.Requester, m)
	}

	m.tip.Store(root)
	m.finalized.Store(root)
	m.lastProgress = deps.Clock.Now()
	m.updateGauges()
	return m, nil
}

func corrupt(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorruptFinalized, fmt.Sprintf(format, args...))
}

func (m *TipManager) loadRoot(g *Genesis) (*BranchNode, []finalizedEntry, error) {
	gb := g.Block()
	gh := gb.Hash()
	head, err := m.deps.Store.FinalizedHead()
	if err == ErrNotFound {
		snap, err := m.deps.Ledger.Decode(g.State)
		if err != nil {
			return nil, nil, fmt.Errorf("decode genesis state: %v", err)
		}

		err = m.deps.Store.PutBlock(gb)
		if err != nil {
			return nil, nil, err
		}

		err = m.deps.Store.PutSnapshot(gh, g.State)
		if err != nil {
			return nil, nil, err
		}

		err = m.deps.Store.Finalize(Finalized{Hash: gh})
		if err != nil {
			return nil, nil, err
		}

		log.Info("chain initialized from genesis", "genesis", gh)
		return &BranchNode{Block: gb, Hash: gh, Snapshot: snap}, nil, nil
	} else if err != nil {
		return nil, nil, err
	}

	first, err := m.deps.Store.FinalizedFrom(0)
	if err != nil {
		return nil, nil, err
	}
	if len(first) == 0 || first[0].Hash != gh {
		return nil, nil, corrupt("stored chain does not start with genesis %v", gh)
	}

	root, err := m.loadFinalized(head)
	if err != nil {
		return nil, nil, err
	}

	var minSlot uint64
	if lookback := m.cfg.SlotsPerEpoch + m.cfg.StabilitySlots; head.Slot > lookback {
		minSlot = head.Slot - lookback
	}

	entries, err := m.deps.Store.FinalizedFrom(minSlot)
	if err != nil {
		return nil, nil, err
	}

	history := make([]finalizedEntry, 0, len(entries))
	for _, e := range entries {
		if e.Hash == head.Hash {
			break
		}

		b, err := m.deps.Store.Snapshot(e.Hash)
		if err != nil {
			return nil, nil, corrupt("snapshot of finalized block %v: %v", e.Hash, err)
		}

		snap, err := m.deps.Ledger.Decode(b)
		if err != nil {
			return nil, nil, corrupt("decode snapshot of finalized block %v: %v", e.Hash, err)
		}
		history = append(history, finalizedEntry{Slot: e.Slot, Hash: e.Hash, Stake: snap.Stake()})
	}

	log.Info("chain loaded from storage", "finalized", head.Hash, "slot", head.Slot, "length", head.Length)
	return root, history, nil
}

func (m *TipManager) loadFinalized(f Finalized) (*BranchNode, error) {
	b, err := m.deps.Store.Block(f.Hash)
	if err != nil {
		return nil, corrupt("finalized block %v: %v", f.Hash, err)
	}

	if b.Hash() != f.Hash || b.Slot() != f.Slot {
		return nil, corrupt("finalized block %v does not match its entry", f.Hash)
	}

	sb, err := m.deps.Store.Snapshot(f.Hash)
	if err != nil {
		return nil, corrupt("snapshot of finalized block %v: %v", f.Hash, err)
	}

	snap, err := m.deps.Ledger.Decode(sb)
	if err != nil {
		return nil, corrupt("decode snapshot of finalized block %v: %v", f.Hash, err)
	}

	return &BranchNode{
		Block:    b,
		Hash:     f.Hash,
		Snapshot: snap,
		Length:   f.Length,
		Strength: f.Strength,
	}, nil
}

// Recover resubmits the stored non-finalized blocks, rebuilding the
// branches known before a restart.
func (m *TipManager) Recover() error {
	blocks, err := m.deps.Store.PendingBlocks()
	if err != nil {
		return err
	}

	sortBySlot(blocks)
	count := 0
	for _, b := range blocks {
		err := m.Submit(Candidate{Block: b, From: LocalProvenance})
		if err == ErrQueueClosed {
			return err
		}
		if err == nil {
			count++
		}
	}

	log.Info("recovering pending blocks", "count", count)
	return nil
}

// Genesis returns the hash of the genesis block.
func (m *TipManager) Genesis() Hash {
	return m.genesis
}

// TimeFrame returns the slot time frame.
func (m *TipManager) TimeFrame() TimeFrame {
	return m.tf
}

// Config returns the configuration with the genesis parameters
// applied.
func (m *TipManager) Config() Config {
	return m.cfg
}

// Tip returns the canonical head.
func (m *TipManager) Tip() *BranchNode {
	return m.tip.Load()
}

// Finalized returns the last finalized block.
func (m *TipManager) Finalized() *BranchNode {
	return m.finalized.Load()
}

// Block returns the block of the given hash from the tree or the
// store.
func (m *TipManager) Block(h Hash) (*Block, error) {
	if n, ok := m.tree.Get(h); ok {
		return n.Block, nil
	}

	return m.deps.Store.Block(h)
}

// Heads returns the heads of the block tree, best first.
func (m *TipManager) Heads() []*BranchNode {
	return m.tree.Heads()
}

// Subscribe subscribes to the tip updates and new blocks.
func (m *TipManager) Subscribe() (*Subscription, error) {
	return m.notifier.Subscribe()
}

// CurrentSlot returns the slot of the wall clock.
func (m *TipManager) CurrentSlot() uint64 {
	return m.tf.SlotAt(m.deps.Clock.Now())
}

// ShouldProduce reports whether the pool is eligible to produce a
// block extending the current tip in the slot.
func (m *TipManager) ShouldProduce(local Addr, slot uint64) (bool, error) {
	return m.sched.ShouldProduce(local, m.Tip(), slot)
}

// Lookahead returns the epoch schedule as seen from the current
// tip.
func (m *TipManager) Lookahead(epoch uint64) (*EpochSchedule, error) {
	return m.sched.Lookahead(m.Tip(), epoch)
}

// Status returns the status of the tip manager.
func (m *TipManager) Status() Status {
	tip := m.Tip()
	f := m.Finalized()
	return Status{
		Tip:             tip.Hash,
		TipSlot:         tip.Slot(),
		TipLength:       tip.Length,
		TipStrength:     tip.Strength,
		Finalized:       f.Hash,
		FinalizedSlot:   f.Slot(),
		FinalizedLength: f.Length,
		CurrentSlot:     m.CurrentSlot(),
		TreeSize:        m.tree.Len(),
		Heads:           len(m.tree.Heads()),
		Orphans:         m.orphans.Len(),
		Queued:          m.queue.Len(),
		Future:          m.future.Len(),
		Stalled:         m.stalled.Load(),
	}
}

// Submit queues the candidate for validation. Only the cheap
// plausibility check is done synchronously.
func (m *TipManager) Submit(c Candidate) error {
	c.hash = c.Block.Hash()
	if c.received.IsZero() {
		c.received = m.deps.Clock.Now()
	}

	if m.invalid.Contains(c.hash) {
		return invalid(c.hash, ErrKnownInvalid)
	}

	if m.tree.Contains(c.hash) || m.orphans.Contains(c.hash) || m.future.Contains(c.hash) {
		return nil
	}

	err := m.validator.Plausible(c.Block)
	if err != nil {
		m.reject(c, err)
		return err
	}

	evicted, err := m.queue.Push(c)
	if err != nil {
		return err
	}

	if evicted != nil {
		m.m.evicted.WithLabelValues("queue").Inc()
		log.Debug("candidate queue full, oldest candidate evicted", "hash", evicted.hash)
	}
	return nil
}

// Consume submits the candidates received from the channel until
// the channel is closed or the context is done.
func (m *TipManager) Consume(ctx context.Context, ch <-chan Candidate) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-ch:
			if !ok {
				return nil
			}

			err := m.Submit(c)
			if err == ErrQueueClosed {
				return err
			}

			if err != nil {
				log.Debug("candidate not accepted", "peer", c.From.Peer, "err", err)
			}
		}
	}
}

// Run runs the validation workers and the writer until the context
// is done. It returns a non-nil error only when the finalized chain
// in the store is corrupted.
func (m *TipManager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < m.cfg.Workers; i++ {
		g.Go(func() error {
			return m.worker(ctx)
		})
	}

	g.Go(func() error {
		return m.writer(ctx)
	})

	if m.syncer != nil {
		g.Go(func() error {
			return m.syncer.run(ctx)
		})
	}

	err := g.Wait()
	m.stop()
	return err
}

func (m *TipManager) stop() {
	m.queue.Close()
	m.notifier.Close()
}

func (m *TipManager) newPhase(h Hash) *candidatePhase {
	return &candidatePhase{block: h, hook: m.deps.PhaseHook, m: m.m}
}

func (m *TipManager) worker(ctx context.Context) error {
	for {
		c, err := m.queue.Pop(ctx)
		if err != nil {
			return nil
		}

		r, err := m.process(c)
		if err != nil {
			return err
		}

		if r == nil {
			continue
		}

		select {
		case m.results <- r:
		case <-ctx.Done():
			return nil
		}
	}
}

// process validates the candidate and applies it to the parent's
// snapshot. The returned error is fatal.
func (m *TipManager) process(c Candidate) (*result, error) {
	if m.tree.Contains(c.hash) {
		return nil, nil
	}

	ph := m.newPhase(c.hash)
	ph.to(ValidatingCandidate)

	parentHash := c.Block.Parent()
	parent, ok := m.tree.Get(parentHash)
	if !ok {
		ph.to(Idle)
		if m.invalid.Contains(parentHash) {
			return &result{kind: resultRejected, c: c, err: invalid(c.hash, ErrKnownInvalid)}, nil
		}

		if m.pruned.Contains(parentHash) || c.Block.Slot() <= m.Finalized().Slot() {
			return &result{kind: resultRejected, c: c, err: invalid(c.hash, ErrBelowFinalized)}, nil
		}

		return &result{kind: resultOrphan, c: c}, nil
	}

	vb, err := m.validator.Validate(c.Block, parent)
	if err != nil {
		ph.to(Idle)

		var ve *ValidationError
		var se *ScheduleError
		switch {
		case errors.As(err, &ve) && ve.Retryable:
			m.retryLater(c)
			return nil, nil
		case errors.As(err, &se):
			if se.Future {
				m.retryLater(c)
				return nil, nil
			}

			if se.Epoch == m.tf.EpochOf(m.CurrentSlot()) {
				return nil, corrupt("schedule of the current epoch %d: %v", se.Epoch, se.Err)
			}

			m.m.rejected.WithLabelValues(rejectReason(err)).Inc()
			log.Warn("dropped block without schedule", "hash", c.hash, "slot", c.Block.Slot(), "err", err)
			return nil, nil
		}

		return &result{kind: resultRejected, c: c, err: err}, nil
	}

	ph.to(ApplyingTransition)
	snap, err := m.deps.Ledger.Apply(parent.Snapshot, vb)
	if err != nil {
		ph.to(Idle)
		return &result{kind: resultRejected, c: c, err: err}, nil
	}

	return &result{kind: resultApplied, c: c, vb: vb, snap: snap, phase: ph}, nil
}

// retryLater buffers the candidate until the writer finds its slot
// within the accepted clock skew.
func (m *TipManager) retryLater(c Candidate) {
	added, evicted := m.future.Add(c)
	if evicted {
		m.m.evicted.WithLabelValues("future").Inc()
	}

	if added {
		log.Debug("candidate from a future slot, retry later", "hash", c.hash, "slot", c.Block.Slot())
	}
}

func (m *TipManager) retryReady(now time.Time) {
	for _, c := range m.future.Ready(m.tf.SlotAt(now) + m.cfg.MaxClockSkewSlots) {
		m.requeue(c)
	}
}

func (m *TipManager) requeue(c Candidate) {
	evicted, err := m.queue.Push(c)
	if err != nil {
		return
	}

	if evicted != nil {
		m.m.evicted.WithLabelValues("queue").Inc()
	}
}

func (m *TipManager) reject(c Candidate, err error) {
	// the header does not commit to a forged body, the block may
	// still arrive intact.
	forged := errors.Is(err, ErrContentHash)
	if !forged {
		m.invalid.Add(c.hash, struct{}{})
	}

	m.m.rejected.WithLabelValues(rejectReason(err)).Inc()
	log.Warn("block rejected", "hash", c.hash, "slot", c.Block.Slot(), "peer", c.From.Peer, "err", err)
	if !c.From.Local && c.From.Peer != "" {
		m.deps.Reputation.Penalize(c.From.Peer, err)
	}

	if forged {
		return
	}

	// the orphans waiting for the block can never connect.
	for _, o := range m.orphans.Take(c.hash) {
		m.reject(o, invalid(o.hash, ErrKnownInvalid))
	}
}

func (m *TipManager) writer(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SlotDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-m.results:
			err := m.handle(r)
			if err != nil {
				log.Error("fatal consensus error", "err", err)
				return err
			}
			m.updateGauges()
		case <-ticker.C:
			m.housekeeping()
		}
	}
}

func (m *TipManager) handle(r *result) error {
	switch r.kind {
	case resultRejected:
		m.reject(r.c, r.err)
	case resultOrphan:
		m.addOrphan(r.c)
	case resultApplied:
		return m.insert(r)
	}
	return nil
}

func (m *TipManager) addOrphan(c Candidate) {
	parent := c.Block.Parent()
	// the parent may have been inserted after the worker looked
	// it up.
	if m.tree.Contains(parent) {
		m.requeue(c)
		return
	}

	evicted, added := m.orphans.Add(c, m.deps.Clock.Now())
	if len(evicted) > 0 {
		m.m.evicted.WithLabelValues("orphans").Add(float64(len(evicted)))
	}

	if !added {
		return
	}

	log.Debug("orphan block buffered", "hash", c.hash, "slot", c.Block.Slot(), "parent", parent)
	if m.syncer != nil {
		m.syncer.request(parent, c.From.Peer)
	}
}

func (m *TipManager) insert(r *result) error {
	n, isTip, err := m.tree.Insert(r.vb, r.snap)
	if err != nil {
		r.phase.to(Idle)
		var te *TreeError
		if errors.As(err, &te) && te.Kind == Duplicate {
			return nil
		}

		// the parent was pruned after the validation.
		m.invalid.Add(r.c.hash, struct{}{})
		log.Debug("block dropped, parent pruned", "hash", r.c.hash, "err", err)
		return nil
	}

	r.phase.to(TipUpdated)
	err = m.deps.Store.PutBlock(r.c.Block)
	if err != nil {
		log.Error("save block failed", "hash", n.Hash, "err", err)
	}

	m.notifier.notifyBlock(n.Block)
	if isTip {
		m.publishTip(n)
		err := m.finalize(r.phase)
		if err != nil {
			return err
		}
	} else {
		log.Debug("block added to a side branch", "hash", n.Hash, "slot", n.Slot(), "length", n.Length)
	}
	r.phase.to(Idle)

	for _, o := range m.orphans.Take(n.Hash) {
		m.requeue(o)
	}
	return nil
}

func (m *TipManager) publishTip(n *BranchNode) {
	prev := m.tip.Load()
	m.lastProgress = m.deps.Clock.Now()
	m.stalled.Store(false)
	m.tip.Store(n)

	var abandoned []*BranchNode
	applied := []*BranchNode{n}
	if n.Parent() != prev.Hash {
		if anc, ok := m.tree.CommonAncestor(prev.Hash, n.Hash); ok {
			applied = m.branch(n, anc.Hash)
			if anc.Hash != prev.Hash {
				abandoned = m.branch(prev, anc.Hash)
				depth := prev.Length - anc.Length
				m.m.reorgs.Inc()
				m.m.reorgDepth.Observe(float64(depth))
				log.Info("chain reorganized", "from", prev.Hash, "to", n.Hash, "depth", depth, "ancestor", anc.Hash)
			}
		}
	}

	log.Info("tip updated", "hash", n.Hash, "slot", n.Slot(), "length", n.Length, "strength", n.Strength, "txns", len(n.Block.Txns))
	m.deps.Broadcaster.BroadcastBlock(n.Block)

	if m.deps.Txns != nil {
		m.updateTxns(abandoned, applied)
	}

	m.notifier.notifyTip(n)
}

// branch returns the blocks from n up to, excluding, the ancestor.
func (m *TipManager) branch(n *BranchNode, ancestor Hash) []*BranchNode {
	var r []*BranchNode
	for n.Hash != ancestor {
		r = append(r, n)
		p, ok := m.tree.Get(n.Parent())
		if !ok {
			break
		}
		n = p
	}
	return r
}

// updateTxns marks the transactions of the newly canonical blocks as
// included and returns the transactions only found on the abandoned
// branch to the pool.
func (m *TipManager) updateTxns(abandoned, applied []*BranchNode) {
	kept := make(map[Hash]struct{})
	for _, n := range applied {
		if len(n.Block.Txns) == 0 {
			continue
		}

		hashes := make([]Hash, len(n.Block.Txns))
		for i, t := range n.Block.Txns {
			hashes[i] = TxnHash(t)
			kept[hashes[i]] = struct{}{}
		}
		m.deps.Txns.Included(n.Hash, hashes)
	}

	var restore [][]byte
	// oldest block first, keeping the nonce order.
	for i := len(abandoned) - 1; i >= 0; i-- {
		for _, t := range abandoned[i].Block.Txns {
			if _, ok := kept[TxnHash(t)]; !ok {
				restore = append(restore, t)
			}
		}
	}

	if len(restore) > 0 {
		log.Debug("transactions of the abandoned branch restored", "count", len(restore))
		m.deps.Txns.Restore(restore)
	}
}

// finalize advances the finalized checkpoint when the tip is
// FinalityDepth blocks beyond it, and prunes the branches not
// descending from the new checkpoint.
func (m *TipManager) finalize(ph *candidatePhase) error {
	tip := m.tree.Tip()
	root := m.tree.Root()
	if tip.Length < root.Length+m.cfg.FinalityDepth {
		return nil
	}

	target, ok := m.tree.Ancestor(tip.Hash, tip.Length-m.cfg.FinalityDepth+1)
	if !ok {
		return corrupt("ancestor of tip %v at length %d not found", tip.Hash, tip.Length-m.cfg.FinalityDepth+1)
	}

	ph.to(Pruning)
	finalized, removed, err := m.tree.Prune(target.Hash)
	if err != nil {
		return corrupt("prune to %v: %v", target.Hash, err)
	}

	for _, f := range finalized {
		err := m.deps.Store.PutSnapshot(f.Hash, f.Snapshot.Encode())
		if err != nil {
			return corrupt("save snapshot of %v: %v", f.Hash, err)
		}

		err = m.deps.Store.Finalize(Finalized{Hash: f.Hash, Slot: f.Slot(), Length: f.Length, Strength: f.Strength})
		if err != nil {
			return corrupt("finalize %v: %v", f.Hash, err)
		}
	}

	err = m.deps.Store.PruneBelow(target.Hash)
	if err != nil {
		log.Error("prune storage failed", "below", target.Hash, "err", err)
	}

	for _, n := range removed {
		m.pruned.Add(n.Hash, struct{}{})
		for _, o := range m.orphans.Take(n.Hash) {
			m.reject(o, invalid(o.hash, ErrBelowFinalized))
		}
	}
	m.finalized.Store(target)
	dropped := m.orphans.DropBelow(target.Slot())
	if lookback := m.cfg.SlotsPerEpoch + m.cfg.StabilitySlots; target.Slot() > lookback {
		m.tree.TrimHistory(target.Slot() - lookback)
	}

	m.m.pruned.Add(float64(len(removed)))
	log.Info("blocks finalized", "hash", target.Hash, "slot", target.Slot(), "length", target.Length, "count", len(finalized), "pruned", len(removed), "orphans dropped", len(dropped))
	return nil
}

func (m *TipManager) housekeeping() {
	now := m.deps.Clock.Now()
	tip := m.Tip()
	expired := m.orphans.Expire(now, tip.Slot(), m.cfg.MaxOrphanSlotLead)
	if len(expired) > 0 {
		m.m.evicted.WithLabelValues("orphans_expired").Add(float64(len(expired)))
		log.Debug("orphans expired", "count", len(expired))
	}

	if m.syncer != nil {
		for parent, peer := range m.orphans.Missing() {
			m.syncer.request(parent, peer)
		}
	}

	m.retryReady(now)

	limit := time.Duration(m.cfg.LivenessSlots) * m.cfg.SlotDuration
	if !m.stalled.Load() && now.Sub(m.lastProgress) > limit {
		m.stalled.Store(true)
		log.Warn("tip has not advanced", "tip", tip.Hash, "tip slot", tip.Slot(), "current slot", m.tf.SlotAt(now), "since", m.lastProgress)
	}

	m.updateGauges()
}

func (m *TipManager) updateGauges() {
	tip := m.Tip()
	m.m.tipLength.Set(float64(tip.Length))
	m.m.tipSlot.Set(float64(tip.Slot()))
	m.m.finalizedLength.Set(float64(m.Finalized().Length))
	m.m.treeSize.Set(float64(m.tree.Len()))
	m.m.orphans.Set(float64(m.orphans.Len()))
	m.m.queueDepth.Set(float64(m.queue.Len()))
	m.m.future.Set(float64(m.future.Len()))
}

// sortBySlot sorts the blocks by slot.
func sortBySlot(blocks []*Block) {
	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].Slot() < blocks[j].Slot()
	})
}
