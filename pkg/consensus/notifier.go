package consensus

import (
	"errors"
	"sync"
)

const blockEventBuffer = 16

// ErrTooManySubscribers is returned when the subscriber limit is
// reached.
var ErrTooManySubscribers = errors.New("too many subscribers")

// Subscription receives the tip updates and the blocks inserted
// into the tree.
type Subscription struct {
	// Tip always holds the latest tip, intermediate tips may be
	// skipped by a slow reader.
	Tip <-chan *BranchNode
	// Blocks receives the inserted blocks, they are dropped when
	// the reader falls behind.
	Blocks <-chan *Block

	n      *Notifier
	tip    chan *BranchNode
	blocks chan *Block
}

// Close unsubscribes.
func (s *Subscription) Close() {
	s.n.remove(s)
}

// Notifier fans out the tip manager events to the subscribers.
type Notifier struct {
	max int

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewNotifier creates a notifier with at most max subscribers.
func NewNotifier(max int) *Notifier {
	return &Notifier{max: max, subs: make(map[*Subscription]struct{})}
}

// Subscribe creates a new subscription.
func (n *Notifier) Subscribe() (*Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.subs) >= n.max {
		return nil, ErrTooManySubscribers
	}

	tip := make(chan *BranchNode, 1)
	blocks := make(chan *Block, blockEventBuffer)
	s := &Subscription{Tip: tip, Blocks: blocks, n: n, tip: tip, blocks: blocks}
	n.subs[s] = struct{}{}
	return s, nil
}

func (n *Notifier) remove(s *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.subs[s]; !ok {
		return
	}

	delete(n.subs, s)
	close(s.tip)
	close(s.blocks)
}

func (n *Notifier) notifyTip(tip *BranchNode) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for s := range n.subs {
		// replace the unread tip.
		select {
		case <-s.tip:
		default:
		}

		s.tip <- tip
	}
}

func (n *Notifier) notifyBlock(b *Block) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for s := range n.subs {
		select {
		case s.blocks <- b:
		default:
		}
	}
}

// Close closes all subscriptions.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for s := range n.subs {
		delete(n.subs, s)
		close(s.tip)
		close(s.blocks)
	}
}
