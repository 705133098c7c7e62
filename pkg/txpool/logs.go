package txpool

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/helinwang/stakechain/pkg/consensus"
)

// Status is the status of a transaction known to the pool.
type Status int

// transaction statuses
const (
	Pending Status = iota
	InBlock
	Rejected
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case InBlock:
		return "in_block"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("status %d", int(s))
	}
}

// Origin is where the pool received a transaction from.
type Origin int

// transaction origins
const (
	// Local is a transaction submitted to this node.
	Local Origin = iota
	// Network is a transaction relayed by a peer.
	Network
)

func (o Origin) String() string {
	switch o {
	case Local:
		return "local"
	case Network:
		return "network"
	default:
		return fmt.Sprintf("origin %d", int(o))
	}
}

// Entry is the log entry of a transaction.
type Entry struct {
	Status Status
	Origin Origin
	// Block is the canonical block including the transaction, set
	// when the status is InBlock.
	Block consensus.Hash
	// Reason is the rejection reason.
	Reason   string
	Received time.Time
	Updated  time.Time
}

// logs is the bounded status log of the transactions, the least
// recently updated entry is evicted when full.
type logs struct {
	entries *lru.Cache
}

func newLogs(max int) *logs {
	c, err := lru.New(max)
	if err != nil {
		panic(err)
	}

	return &logs{entries: c}
}

func (l *logs) get(h consensus.Hash) (Entry, bool) {
	v, ok := l.entries.Peek(h)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

func (l *logs) update(h consensus.Hash, origin Origin, fn func(e *Entry)) {
	now := time.Now()
	e, ok := l.get(h)
	if !ok {
		e = Entry{Origin: origin, Received: now}
	}

	fn(&e)
	e.Updated = now
	l.entries.Add(h, e)
}
