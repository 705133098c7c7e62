package ledger

import (
	"errors"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/google/btree"
	"github.com/helinwang/stakechain/pkg/consensus"
)

const treeDegree = 16

var (
	accountPrefix = []byte{'a'}
	poolPrefix    = []byte{'p'}
)

// Account is the state of an account.
type Account struct {
	Addr       consensus.Addr
	Balance    uint64
	Nonce      uint64
	Delegation consensus.Addr
}

func (a Account) less(o Account) bool {
	return a.Addr.Less(o.Addr)
}

// Pool is the registered certificate of a stake pool. Stake is the
// total balance delegated to it.
type Pool struct {
	ID       consensus.Addr
	PK       consensus.PK
	Owner    consensus.Addr
	Retiring bool
	Stake    uint64
}

func (p Pool) less(o Pool) bool {
	return p.ID.Less(o.ID)
}

// State is an immutable ledger snapshot. A new state is derived by a
// Transition, the trees are cloned copy-on-write so that the parent
// state is never modified.
type State struct {
	accounts *btree.BTreeG[Account]
	pools    *btree.BTreeG[Pool]
	root     consensus.Hash
	stake    consensus.StakeDistribution
}

func newState() *State {
	return &State{
		accounts: btree.NewG(treeDegree, Account.less),
		pools:    btree.NewG(treeDegree, Pool.less),
	}
}

// Account returns the account of the address.
func (s *State) Account(addr consensus.Addr) (Account, bool) {
	return s.accounts.Get(Account{Addr: addr})
}

// Pool returns the stake pool.
func (s *State) Pool(id consensus.Addr) (Pool, bool) {
	return s.pools.Get(Pool{ID: id})
}

// Accounts returns the number of accounts.
func (s *State) Accounts() int {
	return s.accounts.Len()
}

// Pools returns all stake pools sorted by ID.
func (s *State) Pools() []Pool {
	r := make([]Pool, 0, s.pools.Len())
	s.pools.Ascend(func(p Pool) bool {
		r = append(r, p)
		return true
	})
	return r
}

// Root returns the state root.
func (s *State) Root() consensus.Hash {
	return s.root
}

// Stake returns the stake distribution.
func (s *State) Stake() consensus.StakeDistribution {
	return s.stake
}

func (s *State) clone() *State {
	return &State{
		accounts: s.accounts.Clone(),
		pools:    s.pools.Clone(),
	}
}

// commit computes the root and the stake distribution, the state
// must not be modified afterwards.
func (s *State) commit() *State {
	// keys have the same length and are inserted in order.
	t := trie.NewStackTrie(nil)
	s.accounts.Ascend(func(a Account) bool {
		err := t.Update(append(append([]byte(nil), accountPrefix...), a.Addr[:]...), rlpEncode(&a))
		if err != nil {
			panic(err)
		}
		return true
	})

	var stake consensus.StakeDistribution
	s.pools.Ascend(func(p Pool) bool {
		err := t.Update(append(append([]byte(nil), poolPrefix...), p.ID[:]...), rlpEncode(&p))
		if err != nil {
			panic(err)
		}

		if !p.Retiring && p.Stake > 0 {
			stake = append(stake, consensus.StakeEntry{Pool: p.ID, PK: p.PK, Stake: p.Stake})
		}
		return true
	})

	s.root = consensus.Hash(t.Hash())
	s.stake = stake
	return s
}

type encodedState struct {
	Accounts []Account
	Pools    []Pool
}

// Encode encodes the state.
func (s *State) Encode() []byte {
	var e encodedState
	s.accounts.Ascend(func(a Account) bool {
		e.Accounts = append(e.Accounts, a)
		return true
	})
	s.pools.Ascend(func(p Pool) bool {
		e.Pools = append(e.Pools, p)
		return true
	})
	return rlpEncode(&e)
}

// DecodeState decodes the state encoded by State.Encode.
func DecodeState(b []byte) (*State, error) {
	var e encodedState
	err := rlp.DecodeBytes(b, &e)
	if err != nil {
		return nil, err
	}

	s := newState()
	for i, a := range e.Accounts {
		if i > 0 && !e.Accounts[i-1].Addr.Less(a.Addr) {
			return nil, errors.New("accounts not sorted")
		}
		s.accounts.ReplaceOrInsert(a)
	}

	for i, p := range e.Pools {
		if i > 0 && !e.Pools[i-1].ID.Less(p.ID) {
			return nil, errors.New("pools not sorted")
		}
		s.pools.ReplaceOrInsert(p)
	}

	return s.commit(), nil
}
