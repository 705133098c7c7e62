package store

import (
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru"
	"github.com/helinwang/stakechain/pkg/consensus"
	"github.com/pkg/errors"
)

const blockCacheSize = 1024

// key prefixes
var (
	blockPrefix     = []byte("b")
	snapshotPrefix  = []byte("s")
	finalizedPrefix = []byte("f")
	pendingPrefix   = []byte("p")
	headKey         = []byte("head")
)

func blockKey(h consensus.Hash) []byte {
	return append(append([]byte(nil), blockPrefix...), h[:]...)
}

func snapshotKey(h consensus.Hash) []byte {
	return append(append([]byte(nil), snapshotPrefix...), h[:]...)
}

func finalizedKey(length uint64) []byte {
	k := make([]byte, len(finalizedPrefix)+8)
	copy(k, finalizedPrefix)
	binary.BigEndian.PutUint64(k[len(finalizedPrefix):], length)
	return k
}

func pendingKey(slot uint64, h consensus.Hash) []byte {
	k := make([]byte, len(pendingPrefix)+8+len(h))
	copy(k, pendingPrefix)
	binary.BigEndian.PutUint64(k[len(pendingPrefix):], slot)
	copy(k[len(pendingPrefix)+8:], h[:])
	return k
}

// Store is the chain storage on top of a KV.
//
// Layout:
//   b<hash>        -> rlp(block)
//   s<hash>        -> encoded ledger snapshot
//   f<length>      -> rlp(finalized entry)
//   head           -> rlp(last finalized entry)
//   p<slot><hash>  -> non-finalized block index
type Store struct {
	kv    KV
	cache *lru.Cache

	// serializes Finalize and PruneBelow.
	mu sync.Mutex
}

// New creates a store on the KV.
func New(kv KV) *Store {
	c, err := lru.New(blockCacheSize)
	if err != nil {
		panic(err)
	}

	return &Store{kv: kv, cache: c}
}

// Close closes the underlying KV.
func (s *Store) Close() error {
	return s.kv.Close()
}

func notFound(err error) error {
	if err == errKeyNotFound {
		return consensus.ErrNotFound
	}
	return err
}

// Block returns the block of the hash.
func (s *Store) Block(h consensus.Hash) (*consensus.Block, error) {
	if v, ok := s.cache.Get(h); ok {
		return v.(*consensus.Block), nil
	}

	d, err := s.kv.Get(blockKey(h))
	if err != nil {
		return nil, notFound(err)
	}

	var b consensus.Block
	err = b.Decode(d)
	if err != nil {
		return nil, errors.Wrapf(err, "decode block %v", h)
	}

	s.cache.Add(h, &b)
	return &b, nil
}

// PutBlock stores the block and indexes it as non-finalized.
func (s *Store) PutBlock(b *consensus.Block) error {
	h := b.Hash()
	ok, err := s.kv.Has(blockKey(h))
	if err != nil {
		return err
	}

	if ok {
		return nil
	}

	batch := s.kv.NewBatch()
	err = batch.Put(blockKey(h), b.Encode())
	if err != nil {
		return err
	}

	err = batch.Put(pendingKey(b.Slot(), h), nil)
	if err != nil {
		return err
	}

	err = batch.Write()
	if err != nil {
		return errors.Wrapf(err, "put block %v", h)
	}

	s.cache.Add(h, b)
	return nil
}

// Snapshot returns the encoded snapshot after the block.
func (s *Store) Snapshot(h consensus.Hash) ([]byte, error) {
	d, err := s.kv.Get(snapshotKey(h))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

// PutSnapshot stores the encoded snapshot after the block.
func (s *Store) PutSnapshot(h consensus.Hash, snapshot []byte) error {
	batch := s.kv.NewBatch()
	err := batch.Put(snapshotKey(h), snapshot)
	if err != nil {
		return err
	}

	return errors.Wrapf(batch.Write(), "put snapshot %v", h)
}

func (s *Store) finalizedAt(length uint64) (consensus.Finalized, error) {
	var f consensus.Finalized
	d, err := s.kv.Get(finalizedKey(length))
	if err != nil {
		return f, notFound(err)
	}

	err = rlp.DecodeBytes(d, &f)
	return f, errors.Wrapf(err, "decode finalized entry %d", length)
}

// FinalizedHead returns the last finalized block.
func (s *Store) FinalizedHead() (consensus.Finalized, error) {
	var f consensus.Finalized
	d, err := s.kv.Get(headKey)
	if err != nil {
		return f, notFound(err)
	}

	err = rlp.DecodeBytes(d, &f)
	return f, errors.Wrap(err, "decode finalized head")
}

// Finalize appends the block to the finalized chain and removes it
// from the non-finalized index.
func (s *Store) Finalize(f consensus.Finalized) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.FinalizedHead()
	if err == nil {
		if f.Length != head.Length+1 || f.Slot <= head.Slot {
			return errors.Errorf("finalized block %v (length %d, slot %d) does not extend head %v (length %d, slot %d)", f.Hash, f.Length, f.Slot, head.Hash, head.Length, head.Slot)
		}
	} else if err != consensus.ErrNotFound {
		return err
	} else if f.Length != 0 {
		return errors.Errorf("first finalized block %v must have length 0", f.Hash)
	}

	ok, err := s.kv.Has(blockKey(f.Hash))
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("finalized block %v not stored", f.Hash)
	}

	d := rlpEncode(&f)
	batch := s.kv.NewBatch()
	err = batch.Put(finalizedKey(f.Length), d)
	if err != nil {
		return err
	}

	err = batch.Put(headKey, d)
	if err != nil {
		return err
	}

	err = batch.Delete(pendingKey(f.Slot, f.Hash))
	if err != nil {
		return err
	}

	return errors.Wrapf(batch.Write(), "finalize %v", f.Hash)
}

// FinalizedFrom returns the latest finalized block at or before the
// slot and all finalized blocks after it.
func (s *Store) FinalizedFrom(slot uint64) ([]consensus.Finalized, error) {
	head, err := s.FinalizedHead()
	if err == consensus.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	// the finalized slots increase with the length, binary
	// search the last length with slot <= slot.
	lo, hi := uint64(0), head.Length
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		f, err := s.finalizedAt(mid)
		if err != nil {
			return nil, err
		}

		if f.Slot <= slot {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	var r []consensus.Finalized
	var iterErr error
	err = s.kv.Iterate(finalizedPrefix, finalizedKey(lo)[len(finalizedPrefix):], func(_, v []byte) bool {
		var f consensus.Finalized
		iterErr = rlp.DecodeBytes(v, &f)
		if iterErr != nil {
			return false
		}
		r = append(r, f)
		return true
	})
	if err != nil {
		return nil, err
	}
	return r, errors.Wrap(iterErr, "decode finalized entry")
}

// PendingBlocks returns the non-finalized blocks sorted by slot.
func (s *Store) PendingBlocks() ([]*consensus.Block, error) {
	var hashes []consensus.Hash
	err := s.kv.Iterate(pendingPrefix, nil, func(k, _ []byte) bool {
		var h consensus.Hash
		copy(h[:], k[len(pendingPrefix)+8:])
		hashes = append(hashes, h)
		return true
	})
	if err != nil {
		return nil, err
	}

	r := make([]*consensus.Block, 0, len(hashes))
	for _, h := range hashes {
		b, err := s.Block(h)
		if err != nil {
			return nil, errors.Wrapf(err, "pending block %v", h)
		}
		r = append(r, b)
	}
	return r, nil
}

// PruneBelow removes the non-finalized blocks with a slot not
// greater than the slot of the finalized block h.
func (s *Store) PruneBelow(h consensus.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.Block(h)
	if err != nil {
		return err
	}

	limit := b.Slot()
	var keys [][]byte
	err = s.kv.Iterate(pendingPrefix, nil, func(k, _ []byte) bool {
		slot := binary.BigEndian.Uint64(k[len(pendingPrefix):])
		if slot > limit {
			return false
		}
		keys = append(keys, append([]byte(nil), k...))
		return true
	})
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	batch := s.kv.NewBatch()
	for _, k := range keys {
		var ph consensus.Hash
		copy(ph[:], k[len(pendingPrefix)+8:])
		err = batch.Delete(k)
		if err != nil {
			return err
		}

		err = batch.Delete(blockKey(ph))
		if err != nil {
			return err
		}
		s.cache.Remove(ph)
	}

	return errors.Wrapf(batch.Write(), "prune below %v", h)
}

func rlpEncode(v interface{}) []byte {
	d, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(err)
	}
	return d
}
