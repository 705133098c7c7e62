package store

import (
	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/pkg/errors"
)

var errKeyNotFound = errors.New("key not found")

// KV is an ordered key value store.
type KV interface {
	// Get returns errKeyNotFound if the key does not exist.
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	NewBatch() Batch
	// Iterate calls fn for each key with the prefix, in key
	// order, starting at prefix+start. The iteration stops when
	// fn returns false.
	Iterate(prefix, start []byte, fn func(key, value []byte) bool) error
	Close() error
}

// Batch is an atomic write of a group of changes.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Write() error
}

// memKV is the in-memory KV backed by the go-ethereum memory
// database.
type memKV struct {
	db *memorydb.Database
}

// NewMemKV creates an in-memory KV.
func NewMemKV() KV {
	return &memKV{db: memorydb.New()}
}

func (m *memKV) Get(key []byte) ([]byte, error) {
	ok, err := m.db.Has(key)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, errKeyNotFound
	}

	return m.db.Get(key)
}

func (m *memKV) Has(key []byte) (bool, error) {
	return m.db.Has(key)
}

func (m *memKV) NewBatch() Batch {
	return &memBatch{b: m.db.NewBatch()}
}

func (m *memKV) Iterate(prefix, start []byte, fn func(key, value []byte) bool) error {
	it := m.db.NewIterator(prefix, start)
	defer it.Release()

	for it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

func (m *memKV) Close() error {
	return m.db.Close()
}

type memBatch struct {
	b interface {
		Put(key, value []byte) error
		Delete(key []byte) error
		Write() error
	}
}

func (b *memBatch) Put(key, value []byte) error {
	return b.b.Put(key, value)
}

func (b *memBatch) Delete(key []byte) error {
	return b.b.Delete(key)
}

func (b *memBatch) Write() error {
	return b.b.Write()
}

// pebbleKV is the durable KV backed by pebble.
type pebbleKV struct {
	db *pebble.DB
}

// OpenPebble opens or creates the pebble database in the directory.
func OpenPebble(dir string) (KV, error) {
	opts := &pebble.Options{
		BytesPerSync: 512 * 1024,
		MemTableSize: 64 << 20,
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", dir)
	}

	return &pebbleKV{db: db}, nil
}

func (p *pebbleKV) Get(key []byte) ([]byte, error) {
	data, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, errKeyNotFound
	} else if err != nil {
		return nil, err
	}
	defer closer.Close()

	return append([]byte(nil), data...), nil
}

func (p *pebbleKV) Has(key []byte) (bool, error) {
	_, err := p.Get(key)
	if err == errKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

func (p *pebbleKV) NewBatch() Batch {
	return &pebbleBatch{b: p.db.NewBatch()}
}

// upperBound returns the smallest key greater than all keys with the
// prefix, nil if there is none.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (p *pebbleKV) Iterate(prefix, start []byte, fn func(key, value []byte) bool) error {
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: append(append([]byte(nil), prefix...), start...),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

func (p *pebbleKV) Close() error {
	return p.db.Close()
}

type pebbleBatch struct {
	b *pebble.Batch
}

func (b *pebbleBatch) Put(key, value []byte) error {
	return b.b.Set(key, value, nil)
}

func (b *pebbleBatch) Delete(key []byte) error {
	return b.b.Delete(key, nil)
}

func (b *pebbleBatch) Write() error {
	defer b.b.Close()
	return b.b.Commit(pebble.Sync)
}
