package consensus

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/sha3"
)

const (
	hashBytes = 32
	addrBytes = 20
)

// Hash is the hash of a piece of data.
type Hash [hashBytes]byte

// ZeroHash is the hash with all bytes set to zero.
var ZeroHash = Hash{}

// SHA3 returns the SHA3-256 hash of the concatenated bytes.
func SHA3(b ...[]byte) Hash {
	d := sha3.New256()
	for _, e := range b {
		_, err := d.Write(e)
		if err != nil {
			// should not happen
			panic(err)
		}
	}
	h := d.Sum(nil)
	var hash Hash
	copy(hash[:], h)
	return hash
}

func hashMod(h Hash, n uint64) uint64 {
	var b big.Int
	b.SetBytes(h[:])
	b.Mod(&b, new(big.Int).SetUint64(n))
	return b.Uint64()
}

// Addr returns the address associated to the hash.
func (h Hash) Addr() Addr {
	var addr Addr
	copy(addr[:], h[hashBytes-addrBytes:])
	return addr
}

// Less reports whether h sorts before o in byte order.
func (h Hash) Less(o Hash) bool {
	return bytes.Compare(h[:], o[:]) < 0
}

func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:4])
}

// Hex returns the full hex encoding of the hash.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// HashFromHex decodes a full hex encoded hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}

	if len(b) != hashBytes {
		return h, fmt.Errorf("invalid hash length: %d", len(b))
	}

	copy(h[:], b)
	return h, nil
}

// Addr is the address of an account or a stake pool.
type Addr [addrBytes]byte

// ZeroAddr is the empty address.
var ZeroAddr = Addr{}

func (a Addr) String() string {
	return fmt.Sprintf("%x", a[:])
}

// Hex returns the hex encoding of the address.
func (a Addr) Hex() string {
	return hex.EncodeToString(a[:])
}

// Less reports whether a sorts before o in byte order.
func (a Addr) Less(o Addr) bool {
	return bytes.Compare(a[:], o[:]) < 0
}

// AddrFromHex decodes a hex encoded address.
func AddrFromHex(s string) (Addr, error) {
	var a Addr
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, err
	}

	if len(b) != addrBytes {
		return a, fmt.Errorf("invalid address length: %d", len(b))
	}

	copy(a[:], b)
	return a, nil
}
