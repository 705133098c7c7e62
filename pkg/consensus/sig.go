package consensus

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/gob"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
)

// PK is a serialized secp256k1 public key (65 bytes, uncompressed).
type PK []byte

// Addr returns the address derived from the public key.
func (p PK) Addr() Addr {
	return SHA3(p).Addr()
}

// SK is a serialized secp256k1 secret key.
type SK []byte

func skFromSeed(seed []byte) (SK, error) {
	key, err := crypto.ToECDSA(seed)
	if err != nil {
		return nil, err
	}

	return SK(crypto.FromECDSA(key)), nil
}

func (s SK) get() (*ecdsa.PrivateKey, error) {
	return crypto.ToECDSA(s)
}

// PK returns the public key of the secret key.
func (s SK) PK() (PK, error) {
	key, err := s.get()
	if err != nil {
		return nil, err
	}

	return PK(crypto.FromECDSAPub(&key.PublicKey)), nil
}

// MustPK is like PK but panics on an invalid secret key.
func (s SK) MustPK() PK {
	pk, err := s.PK()
	if err != nil {
		panic(err)
	}
	return pk
}

// Sign signs the SHA3 hash of the message.
func (s SK) Sign(msg []byte) Sig {
	key, err := s.get()
	if err != nil {
		panic(err)
	}

	h := SHA3(msg)
	sig, err := crypto.Sign(h[:], key)
	if err != nil {
		panic(err)
	}

	return Sig(sig)
}

// Sig is a serialized signature.
type Sig []byte

// Verify verifies the signature of msg against the public key.
func (s Sig) Verify(pk PK, msg []byte) bool {
	if len(s) < 64 || len(pk) == 0 {
		return false
	}

	h := SHA3(msg)
	return crypto.VerifySignature(pk, h[:], s[:64])
}

// RandKeyPair generates a new key pair from the system randomness.
func RandKeyPair() (PK, SK) {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}

	return PK(crypto.FromECDSAPub(&key.PublicKey)), SK(crypto.FromECDSA(key))
}

// Verifier verifies signatures. It is the black box signature
// capability used by the validator.
type Verifier interface {
	VerifySignature(pk PK, msg []byte, sig Sig) bool
}

type secp256k1Verifier struct{}

// DefaultVerifier verifies secp256k1 signatures.
var DefaultVerifier Verifier = secp256k1Verifier{}

func (secp256k1Verifier) VerifySignature(pk PK, msg []byte, sig Sig) bool {
	return sig.Verify(pk, msg)
}

// NodeCredentials is the credentials of a block producing node.
type NodeCredentials struct {
	SK SK
}

// LoadCredential loads the gob encoded credential file.
func LoadCredential(path string) (NodeCredentials, error) {
	var c NodeCredentials
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}

	dec := gob.NewDecoder(bytes.NewReader(b))
	err = dec.Decode(&c)
	return c, err
}

// SaveCredential writes the gob encoded credential file.
func SaveCredential(path string, c NodeCredentials) error {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	err := enc.Encode(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, buf.Bytes(), 0600)
}
