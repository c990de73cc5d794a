// Package signer defines the key-management boundary the agent signs
// transactions through. The boundary is a narrow interface rather than a
// concrete key type so a local development key and a future remote/KMS
// signer can share every caller without either leaking into the other.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Path identifies a signing key within the boundary; for the local signer
// it indexes a slot in an in-memory/keystore key set, mirroring (without
// reimplementing) the role the original's ECDSA derivation path played.
type Path []byte

// Signer is the full surface every execution path needs from a key: derive
// its public identity, and sign a 32-byte digest.
type Signer interface {
	// PublicKey returns the 33-byte compressed secp256k1 public key at path.
	PublicKey(ctx context.Context, path Path) ([]byte, error)
	// Address returns the 20-byte EVM address derived from path's key.
	Address(ctx context.Context, path Path) (common.Address, error)
	// Sign returns a 65-byte (r || s || v) signature over digest.
	Sign(ctx context.Context, path Path, digest [32]byte) ([]byte, error)
}

// KeyGenerator is implemented by signer backends that can mint a fresh
// local key on demand (today, only LocalECDSASigner). A remote/KMS signer
// configuration has no analogue; callers type-assert for it and fall back
// to pure address derivation against pre-provisioned keys when absent.
type KeyGenerator interface {
	AddKey(path Path, key *ecdsa.PrivateKey) (*ecdsa.PrivateKey, error)
}

// LocalECDSASigner holds secp256k1 keys in process memory, one per path,
// modeled on the teacher's LocalECDSASigner but generalized from a single
// fixed key to a keyed set addressed by Path.
type LocalECDSASigner struct {
	keys map[string]*ecdsa.PrivateKey
}

// NewLocal builds an empty local signer; keys are added with AddKey.
func NewLocal() *LocalECDSASigner {
	return &LocalECDSASigner{keys: make(map[string]*ecdsa.PrivateKey)}
}

// AddKey registers key under path, generating a fresh key if key is nil.
func (s *LocalECDSASigner) AddKey(path Path, key *ecdsa.PrivateKey) (*ecdsa.PrivateKey, error) {
	if key == nil {
		generated, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		key = generated
	}
	s.keys[string(path)] = key
	return key, nil
}

func (s *LocalECDSASigner) lookup(path Path) (*ecdsa.PrivateKey, error) {
	key, ok := s.keys[string(path)]
	if !ok {
		return nil, fmt.Errorf("signer: no key registered for path %x", path)
	}
	return key, nil
}

func (s *LocalECDSASigner) PublicKey(_ context.Context, path Path) ([]byte, error) {
	key, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	return crypto.CompressPubkey(&key.PublicKey), nil
}

func (s *LocalECDSASigner) Address(_ context.Context, path Path) (common.Address, error) {
	key, err := s.lookup(path)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func (s *LocalECDSASigner) Sign(_ context.Context, path Path, digest [32]byte) ([]byte, error) {
	key, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	return sig, nil
}

// Verify recovers the signer's public key from sig over digest and
// confirms it matches expected, mirroring the original's explicit
// y-parity recovery check before trusting a signature.
func Verify(digest [32]byte, sig []byte, expected []byte) error {
	recovered, err := crypto.Ecrecover(digest[:], sig)
	if err != nil {
		return fmt.Errorf("ecrecover: %w", err)
	}
	compressed := crypto.CompressPubkey(mustUnmarshalPubkey(recovered))
	if string(compressed) != string(expected) {
		return fmt.Errorf("recovered public key does not match expected signer")
	}
	return nil
}

func mustUnmarshalPubkey(pub []byte) *ecdsa.PublicKey {
	key, err := crypto.UnmarshalPubkey(pub)
	if err != nil {
		panic(fmt.Sprintf("signer: invalid recovered public key: %v", err))
	}
	return key
}
