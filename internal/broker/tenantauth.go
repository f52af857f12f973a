package broker

import (
	"crypto/subtle"
	"hash"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/pbkdf2"
)

// newBlake2b256 adapts blake2b.New256 (which can error on bad key sizes,
// never the case for our fixed nil-key usage) to the hash.Hash-factory
// shape pbkdf2.Key expects.
func newBlake2b256() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	return h
}

// TenantAuth is an optional per-connection credential check run during
// Connect handling (spec §4.5), ahead of the static tenant_prefix string
// check in §4.6.1. It derives a key from a configured per-tenant secret
// and a client-supplied nonce and compares it against the client-supplied
// proof, in the spirit of the teacher's SASL handshake but scoped to a
// single in-process derive-and-compare (no network round trip: that is the
// network layer's job, out of scope per spec §1).
type TenantAuth struct {
	secrets    map[string][]byte // tenant prefix -> shared secret
	iterations int
	keyLen     int
}

// NewTenantAuth builds a TenantAuth from a tenant-prefix -> secret map.
func NewTenantAuth(secrets map[string][]byte) *TenantAuth {
	return &TenantAuth{
		secrets:    secrets,
		iterations: 4096,
		keyLen:     32,
	}
}

// Derive computes the expected proof for a tenant prefix and nonce.
func (t *TenantAuth) Derive(tenantPrefix string, nonce []byte) ([]byte, bool) {
	secret, ok := t.secrets[tenantPrefix]
	if !ok {
		return nil, false
	}
	return pbkdf2.Key(secret, nonce, t.iterations, t.keyLen, newBlake2b256), true
}

// Verify checks a client-supplied proof against the derived expectation
// for tenantPrefix and nonce. A missing tenant prefix fails closed.
func (t *TenantAuth) Verify(tenantPrefix string, nonce, proof []byte) bool {
	expected, ok := t.Derive(tenantPrefix, nonce)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare(expected, proof) == 1
}
