// Package sha1rsa wraps the cryptographic primitives the verifier relies on:
// streaming SHA-1 and PKCS#1 v1.5 RSA signature verification against a fixed
// modulus size. It treats the underlying algorithms as a black box with a
// documented contract, per the crypto primitives the recovery verifier was
// built against.
package sha1rsa

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"hash"

	"github.com/pkg/errors"
)

// RSAModBytes is the fixed RSA modulus size this verifier assumes, in bytes
// (256 == RSA-2048).
const RSAModBytes = 256

// DigestSize is the length of a SHA-1 digest.
const DigestSize = sha1.Size

// Digest is a fixed 20-byte SHA-1 output.
type Digest = [DigestSize]byte

// Hash is a streaming SHA-1 context; it satisfies hash.Hash so it can be used
// anywhere a plain io.Writer is needed (a tee over a file read, a zip entry
// stream, etc.).
type Hash struct {
	hash.Hash
}

// NewHash returns a fresh streaming SHA-1 hash context.
func NewHash() Hash {
	return Hash{sha1.New()}
}

// Sum20 returns the final 20-byte digest without resetting the hash.
func (h Hash) Sum20() Digest {
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// TrustedKey is an opaque RSA public key whose modulus is exactly
// RSAModBytes bytes. A zero-value TrustedKey is never valid; construct one
// with ParsePublicKeyPEM or NewTrustedKey.
type TrustedKey struct {
	pub *rsa.PublicKey
}

// KeySet is an ordered sequence of TrustedKeys. Verification succeeds if any
// key verifies; first match wins for logging.
type KeySet []TrustedKey

// NewTrustedKey wraps an *rsa.PublicKey, rejecting any modulus whose byte
// length isn't exactly RSAModBytes.
func NewTrustedKey(pub *rsa.PublicKey) (TrustedKey, error) {
	if pub == nil {
		return TrustedKey{}, errors.New("nil public key")
	}
	if n := (pub.N.BitLen() + 7) / 8; n != RSAModBytes {
		return TrustedKey{}, errors.Errorf("unsupported RSA modulus size: %d bytes (want %d)", n, RSAModBytes)
	}
	return TrustedKey{pub: pub}, nil
}

// ParsePublicKeyPEM decodes a single PEM-encoded PKIX RSA public key.
func ParsePublicKeyPEM(data []byte) (TrustedKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return TrustedKey{}, errors.New("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return TrustedKey{}, errors.Wrap(err, "parse PKIX public key")
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return TrustedKey{}, errors.Errorf("not an RSA public key: %T", key)
	}
	return NewTrustedKey(rsaKey)
}

// Verify reports whether sig is a valid PKCS#1 v1.5 RSA signature over digest
// under this key. It never panics; any malformed input simply fails.
func (k TrustedKey) Verify(digest Digest, sig []byte) bool {
	if k.pub == nil || len(sig) != RSAModBytes {
		return false
	}
	err := rsa.VerifyPKCS1v15(k.pub, crypto.SHA1, digest[:], sig)
	return err == nil
}

// Verify tries every key in the set in order and reports the index of the
// first one that verifies, or -1 if none do.
func (ks KeySet) Verify(digest Digest, sig []byte) (index int, ok bool) {
	for i, k := range ks {
		if k.Verify(digest, sig) {
			return i, true
		}
	}
	return -1, false
}
