package sha1rsa

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
)

// signPKCS1v15 is a test-only helper: the verifier never signs anything, so
// signing lives in the test tree rather than the package proper.
func signPKCS1v15(priv *rsa.PrivateKey, digest Digest) ([]byte, error) {
	return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA1, digest[:])
}
