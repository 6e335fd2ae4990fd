package wholefile

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"testing"

	"github.com/thenameisnigel/android-bootable-recovery/progress"
	"github.com/thenameisnigel/android-bootable-recovery/sha1rsa"
)

func mustTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

// buildSignedFile synthesizes a minimal "archive" (the payload doesn't need
// to be a real ZIP central directory for these tests — only the trailing
// EOCD-shaped footer matters to the verifier) with a valid whole-file
// signature footer appended.
func buildSignedFile(t *testing.T, priv *rsa.PrivateKey, payload []byte, corrupt func(buf []byte) []byte) []byte {
	t.Helper()

	eocdHeader := make([]byte, eocdHeaderSize)
	copy(eocdHeader[:4], eocdMagic[:])

	h := sha1.New()
	h.Write(payload)
	h.Write(eocdHeader[:eocdHeaderSize-2])
	digest := h.Sum(nil)

	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA1, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// comment = sig + footer(sigStart, 0xffff, commentLen)
	commentLen := len(sig) + footerSize
	footer := make([]byte, footerSize)
	sigStart := commentLen // distance of signature start from end of file
	footer[0] = byte(sigStart)
	footer[1] = byte(sigStart >> 8)
	footer[2] = 0xff
	footer[3] = 0xff
	footer[4] = byte(commentLen)
	footer[5] = byte(commentLen >> 8)

	var buf bytes.Buffer
	buf.Write(payload)
	buf.Write(eocdHeader[:eocdHeaderSize-2]) // EOCD minus comment-length field
	buf.WriteByte(footer[4])                 // comment length field (LE, 2 bytes)
	buf.WriteByte(footer[5])
	buf.Write(sig)
	buf.Write(footer)

	out := buf.Bytes()
	if corrupt != nil {
		out = corrupt(out)
	}
	return out
}

func TestVerifyFileHappyPath(t *testing.T) {
	priv := mustTestKey(t)
	key, err := sha1rsa.NewTrustedKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("NewTrustedKey: %v", err)
	}
	data := buildSignedFile(t, priv, []byte("payload bytes for whole file signing"), nil)

	v := Verifier{Keys: sha1rsa.KeySet{key}}
	rec := &progress.Recorder{}
	res, err := v.VerifyFile(bytes.NewReader(data), int64(len(data)), rec)
	if err != nil {
		t.Fatalf("VerifyFile: %v", err)
	}
	if !res.Verified {
		t.Fatalf("expected verified")
	}
	if !rec.Monotonic() {
		t.Fatalf("expected monotone progress, got %v", rec.Values)
	}
}

func TestVerifyFileMissingSentinel(t *testing.T) {
	priv := mustTestKey(t)
	key, _ := sha1rsa.NewTrustedKey(&priv.PublicKey)
	data := buildSignedFile(t, priv, []byte("payload"), func(buf []byte) []byte {
		buf[len(buf)-4] = 0x00 // stomp the 0xff 0xff sentinel
		return buf
	})

	v := Verifier{Keys: sha1rsa.KeySet{key}}
	if _, err := v.VerifyFile(bytes.NewReader(data), int64(len(data)), progress.Discard); err == nil {
		t.Fatalf("expected failure for missing sentinel")
	}
}

func TestVerifyFileHostileEOCD(t *testing.T) {
	priv := mustTestKey(t)
	key, _ := sha1rsa.NewTrustedKey(&priv.PublicKey)
	data := buildSignedFile(t, priv, []byte("payload"), func(buf []byte) []byte {
		// Plant a forged EOCD magic inside the comment, after the real one.
		idx := len(buf) - footerSize - 10
		copy(buf[idx:idx+4], eocdMagic[:])
		return buf
	})

	v := Verifier{Keys: sha1rsa.KeySet{key}}
	if _, err := v.VerifyFile(bytes.NewReader(data), int64(len(data)), progress.Discard); err == nil {
		t.Fatalf("expected failure for hostile second EOCD marker")
	}
}

func TestVerifyFileWrongKey(t *testing.T) {
	priv := mustTestKey(t)
	other := mustTestKey(t)
	wrongKey, _ := sha1rsa.NewTrustedKey(&other.PublicKey)
	data := buildSignedFile(t, priv, []byte("payload"), nil)

	v := Verifier{Keys: sha1rsa.KeySet{wrongKey}}
	res, err := v.VerifyFile(bytes.NewReader(data), int64(len(data)), progress.Discard)
	if err == nil || res.Verified {
		t.Fatalf("expected verification failure with mismatched key")
	}
}

func TestVerifyFileTooShort(t *testing.T) {
	v := Verifier{Keys: sha1rsa.KeySet{}}
	if _, err := v.VerifyFile(bytes.NewReader([]byte("abc")), 3, progress.Discard); err == nil {
		t.Fatalf("expected failure for file shorter than footer")
	}
}
