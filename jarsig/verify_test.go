package jarsig

import (
	"archive/zip"
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"testing"

	araw "github.com/thenameisnigel/android-bootable-recovery/archive"
	"github.com/thenameisnigel/android-bootable-recovery/progress"
	"github.com/thenameisnigel/android-bootable-recovery/sha1rsa"
)

func sha1b64(b []byte) string {
	sum := sha1.Sum(b)
	return base64.StdEncoding.EncodeToString(sum[:])
}

type jarFixture struct {
	files map[string][]byte
}

func (f *jarFixture) add(name string, content []byte) {
	if f.files == nil {
		f.files = make(map[string][]byte)
	}
	f.files[name] = content
}

func (f *jarFixture) bytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(f.files))
	for n := range f.files {
		names = append(names, n)
	}
	// deterministic order
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatalf("create %s: %v", n, err)
		}
		if _, err := w.Write(f.files[n]); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

// buildSignedJar builds a minimal signed JAR with two content entries, a
// manifest covering both, a .SF digesting the manifest, and a .RSA signing
// the .SF, returning the raw archive bytes and the signing key.
func buildSignedJar(t *testing.T, mutate func(f *jarFixture)) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	f := &jarFixture{}
	f.add("hello.txt", []byte("hello world"))
	f.add("dir/nested.txt", []byte("nested content"))

	manifest := "Manifest-Version: 1.0\r\n" +
		"Name: hello.txt\r\n" +
		"SHA1-Digest: " + sha1b64([]byte("hello world")) + "\r\n" +
		"Name: dir/nested.txt\r\n" +
		"SHA1-Digest: " + sha1b64([]byte("nested content")) + "\r\n"
	f.add("META-INF/MANIFEST.MF", []byte(manifest))

	sf := "Signature-Version: 1.0\r\n" +
		"SHA1-Digest-Manifest: " + sha1b64([]byte(manifest)) + "\r\n"
	f.add("META-INF/CERT.SF", []byte(sf))

	sfDigest := sha1.Sum([]byte(sf))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA1, sfDigest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	f.add("META-INF/CERT.RSA", sig)

	if mutate != nil {
		mutate(f)
	}

	return f.bytes(t), priv
}

func openFixture(t *testing.T, data []byte) *araw.Reader {
	t.Helper()
	r, err := araw.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	return r
}

func TestVerifyManifestHappyPath(t *testing.T) {
	data, priv := buildSignedJar(t, nil)
	r := openFixture(t, data)
	defer r.Close()

	key, err := sha1rsa.NewTrustedKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("NewTrustedKey: %v", err)
	}
	v := Verifier{Keys: sha1rsa.KeySet{key}}
	rec := &progress.Recorder{}
	ok, err := v.VerifyManifest(r, rec)
	if err != nil {
		t.Fatalf("VerifyManifest: %v", err)
	}
	if !ok {
		t.Fatalf("expected verification success")
	}
	if !rec.Monotonic() {
		t.Fatalf("expected monotone progress, got %v", rec.Values)
	}
}

func TestVerifyManifestCoverageGap(t *testing.T) {
	// Add a file the manifest never mentions; the .SF/.RSA chain still
	// verifies since it only covers the manifest, but per-entry coverage
	// must then reject the unmentioned file.
	data, priv := buildSignedJar(t, func(f *jarFixture) {
		f.add("extra.txt", []byte("not covered"))
	})
	r := openFixture(t, data)
	defer r.Close()

	key, _ := sha1rsa.NewTrustedKey(&priv.PublicKey)
	v := Verifier{Keys: sha1rsa.KeySet{key}}
	if ok, err := v.VerifyManifest(r, progress.Discard); err == nil || ok {
		t.Fatalf("expected coverage gap failure")
	}
}

func TestVerifyManifestDigestMismatch(t *testing.T) {
	data, priv := buildSignedJar(t, func(f *jarFixture) {
		f.files["hello.txt"] = []byte("tampered!!!")
	})
	r := openFixture(t, data)
	defer r.Close()

	key, _ := sha1rsa.NewTrustedKey(&priv.PublicKey)
	v := Verifier{Keys: sha1rsa.KeySet{key}}
	if ok, err := v.VerifyManifest(r, progress.Discard); err == nil || ok {
		t.Fatalf("expected digest mismatch failure")
	}
}

func TestVerifyManifestNoSignature(t *testing.T) {
	f := &jarFixture{}
	f.add("hello.txt", []byte("hello"))
	data := f.bytes(t)
	r := openFixture(t, data)
	defer r.Close()

	v := Verifier{Keys: sha1rsa.KeySet{}}
	if ok, err := v.VerifyManifest(r, progress.Discard); err == nil || ok {
		t.Fatalf("expected failure with no signature present")
	}
}
