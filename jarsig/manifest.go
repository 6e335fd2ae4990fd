package jarsig

import (
	"encoding/base64"

	"github.com/pkg/errors"

	"github.com/thenameisnigel/android-bootable-recovery/archive"
	"github.com/thenameisnigel/android-bootable-recovery/errdef"
	"github.com/thenameisnigel/android-bootable-recovery/sha1rsa"
)

// maxManifestEntryBytes bounds how much of a single META-INF text member
// (.RSA, .SF, MANIFEST.MF) this package will hold in memory at once.
const maxManifestEntryBytes = 64 << 20

// splitLines tokenizes buf the way the original verifier's strtok_r(buf,
// "\r\n", ...) does: any run of CR and/or LF bytes is a delimiter, and
// leading, trailing, or repeated delimiters never produce empty lines.
func splitLines(buf []byte) []string {
	var lines []string
	start := -1
	for i := 0; i <= len(buf); i++ {
		delim := i == len(buf) || buf[i] == '\r' || buf[i] == '\n'
		if !delim {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			lines = append(lines, string(buf[start:i]))
			start = -1
		}
	}
	return lines
}

// decodeDigest base64-decodes s and requires the result to be exactly a
// SHA-1 digest's worth of bytes.
func decodeDigest(s string) (sha1rsa.Digest, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return sha1rsa.Digest{}, errdef.Wrap(errdef.CategoryFormat, errors.Wrap(err, "decode base64 digest"))
	}
	if len(raw) != sha1rsa.DigestSize {
		return sha1rsa.Digest{}, errdef.Wrap(errdef.CategoryFormat, errdef.ErrDigestLength)
	}
	var d sha1rsa.Digest
	copy(d[:], raw)
	return d, nil
}

// slurpEntry reads e's full decompressed content into memory, capped at
// maxManifestEntryBytes, rejecting entries that fail their CRC check.
func slurpEntry(r *archive.Reader, e archive.Entry) ([]byte, error) {
	if !r.IsIntact(e) {
		return nil, errdef.Wrap(errdef.CategoryIntegrity, errors.Wrapf(errdef.ErrEntryCorrupt, "entry %q", e.NameString()))
	}
	var buf []byte
	err := r.Stream(e, func(chunk []byte) error {
		if int64(len(buf)+len(chunk)) > maxManifestEntryBytes {
			return errdef.ErrSizeExceedsLimit
		}
		buf = append(buf, chunk...)
		return nil
	})
	if err != nil {
		return nil, errdef.Wrap(errdef.CategoryIO, err)
	}
	return buf, nil
}

// digestEntry streams e's content through SHA-1 without materializing it,
// invoking onChunk (if non-nil) after every chunk for progress accounting.
func digestEntry(r *archive.Reader, e archive.Entry, onChunk func(n int)) (sha1rsa.Digest, error) {
	if !r.IsIntact(e) {
		return sha1rsa.Digest{}, errdef.Wrap(errdef.CategoryIntegrity, errors.Wrapf(errdef.ErrEntryCorrupt, "entry %q", e.NameString()))
	}
	h := sha1rsa.NewHash()
	err := r.Stream(e, func(chunk []byte) error {
		h.Write(chunk)
		if onChunk != nil {
			onChunk(len(chunk))
		}
		return nil
	})
	if err != nil {
		return sha1rsa.Digest{}, errdef.Wrap(errdef.CategoryIO, err)
	}
	return h.Sum20(), nil
}
