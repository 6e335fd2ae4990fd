// Package wholefile verifies an Android OTA-style whole-file signature: a
// six-byte footer trailer, an end-of-central-directory record read back from
// the tail of the archive, and a SHA-1/RSA signature embedded in the ZIP
// comment that covers every byte of the file up to, but not including, the
// EOCD's two-byte comment-length field and the comment. Grounded on the recovery verifier's verify_file, adapted to Go's
// io.ReaderAt plus a pooled tail buffer the way the EOCD-scanning reference
// in the retrieved pack reads a ZIP tail without loading the whole file.
package wholefile

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/valyala/bytebufferpool"

	"github.com/thenameisnigel/android-bootable-recovery/errdef"
	"github.com/thenameisnigel/android-bootable-recovery/progress"
	"github.com/thenameisnigel/android-bootable-recovery/sha1rsa"
)

const (
	footerSize     = 6
	eocdHeaderSize = 22
	eocdMagicLen   = 4
)

var eocdMagic = [eocdMagicLen]byte{0x50, 0x4b, 0x05, 0x06}

// Result reports the outcome of a whole-file verification attempt.
type Result struct {
	Verified bool
	// KeyIndex is the index into the KeySet that verified the signature, or
	// -1 if none did.
	KeyIndex int
}

// Verifier checks a whole-file signature against a set of trusted keys.
type Verifier struct {
	Keys sha1rsa.KeySet
}

// VerifyFile checks ra (a file of length fileLen) for a valid whole-file
// signature, reporting streamed-hash progress to sink.
func (v Verifier) VerifyFile(ra io.ReaderAt, fileLen int64, sink progress.Sink) (Result, error) {
	log := logrus.WithField("component", "wholefile")
	th := progress.NewThreshold(sink, 0.02)
	th.Set(0.0)

	if fileLen < footerSize {
		return Result{KeyIndex: -1}, errdef.Wrap(errdef.CategoryFormat, errdef.ErrShortRead)
	}

	var footer [footerSize]byte
	if _, err := ra.ReadAt(footer[:], fileLen-footerSize); err != nil {
		return Result{KeyIndex: -1}, errdef.Wrap(errdef.CategoryIO, errors.Wrap(err, "read footer"))
	}

	if footer[2] != 0xff || footer[3] != 0xff {
		return Result{KeyIndex: -1}, errdef.Wrap(errdef.CategoryFormat, errdef.ErrMissingSentinel)
	}

	commentSize := int64(footer[4]) | int64(footer[5])<<8
	sigStart := int64(footer[0]) | int64(footer[1])<<8
	log.WithFields(logrus.Fields{
		"comment_size": commentSize,
		"sig_start":    sigStart,
	}).Debug("parsed whole-file footer")

	if sigStart-footerSize < sha1rsa.RSAModBytes {
		return Result{KeyIndex: -1}, errdef.Wrap(errdef.CategoryFormat, errdef.ErrSignatureTooShort)
	}

	eocdSize := commentSize + eocdHeaderSize
	if eocdSize <= 0 || eocdSize > fileLen {
		return Result{KeyIndex: -1}, errdef.Wrap(errdef.CategoryFormat, errdef.ErrShortRead)
	}
	eocdStart := fileLen - eocdSize

	// signedLen covers everything except the comment and the EOCD's
	// two-byte comment-length field.
	signedLen := eocdStart + eocdHeaderSize - 2

	eocdBuf := bytebufferpool.Get()
	defer bytebufferpool.Put(eocdBuf)
	if n := int(eocdSize); cap(eocdBuf.B) >= n {
		eocdBuf.B = eocdBuf.B[:n]
	} else {
		eocdBuf.B = make([]byte, n)
	}
	eocd := eocdBuf.B
	if _, err := ra.ReadAt(eocd, eocdStart); err != nil {
		return Result{KeyIndex: -1}, errdef.Wrap(errdef.CategoryIO, errors.Wrap(err, "read eocd tail"))
	}

	if !bytes.Equal(eocd[:eocdMagicLen], eocdMagic[:]) {
		return Result{KeyIndex: -1}, errdef.Wrap(errdef.CategoryFormat, errdef.ErrMissingEOCDMagic)
	}

	// If the EOCD marker reappears anywhere after the real one, a naive
	// ZIP reader could be tricked into trusting a forged end-of-central-
	// directory placed earlier in the comment. Reject the file outright.
	for i := eocdMagicLen; i < len(eocd)-3; i++ {
		if bytes.Equal(eocd[i:i+eocdMagicLen], eocdMagic[:]) {
			return Result{KeyIndex: -1}, errdef.Wrap(errdef.CategoryIntegrity, errdef.ErrHostileEOCD)
		}
	}

	sigOff := len(eocd) - footerSize - sha1rsa.RSAModBytes
	if sigOff < eocdMagicLen {
		return Result{KeyIndex: -1}, errdef.Wrap(errdef.CategoryFormat, errdef.ErrSignatureTooShort)
	}
	sig := eocd[sigOff : sigOff+sha1rsa.RSAModBytes]

	digest, err := streamDigest(ra, signedLen, th)
	if err != nil {
		return Result{KeyIndex: -1}, errdef.Wrap(errdef.CategoryIO, err)
	}

	idx, ok := v.Keys.Verify(digest, sig)
	if !ok {
		log.Warn("no trusted key verified the whole-file signature")
		return Result{KeyIndex: -1}, errdef.Wrap(errdef.CategoryCrypto, errdef.ErrNoKeyMatched)
	}
	log.WithField("key_index", idx).Info("whole-file signature verified")
	return Result{Verified: true, KeyIndex: idx}, nil
}

func streamDigest(ra io.ReaderAt, signedLen int64, th *progress.Threshold) (sha1rsa.Digest, error) {
	h := sha1rsa.NewHash()
	sr := io.NewSectionReader(ra, 0, signedLen)
	buf := make([]byte, 4096)
	var soFar int64
	for soFar < signedLen {
		n, err := sr.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			soFar += int64(n)
			th.Set(float64(soFar) / float64(signedLen))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return sha1rsa.Digest{}, errors.Wrap(err, "read signed range")
		}
	}
	if soFar != signedLen {
		return sha1rsa.Digest{}, errdef.ErrShortRead
	}
	return h.Sum20(), nil
}
