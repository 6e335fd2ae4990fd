// Package jarsig verifies the JAR-style per-entry manifest signature chain:
// a META-INF/*.RSA signature over a sibling META-INF/*.SF file, the .SF
// file's digest of META-INF/MANIFEST.MF, and the manifest's per-entry SHA-1
// digests covering every other entry in the archive exactly once. Grounded
// on the recovery verifier's verifySignature/verifyManifest/verifyArchive
// and on the relic signjar package's Verify/verifyManifest/hashFile chain
// retrieved alongside it.
package jarsig

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/thenameisnigel/android-bootable-recovery/archive"
	"github.com/thenameisnigel/android-bootable-recovery/errdef"
	"github.com/thenameisnigel/android-bootable-recovery/progress"
	"github.com/thenameisnigel/android-bootable-recovery/sha1rsa"
)

const (
	metaInfPrefix  = "META-INF/"
	rsaSuffix      = ".RSA"
	sfSuffix       = ".SF"
	manifestName   = "META-INF/MANIFEST.MF"
	nameFieldLabel = "Name: "
	contFieldLabel = " "
	digestLabel    = "SHA1-Digest: "
	mfDigestLabel  = "SHA1-Digest-Manifest: "
)

// Verifier checks the manifest signature chain against a set of trusted
// keys.
type Verifier struct {
	Keys sha1rsa.KeySet
}

// VerifyManifest runs the full chain: find and verify a .RSA/.SF pair,
// verify MANIFEST.MF against the .SF digest, then verify every other entry
// in the archive against the manifest's per-entry digests. It reports
// per-entry-digest progress to sink.
func (v Verifier) VerifyManifest(r *archive.Reader, sink progress.Sink) (bool, error) {
	log := logrus.WithField("component", "jarsig")

	sfEntry, keyIndex, err := v.findSignature(r)
	if err != nil {
		log.WithError(err).Warn("no verified .RSA/.SF signature pair")
		return false, err
	}
	log.WithFields(logrus.Fields{
		"sf_entry":  sfEntry.NameString(),
		"key_index": keyIndex,
	}).Info("verified signature file")

	mfEntry, err := verifyManifestDigest(r, sfEntry)
	if err != nil {
		log.WithError(err).Warn("manifest digest mismatch")
		return false, err
	}

	if err := verifyCoverage(r, mfEntry, sink); err != nil {
		log.WithError(err).Warn("archive coverage check failed")
		return false, err
	}

	return true, nil
}

// findSignature scans the archive for a META-INF/*.RSA entry whose sibling
// META-INF/*.SF is signed by one of the trusted keys, returning the first
// one found. Name matching here is deliberately case-sensitive, matching
// the signing tool's own output convention.
func (v Verifier) findSignature(r *archive.Reader) (archive.Entry, int, error) {
	for i := 0; i < r.EntryCount(); i++ {
		rsaEntry, err := r.EntryAt(i)
		if err != nil {
			return archive.Entry{}, -1, err
		}
		name := rsaEntry.NameString()
		if rsaEntry.Length() < sha1rsa.RSAModBytes {
			continue
		}
		if !strings.HasPrefix(name, metaInfPrefix) || !strings.HasSuffix(name, rsaSuffix) {
			continue
		}

		sfName := strings.TrimSuffix(name, rsaSuffix) + sfSuffix
		sfEntry, ok := r.FindEntry(sfName)
		if !ok {
			continue
		}

		sfDigest, err := digestEntry(r, sfEntry, nil)
		if err != nil {
			continue
		}

		rsaBuf, err := slurpEntry(r, rsaEntry)
		if err != nil {
			continue
		}
		sig := rsaBuf[len(rsaBuf)-sha1rsa.RSAModBytes:]

		if idx, ok := v.Keys.Verify(sfDigest, sig); ok {
			return sfEntry, idx, nil
		}
	}
	return archive.Entry{}, -1, errdef.Wrap(errdef.CategoryCrypto, errdef.ErrNoSignatureFile)
}

// verifyManifestDigest checks the SHA1-Digest-Manifest header in sfEntry
// against the actual digest of META-INF/MANIFEST.MF.
func verifyManifestDigest(r *archive.Reader, sfEntry archive.Entry) (archive.Entry, error) {
	sfBuf, err := slurpEntry(r, sfEntry)
	if err != nil {
		return archive.Entry{}, err
	}

	var expected sha1rsa.Digest
	found := false
	for _, line := range splitLines(sfBuf) {
		if len(line) >= len(mfDigestLabel) && strings.EqualFold(line[:len(mfDigestLabel)], mfDigestLabel) {
			expected, err = decodeDigest(line[len(mfDigestLabel):])
			if err != nil {
				return archive.Entry{}, err
			}
			found = true
			break
		}
	}
	if !found {
		return archive.Entry{}, errdef.Wrap(errdef.CategoryFormat, errors.New("no manifest digest in signature file"))
	}

	mfEntry, ok := r.FindEntry(manifestName)
	if !ok {
		return archive.Entry{}, errdef.Wrap(errdef.CategoryFormat, errors.New("no MANIFEST.MF in archive"))
	}

	actual, err := digestEntry(r, mfEntry, nil)
	if err != nil {
		return archive.Entry{}, err
	}
	if actual != expected {
		return archive.Entry{}, errdef.Wrap(errdef.CategoryIntegrity, errdef.ErrManifestMismatch)
	}
	return mfEntry, nil
}

// isExempt reports whether entry e is exempt from per-entry manifest
// coverage: directories, the manifest itself, and META-INF signature
// members. Unlike findSignature's name matching, this check is
// case-insensitive on both the prefix and the suffix — a deliberate
// asymmetry carried over unchanged from the original verifier.
func isExempt(e archive.Entry, mfEntry archive.Entry) bool {
	if e.Index() == mfEntry.Index() {
		return true
	}
	name := e.NameString()
	if len(name) > 0 && name[len(name)-1] == '/' && e.Length() == 0 {
		return true
	}
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, strings.ToLower(metaInfPrefix)) &&
		(strings.HasSuffix(lower, strings.ToLower(rsaSuffix)) || strings.HasSuffix(lower, strings.ToLower(sfSuffix))) {
		return true
	}
	return false
}

// verifyCoverage checks every non-exempt entry's digest against the
// manifest, requiring every non-exempt entry to be named exactly once.
func verifyCoverage(r *archive.Reader, mfEntry archive.Entry, sink progress.Sink) error {
	log := logrus.WithField("component", "jarsig")
	mfBuf, err := slurpEntry(r, mfEntry)
	if err != nil {
		return err
	}

	pending := make(map[int]bool, r.EntryCount())
	var totalBytes int64
	for i := 0; i < r.EntryCount(); i++ {
		e, _ := r.EntryAt(i)
		if isExempt(e, mfEntry) {
			continue
		}
		pending[i] = true
		totalBytes += int64(e.Length())
	}

	th := progress.NewThreshold(sink, 0.02)
	th.Set(0.0)
	var doneBytes int64

	var name *string
	for _, line := range splitLines(mfBuf) {
		switch {
		case strings.HasPrefix(strings.ToLower(line), strings.ToLower(nameFieldLabel)):
			if name != nil {
				return errdef.Wrap(errdef.CategoryFormat, errors.Errorf("no digest for %q", *name))
			}
			n := line[len(nameFieldLabel):]
			name = &n

		case strings.HasPrefix(line, contFieldLabel):
			if name == nil {
				return errdef.Wrap(errdef.CategoryFormat, errdef.ErrMalformedLine)
			}
			n := *name + line[len(contFieldLabel):]
			name = &n

		case strings.HasPrefix(strings.ToLower(line), strings.ToLower(digestLabel)):
			if name == nil {
				return errdef.Wrap(errdef.CategoryFormat, errdef.ErrMalformedLine)
			}
			entry, ok := r.FindEntry(*name)
			if !ok {
				return errdef.Wrap(errdef.CategoryIntegrity, errors.Errorf("missing file %q", *name))
			}
			if !r.IsIntact(entry) {
				return errdef.Wrap(errdef.CategoryIntegrity, errors.Wrapf(errdef.ErrEntryCorrupt, "%q", *name))
			}
			if !pending[entry.Index()] {
				return errdef.Wrap(errdef.CategoryIntegrity, errors.Wrapf(errdef.ErrCoverageExcess, "%q", *name))
			}

			expected, err := decodeDigest(line[len(digestLabel):])
			if err != nil {
				return err
			}
			actual, err := digestEntry(r, entry, func(n int) {
				doneBytes += int64(n)
				if totalBytes > 0 {
					th.Set(float64(doneBytes) / float64(totalBytes))
				}
			})
			if err != nil {
				return err
			}
			if actual != expected {
				return errdef.Wrap(errdef.CategoryIntegrity, errors.Wrapf(errdef.ErrManifestMismatch, "%q", *name))
			}

			delete(pending, entry.Index())
			name = nil
		}
	}

	if name != nil {
		return errdef.Wrap(errdef.CategoryFormat, errors.Errorf("no digest for %q", *name))
	}
	if len(pending) > 0 {
		first := firstPending(r, pending)
		log.WithField("entry", first).Warn("no digest for entry")
		return errdef.Wrap(errdef.CategoryIntegrity, errors.Wrapf(errdef.ErrCoverageGap, "no digest for %q", first))
	}
	th.Set(1.0)
	return nil
}

// firstPending returns the name of the lowest-indexed entry still in
// pending, for error reporting. The original verifier logs the first
// uncovered entry it finds; pending is a map, so the index order is
// recovered explicitly here.
func firstPending(r *archive.Reader, pending map[int]bool) string {
	first := -1
	for i := range pending {
		if first == -1 || i < first {
			first = i
		}
	}
	e, err := r.EntryAt(first)
	if err != nil {
		return ""
	}
	return e.NameString()
}
