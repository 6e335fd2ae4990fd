// Package archive wraps archive/zip as the random-access ArchiveReader the
// whole-file and JAR-manifest verifiers share: entries addressable by index
// or name, CRC integrity checking, and streaming decompression. The
// low-level decompression itself stays a black box (archive/zip plus a
// registered klauspost/compress inflater, see decompress.go) — this package
// only adds the index-stable, never-mutated entry view the verifier
// contract requires.
package archive

import (
	"io"
	"os"
	"sync"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	azip "archive/zip"
)

// Entry is a logical ZIP member: a name (never mutated after construction),
// an uncompressed length, and a stable index in [0, entryCount). The
// integrity bit is computed lazily the first time IsIntact is asked for it.
type Entry struct {
	index  int
	name   []byte
	length uint64
}

// Index returns this entry's stable position in the archive.
func (e Entry) Index() int { return e.index }

// Name returns the entry's raw name bytes. Callers must not mutate the
// returned slice.
func (e Entry) Name() []byte { return e.name }

// NameString is a convenience accessor for the common case of ASCII/UTF-8
// names (MANIFEST.MF, META-INF/*, etc).
func (e Entry) NameString() string { return string(e.name) }

// Length returns the entry's uncompressed length.
func (e Entry) Length() uint64 { return e.length }

// Reader is a random-access ArchiveReader backed by archive/zip.
type Reader struct {
	zr      *azip.Reader
	entries []Entry
	byName  map[string]int
	closer  io.Closer // non-nil only when opened via Open(path)

	mu       sync.Mutex
	intact   map[int]bool
	digestID digest.Digest
	hasID    bool

	log *logrus.Entry
}

// Open opens path as a ZIP archive, taking ownership of the file handle.
// Callers must call Close when done.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	r, err := NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f

	id, err := r.ContentID(f, info.Size())
	if err != nil {
		r.Close()
		return nil, errors.Wrap(err, "compute content id")
	}
	r.log.WithFields(logrus.Fields{
		"path":       path,
		"content_id": id,
	}).Info("opened archive")

	return r, nil
}

// NewReader wraps an already-open random-access source. The caller retains
// ownership of ra and must close it after calling Close (NewReader does not
// take ownership unless obtained through Open).
func NewReader(ra io.ReaderAt, size int64) (*Reader, error) {
	zr, err := azip.NewReader(ra, size)
	if err != nil {
		return nil, errors.Wrap(err, "open zip")
	}
	RegisterFastInflate(zr)
	r := &Reader{
		zr:     zr,
		byName: make(map[string]int, len(zr.File)),
		intact: make(map[int]bool),
		log:    logrus.WithField("component", "archive"),
	}
	for i, f := range zr.File {
		e := Entry{
			index:  i,
			name:   []byte(f.Name),
			length: f.UncompressedSize64,
		}
		r.entries = append(r.entries, e)
		r.byName[f.Name] = i
	}
	return r, nil
}

// Close releases the underlying file handle, if Open owns one.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// EntryCount returns the number of entries in the archive.
func (r *Reader) EntryCount() int { return len(r.entries) }

// EntryAt returns the entry at the given stable index.
func (r *Reader) EntryAt(i int) (Entry, error) {
	if i < 0 || i >= len(r.entries) {
		return Entry{}, errors.Errorf("entry index %d out of range [0, %d)", i, len(r.entries))
	}
	return r.entries[i], nil
}

// FindEntry looks up an entry by exact name.
func (r *Reader) FindEntry(name string) (Entry, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// IndexOf returns e's stable index.
func (r *Reader) IndexOf(e Entry) int { return e.index }

// IsIntact reports whether e's stored CRC-32 matches its decompressed
// content. The result is computed on first use and cached.
func (r *Reader) IsIntact(e Entry) bool {
	r.mu.Lock()
	if v, ok := r.intact[e.index]; ok {
		r.mu.Unlock()
		return v
	}
	r.mu.Unlock()

	ok := r.checkIntact(e)
	r.mu.Lock()
	r.intact[e.index] = ok
	r.mu.Unlock()
	return ok
}

func (r *Reader) checkIntact(e Entry) bool {
	rc, err := r.zr.File[e.index].Open()
	if err != nil {
		r.log.WithField("entry", e.NameString()).WithError(err).Warn("failed to open entry for integrity check")
		return false
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		r.log.WithField("entry", e.NameString()).WithError(err).Warn("entry failed CRC integrity check")
		return false
	}
	return true
}

// Stream invokes fn with successive decompressed chunks of e's content. It
// returns an error (never false-as-failure the way the C ArchiveReader
// contract phrases it — Go idiom prefers an error return) if decompression
// or fn fails, or if the final CRC-32 check fails.
func (r *Reader) Stream(e Entry, fn func([]byte) error) error {
	rc, err := r.zr.File[e.index].Open()
	if err != nil {
		return errors.Wrapf(err, "open entry %q", e.NameString())
	}
	defer rc.Close()

	buf := make([]byte, 4096)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			if ferr := fn(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return errors.Wrapf(rerr, "read entry %q", e.NameString())
		}
	}
}

// ContentID returns a SHA-256 digest.Digest identifying the whole archive's
// bytes, computed once and cached. Open calls this eagerly so every opened
// archive logs a content-id for correlation across log lines; it is never
// consulted for a trust decision, since trust is rooted only in the
// RSA/SHA-1 chain.
func (r *Reader) ContentID(ra io.ReaderAt, size int64) (digest.Digest, error) {
	r.mu.Lock()
	if r.hasID {
		id := r.digestID
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	digester := digest.Canonical.Digester()
	sr := io.NewSectionReader(ra, 0, size)
	if _, err := io.Copy(digester.Hash(), sr); err != nil {
		return "", errors.Wrap(err, "compute content id")
	}
	id := digester.Digest()

	r.mu.Lock()
	r.digestID = id
	r.hasID = true
	r.mu.Unlock()
	return id, nil
}
