package archive

import (
	"archive/zip"
	"io"

	"github.com/klauspost/compress/flate"
)

// RegisterFastInflate swaps the standard library's flate decompressor for
// klauspost/compress's, the same swap the teacher's ORAS transport makes for
// blob decompression. Deflate is the only method the recovery-image signing
// tool ever produces, so only that method is overridden.
func RegisterFastInflate(zr *zip.Reader) {
	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
}
