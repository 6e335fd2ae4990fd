/*
Copyright The ORAS Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package verifier is the public entry point for checking a recovery
// package's signature, either as a whole-file RSA/SHA-1 signature appended
// to the ZIP comment or as a JAR-style per-entry manifest chain.
package verifier

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/thenameisnigel/android-bootable-recovery/archive"
	"github.com/thenameisnigel/android-bootable-recovery/jarsig"
	"github.com/thenameisnigel/android-bootable-recovery/progress"
	"github.com/thenameisnigel/android-bootable-recovery/sha1rsa"
	"github.com/thenameisnigel/android-bootable-recovery/wholefile"
)

// Result is the outcome of a verification call, matching the two-way
// VERIFY_SUCCESS / VERIFY_FAILURE result of the original recovery verifier.
type Result int

const (
	// Success means the signature chain was verified against a trusted key.
	Success Result = iota
	// Failure means no trusted key verified the signature, or the archive
	// was malformed in a way verification could not tolerate.
	Failure
)

// String renders a Result for logging.
func (r Result) String() string {
	if r == Success {
		return "success"
	}
	return "failure"
}

// VerifyFile checks path for a valid whole-file signature under keys,
// reporting streamed-hash progress to sink (which may be progress.Discard).
func VerifyFile(path string, keys sha1rsa.KeySet, sink progress.Sink) Result {
	log := logrus.WithField("path", path)

	f, err := os.Open(path)
	if err != nil {
		log.WithError(err).Error("failed to open archive")
		return Failure
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		log.WithError(err).Error("failed to stat archive")
		return Failure
	}

	v := wholefile.Verifier{Keys: keys}
	res, err := v.VerifyFile(f, info.Size(), sink)
	if err != nil {
		log.WithError(err).Warn("whole-file verification failed")
		return Failure
	}
	if !res.Verified {
		return Failure
	}
	return Success
}

// OpenArchive opens path as a random-access ArchiveReader suitable for
// VerifyJARSignature. Callers must Close the returned Reader.
func OpenArchive(path string) (*archive.Reader, error) {
	return archive.Open(path)
}

// VerifyJARSignature checks r for a valid JAR-style manifest signature
// chain under keys, reporting per-entry-digest progress to sink.
func VerifyJARSignature(r *archive.Reader, keys sha1rsa.KeySet, sink progress.Sink) Result {
	v := jarsig.Verifier{Keys: keys}
	ok, err := v.VerifyManifest(r, sink)
	if err != nil {
		logrus.WithError(err).Warn("jar manifest verification failed")
	}
	if !ok {
		return Failure
	}
	return Success
}
