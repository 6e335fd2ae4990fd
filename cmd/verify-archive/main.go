// Command verify-archive is a standalone driver over the verifier package's
// public API: check a recovery package's whole-file signature or its
// JAR-style manifest signature chain against a configured set of trusted
// keys, the same decision a larger recovery flow would make before
// continuing on to install the package.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("verify-archive failed")
		os.Exit(1)
	}
}
