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

// Package ioutil holds small I/O helpers for this module, adapted from the
// teacher's internal/ioutil.
package ioutil

import (
	"io"

	"github.com/pkg/errors"
)

// CappedRead reads r fully into memory, failing if it would exceed limit
// bytes. Used by cmd/verify-archive to bound its config file read.
func CappedRead(r io.Reader, limit int64) ([]byte, error) {
	lr := &io.LimitedReader{R: r, N: limit + 1}
	buf, err := io.ReadAll(lr)
	if err != nil {
		return nil, errors.Wrap(err, "read failed")
	}
	if int64(len(buf)) > limit {
		return nil, errors.Errorf("content exceeds %d byte limit", limit)
	}
	return buf, nil
}
