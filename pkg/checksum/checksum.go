// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package checksum normalizes the file checksums carried on transfer
// requests. The external transfer service verifies file integrity from
// a single "ALGORITHM:HEX" string, so the supported algorithms and
// their wire form live here.
package checksum

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Supported algorithm names, canonical lowercase form.
const (
	Adler32 = "adler32"
	MD5     = "md5"
)

type (
	// Checksum is one algorithm/digest pair in canonical form.
	Checksum struct {
		Algorithm string
		Value     string
	}
)

// preferred orders the supported algorithms, most preferred first.
// Adler32 wins when a request carries both.
var preferred = []string{Adler32, MD5}

// digestLen maps each supported algorithm to its digest length in hex
// characters.
var digestLen = map[string]int{
	Adler32: 8,
	MD5:     32,
}

// Algorithms returns the supported algorithm names in preference
// order.
func Algorithms() []string {
	out := make([]string, len(preferred))
	copy(out, preferred)
	return out
}

// Valid checks that value is a well-formed digest for the named
// algorithm. Case is ignored on both arguments.
func Valid(algorithm, value string) error {
	want, ok := digestLen[strings.ToLower(algorithm)]
	if !ok {
		return errors.Errorf("unsupported checksum algorithm %q", algorithm)
	}
	if len(value) != want {
		return errors.Errorf("%s digest %q: want %d hex characters, got %d",
			algorithm, value, want, len(value))
	}
	if _, err := hex.DecodeString(value); err != nil {
		return errors.Wrapf(err, "%s digest %q", algorithm, value)
	}
	return nil
}

// Parse splits an "ALGORITHM:HEX" string into a canonical Checksum.
func Parse(s string) (Checksum, error) {
	fields := strings.SplitN(s, ":", 2)
	if len(fields) != 2 {
		return Checksum{}, errors.Errorf("unparseable checksum %q (want ALGORITHM:HEX)", s)
	}

	algorithm := strings.ToLower(fields[0])
	value := strings.ToLower(fields[1])
	if err := Valid(algorithm, value); err != nil {
		return Checksum{}, err
	}

	return Checksum{Algorithm: algorithm, Value: value}, nil
}

// Pick selects the most preferred checksum a request carries. The
// second return is false when no supported algorithm is present.
func Pick(sums map[string]string) (Checksum, bool) {
	for _, algorithm := range preferred {
		if value, ok := sums[algorithm]; ok && value != "" {
			return Checksum{
				Algorithm: algorithm,
				Value:     strings.ToLower(value),
			}, true
		}
	}
	return Checksum{}, false
}

// String renders the wire form the transfer service expects, with the
// algorithm uppercased.
func (c Checksum) String() string {
	return fmt.Sprintf("%s:%s", strings.ToUpper(c.Algorithm), c.Value)
}
