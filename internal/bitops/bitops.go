// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package bitops provides miscellaneous bit and byte helpers shared by the
// nvme packages.
package bitops

import (
	"fmt"
	"math/bits"
)

// Log2Floor returns the position of the most significant set bit in x, or
// -1 if x is zero. Used to recover exponent-encoded fields such as MDTS and
// MPSMIN from the controller capability register.
func Log2Floor(x uint64) int {
	if x == 0 {
		return -1
	}
	return bits.Len64(x) - 1
}

// FormatBytes formats a byte quantity using human-readable SI units, e.g.
// kilobyte, megabyte.
func FormatBytes(v uint64) string {
	var i int

	suffixes := [...]string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}
	d := uint64(1)

	for i = 0; i < len(suffixes)-1; i++ {
		if v >= d*1000 {
			d *= 1000
		} else {
			break
		}
	}

	if i == 0 {
		return fmt.Sprintf("%d %s", v, suffixes[i])
	}
	return fmt.Sprintf("%.3g %s", float64(v)/float64(d), suffixes[i])
}

// TrimASCII trims trailing NUL and space padding from a fixed-width ASCII
// field such as an Identify Controller serial/model/firmware string.
func TrimASCII(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == 0 || b[end-1] == ' ') {
		end--
	}
	return string(b[:end])
}

// AlignUp rounds size up to the next multiple of align, which must be a
// power of two.
func AlignUp(size, align uint64) uint64 {
	return (size + align - 1) &^ (align - 1)
}

// IsPowerOfTwo reports whether v is a nonzero power of two.
func IsPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}
