// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import "bytes"

// Compare is the ordering used for every record and index key in a zs
// file: unsigned byte-wise comparison, i.e. bytes.Compare. The empty
// string sorts before all non-empty strings.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Sorted reports whether records is non-decreasing under Compare,
// duplicates allowed.
func Sorted(records [][]byte) bool {
	for i := 1; i < len(records); i++ {
		if Compare(records[i-1], records[i]) > 0 {
			return false
		}
	}
	return true
}

// PrefixSuccessor returns prefix[:-1] followed by prefix's last byte plus
// one -- the exclusive upper bound on every string with the given prefix.
// It returns nil (no successor) when prefix's last byte is 0xFF: this is
// the one degenerate case named by the spec, where the stop bound must
// come from an explicit stop argument instead. Note this mirrors the
// original implementation's behavior exactly: it does not carry the
// increment into earlier bytes when the last byte overflows.
func PrefixSuccessor(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	if prefix[len(prefix)-1] == 0xFF {
		return nil
	}
	succ := make([]byte, len(prefix))
	copy(succ, prefix)
	succ[len(succ)-1]++
	return succ
}
