// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package crc64xz computes CRC-64/XZ (polynomial 0x42F0E1EBA9EA3693,
// reflected, init=~0, xorout=~0), the whole-block and whole-header
// checksum used by zs.
//
// The stdlib's hash/crc64 ECMA table is the reflected (little-endian bit
// order) form of this exact polynomial -- it's the table the xz format
// itself uses -- so there's no need to hand-roll a CRC implementation or
// pull in a third-party one. The variant's register inversion before the
// first byte and after the last is already applied inside crc64.Update
// and crc64.Checksum, so crc64.Checksum with this table is CRC-64/XZ as
// it stands.
package crc64xz

import (
	"encoding/binary"
	"hash/crc64"
)

var table = crc64.MakeTable(crc64.ECMA)

// Sum returns the CRC-64/XZ checksum of data.
func Sum(data []byte) uint64 {
	return crc64.Checksum(data, table)
}

// Encode returns the 8-byte little-endian encoding of Sum(data), the
// on-disk representation used for both the header checksum and each
// block's trailing checksum.
func Encode(data []byte) [8]byte {
	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], Sum(data))
	return out
}

// Verify reports whether data's checksum matches the given 8-byte
// little-endian encoded checksum.
func Verify(data []byte, encoded []byte) bool {
	if len(encoded) != 8 {
		return false
	}
	want := binary.LittleEndian.Uint64(encoded)
	return Sum(data) == want
}
