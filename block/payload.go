// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package block implements the per-block payload codec (C2) and the
// on-disk block framing (length prefix, level byte, compressed
// payload, checksum trailer), grounded on the teacher's
// sstable.blockWriter/blockIter layout in sstable/table.go, adapted
// from pebble's fixed-width key/value restart-point blocks to zs's two
// simpler payload shapes: a flat sequence of length-prefixed records
// (data blocks) and a flat sequence of (key, child offset, child
// length) triples (index blocks).
package block

import (
	"github.com/njsmith/zs/internal/base"
	"github.com/njsmith/zs/internal/uleb128"
)

// Entry is one (key, child_offset, child_length) triple in an index
// block's payload.
type Entry struct {
	Key         []byte
	ChildOffset uint64
	ChildLength uint64
}

// PackData encodes records as the data-block payload: the
// concatenation of (uleb128 len, bytes) for each record. Encoding
// fails if records are not non-decreasing under base.Compare -- the
// writer's ordering invariant is enforced at the point of packing, not
// left to be caught later by validation.
func PackData(records [][]byte) ([]byte, error) {
	var out []byte
	var prev []byte
	for i, r := range records {
		if i > 0 && base.Compare(prev, r) > 0 {
			return nil, base.UsageErrorf("records not sorted: %q > %q", prev, r)
		}
		out = uleb128.Append(out, uint64(len(r)))
		out = append(out, r...)
		prev = r
	}
	return out, nil
}

// UnpackData decodes a data-block payload back into its records.
// Decoding fails if any length extends beyond the payload or a
// ULEB128 is truncated; it does not itself check sortedness (that's a
// validate()-time concern, matching spec §4.2).
func UnpackData(payload []byte) ([][]byte, error) {
	var records [][]byte
	for len(payload) > 0 {
		n, ln := uleb128.Decode(payload)
		if ln == 0 {
			return nil, base.CorruptErrorf("truncated record length")
		}
		payload = payload[ln:]
		if n > uint64(len(payload)) {
			return nil, base.CorruptErrorf("record length %d exceeds remaining payload (%d bytes)", n, len(payload))
		}
		rec := make([]byte, n)
		copy(rec, payload[:n])
		records = append(records, rec)
		payload = payload[n:]
	}
	return records, nil
}

// PackIndex encodes entries as the index-block payload: the
// concatenation of (uleb128 keylen, key, uleb128 offset, uleb128
// length) for each entry. Encoding fails if offsets don't strictly
// increase or keys are not non-decreasing.
func PackIndex(entries []Entry) ([]byte, error) {
	var out []byte
	var prevKey []byte
	var prevOffset uint64
	for i, e := range entries {
		if i > 0 {
			if e.ChildOffset <= prevOffset {
				return nil, base.UsageErrorf("index offsets not strictly increasing: %d <= %d", e.ChildOffset, prevOffset)
			}
			if base.Compare(prevKey, e.Key) > 0 {
				return nil, base.UsageErrorf("index keys not sorted: %q > %q", prevKey, e.Key)
			}
		}
		out = uleb128.Append(out, uint64(len(e.Key)))
		out = append(out, e.Key...)
		out = uleb128.Append(out, e.ChildOffset)
		out = uleb128.Append(out, e.ChildLength)
		prevKey = e.Key
		prevOffset = e.ChildOffset
	}
	return out, nil
}

// UnpackIndex decodes an index-block payload back into its entries.
// Decoding enforces length bounds on the key and each varint; it does
// not check that the result is fully sorted (left to validate()).
func UnpackIndex(payload []byte) ([]Entry, error) {
	var entries []Entry
	for len(payload) > 0 {
		keyLen, ln := uleb128.Decode(payload)
		if ln == 0 {
			return nil, base.CorruptErrorf("truncated index key length")
		}
		payload = payload[ln:]
		if keyLen > uint64(len(payload)) {
			return nil, base.CorruptErrorf("index key length %d exceeds remaining payload (%d bytes)", keyLen, len(payload))
		}
		key := make([]byte, keyLen)
		copy(key, payload[:keyLen])
		payload = payload[keyLen:]

		offset, ln := uleb128.Decode(payload)
		if ln == 0 {
			return nil, base.CorruptErrorf("truncated index child offset")
		}
		payload = payload[ln:]

		length, ln := uleb128.Decode(payload)
		if ln == 0 {
			return nil, base.CorruptErrorf("truncated index child length")
		}
		payload = payload[ln:]

		entries = append(entries, Entry{Key: key, ChildOffset: offset, ChildLength: length})
	}
	return entries, nil
}
