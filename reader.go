// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package zs implements the reader and writer halves of the zs file
// format on top of the codec/block/header/transport packages, grounded
// on the teacher's top-level pebble package (pebble.Reader / pebble.DB
// living beside the sstable subpackage it's built from) -- the core
// reader/writer types live at module root, with their supporting
// codecs factored into subpackages, mirroring that split.
package zs

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/njsmith/zs/block"
	"github.com/njsmith/zs/codec"
	"github.com/njsmith/zs/header"
	"github.com/njsmith/zs/internal/base"
	"github.com/njsmith/zs/internal/conc"
	"github.com/njsmith/zs/internal/lru"
	"github.com/njsmith/zs/internal/uleb128"
	"github.com/njsmith/zs/transport"
)

// ReadOptions configures an opened Reader. The zero value is valid and
// resolves to the package defaults.
type ReadOptions struct {
	// Parallelism is the number of decompression workers to run. Zero
	// means run every block's decode inline on the consuming
	// goroutine via a serial executor -- best for small queries, where
	// the overhead of goroutine handoff outweighs any overlap it buys.
	Parallelism int
	// IndexBlockCache bounds how many index blocks are kept warm
	// across queries. Zero selects DefaultIndexBlockCache.
	IndexBlockCache int
	// HeaderSizeGuess overrides header.SizeGuessDefault; exposed here
	// (rather than as a package-level mutable, as the original did for
	// its tests) so callers and tests can set it per Reader.
	HeaderSizeGuess uint64
	// Logger receives diagnostic messages; NoopLogger if nil.
	Logger base.Logger
}

// DefaultIndexBlockCache matches the original's default: deep enough
// to keep the root (and usually a level or two below it) warm across
// queries on typically-shaped files.
const DefaultIndexBlockCache = 32

func (o ReadOptions) withDefaults() ReadOptions {
	if o.IndexBlockCache == 0 {
		o.IndexBlockCache = DefaultIndexBlockCache
	}
	if o.HeaderSizeGuess == 0 {
		o.HeaderSizeGuess = header.SizeGuessDefault
	}
	if o.Logger == nil {
		o.Logger = base.NoopLogger
	}
	return o
}

type indexBlockKey struct {
	offset uint64
	length uint64
}

type indexBlockValue struct {
	level   uint8
	entries []block.Entry
}

// Reader is an open handle onto a zs file, ready to answer queries.
// It is safe for concurrent use by multiple goroutines, matching the
// original's support for multiple concurrent map_raw_block iterators
// over one ZS object.
type Reader struct {
	t transport.Transport

	headerEnd       uint64
	RootIndexOffset uint64
	RootIndexLength uint64
	TotalFileLength uint64
	DataSHA256      [32]byte
	CodecName       string
	Metadata        json.RawMessage

	parallelism int
	executor    conc.Executor
	indexCache  *lru.Cache[indexBlockKey, indexBlockValue]
	logger      base.Logger

	mu       sync.Mutex
	closed   bool
	liveIters map[*blockIter]struct{}
}

// Open reads and validates a zs file's header from t and returns a
// Reader ready to serve queries.
func Open(t transport.Transport, opts ReadOptions) (*Reader, error) {
	opts = opts.withDefaults()

	res, err := header.Read(t, opts.HeaderSizeGuess)
	if err != nil {
		return nil, err
	}
	h := res.Header

	if _, err := codec.Get(h.Codec()); err != nil {
		return nil, err
	}

	actualLength, err := t.Length()
	if err != nil {
		return nil, err
	}
	if actualLength != h.TotalFileLength {
		return nil, base.CorruptErrorf("%s: file is %d bytes, but header says it should be %d", t.Name(), actualLength, h.TotalFileLength)
	}

	var executor conc.Executor
	if opts.Parallelism <= 0 {
		executor = conc.Serial{}
	} else {
		executor = conc.NewThreadPool(opts.Parallelism)
	}

	r := &Reader{
		t:               t,
		headerEnd:       res.End,
		RootIndexOffset: h.RootIndexOffset,
		RootIndexLength: h.RootIndexLength,
		TotalFileLength: h.TotalFileLength,
		DataSHA256:      h.DataSHA256,
		CodecName:       h.Codec(),
		Metadata:        h.Metadata,
		parallelism:     opts.Parallelism,
		executor:        executor,
		indexCache:      lru.New[indexBlockKey, indexBlockValue](opts.IndexBlockCache),
		logger:          opts.Logger,
		liveIters:       make(map[*blockIter]struct{}),
	}
	r.logger.Infof("zs: opened %s (codec %s, root at %d)", t.Name(), r.CodecName, r.RootIndexOffset)
	return r, nil
}

func (r *Reader) checkOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return base.ClosedErrorf("zs reader")
	}
	return nil
}

// Close releases the reader's transport and worker pool, first forcing
// closed any iterator (from Search, BlockMap, BlockExec, or Dump) that
// the caller left open. Further operations return a Usage error.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	live := r.liveIters
	r.liveIters = nil
	r.mu.Unlock()

	if len(live) > 0 {
		r.logger.Errorf("zs: closing %s with %d outstanding iterator(s) still open", r.t.Name(), len(live))
	}
	for bi := range live {
		bi.Close()
	}

	r.executor.Shutdown()
	return r.t.Close()
}

// registerIter tracks bi as live so Close can force it shut if the
// caller never does, mirroring the original reader's weak-reference
// bookkeeping of outstanding map-raw-block iterators.
func (r *Reader) registerIter(bi *blockIter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.liveIters != nil {
		r.liveIters[bi] = struct{}{}
	}
}

// forgetIter removes bi from the live set once it's closed on its own.
func (r *Reader) forgetIter(bi *blockIter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.liveIters != nil {
		delete(r.liveIters, bi)
	}
}

func (r *Reader) decompressPayload(zpayload []byte) ([]byte, error) {
	c, err := codec.Get(r.CodecName)
	if err != nil {
		return nil, err
	}
	return c.Decompress(zpayload)
}

// RootIndexLevel returns the level of the root index block, fetching
// (and caching) it if necessary. This number matters because it's the
// number of index fetches any cold query must pay beyond the header and
// the data block itself.
func (r *Reader) RootIndexLevel() (uint8, error) {
	v, err := r.getIndexBlock(r.RootIndexOffset, r.RootIndexLength)
	if err != nil {
		return 0, err
	}
	return v.level, nil
}

func (r *Reader) getIndexBlock(offset, length uint64) (indexBlockValue, error) {
	key := indexBlockKey{offset, length}
	return r.indexCache.Call(key, func() (indexBlockValue, error) {
		chunk, err := r.t.ChunkRead(offset, length)
		if err != nil {
			return indexBlockValue{}, err
		}
		if uint64(len(chunk)) != length {
			return indexBlockValue{}, base.CorruptErrorf("partial read on index block @ %d, length %d", offset, length)
		}
		f, ok, err := block.ReadFrame(bytes.NewReader(chunk))
		if err != nil {
			return indexBlockValue{}, err
		}
		if !ok {
			return indexBlockValue{}, base.CorruptErrorf("%s:%d: empty index block", r.t.Name(), offset)
		}
		if f.Level == 0 {
			return indexBlockValue{}, base.CorruptErrorf("%s:%d: expecting index block but found data block", r.t.Name(), offset)
		}
		if f.IsExtension() {
			return indexBlockValue{}, base.CorruptErrorf("%s:%d: expecting index block but found level %d extension block", r.t.Name(), offset, f.Level)
		}
		payload, err := r.decompressPayload(f.CompressedPayload)
		if err != nil {
			return indexBlockValue{}, err
		}
		entries, err := block.UnpackIndex(payload)
		if err != nil {
			return indexBlockValue{}, err
		}
		return indexBlockValue{level: f.Level, entries: entries}, nil
	})
}

// findGEBlock descends the index to find the first (or, with
// roundDown, the first-or-one-before) level-0 block that may contain
// entries >= needle. Returns ok=false when no such block exists (only
// possible when roundDown is false).
func (r *Reader) findGEBlock(needle []byte, roundDown bool) (offset uint64, ok bool, err error) {
	offset = r.RootIndexOffset
	length := r.RootIndexLength
	for {
		v, err := r.getIndexBlock(offset, length)
		if err != nil {
			return 0, false, err
		}
		entries := v.entries
		idx := sort.Search(len(entries), func(i int) bool {
			return base.Compare(entries[i].Key, needle) >= 0
		})
		if roundDown && idx != 0 {
			idx--
		}
		if idx >= len(entries) {
			return 0, false, nil
		}
		offset = entries[idx].ChildOffset
		length = entries[idx].ChildLength
		if v.level-1 == 0 {
			return offset, true, nil
		}
	}
}

// normSearchArgs folds start/stop/prefix into a single [start, stop)
// span. A nil stop return means "unbounded".
func normSearchArgs(start, stop, prefix []byte) (normStart, normStop []byte, hasStop bool) {
	if start == nil {
		start = []byte{}
	}
	if prefix == nil {
		prefix = []byte{}
	}
	normStart = start
	if base.Compare(prefix, start) > 0 {
		normStart = prefix
	}

	var prefixStop []byte
	if len(prefix) > 0 {
		prefixStop = base.PrefixSuccessor(prefix)
	}

	switch {
	case stop == nil:
		normStop = prefixStop
	case prefixStop != nil && base.Compare(prefixStop, stop) < 0:
		normStop = prefixStop
	default:
		normStop = stop
	}
	return normStart, normStop, normStop != nil
}

func trimRecords(records [][]byte, start, stop []byte, hasStop bool) [][]byte {
	if len(records) > 0 && base.Compare(records[0], start) < 0 {
		idx := sort.Search(len(records), func(i int) bool {
			return base.Compare(records[i], start) >= 0
		})
		records = records[idx:]
	}
	if hasStop && len(records) > 0 && base.Compare(records[len(records)-1], stop) >= 0 {
		idx := sort.Search(len(records), func(i int) bool {
			return base.Compare(records[i], stop) >= 0
		})
		records = records[:idx]
	}
	return records
}

func (r *Reader) spanStream(start, stop []byte, hasStop bool) (io.ReadCloser, error) {
	var startOffset uint64
	if len(start) == 0 {
		startOffset = r.headerEnd
	} else {
		off, ok, err := r.findGEBlock(start, true)
		if err != nil {
			return nil, err
		}
		if !ok {
			startOffset = r.TotalFileLength
		} else {
			startOffset = off
		}
	}

	var stopOffset *uint64
	if r.t.Remote() && hasStop {
		off, ok, err := r.findGEBlock(stop, false)
		if err != nil {
			return nil, err
		}
		if ok {
			stopOffset = &off
		}
	}
	return r.t.StreamRead(startOffset, stopOffset)
}

// errMapStop is an internal signal a blockFn can return to end
// iteration early without it being reported to the caller as a
// failure, mirroring the original's _ZSMapStop exception.
var errMapStop = errors.New("zs: internal map-stop signal")

// blockFn is run (possibly on a worker goroutine) for each candidate
// block found by mapRawBlock. Returning skip=true drops this block's
// contribution without stopping iteration; returning errMapStop stops
// iteration cleanly.
type blockFn func(offset, length uint64, level uint8, zpayload []byte) (value any, skip bool, err error)

type stepResult struct {
	skip  bool
	value any
}

// blockIter runs the readahead/worker-pool/in-order-delivery pipeline
// (C8's parallel pipeline) over one span of a file: a dedicated
// readahead goroutine reads framed blocks off the transport stream and
// submits each to the executor, pushing the resulting future onto a
// channel sized to the configured parallelism (this channel is the
// "credit" bound); the consumer drains that channel in order.
type blockIter struct {
	r       *Reader
	stream  io.ReadCloser
	futures chan conc.Future

	doneOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func (r *Reader) pipelineDepth() int {
	if r.parallelism <= 0 {
		return 1
	}
	return r.parallelism
}

func (r *Reader) mapRawBlock(start, stop []byte, hasStop, skipIndex bool, fn blockFn) (*blockIter, error) {
	stream, err := r.spanStream(start, stop, hasStop)
	if err != nil {
		return nil, err
	}
	bi := &blockIter{
		r:       r,
		stream:  stream,
		futures: make(chan conc.Future, r.pipelineDepth()),
		done:    make(chan struct{}),
	}
	r.registerIter(bi)
	bi.wg.Add(1)
	go bi.readahead(r, skipIndex, fn)
	return bi, nil
}

// countingByteReader wraps a bufio.Reader, tracking how many bytes
// have been handed to the caller so far -- the readahead goroutine
// uses this to recover each frame's file offset and on-disk length
// without the block package needing to know about file positions.
type countingByteReader struct {
	br *bufio.Reader
	n  uint64
}

func (c *countingByteReader) ReadByte() (byte, error) {
	b, err := c.br.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

func (c *countingByteReader) Read(p []byte) (int, error) {
	n, err := c.br.Read(p)
	c.n += uint64(n)
	return n, err
}

func (bi *blockIter) readahead(r *Reader, skipIndex bool, fn blockFn) {
	defer bi.wg.Done()
	defer close(bi.futures)
	defer bi.stream.Close()

	cr := &countingByteReader{br: bufio.NewReaderSize(bi.stream, 64*1024)}
	for {
		select {
		case <-bi.done:
			return
		default:
		}

		offset := cr.n
		f, ok, err := block.ReadFrame(cr)
		if err != nil {
			bi.emit(errFuture{err: err})
			return
		}
		if !ok {
			return
		}
		length := cr.n - offset

		if f.IsExtension() || (skipIndex && f.IsIndex()) {
			continue
		}

		level, zpayload := f.Level, f.CompressedPayload
		future := r.executor.Submit(func() (any, error) {
			v, skip, err := fn(offset, length, level, zpayload)
			if err != nil {
				return nil, err
			}
			return stepResult{skip: skip, value: v}, nil
		})
		if !bi.emit(future) {
			return
		}
	}
}

// emit pushes a future onto the futures channel, returning false if
// the iterator was closed first.
func (bi *blockIter) emit(f conc.Future) bool {
	select {
	case bi.futures <- f:
		return true
	case <-bi.done:
		return false
	}
}

type errFuture struct{ err error }

func (f errFuture) Result() (any, error) { return nil, f.err }
func (errFuture) Cancel()                {}

// Next returns the next non-skipped value in file order, or ok=false
// at a clean end of iteration (including early termination via
// errMapStop).
func (bi *blockIter) Next() (any, bool, error) {
	for {
		future, ok := <-bi.futures
		if !ok {
			return nil, false, nil
		}
		v, err := future.Result()
		if err != nil {
			bi.Close()
			if errors.Is(err, errMapStop) {
				return nil, false, nil
			}
			return nil, false, err
		}
		sr := v.(stepResult)
		if sr.skip {
			continue
		}
		return sr.value, true, nil
	}
}

// Close signals the readahead goroutine to stop, cancels and drains
// any futures already queued, and waits for the stream to close.
func (bi *blockIter) Close() error {
	bi.doneOnce.Do(func() { close(bi.done) })
	for f := range bi.futures {
		f.Cancel()
	}
	bi.wg.Wait()
	if bi.r != nil {
		bi.r.forgetIter(bi)
	}
	return nil
}

// SearchIter iterates the records matched by a Search query.
type SearchIter struct {
	bi      *blockIter
	start   []byte
	stop    []byte
	hasStop bool
	pending [][]byte
}

// Search returns an iterator over every record r in the file such
// that start <= r < stop and r has the given prefix. Any of start,
// stop, prefix may be nil to skip that bound.
func (r *Reader) Search(start, stop, prefix []byte) (*SearchIter, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	normStart, normStop, hasStop := normSearchArgs(start, stop, prefix)
	bi, err := r.mapRawBlock(normStart, normStop, hasStop, true, func(offset, length uint64, level uint8, zpayload []byte) (any, bool, error) {
		payload, err := r.decompressPayload(zpayload)
		if err != nil {
			return nil, false, err
		}
		return payload, false, nil
	})
	if err != nil {
		return nil, err
	}
	return &SearchIter{bi: bi, start: normStart, stop: normStop, hasStop: hasStop}, nil
}

// Next returns the next matching record, or ok=false once exhausted.
func (it *SearchIter) Next() (record []byte, ok bool, err error) {
	for {
		if len(it.pending) > 0 {
			rec := it.pending[0]
			it.pending = it.pending[1:]
			return rec, true, nil
		}
		v, ok, err := it.bi.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		payload := v.([]byte)
		records, err := block.UnpackData(payload)
		if err != nil {
			it.bi.Close()
			return nil, false, err
		}
		if len(records) == 0 {
			continue
		}
		if it.hasStop && base.Compare(records[0], it.stop) >= 0 {
			it.bi.Close()
			return nil, false, nil
		}
		it.pending = trimRecords(records, it.start, it.stop, it.hasStop)
	}
}

// Close releases the underlying pipeline. Safe to call more than once.
func (it *SearchIter) Close() error { return it.bi.Close() }

// BlockMapIter iterates the per-block results of a BlockMap call.
type BlockMapIter struct{ bi *blockIter }

// BlockMap applies fn to the records in each matching data block, in
// parallel across the reader's worker pool, yielding fn's results in
// file order. Each record fn receives is its own copy, not a view into
// the decompressed block payload.
func (r *Reader) BlockMap(fn func(records [][]byte) (any, error), start, stop, prefix []byte) (*BlockMapIter, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	normStart, normStop, hasStop := normSearchArgs(start, stop, prefix)
	bi, err := r.mapRawBlock(normStart, normStop, hasStop, true, func(offset, length uint64, level uint8, zpayload []byte) (any, bool, error) {
		payload, err := r.decompressPayload(zpayload)
		if err != nil {
			return nil, false, err
		}
		records, err := block.UnpackData(payload)
		if err != nil {
			return nil, false, err
		}
		if len(records) == 0 {
			return nil, true, nil
		}
		if hasStop && base.Compare(records[0], normStop) >= 0 {
			return nil, false, errMapStop
		}
		records = trimRecords(records, normStart, normStop, hasStop)
		if len(records) == 0 {
			return nil, true, nil
		}
		v, err := fn(records)
		if err != nil {
			return nil, false, err
		}
		return v, false, nil
	})
	if err != nil {
		return nil, err
	}
	return &BlockMapIter{bi: bi}, nil
}

// Next returns the next per-block result, or ok=false once exhausted.
func (it *BlockMapIter) Next() (any, bool, error) { return it.bi.Next() }

// Close releases the underlying pipeline.
func (it *BlockMapIter) Close() error { return it.bi.Close() }

// BlockExec is BlockMap with its results discarded -- the preferred
// entry point when fn's side effects (writing to a database, say) are
// the whole point.
func (r *Reader) BlockExec(fn func(records [][]byte) error, start, stop, prefix []byte) error {
	it, err := r.BlockMap(func(records [][]byte) (any, error) { return nil, fn(records) }, start, stop, prefix)
	if err != nil {
		return err
	}
	defer it.Close()
	for {
		_, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// Dump writes every matching record to w, either terminator-joined or
// length-prefixed. terminator defaults to "\n" and is ignored when
// lengthPrefixed is non-empty; lengthPrefixed must be "", "uleb128" or
// "u64le".
func (r *Reader) Dump(w io.Writer, start, stop, prefix, terminator []byte, lengthPrefixed string) error {
	if terminator == nil {
		terminator = []byte("\n")
	}
	fn := func(records [][]byte) (any, error) {
		var buf bytes.Buffer
		switch lengthPrefixed {
		case "":
			for _, rec := range records {
				buf.Write(rec)
				buf.Write(terminator)
			}
		case "uleb128":
			for _, rec := range records {
				buf.Write(uleb128.Encode(uint64(len(rec))))
				buf.Write(rec)
			}
		case "u64le":
			var l [8]byte
			for _, rec := range records {
				binary.LittleEndian.PutUint64(l[:], uint64(len(rec)))
				buf.Write(l[:])
				buf.Write(rec)
			}
		default:
			return nil, base.UsageErrorf("unknown length_prefixed mode %q", lengthPrefixed)
		}
		return buf.Bytes(), nil
	}

	it, err := r.BlockMap(fn, start, stop, prefix)
	if err != nil {
		return err
	}
	defer it.Close()
	for {
		v, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if _, err := w.Write(v.([]byte)); err != nil {
			return base.WrapIO(err, "writing dump output")
		}
	}
}

// validateBlock is what the validate pipeline's blockFn hands to the
// single consuming goroutine in Validate: enough to check one block's
// internal ordering and, for index blocks, to cross-reference its
// entries against the blocks they claim to point at.
type validateBlock struct {
	offset  uint64
	length  uint64
	level   uint8
	payload []byte // level 0 only: the decompressed payload, for hashing
	records [][]byte
	entries []block.Entry
}

// unrefBlock is a block the scan has visited but that no index block
// has (yet) referenced. Every non-root block must end up referenced by
// exactly one index block; Validate reports whatever is left over.
type unrefBlock struct {
	level  uint8
	first  []byte
	last   []byte
	length uint64
}

// Validate walks every block in the file -- data and index alike --
// checking that records are sorted within each block, that every index
// entry's key, child length and child level agree with the block it
// references, that every block ends up referenced exactly once (except
// the root, which the header must point at), and that the data blocks'
// contents hash to the SHA-256 recorded in the header. It returns nil
// if the file is structurally sound, or a Corrupt error listing every
// problem it found.
func (r *Reader) Validate() error {
	if err := r.checkOpen(); err != nil {
		return err
	}

	bi, err := r.mapRawBlock(nil, nil, false, false, func(offset, length uint64, level uint8, zpayload []byte) (any, bool, error) {
		payload, err := r.decompressPayload(zpayload)
		if err != nil {
			return nil, false, err
		}
		if level == 0 {
			records, err := block.UnpackData(payload)
			if err != nil {
				return nil, false, err
			}
			return validateBlock{offset: offset, length: length, level: level, payload: payload, records: records}, false, nil
		}
		entries, err := block.UnpackIndex(payload)
		if err != nil {
			return nil, false, err
		}
		return validateBlock{offset: offset, length: length, level: level, entries: entries}, false, nil
	})
	if err != nil {
		return err
	}
	defer bi.Close()

	hasher := sha256.New()
	unref := make(map[uint64]unrefBlock)
	var failures []string
	fail := func(offset uint64, format string, args ...interface{}) {
		failures = append(failures, fmt.Sprintf("offset %d: %s", offset, fmt.Sprintf(format, args...)))
	}

	for {
		v, ok, err := bi.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		vb := v.(validateBlock)

		if vb.level == 0 {
			hasher.Write(vb.payload)
			if !base.Sorted(vb.records) {
				fail(vb.offset, "unsorted records within block")
			}
			var first, last []byte
			if len(vb.records) > 0 {
				first, last = vb.records[0], vb.records[len(vb.records)-1]
			}
			unref[vb.offset] = unrefBlock{level: 0, first: first, last: last, length: vb.length}
			continue
		}

		keys := make([][]byte, len(vb.entries))
		for i, e := range vb.entries {
			keys[i] = e.Key
		}
		if !base.Sorted(keys) {
			fail(vb.offset, "unsorted records within block")
		}

		offsetsSorted := true
		for i := 1; i < len(vb.entries); i++ {
			if vb.entries[i].ChildOffset < vb.entries[i-1].ChildOffset {
				offsetsSorted = false
				break
			}
		}
		if !offsetsSorted {
			fail(vb.offset, "unsorted offsets in index block")
		}

		var blockFirst, last []byte
		haveFirst, haveLast := false, false
		for _, e := range vb.entries {
			ref, ok := unref[e.ChildOffset]
			if !ok {
				fail(vb.offset, "dangling or multiple refs to %d", e.ChildOffset)
				continue
			}
			delete(unref, e.ChildOffset)

			if !haveFirst {
				blockFirst = ref.first
				haveFirst = true
			}
			if ref.level != vb.level-1 {
				fail(vb.offset, "bad index ref from level %d to level %d", vb.level, ref.level)
			}
			if haveLast && base.Compare(last, e.Key) > 0 {
				fail(vb.offset, "key %q is too small for block at %d", e.Key, e.ChildOffset)
			}
			if base.Compare(e.Key, ref.first) > 0 {
				fail(vb.offset, "key %q is too large for block at %d", e.Key, e.ChildOffset)
			}
			last, haveLast = ref.last, true
			if ref.length != e.ChildLength {
				fail(vb.offset, "index length %d != actual length %d for block at %d", e.ChildLength, ref.length, e.ChildOffset)
			}
		}
		unref[vb.offset] = unrefBlock{level: vb.level, first: blockFirst, last: last, length: vb.length}
	}

	root, ok := unref[r.RootIndexOffset]
	if !ok {
		fail(r.RootIndexOffset, "root block missing or doubly-referenced")
	} else {
		delete(unref, r.RootIndexOffset)
		if !(root.level > 0 && root.level < block.FirstExtensionLevel) {
			fail(r.RootIndexOffset, "root index has bad level %d", root.level)
		}
		if root.length != r.RootIndexLength {
			fail(r.RootIndexOffset, "wrong root index length in header (%d != %d)", root.length, r.RootIndexLength)
		}
	}

	leftover := make([]uint64, 0, len(unref))
	for offset := range unref {
		leftover = append(leftover, offset)
	}
	sort.Slice(leftover, func(i, j int) bool { return leftover[i] < leftover[j] })
	for _, offset := range leftover {
		fail(offset, "unreferenced block")
	}

	if sum := hasher.Sum(nil); !bytes.Equal(sum, r.DataSHA256[:]) {
		failures = append(failures, fmt.Sprintf("data hash mismatch: header says %x, but I found %x", r.DataSHA256, sum))
	}

	if len(failures) > 0 {
		return base.CorruptErrorf("Integrity check failed:\n  %s", strings.Join(failures, "\n  "))
	}
	return nil
}
