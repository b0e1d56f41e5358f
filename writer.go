// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package zs

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"hash"
	"io"
	"os"
	osuser "os/user"
	"runtime"
	"sync"
	"time"

	"github.com/njsmith/zs/block"
	"github.com/njsmith/zs/codec"
	"github.com/njsmith/zs/header"
	"github.com/njsmith/zs/internal/base"
	"github.com/njsmith/zs/internal/crc64xz"
	"github.com/njsmith/zs/internal/uleb128"
)

const zsGoVersion = "0.1.0"

// Default writer tuning knobs, grounded on the original's `zs make`
// command-line defaults.
const (
	DefaultBranchingFactor = 1024
	DefaultApproxBlockSize = 131072
	DefaultWriterCodec     = "bz2"
)

// WriterOptions configures a new zs file. The zero value resolves to
// the package defaults (branching factor 1024, 128KiB blocks, bz2).
type WriterOptions struct {
	// BranchingFactor is the greedy-packing fan-out limit for index
	// blocks: once a level accumulates this many entries, it is
	// flushed into a block at the level above. Zero selects
	// DefaultBranchingFactor.
	BranchingFactor int
	// ApproxBlockSize is set to DefaultApproxBlockSize when zero but is
	// not otherwise read by the Writer: AddFileContents takes its
	// approximate block size as an argument, and AddDataBlock always
	// writes exactly the records it's given as one block.
	ApproxBlockSize int
	// Codec names the compression codec (see codec.Resolve for valid
	// names and shorthands). Empty selects DefaultWriterCodec.
	Codec string
	// Parallelism is the number of compression worker goroutines.
	// Zero selects runtime.NumCPU().
	Parallelism int
	// NoDefaultMetadata disables adding a "build-info" object (user,
	// host, UTC time, version) to the caller's metadata.
	NoDefaultMetadata bool
	Logger            base.Logger
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.BranchingFactor == 0 {
		o.BranchingFactor = DefaultBranchingFactor
	}
	if o.ApproxBlockSize == 0 {
		o.ApproxBlockSize = DefaultApproxBlockSize
	}
	if o.Codec == "" {
		o.Codec = DefaultWriterCodec
	}
	if o.Parallelism == 0 {
		o.Parallelism = runtime.NumCPU()
	}
	if o.Logger == nil {
		o.Logger = base.NoopLogger
	}
	return o
}

// mergeDefaultMetadata validates that metadata (if given) decodes as a
// JSON object, and optionally adds a "build-info" object the way the
// original `ZSWriter.__init__` does, without overwriting one the
// caller already supplied.
func mergeDefaultMetadata(metadata json.RawMessage, includeDefault bool) (json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &obj); err != nil {
			return nil, base.UsageErrorf("metadata must be a JSON object: %v", err)
		}
		if obj == nil {
			return nil, base.UsageErrorf("metadata must be a JSON object, got null")
		}
	}
	if includeDefault {
		if _, ok := obj["build-info"]; !ok {
			host, _ := os.Hostname()
			username := "unknown"
			if u, err := osuser.Current(); err == nil {
				username = u.Username
			}
			buildInfo, err := json.Marshal(map[string]string{
				"user":    username,
				"host":    host,
				"time":    time.Now().UTC().Format("2006-01-02T15:04:05.999999") + "Z",
				"version": "zs-go " + zsGoVersion,
			})
			if err != nil {
				return nil, err
			}
			obj["build-info"] = json.RawMessage(buildInfo)
		}
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

type jobKind int

const (
	jobKindList jobKind = iota
	jobKindChunkSep
)

// compressJob is one unit of work submitted by AddDataBlock or
// AddFileContents: either a ready-made slice of records, or a
// terminator-delimited buffer the compress worker splits itself.
type compressJob struct {
	jobID   int
	kind    jobKind
	records [][]byte
	buf     []byte
	sep     []byte
}

// writeResult is a compressed block handed back to the serial writer
// stage, tagged with the job id it came from so out-of-order
// completions can be reassembled into submission order.
type writeResult struct {
	jobID            int
	first, last      []byte
	payload, zpayload []byte
}

type finishInfo struct {
	rootOffset, rootLength uint64
	sha256                 [32]byte
}

// Writer builds a new zs file: callers submit sorted records via
// AddDataBlock/AddFileContents, then call Finish to flush the index
// and atomically mark the file complete. Any error leaves the file
// permanently incomplete -- matching the original's non-recoverable
// error policy, there is no way to resume or partially recover a
// Writer once it has failed.
type Writer struct {
	path   string
	f      *os.File
	header *header.Header

	headerPayloadLen uint64
	branchingFactor  int
	codecName        string
	codec            codec.Codec
	logger           base.Logger

	compressQueue chan compressJob
	writeQueue    chan writeResult
	finishCh      chan finishInfo
	cancel        chan struct{}

	compressWG sync.WaitGroup
	writerWG   sync.WaitGroup

	compressCloseOnce sync.Once
	writeCloseOnce    sync.Once
	cancelOnce        sync.Once

	mu       sync.Mutex
	err      error
	closed   bool
	nextJob  int
}

// Create opens a new zs file at path (which must not already exist)
// and starts its compression/writer pipeline.
func Create(path string, metadata json.RawMessage, opts WriterOptions) (*Writer, error) {
	opts = opts.withDefaults()
	if opts.BranchingFactor < 2 {
		return nil, base.UsageErrorf("branching factor must be >= 2")
	}
	if opts.Parallelism < 1 {
		return nil, base.UsageErrorf("parallelism must be >= 1")
	}

	canonicalCodec, err := codec.Resolve(opts.Codec)
	if err != nil {
		return nil, err
	}
	c, err := codec.Get(canonicalCodec)
	if err != nil {
		return nil, err
	}

	mergedMeta, err := mergeDefaultMetadata(metadata, !opts.NoDefaultMetadata)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, base.WrapIO(err, "creating "+path)
	}

	h := &header.Header{
		RootIndexOffset: ^uint64(0),
		RootIndexLength: 0,
		TotalFileLength: 0,
		Metadata:        mergedMeta,
	}
	if err := h.SetCodec(canonicalCodec); err != nil {
		f.Close()
		return nil, err
	}

	headerEnd, err := header.WriteFile(f, header.IncompleteMagic, h)
	if err != nil {
		f.Close()
		return nil, base.WrapIO(err, "writing initial header")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, base.WrapIO(err, "fsync initial header")
	}

	headerPayload, err := h.Encode()
	if err != nil {
		f.Close()
		return nil, err
	}

	w := &Writer{
		path:             path,
		f:                f,
		header:           h,
		headerPayloadLen: uint64(len(headerPayload)),
		branchingFactor:  opts.BranchingFactor,
		codecName:        canonicalCodec,
		codec:            c,
		logger:           opts.Logger,
		compressQueue:    make(chan compressJob, 2*opts.Parallelism),
		writeQueue:       make(chan writeResult, 2*opts.Parallelism),
		finishCh:         make(chan finishInfo, 1),
		cancel:           make(chan struct{}),
	}

	appender := newDataAppender(f, uint64(headerEnd), opts.BranchingFactor, c)
	w.compressWG.Add(opts.Parallelism)
	for i := 0; i < opts.Parallelism; i++ {
		go w.compressWorker()
	}
	w.writerWG.Add(1)
	go w.writerLoop(appender)

	return w, nil
}

func (w *Writer) fail(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
	w.cancelOnce.Do(func() { close(w.cancel) })
}

func (w *Writer) currentError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) checkOpen() error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return base.ClosedErrorf("zs writer")
	}
	if err := w.currentError(); err != nil {
		return err
	}
	return nil
}

func (w *Writer) closeCompressQueue() { w.compressCloseOnce.Do(func() { close(w.compressQueue) }) }
func (w *Writer) closeWriteQueue()    { w.writeCloseOnce.Do(func() { close(w.writeQueue) }) }

// AddDataBlock appends records as a single data block. Records must
// be non-decreasing under base.Compare; an empty slice is silently
// dropped, matching the original's "empty blocks are silently
// dropped" rule.
func (w *Writer) AddDataBlock(records [][]byte) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if !base.Sorted(records) {
		err := base.UsageErrorf("records not sorted")
		w.fail(err)
		w.Close()
		return err
	}

	w.mu.Lock()
	jobID := w.nextJob
	w.nextJob++
	w.mu.Unlock()

	select {
	case w.compressQueue <- compressJob{jobID: jobID, kind: jobKindList, records: records}:
		return nil
	case <-w.cancel:
		err := w.currentError()
		w.Close()
		return err
	}
}

func (w *Writer) submitChunkSep(buf, sep []byte) error {
	w.mu.Lock()
	jobID := w.nextJob
	w.nextJob++
	w.mu.Unlock()

	job := compressJob{
		jobID: jobID,
		kind:  jobKindChunkSep,
		buf:   append([]byte(nil), buf...),
		sep:   append([]byte(nil), sep...),
	}
	select {
	case w.compressQueue <- job:
		return nil
	case <-w.cancel:
		return w.currentError()
	}
}

// AddFileContents splits r's contents into records and writes them to
// the file, either terminator-delimited or length-prefixed. If r
// implements io.Closer it is always closed, matching the original's
// "file is always closed" contract.
func (w *Writer) AddFileContents(r io.Reader, approxBlockSize int, terminator []byte, lengthPrefixed string) error {
	defer func() {
		if rc, ok := r.(io.Closer); ok {
			rc.Close()
		}
	}()

	if err := w.checkOpen(); err != nil {
		return err
	}

	var err error
	if lengthPrefixed == "" {
		if terminator == nil {
			terminator = []byte("\n")
		}
		err = w.afcTerminator(r, approxBlockSize, terminator)
	} else {
		err = w.afcLengthPrefixed(r, approxBlockSize, lengthPrefixed)
	}
	if err != nil {
		w.fail(err)
		w.Close()
		return err
	}
	return nil
}

// afcTerminator reads approxBlockSize-ish chunks, resynchronizes on
// the terminator, and submits whole (terminator-separated bytes,
// terminator) chunks -- leaving the compress worker to split and pack
// them, same division of labor as the original's _afc_terminator.
func (w *Writer) afcTerminator(r io.Reader, approxBlockSize int, terminator []byte) error {
	var partial []byte
	buf := make([]byte, approxBlockSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			chunk := append(append([]byte(nil), partial...), buf[:n]...)
			idx := bytes.LastIndex(chunk, terminator)
			if idx < 0 {
				partial = chunk
			} else {
				whole := chunk[:idx]
				partial = append([]byte(nil), chunk[idx+len(terminator):]...)
				if err := w.submitChunkSep(whole, terminator); err != nil {
					return err
				}
			}
		}
		if readErr == io.EOF {
			if len(partial) > 0 {
				return base.UsageErrorf("file did not end with terminator")
			}
			return nil
		}
		if readErr != nil {
			return base.WrapIO(readErr, "reading file contents")
		}
	}
}

func (w *Writer) afcLengthPrefixed(r io.Reader, approxBlockSize int, mode string) error {
	br := bufio.NewReader(r)
	var records [][]byte
	blockSize := 0
	for {
		rec, ok, err := readLengthPrefixedRecord(br, mode)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		records = append(records, rec)
		blockSize += len(rec)
		if blockSize >= approxBlockSize {
			if err := w.AddDataBlock(records); err != nil {
				return err
			}
			records = nil
			blockSize = 0
		}
	}
	if len(records) > 0 {
		return w.AddDataBlock(records)
	}
	return nil
}

func readLengthPrefixedRecord(br *bufio.Reader, mode string) (rec []byte, ok bool, err error) {
	switch mode {
	case "uleb128":
		n, present, err := uleb128.ReadFrom(br)
		if err != nil {
			return nil, false, base.WrapCorrupt(err, "reading length-prefixed input")
		}
		if !present {
			return nil, false, nil
		}
		rec = make([]byte, n)
		if _, err := io.ReadFull(br, rec); err != nil {
			return nil, false, base.WrapCorrupt(err, "truncated length-prefixed record")
		}
		return rec, true, nil
	case "u64le":
		var lbuf [8]byte
		if _, err := io.ReadFull(br, lbuf[:]); err != nil {
			if err == io.EOF {
				return nil, false, nil
			}
			return nil, false, base.WrapCorrupt(err, "truncated length-prefixed record length")
		}
		n := binary.LittleEndian.Uint64(lbuf[:])
		rec = make([]byte, n)
		if _, err := io.ReadFull(br, rec); err != nil {
			return nil, false, base.WrapCorrupt(err, "truncated length-prefixed record")
		}
		return rec, true, nil
	default:
		return nil, false, base.UsageErrorf("unknown length_prefixed mode %q", mode)
	}
}

func (w *Writer) compressWorker() {
	defer w.compressWG.Done()
	for {
		select {
		case job, ok := <-w.compressQueue:
			if !ok {
				return
			}
			if err := w.processCompressJob(job); err != nil {
				w.fail(err)
				return
			}
		case <-w.cancel:
			return
		}
	}
}

func (w *Writer) processCompressJob(job compressJob) error {
	var records [][]byte
	switch job.kind {
	case jobKindList:
		records = job.records
	case jobKindChunkSep:
		records = bytes.Split(job.buf, job.sep)
	}
	if len(records) == 0 {
		return nil
	}
	if !base.Sorted(records) {
		return base.UsageErrorf("records not sorted in submitted block")
	}
	payload, err := block.PackData(records)
	if err != nil {
		return err
	}
	zpayload, err := w.codec.Compress(payload)
	if err != nil {
		return err
	}
	res := writeResult{
		jobID:    job.jobID,
		first:    records[0],
		last:     records[len(records)-1],
		payload:  payload,
		zpayload: zpayload,
	}
	select {
	case w.writeQueue <- res:
		return nil
	case <-w.cancel:
		return w.currentError()
	}
}

// writerLoop is the serial writer stage: it receives compressed
// blocks (possibly out of job-id order, since several compress
// workers race to finish), buffers the ones that arrive early, and
// writes them to disk strictly in submission order.
func (w *Writer) writerLoop(appender *dataAppender) {
	defer w.writerWG.Done()
	pending := map[int]writeResult{}
	wanted := 0
	for {
		select {
		case res, ok := <-w.writeQueue:
			if !ok {
				rootOffset, rootLength, sum, err := appender.closeAndFinish()
				if err != nil {
					w.fail(err)
					return
				}
				w.finishCh <- finishInfo{rootOffset: rootOffset, rootLength: rootLength, sha256: sum}
				return
			}
			pending[res.jobID] = res
			for {
				r, have := pending[wanted]
				if !have {
					break
				}
				if err := appender.writeBlock(0, r.first, r.last, r.payload, r.zpayload); err != nil {
					w.fail(err)
					return
				}
				delete(pending, wanted)
				wanted++
			}
		case <-w.cancel:
			return
		}
	}
}

// Finish flushes any dangling index blocks up to a single root,
// rewrites the header with the real root offset/length/hash, and
// swaps in the complete magic. It always closes the Writer, win or
// lose -- there is no partial-finish state to resume from.
func (w *Writer) Finish() error {
	if err := w.checkOpen(); err != nil {
		w.Close()
		return err
	}

	w.closeCompressQueue()
	w.compressWG.Wait()
	if err := w.currentError(); err != nil {
		w.Close()
		return err
	}

	w.closeWriteQueue()
	w.writerWG.Wait()
	if err := w.currentError(); err != nil {
		w.Close()
		return err
	}

	info := <-w.finishCh

	w.logger.Infof("zs: updating header for %s", w.path)

	w.header.RootIndexOffset = info.rootOffset
	w.header.RootIndexLength = info.rootLength
	w.header.DataSHA256 = info.sha256

	fi, err := w.f.Stat()
	if err != nil {
		w.Close()
		return base.WrapIO(err, "stat before finalize")
	}
	w.header.TotalFileLength = uint64(fi.Size())

	newPayload, err := w.header.Encode()
	if err != nil {
		w.Close()
		return err
	}
	if uint64(len(newPayload)) != w.headerPayloadLen {
		w.Close()
		return base.CorruptErrorf("internal error: header data length changed during finalize")
	}

	payloadOffset := int64(len(header.CompleteMagic)) + 8
	if _, err := w.f.Seek(payloadOffset, io.SeekStart); err != nil {
		w.Close()
		return base.WrapIO(err, "seeking to header payload")
	}
	if _, err := w.f.Write(newPayload); err != nil {
		w.Close()
		return base.WrapIO(err, "rewriting header payload")
	}
	sum := crc64xz.Encode(newPayload)
	if _, err := w.f.Write(sum[:]); err != nil {
		w.Close()
		return base.WrapIO(err, "writing header checksum")
	}
	if err := w.f.Sync(); err != nil {
		w.Close()
		return base.WrapIO(err, "fsync before magic swap")
	}

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		w.Close()
		return base.WrapIO(err, "seeking to magic")
	}
	if _, err := w.f.Write(header.CompleteMagic[:]); err != nil {
		w.Close()
		return base.WrapIO(err, "writing complete magic")
	}
	if err := w.f.Sync(); err != nil {
		w.Close()
		return base.WrapIO(err, "fsync after magic swap")
	}

	return w.Close()
}

// Close stops the pipeline and closes the underlying file without
// finalizing it. Safe to call more than once, and safe to call after
// Finish (which calls it itself on every path). A file closed without
// a prior successful Finish is left bearing the incomplete magic
// forever.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.cancelOnce.Do(func() { close(w.cancel) })
	w.closeCompressQueue()
	w.compressWG.Wait()
	w.closeWriteQueue()
	w.writerWG.Wait()

	return w.f.Close()
}

// levelEntry is one dangling (first, last, offset, length) tuple
// awaiting either a parent index block or promotion to root.
type levelEntry struct {
	first, last []byte
	offset      uint64
	length      uint64
}

// dataAppender owns the file's append cursor and the per-level
// dangling-entry bookkeeping that drives index construction. It is
// only ever touched by the single writerLoop goroutine, so it needs
// no locking of its own, grounded on the original's
// _ZSDataAppender, which likewise runs on a single dedicated process.
type dataAppender struct {
	f               *os.File
	branchingFactor int
	codec           codec.Codec
	offset          uint64
	levelEntries    [][]levelEntry
	hasher          hash.Hash
}

func newDataAppender(f *os.File, startOffset uint64, branchingFactor int, c codec.Codec) *dataAppender {
	return &dataAppender{
		f:               f,
		branchingFactor: branchingFactor,
		codec:           c,
		offset:          startOffset,
		hasher:          sha256.New(),
	}
}

func (a *dataAppender) writeBlock(level uint8, first, last, payload, zpayload []byte) error {
	if level >= block.FirstExtensionLevel {
		return base.UsageErrorf("invalid level %d", level)
	}
	if level == 0 {
		a.hasher.Write(payload)
	}

	frame := block.Encode(level, zpayload)
	if _, err := a.f.Write(frame); err != nil {
		return base.WrapIO(err, "writing block")
	}
	blockOffset := a.offset
	frameLen := uint64(len(frame))
	a.offset += frameLen

	li := int(level)
	switch {
	case li == len(a.levelEntries):
		a.levelEntries = append(a.levelEntries, nil)
	case li > len(a.levelEntries):
		return base.CorruptErrorf("internal error: level %d skips unseen levels", level)
	}
	a.levelEntries[li] = append(a.levelEntries[li], levelEntry{first: first, last: last, offset: blockOffset, length: frameLen})
	if len(a.levelEntries[li]) >= a.branchingFactor {
		return a.flushIndex(li)
	}
	return nil
}

func (a *dataAppender) flushIndex(level int) error {
	entries := a.levelEntries[level]
	a.levelEntries[level] = nil

	idxEntries := make([]block.Entry, len(entries))
	for i, e := range entries {
		idxEntries[i] = block.Entry{Key: e.first, ChildOffset: e.offset, ChildLength: e.length}
	}
	payload, err := block.PackIndex(idxEntries)
	if err != nil {
		return err
	}
	zpayload, err := a.codec.Compress(payload)
	if err != nil {
		return err
	}
	first := entries[0].first
	last := entries[len(entries)-1].last
	return a.writeBlock(uint8(level+1), first, last, payload, zpayload)
}

// haveRoot reports whether the dangling entries have converged to a
// single root index block: only the highest level has entries, and it
// has exactly one.
func (a *dataAppender) haveRoot() bool {
	n := len(a.levelEntries)
	if n <= 1 {
		return false
	}
	for i := 0; i < n-1; i++ {
		if len(a.levelEntries[i]) > 0 {
			return false
		}
	}
	return len(a.levelEntries[n-1]) == 1
}

// closeAndFinish flushes dangling blocks level by level until a
// single root remains, then returns its offset, length, and the
// accumulated SHA-256 of every data block's uncompressed payload.
func (a *dataAppender) closeAndFinish() (rootOffset, rootLength uint64, sum [32]byte, err error) {
	if len(a.levelEntries) == 0 {
		return 0, 0, sum, base.UsageErrorf("cannot create empty zs file")
	}
	for !a.haveRoot() {
		flushed := false
		for level := 0; level < len(a.levelEntries); level++ {
			if len(a.levelEntries[level]) > 0 {
				if ferr := a.flushIndex(level); ferr != nil {
					return 0, 0, sum, ferr
				}
				flushed = true
				break
			}
		}
		if !flushed {
			return 0, 0, sum, base.CorruptErrorf("internal error: no dangling blocks to flush")
		}
	}
	root := a.levelEntries[len(a.levelEntries)-1][0]
	copy(sum[:], a.hasher.Sum(nil))
	return root.offset, root.length, sum, nil
}
