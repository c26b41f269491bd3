// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Writer appends framed entries to segment files for one destination stream.
//
// File format:
//   - Header: 8 bytes magic + 4 bytes version
//   - Entries: [4 bytes length][4 bytes crc32][payload]
//
// Writes are buffered; durability comes from the manager's periodic flush
// and the flush on close, not from per-write syncing.
type Writer struct {
	mu sync.Mutex

	dir         string
	segment     *os.File
	segmentSize int64
	segmentSeq  int64
	buf         *bufio.Writer

	maxSegmentSize int64
	bufferSize     int
}

const (
	walMagic         = 0x4c44575731000001 // "LDWW1" + version tag
	walVersion       = 1
	headerSize       = 12
	entryHeaderSize  = 8
	defaultSegment   = 128 * 1024 * 1024
	defaultBufferLen = 64 * 1024
)

// NewWriter opens (or continues) the WAL for one stream under dir.
func NewWriter(dir string, maxSegmentSize int64, bufferSize int) (*Writer, error) {
	if maxSegmentSize <= 0 {
		maxSegmentSize = defaultSegment
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferLen
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}
	w := &Writer{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		bufferSize:     bufferSize,
	}
	segments, err := listSegments(dir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	if len(segments) > 0 {
		w.segmentSeq = segments[len(segments)-1].seq + 1
	}
	if err := w.rotate(); err != nil {
		return nil, fmt.Errorf("create initial segment: %w", err)
	}
	return w, nil
}

// Append writes one framed entry. It never forces a flush; the payload may
// sit in the buffer until the next periodic flush.
func (w *Writer) Append(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entrySize := int64(entryHeaderSize + len(payload))
	if w.segmentSize+entrySize > w.maxSegmentSize {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("rotate segment: %w", err)
		}
	}

	var header [entryHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))
	if _, err := w.buf.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.buf.Write(payload); err != nil {
		return err
	}
	w.segmentSize += entrySize
	return nil
}

// Flush pushes buffered entries to the OS. With sync it also fsyncs the
// segment file.
func (w *Writer) Flush(sync bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(sync)
}

func (w *Writer) flushLocked(sync bool) error {
	if w.buf == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if sync {
		return w.segment.Sync()
	}
	return nil
}

func (w *Writer) rotate() error {
	if w.segment != nil {
		if w.buf != nil {
			if err := w.buf.Flush(); err != nil {
				return err
			}
		}
		if err := w.segment.Close(); err != nil {
			return err
		}
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%016d.wal", w.segmentSeq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", path, err)
	}
	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], walMagic)
	binary.LittleEndian.PutUint32(header[8:12], walVersion)
	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write segment header: %w", err)
	}
	w.segment = f
	w.segmentSize = headerSize
	w.buf = bufio.NewWriterSize(f, w.bufferSize)
	w.segmentSeq++
	return nil
}

// Close flushes and closes the current segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf != nil {
		if err := w.buf.Flush(); err != nil {
			return err
		}
	}
	if w.segment != nil {
		return w.segment.Close()
	}
	return nil
}

type segmentInfo struct {
	path string
	seq  int64
}

func listSegments(dir string) ([]segmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var segments []segmentInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var seq int64
		if len(name) != 20 || name[16:] != ".wal" {
			continue
		}
		if _, err := fmt.Sscanf(name, "%016d.wal", &seq); err != nil {
			continue
		}
		segments = append(segments, segmentInfo{path: filepath.Join(dir, name), seq: seq})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].seq < segments[j].seq })
	return segments, nil
}
