// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package wal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// ReadSegment decodes every entry in one segment file. A truncated tail
// entry (partial write at crash time) ends the scan without error; a CRC
// mismatch is reported.
func ReadSegment(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read segment header: %w", err)
	}
	if binary.LittleEndian.Uint64(header[0:8]) != walMagic {
		return nil, fmt.Errorf("segment %s: bad magic", path)
	}

	var entries []Entry
	for {
		var eh [entryHeaderSize]byte
		if _, err := io.ReadFull(r, eh[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return entries, nil
			}
			return entries, err
		}
		length := binary.LittleEndian.Uint32(eh[0:4])
		crc := binary.LittleEndian.Uint32(eh[4:8])
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return entries, nil
			}
			return entries, err
		}
		if crc32.ChecksumIEEE(payload) != crc {
			return entries, fmt.Errorf("segment %s: crc mismatch", path)
		}
		var entry Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return entries, fmt.Errorf("segment %s: decode entry: %w", path, err)
		}
		entries = append(entries, entry)
	}
}

// ReadDir decodes every entry across a stream's segments in order.
func ReadDir(dir string) ([]Entry, error) {
	segments, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, seg := range segments {
		segEntries, err := ReadSegment(seg.path)
		if err != nil {
			return entries, err
		}
		entries = append(entries, segEntries...)
	}
	return entries, nil
}
