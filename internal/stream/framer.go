// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "bytes"

// =============================================================================
// LINE FRAMER
// =============================================================================

// MaxLineSize is the maximum allowed size for a single buffered protocol
// line (64KB). A stream that exceeds this without a newline is misbehaving.
const MaxLineSize = 64 * 1024

// LineFramer reassembles raw transport chunks into complete newline-terminated
// lines. Chunks may arrive split at any byte offset (network MTU, TLS record
// boundaries, proxy buffering), so the framer never assumes a chunk holds a
// whole line or any line at all.
//
// The unterminated tail of the most recent chunk is retained as raw bytes
// between calls. Because '\n' never occurs inside a multi-byte UTF-8
// sequence, every emitted line consists of complete runes even when the
// transport split a character across chunks.
type LineFramer struct {
	buf []byte
}

// NewLineFramer creates an empty framer.
func NewLineFramer() *LineFramer {
	return &LineFramer{}
}

// Feed appends a chunk and returns all newly completed lines, in order.
// Returned lines have their terminating '\n' (and any preceding '\r')
// stripped. A line is never emitted twice, and a partial line is never
// emitted at all.
func (f *LineFramer) Feed(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		line := f.buf[:idx]
		line = bytes.TrimSuffix(line, []byte("\r"))
		lines = append(lines, string(line))
		f.buf = f.buf[idx+1:]
	}

	// Reclaim the backing array once everything buffered has been emitted,
	// otherwise the slice keeps growing across the whole stream.
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return lines
}

// FeedString is Feed for callers that already hold text.
func (f *LineFramer) FeedString(chunk string) []string {
	return f.Feed([]byte(chunk))
}

// Flush returns the buffered unterminated tail, if any, and resets the
// framer. Called once at end of stream so a final line the server forgot to
// terminate is not lost.
func (f *LineFramer) Flush() (string, bool) {
	if len(f.buf) == 0 {
		return "", false
	}
	tail := string(bytes.TrimSuffix(f.buf, []byte("\r")))
	f.buf = nil
	return tail, true
}

// Pending returns the number of buffered bytes awaiting a newline.
func (f *LineFramer) Pending() int {
	return len(f.buf)
}

// Overflowed reports whether the buffered tail has exceeded MaxLineSize.
// Callers should abort the stream when this becomes true.
func (f *LineFramer) Overflowed() bool {
	return len(f.buf) > MaxLineSize
}
