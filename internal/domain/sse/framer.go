// Package sse implements a minimal Server-Sent Events demultiplexer: it
// parses an upstream SSE byte stream into individual events while forwarding
// every byte read to a downstream writer unmodified, so the gateway can
// observe JSON-RPC traffic inside an SSE stream without altering what the
// client ultimately receives.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
)

// Event is one parsed SSE event: the optional "event:" and "id:" fields,
// and the concatenation of every "data:" line's value (newline-joined, per
// the SSE spec).
type Event struct {
	Name string
	ID   string
	Data []byte
}

// eventSplit is a bufio.SplitFunc that splits an SSE byte stream into
// records separated by a blank line ("\n\n" or "\r\n\r\n"), the framing
// unit the SSE spec defines. Never buffers more than one record.
func eventSplit(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return i + 2, normalizeRecord(data[:i]), nil
	}
	if i := bytes.Index(data, []byte("\r\n\r\n")); i >= 0 {
		return i + 4, normalizeRecord(data[:i]), nil
	}

	if atEOF {
		// Last record with no trailing blank line.
		return len(data), normalizeRecord(data), nil
	}

	return 0, nil, nil
}

func normalizeRecord(b []byte) []byte {
	return bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
}

// Framer reads an SSE byte stream, tee-ing every byte to a downstream
// writer as it is read, and yields parsed Events one at a time via Next.
// Bytes are written to the tee in exactly the order and content they are
// read in - no re-encoding, no buffering of the whole stream.
type Framer struct {
	scanner *bufio.Scanner
}

// NewFramer wraps r, forwarding every byte read from it to tee before
// parsing. tee may be nil to parse without forwarding (used in tests).
func NewFramer(r io.Reader, tee io.Writer) *Framer {
	var source io.Reader = r
	if tee != nil {
		source = io.TeeReader(r, tee)
	}
	scanner := bufio.NewScanner(source)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(eventSplit)
	return &Framer{scanner: scanner}
}

// Next returns the next parsed event, or io.EOF when the stream ends
// cleanly. Blocks only as long as the underlying reader blocks; does not
// buffer the whole stream, per spec: each event is yielded as it arrives.
func (f *Framer) Next(ctx context.Context) (*Event, error) {
	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok := f.scanner.Scan()
		done <- result{ok: ok, err: f.scanner.Err()}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if !r.ok {
			if r.err != nil {
				return nil, fmt.Errorf("sse: scan failed: %w", r.err)
			}
			return nil, io.EOF
		}
		return parseEvent(f.scanner.Bytes()), nil
	}
}

func parseEvent(record []byte) *Event {
	evt := &Event{}
	var data []string

	for _, line := range strings.Split(string(record), "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			// Comment line, ignored per the SSE spec.
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			evt.Name = value
		case "id":
			evt.ID = value
		case "data":
			data = append(data, value)
		}
	}

	evt.Data = []byte(strings.Join(data, "\n"))
	return evt
}
