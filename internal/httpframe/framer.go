// Package httpframe frames HTTP/1.1 responses from a raw byte stream and
// encodes the requests that provoke them.
//
// A response is a status line and header block terminated by a blank line,
// followed by exactly Content-Length body bytes. A missing or unparsable
// Content-Length is a zero-length body. Chunked transfer-encoding is not
// recognized; such responses are misframed.
package httpframe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	// SmallChunkSize is the default read size
	SmallChunkSize = 4 * 1024

	// LargeChunkSize suits profiles that pull multi-megabyte bodies
	LargeChunkSize = 1024 * 1024

	// MaxHeaderBytes bounds the header block of a single response
	MaxHeaderBytes = 64 * 1024
)

var (
	// ErrPeerClosed means the peer closed the stream before the header block completed
	ErrPeerClosed = errors.New("httpframe: connection closed before response header")

	// ErrTruncatedBody means the peer closed the stream inside the body
	ErrTruncatedBody = errors.New("httpframe: connection closed inside response body")

	// ErrMalformedStatus means the status line could not be parsed
	ErrMalformedStatus = errors.New("httpframe: malformed status line")

	// ErrHeaderTooLarge means no blank line was seen within MaxHeaderBytes
	ErrHeaderTooLarge = errors.New("httpframe: response header too large")
)

var headerTerminator = []byte("\r\n\r\n")

// Response describes one framed response
type Response struct {
	StatusCode   int
	BodyLength   int64 // body bytes actually consumed
	HeaderLength int   // status line and headers, terminator included
}

// Framer reads consecutive responses from one connection. Bytes read past the
// end of a response are kept for the next call. A Framer is not safe for
// concurrent use.
type Framer struct {
	r         io.Reader
	chunkSize int
	buf       []byte // unconsumed bytes, always starting at index 0
	scratch   []byte // body bytes are read here and discarded
}

// NewFramer creates a framer over r. chunkSize <= 0 selects SmallChunkSize.
func NewFramer(r io.Reader, chunkSize int) *Framer {
	if chunkSize <= 0 {
		chunkSize = SmallChunkSize
	}
	return &Framer{
		r:         r,
		chunkSize: chunkSize,
	}
}

// Buffered returns how many unconsumed bytes the framer holds
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Next reads exactly one response. Read errors from the underlying reader are
// wrapped, so callers can still detect timeouts with errors.As.
func (f *Framer) Next() (Response, error) {
	headerEnd, err := f.readHeader()
	if err != nil {
		return Response{}, err
	}

	status, contentLength, err := parseHeader(f.buf[:headerEnd-len(headerTerminator)])
	if err != nil {
		return Response{}, err
	}

	// Body bytes that arrived together with the header
	inBuf := int64(len(f.buf) - headerEnd)
	take := min(inBuf, contentLength)
	n := copy(f.buf, f.buf[headerEnd+int(take):])
	f.buf = f.buf[:n]

	resp := Response{
		StatusCode:   status,
		BodyLength:   take,
		HeaderLength: headerEnd,
	}

	remaining := contentLength - take
	if remaining == 0 {
		return resp, nil
	}

	if f.scratch == nil {
		f.scratch = make([]byte, f.chunkSize)
	}
	for remaining > 0 {
		want := min(remaining, int64(len(f.scratch)))
		n, err := f.r.Read(f.scratch[:want])
		resp.BodyLength += int64(n)
		remaining -= int64(n)
		if remaining == 0 {
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return resp, ErrTruncatedBody
			}
			return resp, fmt.Errorf("httpframe: read body: %w", err)
		}
	}

	return resp, nil
}

// readHeader fills buf until it holds a complete header block and returns the
// index just past the terminating blank line.
func (f *Framer) readHeader() (int, error) {
	readSize := min(f.chunkSize, MaxHeaderBytes)
	scanFrom := 0

	for {
		if i := bytes.Index(f.buf[scanFrom:], headerTerminator); i >= 0 {
			return scanFrom + i + len(headerTerminator), nil
		}
		if len(f.buf) >= MaxHeaderBytes {
			return 0, ErrHeaderTooLarge
		}
		// The terminator may straddle the previous read boundary
		scanFrom = max(0, len(f.buf)-len(headerTerminator)+1)

		if cap(f.buf)-len(f.buf) < readSize {
			grown := make([]byte, len(f.buf), len(f.buf)+readSize)
			copy(grown, f.buf)
			f.buf = grown
		}

		n, err := f.r.Read(f.buf[len(f.buf) : len(f.buf)+readSize])
		f.buf = f.buf[:len(f.buf)+n]
		if n > 0 {
			continue
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return 0, ErrPeerClosed
		}
		return 0, fmt.Errorf("httpframe: read header: %w", err)
	}
}

// parseHeader extracts the status code and Content-Length from a header block
// without its terminating blank line.
func parseHeader(header []byte) (int, int64, error) {
	statusLine, rest, _ := bytes.Cut(header, []byte("\r\n"))

	status, err := ParseStatusLine(statusLine)
	if err != nil {
		return 0, 0, err
	}

	var contentLength int64
	for len(rest) > 0 {
		var line []byte
		line, rest, _ = bytes.Cut(rest, []byte("\r\n"))

		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		if !bytes.EqualFold(bytes.TrimSpace(name), []byte("content-length")) {
			continue
		}
		n, err := strconv.ParseInt(string(bytes.TrimSpace(value)), 10, 64)
		if err == nil && n > 0 {
			contentLength = n
		}
		break
	}

	return status, contentLength, nil
}

// ParseStatusLine parses "HTTP/1.x SP code [SP reason]" and returns the code
func ParseStatusLine(line []byte) (int, error) {
	if !bytes.HasPrefix(line, []byte("HTTP/")) {
		return 0, fmt.Errorf("%w: %q", ErrMalformedStatus, truncate(line))
	}

	_, rest, ok := bytes.Cut(line, []byte(" "))
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMalformedStatus, truncate(line))
	}
	rest = bytes.TrimLeft(rest, " ")
	code, _, _ := bytes.Cut(rest, []byte(" "))

	if len(code) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedStatus, truncate(line))
	}
	status, err := strconv.Atoi(string(code))
	if err != nil || status < 100 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedStatus, truncate(line))
	}
	return status, nil
}

func truncate(b []byte) []byte {
	if len(b) > 64 {
		return b[:64]
	}
	return b
}
