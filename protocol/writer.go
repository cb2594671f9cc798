// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package protocol // import "go.opentelemetry.io/crashtracker/protocol"

import (
	"errors"
	"io"
	"strconv"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

// bufferSize is the size of the fixed output buffer of a Writer.
const bufferSize = 4096

// ErrShortWrite is returned when the sink accepted no bytes.
var ErrShortWrite = errors.New("protocol: short write")

// FD is an io.Writer writing straight to a file descriptor with write(2).
type FD int

func (fd FD) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(int(fd), p)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// Writer buffers protocol output in a fixed array and forwards it to its
// sink. Apart from the sink itself it does not allocate, so a Writer created
// ahead of time can be used from the crash path.
//
// Errors are sticky: after the first failed flush every further call is a
// no-op and Err reports the failure.
type Writer struct {
	out io.Writer
	buf [bufferSize]byte
	n   int
	err error
}

// NewWriter returns a Writer forwarding to out.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Reset discards buffered data and the sticky error and switches to out.
func (w *Writer) Reset(out io.Writer) {
	w.out = out
	w.n = 0
	w.err = nil
}

// Err returns the first error encountered.
func (w *Writer) Err() error {
	return w.err
}

// Flush writes all buffered data to the sink.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	off := 0
	for off < w.n {
		n, err := w.out.Write(w.buf[off:w.n])
		off += n
		if err != nil {
			w.err = err
			break
		}
		if n == 0 {
			w.err = ErrShortWrite
			break
		}
	}
	w.n = 0
	return w.err
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 && w.err == nil {
		if w.n == len(w.buf) {
			_ = w.Flush()
			continue
		}
		c := copy(w.buf[w.n:], p)
		w.n += c
		p = p[c:]
	}
	if w.err != nil {
		return total - len(p), w.err
	}
	return total, nil
}

// WriteByte implements io.ByteWriter.
func (w *Writer) WriteByte(c byte) error {
	if w.err != nil {
		return w.err
	}
	if w.n == len(w.buf) {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	w.buf[w.n] = c
	w.n++
	return nil
}

// WriteString implements io.StringWriter.
func (w *Writer) WriteString(s string) (int, error) {
	total := len(s)
	for len(s) > 0 && w.err == nil {
		if w.n == len(w.buf) {
			_ = w.Flush()
			continue
		}
		c := copy(w.buf[w.n:], s)
		w.n += c
		s = s[c:]
	}
	if w.err != nil {
		return total - len(s), w.err
	}
	return total, nil
}

// Line writes s followed by a newline.
func (w *Writer) Line(s string) {
	_, _ = w.WriteString(s)
	_ = w.WriteByte('\n')
}

// LineBytes writes b followed by a newline.
func (w *Writer) LineBytes(b []byte) {
	_, _ = w.Write(b)
	_ = w.WriteByte('\n')
}

// Int writes the decimal representation of v.
func (w *Writer) Int(v int64) {
	var tmp [24]byte
	_, _ = w.Write(strconv.AppendInt(tmp[:0], v, 10))
}

// Uint writes the decimal representation of v.
func (w *Writer) Uint(v uint64) {
	var tmp [24]byte
	_, _ = w.Write(strconv.AppendUint(tmp[:0], v, 10))
}

// Hex writes v as a zero padded 0x prefixed 64-bit hex number.
func (w *Writer) Hex(v uint64) {
	var tmp [18]byte
	_, _ = w.Write(appendHex(tmp[:0], v))
}

// Uint128 writes the decimal representation of the 128-bit value hi:lo.
func (w *Writer) Uint128(hi, lo uint64) {
	var tmp [40]byte
	_, _ = w.Write(AppendUint128(tmp[:0], hi, lo))
}

// JSONString writes s as a quoted JSON string.
func (w *Writer) JSONString(s string) {
	const hex = "0123456789abcdef"
	_ = w.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch {
			case c == '"' || c == '\\':
				_ = w.WriteByte('\\')
				_ = w.WriteByte(c)
			case c == '\n':
				_, _ = w.WriteString(`\n`)
			case c == '\r':
				_, _ = w.WriteString(`\r`)
			case c == '\t':
				_, _ = w.WriteString(`\t`)
			case c < 0x20:
				_, _ = w.WriteString(`\u00`)
				_ = w.WriteByte(hex[c>>4])
				_ = w.WriteByte(hex[c&0xf])
			default:
				_ = w.WriteByte(c)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			_, _ = w.WriteString(`\ufffd`)
		} else {
			_, _ = w.WriteString(s[i : i+size])
		}
		i += size
	}
	_ = w.WriteByte('"')
}

// Section writes a complete section whose body is the single line body.
func (w *Writer) Section(begin, body, end string) {
	w.Line(begin)
	w.Line(body)
	w.Line(end)
}
