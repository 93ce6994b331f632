package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNotComplete means the buffer does not yet hold a whole frame. Nothing was consumed.
	ErrNotComplete = errors.New("protocol: frame is not complete")
	// ErrInvalidFrameType indicates an unknown sigil or a mismatched fixed literal.
	ErrInvalidFrameType = errors.New("protocol: invalid frame type")
	// ErrInvalidFrame indicates a malformed length header or frame body.
	ErrInvalidFrame = errors.New("protocol: invalid frame")
	// ErrInvalidNumber indicates an unparsable integer or double literal.
	ErrInvalidNumber = errors.New("protocol: invalid number")
)

const (
	maxBulkStringLength = 512 * 1024 * 1024 // 512 MiB
	maxAggregateLength  = 1_000_000
	maxNestingDepth     = 512
	maxHeaderLength     = 32 // sigil, sign and digits of a length header
)

var (
	crlf             = []byte("\r\n")
	nullBulkLiteral  = []byte("$-1\r\n")
	nullArrayLiteral = []byte("*-1\r\n")
	nullLiteral      = []byte("_\r\n")
	trueLiteral      = []byte("#t\r\n")
	falseLiteral     = []byte("#f\r\n")
)

// Decode decodes the first frame in buf. It returns the frame and the number of
// bytes it occupied. When buf holds only part of a frame it returns ErrNotComplete
// and zero, and the caller may retry with the same bytes once more have arrived.
// Decode never retains buf.
func Decode(buf []byte) (Frame, int, error) {
	var s scanner
	return s.decode(buf)
}

// scanner measures the frame at the start of a buffer before it is parsed.
// Progress survives ErrNotComplete, so a frame that arrives over many reads
// is scanned once in total. Bytes before pos must not change between calls.
type scanner struct {
	pos  int       // bytes proven to belong to the frame
	line int       // bytes of the element at pos already searched for CRLF
	open []pending // aggregates still waiting for elements, innermost last
}

type pending struct {
	remaining int
	isMap     bool
}

func (s *scanner) reset() {
	s.pos = 0
	s.line = 0
	s.open = s.open[:0]
}

func (s *scanner) decode(buf []byte) (Frame, int, error) {
	total, err := s.frameLength(buf)
	if err != nil {
		if !errors.Is(err, ErrNotComplete) {
			s.reset()
		}
		return nil, 0, err
	}
	s.reset()

	// frameLength bounds nesting, which bounds parseFrame's recursion.
	f, n, err := parseFrame(buf[:total])
	if err != nil {
		return nil, 0, err
	}
	if n != total {
		return nil, 0, fmt.Errorf("%w: frame length mismatch", ErrInvalidFrame)
	}
	return f, n, nil
}

// frameLength returns how many bytes the frame at the start of buf occupies,
// including nested frames. It returns ErrNotComplete when buf is too short to
// know or to hold that many bytes.
func (s *scanner) frameLength(buf []byte) (int, error) {
	for {
		if n := len(s.open); n > 0 && s.open[n-1].remaining == 0 {
			s.open = s.open[:n-1]
			if len(s.open) == 0 {
				return s.pos, nil
			}
			continue
		}
		if err := s.element(buf[s.pos:]); err != nil {
			return 0, err
		}
		if len(s.open) == 0 {
			return s.pos, nil
		}
	}
}

// element scans one scalar, or the header of one aggregate, at the start of rest.
func (s *scanner) element(rest []byte) error {
	if len(rest) == 0 {
		return ErrNotComplete
	}
	if n := len(s.open); n > 0 {
		top := s.open[n-1]
		if top.isMap && top.remaining%2 == 0 && rest[0] != TypeSimpleString {
			return fmt.Errorf("%w: map key must be a simple string, got %q", ErrInvalidFrameType, rest[0])
		}
	}

	switch rest[0] {
	case TypeSimpleString, TypeError, TypeInteger, TypeDouble:
		end, err := s.lineEnd(rest)
		if err != nil {
			return err
		}
		s.commit(end + len(crlf))
	case TypeNull:
		n, err := fixedLength(rest, nullLiteral)
		if err != nil {
			return err
		}
		s.commit(n)
	case TypeBoolean:
		n, err := fixedLength(rest, trueLiteral)
		if err != nil && !errors.Is(err, ErrNotComplete) {
			n, err = fixedLength(rest, falseLiteral)
		}
		if err != nil {
			return err
		}
		s.commit(n)
	case TypeBulkString:
		if ok, err := hasLiteral(rest, nullBulkLiteral); err != nil {
			return err
		} else if ok {
			s.commit(len(nullBulkLiteral))
			return nil
		}
		end, n, err := s.header(rest, maxBulkStringLength)
		if err != nil {
			return err
		}
		total := end + len(crlf) + n + len(crlf)
		if len(rest) < total {
			return ErrNotComplete
		}
		s.commit(total)
	case TypeArray, TypeSet, TypeMap:
		if rest[0] == TypeArray {
			if ok, err := hasLiteral(rest, nullArrayLiteral); err != nil {
				return err
			} else if ok {
				s.commit(len(nullArrayLiteral))
				return nil
			}
		}
		if len(s.open) >= maxNestingDepth {
			return fmt.Errorf("%w: aggregates nested deeper than %d", ErrInvalidFrame, maxNestingDepth)
		}
		end, n, err := s.header(rest, maxAggregateLength)
		if err != nil {
			return err
		}
		elems := n
		if rest[0] == TypeMap {
			elems = 2 * n
		}
		s.commit(end + len(crlf))
		s.open = append(s.open, pending{remaining: elems, isMap: rest[0] == TypeMap})
	default:
		return fmt.Errorf("%w: unknown sigil %q", ErrInvalidFrameType, rest[0])
	}
	return nil
}

// commit accepts the next n bytes as one element of the innermost aggregate.
func (s *scanner) commit(n int) {
	s.pos += n
	s.line = 0
	if k := len(s.open); k > 0 {
		s.open[k-1].remaining--
	}
}

// lineEnd returns the index of the CR ending the line that starts rest,
// resuming the search where the previous call gave up.
func (s *scanner) lineEnd(rest []byte) (int, error) {
	from := max(1, s.line-1) // a CR may have been the last byte searched
	if i := bytes.Index(rest[from:], crlf); i >= 0 {
		s.line = 0
		return from + i, nil
	}
	s.line = len(rest)
	return 0, ErrNotComplete
}

// header reads "<sigil><decimal>\r\n" and returns the index of the CR and the length.
func (s *scanner) header(rest []byte, limit int) (int, int, error) {
	end, err := s.lineEnd(rest)
	if err != nil {
		if len(rest) > maxHeaderLength {
			return 0, 0, fmt.Errorf("%w: length header exceeds %d bytes", ErrInvalidFrame, maxHeaderLength)
		}
		return 0, 0, err
	}
	n, err := parseLength(rest[1:end], limit)
	return end, n, err
}

// fixedLength matches an exact literal such as "_\r\n".
func fixedLength(buf, literal []byte) (int, error) {
	ok, err := hasLiteral(buf, literal)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: expected %q", ErrInvalidFrameType, literal)
	}
	return len(literal), nil
}

// hasLiteral reports whether buf starts with literal. A buf that is a strict
// prefix of literal is reported as ErrNotComplete.
func hasLiteral(buf, literal []byte) (bool, error) {
	if len(buf) >= len(literal) {
		return bytes.HasPrefix(buf, literal), nil
	}
	if bytes.HasPrefix(literal, buf) {
		return false, ErrNotComplete
	}
	return false, nil
}

// parseHeader reads "<sigil><decimal>\r\n" from a complete frame.
func parseHeader(buf []byte, limit int) (int, int, error) {
	end := 1 + bytes.Index(buf[1:], crlf)
	n, err := parseLength(buf[1:end], limit)
	return end, n, err
}

func parseLength(digits []byte, limit int) (int, error) {
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid length %q", ErrInvalidNumber, digits)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative length %d", ErrInvalidFrame, n)
	}
	if n > int64(limit) {
		return 0, fmt.Errorf("%w: length %d exceeds limit %d", ErrInvalidFrame, n, limit)
	}
	return int(n), nil
}

// parseFrame decodes a frame from buf, which frameLength has already proven complete.
func parseFrame(buf []byte) (Frame, int, error) {
	switch buf[0] {
	case TypeSimpleString:
		line, n := simpleLine(buf)
		return SimpleString(strings.ToValidUTF8(line, "\uFFFD")), n, nil
	case TypeError:
		line, n := simpleLine(buf)
		return SimpleError(strings.ToValidUTF8(line, "\uFFFD")), n, nil
	case TypeInteger:
		line, n := simpleLine(buf)
		v, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: integer %q", ErrInvalidNumber, line)
		}
		return Integer(v), n, nil
	case TypeDouble:
		line, n := simpleLine(buf)
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: double %q", ErrInvalidNumber, line)
		}
		return Double(v), n, nil
	case TypeNull:
		return Null{}, len(nullLiteral), nil
	case TypeBoolean:
		return Boolean(buf[1] == 't'), len(trueLiteral), nil
	case TypeBulkString:
		if bytes.HasPrefix(buf, nullBulkLiteral) {
			return NullBulkString{}, len(nullBulkLiteral), nil
		}
		return parseBulkString(buf)
	case TypeArray:
		if bytes.HasPrefix(buf, nullArrayLiteral) {
			return NullArray{}, len(nullArrayLiteral), nil
		}
		items, n, err := parseItems(buf)
		if err != nil {
			return nil, 0, err
		}
		return Array{items: items}, n, nil
	case TypeSet:
		items, n, err := parseItems(buf)
		if err != nil {
			return nil, 0, err
		}
		return Set{items: items}, n, nil
	case TypeMap:
		return parseMap(buf)
	default:
		return nil, 0, fmt.Errorf("%w: unknown sigil %q", ErrInvalidFrameType, buf[0])
	}
}

func simpleLine(buf []byte) (string, int) {
	end := 1 + bytes.Index(buf[1:], crlf)
	return string(buf[1:end]), end + len(crlf)
}

func parseBulkString(buf []byte) (Frame, int, error) {
	end, n, err := parseHeader(buf, maxBulkStringLength)
	if err != nil {
		return nil, 0, err
	}
	start := end + len(crlf)
	if !bytes.Equal(buf[start+n:start+n+len(crlf)], crlf) {
		return nil, 0, fmt.Errorf("%w: bulk string not terminated by CRLF", ErrInvalidFrame)
	}
	data := make([]byte, n)
	copy(data, buf[start:start+n])
	return BulkString{data: data}, start + n + len(crlf), nil
}

func parseItems(buf []byte) ([]Frame, int, error) {
	end, count, err := parseHeader(buf, maxAggregateLength)
	if err != nil {
		return nil, 0, err
	}
	pos := end + len(crlf)
	items := make([]Frame, 0, count)
	for i := 0; i < count; i++ {
		f, n, err := parseFrame(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		items = append(items, f)
		pos += n
	}
	return items, pos, nil
}

func parseMap(buf []byte) (Frame, int, error) {
	end, count, err := parseHeader(buf, maxAggregateLength)
	if err != nil {
		return nil, 0, err
	}
	pos := end + len(crlf)
	m := NewMap()
	for i := 0; i < count; i++ {
		key, n, err := parseFrame(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		k, ok := key.(SimpleString)
		if !ok {
			return nil, 0, fmt.Errorf("%w: map key must be a simple string", ErrInvalidFrameType)
		}
		pos += n
		value, n, err := parseFrame(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n
		m.Put(string(k), value)
	}
	return m, pos, nil
}

// Buffer is a growable byte buffer fed by a transport. Decode consumes exactly
// one frame on success and nothing otherwise.
type Buffer struct {
	buf  []byte
	off  int
	scan scanner
}

// Write appends p to the buffer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.off > 0 && b.off == len(b.buf) {
		b.buf = b.buf[:0]
		b.off = 0
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int { return len(b.buf) - b.off }

// Bytes returns the unconsumed bytes. The slice is valid until the next Write or Decode.
func (b *Buffer) Bytes() []byte { return b.buf[b.off:] }

// Decode decodes and consumes the next frame.
func (b *Buffer) Decode() (Frame, error) {
	f, n, err := b.scan.decode(b.buf[b.off:])
	if err != nil {
		return nil, err
	}
	b.off += n
	if b.off == len(b.buf) {
		b.buf = b.buf[:0]
		b.off = 0
	} else if b.off > cap(b.buf)/2 {
		rest := copy(b.buf, b.buf[b.off:])
		b.buf = b.buf[:rest]
		b.off = 0
	}
	return f, nil
}
