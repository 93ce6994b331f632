// Package protocol implements the RESP frame model together with its
// incremental decoder and canonical encoder.
package protocol

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/google/btree"
)

// RESP type sigils.
const (
	TypeSimpleString = '+'
	TypeError        = '-'
	TypeInteger      = ':'
	TypeBulkString   = '$'
	TypeArray        = '*'
	TypeNull         = '_'
	TypeBoolean      = '#'
	TypeDouble       = ','
	TypeMap          = '%'
	TypeSet          = '~'
)

// Frame is one decoded protocol value. The set of implementations is closed:
// SimpleString, SimpleError, Integer, BulkString, NullBulkString, Array,
// NullArray, Null, Boolean, Double, *Map and Set.
type Frame interface {
	// Type returns the wire sigil of the frame.
	Type() byte
	frame()
}

// SimpleString is a single-line text value. It is written verbatim up to a
// CRLF terminator, so it must not contain CR or LF; use BulkString for
// arbitrary text.
type SimpleString string

// SimpleError is a single-line error value. Like SimpleString it must not
// contain CR or LF.
type SimpleError string

// Integer is a signed 64-bit value.
type Integer int64

// Boolean is a true/false value.
type Boolean bool

// Double is a 64-bit floating point value.
type Double float64

// NullBulkString is the null form of a bulk string. It is never an empty BulkString.
type NullBulkString struct{}

// NullArray is the null form of an array. It is never an empty Array.
type NullArray struct{}

// Null is the RESP3 null value.
type Null struct{}

// BulkString is a binary-safe byte sequence.
type BulkString struct {
	data []byte
}

// NewBulkString wraps b as a BulkString. The slice is not copied.
func NewBulkString(b []byte) BulkString {
	if b == nil {
		b = []byte{}
	}
	return BulkString{data: b}
}

// BulkStringFromString creates a BulkString holding the bytes of s.
func BulkStringFromString(s string) BulkString {
	return BulkString{data: []byte(s)}
}

// Bytes returns the payload.
func (b BulkString) Bytes() []byte { return b.data }

// Len returns the payload length in bytes.
func (b BulkString) Len() int { return len(b.data) }

// Text decodes the payload as UTF-8, replacing invalid sequences with U+FFFD.
func (b BulkString) Text() string {
	return strings.ToValidUTF8(string(b.data), "\uFFFD")
}

// Array is an ordered sequence of frames.
type Array struct {
	items []Frame
}

// NewArray creates an Array of the given frames.
func NewArray(items ...Frame) Array {
	if items == nil {
		items = []Frame{}
	}
	return Array{items: items}
}

// Len returns the number of elements.
func (a Array) Len() int { return len(a.items) }

// At returns the i-th element.
func (a Array) At(i int) Frame { return a.items[i] }

// Items returns the elements in order. The returned slice must not be modified.
func (a Array) Items() []Frame { return a.items }

// Set is an ordered sequence of frames sent with the set sigil.
type Set struct {
	items []Frame
}

// NewSet creates a Set of the given frames.
func NewSet(items ...Frame) Set {
	if items == nil {
		items = []Frame{}
	}
	return Set{items: items}
}

// Len returns the number of elements.
func (s Set) Len() int { return len(s.items) }

// At returns the i-th element.
func (s Set) At(i int) Frame { return s.items[i] }

// Items returns the elements in order. The returned slice must not be modified.
func (s Set) Items() []Frame { return s.items }

// MapEntry is one key/value pair of a Map.
type MapEntry struct {
	Key   string
	Value Frame
}

func mapEntryLess(a, b MapEntry) bool { return a.Key < b.Key }

// Map maps unique text keys to frames. Iteration is always in ascending key order.
// Keys are encoded as simple strings and must not contain CR or LF.
type Map struct {
	tree *btree.BTreeG[MapEntry]
}

// NewMap creates an empty Map.
func NewMap() *Map {
	return &Map{tree: btree.NewG(8, mapEntryLess)}
}

// Put stores value under key, replacing any previous value.
func (m *Map) Put(key string, value Frame) {
	m.tree.ReplaceOrInsert(MapEntry{Key: key, Value: value})
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Frame, bool) {
	e, ok := m.tree.Get(MapEntry{Key: key})
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil || m.tree == nil {
		return 0
	}
	return m.tree.Len()
}

// Ascend calls fn for every entry in ascending key order until fn returns false.
func (m *Map) Ascend(fn func(key string, value Frame) bool) {
	if m == nil || m.tree == nil {
		return
	}
	m.tree.Ascend(func(e MapEntry) bool {
		return fn(e.Key, e.Value)
	})
}

// Entries returns all entries in ascending key order.
func (m *Map) Entries() []MapEntry {
	out := make([]MapEntry, 0, m.Len())
	m.Ascend(func(key string, value Frame) bool {
		out = append(out, MapEntry{Key: key, Value: value})
		return true
	})
	return out
}

func (SimpleString) Type() byte   { return TypeSimpleString }
func (SimpleError) Type() byte    { return TypeError }
func (Integer) Type() byte        { return TypeInteger }
func (BulkString) Type() byte     { return TypeBulkString }
func (NullBulkString) Type() byte { return TypeBulkString }
func (Array) Type() byte          { return TypeArray }
func (NullArray) Type() byte      { return TypeArray }
func (Null) Type() byte           { return TypeNull }
func (Boolean) Type() byte        { return TypeBoolean }
func (Double) Type() byte         { return TypeDouble }
func (*Map) Type() byte           { return TypeMap }
func (Set) Type() byte            { return TypeSet }

func (SimpleString) frame()   {}
func (SimpleError) frame()    {}
func (Integer) frame()        {}
func (BulkString) frame()     {}
func (NullBulkString) frame() {}
func (Array) frame()          {}
func (NullArray) frame()      {}
func (Null) frame()           {}
func (Boolean) frame()        {}
func (Double) frame()         {}
func (*Map) frame()           {}
func (Set) frame()            {}

// Equal reports whether a and b are the same variant holding the same value.
func Equal(a, b Frame) bool {
	switch x := a.(type) {
	case SimpleString:
		y, ok := b.(SimpleString)
		return ok && x == y
	case SimpleError:
		y, ok := b.(SimpleError)
		return ok && x == y
	case Integer:
		y, ok := b.(Integer)
		return ok && x == y
	case Boolean:
		y, ok := b.(Boolean)
		return ok && x == y
	case Double:
		y, ok := b.(Double)
		return ok && (x == y || (math.IsNaN(float64(x)) && math.IsNaN(float64(y))))
	case BulkString:
		y, ok := b.(BulkString)
		return ok && bytes.Equal(x.data, y.data)
	case NullBulkString:
		_, ok := b.(NullBulkString)
		return ok
	case NullArray:
		_, ok := b.(NullArray)
		return ok
	case Null:
		_, ok := b.(Null)
		return ok
	case Array:
		y, ok := b.(Array)
		return ok && equalItems(x.items, y.items)
	case Set:
		y, ok := b.(Set)
		return ok && equalItems(x.items, y.items)
	case *Map:
		y, ok := b.(*Map)
		if !ok || x.Len() != y.Len() {
			return false
		}
		xs, ys := x.Entries(), y.Entries()
		for i := range xs {
			if xs[i].Key != ys[i].Key || !Equal(xs[i].Value, ys[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func equalItems(a, b []Frame) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Format renders f in a human readable form for logs and debugging.
func Format(f Frame) string {
	switch v := f.(type) {
	case SimpleString:
		return string(v)
	case SimpleError:
		return "(error) " + string(v)
	case Integer:
		return fmt.Sprintf("(integer) %d", int64(v))
	case Boolean:
		return fmt.Sprintf("(boolean) %t", bool(v))
	case Double:
		return fmt.Sprintf("(double) %g", float64(v))
	case BulkString:
		return fmt.Sprintf("%q", v.data)
	case NullBulkString, NullArray, Null:
		return "(nil)"
	case Array:
		return formatItems(v.items)
	case Set:
		return "set" + formatItems(v.items)
	case *Map:
		parts := make([]string, 0, v.Len())
		v.Ascend(func(key string, value Frame) bool {
			parts = append(parts, key+": "+Format(value))
			return true
		})
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "(unknown)"
	}
}

func formatItems(items []Frame) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = Format(item)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
