package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Scalars(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{"simple string", SimpleString("OK"), "+OK\r\n"},
		{"error", SimpleError("ERR boom"), "-ERR boom\r\n"},
		{"positive integer", Integer(1000), ":+1000\r\n"},
		{"zero", Integer(0), ":+0\r\n"},
		{"negative integer", Integer(-100), ":-100\r\n"},
		{"true", Boolean(true), "#t\r\n"},
		{"false", Boolean(false), "#f\r\n"},
		{"null", Null{}, "_\r\n"},
		{"null bulk string", NullBulkString{}, "$-1\r\n"},
		{"null array", NullArray{}, "*-1\r\n"},
		{"bulk string", BulkStringFromString("hello"), "$5\r\nhello\r\n"},
		{"empty bulk string", NewBulkString(nil), "$0\r\n\r\n"},
		{"binary bulk string", NewBulkString([]byte("a\r\nb")), "$4\r\na\r\nb\r\n"},
		{"nil frame", nil, "$-1\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(Encode(tt.frame)))
		})
	}
}

func TestEncode_Double(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{123.456, ",+123.456\r\n"},
		{-2.5, ",-2.5\r\n"},
		{1, ",+1\r\n"},
		{1e8, ",+100000000\r\n"},
		{1.23456e8, ",+1.23456e+8\r\n"},
		{-1.23456e-9, ",-1.23456e-9\r\n"},
		{1e-8, ",+0.00000001\r\n"},
		{0, ",+0e+0\r\n"},
		{math.Inf(1), ",+inf\r\n"},
		{math.Inf(-1), ",-inf\r\n"},
		{math.NaN(), ",nan\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, string(Encode(Double(tt.in))))
		})
	}
}

func TestEncode_NestedArray(t *testing.T) {
	f := NewArray(BulkStringFromString("get"), BulkStringFromString("hello"))
	assert.Equal(t, "*2\r\n$3\r\nget\r\n$5\r\nhello\r\n", string(Encode(f)))

	nested := NewArray(NewArray(Integer(1), Integer(-2)), NullBulkString{}, NewArray())
	assert.Equal(t, "*3\r\n*2\r\n:+1\r\n:-2\r\n$-1\r\n*0\r\n", string(Encode(nested)))
}

func TestEncode_MapSortedByKey(t *testing.T) {
	m := NewMap()
	m.Put("zeta", Integer(1))
	m.Put("alpha", BulkStringFromString("x"))
	m.Put("mid", Boolean(true))

	assert.Equal(t, "%3\r\n+alpha\r\n$1\r\nx\r\n+mid\r\n#t\r\n+zeta\r\n:+1\r\n", string(Encode(m)))
}

func TestEncode_MapReplacesKey(t *testing.T) {
	m := NewMap()
	m.Put("k", Integer(1))
	m.Put("k", Integer(2))

	require.Equal(t, 1, m.Len())
	assert.Equal(t, "%1\r\n+k\r\n:+2\r\n", string(Encode(m)))
}

func TestEncode_Set(t *testing.T) {
	s := NewSet(SimpleString("a"), Integer(2))
	assert.Equal(t, "~2\r\n+a\r\n:+2\r\n", string(Encode(s)))
}

func TestAppendFrame_ReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 64)
	buf = AppendFrame(buf, SimpleString("a"))
	buf = AppendFrame(buf, Integer(1))
	assert.Equal(t, "+a\r\n:+1\r\n", string(buf))
}

func TestRoundTrip(t *testing.T) {
	m := NewMap()
	m.Put("b", NewSet(Integer(1), Null{}))
	m.Put("a", Double(-0.5))

	frames := []Frame{
		SimpleString("PONG"),
		SimpleError("ERR wrong"),
		Integer(42),
		Integer(-42),
		Integer(math.MinInt64),
		Integer(math.MaxInt64),
		BulkStringFromString("hello"),
		NewBulkString([]byte{0x00, 0xff, '\r', '\n'}),
		NewBulkString(nil),
		NullBulkString{},
		NewArray(),
		NullArray{},
		Null{},
		Boolean(true),
		Boolean(false),
		Double(3.14),
		Double(-1.5e-12),
		Double(6.02e23),
		Double(math.Inf(1)),
		Double(math.NaN()),
		m,
		NewSet(),
		NewArray(BulkStringFromString("set"), BulkStringFromString("k"), NewArray(m, NullArray{})),
	}
	for _, f := range frames {
		t.Run(Format(f), func(t *testing.T) {
			wire := Encode(f)
			got, n, err := Decode(wire)
			require.NoError(t, err)
			assert.Equal(t, len(wire), n)
			assert.True(t, Equal(f, got), "got %s", Format(got))
		})
	}
}

func TestEncode_LineBreakInSimpleText(t *testing.T) {
	// Simple text is not escaped: an embedded CRLF terminates the value and
	// the tail is read as the next frame.
	wire := Encode(SimpleString("a\r\nb"))
	assert.Equal(t, "+a\r\nb\r\n", string(wire))

	got, n, err := Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, SimpleString("a"), got)
	assert.Equal(t, 4, n)
	_, _, err = Decode(wire[n:])
	assert.ErrorIs(t, err, ErrInvalidFrameType)

	got, n, err = Decode(Encode(SimpleError("ERR x\r\ny")))
	require.NoError(t, err)
	assert.Equal(t, SimpleError("ERR x"), got)
	assert.Equal(t, 7, n)

	m := NewMap()
	m.Put("k\r\nx", Integer(1))
	_, _, err = Decode(Encode(m))
	assert.ErrorIs(t, err, ErrInvalidFrameType)

	// Bulk strings carry the same text intact.
	bulk := BulkStringFromString("a\r\nb")
	got, _, err = Decode(Encode(bulk))
	require.NoError(t, err)
	assert.True(t, Equal(bulk, got))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(NullBulkString{}, NullBulkString{}))
	assert.False(t, Equal(NullBulkString{}, NullArray{}))
	assert.False(t, Equal(NullBulkString{}, NewBulkString(nil)))
	assert.False(t, Equal(NewArray(), NullArray{}))
	assert.False(t, Equal(NewArray(Integer(1)), NewSet(Integer(1))))
	assert.False(t, Equal(SimpleString("a"), BulkStringFromString("a")))
	assert.True(t, Equal(Double(math.NaN()), Double(math.NaN())))

	a, b := NewMap(), NewMap()
	a.Put("x", Integer(1))
	b.Put("x", Integer(2))
	assert.False(t, Equal(a, b))
	b.Put("x", Integer(1))
	assert.True(t, Equal(a, b))
}

func TestFormat(t *testing.T) {
	f := NewArray(SimpleString("OK"), Integer(3), NullBulkString{}, BulkStringFromString("v"))
	assert.Equal(t, `[OK, (integer) 3, (nil), "v"]`, Format(f))
}
