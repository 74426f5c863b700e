package mysqlclient

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketConn_WriteReadRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	w := newPacketConn(buf)
	require.NoError(t, w.writePacket([]byte("hello")))

	r := newPacketConn(buf)
	got, err := r.readPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestPacketConn_SequenceIncrementsPerPacket(t *testing.T) {
	buf := &bytes.Buffer{}
	w := newPacketConn(buf)
	require.NoError(t, w.writePacket([]byte("a")))
	require.NoError(t, w.writePacket([]byte("b")))
	assert.Equal(t, byte(2), w.seq)

	r := newPacketConn(buf)
	first, err := r.readPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), first)
	second, err := r.readPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), second)
}

func TestPacketConn_ResetSeqStartsNewCommand(t *testing.T) {
	buf := &bytes.Buffer{}
	w := newPacketConn(buf)
	require.NoError(t, w.writePacket([]byte("a")))
	w.resetSeq()
	assert.Equal(t, byte(0), w.seq)
}

func TestPacketConn_UnexpectedSequenceIDIsProtocolError(t *testing.T) {
	buf := &bytes.Buffer{}
	// Hand-craft a packet with sequence id 5 when the reader expects 0.
	buf.Write([]byte{1, 0, 0, 5, 'x'})
	r := newPacketConn(buf)
	_, err := r.readPacket()
	require.Error(t, err)
}

func TestPacketConn_SplitsPayloadsLargerThanMaxPacketSize(t *testing.T) {
	buf := &bytes.Buffer{}
	payload := bytes.Repeat([]byte{0x42}, maxPacketSize+10)
	w := newPacketConn(buf)
	require.NoError(t, w.writePacket(payload))
	// Exactly two physical packets: one full-size, one 10 bytes.
	assert.Equal(t, byte(2), w.seq)

	r := newPacketConn(buf)
	got, err := r.readPacket()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestLenencInt_RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 250, 251, 65535, 65536, 16777215, 16777216, 1 << 40}
	for _, v := range cases {
		b := appendLenencInt(nil, v)
		got, n, ok := readLenencInt(b)
		require.True(t, ok, "value %d", v)
		assert.Equal(t, len(b), n, "value %d", v)
		assert.Equal(t, v, got, "value %d", v)
	}
}

func TestLenencString_RoundTrip(t *testing.T) {
	b := appendLenencString(nil, []byte("hello world"))
	s, n, ok := readLenencString(b)
	require.True(t, ok)
	assert.Equal(t, len(b), n)
	assert.Equal(t, []byte("hello world"), s)
}

func TestNullTerminatedString_ReadsUpToZeroByte(t *testing.T) {
	b := append([]byte("abc"), 0, 'd', 'e')
	s, rest, ok := readNullTerminatedString(b)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), s)
	assert.Equal(t, []byte("de"), rest)
}

func TestNullTerminatedString_MissingTerminatorFails(t *testing.T) {
	_, _, ok := readNullTerminatedString([]byte("noterm"))
	assert.False(t, ok)
}
