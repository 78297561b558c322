package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferRoundTrip(t *testing.T) {
	w := NewWriteBuffer()
	w.PutUint64(0x0102030405060708)
	w.PutFloat64(3.5)
	w.PutString("hello")

	b := NewBuffer(w.Bytes())
	require.Equal(t, uint64(0x0102030405060708), b.NextUint64())
	require.Equal(t, 3.5, b.NextFloat64())
	require.Equal(t, "hello", b.NextString())
	require.NoError(t, b.Err())
}

func TestBufferShortRead(t *testing.T) {
	b := NewBuffer([]byte{1, 2, 3})
	_ = b.NextUint64()
	require.ErrorIs(t, b.Err(), ErrShortBuffer)
}

func TestStringTruncation(t *testing.T) {
	w := NewWriteBuffer()
	long := make([]byte, MaxStringLen+10)
	for i := range long {
		long[i] = 'a'
	}
	w.PutString(string(long))
	require.LessOrEqual(t, w.Len(), MaxStringLen)
}

func TestDigestZeroMeansUnverified(t *testing.T) {
	var zero Digest
	require.True(t, Verify(zero, []byte("tampered payload")))
}

func TestDigestMismatch(t *testing.T) {
	d := Sum([]byte("original"))
	require.False(t, Verify(d, []byte("tampered")))
	require.True(t, Verify(d, []byte("original")))
}
