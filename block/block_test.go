package block

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"blichmann.eu/code/mdtng/wire"
)

func TestWriteReadRoundTrip(t *testing.T) {
	payload := []byte("hello, trajectory")
	digest := wire.Sum(payload)

	var buf bytes.Buffer
	_, err := WriteRaw(&buf, "GENERAL_INFO", GeneralInfo, 1, digest, payload)
	require.NoError(t, err)

	raw, err := ReadRaw(&buf, int64(buf.Len()))
	require.NoError(t, err)
	require.True(t, raw.Verified)
	require.Equal(t, GeneralInfo, raw.ID)
	require.Equal(t, "GENERAL_INFO", raw.Name)
	require.Equal(t, payload, raw.Payload)
}

func TestDigestMismatchIsFailureNotCritical(t *testing.T) {
	payload := []byte("original payload")
	digest := wire.Sum(payload)

	var buf bytes.Buffer
	_, err := WriteRaw(&buf, "X", TrajPositions, 0, digest, payload)
	require.NoError(t, err)

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	raw, err := ReadRaw(bytes.NewReader(corrupted), int64(len(corrupted)))
	require.Error(t, err)
	require.Equal(t, Failure, StatusOf(err))
	require.False(t, raw.Verified)
}

func TestContentsSizeExceedsRemainingIsFailure(t *testing.T) {
	payload := []byte("0123456789")
	var buf bytes.Buffer
	_, err := WriteRaw(&buf, "Y", TrajForces, 0, wire.Sum(payload), payload)
	require.NoError(t, err)

	_, err = ReadRaw(&buf, 3) // declare far less remaining than contents_size
	require.Error(t, err)
	require.Equal(t, Failure, StatusOf(err))
}

func TestMalformedHeaderSizeIsCritical(t *testing.T) {
	// header_size smaller than the fixed fields can ever allow.
	b := wire.NewWriteBuffer()
	b.PutUint64(4)
	_, err := ReadHeader(bytes.NewReader(b.Bytes()))
	require.Error(t, err)
	require.Equal(t, Critical, StatusOf(err))
}

func TestUnknownBlockPassthrough(t *testing.T) {
	payload := make([]byte, 128)
	for i := range payload {
		payload[i] = byte(i)
	}
	var buf bytes.Buffer
	_, err := WriteRaw(&buf, "unknown", ID(999999), 0, wire.Sum(payload), payload)
	require.NoError(t, err)

	raw, err := ReadRaw(&buf, int64(buf.Len()))
	require.NoError(t, err)
	require.Equal(t, ID(999999), raw.ID)

	var out bytes.Buffer
	_, err = WriteRaw(&out, raw.Name, raw.ID, raw.BlockVersion, raw.Digest, raw.Payload)
	require.NoError(t, err)
}
