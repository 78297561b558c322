package frameset

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"blichmann.eu/code/mdtng/block"
	"blichmann.eu/code/mdtng/wire"
)

// seekableBuffer adapts a growable []byte to io.ReadWriteSeeker for testing
// back-patch logic without touching a real file.
type seekableBuffer struct {
	data []byte
	pos  int64
}

func (s *seekableBuffer) Write(p []byte) (int, error) {
	end := s.pos + int64(len(p))
	if end > int64(len(s.data)) {
		grown := make([]byte, end)
		copy(grown, s.data)
		s.data = grown
	}
	n := copy(s.data[s.pos:end], p)
	s.pos = end
	return n, nil
}

func (s *seekableBuffer) Read(p []byte) (int, error) {
	if s.pos >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func (s *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.pos = offset
	case io.SeekCurrent:
		s.pos += offset
	case io.SeekEnd:
		s.pos = int64(len(s.data)) + offset
	}
	return s.pos, nil
}

func TestEncodeDecodeRoundTripConstantN(t *testing.T) {
	h := &Header{FirstFrame: 0, NFrames: 100, Next: Sentinel, Prev: Sentinel, LongNext: Sentinel, LongPrev: Sentinel}
	out, err := Decode(Encode(h, false), false)
	require.NoError(t, err)
	require.Equal(t, h.NFrames, out.NFrames)
	require.Equal(t, Sentinel, out.Next)
}

func TestEncodeDecodeRoundTripVariableN(t *testing.T) {
	h := &Header{FirstFrame: 100, NFrames: 50, MoleculeCounts: []int64{200, 203}}
	out, err := Decode(Encode(h, true), true)
	require.NoError(t, err)
	require.Equal(t, []int64{200, 203}, out.MoleculeCounts)
}

func TestTOCRoundTrip(t *testing.T) {
	toc := &TOC{Names: []string{"TRAJ_POSITIONS", "TRAJ_BOX_SHAPE"}}
	out, err := DecodeTOC(EncodeTOC(toc))
	require.NoError(t, err)
	require.Equal(t, toc.Names, out.Names)
}

func TestPatchPointerUpdatesValueAndDigest(t *testing.T) {
	h := &Header{FirstFrame: 0, NFrames: 10, Next: Sentinel, Prev: Sentinel, LongNext: Sentinel, LongPrev: Sentinel}
	payload := Encode(h, false)
	digest := wire.Sum(payload)

	buf := &seekableBuffer{}
	n, err := block.WriteRaw(buf, "frame set", block.TrajectoryFrameSet, 0, digest, payload)
	require.NoError(t, err)
	require.EqualValues(t, len(payload)+48+len("frame set")+1, n)

	var rdr bytes.Reader
	rdr.Reset(buf.data)
	hdr, err := block.ReadHeader(&rdr)
	require.NoError(t, err)

	require.NoError(t, PatchPointer(buf, 0, hdr.HeaderSize, hdr.ContentsSize, PointerNext, 123456))

	rdr.Reset(buf.data)
	raw, err := block.ReadRaw(&rdr, int64(len(buf.data)))
	require.NoError(t, err)
	require.True(t, raw.Verified)

	got, err := Decode(raw.Payload, false)
	require.NoError(t, err)
	require.EqualValues(t, 123456, got.Next)
	require.Equal(t, Sentinel, got.Prev)
}
