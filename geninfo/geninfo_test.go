package geninfo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	g := &GeneralInfo{
		ProgramName:      "mdtng",
		ForcefieldName:   "amber99",
		UserName:         "alice",
		CreationTime:     time.Unix(1700000000, 0).UTC(),
		ComputerName:     "node-07",
		PGPSignature:     "",
		VarNumAtoms:      false,
		FrameSetNFrames:  100,
		FirstFrameSetPos: 4096,
		LastFrameSetPos:  SentinelPointer,
		LongStrideLength: 3,
	}

	out, err := Decode(Encode(g))
	require.NoError(t, err)
	require.Equal(t, g.ProgramName, out.ProgramName)
	require.Equal(t, g.CreationTime, out.CreationTime)
	require.False(t, out.VarNumAtoms)
	require.Equal(t, int64(100), out.FrameSetNFrames)
	require.True(t, out.HasFirstFrameSet())
}

func TestSentinelAcceptsBothSpellings(t *testing.T) {
	require.True(t, IsSentinel(SentinelPointer))
	require.True(t, IsSentinel(0))
	require.False(t, IsSentinel(4096))
}

func TestGetTimeStrFormat(t *testing.T) {
	require.Equal(t, "2023-11-14 22:13:20", GetTimeStr(time.Unix(1700000000, 0)))
}
