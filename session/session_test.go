package session

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"blichmann.eu/code/mdtng/block"
	"blichmann.eu/code/mdtng/data"
	"blichmann.eu/code/mdtng/geninfo"
	"blichmann.eu/code/mdtng/wire"
)

// buildWaterTopology adds one molecule (3 atoms: O, H, H) to s, returning
// its index. constCount is only applied when variableN is false.
func buildWaterTopology(t *testing.T, s *Session, constCount int64) int {
	t.Helper()
	mol := s.AddMolecule(1, "water", 0)
	require.NoError(t, s.SetMoleculeCnt(mol, constCount))
	chain, err := s.AddChainToMolecule(mol, 1, "W")
	require.NoError(t, err)
	residue, err := s.AddResidueToChain(mol, chain, 1, "HOH")
	require.NoError(t, err)
	require.NoError(t, s.AddAtomToResidue(mol, chain, residue, 1, "O", "OW"))
	require.NoError(t, s.AddAtomToResidue(mol, chain, residue, 2, "H1", "HW"))
	require.NoError(t, s.AddAtomToResidue(mol, chain, residue, 3, "H2", "HW"))
	return mol
}

func baseInfo() *geninfo.GeneralInfo {
	return &geninfo.GeneralInfo{
		ProgramName:      "mdtng-test",
		ForcefieldName:   "none",
		UserName:         "tester",
		CreationTime:     time.Unix(1700000000, 0).UTC(),
		ComputerName:     "localhost",
		PGPSignature:     "",
		LongStrideLength: 3,
	}
}

// Scenario 1 (§8): round-trip of a two-frame-set file, 200 water
// molecules (600 particles), synthetic float32 positions.
func TestScenario1TwoFrameSetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traj.mdtng")

	w := Init()
	require.NoError(t, w.SetOutputFile(path, false))
	buildWaterTopology(t, w, 200)
	require.NoError(t, w.WriteFileHeaders(baseInfo()))

	frames := [2][]float32{}
	for fs := 0; fs < 2; fs++ {
		require.NoError(t, w.NewFrameSet(int64(fs*10), 10, nil))
		values := make([]float32, 10*600*3)
		for i := range values {
			values[i] = float32(fs*1000 + i)
		}
		frames[fs] = values
		require.NoError(t, AddParticleData(w, block.TrajPositions, "TRAJ_POSITIONS",
			data.Meta{NValuesPerFrame: 3, FirstParticle: 0, NParticles: 600}, values))
		require.NoError(t, w.WriteFrameSet())
	}
	require.NoError(t, w.Destroy())

	r := Init()
	require.NoError(t, r.SetInputFile(path))
	require.NoError(t, r.ReadFileHeaders())
	require.Equal(t, 600, r.Topology().Molecules[0].NumAtoms()*int(r.Topology().Molecules[0].MoleculeCount))

	for fs := 0; fs < 2; fs++ {
		cur, err := r.ReadNextFrameSet()
		require.NoError(t, err)
		got, ok := r.FindBlock("TRAJ_POSITIONS")
		require.True(t, ok)
		blk, ok := got.(*data.Block[float32])
		require.True(t, ok)
		require.Equal(t, frames[fs], blk.Values)
		require.Equal(t, int64(fs*10), cur.Header.FirstFrame)
	}
	_, err := r.ReadNextFrameSet()
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, r.Destroy())
}

// Scenario 2 (§8): write 10 frame sets with stride_length=3; verify
// long_next of frame set 0 -> 3 -> 6 -> 9, and frame set 9's long_next is
// sentinel.
func TestScenario2BackPatchLongStride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traj.mdtng")

	w := Init()
	require.NoError(t, w.SetOutputFile(path, false))
	buildWaterTopology(t, w, 1)
	info := baseInfo()
	info.LongStrideLength = 3
	require.NoError(t, w.WriteFileHeaders(info))

	var offsets []uint64
	for i := 0; i < 10; i++ {
		require.NoError(t, w.NewFrameSet(int64(i), 1, nil))
		require.NoError(t, w.WriteFrameSet())
		offsets = append(offsets, w.lastWritten.offset)
	}
	require.NoError(t, w.Destroy())

	r := Init()
	require.NoError(t, r.SetInputFile(path))
	require.NoError(t, r.ReadFileHeaders())

	headers := make([]frameSetHeaderSnapshot, 0, 10)
	for {
		cur, err := r.ReadNextFrameSet()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		headers = append(headers, frameSetHeaderSnapshot{offset: r.currentOffset, longNext: cur.Header.LongNext})
	}
	require.Len(t, headers, 10)

	require.Equal(t, offsets[3], headers[0].longNext)
	require.Equal(t, offsets[6], headers[3].longNext)
	require.Equal(t, offsets[9], headers[6].longNext)
	require.True(t, geninfo.IsSentinel(headers[9].longNext))
	require.NoError(t, r.Destroy())
}

type frameSetHeaderSnapshot struct {
	offset   uint64
	longNext uint64
}

// Scenario 3 (§8): flip one byte inside a data block payload on disk;
// re-open and read: that block returns Failure (digest mismatch) while
// subsequent blocks still read Success.
func TestScenario3DigestIntegrity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traj.mdtng")

	w := Init()
	require.NoError(t, w.SetOutputFile(path, false))
	buildWaterTopology(t, w, 600)
	require.NoError(t, w.WriteFileHeaders(baseInfo()))
	require.NoError(t, w.NewFrameSet(0, 5, nil))
	positions := make([]float32, 5*600*3)
	for i := range positions {
		positions[i] = float32(i)
	}
	require.NoError(t, AddParticleData(w, block.TrajPositions, "TRAJ_POSITIONS",
		data.Meta{NValuesPerFrame: 3, FirstParticle: 0, NParticles: 600}, positions))
	require.NoError(t, AddFrameData(w, block.TrajBoxShape, "TRAJ_BOX_SHAPE",
		data.Meta{NValuesPerFrame: 9}, make([]float32, 5*9)))
	require.NoError(t, w.WriteFrameSet())
	require.NoError(t, w.Destroy())

	// Flip a byte well inside the file (past both block headers), so it
	// lands in one block's payload bytes without touching the header.
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	fi, err := f.Stat()
	require.NoError(t, err)
	flipAt := fi.Size() - 40
	var b [1]byte
	_, err = f.ReadAt(b[:], flipAt)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b[:], flipAt)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r := Init()
	require.NoError(t, r.SetInputFile(path))
	require.NoError(t, r.ReadFileHeaders())
	cur, err := r.ReadNextFrameSet()
	require.NoError(t, err)
	// One of the two data blocks was tampered with and is absent; the
	// other still decoded successfully.
	total := len(cur.PerParticleData) + len(cur.PerFrameData)
	require.Less(t, total, 2)
	require.NoError(t, r.Destroy())
}

// Scenario 4 (§8): add a block with id=999999 and a 128-byte patterned
// payload as the only block after the TOC; after writing the frame set and
// reading it back, the block is carried in Unknown with the same id and
// byte-identical payload.
func TestScenario4UnknownBlockPassthrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traj.mdtng")

	w := Init()
	require.NoError(t, w.SetOutputFile(path, false))
	buildWaterTopology(t, w, 1)
	require.NoError(t, w.WriteFileHeaders(baseInfo()))
	require.NoError(t, w.NewFrameSet(0, 1, nil))

	payload := make([]byte, 128)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	digest := wire.Sum(payload)
	raw := block.Raw{
		Header: block.Header{
			ID:           999999,
			Name:         "MYSTERY_BLOCK",
			Digest:       digest,
			ContentsSize: uint64(len(payload)),
		},
		Payload:  payload,
		Verified: true,
	}
	require.NoError(t, w.AddUnknownBlock(raw))
	require.NoError(t, w.WriteFrameSet())
	require.NoError(t, w.Destroy())

	r := Init()
	require.NoError(t, r.SetInputFile(path))
	require.NoError(t, r.ReadFileHeaders())
	cur, err := r.ReadNextFrameSet()
	require.NoError(t, err)
	require.Len(t, cur.Unknown, 1)
	require.Equal(t, payload, cur.Unknown[0].Payload)
	require.EqualValues(t, 999999, cur.Unknown[0].ID)
	require.NoError(t, r.Destroy())
}

// Scenario 5 (§8): three frame sets whose particle counts are 600, 603,
// 600 (variable-N); molecule-count lists survive the round trip.
func TestScenario5VariableNFrameSets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traj.mdtng")

	w := Init()
	require.NoError(t, w.SetOutputFile(path, false))
	buildWaterTopology(t, w, 0)
	info := baseInfo()
	info.VarNumAtoms = true
	require.NoError(t, w.WriteFileHeaders(info))

	counts := [][]int64{{200}, {201}, {200}}
	for _, mc := range counts {
		require.NoError(t, w.NewFrameSet(0, 1, mc))
		require.NoError(t, w.WriteFrameSet())
	}
	require.NoError(t, w.Destroy())

	r := Init()
	require.NoError(t, r.SetInputFile(path))
	require.NoError(t, r.ReadFileHeaders())
	expectedParticles := []int64{600, 603, 600}
	for _, want := range expectedParticles {
		cur, err := r.ReadNextFrameSet()
		require.NoError(t, err)
		got := r.totalParticles(cur.Header.MoleculeCounts)
		require.Equal(t, want, got)
	}
	require.NoError(t, r.Destroy())
}

// Scenario 6 (§8): a per-frame scalar block with first_frame_with_data=5,
// stride_length=10, over 100 frames; on read it reports exactly 10 stored
// samples at frames 5,15,...,95.
func TestScenario6SparseDataBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traj.mdtng")

	w := Init()
	require.NoError(t, w.SetOutputFile(path, false))
	buildWaterTopology(t, w, 1)
	require.NoError(t, w.WriteFileHeaders(baseInfo()))
	require.NoError(t, w.NewFrameSet(0, 100, nil))

	samples := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	require.NoError(t, AddFrameData(w, 10010, "TEMPERATURE", data.Meta{
		Sparse:             true,
		FirstFrameWithData: 5,
		StrideLength:       10,
		NValuesPerFrame:    1,
	}, samples))
	require.NoError(t, w.WriteFrameSet())
	require.NoError(t, w.Destroy())

	r := Init()
	require.NoError(t, r.SetInputFile(path))
	require.NoError(t, r.ReadFileHeaders())
	cur, err := r.ReadNextFrameSet()
	require.NoError(t, err)
	got, ok := r.FindBlock("TEMPERATURE")
	require.True(t, ok)
	blk := got.(*data.Block[float64])
	require.Len(t, blk.Values, 10)
	require.Equal(t, []int64{5, 15, 25, 35, 45, 55, 65, 75, 85, 95}, blk.Meta.SparseFrameNumbers(cur.Header.NFrames))
	require.NoError(t, r.Destroy())
}
