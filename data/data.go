// Package data implements the typed data-block payload (C8, §4.8): the
// TRAJ_BOX_SHAPE/POSITIONS/VELOCITIES/FORCES blocks and any user block with
// id >= 10000.
//
// Each decoded block is one generic Block[T], parameterized over its
// element type the way spec §9 suggests ("DataBlock<T> parameterized over
// the element type"); Any is the small outer enum selecting which
// monomorphization is live, since the wire datatype tag is only known at
// decode time.
package data

import (
	"github.com/pkg/errors"

	"blichmann.eu/code/mdtng/block"
	"blichmann.eu/code/mdtng/codec"
	"blichmann.eu/code/mdtng/wire"
)

// Datatype is the wire tag selecting a data block's element type (§3). Wire
// widths are 1 byte each for Datatype and Dependency, matching the
// single-byte style spec.md already uses for var_num_atoms_flag and the
// sparse flag — the spec names the fields but not their bit widths, so this
// choice is recorded as an Open Question decision in DESIGN.md.
type Datatype uint8

const (
	Char Datatype = iota
	Int64
	Float32
	Float64
)

// Dependency is the bitfield selecting per-particle and/or per-frame shape
// (§3).
type Dependency uint8

const (
	ParticleDependent Dependency = 1 << 0
	FrameDependent     Dependency = 1 << 1
)

func (d Dependency) HasParticle() bool { return d&ParticleDependent != 0 }
func (d Dependency) HasFrame() bool    { return d&FrameDependent != 0 }

// Meta holds every field of a data block except the value tensor itself.
type Meta struct {
	Dependency Dependency

	Sparse             bool
	FirstFrameWithData int64
	StrideLength       int64

	NValuesPerFrame int64

	CodecID               codec.ID
	CompressionMultiplier float64

	FirstParticle int64
	NParticles    int64
}

// EffectiveFrames returns how many frame-groups this block actually stores,
// given the enclosing frame set's frame count (§4.8).
func (m *Meta) EffectiveFrames(enclosingNFrames int64) int64 {
	if !m.Dependency.HasFrame() {
		return 1
	}
	if !m.Sparse {
		return enclosingNFrames
	}
	return sparseFrameCount(enclosingNFrames, m.FirstFrameWithData, m.StrideLength)
}

// sparseFrameCount counts how many frames congruent to
// first_frame_with_data (mod stride_length) fall within [0, enclosingNFrames)
// (§4.8, §8 scenario 6: first=5, stride=10, over 100 frames -> 10 samples).
func sparseFrameCount(enclosingNFrames, firstFrameWithData, strideLength int64) int64 {
	if strideLength <= 0 || enclosingNFrames <= firstFrameWithData {
		return 0
	}
	return (enclosingNFrames-1-firstFrameWithData)/strideLength + 1
}

// SparseFrameNumbers returns the actual frame numbers stored, in order —
// used by readers that need to correlate a stored sample back to its frame.
func (m *Meta) SparseFrameNumbers(enclosingNFrames int64) []int64 {
	n := m.EffectiveFrames(enclosingNFrames)
	first, stride := m.FirstFrameWithData, m.StrideLength
	if !m.Sparse {
		first, stride = 0, 1
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = first + int64(i)*stride
	}
	return out
}

// groupsPerFrame is the particle dimension: NParticles if particle-dependent,
// else 1 (a single per-frame group, §4.8 "Per-frame data").
func (m *Meta) groupsPerFrame() int64 {
	if m.Dependency.HasParticle() {
		return m.NParticles
	}
	return 1
}

// NValues returns the total element count of the value tensor.
func (m *Meta) NValues(enclosingNFrames int64) int64 {
	return m.EffectiveFrames(enclosingNFrames) * m.groupsPerFrame() * m.NValuesPerFrame
}

// Value is the set of element types a data block may hold (§3 "datatype").
type Value interface {
	string | int64 | float32 | float64
}

// Block is a fully typed data block.
type Block[T Value] struct {
	Meta   Meta
	Values []T
}

// Any is the outer enum over which monomorphization of Block is live,
// chosen by the wire datatype tag at decode time.
type Any interface {
	meta() *Meta
}

func (b *Block[T]) meta() *Meta { return &b.Meta }

// GetMeta extracts the Meta from any live monomorphization.
func GetMeta(a Any) Meta { return *a.meta() }

func datatypeOf(a Any) Datatype {
	switch a.(type) {
	case *Block[string]:
		return Char
	case *Block[int64]:
		return Int64
	case *Block[float32]:
		return Float32
	case *Block[float64]:
		return Float64
	default:
		panic("data: unreachable datatype")
	}
}

// Encode serializes a data block payload. enclosingNFrames is the frame
// set's frame count, needed only to validate NValues against len(Values);
// it is never itself written (the reader derives it the same way, §4.8).
func Encode(a Any, enclosingNFrames int64) ([]byte, error) {
	m := GetMeta(a)
	w := wire.NewWriteBuffer()
	w.PutUint8(uint8(datatypeOf(a)))
	w.PutUint8(uint8(m.Dependency))
	if m.Dependency.HasFrame() {
		if m.Sparse {
			w.PutUint8(1)
			w.PutInt64(m.FirstFrameWithData)
			w.PutInt64(m.StrideLength)
		} else {
			w.PutUint8(0)
		}
	}
	w.PutInt64(m.NValuesPerFrame)
	w.PutInt64(int64(m.CodecID))
	if m.CodecID != codec.Uncompressed {
		w.PutFloat64(m.CompressionMultiplier)
	}
	if m.Dependency.HasParticle() {
		w.PutInt64(m.FirstParticle)
		w.PutInt64(m.NParticles)
	}

	valuesBuf := wire.NewWriteBuffer()
	var nValues int
	switch blk := a.(type) {
	case *Block[string]:
		nValues = len(blk.Values)
		for _, v := range blk.Values {
			valuesBuf.PutString(v)
		}
	case *Block[int64]:
		nValues = len(blk.Values)
		for _, v := range blk.Values {
			valuesBuf.PutInt64(v)
		}
	case *Block[float32]:
		nValues = len(blk.Values)
		for _, v := range blk.Values {
			valuesBuf.PutFloat32(v)
		}
	case *Block[float64]:
		nValues = len(blk.Values)
		for _, v := range blk.Values {
			valuesBuf.PutFloat64(v)
		}
	}
	if want := m.NValues(enclosingNFrames); int64(nValues) != want {
		return nil, block.NewFailure(errors.Errorf("data: block holds %d values, shape requires %d", nValues, want))
	}

	raw := valuesBuf.Bytes()
	if m.CodecID == codec.Uncompressed {
		w.PutBytes(raw)
		return w.Bytes(), nil
	}
	c, err := codec.Lookup(m.CodecID)
	if err != nil {
		return nil, block.NewFailure(err)
	}
	packed, err := c.Pack(raw)
	if err != nil {
		return nil, block.NewFailure(errors.Wrap(err, "data: codec pack"))
	}
	w.PutBytes(packed)
	return w.Bytes(), nil
}

// Decode parses a data block payload given the enclosing frame set's frame
// count (needed when the block is frame-dependent and not sparse, §4.8).
func Decode(payload []byte, enclosingNFrames int64) (Any, error) {
	b := wire.NewBuffer(payload)
	datatype := Datatype(b.NextUint8())
	m := Meta{Dependency: Dependency(b.NextUint8())}

	if m.Dependency.HasFrame() {
		if b.NextUint8() != 0 {
			m.Sparse = true
			m.FirstFrameWithData = b.NextInt64()
			m.StrideLength = b.NextInt64()
		}
	}
	m.NValuesPerFrame = b.NextInt64()
	m.CodecID = codec.ID(b.NextInt64())
	if m.CodecID != codec.Uncompressed {
		m.CompressionMultiplier = b.NextFloat64()
	}
	if m.Dependency.HasParticle() {
		m.FirstParticle = b.NextInt64()
		m.NParticles = b.NextInt64()
	}
	if b.Err() != nil {
		return nil, block.NewCritical(errors.Wrap(b.Err(), "data: truncated data block header"))
	}

	rest := payload[b.Offset():]
	if m.CodecID != codec.Uncompressed {
		c, err := codec.Lookup(m.CodecID)
		if err != nil {
			return nil, block.NewFailure(err)
		}
		// expectedLen is unknown until NValues is computed below for
		// non-char types; char values are variable width, so codec'd
		// char blocks are rejected the same way XTC2/XTC3 are — no
		// registered codec operates on variable-width payloads.
		if datatype == Char {
			return nil, block.NewFailure(errors.New("data: char blocks cannot be codec-compressed"))
		}
		expectedLen := int(m.NValues(enclosingNFrames)) * elementSize(datatype)
		unpacked, err := c.Unpack(rest, expectedLen)
		if err != nil {
			return nil, block.NewFailure(errors.Wrap(err, "data: codec unpack"))
		}
		rest = unpacked
	}

	vb := wire.NewBuffer(rest)
	n := int(m.NValues(enclosingNFrames))
	var out Any
	switch datatype {
	case Char:
		values := make([]string, n)
		for i := range values {
			values[i] = vb.NextString()
		}
		out = &Block[string]{Meta: m, Values: values}
	case Int64:
		values := make([]int64, n)
		for i := range values {
			values[i] = vb.NextInt64()
		}
		out = &Block[int64]{Meta: m, Values: values}
	case Float32:
		values := make([]float32, n)
		for i := range values {
			values[i] = vb.NextFloat32()
		}
		out = &Block[float32]{Meta: m, Values: values}
	case Float64:
		values := make([]float64, n)
		for i := range values {
			values[i] = vb.NextFloat64()
		}
		out = &Block[float64]{Meta: m, Values: values}
	default:
		return nil, block.NewFailure(errors.Errorf("data: unknown datatype tag %d", datatype))
	}
	if vb.Err() != nil {
		return nil, block.NewCritical(errors.Wrap(vb.Err(), "data: truncated value tensor"))
	}
	return out, nil
}

func elementSize(dt Datatype) int {
	switch dt {
	case Int64:
		return 8
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}
