// Package mapping implements the PARTICLE_MAPPING block (C7, §4.7): a
// frame set's partitioning of the global particle index space into groups,
// so that subsequent data blocks can describe only a subset of particles.
package mapping

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"

	"blichmann.eu/code/mdtng/block"
	"blichmann.eu/code/mdtng/wire"
)

// Group is one PARTICLE_MAPPING block's contents: the real particle index
// for each in-block slot, starting at NumFirstParticle.
type Group struct {
	NumFirstParticle int64
	// Indices[i] is the global particle number backing local slot i.
	Indices []int64
}

func (g *Group) NParticles() int { return len(g.Indices) }

func Encode(g *Group) []byte {
	w := wire.NewWriteBuffer()
	w.PutInt64(g.NumFirstParticle)
	w.PutUint64(uint64(len(g.Indices)))
	for _, idx := range g.Indices {
		w.PutInt64(idx)
	}
	return w.Bytes()
}

func Decode(payload []byte) (*Group, error) {
	b := wire.NewBuffer(payload)
	g := &Group{}
	g.NumFirstParticle = b.NextInt64()
	n := b.NextUint64()
	g.Indices = make([]int64, n)
	for i := range g.Indices {
		g.Indices[i] = b.NextInt64()
	}
	if b.Err() != nil {
		return nil, block.NewCritical(errors.Wrap(b.Err(), "mapping: truncated PARTICLE_MAPPING payload"))
	}
	return g, nil
}

// Set tracks which global particle slots have been claimed by the mapping
// groups declared so far within one frame set, so Add checks disjointness in
// O(group size) per group instead of an O(n^2) pairwise interval scan.
type Set struct {
	claimed *bitset.BitSet
	total   uint64
}

// NewSet prepares disjointness tracking over a global particle-index space
// of size totalParticles.
func NewSet(totalParticles uint64) *Set {
	return &Set{claimed: bitset.New(uint(totalParticles)), total: totalParticles}
}

// Add marks g's particles as claimed, returning a Failure if any of them
// were already claimed by an earlier mapping group in the same frame set
// (§4.7 invariant: "mapping ranges are disjoint").
func (s *Set) Add(g *Group) error {
	for _, idx := range g.Indices {
		if idx < 0 || uint64(idx) >= s.total {
			return block.NewFailure(errors.Errorf(
				"mapping: particle index %d out of range [0, %d)", idx, s.total))
		}
		bit := uint(idx)
		if s.claimed.Test(bit) {
			return block.NewFailure(errors.Errorf(
				"mapping: particle index %d claimed by more than one mapping group", idx))
		}
		s.claimed.Set(bit)
	}
	return nil
}

// Resolve maps a local slot index within g back to the global particle
// number.
func (g *Group) Resolve(slot int) (int64, error) {
	if slot < 0 || slot >= len(g.Indices) {
		return 0, errors.Errorf("mapping: slot %d out of range [0, %d)", slot, len(g.Indices))
	}
	return g.Indices[slot], nil
}
