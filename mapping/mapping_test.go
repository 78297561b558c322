package mapping

import (
	"testing"

	"github.com/stretchr/testify/require"

	"blichmann.eu/code/mdtng/block"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	g := &Group{NumFirstParticle: 0, Indices: []int64{5, 6, 7, 8}}
	out, err := Decode(Encode(g))
	require.NoError(t, err)
	require.Equal(t, g.Indices, out.Indices)
}

func TestDisjointGroupsAccepted(t *testing.T) {
	s := NewSet(100)
	require.NoError(t, s.Add(&Group{Indices: []int64{0, 1, 2}}))
	require.NoError(t, s.Add(&Group{Indices: []int64{3, 4, 5}}))
}

func TestOverlappingGroupsRejected(t *testing.T) {
	s := NewSet(100)
	require.NoError(t, s.Add(&Group{Indices: []int64{0, 1, 2}}))
	err := s.Add(&Group{Indices: []int64{2, 3}})
	require.Error(t, err)
	require.Equal(t, block.Failure, block.StatusOf(err))
}

func TestResolve(t *testing.T) {
	g := &Group{NumFirstParticle: 0, Indices: []int64{42, 43}}
	v, err := g.Resolve(1)
	require.NoError(t, err)
	require.EqualValues(t, 43, v)

	_, err = g.Resolve(5)
	require.Error(t, err)
}
