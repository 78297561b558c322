package session

import (
	"github.com/pkg/errors"

	"blichmann.eu/code/mdtng/block"
	"blichmann.eu/code/mdtng/topology"
)

// AddMolecule appends a molecule to the session's topology, creating the
// topology on first use, and returns its index for subsequent
// AddChainToMolecule calls (§6 "add_molecule").
func (s *Session) AddMolecule(id int64, name string, quaternaryStr int64) int {
	if s.topo == nil {
		s.topo = &topology.Topology{}
	}
	s.topo.Molecules = append(s.topo.Molecules, topology.Molecule{
		ID:            id,
		Name:          name,
		QuaternaryStr: quaternaryStr,
	})
	return len(s.topo.Molecules) - 1
}

// SetMoleculeCnt sets the constant-N instance count for a molecule (§6
// "set_molecule_cnt"); meaningless and ignored on encode in variable-N mode
// (§3 invariant 4).
func (s *Session) SetMoleculeCnt(molIdx int, count int64) error {
	if s.topo == nil || molIdx < 0 || molIdx >= len(s.topo.Molecules) {
		return block.NewCritical(errors.Errorf("session: SetMoleculeCnt: invalid molecule index %d", molIdx))
	}
	s.topo.Molecules[molIdx].MoleculeCount = count
	return nil
}

// AddChainToMolecule appends a chain to molecule molIdx, returning its
// index (§6 "add_chain_to_molecule").
func (s *Session) AddChainToMolecule(molIdx int, id int64, name string) (int, error) {
	if s.topo == nil || molIdx < 0 || molIdx >= len(s.topo.Molecules) {
		return 0, block.NewCritical(errors.Errorf("session: AddChainToMolecule: invalid molecule index %d", molIdx))
	}
	m := &s.topo.Molecules[molIdx]
	m.Chains = append(m.Chains, topology.Chain{ID: id, Name: name, MoleculeIndex: molIdx})
	return len(m.Chains) - 1, nil
}

// AddResidueToChain appends a residue to chain chainIdx of molecule molIdx,
// returning its index (§6 "add_residue_to_chain").
func (s *Session) AddResidueToChain(molIdx, chainIdx int, id int64, name string) (int, error) {
	if s.topo == nil || molIdx < 0 || molIdx >= len(s.topo.Molecules) {
		return 0, block.NewCritical(errors.Errorf("session: AddResidueToChain: invalid molecule index %d", molIdx))
	}
	m := &s.topo.Molecules[molIdx]
	if chainIdx < 0 || chainIdx >= len(m.Chains) {
		return 0, block.NewCritical(errors.Errorf("session: AddResidueToChain: invalid chain index %d", chainIdx))
	}
	c := &m.Chains[chainIdx]
	c.Residues = append(c.Residues, topology.Residue{ID: id, Name: name, ChainIndex: chainIdx})
	return len(c.Residues) - 1, nil
}

// AddAtomToResidue appends an atom to residue residueIdx of chain chainIdx
// of molecule molIdx (§6 "add_atom_to_residue").
func (s *Session) AddAtomToResidue(molIdx, chainIdx, residueIdx int, id int64, name, atomType string) error {
	if s.topo == nil || molIdx < 0 || molIdx >= len(s.topo.Molecules) {
		return block.NewCritical(errors.Errorf("session: AddAtomToResidue: invalid molecule index %d", molIdx))
	}
	m := &s.topo.Molecules[molIdx]
	if chainIdx < 0 || chainIdx >= len(m.Chains) {
		return block.NewCritical(errors.Errorf("session: AddAtomToResidue: invalid chain index %d", chainIdx))
	}
	c := &m.Chains[chainIdx]
	if residueIdx < 0 || residueIdx >= len(c.Residues) {
		return block.NewCritical(errors.Errorf("session: AddAtomToResidue: invalid residue index %d", residueIdx))
	}
	r := &c.Residues[residueIdx]
	r.Atoms = append(r.Atoms, topology.Atom{
		ID:           id,
		Name:         name,
		AtomType:     atomType,
		ResidueIndex: residueIdx,
		ChainIndex:   chainIdx,
	})
	return nil
}

// AddBond appends a bond (by atom index, local to the molecule's flattened
// atom list) to molecule molIdx.
func (s *Session) AddBond(molIdx int, atomA, atomB int64) error {
	if s.topo == nil || molIdx < 0 || molIdx >= len(s.topo.Molecules) {
		return block.NewCritical(errors.Errorf("session: AddBond: invalid molecule index %d", molIdx))
	}
	m := &s.topo.Molecules[molIdx]
	m.Bonds = append(m.Bonds, topology.Bond{AtomA: atomA, AtomB: atomB})
	return nil
}
