// Package topology implements the MOLECULES block (C4, §4.4): the
// molecule -> chain -> residue -> atom hierarchy plus bonds.
//
// Children are owned inline by their parent, as arrays; back-edges are
// plain indices rather than pointers, breaking the natural
// atom->residue->chain->molecule reference cycle the way the teacher's
// btrfs.Item stores a non-owning Key instead of a pointer back to its
// owning Leaf (§9 design note).
package topology

import (
	"github.com/pkg/errors"

	"blichmann.eu/code/mdtng/block"
	"blichmann.eu/code/mdtng/wire"
)

// Bond is a pair of atom indices, local to the owning molecule's flattened
// atom list (atoms taken in chain, residue, atom order).
type Bond struct {
	AtomA int64
	AtomB int64
}

// Atom is owned inline by its residue. ResidueIndex and ChainIndex are
// non-owning back-references, set by Decode when it reconstitutes the
// hierarchy or by the builder on construction for writing.
type Atom struct {
	ID           int64
	Name         string
	AtomType     string
	ResidueIndex int
	ChainIndex   int
}

// Residue is owned inline by its chain.
type Residue struct {
	ID         int64
	Name       string
	Atoms      []Atom
	ChainIndex int
}

// Chain is owned inline by its molecule.
type Chain struct {
	ID            int64
	Name          string
	Residues      []Residue
	MoleculeIndex int
}

// Molecule owns its chains (and transitively residues/atoms) and bonds by
// value (§3 "A molecule owns its chain/residue/atom/bond arrays by value").
type Molecule struct {
	ID   int64
	Name string
	// QuaternaryStr is preserved verbatim across round-trips and never
	// interpreted — the source records it but never consumes it (§9).
	QuaternaryStr int64
	Chains        []Chain
	Bonds         []Bond

	// MoleculeCount is only meaningful, and only encoded, in the
	// constant-N case (GENERAL_INFO.VarNumAtoms == false); in the
	// variable-N case the count lives on each frame set instead (§3
	// invariant 4) and this field is ignored by Encode/Decode.
	MoleculeCount int64
}

// NumAtoms returns the total atom count across all chains/residues.
func (m *Molecule) NumAtoms() int {
	n := 0
	for _, c := range m.Chains {
		for _, r := range c.Residues {
			n += len(r.Atoms)
		}
	}
	return n
}

func (m *Molecule) numResidues() int {
	n := 0
	for _, c := range m.Chains {
		n += len(c.Residues)
	}
	return n
}

// Topology is the decoded contents of one MOLECULES block.
type Topology struct {
	Molecules []Molecule
}

// Encode serializes t in the field order of §4.4. constNumAtoms selects
// whether each molecule's MoleculeCount is written (constant-N mode) or
// omitted (variable-N mode, §3 invariant 4).
func Encode(t *Topology, constNumAtoms bool) []byte {
	w := wire.NewWriteBuffer()
	w.PutUint64(uint64(len(t.Molecules)))
	for i := range t.Molecules {
		encodeMolecule(w, &t.Molecules[i], constNumAtoms)
	}
	return w.Bytes()
}

func encodeMolecule(w *wire.WriteBuffer, m *Molecule, constNumAtoms bool) {
	w.PutInt64(m.ID)
	w.PutString(m.Name)
	w.PutInt64(m.QuaternaryStr)
	if constNumAtoms {
		w.PutInt64(m.MoleculeCount)
	}
	w.PutUint64(uint64(len(m.Chains)))
	w.PutUint64(uint64(m.numResidues()))
	w.PutUint64(uint64(m.NumAtoms()))

	for i := range m.Chains {
		c := &m.Chains[i]
		w.PutInt64(c.ID)
		w.PutString(c.Name)
		w.PutUint64(uint64(len(c.Residues)))
	}
	for i := range m.Chains {
		for j := range m.Chains[i].Residues {
			r := &m.Chains[i].Residues[j]
			w.PutInt64(r.ID)
			w.PutString(r.Name)
			w.PutUint64(uint64(len(r.Atoms)))
		}
	}
	for i := range m.Chains {
		for j := range m.Chains[i].Residues {
			for k := range m.Chains[i].Residues[j].Atoms {
				a := &m.Chains[i].Residues[j].Atoms[k]
				w.PutInt64(a.ID)
				w.PutString(a.Name)
				w.PutString(a.AtomType)
			}
		}
	}

	w.PutUint64(uint64(len(m.Bonds)))
	for _, b := range m.Bonds {
		w.PutInt64(b.AtomA)
		w.PutInt64(b.AtomB)
	}
}

// Decode parses a MOLECULES block payload and wires up back-references.
func Decode(payload []byte, constNumAtoms bool) (*Topology, error) {
	b := wire.NewBuffer(payload)
	n := b.NextUint64()
	t := &Topology{Molecules: make([]Molecule, n)}
	for i := range t.Molecules {
		if err := decodeMolecule(b, &t.Molecules[i], i, constNumAtoms); err != nil {
			return nil, err
		}
	}
	if b.Err() != nil {
		return nil, block.NewCritical(errors.Wrap(b.Err(), "topology: truncated MOLECULES payload"))
	}
	return t, nil
}

func decodeMolecule(b *wire.Buffer, m *Molecule, molIdx int, constNumAtoms bool) error {
	m.ID = b.NextInt64()
	m.Name = b.NextString()
	m.QuaternaryStr = b.NextInt64()
	if constNumAtoms {
		m.MoleculeCount = b.NextInt64()
	}
	nChains := b.NextUint64()
	nResidues := b.NextUint64()
	nAtoms := b.NextUint64()

	m.Chains = make([]Chain, nChains)
	residueCounts := make([]uint64, nChains)
	for i := range m.Chains {
		m.Chains[i].ID = b.NextInt64()
		m.Chains[i].Name = b.NextString()
		residueCounts[i] = b.NextUint64()
		m.Chains[i].MoleculeIndex = molIdx
	}

	var totalResidues uint64
	for ci := range m.Chains {
		m.Chains[ci].Residues = make([]Residue, residueCounts[ci])
		for range m.Chains[ci].Residues {
			totalResidues++
		}
	}
	if totalResidues != nResidues {
		return block.NewFailure(errors.Errorf(
			"topology: molecule %q declares n_residues=%d but chains sum to %d",
			m.Name, nResidues, totalResidues))
	}

	atomCounts := make([][]uint64, nChains)
	for ci := range m.Chains {
		atomCounts[ci] = make([]uint64, len(m.Chains[ci].Residues))
		for ri := range m.Chains[ci].Residues {
			r := &m.Chains[ci].Residues[ri]
			r.ID = b.NextInt64()
			r.Name = b.NextString()
			atomCounts[ci][ri] = b.NextUint64()
			r.ChainIndex = ci
		}
	}

	var totalAtoms uint64
	for ci := range m.Chains {
		for ri := range m.Chains[ci].Residues {
			r := &m.Chains[ci].Residues[ri]
			r.Atoms = make([]Atom, atomCounts[ci][ri])
			for ai := range r.Atoms {
				a := &r.Atoms[ai]
				a.ID = b.NextInt64()
				a.Name = b.NextString()
				a.AtomType = b.NextString()
				a.ResidueIndex = ri
				a.ChainIndex = ci
				totalAtoms++
			}
		}
	}
	if totalAtoms != nAtoms {
		return block.NewFailure(errors.Errorf(
			"topology: molecule %q declares n_atoms=%d but residues sum to %d",
			m.Name, nAtoms, totalAtoms))
	}

	nBonds := b.NextUint64()
	m.Bonds = make([]Bond, nBonds)
	for i := range m.Bonds {
		m.Bonds[i].AtomA = b.NextInt64()
		m.Bonds[i].AtomB = b.NextInt64()
	}
	return nil
}
