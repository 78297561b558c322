// Package geninfo implements the GENERAL_INFO block (C5, §4.5): program and
// user identification, the variable-N flag, and the two root pointers into
// the frame-set linked list.
package geninfo

import (
	"time"

	"github.com/pkg/errors"

	"blichmann.eu/code/mdtng/block"
	"blichmann.eu/code/mdtng/wire"
)

// SentinelPointer is the unset-pointer value (§3 "unset pointers use
// sentinel ~0"). Readers must also accept 0 (§6).
const SentinelPointer uint64 = ^uint64(0)

// GeneralInfo is the decoded contents of the GENERAL_INFO block, always the
// first block in a file (§6).
type GeneralInfo struct {
	ProgramName    string
	ForcefieldName string
	UserName       string
	CreationTime   time.Time
	ComputerName   string
	PGPSignature   string

	// VarNumAtoms selects constant-N (false) vs variable-N (true) mode
	// for the whole trajectory (§3 invariant 4).
	VarNumAtoms bool

	FrameSetNFrames int64

	FirstFrameSetPos uint64
	LastFrameSetPos  uint64

	// LongStrideLength is the number of frame sets per long-stride hop
	// (§4.10/Glossary "Long stride").
	LongStrideLength int64
}

// IsSentinel reports whether p is either accepted spelling of "unset"
// (§3, §6: "readers must accept both").
func IsSentinel(p uint64) bool { return p == SentinelPointer || p == 0 }

// HasFirstFrameSet reports whether FirstFrameSetPos is a real offset rather
// than the sentinel (i.e. at least one frame set has been written).
func (g *GeneralInfo) HasFirstFrameSet() bool { return !IsSentinel(g.FirstFrameSetPos) }

// Encode serializes g in the exact field order of §4.5.
func Encode(g *GeneralInfo) []byte {
	w := wire.NewWriteBuffer()
	w.PutString(g.ProgramName)
	w.PutString(g.ForcefieldName)
	w.PutString(g.UserName)
	w.PutInt64(g.CreationTime.Unix())
	w.PutString(g.ComputerName)
	w.PutString(g.PGPSignature)
	if g.VarNumAtoms {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
	w.PutInt64(g.FrameSetNFrames)
	w.PutUint64(g.FirstFrameSetPos)
	w.PutUint64(g.LastFrameSetPos)
	w.PutInt64(g.LongStrideLength)
	return w.Bytes()
}

// Decode parses a GENERAL_INFO block payload.
func Decode(payload []byte) (*GeneralInfo, error) {
	b := wire.NewBuffer(payload)
	g := &GeneralInfo{}
	g.ProgramName = b.NextString()
	g.ForcefieldName = b.NextString()
	g.UserName = b.NextString()
	g.CreationTime = time.Unix(b.NextInt64(), 0).UTC()
	g.ComputerName = b.NextString()
	g.PGPSignature = b.NextString()
	g.VarNumAtoms = b.NextUint8() != 0
	g.FrameSetNFrames = b.NextInt64()
	g.FirstFrameSetPos = b.NextUint64()
	g.LastFrameSetPos = b.NextUint64()
	g.LongStrideLength = b.NextInt64()
	if b.Err() != nil {
		return nil, block.NewCritical(errors.Wrap(b.Err(), "geninfo: truncated GENERAL_INFO payload"))
	}
	return g, nil
}

// FieldOffsets returns the byte offsets, within an already-encoded payload,
// of FirstFrameSetPos and LastFrameSetPos. Both fields follow the variable-
// length identification strings, so their position depends on g's other
// field values — computed here by replaying Encode's layout rather than
// duplicated as constants, so the two can never drift apart.
//
// Used by session to back-patch the two root pointers in place after
// writing a frame set, the same in-place-rewrite-then-rehash discipline
// frameset.PatchPointer applies to a frame set's own navigation pointers
// (§4.9 step 5).
func FieldOffsets(g *GeneralInfo) (firstFrameSetOffset, lastFrameSetOffset int64) {
	off := int64(0)
	off += encodedStringLen(g.ProgramName)
	off += encodedStringLen(g.ForcefieldName)
	off += encodedStringLen(g.UserName)
	off += 8 // creation_time
	off += encodedStringLen(g.ComputerName)
	off += encodedStringLen(g.PGPSignature)
	off += 1 // var_num_atoms_flag
	off += 8 // frame_set_n_frames
	firstFrameSetOffset = off
	off += 8
	lastFrameSetOffset = off
	return firstFrameSetOffset, lastFrameSetOffset
}

// encodedStringLen returns the number of bytes wire.PutString actually
// writes for s, including its NUL terminator — mirroring PutString's
// MaxStringLen-1 truncation so FieldOffsets can never drift from Encode's
// real layout on an over-long string.
func encodedStringLen(s string) int64 {
	if len(s) > wire.MaxStringLen-1 {
		return int64(wire.MaxStringLen)
	}
	return int64(len(s)) + 1
}

// GetTimeStr formats t as the fixed "YYYY-MM-DD HH:MM:SS" ISO-ish layout
// the §6 session API exposes to thin wrappers.
//
// time.Format is stdlib-only by design: this is one fixed, non-localized
// layout string with no parsing or timezone-database need a third-party
// date library in the pack would help with — see DESIGN.md.
func GetTimeStr(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}
