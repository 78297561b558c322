// Package frameset implements the TRAJECTORY_FRAME_SET block, its
// table-of-contents, and the navigation-pointer back-patch math (C6, §4.6).
package frameset

import (
	"io"

	"github.com/pkg/errors"

	"blichmann.eu/code/mdtng/block"
	"blichmann.eu/code/mdtng/wire"
)

// Sentinel is the unset-pointer value for Next/Prev/LongNext/LongPrev.
const Sentinel uint64 = ^uint64(0)

// Header is the decoded payload of one TRAJECTORY_FRAME_SET block.
type Header struct {
	FirstFrame int64
	NFrames    int64

	// MoleculeCounts is populated only in variable-N mode (§3 invariant
	// 4): one count per molecule in topology order.
	MoleculeCounts []int64

	// Navigation pointers, absolute file offsets, in on-wire order
	// (§4.6: "next, prev, long_next, long_prev"). This order matters: the
	// back-patch math in PatchPointer depends on it.
	Next     uint64
	Prev     uint64
	LongNext uint64
	LongPrev uint64
}

// pointerFieldSize is the width in bytes of one navigation pointer; the four
// pointers fill the last 4*pointerFieldSize bytes of the payload.
const pointerFieldSize = 8

// Encode serializes h. variableN selects whether MoleculeCounts is written.
func Encode(h *Header, variableN bool) []byte {
	w := wire.NewWriteBuffer()
	w.PutInt64(h.FirstFrame)
	w.PutInt64(h.NFrames)
	if variableN {
		w.PutUint64(uint64(len(h.MoleculeCounts)))
		for _, c := range h.MoleculeCounts {
			w.PutInt64(c)
		}
	}
	w.PutUint64(h.Next)
	w.PutUint64(h.Prev)
	w.PutUint64(h.LongNext)
	w.PutUint64(h.LongPrev)
	return w.Bytes()
}

// Decode parses a TRAJECTORY_FRAME_SET block payload.
func Decode(payload []byte, variableN bool) (*Header, error) {
	b := wire.NewBuffer(payload)
	h := &Header{}
	h.FirstFrame = b.NextInt64()
	h.NFrames = b.NextInt64()
	if variableN {
		n := b.NextUint64()
		h.MoleculeCounts = make([]int64, n)
		for i := range h.MoleculeCounts {
			h.MoleculeCounts[i] = b.NextInt64()
		}
	}
	h.Next = b.NextUint64()
	h.Prev = b.NextUint64()
	h.LongNext = b.NextUint64()
	h.LongPrev = b.NextUint64()
	if b.Err() != nil {
		return nil, block.NewCritical(errors.Wrap(b.Err(), "frameset: truncated TRAJECTORY_FRAME_SET payload"))
	}
	return h, nil
}

// TOC is the separate BLOCK_TABLE_OF_CONTENTS block that logically belongs
// to the frame set physically preceding it: the names of every block that
// follows, up to the next frame set (§4.6, invariant 6).
type TOC struct {
	Names []string
}

func EncodeTOC(t *TOC) []byte {
	w := wire.NewWriteBuffer()
	w.PutUint64(uint64(len(t.Names)))
	for _, n := range t.Names {
		w.PutString(n)
	}
	return w.Bytes()
}

func DecodeTOC(payload []byte) (*TOC, error) {
	b := wire.NewBuffer(payload)
	n := b.NextUint64()
	t := &TOC{Names: make([]string, n)}
	for i := range t.Names {
		t.Names[i] = b.NextString()
	}
	if b.Err() != nil {
		return nil, block.NewCritical(errors.Wrap(b.Err(), "frameset: truncated BLOCK_TABLE_OF_CONTENTS payload"))
	}
	return t, nil
}

// Pointer names which of the four navigation fields a back-patch targets.
type Pointer int

const (
	PointerNext Pointer = iota
	PointerPrev
	PointerLongNext
	PointerLongPrev
)

// fieldOffsetFromEnd is the byte offset, counted backward from the end of
// the frame-set payload, of each pointer field — derived from their fixed
// tail position in Encode (§4.6 "Finding the back-patch position").
func (p Pointer) fieldOffsetFromEnd() int64 {
	switch p {
	case PointerNext:
		return 4 * pointerFieldSize
	case PointerPrev:
		return 3 * pointerFieldSize
	case PointerLongNext:
		return 2 * pointerFieldSize
	case PointerLongPrev:
		return 1 * pointerFieldSize
	default:
		panic("frameset: invalid Pointer")
	}
}

// PatchPointer overwrites one navigation pointer of a previously written
// frame set in place, then recomputes and overwrites its digest, exactly as
// described in §4.6. rw must be positioned anywhere; PatchPointer always
// seeks explicitly and restores nothing (the caller, session, is
// responsible for resuming its own write cursor afterward per §5's
// "back-patches save and restore [the cursor]").
//
// frameSetOffset is the absolute file position where the frame-set block's
// header begins. headerSize and contentsSize are that block's Header
// fields as originally written.
func PatchPointer(rw io.ReadWriteSeeker, frameSetOffset int64, headerSize, contentsSize uint64, which Pointer, newValue uint64) error {
	fieldOffset := int64(contentsSize) - which.fieldOffsetFromEnd()
	return block.PatchFields(rw, frameSetOffset, headerSize, contentsSize, map[int64]uint64{fieldOffset: newValue})
}
