package session

import (
	"io"

	"github.com/pkg/errors"

	"blichmann.eu/code/mdtng/block"
	"blichmann.eu/code/mdtng/data"
	"blichmann.eu/code/mdtng/frameset"
	"blichmann.eu/code/mdtng/geninfo"
	"blichmann.eu/code/mdtng/mapping"
)

// namedBlock pairs a decoded data.Any with the id/name it was written
// under — the TOC only records names, so session remembers id for
// re-encoding on the next write_frame_set.
type namedBlock struct {
	ID   block.ID
	Name string
	Data data.Any
}

// CurrentFrameSet is the one in-memory frame set a session owns at a time
// (§3 "Lifecycle and ownership"), used for both the read path (populated by
// ReadNextFrameSet) and the write path (built up by NewFrameSet/AddMapping/
// AddParticleData/AddFrameData, then emitted by WriteFrameSet).
type CurrentFrameSet struct {
	Header frameset.Header
	TOC    frameset.TOC

	Mappings []mapping.Group

	PerParticleData []namedBlock
	PerFrameData    []namedBlock

	// Unknown holds any TOC-listed block whose id is neither
	// PARTICLE_MAPPING nor a data block (id >= TRAJ_BOX_SHAPE), and any
	// block in the data-block id range whose payload does not decode as a
	// data block — kept verbatim so a read+write cycle reproduces it byte-identical even
	// though this session never interprets its contents (§4.3 "unknown
	// id... skip", §8 scenario 4).
	Unknown []block.Raw

	mappingSet *mapping.Set
}

// NewFrameSet starts a new in-memory frame set for writing. moleculeCounts
// is nil in constant-N mode; in variable-N mode it must have one entry per
// topology molecule, in order (§3 invariant 4).
func (s *Session) NewFrameSet(firstFrame, nFrames int64, moleculeCounts []int64) error {
	if s.state != StateHeadersRead && s.state != StateStreaming {
		return block.NewCritical(errors.Errorf("session: NewFrameSet called in state %s", s.state))
	}
	s.current = &CurrentFrameSet{
		Header: frameset.Header{
			FirstFrame:     firstFrame,
			NFrames:        nFrames,
			MoleculeCounts: moleculeCounts,
		},
	}
	return nil
}

// AddMapping declares one particle-mapping group for the current frame set,
// rejecting it with a Failure if it overlaps a previously added group
// (§4.7 invariant 5).
func (s *Session) AddMapping(g *mapping.Group) error {
	if s.current == nil {
		return block.NewCritical(errors.New("session: AddMapping with no current frame set"))
	}
	if s.current.mappingSet == nil {
		total := s.totalParticles(s.current.Header.MoleculeCounts)
		s.current.mappingSet = mapping.NewSet(uint64(total))
	}
	if err := s.current.mappingSet.Add(g); err != nil {
		return err
	}
	s.current.Mappings = append(s.current.Mappings, *g)
	return nil
}

// AddParticleData appends a per-particle data block to the current frame
// set (§6 "add_particle_data_block"). Go generics replace the untyped
// datatype+void* pair the original API signature names: the element type
// is the type parameter, and data.Datatype is derived from it at encode
// time (§9 design note).
func AddParticleData[T data.Value](s *Session, id block.ID, name string, meta data.Meta, values []T) error {
	if s.current == nil {
		return block.NewCritical(errors.New("session: AddParticleData with no current frame set"))
	}
	meta.Dependency = data.FrameDependent | data.ParticleDependent
	blk := &data.Block[T]{Meta: meta, Values: values}
	s.current.PerParticleData = append(s.current.PerParticleData, namedBlock{ID: id, Name: name, Data: blk})
	return nil
}

// AddFrameData appends a per-frame (not per-particle) data block to the
// current frame set (§6 "add_data_block").
func AddFrameData[T data.Value](s *Session, id block.ID, name string, meta data.Meta, values []T) error {
	if s.current == nil {
		return block.NewCritical(errors.New("session: AddFrameData with no current frame set"))
	}
	meta.Dependency = data.FrameDependent
	blk := &data.Block[T]{Meta: meta, Values: values}
	s.current.PerFrameData = append(s.current.PerFrameData, namedBlock{ID: id, Name: name, Data: blk})
	return nil
}

// FindBlock scans the current frame set's already-decoded data blocks
// (per-particle first, then per-frame) by name and returns the first match.
func (s *Session) FindBlock(name string) (data.Any, bool) {
	if s.current == nil {
		return nil, false
	}
	for _, nb := range s.current.PerParticleData {
		if nb.Name == name {
			return nb.Data, true
		}
	}
	for _, nb := range s.current.PerFrameData {
		if nb.Name == name {
			return nb.Data, true
		}
	}
	return nil, false
}

// AddUnknownBlock injects a block to be written verbatim into the current
// frame set, exactly as an unrecognized block read from disk would be
// carried through (§8 scenario 4, mainly useful to test drivers and tests
// simulating a foreign block id).
func (s *Session) AddUnknownBlock(raw block.Raw) error {
	if s.current == nil {
		return block.NewCritical(errors.New("session: AddUnknownBlock with no current frame set"))
	}
	s.current.Unknown = append(s.current.Unknown, raw)
	return nil
}

// WriteFrameSet snapshots the current frame set, appends it to the output
// file, then performs the two back-patches described in §4.9 step 4-5:
// the previous frame set's next (and, at a long-stride boundary, the long-
// stride predecessor's long_next), and GENERAL_INFO's root pointers.
func (s *Session) WriteFrameSet() error {
	if s.state != StateHeadersRead && s.state != StateStreaming {
		return block.NewCritical(errors.Errorf("session: WriteFrameSet called in state %s", s.state))
	}
	if s.out == nil {
		return block.NewCritical(errors.New("session: no output file set"))
	}
	if s.current == nil {
		return block.NewCritical(errors.New("session: WriteFrameSet with no current frame set"))
	}

	idx := s.writeIndex
	strideLength := s.info.LongStrideLength
	isLongNode := strideLength > 0 && idx%strideLength == 0

	prevOffset := frameset.Sentinel
	if s.lastWritten != nil {
		prevOffset = s.lastWritten.offset
	}
	longPrevOffset := frameset.Sentinel
	if isLongNode && len(s.longChain) > 0 {
		longPrevOffset = s.longChain[len(s.longChain)-1].offset
	}

	h := &s.current.Header
	h.Next = frameset.Sentinel
	h.Prev = prevOffset
	h.LongNext = frameset.Sentinel
	h.LongPrev = longPrevOffset

	P, err := s.out.Seek(0, io.SeekCurrent)
	if err != nil {
		return block.NewCritical(errors.Wrap(err, "session: tell before frame set"))
	}

	fsPayload := frameset.Encode(h, s.info.VarNumAtoms)
	if _, err := writeBlock(s.out, "TRAJECTORY_FRAME_SET", block.TrajectoryFrameSet, fsPayload); err != nil {
		return err
	}

	names := make([]string, 0, len(s.current.Mappings)+len(s.current.PerFrameData)+len(s.current.PerParticleData)+len(s.current.Unknown))
	for range s.current.Mappings {
		names = append(names, "PARTICLE_MAPPING")
	}
	for _, nb := range s.current.PerFrameData {
		names = append(names, nb.Name)
	}
	for _, nb := range s.current.PerParticleData {
		names = append(names, nb.Name)
	}
	for _, raw := range s.current.Unknown {
		names = append(names, raw.Name)
	}
	tocPayload := frameset.EncodeTOC(&frameset.TOC{Names: names})
	if _, err := writeBlock(s.out, "BLOCK_TABLE_OF_CONTENTS", block.BlockTableOfContents, tocPayload); err != nil {
		return err
	}

	for i := range s.current.Mappings {
		payload := mapping.Encode(&s.current.Mappings[i])
		if _, err := writeBlock(s.out, "PARTICLE_MAPPING", block.ParticleMapping, payload); err != nil {
			return err
		}
	}
	for _, nb := range s.current.PerFrameData {
		payload, err := data.Encode(nb.Data, h.NFrames)
		if err != nil {
			return err
		}
		if _, err := writeBlock(s.out, nb.Name, nb.ID, payload); err != nil {
			return err
		}
	}
	for _, nb := range s.current.PerParticleData {
		payload, err := data.Encode(nb.Data, h.NFrames)
		if err != nil {
			return err
		}
		if _, err := writeBlock(s.out, nb.Name, nb.ID, payload); err != nil {
			return err
		}
	}
	for _, raw := range s.current.Unknown {
		if _, err := block.WriteRaw(s.out, raw.Name, raw.ID, raw.BlockVersion, raw.Digest, raw.Payload); err != nil {
			return err
		}
	}

	endPos, err := s.out.Seek(0, io.SeekCurrent)
	if err != nil {
		return block.NewCritical(errors.Wrap(err, "session: tell after frame set"))
	}

	headerSize := block.HeaderSize("TRAJECTORY_FRAME_SET")
	contentsSize := uint64(len(fsPayload))
	rec := frameSetRecord{offset: uint64(P), headerSize: headerSize, contentsSize: contentsSize}

	if s.lastWritten != nil {
		if err := frameset.PatchPointer(s.out, int64(s.lastWritten.offset), s.lastWritten.headerSize, s.lastWritten.contentsSize, frameset.PointerNext, rec.offset); err != nil {
			return err
		}
		s.cache.Remove(s.lastWritten.offset)
	}
	if isLongNode && len(s.longChain) > 0 {
		last := s.longChain[len(s.longChain)-1]
		if err := frameset.PatchPointer(s.out, int64(last.offset), last.headerSize, last.contentsSize, frameset.PointerLongNext, rec.offset); err != nil {
			return err
		}
		s.cache.Remove(last.offset)
	}

	firstOff, lastOff := geninfo.FieldOffsets(s.info)
	patchFields := map[int64]uint64{lastOff: rec.offset}
	s.info.LastFrameSetPos = rec.offset
	if s.lastWritten == nil {
		patchFields[firstOff] = rec.offset
		s.info.FirstFrameSetPos = rec.offset
	}
	if err := block.PatchFields(s.out, int64(s.genInfoOffset), s.genInfoHeaderSize, s.genInfoContentsSize, patchFields); err != nil {
		return err
	}

	if _, err := s.out.Seek(endPos, io.SeekStart); err != nil {
		return block.NewCritical(errors.Wrap(err, "session: restore write cursor"))
	}

	s.lastWritten = &rec
	if isLongNode {
		s.longChain = append(s.longChain, rec)
	}
	s.writeIndex++
	s.cache.Add(rec.offset, *h)
	s.current = nil
	s.state = StateStreaming
	return nil
}

// ReadNextFrameSet seeks to the next frame set (first_frame_set on the
// first call, current.next thereafter) and reads it in full, releasing the
// previous frame set's owned arrays first (§4.9 "Read path").
func (s *Session) ReadNextFrameSet() (*CurrentFrameSet, error) {
	if s.state != StateHeadersRead && s.state != StateStreaming {
		return nil, block.NewCritical(errors.Errorf("session: ReadNextFrameSet called in state %s", s.state))
	}
	var target uint64
	if !s.haveCurrent {
		target = s.info.FirstFrameSetPos
	} else {
		target = s.current.Header.Next
	}
	if geninfo.IsSentinel(target) {
		return nil, io.EOF
	}
	cur, err := s.readFrameSetAt(target)
	if err != nil {
		return nil, err
	}
	s.currentOffset = target
	s.haveCurrent = true
	s.state = StateStreaming
	return cur, nil
}

// readFrameSetAt reads and fully decodes the frame set whose
// TRAJECTORY_FRAME_SET block starts at offset, reusing s.current's backing
// arrays when present (§3 "releasing the previous frame set's owned
// arrays first").
func (s *Session) readFrameSetAt(offset uint64) (*CurrentFrameSet, error) {
	if _, err := s.in.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, block.NewCritical(errors.Wrap(err, "session: seek to frame set"))
	}

	raw0, err := block.ReadRaw(s.in, s.inSize-int64(offset))
	if err != nil && block.StatusOf(err) == block.Critical {
		return nil, err
	}
	if raw0 == nil {
		return nil, block.NewCritical(errors.New("session: could not read TRAJECTORY_FRAME_SET block"))
	}
	if raw0.ID != block.TrajectoryFrameSet {
		return nil, block.NewCritical(errors.Errorf("session: expected TRAJECTORY_FRAME_SET at offset %d, got id=%d", offset, raw0.ID))
	}
	fsHeader, err := frameset.Decode(raw0.Payload, s.info.VarNumAtoms)
	if err != nil {
		return nil, err
	}

	pos, _ := s.in.Seek(0, io.SeekCurrent)
	raw1, err := block.ReadRaw(s.in, s.inSize-pos)
	if err != nil && block.StatusOf(err) == block.Critical {
		return nil, err
	}
	if raw1 == nil || raw1.ID != block.BlockTableOfContents {
		return nil, block.NewCritical(errors.Errorf("session: frame set at offset %d has no BLOCK_TABLE_OF_CONTENTS", offset))
	}
	toc, err := frameset.DecodeTOC(raw1.Payload)
	if err != nil {
		return nil, err
	}

	cur := s.current
	if cur == nil {
		cur = &CurrentFrameSet{}
	} else {
		cur.Mappings = cur.Mappings[:0]
		cur.PerParticleData = cur.PerParticleData[:0]
		cur.PerFrameData = cur.PerFrameData[:0]
		cur.Unknown = cur.Unknown[:0]
		cur.mappingSet = nil
	}
	cur.Header = *fsHeader
	cur.TOC = *toc

	total := s.totalParticles(fsHeader.MoleculeCounts)
	var mset *mapping.Set
	if total > 0 {
		mset = mapping.NewSet(uint64(total))
	}

	for _, name := range toc.Names {
		p, _ := s.in.Seek(0, io.SeekCurrent)
		raw, rerr := block.ReadRaw(s.in, s.inSize-p)
		if raw == nil {
			if rerr != nil && block.StatusOf(rerr) == block.Critical {
				return nil, rerr
			}
			s.log.Warnw("session: could not read TOC-listed block, frame set truncated", "name", name, "err", rerr)
			break
		}
		if rerr != nil {
			s.log.Warnw("session: skipping block", "name", raw.Name, "id", raw.ID, "err", rerr)
			continue
		}

		switch {
		case raw.ID == block.ParticleMapping:
			g, derr := mapping.Decode(raw.Payload)
			if derr != nil {
				s.log.Warnw("session: malformed PARTICLE_MAPPING", "err", derr)
				continue
			}
			if mset != nil {
				if aerr := mset.Add(g); aerr != nil {
					s.log.Warnw("session: overlapping particle mapping", "err", aerr)
				}
			}
			cur.Mappings = append(cur.Mappings, *g)
		case raw.ID.IsDataBlock():
			a, derr := data.Decode(raw.Payload, fsHeader.NFrames)
			if derr != nil {
				s.log.Warnw("session: undecodable data block, keeping it as unknown", "name", raw.Name, "err", derr)
				cur.Unknown = append(cur.Unknown, *raw)
				continue
			}
			nb := namedBlock{ID: raw.ID, Name: raw.Name, Data: a}
			if data.GetMeta(a).Dependency.HasParticle() {
				cur.PerParticleData = append(cur.PerParticleData, nb)
			} else {
				cur.PerFrameData = append(cur.PerFrameData, nb)
			}
		default:
			cur.Unknown = append(cur.Unknown, *raw)
		}
	}

	s.current = cur
	s.cache.Add(offset, *fsHeader)
	return cur, nil
}

// rebuildWriteBookkeeping walks the existing frame-set chain from
// first_frame_set, rebuilding lastWritten/longChain/writeIndex so that
// appending new frame sets continues the back-patch protocol correctly
// (§4.9 "Open output... else append"). When an output file is set, it then
// moves the write cursor to the end of the file.
func (s *Session) rebuildWriteBookkeeping() error {
	strideLength := s.info.LongStrideLength
	offset := s.info.FirstFrameSetPos
	idx := int64(0)
	for !geninfo.IsSentinel(offset) {
		h, err := s.peekFrameSetHeader(offset)
		if err != nil {
			return err
		}
		rec := frameSetRecord{
			offset:       offset,
			headerSize:   block.HeaderSize("TRAJECTORY_FRAME_SET"),
			contentsSize: uint64(len(frameset.Encode(h, s.info.VarNumAtoms))),
		}
		s.lastWritten = &rec
		if strideLength > 0 && idx%strideLength == 0 {
			s.longChain = append(s.longChain, rec)
		}
		idx++
		offset = h.Next
	}
	s.writeIndex = idx
	if s.out != nil {
		if _, err := s.out.Seek(0, io.SeekEnd); err != nil {
			return block.NewCritical(errors.Wrap(err, "session: seek to end of output file"))
		}
	}
	return nil
}

// peekFrameSetHeader decodes just the TRAJECTORY_FRAME_SET block at offset
// (not its TOC or data blocks), consulting the LRU cache first.
func (s *Session) peekFrameSetHeader(offset uint64) (*frameset.Header, error) {
	if h, ok := s.cache.Get(offset); ok {
		h := h
		return &h, nil
	}
	if _, err := s.in.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, block.NewCritical(errors.Wrap(err, "session: seek to frame set"))
	}
	raw, err := block.ReadRaw(s.in, s.inSize-int64(offset))
	if raw == nil {
		return nil, block.NewCritical(errors.Wrap(err, "session: could not read frame set header"))
	}
	if raw.ID != block.TrajectoryFrameSet {
		return nil, block.NewCritical(errors.Errorf("session: expected TRAJECTORY_FRAME_SET at offset %d, got id=%d", offset, raw.ID))
	}
	h, derr := frameset.Decode(raw.Payload, s.info.VarNumAtoms)
	if derr != nil {
		return nil, derr
	}
	s.cache.Add(offset, *h)
	return h, nil
}

// SeekFrame walks next pointers from first_frame_set counting n_frames per
// hop until it finds the frame set containing frameNumber, then reads it in
// full (§4.9 expansion: supplemented STUB operation, implemented via linear
// scan).
func (s *Session) SeekFrame(frameNumber int64) (*CurrentFrameSet, error) {
	if s.state != StateHeadersRead && s.state != StateStreaming {
		return nil, block.NewCritical(errors.Errorf("session: SeekFrame called in state %s", s.state))
	}
	offset := s.info.FirstFrameSetPos
	for !geninfo.IsSentinel(offset) {
		h, err := s.peekFrameSetHeader(offset)
		if err != nil {
			return nil, err
		}
		if frameNumber >= h.FirstFrame && frameNumber < h.FirstFrame+h.NFrames {
			cur, err := s.readFrameSetAt(offset)
			if err != nil {
				return nil, err
			}
			s.currentOffset = offset
			s.haveCurrent = true
			s.state = StateStreaming
			return cur, nil
		}
		offset = h.Next
	}
	return nil, block.NewFailure(errors.Errorf("session: frame %d out of range", frameNumber))
}
