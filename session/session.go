// Package session implements the trajectory session (C9, §4.9): the
// orchestrator that drives block, topology, geninfo, frameset, mapping, and
// data to stream a whole file frame set at a time, plus the two-phase
// write/back-patch protocol.
package session

import (
	"io"
	"os"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"blichmann.eu/code/mdtng/block"
	"blichmann.eu/code/mdtng/frameset"
	"blichmann.eu/code/mdtng/geninfo"
	"blichmann.eu/code/mdtng/topology"
	"blichmann.eu/code/mdtng/wire"
)

// State is the session lifecycle (§4.9 "State machine").
type State int

const (
	StateFresh State = iota
	StateHeadersRead
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "Fresh"
	case StateHeadersRead:
		return "HeadersRead"
	case StateStreaming:
		return "Streaming"
	case StateClosed:
		return "Closed"
	default:
		return "State(?)"
	}
}

// cacheSize bounds the LRU of decoded frame-set headers keyed by file offset
// (§3 expansion).
const cacheSize = 64

// frameSetRecord remembers the on-disk framing of one written frame set, so
// a later frame set's write can back-patch it.
type frameSetRecord struct {
	offset       uint64
	headerSize   uint64
	contentsSize uint64
}

// Session orchestrates one trajectory file's read or write lifecycle. Not
// safe for concurrent use (§5).
type Session struct {
	state State
	log   *zap.SugaredLogger

	in     *os.File
	inSize int64

	out      *os.File
	appendTo bool

	info *geninfo.GeneralInfo
	topo *topology.Topology

	genInfoOffset       uint64
	genInfoHeaderSize   uint64
	genInfoContentsSize uint64

	// Write-path bookkeeping for the two-phase back-patch protocol.
	lastWritten *frameSetRecord
	longChain   []frameSetRecord
	writeIndex  int64

	// Read-path state: the one "current frame set" the session owns
	// (§3 "Lifecycle and ownership").
	current       *CurrentFrameSet
	currentOffset uint64
	haveCurrent   bool

	// cache remembers decoded frame-set headers by file offset, so the
	// header walks in SeekFrame and rebuildWriteBookkeeping can skip
	// re-reading a frame-set block; it holds headers only, never TOC or
	// data blocks, and entries are dropped when their block is back-patched
	// (§3 expansion).
	cache *lru.Cache[uint64, frameset.Header]
}

// Init constructs a fresh session with a no-op logger, matching how the
// teacher's btrfs package carries no logging of its own until a caller opts
// in.
func Init() *Session {
	c, _ := lru.New[uint64, frameset.Header](cacheSize)
	return &Session{
		state: StateFresh,
		log:   zap.NewNop().Sugar(),
		cache: c,
	}
}

// WithLogger installs l as the session's diagnostic logger (digest
// mismatches, skipped blocks, §7).
func (s *Session) WithLogger(l *zap.SugaredLogger) *Session {
	s.log = l
	return s
}

// SetInputFile opens path for reading.
func (s *Session) SetInputFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return block.NewCritical(errors.Wrap(err, "session: open input file"))
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return block.NewCritical(errors.Wrap(err, "session: stat input file"))
	}
	s.in = f
	s.inSize = fi.Size()
	return nil
}

// SetOutputFile opens path for writing. When appendExisting is false the
// file is truncated (a fresh trajectory); when true it is opened
// read-write without truncation so new frame sets are appended after the
// existing ones (§4.9 "Open output (truncate if fresh, else append)").
// In append mode the same handle also serves as the input file, since
// back-patching requires reading the bytes it is about to overwrite.
func (s *Session) SetOutputFile(path string, appendExisting bool) error {
	flags := os.O_RDWR | os.O_CREATE
	if !appendExisting {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return block.NewCritical(errors.Wrap(err, "session: open output file"))
	}
	s.out = f
	s.appendTo = appendExisting
	if appendExisting {
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return block.NewCritical(errors.Wrap(err, "session: stat output file"))
		}
		s.in = f
		s.inSize = fi.Size()
	}
	return nil
}

// ReadFileHeaders reads the sequence of non-trajectory blocks (GENERAL_INFO,
// MOLECULES, and any passthrough block) until a TRAJECTORY_FRAME_SET is
// seen, then rewinds to it (§4.9 "Read path").
func (s *Session) ReadFileHeaders() error {
	if s.state != StateFresh {
		return block.NewCritical(errors.Errorf("session: ReadFileHeaders called in state %s", s.state))
	}
	if s.in == nil {
		return block.NewCritical(errors.New("session: no input file set"))
	}
	if _, err := s.in.Seek(0, io.SeekStart); err != nil {
		return block.NewCritical(errors.Wrap(err, "session: seek to start"))
	}

	for {
		pos, err := s.in.Seek(0, io.SeekCurrent)
		if err != nil {
			return block.NewCritical(errors.Wrap(err, "session: tell"))
		}
		remaining := s.inSize - pos
		if remaining <= 0 {
			break
		}
		raw, err := block.ReadRaw(s.in, remaining)
		if raw == nil {
			if err == io.EOF {
				break
			}
			return err
		}
		if err != nil && block.StatusOf(err) == block.Critical {
			s.close()
			return err
		}

		if raw.ID == block.TrajectoryFrameSet {
			if _, serr := s.in.Seek(-raw.TotalSize(), io.SeekCurrent); serr != nil {
				return block.NewCritical(errors.Wrap(serr, "session: rewind to first frame set"))
			}
			break
		}
		if err != nil {
			s.log.Warnw("session: skipping header block", "name", raw.Name, "id", raw.ID, "err", err)
			continue
		}

		switch raw.ID {
		case block.GeneralInfo:
			g, derr := geninfo.Decode(raw.Payload)
			if derr != nil {
				return derr
			}
			s.info = g
			s.genInfoOffset = uint64(pos)
			s.genInfoHeaderSize = raw.HeaderSize
			s.genInfoContentsSize = raw.ContentsSize
		case block.Molecules:
			if s.info == nil {
				return block.NewCritical(errors.New("session: MOLECULES block before GENERAL_INFO"))
			}
			t, derr := topology.Decode(raw.Payload, !s.info.VarNumAtoms)
			if derr != nil {
				return derr
			}
			s.topo = t
		default:
			s.log.Debugw("session: passthrough header block", "name", raw.Name, "id", raw.ID)
		}
	}

	if s.info == nil {
		return block.NewCritical(errors.New("session: file has no GENERAL_INFO block"))
	}
	s.state = StateHeadersRead
	if s.info.HasFirstFrameSet() {
		if err := s.rebuildWriteBookkeeping(); err != nil {
			return err
		}
	}
	return nil
}

// WriteFileHeaders emits GENERAL_INFO followed by MOLECULES to a fresh
// output file (§4.9 "Write path" step "Emit non-trajectory blocks"). The
// topology written is whatever AddMolecule/AddChainToMolecule/
// AddResidueToChain/AddAtomToResidue/SetMoleculeCnt have built up on this
// session so far (§6).
func (s *Session) WriteFileHeaders(info *geninfo.GeneralInfo) error {
	if s.out == nil {
		return block.NewCritical(errors.New("session: no output file set"))
	}
	if s.appendTo {
		return block.NewCritical(errors.New("session: WriteFileHeaders called on an append-mode session"))
	}
	if s.topo == nil {
		return block.NewCritical(errors.New("session: WriteFileHeaders with no topology built"))
	}
	if info.FirstFrameSetPos == 0 && info.LastFrameSetPos == 0 {
		info.FirstFrameSetPos = geninfo.SentinelPointer
		info.LastFrameSetPos = geninfo.SentinelPointer
	}
	s.info = info
	topo := s.topo

	giOffset, err := s.out.Seek(0, io.SeekCurrent)
	if err != nil {
		return block.NewCritical(errors.Wrap(err, "session: tell before GENERAL_INFO"))
	}
	giPayload := geninfo.Encode(info)
	if _, err := writeBlock(s.out, "GENERAL_INFO", block.GeneralInfo, giPayload); err != nil {
		return err
	}
	s.genInfoOffset = uint64(giOffset)
	s.genInfoHeaderSize = block.HeaderSize("GENERAL_INFO")
	s.genInfoContentsSize = uint64(len(giPayload))

	moPayload := topology.Encode(topo, !info.VarNumAtoms)
	if _, err := writeBlock(s.out, "MOLECULES", block.Molecules, moPayload); err != nil {
		return err
	}

	s.state = StateHeadersRead
	return nil
}

// writeBlock computes payload's digest and writes a full block via
// block.WriteRaw, the discipline every write call site in this package
// shares.
func writeBlock(w io.Writer, name string, id block.ID, payload []byte) (int64, error) {
	digest := wire.Sum(payload)
	return block.WriteRaw(w, name, id, 0, digest, payload)
}

// GetTimeStr exposes geninfo.GetTimeStr through the session API (§6
// "get_time_str(buf)").
func (s *Session) GetTimeStr() string {
	if s.info == nil {
		return ""
	}
	return geninfo.GetTimeStr(s.info.CreationTime)
}

// Info returns the session's GENERAL_INFO, valid after ReadFileHeaders or
// WriteFileHeaders.
func (s *Session) Info() *geninfo.GeneralInfo { return s.info }

// Topology returns the session's topology, valid after ReadFileHeaders or
// WriteFileHeaders.
func (s *Session) Topology() *topology.Topology { return s.topo }

// State reports the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// totalParticles computes the global particle-index space size for one
// frame set, selecting constant-N or variable-N counts per §3 invariant 4.
func (s *Session) totalParticles(moleculeCounts []int64) int64 {
	var total int64
	for i := range s.topo.Molecules {
		m := &s.topo.Molecules[i]
		count := m.MoleculeCount
		if moleculeCounts != nil {
			count = moleculeCounts[i]
		}
		total += count * int64(m.NumAtoms())
	}
	return total
}

// close releases file handles without validating state, used on a Critical
// outcome (§4.9 "A Critical outcome transitions to Closed and releases file
// handles").
func (s *Session) close() {
	if s.in != nil {
		s.in.Close()
	}
	if s.out != nil && s.out != s.in {
		s.out.Close()
	}
	s.in = nil
	s.out = nil
	s.state = StateClosed
}

// Destroy releases the session's file handles (§6 "destroy()").
func (s *Session) Destroy() error {
	s.close()
	return nil
}
