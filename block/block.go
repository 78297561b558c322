// Package block implements the generic block framing described in §4.3: a
// fixed-order header (header_size, contents_size, id, digest, name,
// block_version) followed by opaque contents, readable and writable without knowing what the contents mean.
//
// The read/dispatch split mirrors the teacher's btrfs.Item/Item.ParseData
// pair: a first pass decodes the fixed-shape header and retains the raw
// payload bytes unconditionally (so an unknown block still round-trips
// byte-identical, §8 scenario 4); a second pass, owned by higher-level
// packages, interprets the payload according to ID.
package block

import (
	"io"

	"github.com/pkg/errors"

	"blichmann.eu/code/mdtng/wire"
)

// fixedHeaderFields is the byte size of every header field except the
// name: header_size, contents_size, id (each 8), digest (16), block_version
// (8).
const fixedHeaderFields = 8 + 8 + 8 + wire.DigestSize + 8

// Header is the fixed-order preamble of every block (§3, §6 "bit-exact").
type Header struct {
	HeaderSize   uint64
	ContentsSize uint64
	ID           ID
	Digest       wire.Digest
	Name         string
	BlockVersion uint64
}

// encodedSize computes header_size the way the writer does: the fixed
// fields plus the NUL-terminated name (§4.3 "Writing").
func encodedSize(name string) uint64 {
	return uint64(fixedHeaderFields) + uint64(len(name)) + 1
}

// HeaderSize exports encodedSize for callers (session's write path) that
// need to know a block's on-disk header size before or without calling
// WriteRaw — e.g. to record a just-written block's framing for a later
// back-patch.
func HeaderSize(name string) uint64 { return encodedSize(name) }

// Raw is a block whose payload has not been interpreted: the header plus
// the opaque contents bytes. It is what C3 hands to the ID-dispatch layer,
// and what an unknown ID's block remains as forever.
type Raw struct {
	Header
	Payload []byte
	// Verified is false when Header.Digest was non-zero and did not match
	// Payload — the caller (session) reports Failure but may still use
	// Payload's length to keep streaming (§7).
	Verified bool
}

// ReadHeader reads and decodes one block header from r. It first peeks the
// 8-byte header_size, then reads the remaining header_size-8 header bytes
// and decodes the rest of the fixed-order fields (§4.3 step a/b).
//
// A short read or a header_size too small to hold the fixed fields is
// unrecoverable (the stream position is no longer interpretable) and is
// reported as Critical, per §4.9's "malformed header_size -> Critical".
func ReadHeader(r io.Reader) (*Header, error) {
	var sizeBuf [8]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, NewCritical(errors.Wrap(err, "block: read header_size"))
	}
	headerSize := wire.NewBuffer(sizeBuf[:]).NextUint64()
	if headerSize < uint64(fixedHeaderFields)+1 {
		return nil, NewCritical(errors.Errorf("block: malformed header_size %d", headerSize))
	}

	rest := make([]byte, headerSize-8)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, NewCritical(errors.Wrap(err, "block: short read of header"))
	}

	b := wire.NewBuffer(rest)
	h := &Header{HeaderSize: headerSize}
	h.ContentsSize = b.NextUint64()
	h.ID = ID(b.NextInt64())
	copy(h.Digest[:], b.Next(wire.DigestSize))
	h.Name = b.NextString()
	h.BlockVersion = b.NextUint64()
	if b.Err() != nil {
		return nil, NewCritical(errors.Wrap(b.Err(), "block: malformed header fields"))
	}
	return h, nil
}

// ReadRaw reads one full block (header + payload) from r. remaining is the
// number of bytes known to still be available in the file after the
// header — used for the same "clamp against a corrupted count" safety the
// teacher's Leaf.Parse applies to NrItems, here applied to contents_size
// (§4.3 edge-case policy, §4.9 "impossible sizes -> Failure").
func ReadRaw(r io.Reader, remaining int64) (*Raw, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if int64(h.ContentsSize) > remaining {
		return nil, NewFailure(errors.Errorf(
			"block %q (id=%d): contents_size %d exceeds remaining file bytes %d",
			h.Name, h.ID, h.ContentsSize, remaining))
	}

	payload := make([]byte, h.ContentsSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, NewCritical(errors.Wrap(err, "block: short read of contents"))
	}

	raw := &Raw{Header: *h, Payload: payload, Verified: true}
	if !wire.Verify(h.Digest, payload) {
		raw.Verified = false
		return raw, NewFailure(errors.Errorf(
			"block %q (id=%d): digest mismatch", h.Name, h.ID))
	}
	return raw, nil
}

// Skip advances past a block's contents without retaining them, per the
// "unknown id -> skip by seeking contents_size bytes" policy (§4.3). s must
// support io.Seeker; if it doesn't (a non-seekable stream), callers should
// use ReadRaw and discard the payload instead.
func Skip(s io.Seeker, h *Header) error {
	if _, err := s.Seek(int64(h.ContentsSize), io.SeekCurrent); err != nil {
		return NewCritical(errors.Wrap(err, "block: seek past unknown block"))
	}
	return nil
}

// WriteRaw serializes a block's fixed header followed by payload. The
// caller has already computed Digest (over payload only, §3) before calling
// WriteRaw, mirroring the teacher's write-payload-first-so-size-is-known
// discipline carried into §4.3 ("Writing").
func WriteRaw(w io.Writer, name string, id ID, version uint64, digest wire.Digest, payload []byte) (int64, error) {
	hb := wire.NewWriteBuffer()
	headerSize := encodedSize(name)
	hb.PutUint64(headerSize)
	hb.PutUint64(uint64(len(payload)))
	hb.PutUint64(uint64(id))
	hb.PutBytes(digest[:])
	hb.PutString(name)
	hb.PutUint64(version)

	if uint64(hb.Len()) != headerSize {
		return 0, NewCritical(errors.Errorf(
			"block: computed header_size %d does not match encoded %d", headerSize, hb.Len()))
	}

	n1, err := w.Write(hb.Bytes())
	if err != nil {
		return int64(n1), NewCritical(errors.Wrap(err, "block: write header"))
	}
	n2, err := w.Write(payload)
	if err != nil {
		return int64(n1 + n2), NewCritical(errors.Wrap(err, "block: write payload"))
	}
	return int64(n1 + n2), nil
}

// TotalSize returns the number of bytes a block occupies on disk.
func (h *Header) TotalSize() int64 { return int64(h.HeaderSize) + int64(h.ContentsSize) }

// DigestFieldOffset is the byte offset of the digest field from the start
// of the header — used by frameset's back-patch to recompute a previously
// written block's digest in place (§4.6).
const DigestFieldOffset = 8 + 8 + 8

// RehashPayload re-reads a block's payload after an in-place patch,
// recomputes its MD5 digest, and overwrites the header's digest field —
// the generic half of every back-patch, shared by frameset's navigation
// pointers and session's GENERAL_INFO root pointers (§4.6, §4.9 step 5).
func RehashPayload(rw io.ReadWriteSeeker, blockOffset int64, headerSize, contentsSize uint64) error {
	payloadStart := blockOffset + int64(headerSize)
	if _, err := rw.Seek(payloadStart, io.SeekStart); err != nil {
		return NewCritical(errors.Wrap(err, "block: seek to payload for rehash"))
	}
	payload := make([]byte, contentsSize)
	if _, err := io.ReadFull(rw, payload); err != nil {
		return NewCritical(errors.Wrap(err, "block: re-read payload for rehash"))
	}
	digest := wire.Sum(payload)

	digestPos := blockOffset + DigestFieldOffset
	if _, err := rw.Seek(digestPos, io.SeekStart); err != nil {
		return NewCritical(errors.Wrap(err, "block: seek to digest field"))
	}
	if _, err := rw.Write(digest[:]); err != nil {
		return NewCritical(errors.Wrap(err, "block: write digest field"))
	}
	return nil
}

// PatchFields overwrites one or more uint64 fields of an already-written
// block's payload in place, given their byte offsets from the start of the
// payload, then re-hashes the block. Used for anything wider than a single
// field update in one pass — e.g. GENERAL_INFO's first and last frame-set
// pointers — so only one rehash happens instead of one per field.
func PatchFields(rw io.ReadWriteSeeker, blockOffset int64, headerSize, contentsSize uint64, fields map[int64]uint64) error {
	payloadStart := blockOffset + int64(headerSize)
	for fieldOffset, value := range fields {
		wb := wire.NewWriteBuffer()
		wb.PutUint64(value)
		if _, err := rw.Seek(payloadStart+fieldOffset, io.SeekStart); err != nil {
			return NewCritical(errors.Wrap(err, "block: seek to patch field"))
		}
		if _, err := rw.Write(wb.Bytes()); err != nil {
			return NewCritical(errors.Wrap(err, "block: write patch field"))
		}
	}
	return RehashPayload(rw, blockOffset, headerSize, contentsSize)
}
