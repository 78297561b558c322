// Package codec defines the small interface the core data-block layer (C8)
// consumes from external compression collaborators (§6), and registers a
// handful of concrete, general-purpose codecs that exercise it.
//
// The XTC2/XTC3 bit-level coders named in spec §1 stay out of scope: they
// quantize floating-point samples against compression_multiplier before
// bit-packing, which is a different (lossy) contract than the codecs
// registered here. codec_id 0 ("uncompressed") is handled directly by the
// data package and never reaches this registry.
package codec

import "github.com/pkg/errors"

// ID is the on-disk codec_id tag (§3, §4.8).
type ID int64

const (
	Uncompressed ID = 0
	Snappy       ID = 1
	Zstd         ID = 2

	// XTC2 and XTC3 are reserved ids for the out-of-scope bit-level
	// coders (§1). Looking either up returns ErrUnsupportedCodec.
	XTC2 ID = 3
	XTC3 ID = 4
)

// ErrUnsupportedCodec is returned by Lookup for a codec_id with no
// registered implementation — including the reserved-but-unimplemented
// XTC2/XTC3 ids.
var ErrUnsupportedCodec = errors.New("codec: unsupported codec_id")

// Codec packs and unpacks the opaque byte payload of a data block (§6). The
// core supplies codec_id and compression_multiplier but never interprets
// the produced bytes itself.
type Codec interface {
	ID() ID
	Name() string
	// Pack compresses input, the data block's canonically-encoded value
	// buffer, into an opaque byte string.
	Pack(input []byte) ([]byte, error)
	// Unpack decompresses input back into exactly expectedLen bytes.
	Unpack(input []byte, expectedLen int) ([]byte, error)
}

var registry = map[ID]Codec{}

func register(c Codec) { registry[c.ID()] = c }

// Lookup returns the registered Codec for id, or ErrUnsupportedCodec.
func Lookup(id ID) (Codec, error) {
	if c, ok := registry[id]; ok {
		return c, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedCodec, "codec_id=%d", id)
}

func init() {
	register(snappyCodec{})
	register(zstdCodec{})
}
