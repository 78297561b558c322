package codec

import (
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// zstdCodec wraps github.com/klauspost/compress/zstd for codec_id=2.
// Grounded on AKJUS-bsc-erigon/go.mod, which requires klauspost/compress
// directly for state/snapshot compression.
type zstdCodec struct{}

func (zstdCodec) ID() ID       { return Zstd }
func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Pack(input []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "codec: zstd new writer")
	}
	defer enc.Close()
	return enc.EncodeAll(input, nil), nil
}

func (zstdCodec) Unpack(input []byte, expectedLen int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "codec: zstd new reader")
	}
	defer dec.Close()
	out, err := dec.DecodeAll(input, make([]byte, 0, expectedLen))
	if err != nil {
		return nil, errors.Wrap(err, "codec: zstd decode")
	}
	if len(out) != expectedLen {
		return nil, errors.Errorf("codec: zstd decoded %d bytes, expected %d", len(out), expectedLen)
	}
	return out, nil
}
