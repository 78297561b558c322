package codec

import (
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// snappyCodec wraps github.com/golang/snappy for codec_id=1. Grounded on
// AKJUS-bsc-erigon/go.mod, which requires golang/snappy directly for its
// own snapshot compression.
type snappyCodec struct{}

func (snappyCodec) ID() ID          { return Snappy }
func (snappyCodec) Name() string    { return "snappy" }

func (snappyCodec) Pack(input []byte) ([]byte, error) {
	return snappy.Encode(nil, input), nil
}

func (snappyCodec) Unpack(input []byte, expectedLen int) ([]byte, error) {
	out, err := snappy.Decode(nil, input)
	if err != nil {
		return nil, errors.Wrap(err, "codec: snappy decode")
	}
	if len(out) != expectedLen {
		return nil, errors.Errorf("codec: snappy decoded %d bytes, expected %d", len(out), expectedLen)
	}
	return out, nil
}
