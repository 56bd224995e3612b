package readings

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// docCodec compresses serialized documents for the local store.
type docCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newDocCodec(level int) (*docCodec, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &docCodec{encoder: enc, decoder: dec}, nil
}

func (c *docCodec) compress(b []byte) []byte { return c.encoder.EncodeAll(b, nil) }

func (c *docCodec) decompress(b []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

func (c *docCodec) close() {
	c.encoder.Close()
	c.decoder.Close()
}
