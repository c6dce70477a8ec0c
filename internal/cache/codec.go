package cache

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/rpg-companion/internal/visibility"
	"github.com/klauspost/compress/zstd"
)

// tileCodec сериализует наборы тайлов в JSON с опциональным zstd-сжатием
type tileCodec struct {
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
}

func newTileCodec(compress bool) (*tileCodec, error) {
	codec := &tileCodec{}
	if !compress {
		return codec, nil
	}

	var err error
	codec.compressor, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	codec.decompressor, err = zstd.NewReader(nil)
	if err != nil {
		codec.compressor.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return codec, nil
}

func (c *tileCodec) encode(tiles []visibility.Tile) ([]byte, error) {
	data, err := json.Marshal(tiles)
	if err != nil {
		return nil, err
	}
	if c.compressor == nil {
		return data, nil
	}
	return c.compressor.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *tileCodec) decode(data []byte) ([]visibility.Tile, error) {
	if c.decompressor != nil {
		var err error
		data, err = c.decompressor.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode error: %w", err)
		}
	}

	tiles := make([]visibility.Tile, 0)
	if err := json.Unmarshal(data, &tiles); err != nil {
		return nil, err
	}
	return tiles, nil
}

func (c *tileCodec) close() {
	if c.compressor != nil {
		c.compressor.Close()
	}
	if c.decompressor != nil {
		c.decompressor.Close()
	}
}
