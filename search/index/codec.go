package index

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type Compression string

const (
	NoCompression   Compression = "none"
	LZ4Compression  Compression = "lz4"
	ZstdCompression Compression = "zstd"
)

// Values shorter than this are stored raw whatever the codec.
const compressionMinSize = 64

const (
	rawValue byte = iota
	compressedValue
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdOnce    sync.Once
	zstdErr     error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})

	return zstdEncoder, zstdDecoder, zstdErr
}

func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", NoCompression:
		return NoCompression, nil
	case LZ4Compression, ZstdCompression:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("unknown stored field compression %q", name)
	}
}

// encodeStoredValue prefixes the value with a one byte header telling
// whether the remaining bytes are compressed.
func encodeStoredValue(compression Compression, value []byte) ([]byte, error) {
	if compression == NoCompression || len(value) < compressionMinSize {
		return append([]byte{rawValue}, value...), nil
	}

	switch compression {
	case LZ4Compression:
		var buffer bytes.Buffer
		buffer.WriteByte(compressedValue)
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(value); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		return buffer.Bytes(), nil
	case ZstdCompression:
		encoder, _, err := zstdCodecs()
		if err != nil {
			return nil, err
		}
		return encoder.EncodeAll(value, []byte{compressedValue}), nil
	default:
		return nil, fmt.Errorf("unknown stored field compression %q", compression)
	}
}

func decodeStoredValue(compression Compression, value []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("empty stored value")
	}

	if value[0] == rawValue {
		return value[1:], nil
	}

	switch compression {
	case LZ4Compression:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(value[1:])))
	case ZstdCompression:
		_, decoder, err := zstdCodecs()
		if err != nil {
			return nil, err
		}
		return decoder.DecodeAll(value[1:], nil)
	default:
		return nil, fmt.Errorf("compressed value in a segment without codec %q", compression)
	}
}
