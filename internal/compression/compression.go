// Package compression provides the payload codecs for block image slots.
//
// Every stored block carries a 1-byte compression type next to its payload.
// Blocks have a known decoded size (the cache block size), so the codecs use
// block formats without framing where the library offers one, and decoding
// always checks the result against the expected size.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type represents a compression algorithm.
type Type uint8

const (
	// NoCompression indicates the payload is stored raw.
	NoCompression Type = 0x0

	// SnappyCompression uses Google Snappy compression.
	SnappyCompression Type = 0x1

	// ZlibCompression uses zlib compression.
	ZlibCompression Type = 0x2

	// LZ4Compression uses LZ4 block compression.
	LZ4Compression Type = 0x4

	// LZ4HCCompression uses LZ4 High Compression mode.
	LZ4HCCompression Type = 0x5

	// ZstdCompression uses Zstandard compression.
	ZstdCompression Type = 0x7
)

// ErrSizeMismatch is returned when a payload does not decode to the expected size.
var ErrSizeMismatch = errors.New("compression: decoded size mismatch")

// String returns the human-readable name of the compression type.
func (t Type) String() string {
	switch t {
	case NoCompression:
		return "NoCompression"
	case SnappyCompression:
		return "Snappy"
	case ZlibCompression:
		return "Zlib"
	case LZ4Compression:
		return "LZ4"
	case LZ4HCCompression:
		return "LZ4HC"
	case ZstdCompression:
		return "ZSTD"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// IsSupported returns true if the compression type is supported.
func (t Type) IsSupported() bool {
	switch t {
	case NoCompression, SnappyCompression, ZlibCompression, LZ4Compression, LZ4HCCompression, ZstdCompression:
		return true
	default:
		return false
	}
}

// ParseType converts a configuration name to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "", "none":
		return NoCompression, nil
	case "snappy":
		return SnappyCompression, nil
	case "zlib":
		return ZlibCompression, nil
	case "lz4":
		return LZ4Compression, nil
	case "lz4hc":
		return LZ4HCCompression, nil
	case "zstd":
		return ZstdCompression, nil
	default:
		return NoCompression, fmt.Errorf("compression: unknown type %q", s)
	}
}

// zstd encoders and decoders are expensive to build; keep them pooled.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
}

// Compress compresses data using the specified compression type.
// It returns a nil slice (and no error) when the codec reports the input as
// incompressible.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil

	case SnappyCompression:
		return snappy.Encode(nil, data), nil

	case ZlibCompression:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("zlib write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib close: %w", err)
		}
		return buf.Bytes(), nil

	case LZ4Compression:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			return nil, nil
		}
		return dst[:n], nil

	case LZ4HCCompression:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlockHC(data, dst, lz4.Level9, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4hc compress: %w", err)
		}
		if n == 0 {
			return nil, nil
		}
		return dst[:n], nil

	case ZstdCompression:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(data, nil), nil

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}

// CompressIfSmaller compresses data with t and returns the compressed form
// only if it is strictly smaller than data. Otherwise it returns data
// unchanged with NoCompression.
func CompressIfSmaller(t Type, data []byte) (Type, []byte, error) {
	if t == NoCompression {
		return NoCompression, data, nil
	}
	out, err := Compress(t, data)
	if err != nil {
		return NoCompression, nil, err
	}
	if out == nil || len(out) >= len(data) {
		return NoCompression, data, nil
	}
	return t, out, nil
}

// Decompress decodes data compressed with t. size is the expected decoded
// length; a payload that decodes to any other length is rejected with
// ErrSizeMismatch.
func Decompress(t Type, data []byte, size int) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch t {
	case NoCompression:
		out = data

	case SnappyCompression:
		n, lerr := snappy.DecodedLen(data)
		if lerr != nil {
			return nil, fmt.Errorf("snappy decode: %w", lerr)
		}
		if n != size {
			return nil, fmt.Errorf("%w: snappy header says %d, want %d", ErrSizeMismatch, n, size)
		}
		out, err = snappy.Decode(make([]byte, size), data)

	case ZlibCompression:
		var r io.ReadCloser
		r, err = zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		defer func() { _ = r.Close() }()
		// Read one byte past size so oversize payloads are detected.
		out, err = io.ReadAll(io.LimitReader(r, int64(size)+1))

	case LZ4Compression, LZ4HCCompression:
		out = make([]byte, size)
		var n int
		n, err = lz4.UncompressBlock(data, out)
		if err == nil {
			out = out[:n]
		}

	case ZstdCompression:
		dec, derr := getZstdDecoder()
		if derr != nil {
			return nil, fmt.Errorf("zstd decoder: %w", derr)
		}
		defer zstdDecoderPool.Put(dec)
		out, err = dec.DecodeAll(data, make([]byte, 0, size))

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}

	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", t, err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, len(out), size)
	}
	return out, nil
}
