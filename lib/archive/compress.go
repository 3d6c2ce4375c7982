// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression applied to a stored chunk. The
// string form is persisted in chunks.compressor and
// metadata.compressor, so the names are format constants.
type Codec string

const (
	// CodecNone stores raw bytes. Chosen automatically for any chunk
	// the preferred codec fails to shrink.
	CodecNone Codec = "none"

	// CodecZlib is DEFLATE with a zlib header. Levels 1..9.
	CodecZlib Codec = "zlib"

	// CodecZstd is Zstandard. Levels 1..22 follow the reference zstd
	// level numbering.
	CodecZstd Codec = "zstd"

	// CodecLZ4 is LZ4 block compression. No levels.
	CodecLZ4 Codec = "lz4"
)

// Default levels when a build does not set one.
const (
	DefaultZlibLevel = 6
	DefaultZstdLevel = 3
)

// Codecs lists every supported codec in display order.
var Codecs = []Codec{CodecNone, CodecZlib, CodecZstd, CodecLZ4}

// ParseCodec parses a codec name.
func ParseCodec(name string) (Codec, error) {
	switch Codec(name) {
	case CodecNone, CodecZlib, CodecZstd, CodecLZ4:
		return Codec(name), nil
	default:
		return "", fmt.Errorf("unknown compressor %q (want none, zlib, zstd, or lz4)", name)
	}
}

// DefaultLevel returns the level used for codec when none is given.
// Codecs without levels return 0.
func (c Codec) DefaultLevel() int {
	switch c {
	case CodecZlib:
		return DefaultZlibLevel
	case CodecZstd:
		return DefaultZstdLevel
	default:
		return 0
	}
}

// ValidateLevel reports whether level is usable with the codec. Zero
// always means "the codec's default".
func (c Codec) ValidateLevel(level int) error {
	if level == 0 {
		return nil
	}
	switch c {
	case CodecZlib:
		if level < 1 || level > 9 {
			return fmt.Errorf("zlib level %d out of range (1..9)", level)
		}
	case CodecZstd:
		if level < 1 || level > 22 {
			return fmt.Errorf("zstd level %d out of range (1..22)", level)
		}
	default:
		return fmt.Errorf("compressor %s does not take a level", c)
	}
	return nil
}

// errIncompressible signals that a codec could not shrink a chunk.
// The caller stores the chunk with CodecNone instead.
var errIncompressible = errors.New("data is incompressible")

// Compressor encodes chunks with a preferred codec and level. Safe for
// concurrent use.
type Compressor struct {
	codec Codec
	level int
}

// NewCompressor validates codec and level and returns a Compressor.
// A zero level selects the codec's default.
func NewCompressor(codec Codec, level int) (*Compressor, error) {
	if _, err := ParseCodec(string(codec)); err != nil {
		return nil, err
	}
	if err := codec.ValidateLevel(level); err != nil {
		return nil, err
	}
	if level == 0 {
		level = codec.DefaultLevel()
	}
	return &Compressor{codec: codec, level: level}, nil
}

// Codec returns the preferred codec.
func (c *Compressor) Codec() Codec { return c.codec }

// Level returns the effective level (0 for codecs without levels).
func (c *Compressor) Level() int { return c.level }

// Compress encodes raw with the preferred codec. When the codec does
// not shrink the data, raw is returned unchanged with CodecNone.
func (c *Compressor) Compress(raw []byte) ([]byte, Codec, error) {
	if c.codec == CodecNone || len(raw) == 0 {
		return raw, CodecNone, nil
	}

	var (
		compressed []byte
		err        error
	)
	switch c.codec {
	case CodecZlib:
		compressed, err = compressZlib(raw, c.level)
	case CodecZstd:
		compressed, err = compressZstd(raw, c.level)
	case CodecLZ4:
		compressed, err = compressLZ4(raw)
	default:
		return nil, "", fmt.Errorf("unsupported compressor %q", c.codec)
	}
	if errors.Is(err, errIncompressible) {
		return raw, CodecNone, nil
	}
	if err != nil {
		return nil, "", err
	}
	return compressed, c.codec, nil
}

// Decompress decodes data stored with codec. rawLength is the stored
// uncompressed length; a decode that produces any other length is an
// error. The returned error does not carry chunk identity; the chunk
// store wraps it in a CorruptChunkError.
func Decompress(data []byte, codec Codec, rawLength int) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch codec {
	case CodecNone:
		raw = data
	case CodecZlib:
		raw, err = decompressZlib(data, rawLength)
	case CodecZstd:
		raw, err = decompressZstd(data, rawLength)
	case CodecLZ4:
		raw, err = decompressLZ4(data, rawLength)
	default:
		return nil, fmt.Errorf("unknown compressor tag %q", codec)
	}
	if err != nil {
		return nil, err
	}
	if len(raw) != rawLength {
		return nil, fmt.Errorf("%s: decoded %d bytes, expected %d", codec, len(raw), rawLength)
	}
	return raw, nil
}

// zlib

func compressZlib(raw []byte, level int) ([]byte, error) {
	var buffer bytes.Buffer
	buffer.Grow(len(raw) / 2)
	writer, err := zlib.NewWriterLevel(&buffer, level)
	if err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if _, err := writer.Write(raw); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if buffer.Len() >= len(raw) {
		return nil, errIncompressible
	}
	return buffer.Bytes(), nil
}

func decompressZlib(data []byte, rawLength int) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	defer reader.Close()

	// Read one byte past rawLength so oversized streams are detected
	// without unbounded allocation.
	raw := make([]byte, rawLength+1)
	n, err := io.ReadFull(reader, raw)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	if n > rawLength {
		return nil, fmt.Errorf("zlib decompress: stream longer than %d bytes", rawLength)
	}
	// Drain to EOF so the adler32 trailer is verified.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	return raw[:n], nil
}

// zstd

// One encoder per level, created on first use. zstd.Encoder.EncodeAll
// and zstd.Decoder.DecodeAll are safe for concurrent use.
var (
	zstdEncodersMu sync.Mutex
	zstdEncoders   = map[int]*zstd.Encoder{}
	zstdDecoder    *zstd.Decoder
)

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

func zstdEncoder(level int) (*zstd.Encoder, error) {
	zstdEncodersMu.Lock()
	defer zstdEncodersMu.Unlock()

	if encoder, ok := zstdEncoders[level]; ok {
		return encoder, nil
	}
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderCRC(true),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder (level %d): %w", level, err)
	}
	zstdEncoders[level] = encoder
	return encoder, nil
}

func compressZstd(raw []byte, level int) ([]byte, error) {
	encoder, err := zstdEncoder(level)
	if err != nil {
		return nil, err
	}
	compressed := encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	if len(compressed) >= len(raw) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(data []byte, rawLength int) ([]byte, error) {
	raw, err := zstdDecoder.DecodeAll(data, make([]byte, 0, rawLength))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return raw, nil
}

// lz4

func compressLZ4(raw []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(raw)))
	written, err := lz4.CompressBlock(raw, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(raw) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(data []byte, rawLength int) ([]byte, error) {
	raw := make([]byte, rawLength)
	n, err := lz4.UncompressBlock(data, raw)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return raw[:n], nil
}
