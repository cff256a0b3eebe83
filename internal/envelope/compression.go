package envelope

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"jugaad-backup/internal/errors"
)

// CompressionType names a compression algorithm
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeZlib CompressionType = "zlib"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeLZ4  CompressionType = "lz4"
	CompressionTypeZstd CompressionType = "zstd"
)

// CompressedPrefix starts every compressed archive. A bare header line
// means zlib; other algorithms are named after a colon.
const CompressedPrefix = "JUGAAD_COMPRESSED"

// Compressor compresses and decompresses whole buffers
type Compressor interface {
	Compress(data []byte, level int) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	GetAlgorithm() CompressionType
	GetDefaultLevel() int
	GetMaxLevel() int
	GetMinLevel() int
}

// CompressionManager dispatches to the registered compressors
type CompressionManager struct {
	compressors map[CompressionType]Compressor
}

// NewCompressionManager creates a manager with every supported algorithm
func NewCompressionManager() *CompressionManager {
	cm := &CompressionManager{
		compressors: make(map[CompressionType]Compressor),
	}

	cm.compressors[CompressionTypeZlib] = &ZlibCompressor{}
	cm.compressors[CompressionTypeGzip] = &GzipCompressor{}
	cm.compressors[CompressionTypeLZ4] = &LZ4Compressor{}
	cm.compressors[CompressionTypeZstd] = &ZstdCompressor{}

	return cm
}

// Compress compresses data; out-of-range levels fall back to the default
func (cm *CompressionManager) Compress(data []byte, algorithm CompressionType, level int) ([]byte, error) {
	if algorithm == CompressionTypeNone || algorithm == "" {
		return data, nil
	}

	compressor, err := cm.GetCompressor(algorithm)
	if err != nil {
		return nil, err
	}

	if level < compressor.GetMinLevel() || level > compressor.GetMaxLevel() {
		level = compressor.GetDefaultLevel()
	}

	return compressor.Compress(data, level)
}

// Decompress decompresses data with the given algorithm
func (cm *CompressionManager) Decompress(data []byte, algorithm CompressionType) ([]byte, error) {
	if algorithm == CompressionTypeNone || algorithm == "" {
		return data, nil
	}

	compressor, err := cm.GetCompressor(algorithm)
	if err != nil {
		return nil, err
	}
	return compressor.Decompress(data)
}

// GetCompressor returns the compressor for algorithm
func (cm *CompressionManager) GetCompressor(algorithm CompressionType) (Compressor, error) {
	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return nil, errors.NewValidationError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	return compressor, nil
}

// Wrap compresses data and prepends the compression header
func (cm *CompressionManager) Wrap(data []byte, algorithm CompressionType, level int) ([]byte, error) {
	if algorithm == CompressionTypeNone || algorithm == "" {
		return data, nil
	}

	compressed, err := cm.Compress(data, algorithm, level)
	if err != nil {
		return nil, err
	}

	header := CompressedPrefix + "\n"
	if algorithm != CompressionTypeZlib {
		header = CompressedPrefix + ":" + string(algorithm) + "\n"
	}
	return append([]byte(header), compressed...), nil
}

// Unwrap removes a compression layer if present. Data without the header
// is returned unchanged with CompressionTypeNone.
func (cm *CompressionManager) Unwrap(data []byte) ([]byte, CompressionType, error) {
	if !IsCompressed(data) {
		return data, CompressionTypeNone, nil
	}

	nl := bytes.IndexByte(data, '\n')
	if nl < 0 {
		return nil, "", errors.NewFormatError("compression header is not terminated", nil)
	}

	header := string(data[:nl])
	algorithm := CompressionTypeZlib
	if rest := strings.TrimPrefix(header, CompressedPrefix); rest != "" {
		if !strings.HasPrefix(rest, ":") {
			return nil, "", errors.NewFormatError("malformed compression header: "+header, nil)
		}
		algorithm = CompressionType(rest[1:])
	}

	out, err := cm.Decompress(data[nl+1:], algorithm)
	if err != nil {
		return nil, "", err
	}
	return out, algorithm, nil
}

// IsCompressed checks for the compression header
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(CompressedPrefix))
}

// ParseCompressionType validates a configured algorithm name
func ParseCompressionType(s string) (CompressionType, error) {
	switch t := CompressionType(strings.ToLower(s)); t {
	case "", CompressionTypeNone:
		return CompressionTypeNone, nil
	case CompressionTypeZlib, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd:
		return t, nil
	default:
		return "", errors.NewValidationError(fmt.Sprintf("unsupported compression algorithm: %s", s), nil)
	}
}

func compressionError(msg string, err error) error {
	return errors.NewAppError(errors.ErrorTypeFormat, msg, err)
}

// ZlibCompressor implements zlib, the format of older compressed archives
type ZlibCompressor struct{}

func (zc *ZlibCompressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, compressionError("failed to create zlib writer", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, compressionError("failed to write data to zlib writer", err)
	}

	if err := writer.Close(); err != nil {
		return nil, compressionError("failed to close zlib writer", err)
	}
	return buf.Bytes(), nil
}

func (zc *ZlibCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, compressionError("failed to create zlib reader", err)
	}
	defer reader.Close()

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, compressionError("failed to decompress zlib data", err)
	}
	return out, nil
}

func (zc *ZlibCompressor) GetAlgorithm() CompressionType { return CompressionTypeZlib }
func (zc *ZlibCompressor) GetDefaultLevel() int          { return 6 }
func (zc *ZlibCompressor) GetMaxLevel() int              { return zlib.BestCompression }
func (zc *ZlibCompressor) GetMinLevel() int              { return zlib.BestSpeed }

// GzipCompressor implements gzip compression
type GzipCompressor struct{}

func (gc *GzipCompressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, compressionError("failed to create gzip writer", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, compressionError("failed to write data to gzip writer", err)
	}

	if err := writer.Close(); err != nil {
		return nil, compressionError("failed to close gzip writer", err)
	}
	return buf.Bytes(), nil
}

func (gc *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, compressionError("failed to create gzip reader", err)
	}
	defer reader.Close()

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, compressionError("failed to decompress gzip data", err)
	}
	return out, nil
}

func (gc *GzipCompressor) GetAlgorithm() CompressionType { return CompressionTypeGzip }
func (gc *GzipCompressor) GetDefaultLevel() int          { return 6 }
func (gc *GzipCompressor) GetMaxLevel() int              { return gzip.BestCompression }
func (gc *GzipCompressor) GetMinLevel() int              { return gzip.BestSpeed }

// LZ4Compressor implements LZ4 compression
type LZ4Compressor struct{}

func (lc *LZ4Compressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)

	// LZ4 only distinguishes fast from high compression
	if level > 6 {
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, compressionError("failed to set LZ4 high compression", err)
		}
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, compressionError("failed to write data to LZ4 writer", err)
	}

	if err := writer.Close(); err != nil {
		return nil, compressionError("failed to close LZ4 writer", err)
	}
	return buf.Bytes(), nil
}

func (lc *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, compressionError("failed to decompress LZ4 data", err)
	}
	return out, nil
}

func (lc *LZ4Compressor) GetAlgorithm() CompressionType { return CompressionTypeLZ4 }
func (lc *LZ4Compressor) GetDefaultLevel() int          { return 1 }
func (lc *LZ4Compressor) GetMaxLevel() int              { return 12 }
func (lc *LZ4Compressor) GetMinLevel() int              { return 1 }

// ZstdCompressor implements Zstandard compression
type ZstdCompressor struct{}

func (zc *ZstdCompressor) Compress(data []byte, level int) ([]byte, error) {
	var encoderLevel zstd.EncoderLevel
	switch {
	case level <= 1:
		encoderLevel = zstd.SpeedFastest
	case level <= 3:
		encoderLevel = zstd.SpeedDefault
	case level <= 6:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel))
	if err != nil {
		return nil, compressionError("failed to create zstd encoder", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (zc *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, compressionError("failed to create zstd decoder", err)
	}
	defer decoder.Close()

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, compressionError("failed to decompress zstd data", err)
	}
	return out, nil
}

func (zc *ZstdCompressor) GetAlgorithm() CompressionType { return CompressionTypeZstd }
func (zc *ZstdCompressor) GetDefaultLevel() int          { return 3 }
func (zc *ZstdCompressor) GetMaxLevel() int              { return 22 }
func (zc *ZstdCompressor) GetMinLevel() int              { return 1 }
