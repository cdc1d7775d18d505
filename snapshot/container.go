// Package snapshot implements the durable on-disk representation of an
// index generation: a pair of checksummed, optionally compressed blobs
// plus a JSON manifest that describes and publishes them.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType defines the compression algorithm used for blob bodies.
type CompressionType uint8

const (
	// CompressionNone indicates no compression.
	CompressionNone CompressionType = 0
	// CompressionLZ4 indicates LZ4 block compression (fast, lower ratio).
	CompressionLZ4 CompressionType = 1
	// CompressionZSTD indicates ZSTD compression (slower, better ratio).
	CompressionZSTD CompressionType = 2
)

// String returns the manifest spelling of the compression type.
func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses the manifest spelling of a compression type.
func ParseCompression(s string) (CompressionType, error) {
	switch s {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %q", s)
	}
}

const (
	blobMagic      = "VRS1"
	blobVersion    = uint16(1)
	blobHeaderSize = 20

	// maxBlobPayload bounds decode-side allocations when reading
	// untrusted blob headers.
	maxBlobPayload = 1 << 36
)

// Blob container layout (little-endian):
//
//	[0:4]   magic "VRS1"
//	[4:6]   format version (uint16)
//	[6]     compression type (uint8)
//	[7]     reserved
//	[8:16]  uncompressed payload size (uint64)
//	[16:20] CRC32 (IEEE) of the encoded body
//	[20:]   body
//
// The checksum covers the encoded body so corruption is detected before
// any decompression work happens.

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}

	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}

	dec, _ := zstd.NewReader(nil)

	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// EncodeBlob wraps a payload in the blob container, compressing the body
// with the requested algorithm. If compression does not shrink the
// payload, the body is stored uncompressed and the header records
// CompressionNone.
func EncodeBlob(payload []byte, compression CompressionType) ([]byte, error) {
	body := payload
	effective := CompressionNone

	switch compression {
	case CompressionNone:
	case CompressionLZ4:
		compressed, err := compressLZ4(payload)
		if err != nil {
			return nil, err
		}

		if compressed != nil && len(compressed) < len(payload) {
			body = compressed
			effective = CompressionLZ4
		}
	case CompressionZSTD:
		compressed := compressZSTD(payload)
		if len(compressed) < len(payload) {
			body = compressed
			effective = CompressionZSTD
		}
	default:
		return nil, fmt.Errorf("unsupported compression type: %d", compression)
	}

	blob := make([]byte, blobHeaderSize+len(body))
	copy(blob[0:4], blobMagic)
	binary.LittleEndian.PutUint16(blob[4:6], blobVersion)
	blob[6] = uint8(effective)
	binary.LittleEndian.PutUint64(blob[8:16], uint64(len(payload)))
	binary.LittleEndian.PutUint32(blob[16:20], crc32.ChecksumIEEE(body))
	copy(blob[blobHeaderSize:], body)

	return blob, nil
}

// DecodeBlob verifies a blob container and returns the decompressed
// payload. A checksum failure is reported as *ChecksumMismatchError.
func DecodeBlob(blob []byte) ([]byte, error) {
	if len(blob) < blobHeaderSize {
		return nil, fmt.Errorf("snapshot blob too small: %d bytes", len(blob))
	}

	if string(blob[0:4]) != blobMagic {
		return nil, fmt.Errorf("invalid snapshot blob magic: %q", blob[0:4])
	}

	if v := binary.LittleEndian.Uint16(blob[4:6]); v != blobVersion {
		return nil, fmt.Errorf("unsupported snapshot blob version: %d", v)
	}

	compression := CompressionType(blob[6])

	rawSize := binary.LittleEndian.Uint64(blob[8:16])
	if rawSize > maxBlobPayload {
		return nil, fmt.Errorf("snapshot blob payload size %d exceeds limit", rawSize)
	}

	expected := binary.LittleEndian.Uint32(blob[16:20])
	body := blob[blobHeaderSize:]

	if actual := crc32.ChecksumIEEE(body); actual != expected {
		return nil, &ChecksumMismatchError{Expected: expected, Actual: actual}
	}

	switch compression {
	case CompressionNone:
		if uint64(len(body)) != rawSize {
			return nil, fmt.Errorf("snapshot blob payload size mismatch: header %d, body %d", rawSize, len(body))
		}

		return body, nil
	case CompressionLZ4:
		payload := make([]byte, rawSize)

		n, err := lz4.UncompressBlock(body, payload)
		if err != nil {
			return nil, fmt.Errorf("decompress lz4: %w", err)
		}

		if uint64(n) != rawSize {
			return nil, fmt.Errorf("snapshot blob payload size mismatch: header %d, decompressed %d", rawSize, n)
		}

		return payload, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		payload, err := dec.DecodeAll(body, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("decompress zstd: %w", err)
		}

		if uint64(len(payload)) != rawSize {
			return nil, fmt.Errorf("snapshot blob payload size mismatch: header %d, decompressed %d", rawSize, len(payload))
		}

		return payload, nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %d", compression)
	}
}

// blobCompression reports the effective compression recorded in an
// encoded blob's header.
func blobCompression(blob []byte) CompressionType {
	if len(blob) < blobHeaderSize {
		return CompressionNone
	}

	return CompressionType(blob[6])
}

func compressLZ4(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(data)))

	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, err
	}

	if n == 0 {
		return nil, nil // Incompressible
	}

	return compressed[:n], nil
}

func compressZSTD(data []byte) []byte {
	enc := getZstdEncoder()
	defer putZstdEncoder(enc)

	return enc.EncodeAll(data, nil)
}

// ChecksumMismatchError is returned when blob checksum verification fails.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// IsChecksumMismatch returns true if err is a checksum mismatch error.
func IsChecksumMismatch(err error) bool {
	var cme *ChecksumMismatchError
	return errors.As(err, &cme)
}
