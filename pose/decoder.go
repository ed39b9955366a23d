package pose

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
)

// maxDecodedBytes caps decompressed payloads to guard against zip bombs.
var maxDecodedBytes int64 = 64 << 20

// ErrFrameTooLarge is returned when a compressed frame inflates past the limit.
var ErrFrameTooLarge = errors.New("decompressed frame exceeds limit")

// DecodeFrame decodes a correspondence frame from the payload formats seen on
// the wire:
// - Raw JSON (starts with '{')
// - Gzip-compressed JSON
// - Zlib-compressed JSON
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}

	var jsonBytes []byte
	var err error

	switch {
	case data[0] == '{':
		jsonBytes = data
	case IsGzip(data):
		jsonBytes, err = inflateGzip(data)
		if err != nil {
			return nil, err
		}
	default:
		jsonBytes, err = inflateZlib(data)
		if errors.Is(err, ErrFrameTooLarge) {
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("unknown format: not JSON, gzip, or zlib-compressed")
		}
	}

	if len(jsonBytes) == 0 {
		return nil, fmt.Errorf("decoded JSON payload is empty")
	}
	return ParseFrameJSON(jsonBytes)
}

// IsGzip checks for the gzip magic bytes
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// inflateZlib decompresses zlib-compressed data
func inflateZlib(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	decompressed, err := readLimited(reader, maxDecodedBytes)
	if err != nil {
		return nil, fmt.Errorf("decompressing zlib data: %w", err)
	}
	return decompressed, nil
}

// inflateGzip decompresses gzip-compressed data
func inflateGzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	decompressed, err := readLimited(reader, maxDecodedBytes)
	if err != nil {
		return nil, fmt.Errorf("decompressing gzip data: %w", err)
	}
	return decompressed, nil
}

// readLimited reads at most limit bytes, failing rather than truncating.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, limit)
	}
	return data, nil
}
