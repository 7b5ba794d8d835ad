package cache

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// CompressionOptions tune variant compression. Payloads below MinBytes are
// stored raw — gzip overhead beats the savings on tiny bodies.
type CompressionOptions struct {
	Enabled  bool
	MinBytes int
}

// item is one queued variant, possibly gzip-compressed.
type item struct {
	data    []byte
	gzipped bool
}

// newItem stores body, compressing when enabled and worthwhile.
func newItem(body string, opts CompressionOptions) (item, error) {
	raw := []byte(body)
	minBytes := opts.MinBytes
	if minBytes <= 0 {
		minBytes = 1024
	}
	if !opts.Enabled || len(raw) < minBytes {
		return item{data: raw}, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return item{}, fmt.Errorf("compress variant: %w", err)
	}
	if err := zw.Close(); err != nil {
		return item{}, fmt.Errorf("compress variant: %w", err)
	}
	if buf.Len() >= len(raw) {
		// Incompressible payload; keep the original.
		return item{data: raw}, nil
	}
	return item{data: buf.Bytes(), gzipped: true}, nil
}

// open returns the stored body, decompressing when needed.
func (it item) open() (string, error) {
	if !it.gzipped {
		return string(it.data), nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(it.data))
	if err != nil {
		return "", fmt.Errorf("decompress variant: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("decompress variant: %w", err)
	}
	return string(raw), nil
}
