package loader

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// readArtifact reads a wasm artifact from the filesystem, transparently
// decompressing gzip- or zstd-wrapped artifacts by magic-number sniff.
func readArtifact(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch {
	case bytes.HasPrefix(raw, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip artifact: %w", err)
		}
		defer zr.Close()
		if raw, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("gzip artifact: %w", err)
		}
	case bytes.HasPrefix(raw, zstdMagic):
		zr, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("zstd artifact: %w", err)
		}
		defer zr.Close()
		if raw, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("zstd artifact: %w", err)
		}
	}
	if !bytes.HasPrefix(raw, wasmMagic) {
		return nil, fmt.Errorf("%s is not a wasm artifact", path)
	}
	return raw, nil
}
