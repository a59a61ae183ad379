package loader

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakeWasm = append([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, []byte("payload")...)

func writeArtifact(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestReadArtifactPlain(t *testing.T) {
	path := writeArtifact(t, "f.wasm", fakeWasm)
	got, err := readArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, fakeWasm, got)
}

func TestReadArtifactGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(fakeWasm)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	path := writeArtifact(t, "f.wasm.gz", buf.Bytes())
	got, err := readArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, fakeWasm, got)
}

func TestReadArtifactZstd(t *testing.T) {
	zw, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	path := writeArtifact(t, "f.wasm.zst", zw.EncodeAll(fakeWasm, nil))
	got, err := readArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, fakeWasm, got)
}

func TestReadArtifactNotWasm(t *testing.T) {
	path := writeArtifact(t, "f.txt", []byte("not wasm at all"))
	_, err := readArtifact(path)
	assert.ErrorContains(t, err, "not a wasm artifact")
}

func TestReadArtifactCompressedGarbage(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("still not wasm"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	path := writeArtifact(t, "f.gz", buf.Bytes())
	_, err = readArtifact(path)
	assert.ErrorContains(t, err, "not a wasm artifact")
}

func TestReadArtifactMissing(t *testing.T) {
	_, err := readArtifact(filepath.Join(t.TempDir(), "absent.wasm"))
	assert.Error(t, err)
}
