package checkpoint

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-ml/kotoba/internal/tensor"
)

func sampleState(t *testing.T) map[string]*tensor.RawTensor {
	t.Helper()
	weight, err := tensor.FromSlice([]float32{1.5, -2.5, 3.25, 0}, tensor.Shape{2, 2})
	require.NoError(t, err)
	bias, err := tensor.FromSlice([]float32{0.1, 0.2}, tensor.Shape{2})
	require.NoError(t, err)
	ids, err := tensor.FromInt32Slice([]int32{7, 8, 9}, tensor.Shape{3})
	require.NoError(t, err)
	return map[string]*tensor.RawTensor{
		"projection.0.weight": weight,
		"projection.0.bias":   bias,
		"vocab.ids":           ids,
	}
}

func TestWriteRead_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ktba")
	state := sampleState(t)
	meta := Meta{
		Epoch:    3,
		Loss:     0.123,
		Metadata: map[string]string{"encoder_frozen": "true"},
	}

	require.NoError(t, Write(path, state, meta))

	loaded, loadedMeta, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, meta.Epoch, loadedMeta.Epoch)
	assert.InDelta(t, meta.Loss, loadedMeta.Loss, 1e-12)
	assert.Equal(t, "true", loadedMeta.Metadata["encoder_frozen"])

	require.Len(t, loaded, len(state))
	for name, want := range state {
		got, ok := loaded[name]
		require.True(t, ok, "missing tensor %s", name)
		assert.Equal(t, want.Shape(), got.Shape())
		assert.Equal(t, want.DType(), got.DType())
		assert.Equal(t, want.Data(), got.Data())
	}
}

func TestRead_RejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.ktba")
	require.NoError(t, os.WriteFile(path, []byte("not a checkpoint at all, just text padding"), 0o644))

	_, _, err := Read(path)
	assert.Error(t, err)
}

func TestRead_DetectsCorruptedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ktba")
	require.NoError(t, Write(path, sampleState(t), Meta{Epoch: 1, Loss: 1.0}))

	// Flip a byte near the end of the file, inside the data section.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, _, err = Read(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

// writeCraftedFile assembles a checkpoint file by hand so tests can
// inject header values the writer would never produce.
func writeCraftedFile(t *testing.T, path string, headerSize uint64, headerJSON, data []byte) {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(MagicBytes)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(FormatVersion)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(0)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, headerSize))
	buf.Write(headerJSON)
	for buf.Len()%HeaderAlignment != 0 {
		buf.WriteByte(0)
	}
	buf.Write(data)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestRead_RejectsOverflowingHeaderSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crafted.ktba")
	// A header size near max uint64 would wrap the end-offset addition
	// past the bounds check if added before validation.
	writeCraftedFile(t, path, ^uint64(0)-8, nil, nil)

	_, _, err := Read(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header size")
}

func TestRead_RejectsAbsurdTensorShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crafted.ktba")

	// Header declares a shape far larger than the 8-byte blob backing
	// it; Read must reject it before allocating.
	data := make([]byte, 8)
	sum := sha256.Sum256(data)
	header := Header{
		FormatVersion: FormatVersion,
		CreatedAt:     time.Now().UTC(),
		Tensors: []TensorMeta{{
			Name:   "w",
			DType:  "float32",
			Shape:  []int{1 << 40, 1 << 40},
			Offset: 0,
			Size:   8,
		}},
		Checksum: hex.EncodeToString(sum[:]),
	}
	headerJSON, err := sonic.Marshal(header)
	require.NoError(t, err)
	writeCraftedFile(t, path, uint64(len(headerJSON)), headerJSON, data)

	_, _, err = Read(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid shape")
}

func TestRead_RejectsNegativeTensorBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crafted.ktba")

	data := make([]byte, 4)
	sum := sha256.Sum256(data)
	header := Header{
		FormatVersion: FormatVersion,
		CreatedAt:     time.Now().UTC(),
		Tensors: []TensorMeta{{
			Name:   "w",
			DType:  "float32",
			Shape:  []int{1},
			Offset: -4,
			Size:   4,
		}},
		Checksum: hex.EncodeToString(sum[:]),
	}
	headerJSON, err := sonic.Marshal(header)
	require.NoError(t, err)
	writeCraftedFile(t, path, uint64(len(headerJSON)), headerJSON, data)

	_, _, err = Read(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of bounds")
}

func TestStore_SaveLoadExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints", "best.ktba")
	store, err := NewStore(path)
	require.NoError(t, err)

	assert.False(t, store.Exists())
	assert.Equal(t, path, store.Path())

	require.NoError(t, store.Save(sampleState(t), Meta{Epoch: 0, Loss: 0.9}))
	assert.True(t, store.Exists())

	_, meta, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, meta.Epoch)
}

func TestStore_OverwriteKeepsLatest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "best.ktba")
	store, err := NewStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(sampleState(t), Meta{Epoch: 0, Loss: 0.9}))
	require.NoError(t, store.Save(sampleState(t), Meta{Epoch: 4, Loss: 0.4}))

	_, meta, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 4, meta.Epoch)
	assert.InDelta(t, 0.4, meta.Loss, 1e-12)
}

func TestStore_NoStrayTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "best.ktba"))
	require.NoError(t, err)
	require.NoError(t, store.Save(sampleState(t), Meta{Epoch: 0, Loss: 0.5}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "best.ktba", entries[0].Name())
}

func TestWrite_EmptyStateDict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.ktba")
	err := Write(path, map[string]*tensor.RawTensor{}, Meta{})
	assert.Error(t, err)
}
