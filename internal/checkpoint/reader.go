package checkpoint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/bytedance/sonic"

	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// Read loads a state dictionary and its metadata from path.
//
// The data section checksum is verified; a corrupted file fails
// rather than loading partial weights.
func Read(path string) (map[string]*tensor.RawTensor, Meta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if len(raw) < fixedHeaderSize {
		return nil, Meta{}, fmt.Errorf("checkpoint %s truncated: %d bytes", path, len(raw))
	}
	if string(raw[:4]) != MagicBytes {
		return nil, Meta{}, fmt.Errorf("checkpoint %s: bad magic %q", path, raw[:4])
	}
	version := binary.LittleEndian.Uint32(raw[4:8])
	if version != FormatVersion {
		return nil, Meta{}, fmt.Errorf("checkpoint %s: unsupported format version %d", path, version)
	}
	headerSize := binary.LittleEndian.Uint64(raw[12:20])
	// Compare against the remaining bytes rather than computing the end
	// offset first; a crafted header size near max uint64 would wrap
	// the addition past the bounds check.
	if headerSize > uint64(len(raw))-fixedHeaderSize {
		return nil, Meta{}, fmt.Errorf("checkpoint %s: header size %d exceeds file", path, headerSize)
	}
	headerEnd := uint64(fixedHeaderSize) + headerSize

	var header Header
	if err := sonic.Unmarshal(raw[fixedHeaderSize:headerEnd], &header); err != nil {
		return nil, Meta{}, fmt.Errorf("checkpoint %s: parsing header: %w", path, err)
	}

	dataStart := headerEnd + (HeaderAlignment-headerEnd%HeaderAlignment)%HeaderAlignment
	if dataStart > uint64(len(raw)) {
		return nil, Meta{}, fmt.Errorf("checkpoint %s: data section missing", path)
	}
	data := raw[dataStart:]

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != header.Checksum {
		return nil, Meta{}, fmt.Errorf("checkpoint %s: checksum mismatch", path)
	}

	stateDict := make(map[string]*tensor.RawTensor, len(header.Tensors))
	for _, tm := range header.Tensors {
		dtype, ok := stringToDtype(tm.DType)
		if !ok {
			return nil, Meta{}, fmt.Errorf("checkpoint %s: tensor %s has unknown dtype %q", path, tm.Name, tm.DType)
		}
		if tm.Offset < 0 || tm.Size < 0 || tm.Size > int64(len(data))-tm.Offset {
			return nil, Meta{}, fmt.Errorf("checkpoint %s: tensor %s blob out of bounds", path, tm.Name)
		}

		// Validate the declared shape against the blob size before
		// allocating, so a crafted header cannot request an absurd
		// allocation.
		elems := int64(1)
		for _, d := range tm.Shape {
			if d <= 0 || elems > int64(len(data))/int64(d) {
				return nil, Meta{}, fmt.Errorf("checkpoint %s: tensor %s has invalid shape %v", path, tm.Name, tm.Shape)
			}
			elems *= int64(d)
		}
		if elems*int64(dtype.Size()) != tm.Size {
			return nil, Meta{}, fmt.Errorf("checkpoint %s: tensor %s size %d does not match shape %v",
				path, tm.Name, tm.Size, tm.Shape)
		}

		t, err := tensor.NewRaw(tensor.Shape(tm.Shape), dtype)
		if err != nil {
			return nil, Meta{}, fmt.Errorf("checkpoint %s: tensor %s: %w", path, tm.Name, err)
		}
		copy(t.Data(), data[tm.Offset:tm.Offset+tm.Size])
		stateDict[tm.Name] = t
	}

	meta := Meta{
		Epoch:    header.Epoch,
		Loss:     header.Loss,
		Metadata: header.Metadata,
	}
	return stateDict, meta, nil
}
