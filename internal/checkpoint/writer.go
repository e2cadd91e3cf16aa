package checkpoint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/bytedance/sonic"

	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// fixedHeaderSize is magic + version + flags + header length.
const fixedHeaderSize = 4 + 4 + 4 + 8

// Write serializes a state dictionary to path.
//
// Tensors are written in sorted name order so identical state always
// produces an identical layout.
func Write(path string, stateDict map[string]*tensor.RawTensor, meta Meta) error {
	if len(stateDict) == 0 {
		return fmt.Errorf("checkpoint: state dictionary is empty")
	}
	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		names = append(names, name)
	}
	sort.Strings(names)

	header := Header{
		FormatVersion: FormatVersion,
		CreatedAt:     time.Now().UTC(),
		Epoch:         meta.Epoch,
		Loss:          meta.Loss,
		Metadata:      meta.Metadata,
		Tensors:       make([]TensorMeta, 0, len(names)),
	}

	var dataSize int64
	for _, name := range names {
		raw := stateDict[name]
		size := int64(raw.ByteSize())
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  dtypeToString(raw.DType()),
			Shape:  []int(raw.Shape()),
			Offset: dataSize,
			Size:   size,
		})
		dataSize += size
	}

	// Assemble the data section and checksum it before the header is
	// final, since the checksum lives in the header.
	data := make([]byte, 0, dataSize)
	for _, name := range names {
		data = append(data, stateDict[name].Data()...)
	}
	sum := sha256.Sum256(data)
	header.Checksum = hex.EncodeToString(sum[:])

	headerJSON, err := sonic.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(MagicBytes); err != nil {
		return fmt.Errorf("failed to write magic bytes: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, uint32(FormatVersion)); err != nil {
		return fmt.Errorf("failed to write version: %w", err)
	}
	flags := uint32(0)
	if len(meta.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	if err := binary.Write(file, binary.LittleEndian, flags); err != nil {
		return fmt.Errorf("failed to write flags: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := file.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	currentPos := int64(fixedHeaderSize) + int64(len(headerJSON))
	padding := (HeaderAlignment - (currentPos % HeaderAlignment)) % HeaderAlignment
	if padding > 0 {
		if _, err := file.Write(make([]byte, padding)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}
	return nil
}
