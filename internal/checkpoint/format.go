// Package checkpoint persists model state dictionaries in a binary
// container and manages the single "best so far" checkpoint slot.
//
// File layout:
//
//	[4 bytes]  magic "KTBA"
//	[4 bytes]  format version (uint32, little-endian)
//	[4 bytes]  flags (uint32, little-endian)
//	[8 bytes]  header size (uint64, little-endian)
//	[N bytes]  JSON header
//	[padding]  zero bytes up to a 64-byte boundary
//	[data]     tensor blobs at the offsets recorded in the header
//
// The header stores the SHA-256 checksum of the data section, verified
// on load.
package checkpoint

import (
	"time"

	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// Format constants.
const (
	MagicBytes      = "KTBA"
	FormatVersion   = 1
	HeaderAlignment = 64 // Align tensor data to 64 bytes
)

// Data type string constants for serialization.
const (
	DTypeFloat32 = "float32"
	DTypeInt32   = "int32"
)

// Flags for the checkpoint format.
const (
	FlagHasMetadata uint32 = 1 << 0 // bit 0: custom metadata included
)

// Header is the JSON header of a checkpoint file.
type Header struct {
	FormatVersion int               `json:"format_version"`
	CreatedAt     time.Time         `json:"created_at"`
	Epoch         int               `json:"epoch"`
	Loss          float64           `json:"loss"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Tensors       []TensorMeta      `json:"tensors"`
	Checksum      string            `json:"checksum"` // SHA-256 of the data section, hex
}

// TensorMeta describes one tensor blob in the data section.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // Bytes from the start of the data section
	Size   int64  `json:"size"`
}

// Meta carries the training state recorded alongside the tensors.
type Meta struct {
	Epoch    int
	Loss     float64
	Metadata map[string]string
}

// dtypeToString converts tensor.DataType to its serialized name.
func dtypeToString(dt tensor.DataType) string {
	switch dt {
	case tensor.Float32:
		return DTypeFloat32
	case tensor.Int32:
		return DTypeInt32
	default:
		return "unknown"
	}
}

// stringToDtype converts a serialized name back to tensor.DataType.
func stringToDtype(s string) (tensor.DataType, bool) {
	switch s {
	case DTypeFloat32:
		return tensor.Float32, true
	case DTypeInt32:
		return tensor.Int32, true
	default:
		return 0, false
	}
}
