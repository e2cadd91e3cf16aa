// Package tensor provides the core tensor types for the kotoba training stack.
package tensor

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for tensors.
//
// The training pipeline only needs two: Float32 for activations,
// parameters and masks, Int32 for token ids.
const (
	Float32 DataType = iota
	Int32
)

// Size returns the size of one element in bytes.
func (d DataType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	default:
		return 0
	}
}

// String returns a human-readable name.
func (d DataType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}

// ParseDataType converts a serialized name back to a DataType.
func ParseDataType(s string) (DataType, bool) {
	switch s {
	case "float32":
		return Float32, true
	case "int32":
		return Int32, true
	default:
		return 0, false
	}
}
