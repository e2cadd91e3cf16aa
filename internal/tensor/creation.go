package tensor

import (
	"fmt"
	"math/rand"
)

// Zeros creates a Float32 tensor filled with zeros.
func Zeros(shape Shape) *RawTensor {
	t, err := NewRaw(shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("tensor.Zeros: %v", err))
	}
	return t
}

// Ones creates a Float32 tensor filled with ones.
func Ones(shape Shape) *RawTensor {
	return Full(shape, 1.0)
}

// Full creates a Float32 tensor filled with a specific value.
func Full(shape Shape, value float32) *RawTensor {
	t, err := NewRaw(shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("tensor.Full: %v", err))
	}
	data := t.AsFloat32()
	for i := range data {
		data[i] = value
	}
	return t
}

// Randn creates a Float32 tensor with values drawn from N(0, 1).
func Randn(shape Shape, rng *rand.Rand) *RawTensor {
	t, err := NewRaw(shape, Float32)
	if err != nil {
		panic(fmt.Sprintf("tensor.Randn: %v", err))
	}
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	return t
}

// FromSlice creates a Float32 tensor from a Go slice.
//
// The data is copied; the tensor does not alias the input slice.
func FromSlice(data []float32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	t, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	copy(t.AsFloat32(), data)
	return t, nil
}

// FromInt32Slice creates an Int32 tensor from a Go slice.
func FromInt32Slice(data []int32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	t, err := NewRaw(shape, Int32)
	if err != nil {
		return nil, err
	}
	copy(t.AsInt32(), data)
	return t, nil
}
