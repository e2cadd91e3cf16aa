package nn

import (
	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// ReLU implements the Rectified Linear Unit activation function.
//
// Formula: f(x) = max(0, x)
type ReLU struct {
	backend tensor.Backend
}

// NewReLU creates a new ReLU activation module.
func NewReLU(backend tensor.Backend) *ReLU {
	return &ReLU{backend: backend}
}

// Forward applies ReLU element-wise.
func (r *ReLU) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	return r.backend.ReLU(input)
}

// Parameters returns an empty slice (ReLU has no trainable parameters).
func (r *ReLU) Parameters() []*Parameter {
	return nil
}
