package nn

import (
	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// Parameters are tensors that the optimizer updates during training.
// They typically represent weights and biases of layers. Gradients are
// looked up by tensor identity in the gradient map returned by the
// tape's backward pass.
type Parameter struct {
	name   string // Parameter name (e.g., "weight", "bias")
	tensor *tensor.RawTensor
}

// NewParameter creates a new trainable parameter.
//
// The parameter tensor should be initialized before creating the Parameter.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return &Parameter{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.RawTensor {
	return p.tensor
}

// NumElements returns the number of scalar values in the parameter.
func (p *Parameter) NumElements() int {
	return p.tensor.NumElements()
}
