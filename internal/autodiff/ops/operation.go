// Package ops defines operation interfaces and implementations for
// automatic differentiation.
//
// Each operation records its inputs and output during the forward pass
// and computes input gradients during the backward pass. The op set
// covers exactly what the embedding pipeline differentiates through:
// the broadcasting binary ops, matrix multiplication, the reductions,
// ReLU, Rsqrt/Sqrt, the scalar ops and embedding lookup.
package ops

import "github.com/kotoba-ml/kotoba/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// Returns a slice of gradients corresponding to each input tensor;
	// entries may be nil for inputs that do not receive gradients
	// (e.g. the index tensor of an embedding lookup).
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}
