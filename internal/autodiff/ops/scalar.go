package ops

import "github.com/kotoba-ml/kotoba/internal/tensor"

// AddScalarOp represents element-wise scalar addition: output = x + s.
// The scalar is a constant, so the gradient passes through unchanged.
type AddScalarOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewAddScalarOp creates a new AddScalarOp.
func NewAddScalarOp(input, output *tensor.RawTensor) *AddScalarOp {
	return &AddScalarOp{input: input, output: output}
}

// Backward passes the output gradient through unchanged.
func (op *AddScalarOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad}
}

// Inputs returns the input tensor [x].
func (op *AddScalarOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor x + s.
func (op *AddScalarOp) Output() *tensor.RawTensor {
	return op.output
}

// MulScalarOp represents element-wise scalar multiplication: output = x * s.
//
// Backward pass: grad = outputGrad * s.
type MulScalarOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
	scalar float32
}

// NewMulScalarOp creates a new MulScalarOp.
func NewMulScalarOp(input, output *tensor.RawTensor, scalar float32) *MulScalarOp {
	return &MulScalarOp{input: input, output: output, scalar: scalar}
}

// Backward scales the output gradient by the constant factor.
func (op *MulScalarOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.MulScalar(outputGrad, op.scalar)}
}

// Inputs returns the input tensor [x].
func (op *MulScalarOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor x * s.
func (op *MulScalarOp) Output() *tensor.RawTensor {
	return op.output
}

// MaximumScalarOp represents element-wise clamping from below:
// output = max(x, s).
//
// Backward pass: the gradient flows only where x > s. At x == s the
// subgradient is taken as zero.
type MaximumScalarOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
	scalar float32
}

// NewMaximumScalarOp creates a new MaximumScalarOp.
func NewMaximumScalarOp(input, output *tensor.RawTensor, scalar float32) *MaximumScalarOp {
	return &MaximumScalarOp{input: input, output: output, scalar: scalar}
}

// Backward masks the gradient to elements where the input exceeded
// the threshold.
func (op *MaximumScalarOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	mask := zerosLike(op.input.Shape())
	in := op.input.AsFloat32()
	m := mask.AsFloat32()
	for i, v := range in {
		if v > op.scalar {
			m[i] = 1
		}
	}
	return []*tensor.RawTensor{backend.Mul(outputGrad, mask)}
}

// Inputs returns the input tensor [x].
func (op *MaximumScalarOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor max(x, s).
func (op *MaximumScalarOp) Output() *tensor.RawTensor {
	return op.output
}
