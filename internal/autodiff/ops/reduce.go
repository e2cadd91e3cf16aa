package ops

import (
	"fmt"

	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// SumOp represents a full reduction to a scalar: output = sum(x).
//
// Backward pass: every input element receives the scalar gradient.
type SumOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewSumOp creates a new SumOp.
func NewSumOp(input, output *tensor.RawTensor) *SumOp {
	return &SumOp{input: input, output: output}
}

// Backward broadcasts the scalar gradient to the input shape.
func (op *SumOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	g := outputGrad.AsFloat32()[0]
	grad := zerosLike(op.input.Shape())
	data := grad.AsFloat32()
	for i := range data {
		data[i] = g
	}
	return []*tensor.RawTensor{grad}
}

// Inputs returns the input tensor [x].
func (op *SumOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the scalar output tensor.
func (op *SumOp) Output() *tensor.RawTensor {
	return op.output
}

// SumDimOp represents a reduction along a single dimension.
//
// Backward pass: the gradient of each output element is replicated
// across the reduced dimension of the input.
type SumDimOp struct {
	input   *tensor.RawTensor
	output  *tensor.RawTensor
	dim     int
	keepDim bool
}

// NewSumDimOp creates a new SumDimOp. dim must already be normalized
// to a non-negative index.
func NewSumDimOp(input, output *tensor.RawTensor, dim int, keepDim bool) *SumDimOp {
	return &SumDimOp{input: input, output: output, dim: dim, keepDim: keepDim}
}

// Backward expands the output gradient along the reduced dimension.
func (op *SumDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{expandAlongDim(outputGrad, op.input.Shape(), op.dim, 1)}
}

// Inputs returns the input tensor [x].
func (op *SumDimOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the reduced output tensor.
func (op *SumDimOp) Output() *tensor.RawTensor {
	return op.output
}

// MeanDimOp represents a mean reduction along a single dimension.
//
// Backward pass: like SumDimOp but scaled by 1/n where n is the size
// of the reduced dimension.
type MeanDimOp struct {
	input   *tensor.RawTensor
	output  *tensor.RawTensor
	dim     int
	keepDim bool
}

// NewMeanDimOp creates a new MeanDimOp. dim must already be normalized
// to a non-negative index.
func NewMeanDimOp(input, output *tensor.RawTensor, dim int, keepDim bool) *MeanDimOp {
	return &MeanDimOp{input: input, output: output, dim: dim, keepDim: keepDim}
}

// Backward expands the scaled output gradient along the reduced dimension.
func (op *MeanDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	n := op.input.Shape()[op.dim]
	scale := float32(1.0) / float32(n)
	return []*tensor.RawTensor{expandAlongDim(outputGrad, op.input.Shape(), op.dim, scale)}
}

// Inputs returns the input tensor [x].
func (op *MeanDimOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the reduced output tensor.
func (op *MeanDimOp) Output() *tensor.RawTensor {
	return op.output
}

// expandAlongDim replicates grad across dimension dim of targetShape,
// scaling each element by scale. grad may have the reduced dimension
// kept as size 1 or dropped entirely; either layout enumerates
// elements in the same order.
func expandAlongDim(grad *tensor.RawTensor, targetShape tensor.Shape, dim int, scale float32) *tensor.RawTensor {
	out := zerosLike(targetShape.Clone())
	outData := out.AsFloat32()
	gradData := grad.AsFloat32()

	outer := 1
	for i := 0; i < dim; i++ {
		outer *= targetShape[i]
	}
	dimSize := targetShape[dim]
	inner := 1
	for i := dim + 1; i < len(targetShape); i++ {
		inner *= targetShape[i]
	}

	if len(gradData) != outer*inner {
		panic(fmt.Sprintf("autodiff: gradient size %d does not match reduced size %d",
			len(gradData), outer*inner))
	}

	for o := 0; o < outer; o++ {
		for d := 0; d < dimSize; d++ {
			base := (o*dimSize + d) * inner
			gBase := o * inner
			for i := 0; i < inner; i++ {
				outData[base+i] = gradData[gBase+i] * scale
			}
		}
	}
	return out
}
