package ops

import "github.com/kotoba-ml/kotoba/internal/tensor"

// EmbeddingOp represents a table lookup: output[b,s,:] = weight[indices[b,s],:].
//
// Backward pass: the gradient rows scatter-add back into the weight
// table. The integer indices receive no gradient.
type EmbeddingOp struct {
	weight  *tensor.RawTensor
	indices *tensor.RawTensor
	output  *tensor.RawTensor
}

// NewEmbeddingOp creates a new EmbeddingOp.
func NewEmbeddingOp(weight, indices, output *tensor.RawTensor) *EmbeddingOp {
	return &EmbeddingOp{weight: weight, indices: indices, output: output}
}

// Backward scatter-adds output gradient rows into a weight gradient.
// The indices slot is nil as integer inputs are not differentiable.
func (op *EmbeddingOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	weightGrad := zerosLike(op.weight.Shape().Clone())
	wData := weightGrad.AsFloat32()
	gData := outputGrad.AsFloat32()
	idx := op.indices.AsInt32()
	hidden := op.weight.Shape()[1]

	for i, id := range idx {
		dst := int(id) * hidden
		src := i * hidden
		for h := 0; h < hidden; h++ {
			wData[dst+h] += gData[src+h]
		}
	}
	return []*tensor.RawTensor{weightGrad, nil}
}

// Inputs returns [weight, indices].
func (op *EmbeddingOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.weight, op.indices}
}

// Output returns the gathered output tensor.
func (op *EmbeddingOp) Output() *tensor.RawTensor {
	return op.output
}
