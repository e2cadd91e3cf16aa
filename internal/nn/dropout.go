package nn

import (
	"fmt"
	"math/rand"

	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// Dropout randomly zeroes elements of the input during training with
// probability p, scaling the survivors by 1/(1-p) so the expected
// activation magnitude is unchanged (inverted dropout).
//
// During inference the module is the identity function.
//
// The mask is built as a constant tensor and applied with an
// element-wise multiply, so the backward pass blocks gradient flow
// through dropped elements without a dedicated operation.
type Dropout struct {
	p        float32
	training bool
	rng      *rand.Rand
	backend  tensor.Backend
}

// NewDropout creates a new Dropout module with drop probability p in [0, 1).
func NewDropout(p float32, backend tensor.Backend, rng *rand.Rand) *Dropout {
	if p < 0 || p >= 1 {
		panic(fmt.Sprintf("Dropout: probability must be in [0, 1), got %v", p))
	}
	return &Dropout{
		p:        p,
		training: true,
		rng:      rng,
		backend:  backend,
	}
}

// SetTraining switches between training (masking) and inference
// (identity) behavior.
func (d *Dropout) SetTraining(training bool) {
	d.training = training
}

// Training reports whether the module is in training mode.
func (d *Dropout) Training() bool {
	return d.training
}

// Forward applies the dropout mask in training mode and is the
// identity in inference mode.
func (d *Dropout) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	if !d.training || d.p == 0 {
		return input
	}

	keepScale := 1.0 / (1.0 - d.p)
	mask := tensor.Zeros(input.Shape().Clone())
	maskData := mask.AsFloat32()
	for i := range maskData {
		if d.rng.Float64() >= float64(d.p) {
			maskData[i] = keepScale
		}
	}
	return d.backend.Mul(input, mask)
}

// Parameters returns an empty slice (Dropout has no trainable parameters).
func (d *Dropout) Parameters() []*Parameter {
	return nil
}
