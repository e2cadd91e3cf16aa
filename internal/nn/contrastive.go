package nn

import (
	"fmt"

	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// ContrastiveLoss measures how well paired sentence embeddings agree
// with their labels.
//
// Given L2-normalized embeddings a and b with shape [batch, dim] and
// labels in {0, 1} with shape [batch]:
//
//	sim      = sum(a * b, dim=1)                  // cosine similarity
//	positive = label * (1 - sim)²                  // pull pairs together
//	negative = (1 - label) * max(sim, 0)²          // push pairs apart
//	loss     = mean(positive + negative)
//
// A temperature below 1 sharpens the similarity before the loss is
// applied. The default temperature of 1 leaves similarities unchanged.
type ContrastiveLoss struct {
	Temperature float32
	backend     tensor.Backend
}

// NewContrastiveLoss creates a contrastive loss with the given
// temperature. Temperature must be positive; use 1 for the plain loss.
func NewContrastiveLoss(temperature float32, backend tensor.Backend) *ContrastiveLoss {
	if temperature <= 0 {
		panic(fmt.Sprintf("ContrastiveLoss: temperature must be positive, got %v", temperature))
	}
	return &ContrastiveLoss{Temperature: temperature, backend: backend}
}

// Forward computes the scalar loss for a batch of embedding pairs.
//
// Shapes:
//   - a, b: [batch, dim], expected to be L2-normalized
//   - labels: [batch] with values 0 or 1
//
// Returns a [1] tensor holding the mean loss.
func (c *ContrastiveLoss) Forward(a, b, labels *tensor.RawTensor) *tensor.RawTensor {
	if !a.Shape().Equal(b.Shape()) {
		panic(fmt.Sprintf("ContrastiveLoss: embedding shapes differ: %v vs %v", a.Shape(), b.Shape()))
	}
	batch := a.Shape()[0]
	if labels.NumElements() != batch {
		panic(fmt.Sprintf("ContrastiveLoss: expected %d labels, got %d", batch, labels.NumElements()))
	}

	be := c.backend

	// Cosine similarity per pair: [batch]
	sim := be.SumDim(be.Mul(a, b), 1, false)
	if c.Temperature != 1 {
		sim = be.MulScalar(sim, 1/c.Temperature)
	}

	ones := tensor.Ones(tensor.Shape{batch})

	// label * (1 - sim)²
	oneMinusSim := be.Sub(ones, sim)
	positive := be.Mul(labels, be.Mul(oneMinusSim, oneMinusSim))

	// (1 - label) * max(sim, 0)²
	clamped := be.ReLU(sim)
	negative := be.Mul(be.Sub(ones, labels), be.Mul(clamped, clamped))

	total := be.Sum(be.Add(positive, negative))
	return be.MulScalar(total, 1/float32(batch))
}

// Parameters returns an empty slice (the loss has no trainable parameters).
func (c *ContrastiveLoss) Parameters() []*Parameter {
	return nil
}
