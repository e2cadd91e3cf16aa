package nn

import (
	"fmt"

	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// LayerNorm applies Layer Normalization over the last dimension.
//
// Formula: Y = gamma * (X - mean(X)) / sqrt(var(X) + eps) + beta
//
// Where:
//   - gamma is the learnable scale parameter [d_model]
//   - beta is the learnable shift parameter [d_model]
//   - mean and variance are computed along the last dimension
//   - eps is a small value to avoid division by zero
//
// LayerNorm normalizes activations by computing statistics across
// features, which stabilizes training of deep networks.
type LayerNorm struct {
	Gamma   *Parameter // learnable scale [d_model]
	Beta    *Parameter // learnable shift [d_model]
	Epsilon float32    // numerical stability constant
	backend tensor.Backend
}

// NewLayerNorm creates a new LayerNorm layer over the given feature size.
//
// The gamma parameter is initialized to ones, beta to zeros. epsilon is
// typically 1e-5.
func NewLayerNorm(normalizedShape int, epsilon float32, backend tensor.Backend) *LayerNorm {
	return &LayerNorm{
		Gamma:   NewParameter("gamma", tensor.Ones(tensor.Shape{normalizedShape})),
		Beta:    NewParameter("beta", tensor.Zeros(tensor.Shape{normalizedShape})),
		Epsilon: epsilon,
		backend: backend,
	}
}

// Forward applies LayerNorm to the input tensor.
//
// Shapes:
//   - input: [..., d_model]
//   - output: [..., d_model]
//
// Algorithm:
//  1. mean = mean(x) along last dimension (keepdim)
//  2. x_centered = x - mean
//  3. variance = mean(x_centered²) along last dimension
//  4. x_norm = x_centered * rsqrt(variance + epsilon)
//  5. output = gamma * x_norm + beta
func (l *LayerNorm) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	mean := l.backend.MeanDim(x, -1, true)
	xCentered := l.backend.Sub(x, mean)

	variance := l.backend.MeanDim(l.backend.Mul(xCentered, xCentered), -1, true)
	rsqrt := l.backend.Rsqrt(l.backend.AddScalar(variance, l.Epsilon))
	xNorm := l.backend.Mul(xCentered, rsqrt)

	// gamma and beta are [d_model]; broadcasting aligns them with the
	// trailing dimension of any input rank.
	return l.backend.Add(l.backend.Mul(xNorm, l.Gamma.Tensor()), l.Beta.Tensor())
}

// Parameters returns the learnable parameters (gamma and beta).
func (l *LayerNorm) Parameters() []*Parameter {
	return []*Parameter{l.Gamma, l.Beta}
}

// StateDict returns a map of parameter names to raw tensors.
func (l *LayerNorm) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{
		"gamma": l.Gamma.Tensor(),
		"beta":  l.Beta.Tensor(),
	}
}

// LoadStateDict loads parameters from a state dictionary.
func (l *LayerNorm) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	d := l.Gamma.Tensor().NumElements()
	expected := tensor.Shape{d}
	if err := loadParam(stateDict, "gamma", l.Gamma, expected); err != nil {
		return fmt.Errorf("layernorm: %w", err)
	}
	if err := loadParam(stateDict, "beta", l.Beta, expected); err != nil {
		return fmt.Errorf("layernorm: %w", err)
	}
	return nil
}
