// Package nn implements neural network modules for the kotoba embedder.
//
// This package provides the building blocks of the embedding network:
//   - Module interface: Base interface for all NN components
//   - Parameter: Trainable parameters
//   - Linear: Fully connected layer
//   - Embedding: Token lookup table
//   - LayerNorm, ReLU, Dropout
//   - ContrastiveLoss: Similarity-based pair loss
//   - Sequential: Container for stacking layers
//
// Design inspired by PyTorch's nn.Module but adapted for Go.
package nn

import (
	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Every NN module must implement:
//   - Forward: Compute output from input
//   - Parameters: Return all trainable parameters
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential(
//	    nn.NewLinear(768, 512, backend, rng),
//	    nn.NewReLU(backend),
//	    nn.NewLinear(512, 384, backend, rng),
//	)
type Module interface {
	// Forward computes the output of the module given an input tensor.
	//
	// The input tensor should have the appropriate shape for this module.
	// For example, Linear expects [batch_size, in_features].
	Forward(input *tensor.RawTensor) *tensor.RawTensor

	// Parameters returns all trainable parameters of this module.
	//
	// This includes weights, biases, and any nested module parameters.
	// Returns an empty slice for modules without trainable parameters
	// (e.g., activation functions).
	Parameters() []*Parameter
}

// StatefulModule is implemented by modules whose parameters can be
// exported to and restored from a state dictionary.
type StatefulModule interface {
	Module

	// StateDict returns a map of parameter names to raw tensors.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict copies values from a state dictionary into this
	// module's parameters. Shapes and dtypes must match exactly.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// TrainableModule is implemented by modules that behave differently
// during training and inference, such as Dropout.
type TrainableModule interface {
	// SetTraining switches the module between training and inference mode.
	SetTraining(training bool)
}
