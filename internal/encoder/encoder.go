// Package encoder provides the pretrained text encoder whose hidden
// states the sentence embedder pools and projects.
//
// The encoder starts fully frozen: its parameters are excluded from
// gradient computation until layers are explicitly marked trainable.
// Unfreezing is layer-granular so fine-tuning can start with the top
// of the stack while the bottom keeps its pretrained weights.
package encoder

import (
	"github.com/kotoba-ml/kotoba/internal/nn"
	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// Encoder produces contextual hidden states for tokenized text.
type Encoder interface {
	// Forward computes hidden states for a batch of token IDs.
	//
	// Shapes:
	//   - ids: [batch, seq_len] Int32 token IDs
	//   - mask: [batch, seq_len] Float32 attention mask
	//   - output: [batch, seq_len, hidden_dim]
	Forward(ids, mask *tensor.RawTensor) *tensor.RawTensor

	// HiddenDim returns the size of the hidden state vectors.
	HiddenDim() int

	// NumLayers returns the number of encoder layers.
	NumLayers() int

	// SetTrainableLayers marks the given layer indices as trainable.
	// All other layers, and the token embedding table, stay frozen.
	// Only trailing layer sets propagate gradients correctly, which is
	// what LastNLayers produces.
	SetTrainableLayers(layers map[int]struct{})

	// TrainableLayers returns the currently trainable layer indices.
	TrainableLayers() map[int]struct{}

	// Parameters returns all encoder parameters, frozen and trainable.
	Parameters() []*nn.Parameter

	// StateDict returns all encoder parameters by name.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict restores encoder parameters from a state dictionary.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// LastNLayers returns the trailing n layer indices of a stack with
// numLayers layers. n larger than numLayers selects every layer.
func LastNLayers(numLayers, n int) map[int]struct{} {
	if n > numLayers {
		n = numLayers
	}
	layers := make(map[int]struct{}, n)
	for i := numLayers - n; i < numLayers; i++ {
		layers[i] = struct{}{}
	}
	return layers
}
