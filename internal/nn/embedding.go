package nn

import (
	"fmt"
	"math/rand"

	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// Embedding implements a token embedding lookup table.
//
// Maps integer token IDs to dense vectors:
//   - weight: [vocab_size, embedding_dim]
//   - input:  [batch_size, seq_len] of Int32 token IDs
//   - output: [batch_size, seq_len, embedding_dim]
type Embedding struct {
	vocabSize    int
	embeddingDim int
	weight       *Parameter
	backend      tensor.Backend
}

// NewEmbedding creates a new embedding table with weights drawn from
// a standard normal distribution scaled by 0.02, the common choice
// for token embeddings.
func NewEmbedding(vocabSize, embeddingDim int, backend tensor.Backend, rng *rand.Rand) *Embedding {
	weight := tensor.Randn(tensor.Shape{vocabSize, embeddingDim}, rng)
	data := weight.AsFloat32()
	for i := range data {
		data[i] *= 0.02
	}
	return &Embedding{
		vocabSize:    vocabSize,
		embeddingDim: embeddingDim,
		weight:       NewParameter("weight", weight),
		backend:      backend,
	}
}

// Forward looks up embeddings for the given token IDs.
//
// Input shape: [batch_size, seq_len] (Int32)
// Output shape: [batch_size, seq_len, embedding_dim]
func (e *Embedding) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	if input.DType() != tensor.Int32 {
		panic(fmt.Sprintf("Embedding.Forward: expected Int32 indices, got %v", input.DType()))
	}
	return e.backend.Embedding(e.weight.Tensor(), input)
}

// Parameters returns the embedding table as the single parameter.
func (e *Embedding) Parameters() []*Parameter {
	return []*Parameter{e.weight}
}

// Weight returns the embedding table parameter.
func (e *Embedding) Weight() *Parameter {
	return e.weight
}

// VocabSize returns the number of rows in the table.
func (e *Embedding) VocabSize() int {
	return e.vocabSize
}

// EmbeddingDim returns the embedding vector size.
func (e *Embedding) EmbeddingDim() int {
	return e.embeddingDim
}

// StateDict returns a map of parameter names to raw tensors.
func (e *Embedding) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{"weight": e.weight.Tensor()}
}

// LoadStateDict loads the embedding table from a state dictionary.
func (e *Embedding) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return loadParam(stateDict, "weight", e.weight, tensor.Shape{e.vocabSize, e.embeddingDim})
}
