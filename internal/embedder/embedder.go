// Package embedder turns raw text into fixed-size, L2-normalized
// sentence embeddings.
//
// The pipeline wraps a pretrained token encoder and owns everything
// after it: masked mean pooling over token hidden states, a trainable
// projection head down to the embedding dimension, and final L2
// normalization so dot product equals cosine similarity.
package embedder

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/kotoba-ml/kotoba/internal/autodiff"
	"github.com/kotoba-ml/kotoba/internal/encoder"
	"github.com/kotoba-ml/kotoba/internal/nn"
	"github.com/kotoba-ml/kotoba/internal/tensor"
	"github.com/kotoba-ml/kotoba/internal/tokenizer"
)

const (
	// poolingEpsilon guards the pooling denominator against an
	// all-zero attention mask.
	poolingEpsilon = 1e-9
	// normEpsilon keeps L2 normalization finite for zero vectors.
	normEpsilon = 1e-12
)

// recorder is satisfied by backends that carry a gradient tape.
type recorder interface {
	Tape() *autodiff.GradientTape
}

// Config holds the projection head dimensions and tokenization limits.
type Config struct {
	EmbeddingDim     int     // Final sentence embedding size (e.g. 384)
	ProjectionHidden int     // Inner projection layer size (e.g. 512)
	Dropout          float32 // Dropout probability in the projection head
	MaxLen           int     // Maximum tokens per text before truncation
}

// SentenceEmbedder maps text to unit-length sentence vectors.
//
// The underlying encoder starts frozen; only the projection head
// trains until Unfreeze opens the encoder's top layers.
type SentenceEmbedder struct {
	tok        tokenizer.Tokenizer
	enc        encoder.Encoder
	projection *nn.Sequential
	cfg        Config
	backend    tensor.Backend
}

// New creates a SentenceEmbedder over the given tokenizer and encoder.
//
// The projection head is linear -> ReLU -> dropout -> linear ->
// layernorm, initialized from rng.
func New(tok tokenizer.Tokenizer, enc encoder.Encoder, cfg Config, backend tensor.Backend, rng *rand.Rand) (*SentenceEmbedder, error) {
	if cfg.EmbeddingDim <= 0 || cfg.ProjectionHidden <= 0 || cfg.MaxLen <= 0 {
		return nil, fmt.Errorf("embedder: dimensions and max length must be positive, got %+v", cfg)
	}

	projection := nn.NewSequential(
		nn.NewLinear(enc.HiddenDim(), cfg.ProjectionHidden, backend, rng),
		nn.NewReLU(backend),
		nn.NewDropout(cfg.Dropout, backend, rng),
		nn.NewLinear(cfg.ProjectionHidden, cfg.EmbeddingDim, backend, rng),
		nn.NewLayerNorm(cfg.EmbeddingDim, 1e-5, backend),
	)

	return &SentenceEmbedder{
		tok:        tok,
		enc:        enc,
		projection: projection,
		cfg:        cfg,
		backend:    backend,
	}, nil
}

// MeanPool computes the masked average of token embeddings.
//
// Shapes:
//   - hidden: [batch, seq, hidden_dim]
//   - mask: [batch, seq] with 1 at real tokens and 0 at padding
//   - output: [batch, hidden_dim]
//
// Padding positions contribute nothing regardless of their hidden
// values, and the denominator is clamped so an all-zero mask yields a
// zero vector instead of NaN.
func (s *SentenceEmbedder) MeanPool(hidden, mask *tensor.RawTensor) *tensor.RawTensor {
	be := s.backend
	shape := hidden.Shape()
	maskExp := be.Reshape(mask, tensor.Shape{shape[0], shape[1], 1})

	masked := be.Mul(hidden, maskExp)
	summed := be.SumDim(masked, 1, false)                         // [batch, hidden_dim]
	counts := be.MaximumScalar(be.SumDim(maskExp, 1, false), poolingEpsilon) // [batch, 1]
	return be.Div(summed, counts)
}

// l2Normalize scales each row of x to unit Euclidean length.
func (s *SentenceEmbedder) l2Normalize(x *tensor.RawTensor) *tensor.RawTensor {
	be := s.backend
	sq := be.SumDim(be.Mul(x, x), 1, true) // [batch, 1]
	return be.Mul(x, be.Rsqrt(be.MaximumScalar(sq, normEpsilon)))
}

// Embed runs the full pipeline on an already-tokenized batch.
//
// training controls dropout in the projection head. Returns
// [batch, embedding_dim] unit-length embeddings.
func (s *SentenceEmbedder) Embed(batch *tokenizer.Batch, training bool) *tensor.RawTensor {
	s.projection.SetTraining(training)
	hidden := s.enc.Forward(batch.IDs, batch.Mask)
	pooled := s.MeanPool(hidden, batch.Mask)
	projected := s.projection.Forward(pooled)
	return s.l2Normalize(projected)
}

// EmbedTexts tokenizes texts and runs the full pipeline.
func (s *SentenceEmbedder) EmbedTexts(texts []string, training bool) (*tensor.RawTensor, error) {
	batch, err := tokenizer.EncodeBatch(s.tok, texts, s.cfg.MaxLen)
	if err != nil {
		return nil, err
	}
	return s.Embed(batch, training), nil
}

// Encode embeds texts in inference mode, chunked into batches of
// batchSize, and returns one vector per input text in input order.
//
// Gradient recording is suspended for the whole call, so Encode can
// run inside a training process without touching the tape.
func (s *SentenceEmbedder) Encode(texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("embedder: batch size must be positive, got %d", batchSize)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	if rec, ok := s.backend.(recorder); ok {
		tape := rec.Tape()
		if tape.IsRecording() {
			tape.StopRecording()
			defer tape.StartRecording()
		}
	}

	result := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		embeddings, err := s.EmbedTexts(texts[start:end], false)
		if err != nil {
			return nil, err
		}
		data := embeddings.AsFloat32()
		dim := s.cfg.EmbeddingDim
		for i := 0; i < end-start; i++ {
			vec := make([]float32, dim)
			copy(vec, data[i*dim:(i+1)*dim])
			result = append(result, vec)
		}
	}
	return result, nil
}

// EncodeOne embeds a single text by wrapping it as a one-element batch.
func (s *SentenceEmbedder) EncodeOne(text string) ([]float32, error) {
	vecs, err := s.Encode([]string{text}, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Unfreeze marks the last n encoder layers trainable. The rest of the
// encoder, including the token embedding table, stays frozen.
func (s *SentenceEmbedder) Unfreeze(lastN int) {
	s.enc.SetTrainableLayers(encoder.LastNLayers(s.enc.NumLayers(), lastN))
}

// Encoder returns the wrapped encoder.
func (s *SentenceEmbedder) Encoder() encoder.Encoder {
	return s.enc
}

// EmbeddingDim returns the final embedding size.
func (s *SentenceEmbedder) EmbeddingDim() int {
	return s.cfg.EmbeddingDim
}

// Parameters returns every parameter of the model, projection head
// and encoder alike. The optimizer skips whatever is frozen because
// frozen parameters never appear in the gradient map.
func (s *SentenceEmbedder) Parameters() []*nn.Parameter {
	params := s.projection.Parameters()
	return append(params, s.enc.Parameters()...)
}

// ProjectionParameters returns the projection head parameters, which
// are trainable for the entire run.
func (s *SentenceEmbedder) ProjectionParameters() []*nn.Parameter {
	return s.projection.Parameters()
}

// StateDict returns the full model state with "projection." and
// "encoder." prefixes.
func (s *SentenceEmbedder) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for name, t := range s.projection.StateDict() {
		stateDict["projection."+name] = t
	}
	for name, t := range s.enc.StateDict() {
		stateDict["encoder."+name] = t
	}
	return stateDict
}

// LoadStateDict restores the full model state from a checkpoint's
// state dictionary.
func (s *SentenceEmbedder) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	projDict := make(map[string]*tensor.RawTensor)
	encDict := make(map[string]*tensor.RawTensor)
	for name, t := range stateDict {
		switch {
		case strings.HasPrefix(name, "projection."):
			projDict[strings.TrimPrefix(name, "projection.")] = t
		case strings.HasPrefix(name, "encoder."):
			encDict[strings.TrimPrefix(name, "encoder.")] = t
		}
	}
	if err := s.projection.LoadStateDict(projDict); err != nil {
		return fmt.Errorf("embedder projection: %w", err)
	}
	if err := s.enc.LoadStateDict(encDict); err != nil {
		return fmt.Errorf("embedder encoder: %w", err)
	}
	return nil
}
