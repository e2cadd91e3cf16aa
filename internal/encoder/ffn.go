package encoder

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/kotoba-ml/kotoba/internal/autodiff"
	"github.com/kotoba-ml/kotoba/internal/nn"
	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// recorder is satisfied by backends that carry a gradient tape. The
// encoder uses it to keep frozen layers out of the recorded graph.
type recorder interface {
	Tape() *autodiff.GradientTape
}

// Config holds the dimensions of an FFNEncoder.
type Config struct {
	VocabSize int // Token embedding rows
	HiddenDim int // Hidden state size
	FFNDim    int // Inner feed-forward size
	NumLayers int // Number of residual blocks
}

// block is one pre-norm residual feed-forward layer:
//
//	out = x + down(relu(up(norm(x))))
type block struct {
	norm *nn.LayerNorm
	up   *nn.Linear
	act  *nn.ReLU
	down *nn.Linear
}

func newBlock(hiddenDim, ffnDim int, backend tensor.Backend, rng *rand.Rand) *block {
	return &block{
		norm: nn.NewLayerNorm(hiddenDim, 1e-5, backend),
		up:   nn.NewLinear(hiddenDim, ffnDim, backend, rng),
		act:  nn.NewReLU(backend),
		down: nn.NewLinear(ffnDim, hiddenDim, backend, rng),
	}
}

func (b *block) forward(x *tensor.RawTensor, backend tensor.Backend) *tensor.RawTensor {
	h := b.norm.Forward(x)
	h = b.up.Forward(h)
	h = b.act.Forward(h)
	h = b.down.Forward(h)
	return backend.Add(x, h)
}

func (b *block) parameters() []*nn.Parameter {
	var params []*nn.Parameter
	params = append(params, b.norm.Parameters()...)
	params = append(params, b.up.Parameters()...)
	params = append(params, b.down.Parameters()...)
	return params
}

// FFNEncoder is a stack of residual feed-forward blocks over a token
// embedding table. It stands in for a pretrained transformer encoder:
// same interface, same freezing semantics, a fraction of the compute.
//
// Gradient flow is gated per layer. While the backend's tape is
// recording, operations of frozen layers are skipped on the tape, so
// their parameters never receive gradients and the optimizer leaves
// them untouched. The token embedding table is always frozen.
type FFNEncoder struct {
	cfg       Config
	embedding *nn.Embedding
	blocks    []*block
	trainable map[int]struct{}
	backend   tensor.Backend
}

// New creates an FFNEncoder with randomly initialized weights drawn
// from rng. The encoder starts with every layer frozen.
func New(cfg Config, backend tensor.Backend, rng *rand.Rand) (*FFNEncoder, error) {
	if cfg.VocabSize <= 0 || cfg.HiddenDim <= 0 || cfg.FFNDim <= 0 || cfg.NumLayers <= 0 {
		return nil, fmt.Errorf("encoder: all config dimensions must be positive, got %+v", cfg)
	}

	blocks := make([]*block, cfg.NumLayers)
	for i := range blocks {
		blocks[i] = newBlock(cfg.HiddenDim, cfg.FFNDim, backend, rng)
	}

	return &FFNEncoder{
		cfg:       cfg,
		embedding: nn.NewEmbedding(cfg.VocabSize, cfg.HiddenDim, backend, rng),
		blocks:    blocks,
		trainable: make(map[int]struct{}),
		backend:   backend,
	}, nil
}

// Forward computes hidden states for a batch of token IDs.
//
// The attention mask is accepted for interface compatibility; padding
// positions are excluded later during pooling rather than inside the
// feed-forward blocks.
func (e *FFNEncoder) Forward(ids, mask *tensor.RawTensor) *tensor.RawTensor {
	tape := e.tape()
	wasRecording := false
	if tape != nil {
		wasRecording = tape.IsRecording()
		// Frozen prefix of the stack runs off-tape. Recording resumes
		// at the first trainable layer.
		tape.StopRecording()
		defer func() {
			if wasRecording {
				tape.StartRecording()
			}
		}()
	}

	hidden := e.embedding.Forward(ids) // [batch, seq, hidden]
	shape := hidden.Shape().Clone()
	flat := e.backend.Reshape(hidden, tensor.Shape{shape[0] * shape[1], shape[2]})

	for i, blk := range e.blocks {
		if wasRecording && !tape.IsRecording() {
			if _, ok := e.trainable[i]; ok {
				tape.StartRecording()
			}
		}
		flat = blk.forward(flat, e.backend)
	}

	return e.backend.Reshape(flat, shape)
}

// tape returns the backend's gradient tape, or nil for plain backends.
func (e *FFNEncoder) tape() *autodiff.GradientTape {
	if rec, ok := e.backend.(recorder); ok {
		return rec.Tape()
	}
	return nil
}

// HiddenDim returns the hidden state size.
func (e *FFNEncoder) HiddenDim() int {
	return e.cfg.HiddenDim
}

// NumLayers returns the number of residual blocks.
func (e *FFNEncoder) NumLayers() int {
	return e.cfg.NumLayers
}

// SetTrainableLayers marks the given layer indices as trainable.
func (e *FFNEncoder) SetTrainableLayers(layers map[int]struct{}) {
	trainable := make(map[int]struct{}, len(layers))
	for i := range layers {
		if i >= 0 && i < e.cfg.NumLayers {
			trainable[i] = struct{}{}
		}
	}
	e.trainable = trainable
}

// TrainableLayers returns a copy of the trainable layer index set.
func (e *FFNEncoder) TrainableLayers() map[int]struct{} {
	layers := make(map[int]struct{}, len(e.trainable))
	for i := range e.trainable {
		layers[i] = struct{}{}
	}
	return layers
}

// TrainableParameters returns the parameters of trainable layers only.
func (e *FFNEncoder) TrainableParameters() []*nn.Parameter {
	var params []*nn.Parameter
	for i, blk := range e.blocks {
		if _, ok := e.trainable[i]; ok {
			params = append(params, blk.parameters()...)
		}
	}
	return params
}

// Parameters returns all encoder parameters, frozen and trainable.
func (e *FFNEncoder) Parameters() []*nn.Parameter {
	params := e.embedding.Parameters()
	for _, blk := range e.blocks {
		params = append(params, blk.parameters()...)
	}
	return params
}

// StateDict returns all encoder parameters by name.
func (e *FFNEncoder) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for name, t := range e.embedding.StateDict() {
		stateDict["embedding."+name] = t
	}
	for i, blk := range e.blocks {
		prefix := "layers." + strconv.Itoa(i) + "."
		for name, t := range blk.norm.StateDict() {
			stateDict[prefix+"norm."+name] = t
		}
		for name, t := range blk.up.StateDict() {
			stateDict[prefix+"up."+name] = t
		}
		for name, t := range blk.down.StateDict() {
			stateDict[prefix+"down."+name] = t
		}
	}
	return stateDict
}

// LoadStateDict restores encoder parameters from a state dictionary.
func (e *FFNEncoder) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := e.embedding.LoadStateDict(subDict(stateDict, "embedding.")); err != nil {
		return fmt.Errorf("encoder embedding: %w", err)
	}
	for i, blk := range e.blocks {
		prefix := "layers." + strconv.Itoa(i) + "."
		if err := blk.norm.LoadStateDict(subDict(stateDict, prefix+"norm.")); err != nil {
			return fmt.Errorf("encoder layer %d norm: %w", i, err)
		}
		if err := blk.up.LoadStateDict(subDict(stateDict, prefix+"up.")); err != nil {
			return fmt.Errorf("encoder layer %d up: %w", i, err)
		}
		if err := blk.down.LoadStateDict(subDict(stateDict, prefix+"down.")); err != nil {
			return fmt.Errorf("encoder layer %d down: %w", i, err)
		}
	}
	return nil
}

// subDict extracts the entries under prefix with the prefix stripped.
func subDict(stateDict map[string]*tensor.RawTensor, prefix string) map[string]*tensor.RawTensor {
	sub := make(map[string]*tensor.RawTensor)
	for name, t := range stateDict {
		if strings.HasPrefix(name, prefix) {
			sub[strings.TrimPrefix(name, prefix)] = t
		}
	}
	return sub
}
