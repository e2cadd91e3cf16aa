package encoder

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-ml/kotoba/internal/autodiff"
	"github.com/kotoba-ml/kotoba/internal/backend/cpu"
	"github.com/kotoba-ml/kotoba/internal/tensor"
)

func newTestEncoder(t *testing.T, backend tensor.Backend) *FFNEncoder {
	t.Helper()
	enc, err := New(Config{
		VocabSize: 64,
		HiddenDim: 8,
		FFNDim:    16,
		NumLayers: 3,
	}, backend, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	return enc
}

func batchInput(t *testing.T) (*tensor.RawTensor, *tensor.RawTensor) {
	t.Helper()
	ids, err := tensor.FromInt32Slice([]int32{1, 2, 3, 4, 5, 0}, tensor.Shape{2, 3})
	require.NoError(t, err)
	mask, err := tensor.FromSlice([]float32{1, 1, 1, 1, 1, 0}, tensor.Shape{2, 3})
	require.NoError(t, err)
	return ids, mask
}

func TestNew_RejectsBadConfig(t *testing.T) {
	backend := cpu.New()
	_, err := New(Config{VocabSize: 0, HiddenDim: 8, FFNDim: 16, NumLayers: 1}, backend, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
	_, err = New(Config{VocabSize: 10, HiddenDim: 8, FFNDim: 16, NumLayers: 0}, backend, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestForward_Shape(t *testing.T) {
	backend := autodiff.New(cpu.New())
	enc := newTestEncoder(t, backend)
	ids, mask := batchInput(t)

	out := enc.Forward(ids, mask)

	assert.Equal(t, tensor.Shape{2, 3, 8}, out.Shape())
}

func TestForward_FrozenEncoderRecordsNothing(t *testing.T) {
	backend := autodiff.New(cpu.New())
	enc := newTestEncoder(t, backend)
	ids, mask := batchInput(t)

	backend.Tape().StartRecording()
	enc.Forward(ids, mask)

	assert.True(t, backend.Tape().IsRecording(), "recording must be restored after Forward")
	assert.Equal(t, 0, backend.Tape().NumOps())
}

func TestForward_RecordsOnlyTrainableLayers(t *testing.T) {
	backend := autodiff.New(cpu.New())
	enc := newTestEncoder(t, backend)
	ids, mask := batchInput(t)

	enc.SetTrainableLayers(LastNLayers(enc.NumLayers(), 1))

	backend.Tape().StartRecording()
	enc.Forward(ids, mask)
	partialOps := backend.Tape().NumOps()
	require.Greater(t, partialOps, 0)

	backend.Tape().Clear()
	enc.SetTrainableLayers(LastNLayers(enc.NumLayers(), 3))
	enc.Forward(ids, mask)
	fullOps := backend.Tape().NumOps()

	assert.Greater(t, fullOps, partialOps, "more trainable layers must record more ops")
}

func TestTrainableParameters(t *testing.T) {
	backend := cpu.New()
	enc := newTestEncoder(t, backend)

	assert.Empty(t, enc.TrainableParameters(), "encoder starts fully frozen")

	enc.SetTrainableLayers(LastNLayers(enc.NumLayers(), 2))
	trainable := enc.TrainableParameters()
	assert.NotEmpty(t, trainable)

	// The embedding table never becomes trainable.
	for _, p := range trainable {
		assert.NotContains(t, p.Name(), "embedding")
	}
	assert.Less(t, len(trainable), len(enc.Parameters()))
}

func TestLastNLayers(t *testing.T) {
	assert.Equal(t, map[int]struct{}{4: {}, 5: {}}, LastNLayers(6, 2))
	assert.Empty(t, LastNLayers(6, 0))
	assert.Len(t, LastNLayers(3, 10), 3, "n larger than depth opens every layer")
}

func TestStateDict_Roundtrip(t *testing.T) {
	backend := cpu.New()
	src := newTestEncoder(t, backend)
	dst, err := New(Config{VocabSize: 64, HiddenDim: 8, FFNDim: 16, NumLayers: 3}, backend, rand.New(rand.NewSource(99)))
	require.NoError(t, err)

	state := src.StateDict()
	assert.Contains(t, state, "embedding.weight")
	assert.Contains(t, state, "layers.0.norm.gamma")
	require.NoError(t, dst.LoadStateDict(state))

	srcParams := src.Parameters()
	dstParams := dst.Parameters()
	require.Equal(t, len(srcParams), len(dstParams))
	for i := range srcParams {
		assert.Equal(t, srcParams[i].Tensor().AsFloat32(), dstParams[i].Tensor().AsFloat32())
	}
}

func TestLoadStateDict_RejectsWrongDepth(t *testing.T) {
	backend := cpu.New()
	enc := newTestEncoder(t, backend)

	shallow, err := New(Config{VocabSize: 64, HiddenDim: 8, FFNDim: 16, NumLayers: 1}, backend, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	err = enc.LoadStateDict(shallow.StateDict())
	assert.Error(t, err)
}
