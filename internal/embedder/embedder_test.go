package embedder

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-ml/kotoba/internal/autodiff"
	"github.com/kotoba-ml/kotoba/internal/backend/cpu"
	"github.com/kotoba-ml/kotoba/internal/encoder"
	"github.com/kotoba-ml/kotoba/internal/tensor"
	"github.com/kotoba-ml/kotoba/internal/tokenizer"
)

// byteTokenizer maps each byte to its value plus one, keeping ID 0 free
// for padding. It avoids the network fetch a real encoding needs.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) ([]int32, error) {
	ids := make([]int32, 0, len(text))
	for _, b := range []byte(text) {
		ids = append(ids, int32(b)+1)
	}
	return ids, nil
}

func (byteTokenizer) Decode(tokens []int32) (string, error) {
	var sb strings.Builder
	for _, id := range tokens {
		if id > 0 {
			sb.WriteByte(byte(id - 1))
		}
	}
	return sb.String(), nil
}

func (byteTokenizer) VocabSize() int { return 257 }

func (byteTokenizer) PadToken() int32 { return 0 }

func newTestEmbedder(t *testing.T) (*SentenceEmbedder, *autodiff.Backend) {
	t.Helper()
	backend := autodiff.New(cpu.New())
	rng := rand.New(rand.NewSource(42))

	enc, err := encoder.New(encoder.Config{
		VocabSize: 257,
		HiddenDim: 16,
		FFNDim:    32,
		NumLayers: 2,
	}, backend, rng)
	require.NoError(t, err)

	emb, err := New(byteTokenizer{}, enc, Config{
		EmbeddingDim:     8,
		ProjectionHidden: 12,
		Dropout:          0.1,
		MaxLen:           32,
	}, backend, rng)
	require.NoError(t, err)
	return emb, backend
}

func fromSlice(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromSlice(data, shape)
	require.NoError(t, err)
	return raw
}

func TestMeanPool_IgnoresPadding(t *testing.T) {
	emb, _ := newTestEmbedder(t)

	// batch=1, seq=3, hidden=2; last position is padding with garbage values.
	hidden := fromSlice(t, []float32{1, 2, 3, 4, 999, 999}, tensor.Shape{1, 3, 2})
	mask := fromSlice(t, []float32{1, 1, 0}, tensor.Shape{1, 3})

	pooled := emb.MeanPool(hidden, mask)

	assert.Equal(t, tensor.Shape{1, 2}, pooled.Shape())
	assert.InDeltaSlice(t, []float32{2, 3}, pooled.AsFloat32(), 1e-5)
}

func TestMeanPool_AllPaddingYieldsZeros(t *testing.T) {
	emb, _ := newTestEmbedder(t)

	hidden := fromSlice(t, []float32{5, 5, 5, 5}, tensor.Shape{1, 2, 2})
	mask := fromSlice(t, []float32{0, 0}, tensor.Shape{1, 2})

	pooled := emb.MeanPool(hidden, mask)

	for _, v := range pooled.AsFloat32() {
		assert.False(t, math.IsNaN(float64(v)))
		assert.InDelta(t, 0, v, 1e-5)
	}
}

func TestEmbed_ProducesUnitVectors(t *testing.T) {
	emb, _ := newTestEmbedder(t)

	out, err := emb.EmbedTexts([]string{"hello world", "short"}, false)
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{2, 8}, out.Shape())

	data := out.AsFloat32()
	for row := 0; row < 2; row++ {
		var norm float64
		for _, v := range data[row*8 : (row+1)*8] {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4, "row %d", row)
	}
}

func TestEmbed_InferenceIsDeterministic(t *testing.T) {
	emb, _ := newTestEmbedder(t)

	first, err := emb.EmbedTexts([]string{"repeatable"}, false)
	require.NoError(t, err)
	second, err := emb.EmbedTexts([]string{"repeatable"}, false)
	require.NoError(t, err)

	assert.Equal(t, first.AsFloat32(), second.AsFloat32())
}

func TestEncode_PreservesInputOrder(t *testing.T) {
	emb, _ := newTestEmbedder(t)
	texts := []string{"alpha", "beta", "gamma", "delta", "epsilon"}

	// Batch size 2 forces chunking across three batches.
	chunked, err := emb.Encode(texts, 2)
	require.NoError(t, err)
	require.Len(t, chunked, len(texts))

	whole, err := emb.Encode(texts, 16)
	require.NoError(t, err)

	for i := range texts {
		assert.InDeltaSlice(t, whole[i], chunked[i], 1e-5, "text %q", texts[i])
	}
}

func TestEncode_LeavesTapeUntouched(t *testing.T) {
	emb, backend := newTestEmbedder(t)

	backend.Tape().StartRecording()
	_, err := emb.Encode([]string{"no trace"}, 1)
	require.NoError(t, err)

	assert.True(t, backend.Tape().IsRecording(), "recording must resume after Encode")
	assert.Equal(t, 0, backend.Tape().NumOps(), "inference must not record ops")
}

func TestEncode_RejectsBadBatchSize(t *testing.T) {
	emb, _ := newTestEmbedder(t)

	_, err := emb.Encode([]string{"x"}, 0)
	assert.Error(t, err)
}

func TestEncodeOne_MatchesBatch(t *testing.T) {
	emb, _ := newTestEmbedder(t)

	single, err := emb.EncodeOne("konnichiwa")
	require.NoError(t, err)

	batch, err := emb.Encode([]string{"konnichiwa"}, 4)
	require.NoError(t, err)

	assert.InDeltaSlice(t, batch[0], single, 1e-6)
	assert.Len(t, single, emb.EmbeddingDim())
}

func TestUnfreeze_OpensTrailingLayers(t *testing.T) {
	emb, _ := newTestEmbedder(t)

	assert.Empty(t, emb.Encoder().TrainableLayers())

	emb.Unfreeze(1)
	trainable := emb.Encoder().TrainableLayers()
	require.Len(t, trainable, 1)
	assert.Contains(t, trainable, 1)
}

func TestTraining_GradientsStopAtFrozenEncoder(t *testing.T) {
	emb, backend := newTestEmbedder(t)

	batch, err := tokenizer.EncodeBatch(byteTokenizer{}, []string{"freeze me"}, 32)
	require.NoError(t, err)

	backend.Tape().StartRecording()
	out := emb.Embed(batch, true)
	grads := backend.Tape().Backward(tensor.Ones(out.Shape().Clone()), backend)
	backend.Tape().StopRecording()

	for _, p := range emb.ProjectionParameters() {
		assert.NotNil(t, grads[p.Tensor()], "projection parameter %s must receive a gradient", p.Name())
	}
	for _, p := range emb.Encoder().Parameters() {
		assert.Nil(t, grads[p.Tensor()], "frozen encoder parameter %s must not receive a gradient", p.Name())
	}
}

func TestTraining_GradientsReachUnfrozenLayers(t *testing.T) {
	emb, backend := newTestEmbedder(t)
	emb.Unfreeze(1)

	batch, err := tokenizer.EncodeBatch(byteTokenizer{}, []string{"partial thaw"}, 32)
	require.NoError(t, err)

	backend.Tape().StartRecording()
	out := emb.Embed(batch, true)
	grads := backend.Tape().Backward(tensor.Ones(out.Shape().Clone()), backend)
	backend.Tape().StopRecording()

	unfrozen := emb.Encoder().(*encoder.FFNEncoder).TrainableParameters()
	require.NotEmpty(t, unfrozen)
	for _, p := range unfrozen {
		assert.NotNil(t, grads[p.Tensor()], "unfrozen parameter %s must receive a gradient", p.Name())
	}
}

func TestStateDict_Roundtrip(t *testing.T) {
	src, _ := newTestEmbedder(t)
	dst, _ := newTestEmbedder(t)

	// Different seeds would give identical weights here, so perturb the source.
	for _, p := range src.Parameters() {
		data := p.Tensor().AsFloat32()
		for i := range data {
			data[i] += 0.5
		}
	}

	require.NoError(t, dst.LoadStateDict(src.StateDict()))

	srcParams := src.Parameters()
	dstParams := dst.Parameters()
	require.Equal(t, len(srcParams), len(dstParams))
	for i := range srcParams {
		assert.Equal(t, srcParams[i].Tensor().AsFloat32(), dstParams[i].Tensor().AsFloat32())
	}
}
