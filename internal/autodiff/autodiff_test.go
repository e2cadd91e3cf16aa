package autodiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-ml/kotoba/internal/backend/cpu"
	"github.com/kotoba-ml/kotoba/internal/tensor"
)

func fromSlice(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromSlice(data, shape)
	require.NoError(t, err)
	return raw
}

func TestRecording_OnlyWhileEnabled(t *testing.T) {
	backend := New(cpu.New())
	a := fromSlice(t, []float32{1, 2}, tensor.Shape{2})
	b := fromSlice(t, []float32{3, 4}, tensor.Shape{2})

	backend.Add(a, b)
	assert.Equal(t, 0, backend.Tape().NumOps(), "ops must not record before StartRecording")

	backend.Tape().StartRecording()
	backend.Add(a, b)
	assert.Equal(t, 1, backend.Tape().NumOps())

	backend.Tape().StopRecording()
	backend.Add(a, b)
	assert.Equal(t, 1, backend.Tape().NumOps())

	backend.Tape().Clear()
	assert.Equal(t, 0, backend.Tape().NumOps())
}

func TestBackward_MulSquare(t *testing.T) {
	backend := New(cpu.New())
	x := fromSlice(t, []float32{2, -3}, tensor.Shape{2})

	backend.Tape().StartRecording()
	y := backend.Sum(backend.Mul(x, x)) // y = sum(x²)
	grads := backend.Tape().Backward(tensor.Ones(tensor.Shape{1}), backend)

	require.NotNil(t, grads[x])
	// dy/dx = 2x
	assert.InDeltaSlice(t, []float32{4, -6}, grads[x].AsFloat32(), 1e-5)
	_ = y
}

func TestBackward_AccumulatesSharedInput(t *testing.T) {
	backend := New(cpu.New())
	x := fromSlice(t, []float32{5}, tensor.Shape{1})

	backend.Tape().StartRecording()
	backend.Sum(backend.Add(x, x)) // y = 2x
	grads := backend.Tape().Backward(tensor.Ones(tensor.Shape{1}), backend)

	require.NotNil(t, grads[x])
	assert.InDelta(t, 2.0, grads[x].AsFloat32()[0], 1e-6)
}

func TestBackward_BroadcastReducesGrad(t *testing.T) {
	backend := New(cpu.New())
	a := fromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	bias := fromSlice(t, []float32{10, 20, 30}, tensor.Shape{1, 3})

	backend.Tape().StartRecording()
	backend.Sum(backend.Add(a, bias))
	grads := backend.Tape().Backward(tensor.Ones(tensor.Shape{1}), backend)

	require.NotNil(t, grads[bias])
	assert.Equal(t, tensor.Shape{1, 3}, grads[bias].Shape())
	// Each bias element feeds 2 output rows.
	assert.InDeltaSlice(t, []float32{2, 2, 2}, grads[bias].AsFloat32(), 1e-5)
}

func TestBackward_MatMul(t *testing.T) {
	backend := New(cpu.New())
	a := fromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	b := fromSlice(t, []float32{5, 6, 7, 8}, tensor.Shape{2, 2})

	backend.Tape().StartRecording()
	backend.Sum(backend.MatMul(a, b))
	grads := backend.Tape().Backward(tensor.Ones(tensor.Shape{1}), backend)

	// dL/dA = ones @ Bᵀ, dL/dB = Aᵀ @ ones
	assert.InDeltaSlice(t, []float32{11, 15, 11, 15}, grads[a].AsFloat32(), 1e-5)
	assert.InDeltaSlice(t, []float32{4, 4, 6, 6}, grads[b].AsFloat32(), 1e-5)
}

func TestBackward_ReLUMasksGrad(t *testing.T) {
	backend := New(cpu.New())
	x := fromSlice(t, []float32{-1, 0, 2}, tensor.Shape{3})

	backend.Tape().StartRecording()
	backend.Sum(backend.ReLU(x))
	grads := backend.Tape().Backward(tensor.Ones(tensor.Shape{1}), backend)

	assert.InDeltaSlice(t, []float32{0, 0, 1}, grads[x].AsFloat32(), 1e-6)
}

func TestBackward_MaximumScalarMasksGrad(t *testing.T) {
	backend := New(cpu.New())
	x := fromSlice(t, []float32{0.5, 2}, tensor.Shape{2})

	backend.Tape().StartRecording()
	backend.Sum(backend.MaximumScalar(x, 1))
	grads := backend.Tape().Backward(tensor.Ones(tensor.Shape{1}), backend)

	// Gradient flows only where x exceeded the clamp.
	assert.InDeltaSlice(t, []float32{0, 1}, grads[x].AsFloat32(), 1e-6)
}

func TestBackward_SumDimExpandsGrad(t *testing.T) {
	backend := New(cpu.New())
	x := fromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})

	backend.Tape().StartRecording()
	summed := backend.SumDim(x, 1, false) // [2]
	backend.Sum(backend.Mul(summed, summed))
	grads := backend.Tape().Backward(tensor.Ones(tensor.Shape{1}), backend)

	// d/dx sum_i (sum_j x_ij)² = 2 * rowsum_i for every j
	assert.InDeltaSlice(t, []float32{12, 12, 12, 30, 30, 30}, grads[x].AsFloat32(), 1e-4)
}

func TestBackward_MeanDim(t *testing.T) {
	backend := New(cpu.New())
	x := fromSlice(t, []float32{3, 6, 9}, tensor.Shape{1, 3})

	backend.Tape().StartRecording()
	backend.Sum(backend.MeanDim(x, -1, true))
	grads := backend.Tape().Backward(tensor.Ones(tensor.Shape{1}), backend)

	assert.InDeltaSlice(t, []float32{1.0 / 3, 1.0 / 3, 1.0 / 3}, grads[x].AsFloat32(), 1e-6)
}

func TestBackward_DivQuotientRule(t *testing.T) {
	backend := New(cpu.New())
	a := fromSlice(t, []float32{6}, tensor.Shape{1})
	b := fromSlice(t, []float32{2}, tensor.Shape{1})

	backend.Tape().StartRecording()
	backend.Sum(backend.Div(a, b))
	grads := backend.Tape().Backward(tensor.Ones(tensor.Shape{1}), backend)

	assert.InDelta(t, 0.5, grads[a].AsFloat32()[0], 1e-6)   // 1/b
	assert.InDelta(t, -1.5, grads[b].AsFloat32()[0], 1e-6)  // -a/b²
}

func TestBackward_Rsqrt(t *testing.T) {
	backend := New(cpu.New())
	x := fromSlice(t, []float32{4}, tensor.Shape{1})

	backend.Tape().StartRecording()
	backend.Sum(backend.Rsqrt(x))
	grads := backend.Tape().Backward(tensor.Ones(tensor.Shape{1}), backend)

	// d(x^-1/2)/dx = -0.5 * x^-3/2 = -0.5 * 1/8 = -0.0625
	assert.InDelta(t, -0.0625, grads[x].AsFloat32()[0], 1e-6)
}

func TestBackward_EmbeddingScatterAdds(t *testing.T) {
	backend := New(cpu.New())
	weight := fromSlice(t, []float32{1, 1, 2, 2, 3, 3}, tensor.Shape{3, 2})
	indices, err := tensor.FromInt32Slice([]int32{1, 1, 0}, tensor.Shape{1, 3})
	require.NoError(t, err)

	backend.Tape().StartRecording()
	backend.Sum(backend.Embedding(weight, indices))
	grads := backend.Tape().Backward(tensor.Ones(tensor.Shape{1}), backend)

	require.NotNil(t, grads[weight])
	// Row 1 was gathered twice, row 0 once, row 2 never.
	assert.InDeltaSlice(t, []float32{1, 1, 2, 2, 0, 0}, grads[weight].AsFloat32(), 1e-6)
	assert.Nil(t, grads[indices], "integer indices must not receive gradients")
}

func TestBackward_TransposeAndReshape(t *testing.T) {
	backend := New(cpu.New())
	x := fromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})

	backend.Tape().StartRecording()
	flat := backend.Reshape(backend.Transpose(x), tensor.Shape{6})
	backend.Sum(backend.Mul(flat, flat))
	grads := backend.Tape().Backward(tensor.Ones(tensor.Shape{1}), backend)

	require.NotNil(t, grads[x])
	assert.Equal(t, tensor.Shape{2, 3}, grads[x].Shape())
	assert.InDeltaSlice(t, []float32{2, 4, 6, 8, 10, 12}, grads[x].AsFloat32(), 1e-5)
}

// TestBackward_NumericalCheck verifies a composite expression against
// finite differences.
func TestBackward_NumericalCheck(t *testing.T) {
	loss := func(backend tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
		// f(x) = sum(relu(x) * x + 3x)
		return backend.Sum(backend.Add(
			backend.Mul(backend.ReLU(x), x),
			backend.MulScalar(x, 3),
		))
	}

	backend := New(cpu.New())
	x := fromSlice(t, []float32{-1.5, 0.5, 2}, tensor.Shape{3})

	backend.Tape().StartRecording()
	loss(backend, x)
	grads := backend.Tape().Backward(tensor.Ones(tensor.Shape{1}), backend)
	backend.Tape().StopRecording()
	require.NotNil(t, grads[x])

	const h = 1e-3
	inner := cpu.New()
	for i := range x.AsFloat32() {
		orig := x.AsFloat32()[i]
		x.AsFloat32()[i] = orig + h
		plus := loss(inner, x).AsFloat32()[0]
		x.AsFloat32()[i] = orig - h
		minus := loss(inner, x).AsFloat32()[0]
		x.AsFloat32()[i] = orig

		numeric := (plus - minus) / (2 * h)
		assert.InDelta(t, numeric, grads[x].AsFloat32()[i], 1e-2, "element %d", i)
	}
}
