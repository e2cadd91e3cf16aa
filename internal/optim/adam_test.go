package optim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-ml/kotoba/internal/nn"
	"github.com/kotoba-ml/kotoba/internal/tensor"
)

func newParam(t *testing.T, name string, data []float32) *nn.Parameter {
	t.Helper()
	raw, err := tensor.FromSlice(data, tensor.Shape{len(data)})
	require.NoError(t, err)
	return nn.NewParameter(name, raw)
}

func constGrad(t *testing.T, value float32, n int) *tensor.RawTensor {
	t.Helper()
	data := make([]float32, n)
	for i := range data {
		data[i] = value
	}
	raw, err := tensor.FromSlice(data, tensor.Shape{n})
	require.NoError(t, err)
	return raw
}

func TestAdam_Defaults(t *testing.T) {
	adam := NewAdam(nil, AdamConfig{})
	assert.InDelta(t, 0.001, adam.GetLR(), 1e-9)
}

func TestAdam_FirstStepMovesByLR(t *testing.T) {
	param := newParam(t, "w", []float32{1, 1})
	adam := NewAdam([]*nn.Parameter{param}, AdamConfig{LR: 0.1})

	grads := map[*tensor.RawTensor]*tensor.RawTensor{
		param.Tensor(): constGrad(t, 0.5, 2),
	}
	adam.Step(grads)

	// After bias correction the first update is lr * sign(grad).
	assert.InDeltaSlice(t, []float32{0.9, 0.9}, param.Tensor().AsFloat32(), 1e-4)
	assert.Equal(t, 1, adam.GetTimestep())
}

func TestAdam_ConvergesOnQuadratic(t *testing.T) {
	// Minimize f(x) = x² from x=2; gradient is 2x.
	param := newParam(t, "x", []float32{2})
	adam := NewAdam([]*nn.Parameter{param}, AdamConfig{LR: 0.1})

	for i := 0; i < 200; i++ {
		x := param.Tensor().AsFloat32()[0]
		adam.Step(map[*tensor.RawTensor]*tensor.RawTensor{
			param.Tensor(): constGrad(t, 2*x, 1),
		})
	}

	assert.InDelta(t, 0, param.Tensor().AsFloat32()[0], 0.05)
}

func TestAdam_SkipsParamsWithoutGrads(t *testing.T) {
	frozen := newParam(t, "frozen", []float32{3, 3})
	active := newParam(t, "active", []float32{1})
	adam := NewAdam([]*nn.Parameter{frozen, active}, AdamConfig{LR: 0.1})

	adam.Step(map[*tensor.RawTensor]*tensor.RawTensor{
		active.Tensor(): constGrad(t, 1, 1),
	})

	assert.Equal(t, []float32{3, 3}, frozen.Tensor().AsFloat32(),
		"parameter without a gradient must not move")
	assert.NotEqual(t, []float32{1}, active.Tensor().AsFloat32())
}

func TestAdam_SetLR(t *testing.T) {
	adam := NewAdam(nil, AdamConfig{LR: 0.01})
	adam.SetLR(0.0001)
	assert.InDelta(t, 0.0001, adam.GetLR(), 1e-9)
}

func TestAdam_StableUnderTinyGradients(t *testing.T) {
	param := newParam(t, "w", []float32{1})
	adam := NewAdam([]*nn.Parameter{param}, AdamConfig{LR: 0.001})

	for i := 0; i < 10; i++ {
		adam.Step(map[*tensor.RawTensor]*tensor.RawTensor{
			param.Tensor(): constGrad(t, 1e-12, 1),
		})
	}

	v := param.Tensor().AsFloat32()[0]
	assert.False(t, math.IsNaN(float64(v)))
	assert.False(t, math.IsInf(float64(v), 0))
}
