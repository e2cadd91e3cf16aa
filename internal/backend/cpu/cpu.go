// Package cpu implements a pure-Go CPU backend for tensor operations.
//
// The backend is deliberately simple: row-major loops, no SIMD, no
// parallelism. Training in this project is batch-sequential by contract,
// so throughput comes from small models rather than from a fast backend.
package cpu

import (
	"fmt"
	"math"

	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// Backend is the CPU compute backend.
type Backend struct{}

// New creates a new CPU backend.
func New() *Backend {
	return &Backend{}
}

// Name returns the backend name.
func (c *Backend) Name() string {
	return "CPU"
}

// Add performs element-wise addition with broadcasting.
func (c *Backend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binary("Add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (c *Backend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binary("Sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (c *Backend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binary("Mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (c *Backend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binary("Div", a, b, func(x, y float32) float32 { return x / y })
}

// MatMul performs 2D matrix multiplication: [M, K] @ [K, N] -> [M, N].
func (c *Backend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("cpu.MatMul: expected 2D tensors, got %v @ %v", aShape, bShape))
	}
	if aShape[1] != bShape[0] {
		panic(fmt.Sprintf("cpu.MatMul: inner dimensions mismatch: %v @ %v", aShape, bShape))
	}

	m, k, n := aShape[0], aShape[1], bShape[1]
	out := mustRaw(tensor.Shape{m, n})
	ad, bd, od := a.AsFloat32(), b.AsFloat32(), out.AsFloat32()

	// i-k-j loop order keeps the inner loop sequential in memory.
	for i := 0; i < m; i++ {
		for kk := 0; kk < k; kk++ {
			av := ad[i*k+kk]
			if av == 0 {
				continue
			}
			bRow := bd[kk*n : (kk+1)*n]
			oRow := od[i*n : (i+1)*n]
			for j := 0; j < n; j++ {
				oRow[j] += av * bRow[j]
			}
		}
	}
	return out
}

// Transpose transposes a 2D tensor.
func (c *Backend) Transpose(t *tensor.RawTensor) *tensor.RawTensor {
	shape := t.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("cpu.Transpose: expected 2D tensor, got %v", shape))
	}
	rows, cols := shape[0], shape[1]
	out := mustRaw(tensor.Shape{cols, rows})
	td, od := t.AsFloat32(), out.AsFloat32()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			od[j*rows+i] = td[i*cols+j]
		}
	}
	return out
}

// Reshape returns a tensor with a new shape sharing the underlying data.
func (c *Backend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	out, err := t.Reshaped(newShape)
	if err != nil {
		panic(fmt.Sprintf("cpu.Reshape: %v", err))
	}
	return out
}

// AddScalar adds a scalar to every element.
func (c *Backend) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return c.unary(x, func(v float32) float32 { return v + scalar })
}

// MulScalar multiplies every element by a scalar.
func (c *Backend) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return c.unary(x, func(v float32) float32 { return v * scalar })
}

// MaximumScalar computes element-wise max(x, scalar).
func (c *Backend) MaximumScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return c.unary(x, func(v float32) float32 {
		if v > scalar {
			return v
		}
		return scalar
	})
}

// Sqrt computes the element-wise square root.
func (c *Backend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unary(x, func(v float32) float32 { return float32(math.Sqrt(float64(v))) })
}

// Rsqrt computes the element-wise reciprocal square root (1/sqrt(x)).
func (c *Backend) Rsqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unary(x, func(v float32) float32 { return float32(1.0 / math.Sqrt(float64(v))) })
}

// ReLU computes element-wise max(0, x).
func (c *Backend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unary(x, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// Sum sums all elements to a scalar tensor of shape [1].
func (c *Backend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	out := mustRaw(tensor.Shape{1})
	var sum float32
	for _, v := range x.AsFloat32() {
		sum += v
	}
	out.AsFloat32()[0] = sum
	return out
}

// SumDim sums along the given dimension.
//
// Negative dims count from the end (-1 = last dimension). With
// keepDim=false the reduced dimension is dropped; a 1D input reduces to
// shape [1].
func (c *Backend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	shape := x.Shape()
	dim = normalizeDim(dim, len(shape))

	keptShape := shape.Clone()
	keptShape[dim] = 1
	out := mustRaw(keptShape)

	xd, od := x.AsFloat32(), out.AsFloat32()
	outStrides := keptShape.ComputeStrides()

	idx := make([]int, len(shape))
	for i := 0; i < len(xd); i++ {
		oi := 0
		for d := range idx {
			if d != dim {
				oi += idx[d] * outStrides[d]
			}
		}
		od[oi] += xd[i]
		incrementIndex(idx, shape)
	}

	if keepDim {
		return out
	}
	return c.Reshape(out, dropDim(keptShape, dim))
}

// MeanDim computes the mean along the given dimension.
func (c *Backend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	shape := x.Shape()
	n := shape[normalizeDim(dim, len(shape))]
	return c.MulScalar(c.SumDim(x, dim, keepDim), 1.0/float32(n))
}

// Embedding looks up rows of weight by index: weight [V, H] indexed by
// indices [B, S] produces [B, S, H].
func (c *Backend) Embedding(weight, indices *tensor.RawTensor) *tensor.RawTensor {
	wShape := weight.Shape()
	iShape := indices.Shape()
	if len(wShape) != 2 {
		panic(fmt.Sprintf("cpu.Embedding: weight must be 2D [vocab, hidden], got %v", wShape))
	}

	vocab, hidden := wShape[0], wShape[1]
	outShape := append(iShape.Clone(), hidden)
	out := mustRaw(outShape)

	wd, od := weight.AsFloat32(), out.AsFloat32()
	for i, id := range indices.AsInt32() {
		if int(id) < 0 || int(id) >= vocab {
			panic(fmt.Sprintf("cpu.Embedding: index %d out of range [0, %d)", id, vocab))
		}
		copy(od[i*hidden:(i+1)*hidden], wd[int(id)*hidden:(int(id)+1)*hidden])
	}
	return out
}

// binary applies f element-wise over broadcast inputs.
func (c *Backend) binary(opName string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("cpu.%s: %v", opName, err))
	}

	out := mustRaw(outShape)
	ad, bd, od := a.AsFloat32(), b.AsFloat32(), out.AsFloat32()

	if !needsBroadcast {
		for i := range od {
			od[i] = f(ad[i], bd[i])
		}
		return out
	}

	aStrides := tensor.BroadcastStrides(a.Shape(), outShape)
	bStrides := tensor.BroadcastStrides(b.Shape(), outShape)
	idx := make([]int, len(outShape))
	for i := range od {
		ai, bi := 0, 0
		for d := range idx {
			ai += idx[d] * aStrides[d]
			bi += idx[d] * bStrides[d]
		}
		od[i] = f(ad[ai], bd[bi])
		incrementIndex(idx, outShape)
	}
	return out
}

// unary applies f element-wise.
func (c *Backend) unary(x *tensor.RawTensor, f func(v float32) float32) *tensor.RawTensor {
	out := mustRaw(x.Shape())
	xd, od := x.AsFloat32(), out.AsFloat32()
	for i := range od {
		od[i] = f(xd[i])
	}
	return out
}

func mustRaw(shape tensor.Shape) *tensor.RawTensor {
	t, err := tensor.NewRaw(shape, tensor.Float32)
	if err != nil {
		panic(fmt.Sprintf("cpu: %v", err))
	}
	return t
}

func normalizeDim(dim, rank int) int {
	if dim < 0 {
		dim += rank
	}
	if dim < 0 || dim >= rank {
		panic(fmt.Sprintf("cpu: invalid dimension %d for rank %d", dim, rank))
	}
	return dim
}

func dropDim(shape tensor.Shape, dim int) tensor.Shape {
	if len(shape) == 1 {
		return tensor.Shape{1}
	}
	out := make(tensor.Shape, 0, len(shape)-1)
	for d, v := range shape {
		if d != dim {
			out = append(out, v)
		}
	}
	return out
}

// incrementIndex advances a row-major multi-index by one position.
func incrementIndex(idx []int, shape tensor.Shape) {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < shape[d] {
			return
		}
		idx[d] = 0
	}
}
