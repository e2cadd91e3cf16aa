package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape_NumElements(t *testing.T) {
	assert.Equal(t, 24, Shape{2, 3, 4}.NumElements())
	assert.Equal(t, 1, Shape{}.NumElements())
	assert.Equal(t, 5, Shape{5}.NumElements())
}

func TestShape_ComputeStrides(t *testing.T) {
	assert.Equal(t, []int{12, 4, 1}, Shape{2, 3, 4}.ComputeStrides())
	assert.Equal(t, []int{1}, Shape{7}.ComputeStrides())
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Shape
		want    Shape
		needs   bool
		wantErr bool
	}{
		{"equal", Shape{2, 3}, Shape{2, 3}, Shape{2, 3}, false, false},
		{"scalar-like", Shape{2, 3}, Shape{1, 3}, Shape{2, 3}, true, false},
		{"rank mismatch", Shape{2, 3, 4}, Shape{4}, Shape{2, 3, 4}, true, false},
		{"column", Shape{4, 3}, Shape{4, 1}, Shape{4, 3}, true, false},
		{"incompatible", Shape{2, 3}, Shape{2, 4}, nil, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, needs, err := BroadcastShapes(tt.a, tt.b)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.needs, needs)
		})
	}
}

func TestBroadcastStrides(t *testing.T) {
	// [3] broadcast to [2, 3]: leading dim stride 0
	assert.Equal(t, []int{0, 1}, BroadcastStrides(Shape{3}, Shape{2, 3}))
	// [4, 1] broadcast to [4, 3]: size-1 dim stride 0
	assert.Equal(t, []int{1, 0}, BroadcastStrides(Shape{4, 1}, Shape{4, 3}))
}

func TestFromSlice(t *testing.T) {
	raw, err := FromSlice([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 3}, raw.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, raw.AsFloat32())

	_, err = FromSlice([]float32{1, 2}, Shape{2, 3})
	require.Error(t, err)
}

func TestFromInt32Slice(t *testing.T) {
	raw, err := FromInt32Slice([]int32{1, 2, 3, 4}, Shape{2, 2})
	require.NoError(t, err)
	assert.Equal(t, Int32, raw.DType())
	assert.Equal(t, []int32{1, 2, 3, 4}, raw.AsInt32())
}

func TestClone_Independent(t *testing.T) {
	orig, err := FromSlice([]float32{1, 2, 3}, Shape{3})
	require.NoError(t, err)

	clone := orig.Clone()
	clone.AsFloat32()[0] = 99

	assert.Equal(t, float32(1), orig.AsFloat32()[0])
	assert.Equal(t, float32(99), clone.AsFloat32()[0])
}

func TestReshaped_SharesData(t *testing.T) {
	orig, err := FromSlice([]float32{1, 2, 3, 4}, Shape{2, 2})
	require.NoError(t, err)

	flat, err := orig.Reshaped(Shape{4})
	require.NoError(t, err)
	flat.AsFloat32()[0] = 42
	assert.Equal(t, float32(42), orig.AsFloat32()[0])

	_, err = orig.Reshaped(Shape{3})
	require.Error(t, err)
}

func TestZerosOnesFull(t *testing.T) {
	z := Zeros(Shape{2, 2})
	for _, v := range z.AsFloat32() {
		assert.Equal(t, float32(0), v)
	}

	o := Ones(Shape{3})
	for _, v := range o.AsFloat32() {
		assert.Equal(t, float32(1), v)
	}

	f := Full(Shape{2}, 7.5)
	for _, v := range f.AsFloat32() {
		assert.Equal(t, float32(7.5), v)
	}
}
