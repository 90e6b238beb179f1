package volume

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"voxelreg/domain/core"
)

// Chunk is the canonical data object for batch regression: one block of
// voxel time-series with the observation axis first. Spatial axes are
// stored flattened; Shape remembers how to fold them back.
type Chunk struct {
	// Data holds observations in rows and voxels in columns: n x V where
	// V == prod(Shape).
	Data *mat.Dense

	// Shape is the original spatial shape of the block, row-major.
	Shape []int

	// Index is the position of this chunk in the source sequence.
	Index int
}

// NewChunk builds a chunk from a row-major buffer shaped
// (obs, shape...). The spatial axes are flattened into columns.
func NewChunk(data []float64, obs int, shape []int) (*Chunk, error) {
	if obs <= 0 {
		return nil, fmt.Errorf("%w: observation count is %d", core.ErrShapeMismatch, obs)
	}
	voxels := NumVoxels(shape)
	if voxels <= 0 {
		return nil, fmt.Errorf("%w: empty spatial shape %v", core.ErrShapeMismatch, shape)
	}
	if len(data) != obs*voxels {
		return nil, core.NewShapeMismatchError("chunk buffer length", len(data), obs*voxels)
	}
	cp := make([]int, len(shape))
	copy(cp, shape)
	return &Chunk{
		Data:  mat.NewDense(obs, voxels, data),
		Shape: cp,
	}, nil
}

// Observations returns the length of the observation axis.
func (c *Chunk) Observations() int {
	n, _ := c.Data.Dims()
	return n
}

// Voxels returns the number of spatial locations in the chunk.
func (c *Chunk) Voxels() int {
	_, v := c.Data.Dims()
	return v
}

// NumVoxels returns the product of the spatial dims.
func NumVoxels(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Source produces a lazy, finite, non-restartable sequence of chunks.
// Next returns core.ErrSourceExhausted once the sequence is drained.
type Source interface {
	Next() (*Chunk, error)
}

// SliceSource adapts an in-memory chunk slice to Source. Chunk indices
// are assigned by position.
type SliceSource struct {
	chunks []*Chunk
	pos    int
}

// NewSliceSource wraps chunks in a one-pass source.
func NewSliceSource(chunks []*Chunk) *SliceSource {
	return &SliceSource{chunks: chunks}
}

func (s *SliceSource) Next() (*Chunk, error) {
	if s.pos >= len(s.chunks) {
		return nil, core.ErrSourceExhausted
	}
	c := s.chunks[s.pos]
	c.Index = s.pos
	s.pos++
	return c, nil
}
