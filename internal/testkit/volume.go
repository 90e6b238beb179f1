// Package testkit builds synthetic voxel volumes with known ground
// truth for exercising the regression and batch layers.
package testkit

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"voxelreg/domain/volume"
)

// VolumeSpec describes a synthetic volume: every voxel's time series
// is Design * Beta plus AR(1) noise with correlation Rho and
// innovation scale Sigma.
type VolumeSpec struct {
	Design *mat.Dense // n x p
	Beta   []float64  // p true coefficients, shared across voxels
	Rho    float64
	Sigma  float64
	Shape  []int // spatial shape per chunk
	Chunks int
	Seed   int64
}

// Generate materializes the chunks of the spec deterministically.
func Generate(spec VolumeSpec) ([]*volume.Chunk, error) {
	rng := rand.New(rand.NewSource(spec.Seed))
	n, p := spec.Design.Dims()
	voxels := volume.NumVoxels(spec.Shape)

	signal := make([]float64, n)
	for i := 0; i < n; i++ {
		s := 0.0
		for j := 0; j < p; j++ {
			s += spec.Design.At(i, j) * spec.Beta[j]
		}
		signal[i] = s
	}

	chunks := make([]*volume.Chunk, 0, spec.Chunks)
	for c := 0; c < spec.Chunks; c++ {
		buf := make([]float64, n*voxels)
		for v := 0; v < voxels; v++ {
			noise := arNoise(rng, n, spec.Rho, spec.Sigma)
			for i := 0; i < n; i++ {
				buf[i*voxels+v] = signal[i] + noise[i]
			}
		}
		chunk, err := volume.NewChunk(buf, n, spec.Shape)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// arNoise draws an AR(1) series with stationary marginal variance
// sigma^2 / (1 - rho^2).
func arNoise(rng *rand.Rand, n int, rho, sigma float64) []float64 {
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	marginal := sigma
	if rho != 0 {
		marginal = sigma / math.Sqrt(1-rho*rho)
	}
	out[0] = rng.NormFloat64() * marginal
	for i := 1; i < n; i++ {
		out[i] = rho*out[i-1] + rng.NormFloat64()*sigma
	}
	return out
}

// BlockDesign returns the two-group indicator design used across the
// regression tests: n rows split into two halves, one indicator
// column per group.
func BlockDesign(n int) *mat.Dense {
	d := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		if i < n/2 {
			d.Set(i, 0, 1)
		} else {
			d.Set(i, 1, 1)
		}
	}
	return d
}
