// Package matutil provides the small linear-algebra utilities the
// regression layer is built on: a zero-guarded reciprocal, numerical
// rank, full-rank column extraction and the Moore-Penrose
// pseudo-inverse, all backed by gonum's SVD.
package matutil

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"voxelreg/domain/core"
)

// Recipr returns 1/x, or exactly 0 when x is 0. The zero guard keeps
// division-by-zero from propagating Inf/NaN into downstream statistics.
func Recipr(x float64) float64 {
	if x == 0 {
		return 0
	}
	return 1 / x
}

// ReciprSlice applies Recipr elementwise, returning a new slice.
func ReciprSlice(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = Recipr(x)
	}
	return out
}

// machEps is the float64 machine epsilon.
const machEps = 2.220446049250313e-16

// svdTol is the effective-zero cutoff for singular values:
// sigma_max * max(n,p) * machine epsilon.
func svdTol(values []float64, n, p int) float64 {
	if len(values) == 0 {
		return 0
	}
	maxDim := n
	if p > maxDim {
		maxDim = p
	}
	return values[0] * float64(maxDim) * machEps
}

// Rank returns the numerical rank of a.
func Rank(a mat.Matrix) int {
	n, p := a.Dims()
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDNone); !ok {
		return 0
	}
	values := svd.Values(nil)
	tol := svdTol(values, n, p)
	r := 0
	for _, v := range values {
		if v > tol {
			r++
		}
	}
	return r
}

// FullRank returns a matrix whose columns span the column space of a
// and are linearly independent: the leading left singular vectors, one
// per nonzero singular value. A zero matrix yields a single zero
// column rather than an empty result.
func FullRank(a mat.Matrix) (*mat.Dense, error) {
	n, p := a.Dims()
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, core.ErrFactorization
	}
	values := svd.Values(nil)
	tol := svdTol(values, n, p)
	r := 0
	for _, v := range values {
		if v > tol {
			r++
		}
	}

	var u mat.Dense
	svd.UTo(&u)

	if r == 0 {
		return mat.NewDense(n, 1, nil), nil
	}
	out := mat.NewDense(n, r, nil)
	out.Copy(u.Slice(0, n, 0, r))
	return out, nil
}

// Pinv computes the Moore-Penrose pseudo-inverse of a via thin SVD,
// V * diag(recipr(sigma)) * U^T. Singular values at or below the
// effective-zero cutoff are inverted to 0, so rank-deficient input is
// handled without error.
func Pinv(a mat.Matrix) (*mat.Dense, error) {
	n, p := a.Dims()
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, core.ErrFactorization
	}
	values := svd.Values(nil)
	tol := svdTol(values, n, p)

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// Scale columns of V by the guarded inverse singular values.
	k := len(values)
	scaled := mat.NewDense(p, k, nil)
	for j := 0; j < k; j++ {
		inv := 0.0
		if values[j] > tol {
			inv = 1 / values[j]
		}
		for i := 0; i < p; i++ {
			scaled.Set(i, j, v.At(i, j)*inv)
		}
	}

	out := mat.NewDense(p, n, nil)
	out.Mul(scaled, u.T())
	return out, nil
}

// Trace returns the sum of diagonal entries of a (not required to be
// square beyond the shorter dimension).
func Trace(a mat.Matrix) float64 {
	n, p := a.Dims()
	if p < n {
		n = p
	}
	t := 0.0
	for i := 0; i < n; i++ {
		t += a.At(i, i)
	}
	return t
}

// RoundToInt rounds to the nearest integer, matching the conventional
// residual degrees-of-freedom computation.
func RoundToInt(x float64) int {
	return int(math.Round(x))
}
