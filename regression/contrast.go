package regression

import (
	"gonum.org/v1/gonum/mat"

	"voxelreg/domain/core"
	"voxelreg/internal/matutil"
)

// ContrastFromColumns derives a q x p contrast matrix C from an
// arbitrary matrix t and an n x p design d, such that the restricted
// covariance C * pinv(d) * pinv(d)^T * C^T stays full rank. t must
// match either d's row count (in which case it is projected through
// pinv(d)) or its column count (used directly). If d * C^T is rank
// deficient it is replaced by a full-rank column subset and C is
// recomputed, so the result always spans the column space of t after
// projection onto the column space of d. A zero t yields a degenerate
// all-zero contrast rather than an error.
func ContrastFromColumns(t, d mat.Matrix) (*mat.Dense, error) {
	n, p := d.Dims()
	tr, tc := t.Dims()

	if tr != n && tc != p {
		return nil, core.NewShapeMismatchError("contrast rows/columns", tr, n)
	}

	pinv, err := matutil.Pinv(d)
	if err != nil {
		return nil, err
	}

	var c mat.Dense
	if tr == n {
		var proj mat.Dense
		proj.Mul(pinv, t) // p x q
		c.CloneFrom(proj.T())
	} else {
		c.CloneFrom(t)
	}

	var tp mat.Dense // n x q
	tp.Mul(d, c.T())

	_, q := tp.Dims()
	if matutil.Rank(&tp) != q {
		fr, err := matutil.FullRank(&tp)
		if err != nil {
			return nil, err
		}
		var proj mat.Dense
		proj.Mul(pinv, fr)
		c.CloneFrom(proj.T())
	}

	out := mat.DenseCopyOf(&c)
	return out, nil
}

// IsEstimable reports whether the contrast c is estimable under design
// d: the rank of [c; d] stacked vertically must equal the rank of d.
// It never errors; malformed shapes simply report false.
func IsEstimable(c, d mat.Matrix) bool {
	cr, cc := c.Dims()
	dr, dc := d.Dims()
	if cc != dc {
		return false
	}
	stacked := mat.NewDense(cr+dr, dc, nil)
	for i := 0; i < cr; i++ {
		for j := 0; j < cc; j++ {
			stacked.Set(i, j, c.At(i, j))
		}
	}
	for i := 0; i < dr; i++ {
		for j := 0; j < dc; j++ {
			stacked.Set(cr+i, j, d.At(i, j))
		}
	}
	return matutil.Rank(stacked) == matutil.Rank(d)
}
