package regression

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"voxelreg/domain/core"
	"voxelreg/internal/matutil"
)

// FitResult is a container for the results of fitting a regression
// model to one response block. It is immutable after construction
// except for the lazily cached standard deviation. The normalized
// covariance is borrowed from the model, not copied: it only changes
// when the model configuration changes, never per fit.
type FitResult struct {
	Beta    *mat.Dense // p x k coefficient estimates
	Resid   *mat.Dense // n x k residuals in whitened space
	Scale   []float64  // per-column residual variance estimate
	DfResid float64

	NormalizedCovBeta *mat.Dense // borrowed from the model

	Response *mat.Dense // original response, kept for R^2
	Whitened *mat.Dense

	sd []float64
}

// ContrastResult holds the output of a single T or F contrast query.
// It is ephemeral: the model and fit retain no reference to it.
type ContrastResult struct {
	Effect []float64 // per response column
	SD     []float64 // T contrasts only
	T      []float64 // T contrasts only
	F      []float64 // F contrasts only
	P      []float64 // two-sided for T, upper tail for F
	Df     float64   // residual degrees of freedom
	Q      int       // number of contrast rows (F contrasts)
}

// StandardDeviation returns sqrt(scale) per response column, cached
// after the first call. It fails when the fit carries no residuals.
func (r *FitResult) StandardDeviation() ([]float64, error) {
	if r.sd != nil {
		return r.sd, nil
	}
	if r.Resid == nil {
		return nil, core.ErrMissingResiduals
	}
	sd := make([]float64, len(r.Scale))
	for j, s := range r.Scale {
		sd[j] = math.Sqrt(s)
	}
	r.sd = sd
	return sd, nil
}

// T returns the t statistic for a single coefficient, one value per
// response column: beta[c] * recipr(sd * sqrt(normCov[c][c])).
func (r *FitResult) T(column int) ([]float64, error) {
	sd, err := r.StandardDeviation()
	if err != nil {
		return nil, err
	}
	p, k := r.Beta.Dims()
	if column < 0 || column >= p {
		return nil, core.NewShapeMismatchError("coefficient column", column, p-1)
	}
	root := math.Sqrt(r.NormalizedCovBeta.At(column, column))
	t := make([]float64, k)
	for j := 0; j < k; j++ {
		t[j] = r.Beta.At(column, j) * matutil.Recipr(sd[j]*root)
	}
	return t, nil
}

// TAll returns the full p x k matrix of per-coefficient t statistics.
func (r *FitResult) TAll() (*mat.Dense, error) {
	p, k := r.Beta.Dims()
	out := mat.NewDense(p, k, nil)
	for c := 0; c < p; c++ {
		row, err := r.T(c)
		if err != nil {
			return nil, err
		}
		for j := 0; j < k; j++ {
			out.Set(c, j, row[j])
		}
	}
	return out, nil
}

// NormResid returns the residuals normalized per column by
// recipr(sd) / sqrt(df). Requires residuals.
func (r *FitResult) NormResid() (*mat.Dense, error) {
	if r.Resid == nil {
		return nil, core.ErrMissingResiduals
	}
	sd, err := r.StandardDeviation()
	if err != nil {
		return nil, err
	}
	n, k := r.Resid.Dims()
	rootDf := math.Sqrt(r.DfResid)
	out := mat.NewDense(n, k, nil)
	for j := 0; j < k; j++ {
		f := matutil.Recipr(sd[j]) / rootDf
		for i := 0; i < n; i++ {
			out.Set(i, j, r.Resid.At(i, j)*f)
		}
	}
	return out, nil
}

// Predict projects a design matrix through the fitted coefficients.
// Shape compatibility is whatever the multiply enforces.
func (r *FitResult) Predict(design mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Mul(design, r.Beta)
	return &out
}

// RSquared returns scale / var(response) per response column, using
// the response stored on the result at fit time.
func (r *FitResult) RSquared() ([]float64, error) {
	if r.Response == nil {
		return nil, core.ErrMissingResiduals
	}
	n, k := r.Response.Dims()
	out := make([]float64, k)
	col := make([]float64, n)
	for j := 0; j < k; j++ {
		mat.Col(col, j, r.Response)
		v, err := stats.PopulationVariance(col)
		if err != nil {
			return nil, err
		}
		out[j] = r.Scale[j] * matutil.Recipr(v)
	}
	return out, nil
}

// CovBetaColumn returns the scaled variance of a single coefficient,
// normCov[c][c] * scale, one value per response column.
func (r *FitResult) CovBetaColumn(column int) ([]float64, error) {
	p, _ := r.Beta.Dims()
	if column < 0 || column >= p {
		return nil, core.NewShapeMismatchError("coefficient column", column, p-1)
	}
	v := r.NormalizedCovBeta.At(column, column)
	out := make([]float64, len(r.Scale))
	for j, s := range r.Scale {
		out[j] = v * s
	}
	return out, nil
}

// CovBetaMatrix returns C * normCov * C^T * scale for a q x p
// contrast matrix C and a scalar scale. This is the unit-scale
// restricted covariance used by the contrast statistics.
func (r *FitResult) CovBetaMatrix(c mat.Matrix, scale float64) (*mat.Dense, error) {
	_, cols := c.Dims()
	p, _ := r.NormalizedCovBeta.Dims()
	if cols != p {
		return nil, core.NewShapeMismatchError("contrast columns", cols, p)
	}
	var tmp, out mat.Dense
	tmp.Mul(c, r.NormalizedCovBeta)
	out.Mul(&tmp, c.T())
	out.Scale(scale, &out)
	return &out, nil
}

// TContrast computes a T contrast for a single row vector of length p:
// effect = c * beta, sd = sqrt(c normCov c^T) * standard deviation,
// t = effect * recipr(sd). A two-sided p-value is attached when the
// residual degrees of freedom allow it.
func (r *FitResult) TContrast(row []float64) (*ContrastResult, error) {
	sd, err := r.StandardDeviation()
	if err != nil {
		return nil, err
	}
	p, k := r.Beta.Dims()
	if len(row) != p {
		return nil, core.NewShapeMismatchError("contrast length", len(row), p)
	}
	c := mat.NewDense(1, p, row)

	cov, err := r.CovBetaMatrix(c, 1.0)
	if err != nil {
		return nil, err
	}
	root := math.Sqrt(cov.At(0, 0))

	var effect mat.Dense
	effect.Mul(c, r.Beta)

	res := &ContrastResult{
		Effect: make([]float64, k),
		SD:     make([]float64, k),
		T:      make([]float64, k),
		Df:     r.DfResid,
	}
	for j := 0; j < k; j++ {
		res.Effect[j] = effect.At(0, j)
		res.SD[j] = root * sd[j]
		res.T[j] = res.Effect[j] * matutil.Recipr(res.SD[j])
	}
	if r.DfResid > 0 {
		dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: r.DfResid}
		res.P = make([]float64, k)
		for j := 0; j < k; j++ {
			res.P[j] = 2 * dist.Survival(math.Abs(res.T[j]))
		}
	}
	return res, nil
}

// FContrast computes an F contrast for a q x p contrast matrix,
// inverting the unit-scale restricted covariance itself. The
// restricted covariance must be invertible, which contrasts built by
// ContrastFromColumns guarantee.
func (r *FitResult) FContrast(c mat.Matrix) (*ContrastResult, error) {
	cov, err := r.CovBetaMatrix(c, 1.0)
	if err != nil {
		return nil, err
	}
	var invcov mat.Dense
	if err := invcov.Inverse(cov); err != nil {
		return nil, core.NewSingularMatrixError("contrast covariance not invertible")
	}
	return r.FContrastInv(c, &invcov)
}

// FContrastInv computes an F contrast with a caller-supplied inverse
// restricted covariance: F = sum(invcov * cbeta .* cbeta) *
// recipr(q * scale), per response column.
func (r *FitResult) FContrastInv(c mat.Matrix, invcov *mat.Dense) (*ContrastResult, error) {
	q, cols := c.Dims()
	p, k := r.Beta.Dims()
	if cols != p {
		return nil, core.NewShapeMismatchError("contrast columns", cols, p)
	}

	var cbeta mat.Dense // q x k
	cbeta.Mul(c, r.Beta)
	var w mat.Dense // invcov * cbeta, q x k
	w.Mul(invcov, &cbeta)

	res := &ContrastResult{
		F:  make([]float64, k),
		Df: r.DfResid,
		Q:  q,
	}
	for j := 0; j < k; j++ {
		s := 0.0
		for i := 0; i < q; i++ {
			s += w.At(i, j) * cbeta.At(i, j)
		}
		res.F[j] = s * matutil.Recipr(float64(q)*r.Scale[j])
	}
	if r.DfResid > 0 {
		dist := distuv.F{D1: float64(q), D2: r.DfResid}
		res.P = make([]float64, k)
		for j := 0; j < k; j++ {
			res.P[j] = dist.Survival(res.F[j])
		}
	}
	return res, nil
}
