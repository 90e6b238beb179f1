// Package regression implements ordinary, autoregressive and weighted
// least-squares models over a shared design matrix, plus T/F contrast
// computation on the fitted coefficients. Responses may carry many
// columns at once (one per voxel), which is how the batch layer drives
// whole-volume fits.
package regression

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"voxelreg/domain/core"
	"voxelreg/internal/matutil"
)

// whitener is the single virtual point in the model hierarchy: each
// model level supplies its own whitening transform, applied to both
// the design matrix and every response before ordinary least squares.
type whitener interface {
	Whiten(x mat.Matrix) (*mat.Dense, error)
}

// OLSModel is a simple ordinary least squares model. It owns the
// design matrix and the quantities derived from it: the pseudo-inverse
// of the whitened design, the normalized coefficient covariance and
// the residual degrees of freedom. The three are recomputed together
// whenever the whitened design changes.
type OLSModel struct {
	design  *mat.Dense
	wdesign *mat.Dense

	calcBeta   *mat.Dense // pinv(wdesign), p x n
	normCov    *mat.Dense // calcBeta * calcBeta^T, p x p
	dfResid    float64
	configured bool

	w whitener
}

// NewOLS constructs a model for the given n x p design matrix. A setup
// failure does not abort construction: the model stays in a
// not-configured state and Fit retries setup on demand.
func NewOLS(design mat.Matrix) *OLSModel {
	m := &OLSModel{}
	m.initDesign(design, m)
	return m
}

// initDesign stores the design and attempts the first setup, deferring
// any failure to the first Fit. Derived models pass themselves as the
// whitener so their transform is active from construction on.
func (m *OLSModel) initDesign(design mat.Matrix, w whitener) {
	m.w = w
	if design != nil {
		m.design = mat.DenseCopyOf(design)
	}
	_ = m.refresh()
}

// refresh re-whitens the design and recomputes the derived quantities.
// This is the synchronous replacement for the source's observer hooks:
// every mutation to design, correlation or weights funnels through it.
func (m *OLSModel) refresh() error {
	m.configured = false
	m.calcBeta = nil
	m.normCov = nil
	if m.design == nil {
		return fmt.Errorf("%w: no design matrix", core.ErrNotConfigured)
	}
	n, p := m.design.Dims()
	if n == 0 || p == 0 {
		return core.NewShapeMismatchError("design matrix size", n*p, 1)
	}
	wd, err := m.w.Whiten(m.design)
	if err != nil {
		return err
	}
	m.wdesign = wd
	return m.setup()
}

// setup computes the pseudo-inverse of the whitened design, the
// normalized coefficient covariance and the residual degrees of
// freedom. Invariant: all three are consistent with wdesign.
func (m *OLSModel) setup() error {
	pinv, err := matutil.Pinv(m.wdesign)
	if err != nil {
		return err
	}
	m.calcBeta = pinv

	p, _ := pinv.Dims()
	cov := mat.NewDense(p, p, nil)
	cov.Mul(pinv, pinv.T())
	m.normCov = cov

	n, _ := m.wdesign.Dims()
	var hat mat.Dense
	hat.Mul(pinv, m.wdesign)
	m.dfResid = float64(n - matutil.RoundToInt(matutil.Trace(&hat)))

	m.configured = true
	return nil
}

// SetDesign replaces the design matrix and recomputes all derived
// quantities synchronously.
func (m *OLSModel) SetDesign(design mat.Matrix) error {
	m.design = mat.DenseCopyOf(design)
	return m.refresh()
}

// Design returns the current design matrix.
func (m *OLSModel) Design() *mat.Dense { return m.design }

// DfResid returns the residual degrees of freedom,
// n - round(trace(pinv * wdesign)).
func (m *OLSModel) DfResid() float64 { return m.dfResid }

// NormalizedCovBeta returns pinv * pinv^T for the whitened design.
func (m *OLSModel) NormalizedCovBeta() *mat.Dense { return m.normCov }

// Whiten is the identity for OLS.
func (m *OLSModel) Whiten(x mat.Matrix) (*mat.Dense, error) {
	return mat.DenseCopyOf(x), nil
}

// Fit whitens the response, solves for the coefficients and returns an
// immutable result. Y is n x k; each column is fit independently
// against the same design. If the model is not configured, setup is
// retried here and a clear error surfaced when it cannot succeed.
func (m *OLSModel) Fit(y mat.Matrix) (*FitResult, error) {
	if !m.configured {
		if err := m.refresh(); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrNotConfigured, err)
		}
	}

	n, _ := m.wdesign.Dims()
	yr, _ := y.Dims()
	if yr != n {
		return nil, core.NewShapeMismatchError("response rows", yr, n)
	}

	z, err := m.w.Whiten(y)
	if err != nil {
		return nil, err
	}

	p, _ := m.calcBeta.Dims()
	_, k := z.Dims()

	beta := mat.NewDense(p, k, nil)
	beta.Mul(m.calcBeta, z)

	var fitted mat.Dense
	fitted.Mul(m.wdesign, beta)
	resid := mat.NewDense(n, k, nil)
	resid.Sub(z, &fitted)

	scale := make([]float64, k)
	for j := 0; j < k; j++ {
		ss := 0.0
		for i := 0; i < n; i++ {
			r := resid.At(i, j)
			ss += r * r
		}
		scale[j] = ss / m.dfResid
	}

	return &FitResult{
		Beta:              beta,
		Resid:             resid,
		Scale:             scale,
		DfResid:           m.dfResid,
		NormalizedCovBeta: m.normCov,
		Response:          mat.DenseCopyOf(y),
		Whitened:          z,
	}, nil
}

// ARModel is a regression model with an AR(1) covariance structure.
// The AR(p) generalization would only need a Cholesky-based Whiten.
type ARModel struct {
	OLSModel
	rho float64
}

// NewAR constructs an AR(1) model. rho is conceptually in (-1, 1);
// the bound is documented, not enforced.
func NewAR(design mat.Matrix, rho float64) *ARModel {
	m := &ARModel{rho: rho}
	m.initDesign(design, m)
	return m
}

// Rho returns the AR(1) correlation parameter.
func (m *ARModel) Rho() float64 { return m.rho }

// SetRho updates the correlation parameter and re-whitens the design.
func (m *ARModel) SetRho(rho float64) error {
	m.rho = rho
	return m.refresh()
}

// Whiten decorrelates first-order autocorrelated rows:
// out[0] = x[0]; out[i] = (x[i] - rho*x[i-1]) / sqrt(1 - rho^2).
// With rho == 0 this is the identity.
func (m *ARModel) Whiten(x mat.Matrix) (*mat.Dense, error) {
	n, k := x.Dims()
	factor := 1 / math.Sqrt(1-m.rho*m.rho)
	out := mat.NewDense(n, k, nil)
	for j := 0; j < k; j++ {
		out.Set(0, j, x.At(0, j))
		for i := 1; i < n; i++ {
			out.Set(i, j, (x.At(i, j)-m.rho*x.At(i-1, j))*factor)
		}
	}
	return out, nil
}

// WLSModel is a weighted least squares model with diagonal but
// non-identity covariance structure on top of AR(1) correlation. The
// weights are proportional to the inverse of the observation
// variances.
//
// Whitening composes both transforms: each column is divided by
// sqrt(weights) first, then AR(1)-decorrelated. This is a deliberate
// behavior decision; with unit weights and rho == 0 the whole
// transform is the identity.
type WLSModel struct {
	ARModel
	weights []float64
}

// NewWLS constructs a weighted AR(1) model. Invalid weights surface at
// the first Fit through the not-configured path, like any other
// deferred setup failure.
func NewWLS(design mat.Matrix, rho float64, weights []float64) *WLSModel {
	m := &WLSModel{}
	m.rho = rho
	m.weights = append([]float64(nil), weights...)
	m.initDesign(design, m)
	return m
}

// Weights returns the current inverse-variance weights.
func (m *WLSModel) Weights() []float64 { return m.weights }

// SetWeights replaces the weights and re-whitens the design.
func (m *WLSModel) SetWeights(weights []float64) error {
	m.weights = append([]float64(nil), weights...)
	return m.refresh()
}

// Whiten divides every column elementwise by sqrt(weights), then
// applies the AR(1) transform.
func (m *WLSModel) Whiten(x mat.Matrix) (*mat.Dense, error) {
	n, k := x.Dims()
	if len(m.weights) != n {
		return nil, core.NewShapeMismatchError("weights length", len(m.weights), n)
	}
	sw := make([]float64, n)
	for i, w := range m.weights {
		if w <= 0 {
			return nil, fmt.Errorf("invalid weight at %d: %g, want > 0", i, w)
		}
		sw[i] = math.Sqrt(w)
	}
	weighted := mat.NewDense(n, k, nil)
	for j := 0; j < k; j++ {
		for i := 0; i < n; i++ {
			weighted.Set(i, j, x.At(i, j)/sw[i])
		}
	}
	return m.ARModel.Whiten(weighted)
}
