package regression

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"voxelreg/domain/core"
)

func fitGroup(t *testing.T) *FitResult {
	t.Helper()
	res, err := NewOLS(groupDesign()).Fit(vecAsDense([]float64{1, 3, 2, 6}))
	require.NoError(t, err)
	return res
}

func TestStandardDeviationRequiresResiduals(t *testing.T) {
	bare := &FitResult{}
	_, err := bare.StandardDeviation()
	require.ErrorIs(t, err, core.ErrMissingResiduals)
	require.True(t, core.IsInvalidState(err))
}

func TestTBeforeFitFails(t *testing.T) {
	bare := &FitResult{}
	_, err := bare.T(0)
	require.ErrorIs(t, err, core.ErrInvalidState)

	_, err = bare.NormResid()
	require.ErrorIs(t, err, core.ErrMissingResiduals)
}

func TestStandardDeviationCached(t *testing.T) {
	res := fitGroup(t)
	sd1, err := res.StandardDeviation()
	require.NoError(t, err)
	sd2, err := res.StandardDeviation()
	require.NoError(t, err)
	require.True(t, &sd1[0] == &sd2[0], "second call must return the cached slice")
	assert.InDelta(t, math.Sqrt(5), sd1[0], 1e-12)
}

func TestTStatistic(t *testing.T) {
	res := fitGroup(t)
	// normCov is diag(0.5, 0.5) for the group design.
	tt, err := res.T(0)
	require.NoError(t, err)
	assert.InDelta(t, 2/(math.Sqrt(5)*math.Sqrt(0.5)), tt[0], 1e-12)

	all, err := res.TAll()
	require.NoError(t, err)
	assert.InDelta(t, tt[0], all.At(0, 0), 1e-12)
	assert.InDelta(t, 4/(math.Sqrt(5)*math.Sqrt(0.5)), all.At(1, 0), 1e-12)
}

func TestNormResid(t *testing.T) {
	res := fitGroup(t)
	nr, err := res.NormResid()
	require.NoError(t, err)
	want := []float64{-1, 1, -2, 2}
	for i, w := range want {
		assert.InDelta(t, w/math.Sqrt(10), nr.At(i, 0), 1e-12)
	}
}

func TestPredict(t *testing.T) {
	res := fitGroup(t)
	pred := res.Predict(groupDesign())
	want := []float64{2, 2, 4, 4}
	for i, w := range want {
		assert.InDelta(t, w, pred.At(i, 0), 1e-12)
	}
}

func TestRSquaredUsesStoredResponse(t *testing.T) {
	res := fitGroup(t)
	rsq, err := res.RSquared()
	require.NoError(t, err)
	// scale / population variance of the stored response: 5 / 3.5.
	assert.InDelta(t, 5.0/3.5, rsq[0], 1e-12)

	bare := &FitResult{}
	_, err = bare.RSquared()
	require.Error(t, err)
}

func TestCovBeta(t *testing.T) {
	res := fitGroup(t)

	col, err := res.CovBetaColumn(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*5, col[0], 1e-12)

	_, err = res.CovBetaColumn(7)
	require.ErrorIs(t, err, core.ErrShapeMismatch)

	c := mat.NewDense(1, 2, []float64{1, 0})
	cov, err := res.CovBetaMatrix(c, res.Scale[0])
	require.NoError(t, err)
	assert.InDelta(t, col[0], cov.At(0, 0), 1e-12)

	_, err = res.CovBetaMatrix(mat.NewDense(1, 3, nil), 1)
	require.ErrorIs(t, err, core.ErrShapeMismatch)
}

func TestTContrast(t *testing.T) {
	res := fitGroup(t)
	cr, err := res.TContrast([]float64{1, -1})
	require.NoError(t, err)

	assert.InDelta(t, -2, cr.Effect[0], 1e-12)
	assert.InDelta(t, math.Sqrt(5), cr.SD[0], 1e-12)
	assert.InDelta(t, -2/math.Sqrt(5), cr.T[0], 1e-12)
	require.Len(t, cr.P, 1)
	assert.Greater(t, cr.P[0], 0.0)
	assert.Less(t, cr.P[0], 1.0)

	_, err = res.TContrast([]float64{1, 2, 3})
	require.ErrorIs(t, err, core.ErrShapeMismatch)
}

func TestFContrastMatchesSquaredT(t *testing.T) {
	res := fitGroup(t)
	c := mat.NewDense(1, 2, []float64{1, -1})
	fr, err := res.FContrast(c)
	require.NoError(t, err)

	tr, err := res.TContrast([]float64{1, -1})
	require.NoError(t, err)
	assert.InDelta(t, tr.T[0]*tr.T[0], fr.F[0], 1e-12)
	assert.Equal(t, 1, fr.Q)
}

func TestFContrastScaleInvariance(t *testing.T) {
	res := fitGroup(t)
	scales := []float64{1, 3, -2, 0.001}
	base, err := res.FContrast(mat.NewDense(1, 2, []float64{1, -1}))
	require.NoError(t, err)
	for _, s := range scales {
		fr, err := res.FContrast(mat.NewDense(1, 2, []float64{s, -s}))
		require.NoError(t, err)
		assert.InDelta(t, base.F[0], fr.F[0], 1e-9, "F must be invariant under contrast rescaling by %g", s)
	}
}

func TestFContrastSingularCovariance(t *testing.T) {
	res := fitGroup(t)
	// Duplicated rows make the restricted covariance singular.
	c := mat.NewDense(2, 2, []float64{1, -1, 1, -1})
	_, err := res.FContrast(c)
	require.ErrorIs(t, err, core.ErrSingularMatrix)

	// A zero contrast is singular too.
	_, err = res.FContrast(mat.NewDense(1, 2, nil))
	require.ErrorIs(t, err, core.ErrSingularMatrix)
}

func TestFContrastSuppliedInverse(t *testing.T) {
	res := fitGroup(t)
	c := mat.NewDense(1, 2, []float64{1, -1})
	cov, err := res.CovBetaMatrix(c, 1.0)
	require.NoError(t, err)
	var inv mat.Dense
	require.NoError(t, inv.Inverse(cov))

	fr, err := res.FContrastInv(c, &inv)
	require.NoError(t, err)
	direct, err := res.FContrast(c)
	require.NoError(t, err)
	assert.InDelta(t, direct.F[0], fr.F[0], 1e-12)
}
