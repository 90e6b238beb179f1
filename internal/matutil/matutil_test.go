package matutil

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestRecipr(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{name: "zero maps to zero", in: 0, want: 0},
		{name: "positive", in: 2, want: 0.5},
		{name: "negative", in: -4, want: -0.25},
		{name: "fractional", in: 0.5, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Recipr(tt.in); got != tt.want {
				t.Errorf("Recipr(%g) = %g, want %g", tt.in, got, tt.want)
			}
		})
	}
}

func TestReciprSlice(t *testing.T) {
	got := ReciprSlice([]float64{0, 1, 2, -2})
	want := []float64{0, 1, 0.5, -0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ReciprSlice[%d] = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestRank(t *testing.T) {
	tests := []struct {
		name string
		m    *mat.Dense
		want int
	}{
		{
			name: "identity",
			m:    mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
			want: 3,
		},
		{
			name: "rank one",
			m:    mat.NewDense(3, 2, []float64{1, 2, 2, 4, 3, 6}),
			want: 1,
		},
		{
			name: "zero matrix",
			m:    mat.NewDense(2, 2, nil),
			want: 0,
		},
		{
			name: "dependent column",
			m: mat.NewDense(4, 3, []float64{
				1, 0, 1,
				1, 0, 1,
				0, 1, 1,
				0, 1, 1,
			}),
			want: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rank(tt.m); got != tt.want {
				t.Errorf("Rank = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFullRank(t *testing.T) {
	// Third column is the sum of the first two.
	a := mat.NewDense(4, 3, []float64{
		1, 0, 1,
		1, 0, 1,
		0, 1, 1,
		0, 1, 1,
	})
	fr, err := FullRank(a)
	if err != nil {
		t.Fatalf("FullRank: %v", err)
	}
	n, r := fr.Dims()
	if n != 4 || r != 2 {
		t.Fatalf("FullRank dims = %dx%d, want 4x2", n, r)
	}
	if Rank(fr) != 2 {
		t.Errorf("FullRank result rank = %d, want 2", Rank(fr))
	}
	// Column span must be preserved: appending the original columns
	// cannot raise the rank.
	joined := mat.NewDense(4, 5, nil)
	joined.Slice(0, 4, 0, 2).(*mat.Dense).Copy(fr)
	joined.Slice(0, 4, 2, 5).(*mat.Dense).Copy(a)
	if Rank(joined) != 2 {
		t.Errorf("joined rank = %d, want 2", Rank(joined))
	}
}

func TestFullRankZero(t *testing.T) {
	fr, err := FullRank(mat.NewDense(3, 2, nil))
	if err != nil {
		t.Fatalf("FullRank: %v", err)
	}
	n, r := fr.Dims()
	if n != 3 || r != 1 {
		t.Fatalf("FullRank dims = %dx%d, want 3x1", n, r)
	}
	if mat.Norm(fr, 2) != 0 {
		t.Errorf("zero matrix must yield a zero column")
	}
}

func TestPinv(t *testing.T) {
	a := mat.NewDense(4, 2, []float64{
		1, 0,
		1, 0,
		0, 1,
		0, 1,
	})
	pinv, err := Pinv(a)
	if err != nil {
		t.Fatalf("Pinv: %v", err)
	}
	p, n := pinv.Dims()
	if p != 2 || n != 4 {
		t.Fatalf("Pinv dims = %dx%d, want 2x4", p, n)
	}

	// A * pinv(A) * A == A
	var ap, back mat.Dense
	ap.Mul(a, pinv)
	back.Mul(&ap, a)
	var diff mat.Dense
	diff.Sub(&back, a)
	if norm := mat.Norm(&diff, 2); norm > 1e-12 {
		t.Errorf("A pinv(A) A deviates from A by %g", norm)
	}
}

func TestPinvRankDeficient(t *testing.T) {
	a := mat.NewDense(3, 2, []float64{1, 2, 2, 4, 3, 6})
	pinv, err := Pinv(a)
	if err != nil {
		t.Fatalf("Pinv: %v", err)
	}
	// Moore-Penrose condition A pinv A = A holds even without full rank.
	var ap, back mat.Dense
	ap.Mul(a, pinv)
	back.Mul(&ap, a)
	var diff mat.Dense
	diff.Sub(&back, a)
	if norm := mat.Norm(&diff, 2); norm > 1e-12 {
		t.Errorf("A pinv(A) A deviates from A by %g", norm)
	}
}

func TestTrace(t *testing.T) {
	a := mat.NewDense(2, 3, []float64{1, 0, 0, 0, 2, 0})
	if got := Trace(a); got != 3 {
		t.Errorf("Trace = %g, want 3", got)
	}
}

func TestRoundToInt(t *testing.T) {
	if got := RoundToInt(1.9999999999); got != 2 {
		t.Errorf("RoundToInt = %d, want 2", got)
	}
	if got := RoundToInt(2.0000000001); got != 2 {
		t.Errorf("RoundToInt = %d, want 2", got)
	}
	if got := RoundToInt(math.Nextafter(3, 4)); got != 3 {
		t.Errorf("RoundToInt = %d, want 3", got)
	}
}
