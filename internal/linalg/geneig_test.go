// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package linalg

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// Builds symmetric C = B*Q*diag(lambda)*Q^T*B, so that C*v = lambda*B*v
// has the given eigenvalues with B-orthonormal eigenvectors
func knownProblem(lambda []float64) (c, b *mat.SymDense) {
	n := len(lambda)
	b = mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 1.0 / float64(1+i+j)
			if i == j {
				v += float64(n)
			}
			b.SetSym(i, j, v)
		}
	}
	// any invertible V with V^T*B*V = I works; take V = L^-T
	var chol mat.Cholesky
	chol.Factorize(b)
	var l, linv mat.TriDense
	chol.LTo(&l)
	linv.InverseTri(&l)
	var v mat.Dense
	v.CloneFrom(linv.T())

	// C = B*V*diag(lambda)*V^T*B
	var bv, tmp, full mat.Dense
	bv.Mul(b, &v)
	tmp.Mul(&bv, mat.NewDiagDense(n, lambda))
	full.Mul(&tmp, bv.T())
	c = mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c.SetSym(i, j, 0.5*(full.At(i, j)+full.At(j, i)))
		}
	}
	return c, b
}

func TestGenEigenSymKnownValues(t *testing.T) {
	epsilon := 1e-8
	tcs := [][]float64{
		{0.25},
		{0.9, 0.1},
		{0.3, 0.95, 0.6},
		{0.01, 0.5, 0.99, 0.75},
	}
	for _, lambda := range tcs {
		c, b := knownProblem(lambda)
		vals, vecs, err := GenEigenSym(c, b)
		if err != nil {
			t.Fatalf("GenEigenSym: %v", err)
		}
		SortEigen(vals, vecs)

		want := append([]float64(nil), lambda...)
		SortEigen(want, mat.NewDense(len(want), len(want), nil))
		for i := range want {
			if math.Abs(vals[i]-want[i]) > epsilon {
				t.Errorf("lambda[%d]=%g; want %g", i, vals[i], want[i])
			}
		}

		// C*v = lambda*B*v for every column
		n := len(lambda)
		for i := 0; i < n; i++ {
			v := vecs.ColView(i)
			var cv, bv mat.VecDense
			cv.MulVec(c, v)
			bv.MulVec(b, v)
			bv.ScaleVec(vals[i], &bv)
			if !mat.EqualApprox(&cv, &bv, epsilon) {
				t.Errorf("n=%d column %d does not satisfy C*v = lambda*B*v", n, i)
			}
		}

		// V^T*B*V = I
		var tmp, vbv mat.Dense
		tmp.Mul(vecs.T(), b)
		vbv.Mul(&tmp, vecs)
		if !mat.EqualApprox(&vbv, eye(n), epsilon) {
			t.Errorf("n=%d eigenvectors not B-orthonormal:\n%v", n, mat.Formatted(&vbv))
		}
	}
}

func eye(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

func TestSortEigenPermutesColumns(t *testing.T) {
	vals := []float64{3, 1, 2}
	vecs := mat.NewDense(2, 3, []float64{
		30, 10, 20,
		31, 11, 21,
	})
	perm := SortEigen(vals, vecs)
	if perm[0] != 1 || perm[1] != 2 || perm[2] != 0 {
		t.Errorf("perm=%v; want [1 2 0]", perm)
	}
	want := mat.NewDense(2, 3, []float64{
		10, 20, 30,
		11, 21, 31,
	})
	if vals[0] != 1 || vals[1] != 2 || vals[2] != 3 || !mat.Equal(vecs, want) {
		t.Errorf("sorted vals %v vecs\n%v", vals, mat.Formatted(vecs))
	}
}

func TestGenEigenSymSingular(t *testing.T) {
	c := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	b := mat.NewSymDense(2, []float64{1, 1, 1, 1})
	if _, _, err := GenEigenSym(c, b); !errors.Is(err, ErrSingular) {
		t.Errorf("err=%v; want ErrSingular", err)
	}
	if _, err := SolveSym(mat.NewSymDense(1, []float64{0}), mat.NewDense(1, 1, []float64{1})); !errors.Is(err, ErrSingular) {
		t.Errorf("SolveSym err=%v; want ErrSingular", err)
	}
}
