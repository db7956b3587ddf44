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


package mad

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/linalg"
)

// CanonicalSolve computes the canonical transforms of one IR-MAD iteration
// from the partitioned covariance matrix. Returns reference loadings A,
// target loadings B and the squared canonical correlations mu2, sorted
// ascending.
type CanonicalSolve interface {
	Solve(s11, s22 mat.Symmetric, s12 mat.Matrix) (a, b *mat.Dense, mu2 []float64, err error)
}

// solverFor picks the scalar solver for single band runs, the matrix solver otherwise
func solverFor(bands int) CanonicalSolve {
	if bands == 1 {
		return Scalar{}
	}
	return Matrix{}
}

// solveCanonical solves the canonical correlation problem for the given covariance blocks
func solveCanonical(s11, s22 mat.Symmetric, s12 mat.Matrix) (a, b *mat.Dense, mu2 []float64, err error) {
	return solverFor(s11.SymmetricDim()).Solve(s11, s22, s12)
}

// Scalar solves the one band case in closed form: A=1/sqrt(S11),
// B=1/sqrt(S22), mu2=S12*S21/(S22*S11).
type Scalar struct{}

func (Scalar) Solve(s11, s22 mat.Symmetric, s12 mat.Matrix) (a, b *mat.Dense, mu2 []float64, err error) {
	if s11.SymmetricDim() != 1 {
		return nil, nil, nil, errors.Errorf("scalar canonical solve with %d bands", s11.SymmetricDim())
	}
	v11, v22, v12 := s11.At(0, 0), s22.At(0, 0), s12.At(0, 0)
	if !(v11 > 0) || !(v22 > 0) {
		return nil, nil, nil, errors.Wrapf(linalg.ErrSingular, "band variances %g and %g", v11, v22)
	}
	c1 := v12 * v12 / v22
	a = mat.NewDense(1, 1, []float64{1 / math.Sqrt(v11)})
	b = mat.NewDense(1, 1, []float64{1 / math.Sqrt(v22)})
	return a, b, []float64{c1 / v11}, nil
}

// Matrix solves the generalized eigenproblems C1*a = mu2*S11*a with
// C1 = S12*S22^-1*S21, and C2*b = mu2*S22*b with C2 = S21*S11^-1*S12.
// The correlations are taken from the target side problem.
type Matrix struct{}

func (Matrix) Solve(s11, s22 mat.Symmetric, s12 mat.Matrix) (a, b *mat.Dense, mu2 []float64, err error) {
	s21 := mat.DenseCopyOf(s12.T())

	// C1 = S12 * S22^-1 * S21
	x, err := linalg.SolveSym(s22, s21)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "inverting target covariance")
	}
	c1 := symmetrize(mat.NewDense(s11.SymmetricDim(), s11.SymmetricDim(), nil), s12, x)

	// C2 = S21 * S11^-1 * S12
	y, err := linalg.SolveSym(s11, s12)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "inverting reference covariance")
	}
	c2 := symmetrize(mat.NewDense(s22.SymmetricDim(), s22.SymmetricDim(), nil), s21, y)

	mu2a, a, err := linalg.GenEigenSym(c1, s11)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "reference side eigenproblem")
	}
	linalg.SortEigen(mu2a, a)

	mu2, b, err = linalg.GenEigenSym(c2, s22)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "target side eigenproblem")
	}
	linalg.SortEigen(mu2, b)
	return a, b, mu2, nil
}

// Computes dst = l*r and returns its symmetric part. The products above are
// symmetric in exact arithmetic only.
func symmetrize(dst *mat.Dense, l, r mat.Matrix) *mat.SymDense {
	dst.Mul(l, r)
	n, _ := dst.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(dst.At(i, j)+dst.At(j, i)))
		}
	}
	return s
}

// penalize blends a covariance block with the identity, (1-lambda)*S + lambda*I
func penalize(s *mat.SymDense, lambda float64) *mat.SymDense {
	if lambda == 0 {
		return s
	}
	n := s.SymmetricDim()
	res := mat.NewSymDense(n, nil)
	res.ScaleSym(1-lambda, s)
	for i := 0; i < n; i++ {
		res.SetSym(i, i, res.At(i, i)+lambda)
	}
	return res
}
