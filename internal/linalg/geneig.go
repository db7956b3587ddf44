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


// Package linalg solves the symmetric generalized eigenproblem behind
// canonical correlation analysis.
package linalg

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned when the right-hand matrix of a generalized
// eigenproblem is not positive definite to working precision
var ErrSingular = errors.New("linear algebra error: matrix is singular to working precision")

// maxCond is the largest condition number accepted for a factorization
const maxCond = 1e14

// GenEigenSym solves C*v = lambda*B*v for symmetric C and symmetric positive
// definite B. Returns the eigenvalues and the eigenvectors as columns, which
// are normalized such that V^T*B*V = I. The order of eigenvalues is whatever
// the underlying solver yields; use SortEigen before relying on it.
func GenEigenSym(c, b mat.Symmetric) (values []float64, vectors *mat.Dense, err error) {
	n := c.SymmetricDim()
	if b.SymmetricDim() != n {
		return nil, nil, errors.Errorf("generalized eigenproblem with %dx%d and %dx%d matrices", n, n, b.SymmetricDim(), b.SymmetricDim())
	}

	// B = L*L^T
	var chol mat.Cholesky
	if ok := chol.Factorize(b); !ok {
		return nil, nil, errors.Wrap(ErrSingular, "cholesky factorization failed")
	}
	if cond := chol.Cond(); cond > maxCond || math.IsNaN(cond) {
		return nil, nil, errors.Wrapf(ErrSingular, "condition number %g", cond)
	}
	var l mat.TriDense
	chol.LTo(&l)
	var linv mat.TriDense
	if err := linv.InverseTri(&l); err != nil {
		return nil, nil, errors.Wrap(ErrSingular, err.Error())
	}

	// reduce to the standard problem M*w = lambda*w with M = L^-1 * C * L^-T
	var tmp, m mat.Dense
	tmp.Mul(&linv, c)
	m.Mul(&tmp, linv.T())
	ms := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			ms.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}

	var es mat.EigenSym
	if ok := es.Factorize(ms, true); !ok {
		return nil, nil, errors.New("linear algebra error: symmetric eigendecomposition did not converge")
	}
	values = es.Values(nil)
	var w mat.Dense
	es.VectorsTo(&w)

	// back substitute v = L^-T * w
	vectors = mat.NewDense(n, n, nil)
	vectors.Mul(linv.T(), &w)
	return values, vectors, nil
}

// SortEigen reorders eigenvalues ascending and permutes the eigenvector
// columns to match. Returns the permutation applied, perm[i] being the
// original index of the i-th sorted eigenvalue.
func SortEigen(values []float64, vectors *mat.Dense) (perm []int) {
	n := len(values)
	perm = make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool { return values[perm[i]] < values[perm[j]] })

	sortedVals := make([]float64, n)
	r, _ := vectors.Dims()
	sortedVecs := mat.NewDense(r, n, nil)
	col := make([]float64, r)
	for i, p := range perm {
		sortedVals[i] = values[p]
		mat.Col(col, p, vectors)
		sortedVecs.SetCol(i, col)
	}
	copy(values, sortedVals)
	vectors.Copy(sortedVecs)
	return perm
}

// SolveSym returns X with A*X = B for symmetric positive definite A
func SolveSym(a mat.Symmetric, b mat.Matrix) (*mat.Dense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, errors.Wrap(ErrSingular, "cholesky factorization failed")
	}
	if cond := chol.Cond(); cond > maxCond || math.IsNaN(cond) {
		return nil, errors.Wrapf(ErrSingular, "condition number %g", cond)
	}
	var x mat.Dense
	if err := chol.SolveTo(&x, b); err != nil {
		return nil, errors.Wrap(ErrSingular, err.Error())
	}
	return &x, nil
}
