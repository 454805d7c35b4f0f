package topicmodel

import (
	"math"

	"gonum.org/v1/gonum/mathext"

	"github.com/genomewalk/topicseg/internal/mathutil"
)

// eps is the float64 machine epsilon, added to denominators so that
// pseudocount ratios never divide by zero.
var eps = math.Nextafter(1, 2) - 1

// dirichletExpectation writes E[log X] for X ~ Dirichlet(row) into out:
// out[i] = digamma(row[i]) - digamma(sum(row)). Callers guarantee strictly
// positive pseudocounts by adding the prior beforehand.
func dirichletExpectation(row, out []float64) {
	total := 0.0
	for _, v := range row {
		total += v
	}
	psiTotal := mathext.Digamma(total)
	for i, v := range row {
		out[i] = mathext.Digamma(v) - psiTotal
	}
}

// dirichletExpectation2D applies dirichletExpectation to every row of distr.
func dirichletExpectation2D(distr, out mathutil.Mat) {
	for i := range distr {
		dirichletExpectation(distr[i], out[i])
	}
}

// dirichletExpectation1D adds the prior to gamma in place, then writes
// exp(E[log X]) into outExp. This is the incremental single-document form
// used by the plain-LDA fixed point.
func dirichletExpectation1D(gamma []float64, prior float64, outExp []float64) {
	total := 0.0
	for i := range gamma {
		gamma[i] += prior
		total += gamma[i]
	}
	psiTotal := mathext.Digamma(total)
	for i, v := range gamma {
		outExp[i] = math.Exp(mathext.Digamma(v) - psiTotal)
	}
}

// meanChange returns the mean absolute difference between two vectors, the
// per-document E-step convergence metric.
func meanChange(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum / float64(len(a))
}
