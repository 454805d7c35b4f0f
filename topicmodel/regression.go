package topicmodel

import (
	"log"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/genomewalk/topicseg/corpus"
	"github.com/genomewalk/topicseg/internal/mathutil"
)

// regLambda is the L2 penalty on the distance-decay weights in the refit
// loss, keeping the slope from diverging when the targets saturate.
const regLambda = 1e-2

// regressionLoss is the regularized log-loss of the sigmoid fresh-start
// model against the forward-backward regression targets. lens[d] is the
// number of active bins in document d; document d contributes lens[d]-1
// (gap, target) pairs. Gaps beyond maxDist use the capped argument, same as
// the lattice.
func regressionLoss(w []float64, gaps *corpus.Gaps, lens []int, targets [][]float64, maxDist float64) float64 {
	loss := 0.0
	for d, n := range lens {
		if n < 2 {
			continue
		}
		row := gaps.Row(d)
		tgt := targets[d]
		for i := 0; i < n-1; i++ {
			arg := w[0] + w[1]*row[i]
			if row[i] > maxDist {
				arg = maxDistArg
			}
			t := tgt[i]
			loss -= t*mathutil.LogSigmoid(arg) + (1-t)*mathutil.LogSigmoid(-arg)
		}
	}
	return loss + regLambda*(w[0]*w[0]+w[1]*w[1])
}

// fitRegWeights refits the (intercept, slope) distance-decay weights by
// Nelder-Mead minimization, warm-started from the current weights. A failed
// refit is a recoverable condition: the previous weights are kept so the EM
// loop is never corrupted.
func fitRegWeights(current [2]float64, gaps *corpus.Gaps, lens []int, targets [][]float64, maxDist float64) [2]float64 {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return regressionLoss(x, gaps, lens, targets, maxDist)
		},
	}
	init := []float64{current[0], current[1]}
	result, err := optimize.Minimize(problem, init, nil, &optimize.NelderMead{})
	if err != nil {
		log.Printf("topicseg: distance-decay refit failed, keeping previous weights: %v", err)
		return current
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		log.Printf("topicseg: distance-decay refit diverged, keeping previous weights")
		return current
	}
	return [2]float64{result.X[0], result.X[1]}
}
