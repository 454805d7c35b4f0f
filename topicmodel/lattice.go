package topicmodel

import (
	"math"

	"github.com/genomewalk/topicseg/internal/mathutil"
)

// maxDistArg is the sigmoid argument substituted for gaps beyond MaxDist;
// sigmoid(100) is indistinguishable from 1, so the fresh-start branch is
// forced and no topic label can propagate across the gap.
const maxDistArg = 100.0

// The forward lattice fwd is a flat [L][K][2] array indexed (t*K+k)*2+s,
// where s=0 is the "topic label continues from the previous active bin"
// branch and s=1 the "fresh draw from the document's topic distribution"
// branch. The backward lattice bwd is flat [L][K]. elogBeta holds the
// expected log emission weights for the document's active bins, flat [K][L]
// indexed k*L+t. logSigArg[i] is the sigmoid argument of the fresh-start
// probability for the gap between active bins i and i+1. Counts scale the
// emission exponent, so a fully decoupled chain reduces to the plain
// multinomial phi update only on binary counts.

// buildLogSigArg fills dst with intercept + slope*gap per adjacent-bin gap,
// forcing maxDistArg wherever the gap exceeds maxDist.
func buildLogSigArg(gaps []float64, weights [2]float64, maxDist float64, dst []float64) {
	for i := range dst {
		if gaps[i] > maxDist {
			dst[i] = maxDistArg
			continue
		}
		dst[i] = weights[0] + weights[1]*gaps[i]
	}
}

// forward fills the forward lattice and returns the document log-likelihood
// logsumexp over the final column. The same recursion serves the
// statistics, likelihood and score passes; likelihood-only callers simply
// ignore the lattice contents.
func forward(L, K int, cnts, elogTheta, elogBeta, logSigArg, fwd, prevK []float64) float64 {
	for k := 0; k < K; k++ {
		fwd[k*2] = mathutil.LogZero
		fwd[k*2+1] = elogTheta[k] + cnts[0]*elogBeta[k*L]
	}
	for t := 1; t < L; t++ {
		prevOff := (t - 1) * K * 2
		for k := 0; k < K; k++ {
			prevK[k] = mathutil.LogAdd(fwd[prevOff+k*2], fwd[prevOff+k*2+1])
		}
		prevAll := mathutil.LogSumExp(prevK)
		logFresh := mathutil.LogSigmoid(logSigArg[t-1])
		logCont := mathutil.LogSigmoid(-logSigArg[t-1])
		off := t * K * 2
		for k := 0; k < K; k++ {
			e := cnts[t] * elogBeta[k*L+t]
			fwd[off+k*2] = logCont + prevK[k] + e
			fwd[off+k*2+1] = logFresh + elogTheta[k] + prevAll + e
		}
	}
	lastOff := (L - 1) * K * 2
	ll := mathutil.LogZero
	for k := 0; k < K; k++ {
		ll = mathutil.LogAdd(ll, mathutil.LogAdd(fwd[lastOff+k*2], fwd[lastOff+k*2+1]))
	}
	return ll
}

// backward fills the backward lattice: bwd[t*K+k] is the log suffix
// likelihood of active bins t+1..L-1 given topic k at bin t.
func backward(L, K int, cnts, elogTheta, elogBeta, logSigArg, bwd, scratch []float64) {
	lastOff := (L - 1) * K
	for k := 0; k < K; k++ {
		bwd[lastOff+k] = 0
	}
	for t := L - 2; t >= 0; t-- {
		logFresh := mathutil.LogSigmoid(logSigArg[t])
		logCont := mathutil.LogSigmoid(-logSigArg[t])
		nextOff := (t + 1) * K
		for k := 0; k < K; k++ {
			scratch[k] = elogTheta[k] + cnts[t+1]*elogBeta[k*L+t+1] + bwd[nextOff+k]
		}
		// The fresh branch sums over all successor topics, so its mass is
		// shared by every topic at bin t.
		freshMass := logFresh + mathutil.LogSumExp(scratch)
		for k := 0; k < K; k++ {
			cont := logCont + cnts[t+1]*elogBeta[k*L+t+1] + bwd[nextOff+k]
			bwd[t*K+k] = mathutil.LogAdd(cont, freshMass)
		}
	}
}

// thetaStats accumulates the expected topic-assignment counts into dst:
// dst[k] += cnts[t] * gamma_t(k), with gamma_t the posterior topic marginal
// at bin t from the filled lattices.
func thetaStats(L, K int, cnts, fwd, bwd, dst, post []float64) {
	for t := 0; t < L; t++ {
		fOff := t * K * 2
		bOff := t * K
		for k := 0; k < K; k++ {
			post[k] = mathutil.LogAdd(fwd[fOff+k*2], fwd[fOff+k*2+1]) + bwd[bOff+k]
		}
		norm := mathutil.LogSumExp(post)
		if norm <= mathutil.LogZero+1 {
			continue
		}
		for k := 0; k < K; k++ {
			dst[k] += cnts[t] * math.Exp(post[k]-norm)
		}
	}
}

// betaStats scatters the same posterior marginals into the global emission
// sufficient statistics at (k, ids[t]).
func betaStats(L, K int, cnts []float64, ids []int, fwd, bwd []float64, sstats mathutil.Mat, post []float64) {
	for t := 0; t < L; t++ {
		fOff := t * K * 2
		bOff := t * K
		for k := 0; k < K; k++ {
			post[k] = mathutil.LogAdd(fwd[fOff+k*2], fwd[fOff+k*2+1]) + bwd[bOff+k]
		}
		norm := mathutil.LogSumExp(post)
		if norm <= mathutil.LogZero+1 {
			continue
		}
		col := ids[t]
		for k := 0; k < K; k++ {
			sstats[k][col] += cnts[t] * math.Exp(post[k]-norm)
		}
	}
}

// regTargets writes, per adjacent-bin gap, the posterior probability that
// the topic label did not carry over (the fresh-branch mass at bin t+1).
// These are the regression targets for the distance-decay refit.
func regTargets(L, K int, fwd, bwd, dst []float64) {
	for t := 1; t < L; t++ {
		fOff := t * K * 2
		bOff := t * K
		fresh := mathutil.LogZero
		total := mathutil.LogZero
		for k := 0; k < K; k++ {
			f := fwd[fOff+k*2+1] + bwd[bOff+k]
			c := fwd[fOff+k*2] + bwd[bOff+k]
			fresh = mathutil.LogAdd(fresh, f)
			total = mathutil.LogAdd(total, mathutil.LogAdd(f, c))
		}
		if total <= mathutil.LogZero+1 {
			dst[t-1] = 0
			continue
		}
		dst[t-1] = math.Exp(fresh - total)
	}
}
