package topicmodel

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/genomewalk/topicseg/corpus"
	"github.com/genomewalk/topicseg/internal/mathutil"
)

// Initialization of the per-document topic pseudocounts: Gamma(100, rate 100)
// draws, mean 1 with small variance.
const (
	initGammaShape = 100.0
	initGammaRate  = 100.0
)

// docUpdateParams is the read-only snapshot a worker needs for one E-step
// slice. Nothing here is written during the parallel phase.
type docUpdateParams struct {
	// elogBeta is E[log beta] (topics x features) in Markov mode, or its
	// exponential in plain-LDA mode.
	elogBeta      mathutil.Mat
	docTopicPrior float64
	regWeights    [2]float64
	maxDist       float64
	maxIters      int
	tol           float64
	calStats      bool
}

// docWorkspace holds per-worker buffers reused across documents. Lattices
// are transient working memory, never shared across documents.
type docWorkspace struct {
	fwd       []float64 // L*K*2 forward lattice
	bwd       []float64 // L*K backward lattice
	elogBeta  []float64 // K*L gathered emission expectations
	logSigArg []float64 // L-1 transition penalty arguments
	elogTheta []float64 // K
	last      []float64 // K previous fixed-point iterate
	scratch   []float64 // K
	post      []float64 // K
	normPhi   []float64 // L (plain-LDA mode)
}

func newDocWorkspace(K int) *docWorkspace {
	return &docWorkspace{
		elogTheta: mathutil.NewVec(K),
		last:      mathutil.NewVec(K),
		scratch:   mathutil.NewVec(K),
		post:      mathutil.NewVec(K),
	}
}

func (ws *docWorkspace) ensure(L, K int) {
	ws.fwd = mathutil.EnsureVec(ws.fwd, L*K*2)
	ws.bwd = mathutil.EnsureVec(ws.bwd, L*K)
	ws.elogBeta = mathutil.EnsureVec(ws.elogBeta, K*L)
	ws.normPhi = mathutil.EnsureVec(ws.normPhi, L)
	if L > 1 {
		ws.logSigArg = mathutil.EnsureVec(ws.logSigArg, L-1)
	} else {
		ws.logSigArg = ws.logSigArg[:0]
	}
}

// initDocTopic fills one document-topic row: random Gamma pseudocounts in
// training E-steps, all ones in transform/score E-steps.
func initDocTopic(row []float64, gamma *distuv.Gamma) {
	if gamma == nil {
		mathutil.FillVec(row, 1)
		return
	}
	for k := range row {
		row[k] = gamma.Rand()
	}
}

// updateDocsMarkov runs the Markov-chain E-step fixed point over documents
// [start, end) of X, writing document-topic rows into docTopic and, when
// requested, accumulating emission sufficient statistics into sstats and
// regression targets into targets. Returns the number of documents whose
// fixed point hit the iteration cap without converging.
func updateDocsMarkov(X *corpus.Matrix, gaps *corpus.Gaps, start, end int,
	p docUpdateParams, rng *rand.Rand,
	docTopic, sstats mathutil.Mat, targets [][]float64) int {

	K := len(p.elogBeta)
	ws := newDocWorkspace(K)
	var gammaDist *distuv.Gamma
	if rng != nil {
		gammaDist = &distuv.Gamma{Alpha: initGammaShape, Beta: initGammaRate, Src: rng}
	}

	nonConverged := 0
	for d := start; d < end; d++ {
		gammaD := docTopic[d]
		initDocTopic(gammaD, gammaDist)

		ids, cnts := X.Row(d)
		L := len(ids)
		if L == 0 {
			// No active bins: the document contributes no statistics and
			// keeps its initialized topic distribution.
			continue
		}
		ws.ensure(L, K)

		// Gather the emission expectations for this document's active bins;
		// the global matrix is read-only during the whole E-step.
		for k := 0; k < K; k++ {
			row := p.elogBeta[k]
			off := k * L
			for t, id := range ids {
				ws.elogBeta[off+t] = row[id]
			}
		}
		buildLogSigArg(gaps.Row(d)[:L-1], p.regWeights, p.maxDist, ws.logSigArg)

		dirichletExpectation(gammaD, ws.elogTheta)

		converged := false
		for it := 0; it < p.maxIters; it++ {
			copy(ws.last, gammaD)

			backward(L, K, cnts, ws.elogTheta, ws.elogBeta, ws.logSigArg, ws.bwd, ws.scratch)
			forward(L, K, cnts, ws.elogTheta, ws.elogBeta, ws.logSigArg, ws.fwd, ws.scratch)

			mathutil.FillVec(gammaD, 0)
			thetaStats(L, K, cnts, ws.fwd, ws.bwd, gammaD, ws.post)
			for k := 0; k < K; k++ {
				gammaD[k] += p.docTopicPrior
			}
			dirichletExpectation(gammaD, ws.elogTheta)

			if meanChange(ws.last, gammaD) < p.tol {
				converged = true
				break
			}
		}
		if !converged {
			nonConverged++
		}

		if p.calStats {
			// One more pass so the lattices reflect the final topic vector.
			backward(L, K, cnts, ws.elogTheta, ws.elogBeta, ws.logSigArg, ws.bwd, ws.scratch)
			forward(L, K, cnts, ws.elogTheta, ws.elogBeta, ws.logSigArg, ws.fwd, ws.scratch)
			betaStats(L, K, cnts, ids, ws.fwd, ws.bwd, sstats, ws.post)
			if L > 1 {
				regTargets(L, K, ws.fwd, ws.bwd, targets[d])
			}
		}
	}
	return nonConverged
}

// updateDocsLDA runs the plain multinomial LDA E-step fixed point over
// documents [start, end). p.elogBeta holds exp(E[log beta]) here; the
// transition penalty is never consulted.
func updateDocsLDA(X *corpus.Matrix, start, end int,
	p docUpdateParams, rng *rand.Rand,
	docTopic, sstats mathutil.Mat) int {

	K := len(p.elogBeta)
	ws := newDocWorkspace(K)
	expElogTheta := ws.elogTheta // exp domain in this mode
	var gammaDist *distuv.Gamma
	if rng != nil {
		gammaDist = &distuv.Gamma{Alpha: initGammaShape, Beta: initGammaRate, Src: rng}
	}

	nonConverged := 0
	for d := start; d < end; d++ {
		gammaD := docTopic[d]
		initDocTopic(gammaD, gammaDist)

		ids, cnts := X.Row(d)
		L := len(ids)
		if L == 0 {
			continue
		}
		ws.ensure(L, K)
		for k := 0; k < K; k++ {
			row := p.elogBeta[k]
			off := k * L
			for t, id := range ids {
				ws.elogBeta[off+t] = row[id]
			}
		}

		dirichletExpectation(gammaD, ws.scratch)
		for k := 0; k < K; k++ {
			expElogTheta[k] = math.Exp(ws.scratch[k])
		}

		converged := false
		for it := 0; it < p.maxIters; it++ {
			copy(ws.last, gammaD)

			// phi_{tk} is proportional to expElogTheta[k] * expElogBeta[k,t];
			// normPhi[t] is its normalizer over topics.
			ldaNormPhi(L, K, expElogTheta, ws.elogBeta, ws.normPhi)
			for k := 0; k < K; k++ {
				acc := 0.0
				off := k * L
				for t := 0; t < L; t++ {
					acc += cnts[t] / ws.normPhi[t] * ws.elogBeta[off+t]
				}
				gammaD[k] = expElogTheta[k] * acc
			}
			dirichletExpectation1D(gammaD, p.docTopicPrior, expElogTheta)

			if meanChange(ws.last, gammaD) < p.tol {
				converged = true
				break
			}
		}
		if !converged {
			nonConverged++
		}

		if p.calStats {
			ldaNormPhi(L, K, expElogTheta, ws.elogBeta, ws.normPhi)
			for k := 0; k < K; k++ {
				off := k * L
				row := sstats[k]
				for t := 0; t < L; t++ {
					row[ids[t]] += expElogTheta[k] * cnts[t] / ws.normPhi[t] * ws.elogBeta[off+t]
				}
			}
		}
	}
	return nonConverged
}

// ldaNormPhi fills normPhi[t] = eps + sum_k expElogTheta[k]*expElogBeta[k,t].
func ldaNormPhi(L, K int, expElogTheta, expElogBeta, normPhi []float64) {
	for t := 0; t < L; t++ {
		normPhi[t] = eps
	}
	for k := 0; k < K; k++ {
		w := expElogTheta[k]
		off := k * L
		for t := 0; t < L; t++ {
			normPhi[t] += w * expElogBeta[off+t]
		}
	}
}
