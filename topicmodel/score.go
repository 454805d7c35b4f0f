package topicmodel

import (
	"math"

	"github.com/genomewalk/topicseg/corpus"
	"github.com/genomewalk/topicseg/internal/mathutil"
)

// computeLikelihood returns E[log p(docs | theta, beta)] for X given the
// expected log parameters. The Markov path reuses the forward recursion in
// likelihood mode; the LDA path sums per-bin logsumexp mixtures.
func (m *Model) computeLikelihood(X *corpus.Matrix, gaps *corpus.Gaps, elogDocTopic, elogComponents mathutil.Mat) float64 {
	K := m.cfg.NComponents
	score := 0.0

	if !m.markov {
		temp := mathutil.NewVec(K)
		for d := 0; d < X.Rows(); d++ {
			ids, cnts := X.Row(d)
			for t, id := range ids {
				for k := 0; k < K; k++ {
					temp[k] = elogDocTopic[d][k] + elogComponents[k][id]
				}
				score += cnts[t] * mathutil.LogSumExp(temp)
			}
		}
		return score
	}

	ws := newDocWorkspace(K)
	for d := 0; d < X.Rows(); d++ {
		ids, cnts := X.Row(d)
		L := len(ids)
		if L == 0 {
			continue
		}
		ws.ensure(L, K)
		for k := 0; k < K; k++ {
			row := elogComponents[k]
			off := k * L
			for t, id := range ids {
				ws.elogBeta[off+t] = row[id]
			}
		}
		buildLogSigArg(gaps.Row(d)[:L-1], m.regWeights, m.cfg.MaxDist, ws.logSigArg)
		score += forward(L, K, cnts, elogDocTopic[d], ws.elogBeta, ws.logSigArg, ws.fwd, ws.scratch)
	}
	return score
}

// dirichletLogPrior returns E[log p(x | prior) - log q(x | distr)] summed
// over the rows of distr, with size the row dimensionality.
func dirichletLogPrior(prior float64, distr, elogDistr mathutil.Mat, size int) float64 {
	lgPrior, _ := math.Lgamma(prior)
	lgPriorSum, _ := math.Lgamma(prior * float64(size))
	score := 0.0
	for i := range distr {
		rowSum := 0.0
		for j, v := range distr[i] {
			score += (prior-v)*elogDistr[i][j] - lgPrior
			lg, _ := math.Lgamma(v)
			score += lg
			rowSum += v
		}
		lgRow, _ := math.Lgamma(rowSum)
		score += lgPriorSum - lgRow
	}
	return score
}

// approxBound estimates the variational lower bound over all documents from
// the documents in X. subSampling compensates for online mini-batching.
func (m *Model) approxBound(X *corpus.Matrix, gaps *corpus.Gaps, docTopic mathutil.Mat, subSampling bool) float64 {
	K := m.cfg.NComponents
	elogDocTopic := mathutil.NewMat(len(docTopic), K)
	dirichletExpectation2D(docTopic, elogDocTopic)
	elogComponents := mathutil.NewMat(K, m.nFeatures)
	dirichletExpectation2D(m.components, elogComponents)

	score := m.computeLikelihood(X, gaps, elogDocTopic, elogComponents)

	// E[log p(theta | alpha) - log q(theta | gamma)]
	score += dirichletLogPrior(m.cfg.DocTopicPrior, docTopic, elogDocTopic, K)

	if subSampling {
		score *= float64(m.cfg.TotalSamples) / float64(len(docTopic))
	}

	// E[log p(beta | eta) - log q(beta | lambda)]
	score += dirichletLogPrior(m.cfg.TopicWordPrior, m.components, elogComponents, m.nFeatures)
	return score
}
