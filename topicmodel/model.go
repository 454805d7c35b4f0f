// Package topicmodel fits a latent chromatin-state topic model over a sparse
// cell-by-bin count matrix by online variational Bayes. Each document (cell)
// gets a Dirichlet posterior over topics and each topic a Dirichlet posterior
// over genomic bins. When a companion gap structure is supplied, successive
// active bins are coupled by a two-state-per-topic Markov chain whose
// fresh-start probability is a fitted sigmoid of genomic distance; without
// it the model is plain multinomial LDA.
package topicmodel

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/genomewalk/topicseg/corpus"
	"github.com/genomewalk/topicseg/internal/mathutil"
)

// defaultRegWeights degenerates the Markov chain to plain LDA: for genomic
// distances the sigmoid argument is far into saturation, so labels never
// carry over until the first regression refit learns otherwise.
var defaultRegWeights = [2]float64{-1, 1}

// Model holds the global topic parameters. It is constructed unfitted; the
// first Fit (or PartialFit) call initializes the latent state and later
// calls continue from it, so online learning never resets the parameters.
type Model struct {
	cfg    Config
	rng    *rand.Rand
	fitted bool
	markov bool

	nFeatures int

	// components are the unnormalized Dirichlet posteriors over bins per
	// topic (lambda), updated every M-step.
	components mathutil.Mat
	// expDirichlet caches E[log beta] from components, exponentiated in
	// plain-LDA mode. Read-only during parallel E-steps.
	expDirichlet mathutil.Mat
	// regWeights are the (intercept, slope) of the distance-decay sigmoid.
	regWeights [2]float64

	nBatchIter   int
	nIter        int
	nonConverged int
	bound        float64
}

// New creates an unfitted model with the given configuration. Configuration
// errors surface here, before any data pass.
func New(cfg Config) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Model{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}, nil
}

// initLatentVars performs the construction-time initialization of the latent
// state on the first data pass.
func (m *Model) initLatentVars(X *corpus.Matrix, markov bool) error {
	K := m.cfg.NComponents
	F := X.Cols()
	m.markov = markov
	m.nFeatures = F
	m.nBatchIter = 1
	m.nIter = 0

	if m.cfg.NSeeds > 0 {
		comps, err := seedComponents(X, K, m.cfg.NSeeds, m.rng)
		if err != nil {
			return err
		}
		m.components = comps
	} else {
		gamma := distuv.Gamma{Alpha: initGammaShape, Beta: initGammaRate, Src: m.rng}
		m.components = mathutil.NewMat(K, F)
		for k := range m.components {
			for f := range m.components[k] {
				m.components[k][f] = gamma.Rand()
			}
		}
	}

	m.regWeights = defaultRegWeights
	if m.cfg.RegWeights != nil {
		m.regWeights = *m.cfg.RegWeights
	}

	m.expDirichlet = mathutil.NewMat(K, F)
	m.refreshExpDirichlet()
	m.fitted = true
	return nil
}

// seedComponents initializes topics from document means: nSeeds sampled
// documents are averaged per topic, doubled, and offset by the uniform
// 1/K floor so every pseudocount stays strictly positive.
func seedComponents(X *corpus.Matrix, K, nSeeds int, rng *rand.Rand) (mathutil.Mat, error) {
	need := K * nSeeds
	if X.Rows() < need {
		return nil, fmt.Errorf("topicmodel: seeded init needs %d documents, corpus has %d", need, X.Rows())
	}
	idx := rng.Perm(X.Rows())[:need]
	comps := mathutil.NewMatFill(K, X.Cols(), 1.0/float64(K))
	scale := 2.0 / float64(nSeeds)
	for s := 0; s < nSeeds; s++ {
		for k := 0; k < K; k++ {
			ids, cnts := X.Row(idx[s*K+k])
			for i, id := range ids {
				comps[k][id] += scale * cnts[i]
			}
		}
	}
	return comps, nil
}

// refreshExpDirichlet recomputes the cached emission expectations from the
// current components. Plain-LDA mode works in the exp domain.
func (m *Model) refreshExpDirichlet() {
	dirichletExpectation2D(m.components, m.expDirichlet)
	if !m.markov {
		for k := range m.expDirichlet {
			row := m.expDirichlet[k]
			for f := range row {
				row[f] = math.Exp(row[f])
			}
		}
	}
}

// Components returns a copy of the fitted topic-bin pseudocount matrix
// (topics x features).
func (m *Model) Components() *mat.Dense {
	K := len(m.components)
	out := mat.NewDense(K, m.nFeatures, nil)
	for k := range m.components {
		out.SetRow(k, m.components[k])
	}
	return out
}

// ExpDirichletComponent returns exp(E[log beta]) under the fitted topic-bin
// Dirichlet posterior, as a copy. Rows are topics, columns are features.
func (m *Model) ExpDirichletComponent() *mat.Dense {
	K := len(m.expDirichlet)
	out := mat.NewDense(K, m.nFeatures, nil)
	for k := range m.expDirichlet {
		out.SetRow(k, m.expDirichlet[k])
		if m.markov {
			for f := 0; f < m.nFeatures; f++ {
				out.Set(k, f, math.Exp(out.At(k, f)))
			}
		}
	}
	return out
}

// RegWeights returns the current (intercept, slope) distance-decay weights.
func (m *Model) RegWeights() [2]float64 { return m.regWeights }

// NIter returns the number of completed passes over the dataset.
func (m *Model) NIter() int { return m.nIter }

// NBatchIter returns the lifetime count of EM mini-batch updates.
func (m *Model) NBatchIter() int { return m.nBatchIter }

// NonConverged returns the cumulative count of documents whose per-document
// fixed point hit the iteration cap. Non-convergence is a soft stop, not an
// error; the counter exists as a diagnostic.
func (m *Model) NonConverged() int { return m.nonConverged }

// Bound returns the variational bound computed at the end of the last Fit.
func (m *Model) Bound() float64 { return m.bound }

// IsFitted reports whether the latent state has been initialized.
func (m *Model) IsFitted() bool { return m.fitted }
