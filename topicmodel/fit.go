package topicmodel

import (
	"fmt"
	"log"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"golang.org/x/exp/rand"

	"github.com/genomewalk/topicseg/corpus"
	"github.com/genomewalk/topicseg/internal/mathutil"
)

// evenSlices partitions n documents into nPacks contiguous [start, end)
// ranges whose sizes differ by at most one.
func evenSlices(n, nPacks int) [][2]int {
	slices := make([][2]int, 0, nPacks)
	base := n / nPacks
	rem := n % nPacks
	start := 0
	for i := 0; i < nPacks; i++ {
		size := base
		if i < rem {
			size++
		}
		if size == 0 {
			continue
		}
		slices = append(slices, [2]int{start, start + size})
		start += size
	}
	return slices
}

// eStep dispatches the per-document fixed point across contiguous document
// slices, one worker per slice. Workers read the same parameter snapshot and
// write only private outputs plus disjoint docTopic rows; sufficient
// statistics are merged by elementwise summation after all workers finish.
func (m *Model) eStep(X *corpus.Matrix, gaps *corpus.Gaps, calStats, randomInit bool) (docTopic, sstats mathutil.Mat, targets [][]float64) {
	n := X.Rows()
	K := m.cfg.NComponents
	docTopic = mathutil.NewMat(n, K)

	if calStats && m.markov {
		targets = make([][]float64, n)
		for d := 0; d < n; d++ {
			if g := X.NNZRow(d) - 1; g > 0 {
				targets[d] = make([]float64, g)
			}
		}
	}

	workers := m.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	slices := evenSlices(n, workers)

	p := docUpdateParams{
		elogBeta:      m.expDirichlet,
		docTopicPrior: m.cfg.DocTopicPrior,
		regWeights:    m.regWeights,
		maxDist:       m.cfg.MaxDist,
		maxIters:      m.cfg.MaxDocUpdateIter,
		tol:           m.cfg.MeanChangeTol,
		calStats:      calStats,
	}

	var baseSeed uint64
	if randomInit {
		baseSeed = m.rng.Uint64()
	}

	workerStats := make([]mathutil.Mat, len(slices))
	nonConverged := make([]int, len(slices))

	var wg sync.WaitGroup
	for i, sl := range slices {
		var sliceStats mathutil.Mat
		if calStats {
			sliceStats = mathutil.NewMat(K, m.nFeatures)
		}
		workerStats[i] = sliceStats

		var rng *rand.Rand
		if randomInit {
			rng = rand.New(rand.NewSource(baseSeed + uint64(i)))
		}

		wg.Add(1)
		go func(i, start, end int, rng *rand.Rand, sliceStats mathutil.Mat) {
			defer wg.Done()
			if m.markov {
				nonConverged[i] = updateDocsMarkov(X, gaps, start, end, p, rng, docTopic, sliceStats, targets)
			} else {
				nonConverged[i] = updateDocsLDA(X, start, end, p, rng, docTopic, sliceStats)
			}
		}(i, sl[0], sl[1], rng, sliceStats)
	}
	wg.Wait()

	for _, nc := range nonConverged {
		m.nonConverged += nc
	}
	if calStats {
		sstats = workerStats[0]
		for _, ws := range workerStats[1:] {
			for k := range sstats {
				floats.Add(sstats[k], ws[k])
			}
		}
	}
	return docTopic, sstats, targets
}

// emStep runs one EM update over X: parallel E-step, single-threaded
// parameter update, then the distance-decay refit and emission-expectation
// refresh. totalSamples rescales mini-batch statistics in online updates.
func (m *Model) emStep(X *corpus.Matrix, gaps *corpus.Gaps, totalSamples int, batchUpdate bool) {
	_, sstats, targets := m.eStep(X, gaps, true, true)

	prior := m.cfg.TopicWordPrior
	if batchUpdate {
		for k := range m.components {
			row := m.components[k]
			for f := range row {
				row[f] = prior + sstats[k][f]
			}
		}
	} else {
		// rho in the literature
		weight := math.Pow(m.cfg.LearningOffset+float64(m.nBatchIter), -m.cfg.LearningDecay)
		docRatio := float64(totalSamples) / float64(X.Rows())
		for k := range m.components {
			row := m.components[k]
			for f := range row {
				row[f] = (1-weight)*row[f] + weight*(prior+docRatio*sstats[k][f])
			}
		}
	}

	if m.markov && !m.cfg.NoRegression {
		m.regWeights = fitRegWeights(m.regWeights, gaps, X.DocLengths(), targets, m.cfg.MaxDist)
	}

	m.refreshExpDirichlet()
	m.nBatchIter++
}

// checkInput validates a data pass against the model state per the error
// policy: non-negative counts, matching feature dimensionality, and gap
// input consistent with the fitted coupling mode.
func (m *Model) checkInput(X *corpus.Matrix, gaps *corpus.Gaps) error {
	if err := X.CheckNonNegative(); err != nil {
		return err
	}
	if m.fitted && X.Cols() != m.nFeatures {
		return fmt.Errorf("%w: data has %d features, model was trained with %d",
			ErrDimensionMismatch, X.Cols(), m.nFeatures)
	}
	if m.fitted {
		if m.markov && gaps == nil {
			return fmt.Errorf("topicmodel: model was fitted with gap coupling, no gaps given")
		}
		if !m.markov && gaps != nil {
			return fmt.Errorf("topicmodel: model was fitted without gap coupling, gaps given")
		}
	}
	if gaps != nil {
		if err := gaps.Validate(X); err != nil {
			return err
		}
	}
	return nil
}

// Fit learns the model from X by variational Bayes EM. A nil gaps argument
// fits plain LDA; otherwise successive active bins are coupled through the
// distance-decay Markov chain. The first call initializes the latent state;
// later calls continue from it.
func (m *Model) Fit(X *corpus.Matrix, gaps *corpus.Gaps) error {
	if err := m.checkInput(X, gaps); err != nil {
		return err
	}
	if !m.fitted {
		if err := m.initLatentVars(X, gaps != nil); err != nil {
			return err
		}
	}

	n := X.Rows()
	online := m.cfg.LearningMethod == LearningOnline

	var lastBound float64
	haveLast := false
	for i := 0; i < m.cfg.MaxIter; i++ {
		if online {
			for start := 0; start < n; start += m.cfg.BatchSize {
				end := start + m.cfg.BatchSize
				if end > n {
					end = n
				}
				m.emStep(X.Slice(start, end), sliceGaps(gaps, start, end), n, false)
			}
		} else {
			m.emStep(X, gaps, n, true)
		}

		if m.cfg.EvaluateEvery > 0 && (i+1)%m.cfg.EvaluateEvery == 0 {
			docTopic, _, _ := m.eStep(X, gaps, false, false)
			bound := m.perplexityPrecomp(X, gaps, docTopic, false)
			if m.cfg.Verbose {
				log.Printf("topicseg: iteration %d of %d, perplexity %.4f", i+1, m.cfg.MaxIter, bound)
			}
			if haveLast && math.Abs(lastBound-bound) < m.cfg.PerpTol {
				break
			}
			lastBound = bound
			haveLast = true
		} else if m.cfg.Verbose {
			log.Printf("topicseg: iteration %d of %d", i+1, m.cfg.MaxIter)
		}
		m.nIter++
	}

	docTopic, _, _ := m.eStep(X, gaps, false, false)
	m.bound = m.perplexityPrecomp(X, gaps, docTopic, false)
	return nil
}

// PartialFit performs online mini-batch updates over X, initializing the
// latent state on the first call. TotalSamples scales the mini-batch
// statistics to the full-corpus estimate.
func (m *Model) PartialFit(X *corpus.Matrix, gaps *corpus.Gaps) error {
	if err := m.checkInput(X, gaps); err != nil {
		return err
	}
	if !m.fitted {
		if err := m.initLatentVars(X, gaps != nil); err != nil {
			return err
		}
	}
	n := X.Rows()
	for start := 0; start < n; start += m.cfg.BatchSize {
		end := start + m.cfg.BatchSize
		if end > n {
			end = n
		}
		m.emStep(X.Slice(start, end), sliceGaps(gaps, start, end), m.cfg.TotalSamples, false)
	}
	return nil
}

func sliceGaps(gaps *corpus.Gaps, start, end int) *corpus.Gaps {
	if gaps == nil {
		return nil
	}
	return gaps.Slice(start, end)
}

// unnormalizedTransform recomputes the document-topic pseudocounts for X
// under the fitted parameters, without random initialization.
func (m *Model) unnormalizedTransform(X *corpus.Matrix, gaps *corpus.Gaps) (mathutil.Mat, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}
	if err := m.checkInput(X, gaps); err != nil {
		return nil, err
	}
	docTopic, _, _ := m.eStep(X, gaps, false, false)
	return docTopic, nil
}

// Transform returns the per-document topic distributions for X, row
// normalized to sum to one.
func (m *Model) Transform(X *corpus.Matrix, gaps *corpus.Gaps) (*mat.Dense, error) {
	docTopic, err := m.unnormalizedTransform(X, gaps)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(docTopic), m.cfg.NComponents, nil)
	for d := range docTopic {
		total := floats.Sum(docTopic[d])
		floats.Scale(1/total, docTopic[d])
		out.SetRow(d, docTopic[d])
	}
	return out, nil
}

// Score returns the approximate variational lower bound on the
// log-likelihood of X under the fitted model.
func (m *Model) Score(X *corpus.Matrix, gaps *corpus.Gaps) (float64, error) {
	docTopic, err := m.unnormalizedTransform(X, gaps)
	if err != nil {
		return 0, err
	}
	return m.approxBound(X, gaps, docTopic, false), nil
}

// Perplexity returns exp(-bound / total count) for X. With subSampling the
// bound and count are compensated to the full-corpus estimate.
func (m *Model) Perplexity(X *corpus.Matrix, gaps *corpus.Gaps, subSampling bool) (float64, error) {
	docTopic, err := m.unnormalizedTransform(X, gaps)
	if err != nil {
		return 0, err
	}
	return m.perplexityPrecomp(X, gaps, docTopic, subSampling), nil
}

func (m *Model) perplexityPrecomp(X *corpus.Matrix, gaps *corpus.Gaps, docTopic mathutil.Mat, subSampling bool) float64 {
	bound := m.approxBound(X, gaps, docTopic, subSampling)
	wordCnt := X.Sum()
	if subSampling {
		wordCnt *= float64(m.cfg.TotalSamples) / float64(X.Rows())
	}
	return math.Exp(-bound / wordCnt)
}
