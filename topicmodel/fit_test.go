package topicmodel

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/genomewalk/topicseg/corpus"
)

func newTestModel(t *testing.T, cfg Config) *Model {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func endToEndMatrix(t *testing.T) *corpus.Matrix {
	t.Helper()
	return toyMatrix(t, [][]float64{
		{4, 1, 0, 0, 2},
		{0, 3, 2, 0, 0},
		{1, 0, 0, 5, 1},
		{0, 0, 3, 2, 0},
	})
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero components", Config{NComponents: 0}},
		{"negative total samples", func() Config {
			c := DefaultConfig(2)
			c.TotalSamples = -1
			return c
		}()},
		{"negative learning offset", func() Config {
			c := DefaultConfig(2)
			c.LearningOffset = -1
			return c
		}()},
		{"unknown learning method", func() Config {
			c := DefaultConfig(2)
			c.LearningMethod = "bogus"
			return c
		}()},
	}
	for _, tc := range cases {
		if _, err := New(tc.cfg); err == nil {
			t.Errorf("%s: expected configuration error", tc.name)
		}
	}
}

func TestConfigZeroValuesFilled(t *testing.T) {
	// Everything except NComponents may be left zero.
	m := newTestModel(t, Config{NComponents: 4})
	if got := m.cfg.TotalSamples; got != 1e6 {
		t.Errorf("TotalSamples default = %d, want 1e6", got)
	}
	if got := m.cfg.DocTopicPrior; got != 0.25 {
		t.Errorf("DocTopicPrior default = %g, want 0.25", got)
	}
	if got := m.cfg.LearningMethod; got != LearningBatch {
		t.Errorf("LearningMethod default = %q, want %q", got, LearningBatch)
	}
	if got := m.cfg.MaxDist; got != 1e7 {
		t.Errorf("MaxDist default = %g, want 1e7", got)
	}
}

func TestNotFitted(t *testing.T) {
	m := newTestModel(t, DefaultConfig(2))
	X := endToEndMatrix(t)
	if _, err := m.Transform(X, nil); !errors.Is(err, ErrNotFitted) {
		t.Errorf("Transform before fit: got %v, want ErrNotFitted", err)
	}
	if _, err := m.Score(X, nil); !errors.Is(err, ErrNotFitted) {
		t.Errorf("Score before fit: got %v, want ErrNotFitted", err)
	}
	if _, err := m.Perplexity(X, nil, false); !errors.Is(err, ErrNotFitted) {
		t.Errorf("Perplexity before fit: got %v, want ErrNotFitted", err)
	}
}

func TestDimensionMismatch(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.Seed = 1
	cfg.MaxIter = 1
	m := newTestModel(t, cfg)
	if err := m.Fit(endToEndMatrix(t), nil); err != nil {
		t.Fatal(err)
	}
	wrong := toyMatrix(t, [][]float64{{1, 0, 2}})
	if _, err := m.Transform(wrong, nil); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("got %v, want ErrDimensionMismatch", err)
	}
}

func TestNegativeInputRejected(t *testing.T) {
	X, err := corpus.FromCSR(1, 3, []int{0, 2}, []int{0, 2}, []float64{1, -2})
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig(2)
	cfg.MaxIter = 1
	m := newTestModel(t, cfg)
	if err := m.Fit(X, nil); err == nil {
		t.Error("expected domain-validation error for negative counts")
	}
}

func TestGapModeConsistency(t *testing.T) {
	X := endToEndMatrix(t)
	gaps := corpus.NewGaps([][]float64{
		{100, 200},
		{300},
		{400, 500},
		{600},
	})

	cfg := DefaultConfig(2)
	cfg.Seed = 1
	cfg.MaxIter = 1
	cfg.NoRegression = true
	m := newTestModel(t, cfg)
	if err := m.Fit(X, gaps); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Transform(X, nil); err == nil {
		t.Error("expected error transforming a gap-coupled model without gaps")
	}

	lda := newTestModel(t, cfg)
	if err := lda.Fit(X, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := lda.Transform(X, gaps); err == nil {
		t.Error("expected error transforming an LDA model with gaps")
	}

	short := corpus.NewGaps([][]float64{{100}, {300}, {400, 500}, {600}})
	fresh := newTestModel(t, cfg)
	if err := fresh.Fit(X, short); err == nil {
		t.Error("expected error for insufficient gap rows")
	}
}

func TestTransformIdempotent(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.Seed = 5
	cfg.MaxIter = 2
	cfg.Workers = 2
	m := newTestModel(t, cfg)
	X := endToEndMatrix(t)
	if err := m.Fit(X, nil); err != nil {
		t.Fatal(err)
	}
	a, err := m.Transform(X, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Transform(X, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(a, b) {
		t.Error("repeated Transform on identical input differs")
	}

	s1, err := m.Score(X, nil)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := m.Score(X, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Errorf("repeated Score differs: %f vs %f", s1, s2)
	}
}

func TestBatchEqualsDegenerateOnline(t *testing.T) {
	X := endToEndMatrix(t)

	batchCfg := DefaultConfig(2)
	batchCfg.Seed = 7
	batchCfg.Workers = 1
	batchCfg.MaxIter = 1

	onlineCfg := batchCfg
	onlineCfg.LearningMethod = LearningOnline
	onlineCfg.LearningDecay = 0 // weight 1.0
	onlineCfg.BatchSize = X.Rows()
	onlineCfg.TotalSamples = X.Rows()

	a := newTestModel(t, batchCfg)
	if err := a.Fit(X, nil); err != nil {
		t.Fatal(err)
	}
	b := newTestModel(t, onlineCfg)
	if err := b.Fit(X, nil); err != nil {
		t.Fatal(err)
	}

	ca, cb := a.Components(), b.Components()
	r, c := ca.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.Abs(ca.At(i, j)-cb.At(i, j)) > 1e-12 {
				t.Fatalf("components[%d][%d]: batch %f vs online %f", i, j, ca.At(i, j), cb.At(i, j))
			}
		}
	}
}

func TestFitEndToEnd(t *testing.T) {
	X := endToEndMatrix(t)

	var scores []float64
	for iters := 1; iters <= 5; iters++ {
		cfg := DefaultConfig(2)
		cfg.Seed = 3
		cfg.Workers = 1
		cfg.MaxIter = iters
		m := newTestModel(t, cfg)
		if err := m.Fit(X, nil); err != nil {
			t.Fatal(err)
		}
		s, err := m.Score(X, nil)
		if err != nil {
			t.Fatal(err)
		}
		scores = append(scores, s)

		dt, err := m.Transform(X, nil)
		if err != nil {
			t.Fatal(err)
		}
		rows, _ := dt.Dims()
		for d := 0; d < rows; d++ {
			sum := 0.0
			for k := 0; k < 2; k++ {
				sum += dt.At(d, k)
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("iters %d: transform row %d sums to %f", iters, d, sum)
			}
		}
	}

	// The bound improves or plateaus across iterations.
	for i := 0; i+1 < len(scores); i++ {
		if scores[i+1] < scores[i]-1e-3*math.Abs(scores[i]) {
			t.Errorf("bound worsened from %f to %f at iteration %d", scores[i], scores[i+1], i+1)
		}
	}
}

func TestDecoupledMarkovMatchesLDA(t *testing.T) {
	// With every gap beyond MaxDist the chain cannot couple bins, so on
	// binary counts the Markov fit must reproduce the plain LDA fit. The
	// equivalence needs binary input: counts scale the emission exponent in
	// the lattice but enter the multinomial phi update linearly.
	X := toyMatrix(t, [][]float64{
		{1, 1, 0, 0, 1},
		{0, 1, 1, 0, 0},
		{1, 0, 0, 1, 1},
		{0, 0, 1, 1, 0},
	})
	far := make([][]float64, X.Rows())
	for d := range far {
		n := X.NNZRow(d) - 1
		far[d] = make([]float64, n)
		for i := range far[d] {
			far[d][i] = 2e7
		}
	}
	gaps := corpus.NewGaps(far)

	cfg := DefaultConfig(2)
	cfg.Seed = 11
	cfg.Workers = 1
	cfg.MaxIter = 3
	cfg.NoRegression = true
	cfg.MeanChangeTol = 1e-10
	cfg.MaxDocUpdateIter = 500

	mk := newTestModel(t, cfg)
	if err := mk.Fit(X, gaps); err != nil {
		t.Fatal(err)
	}
	lda := newTestModel(t, cfg)
	if err := lda.Fit(X, nil); err != nil {
		t.Fatal(err)
	}

	cm, cl := mk.Components(), lda.Components()
	r, c := cm.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			diff := math.Abs(cm.At(i, j) - cl.At(i, j))
			if diff > 1e-6*(1+math.Abs(cl.At(i, j))) {
				t.Fatalf("components[%d][%d]: markov %f vs lda %f", i, j, cm.At(i, j), cl.At(i, j))
			}
		}
	}
	if w := mk.RegWeights(); w != defaultRegWeights {
		t.Errorf("NoRegression fit changed weights to %v", w)
	}
}

func TestMarkovFitEndToEnd(t *testing.T) {
	X := endToEndMatrix(t)
	gaps := corpus.NewGaps([][]float64{
		{800, 2e7},
		{1200},
		{600, 900},
		{3000},
	})

	cfg := DefaultConfig(2)
	cfg.Seed = 13
	cfg.Workers = 2
	cfg.MaxIter = 3
	m := newTestModel(t, cfg)
	if err := m.Fit(X, gaps); err != nil {
		t.Fatal(err)
	}

	w := m.RegWeights()
	if math.IsNaN(w[0]) || math.IsNaN(w[1]) {
		t.Fatalf("refit weights are NaN: %v", w)
	}

	dt, err := m.Transform(X, gaps)
	if err != nil {
		t.Fatal(err)
	}
	rows, _ := dt.Dims()
	for d := 0; d < rows; d++ {
		sum := 0.0
		for k := 0; k < 2; k++ {
			sum += dt.At(d, k)
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("transform row %d sums to %f", d, sum)
		}
	}

	perp, err := m.Perplexity(X, gaps, false)
	if err != nil {
		t.Fatal(err)
	}
	if perp <= 0 || math.IsNaN(perp) {
		t.Errorf("perplexity = %f, want positive", perp)
	}
	if m.NIter() != 3 {
		t.Errorf("NIter = %d, want 3", m.NIter())
	}
	if m.NonConverged() < 0 {
		t.Errorf("NonConverged = %d", m.NonConverged())
	}
}

func TestPartialFit(t *testing.T) {
	X := endToEndMatrix(t)
	cfg := DefaultConfig(2)
	cfg.Seed = 17
	cfg.Workers = 1
	cfg.BatchSize = 2
	cfg.TotalSamples = 8
	m := newTestModel(t, cfg)

	if err := m.PartialFit(X, nil); err != nil {
		t.Fatal(err)
	}
	// 4 documents in batches of 2: two EM updates past the initial 1.
	if m.NBatchIter() != 3 {
		t.Errorf("NBatchIter = %d, want 3", m.NBatchIter())
	}
	if err := m.PartialFit(X, nil); err != nil {
		t.Fatal(err)
	}
	if m.NBatchIter() != 5 {
		t.Errorf("NBatchIter after second call = %d, want 5", m.NBatchIter())
	}
	if _, err := m.Transform(X, nil); err != nil {
		t.Fatal(err)
	}
}

func TestSeededInit(t *testing.T) {
	X := endToEndMatrix(t)
	cfg := DefaultConfig(2)
	cfg.Seed = 19
	cfg.Workers = 1
	cfg.MaxIter = 1
	cfg.NSeeds = 1
	m := newTestModel(t, cfg)

	comps, err := seedComponents(X, 2, 1, m.rng)
	if err != nil {
		t.Fatal(err)
	}
	// Every seeded topic is 2*(some document row) + 1/K elementwise.
	for k := range comps {
		matched := false
		for d := 0; d < X.Rows(); d++ {
			ids, cnts := X.Row(d)
			dense := make([]float64, X.Cols())
			for i, id := range ids {
				dense[id] = cnts[i]
			}
			ok := true
			for f := range comps[k] {
				if math.Abs(comps[k][f]-(2*dense[f]+0.5)) > 1e-12 {
					ok = false
					break
				}
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			t.Errorf("seeded topic %d does not match any document mean", k)
		}
	}

	if err := m.Fit(X, nil); err != nil {
		t.Fatal(err)
	}

	// Not enough documents for the requested seeds.
	small := toyMatrix(t, [][]float64{{1, 0, 0, 0, 1}})
	cfg.NSeeds = 3
	m2 := newTestModel(t, cfg)
	if err := m2.Fit(small, nil); err == nil {
		t.Error("expected error when corpus is smaller than NComponents*NSeeds")
	}
}
