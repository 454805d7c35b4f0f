package topicmodel

import "fmt"

// Learning methods for the M-step scheduler.
const (
	// LearningBatch overwrites the topic-bin parameters from the full-corpus
	// sufficient statistics every iteration.
	LearningBatch = "batch"
	// LearningOnline updates the topic-bin parameters from mini-batches with
	// an exponentially decaying learning rate.
	LearningOnline = "online"
)

// Config holds the model hyperparameters. Zero values are filled in by
// Default() semantics inside validate, except NComponents which must be set.
type Config struct {
	// NComponents is the number of topics (latent chromatin states).
	NComponents int

	// DocTopicPrior is the symmetric Dirichlet prior on per-document topic
	// proportions (alpha). 0 means 1/NComponents.
	DocTopicPrior float64
	// TopicWordPrior is the symmetric Dirichlet prior on per-topic bin
	// distributions (eta). 0 means 1/NComponents.
	TopicWordPrior float64

	// LearningMethod selects batch or online EM updates.
	LearningMethod string
	// LearningDecay (kappa) controls the online learning-rate decay. Values
	// in (0.5, 1] guarantee asymptotic convergence.
	LearningDecay float64
	// LearningOffset (tau0) downweights early online iterations. Must be
	// non-negative.
	LearningOffset float64

	// MaxIter is the number of passes over the dataset.
	MaxIter int
	// BatchSize is the mini-batch size in online learning.
	BatchSize int
	// EvaluateEvery controls perplexity evaluation during Fit; <= 0 disables
	// it.
	EvaluateEvery int
	// PerpTol is the perplexity-change tolerance for early stopping when
	// EvaluateEvery is active.
	PerpTol float64

	// TotalSamples estimates the full-corpus size for PartialFit scaling.
	TotalSamples int

	// MeanChangeTol is the per-document E-step convergence tolerance.
	MeanChangeTol float64
	// MaxDocUpdateIter caps the per-document fixed-point iterations.
	MaxDocUpdateIter int

	// Workers is the number of parallel E-step workers; 0 means NumCPU.
	Workers int
	// Verbose enables per-iteration progress logging.
	Verbose bool
	// Seed seeds the model's random state.
	Seed uint64

	// NSeeds, when positive, initializes topics from the mean of NSeeds
	// sampled documents per topic instead of random pseudocounts.
	NSeeds int

	// RegWeights optionally sets the initial (intercept, slope) of the
	// distance-decay sigmoid. Nil selects the degenerate (-1, 1) default
	// that reduces the model to plain LDA until the first refit.
	RegWeights *[2]float64
	// NoRegression disables the distance-decay refit; the transition
	// weights stay fixed at their initial value.
	NoRegression bool
	// MaxDist caps topic-label propagation: gaps beyond it get an
	// effectively infinite fresh-start penalty argument. 0 means 1e7.
	MaxDist float64
}

// DefaultConfig returns the default hyperparameters for nComponents topics.
func DefaultConfig(nComponents int) Config {
	return Config{
		NComponents:      nComponents,
		LearningMethod:   LearningBatch,
		LearningDecay:    0.7,
		LearningOffset:   10.0,
		MaxIter:          10,
		BatchSize:        128,
		EvaluateEvery:    -1,
		PerpTol:          1e-1,
		TotalSamples:     1e6,
		MeanChangeTol:    1e-3,
		MaxDocUpdateIter: 100,
		MaxDist:          1e7,
	}
}

// validate fails fast on invalid hyperparameters and fills in defaults for
// unset fields, before any data pass.
func (c *Config) validate() error {
	if c.NComponents <= 0 {
		return fmt.Errorf("topicmodel: invalid NComponents %d", c.NComponents)
	}
	if c.TotalSamples < 0 {
		return fmt.Errorf("topicmodel: invalid TotalSamples %d", c.TotalSamples)
	}
	if c.TotalSamples == 0 {
		c.TotalSamples = 1e6
	}
	if c.LearningOffset < 0 {
		return fmt.Errorf("topicmodel: invalid LearningOffset %g", c.LearningOffset)
	}
	if c.LearningMethod == "" {
		c.LearningMethod = LearningBatch
	}
	if c.LearningMethod != LearningBatch && c.LearningMethod != LearningOnline {
		return fmt.Errorf("topicmodel: unknown LearningMethod %q", c.LearningMethod)
	}
	if c.DocTopicPrior == 0 {
		c.DocTopicPrior = 1.0 / float64(c.NComponents)
	}
	if c.TopicWordPrior == 0 {
		c.TopicWordPrior = 1.0 / float64(c.NComponents)
	}
	if c.MaxIter <= 0 {
		c.MaxIter = 10
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 128
	}
	if c.MeanChangeTol <= 0 {
		c.MeanChangeTol = 1e-3
	}
	if c.MaxDocUpdateIter <= 0 {
		c.MaxDocUpdateIter = 100
	}
	if c.MaxDist <= 0 {
		c.MaxDist = 1e7
	}
	if c.PerpTol <= 0 {
		c.PerpTol = 1e-1
	}
	return nil
}
