package topicmodel

import "errors"

// ErrNotFitted is returned when Transform, Score or Perplexity is called
// before the model has been fit.
var ErrNotFitted = errors.New("topicmodel: model has not been fitted")

// ErrDimensionMismatch is returned when a matrix's feature count does not
// match the fitted model. The wrapping error names both sizes.
var ErrDimensionMismatch = errors.New("topicmodel: feature dimension mismatch")
