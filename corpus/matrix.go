// Package corpus provides the sparse cell-by-bin count matrix consumed by the
// topic model, plus the companion inter-bin gap distances used when the
// Markov sequence coupling is enabled. Rows are documents (cells or
// pseudobulk samples), columns are genomic bins.
package corpus

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a CSR sparse matrix of non-negative counts. Column indices within
// each row are kept in ascending order; for genomic data this is the
// active-bin sequence order the Markov chain's distance semantics rely on.
type Matrix struct {
	rows, cols int
	indptr     []int
	indices    []int
	data       []float64
}

// NewMatrix creates an empty matrix with the given number of feature columns.
// Rows are appended with AppendRow.
func NewMatrix(cols int) *Matrix {
	return &Matrix{
		cols:   cols,
		indptr: []int{0},
	}
}

// AppendRow adds one document given its non-zero column indices and counts.
// Indices must be strictly ascending and in range; counts must be
// non-negative. Zero counts are dropped.
func (m *Matrix) AppendRow(indices []int, counts []float64) error {
	if len(indices) != len(counts) {
		return fmt.Errorf("corpus: %d indices but %d counts", len(indices), len(counts))
	}
	prev := -1
	for i, idx := range indices {
		if idx < 0 || idx >= m.cols {
			return fmt.Errorf("corpus: column index %d out of range [0,%d)", idx, m.cols)
		}
		if idx <= prev {
			return fmt.Errorf("corpus: column indices not strictly ascending at position %d", i)
		}
		if counts[i] < 0 {
			return fmt.Errorf("corpus: negative count %g at column %d", counts[i], idx)
		}
		prev = idx
	}
	for i, idx := range indices {
		if counts[i] == 0 {
			continue
		}
		m.indices = append(m.indices, idx)
		m.data = append(m.data, counts[i])
	}
	m.rows++
	m.indptr = append(m.indptr, len(m.indices))
	return nil
}

// FromDense builds a sparse matrix from any gonum matrix, dropping zeros.
// Negative entries are rejected.
func FromDense(d mat.Matrix) (*Matrix, error) {
	r, c := d.Dims()
	m := NewMatrix(c)
	idx := make([]int, 0, c)
	cnt := make([]float64, 0, c)
	for i := 0; i < r; i++ {
		idx = idx[:0]
		cnt = cnt[:0]
		for j := 0; j < c; j++ {
			v := d.At(i, j)
			if v == 0 {
				continue
			}
			idx = append(idx, j)
			cnt = append(cnt, v)
		}
		if err := m.AppendRow(idx, cnt); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return m, nil
}

// FromRows builds a sparse matrix from dense row slices.
func FromRows(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("corpus: no rows")
	}
	return FromDense(denseRows(rows))
}

// denseRows adapts [][]float64 to mat.Matrix for FromDense.
type denseRows [][]float64

func (d denseRows) Dims() (int, int)    { return len(d), len(d[0]) }
func (d denseRows) At(i, j int) float64 { return d[i][j] }
func (d denseRows) T() mat.Matrix       { return mat.Transpose{Matrix: d} }

// Rows returns the number of documents.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of features.
func (m *Matrix) Cols() int { return m.cols }

// Row returns the document's (feature index, count) pairs in ascending column
// order. The returned slices alias internal storage and must not be modified.
func (m *Matrix) Row(d int) (indices []int, counts []float64) {
	lo, hi := m.indptr[d], m.indptr[d+1]
	return m.indices[lo:hi], m.data[lo:hi]
}

// NNZRow returns the number of active bins in document d.
func (m *Matrix) NNZRow(d int) int {
	return m.indptr[d+1] - m.indptr[d]
}

// NNZ returns the total number of stored entries.
func (m *Matrix) NNZ() int { return m.indptr[m.rows] - m.indptr[0] }

// Sum returns the total count across the whole matrix.
func (m *Matrix) Sum() float64 {
	s := 0.0
	for _, v := range m.data[m.indptr[0]:m.indptr[m.rows]] {
		s += v
	}
	return s
}

// Slice returns a view over documents [start, end) sharing the underlying
// storage. Mutating the parent invalidates the view.
func (m *Matrix) Slice(start, end int) *Matrix {
	return &Matrix{
		rows:    end - start,
		cols:    m.cols,
		indptr:  m.indptr[start : end+1],
		indices: m.indices,
		data:    m.data,
	}
}

// DocLengths returns the active-bin count per document.
func (m *Matrix) DocLengths() []int {
	lens := make([]int, m.rows)
	for d := 0; d < m.rows; d++ {
		lens[d] = m.NNZRow(d)
	}
	return lens
}

// CheckNonNegative verifies every stored count is non-negative. Construction
// already enforces this; the check guards matrices built through FromCSR.
func (m *Matrix) CheckNonNegative() error {
	for i, v := range m.data[m.indptr[0]:m.indptr[m.rows]] {
		if v < 0 {
			return fmt.Errorf("corpus: negative count %g at entry %d", v, i)
		}
	}
	return nil
}

// FromCSR wraps pre-built CSR arrays without copying. The caller guarantees
// ascending in-range indices per row; counts are validated lazily through
// CheckNonNegative.
func FromCSR(rows, cols int, indptr, indices []int, data []float64) (*Matrix, error) {
	if len(indptr) != rows+1 {
		return nil, fmt.Errorf("corpus: indptr length %d, want %d", len(indptr), rows+1)
	}
	if len(indices) != len(data) {
		return nil, fmt.Errorf("corpus: %d indices but %d data entries", len(indices), len(data))
	}
	if indptr[rows] != len(data) {
		return nil, fmt.Errorf("corpus: indptr tail %d does not match %d entries", indptr[rows], len(data))
	}
	return &Matrix{rows: rows, cols: cols, indptr: indptr, indices: indices, data: data}, nil
}
