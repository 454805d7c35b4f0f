package corpus

import "fmt"

// Gaps holds, per document, the genomic distances between successive active
// bins. Row d is aligned with the document's active-bin sequence: entry i is
// the gap between active bins i and i+1. Rows may be longer than needed; the
// model consumes the first NNZRow(d)-1 entries.
type Gaps struct {
	rows [][]float64
}

// NewGaps wraps per-document gap rows.
func NewGaps(rows [][]float64) *Gaps {
	return &Gaps{rows: rows}
}

// Row returns document d's gap distances.
func (g *Gaps) Row(d int) []float64 { return g.rows[d] }

// Rows returns the number of documents covered.
func (g *Gaps) Rows() int { return len(g.rows) }

// Count returns the number of gap entries stored for document d.
func (g *Gaps) Count(d int) int { return len(g.rows[d]) }

// Slice returns a view over documents [start, end).
func (g *Gaps) Slice(start, end int) *Gaps {
	return &Gaps{rows: g.rows[start:end]}
}

// Validate checks that g covers every document of m with enough gap entries
// for its active-bin sequence, and that no gap is negative.
func (g *Gaps) Validate(m *Matrix) error {
	if g.Rows() != m.Rows() {
		return fmt.Errorf("corpus: gap rows %d do not match %d documents", g.Rows(), m.Rows())
	}
	for d := 0; d < m.Rows(); d++ {
		need := m.NNZRow(d) - 1
		if need < 0 {
			need = 0
		}
		if len(g.rows[d]) < need {
			return fmt.Errorf("corpus: document %d has %d gaps, needs %d", d, len(g.rows[d]), need)
		}
		for i := 0; i < need; i++ {
			if g.rows[d][i] < 0 {
				return fmt.Errorf("corpus: document %d has negative gap %g at %d", d, g.rows[d][i], i)
			}
		}
	}
	return nil
}
