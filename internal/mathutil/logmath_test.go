package mathutil

import (
	"math"
	"testing"
)

func TestLogAdd(t *testing.T) {
	// log(exp(0) + exp(0)) = log(2)
	got := LogAdd(0, 0)
	want := math.Log(2)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("LogAdd(0,0) = %f, want %f", got, want)
	}

	// Adding log(0) is the identity
	if LogAdd(LogZero, -1.5) != -1.5 {
		t.Errorf("LogAdd(LogZero, -1.5) = %f, want -1.5", LogAdd(LogZero, -1.5))
	}
	if LogAdd(-1.5, LogZero) != -1.5 {
		t.Errorf("LogAdd(-1.5, LogZero) = %f, want -1.5", LogAdd(-1.5, LogZero))
	}

	// Large magnitude gap: the bigger term dominates
	if got := LogAdd(0, -100); got != 0 {
		t.Errorf("LogAdd(0,-100) = %f, want 0", got)
	}
}

func TestLogSumExp(t *testing.T) {
	v := []float64{math.Log(1), math.Log(2), math.Log(3)}
	got := LogSumExp(v)
	want := math.Log(6)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("LogSumExp = %f, want %f", got, want)
	}

	if LogSumExp([]float64{LogZero, LogZero}) != LogZero {
		t.Errorf("LogSumExp of all LogZero should stay LogZero")
	}
}

func TestSigmoid(t *testing.T) {
	if got := Sigmoid(0); math.Abs(got-0.5) > 1e-15 {
		t.Errorf("Sigmoid(0) = %f, want 0.5", got)
	}
	if got := Sigmoid(100); got < 1-1e-12 {
		t.Errorf("Sigmoid(100) = %f, want ~1", got)
	}
	if got := Sigmoid(-100); got > 1e-12 {
		t.Errorf("Sigmoid(-100) = %f, want ~0", got)
	}
	// Symmetry: sigmoid(x) + sigmoid(-x) = 1
	for _, x := range []float64{-3.7, -0.2, 0.9, 12.5} {
		if s := Sigmoid(x) + Sigmoid(-x); math.Abs(s-1) > 1e-12 {
			t.Errorf("Sigmoid(%f)+Sigmoid(-%f) = %f, want 1", x, x, s)
		}
	}
}

func TestLogSigmoid(t *testing.T) {
	for _, x := range []float64{-40, -2, 0, 2, 40} {
		got := LogSigmoid(x)
		want := math.Log(Sigmoid(x))
		if math.Abs(got-want) > 1e-10 {
			t.Errorf("LogSigmoid(%f) = %f, want %f", x, got, want)
		}
	}
	// Stays finite where naive log(sigmoid) underflows
	if got := LogSigmoid(-800); math.Abs(got-(-800)) > 1e-9 {
		t.Errorf("LogSigmoid(-800) = %f, want -800", got)
	}
}

func TestNewMat(t *testing.T) {
	m := NewMatFill(3, 4, 1.5)
	if len(m) != 3 || len(m[0]) != 4 {
		t.Fatalf("NewMatFill shape = %dx%d, want 3x4", len(m), len(m[0]))
	}
	for i := range m {
		for j := range m[i] {
			if m[i][j] != 1.5 {
				t.Fatalf("m[%d][%d] = %f, want 1.5", i, j, m[i][j])
			}
		}
	}
	FillMat(m, 0)
	if m[2][3] != 0 {
		t.Errorf("FillMat did not reset matrix")
	}
}
