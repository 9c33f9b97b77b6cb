package histogram

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestCompute(t *testing.T) {
	values := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	counts, err := Compute(context.Background(), values, Descriptor{BinCount: 5, Min: 0, Max: 10})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	want := []float64{2, 2, 2, 2, 3}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("Bin %d: expected %v, got %v", i, want[i], counts[i])
		}
	}
}

func TestComputeExcludesOutOfRange(t *testing.T) {
	values := []float64{-1000, -1, 0, 50, 100, 101, 3000}
	counts, err := Compute(context.Background(), values, Descriptor{BinCount: 2, Min: 0, Max: 100})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if counts[0] != 1 || counts[1] != 2 {
		t.Errorf("Expected [1 2], got %v", counts)
	}
}

func TestComputeNormalized(t *testing.T) {
	values := []float64{1, 1, 2, 3, 3, 3, 4}
	counts, err := Compute(context.Background(), values, Descriptor{BinCount: 4, Min: 1, Max: 4, Normalize: true})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	sum := 0.0
	for _, c := range counts {
		sum += c
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("Expected frequencies to sum to 1, got %f", sum)
	}

	t.Run("empty", func(t *testing.T) {
		counts, err := Compute(context.Background(), []float64{-5, 50}, Descriptor{BinCount: 3, Min: 0, Max: 10, Normalize: true})
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}
		for i, c := range counts {
			if c != 0 {
				t.Errorf("Bin %d: expected 0 with nothing counted, got %f", i, c)
			}
		}
	})
}

func TestInvalidDescriptor(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
	}{
		{"zero bins", Descriptor{BinCount: 0, Min: 0, Max: 1}},
		{"negative bins", Descriptor{BinCount: -4, Min: 0, Max: 1}},
		{"empty range", Descriptor{BinCount: 8, Min: 5, Max: 5}},
		{"inverted range", Descriptor{BinCount: 8, Min: 5, Max: 1}},
		{"nan", Descriptor{BinCount: 8, Min: math.NaN(), Max: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compute(context.Background(), []float64{1}, tt.d); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("Expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}

func TestComputeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Compute(ctx, []float64{1, 2}, Descriptor{BinCount: 2, Min: 0, Max: 2}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
