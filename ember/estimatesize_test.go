package ember_test

import (
	"testing"

	"github.com/canonical/ember/ember"
)

func TestEstimateMakeSize(t *testing.T) {
	tests := []struct {
		n    int
		want int64
	}{
		{0, 0},
		{1, 16},
		{3, 48},
		{5, 80},
		{17, 288},
		{3000, 49152},
	}
	for _, test := range tests {
		if got := ember.EstimateMakeSize([]ember.Value{}, test.n); got != test.want {
			t.Errorf("EstimateMakeSize([]Value{}, %d) = %d, want %d", test.n, got, test.want)
		}
	}
}

func TestEstimateMakeSizeTemplate(t *testing.T) {
	// Each element carries its own string payload.
	got := ember.EstimateMakeSize([]string{"0123456789abcdef"}, 4)
	if want := int64(4*16 + 4*16); got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}

func TestEstimateMakeSizeBadTemplate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for a template with two elements")
		}
	}()
	ember.EstimateMakeSize([]int{1, 2}, 4)
}

func TestEstimateSize(t *testing.T) {
	if got := ember.EstimateSize(nil); got != 0 {
		t.Errorf("nil: got %d", got)
	}
	if got := ember.ListCellSize; got != 32 {
		t.Errorf("list cell size is %d, want 32", got)
	}

	// Shared structure is counted once.
	shared := &struct{ a, b int64 }{}
	pair := &struct{ x, y *struct{ a, b int64 } }{shared, shared}
	if got, want := ember.EstimateSize(pair), int64(16+16); got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}
