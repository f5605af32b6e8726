package types

import "testing"

func TestClassifyBoundaries(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		deltaMs float64
		want    Classification
	}{
		{0, ClassFast},
		{50, ClassFast},
		{85, ClassFast}, // boundary is inclusive
		{85.1, ClassOK},
		{100, ClassOK}, // boundary is inclusive
		{100.1, ClassSlow},
		{150, ClassSlow}, // boundary is inclusive
		{150.1, ClassVerySlow},
		{1000, ClassVerySlow},
	}

	for _, tt := range tests {
		if got := th.Classify(tt.deltaMs); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.deltaMs, got, tt.want)
		}
	}
}

func TestClassificationSymbol(t *testing.T) {
	tests := []struct {
		class Classification
		want  string
	}{
		{ClassFast, "+ FAST"},
		{ClassOK, "~ OK"},
		{ClassSlow, "! SLOW"},
		{ClassVerySlow, "x VERY SLOW"},
	}

	for _, tt := range tests {
		if got := tt.class.Symbol(); got != tt.want {
			t.Errorf("%v.Symbol() = %q, want %q", tt.class, got, tt.want)
		}
	}
}

func TestThresholdsValidate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Errorf("default thresholds should validate: %v", err)
	}

	bad := []Thresholds{
		{FastMs: 0, OKMs: 100, SlowMs: 150},
		{FastMs: 85, OKMs: 85, SlowMs: 150},
		{FastMs: 85, OKMs: 100, SlowMs: 100},
		{FastMs: 100, OKMs: 85, SlowMs: 150},
	}
	for _, th := range bad {
		if err := th.Validate(); err == nil {
			t.Errorf("thresholds %+v should fail validation", th)
		}
	}
}

func TestRequestResultSuccess(t *testing.T) {
	if !(RequestResult{Method: "eth_blockNumber"}).Success() {
		t.Error("result without error should be a success")
	}
}
