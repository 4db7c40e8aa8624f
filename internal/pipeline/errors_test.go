package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"permanent", Permanent(errors.New("corrupt")), ClassPermanent},
		{"transient", Transient(errors.New("blip")), ClassTransient},
		{"quota", QuotaExceeded(errors.New("429")), ClassQuota},
		{"wrapped permanent", fmt.Errorf("extraction failed: %w", Permanent(errors.New("corrupt"))), ClassPermanent},
		{"wrapped quota", fmt.Errorf("embedding failed: %w", QuotaExceeded(errors.New("429"))), ClassQuota},
		{"stage timeout", context.DeadlineExceeded, ClassTransient},
		{"unmarked", errors.New("who knows"), ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if ClassPermanent.Retryable() {
		t.Error("permanent class is retryable")
	}
	if !ClassTransient.Retryable() || !ClassQuota.Retryable() {
		t.Error("transient and quota classes must be retryable")
	}
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.75, 0}
	got := DecodeVector(EncodeVector(vec))
	if len(got) != len(vec) {
		t.Fatalf("len = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("vec[%d] = %v, want %v", i, got[i], vec[i])
		}
	}
}
