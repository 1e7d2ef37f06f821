package classify

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
)

type stubClassifier struct {
	res   Result
	err   error
	block chan struct{}
}

func (s *stubClassifier) Classify(ctx context.Context, _ image.Image) (Result, error) {
	if s.block != nil {
		<-s.block
	}
	return s.res, s.err
}

var frame = image.NewRGBA(image.Rect(0, 0, 2, 2))

func TestBoundedClassify(t *testing.T) {
	b := NewBounded(&stubClassifier{res: Result{Label: "floral", Confidence: 0.8}}, time.Second)

	res, err := b.Classify(context.Background(), frame)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Label != "floral" {
		t.Errorf("Label = %q, want %q", res.Label, "floral")
	}
}

func TestBoundedClassifyFailure(t *testing.T) {
	tests := []struct {
		name string
		stub *stubClassifier
	}{
		{"error", &stubClassifier{err: errors.New("model missing")}},
		{"empty label", &stubClassifier{res: Result{Confidence: 0.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBounded(tt.stub, time.Second).Classify(context.Background(), frame)
			if !apperrors.IsCode(err, apperrors.ClassifyFailed) {
				t.Errorf("code = %q, want %q", apperrors.CodeOf(err), apperrors.ClassifyFailed)
			}
		})
	}
}

func TestBoundedClassifyTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	b := NewBounded(&stubClassifier{block: block}, 20*time.Millisecond)

	_, err := b.Classify(context.Background(), frame)
	if !apperrors.IsCode(err, apperrors.ClassifyFailed) {
		t.Errorf("code = %q, want %q", apperrors.CodeOf(err), apperrors.ClassifyFailed)
	}
}
