// Package classify defines the optional style classifier capability.
package classify

import (
	"context"
	"image"
	"time"

	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
)

// Result is an advisory label for a saved frame.
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model,omitempty"`
}

// Classifier labels a frame.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (Result, error)
}

// Bounded applies a timeout to a Classifier and tags failures as
// CLASSIFY_FAILED.
type Bounded struct {
	inner   Classifier
	timeout time.Duration
}

func NewBounded(c Classifier, timeout time.Duration) *Bounded {
	return &Bounded{inner: c, timeout: timeout}
}

func (b *Bounded) Classify(ctx context.Context, img image.Image) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := b.inner.Classify(ctx, img)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return Result{}, apperrors.Wrapf(ctx.Err(), apperrors.ClassifyFailed, "classification exceeded %s", b.timeout)
	case o := <-done:
		if o.err != nil {
			return Result{}, apperrors.Wrap(o.err, apperrors.ClassifyFailed, "classify frame")
		}
		if o.res.Label == "" {
			return Result{}, apperrors.New(apperrors.ClassifyFailed, "classifier returned no label")
		}
		return o.res, nil
	}
}
