// Package recognize defines the text recognition capability and the bounds the
// monitor loop places around it.
package recognize

import (
	"context"
	"errors"
	"image"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
)

// Line is one recognized text line. Confidence is in [0,1], or negative when
// the backend does not report one.
type Line struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is the ordered list of lines recognized in one frame.
type Result struct {
	Lines []Line `json:"lines"`
}

// Texts returns the line texts in order.
func (r Result) Texts() []string {
	out := make([]string, len(r.Lines))
	for i, l := range r.Lines {
		out[i] = l.Text
	}
	return out
}

// Empty reports whether no line was recognized.
func (r Result) Empty() bool { return len(r.Lines) == 0 }

// Recognizer turns an image into ordered text lines.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (Result, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, img image.Image) (Result, error)

func (f RecognizerFunc) Recognize(ctx context.Context, img image.Image) (Result, error) {
	return f(ctx, img)
}

// Bounded wraps a Recognizer with a hard timeout and a confidence floor.
// The timeout holds even when the wrapped backend ignores its context.
type Bounded struct {
	inner         Recognizer
	timeout       time.Duration
	minConfidence float64
}

// NewBounded wraps r. Lines whose reported confidence is not above
// minConfidence are dropped.
func NewBounded(r Recognizer, timeout time.Duration, minConfidence float64) *Bounded {
	return &Bounded{inner: r, timeout: timeout, minConfidence: minConfidence}
}

type outcome struct {
	res Result
	err error
}

// Recognize runs the wrapped recognizer. It returns OCR_TIMEOUT when the
// deadline passes first and OCR_FAILED for any backend error.
func (b *Bounded) Recognize(ctx context.Context, img image.Image) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		res, err := b.inner.Recognize(ctx, img)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return Result{}, b.contextError(ctx.Err())
	case o := <-done:
		if o.err != nil {
			if ctx.Err() != nil {
				return Result{}, b.contextError(ctx.Err())
			}
			if apperrors.CodeOf(o.err) == apperrors.Unknown {
				return Result{}, apperrors.Wrap(o.err, apperrors.OCRFailed, "recognize frame")
			}
			return Result{}, o.err
		}
		return b.filter(o.res), nil
	}
}

func (b *Bounded) contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Newf(apperrors.OCRTimeout, "recognition exceeded %s", b.timeout)
	}
	return apperrors.Wrap(err, apperrors.Cancelled, "recognition cancelled")
}

func (b *Bounded) filter(res Result) Result {
	lines := make([]Line, 0, len(res.Lines))
	for _, l := range res.Lines {
		text := strings.TrimSpace(l.Text)
		if text == "" {
			continue
		}
		if l.Confidence >= 0 && l.Confidence <= b.minConfidence {
			continue
		}
		lines = append(lines, Line{Text: text, Confidence: l.Confidence})
	}
	return Result{Lines: lines}
}
