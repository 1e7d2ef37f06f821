// Package tesseract recognizes text lines locally with Tesseract.
package tesseract

import (
	"bytes"
	"context"
	"image"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
	"github.com/GriffinCanCode/livetag/internal/recognize"
)

// Frames narrower than this are upscaled before recognition.
const minWidth = 1000

// Recognizer owns one Tesseract client. Calls are serialized because the
// underlying API handle is not goroutine safe.
type Recognizer struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// New creates a recognizer for the given "+"-joined language list, e.g.
// "eng+chi_sim".
func New(language string) (*Recognizer, error) {
	client := gosseract.NewClient()
	langs := strings.Split(language, "+")
	if err := client.SetLanguage(langs...); err != nil {
		client.Close()
		return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "tesseract language %q", language)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SPARSE_TEXT); err != nil {
		client.Close()
		return nil, apperrors.Wrap(err, apperrors.OCRFailed, "set page segmentation mode")
	}
	return &Recognizer{client: client}, nil
}

// Recognize returns one Line per Tesseract text line, in reading order.
func (r *Recognizer) Recognize(ctx context.Context, img image.Image) (recognize.Result, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, preprocess(img), imaging.PNG); err != nil {
		return recognize.Result{}, apperrors.Wrap(err, apperrors.OCRFailed, "encode frame")
	}
	if err := ctx.Err(); err != nil {
		return recognize.Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return recognize.Result{}, apperrors.Wrap(err, apperrors.OCRFailed, "load frame")
	}
	boxes, err := r.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return recognize.Result{}, apperrors.Wrap(err, apperrors.OCRFailed, "tesseract")
	}

	lines := make([]recognize.Line, 0, len(boxes))
	for _, b := range boxes {
		lines = append(lines, recognize.Line{
			Text:       strings.TrimSpace(b.Word),
			Confidence: b.Confidence / 100,
		})
	}
	return recognize.Result{Lines: lines}, nil
}

// Close releases the Tesseract handle.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client.Close()
}

// preprocess converts to grayscale, raises contrast and upscales small frames.
func preprocess(img image.Image) image.Image {
	gray := imaging.Grayscale(img)
	gray = imaging.AdjustContrast(gray, 15)
	gray = imaging.Sharpen(gray, 0.7)
	if gray.Bounds().Dx() < minWidth {
		gray = imaging.Resize(gray, minWidth, 0, imaging.Lanczos)
	}
	return gray
}
