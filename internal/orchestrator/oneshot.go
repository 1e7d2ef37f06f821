package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
	"github.com/GriffinCanCode/livetag/internal/history"
	"github.com/GriffinCanCode/livetag/internal/recognize"
	"github.com/GriffinCanCode/livetag/internal/trace"
)

// Calibration is the result of a full-display capture.
type Calibration struct {
	Path   string
	Width  int
	Height int
}

// Calibrate captures the whole display and writes it to the calibration
// output so the operator can pick monitor_region coordinates.
func (m *Monitor) Calibrate(ctx context.Context) (Calibration, error) {
	ctx, span := trace.StartSpan(ctx, "calibrate")
	defer span.EndAndLog(ctx)

	frame, err := m.capturer.CaptureFull(ctx)
	if err != nil {
		return Calibration{}, err
	}
	path := m.settings.CalibrationOutput
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Calibration{}, apperrors.Wrapf(err, apperrors.PersistFailed, "create %s", dir)
		}
	}
	if err := imaging.Save(frame.Image, path); err != nil {
		return Calibration{}, apperrors.Wrapf(err, apperrors.PersistFailed, "save %s", path)
	}
	b := frame.Image.Bounds()
	trace.Logger(ctx).Info("calibration frame saved", "path", path, "width", b.Dx(), "height", b.Dy())
	return Calibration{Path: path, Width: b.Dx(), Height: b.Dy()}, nil
}

// Validate captures the configured region once. An out-of-bounds region or a
// missing capture tool is reported here so startup can fail instead of the
// loop failing every cycle.
func (m *Monitor) Validate(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "validate_capture")
	defer span.EndAndLog(ctx)

	frame, err := m.capturer.Capture(ctx, m.settings.Region)
	if err != nil {
		span.Fail(err)
		return err
	}
	b := frame.Image.Bounds()
	if b.Dx() != m.settings.Region.Width || b.Dy() != m.settings.Region.Height {
		err := apperrors.Newf(apperrors.CaptureFailed, "captured %dx%d, want %dx%d",
			b.Dx(), b.Dy(), m.settings.Region.Width, m.settings.Region.Height)
		span.Fail(err)
		return err
	}
	return nil
}

// DryRun is one cycle run up to extraction.
type DryRun struct {
	Lines       []recognize.Line
	Triggered   bool
	Identifiers []string
	Serials     []string
	Pairs       []history.Pair
	ExtractErr  error
}

// TestOnce captures and recognizes the region once. It never writes artifacts
// or touches the dedup store.
func (m *Monitor) TestOnce(ctx context.Context) (DryRun, error) {
	ctx, span := trace.StartSpan(ctx, "test_once")
	defer span.EndAndLog(ctx)

	frame, err := m.capturer.Capture(ctx, m.settings.Region)
	if err != nil {
		return DryRun{}, err
	}
	ocr, err := m.recognizer.Recognize(ctx, frame.Image)
	if err != nil {
		return DryRun{}, err
	}

	texts := ocr.Texts()
	p := DryRun{Lines: ocr.Lines, Triggered: m.trigger.Match(texts)}
	ex, err := m.extractor.Extract(texts)
	p.Identifiers, p.Serials, p.Pairs, p.ExtractErr = ex.Identifiers, ex.Serials, ex.Pairs, err
	return p, nil
}

// Reconcile commits pairs whose artifacts exist on disk but are missing from
// the history log, e.g. after a crash between write and commit or a lost log.
// It returns how many pairs were added.
func (m *Monitor) Reconcile(ctx context.Context) (int, error) {
	log := trace.Logger(ctx)
	recs, err := m.artifacts.Scan()
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.PersistFailed, "scan artifacts")
	}

	added := 0
	var errs []error
	for _, r := range recs {
		p := r.Pair()
		if !p.Valid() || m.history.Contains(p) {
			continue
		}
		if err := m.history.Commit(p, r.ModTime); err != nil {
			errs = append(errs, err)
			continue
		}
		added++
		log.Info("history reconciled from artifact", "pair", p.String(), "path", r.ImagePath)
	}
	m.metrics.HistorySize(m.history.Len())
	return added, errors.Join(errs...)
}
