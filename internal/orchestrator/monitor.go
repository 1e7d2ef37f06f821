// Package orchestrator runs the capture, recognize, trigger, extract, dedup and
// persist cycle at a fixed cadence.
package orchestrator

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/livetag/internal/artifact"
	"github.com/GriffinCanCode/livetag/internal/classify"
	"github.com/GriffinCanCode/livetag/internal/config"
	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
	"github.com/GriffinCanCode/livetag/internal/history"
	"github.com/GriffinCanCode/livetag/internal/metrics"
	"github.com/GriffinCanCode/livetag/internal/orchestrator/extract"
	"github.com/GriffinCanCode/livetag/internal/orchestrator/similarity"
	"github.com/GriffinCanCode/livetag/internal/orchestrator/trigger"
	"github.com/GriffinCanCode/livetag/internal/recognize"
	"github.com/GriffinCanCode/livetag/internal/screen"
	"github.com/GriffinCanCode/livetag/internal/syncx"
	"github.com/GriffinCanCode/livetag/internal/trace"
)

// Capturer grabs display frames.
type Capturer interface {
	Capture(ctx context.Context, r screen.Region) (*screen.Frame, error)
	CaptureFull(ctx context.Context) (*screen.Frame, error)
}

// Dedup is the durable set of pairs already saved.
type Dedup interface {
	Contains(p history.Pair) bool
	Commit(p history.Pair, seenAt time.Time) error
	Len() int
}

// Artifacts persists and lists saved frames.
type Artifacts interface {
	Bucket(t time.Time) string
	Lookup(p history.Pair, bucket string) (artifact.Record, bool)
	Write(img image.Image, capturedAt time.Time, p history.Pair, lines []string, style *classify.Result) (artifact.Record, error)
	Scan() ([]artifact.Record, error)
}

// Clock abstracts time for the loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Settings is the subset of config the loop needs.
type Settings struct {
	Region             screen.Region
	Interval           time.Duration
	TriggerKeyword     string
	SerialMarkers      []string
	SkipSimilarFrames  bool
	SimilarityDistance int
	OCRTimeout         time.Duration
	MinConfidence      float64
	ClassifierTimeout  time.Duration
	CalibrationOutput  string
	LogsDir            string // empty disables the run log
}

// SettingsFromConfig maps a validated config onto Settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := Settings{
		Interval:           cfg.IntervalDuration(),
		TriggerKeyword:     cfg.Monitor.TriggerKeyword,
		SerialMarkers:      cfg.Extract.SerialMarkers,
		SkipSimilarFrames:  cfg.Monitor.SkipSimilarFrames,
		SimilarityDistance: cfg.Monitor.SimilarityDistance,
		OCRTimeout:         cfg.OCR.Timeout,
		MinConfidence:      cfg.OCR.MinConfidence,
		ClassifierTimeout:  cfg.Classifier.Timeout,
		CalibrationOutput:  cfg.Capture.CalibrationOutput,
		LogsDir:            cfg.Storage.LogsDir,
	}
	if cfg.Region != nil {
		s.Region = screen.Region{
			Left:   cfg.Region.Left,
			Top:    cfg.Region.Top,
			Width:  cfg.Region.Width,
			Height: cfg.Region.Height,
		}
	}
	return s
}

// Deps are the collaborators of a Monitor. Classifier, Clock, Metrics and
// Events are optional.
type Deps struct {
	Capturer   Capturer
	Recognizer recognize.Recognizer
	Classifier classify.Classifier
	History    Dedup
	Artifacts  Artifacts
	Clock      Clock
	Metrics    *metrics.Metrics
	Events     Sink
}

// Monitor owns the cycle loop. It is the single writer of the dedup store.
type Monitor struct {
	settings   Settings
	capturer   Capturer
	recognizer recognize.Recognizer
	classifier classify.Classifier
	history    Dedup
	artifacts  Artifacts
	clock      Clock
	metrics    *metrics.Metrics
	events     Sink

	trigger   trigger.Detector
	extractor *extract.Extractor
	gate      *similarity.Gate
	snapshot  *syncx.RWGuard[State]
}

// New wires a Monitor. The recognizer and classifier are wrapped with their
// timeouts here.
func New(s Settings, d Deps) *Monitor {
	if s.Interval <= 0 {
		s.Interval = defaultInterval
	}
	if s.OCRTimeout <= 0 {
		s.OCRTimeout = config.DefaultOCRTimeout
	}
	if s.ClassifierTimeout <= 0 {
		s.ClassifierTimeout = config.DefaultClassifierTimeout
	}
	if s.CalibrationOutput == "" {
		s.CalibrationOutput = config.DefaultCalibrationOutput
	}
	if d.Clock == nil {
		d.Clock = realClock{}
	}

	m := &Monitor{
		settings:   s,
		capturer:   d.Capturer,
		recognizer: recognize.NewBounded(d.Recognizer, s.OCRTimeout, s.MinConfidence),
		history:    d.History,
		artifacts:  d.Artifacts,
		clock:      d.Clock,
		metrics:    d.Metrics,
		events:     d.Events,
		trigger:    trigger.New(s.TriggerKeyword),
		extractor:  extract.New(append([]string{s.TriggerKeyword}, s.SerialMarkers...)...),
		snapshot:   syncx.NewGuard(*NewState("", time.Time{})),
	}
	if d.Classifier != nil {
		m.classifier = classify.NewBounded(d.Classifier, s.ClassifierTimeout)
	}
	if s.SkipSimilarFrames {
		m.gate = similarity.New(s.SimilarityDistance)
	}
	return m
}

// Snapshot returns a copy of the state published after the last cycle.
func (m *Monitor) Snapshot() State {
	return syncx.View(m.snapshot, State.Clone)
}

// CycleResult describes one cycle.
type CycleResult struct {
	Stage      Stage // last stage reached
	Outcome    string
	Lines      []string
	Pairs      []history.Pair
	Saved      []artifact.Record
	Duplicates []history.Pair
	Err        error
}

// RunCycle executes one cycle against st. Per-cycle failures are returned in
// the result, logged, and never abort the caller.
func (m *Monitor) RunCycle(ctx context.Context, st *State) CycleResult {
	start := m.clock.Now()
	st.Cycles++
	ctx = trace.WithContext(trace.WithCycle(ctx, st.Cycles), trace.New())
	ctx, span := trace.StartSpan(ctx, "cycle")
	log := trace.Logger(ctx)

	res := m.cycle(ctx, log, st)
	span.Fail(res.Err)

	if res.Err != nil {
		st.Failures++
		st.LastError = res.Err.Error()
		res.Outcome = metrics.OutcomeFailed
		m.metrics.Failure(string(apperrors.CodeOf(res.Err)))
	}
	st.LastStage = res.Stage
	st.LastCycleAt = start
	span.SetAttr("stage", string(res.Stage))
	span.SetAttr("outcome", res.Outcome)
	span.End()

	m.metrics.ObserveCycle(res.Outcome, m.clock.Now().Sub(start))
	m.metrics.HistorySize(m.history.Len())
	m.snapshot.Set(st.Clone())
	return res
}

func (m *Monitor) cycle(ctx context.Context, log *slog.Logger, st *State) CycleResult {
	res := CycleResult{Stage: StageCapture}

	frame, err := m.capturer.Capture(ctx, m.settings.Region)
	if err != nil {
		log.Warn("capture failed", "region", m.settings.Region.String(), "error", err)
		res.Err = err
		return res
	}
	if m.gate != nil && m.gate.Similar(frame.Image) {
		log.Debug("skipping similar frame")
		res.Outcome = metrics.OutcomeSkipped
		return res
	}

	res.Stage = StageRecognize
	ocr, err := m.recognizer.Recognize(ctx, frame.Image)
	if err != nil {
		m.resetGate()
		log.Warn("recognition failed", "error", err)
		res.Err = err
		return res
	}
	res.Lines = ocr.Texts()
	st.LastLines = res.Lines

	res.Stage = StageTriggerCheck
	if !m.trigger.Match(res.Lines) {
		res.Outcome = metrics.OutcomeIdle
		return res
	}
	st.Triggers++
	// A label frame must never be the reference that hides the next label.
	m.resetGate()
	log.Info("trigger keyword detected", "keyword", m.trigger.Keyword(), "lines", len(res.Lines))

	res.Stage = StageExtract
	ex, err := m.extractor.Extract(res.Lines)
	if err != nil {
		log.Warn("no identifier pair in triggered frame",
			"identifiers", ex.Identifiers, "serials", ex.Serials, "error", err)
		res.Err = err
		return res
	}
	res.Pairs = ex.Pairs

	res.Stage = StageDedupCheck
	var fresh []history.Pair
	for _, p := range ex.Pairs {
		if m.history.Contains(p) {
			log.Info("duplicate pair skipped", "pair", p.String())
			st.Duplicates++
			res.Duplicates = append(res.Duplicates, p)
			m.metrics.Duplicate()
			m.publish(newEvent(EventDuplicate, p, frame.CapturedAt))
			continue
		}
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		res.Outcome = metrics.OutcomeDuplicate
		return res
	}

	var style *classify.Result
	if m.classifier != nil {
		res.Stage = StageClassify
		if r, err := m.classifier.Classify(ctx, frame.Image); err != nil {
			log.Warn("classification failed, saving without label", "error", err)
		} else {
			style = &r
		}
	}

	for _, p := range fresh {
		res.Stage = StagePersist
		rec, err := m.persist(log, frame, p, res.Lines, style)
		if err != nil {
			m.resetGate()
			log.Error("persist failed", "pair", p.String(), "error", err)
			res.Err = err
			return res
		}

		res.Stage = StageCommitHistory
		if err := m.history.Commit(p, frame.CapturedAt); err != nil {
			m.resetGate()
			log.Error("history commit failed", "pair", p.String(), "error", err)
			res.Err = err
			return res
		}

		st.recordSave(p, frame.CapturedAt)
		res.Saved = append(res.Saved, rec)
		m.metrics.Saved()
		log.Info("saved", "pair", p.String(), "path", rec.ImagePath, "label", rec.Label)

		ev := newEvent(EventSaved, p, frame.CapturedAt)
		ev.Path, ev.Label = rec.ImagePath, rec.Label
		m.publish(ev)
	}
	res.Outcome = metrics.OutcomeSaved
	return res
}

// persist writes the artifact unless a previous run already wrote the image
// and stopped before committing it.
func (m *Monitor) persist(log *slog.Logger, frame *screen.Frame, p history.Pair, lines []string, style *classify.Result) (artifact.Record, error) {
	bucket := m.artifacts.Bucket(frame.CapturedAt)
	if rec, ok := m.artifacts.Lookup(p, bucket); ok {
		log.Info("artifact already on disk, committing", "pair", p.String(), "path", rec.ImagePath)
		return rec, nil
	}
	return m.artifacts.Write(frame.Image, frame.CapturedAt, p, lines, style)
}

func (m *Monitor) resetGate() {
	if m.gate != nil {
		m.gate.Reset()
	}
}

func (m *Monitor) publish(ev Event) {
	if m.events == nil {
		return
	}
	if dropped := m.events.Publish(ev); dropped > 0 {
		slog.Debug("event dropped by slow subscribers", "type", ev.Type, "dropped", dropped)
	}
}

// Run executes cycles until ctx is cancelled and returns the final state.
// Cancellation is only observed between cycles: a cycle in flight runs to
// completion on a detached context.
func (m *Monitor) Run(ctx context.Context) State {
	st := NewState(uuid.NewString(), m.clock.Now())
	ctx = trace.WithSession(ctx, st.Session)
	log := trace.Logger(ctx)
	m.snapshot.Set(st.Clone())

	log.Info("monitor started",
		"region", m.settings.Region.String(),
		"interval", m.settings.Interval,
		"keyword", m.trigger.Keyword(),
		"history", m.history.Len())

	cycleCtx := context.WithoutCancel(ctx)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		started := m.clock.Now()
		m.RunCycle(cycleCtx, st)
		if st.Cycles%ProgressEvery == 0 {
			log.Info("progress", "cycles", st.Cycles, "saves", st.Saves, "duplicates", st.Duplicates, "failures", st.Failures)
		}

		wait := m.settings.Interval - m.clock.Now().Sub(started)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			break loop
		case <-m.clock.After(wait):
		}
	}

	sum := m.summary(st)
	log.Info("monitor stopped",
		"duration", sum.Duration().Round(time.Second),
		"cycles", sum.Cycles,
		"saves", sum.Saves,
		"duplicates", sum.Duplicates,
		"failures", sum.Failures,
		"per_identifier", sum.PerIdentifier)
	if m.settings.LogsDir != "" {
		if path, err := AppendRunLog(m.settings.LogsDir, sum); err != nil {
			log.Warn("run log not written", "error", err)
		} else {
			log.Info("run log written", "path", path)
		}
	}
	return st.Clone()
}

func (m *Monitor) summary(st *State) Summary {
	return Summary{
		Session:       st.Session,
		Start:         st.StartedAt,
		End:           m.clock.Now(),
		Cycles:        st.Cycles,
		Triggers:      st.Triggers,
		Saves:         st.Saves,
		Duplicates:    st.Duplicates,
		Failures:      st.Failures,
		PerIdentifier: st.PerIdentifier,
	}
}
