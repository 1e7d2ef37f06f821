package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
	"github.com/GriffinCanCode/livetag/internal/history"
)

func TestCalibrate(t *testing.T) {
	h := newHarness(t)
	cal, err := h.monitor().Calibrate(context.Background())
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if cal.Width != 40 || cal.Height != 20 {
		t.Errorf("size = %dx%d, want 40x20", cal.Width, cal.Height)
	}
	img, err := imaging.Open(cal.Path)
	if err != nil {
		t.Fatalf("open calibration image: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 20 {
		t.Errorf("saved size = %dx%d, want 40x20", b.Dx(), b.Dy())
	}
}

func TestCalibrateCaptureFailure(t *testing.T) {
	h := newHarness(t)
	h.capture.err = apperrors.New(apperrors.CaptureFailed, "no display")
	if _, err := h.monitor().Calibrate(context.Background()); !apperrors.IsCode(err, apperrors.CaptureFailed) {
		t.Errorf("err = %v, want %s", err, apperrors.CaptureFailed)
	}
}

func TestValidate(t *testing.T) {
	h := newHarness(t)
	if err := h.monitor().Validate(context.Background()); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if h.recognizeCalls() != 0 {
		t.Error("Validate should not run recognition")
	}
}

func TestValidateRejectsBadRegion(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness, s *Settings)
		code  apperrors.Code
	}{
		{"out of bounds", func(h *harness, s *Settings) {
			h.capture.err = apperrors.New(apperrors.CaptureOutOfBounds, "region 1800,0 400x800 outside 1920x1080")
		}, apperrors.CaptureOutOfBounds},
		{"no capture tool", func(h *harness, s *Settings) {
			h.capture.err = apperrors.New(apperrors.CaptureFailed, "no screenshot tool found")
		}, apperrors.CaptureFailed},
		{"wrong frame size", func(h *harness, s *Settings) {
			s.Region.Width = 400
		}, apperrors.CaptureFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			s := h.settings()
			tt.setup(h, &s)

			err := New(s, h.deps()).Validate(context.Background())
			if !apperrors.IsCode(err, tt.code) {
				t.Errorf("err = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestTestOnceDoesNotPersist(t *testing.T) {
	h := newHarness(t, "fafa ID 125", "2362")
	p, err := h.monitor().TestOnce(context.Background())
	if err != nil {
		t.Fatalf("TestOnce: %v", err)
	}
	if !p.Triggered {
		t.Error("Triggered = false, want true")
	}
	if len(p.Pairs) != 1 || p.Pairs[0] != pair125 {
		t.Errorf("Pairs = %v, want [%v]", p.Pairs, pair125)
	}
	if len(p.Lines) != 2 {
		t.Errorf("Lines = %d, want 2", len(p.Lines))
	}
	if h.arts.writes != 0 || h.store.Len() != 0 {
		t.Errorf("writes=%d history=%d, want nothing persisted", h.arts.writes, h.store.Len())
	}
}

func TestTestOnceReportsExtractFailure(t *testing.T) {
	h := newHarness(t, "hello")
	p, err := h.monitor().TestOnce(context.Background())
	if err != nil {
		t.Fatalf("TestOnce: %v", err)
	}
	if p.Triggered {
		t.Error("Triggered = true, want false")
	}
	if !apperrors.IsCode(p.ExtractErr, apperrors.ExtractFailed) {
		t.Errorf("ExtractErr = %v, want %s", p.ExtractErr, apperrors.ExtractFailed)
	}
}

func TestReconcile(t *testing.T) {
	h := newHarness(t)
	other := history.Pair{Identifier: "9", Serial: "1"}
	for _, p := range []history.Pair{pair125, other} {
		if _, err := h.arts.Writer.Write(testFrame(), h.clock.Now(), p, []string{"x"}, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.store.Commit(other, h.clock.Now()); err != nil {
		t.Fatal(err)
	}

	m := h.monitor()
	added, err := m.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	if !h.store.Contains(pair125) {
		t.Error("pair125 should be reconciled into history")
	}

	again, _ := m.Reconcile(context.Background())
	if again != 0 {
		t.Errorf("second Reconcile added %d, want 0", again)
	}
}

func TestSummaryFormat(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	s := Summary{
		Session:       "abc",
		Start:         start,
		End:           start.Add(90 * time.Second),
		Cycles:        12,
		Saves:         2,
		PerIdentifier: map[string]int{"300": 1, "125": 1},
	}
	out := s.Format()
	for _, want := range []string{"session:    abc", "duration:   1m30s", "cycles:     12", "saved by identifier:"} {
		if !strings.Contains(out, want) {
			t.Errorf("Format missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "ID_125") > strings.Index(out, "ID_300") {
		t.Errorf("identifiers should be sorted:\n%s", out)
	}
}

func TestAppendRunLogAppends(t *testing.T) {
	dir := t.TempDir()
	s := Summary{Session: "a", Start: time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)}
	p1, err := AppendRunLog(dir, s)
	if err != nil {
		t.Fatal(err)
	}
	s.Session = "b"
	p2, err := AppendRunLog(dir, s)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 || !strings.HasSuffix(p1, "2026-01-02.log") {
		t.Errorf("paths = %s, %s", p1, p2)
	}
}

func TestStateClone(t *testing.T) {
	st := NewState("s", time.Now())
	st.PerIdentifier["1"] = 1
	st.LastLines = []string{"a"}
	c := st.Clone()
	c.PerIdentifier["1"] = 5
	c.LastLines[0] = "b"
	if st.PerIdentifier["1"] != 1 || st.LastLines[0] != "a" {
		t.Error("Clone should not share maps or slices")
	}
}
