package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
)

// Summary is the totals of one Run.
type Summary struct {
	Session       string
	Start, End    time.Time
	Cycles        int
	Triggers      int
	Saves         int
	Duplicates    int
	Failures      int
	PerIdentifier map[string]int
}

func (s Summary) Duration() time.Duration { return s.End.Sub(s.Start) }

const rule = "=================================================="

// Format renders the block appended to the run log.
func (s Summary) Format() string {
	var b strings.Builder
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "session:    %s\n", s.Session)
	fmt.Fprintf(&b, "started:    %s\n", s.Start.Local().Format(RunLogTimeLayout))
	fmt.Fprintf(&b, "ended:      %s\n", s.End.Local().Format(RunLogTimeLayout))
	fmt.Fprintf(&b, "duration:   %s\n", s.Duration().Round(time.Second))
	fmt.Fprintf(&b, "cycles:     %d\n", s.Cycles)
	fmt.Fprintf(&b, "triggers:   %d\n", s.Triggers)
	fmt.Fprintf(&b, "saves:      %d\n", s.Saves)
	fmt.Fprintf(&b, "duplicates: %d\n", s.Duplicates)
	fmt.Fprintf(&b, "failures:   %d\n", s.Failures)
	if len(s.PerIdentifier) > 0 {
		fmt.Fprintln(&b, "saved by identifier:")
		ids := make([]string, 0, len(s.PerIdentifier))
		for id := range s.PerIdentifier {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, "  ID_%s: %d\n", id, s.PerIdentifier[id])
		}
	}
	fmt.Fprintln(&b, rule)
	return b.String()
}

// AppendRunLog appends s to <dir>/<start date>.log and returns the path.
func AppendRunLog(dir string, s Summary) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Wrapf(err, apperrors.PersistFailed, "create %s", dir)
	}
	path := filepath.Join(dir, s.Start.Local().Format(RunLogDateLayout)+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.PersistFailed, "open %s", path)
	}
	if _, err := f.WriteString(s.Format()); err != nil {
		f.Close()
		return "", apperrors.Wrapf(err, apperrors.PersistFailed, "write %s", path)
	}
	return path, f.Close()
}
