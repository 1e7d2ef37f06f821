package orchestrator

import (
	"maps"
	"slices"
	"time"

	"github.com/GriffinCanCode/livetag/internal/history"
)

// Stage is a step of the cycle state machine.
type Stage string

const (
	StageIdle          Stage = "IDLE"
	StageCapture       Stage = "CAPTURE"
	StageRecognize     Stage = "RECOGNIZE"
	StageTriggerCheck  Stage = "TRIGGER_CHECK"
	StageExtract       Stage = "EXTRACT"
	StageDedupCheck    Stage = "DEDUP_CHECK"
	StageClassify      Stage = "CLASSIFY"
	StagePersist       Stage = "PERSIST"
	StageCommitHistory Stage = "COMMIT_HISTORY"
)

// State is the run state threaded through every cycle. Only the loop mutates
// it; readers get copies via Monitor.Snapshot.
type State struct {
	Session       string         `json:"session"`
	StartedAt     time.Time      `json:"started_at"`
	Cycles        int            `json:"cycles"`
	Triggers      int            `json:"triggers"`
	Saves         int            `json:"saves"`
	Duplicates    int            `json:"duplicates"`
	Failures      int            `json:"failures"`
	PerIdentifier map[string]int `json:"per_identifier"`
	LastLines     []string       `json:"last_lines"`
	LastStage     Stage          `json:"last_stage"`
	LastError     string         `json:"last_error,omitempty"`
	LastCycleAt   time.Time      `json:"last_cycle_at"`
	LastSaved     *history.Pair  `json:"last_saved,omitempty"`
	LastSavedAt   time.Time      `json:"last_saved_at"`
}

// NewState starts an empty run.
func NewState(session string, now time.Time) *State {
	return &State{
		Session:       session,
		StartedAt:     now,
		PerIdentifier: make(map[string]int),
		LastStage:     StageIdle,
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	s.PerIdentifier = maps.Clone(s.PerIdentifier)
	s.LastLines = slices.Clone(s.LastLines)
	if s.LastSaved != nil {
		p := *s.LastSaved
		s.LastSaved = &p
	}
	return s
}

func (s *State) recordSave(p history.Pair, at time.Time) {
	s.Saves++
	if s.PerIdentifier == nil {
		s.PerIdentifier = make(map[string]int)
	}
	s.PerIdentifier[p.Identifier]++
	s.LastSaved = &p
	s.LastSavedAt = at
}
