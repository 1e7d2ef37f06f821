package orchestrator

import "time"

// Monitor configuration constants
const (
	// Progress line cadence, in cycles.
	ProgressEvery = 10

	// Per-subscriber buffer of the event broadcaster.
	EventBuffer = 64

	// Run log file layout under storage.logs_dir.
	RunLogDateLayout = "2006-01-02"
	RunLogTimeLayout = "2006-01-02 15:04:05"

	defaultInterval = time.Second
)
