// Package state tracks pipeline runs and produced artifacts in SQLite.
package state

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run kinds.
const (
	RunKindMerge    = "merge"
	RunKindFit      = "fit"
	RunKindOptimize = "optimize"
)

// Run is one invocation of a pipeline command.
type Run struct {
	ID          string
	Kind        string
	Environment string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// Artifact records a file a run produced.
type Artifact struct {
	ID          string
	RunID       string
	Kind        string // dataset | model | report
	Path        string
	Fingerprint string
	CreatedAt   time.Time
}

// Store is the persistence contract for run tracking.
type Store interface {
	Open(path string) error
	Close() error
	Migrate() error

	CreateRun(kind, environment string) (*Run, error)
	CompleteRun(id string, status RunStatus, errMsg string) error
	GetRun(id string) (*Run, error)
	ListRuns(limit int) ([]*Run, error)

	RecordArtifact(runID, kind, path, fingerprint string) (*Artifact, error)
	ListArtifacts(limit int) ([]*Artifact, error)
}
