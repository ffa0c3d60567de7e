package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TransformationStatus string

const (
	StatusPending    TransformationStatus = "pending"
	StatusProcessing TransformationStatus = "processing"
	StatusCompleted  TransformationStatus = "completed"
	StatusFailed     TransformationStatus = "failed"
)

// validTransitions lists the forward moves a transformation record may make.
// Completed and failed are terminal.
var validTransitions = map[TransformationStatus]map[TransformationStatus]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusCompleted:  true,
		StatusFailed:     true,
	},
	StatusProcessing: {
		StatusProcessing: true,
		StatusCompleted:  true,
		StatusFailed:     true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

// ValidateTransition checks that a record may move from one status to another.
func ValidateTransition(from, to TransformationStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown source status: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// statusOrder fixes the order SourcesFor lists statuses in.
var statusOrder = []TransformationStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// SourcesFor lists the statuses a record may be in for a write that moves it
// to to. Stores use it as the guard on every status write.
func SourcesFor(to TransformationStatus) []TransformationStatus {
	var from []TransformationStatus
	for _, s := range statusOrder {
		if ValidateTransition(s, to) == nil {
			from = append(from, s)
		}
	}
	return from
}

// IsTerminal reports whether no further updates are expected.
func (s TransformationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s TransformationStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Transformation is the persisted record tracking one remote job. After
// creation it is only written by the worker that owns it.
type Transformation struct {
	ID              uuid.UUID            `json:"id"`
	UserID          uuid.UUID            `json:"user_id"`
	SourcePath      string               `json:"source_path"`
	Effect          string               `json:"effect"`
	Status          TransformationStatus `json:"status"`
	Progress        int                  `json:"progress"`
	Frames          int64                `json:"frames"`
	FPS             float64              `json:"fps"`
	Speed           float64              `json:"speed"`
	Time            string               `json:"timemark"`
	Size            int64                `json:"size"`
	TransformedPath *string              `json:"transformed_path"`
	ErrorMessage    *string              `json:"error_message,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// Consistent reports whether the record satisfies the completion invariant:
// a completed record always carries its transformed path.
func (t *Transformation) Consistent() bool {
	if t.Status == StatusCompleted {
		return t.TransformedPath != nil && *t.TransformedPath != ""
	}
	return true
}

// Supersedes reports whether t is a valid successor snapshot of prev. Status
// never moves backwards and progress never drops while processing.
func (t *Transformation) Supersedes(prev *Transformation) bool {
	if prev == nil {
		return true
	}
	if prev.Status.IsTerminal() {
		return false
	}
	if t.Status.rank() < prev.Status.rank() {
		return false
	}
	if t.Status == prev.Status && t.Progress < prev.Progress {
		return false
	}
	return true
}

// ProgressUpdate carries the best-effort telemetry the worker writes back.
type ProgressUpdate struct {
	Progress int     `json:"progress"`
	Frames   int64   `json:"frames"`
	FPS      float64 `json:"fps"`
	Speed    float64 `json:"speed"`
	Time     string  `json:"timemark"`
	Size     int64   `json:"size"`
}

// Snapshot is a transformation as delivered to subscribers, with a playable
// URL once the result exists.
type Snapshot struct {
	Transformation
	ResultURL string `json:"result_url,omitempty"`
}

type Quota struct {
	TotalSizeBytes int64 `json:"total_size_bytes"`
	MaxSizeBytes   int64 `json:"max_size_bytes"`
}

// DefaultMaxSizeBytes applies when a user has no quota row.
const DefaultMaxSizeBytes int64 = 10 * 1024 * 1024 * 1024

// Remaining reports how many more bytes the user may store.
func (q Quota) Remaining() int64 {
	if q.TotalSizeBytes >= q.MaxSizeBytes {
		return 0
	}
	return q.MaxSizeBytes - q.TotalSizeBytes
}
