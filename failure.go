package forge

// Limits on the per-attempt failure history. Records are appended, never
// overwritten; once the bound is reached further failures are dropped after
// a truncation marker.
const (
	MaxFailuresPerRecord = 20
	MaxFailureMessageLen = 2000
)

// StageFailure is one recorded failure within an attempt, tagged with the
// stage that produced it.
type StageFailure struct {
	Stage     Stage      `json:"stage"`
	Class     ErrorClass `json:"class"`
	Message   string     `json:"message"`
	Attempt   int        `json:"attempt"`
	Truncated bool       `json:"truncated,omitempty"`
}

// AttemptRecord accumulates the failure history of one logical invocation
// across all of its attempts. It is append-only.
type AttemptRecord struct {
	AttemptID    string         `json:"attempt_id"`
	StageReached Stage          `json:"stage_reached"`
	Failures     []StageFailure `json:"failures,omitempty"`
	dropped      int
}

// NewAttemptRecord starts an empty record with a fresh attempt id.
func NewAttemptRecord() *AttemptRecord {
	return &AttemptRecord{AttemptID: NewID()}
}

// Append records a failure, truncating oversized messages and bounding the
// total list length.
func (r *AttemptRecord) Append(stage Stage, class ErrorClass, message string, attempt int) {
	r.StageReached = stage
	if len(r.Failures) >= MaxFailuresPerRecord {
		r.dropped++
		return
	}
	truncated := false
	if len(message) > MaxFailureMessageLen {
		message = message[:MaxFailureMessageLen]
		truncated = true
	}
	r.Failures = append(r.Failures, StageFailure{
		Stage:     stage,
		Class:     class,
		Message:   message,
		Attempt:   attempt,
		Truncated: truncated,
	})
}

// Dropped reports how many failures were discarded after the bound was hit.
func (r *AttemptRecord) Dropped() int { return r.dropped }

// LastFailure returns the most recent failure, if any.
func (r *AttemptRecord) LastFailure() (StageFailure, bool) {
	if len(r.Failures) == 0 {
		return StageFailure{}, false
	}
	return r.Failures[len(r.Failures)-1], true
}

// FailuresByStage counts recorded failures per stage.
func (r *AttemptRecord) FailuresByStage() map[Stage]int {
	counts := map[Stage]int{}
	for _, f := range r.Failures {
		counts[f.Stage]++
	}
	return counts
}
