package models

// jobTransitions is the legal transition graph of the job lifecycle.
// failed -> pending is the manual retry path; nothing leaves completed or cancelled.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusQueued, JobStatusCancelled},
	JobStatusQueued:  {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusFailed:  {JobStatusPending},
}

// CanTransition reports whether a job may move from one status to another
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an InvalidTransitionError when from -> to is not legal
func ValidateTransition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// IsCancellable reports whether a job in status s may be cancelled
func IsCancellable(s JobStatus) bool {
	return CanTransition(s, JobStatusCancelled)
}
