package burn

import "fmt"

// Status is the lifecycle of a configured target.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusExecuted  Status = "executed"
)

// rank orders statuses so Advance can reject backwards moves.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusConfirmed:
		return 1
	case StatusExecuted:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// Advance returns the status after moving to next.
// Staying put is allowed; moving backwards or to an unknown status is not.
func (s Status) Advance(next Status) (Status, error) {
	if !s.Valid() || !next.Valid() {
		return s, fmt.Errorf("%w: status %q -> %q", ErrInvalidTransition, s, next)
	}
	if next.rank() < s.rank() {
		return s, fmt.Errorf("%w: status %q -> %q", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// Stage is the approval workflow position of a detected target.
//
// A target that has not been detected has no stage. Detection puts it in
// StageAwaitingApproval or StageScheduled depending on configuration.
type Stage string

const (
	StageAwaitingApproval Stage = "awaiting_approval"
	StageScheduled        Stage = "scheduled"
	StageRejected         Stage = "rejected"
	StageExecuted         Stage = "executed"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageAwaitingApproval, StageScheduled, StageRejected, StageExecuted:
		return true
	}
	return false
}

// Terminal reports whether no further events apply.
func (s Stage) Terminal() bool {
	return s == StageRejected || s == StageExecuted
}

// StageEvent drives the approval workflow.
type StageEvent string

const (
	EventApprove StageEvent = "approve"
	EventReject  StageEvent = "reject"
	EventExecute StageEvent = "execute"
)

// StageFor returns the entry stage for a new detection.
func StageFor(requireConfirmation bool) Stage {
	if requireConfirmation {
		return StageAwaitingApproval
	}
	return StageScheduled
}

// NextStage is the single transition function of the approval workflow.
//
//	awaiting_approval --approve--> scheduled
//	awaiting_approval --reject---> rejected
//	scheduled ---------execute---> executed
//
// Every other (stage, event) pair is rejected.
func NextStage(from Stage, ev StageEvent) (Stage, error) {
	switch {
	case from == StageAwaitingApproval && ev == EventApprove:
		return StageScheduled, nil
	case from == StageAwaitingApproval && ev == EventReject:
		return StageRejected, nil
	case from == StageScheduled && ev == EventExecute:
		return StageExecuted, nil
	}
	if from == StageAwaitingApproval || (ev != EventApprove && ev != EventReject) {
		return from, fmt.Errorf("%w: stage %q on %q", ErrInvalidTransition, from, ev)
	}
	// approve/reject on anything but awaiting_approval
	return from, fmt.Errorf("%w: %q is %q", ErrNotPending, ev, from)
}

// StatusOf maps a workflow stage onto the target status it implies.
func StatusOf(stage Stage) Status {
	if stage == StageExecuted {
		return StatusExecuted
	}
	return StatusConfirmed
}
