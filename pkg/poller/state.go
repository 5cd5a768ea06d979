package poller

import "tagbridge/pkg/metrics"

// State is the poller's position in its fetch cycle:
// Idle -> Fetching -> (Success | SoftFailure | HardFailure) -> Fetching -> ...
// Success covers dispatch of a non-empty batch and stays set after an empty one.
type State int

const (
	Idle State = iota
	Fetching
	Success
	SoftFailure
	HardFailure
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Success:
		return "success"
	case SoftFailure:
		return "soft_failure"
	case HardFailure:
		return "hard_failure"
	default:
		return "unknown"
	}
}

// Outcome is the result of one Poll call.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeBatch
	OutcomeEmpty
	OutcomeSoftFailure
	OutcomeHardFailure
	// OutcomeStopped means the context was cancelled during the fetch.
	OutcomeStopped
)

// state is the poller state a finished fetch leaves behind.
func (o Outcome) state() State {
	switch o {
	case OutcomeBatch, OutcomeEmpty:
		return Success
	case OutcomeSoftFailure:
		return SoftFailure
	case OutcomeHardFailure:
		return HardFailure
	default:
		return Idle
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomeBatch:
		return metrics.OutcomeBatch
	case OutcomeEmpty:
		return metrics.OutcomeEmpty
	case OutcomeSoftFailure:
		return metrics.OutcomeSoftFailure
	case OutcomeHardFailure:
		return metrics.OutcomeHardFailure
	case OutcomeStopped:
		return "stopped"
	default:
		return "none"
	}
}
