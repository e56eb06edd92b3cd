// Package taskstate defines the task lifecycle states shared by the
// registry, task, ledger, and task manager packages.
package taskstate

// State is one of the task lifecycle states from spec.md §3.
type State string

const (
	Waiting   State = "Waiting"
	Ready     State = "Ready"
	Running   State = "Running"
	Success   State = "Success"
	Failure   State = "Failure"
	Cancelled State = "Cancelled"
	Archived  State = "Archived"

	// Unknown is the placeholder value for a dependency whose state has
	// not yet been observed.
	Unknown State = "unknown"
)

// Terminal reports whether state ends a task's life in the pending set
// (Success/Failure/Cancelled followed by Archived — Archived itself is
// handled as removal, not membership, so it is not included here).
func (s State) Terminal() bool {
	return s == Success || s == Failure || s == Cancelled
}

// Open reports whether state is one of the ledger's "open" filter states
// used by CurrentStatus (spec.md §4.4).
func (s State) Open() bool {
	switch s {
	case Waiting, Ready, Running, Failure, Cancelled:
		return true
	default:
		return false
	}
}
