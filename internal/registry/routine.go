// Package registry holds the static, read-only set of Routines loaded
// from the registry definition file, and the DAG of dependency edges
// between them.
//
// Routines are not linked by pointer (spec.md §9 "DAG with back-edges"):
// a routine's dependencies/dependants are sets of RoutineID, and the
// Registry is the sole arena that owns Routine storage. This avoids a
// cyclic pointer graph and makes the whole table trivially copyable for
// snapshotting.
package registry

import (
	"time"

	"github.com/swarmguard/schedulerd/internal/canon"
	"github.com/swarmguard/schedulerd/internal/event"
	"github.com/swarmguard/schedulerd/internal/schedule"
	"github.com/swarmguard/schedulerd/internal/task"
	"github.com/swarmguard/schedulerd/internal/taskstate"
)

// RoutineID is a stable index into a Registry's routine table.
type RoutineID int

// Routine is a named, reusable job definition: an optional firing
// schedule and an optional set of upstream routines it waits on.
// Immutable once the registry has finished loading.
type Routine struct {
	ID       RoutineID
	Name     string
	Script   string
	Schedule *schedule.Schedule // nil means "no independent schedule"

	Dependencies map[RoutineID]struct{} // routines this one waits on
	Dependants   map[RoutineID]struct{} // routines that wait on this one
}

// hasSchedule reports whether r fires on its own cron schedule rather
// than purely in reaction to its dependencies.
func (r *Routine) hasSchedule() bool {
	return r.Schedule != nil
}

// NextTrigger returns the next time r is due to run relative to
// reference, per spec.md §4.2. reg resolves dependency IDs to Routines.
func (reg *Registry) NextTrigger(id RoutineID, reference time.Time, inclusive bool) time.Time {
	r := reg.routines[id]
	switch {
	case r.hasSchedule():
		return r.Schedule.Next(reference, inclusive)
	case len(r.Dependencies) > 0:
		latest := time.Time{}
		first := true
		for dep := range r.Dependencies {
			t := reg.NextTrigger(dep, reference, inclusive)
			if first || t.After(latest) {
				latest = t
				first = false
			}
		}
		return latest
	default:
		return schedule.Far
	}
}

// PreviousTrigger is the symmetric counterpart of NextTrigger.
func (reg *Registry) PreviousTrigger(id RoutineID, reference time.Time, inclusive bool) time.Time {
	r := reg.routines[id]
	switch {
	case r.hasSchedule():
		return r.Schedule.Previous(reference, inclusive)
	case len(r.Dependencies) > 0:
		latest := time.Time{}
		first := true
		for dep := range r.Dependencies {
			t := reg.PreviousTrigger(dep, reference, inclusive)
			if first || t.After(latest) {
				latest = t
				first = false
			}
		}
		return latest
	default:
		// The original source returns the same far-future sentinel here
		// too (a quirk carried over rather than corrected, since nothing
		// in the spec calls PreviousTrigger on a dependency-less,
		// schedule-less routine in a way that would expose it).
		return schedule.Far
	}
}

// NextTask materialises a Task representing r's next occurrence
// strictly after reference, per spec.md §4.2. Each dependency's
// qualified name is pinned to that dependency's previous_trigger(time,
// inclusive = true), exactly identifying which prior occurrence this
// task waits on.
func (reg *Registry) NextTask(id RoutineID, reference time.Time, logRoot string, queue *event.Queue) *task.Task {
	at := reg.NextTrigger(id, reference, false)
	return reg.TaskAt(id, at, logRoot, queue)
}

// TaskAt materialises a Task representing r's occurrence at exactly at,
// with no trigger computation of its own. This is what a resumed launch
// uses (spec.md §4.6.2): the ledger already recorded the exact instant
// of the open occurrence, so re-deriving it through NextTrigger's
// exclusive "strictly after" walk would skip past it to the following
// occurrence instead of reconstructing the one that was interrupted.
func (reg *Registry) TaskAt(id RoutineID, at time.Time, logRoot string, queue *event.Queue) *task.Task {
	r := reg.routines[id]

	deps := make(map[string]taskstate.State, len(r.Dependencies))
	for depID := range r.Dependencies {
		dep := reg.routines[depID]
		depTime := reg.PreviousTrigger(depID, at, true)
		deps[canon.QualifiedName(dep.Name, depTime)] = taskstate.Unknown
	}

	return task.New(r.Name, r.Script, at, deps, logRoot, queue)
}
