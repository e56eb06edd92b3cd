// Package taskmanager implements the scheduler daemon's main loop: it
// materialises Tasks from the Registry, tracks their readiness via a
// pending map/list and a dependants index, dispatches Ready tasks as
// child processes, and reacts to both task-completion messages and
// control-channel instructions pulled off one shared event queue
// (spec.md §4.6).
package taskmanager

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/schedulerd/internal/canon"
	"github.com/swarmguard/schedulerd/internal/control"
	"github.com/swarmguard/schedulerd/internal/event"
	"github.com/swarmguard/schedulerd/internal/ledger"
	"github.com/swarmguard/schedulerd/internal/registry"
	"github.com/swarmguard/schedulerd/internal/schedule"
	"github.com/swarmguard/schedulerd/internal/task"
	"github.com/swarmguard/schedulerd/internal/taskstate"
	"github.com/swarmguard/schedulerd/internal/telemetry"
)

// ShutdownRecorder persists the shutdown instant so a future launch with
// --resume knows where to pick up. Implemented by internal/config.
type ShutdownRecorder interface {
	RecordShutdown(at time.Time) error
}

// TaskManager owns the full set of currently pending (not yet archived)
// tasks and the single-goroutine event loop that advances them.
// Everything below is only ever mutated from the MainLoop goroutine —
// the control channel and running child processes only ever hand it
// work via the shared event.Queue, never by calling back in directly.
// This mirrors the original's single-threaded event loop with
// queue-mediated concurrency.
type TaskManager struct {
	reg      *registry.Registry
	queue    *event.Queue
	ledger   *ledger.Ledger
	logRoot  string
	recorder ShutdownRecorder

	pendingMap       map[string]*task.Task
	pendingList      []*task.Task
	taskDependencies map[string][]string // upstream qualified name -> downstream qualified names waiting on it
	runningNames     map[string]struct{}
	keepRunning      bool

	tracer          trace.Tracer
	tasksScheduled  metric.Int64Counter
	tasksDispatched metric.Int64Counter
	tasksArchived   metric.Int64Counter
}

// New constructs a TaskManager. logRoot is the directory under which
// per-routine subdirectories hold task log files.
func New(reg *registry.Registry, queue *event.Queue, led *ledger.Ledger, logRoot string, recorder ShutdownRecorder, providers *telemetry.Providers) *TaskManager {
	tm := &TaskManager{
		reg:              reg,
		queue:            queue,
		ledger:           led,
		logRoot:          logRoot,
		recorder:         recorder,
		pendingMap:       make(map[string]*task.Task),
		taskDependencies: make(map[string][]string),
		runningNames:     make(map[string]struct{}),
	}

	if providers != nil {
		tm.tracer = providers.Tracer
		tm.tasksScheduled, _ = providers.Meter.Int64Counter("schedulerd_tasks_scheduled_total")
		tm.tasksDispatched, _ = providers.Meter.Int64Counter("schedulerd_tasks_dispatched_total")
		tm.tasksArchived, _ = providers.Meter.Int64Counter("schedulerd_tasks_archived_total")
	}

	return tm
}

// Launch schedules an initial task for every routine in the registry and
// enters the main loop. If resume is true, routines with an open
// (Waiting or Ready) last-known ledger state are rescheduled from that
// exact instance instead of from referenceTime, so an in-flight task
// survives a restart (spec.md §8 scenario 5).
func (tm *TaskManager) Launch(ctx context.Context, referenceTime time.Time, resume bool) error {
	lastInstance := make(map[string]time.Time)
	if resume {
		rows, err := tm.ledger.CurrentStatus("")
		if err != nil {
			return err
		}
		for _, row := range rows {
			if row.State == taskstate.Ready || row.State == taskstate.Waiting {
				lastInstance[row.Routine] = row.Instance
			}
		}
	}

	slog.Info("scheduling all jobs")
	for _, r := range tm.reg.All() {
		if resume {
			if inst, ok := lastInstance[r.Name]; ok {
				tm.ScheduleTaskAt(r, inst)
				continue
			}
		}
		tm.ScheduleNextTask(r, referenceTime)
	}

	tm.keepRunning = true
	tm.MainLoop(ctx)
	return nil
}

// ScheduleNextTask materialises the next Task for r strictly after
// referenceTime and adds it to the pending set, unless a task with the
// same qualified name is already pending.
func (tm *TaskManager) ScheduleNextTask(r *registry.Routine, referenceTime time.Time) {
	tm.addPendingTask(r, tm.reg.NextTask(r.ID, referenceTime, tm.logRoot, tm.queue), referenceTime)
}

// ScheduleTaskAt materialises the Task for r's occurrence at exactly
// at and adds it to the pending set, unless a task with the same
// qualified name is already pending. Unlike ScheduleNextTask, at is
// not re-derived through the routine's trigger walk: this is what
// Launch's resume path uses to reconstruct the exact ledger-recorded
// occurrence that was open at shutdown (spec.md §4.6.2), which would
// otherwise be skipped past by NextTask's exclusive "next occurrence"
// semantics.
func (tm *TaskManager) ScheduleTaskAt(r *registry.Routine, at time.Time) {
	tm.addPendingTask(r, tm.reg.TaskAt(r.ID, at, tm.logRoot, tm.queue), at)
}

func (tm *TaskManager) addPendingTask(r *registry.Routine, t *task.Task, referenceTime time.Time) {
	slog.Info("scheduling next", "qualified_name", t.QualifiedName)
	if _, exists := tm.pendingMap[t.QualifiedName]; exists {
		slog.Info("already scheduled, skipping", "qualified_name", t.QualifiedName)
		return
	}

	tm.pendingMap[t.QualifiedName] = t
	tm.insertSorted(t)
	if _, tracked := tm.taskDependencies[t.QualifiedName]; !tracked {
		tm.taskDependencies[t.QualifiedName] = nil
	}
	if err := tm.ledger.Append(t.RoutineName, t.Time, t.State, time.Now()); err != nil {
		slog.Error("ledger append failed", "qualified_name", t.QualifiedName, "error", err)
	}
	if tm.tasksScheduled != nil {
		tm.tasksScheduled.Add(context.Background(), 1, metric.WithAttributes(attribute.String("routine", r.Name)))
	}

	tm.RegisterDependencies(t, referenceTime)
}

// RegisterDependencies wires t into the dependants index for each
// upstream qualified name that is pending or still due in the future,
// and resolves each dependency's last-known state either from the
// already-pending task or from the ledger. A dependency
// with no pending task and no ledger history that was due in the past
// (and therefore will never run) causes t to be cancelled outright.
func (tm *TaskManager) RegisterDependencies(t *task.Task, referenceTime time.Time) {
	cancel := false

	for depQualified := range t.Dependencies {
		if _, tracked := tm.taskDependencies[depQualified]; tracked {
			tm.taskDependencies[depQualified] = append(tm.taskDependencies[depQualified], t.QualifiedName)
			if depTask, ok := tm.pendingMap[depQualified]; ok {
				t.UpdateDependencyState(depQualified, depTask.State)
			}
		} else {
			depRoutine, depInstance, err := canon.SplitQualifiedName(depQualified)
			if err != nil {
				slog.Error("malformed dependency qualified name", "qualified_name", depQualified, "error", err)
				continue
			}
			rows, err := tm.ledger.TaskResult(depRoutine, depInstance)
			if err != nil {
				slog.Error("ledger lookup failed", "qualified_name", depQualified, "error", err)
				continue
			}
			if len(rows) > 0 {
				t.UpdateDependencyState(depQualified, rows[0].State)
			} else if depInstance.After(referenceTime) {
				tm.taskDependencies[depQualified] = []string{t.QualifiedName}
			} else {
				slog.Debug("cancelling, predecessor missing", "qualified_name", t.QualifiedName, "dependency", depQualified)
				cancel = true
				break
			}
		}
		slog.Debug("registered dependency", "qualified_name", t.QualifiedName, "dependency", depQualified)
	}

	if cancel {
		t.UpdateState(taskstate.Cancelled)
	}
}

// RunTask dispatches a Ready task: marks it Running, starts its
// subordinate process, and immediately schedules the routine's next
// occurrence (the routine's cadence does not wait for this occurrence to
// finish).
func (tm *TaskManager) RunTask(t *task.Task) {
	runID := uuid.New().String()
	slog.Info("running", "qualified_name", t.QualifiedName, "run_id", runID)
	tm.runningNames[t.QualifiedName] = struct{}{}
	t.UpdateState(taskstate.Running)

	ctx := context.Background()
	if tm.tracer != nil {
		var span trace.Span
		ctx, span = tm.tracer.Start(ctx, "taskmanager.run_task", trace.WithAttributes(
			attribute.String("routine", t.RoutineName),
			attribute.String("qualified_name", t.QualifiedName),
			attribute.String("run_id", runID),
		))
		defer span.End()
	}

	if err := t.Start(ctx); err != nil {
		slog.Error("failed to start task", "qualified_name", t.QualifiedName, "error", err)
	}
	if tm.tasksDispatched != nil {
		tm.tasksDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("routine", t.RoutineName)))
	}

	if r, err := tm.reg.Get(t.RoutineName); err == nil {
		tm.ScheduleNextTask(r, t.Time)
	}
}

// nextRuntime returns the earliest time among still-unresolved
// (Waiting or Ready) pending tasks, or the far-future sentinel if none
// remain — pendingList is kept sorted, so the first qualifying entry is
// the answer.
func (tm *TaskManager) nextRuntime() time.Time {
	for _, t := range tm.pendingList {
		if t.State == taskstate.Ready || t.State == taskstate.Waiting {
			return t.Time
		}
	}
	return schedule.Far
}

// RunPendingJobs dispatches every currently-due Ready task. The original
// recurses after each dispatch because schedule_next_task can mutate the
// very list being walked; this iterates instead (spec.md §9 design
// note), restarting the scan from the front after each dispatch, which
// is equivalent but keeps the stack bounded.
func (tm *TaskManager) RunPendingJobs(referenceTime time.Time) {
	for {
		if tm.nextRuntime().After(referenceTime) {
			return
		}
		dispatchedAny := false
		for _, t := range tm.pendingList {
			if t.Time.After(referenceTime) {
				break // pendingList is time-ordered
			}
			if t.State == taskstate.Ready {
				tm.RunTask(t)
				dispatchedAny = true
				break
			}
		}
		if !dispatchedAny {
			return
		}
	}
}

// WaitForUpdates drains at most one event from the shared queue and
// dispatches it by kind. A non-blocking single check, called frequently
// by the main loop rather than blocking, so user instructions are never
// starved by a backlog of timer-driven work.
func (tm *TaskManager) WaitForUpdates() {
	ev, ok := tm.queue.TryPop()
	if !ok {
		return
	}
	switch m := ev.(type) {
	case event.StateMessage:
		tm.ProcessMessage(m)
	case event.ControlString:
		tm.ProcessUserInput(string(m))
	}
}

// ProcessMessage records a reported state transition, propagates it to
// any downstream tasks waiting on this occurrence, and archives the task
// once it reaches a state the main loop itself resolves automatically
// (Success or Cancelled — Failure is left pending until an operator
// force-runs it over the control channel).
func (tm *TaskManager) ProcessMessage(m event.StateMessage) {
	if err := tm.ledger.Append(m.RoutineName, m.Time, taskstate.State(m.State), m.Stamp); err != nil {
		slog.Error("ledger append failed", "qualified_name", m.QualifiedName, "error", err)
	}

	if downstream, ok := tm.taskDependencies[m.QualifiedName]; ok {
		for _, depName := range downstream {
			if depTask, ok := tm.pendingMap[depName]; ok {
				depTask.UpdateDependencyState(m.QualifiedName, taskstate.State(m.State))
			}
		}
	}

	state := taskstate.State(m.State)
	if state == taskstate.Success || state == taskstate.Failure {
		delete(tm.runningNames, m.QualifiedName)
	}
	if state == taskstate.Success || state == taskstate.Cancelled {
		if state == taskstate.Cancelled {
			if r, err := tm.reg.Get(m.RoutineName); err == nil {
				tm.ScheduleNextTask(r, m.Time)
			}
		}
		tm.RemoveTask(m.QualifiedName)
	}
}

// ProcessUserInput interprets one control-channel instruction: the
// literal "stop" triggers shutdown, anything else is a qualified task
// name to force-run. A name absent from pendingMap is logged and
// ignored (spec.md §9 open question).
func (tm *TaskManager) ProcessUserInput(instruction string) {
	if instruction == control.Stop {
		tm.Shutdown()
		return
	}

	t, ok := tm.pendingMap[instruction]
	if !ok {
		slog.Info("control instruction names unknown task, ignoring", "instruction", instruction)
		return
	}

	slog.Info("received execute instruction", "qualified_name", instruction)
	if t.State != taskstate.Ready && t.State != taskstate.Waiting {
		t = tm.ResetTask(t)
	}
	tm.RunTask(t)
}

// RemoveTask archives a resolved task: appends its Archived transition
// to the ledger and evicts it from both pending collections and the
// dependants index.
func (tm *TaskManager) RemoveTask(qualifiedName string) {
	t, ok := tm.pendingMap[qualifiedName]
	if !ok {
		return
	}
	slog.Debug("removing", "qualified_name", qualifiedName)

	delete(tm.taskDependencies, qualifiedName)
	for depQualified := range t.Dependencies {
		if downstream, ok := tm.taskDependencies[depQualified]; ok {
			tm.taskDependencies[depQualified] = removeString(downstream, qualifiedName)
		}
	}

	if err := tm.ledger.Append(t.RoutineName, t.Time, taskstate.Archived, time.Now()); err != nil {
		slog.Error("ledger append failed", "qualified_name", qualifiedName, "error", err)
	}
	if tm.tasksArchived != nil {
		tm.tasksArchived.Add(context.Background(), 1, metric.WithAttributes(attribute.String("routine", t.RoutineName)))
	}

	tm.removeFromPendingList(t)
	delete(tm.pendingMap, qualifiedName)
}

// ResetTask replaces a resolved task with a fresh Task instance under
// the same qualified name, so a force-run can observe a clean
// Waiting/Ready → Running → terminal cycle.
func (tm *TaskManager) ResetTask(t *task.Task) *task.Task {
	slog.Info("resetting", "qualified_name", t.QualifiedName)
	newTask := task.New(t.RoutineName, t.Script, t.Time, t.Dependencies, tm.logRoot, tm.queue)
	tm.pendingMap[t.QualifiedName] = newTask
	tm.removeFromPendingList(t)
	tm.insertSorted(newTask)
	return newTask
}

// Shutdown persists the shutdown instant for a future --resume launch,
// then blocks until every currently-running task reports a terminal
// state, and finally stops the main loop.
func (tm *TaskManager) Shutdown() {
	slog.Info("received shutdown instruction")

	if tm.recorder != nil {
		if err := tm.recorder.RecordShutdown(time.Now()); err != nil {
			slog.Error("failed to record shutdown time", "error", err)
		}
	}

	slog.Info("tasks still running", "count", len(tm.runningNames))
	for len(tm.runningNames) > 0 {
		tm.WaitForUpdates()
	}
	slog.Info("shutdown completed normally")
	tm.keepRunning = false
}

// MainLoop alternates between an "overdue" phase (dispatch everything
// due, keep checking until nothing is) and an "idle" phase (sleep until
// the next due time or up to 5s, whichever is sooner, so control-channel
// instructions are still picked up promptly).
func (tm *TaskManager) MainLoop(ctx context.Context) {
	overdue := true
	referenceTime := time.Now()

	for tm.keepRunning {
		for overdue && tm.keepRunning {
			select {
			case <-ctx.Done():
				tm.keepRunning = false
				return
			default:
			}

			tm.RunPendingJobs(referenceTime)
			tm.WaitForUpdates()

			referenceTime = time.Now()
			if tm.nextRuntime().After(referenceTime) {
				slog.Info("no tasks until", "next_runtime", canon.FormatTime(tm.nextRuntime()))
				overdue = false
			}
		}

		for !overdue && tm.keepRunning {
			sleepFor := tm.nextRuntime().Sub(referenceTime)
			if sleepFor > 5*time.Second {
				sleepFor = 5 * time.Second
			}
			if sleepFor < 0 {
				sleepFor = 0
			}

			select {
			case <-ctx.Done():
				tm.keepRunning = false
				return
			case <-time.After(sleepFor):
			}

			tm.WaitForUpdates()
			referenceTime = time.Now()
			if !tm.nextRuntime().After(referenceTime) {
				slog.Info("new tasks need to be run")
				overdue = true
			}
		}
	}
}

func (tm *TaskManager) insertSorted(t *task.Task) {
	idx := sort.Search(len(tm.pendingList), func(i int) bool {
		return !tm.pendingList[i].Time.Before(t.Time)
	})
	tm.pendingList = append(tm.pendingList, nil)
	copy(tm.pendingList[idx+1:], tm.pendingList[idx:])
	tm.pendingList[idx] = t
}

func (tm *TaskManager) removeFromPendingList(t *task.Task) {
	for i, existing := range tm.pendingList {
		if existing == t {
			tm.pendingList = append(tm.pendingList[:i], tm.pendingList[i+1:]...)
			return
		}
	}
}

func removeString(list []string, target string) []string {
	for i, s := range list {
		if s == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// PendingCount exposes |pending_map| / |pending_list| for invariant
// checks and status reporting.
func (tm *TaskManager) PendingCount() int {
	return len(tm.pendingMap)
}

// RunningCount exposes |running_names| for invariant checks and status
// reporting.
func (tm *TaskManager) RunningCount() int {
	return len(tm.runningNames)
}

// Snapshot returns a read-only copy of the pending list's qualified
// names in time order, for tests.
func (tm *TaskManager) Snapshot() []string {
	names := make([]string, len(tm.pendingList))
	for i, t := range tm.pendingList {
		names[i] = t.QualifiedName
	}
	return names
}
