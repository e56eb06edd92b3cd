// Package task implements a single routine occurrence: its dependency
// state map, lifecycle transitions, and the subordinate process that runs
// its script.
package task

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/swarmguard/schedulerd/internal/canon"
	"github.com/swarmguard/schedulerd/internal/event"
	"github.com/swarmguard/schedulerd/internal/taskstate"
)

// Task is a single occurrence of a routine at a specific moment.
type Task struct {
	RoutineName   string
	Script        string
	Time          time.Time
	QualifiedName string
	Dependencies  map[string]taskstate.State // upstream qualified name -> last-known state
	State         taskstate.State
	LogPath       string

	logRoot string
	queue   *event.Queue

	cmd  *exec.Cmd
	done chan struct{}
}

// New constructs a Task. dependencies maps upstream qualified names to
// their initially-unknown state. Initial state is Ready if there are no
// dependencies, else Waiting (spec.md §3 Lifecycle).
func New(routineName, script string, at time.Time, dependencies map[string]taskstate.State, logRoot string, queue *event.Queue) *Task {
	deps := make(map[string]taskstate.State, len(dependencies))
	for k, v := range dependencies {
		deps[k] = v
	}

	qualified := canon.QualifiedName(routineName, at)
	state := taskstate.Ready
	if len(deps) > 0 {
		state = taskstate.Waiting
	}

	routineDir := filepath.Join(logRoot, routineName)
	logPath := filepath.Join(routineDir, canon.LogFileStem(qualified)+".log")

	return &Task{
		RoutineName:   routineName,
		Script:        script,
		Time:          at,
		QualifiedName: qualified,
		Dependencies:  deps,
		State:         state,
		LogPath:       logPath,
		logRoot:       logRoot,
		queue:         queue,
	}
}

// Less orders tasks by time, for the pending list's binary-search insert.
func (t *Task) Less(other *Task) bool {
	return t.Time.Before(other.Time)
}

// UpdateState mutates the task's local state and, if a queue is attached,
// emits a state message.
func (t *Task) UpdateState(newState taskstate.State) {
	t.State = newState
	if t.queue != nil {
		t.queue.Push(event.StateMessage{
			RoutineName:   t.RoutineName,
			Time:          t.Time,
			QualifiedName: t.QualifiedName,
			State:         string(newState),
			Stamp:         time.Now(),
		})
	}
}

// UpdateDependencyState records a new state for one upstream dependency
// and re-evaluates readiness/cancellation.
func (t *Task) UpdateDependencyState(qualifiedName string, newState taskstate.State) {
	t.Dependencies[qualifiedName] = newState

	allSuccess := len(t.Dependencies) > 0
	for _, s := range t.Dependencies {
		if s != taskstate.Success {
			allSuccess = false
			break
		}
	}
	if allSuccess {
		t.UpdateState(taskstate.Ready)
	} else if newState == taskstate.Cancelled {
		t.UpdateState(taskstate.Cancelled)
	}
}

// Start spawns the configured script as a subordinate OS process and
// returns immediately; completion is reported asynchronously onto the
// event queue by a background goroutine, standing in for the original's
// separate child process reporting back over the shared queue.
func (t *Task) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(t.LogPath), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	logFile, err := os.OpenFile(t.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.Script)
	var stderr bytes.Buffer
	cmd.Stdout = logFile
	cmd.Stderr = &stderr
	t.cmd = cmd
	t.done = make(chan struct{})

	fmt.Fprintf(logFile, "%s | running %s\n", canon.FormatTime(time.Now()), t.QualifiedName)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("start script %s: %w", t.Script, err)
	}

	go func() {
		defer logFile.Close()
		defer close(t.done)

		err := cmd.Wait()
		if err != nil {
			fmt.Fprintf(logFile, "%s | failure: %v\n%s\n", canon.FormatTime(time.Now()), err, stderr.String())
			t.UpdateState(taskstate.Failure)
			return
		}
		fmt.Fprintf(logFile, "%s | success\n", canon.FormatTime(time.Now()))
		t.UpdateState(taskstate.Success)
	}()

	return nil
}

// Wait blocks until the subordinate process has reported its result. It
// exists for tests; the main loop
// itself never calls it (it only ever observes completion via the event
// queue, per spec.md §5).
func (t *Task) Wait() {
	if t.done != nil {
		<-t.done
	}
}
