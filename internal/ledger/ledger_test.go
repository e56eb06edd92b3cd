package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmguard/schedulerd/internal/taskstate"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendThenTaskResultRoundTrip(t *testing.T) {
	l := openTestLedger(t)
	instance := time.Date(2021, 9, 22, 8, 0, 0, 0, time.Local)
	base := time.Date(2021, 9, 22, 8, 0, 0, 0, time.Local)

	require.NoError(t, l.Append("backup", instance, taskstate.Waiting, base))
	require.NoError(t, l.Append("backup", instance, taskstate.Ready, base.Add(time.Second)))
	require.NoError(t, l.Append("backup", instance, taskstate.Running, base.Add(2*time.Second)))
	require.NoError(t, l.Append("backup", instance, taskstate.Success, base.Add(3*time.Second)))

	rows, err := l.TaskResult("backup", instance)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, taskstate.Success, rows[0].State, "newest first")
	assert.Equal(t, taskstate.Waiting, rows[3].State)
}

func TestTaskResultExcludesArchived(t *testing.T) {
	l := openTestLedger(t)
	instance := time.Date(2021, 9, 22, 8, 0, 0, 0, time.Local)
	base := time.Date(2021, 9, 22, 8, 0, 0, 0, time.Local)

	require.NoError(t, l.Append("backup", instance, taskstate.Success, base))
	require.NoError(t, l.Append("backup", instance, taskstate.Archived, base.Add(time.Second)))

	rows, err := l.TaskResult("backup", instance)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, taskstate.Success, rows[0].State)
}

func TestCurrentStatusFiltersToOpenStatesAndOrders(t *testing.T) {
	l := openTestLedger(t)
	base := time.Date(2021, 9, 22, 8, 0, 0, 0, time.Local)

	early := time.Date(2021, 9, 22, 7, 0, 0, 0, time.Local)
	late := time.Date(2021, 9, 22, 9, 0, 0, 0, time.Local)

	require.NoError(t, l.Append("backup", late, taskstate.Running, base))
	require.NoError(t, l.Append("cleanup", early, taskstate.Success, base.Add(time.Second)))
	require.NoError(t, l.Append("cleanup", early, taskstate.Archived, base.Add(2*time.Second)))
	require.NoError(t, l.Append("report", early, taskstate.Waiting, base.Add(3*time.Second)))

	rows, err := l.CurrentStatus("")
	require.NoError(t, err)
	require.Len(t, rows, 2, "cleanup's latest state is Archived, so it's excluded")

	assert.Equal(t, "report", rows[0].Routine, "ordered by instance first")
	assert.Equal(t, "backup", rows[1].Routine)
}

func TestCurrentStatusFiltersByRoutineName(t *testing.T) {
	l := openTestLedger(t)
	instance := time.Date(2021, 9, 22, 8, 0, 0, 0, time.Local)
	base := time.Date(2021, 9, 22, 8, 0, 0, 0, time.Local)

	require.NoError(t, l.Append("backup", instance, taskstate.Running, base))
	require.NoError(t, l.Append("cleanup", instance, taskstate.Waiting, base))

	rows, err := l.CurrentStatus("backup")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "backup", rows[0].Routine)
}

func TestCleanStartTruncatesExistingRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path, false)
	require.NoError(t, err)

	instance := time.Date(2021, 9, 22, 8, 0, 0, 0, time.Local)
	require.NoError(t, l.Append("backup", instance, taskstate.Running, instance))
	require.NoError(t, l.Close())

	l2, err := Open(path, true)
	require.NoError(t, err)
	defer l2.Close()

	rows, err := l2.CurrentStatus("")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
