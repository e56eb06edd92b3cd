package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRegistry(t *testing.T, xmlBody string) *Registry {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.xml")
	require.NoError(t, os.WriteFile(path, []byte(xmlBody), 0o644))
	reg, err := Load(path)
	require.NoError(t, err)
	return reg
}

func TestLoadBuildsRoutinesAndDependencies(t *testing.T) {
	reg := writeRegistry(t, `<registry>
		<routine name="B" script="/bin/true" schedule="10 * * * *"/>
		<routine name="A" script="/bin/true">
			<dependency name="B"/>
		</routine>
	</registry>`)

	require.Equal(t, 2, reg.Len())

	a, err := reg.Get("A")
	require.NoError(t, err)
	b, err := reg.Get("B")
	require.NoError(t, err)

	_, aDependsOnB := a.Dependencies[b.ID]
	assert.True(t, aDependsOnB)
	_, bDependantIsA := b.Dependants[a.ID]
	assert.True(t, bDependantIsA)
}

func TestLoadRejectsDuplicateName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.xml")
	require.NoError(t, os.WriteFile(path, []byte(`<registry>
		<routine name="A" script="/bin/true"/>
		<routine name="A" script="/bin/false"/>
	</registry>`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	var conflict *NameConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestLoadRejectsUnknownDependency(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.xml")
	require.NoError(t, os.WriteFile(path, []byte(`<registry>
		<routine name="A" script="/bin/true">
			<dependency name="GHOST"/>
		</routine>
	</registry>`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	var unknown *UnknownRoutineError
	assert.ErrorAs(t, err, &unknown)
}

func TestLoadRejectsBadSchedule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.xml")
	require.NoError(t, os.WriteFile(path, []byte(`<registry>
		<routine name="A" script="/bin/true" schedule="* * * *"/>
	</registry>`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

// Scenario 3: dependency-only routine (spec.md §8).
func TestDependencyOnlyRoutineNextTrigger(t *testing.T) {
	reg := writeRegistry(t, `<registry>
		<routine name="B" script="/bin/true" schedule="10 * * * *"/>
		<routine name="A" script="/bin/true">
			<dependency name="B"/>
		</routine>
	</registry>`)

	a, err := reg.Get("A")
	require.NoError(t, err)

	reference := time.Date(2021, 9, 21, 10, 15, 0, 0, time.Local)
	got := reg.NextTrigger(a.ID, reference, false)
	want := time.Date(2021, 9, 21, 11, 10, 0, 0, time.Local)
	assert.True(t, got.Equal(want), "got %s want %s", got, want)
}

// Scenario 4: scheduled routine with a dependency (spec.md §8).
func TestScheduledRoutineWithDependencyNextTask(t *testing.T) {
	reg := writeRegistry(t, `<registry>
		<routine name="B" script="/bin/true" schedule="10 * * * *"/>
		<routine name="A" script="/bin/true" schedule="30 * * * *">
			<dependency name="B"/>
		</routine>
	</registry>`)

	a, err := reg.Get("A")
	require.NoError(t, err)

	reference := time.Date(2021, 9, 21, 10, 15, 0, 0, time.Local)
	nextTrigger := reg.NextTrigger(a.ID, reference, false)
	want := time.Date(2021, 9, 21, 10, 30, 0, 0, time.Local)
	assert.True(t, nextTrigger.Equal(want), "got %s want %s", nextTrigger, want)

	tk := reg.NextTask(a.ID, reference, t.TempDir(), nil)
	require.Len(t, tk.Dependencies, 1)
	_, ok := tk.Dependencies["B.2021-09-21T10:10:00"]
	assert.True(t, ok, "dependencies: %v", tk.Dependencies)
}

func TestNoScheduleNoDependenciesIsFarFuture(t *testing.T) {
	reg := writeRegistry(t, `<registry>
		<routine name="Manual" script="/bin/true"/>
	</registry>`)

	manual, err := reg.Get("Manual")
	require.NoError(t, err)

	reference := time.Date(2021, 9, 21, 10, 15, 0, 0, time.Local)
	got := reg.NextTrigger(manual.ID, reference, false)
	assert.Equal(t, 9999, got.Year())
}
