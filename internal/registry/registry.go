package registry

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"

	"github.com/swarmguard/schedulerd/internal/schedule"
)

// xmlRegistry and xmlRoutine mirror the registry definition file's shape
// (spec.md §7): the document root's children are routine definitions,
// each optionally carrying <dependency name="…"/> children.
type xmlRegistry struct {
	XMLName  xml.Name     `xml:"registry"`
	Routines []xmlRoutine `xml:",any"`
}

type xmlRoutine struct {
	XMLName      xml.Name        `xml:""`
	Name         string          `xml:"name,attr"`
	Script       string          `xml:"script,attr"`
	Schedule     string          `xml:"schedule,attr"`
	Dependencies []xmlDependency `xml:"dependency"`
}

type xmlDependency struct {
	Name string `xml:"name,attr"`
}

// Registry is the read-only, load-once mapping from routine name to
// Routine. It is the sole owner of Routine storage; Routines reference
// each other only by RoutineID (spec.md §9).
type Registry struct {
	routines []*Routine
	byName   map[string]RoutineID
}

// UnknownRoutineError is raised when a dependency or lookup names a
// routine absent from the registry.
type UnknownRoutineError struct {
	Name string
}

func (e *UnknownRoutineError) Error() string {
	return fmt.Sprintf("unknown routine: %s", e.Name)
}

// NameConflictError is raised when two definitions share a name.
type NameConflictError struct {
	Name string
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("name conflict: %s already exists in registry", e.Name)
}

// Load parses the registry definition file at path, building every
// Routine and wiring dependency edges. Mirrors the two-pass structure
// of the original loader: all routines are created first, then
// dependency attributes are resolved, so forward references (a routine
// depending on one defined later in the file) work.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file %s: %w", path, err)
	}

	var doc xmlRegistry
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry xml %s: %w", path, err)
	}

	reg := &Registry{byName: make(map[string]RoutineID, len(doc.Routines))}

	slog.Info("loading registry file", "path", path)

	for _, def := range doc.Routines {
		slog.Debug("loading routine", "name", def.Name)
		var sched *schedule.Schedule
		if def.Schedule != "" {
			parsed, err := schedule.Parse(def.Schedule)
			if err != nil {
				return nil, fmt.Errorf("routine %s: %w", def.Name, err)
			}
			sched = &parsed
		}
		if err := reg.addRoutine(def.Name, def.Script, sched); err != nil {
			return nil, err
		}
	}

	for _, def := range doc.Routines {
		successor, err := reg.resolve(def.Name)
		if err != nil {
			return nil, err
		}
		for _, dep := range def.Dependencies {
			predecessor, err := reg.resolve(dep.Name)
			if err != nil {
				return nil, err
			}
			slog.Debug("creating dependency", "successor", def.Name, "predecessor", dep.Name)
			reg.addDependency(predecessor, successor)
		}
	}

	slog.Info("loading registry file: finished", "routines", len(reg.routines))
	return reg, nil
}

func (reg *Registry) addRoutine(name, script string, sched *schedule.Schedule) error {
	if _, exists := reg.byName[name]; exists {
		return &NameConflictError{Name: name}
	}
	id := RoutineID(len(reg.routines))
	reg.routines = append(reg.routines, &Routine{
		ID:           id,
		Name:         name,
		Script:       script,
		Schedule:     sched,
		Dependencies: make(map[RoutineID]struct{}),
		Dependants:   make(map[RoutineID]struct{}),
	})
	reg.byName[name] = id
	return nil
}

func (reg *Registry) resolve(name string) (RoutineID, error) {
	id, ok := reg.byName[name]
	if !ok {
		return 0, &UnknownRoutineError{Name: name}
	}
	return id, nil
}

func (reg *Registry) addDependency(predecessor, successor RoutineID) {
	reg.routines[successor].Dependencies[predecessor] = struct{}{}
	reg.routines[predecessor].Dependants[successor] = struct{}{}
}

// Get retrieves a Routine by name.
func (reg *Registry) Get(name string) (*Routine, error) {
	id, err := reg.resolve(name)
	if err != nil {
		return nil, err
	}
	return reg.routines[id], nil
}

// GetByID retrieves a Routine by its stable ID.
func (reg *Registry) GetByID(id RoutineID) *Routine {
	return reg.routines[id]
}

// All returns every routine in the registry, in load order.
func (reg *Registry) All() []*Routine {
	return reg.routines
}

// Len reports the number of routines in the registry.
func (reg *Registry) Len() int {
	return len(reg.routines)
}
