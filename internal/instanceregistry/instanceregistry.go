// Package instanceregistry tracks which scheduler instances are
// currently running: one file per instance, named after the operator-
// given scheduler name, holding the path to that instance's config file
// (spec.md §7 "Instance registry").
package instanceregistry

import (
	"fmt"
	"os"
	"path/filepath"
)

// Registry is a directory of instance marker files.
type Registry struct {
	dir string
}

// Open returns a Registry rooted at dir, creating the directory if
// necessary.
func Open(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create instance registry directory %s: %w", dir, err)
	}
	return &Registry{dir: dir}, nil
}

func (r *Registry) path(name string) string {
	return filepath.Join(r.dir, name)
}

// Create atomically records that an instance named name is running,
// pointing at configPath. Fails if an instance of that name already
// runs, per spec.md §7's "launching fails" rule.
func (r *Registry) Create(name, configPath string) error {
	f, err := os.OpenFile(r.path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("instance %s already exists", name)
		}
		return fmt.Errorf("create instance marker %s: %w", name, err)
	}
	defer f.Close()

	if _, err := f.WriteString(configPath); err != nil {
		return fmt.Errorf("write instance marker %s: %w", name, err)
	}
	return nil
}

// Remove deletes the marker file for name. Called on clean exit (and on
// a failed launch, so a crashed start never leaves a ghost instance).
func (r *Registry) Remove(name string) error {
	if err := os.Remove(r.path(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("instance %s does not exist", name)
		}
		return fmt.Errorf("remove instance marker %s: %w", name, err)
	}
	return nil
}

// ConfigPath returns the config file path recorded for a running
// instance.
func (r *Registry) ConfigPath(name string) (string, error) {
	data, err := os.ReadFile(r.path(name))
	if err != nil {
		return "", fmt.Errorf("read instance marker %s: %w", name, err)
	}
	return string(data), nil
}

// Instance pairs a running instance's name with its config path.
type Instance struct {
	Name       string
	ConfigPath string
}

// List returns every currently-recorded running instance.
func (r *Registry) List() ([]Instance, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("list instance registry %s: %w", r.dir, err)
	}

	instances := make([]Instance, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		configPath, err := r.ConfigPath(entry.Name())
		if err != nil {
			return nil, err
		}
		instances = append(instances, Instance{Name: entry.Name(), ConfigPath: configPath})
	}
	return instances, nil
}
