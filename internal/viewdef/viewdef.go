// Package viewdef loads view definitions from YAML and keeps them by id.
package viewdef

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rpattn/formview/internal/composition"
	"github.com/rpattn/formview/internal/domain"
)

// ErrUnknownView is returned for a view id the registry does not hold.
var ErrUnknownView = errors.New("unknown view")

// File is the document shape of a views file.
type File struct {
	Views []domain.ViewDefinition `yaml:"views"`
}

// Parse decodes every YAML document in data. Unknown keys are rejected.
func Parse(data []byte) ([]domain.ViewDefinition, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var views []domain.ViewDefinition
	for {
		var file File
		err := decoder.Decode(&file)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse views: %w", err)
		}
		views = append(views, file.Views...)
	}
	return views, nil
}

// Load reads a views file, or every .yaml/.yml file of a directory in name
// order, and returns a validated registry.
func Load(path string) (*Registry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load views: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("load views: %w", err)
		}
		files = files[:0]
		for _, entry := range entries {
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			files = append(files, filepath.Join(path, entry.Name()))
		}
		sort.Strings(files)
	}

	var views []domain.ViewDefinition
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("load views: %w", err)
		}
		parsed, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		views = append(views, parsed...)
	}
	return NewRegistry(views...)
}

// Registry holds validated views by id.
type Registry struct {
	views map[string]domain.ViewDefinition
	ids   []string
}

// NewRegistry validates every view and indexes it by id. Duplicate ids and
// views the planner rejects are errors.
func NewRegistry(views ...domain.ViewDefinition) (*Registry, error) {
	r := &Registry{views: make(map[string]domain.ViewDefinition, len(views))}
	for _, view := range views {
		if view.ID == "" {
			return nil, errors.New("view without id")
		}
		if _, dup := r.views[view.ID]; dup {
			return nil, fmt.Errorf("view %q is defined more than once", view.ID)
		}
		if err := ValidateSources(view); err != nil {
			return nil, fmt.Errorf("view %q: %w", view.ID, err)
		}
		if _, err := composition.Build(view, domain.Criteria{Sort: view.DefaultSort}); err != nil {
			return nil, fmt.Errorf("view %q: %w", view.ID, err)
		}
		r.views[view.ID] = view
		r.ids = append(r.ids, view.ID)
	}
	return r, nil
}

// Get returns the view with id.
func (r *Registry) Get(id string) (domain.ViewDefinition, error) {
	view, ok := r.views[id]
	if !ok {
		return domain.ViewDefinition{}, fmt.Errorf("%w: %s", ErrUnknownView, id)
	}
	return view, nil
}

// IDs lists view ids in definition order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}
