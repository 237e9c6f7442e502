package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/flowline/pkg/models"
)

// TaskSpec is the YAML representation of one task in a workflow file.
type TaskSpec struct {
	ID        string         `yaml:"id"`
	Handler   string         `yaml:"handler"`
	Input     map[string]any `yaml:"input"`
	Priority  int            `yaml:"priority"`
	DependsOn []string       `yaml:"depends_on"`
	Timeout   string         `yaml:"timeout"`
	// MaxRetries is a pointer so an explicit "max_retries: 0" (no
	// retries) is distinguishable from an absent field, which falls back
	// to the default passed to BuildTasks.
	MaxRetries *int `yaml:"max_retries"`
}

// File is a declarative workflow definition loaded from YAML.
type File struct {
	// Name labels the workflow.
	Name string `yaml:"name"`
	// Tasks are submitted as one dependency graph.
	Tasks []TaskSpec `yaml:"tasks"`
}

// LoadFile reads and parses a workflow definition from disk.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses a workflow definition from YAML bytes.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse workflow file: %w", err)
	}
	if len(f.Tasks) == 0 {
		return nil, fmt.Errorf("workflow file defines no tasks")
	}
	for i, spec := range f.Tasks {
		if spec.ID == "" {
			return nil, fmt.Errorf("task %d: missing id", i)
		}
		if spec.Handler == "" {
			return nil, fmt.Errorf("task %s: missing handler", spec.ID)
		}
		if spec.Timeout != "" {
			if _, err := time.ParseDuration(spec.Timeout); err != nil {
				return nil, fmt.Errorf("task %s: invalid timeout %q: %w", spec.ID, spec.Timeout, err)
			}
		}
	}
	return &f, nil
}

// BuildTasks converts the file's task specs into engine tasks. Tasks
// that declare no max_retries inherit defaultMaxRetries.
func (f *File) BuildTasks(defaultMaxRetries int) []*models.Task {
	tasks := make([]*models.Task, len(f.Tasks))
	for i, spec := range f.Tasks {
		task := &models.Task{
			ID:         spec.ID,
			Capability: spec.Handler,
			Input:      spec.Input,
			Priority:   spec.Priority,
			DependsOn:  spec.DependsOn,
			MaxRetries: defaultMaxRetries,
		}
		if spec.MaxRetries != nil {
			task.MaxRetries = *spec.MaxRetries
		}
		if spec.Timeout != "" {
			// Validated in ParseFile.
			task.Timeout, _ = time.ParseDuration(spec.Timeout)
		}
		tasks[i] = task
	}
	return tasks
}
