// Package procedure parses the two run-definition formats: YAML procedure
// templates written by operators, and the XML processing request (PPR)
// submitted by the observatory's project tracking system. Both reduce to the
// same thing, an ordered list of task invocations, validated against the
// task registry at parse time so an unknown task name fails before any
// stage runs.
package procedure

import (
	"fmt"
	"io/fs"
	"strings"

	"gopkg.in/yaml.v3"

	"radiopipe/internal/task"
)

// Step is one stage of a procedure: a task key plus its parameters.
type Step struct {
	Task   string         `yaml:"task"`
	Params map[string]any `yaml:"params,omitempty"`
}

// Procedure is an ordered task list. Stages are numbered from 1 in step
// order.
type Procedure struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Options carries the run-level overrides a request may set. Zero values
// mean "no override".
type Options struct {
	StartStage int    // resume from this stage (1-based)
	ExitStage  int    // stop after this stage
	LogLevel   string // "debug" and "trace" also enable per-stage checkpoints
}

// Validate checks the option ranges against a procedure.
func (o Options) Validate(p Procedure) error {
	if o.StartStage < 0 || o.ExitStage < 0 {
		return fmt.Errorf("procedure: negative stage bounds")
	}
	if o.ExitStage > 0 && o.StartStage > 0 && o.ExitStage < o.StartStage {
		return fmt.Errorf("procedure: exit stage %d before start stage %d", o.ExitStage, o.StartStage)
	}
	if o.StartStage > len(p.Steps) {
		return fmt.Errorf("procedure: start stage %d beyond last stage %d", o.StartStage, len(p.Steps))
	}
	if o.ExitStage > len(p.Steps) {
		return fmt.Errorf("procedure: exit stage %d beyond last stage %d", o.ExitStage, len(p.Steps))
	}
	return nil
}

// Parse decodes a YAML procedure template and validates every task key
// against the registry.
func Parse(data []byte, reg task.Resolver) (Procedure, error) {
	var p Procedure
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Procedure{}, fmt.Errorf("procedure: decode: %w", err)
	}
	if err := p.validate(reg); err != nil {
		return Procedure{}, err
	}
	return p, nil
}

func (p Procedure) validate(reg task.Resolver) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("procedure: missing name")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("procedure %s: no steps", p.Name)
	}
	for i, s := range p.Steps {
		if _, ok := reg.Get(s.Task); !ok {
			return fmt.Errorf("procedure %s: stage %d references unknown task %q", p.Name, i+1, s.Task)
		}
	}
	return nil
}

// Load reads the named template ("<name>.yaml") from a template directory.
func Load(fsys fs.FS, name string, reg task.Resolver) (Procedure, error) {
	data, err := fs.ReadFile(fsys, name+".yaml")
	if err != nil {
		return Procedure{}, fmt.Errorf("procedure: template %s: %w", name, err)
	}
	return Parse(data, reg)
}
