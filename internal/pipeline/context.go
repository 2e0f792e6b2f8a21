package pipeline

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"

	"radiopipe/internal/domain"
)

// Context is the single mutable state container for one pipeline run. It is
// passed explicitly to every stage; there is no ambient "current context"
// lookup. The only mutation path is Merge, so the state at stage N is always
// derivable by replaying Results 1..N into a fresh Context.
type Context struct {
	Name        string `json:"name"` // context directory name under the output dir
	RunID       string `json:"run_id"`
	ProjectCode string `json:"project_code,omitempty"`
	OutputDir   string `json:"output_dir"`
	LogLevel    string `json:"log_level,omitempty"`

	ObservingRun   domain.ObservingRun `json:"observing_run"`
	CalLibrary     CalLibrary          `json:"cal_library"`
	PendingTargets []ImagingTarget     `json:"pending_targets,omitempty"`
	Images         []ImageProduct      `json:"images,omitempty"`
	Products       []ProductEntry      `json:"products,omitempty"`
	FlagTotals     map[string]float64  `json:"flag_totals,omitempty"`
	Totals         map[string]int      `json:"totals,omitempty"`

	History []Results `json:"history,omitempty"`
}

// NewContext creates the state for a fresh run.
func NewContext(name, projectCode, outputDir string) *Context {
	return &Context{
		Name:        name,
		RunID:       uuid.NewString(),
		ProjectCode: projectCode,
		OutputDir:   outputDir,
		Totals:      map[string]int{},
		FlagTotals:  map[string]float64{},
	}
}

// Merge folds a Results into the context by delegating to the Results'
// own merge. A structurally invalid Results aborts the run; there is no
// partial-merge rollback.
func (c *Context) Merge(r *Results) error {
	return r.MergeWithContext(c)
}

// Stage returns the number of completed (merged) stages.
func (c *Context) Stage() int {
	return len(c.History)
}

// Snapshot renders the context as canonical JSON. Two contexts with equal
// snapshots are indistinguishable for the purpose of resuming execution.
func (c *Context) Snapshot() ([]byte, error) {
	return json.Marshal(c)
}

// Equal compares two contexts by snapshot.
func (c *Context) Equal(o *Context) bool {
	a, err := c.Snapshot()
	if err != nil {
		return false
	}
	b, err := o.Snapshot()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// UnmarshalJSON restores a context and marks every history entry as merged,
// so a replayed history entry cannot be merged a second time.
func (c *Context) UnmarshalJSON(b []byte) error {
	type alias Context
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*c = Context(a)
	if c.Totals == nil {
		c.Totals = map[string]int{}
	}
	if c.FlagTotals == nil {
		c.FlagTotals = map[string]float64{}
	}
	for i := range c.History {
		c.History[i].merged = true
	}
	return nil
}
