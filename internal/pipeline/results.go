package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"radiopipe/internal/domain"
)

// ErrAlreadyMerged is returned when the same Results instance is merged into
// a Context twice. Double-merging is rejected deterministically rather than
// tolerated; replaying a stage requires reloading the Results from disk.
var ErrAlreadyMerged = errors.New("pipeline: results already merged")

// ItemFailure records one measurement set (or other batch item) that failed
// inside a task running with per-item isolation.
type ItemFailure struct {
	Item    string `json:"item"`
	Message string `json:"message"`
}

// ImagingTarget identifies one independent imaging unit: a field/spw
// combination within one measurement set.
type ImagingTarget struct {
	MS    string `json:"ms"`
	Field string `json:"field"`
	Spw   string `json:"spw,omitempty"`
	Name  string `json:"name"` // image basename, unique within a run
}

// ImageProduct describes one finished image.
type ImageProduct struct {
	Target     ImagingTarget `json:"target"`
	Imagename  string        `json:"imagename"`
	Fitsimage  string        `json:"fitsimage,omitempty"`
	Iterations int           `json:"iterations,omitempty"`
	RMS        float64       `json:"rms,omitempty"`
}

// ProductEntry describes one exported data product.
type ProductEntry struct {
	Path      string `json:"path"`             // working-directory-relative
	Remote    string `json:"remote,omitempty"` // object-store key, when exported
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Outcome is the task-specific payload of a Results. Each variant knows how
// to merge itself into a Context; dispatch is by type, not attribute probing.
type Outcome interface {
	kind() string
	mergeInto(c *Context) error
}

// ImportSummary registers measurement sets and seeds imaging targets.
type ImportSummary struct {
	MSes    []domain.MeasurementSet `json:"mses,omitempty"`
	Targets []ImagingTarget         `json:"targets,omitempty"`
}

func (ImportSummary) kind() string { return "import_summary" }

func (o ImportSummary) mergeInto(c *Context) error {
	for _, ms := range o.MSes {
		if ms.Name == "" {
			return fmt.Errorf("pipeline: import summary contains an unnamed measurement set")
		}
	}
	for _, ms := range o.MSes {
		c.ObservingRun.Add(ms)
	}
	c.PendingTargets = append(c.PendingTargets, o.Targets...)
	c.Totals["ms_imported"] += len(o.MSes)
	return nil
}

// CalApplicationList appends entries to the calibration library.
type CalApplicationList struct {
	Applications []CalApplication `json:"applications"`
}

func (CalApplicationList) kind() string { return "cal_application_list" }

func (o CalApplicationList) mergeInto(c *Context) error {
	for _, app := range o.Applications {
		if app.CalTable == "" {
			return fmt.Errorf("pipeline: calibration application without a table")
		}
		if _, ok := c.ObservingRun.Get(app.Selection.MS); !ok {
			return fmt.Errorf("pipeline: calibration for unknown measurement set %q", app.Selection.MS)
		}
	}
	c.CalLibrary.Add(o.Applications...)
	return nil
}

// FlagSummary records per-MS flagged fractions.
type FlagSummary struct {
	PerMS map[string]float64 `json:"per_ms,omitempty"`
}

func (FlagSummary) kind() string { return "flag_summary" }

func (o FlagSummary) mergeInto(c *Context) error {
	for name := range o.PerMS {
		if _, ok := c.ObservingRun.Get(name); !ok {
			return fmt.Errorf("pipeline: flag summary for unknown measurement set %q", name)
		}
	}
	if c.FlagTotals == nil {
		c.FlagTotals = map[string]float64{}
	}
	for name, frac := range o.PerMS {
		c.FlagTotals[name] = frac
	}
	return nil
}

// ImageList records finished images and clears their pending targets.
type ImageList struct {
	Images []ImageProduct `json:"images,omitempty"`
}

func (ImageList) kind() string { return "image_list" }

func (o ImageList) mergeInto(c *Context) error {
	done := map[string]bool{}
	for _, img := range o.Images {
		done[img.Target.Name] = true
	}
	c.Images = append(c.Images, o.Images...)
	var remaining []ImagingTarget
	for _, t := range c.PendingTargets {
		if !done[t.Name] {
			remaining = append(remaining, t)
		}
	}
	c.PendingTargets = remaining
	c.Totals["images"] += len(o.Images)
	return nil
}

// ProductManifest records exported products.
type ProductManifest struct {
	Entries []ProductEntry `json:"entries,omitempty"`
}

func (ProductManifest) kind() string { return "product_manifest" }

func (o ProductManifest) mergeInto(c *Context) error {
	c.Products = append(c.Products, o.Entries...)
	c.Totals["products_exported"] += len(o.Entries)
	return nil
}

// CounterDelta bumps a named run total. Tasks use it for simple accounting;
// it is also the smallest possible outcome, which makes it the natural probe
// for exercising the merge/checkpoint machinery end to end.
type CounterDelta struct {
	Key   string `json:"key"`
	Delta int    `json:"delta"`
}

func (CounterDelta) kind() string { return "counter_delta" }

func (o CounterDelta) mergeInto(c *Context) error {
	if o.Key == "" {
		return fmt.Errorf("pipeline: counter delta without a key")
	}
	c.Totals[o.Key] += o.Delta
	return nil
}

// Results is the immutable-after-creation record of one task execution.
// It is owned by the task until merged, and by the Context afterwards.
type Results struct {
	Task     string
	Stage    int
	Start    time.Time
	End      time.Time
	QA       ScorePool
	Failures []ItemFailure
	Outcome  Outcome

	merged bool
}

// MergeWithContext performs the one mutation a Context ever receives.
// Structural validation happens before any state is touched; a validation
// error aborts the run with the Context unmodified. There is no rollback
// once the variant's merge has started.
func (r *Results) MergeWithContext(c *Context) error {
	if r == nil {
		return errors.New("pipeline: nil results")
	}
	if c == nil {
		return errors.New("pipeline: nil context")
	}
	if r.merged {
		return fmt.Errorf("%w (task %s, stage %d)", ErrAlreadyMerged, r.Task, r.Stage)
	}
	if c.Totals == nil {
		c.Totals = map[string]int{}
	}
	if r.Outcome != nil {
		if err := r.Outcome.mergeInto(c); err != nil {
			return err
		}
	}
	c.History = append(c.History, *r)
	c.History[len(c.History)-1].merged = true
	r.merged = true
	return nil
}

// --------------------- JSON envelope ---------------------

// outcomeJSON frames the Outcome sum for serialization.
type outcomeJSON struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type resultsJSON struct {
	Task     string        `json:"task"`
	Stage    int           `json:"stage"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	QA       ScorePool     `json:"qa"`
	Failures []ItemFailure `json:"failures,omitempty"`
	Outcome  *outcomeJSON  `json:"outcome,omitempty"`
}

func (r Results) MarshalJSON() ([]byte, error) {
	out := resultsJSON{
		Task:     r.Task,
		Stage:    r.Stage,
		Start:    r.Start,
		End:      r.End,
		QA:       r.QA,
		Failures: r.Failures,
	}
	if r.Outcome != nil {
		data, err := json.Marshal(r.Outcome)
		if err != nil {
			return nil, err
		}
		out.Outcome = &outcomeJSON{Kind: r.Outcome.kind(), Data: data}
	}
	return json.Marshal(out)
}

func (r *Results) UnmarshalJSON(b []byte) error {
	var in resultsJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = Results{
		Task:     in.Task,
		Stage:    in.Stage,
		Start:    in.Start,
		End:      in.End,
		QA:       in.QA,
		Failures: in.Failures,
	}
	if in.Outcome == nil {
		return nil
	}
	outcome, err := decodeOutcome(in.Outcome.Kind, in.Outcome.Data)
	if err != nil {
		return err
	}
	r.Outcome = outcome
	return nil
}

func decodeOutcome(kind string, data json.RawMessage) (Outcome, error) {
	switch kind {
	case "import_summary":
		var v ImportSummary
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "cal_application_list":
		var v CalApplicationList
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "flag_summary":
		var v FlagSummary
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "image_list":
		var v ImageList
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "product_manifest":
		var v ProductManifest
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "counter_delta":
		var v CounterDelta
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("pipeline: unknown outcome kind %q", kind)
	}
}
