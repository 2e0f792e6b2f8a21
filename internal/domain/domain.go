package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SpectralWindow describes one spectral window of a measurement set.
type SpectralWindow struct {
	ID           int     `json:"id"`
	Name         string  `json:"name,omitempty"`
	NumChannels  int     `json:"num_channels"`
	CentreFreqHz float64 `json:"centre_freq_hz"`
	BandwidthHz  float64 `json:"bandwidth_hz"`
	// Intents carries the observing intents seen on this window, e.g.
	// "BANDPASS", "PHASE", "TARGET".
	Intents []string `json:"intents,omitempty"`
}

// Antenna describes one antenna of the array.
type Antenna struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Station   string  `json:"station,omitempty"`
	DiameterM float64 `json:"diameter_m,omitempty"`
	Flagged   bool    `json:"flagged,omitempty"`
}

// Field describes one observed field (pointing) of a measurement set.
type Field struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Intents []string `json:"intents,omitempty"`

	// ambiguous is set at import time when the field name cannot be used as
	// a CASA data selection: either another field shares the name, or the
	// name contains selection syntax characters.
	Ambiguous bool `json:"ambiguous,omitempty"`
}

// casaUnsafe are characters with meaning in CASA selection syntax. A field
// name containing any of them must be addressed by numeric ID instead.
const casaUnsafe = `*,;"'&()[]{}<>~`

// CASAName returns the selector to use for this field in a CASA call: the
// quoted name when it is unambiguous, the numeric ID otherwise.
func (f Field) CASAName() string {
	if f.Ambiguous {
		return fmt.Sprintf("%d", f.ID)
	}
	return f.Name
}

// HasIntent reports whether the field was observed with the given intent.
func (f Field) HasIntent(intent string) bool {
	for _, i := range f.Intents {
		if strings.EqualFold(i, intent) {
			return true
		}
	}
	return false
}

// MeasurementSet is a read-mostly metadata mirror of one MS on disk. It is
// constructed once at import time and consulted, not mutated, afterwards.
type MeasurementSet struct {
	Name    string `json:"name"` // basename, unique within an observing run
	Path    string `json:"path"` // working-directory-relative path
	Project string `json:"project,omitempty"`

	SizeBytes int64     `json:"size_bytes,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`

	Fields          []Field          `json:"fields,omitempty"`
	SpectralWindows []SpectralWindow `json:"spectral_windows,omitempty"`
	Antennas        []Antenna        `json:"antennas,omitempty"`
}

// MarkAmbiguousFields flags fields whose names collide or contain CASA
// selection metacharacters. Call once after the field list is populated.
func (ms *MeasurementSet) MarkAmbiguousFields() {
	seen := map[string]int{}
	for _, f := range ms.Fields {
		seen[f.Name]++
	}
	for i := range ms.Fields {
		f := &ms.Fields[i]
		f.Ambiguous = seen[f.Name] > 1 || strings.ContainsAny(f.Name, casaUnsafe)
	}
}

// FieldsByIntent returns the fields observed with the given intent, in ID order.
func (ms *MeasurementSet) FieldsByIntent(intent string) []Field {
	var out []Field
	for _, f := range ms.Fields {
		if f.HasIntent(intent) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FieldSelector derives the CASA field selection for an intent: the
// comma-joined CASA-safe selectors of all fields carrying it. Empty when no
// field matches. This is the single intent-to-field defaulting rule used by
// every task.
func (ms *MeasurementSet) FieldSelector(intent string) string {
	fields := ms.FieldsByIntent(intent)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.CASAName())
	}
	return strings.Join(parts, ",")
}

// ScienceSpws returns spectral windows carrying the TARGET intent, falling
// back to all windows when intents were not recorded.
func (ms *MeasurementSet) ScienceSpws() []SpectralWindow {
	var out []SpectralWindow
	for _, spw := range ms.SpectralWindows {
		for _, in := range spw.Intents {
			if strings.EqualFold(in, "TARGET") {
				out = append(out, spw)
				break
			}
		}
	}
	if len(out) == 0 {
		return ms.SpectralWindows
	}
	return out
}

// ObservingRun is the set of measurement sets registered for one pipeline run.
type ObservingRun struct {
	MeasurementSets []MeasurementSet `json:"measurement_sets,omitempty"`
}

// Add registers a measurement set. Re-registering the same name replaces the
// previous entry (a re-import after flagging updates the metadata mirror).
func (o *ObservingRun) Add(ms MeasurementSet) {
	for i := range o.MeasurementSets {
		if o.MeasurementSets[i].Name == ms.Name {
			o.MeasurementSets[i] = ms
			return
		}
	}
	o.MeasurementSets = append(o.MeasurementSets, ms)
}

// Get returns the measurement set with the given name.
func (o *ObservingRun) Get(name string) (MeasurementSet, bool) {
	for _, ms := range o.MeasurementSets {
		if ms.Name == name {
			return ms, true
		}
	}
	return MeasurementSet{}, false
}

// Names returns the registered MS names in registration order.
func (o *ObservingRun) Names() []string {
	out := make([]string, 0, len(o.MeasurementSets))
	for _, ms := range o.MeasurementSets {
		out = append(out, ms.Name)
	}
	return out
}
