package pipeline

// CalSelection is the data selection a calibration table applies to.
// Empty fields are wildcards.
type CalSelection struct {
	MS      string `json:"ms"`
	Field   string `json:"field,omitempty"`
	Spw     string `json:"spw,omitempty"`
	Intent  string `json:"intent,omitempty"`
	Antenna string `json:"antenna,omitempty"`
}

// CalApplication associates one calibration table with the selection it
// should be applied to.
type CalApplication struct {
	CalTable  string       `json:"caltable"`
	CalType   string       `json:"caltype"` // "bandpass", "gaincal", "tsys", "fluxscale"
	Selection CalSelection `json:"selection"`
	Interp    string       `json:"interp,omitempty"`
	Calwt     bool         `json:"calwt,omitempty"`
}

// CalLibrary is the registry of calibration applications accumulated over a
// run. Entries are never deleted; a later entry with an overlapping
// selection supersedes earlier ones of the same type at lookup time.
type CalLibrary struct {
	Applications []CalApplication `json:"applications,omitempty"`
}

// Add appends applications in merge order.
func (l *CalLibrary) Add(apps ...CalApplication) {
	l.Applications = append(l.Applications, apps...)
}

// matches reports whether an application covers the queried selection.
// A wildcard on either side matches.
func matches(app CalSelection, q CalSelection) bool {
	if app.MS != q.MS {
		return false
	}
	like := func(a, b string) bool { return a == "" || b == "" || a == b }
	return like(app.Field, q.Field) && like(app.Spw, q.Spw) &&
		like(app.Intent, q.Intent) && like(app.Antenna, q.Antenna)
}

// ApplicableTo resolves the applications to use for a selection: for each
// calibration type, the most recently merged matching entry wins.
func (l *CalLibrary) ApplicableTo(q CalSelection) []CalApplication {
	latest := map[string]int{} // caltype -> index into Applications
	for i, app := range l.Applications {
		if matches(app.Selection, q) {
			latest[app.CalType] = i
		}
	}
	out := make([]CalApplication, 0, len(latest))
	for i, app := range l.Applications {
		if latest[app.CalType] == i && matches(app.Selection, q) {
			out = append(out, app)
		}
	}
	return out
}

// GainTables returns the table paths of the applicable applications, in
// merge order, which is the order they are handed to applycal.
func (l *CalLibrary) GainTables(q CalSelection) []string {
	apps := l.ApplicableTo(q)
	out := make([]string, 0, len(apps))
	for _, a := range apps {
		out = append(out, a.CalTable)
	}
	return out
}
