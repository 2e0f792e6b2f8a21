// Package casatest provides an in-memory Gateway for tests. Replies are
// canned and per-call failures can be injected, which is how the task
// layer's per-MS fault isolation is exercised without a CASA install.
package casatest

import (
	"context"
	"fmt"
	"sync"

	"radiopipe/internal/casa"
	"radiopipe/internal/domain"
)

// Call records one gateway invocation.
type Call struct {
	Op  string
	Vis string
}

// Fake is a scriptable casa.Gateway.
type Fake struct {
	mu    sync.Mutex
	calls []Call

	// MSes served by MSMetadata, keyed by vis path.
	MSes map[string]domain.MeasurementSet
	// Fail injects an error for "op:vis" (one MS) or "op" (every call).
	Fail map[string]error
	// FlagFraction is reported by Flagdata and Applycal replies.
	FlagFraction float64
}

// New returns an empty fake with no scripted failures.
func New() *Fake {
	return &Fake{
		MSes: map[string]domain.MeasurementSet{},
		Fail: map[string]error{},
	}
}

// AddMS registers a canned measurement set served by MSMetadata.
func (f *Fake) AddMS(ms domain.MeasurementSet) {
	f.MSes[ms.Path] = ms
}

// Calls returns a copy of the recorded invocations.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsFor returns how many times op was invoked.
func (f *Fake) CallsFor(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (f *Fake) record(op, vis string) error {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: op, Vis: vis})
	err, ok := f.Fail[op+":"+vis]
	if !ok {
		err = f.Fail[op]
	}
	f.mu.Unlock()
	return err
}

func (f *Fake) MSMetadata(ctx context.Context, req casa.MSMetadataRequest) (casa.MSMetadataReply, error) {
	if err := f.record("msmd", req.Vis); err != nil {
		return casa.MSMetadataReply{}, err
	}
	if ms, ok := f.MSes[req.Vis]; ok {
		return casa.MSMetadataReply{MS: ms}, nil
	}
	return casa.MSMetadataReply{}, fmt.Errorf("casatest: no such measurement set %s", req.Vis)
}

func (f *Fake) Flagdata(ctx context.Context, req casa.FlagdataRequest) (casa.FlagdataReply, error) {
	if err := f.record("flagdata", req.Vis); err != nil {
		return casa.FlagdataReply{}, err
	}
	return casa.FlagdataReply{FlaggedFraction: f.FlagFraction}, nil
}

func (f *Fake) Bandpass(ctx context.Context, req casa.BandpassRequest) (casa.BandpassReply, error) {
	if err := f.record("bandpass", req.Vis); err != nil {
		return casa.BandpassReply{}, err
	}
	return casa.BandpassReply{CalTable: req.CalTable, SolutionsTotal: 100}, nil
}

func (f *Fake) Gaincal(ctx context.Context, req casa.GaincalRequest) (casa.GaincalReply, error) {
	if err := f.record("gaincal", req.Vis); err != nil {
		return casa.GaincalReply{}, err
	}
	return casa.GaincalReply{CalTable: req.CalTable, SolutionsTotal: 100}, nil
}

func (f *Fake) Fluxscale(ctx context.Context, req casa.FluxscaleRequest) (casa.FluxscaleReply, error) {
	if err := f.record("fluxscale", req.Vis); err != nil {
		return casa.FluxscaleReply{}, err
	}
	return casa.FluxscaleReply{
		FluxTable:     req.FluxTable,
		FluxDensities: map[string]float64{req.Transfer: 1.0},
	}, nil
}

func (f *Fake) Tsyscal(ctx context.Context, req casa.TsyscalRequest) (casa.TsyscalReply, error) {
	if err := f.record("tsyscal", req.Vis); err != nil {
		return casa.TsyscalReply{}, err
	}
	return casa.TsyscalReply{CalTable: req.CalTable}, nil
}

func (f *Fake) Applycal(ctx context.Context, req casa.ApplycalRequest) (casa.ApplycalReply, error) {
	if err := f.record("applycal", req.Vis); err != nil {
		return casa.ApplycalReply{}, err
	}
	return casa.ApplycalReply{FlaggedFraction: f.FlagFraction}, nil
}

func (f *Fake) Split(ctx context.Context, req casa.SplitRequest) (casa.SplitReply, error) {
	if err := f.record("split", req.Vis); err != nil {
		return casa.SplitReply{}, err
	}
	return casa.SplitReply{OutputVis: req.OutputVis}, nil
}

func (f *Fake) Tclean(ctx context.Context, req casa.TcleanRequest) (casa.TcleanReply, error) {
	vis := ""
	if len(req.Vis) > 0 {
		vis = req.Vis[0]
	}
	if err := f.record("tclean", vis); err != nil {
		return casa.TcleanReply{}, err
	}
	return casa.TcleanReply{Imagename: req.Imagename, Iterations: req.Niter, RMS: 0.001}, nil
}

func (f *Fake) Exportfits(ctx context.Context, req casa.ExportfitsRequest) (casa.ExportfitsReply, error) {
	if err := f.record("exportfits", req.Imagename); err != nil {
		return casa.ExportfitsReply{}, err
	}
	return casa.ExportfitsReply{Fitsimage: req.Fitsimage}, nil
}

var _ casa.Gateway = (*Fake)(nil)
