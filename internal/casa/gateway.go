// Package casa is the boundary to the external CASA environment. Every
// numerically meaningful operation (calibration solve, flagging, imaging,
// table I/O) is delegated across it; the pipeline treats each call as an
// opaque, synchronous, possibly-failing procedure call.
package casa

import (
	"context"

	"radiopipe/internal/domain"
)

// MSMetadataRequest asks for the metadata mirror of one measurement set.
type MSMetadataRequest struct {
	Vis string `json:"vis"`
}

type MSMetadataReply struct {
	MS domain.MeasurementSet `json:"ms"`
}

// FlagdataRequest applies deterministic flagging commands to an MS.
type FlagdataRequest struct {
	Vis      string   `json:"vis"`
	Mode     string   `json:"mode"` // "list", "shadow", "edge", ...
	Commands []string `json:"commands,omitempty"`
}

type FlagdataReply struct {
	FlaggedFraction float64            `json:"flagged_fraction"`
	PerSpw          map[string]float64 `json:"per_spw,omitempty"`
}

// BandpassRequest solves for a bandpass calibration table.
type BandpassRequest struct {
	Vis        string   `json:"vis"`
	CalTable   string   `json:"caltable"`
	Field      string   `json:"field"`
	Spw        string   `json:"spw,omitempty"`
	Intent     string   `json:"intent,omitempty"`
	Solint     string   `json:"solint"`
	Refant     string   `json:"refant,omitempty"`
	GainTables []string `json:"gaintables,omitempty"`
}

type BandpassReply struct {
	CalTable         string `json:"caltable"`
	SolutionsTotal   int    `json:"solutions_total"`
	SolutionsFlagged int    `json:"solutions_flagged"`
}

// GaincalRequest solves for a gain calibration table.
type GaincalRequest struct {
	Vis        string   `json:"vis"`
	CalTable   string   `json:"caltable"`
	Field      string   `json:"field"`
	Spw        string   `json:"spw,omitempty"`
	Intent     string   `json:"intent,omitempty"`
	Solint     string   `json:"solint"`
	Refant     string   `json:"refant,omitempty"`
	Gaintype   string   `json:"gaintype,omitempty"` // "G" or "T"
	Calmode    string   `json:"calmode,omitempty"`  // "p", "a", "ap"
	GainTables []string `json:"gaintables,omitempty"`
}

type GaincalReply struct {
	CalTable         string `json:"caltable"`
	SolutionsTotal   int    `json:"solutions_total"`
	SolutionsFlagged int    `json:"solutions_flagged"`
}

// FluxscaleRequest bootstraps flux densities from a reference field.
type FluxscaleRequest struct {
	Vis       string `json:"vis"`
	CalTable  string `json:"caltable"`
	FluxTable string `json:"fluxtable"`
	Reference string `json:"reference"`
	Transfer  string `json:"transfer"`
}

type FluxscaleReply struct {
	FluxTable     string             `json:"fluxtable"`
	FluxDensities map[string]float64 `json:"flux_densities,omitempty"` // field -> Jy
}

// TsyscalRequest derives a system-temperature calibration table.
type TsyscalRequest struct {
	Vis      string `json:"vis"`
	CalTable string `json:"caltable"`
}

type TsyscalReply struct {
	CalTable string `json:"caltable"`
}

// ApplycalRequest applies a set of calibration tables to an MS.
type ApplycalRequest struct {
	Vis        string   `json:"vis"`
	Field      string   `json:"field,omitempty"`
	GainTables []string `json:"gaintables"`
	GainFields []string `json:"gainfields,omitempty"`
	Interp     []string `json:"interp,omitempty"`
	Calwt      bool     `json:"calwt,omitempty"`
}

type ApplycalReply struct {
	FlaggedFraction float64 `json:"flagged_fraction"`
}

// SplitRequest writes a per-target copy of an MS. Tier0 fan-out workers
// operate on disjoint splits so no two workers ever share a table on disk.
type SplitRequest struct {
	Vis        string `json:"vis"`
	OutputVis  string `json:"outputvis"`
	Field      string `json:"field,omitempty"`
	Spw        string `json:"spw,omitempty"`
	Datacolumn string `json:"datacolumn,omitempty"`
}

type SplitReply struct {
	OutputVis string `json:"outputvis"`
}

// TcleanRequest runs deconvolution/imaging for one target.
type TcleanRequest struct {
	Vis       []string `json:"vis"`
	Imagename string   `json:"imagename"`
	Field     string   `json:"field,omitempty"`
	Spw       string   `json:"spw,omitempty"`
	Specmode  string   `json:"specmode,omitempty"`
	Niter     int      `json:"niter,omitempty"`
	Threshold string   `json:"threshold,omitempty"`
	Imsize    []int    `json:"imsize,omitempty"`
	Cell      string   `json:"cell,omitempty"`
}

type TcleanReply struct {
	Imagename    string  `json:"imagename"`
	Iterations   int     `json:"iterations"`
	PeakResidual float64 `json:"peak_residual"`
	RMS          float64 `json:"rms"`
}

// ExportfitsRequest converts a CASA image to FITS.
type ExportfitsRequest struct {
	Imagename string `json:"imagename"`
	Fitsimage string `json:"fitsimage"`
}

type ExportfitsReply struct {
	Fitsimage string `json:"fitsimage"`
}

// Gateway is the synchronous CASA call surface. Implementations must
// propagate errors unmodified; the task layer decides whether a failure
// aborts the stage or only the one measurement set being processed.
type Gateway interface {
	MSMetadata(ctx context.Context, req MSMetadataRequest) (MSMetadataReply, error)
	Flagdata(ctx context.Context, req FlagdataRequest) (FlagdataReply, error)
	Bandpass(ctx context.Context, req BandpassRequest) (BandpassReply, error)
	Gaincal(ctx context.Context, req GaincalRequest) (GaincalReply, error)
	Fluxscale(ctx context.Context, req FluxscaleRequest) (FluxscaleReply, error)
	Tsyscal(ctx context.Context, req TsyscalRequest) (TsyscalReply, error)
	Applycal(ctx context.Context, req ApplycalRequest) (ApplycalReply, error)
	Split(ctx context.Context, req SplitRequest) (SplitReply, error)
	Tclean(ctx context.Context, req TcleanRequest) (TcleanReply, error)
	Exportfits(ctx context.Context, req ExportfitsRequest) (ExportfitsReply, error)
}
