package task

import (
	"context"
	"fmt"

	"radiopipe/internal/casa"
	"radiopipe/internal/pipeline"
	"radiopipe/internal/tier0"
)

// selfcalUnit is one independent self-calibration solve: a science field
// within one MS.
type selfcalUnit struct {
	vis   string
	field pipeline.CalSelection
	name  string
}

// selfcalSpec runs phase-only self-calibration on the science fields,
// fanning the independent per-field solves out over the tier0 pool. Each
// unit first splits its field into its own MS copy, so no two workers ever
// touch the same table on disk, and a failed field only costs that field.
func selfcalSpec() Spec {
	return Spec{
		Key:            "selfcal",
		Description:    "phase-only self-calibration of the science fields",
		PerMSIsolation: true,
		BuildInputs: func(_ context.Context, _ *Runtime, params map[string]any) (Inputs, error) {
			return Inputs{
				Vis:    paramStringSlice(params, "vis"),
				Solint: paramString(params, "solint", "int"),
				Refant: paramString(params, "refant", ""),
				Params: params,
			}, nil
		},
		Execute: func(ctx context.Context, rt *Runtime, in Inputs) (Execution, error) {
			units := selfcalUnits(rt.Context, in.Vis)
			apps, errs := tier0.MapCollect(ctx, rt.Tier0Workers, units,
				func(ctx context.Context, _ int, u selfcalUnit) (pipeline.CalApplication, error) {
					return selfcalOne(ctx, rt, u, in)
				})

			var (
				done     []pipeline.CalApplication
				failures []pipeline.ItemFailure
			)
			for i, err := range errs {
				if err != nil {
					failures = append(failures, pipeline.ItemFailure{Item: units[i].name, Message: err.Error()})
					continue
				}
				done = append(done, apps[i])
			}
			return Execution{
				Outcome:  pipeline.CalApplicationList{Applications: done},
				QA:       []pipeline.QAScore{batchQA(len(units), len(failures), "self-calibration units")},
				Failures: failures,
			}, nil
		},
	}
}

// selfcalUnits enumerates (MS, science field) pairs for the given MSes.
func selfcalUnits(c *pipeline.Context, vis []string) []selfcalUnit {
	names := vis
	if len(names) == 0 {
		names = c.ObservingRun.Names()
	}
	var out []selfcalUnit
	for _, v := range names {
		ms, ok := c.ObservingRun.Get(v)
		if !ok {
			continue
		}
		for _, f := range ms.FieldsByIntent("TARGET") {
			out = append(out, selfcalUnit{
				vis:   v,
				field: pipeline.CalSelection{MS: v, Field: f.CASAName()},
				name:  fmt.Sprintf("%s.%s", msBase(v), sanitizeName(f.Name)),
			})
		}
	}
	return out
}

func selfcalOne(ctx context.Context, rt *Runtime, u selfcalUnit, in Inputs) (pipeline.CalApplication, error) {
	ms, ok := rt.Context.ObservingRun.Get(u.vis)
	if !ok {
		return pipeline.CalApplication{}, fmt.Errorf("unknown measurement set %q", u.vis)
	}
	// split the field into its own copy first: concurrent solves must not
	// share a measurement set on disk
	split, err := rt.Gateway.Split(ctx, casa.SplitRequest{
		Vis:        ms.Path,
		OutputVis:  u.name + ".selfcal.ms",
		Field:      u.field.Field,
		Datacolumn: "corrected",
	})
	if err != nil {
		return pipeline.CalApplication{}, fmt.Errorf("split: %w", err)
	}
	table := u.name + ".selfcal.gcal"
	// the corrected column already folds the library tables in, so the
	// solve on the copy carries no priors
	reply, err := rt.Gateway.Gaincal(ctx, casa.GaincalRequest{
		Vis:      split.OutputVis,
		CalTable: table,
		Intent:   "TARGET",
		Solint:   in.Solint,
		Refant:   in.Refant,
		Gaintype: "G",
		Calmode:  "p",
	})
	if err != nil {
		return pipeline.CalApplication{}, err
	}
	return pipeline.CalApplication{
		CalTable:  reply.CalTable,
		CalType:   "gaincal",
		Selection: u.field,
		Interp:    "linear",
	}, nil
}
