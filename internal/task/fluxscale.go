package task

import (
	"context"
	"fmt"
	"sort"

	"radiopipe/internal/casa"
	"radiopipe/internal/pipeline"
)

// fluxscaleSpec bootstraps flux densities: it scales the gain table solved on
// the transfer fields by the known flux of the amplitude calibrator. Requires
// a prior gaincal stage; runs without isolation.
func fluxscaleSpec() Spec {
	return Spec{
		Key:         "fluxscale",
		Description: "bootstrap flux densities from the amplitude calibrator",
		BuildInputs: func(_ context.Context, _ *Runtime, params map[string]any) (Inputs, error) {
			return Inputs{Vis: paramStringSlice(params, "vis"), Params: params}, nil
		},
		Execute: func(ctx context.Context, rt *Runtime, in Inputs) (Execution, error) {
			var apps []pipeline.CalApplication
			qa := []pipeline.QAScore{}
			_, _, err := forEachMS(false, in.Vis, func(vis string) error {
				ms, ok := rt.Context.ObservingRun.Get(vis)
				if !ok {
					return fmt.Errorf("unknown measurement set %q", vis)
				}
				reference := paramString(in.Params, "reference", "")
				if reference == "" {
					reference = ms.FieldSelector("FLUX")
				}
				if reference == "" {
					reference = ms.FieldSelector("AMPLITUDE")
				}
				if reference == "" {
					return fmt.Errorf("%s: no amplitude calibrator field", vis)
				}
				transfer := paramString(in.Params, "transfer", "")
				if transfer == "" {
					transfer = ms.FieldSelector("PHASE")
				}

				gtable := latestTable(rt.Context.CalLibrary, vis, "gaincal")
				if gtable == "" {
					return fmt.Errorf("%s: fluxscale requires a prior gain table", vis)
				}
				reply, err := rt.Gateway.Fluxscale(ctx, casa.FluxscaleRequest{
					Vis:       ms.Path,
					CalTable:  gtable,
					FluxTable: caltableName(vis, "flux"),
					Reference: reference,
					Transfer:  transfer,
				})
				if err != nil {
					return err
				}
				qa = append(qa, fluxQA(vis, reply.FluxDensities))
				apps = append(apps, pipeline.CalApplication{
					CalTable:  reply.FluxTable,
					CalType:   "fluxscale",
					Selection: pipeline.CalSelection{MS: vis},
					Interp:    "linear",
				})
				return nil
			})
			if err != nil {
				return Execution{}, err
			}
			return Execution{
				Outcome: pipeline.CalApplicationList{Applications: apps},
				QA:      qa,
			}, nil
		},
	}
}

// latestTable returns the most recently merged table of a type for an MS.
func latestTable(lib pipeline.CalLibrary, vis, caltype string) string {
	table := ""
	for _, app := range lib.ApplicableTo(pipeline.CalSelection{MS: vis}) {
		if app.CalType == caltype {
			table = app.CalTable
		}
	}
	return table
}

// fluxQA flags non-physical bootstrapped flux densities.
func fluxQA(vis string, densities map[string]float64) pipeline.QAScore {
	if len(densities) == 0 {
		return pipeline.QAScore{Value: 1, Shortmsg: "ok"}
	}
	fields := make([]string, 0, len(densities))
	for f := range densities {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if densities[f] <= 0 {
			return pipeline.QAScore{
				Value:    0,
				Shortmsg: "non-physical flux",
				Longmsg:  fmt.Sprintf("%s: field %s bootstrapped to %g Jy", vis, f, densities[f]),
			}
		}
	}
	return pipeline.QAScore{Value: 1, Shortmsg: "ok"}
}
