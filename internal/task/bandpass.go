package task

import (
	"context"
	"fmt"

	"radiopipe/internal/casa"
	"radiopipe/internal/pipeline"
)

// bandpassSpec solves for bandpass calibration tables. A failed solve aborts
// the task: calibration past this point is meaningless without a bandpass, so
// there is no per-MS skipping here.
func bandpassSpec() Spec {
	return Spec{
		Key:         "bandpass",
		Description: "solve for bandpass calibration tables",
		BuildInputs: func(_ context.Context, _ *Runtime, params map[string]any) (Inputs, error) {
			return Inputs{
				Vis:    paramStringSlice(params, "vis"),
				Field:  paramString(params, "field", ""),
				Spw:    paramString(params, "spw", ""),
				Intent: paramString(params, "intent", "BANDPASS"),
				Solint: paramString(params, "solint", "inf"),
				Refant: paramString(params, "refant", ""),
				Params: params,
			}, nil
		},
		Execute: func(ctx context.Context, rt *Runtime, in Inputs) (Execution, error) {
			var apps []pipeline.CalApplication
			qa := []pipeline.QAScore{}
			_, _, err := forEachMS(false, in.Vis, func(vis string) error {
				ms, ok := rt.Context.ObservingRun.Get(vis)
				if !ok {
					return fmt.Errorf("unknown measurement set %q", vis)
				}
				field := in.Field
				if field == "" {
					field = ms.FieldSelector(in.Intent)
				}
				if field == "" {
					return fmt.Errorf("%s: no field observed with intent %s", vis, in.Intent)
				}
				table := caltableName(vis, "bcal")
				reply, err := rt.Gateway.Bandpass(ctx, casa.BandpassRequest{
					Vis:        ms.Path,
					CalTable:   table,
					Field:      field,
					Spw:        in.Spw,
					Intent:     in.Intent,
					Solint:     in.Solint,
					Refant:     in.Refant,
					GainTables: rt.Context.CalLibrary.GainTables(pipeline.CalSelection{MS: vis}),
				})
				if err != nil {
					return err
				}
				qa = append(qa, solutionQA(vis, reply.SolutionsTotal, reply.SolutionsFlagged))
				apps = append(apps, pipeline.CalApplication{
					CalTable:  reply.CalTable,
					CalType:   "bandpass",
					Selection: pipeline.CalSelection{MS: vis},
					Interp:    "nearest",
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

// solutionQA scores a solve by its fraction of flagged solutions.
func solutionQA(vis string, total, flagged int) pipeline.QAScore {
	if total <= 0 {
		return pipeline.QAScore{Value: 0, Shortmsg: "no solutions", Longmsg: vis + ": solve produced no solutions"}
	}
	frac := float64(flagged) / float64(total)
	score := pipeline.QAScore{Value: 1 - frac, Shortmsg: "ok"}
	if frac > 0 {
		score.Shortmsg = "flagged solutions"
		score.Longmsg = fmt.Sprintf("%s: %d of %d solutions flagged", vis, flagged, total)
	}
	return score
}
