package task

import (
	"context"
	"fmt"

	"radiopipe/internal/casa"
	"radiopipe/internal/pipeline"
)

// gaincalSpec solves for time-dependent gain calibration tables against the
// phase calibrator. Like bandpass, a failed solve aborts the task.
func gaincalSpec() Spec {
	return Spec{
		Key:         "gaincal",
		Description: "solve for gain calibration tables",
		BuildInputs: func(_ context.Context, _ *Runtime, params map[string]any) (Inputs, error) {
			return Inputs{
				Vis:    paramStringSlice(params, "vis"),
				Field:  paramString(params, "field", ""),
				Spw:    paramString(params, "spw", ""),
				Intent: paramString(params, "intent", "PHASE"),
				Solint: paramString(params, "solint", "int"),
				Refant: paramString(params, "refant", ""),
				Params: params,
			}, nil
		},
		Execute: func(ctx context.Context, rt *Runtime, in Inputs) (Execution, error) {
			gaintype := paramString(in.Params, "gaintype", "G")
			calmode := paramString(in.Params, "calmode", "ap")

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
				table := caltableName(vis, "gcal")
				reply, err := rt.Gateway.Gaincal(ctx, casa.GaincalRequest{
					Vis:        ms.Path,
					CalTable:   table,
					Field:      field,
					Spw:        in.Spw,
					Intent:     in.Intent,
					Solint:     in.Solint,
					Refant:     in.Refant,
					Gaintype:   gaintype,
					Calmode:    calmode,
					GainTables: rt.Context.CalLibrary.GainTables(pipeline.CalSelection{MS: vis}),
				})
				if err != nil {
					return err
				}
				qa = append(qa, solutionQA(vis, reply.SolutionsTotal, reply.SolutionsFlagged))
				apps = append(apps, pipeline.CalApplication{
					CalTable:  reply.CalTable,
					CalType:   "gaincal",
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
