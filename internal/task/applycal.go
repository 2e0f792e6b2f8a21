package task

import (
	"context"
	"fmt"

	"radiopipe/internal/casa"
	"radiopipe/internal/pipeline"
)

// applycalSpec applies the accumulated calibration library to the data. An MS
// whose application fails is skipped (its corrected data simply never
// materializes) and the rest of the batch continues.
func applycalSpec() Spec {
	return Spec{
		Key:            "applycal",
		Description:    "apply the calibration library to the data columns",
		PerMSIsolation: true,
		BuildInputs: func(_ context.Context, _ *Runtime, params map[string]any) (Inputs, error) {
			return Inputs{
				Vis:    paramStringSlice(params, "vis"),
				Field:  paramString(params, "field", ""),
				Params: params,
			}, nil
		},
		Execute: func(ctx context.Context, rt *Runtime, in Inputs) (Execution, error) {
			perMS := map[string]float64{}
			_, failures, err := forEachMS(true, in.Vis, func(vis string) error {
				ms, ok := rt.Context.ObservingRun.Get(vis)
				if !ok {
					return fmt.Errorf("unknown measurement set %q", vis)
				}
				apps := rt.Context.CalLibrary.ApplicableTo(pipeline.CalSelection{MS: vis, Field: in.Field})
				if len(apps) == 0 {
					return fmt.Errorf("%s: calibration library has no applicable tables", vis)
				}
				tables := make([]string, 0, len(apps))
				interp := make([]string, 0, len(apps))
				calwt := false
				for _, a := range apps {
					tables = append(tables, a.CalTable)
					interp = append(interp, a.Interp)
					calwt = calwt || a.Calwt
				}
				reply, err := rt.Gateway.Applycal(ctx, casa.ApplycalRequest{
					Vis:        ms.Path,
					Field:      in.Field,
					GainTables: tables,
					Interp:     interp,
					Calwt:      calwt,
				})
				if err != nil {
					return err
				}
				perMS[vis] = reply.FlaggedFraction
				return nil
			})
			if err != nil {
				return Execution{}, err
			}
			return Execution{
				Outcome:  pipeline.FlagSummary{PerMS: perMS},
				QA:       []pipeline.QAScore{batchQA(len(in.Vis), len(failures), "measurement sets")},
				Failures: failures,
			}, nil
		},
	}
}
