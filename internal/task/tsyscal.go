package task

import (
	"context"
	"fmt"

	"radiopipe/internal/casa"
	"radiopipe/internal/pipeline"
)

// tsyscalSpec derives system-temperature calibration tables. Not every MS
// carries Tsys measurements, so a failing MS is skipped and the batch
// continues.
func tsyscalSpec() Spec {
	return Spec{
		Key:            "tsyscal",
		Description:    "derive system-temperature calibration tables",
		PerMSIsolation: true,
		BuildInputs: func(_ context.Context, _ *Runtime, params map[string]any) (Inputs, error) {
			return Inputs{Vis: paramStringSlice(params, "vis"), Params: params}, nil
		},
		Execute: func(ctx context.Context, rt *Runtime, in Inputs) (Execution, error) {
			var apps []pipeline.CalApplication
			_, failures, err := forEachMS(true, in.Vis, func(vis string) error {
				ms, ok := rt.Context.ObservingRun.Get(vis)
				if !ok {
					return fmt.Errorf("unknown measurement set %q", vis)
				}
				table := caltableName(vis, "tsys")
				reply, err := rt.Gateway.Tsyscal(ctx, casa.TsyscalRequest{Vis: ms.Path, CalTable: table})
				if err != nil {
					return err
				}
				apps = append(apps, pipeline.CalApplication{
					CalTable:  reply.CalTable,
					CalType:   "tsys",
					Selection: pipeline.CalSelection{MS: vis},
					Interp:    "linear,linear",
					Calwt:     true,
				})
				return nil
			})
			if err != nil {
				return Execution{}, err
			}
			return Execution{
				Outcome:  pipeline.CalApplicationList{Applications: apps},
				QA:       []pipeline.QAScore{batchQA(len(in.Vis), len(failures), "measurement sets")},
				Failures: failures,
			}, nil
		},
	}
}
