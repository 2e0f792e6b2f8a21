package task

import (
	"context"
	"fmt"

	"radiopipe/internal/casa"
	"radiopipe/internal/pipeline"
)

// flagDeterministicSpec applies the deterministic (non-heuristic) flagging
// commands to every MS of the batch: shadowed antennas, band edges, online
// flags and whatever the procedure lists explicitly.
func flagDeterministicSpec() Spec {
	return Spec{
		Key:            "flagdeterministic",
		Description:    "apply deterministic flagging commands",
		PerMSIsolation: true,
		BuildInputs: func(_ context.Context, _ *Runtime, params map[string]any) (Inputs, error) {
			return Inputs{Vis: paramStringSlice(params, "vis"), Params: params}, nil
		},
		Execute: func(ctx context.Context, rt *Runtime, in Inputs) (Execution, error) {
			mode := paramString(in.Params, "mode", "list")
			commands := paramStringSlice(in.Params, "commands")

			perMS := map[string]float64{}
			qa := []pipeline.QAScore{}
			_, failures, err := forEachMS(true, in.Vis, func(vis string) error {
				ms, ok := rt.Context.ObservingRun.Get(vis)
				if !ok {
					return fmt.Errorf("unknown measurement set %q", vis)
				}
				reply, err := rt.Gateway.Flagdata(ctx, casa.FlagdataRequest{
					Vis:      ms.Path,
					Mode:     mode,
					Commands: commands,
				})
				if err != nil {
					return err
				}
				perMS[vis] = reply.FlaggedFraction
				if reply.FlaggedFraction > 0.6 {
					qa = append(qa, pipeline.QAScore{
						Value:    1 - reply.FlaggedFraction,
						Shortmsg: "high flag fraction",
						Longmsg:  fmt.Sprintf("%s: %.0f%% of the data flagged", vis, reply.FlaggedFraction*100),
					})
				}
				return nil
			})
			if err != nil {
				return Execution{}, err
			}
			qa = append(qa, batchQA(len(in.Vis), len(failures), "measurement sets"))
			return Execution{
				Outcome:  pipeline.FlagSummary{PerMS: perMS},
				QA:       qa,
				Failures: failures,
			}, nil
		},
	}
}
