package task

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"radiopipe/internal/casa"
	"radiopipe/internal/pipeline"
	"radiopipe/internal/tier0"
)

// makeimagesSpec images the pending targets. Each target is split into its
// own MS copy so the fan-out workers never share a table on disk; split,
// tclean and exportfits run per target on the tier0 pool, and a failed
// target is recorded while the rest keep imaging.
func makeimagesSpec() Spec {
	return Spec{
		Key:            "makeimages",
		Description:    "image the pending science targets",
		PerMSIsolation: true,
		BuildInputs: func(_ context.Context, _ *Runtime, params map[string]any) (Inputs, error) {
			return Inputs{Vis: paramStringSlice(params, "vis"), Params: params}, nil
		},
		Prepare: func(_ context.Context, rt *Runtime, in *Inputs) error {
			// planning only: fix the imaging parameters before any CASA call
			if in.Params == nil {
				in.Params = map[string]any{}
			}
			if _, ok := in.Params["niter"]; !ok {
				in.Params["niter"] = 1000
			}
			if _, ok := in.Params["threshold"]; !ok {
				in.Params["threshold"] = "0.0mJy"
			}
			if _, ok := in.Params["specmode"]; !ok {
				in.Params["specmode"] = "mfs"
			}
			targets := pendingTargets(rt.Context, in.Vis)
			rt.Logger().Info("imaging plan ready",
				zap.Int("targets", len(targets)),
				zap.Int("pending_total", len(rt.Context.PendingTargets)))
			return nil
		},
		Execute: func(ctx context.Context, rt *Runtime, in Inputs) (Execution, error) {
			targets := pendingTargets(rt.Context, in.Vis)
			niter := paramInt(in.Params, "niter", 1000)
			threshold := paramString(in.Params, "threshold", "0.0mJy")
			specmode := paramString(in.Params, "specmode", "mfs")
			cell := paramString(in.Params, "cell", "")

			images, errs := tier0.MapCollect(ctx, rt.Tier0Workers, targets,
				func(ctx context.Context, _ int, t pipeline.ImagingTarget) (pipeline.ImageProduct, error) {
					return imageOneTarget(ctx, rt, t, niter, threshold, specmode, cell)
				})

			var (
				done     []pipeline.ImageProduct
				failures []pipeline.ItemFailure
			)
			for i, err := range errs {
				if err != nil {
					failures = append(failures, pipeline.ItemFailure{Item: targets[i].Name, Message: err.Error()})
					continue
				}
				done = append(done, images[i])
			}
			return Execution{
				Outcome:  pipeline.ImageList{Images: done},
				QA:       []pipeline.QAScore{batchQA(len(targets), len(failures), "imaging targets")},
				Failures: failures,
			}, nil
		},
	}
}

// pendingTargets filters the run's pending targets down to the given MSes.
// An empty vis list means all of them.
func pendingTargets(c *pipeline.Context, vis []string) []pipeline.ImagingTarget {
	if len(vis) == 0 {
		return append([]pipeline.ImagingTarget(nil), c.PendingTargets...)
	}
	want := map[string]bool{}
	for _, v := range vis {
		want[v] = true
	}
	var out []pipeline.ImagingTarget
	for _, t := range c.PendingTargets {
		if want[t.MS] {
			out = append(out, t)
		}
	}
	return out
}

func imageOneTarget(ctx context.Context, rt *Runtime, t pipeline.ImagingTarget, niter int, threshold, specmode, cell string) (pipeline.ImageProduct, error) {
	ms, ok := rt.Context.ObservingRun.Get(t.MS)
	if !ok {
		return pipeline.ImageProduct{}, fmt.Errorf("unknown measurement set %q", t.MS)
	}
	split, err := rt.Gateway.Split(ctx, casa.SplitRequest{
		Vis:        ms.Path,
		OutputVis:  t.Name + ".split.ms",
		Field:      t.Field,
		Spw:        t.Spw,
		Datacolumn: "corrected",
	})
	if err != nil {
		return pipeline.ImageProduct{}, fmt.Errorf("split: %w", err)
	}
	clean, err := rt.Gateway.Tclean(ctx, casa.TcleanRequest{
		Vis:       []string{split.OutputVis},
		Imagename: t.Name,
		Specmode:  specmode,
		Niter:     niter,
		Threshold: threshold,
		Cell:      cell,
	})
	if err != nil {
		return pipeline.ImageProduct{}, fmt.Errorf("tclean: %w", err)
	}
	fits, err := rt.Gateway.Exportfits(ctx, casa.ExportfitsRequest{
		Imagename: clean.Imagename,
		Fitsimage: t.Name + ".fits",
	})
	if err != nil {
		return pipeline.ImageProduct{}, fmt.Errorf("exportfits: %w", err)
	}
	return pipeline.ImageProduct{
		Target:     t,
		Imagename:  clean.Imagename,
		Fitsimage:  fits.Fitsimage,
		Iterations: clean.Iterations,
		RMS:        clean.RMS,
	}, nil
}
