package task

import (
	"context"
	"fmt"
	"path"
	"strconv"

	"radiopipe/internal/casa"
	"radiopipe/internal/domain"
	"radiopipe/internal/pipeline"
)

// importdataSpec registers measurement sets with the run: it queries the CASA
// boundary for each MS's metadata mirror, marks fields whose names cannot be
// used as CASA selections, and seeds one imaging target per science
// field/spw combination.
func importdataSpec() Spec {
	return Spec{
		Key:            "importdata",
		Description:    "register measurement sets and derive imaging targets",
		PerMSIsolation: true,
		BuildInputs: func(_ context.Context, _ *Runtime, params map[string]any) (Inputs, error) {
			vis := paramStringSlice(params, "vis")
			if len(vis) == 0 {
				return Inputs{}, fmt.Errorf("vis parameter is required")
			}
			return Inputs{Vis: vis, Params: params}, nil
		},
		Execute: func(ctx context.Context, rt *Runtime, in Inputs) (Execution, error) {
			var sum pipeline.ImportSummary
			_, failures, err := forEachMS(true, in.Vis, func(msPath string) error {
				ms, err := loadMetadata(ctx, rt, msPath)
				if err != nil {
					return err
				}
				sum.MSes = append(sum.MSes, ms)
				sum.Targets = append(sum.Targets, imagingTargets(ms)...)
				return nil
			})
			if err != nil {
				return Execution{}, err
			}
			return Execution{
				Outcome:  sum,
				QA:       []pipeline.QAScore{batchQA(len(in.Vis), len(failures), "measurement sets")},
				Failures: failures,
			}, nil
		},
	}
}

// loadMetadata fetches the metadata mirror for one MS, going through the
// in-memory cache when the file's on-disk identity has not changed.
func loadMetadata(ctx context.Context, rt *Runtime, msPath string) (domain.MeasurementSet, error) {
	var key string
	if rt.Work != nil && rt.Metadata != nil {
		if info, err := rt.Work.Stat(msPath); err == nil {
			key = rt.Metadata.Key(msPath, info)
			if ms, ok := rt.Metadata.Get(key); ok {
				return ms, nil
			}
		}
	}
	reply, err := rt.Gateway.MSMetadata(ctx, casa.MSMetadataRequest{Vis: msPath})
	if err != nil {
		return domain.MeasurementSet{}, err
	}
	ms := reply.MS
	if ms.Name == "" {
		ms.Name = path.Base(msPath)
	}
	ms.Path = msPath
	ms.MarkAmbiguousFields()
	if key != "" {
		rt.Metadata.Put(key, ms)
	}
	return ms, nil
}

// imagingTargets derives one target per TARGET field per science spw.
func imagingTargets(ms domain.MeasurementSet) []pipeline.ImagingTarget {
	var out []pipeline.ImagingTarget
	for _, f := range ms.FieldsByIntent("TARGET") {
		for _, spw := range ms.ScienceSpws() {
			out = append(out, pipeline.ImagingTarget{
				MS:    ms.Name,
				Field: f.CASAName(),
				Spw:   strconv.Itoa(spw.ID),
				Name:  fmt.Sprintf("%s.%s.spw%d", msBase(ms.Name), sanitizeName(f.Name), spw.ID),
			})
		}
	}
	return out
}
