package task

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"radiopipe/internal/pipeline"
	"radiopipe/internal/products"
)

// exportProductsSpec collects the run's deliverables (calibration tables,
// FITS images, the product manifest) and uploads them to the product store.
// With no store configured the manifest is still written locally. A file
// that cannot be exported is recorded and skipped.
func exportProductsSpec() Spec {
	return Spec{
		Key:         "exportproducts",
		Description: "export calibration tables, images and the manifest",
		BuildInputs: func(_ context.Context, _ *Runtime, params map[string]any) (Inputs, error) {
			return Inputs{Vis: paramStringSlice(params, "vis"), Params: params}, nil
		},
		Execute: func(ctx context.Context, rt *Runtime, in Inputs) (Execution, error) {
			if rt.Work == nil {
				return Execution{}, fmt.Errorf("working directory not configured")
			}
			paths := productPaths(rt.Context)

			var (
				entries  []pipeline.ProductEntry
				failures []pipeline.ItemFailure
			)
			for _, p := range paths {
				entry, err := exportOne(ctx, rt, p)
				if err != nil {
					failures = append(failures, pipeline.ItemFailure{Item: p, Message: err.Error()})
					continue
				}
				entries = append(entries, entry)
			}

			manifestPath := "products/manifest.json"
			manifest, err := json.MarshalIndent(struct {
				RunID   string                  `json:"run_id"`
				Project string                  `json:"project,omitempty"`
				Entries []pipeline.ProductEntry `json:"entries"`
			}{RunID: rt.Context.RunID, Project: rt.Context.ProjectCode, Entries: entries}, "", "  ")
			if err != nil {
				return Execution{}, fmt.Errorf("encode manifest: %w", err)
			}
			if err := rt.Work.WriteFileAtomic(manifestPath, manifest); err != nil {
				return Execution{}, fmt.Errorf("write manifest: %w", err)
			}
			manifestEntry := pipeline.ProductEntry{Path: manifestPath, SizeBytes: int64(len(manifest))}
			if rt.Products != nil {
				if err := rt.Products.Put(ctx, rt.Context.RunID, manifestPath, manifest); err != nil {
					return Execution{}, fmt.Errorf("upload manifest: %w", err)
				}
				manifestEntry.Remote = products.ObjectKey(rt.Context.RunID, manifestPath)
			}
			entries = append(entries, manifestEntry)

			rt.Logger().Info("products exported",
				zap.Int("exported", len(entries)),
				zap.Int("failed", len(failures)))
			return Execution{
				Outcome:  pipeline.ProductManifest{Entries: entries},
				QA:       []pipeline.QAScore{batchQA(len(paths)+1, len(failures), "products")},
				Failures: failures,
			}, nil
		},
	}
}

// productPaths enumerates the deliverable files of a run in a stable order:
// calibration tables first, then FITS images.
func productPaths(c *pipeline.Context) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, app := range c.CalLibrary.Applications {
		add(app.CalTable)
	}
	for _, img := range c.Images {
		add(img.Fitsimage)
	}
	return out
}

func exportOne(ctx context.Context, rt *Runtime, p string) (pipeline.ProductEntry, error) {
	info, err := rt.Work.Stat(p)
	if err != nil {
		return pipeline.ProductEntry{}, err
	}
	entry := pipeline.ProductEntry{Path: p, SizeBytes: info.Size()}
	if rt.Products == nil {
		return entry, nil
	}
	data, err := rt.Work.ReadFile(p)
	if err != nil {
		return pipeline.ProductEntry{}, err
	}
	if err := rt.Products.Put(ctx, rt.Context.RunID, p, data); err != nil {
		return pipeline.ProductEntry{}, err
	}
	entry.Remote = products.ObjectKey(rt.Context.RunID, p)
	return entry, nil
}
