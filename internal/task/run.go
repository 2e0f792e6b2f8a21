package task

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"radiopipe/internal/pipeline"
)

// Run drives one task invocation through its state machine and returns the
// analysed Results, ready for the caller to merge. onPhase, when non-nil, is
// notified at each transition (the executor forwards it to the event feed).
// An error aborts the invocation; the Context has not been touched.
func Run(ctx context.Context, spec Spec, rt *Runtime, stage int, params map[string]any, onPhase func(Phase)) (*pipeline.Results, error) {
	notify := func(p Phase) {
		if onPhase != nil {
			onPhase(p)
		}
	}
	log := rt.Logger().With(zap.String("task", spec.Key), zap.Int("stage", stage))

	start := time.Now().UTC()
	in, err := spec.BuildInputs(ctx, rt, params)
	if err != nil {
		return nil, fmt.Errorf("task %s: build inputs: %w", spec.Key, err)
	}
	if len(in.Vis) == 0 {
		in.Vis = rt.Context.ObservingRun.Names()
	}
	notify(PhaseConstructed)

	if spec.Prepare != nil {
		if err := spec.Prepare(ctx, rt, &in); err != nil {
			return nil, fmt.Errorf("task %s: prepare: %w", spec.Key, err)
		}
	}
	notify(PhasePrepared)

	exec, err := spec.Execute(ctx, rt, in)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", spec.Key, err)
	}
	notify(PhaseExecuted)

	res := &pipeline.Results{
		Task:     spec.Key,
		Stage:    stage,
		Start:    start,
		End:      time.Now().UTC(),
		Failures: exec.Failures,
		Outcome:  exec.Outcome,
	}
	res.QA.Add(exec.QA...)
	if len(exec.Failures) > 0 {
		log.Warn("task completed with per-item failures", zap.Int("failed", len(exec.Failures)))
	}
	notify(PhaseAnalysed)
	return res, nil
}

// forEachMS applies fn to each measurement set of a batch. With isolation,
// a failing MS is recorded and excluded while the batch continues; without
// it, the first error aborts the whole task.
func forEachMS(isolate bool, vis []string, fn func(vis string) error) (ok []string, failures []pipeline.ItemFailure, err error) {
	for _, v := range vis {
		if ferr := fn(v); ferr != nil {
			if !isolate {
				return nil, nil, ferr
			}
			failures = append(failures, pipeline.ItemFailure{Item: v, Message: ferr.Error()})
			continue
		}
		ok = append(ok, v)
	}
	return ok, failures, nil
}

// batchQA summarizes a batch: full score when everything succeeded, degraded
// per failed item, zero when nothing survived.
func batchQA(total, failed int, what string) pipeline.QAScore {
	switch {
	case total == 0:
		return pipeline.QAScore{Value: 0, Shortmsg: "empty batch", Longmsg: "no " + what + " to process"}
	case failed == 0:
		return pipeline.QAScore{Value: 1, Shortmsg: "ok"}
	case failed >= total:
		return pipeline.QAScore{
			Value:    0,
			Shortmsg: "all failed",
			Longmsg:  fmt.Sprintf("all %d %s failed", total, what),
		}
	default:
		return pipeline.QAScore{
			Value:    1 - float64(failed)/float64(total),
			Shortmsg: "partial failure",
			Longmsg:  fmt.Sprintf("%d of %d %s failed and were excluded", failed, total, what),
		}
	}
}
