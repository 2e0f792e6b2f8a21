// Package executor drives a procedure through its stages: resolve the task,
// run it, merge its Results into the run Context, checkpoint, move on. Break
// and resume happen at stage boundaries only; a fatal error stops the run
// with the last merged context on disk.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"radiopipe/internal/pipeline"
	"radiopipe/internal/procedure"
	"radiopipe/internal/safeio"
	"radiopipe/internal/task"
)

// Executor runs procedures against one Runtime.
type Executor struct {
	Registry task.Resolver
	Runtime  *task.Runtime
	Events   Sink     // optional
	Metrics  *Metrics // optional
	Options  procedure.Options
}

// Run executes proc from the configured start stage through the exit stage.
// Stages are numbered from 1 in step order; with no overrides the run picks
// up after the context's last merged stage, which is what makes a loaded
// checkpoint resume where it left off.
func (e *Executor) Run(ctx context.Context, proc procedure.Procedure) error {
	c := e.Runtime.Context
	if c == nil {
		return fmt.Errorf("executor: no context")
	}
	if err := e.Options.Validate(proc); err != nil {
		return err
	}
	start := e.Options.StartStage
	if start <= 0 {
		start = c.Stage() + 1
	}
	exit := e.Options.ExitStage
	if exit <= 0 {
		exit = len(proc.Steps)
	}
	log := e.Runtime.Logger().With(
		zap.String("context", c.Name),
		zap.String("run_id", c.RunID),
		zap.String("procedure", proc.Name),
	)
	log.Info("run starting", zap.Int("start_stage", start), zap.Int("exit_stage", exit))
	if e.Metrics != nil {
		e.Metrics.RunsStarted.Inc()
	}

	for stage := start; stage <= exit; stage++ {
		step := proc.Steps[stage-1]
		spec, ok := e.Registry.Get(step.Task)
		if !ok {
			return e.fail(log, stage, step.Task, fmt.Errorf("executor: unknown task %q", step.Task))
		}
		e.publish(Event{Type: EventStageStart, Stage: stage, Task: spec.Key})

		began := time.Now()
		res, err := task.Run(ctx, spec, e.Runtime, stage, step.Params, func(p task.Phase) {
			e.publish(Event{Type: EventPhase, Stage: stage, Task: spec.Key, Phase: p})
		})
		if err != nil {
			return e.fail(log, stage, spec.Key, err)
		}
		if err := c.Merge(res); err != nil {
			return e.fail(log, stage, spec.Key, fmt.Errorf("merge: %w", err))
		}
		e.publish(Event{Type: EventPhase, Stage: stage, Task: spec.Key, Phase: task.PhaseMerged})

		if err := e.checkpoint(c, res); err != nil {
			return e.fail(log, stage, spec.Key, err)
		}

		qa, _ := res.QA.Representative()
		if e.Metrics != nil {
			e.Metrics.StageDuration.WithLabelValues(spec.Key).Observe(time.Since(began).Seconds())
			e.Metrics.StageQA.WithLabelValues(spec.Key).Set(qa.Value)
		}
		e.publish(Event{Type: EventStageDone, Stage: stage, Task: spec.Key, QAScore: qa.Value})
		log.Info("stage complete",
			zap.Int("stage", stage),
			zap.String("task", spec.Key),
			zap.Float64("qa", qa.Value),
			zap.Duration("took", time.Since(began)))
	}

	if e.Metrics != nil {
		e.Metrics.RunsCompleted.Inc()
	}
	e.publish(Event{Type: EventRunDone, Stage: exit})
	return nil
}

// checkpoint persists state after a merge. The context snapshot is always
// written so a crash never loses more than the stage in flight; the
// per-stage result pair is kept only at debug/trace log levels.
func (e *Executor) checkpoint(c *pipeline.Context, res *pipeline.Results) error {
	work := e.Runtime.Work
	if work == nil {
		return nil
	}
	if e.stageCheckpoints(c) {
		if err := pipeline.SaveStage(work, c, res); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		return nil
	}
	if err := pipeline.SaveContext(work, c); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func (e *Executor) stageCheckpoints(c *pipeline.Context) bool {
	level := e.Options.LogLevel
	if level == "" {
		level = c.LogLevel
	}
	return level == "debug" || level == "trace"
}

func (e *Executor) fail(log *zap.Logger, stage int, key string, err error) error {
	if e.Metrics != nil {
		e.Metrics.StageFailures.WithLabelValues(key).Inc()
	}
	e.publish(Event{Type: EventStageFailed, Stage: stage, Task: key, Error: err.Error()})
	e.publish(Event{Type: EventRunFailed, Stage: stage, Error: err.Error()})
	log.Error("stage failed", zap.Int("stage", stage), zap.String("task", key), zap.Error(err))
	return fmt.Errorf("executor: stage %d (%s): %w", stage, key, err)
}

func (e *Executor) publish(ev Event) {
	if e.Events == nil {
		return
	}
	ev.Time = time.Now().UTC()
	if c := e.Runtime.Context; c != nil {
		ev.RunID = c.RunID
		ev.Context = c.Name
	}
	e.Events.Publish(ev)
}

// Resume loads a context checkpoint to continue a broken run. With stage <= 0
// the highest checkpointed stage is used. The caller runs the same procedure
// again; the loaded history makes the executor pick up at the next stage.
func Resume(work *safeio.WorkDir, name string, stage int) (*pipeline.Context, error) {
	if stage <= 0 {
		latest, err := pipeline.LatestStage(work, name)
		if err != nil {
			return nil, err
		}
		stage = latest
	}
	return pipeline.LoadContext(work, name, stage)
}
