package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"radiopipe/internal/executor"
)

// Recorder translates executor lifecycle events into ledger rows. It is an
// executor.Sink; a store error is logged and dropped so bookkeeping can
// never take a run down.
type Recorder struct {
	Store Store
	Log   *zap.Logger

	// Template pre-fills the run row fields the event feed does not carry
	// (project code, procedure name).
	Template Run

	mu      sync.Mutex
	started bool
}

func (r *Recorder) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

// Publish implements executor.Sink.
func (r *Recorder) Publish(ev executor.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch ev.Type {
	case executor.EventStageStart:
		r.mu.Lock()
		first := !r.started
		r.started = true
		r.mu.Unlock()
		if !first {
			return
		}
		run := r.Template
		run.RunID = ev.RunID
		run.Context = ev.Context
		run.Status = StatusRunning
		run.StartedAt = ev.Time
		r.record("run", r.Store.RecordRun(ctx, run))

	case executor.EventStageDone:
		r.record("stage", r.Store.RecordStage(ctx, StageRow{
			RunID:   ev.RunID,
			Stage:   ev.Stage,
			Task:    ev.Task,
			Status:  StatusCompleted,
			QAScore: ev.QAScore,
			EndedAt: ev.Time,
		}))

	case executor.EventStageFailed:
		r.record("stage", r.Store.RecordStage(ctx, StageRow{
			RunID:   ev.RunID,
			Stage:   ev.Stage,
			Task:    ev.Task,
			Status:  StatusFailed,
			Error:   ev.Error,
			EndedAt: ev.Time,
		}))

	case executor.EventRunDone, executor.EventRunFailed:
		run := r.Template
		run.RunID = ev.RunID
		run.Context = ev.Context
		run.Status = StatusCompleted
		if ev.Type == executor.EventRunFailed {
			run.Status = StatusFailed
		}
		run.EndedAt = ev.Time
		r.record("run", r.Store.RecordRun(ctx, run))
	}
}

func (r *Recorder) record(what string, err error) {
	if err != nil {
		r.logger().Warn("ledger write failed", zap.String("record", what), zap.Error(err))
	}
}

var _ executor.Sink = (*Recorder)(nil)
