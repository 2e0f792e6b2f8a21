package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"radiopipe/internal/casa/casatest"
	"radiopipe/internal/pipeline"
	"radiopipe/internal/procedure"
	"radiopipe/internal/safeio"
	"radiopipe/internal/task"
)

// counterSpec is the smallest possible task: it bumps one run total per
// stage, which makes the whole merge/checkpoint/resume path observable as a
// single integer.
func counterSpec() task.Spec {
	return task.Spec{
		Key:         "count",
		Description: "bump the ticks counter",
		BuildInputs: func(_ context.Context, _ *task.Runtime, params map[string]any) (task.Inputs, error) {
			return task.Inputs{Params: params}, nil
		},
		Execute: func(_ context.Context, _ *task.Runtime, _ task.Inputs) (task.Execution, error) {
			return task.Execution{
				Outcome: pipeline.CounterDelta{Key: "ticks", Delta: 1},
				QA:      []pipeline.QAScore{{Value: 1, Shortmsg: "ok"}},
			}, nil
		},
	}
}

func boomSpec() task.Spec {
	return task.Spec{
		Key:         "boom",
		Description: "always fails",
		BuildInputs: func(_ context.Context, _ *task.Runtime, _ map[string]any) (task.Inputs, error) {
			return task.Inputs{}, nil
		},
		Execute: func(_ context.Context, _ *task.Runtime, _ task.Inputs) (task.Execution, error) {
			return task.Execution{}, errors.New("scripted failure")
		},
	}
}

func testRegistry() task.Resolver {
	return task.NewResolver(counterSpec(), boomSpec())
}

func counterProc(n int) procedure.Procedure {
	p := procedure.Procedure{Name: "counting"}
	for i := 0; i < n; i++ {
		p.Steps = append(p.Steps, procedure.Step{Task: "count"})
	}
	return p
}

func newRuntime(t *testing.T, name string) *task.Runtime {
	t.Helper()
	work, err := safeio.NewWorkDir(t.TempDir())
	if err != nil {
		t.Fatalf("workdir: %v", err)
	}
	c := pipeline.NewContext(name, "uid://A001/X1/X2", work.Root())
	c.RunID = "fixed-run-id"
	return &task.Runtime{Context: c, Gateway: casatest.New(), Work: work}
}

func TestCounterRunAndResume(t *testing.T) {
	rt := newRuntime(t, "ctx")
	e := &Executor{
		Registry: testRegistry(),
		Runtime:  rt,
		Options:  procedure.Options{LogLevel: "debug"},
	}
	if err := e.Run(context.Background(), counterProc(5)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rt.Context.Totals["ticks"] != 5 {
		t.Fatalf("ticks=%d", rt.Context.Totals["ticks"])
	}
	if rt.Context.Stage() != 5 {
		t.Fatalf("stage=%d", rt.Context.Stage())
	}

	// load the stage-5 checkpoint and run one more stage on top of it
	loaded, err := Resume(rt.Work, "ctx", 0)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if loaded.Stage() != 5 {
		t.Fatalf("loaded stage=%d", loaded.Stage())
	}
	rt2 := &task.Runtime{Context: loaded, Gateway: casatest.New(), Work: rt.Work}
	e2 := &Executor{Registry: testRegistry(), Runtime: rt2}
	if err := e2.Run(context.Background(), counterProc(6)); err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if loaded.Totals["ticks"] != 6 {
		t.Fatalf("ticks after resume=%d", loaded.Totals["ticks"])
	}
}

func TestResumeEqualsUninterruptedRun(t *testing.T) {
	full := newRuntime(t, "full")
	if err := (&Executor{Registry: testRegistry(), Runtime: full, Options: procedure.Options{LogLevel: "debug"}}).
		Run(context.Background(), counterProc(3)); err != nil {
		t.Fatalf("uninterrupted run: %v", err)
	}

	broken := newRuntime(t, "broken")
	e := &Executor{
		Registry: testRegistry(),
		Runtime:  broken,
		Options:  procedure.Options{ExitStage: 2, LogLevel: "debug"},
	}
	if err := e.Run(context.Background(), counterProc(3)); err != nil {
		t.Fatalf("partial run: %v", err)
	}
	loaded, err := Resume(broken.Work, "broken", 2)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	rt2 := &task.Runtime{Context: loaded, Gateway: casatest.New(), Work: broken.Work}
	if err := (&Executor{Registry: testRegistry(), Runtime: rt2}).
		Run(context.Background(), counterProc(3)); err != nil {
		t.Fatalf("resumed run: %v", err)
	}

	if loaded.Totals["ticks"] != full.Context.Totals["ticks"] {
		t.Fatalf("ticks: resumed=%d uninterrupted=%d", loaded.Totals["ticks"], full.Context.Totals["ticks"])
	}
	if loaded.Stage() != full.Context.Stage() {
		t.Fatalf("stage: resumed=%d uninterrupted=%d", loaded.Stage(), full.Context.Stage())
	}
	for i := range loaded.History {
		if loaded.History[i].Task != full.Context.History[i].Task ||
			loaded.History[i].Stage != full.Context.History[i].Stage {
			t.Fatalf("history diverges at %d", i)
		}
	}
}

func TestFailureLeavesLastMergedContextOnDisk(t *testing.T) {
	rt := newRuntime(t, "ctx")
	e := &Executor{Registry: testRegistry(), Runtime: rt}
	proc := procedure.Procedure{Name: "p", Steps: []procedure.Step{
		{Task: "count"}, {Task: "boom"}, {Task: "count"},
	}}
	if err := e.Run(context.Background(), proc); err == nil {
		t.Fatal("expected the run to fail at stage 2")
	}
	loaded, err := pipeline.LoadContext(rt.Work, "ctx", 1)
	if err != nil {
		t.Fatalf("stage-1 context missing: %v", err)
	}
	if loaded.Stage() != 1 || loaded.Totals["ticks"] != 1 {
		t.Fatalf("loaded stage=%d ticks=%d", loaded.Stage(), loaded.Totals["ticks"])
	}
	if _, err := pipeline.LoadContext(rt.Work, "ctx", 2); err == nil {
		t.Fatal("stage 2 must not have been checkpointed")
	}
}

func TestEventFeedOrder(t *testing.T) {
	rt := newRuntime(t, "ctx")
	var types []EventType
	e := &Executor{
		Registry: testRegistry(),
		Runtime:  rt,
		Events: SinkFunc(func(ev Event) {
			types = append(types, ev.Type)
			if ev.RunID != "fixed-run-id" {
				t.Errorf("event without run id: %+v", ev)
			}
		}),
	}
	if err := e.Run(context.Background(), counterProc(1)); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []EventType{
		EventStageStart,
		EventPhase, EventPhase, EventPhase, EventPhase, // constructed..analysed
		EventPhase, // merged
		EventStageDone,
		EventRunDone,
	}
	if len(types) != len(want) {
		t.Fatalf("events=%v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: got %s want %s", i, types[i], want[i])
		}
	}
}

func TestMetricsCountFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	rt := newRuntime(t, "ctx")
	e := &Executor{Registry: testRegistry(), Runtime: rt, Metrics: m}
	proc := procedure.Procedure{Name: "p", Steps: []procedure.Step{{Task: "boom"}}}
	if err := e.Run(context.Background(), proc); err == nil {
		t.Fatal("expected failure")
	}
	if got := testutil.ToFloat64(m.StageFailures.WithLabelValues("boom")); got != 1 {
		t.Fatalf("stage_failures=%v", got)
	}
	if got := testutil.ToFloat64(m.RunsStarted); got != 1 {
		t.Fatalf("runs_started=%v", got)
	}
	if got := testutil.ToFloat64(m.RunsCompleted); got != 0 {
		t.Fatalf("runs_completed=%v", got)
	}
}

func TestRunRejectsBadStageBounds(t *testing.T) {
	rt := newRuntime(t, "ctx")
	e := &Executor{
		Registry: testRegistry(),
		Runtime:  rt,
		Options:  procedure.Options{StartStage: 9},
	}
	if err := e.Run(context.Background(), counterProc(3)); err == nil {
		t.Fatal("expected a stage-bounds error")
	}
}
