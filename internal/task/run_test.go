package task

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"radiopipe/internal/casa/casatest"
	"radiopipe/internal/domain"
	"radiopipe/internal/pipeline"
)

func testMS(name string) domain.MeasurementSet {
	ms := domain.MeasurementSet{
		Name: name,
		Path: "data/" + name,
		Fields: []domain.Field{
			{ID: 0, Name: "J1331+3030", Intents: []string{"BANDPASS", "FLUX"}},
			{ID: 1, Name: "J1224+0330", Intents: []string{"PHASE"}},
			{ID: 2, Name: "NGC5194", Intents: []string{"TARGET"}},
		},
		SpectralWindows: []domain.SpectralWindow{
			{ID: 0, NumChannels: 64, Intents: []string{"TARGET"}},
		},
	}
	ms.MarkAmbiguousFields()
	return ms
}

func newTestContext(mses ...domain.MeasurementSet) *pipeline.Context {
	c := pipeline.NewContext("test", "uid://A001/X1/X2", "/tmp/out")
	for _, ms := range mses {
		c.ObservingRun.Add(ms)
	}
	return c
}

func TestRunWalksPhases(t *testing.T) {
	fake := casatest.New()
	c := newTestContext(testMS("one.ms"))
	rt := &Runtime{Context: c, Gateway: fake, Tier0Workers: 2}

	var phases []Phase
	res, err := Run(context.Background(), flagDeterministicSpec(), rt, 1, nil, func(p Phase) {
		phases = append(phases, p)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []Phase{PhaseConstructed, PhasePrepared, PhaseExecuted, PhaseAnalysed}
	if len(phases) != len(want) {
		t.Fatalf("phases=%v", phases)
	}
	for i, p := range want {
		if phases[i] != p {
			t.Fatalf("phase %d: got %s want %s", i, phases[i], p)
		}
	}

	if err := c.Merge(res); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if c.Stage() != 1 {
		t.Fatalf("stage=%d", c.Stage())
	}
}

func TestRunDefaultsVisToObservingRun(t *testing.T) {
	fake := casatest.New()
	c := newTestContext(testMS("one.ms"), testMS("two.ms"))
	rt := &Runtime{Context: c, Gateway: fake}

	if _, err := Run(context.Background(), flagDeterministicSpec(), rt, 1, nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := fake.CallsFor("flagdata"); n != 2 {
		t.Fatalf("flagdata calls=%d", n)
	}
}

func TestPerMSIsolationSkipsAndContinues(t *testing.T) {
	fake := casatest.New()
	fake.FlagFraction = 0.1
	fake.Fail["flagdata:data/two.ms"] = errors.New("corrupt table")
	c := newTestContext(testMS("one.ms"), testMS("two.ms"), testMS("three.ms"))
	rt := &Runtime{Context: c, Gateway: fake}

	res, err := Run(context.Background(), flagDeterministicSpec(), rt, 1, nil, nil)
	if err != nil {
		t.Fatalf("isolated task must not fail the stage: %v", err)
	}
	if len(res.Failures) != 1 || res.Failures[0].Item != "two.ms" {
		t.Fatalf("failures=%v", res.Failures)
	}
	if err := c.Merge(res); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, ok := c.FlagTotals["one.ms"]; !ok {
		t.Fatal("surviving MS missing from flag totals")
	}
	if _, ok := c.FlagTotals["two.ms"]; ok {
		t.Fatal("failed MS must not contribute flag totals")
	}
	if _, ok := c.FlagTotals["three.ms"]; !ok {
		t.Fatal("batch did not continue past the failing MS")
	}
}

func TestNoIsolationPropagatesAndLeavesContextUntouched(t *testing.T) {
	fake := casatest.New()
	fake.Fail["bandpass:data/two.ms"] = errors.New("solve diverged")
	c := newTestContext(testMS("one.ms"), testMS("two.ms"))
	rt := &Runtime{Context: c, Gateway: fake}

	before, err := c.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, err := Run(context.Background(), bandpassSpec(), rt, 1, nil, nil); err == nil {
		t.Fatal("expected the solve failure to abort the task")
	}
	after, err := c.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("failed task modified the context")
	}
	if c.Stage() != 0 {
		t.Fatalf("stage=%d", c.Stage())
	}
}

func TestImportdataRegistersAndSeedsTargets(t *testing.T) {
	fake := casatest.New()
	fake.AddMS(testMS("one.ms"))
	fake.AddMS(testMS("two.ms"))
	c := newTestContext()
	rt := &Runtime{Context: c, Gateway: fake}

	params := map[string]any{"vis": []string{"data/one.ms", "data/two.ms"}}
	res, err := Run(context.Background(), importdataSpec(), rt, 1, params, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := c.Merge(res); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := len(c.ObservingRun.MeasurementSets); got != 2 {
		t.Fatalf("registered %d MSes", got)
	}
	// one TARGET field x one science spw per MS
	if got := len(c.PendingTargets); got != 2 {
		t.Fatalf("pending targets=%d", got)
	}
	if c.Totals["ms_imported"] != 2 {
		t.Fatalf("ms_imported=%d", c.Totals["ms_imported"])
	}
}

func TestImportdataRequiresVis(t *testing.T) {
	rt := &Runtime{Context: newTestContext(), Gateway: casatest.New()}
	if _, err := Run(context.Background(), importdataSpec(), rt, 1, nil, nil); err == nil {
		t.Fatal("expected an error without a vis parameter")
	}
}

func TestImportdataIsolatesBadMS(t *testing.T) {
	fake := casatest.New()
	fake.AddMS(testMS("one.ms"))
	c := newTestContext()
	rt := &Runtime{Context: c, Gateway: fake}

	params := map[string]any{"vis": []string{"data/one.ms", "data/missing.ms"}}
	res, err := Run(context.Background(), importdataSpec(), rt, 1, params, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Failures) != 1 || res.Failures[0].Item != "data/missing.ms" {
		t.Fatalf("failures=%v", res.Failures)
	}
	if err := c.Merge(res); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := len(c.ObservingRun.MeasurementSets); got != 1 {
		t.Fatalf("registered %d MSes", got)
	}
}

func TestBandpassDefaultsFieldByIntent(t *testing.T) {
	fake := casatest.New()
	c := newTestContext(testMS("one.ms"))
	rt := &Runtime{Context: c, Gateway: fake}

	res, err := Run(context.Background(), bandpassSpec(), rt, 1, nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := c.Merge(res); err != nil {
		t.Fatalf("merge: %v", err)
	}
	apps := c.CalLibrary.ApplicableTo(pipeline.CalSelection{MS: "one.ms"})
	if len(apps) != 1 || apps[0].CalType != "bandpass" {
		t.Fatalf("applications=%v", apps)
	}
	if apps[0].CalTable != "one.bcal" {
		t.Fatalf("caltable=%s", apps[0].CalTable)
	}
}

func TestFluxscaleRequiresGainTable(t *testing.T) {
	fake := casatest.New()
	c := newTestContext(testMS("one.ms"))
	rt := &Runtime{Context: c, Gateway: fake}

	if _, err := Run(context.Background(), fluxscaleSpec(), rt, 1, nil, nil); err == nil {
		t.Fatal("expected fluxscale to fail without a prior gain table")
	}
}

func TestApplycalAppliesLibrary(t *testing.T) {
	fake := casatest.New()
	fake.FlagFraction = 0.2
	c := newTestContext(testMS("one.ms"))
	c.CalLibrary.Add(
		pipeline.CalApplication{CalTable: "one.tsys", CalType: "tsys", Selection: pipeline.CalSelection{MS: "one.ms"}, Calwt: true},
		pipeline.CalApplication{CalTable: "one.bcal", CalType: "bandpass", Selection: pipeline.CalSelection{MS: "one.ms"}},
	)
	rt := &Runtime{Context: c, Gateway: fake}

	res, err := Run(context.Background(), applycalSpec(), rt, 1, nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := c.Merge(res); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := c.FlagTotals["one.ms"]; got != 0.2 {
		t.Fatalf("flag total=%v", got)
	}
}

func TestApplycalFailsPerMSWithoutLibrary(t *testing.T) {
	fake := casatest.New()
	c := newTestContext(testMS("one.ms"))
	rt := &Runtime{Context: c, Gateway: fake}

	res, err := Run(context.Background(), applycalSpec(), rt, 1, nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("failures=%v", res.Failures)
	}
	if n := fake.CallsFor("applycal"); n != 0 {
		t.Fatalf("applycal calls=%d", n)
	}
}
