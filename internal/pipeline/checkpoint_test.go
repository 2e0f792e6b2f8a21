package pipeline

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"radiopipe/internal/domain"
	"radiopipe/internal/safeio"
)

func newWork(t *testing.T) *safeio.WorkDir {
	t.Helper()
	w, err := safeio.NewWorkDir(t.TempDir())
	if err != nil {
		t.Fatalf("workdir: %v", err)
	}
	return w
}

// TestSaveLoadRoundTrip checks the round-trip law: a loaded context behaves
// exactly like the original under further merges and saves.
func TestSaveLoadRoundTrip(t *testing.T) {
	work := newWork(t)
	c := NewContext("pipeline-ctx", "2025.1.00123.S", work.Root())
	for i, r := range []*Results{
		importResults(1, "a.ms"),
		{Task: "tsyscal", Stage: 2, Outcome: CalApplicationList{Applications: []CalApplication{
			{CalTable: "a.tsys", CalType: "tsys", Selection: CalSelection{MS: "a.ms"}},
		}}},
	} {
		if err := c.Merge(r); err != nil {
			t.Fatalf("merge %d: %v", i, err)
		}
	}

	if err := SaveContext(work, c); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadContext(work, "pipeline-ctx", 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.Equal(loaded) {
		t.Fatal("loaded context differs from original")
	}

	// further merges behave identically on both
	next := func() *Results {
		return &Results{Task: "flagdeterministic", Stage: 3, Outcome: FlagSummary{PerMS: map[string]float64{"a.ms": 0.04}}}
	}
	if err := c.Merge(next()); err != nil {
		t.Fatal(err)
	}
	if err := loaded.Merge(next()); err != nil {
		t.Fatal(err)
	}
	if !c.Equal(loaded) {
		t.Fatal("contexts diverged after post-load merge")
	}

	// and a history entry restored from disk still refuses a re-merge
	if err := loaded.History[0].MergeWithContext(loaded); !errors.Is(err, ErrAlreadyMerged) {
		t.Fatalf("history re-merge: got %v", err)
	}
}

// TestResumeEqualsUninterrupted runs stages 1..3 straight through, and
// separately checkpoints at stage 2, reloads, and replays stage 3; both
// contexts must be indistinguishable.
func TestResumeEqualsUninterrupted(t *testing.T) {
	work := newWork(t)
	stageResults := func(stage int) *Results {
		switch stage {
		case 1:
			return importResults(1, "a.ms")
		case 2:
			return &Results{Task: "bandpass", Stage: 2, Outcome: CalApplicationList{Applications: []CalApplication{
				{CalTable: "a.bcal", CalType: "bandpass", Selection: CalSelection{MS: "a.ms"}},
			}}}
		default:
			return &Results{Task: "applycal", Stage: 3, Outcome: FlagSummary{PerMS: map[string]float64{"a.ms": 0.11}}}
		}
	}

	full := NewContext("full", "", work.Root())
	full.RunID = "run-1"
	for s := 1; s <= 3; s++ {
		if err := full.Merge(stageResults(s)); err != nil {
			t.Fatal(err)
		}
	}

	broken := NewContext("full", "", work.Root())
	broken.RunID = "run-1"
	for s := 1; s <= 2; s++ {
		if err := broken.Merge(stageResults(s)); err != nil {
			t.Fatal(err)
		}
	}
	if err := SaveContext(work, broken); err != nil {
		t.Fatal(err)
	}

	resumed, err := LoadContext(work, "full", 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := resumed.Merge(stageResults(3)); err != nil {
		t.Fatal(err)
	}
	if !full.Equal(resumed) {
		t.Fatal("resumed context differs from uninterrupted run")
	}
}

func TestLoadRejectsVersionMismatch(t *testing.T) {
	work := newWork(t)
	c := NewContext("vctx", "", work.Root())
	if err := SaveContext(work, c); err != nil {
		t.Fatal(err)
	}
	// rewrite the envelope with a bumped version
	raw, err := work.ReadFile("vctx/saved_state/context-stage0.json")
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(raw), `"format_version": 1`, `"format_version": 99`, 1)
	if tampered == string(raw) {
		t.Fatal("envelope did not contain expected version stamp")
	}
	if err := work.WriteFileAtomic("vctx/saved_state/context-stage0.json", []byte(tampered)); err != nil {
		t.Fatal(err)
	}
	_, err = LoadContext(work, "vctx", 0)
	if !errors.Is(err, ErrFormatVersion) {
		t.Fatalf("got %v, want ErrFormatVersion", err)
	}
}

func TestSaveStageWritesPairAndLatestStage(t *testing.T) {
	work := newWork(t)
	c := NewContext("pair", "", work.Root())
	r := importResults(1, "a.ms")
	if err := c.Merge(r); err != nil {
		t.Fatal(err)
	}
	if err := SaveStage(work, c, r); err != nil {
		t.Fatal(err)
	}
	got, err := LoadResults(work, "pair", 1)
	if err != nil {
		t.Fatalf("load results: %v", err)
	}
	if got.Task != "importdata" {
		t.Fatalf("task=%s", got.Task)
	}
	// the restored Results is replayable into a fresh context
	fresh := NewContext("pair2", "", work.Root())
	if err := fresh.Merge(got); err != nil {
		t.Fatalf("replay merge: %v", err)
	}

	n, err := LatestStage(work, "pair")
	if err != nil || n != 1 {
		t.Fatalf("latest stage: n=%d err=%v", n, err)
	}
}

func TestResultsJSONOutcomeEnvelope(t *testing.T) {
	r := &Results{Task: "gaincal", Stage: 4, Outcome: CalApplicationList{Applications: []CalApplication{
		{CalTable: "a.gcal", CalType: "gaincal", Selection: CalSelection{MS: "a.ms", Intent: "PHASE"}},
	}}}
	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var back Results
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	outcome, ok := back.Outcome.(CalApplicationList)
	if !ok {
		t.Fatalf("outcome type %T", back.Outcome)
	}
	if outcome.Applications[0].Selection.Intent != "PHASE" {
		t.Fatalf("outcome: %+v", outcome)
	}

	var unknown Results
	err = json.Unmarshal([]byte(`{"task":"x","stage":1,"outcome":{"kind":"mystery","data":{}}}`), &unknown)
	if err == nil {
		t.Fatal("expected error for unknown outcome kind")
	}
}

func TestImportSummaryRequiresNames(t *testing.T) {
	c := NewContext("ctx", "", "out")
	r := &Results{Task: "importdata", Stage: 1, Outcome: ImportSummary{MSes: []domain.MeasurementSet{{Path: "noname.ms"}}}}
	if err := c.Merge(r); err == nil {
		t.Fatal("expected error for unnamed MS")
	}
}
