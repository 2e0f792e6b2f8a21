package domain

import "testing"

func testMS() MeasurementSet {
	ms := MeasurementSet{
		Name: "uid___A002_X1.ms",
		Path: "uid___A002_X1.ms",
		Fields: []Field{
			{ID: 0, Name: "J1924-2914", Intents: []string{"BANDPASS", "PHASE"}},
			{ID: 1, Name: "Titan", Intents: []string{"AMPLITUDE"}},
			{ID: 2, Name: "NGC3256", Intents: []string{"TARGET"}},
			{ID: 3, Name: "NGC3256", Intents: []string{"TARGET"}},
			{ID: 4, Name: "weird;name", Intents: []string{"TARGET"}},
		},
	}
	ms.MarkAmbiguousFields()
	return ms
}

func TestCASANameAmbiguity(t *testing.T) {
	ms := testMS()
	if got := ms.Fields[0].CASAName(); got != "J1924-2914" {
		t.Fatalf("unique name: got=%s", got)
	}
	// duplicated name falls back to numeric ID
	if got := ms.Fields[2].CASAName(); got != "2" {
		t.Fatalf("duplicate name: got=%s want=2", got)
	}
	if got := ms.Fields[3].CASAName(); got != "3" {
		t.Fatalf("duplicate name: got=%s want=3", got)
	}
	// selection metacharacters force the ID too
	if got := ms.Fields[4].CASAName(); got != "4" {
		t.Fatalf("unsafe name: got=%s want=4", got)
	}
}

func TestFieldSelectorFromIntent(t *testing.T) {
	ms := testMS()
	if got := ms.FieldSelector("BANDPASS"); got != "J1924-2914" {
		t.Fatalf("bandpass selector: got=%s", got)
	}
	if got := ms.FieldSelector("TARGET"); got != "2,3,4" {
		t.Fatalf("target selector: got=%s", got)
	}
	if got := ms.FieldSelector("POLARIZATION"); got != "" {
		t.Fatalf("missing intent: got=%q want empty", got)
	}
}

func TestObservingRunAddReplaces(t *testing.T) {
	var run ObservingRun
	run.Add(MeasurementSet{Name: "a.ms", Project: "p1"})
	run.Add(MeasurementSet{Name: "b.ms"})
	run.Add(MeasurementSet{Name: "a.ms", Project: "p2"})
	if len(run.MeasurementSets) != 2 {
		t.Fatalf("expected 2 MSes, got %d", len(run.MeasurementSets))
	}
	ms, ok := run.Get("a.ms")
	if !ok || ms.Project != "p2" {
		t.Fatalf("replace did not stick: %+v ok=%v", ms, ok)
	}
	if got := run.Names(); got[0] != "a.ms" || got[1] != "b.ms" {
		t.Fatalf("names order: %v", got)
	}
}

func TestMetadataCache(t *testing.T) {
	c, err := NewMetadataCache(2)
	if err != nil {
		t.Fatal(err)
	}
	c.Put("k1", MeasurementSet{Name: "a.ms"})
	if got, ok := c.Get("k1"); !ok || got.Name != "a.ms" {
		t.Fatalf("cache miss: %+v ok=%v", got, ok)
	}
	if _, ok := c.Get("k2"); ok {
		t.Fatal("unexpected hit")
	}
}
