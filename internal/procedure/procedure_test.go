package procedure

import (
	"testing"
	"testing/fstest"

	"radiopipe/internal/task"
)

const calImagingYAML = `
name: cal-imaging
steps:
  - task: importdata
    params:
      vis: [data/one.ms]
  - task: flagdeterministic
  - task: bandpass
    params:
      solint: inf
  - task: gaincal
  - task: applycal
  - task: makeimages
  - task: exportproducts
`

func TestParseProcedure(t *testing.T) {
	p, err := Parse([]byte(calImagingYAML), task.DefaultRegistry())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Name != "cal-imaging" {
		t.Fatalf("name=%s", p.Name)
	}
	if len(p.Steps) != 7 {
		t.Fatalf("steps=%d", len(p.Steps))
	}
	if p.Steps[2].Params["solint"] != "inf" {
		t.Fatalf("solint=%v", p.Steps[2].Params["solint"])
	}
}

func TestParseRejectsUnknownTask(t *testing.T) {
	doc := "name: bad\nsteps:\n  - task: defragulate\n"
	if _, err := Parse([]byte(doc), task.DefaultRegistry()); err == nil {
		t.Fatal("expected an unknown-task error")
	}
}

func TestParseRejectsEmptySteps(t *testing.T) {
	if _, err := Parse([]byte("name: empty\nsteps: []\n"), task.DefaultRegistry()); err == nil {
		t.Fatal("expected an error for a procedure without steps")
	}
}

func TestLoadFromTemplateDir(t *testing.T) {
	fsys := fstest.MapFS{
		"cal-imaging.yaml": {Data: []byte(calImagingYAML)},
	}
	p, err := Load(fsys, "cal-imaging", task.DefaultRegistry())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(p.Steps) != 7 {
		t.Fatalf("steps=%d", len(p.Steps))
	}
	if _, err := Load(fsys, "missing", task.DefaultRegistry()); err == nil {
		t.Fatal("expected an error for a missing template")
	}
}

func TestOptionsValidate(t *testing.T) {
	p := Procedure{Name: "p", Steps: []Step{{Task: "a"}, {Task: "b"}, {Task: "c"}}}
	cases := []struct {
		opts Options
		ok   bool
	}{
		{Options{}, true},
		{Options{StartStage: 2, ExitStage: 3}, true},
		{Options{StartStage: 3, ExitStage: 2}, false},
		{Options{StartStage: 4}, false},
		{Options{ExitStage: 9}, false},
	}
	for i, tc := range cases {
		err := tc.opts.Validate(p)
		if tc.ok && err != nil {
			t.Fatalf("case %d: unexpected error %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d: expected an error", i)
		}
	}
}
