package safeio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveRejectsTraversal(t *testing.T) {
	w, err := NewWorkDir(t.TempDir())
	if err != nil {
		t.Fatalf("new workdir: %v", err)
	}
	for _, bad := range []string{"..", "../x", "a/../../x", ""} {
		if _, err := w.Resolve(bad); err == nil {
			t.Fatalf("Resolve(%q): expected error", bad)
		}
	}
	if _, err := w.Resolve("saved_state/context-stage3.json"); err != nil {
		t.Fatalf("relative resolve: %v", err)
	}
}

func TestResolveAbsoluteInsideRoot(t *testing.T) {
	root := t.TempDir()
	w, err := NewWorkDir(root)
	if err != nil {
		t.Fatalf("new workdir: %v", err)
	}
	inside := filepath.Join(w.Root(), "uid___A002.ms")
	if got, err := w.Resolve(inside); err != nil || got != inside {
		t.Fatalf("absolute inside root: got=%s err=%v", got, err)
	}
	if _, err := w.Resolve("/etc/passwd"); err == nil {
		t.Fatal("absolute outside root: expected error")
	}
}

func TestWriteFileAtomicRoundTrip(t *testing.T) {
	w, err := NewWorkDir(t.TempDir())
	if err != nil {
		t.Fatalf("new workdir: %v", err)
	}
	if err := w.WriteFileAtomic("saved_state/context-stage1.json", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := w.ReadFile("saved_state/context-stage1.json")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != `{"ok":true}` {
		t.Fatalf("round trip mismatch: %s", got)
	}
	// no temp file left behind
	entries, err := w.ReadDir("saved_state")
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("leftover temp file: %s", e.Name())
		}
	}
}

func TestNewWorkDirRequiresDirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewWorkDir(f); err == nil {
		t.Fatal("expected error for non-directory root")
	}
}
