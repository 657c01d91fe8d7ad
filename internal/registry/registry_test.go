package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadUnsupportedExtensionRecordsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.flac")
	if err := os.WriteFile(path, []byte("not real audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New()
	if err := r.Load("f1", "clip", path); err == nil {
		t.Fatal("expected decode error for unsupported extension")
	}

	if r.Lookup("f1") != nil {
		t.Fatal("failed load must not register a buffer")
	}
	if r.LoadError("f1") == nil {
		t.Fatal("LoadError should report the failure")
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestLoadMissingFile(t *testing.T) {
	r := New()
	if err := r.Load("f1", "clip", "/no/such/file.wav"); err == nil {
		t.Fatal("expected error for missing file")
	}
	if r.Lookup("f1") != nil {
		t.Fatal("missing file must not register a buffer")
	}
}

func TestLookupUnregisteredIsNil(t *testing.T) {
	r := New()
	if r.Lookup("nope") != nil {
		t.Fatal("Lookup of an id that was never loaded must return nil")
	}
}

func TestBufferFrameCount(t *testing.T) {
	b := &Buffer{Samples: make([]float32, 2*1000)}
	if got := b.FrameCount(); got != 1000 {
		t.Fatalf("FrameCount() = %d, want 1000", got)
	}
}
