package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReportsNewFrames(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "frame_0001.fits")
	if err := os.WriteFile(path, []byte("SIMPLE"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events:
		if ev.Path != path {
			t.Fatalf("event for %q, want %q", ev.Path, path)
		}
		if ev.Dir != dir {
			t.Fatalf("event dir %q, want %q", ev.Dir, dir)
		}
		if ev.Operation != "created" && ev.Operation != "modified" {
			t.Fatalf("operation %q for a new file", ev.Operation)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event within 5s")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events:
		t.Fatalf("unexpected event for non-frame file: %+v", ev)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestIsFrameFile(t *testing.T) {
	w, err := New(nil, []string{".fits", ".fit"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.watcher.Close()

	cases := map[string]bool{
		"/d/a.fits":   true,
		"/d/a.FITS":   true,
		"/d/a.fit":    true,
		"/d/a.raw":    false,
		"/d/fits.txt": false,
	}
	for path, want := range cases {
		if got := w.isFrameFile(path); got != want {
			t.Fatalf("isFrameFile(%q) = %v, want %v", path, got, want)
		}
	}
}
