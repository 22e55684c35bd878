package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	s, err := Open("testplayer", filepath.Join(dir, "missing.json"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got := s.Get()
	want := defaultState()
	if got != want {
		t.Fatalf("expected default state %+v, got %+v", want, got)
	}
}

func TestUpdateThenFlushPersistsToDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	s, err := Open("testplayer", path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	s.Update(func(st State) State {
		st.Volume = 0.5
		st.Muted = true
		return st
	})
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected settings file to exist: %v", err)
	}

	reopened, err := Open("testplayer", path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got := reopened.Get()
	if got.Volume != 0.5 || !got.Muted {
		t.Fatalf("expected persisted volume=0.5 muted=true, got %+v", got)
	}
}

func TestUpdateDebouncesRepeatedWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	s, err := Open("testplayer", path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		s.Update(func(st State) State {
			st.Volume = float64(i) / 10
			return st
		})
	}

	if _, err := os.Stat(path); err == nil {
		t.Fatal("expected no write before the debounce window elapses")
	}

	time.Sleep(writeDebounce + 100*time.Millisecond)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected a write after the debounce window: %v", err)
	}
}
