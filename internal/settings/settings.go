// Package settings persists the small slice of player state spec.md §6
// calls out for durability across sessions — volume, muted, playback
// rate, preserve-pitch — as a JSON document under the user's XDG data
// directory, the native stand-in for browser origin-private storage.
// Writes are debounced so a volume slider dragged continuously doesn't
// hit disk on every tick.
package settings

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
)

const writeDebounce = 500 * time.Millisecond

// State is the persisted document. defaultState, not the zero value, holds
// spec.md's defaults (full volume, unmuted, normal rate, pitch preserved).
type State struct {
	Volume        float64 `json:"volume"`
	Muted         bool    `json:"muted"`
	PlaybackRate  float64 `json:"playbackRate"`
	PreservePitch bool    `json:"preservePitch"`
}

func defaultState() State {
	return State{Volume: 1.0, Muted: false, PlaybackRate: 1.0, PreservePitch: true}
}

// Store owns one settings document on disk, identified by a player name
// (so multiple embedding instances on the same machine don't collide).
type Store struct {
	log  *slog.Logger
	path string

	mu      sync.Mutex
	current State
	timer   *time.Timer
}

// Open loads the settings document for playerName, creating it with
// defaults if absent. path defaults to
// "<xdg.DataHome>/<playerName>_settings.json" when override is empty.
func Open(playerName, override string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	path := override
	if path == "" {
		path = filepath.Join(xdg.DataHome, playerName+"_settings.json")
	}

	s := &Store{log: log.With("component", "settings"), path: path, current: defaultState()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn("settings file corrupt, falling back to defaults", "path", path, "error", err)
		return s, nil
	}
	s.current = st
	return s, nil
}

// Get returns a copy of the current in-memory settings.
func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update merges mutate's result into the current state and schedules a
// debounced write. mutate receives the current value and returns the
// next one.
func (s *Store) Update(mutate func(State) State) {
	s.mu.Lock()
	s.current = mutate(s.current)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(writeDebounce, s.flush)
	s.mu.Unlock()
}

// Flush writes the current state to disk immediately, bypassing the
// debounce timer. Intended for use on graceful shutdown.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	st := s.current
	s.mu.Unlock()
	return s.write(st)
}

func (s *Store) flush() {
	s.mu.Lock()
	st := s.current
	s.timer = nil
	s.mu.Unlock()
	if err := s.write(st); err != nil {
		s.log.Warn("failed to persist settings", "path", s.path, "error", err)
	}
}

func (s *Store) write(st State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
