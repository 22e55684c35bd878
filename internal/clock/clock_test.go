package clock

import (
	"testing"
	"time"
)

type fakeAudioClock struct {
	t  float64
	ok bool
}

func (f *fakeAudioClock) GetAudioClock() (float64, bool) { return f.t, f.ok }

func TestClockAdvancesWhileRunning(t *testing.T) {
	c := New()
	c.Seek(10)
	c.Start()
	time.Sleep(20 * time.Millisecond)

	got := c.GetTime()
	if got < 10 {
		t.Fatalf("expected time to have advanced past seek target, got %v", got)
	}
}

func TestClockFreezesWhilePaused(t *testing.T) {
	c := New()
	c.Seek(5)
	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Pause()
	frozen := c.GetTime()
	time.Sleep(10 * time.Millisecond)
	if got := c.GetTime(); got != frozen {
		t.Fatalf("expected frozen time %v, got %v", frozen, got)
	}
}

func TestClockClampsToDuration(t *testing.T) {
	c := New()
	c.SetDuration(3)
	c.Seek(2.9)
	c.Start()
	time.Sleep(200 * time.Millisecond)

	if got := c.GetTime(); got > 3 {
		t.Fatalf("expected clock clamped to duration 3, got %v", got)
	}
}

func TestClockSnapsToAudioOnFirstHealthyContact(t *testing.T) {
	c := New()
	c.Seek(0)
	c.Start()

	audio := &fakeAudioClock{t: 50, ok: true}
	c.SetAudioClock(audio)

	got := c.GetTime()
	if got < 49.9 || got > 50.1 {
		t.Fatalf("expected clock to snap to audio clock 50, got %v", got)
	}
}

func TestClockNudgesTowardDriftingAudio(t *testing.T) {
	c := New()
	c.Seek(0)
	c.Start()

	audio := &fakeAudioClock{t: 0, ok: true}
	c.SetAudioClock(audio)
	_ = c.GetTime() // first contact: snaps exactly

	audio.t = 1.0 // large drift
	got := c.GetTime()
	if got <= 0 {
		t.Fatalf("expected clock to be nudged toward drifting audio clock, got %v", got)
	}
}
