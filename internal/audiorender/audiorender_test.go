package audiorender

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumenplay/engine/media"
)

type fakeDevice struct {
	now     float64
	running bool
	latency float64
	gain    float64
	commits int
}

func (d *fakeDevice) Now() float64           { return d.now }
func (d *fakeDevice) Running() bool          { return d.running }
func (d *fakeDevice) OutputLatency() float64 { return d.latency }
func (d *fakeDevice) Commit(samples []float32, channels int, scheduleAt, playbackRate float64) {
	d.commits++
}
func (d *fakeDevice) SetGain(gain float64) { d.gain = gain }
func (d *fakeDevice) Suspend()             {}
func (d *fakeDevice) Resume()              {}

func stereoFrame(pts float64, seconds float64, sampleRate int) media.AudioFrame {
	n := int(seconds * float64(sampleRate))
	return media.AudioFrame{PTS: pts, SampleRate: sampleRate, Channels: 2, Samples: make([]float32, n*2)}
}

func TestGetAudioClockUnavailableBeforeFirstBuffer(t *testing.T) {
	dev := &fakeDevice{running: true}
	r := New(dev, nil)
	_, ok := r.GetAudioClock()
	require.False(t, ok, "expected no clock before the first buffer is scheduled")
}

func TestRenderEstablishesAnchorAndAdvancesClock(t *testing.T) {
	dev := &fakeDevice{running: true}
	r := New(dev, nil)

	r.Render(stereoFrame(0, 1.0, 48000))
	clock, ok := r.GetAudioClock()
	require.True(t, ok, "expected a clock reading after the first render")
	require.GreaterOrEqual(t, clock, 0.0)
	require.Equal(t, 1, dev.commits)

	// The block was scheduled at now+5ms; half a second of device time later
	// the clock reads 0.5s of media time.
	dev.now = 0.505
	clock, ok = r.GetAudioClock()
	require.True(t, ok)
	require.InDelta(t, 0.5, clock, 1e-9, "expected the clock to advance with the device clock")
}

func TestRenderDropsWhilePaused(t *testing.T) {
	dev := &fakeDevice{running: true}
	r := New(dev, nil)
	r.SetPaused(true)
	r.Render(stereoFrame(0, 1.0, 48000))

	require.Zero(t, dev.commits, "expected no commit while paused")
}

func TestHealthyRequiresRunningDeviceAndRecentOutput(t *testing.T) {
	dev := &fakeDevice{running: false}
	r := New(dev, nil)
	require.False(t, r.Healthy(), "expected unhealthy when device is not running")

	dev.running = true
	r.Render(stereoFrame(0, 1.0, 48000))
	require.True(t, r.Healthy(), "expected healthy immediately after rendering with ample lead")
}

func TestSetPlaybackRateMarksRebuffering(t *testing.T) {
	dev := &fakeDevice{running: true}
	r := New(dev, nil)
	r.Render(stereoFrame(0, 1.0, 48000))
	r.SetPlaybackRate(2.0, false)

	require.True(t, r.IsRebuffering(), "expected is_rebuffering to be set after a rate change")
	r.Render(stereoFrame(1, 1.0, 48000))
	require.False(t, r.IsRebuffering(), "expected is_rebuffering to clear after the next successful render")
}

func TestMuteZeroesGainWithoutStoppingDevice(t *testing.T) {
	dev := &fakeDevice{running: true}
	r := New(dev, nil)
	r.Mute(false)
	require.Zero(t, dev.gain, "expected gain zeroed")
	require.True(t, dev.running, "expected device to keep running when not muted-at-startup")
}
