package decode

import (
	"errors"
	"testing"

	"github.com/lumenplay/engine/internal/demux"
	"github.com/lumenplay/engine/media"
)

type fakeVideoBackend struct {
	name          string
	configureErr  error
	decodeErrs    []error // consumed one per Decode call, then nil forever
	decodeCalls   int
	resetCalls    int
	closed        bool
	configuredFor string
}

func (f *fakeVideoBackend) Name() string { return f.name }

func (f *fakeVideoBackend) Configure(codecString string, extradata []byte) error {
	f.configuredFor = codecString
	return f.configureErr
}

func (f *fakeVideoBackend) Decode(pkt demux.Packet) (*media.VideoFrame, error) {
	if f.decodeCalls < len(f.decodeErrs) {
		err := f.decodeErrs[f.decodeCalls]
		f.decodeCalls++
		if err != nil {
			return nil, err
		}
	} else {
		f.decodeCalls++
	}
	return &media.VideoFrame{PTS: pkt.PTS}, nil
}

func (f *fakeVideoBackend) Reset() error { f.resetCalls++; return nil }
func (f *fakeVideoBackend) Close() error { f.closed = true; return nil }

func testTrack() demux.VideoTrack {
	return demux.VideoTrack{Codec: "avc", Width: 1920, Height: 1080, Extradata: nil}
}

func TestConfigurePrefersHardware(t *testing.T) {
	hw := &fakeVideoBackend{name: "hardware"}
	sw := &fakeVideoBackend{name: "software"}
	d := NewVideoDecoder(
		func() (VideoBackend, error) { return hw, nil },
		func() (VideoBackend, error) { return sw, nil },
		nil,
	)

	if err := d.Configure(testTrack()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if d.IsSoftware() {
		t.Fatal("expected hardware backend to be selected")
	}
}

func TestConfigureFallsBackToSoftware(t *testing.T) {
	hw := &fakeVideoBackend{name: "hardware", configureErr: errors.New("unsupported")}
	sw := &fakeVideoBackend{name: "software"}
	d := NewVideoDecoder(
		func() (VideoBackend, error) { return hw, nil },
		func() (VideoBackend, error) { return sw, nil },
		nil,
	)

	if err := d.Configure(testTrack()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if !d.IsSoftware() {
		t.Fatal("expected fallback to software backend")
	}
	if !hw.closed {
		t.Fatal("expected exhausted hardware backend to be closed")
	}
}

func TestDecodeDropsNonKeyframeWhileWaiting(t *testing.T) {
	sw := &fakeVideoBackend{name: "software"}
	d := NewVideoDecoder(nil, func() (VideoBackend, error) { return sw, nil }, nil)
	if err := d.Configure(testTrack()); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	frame, err := d.Decode(demux.Packet{PTS: 1, Keyframe: false})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame != nil {
		t.Fatal("expected non-keyframe packet to be dropped while waiting for keyframe")
	}
	if sw.decodeCalls != 0 {
		t.Fatalf("expected backend not to be called, got %d calls", sw.decodeCalls)
	}
}

func TestDecodeFeedsKeyframeAndClearsWaiting(t *testing.T) {
	sw := &fakeVideoBackend{name: "software"}
	d := NewVideoDecoder(nil, func() (VideoBackend, error) { return sw, nil }, nil)
	if err := d.Configure(testTrack()); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	frame, err := d.Decode(demux.Packet{PTS: 1, Keyframe: true})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame == nil {
		t.Fatal("expected a frame from the keyframe packet")
	}

	frame, err = d.Decode(demux.Packet{PTS: 2, Keyframe: false})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame == nil {
		t.Fatal("expected subsequent non-keyframe packets to decode once past waiting state")
	}
}

func TestDecodeDiscardsFramesBeforeSeekTarget(t *testing.T) {
	sw := &fakeVideoBackend{name: "software"}
	d := NewVideoDecoder(nil, func() (VideoBackend, error) { return sw, nil }, nil)
	if err := d.Configure(testTrack()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	d.SetSeekTarget(5)

	frame, err := d.Decode(demux.Packet{PTS: 1, Keyframe: true})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame != nil {
		t.Fatal("expected frame before seek target to be discarded")
	}
}

func TestOpenGopRejectionDowngradesAfterLimit(t *testing.T) {
	hw := &fakeVideoBackend{name: "hardware"}
	sw := &fakeVideoBackend{name: "software"}
	d := NewVideoDecoder(
		func() (VideoBackend, error) { return hw, nil },
		func() (VideoBackend, error) { return sw, nil },
		nil,
	)
	if err := d.Configure(testTrack()); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	hw.decodeErrs = make([]error, openGopLimit+2)
	for i := range hw.decodeErrs {
		hw.decodeErrs[i] = &KeyframeRejectedError{Cause: errors.New("open gop")}
	}

	for i := 0; i < openGopLimit+1; i++ {
		if _, err := d.Decode(demux.Packet{PTS: float64(i), Keyframe: true}); err != nil {
			t.Fatalf("Decode iteration %d: %v", i, err)
		}
	}

	if !d.IsSoftware() {
		t.Fatal("expected downgrade to software after exceeding open-GOP rejection limit")
	}
}

func TestConsecutiveErrorsBecomeFatal(t *testing.T) {
	sw := &fakeVideoBackend{name: "software"}
	d := NewVideoDecoder(nil, func() (VideoBackend, error) { return sw, nil }, nil)
	if err := d.Configure(testTrack()); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	sw.decodeErrs = make([]error, consecutiveErrorLimit)
	for i := range sw.decodeErrs {
		sw.decodeErrs[i] = errors.New("generic decode error")
	}

	var lastErr error
	for i := 0; i < consecutiveErrorLimit; i++ {
		_, lastErr = d.Decode(demux.Packet{PTS: float64(i), Keyframe: true})
	}
	if lastErr == nil {
		t.Fatal("expected a fatal error after exceeding the consecutive-error limit")
	}
}
