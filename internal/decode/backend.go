package decode

import (
	"errors"
	"fmt"

	"github.com/lumenplay/engine/internal/demux"
	"github.com/lumenplay/engine/media"
)

// ErrHardwareUnsupported is returned by a VideoBackend's Configure when the
// platform codec API cannot decode the given codec string at all (as
// opposed to rejecting a particular frame).
var ErrHardwareUnsupported = errors.New("decode: hardware backend does not support this codec configuration")

// KeyframeRejectedError is returned from Decode when the backend reports a
// packet marked as a keyframe was rejected (the open-GOP case: a frame
// flagged key by the container isn't actually independently decodable).
type KeyframeRejectedError struct{ Cause error }

func (e *KeyframeRejectedError) Error() string {
	return fmt.Sprintf("decode: keyframe rejected: %v", e.Cause)
}
func (e *KeyframeRejectedError) Unwrap() error { return e.Cause }

// ProfileError is returned from Configure or Decode when the backend
// rejects a specific codec profile it cannot handle (e.g. HEVC Rext).
// NearestProfile names a compatible profile Configure should retry with.
type ProfileError struct {
	Cause          error
	RejectedIdc    byte
	NearestProfile string
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("decode: profile rejected: %v (nearest compatible: %s)", e.Cause, e.NearestProfile)
}
func (e *ProfileError) Unwrap() error { return e.Cause }

// VideoBackend decodes one video elementary stream. A hardware backend
// wraps a platform codec API; a software backend wraps the container
// library's built-in decode path. Both are supplied by the embedding host —
// this package only orchestrates which one is active and how to recover
// from either's failures.
type VideoBackend interface {
	// Name identifies the backend for telemetry ("hardware" / "software").
	Name() string
	// Configure (re)initializes the backend for codecString/extradata.
	// Returns ErrHardwareUnsupported (hardware only) or a *ProfileError if
	// the specific profile can't be handled.
	Configure(codecString string, extradata []byte) error
	// Decode submits one packet and returns the frame it produced, or nil
	// if the backend needs more input before it can emit one (common right
	// after Configure). Returns a *KeyframeRejectedError or *ProfileError
	// for the corresponding recoverable failures.
	Decode(pkt demux.Packet) (*media.VideoFrame, error)
	// Reset discards internal decoder state without a full Configure,
	// used by the fast-path "key-frame-rejected" and "generic error"
	// recovery branches.
	Reset() error
	// Close releases backend resources.
	Close() error
}

// AudioBackend decodes one audio elementary stream into float-planar
// samples at the source's native sample rate and channel layout.
type AudioBackend interface {
	Name() string
	Configure(codecString string, extradata []byte) error
	Decode(pkt demux.Packet) (*media.AudioFrame, error)
	Reset() error
	Close() error
}

// BackendFactory constructs a fresh backend instance, used whenever the
// FSM needs to fully recreate one rather than Reset it.
type BackendFactory func() (VideoBackend, error)
