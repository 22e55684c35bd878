package decode

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lumenplay/engine/internal/demux"
	"github.com/lumenplay/engine/media"
)

const (
	openGopLimit          = 15
	consecutiveErrorLimit = 5
	errorWindow           = 30 * time.Second

	resurrectFirstDelay = 10 * time.Second
	resurrectStepDelay  = 30 * time.Second
	resurrectMaxAttempts = 10
)

// MetricsSink receives the events internal/telemetry's Registry counts.
// A narrow interface rather than a direct *telemetry.Registry field so
// this package never imports internal/telemetry, mirroring the
// AudioClock/ByteReader cycle-avoidance idiom used elsewhere.
type MetricsSink interface {
	DecodeError(kind, backend string)
	HardwareResurrection()
	HardwareFallback()
}

// VideoDecoder owns backend selection (hardware first, software fallback)
// and the error-recovery state machine for one video elementary stream.
// It is not safe for concurrent use; the caller (internal/pipeline's
// consumer) serializes Decode/Flush/Configure calls.
type VideoDecoder struct {
	log     *slog.Logger
	metrics MetricsSink

	hwFactory BackendFactory
	swFactory BackendFactory

	backend     VideoBackend
	isSoftware  bool
	track       demux.VideoTrack
	codecString string

	waitingForKeyframe bool
	seekTarget         float64

	openGopCount          int
	consecutiveErrorCount int
	lastErrorAt           time.Time

	resurrectAttempts int
	nextResurrectAt   time.Time
}

// NewVideoDecoder constructs a VideoDecoder. hwFactory may be nil if the
// host offers no hardware codec path, in which case Configure goes
// straight to software.
func NewVideoDecoder(hwFactory, swFactory BackendFactory, log *slog.Logger) *VideoDecoder {
	if log == nil {
		log = slog.Default()
	}
	return &VideoDecoder{log: log.With("component", "video-decoder"), hwFactory: hwFactory, swFactory: swFactory}
}

// SetMetrics attaches a metrics sink. Safe to call with nil to disable.
func (d *VideoDecoder) SetMetrics(m MetricsSink) { d.metrics = m }

// Configure computes the canonical codec string for track and attempts
// hardware first (with two fallback retries: one with the track's color
// fields cleared, then a compatible-profile swap) before settling on
// software. The color-cleared retry passes the same codec string and
// extradata as the first attempt, since neither depends on those fields.
func (d *VideoDecoder) Configure(track demux.VideoTrack) error {
	d.track = track
	codecString, err := demux.ComputeVideoCodecString(track.Codec, track.Extradata, d.log)
	if err != nil {
		return fmt.Errorf("decode: compute codec string: %w", err)
	}
	d.codecString = codecString

	if d.backend != nil {
		d.backend.Close()
		d.backend = nil
	}

	if !d.isSoftware && d.hwFactory != nil {
		if d.tryHardware(track, codecString) {
			d.resetFSM()
			return nil
		}
		d.log.Warn("hardware backend exhausted all fallbacks, using software", "codec", codecString)
		if d.metrics != nil {
			d.metrics.HardwareFallback()
		}
	}

	return d.configureSoftware(codecString, track.Extradata)
}

// tryHardware attempts hardware configuration, then the two fallbacks
// spec.md §4.4 step 3 names: stripped color-space metadata, then a
// compatible-profile string swap. Clearing the track's color fields does
// not change the recomputed codec string or the extradata, so the second
// attempt configures the backend with exactly what the first one used.
func (d *VideoDecoder) tryHardware(track demux.VideoTrack, codecString string) bool {
	backend, err := d.hwFactory()
	if err != nil {
		d.log.Warn("hardware backend unavailable", "error", err)
		return false
	}

	if err := backend.Configure(codecString, track.Extradata); err == nil {
		d.backend = backend
		d.isSoftware = false
		return true
	}

	stripped := track
	stripped.ColorPrimaries, stripped.ColorTransfer, stripped.ColorSpace = "", "", ""
	strippedCodec, _ := demux.ComputeVideoCodecString(stripped.Codec, stripped.Extradata, d.log)
	if err := backend.Configure(strippedCodec, stripped.Extradata); err == nil {
		d.backend = backend
		d.isSoftware = false
		return true
	}

	if fallback, ok := compatibleProfileFallback(codecString); ok {
		if err := backend.Configure(fallback, track.Extradata); err == nil {
			d.backend = backend
			d.isSoftware = false
			return true
		}
	}

	backend.Close()
	return false
}

func (d *VideoDecoder) configureSoftware(codecString string, extradata []byte) error {
	backend, err := d.swFactory()
	if err != nil {
		return fmt.Errorf("decode: construct software backend: %w", err)
	}
	if err := backend.Configure(codecString, extradata); err != nil {
		backend.Close()
		return fmt.Errorf("decode: configure software backend: %w", err)
	}
	d.backend = backend
	d.isSoftware = true
	d.resetFSM()
	return nil
}

func (d *VideoDecoder) resetFSM() {
	d.waitingForKeyframe = true
	d.openGopCount = 0
	d.consecutiveErrorCount = 0
}

// Decode submits pkt, enforcing the waiting-for-keyframe gate and the
// seek-discard rule, then runs any backend error through the recovery FSM.
// It returns (nil, nil) when the packet was dropped or discarded rather
// than fed, or produced no frame yet.
func (d *VideoDecoder) Decode(pkt demux.Packet) (*media.VideoFrame, error) {
	if d.backend == nil {
		return nil, fmt.Errorf("decode: video decoder not configured")
	}

	if d.waitingForKeyframe && !pkt.Keyframe {
		return nil, nil
	}
	if pkt.Keyframe {
		d.checkResurrection(pkt)
	}

	frame, err := d.backend.Decode(pkt)
	if err != nil {
		if d.metrics != nil {
			d.metrics.DecodeError("video", d.backendName())
		}
		return d.recover(pkt, err)
	}
	if d.waitingForKeyframe {
		d.waitingForKeyframe = false
	}

	if frame != nil && pkt.PTS < d.seekTarget {
		return nil, nil // building reference state across a seek target; discard the emitted frame
	}
	return frame, nil
}

// checkResurrection advances the hardware-resurrection cooldown. It only
// fires once the backoff window has elapsed and the arriving packet is a
// verified IRAP/IDR slice — the spec's NAL-unit-inspection requirement.
func (d *VideoDecoder) checkResurrection(pkt demux.Packet) {
	if !d.isSoftware || d.hwFactory == nil {
		return
	}
	if d.resurrectAttempts >= resurrectMaxAttempts {
		return
	}
	if time.Now().Before(d.nextResurrectAt) {
		return
	}
	if !isVerifiedIDR(d.track.Codec, pkt.Data) {
		return
	}

	d.resurrectAttempts++
	ok := d.tryHardware(d.track, d.codecString)
	delay := resurrectFirstDelay
	if d.resurrectAttempts > 1 {
		delay = resurrectStepDelay
	}
	d.nextResurrectAt = time.Now().Add(delay)

	if ok {
		d.log.Info("hardware resurrection succeeded", "attempt", d.resurrectAttempts)
		if d.metrics != nil {
			d.metrics.HardwareResurrection()
		}
		d.resetFSM()
	} else {
		d.log.Warn("hardware resurrection failed on first sync frame, staying software", "attempt", d.resurrectAttempts)
	}
}

// recover implements the error-recovery FSM: keyframe-rejected, generic
// windowed errors, profile-specific swaps, and the fast-path reset before
// fully recreating the backend.
func (d *VideoDecoder) recover(pkt demux.Packet, decodeErr error) (*media.VideoFrame, error) {
	var keyErr *KeyframeRejectedError
	var profErr *ProfileError

	switch {
	case asKeyframeRejected(decodeErr, &keyErr):
		d.openGopCount++
		d.log.Warn("keyframe rejected", "count", d.openGopCount, "error", keyErr)
		if d.openGopCount > openGopLimit {
			d.log.Warn("open-GOP rejection limit exceeded, downgrading to software")
			return nil, d.configureSoftware(d.codecString, d.track.Extradata)
		}
		if err := d.backend.Reset(); err != nil {
			return nil, fmt.Errorf("decode: reset after keyframe rejection: %w", err)
		}
		return nil, d.backend.Configure(d.codecString, d.track.Extradata)

	case asProfileError(decodeErr, &profErr):
		d.codecString = profErr.NearestProfile
		extradata := d.track.Extradata
		if len(extradata) > 0 && profErr.RejectedIdc != 0 {
			extradata = patchProfileByte(extradata, profErr.RejectedIdc)
		}
		return nil, d.backend.Configure(d.codecString, extradata)

	default:
		now := time.Now()
		if now.Sub(d.lastErrorAt) > errorWindow {
			d.consecutiveErrorCount = 0
		}
		d.consecutiveErrorCount++
		d.lastErrorAt = now

		if d.consecutiveErrorCount >= consecutiveErrorLimit {
			return nil, fmt.Errorf("decode: %d decode errors within %s, giving up: %w", d.consecutiveErrorCount, errorWindow, decodeErr)
		}

		if err := d.backend.Reset(); err == nil {
			if err := d.backend.Configure(d.codecString, d.track.Extradata); err == nil {
				d.waitingForKeyframe = true
				return nil, nil
			}
		}

		d.log.Warn("fast-path reset failed, recreating backend", "error", decodeErr)
		d.backend.Close()
		factory := d.swFactory
		if !d.isSoftware {
			factory = d.hwFactory
		}
		backend, err := factory()
		if err != nil {
			return nil, fmt.Errorf("decode: recreate backend: %w", err)
		}
		if err := backend.Configure(d.codecString, d.track.Extradata); err != nil {
			backend.Close()
			return nil, fmt.Errorf("decode: reconfigure recreated backend: %w", err)
		}
		d.backend = backend
		d.resetFSM()
		return nil, nil
	}
}

func asKeyframeRejected(err error, target **KeyframeRejectedError) bool {
	if e, ok := err.(*KeyframeRejectedError); ok {
		*target = e
		return true
	}
	return false
}

func asProfileError(err error, target **ProfileError) bool {
	if e, ok := err.(*ProfileError); ok {
		*target = e
		return true
	}
	return false
}

// isVerifiedIDR inspects the NAL units in an Annex-B packet and reports
// whether the first non-parameter-set NAL is a true IRAP/IDR slice, per the
// spec's "verified by NAL-unit inspection" resurrection gate.
func isVerifiedIDR(codec string, data []byte) bool {
	switch codec {
	case "hevc", "h265", "hvc1":
		for _, nalu := range demux.ParseAnnexBHEVC(data) {
			if demux.IsHEVCKeyframe(nalu.Type) {
				return true
			}
		}
	default:
		for _, nalu := range demux.ParseAnnexB(data) {
			if demux.IsKeyframe(nalu.Type) {
				return true
			}
		}
	}
	return false
}

// patchProfileByte rewrites the profile_idc byte an hvcC/avcC record
// carries so the parser-facing profile matches the codec string swap.
// The profile byte sits at a fixed offset for both AVCDecoderConfiguration
// (offset 1) and HvcC (offset 1, general_profile_idc lower 5 bits); callers
// only invoke this when the original profile byte is known to be at the
// conventional offset 1 of the configuration record.
func patchProfileByte(extradata []byte, newIdc byte) []byte {
	if len(extradata) < 2 {
		return extradata
	}
	patched := append([]byte(nil), extradata...)
	patched[1] = newIdc
	return patched
}

// compatibleProfileFallback maps a rejected codec string to the nearest
// compatible one the spec names (HEVC Rext → Main10 variant).
func compatibleProfileFallback(codecString string) (string, bool) {
	if len(codecString) >= 4 && (codecString[:4] == "hvc1" || codecString[:4] == "hev1") {
		return "hev1.2.4.L120.90", true // Main10 profile (2), tier/level kept generic
	}
	return "", false
}

// Flush drains pending input and resets the open-GOP counter, per spec.
func (d *VideoDecoder) Flush() {
	if d.backend != nil {
		d.backend.Reset()
	}
	d.waitingForKeyframe = true
	d.openGopCount = 0
}

// SetSeekTarget arms the seek-discard rule: frames decoded from packets
// whose PTS is below target are fed (for reference state) but not
// returned to the caller.
func (d *VideoDecoder) SetSeekTarget(target float64) { d.seekTarget = target }

// IsSoftware reports the currently active backend kind, for telemetry.
func (d *VideoDecoder) IsSoftware() bool { return d.isSoftware }

func (d *VideoDecoder) backendName() string {
	if d.isSoftware {
		return "software"
	}
	return "hardware"
}

// Close releases the active backend.
func (d *VideoDecoder) Close() error {
	if d.backend == nil {
		return nil
	}
	return d.backend.Close()
}
