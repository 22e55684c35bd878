package player

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumenplay/engine/internal/demux"
)

const (
	inFlightWaitTimeout  = 1 * time.Second
	keyframeWatchdog     = 5 * time.Second
	postSeekThrottle     = 200 * time.Millisecond
	snapThresholdSeconds = 0.010 // 10ms
)

// seekController implements spec.md §4.11's nine-step procedure. Each
// invocation allocates a fresh monotonic session id; run checks after the
// pump wind-down and after the demuxer seek that the id hasn't been
// superseded and returns early if a newer seek has started. The
// demux/decode pump itself does not check the session id.
type seekController struct {
	p *Player

	mu        sync.Mutex
	sessionID atomic.Int64

	seeking            bool
	target             float64
	waitingVideoSync   bool
	bufferedAudio      []demux.Packet
}

func newSeekController(p *Player) *seekController { return &seekController{p: p} }

func (s *seekController) run(ctx context.Context, target float64) error {
	p := s.p
	session := s.sessionID.Add(1)
	startedAt := time.Now()
	if p.cfg.Telemetry != nil {
		defer func() { p.cfg.Telemetry.SeekDuration.Observe(time.Since(startedAt).Seconds()) }()
	}

	wasPlaying := p.sm.Current() == StatePlaying

	if ok, err := p.sm.Transition(StateSeeking); !ok {
		return err
	}
	p.emitter.emit(EventSeeking, SeekingPayload{T: target})

	// Step 2: cancel the presentation loop for this session immediately —
	// the host's RAF-equivalent stops calling Tick once it observes the
	// seeking state; nothing further to do here beyond that observability.

	// Step 3: wait for any in-flight demux pump to wind down, then check the
	// session id so a superseding seek bails this one out.
	p.mu.Lock()
	cancel := p.runCancel
	done := p.runDone
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(inFlightWaitTimeout):
			p.log.Warn("seek: in-flight demux pump did not wind down within timeout, proceeding anyway")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.sessionID.Load() != session {
		return nil // superseded
	}

	// Step 4: flush decoders, clear scheduler queue, reset audio renderer.
	if p.videoDecoder != nil {
		p.videoDecoder.Flush()
		p.videoDecoder.SetSeekTarget(target)
	}
	if p.audioDecoder != nil {
		p.audioDecoder.Flush()
	}
	if p.scheduler != nil {
		p.scheduler.Flush()
	}
	if p.overlay != nil {
		p.overlay.Flush()
	}
	if p.renderer != nil {
		p.renderer.Reset()
	}

	s.mu.Lock()
	s.seeking = true
	s.target = target
	s.waitingVideoSync = true
	s.bufferedAudio = s.bufferedAudio[:0]
	s.mu.Unlock()

	// Step 5: demuxer seek.
	streamIdx := -1
	if vt, ok := p.trackMgr.ActiveVideo().(demux.VideoTrack); ok {
		streamIdx = int(vt.ID())
	}
	if err := p.bridge.Seek(ctx, target, streamIdx, demux.SeekFlagBackward); err != nil {
		p.fail(ErrKindDemux, "seek failed", err)
		return err
	}
	if s.sessionID.Load() != session {
		return nil
	}

	// Steps 6-8 happen as packets flow back through DeliverVideo/
	// DeliverAudio (bufferIfSeeking / resolveVideoSync below), gated by a
	// keyframe watchdog.
	watchdog := time.AfterFunc(keyframeWatchdog, func() {
		s.mu.Lock()
		if s.seeking && s.sessionID.Load() == session {
			s.waitingVideoSync = false
			p.log.Warn("seek: keyframe watchdog expired, accepting next available frame")
		}
		s.mu.Unlock()
	})
	defer watchdog.Stop()

	p.startPump()

	// Step 9: restore playing/paused state right away, without waiting for
	// the first synced frame. That frame is presented by the ordinary
	// scheduler Tick path once it arrives; resolveVideoSync (called from
	// DeliverVideo) clears waitingVideoSync but does not touch the state
	// machine.
	if wasPlaying {
		if ok, err := p.sm.Transition(StatePlaying); ok {
			p.clock.Start()
			if p.renderer != nil {
				p.renderer.SetPaused(false)
			}
		} else {
			return err
		}
	} else {
		if ok, err := p.sm.Transition(StateReady); !ok {
			return err
		}
	}

	p.mu.Lock()
	p.throttleUntil = time.Now().Add(postSeekThrottle)
	p.throttleCounter = 0
	p.mu.Unlock()

	p.emitter.emit(EventSeeked, SeekedPayload{T: target})
	return nil
}

// bufferIfSeeking implements step 7's audio-buffering rule: while waiting
// for video sync, packets before the target are held rather than decoded.
// Returns true if the packet was buffered (caller should not decode it).
func (s *seekController) bufferIfSeeking(pkt demux.Packet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seeking || !s.waitingVideoSync {
		return false
	}
	if pkt.PTS < s.target {
		s.bufferedAudio = append(s.bufferedAudio, pkt)
		return true
	}
	return false
}

// resolveVideoSync implements step 8: once the first video frame at/after
// target appears, snap the clock if it overshot by more than 10ms, flush
// buffered audio to the decoder, and clear the seeking flags.
func (s *seekController) resolveVideoSync(framePTS float64) {
	s.mu.Lock()
	if !s.seeking || !s.waitingVideoSync {
		s.mu.Unlock()
		return
	}
	target := s.target
	buffered := s.bufferedAudio
	s.bufferedAudio = nil
	s.waitingVideoSync = false
	s.seeking = false
	s.mu.Unlock()

	p := s.p
	if framePTS-target > snapThresholdSeconds {
		p.clock.Seek(framePTS)
	}
	for _, pkt := range buffered {
		if p.audioDecoder == nil {
			break
		}
		frame, err := p.audioDecoder.Decode(pkt)
		if err == nil && frame != nil && p.renderer != nil {
			p.renderer.Render(*frame)
		}
	}
}
