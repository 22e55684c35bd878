// Package decode owns the video, audio, and subtitle decoder orchestration:
// backend selection, codec-string configuration, and the video decoder's
// error-recovery state machine. The actual pixel/sample production is
// delegated to a Backend the caller supplies — platform hardware codec
// APIs and software fallback decoders are host-specific and out of this
// package's scope, but the FSM that chooses between them and recovers from
// their failures lives here.
package decode
