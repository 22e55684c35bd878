package player

import (
	"log/slog"

	"github.com/lumenplay/engine/internal/decode"
	"github.com/lumenplay/engine/internal/demux"
	"github.com/lumenplay/engine/internal/scheduler"
	"github.com/lumenplay/engine/internal/source"
	"github.com/lumenplay/engine/internal/audiorender"
	"github.com/lumenplay/engine/internal/telemetry"
)

// DecoderMode selects which video backend family Configure prefers.
type DecoderMode int

const (
	DecoderAuto DecoderMode = iota
	DecoderHardware
	DecoderSoftware
)

// RendererMode names the presentation path the embedding host chose, kept
// only for the config surface / telemetry — the Player itself is agnostic,
// always driving whatever Presenter the host supplied.
type RendererMode int

const (
	RendererCanvas RendererMode = iota
	RendererMSE
)

// SourceConfig names the one of {url, file} the session loads from.
type SourceConfig struct {
	URL  string
	File string
}

// Config is the embedding API's config object (spec.md §6). Every
// platform-specific piece — the HTTP transport, the video/audio codec
// backends, the presentation surface, the audio output device, the
// container parser — is supplied by the host as an injected interface; this
// package only orchestrates them.
type Config struct {
	Source SourceConfig

	// Presenter receives frames selected by the frame scheduler each tick.
	Presenter scheduler.Presenter
	// AudioDevice is the host audio output the audio renderer schedules
	// onto.
	AudioDevice audiorender.Device

	Renderer    RendererMode
	DecoderMode DecoderMode

	CacheMaxSizeMB uint32
	EnablePreviews bool

	// HTTPClient overrides the transport source.Remote issues range
	// requests over (e.g. an HTTP/3-capable client). Defaults to
	// http.DefaultClient when nil.
	HTTPClient source.HTTPDoer

	// ParserFactory constructs a fresh container parser instance. Called
	// once for the main playback session and, if EnablePreviews, again for
	// each isolated preview instance (spec.md §4.12) — the parser is
	// consumed, never implemented, by this module (spec.md §6).
	ParserFactory func() (demux.Parser, error)

	// VideoHardwareBackend may be nil if the host offers no hardware codec
	// path, in which case Configure always uses VideoSoftwareBackend.
	VideoHardwareBackend decode.BackendFactory
	VideoSoftwareBackend decode.BackendFactory
	// AudioBackendFactory constructs the (always software, per spec.md
	// §4.5) audio decode backend.
	AudioBackendFactory func() (decode.AudioBackend, error)
	DownmixAudioToStereo bool

	// Name identifies this session for the persisted-settings filename
	// ("<name>_settings.json") and telemetry labels. Defaults to
	// "lumenplay" if empty.
	Name string
	// SettingsPath overrides the persisted-settings document location;
	// empty uses the xdg data-home default (spec.md §6 "Persisted state").
	SettingsPath string

	// Telemetry, if set, receives decode-error, cache, scheduler-drop, and
	// seek-latency counters from every component below it in the call
	// graph. Nil disables telemetry entirely.
	Telemetry *telemetry.Registry

	Log *slog.Logger
}
