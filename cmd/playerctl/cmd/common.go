package cmd

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/lumenplay/engine/cmd/playerctl/config"
	"github.com/lumenplay/engine/cmd/playerctl/demobackend"
	"github.com/lumenplay/engine/cmd/playerctl/malgodevice"
	"github.com/lumenplay/engine/cmd/playerctl/mp4source"
	"github.com/lumenplay/engine/internal/demux"
	"github.com/lumenplay/engine/internal/player"
	"github.com/lumenplay/engine/internal/scheduler"
	"github.com/lumenplay/engine/internal/telemetry"
	"github.com/lumenplay/engine/media"
)

// framePresenter logs the frame it's handed every logInterval frames
// instead of rendering pixels anywhere — there's no GUI surface in a
// terminal harness, so "presentation" here just proves frames are
// flowing at the expected rate and PTS.
type framePresenter struct {
	count *atomic.Int64
}

const logInterval = 30

func newFramePresenter() framePresenter { return framePresenter{count: new(atomic.Int64)} }

func (f framePresenter) Present(frame *media.VideoFrame, scale float64, fit scheduler.FitMode, rotation demux.Rotation) {
	if frame == nil {
		return
	}
	if n := f.count.Add(1); n%logInterval == 0 {
		log.Info("presenting", "pts", frame.PTS, "frame", n, "size", fmt.Sprintf("%dx%d", frame.Width, frame.Height))
	}
}

var _ scheduler.Presenter = framePresenter{}

// newPlayerForSource builds a fully-wired Player against src, which is
// either a local file path or an http(s) URL. It opens a malgo audio
// device for real output and, if metricsAddr is set, starts the
// telemetry HTTP server alongside it.
func newPlayerForSource(src string) (*player.Player, *telemetry.Registry, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	device, err := malgodevice.New(48000, 2, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("playerctl: open audio device: %w", err)
	}
	cleanup = append(cleanup, device.Close)
	device.Resume()

	var reg *telemetry.Registry
	if metricsAddr != "" {
		reg = telemetry.New()
		srv := &http.Server{Addr: metricsAddr, Handler: reg.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
		cleanup = append(cleanup, func() { srv.Close() })
		log.Info("serving metrics", "addr", metricsAddr)
	}

	cfg := player.Config{
		Presenter:            newFramePresenter(),
		AudioDevice:          device,
		CacheMaxSizeMB:       config.CacheMaxSizeMB(),
		EnablePreviews:       true,
		DownmixAudioToStereo: true,
		Telemetry:            reg,
		Log:                  log,
		AudioBackendFactory:  demobackend.NewAudioBackend,
		VideoSoftwareBackend: demobackend.NewSoftwareVideoBackend,
	}
	if hardware || config.HardwareDecode() {
		cfg.VideoHardwareBackend = demobackend.NewHardwareVideoBackend
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		cfg.Source.URL = src
		cfg.HTTPClient = newRemoteHTTPClient()
	} else {
		cfg.Source.File = src
	}
	cfg.ParserFactory = func() (demux.Parser, error) {
		if cfg.Source.File == "" {
			return nil, fmt.Errorf("playerctl: preview/remote parsing needs a local file; got a URL")
		}
		return mp4source.New(cfg.Source.File, log), nil
	}

	p := player.New(cfg)
	return p, reg, closeAll, nil
}
