package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// WindowSize is the minimum span fetched on a window miss, amortizing
	// the cost of many small sequential reads (e.g. a demuxer scanning an
	// index box) into one round trip.
	WindowSize = 1 << 20 // 1 MiB
	// MaxFetchSize bounds a single fetch regardless of the requested
	// length, so one pathological read request can't pull the entire
	// remaining file into memory.
	MaxFetchSize = 16 << 20 // 16 MiB

	requestTimeout = 10 * time.Second

	backoffBase   = 1 * time.Second
	backoffFactor = 1.5
	backoffMax    = 5 * time.Second
	maxRetries    = 5
)

// HTTPDoer is the subset of *http.Client Remote needs, letting callers
// inject an HTTP/3-capable RoundTripper (or a test double) without Remote
// depending on a concrete transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Remote is a Source backed by HTTP(S) byte-range requests, with a single
// sliding window buffer absorbing sequential reads and exponential backoff
// covering transient server/network failures.
type Remote struct {
	log    *slog.Logger
	client HTTPDoer
	url    string
	size   uint64

	windowSize   uint64
	maxFetchSize uint64
	metrics      MetricsSink

	mu         sync.Mutex
	winStart   uint64
	winData    []byte
	offline    bool
	closed     bool
}

// SetMetrics attaches a metrics sink. Safe to call with nil to disable.
func (r *Remote) SetMetrics(m MetricsSink) { r.metrics = m }

// NewRemote creates a Remote source for url using client, with the default
// playback window sizing (1 MiB sliding window, 16 MiB max single fetch).
// The content length is discovered via a HEAD request; client must support
// HTTP byte-range requests (Accept-Ranges: bytes) for playback to work at
// all.
func NewRemote(ctx context.Context, url string, client HTTPDoer, log *slog.Logger) (*Remote, error) {
	return newRemote(ctx, url, client, log, WindowSize, MaxFetchSize)
}

// NewRemoteWithLimits is NewRemote with an overridden window/max-fetch
// size, used by the preview pipeline (spec.md §4.12: 512 KiB buffer, 5 MiB
// max fetch) to size its isolated source independently of the playback
// session's source.
func NewRemoteWithLimits(ctx context.Context, url string, client HTTPDoer, log *slog.Logger, windowSize, maxFetchSize uint64) (*Remote, error) {
	return newRemote(ctx, url, client, log, windowSize, maxFetchSize)
}

func newRemote(ctx context.Context, url string, client HTTPDoer, log *slog.Logger, windowSize, maxFetchSize uint64) (*Remote, error) {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("source: build HEAD request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: HEAD %s: %w", url, err)
	}
	defer resp.Body.Close()

	size, err := strconv.ParseUint(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("source: %s did not report Content-Length: %w", url, err)
	}

	return &Remote{
		log:          log.With("component", "source-remote", "url", url),
		client:       client,
		url:          url,
		size:         size,
		windowSize:   windowSize,
		maxFetchSize: maxFetchSize,
	}, nil
}

// GetSize returns the content length discovered at construction time.
func (r *Remote) GetSize() uint64 { return r.size }

// Read serves offset/length from the sliding window when it fits,
// otherwise fetches a new window starting at offset sized to
// max(length, WindowSize) capped at MaxFetchSize.
func (r *Remote) Read(ctx context.Context, offset, length uint64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if offset >= r.size {
		return nil, nil
	}
	if offset+length > r.size {
		length = r.size - offset
	}

	if r.fitsWindow(offset, length) {
		if r.metrics != nil {
			r.metrics.CacheHit()
		}
		start := offset - r.winStart
		return append([]byte(nil), r.winData[start:start+length]...), nil
	}
	if r.metrics != nil {
		r.metrics.CacheMiss()
	}

	fetchLen := length
	if fetchLen < r.windowSize {
		fetchLen = r.windowSize
	}
	if fetchLen > r.maxFetchSize {
		fetchLen = r.maxFetchSize
	}
	if offset+fetchLen > r.size {
		fetchLen = r.size - offset
	}

	data, err := r.fetchWithRetry(ctx, offset, fetchLen)
	if err != nil {
		return nil, err
	}

	r.winStart = offset
	r.winData = data
	r.offline = false

	end := length
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	return append([]byte(nil), data[:end]...), nil
}

func (r *Remote) fitsWindow(offset, length uint64) bool {
	if r.winData == nil {
		return false
	}
	return offset >= r.winStart && offset+length <= r.winStart+uint64(len(r.winData))
}

// fetchWithRetry issues a byte-range GET, retrying 5xx/429 responses with
// exponential backoff (base 1s, factor 1.5, capped at 5s, up to 5 retries
// after the first attempt). A
// 416 is treated as EOF (returns an empty slice); a 200 where a 206 was
// expected is a fatal range-not-supported error, never retried.
func (r *Remote) fetchWithRetry(ctx context.Context, offset, length uint64) ([]byte, error) {
	var lastErr error
	delay := backoffBase

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay = time.Duration(math.Min(float64(backoffMax), float64(delay)*backoffFactor))
		}

		data, retryable, err := r.fetchOnce(ctx, offset, length)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		r.log.Warn("retryable fetch failure", "attempt", attempt+1, "error", err)
	}

	r.offline = true
	return nil, fmt.Errorf("source: exhausted %d retries fetching %s: %w", maxRetries, r.url, lastErr)
}

func (r *Remote) fetchOnce(ctx context.Context, offset, length uint64) (data []byte, retryable bool, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("source: build GET request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("source: GET %s: %w", r.url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return []byte{}, false, nil
	case resp.StatusCode == http.StatusOK:
		return nil, false, fmt.Errorf("%w: %s answered 200 to a range request", ErrRangeNotSupported, r.url)
	case resp.StatusCode == http.StatusPartialContent:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, fmt.Errorf("source: read body: %w", err)
		}
		return body, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("source: %s: status %d", r.url, resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("source: %s: unexpected status %d", r.url, resp.StatusCode)
	}
}

// Seek validates and clamps offset against the known content length.
func (r *Remote) Seek(offset uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}
	if offset > r.size {
		offset = r.size
	}
	return offset, nil
}

// IsOffline reports whether the last fetch attempt exhausted all retries.
// Nothing in this module polls it or resumes reads when the network comes
// back; a later Read simply tries the fetch again.
func (r *Remote) IsOffline() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offline
}

// Close discards the sliding window buffer. Outstanding requests are tied
// to the context passed into Read and are not separately cancelable here.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.winData = nil
	return nil
}
