package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

const (
	localChunkSize  = 2 * 1024 * 1024 // 2 MiB
	localChunkCount = 50
)

// MetricsSink receives chunk-cache hit/miss counts. A narrow interface
// rather than a direct *telemetry.Registry field, mirroring the
// cycle-avoidance idiom used for ByteReader/AudioClock elsewhere.
type MetricsSink interface {
	CacheHit()
	CacheMiss()
}

// Local is a Source backed by an open file handle, fronted by an LRU of
// fixed-size 2 MiB chunks (at most 50 resident) so repeated small reads
// within the same region of the file — the common case for a demuxer
// re-scanning an index or a decoder re-requesting SPS/PPS — don't each
// trigger a fresh syscall.
type Local struct {
	log     *slog.Logger
	file    *os.File
	size    uint64
	cache   *chunkCache
	metrics MetricsSink

	closed bool
}

// SetMetrics attaches a metrics sink. Safe to call with nil to disable.
func (l *Local) SetMetrics(m MetricsSink) { l.metrics = m }

// OpenLocal opens path and wraps it in a Local source. If log is nil,
// slog.Default() is used.
func OpenLocal(path string, log *slog.Logger) (*Local, error) {
	if log == nil {
		log = slog.Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: stat %s: %w", path, err)
	}
	return &Local{
		log:   log.With("component", "source-local", "path", path),
		file:  f,
		size:  uint64(info.Size()),
		cache: newChunkCache(localChunkSize*localChunkCount, localChunkCount),
	}, nil
}

// GetSize returns the file's byte length, captured at open time.
func (l *Local) GetSize() uint64 { return l.size }

// Read returns length bytes starting at offset, built from one or more
// chunk-cache entries, fetching from the file on a cache miss.
func (l *Local) Read(ctx context.Context, offset, length uint64) ([]byte, error) {
	if l.closed {
		return nil, ErrClosed
	}
	if offset >= l.size {
		return nil, nil
	}
	if offset+length > l.size {
		length = l.size - offset
	}

	out := make([]byte, 0, length)
	for uint64(len(out)) < length {
		pos := offset + uint64(len(out))
		chunkKey := pos / localChunkSize * localChunkSize
		chunk, err := l.chunk(chunkKey)
		if err != nil {
			return nil, err
		}

		startInChunk := pos - chunkKey
		if startInChunk >= uint64(len(chunk)) {
			break // chunk shorter than expected: truncated tail chunk at EOF
		}

		avail := uint64(len(chunk)) - startInChunk
		need := length - uint64(len(out))
		n := avail
		if n > need {
			n = need
		}
		out = append(out, chunk[startInChunk:startInChunk+n]...)
	}

	return out, nil
}

// chunk returns the chunkKey-aligned chunk, reading it from the file on a
// cache miss. The returned slice is shared and must not be mutated by
// callers; Read always copies out of it before returning.
func (l *Local) chunk(chunkKey uint64) ([]byte, error) {
	if data, ok := l.cache.get(chunkKey); ok {
		if l.metrics != nil {
			l.metrics.CacheHit()
		}
		return data, nil
	}
	if l.metrics != nil {
		l.metrics.CacheMiss()
	}

	size := uint64(localChunkSize)
	if chunkKey+size > l.size {
		size = l.size - chunkKey
	}

	buf := make([]byte, size)
	n, err := l.file.ReadAt(buf, int64(chunkKey))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("source: read chunk at %d: %w", chunkKey, err)
	}
	buf = buf[:n]

	l.cache.put(chunkKey, buf)
	return buf, nil
}

// Seek validates and clamps offset against the file size.
func (l *Local) Seek(offset uint64) (uint64, error) {
	if l.closed {
		return 0, ErrClosed
	}
	if offset > l.size {
		offset = l.size
	}
	return offset, nil
}

// Close closes the underlying file handle.
func (l *Local) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}
