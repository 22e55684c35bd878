// Package source adapts a remote HTTP(S) origin or a local file into the
// random-access byte reader the demuxer bridge pulls from: byte-range
// reads with an LRU chunk cache in front of them, retried with backoff on
// transient failures.
package source

import (
	"context"
	"errors"
)

// ErrRangeNotSupported is returned when a remote origin answers a
// byte-range request with 200 OK instead of 206 Partial Content — the
// server doesn't support range requests and playback cannot proceed.
var ErrRangeNotSupported = errors.New("source: origin does not support byte-range requests")

// ErrClosed is returned by Read/Seek calls made after Close.
var ErrClosed = errors.New("source: closed")

// Source is the contract every concrete byte source satisfies: a
// random-access reader with a known (or discoverable) total size.
type Source interface {
	// GetSize returns the total byte length of the underlying content.
	GetSize() uint64
	// Read returns exactly length bytes starting at offset, or fewer at
	// EOF. It never returns more than length bytes.
	Read(ctx context.Context, offset, length uint64) ([]byte, error)
	// Seek validates and clamps offset against the known size, returning
	// the clamped position. It performs no I/O; Read is always the byte
	// mover.
	Seek(offset uint64) (uint64, error)
	// Close releases any held resources (file handles, buffered data) and
	// causes subsequent Read/Seek calls to fail. It does not cancel HTTP
	// requests already in flight; those follow the context passed to Read.
	Close() error
}
