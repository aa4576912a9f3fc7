// Package downloader implements a uniform capability set over three
// backends that record a stream to
// disk — two out-of-process extractor children and one in-process
// segmented HTTP/HLS puller.
package downloader

import (
	"context"
	"time"
)

// Handle is the capability set every downloader backend exposes.
// Start returns a Handle already running; the zero value is never valid.
type Handle interface {
	// Interrupt asks the downloader to stop gracefully. It must return
	// immediately; the downloader stops "soon" without corrupting the
	// partially-written output.
	Interrupt()
	// Kill stops the downloader unconditionally. Idempotent.
	Kill()
	// Wait blocks until the downloader ends or timeout elapses (0 means
	// block forever). Returns true if the downloader had ended by the
	// time Wait returned.
	Wait(timeout time.Duration) bool
	// IsRunning reports whether the downloader is still active.
	IsRunning() bool
	// Finished reports whether the downloader reached a clean end
	// (exit code 0 for process backends, clean EOF for the puller).
	// Only meaningful after IsRunning() is false.
	Finished() bool
}

// Backend identifies which Downloader Adapter variant produced a Handle,
// used only for logging/status, never for branching behavior.
type Backend string

const (
	BackendGenericExtractor Backend = "generic-extractor"
	BackendAltExtractor     Backend = "alt-extractor"
	BackendSegmentedPuller  Backend = "segmented-puller"
)

// Factory starts a new download of url into dir, with an optional
// filename stem (video/room identifier, or identifier+epoch for URL
// rotation). filename may be empty, in which case the backend chooses
// one.
type Factory func(ctx context.Context, url, dir, filename string) (Handle, error)
