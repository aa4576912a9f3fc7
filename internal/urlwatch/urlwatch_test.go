package urlwatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snapetech/timelapsed/internal/downloader"
	"github.com/snapetech/timelapsed/internal/hooks"
)

type fakeHandle struct {
	running  atomic.Bool
	finished atomic.Bool
}

func newFakeHandle() *fakeHandle {
	h := &fakeHandle{}
	h.running.Store(true)
	return h
}

func (h *fakeHandle) Interrupt()              { h.running.Store(false) }
func (h *fakeHandle) Kill()                   { h.running.Store(false) }
func (h *fakeHandle) Wait(d time.Duration) bool {
	if d > 0 {
		time.Sleep(minDuration(d, 10*time.Millisecond))
	}
	return !h.running.Load()
}
func (h *fakeHandle) IsRunning() bool { return h.running.Load() }
func (h *fakeHandle) Finished() bool  { return h.finished.Load() }

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func TestNextOccurrenceFindsLaterOffsetSameDay(t *testing.T) {
	w := NewWatcher("http://example.invalid/stream", "/tmp/x", []int{3600, 7200}, time.Minute, nil, hooks.Hooks{})
	loc := time.UTC
	now := time.Date(2026, 7, 31, 0, 30, 0, 0, loc) // 00:30, before both offsets (1h, 2h)
	next := w.nextOccurrence(now)
	want := time.Date(2026, 7, 31, 1, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("nextOccurrence = %s, want %s", next, want)
	}
}

func TestNextOccurrenceRollsOverToNextDay(t *testing.T) {
	w := NewWatcher("http://example.invalid/stream", "/tmp/x", []int{3600}, time.Minute, nil, hooks.Hooks{})
	loc := time.UTC
	now := time.Date(2026, 7, 31, 23, 0, 0, 0, loc) // after the only daily offset (1h)
	next := w.nextOccurrence(now)
	want := time.Date(2026, 8, 1, 1, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("nextOccurrence = %s, want %s", next, want)
	}
}

func TestWaitAndRecordStartsDownloadAtWindowOpen(t *testing.T) {
	var started bool
	factory := downloader.Factory(func(ctx context.Context, url, dir, filename string) (downloader.Handle, error) {
		started = true
		h := newFakeHandle()
		h.running.Store(false) // ends immediately so waitAndRecord returns promptly
		h.finished.Store(true)
		return h, nil
	})
	w := NewWatcher("http://example.invalid/stream", t.TempDir(), []int{0}, time.Millisecond, factory, hooks.Hooks{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	next := time.Now().Add(-time.Millisecond) // window already open
	if err := w.waitAndRecord(ctx, next); err != nil {
		t.Fatalf("waitAndRecord: %v", err)
	}
	if !started {
		t.Fatal("expected StartDownload to be called once the window opened")
	}
}
