// Package urlwatch implements a URL-scheduled recorder: it records a
// fixed URL during wall-clock windows computed from a daily schedule,
// rather than reacting to a discovery
// event. Grounded directly on
// original_source/timelapse/streamurl.py's StreamUrlWatcher.mainloop —
// the coarse/fine sleep cascade towards each scheduled start and the
// finally-block downloader cleanup are carried over almost verbatim in
// spirit, adapted from a generator-driven cron schedule to a computed
// DailyOffsets list.
package urlwatch

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/snapetech/timelapsed/internal/downloader"
	"github.com/snapetech/timelapsed/internal/hooks"
)

// Watcher records URL during each wall-clock window named by
// DailyOffsets (seconds since local midnight), for Duration.
type Watcher struct {
	URL          string
	DownloadRoot string
	DailyOffsets []int
	Duration     time.Duration

	StartDownload downloader.Factory
	Hooks         hooks.Hooks

	mu      sync.Mutex
	nextRun time.Time
	dl      downloader.Handle
	finished bool
}

// NewWatcher constructs a Watcher. Call Run to start the schedule loop.
func NewWatcher(url, downloadRoot string, dailyOffsets []int, duration time.Duration, start downloader.Factory, h hooks.Hooks) *Watcher {
	offsets := append([]int(nil), dailyOffsets...)
	sort.Ints(offsets)
	return &Watcher{
		URL:           url,
		DownloadRoot:  downloadRoot,
		DailyOffsets:  offsets,
		Duration:      duration,
		StartDownload: start,
		Hooks:         h,
	}
}

// nextOccurrence returns the next time after 'after' that matches one
// of w.DailyOffsets.
func (w *Watcher) nextOccurrence(after time.Time) time.Time {
	if len(w.DailyOffsets) == 0 {
		return after.Add(24 * time.Hour)
	}
	loc := after.Location()
	dayStart := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, loc)
	for day := 0; day < 2; day++ {
		base := dayStart.AddDate(0, 0, day)
		for _, off := range w.DailyOffsets {
			candidate := base.Add(time.Duration(off) * time.Second)
			if candidate.After(after) {
				return candidate
			}
		}
	}
	// Fallback: shouldn't happen given the two-day search above.
	return dayStart.AddDate(0, 0, 1).Add(time.Duration(w.DailyOffsets[0]) * time.Second)
}

// Run drives the schedule loop until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	next := w.nextOccurrence(time.Now())
	for ctx.Err() == nil {
		w.mu.Lock()
		w.nextRun = next
		w.mu.Unlock()

		if err := w.waitAndRecord(ctx, next); err != nil {
			log.Printf("urlwatch %s: %v", w.URL, err)
		}
		next = w.nextOccurrence(next)
	}
}

// waitAndRecord sleeps in a coarse-then-fine cascade until next's
// window opens, records for up to Duration (ending early if the
// downloader exits on its own), then cleans up.
func (w *Watcher) waitAndRecord(ctx context.Context, next time.Time) error {
	dirpath := ""
	defer func() {
		w.mu.Lock()
		dl := w.dl
		w.dl = nil
		w.mu.Unlock()
		if dl != nil {
			dl.Kill()
			if w.Hooks.PostDownload != nil {
				w.Hooks.RunPost(w.URL, dirpath, w.finished, func(rec any) {
					log.Printf("urlwatch %s: post_download hook panicked: %v", w.URL, rec)
				})
			}
		}
	}()

	for {
		sec := time.Until(next)
		if sec <= -w.Duration {
			return nil
		}
		switch {
		case sec > time.Hour:
			jitter := time.Duration(rand.Intn(60)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Hour - 2*time.Minute + jitter):
			}
		case sec > 16*time.Second:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(15 * time.Second):
			}
		case sec > 0:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sec):
			}
		default:
			log.Printf("urlwatch %s: stream window started", w.URL)
			dirpath = filepath.Join(w.DownloadRoot, next.Format("20060102_150405_MST"))
			if err := os.MkdirAll(dirpath, 0o755); err != nil {
				return fmt.Errorf("mkdir %s: %w", dirpath, err)
			}
			w.finished = false
			dl, err := w.StartDownload(ctx, w.URL, dirpath, "")
			if err != nil {
				return fmt.Errorf("start download: %w", err)
			}
			w.mu.Lock()
			w.dl = dl
			w.mu.Unlock()
			w.Hooks.RunStarted(w.URL, dirpath, func(rec any) {
				log.Printf("urlwatch %s: started_download hook panicked: %v", w.URL, rec)
			})

			waitFor := w.Duration + sec
			if waitFor < 0 {
				waitFor = 0
			}
			dl.Wait(waitFor)
			if dl.IsRunning() {
				log.Printf("urlwatch %s: stopping downloader", w.URL)
				dl.Interrupt()
				w.finished = true
				dl.Wait(0)
				return nil
			}
			log.Printf("urlwatch %s: downloader ended on its own before the window closed", w.URL)
			return nil
		}
		sec = time.Until(next)
	}
}

// Status implements status.Watcher.
func (w *Watcher) Status() []any {
	w.mu.Lock()
	defer w.mu.Unlock()
	state := "idle"
	if w.dl != nil {
		state = "recording"
	}
	return []any{fmt.Sprintf("URL stream %s scheduled at %s [%s]", w.URL, w.nextRun.Format(time.RFC3339), state)}
}
