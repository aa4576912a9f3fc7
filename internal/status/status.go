// Package status is the process-wide status registry
// (a singleton service with an explicit register/unregister
// API"). Watchers register themselves, a periodic printer walks the
// registry and logs each watcher's nested status lines with indentation,
// grounded on original_source/timelapse/status.py's check_status loop.
package status

import (
	"context"
	"log"
	"sync"
	"time"
)

// Watcher is any tracked component willing to report its own status.
// A returned element may itself be a []any, nested arbitrarily deep;
// the printer indents one level per nesting depth.
type Watcher interface {
	Status() []any
}

var (
	mu    sync.Mutex
	watch []Watcher
)

// Register adds w to the registry. Safe for concurrent use.
func Register(w Watcher) {
	mu.Lock()
	defer mu.Unlock()
	watch = append(watch, w)
}

// Unregister removes w from the registry. A no-op if w was never
// registered or was already removed.
func Unregister(w Watcher) {
	mu.Lock()
	defer mu.Unlock()
	kept := watch[:0]
	for _, o := range watch {
		if o != w {
			kept = append(kept, o)
		}
	}
	watch = kept
}

// Print logs one full status report: a banner, every registered
// watcher's status lines (recursively indented), and a closing banner.
func Print() {
	mu.Lock()
	snapshot := make([]Watcher, len(watch))
	copy(snapshot, watch)
	mu.Unlock()

	var lines []any
	lines = append(lines, "Report Time: "+time.Now().Format(time.RFC3339))
	for _, o := range snapshot {
		lines = append(lines, o.Status()...)
	}

	log.Printf(" ===== STATUS REPORT =====")
	printLines(lines, 0)
	log.Printf(" ===== END STATUS REPORT =====")
}

func printLines(lines []any, padding int) {
	indent := ""
	for i := 0; i < padding; i++ {
		indent += "  "
	}
	for _, line := range lines {
		if nested, ok := line.([]any); ok {
			printLines(nested, padding+1)
			continue
		}
		log.Printf("[status] %s%v", indent, line)
	}
}

// Run prints a status report immediately, then every interval, until ctx
// is cancelled — at which point it prints one final report before
// returning, printing one final report first.
func Run(ctx context.Context, interval time.Duration) {
	Print()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			Print()
			return
		case <-t.C:
			Print()
		}
	}
}
