package status

import "testing"

type fakeWatcher struct {
	lines []any
}

func (f *fakeWatcher) Status() []any { return f.lines }

func TestRegisterUnregister(t *testing.T) {
	mu.Lock()
	watch = nil
	mu.Unlock()

	w1 := &fakeWatcher{lines: []any{"a"}}
	w2 := &fakeWatcher{lines: []any{"b"}}
	Register(w1)
	Register(w2)

	mu.Lock()
	n := len(watch)
	mu.Unlock()
	if n != 2 {
		t.Fatalf("watch count = %d, want 2", n)
	}

	Unregister(w1)
	mu.Lock()
	n = len(watch)
	remaining := watch[0]
	mu.Unlock()
	if n != 1 {
		t.Fatalf("watch count after unregister = %d, want 1", n)
	}
	if remaining != Watcher(w2) {
		t.Fatalf("expected w2 to remain registered")
	}

	Unregister(w2)
	mu.Lock()
	n = len(watch)
	mu.Unlock()
	if n != 0 {
		t.Fatalf("watch count after second unregister = %d, want 0", n)
	}
}

func TestPrintHandlesNestedLines(t *testing.T) {
	mu.Lock()
	watch = nil
	mu.Unlock()

	Register(&fakeWatcher{lines: []any{"top", []any{"nested-1", "nested-2"}}})
	defer func() {
		mu.Lock()
		watch = nil
		mu.Unlock()
	}()

	// Print must not panic on nested status lines.
	Print()
}
