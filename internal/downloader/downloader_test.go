package downloader

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"
)

func TestStartProcessHandleRunsToCleanExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("assumes a POSIX shell is on PATH")
	}
	h, err := startProcessHandle(context.Background(), BackendGenericExtractor, "/bin/sh", []string{"-c", "exit 0"}, "t", syscall.SIGINT)
	if err != nil {
		t.Fatalf("startProcessHandle: %v", err)
	}
	if !h.Wait(5 * time.Second) {
		t.Fatal("expected the process to exit within 5s")
	}
	if h.IsRunning() {
		t.Fatal("expected IsRunning() to be false after exit")
	}
	if !h.Finished() {
		t.Fatal("expected Finished() to be true for exit code 0")
	}
}

func TestStartProcessHandleFinishedFalseOnNonzeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("assumes a POSIX shell is on PATH")
	}
	h, err := startProcessHandle(context.Background(), BackendGenericExtractor, "/bin/sh", []string{"-c", "exit 1"}, "t", syscall.SIGINT)
	if err != nil {
		t.Fatalf("startProcessHandle: %v", err)
	}
	h.Wait(5 * time.Second)
	if h.Finished() {
		t.Fatal("expected Finished() to be false for a nonzero exit code")
	}
}

func TestAltExtractorHandleFinishedRequiresOutputFile(t *testing.T) {
	dir := t.TempDir()
	ph := &processHandle{waitDone: make(chan struct{})}
	close(ph.waitDone) // simulate an already-exited process with exit code 0

	h := &altExtractorHandle{processHandle: ph, dir: dir, filename: "myvideo"}
	if h.Finished() {
		t.Fatal("expected Finished() to be false when no output file exists yet")
	}

	f, err := os.Create(filepath.Join(dir, "myvideo.mp4"))
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	if !h.Finished() {
		t.Fatal("expected Finished() to be true once a matching output file exists")
	}
}

func TestProcessHandleIsRunningBeforeAndAfterWaitDone(t *testing.T) {
	ph := &processHandle{waitDone: make(chan struct{})}
	if !ph.IsRunning() {
		t.Fatal("expected IsRunning() to be true before waitDone is closed")
	}
	close(ph.waitDone)
	if ph.IsRunning() {
		t.Fatal("expected IsRunning() to be false after waitDone is closed")
	}
}

func TestProcessHandleFinishedReflectsWaitErr(t *testing.T) {
	ph := &processHandle{waitDone: make(chan struct{})}
	close(ph.waitDone)
	if !ph.Finished() {
		t.Fatal("expected Finished() to be true when waitErr is nil")
	}

	ph2 := &processHandle{waitDone: make(chan struct{})}
	ph2.waitErr = context.DeadlineExceeded
	close(ph2.waitDone)
	if ph2.Finished() {
		t.Fatal("expected Finished() to be false when waitErr is non-nil")
	}
}
