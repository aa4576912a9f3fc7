package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

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

func (h *fakeHandle) Interrupt()              { h.running.Store(false); h.finished.Store(true) }
func (h *fakeHandle) Kill()                   { h.running.Store(false) }
func (h *fakeHandle) Wait(time.Duration) bool { return !h.running.Load() }
func (h *fakeHandle) IsRunning() bool         { return h.running.Load() }
func (h *fakeHandle) Finished() bool          { return h.finished.Load() }

func TestForceRefreshSetsFlag(t *testing.T) {
	r := New("vid1", "/tmp/x", time.Millisecond, time.Second, time.Hour, nil, hooks.Hooks{})
	r.forceRefresh = false
	r.ForceRefresh()
	if !r.forceRefresh {
		t.Fatal("expected forceRefresh to be true after ForceRefresh()")
	}
}

func TestWaitForLiveReturnsTrueOnOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"playabilityStatus":{"status":"OK","liveStreamability":{}}}`))
	}))
	defer srv.Close()

	r := New("vid1", "/tmp/x", time.Millisecond, time.Millisecond, time.Hour, nil, hooks.Hooks{})
	r.HTTPClient = srv.Client()
	r.HeartbeatURL = srv.URL

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !r.waitForLive(ctx) {
		t.Fatal("expected waitForLive to return true for OK status with liveStreamability present")
	}
}

func TestWaitForLiveReturnsFalseOnUploadedVideo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"playabilityStatus":{"status":"OK"}}`))
	}))
	defer srv.Close()

	r := New("vid1", "/tmp/x", time.Millisecond, time.Millisecond, time.Hour, nil, hooks.Hooks{})
	r.HTTPClient = srv.Client()
	r.HeartbeatURL = srv.URL

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if r.waitForLive(ctx) {
		t.Fatal("expected waitForLive to return false when liveStreamability is absent (uploaded VOD)")
	}
}

func TestWaitForLiveReturnsFalseOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer srv.Close()

	r := New("vid1", "/tmp/x", time.Millisecond, time.Millisecond, time.Hour, nil, hooks.Hooks{})
	r.HTTPClient = srv.Client()
	r.HeartbeatURL = srv.URL

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if r.waitForLive(ctx) {
		t.Fatal("expected waitForLive to return false on an oracle error response")
	}
}

func TestFinishDownloadEscalatesFromRunningToKill(t *testing.T) {
	r := New("vid1", "/tmp/x", time.Millisecond, time.Millisecond, time.Hour, nil, hooks.Hooks{})
	h := newFakeHandle()
	h.running.Store(false)
	h.finished.Store(true)
	r.finishDownload(h)
	if !r.finished {
		t.Fatal("expected r.finished to be true when the handle reports Finished()")
	}
}

func TestCleanupCallsFinishTracking(t *testing.T) {
	r := New("vid1", "/tmp/x", time.Millisecond, time.Millisecond, time.Hour, nil, hooks.Hooks{})
	called := ""
	r.FinishTracking = func(videoID string) { called = videoID }
	r.cleanup()
	if called != "vid1" {
		t.Fatalf("expected FinishTracking called with vid1, got %q", called)
	}
}
