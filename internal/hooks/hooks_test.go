package hooks

import "testing"

func TestRunStartedInvokesCallback(t *testing.T) {
	var gotKey, gotDir string
	h := Hooks{StartedDownload: func(key, dir string) {
		gotKey, gotDir = key, dir
	}}
	h.RunStarted("k", "d", nil)
	if gotKey != "k" || gotDir != "d" {
		t.Fatalf("RunStarted did not pass through args, got %q %q", gotKey, gotDir)
	}
}

func TestRunStartedNilCallbackIsNoop(t *testing.T) {
	h := Hooks{}
	h.RunStarted("k", "d", func(any) { t.Fatal("onPanic should not be called") })
}

func TestRunStartedRecoversPanic(t *testing.T) {
	h := Hooks{StartedDownload: func(key, dir string) { panic("boom") }}
	var recovered any
	h.RunStarted("k", "d", func(r any) { recovered = r })
	if recovered != "boom" {
		t.Fatalf("expected recovered panic value %q, got %v", "boom", recovered)
	}
}

func TestRunPostInvokesCallbackWithFinishedFlag(t *testing.T) {
	var gotFinished bool
	h := Hooks{PostDownload: func(key, dir string, finished bool) {
		gotFinished = finished
	}}
	h.RunPost("k", "d", true, nil)
	if !gotFinished {
		t.Fatal("expected finished=true to be passed through")
	}
}

func TestRunPostRecoversPanic(t *testing.T) {
	h := Hooks{PostDownload: func(key, dir string, finished bool) { panic("post-boom") }}
	var recovered any
	h.RunPost("k", "d", false, func(r any) { recovered = r })
	if recovered != "post-boom" {
		t.Fatalf("expected recovered panic value %q, got %v", "post-boom", recovered)
	}
}
