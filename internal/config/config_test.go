package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_defaults(t *testing.T) {
	os.Clearenv()
	op := Load()
	if op.HeartbeatInterval != 15*time.Second {
		t.Errorf("HeartbeatInterval = %s, want 15s", op.HeartbeatInterval)
	}
	if op.UpcomingPollStart != 300*time.Second {
		t.Errorf("UpcomingPollStart = %s, want 300s", op.UpcomingPollStart)
	}
	if op.URLExpire != 6*time.Hour {
		t.Errorf("URLExpire = %s, want 6h", op.URLExpire)
	}
	if op.LeaseSeconds != 432000 {
		t.Errorf("LeaseSeconds = %d, want 432000", op.LeaseSeconds)
	}
	if op.LeaseRenewalPeriod != 86400*time.Second {
		t.Errorf("LeaseRenewalPeriod = %s, want 86400s", op.LeaseRenewalPeriod)
	}
}

func TestLoad_envOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("TIMELAPSED_HEARTBEAT_INTERVAL", "5s")
	os.Setenv("TIMELAPSED_LEASE_SECONDS", "100")
	op := Load()
	if op.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %s, want 5s", op.HeartbeatInterval)
	}
	if op.LeaseSeconds != 100 {
		t.Errorf("LeaseSeconds = %d, want 100", op.LeaseSeconds)
	}
}

func TestLoad_invalidDurationFallsBackToDefault(t *testing.T) {
	os.Clearenv()
	os.Setenv("TIMELAPSED_HEARTBEAT_INTERVAL", "not-a-duration")
	op := Load()
	if op.HeartbeatInterval != 15*time.Second {
		t.Errorf("HeartbeatInterval = %s, want default 15s on invalid input", op.HeartbeatInterval)
	}
}
