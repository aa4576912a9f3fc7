// Package config holds the supervisor's operational knobs (timing,
// listen addresses, oracle endpoints) plus the declarative target
// types (ChannelTarget, RoomTarget, URLTarget) that the compiled-in
// target list (cmd/timelapsed) is built from. The target list itself
// stays compiled-in Go data, not env/flag driven
// ("the process is a long-running daemon with the target list compiled
// in; no flags").
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/snapetech/timelapsed/internal/hooks"
)

// Operational holds environment-tunable defaults shared across all
// target kinds. Call Load() once at startup.
type Operational struct {
	// HeartbeatInterval is the default per-target heartbeat/oracle poll
	// period when a target doesn't override it.
	HeartbeatInterval time.Duration
	// UpcomingPollStart is the "how close to scheduled start before we
	// stop backing off" window used by the wait-for-live back-off gate.
	UpcomingPollStart time.Duration
	// OracleTimeout bounds a single heartbeat-oracle HTTP call.
	OracleTimeout time.Duration
	// URLExpire is the signed-URL lifetime before a Broadcast Recorder
	// rotates its downloader (default 6h).
	URLExpire time.Duration

	// IngressAddr is the push-ingress HTTP listen address.
	IngressAddr string
	// IngressCallbackBase is this process's externally reachable base
	// URL, used to build hub.callback when subscribing.
	IngressCallbackBase string
	// LeaseSeconds is the PubSubHubbub hub.lease_seconds value.
	LeaseSeconds int
	// LeaseRenewalPeriod is how often the whole subscription set is
	// renewed (default 86400s).
	LeaseRenewalPeriod time.Duration
	// LeaseRenewalSleepBetween is the inter-request sleep during a
	// renewal sweep (default 5s).
	LeaseRenewalSleepBetween time.Duration

	// RoomErrorRecoverWait is the reconnect delay after a room TCP
	// socket error.
	RoomErrorRecoverWait time.Duration

	// StatusPrintInterval is the status registry printer's loop period.
	StatusPrintInterval time.Duration

	// MetricsAddr is the Prometheus /metrics listen address. Empty
	// disables the metrics server.
	MetricsAddr string
}

// Load reads operational config from the environment, applying the
// same literal defaults used throughout this package.
func Load() Operational {
	return Operational{
		HeartbeatInterval:        getEnvDuration("TIMELAPSED_HEARTBEAT_INTERVAL", 15*time.Second),
		UpcomingPollStart:        getEnvDuration("TIMELAPSED_UPCOMING_POLL_START", 300*time.Second),
		OracleTimeout:            getEnvDuration("TIMELAPSED_ORACLE_TIMEOUT", 15*time.Second),
		URLExpire:                getEnvDuration("TIMELAPSED_URL_EXPIRE", 6*time.Hour),
		IngressAddr:              getEnv("TIMELAPSED_INGRESS_ADDR", ":18001"),
		IngressCallbackBase:      getEnv("TIMELAPSED_INGRESS_CALLBACK_BASE", ""),
		LeaseSeconds:             getEnvInt("TIMELAPSED_LEASE_SECONDS", 432000),
		LeaseRenewalPeriod:       getEnvDuration("TIMELAPSED_LEASE_RENEWAL_PERIOD", 86400*time.Second),
		LeaseRenewalSleepBetween: getEnvDuration("TIMELAPSED_LEASE_RENEWAL_SLEEP", 5*time.Second),
		RoomErrorRecoverWait:     getEnvDuration("TIMELAPSED_ROOM_ERROR_RECOVER_WAIT", 10*time.Second),
		StatusPrintInterval:      getEnvDuration("TIMELAPSED_STATUS_INTERVAL", 300*time.Second),
		MetricsAddr:              getEnv("TIMELAPSED_METRICS_ADDR", ":9108"),
	}
}

// ChannelTarget describes one tracked channel-like feed.
type ChannelTarget struct {
	ChannelID         string
	DownloadRoot      string
	HeartbeatInterval time.Duration // 0 = use Operational.HeartbeatInterval
	UpcomingPollStart time.Duration // 0 = use Operational.UpcomingPollStart
	TitleFilter       string        // optional regexp; empty = match all
	PollMode          bool          // if true, poll on PollInterval instead of subscribing
	PollInterval      time.Duration
	Hooks             hooks.Hooks
}

// RoomTarget describes one tracked Bilibili-like live room.
type RoomTarget struct {
	RoomID            string
	DownloadRoot      string
	TitleFilter       string
	HeartbeatInterval time.Duration // room TCP heartbeat cadence
	ErrorRecoverWait  time.Duration // 0 = use Operational.RoomErrorRecoverWait
	ChatHost          string        // host for the framed TCP chat connection
	InfoURL           string        // room info JSON endpoint, %s = RoomID
	Hooks             hooks.Hooks
}

// URLTarget describes a direct-URL, schedule-driven recording (the
// supplemental watcher recovered from original_source/streamurl.py).
type URLTarget struct {
	URL          string
	DownloadRoot string
	// DailyOffsets are wall-clock seconds-since-midnight-local at which
	// a new recording window starts (e.g. {0} for daily at midnight).
	DailyOffsets []int
	Duration     time.Duration
	PollInterval time.Duration // how finely to re-check near the boundary
	Hooks        hooks.Hooks
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
