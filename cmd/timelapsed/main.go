// Command timelapsed is a long-running supervisor that monitors a
// compiled-in list of YouTube-like channels, Bilibili-like live rooms,
// and direct URLs, recording each broadcast to disk as it goes live.
// The target list lives in targets.go; there are no command-line flags
// for it, matching the original daemon's compiled-in channel tuple.
package main

import (
	"context"
	"log"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/snapetech/timelapsed/internal/broadcast"
	"github.com/snapetech/timelapsed/internal/channel"
	"github.com/snapetech/timelapsed/internal/config"
	"github.com/snapetech/timelapsed/internal/downloader"
	"github.com/snapetech/timelapsed/internal/ingress"
	"github.com/snapetech/timelapsed/internal/metrics"
	"github.com/snapetech/timelapsed/internal/room"
	"github.com/snapetech/timelapsed/internal/status"
	"github.com/snapetech/timelapsed/internal/urlwatch"
)

func main() {
	op := config.Load()
	ms := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ingressSrv *ingress.Server
	if needsIngress(channelTargets) {
		ingressSrv = ingress.NewServer(op.IngressAddr, op.IngressCallbackBase, op.LeaseSeconds, op.LeaseRenewalPeriod, op.LeaseRenewalSleepBetween)
		go func() {
			if err := ingressSrv.Run(ctx); err != nil {
				log.Printf("ingress server exited: %v", err)
			}
		}()
	}

	go func() {
		if err := ms.Serve(ctx, op.MetricsAddr); err != nil {
			log.Printf("metrics server exited: %v", err)
		}
	}()
	go status.Run(ctx, op.StatusPrintInterval)

	for _, ct := range channelTargets {
		startChannel(ctx, op, ms, ingressSrv, ct)
	}
	for _, rt := range roomTargets {
		startRoom(ctx, op, ms, rt)
	}
	for _, ut := range urlTargets {
		startURLWatch(ut)
	}

	<-ctx.Done()
	log.Print("shutting down")
}

func needsIngress(targets []config.ChannelTarget) bool {
	for _, ct := range targets {
		if !ct.PollMode {
			return true
		}
	}
	return false
}

func downloaderBackendFor(platform string) downloader.Factory {
	switch platform {
	case "bilibili":
		return downloader.StartSegmentedPuller
	default:
		return downloader.StartGenericExtractor
	}
}

func compileTitleFilter(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		log.Printf("invalid title filter %q: %v", pattern, err)
		return nil
	}
	return re
}

func startChannel(ctx context.Context, op config.Operational, ms *metrics.Set, ingressSrv *ingress.Server, ct config.ChannelTarget) {
	heartbeat := ct.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = op.HeartbeatInterval
	}
	upcomingPollStart := ct.UpcomingPollStart
	if upcomingPollStart <= 0 {
		upcomingPollStart = op.UpcomingPollStart
	}

	var cw *channel.Watcher
	newBroadcast := func(videoID, dir string) channel.Tracked {
		r := broadcast.New(videoID, dir, heartbeat, upcomingPollStart, op.URLExpire, downloaderBackendFor("youtube"), ct.Hooks)
		r.Metrics = ms
		r.MetricsPlatform = "youtube"
		r.FinishTracking = cw.FinishTracking
		status.Register(r)
		go func() {
			defer status.Unregister(r)
			r.Run(ctx)
		}()
		return r
	}

	cw = channel.NewWatcher(ct.ChannelID, ct.DownloadRoot, compileTitleFilter(ct.TitleFilter), newBroadcast, ms)
	status.Register(cw)

	if ct.PollMode {
		pollInterval := ct.PollInterval
		if pollInterval <= 0 {
			pollInterval = 15 * time.Minute
		}
		log.Printf("channel %s: monitoring via polling", ct.ChannelID)
		go cw.RunPoll(ctx, pollInterval)
	} else if ingressSrv != nil {
		log.Printf("channel %s: monitoring via push ingress", ct.ChannelID)
		if err := ingressSrv.Subscribe(ctx, ct.ChannelID, cw); err != nil {
			log.Printf("channel %s: subscribe failed: %v", ct.ChannelID, err)
		}
	}
}

func startRoom(ctx context.Context, op config.Operational, ms *metrics.Set, rt config.RoomTarget) {
	errorRecoverWait := rt.ErrorRecoverWait
	if errorRecoverWait <= 0 {
		errorRecoverWait = op.RoomErrorRecoverWait
	}
	w := room.NewWatcher(rt.RoomID, rt.DownloadRoot, rt.ChatHost, rt.InfoURL, rt.HeartbeatInterval, errorRecoverWait, downloaderBackendFor("bilibili"), rt.Hooks)
	w.TitleFilter = compileTitleFilter(rt.TitleFilter)
	w.Metrics = ms
	status.Register(w)
	go func() {
		defer status.Unregister(w)
		w.Run(ctx)
	}()
}

func startURLWatch(ut config.URLTarget) {
	w := urlwatch.NewWatcher(ut.URL, ut.DownloadRoot, ut.DailyOffsets, ut.Duration, downloader.StartSegmentedPuller, ut.Hooks)
	status.Register(w)
	go w.Run(context.Background())
}
