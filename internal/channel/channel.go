// Package channel tracks one channel-like feed, discovering broadcasts
// either via push (ingress.Server.Subscribe) or by polling a JSON
// sidebar endpoint, and spawns a Broadcast for every new live/upcoming
// video id found.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/snapetech/timelapsed/internal/httpclient"
	"github.com/snapetech/timelapsed/internal/metrics"
)

const channelDataURL = "https://www.youtube.com/channel/%s?pbj=1"

var commonHeaders = map[string]string{
	"x-youtube-client-name":    "1",
	"x-youtube-client-version": "2.20200623.04.00",
}

// BroadcastFactory starts tracking videoID under dir, called once per
// newly discovered broadcast. forceRefresh re-arms an already-tracked
// broadcast instead of starting a new one.
type BroadcastFactory func(videoID, dir string)

// Tracked is the subset of a tracked broadcast's lifecycle the watcher
// needs: re-arming it on a repeated push/poll hit.
type Tracked interface {
	ForceRefresh()
}

// Watcher tracks one channel: who is live, who is upcoming, dispatching
// a Tracked per videoId.
type Watcher struct {
	ChannelID    string
	DownloadRoot string
	TitleFilter  *regexp.Regexp

	NewBroadcast func(videoID, dir string) Tracked
	FinishedFunc func(videoID string) // optional hook invoked after finish

	HTTPClient *http.Client
	Metrics    *metrics.Set

	mu       sync.RWMutex
	tracking map[string]Tracked
}

// NewWatcher constructs a Watcher and performs one immediate poll,
// swallowing any poll error, matching the original watcher's
// try/except-wrapped initial poll.
func NewWatcher(channelID, downloadRoot string, titleFilter *regexp.Regexp, newBroadcast func(videoID, dir string) Tracked, ms *metrics.Set) *Watcher {
	w := &Watcher{
		ChannelID:    channelID,
		DownloadRoot: downloadRoot,
		TitleFilter:  titleFilter,
		NewBroadcast: newBroadcast,
		HTTPClient:   httpclient.ForPolling(),
		Metrics:      ms,
		tracking:     make(map[string]Tracked),
	}
	if err := w.poll(); err != nil {
		log.Printf("channel %s: initial poll error: %v", channelID, err)
	}
	return w
}

// WatchVideo implements ingress.Watcher for both the push and poll
// paths: force-refresh if videoID is already tracked (the title filter
// only gates the creation of a new Broadcast, not a refresh of one
// already being recorded), else apply the title filter and start a new
// Broadcast. Locking matches the original's `with self.lock:` critical
// section.
func (w *Watcher) WatchVideo(videoID, title string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.tracking[videoID]; ok {
		t.ForceRefresh()
		return
	}
	if w.TitleFilter != nil && !w.TitleFilter.MatchString(title) {
		return
	}
	dir := w.DownloadRoot + "/" + videoID
	w.tracking[videoID] = w.NewBroadcast(videoID, dir)
	if w.Metrics != nil {
		w.Metrics.BroadcastsTracked.WithLabelValues(w.ChannelID).Inc()
	}
}

// finishTracking removes videoID from the tracking table. Takes the
// argument directly rather than a stale self-reference (the original's
// finish_tracking mistakenly deletes self.video_id, an attribute that
// does not even exist on the channel watcher).
func (w *Watcher) finishTracking(videoID string) {
	w.mu.Lock()
	_, tracked := w.tracking[videoID]
	delete(w.tracking, videoID)
	w.mu.Unlock()
	if tracked && w.Metrics != nil {
		w.Metrics.BroadcastsTracked.WithLabelValues(w.ChannelID).Dec()
	}
	if w.FinishedFunc != nil {
		w.FinishedFunc(videoID)
	}
}

// FinishTracking is the exported hook Broadcasts call on completion.
func (w *Watcher) FinishTracking(videoID string) { w.finishTracking(videoID) }

type sidebarBadge struct {
	Style string `json:"style"`
}

type upcomingEventData struct {
	StartTime string `json:"startTime"`
}

// videoRenderer is a loose, partial shape of the nodes that carry a
// videoId in the channel sidebar JSON; real payloads nest this many
// levels deep under varying renderer keys, so pollCandidates walks the
// raw tree rather than unmarshaling into a fixed schema (mirroring the
// original's objectpath-style descent).
type videoRenderer struct {
	VideoID            string              `json:"videoId"`
	Title              *simpleText         `json:"title"`
	Badges             []badgeWrapper      `json:"badges"`
	UpcomingEventData  *upcomingEventData  `json:"upcomingEventData"`
}

type badgeWrapper struct {
	Metadata *sidebarBadge `json:"metadataBadgeRenderer"`
}

type simpleText struct {
	SimpleText string `json:"simpleText"`
}

// poll fetches the channel sidebar JSON and walks it for upcoming or
// currently-live renderers.
func (w *Watcher) poll() error {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf(channelDataURL, w.ChannelID), nil)
	if err != nil {
		return err
	}
	for k, v := range commonHeaders {
		req.Header.Set(k, v)
	}
	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("channel %s: poll request: %w", w.ChannelID, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("channel %s: poll read: %w", w.ChannelID, err)
	}

	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return fmt.Errorf("channel %s: poll decode: %w", w.ChannelID, err)
	}

	found := make(map[string]videoRenderer)
	walkRenderers(root, found)

	for videoID, vr := range found {
		title := ""
		if vr.Title != nil {
			title = vr.Title.SimpleText
		}
		log.Printf("channel %s: poll found %s: %s", w.ChannelID, videoID, title)
		w.WatchVideo(videoID, title)
	}
	return nil
}

// walkRenderers recursively descends a decoded JSON tree collecting
// every object that looks like a video renderer with either an
// upcoming scheduled start time > 0, or a BADGE_STYLE_TYPE_LIVE_NOW
// badge — the two predicates in the original's objectpath query.
func walkRenderers(node any, out map[string]videoRenderer) {
	switch v := node.(type) {
	case map[string]any:
		if vid, ok := v["videoId"].(string); ok && vid != "" {
			vr := videoRenderer{VideoID: vid}
			if t, ok := v["title"].(map[string]any); ok {
				if s, ok := t["simpleText"].(string); ok {
					vr.Title = &simpleText{SimpleText: s}
				}
			}
			isUpcoming := false
			if ev, ok := v["upcomingEventData"].(map[string]any); ok {
				if st, ok := ev["startTime"].(string); ok && st != "" && st != "0" {
					isUpcoming = true
				}
			}
			isLive := false
			if badges, ok := v["badges"].([]any); ok {
				for _, b := range badges {
					bm, ok := b.(map[string]any)
					if !ok {
						continue
					}
					mbr, ok := bm["metadataBadgeRenderer"].(map[string]any)
					if !ok {
						continue
					}
					if style, _ := mbr["style"].(string); style == "BADGE_STYLE_TYPE_LIVE_NOW" {
						isLive = true
					}
				}
			}
			if isUpcoming || isLive {
				if _, already := out[vid]; !already {
					out[vid] = vr
				}
			}
		}
		for _, child := range v {
			walkRenderers(child, out)
		}
	case []any:
		for _, child := range v {
			walkRenderers(child, out)
		}
	}
}

// RunPoll calls poll every interval until ctx is cancelled, logging (not
// propagating) poll errors, matching run_poll's bare except-and-continue.
func (w *Watcher) RunPoll(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.poll(); err != nil {
				log.Printf("channel %s: poll error: %v", w.ChannelID, err)
			}
		}
	}
}

// Status implements status.Watcher.
func (w *Watcher) Status() []any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	lines := []any{fmt.Sprintf("channel %s: %d tracked broadcast(s)", w.ChannelID, len(w.tracking))}
	for videoID := range w.tracking {
		lines = append(lines, fmt.Sprintf("video %s", videoID))
	}
	return lines
}
