// Package room implements a persistent TCP client speaking a framed
// binary chat protocol against a Bilibili-like live room, reconnecting
// on staleness or error and triggering recordings on room-state
// events. The wire framing follows the danmaku protocol's manual
// big-endian packet construction, with a non-blocking read loop driven
// by a socket deadline.
package room

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/snapetech/timelapsed/internal/downloader"
	"github.com/snapetech/timelapsed/internal/hooks"
	"github.com/snapetech/timelapsed/internal/metrics"
)

// Protocol identifies how a frame's body is encoded.
const (
	protocolPlainJSON  = 0 // payload is JSON
	protocolHeartbeat  = 1 // payload is a big-endian int32 (or, on the join frame only, JSON)
	protocolCompressed = 2 // payload is a zlib-compressed stream of further frames
)

// Operation identifies what a frame means.
const (
	opHeartbeat      = 2
	opHeartbeatReply = 3
	opMessage        = 5
	opJoinRoom       = 7
	opJoinRoomReply  = 8
)

const frameHeaderLen = 16

// clientVersion is the pinned client version the join frame reports.
const clientVersion = "2.6.25"

// frame is one decoded wire frame: total_len u32, header_len u16,
// protocol u16, operation u32, version u32.
type frame struct {
	Protocol  uint16
	Operation uint32
	Version   uint32
	Body      []byte
}

func encodeFrame(protocol uint16, operation uint32, version uint32, body []byte) []byte {
	total := frameHeaderLen + len(body)
	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	binary.BigEndian.PutUint16(buf[4:6], frameHeaderLen)
	binary.BigEndian.PutUint16(buf[6:8], protocol)
	binary.BigEndian.PutUint32(buf[8:12], operation)
	binary.BigEndian.PutUint32(buf[12:16], version)
	copy(buf[frameHeaderLen:], body)
	return buf
}

// readFrame reads exactly one frame from r, blocking until the header
// and body arrive or the deadline set on the underlying conn expires.
func readFrame(r io.Reader) (frame, error) {
	var header [frameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return frame{}, err
	}
	total := binary.BigEndian.Uint32(header[0:4])
	headerLen := binary.BigEndian.Uint16(header[4:6])
	if int(headerLen) != frameHeaderLen || int(total) < frameHeaderLen {
		return frame{}, fmt.Errorf("room: malformed frame header total=%d header_len=%d", total, headerLen)
	}
	protocol := binary.BigEndian.Uint16(header[6:8])
	operation := binary.BigEndian.Uint32(header[8:12])
	version := binary.BigEndian.Uint32(header[12:16])
	bodyLen := int(total) - frameHeaderLen
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return frame{}, err
		}
	}
	return frame{Protocol: protocol, Operation: operation, Version: version, Body: body}, nil
}

// Event names a room-state change cmd value.
type Event string

const (
	EventLive       Event = "LIVE"
	EventRound      Event = "ROUND"
	EventClose      Event = "CLOSE"
	EventPreparing  Event = "PREPARING"
	EventEnd        Event = "END"
	EventRoomChange Event = "ROOM_CHANGE"
)

var needPollEvents = map[Event]bool{
	EventLive: true, EventRound: true, EventClose: true,
	EventPreparing: true, EventEnd: true, EventRoomChange: true,
}

type roomMessage struct {
	Cmd string `json:"cmd"`
}

// Watcher tracks one room: the persistent chat connection and the
// recording it starts/stops as the room's live status changes.
type Watcher struct {
	RoomID            string
	Dir               string // root directory; each live session gets root/<live_start_time>
	TitleFilter       *regexp.Regexp
	ChatHost          string
	InfoURL           string // %s = RoomID
	HeartbeatInterval time.Duration
	ErrorRecoverWait  time.Duration

	StartDownload downloader.Factory
	Hooks         hooks.Hooks
	Metrics       *metrics.Set
	HTTPClient    *http.Client

	mu            sync.Mutex
	dl            downloader.Handle
	recordDir     string
	liveStartTime int64
	hasFinished   bool
	finished      bool
	lastRecv      time.Time
}

// NewWatcher constructs a room Watcher with sane defaults.
func NewWatcher(roomID, dir, chatHost, infoURL string, heartbeatInterval, errorRecoverWait time.Duration, start downloader.Factory, h hooks.Hooks) *Watcher {
	return &Watcher{
		RoomID:            roomID,
		Dir:               dir,
		ChatHost:          chatHost,
		InfoURL:           infoURL,
		HeartbeatInterval: heartbeatInterval,
		ErrorRecoverWait:  errorRecoverWait,
		StartDownload:     start,
		Hooks:             h,
		HTTPClient:        &http.Client{Timeout: 15 * time.Second},
	}
}

// Run connects, reconnects on error/staleness, and blocks until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := w.connectAndServe(ctx); err != nil {
			log.Printf("room %s: connection error: %v", w.RoomID, err)
			if w.Metrics != nil {
				w.Metrics.RoomReconnects.WithLabelValues(w.RoomID).Inc()
			}
		}
		if ctx.Err() != nil {
			return
		}
		wait := w.ErrorRecoverWait
		if wait <= 0 {
			wait = 10 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (w *Watcher) connectAndServe(ctx context.Context) error {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", w.ChatHost)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.ChatHost, err)
	}
	defer conn.Close()
	log.Printf("room %s: connected to %s", w.RoomID, w.ChatHost)

	if err := w.sendJoin(conn); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	w.mu.Lock()
	w.lastRecv = time.Now()
	w.mu.Unlock()

	heartbeat := w.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	staleAfter := 3 * heartbeat

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		conn.Close()
	}()
	defer func() { <-done }()

	heartbeatTicker := time.NewTicker(heartbeat)
	defer heartbeatTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeatTicker.C:
				if err := w.sendHeartbeat(conn); err != nil {
					return
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(heartbeat))
		f, err := readFrame(conn)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				w.mu.Lock()
				stale := time.Since(w.lastRecv) > staleAfter
				w.mu.Unlock()
				if stale {
					return fmt.Errorf("connection stale (no data for >%s)", staleAfter)
				}
				continue
			}
			return err
		}
		w.mu.Lock()
		w.lastRecv = time.Now()
		w.mu.Unlock()
		if err := w.handleFrame(ctx, f); err != nil {
			log.Printf("room %s: frame handling error: %v", w.RoomID, err)
		}
		if w.dl != nil && !w.dl.IsRunning() {
			w.poll(ctx)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// sendJoin sends the join frame: op=7, protocol=1, payload
// {uid, roomid, protover, platform, clientver, type}.
func (w *Watcher) sendJoin(conn net.Conn) error {
	var roomID any = w.RoomID
	if n, err := strconv.ParseInt(w.RoomID, 10, 64); err == nil {
		roomID = n
	}
	payload, err := json.Marshal(map[string]any{
		"uid":       0,
		"roomid":    roomID,
		"protover":  2,
		"platform":  "web",
		"clientver": clientVersion,
		"type":      2,
	})
	if err != nil {
		return err
	}
	_, err = conn.Write(encodeFrame(protocolHeartbeat, opJoinRoom, 1, payload))
	return err
}

func (w *Watcher) sendHeartbeat(conn net.Conn) error {
	_, err := conn.Write(encodeFrame(protocolHeartbeat, opHeartbeat, 1, nil))
	return err
}

// handleFrame dispatches one decoded frame, recursing into
// zlib-compressed sub-frames (protocol=2).
func (w *Watcher) handleFrame(ctx context.Context, f frame) error {
	switch f.Protocol {
	case protocolCompressed:
		zr, err := zlib.NewReader(bytes.NewReader(f.Body))
		if err != nil {
			return fmt.Errorf("zlib: %w", err)
		}
		defer zr.Close()
		raw, err := io.ReadAll(zr)
		if err != nil {
			return fmt.Errorf("zlib read: %w", err)
		}
		r := bytes.NewReader(raw)
		for r.Len() > 0 {
			sub, err := readFrame(r)
			if err != nil {
				if err == io.EOF {
					break
				}
				return err
			}
			if err := w.handleFrame(ctx, sub); err != nil {
				log.Printf("room %s: sub-frame handling error: %v", w.RoomID, err)
			}
		}
		return nil
	}

	switch f.Operation {
	case opJoinRoomReply:
		log.Printf("room %s: join accepted", w.RoomID)
		w.poll(ctx)
	case opMessage:
		var msg roomMessage
		if err := json.Unmarshal(f.Body, &msg); err != nil {
			return nil // not every message frame is JSON we care about
		}
		if needPollEvents[Event(msg.Cmd)] {
			w.poll(ctx)
		}
	}
	return nil
}

type roomInfo struct {
	Data struct {
		RoomInfo struct {
			LiveStatus    int    `json:"live_status"`
			LiveStartTime int64  `json:"live_start_time"`
			Title         string `json:"title"`
		} `json:"room_info"`
	} `json:"data"`
}

// poll fetches room info and starts/stops/restarts recording per the
// documented room-watcher poll contract: a changed live_start_time ends
// the current recording before the new one starts, and a handle that
// has stopped running without the room itself going offline is
// restarted into the same directory rather than treated as final.
func (w *Watcher) poll(ctx context.Context) {
	if w.InfoURL == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(w.InfoURL, w.RoomID), nil)
	if err != nil {
		log.Printf("room %s: poll request: %v", w.RoomID, err)
		return
	}
	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		log.Printf("room %s: poll: %v", w.RoomID, err)
		return
	}
	defer resp.Body.Close()
	var info roomInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		log.Printf("room %s: poll decode: %v", w.RoomID, err)
		return
	}

	if info.Data.RoomInfo.LiveStatus != 1 {
		w.stopRecording()
		return
	}

	w.mu.Lock()
	startTimeChanged := w.liveStartTime != 0 && w.liveStartTime != info.Data.RoomInfo.LiveStartTime
	hasHandle := w.dl != nil
	running := hasHandle && w.dl.IsRunning()
	w.mu.Unlock()

	if startTimeChanged {
		w.stopRecording()
		hasHandle = false
	}

	switch {
	case !hasHandle:
		if w.TitleFilter != nil && !w.TitleFilter.MatchString(info.Data.RoomInfo.Title) {
			return
		}
		w.startRecording(ctx, info.Data.RoomInfo.LiveStartTime)
	case !running:
		w.mu.Lock()
		if w.dl.Finished() {
			w.hasFinished = true
		}
		dir := w.recordDir
		w.mu.Unlock()
		w.restartRecording(ctx, dir)
	}
}

func (w *Watcher) liveDir(liveStartTime int64) string {
	return fmt.Sprintf("%s/%d", w.Dir, liveStartTime)
}

func (w *Watcher) startRecording(ctx context.Context, liveStartTime int64) {
	dir := w.liveDir(liveStartTime)
	dl := w.spawnDownloader(ctx, dir)
	if dl == nil {
		return
	}
	w.mu.Lock()
	w.dl = dl
	w.recordDir = dir
	w.liveStartTime = liveStartTime
	w.hasFinished = false
	w.mu.Unlock()
	log.Printf("room %s: recording started in %s", w.RoomID, dir)
	w.Hooks.RunStarted(w.RoomID, dir, func(rec any) {
		log.Printf("room %s: started_download hook panicked: %v", w.RoomID, rec)
	})
	if w.Metrics != nil {
		w.Metrics.RecordingsActive.WithLabelValues("bilibili").Inc()
	}
}

// restartRecording re-spawns the downloader into the same directory
// after it has stopped running while the room is still live.
func (w *Watcher) restartRecording(ctx context.Context, dir string) {
	dl := w.spawnDownloader(ctx, dir)
	if dl == nil {
		return
	}
	w.mu.Lock()
	w.dl = dl
	w.mu.Unlock()
	log.Printf("room %s: recording restarted in %s", w.RoomID, dir)
}

func (w *Watcher) spawnDownloader(ctx context.Context, dir string) downloader.Handle {
	if w.StartDownload == nil {
		return nil
	}
	url := fmt.Sprintf("https://live.bilibili.com/%s", w.RoomID)
	dl, err := w.StartDownload(ctx, url, dir, w.RoomID)
	if err != nil {
		log.Printf("room %s: failed to start downloader: %v", w.RoomID, err)
		return nil
	}
	return dl
}

// stopRecording runs the finish-then-cleanup contract in its own
// goroutine so poll() (called from the TCP read loop) never blocks on
// the downloader's graceful shutdown.
func (w *Watcher) stopRecording() {
	w.mu.Lock()
	dl := w.dl
	dir := w.recordDir
	hasFinished := w.hasFinished
	w.dl = nil
	w.recordDir = ""
	w.liveStartTime = 0
	w.hasFinished = false
	w.mu.Unlock()
	if dl == nil {
		return
	}
	go w.endRecording(dl, dir, hasFinished)
}

func (w *Watcher) endRecording(dl downloader.Handle, dir string, hasFinished bool) {
	if dl.IsRunning() {
		dl.Wait(45 * time.Second)
	}
	if dl.IsRunning() {
		dl.Interrupt()
		dl.Wait(0)
	}
	finished := hasFinished || dl.Finished()
	if dl.IsRunning() {
		dl.Kill()
	}
	w.mu.Lock()
	w.finished = finished
	w.mu.Unlock()
	if w.Metrics != nil {
		w.Metrics.RecordingsActive.WithLabelValues("bilibili").Dec()
	}
	log.Printf("room %s: recording ended finished=%t", w.RoomID, finished)
	w.Hooks.RunPost(w.RoomID, dir, finished, func(rec any) {
		log.Printf("room %s: post_download hook panicked: %v", w.RoomID, rec)
	})
}

// Status implements status.Watcher.
func (w *Watcher) Status() []any {
	w.mu.Lock()
	defer w.mu.Unlock()
	recording := w.dl != nil && w.dl.IsRunning()
	return []any{fmt.Sprintf("room %s: live_start_time=%d recording=%t", w.RoomID, w.liveStartTime, recording)}
}
