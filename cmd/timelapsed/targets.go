package main

import (
	"time"

	"github.com/snapetech/timelapsed/internal/config"
)

// channelTargets, roomTargets, and urlTargets are the compiled-in
// target lists; there are no flags for configuring them at runtime.
// Channel IDs below mirror the original daemon's tuple of
// (channel_id, download_path) pairs.
var channelTargets = []config.ChannelTarget{
	{ChannelID: "UCp6993wxpyDPHUpavwDFqgg", DownloadRoot: "recordings/youtube/sora"},
	{ChannelID: "UCDqI2jOz0weumE8s7paEk6g", DownloadRoot: "recordings/youtube/roboco"},
	{ChannelID: "UC-hM6YJuNYVAmUWxeIr9FeA", DownloadRoot: "recordings/youtube/miko"},
	{ChannelID: "UC5CwaMl1eIgY8h02uZw7u8A", DownloadRoot: "recordings/youtube/suisei"},
	{ChannelID: "UCdn5BQ06XqgXoAxIhbqw5Rg", DownloadRoot: "recordings/youtube/fubuki"},
	{ChannelID: "UC1DCedRgGHBdm81E1llLhOQ", DownloadRoot: "recordings/youtube/pekora", PollMode: true, PollInterval: 10 * time.Minute},
}

var roomTargets = []config.RoomTarget{
	{
		RoomID:       "21452505",
		DownloadRoot: "recordings/bilibili/example-room",
		ChatHost:     "broadcastlv.chat.bilibili.com:2243",
		InfoURL:      "https://api.live.bilibili.com/room/v1/Room/get_info?room_id=%s",
	},
}

var urlTargets = []config.URLTarget{
	{
		URL:          "https://example.invalid/live/daily-timelapse.m3u8",
		DownloadRoot: "recordings/timelapse/daily-sunrise",
		DailyOffsets: []int{6 * 3600},
		Duration:     45 * time.Minute,
	},
}
