package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/ctrldec/trafficmirror/internal/api"
	"github.com/ctrldec/trafficmirror/internal/config"
	"github.com/ctrldec/trafficmirror/internal/mirror"
)

const uploadTimeout = 2 * time.Minute

// uploadRecording sends the exported recording of the finished run to the
// replay server. Failures are logged; the recording stays on disk.
func uploadRecording(apiCfg config.APIConfig, path string, session *mirror.Session) {
	if !apiCfg.Upload || path == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	client := api.New(apiCfg.ServerURL, apiCfg.APIKey)
	if err := client.Healthcheck(ctx); err != nil {
		Logger.Warn("Replay server unreachable, skipping upload", "url", apiCfg.ServerURL, "error", err)
		return
	}

	meta := api.RecordingMeta{
		SimDuration: session.Time(),
		Ticks:       session.Tick(),
		Tag:         apiCfg.Tag,
	}
	if netFile := config.GetString("network.file"); netFile != "" {
		meta.Network = filepath.Base(netFile)
	}
	if run := session.RunInfo(); run != nil {
		meta.RunID = run.ID
	}
	if err := client.Upload(ctx, path, meta); err != nil {
		Logger.Error("Failed to upload recording", "path", path, "error", err)
		return
	}
	Logger.Info("Recording uploaded", "path", path, "url", apiCfg.ServerURL)
}
