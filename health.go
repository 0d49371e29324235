package main

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemHealth is a point-in-time snapshot of the host and pipeline state,
// served on /health and published over MQTT.
type SystemHealth struct {
	PipelineStatus  string  `json:"pipeline_status"`
	RecordingStatus string  `json:"recording_status"`
	MemoryUsageMB   uint64  `json:"memory_usage_mb"`
	UptimeSeconds   uint64  `json:"uptime_seconds"`
	Load1Min        float64 `json:"load_1min"`
	Load5Min        float64 `json:"load_5min"`
	Load15Min       float64 `json:"load_15min"`
}

// CollectSystemHealth gathers process memory and host load via gopsutil.
// Collection failures degrade to zero values rather than erroring: health
// reporting must never disturb the pipeline.
func CollectSystemHealth(p *Pipeline) SystemHealth {
	health := SystemHealth{
		PipelineStatus:  "stopped",
		RecordingStatus: "idle",
		UptimeSeconds:   uint64(time.Since(StartTime).Seconds()),
	}
	if p != nil && p.Running() {
		health.PipelineStatus = "running"
	}
	if p != nil {
		if active, _ := p.Recorder().Active(); active {
			health.RecordingStatus = "recording"
		}
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			health.MemoryUsageMB = mem.RSS / (1024 * 1024)
		}
	}
	if avg, err := load.Avg(); err == nil {
		health.Load1Min = avg.Load1
		health.Load5Min = avg.Load5
		health.Load15Min = avg.Load15
	}
	return health
}
