// pkg/core/run.go
package core

import "time"

// Run describes one mirrored simulation session.
type Run struct {
	ID            string        `json:"id"`
	StartTime     time.Time     `json:"startTime"`
	EngineAddr    string        `json:"engineAddr"`
	EngineVersion string        `json:"engineVersion"`
	StepDelay     time.Duration `json:"stepDelay"`
	Signals       []SignalState `json:"signals"`
}

// Frame is the mirrored world after one tick.
type Frame struct {
	Tick uint64 `json:"tick"`
	// SimTime is the engine's simulation time in seconds.
	SimTime  float64        `json:"simTime"`
	Captured time.Time      `json:"captured"`
	Vehicles []VehicleState `json:"vehicles"`
	Signals  []SignalState  `json:"signals"`
	Departed []string       `json:"departed,omitempty"`
	Arrived  []string       `json:"arrived,omitempty"`
}

// RunEnd closes a run.
type RunEnd struct {
	RunID   string    `json:"runId"`
	EndTime time.Time `json:"endTime"`
	EndTick uint64    `json:"endTick"`
	SimTime float64   `json:"simTime"`
}
