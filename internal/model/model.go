package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Run{},
	&Signal{},
	&VehicleState{},
	&SignalState{},
	&LifecycleEvent{},
}

// Run is one mirrored simulation session.
type Run struct {
	ID            string       `json:"id" gorm:"primaryKey;size:64"`
	StartTime     time.Time    `json:"startTime" gorm:"index:idx_run_start"`
	EndTime       sql.NullTime `json:"endTime"`
	EngineAddr    string       `json:"engineAddr" gorm:"size:255"`
	EngineVersion string       `json:"engineVersion" gorm:"size:255"`
	StepDelayMs   int64        `json:"stepDelayMs"`
	EndTick       uint64       `json:"endTick"`
	SimTime       float64      `json:"simTime"`
}

func (*Run) TableName() string {
	return "runs"
}

// Signal is a signal controller as enumerated at run start.
type Signal struct {
	ID        uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID     string         `json:"runId" gorm:"size:64;index:idx_signal_run"`
	SignalID  string         `json:"signalId" gorm:"size:128"`
	Program   string         `json:"program" gorm:"size:128"`
	LinkCount int            `json:"linkCount"`
	Links     datatypes.JSON `json:"links"` // [{from, to, via}] in signal index order
}

func (*Signal) TableName() string {
	return "signals"
}

// VehicleState is one vehicle in one tick.
type VehicleState struct {
	ID        uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time      `json:"time" gorm:"index:idx_vehiclestate_time"`
	RunID     string         `json:"runId" gorm:"size:64;index:idx_vehiclestate_run_tick,priority:1"`
	Tick      uint64         `json:"tick" gorm:"index:idx_vehiclestate_run_tick,priority:2"`
	SimTime   float64        `json:"simTime"`
	VehicleID string         `json:"vehicleId" gorm:"size:128;index:idx_vehiclestate_vehicle"`
	Position  geom.Point     `json:"position"` // empty while unknown
	Speed     float64        `json:"speed"`
	Angle     float64        `json:"angle"`
	Color     datatypes.JSON `json:"color"` // null when the engine reports no color
}

func (*VehicleState) TableName() string {
	return "vehicle_states"
}

// SignalState is a state string taking effect at Tick. Only changes are
// stored.
type SignalState struct {
	ID       uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time     time.Time `json:"time"`
	RunID    string    `json:"runId" gorm:"size:64;index:idx_signalstate_run_tick,priority:1"`
	Tick     uint64    `json:"tick" gorm:"index:idx_signalstate_run_tick,priority:2"`
	SignalID string    `json:"signalId" gorm:"size:128"`
	State    string    `json:"state" gorm:"size:255"`
}

func (*SignalState) TableName() string {
	return "signal_states"
}

// LifecycleEvent is a vehicle departure or arrival.
type LifecycleEvent struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time"`
	RunID     string    `json:"runId" gorm:"size:64;index:idx_lifecycle_run"`
	Tick      uint64    `json:"tick"`
	Kind      string    `json:"kind" gorm:"size:16"`
	VehicleID string    `json:"vehicleId" gorm:"size:128"`
}

func (*LifecycleEvent) TableName() string {
	return "lifecycle_events"
}

const (
	EventDeparted = "departed"
	EventArrived  = "arrived"
)
