// Package session runs time-boxed polling sessions. Each session owns one
// cancellable background task that samples a fixed set of sensors at a
// configured cadence and hands every batch to the broadcast hub; the
// scheduler tracks session lifecycle, reading and error counters, and keeps
// terminal snapshots around until they are explicitly purged.
package session

import (
	"time"
)

// Status is one stop on a session's state machine.
type Status string

// Session states. Transitions are monotonic: Idle -> Starting -> Running and
// from there to exactly one of Completed (stop request or duration elapsed)
// or Error (unrecoverable task failure), passing through Stopping while a
// cancelled task drains.
const (
	StatusIdle      = Status("idle")
	StatusStarting  = Status("starting")
	StatusRunning   = Status("running")
	StatusStopping  = Status("stopping")
	StatusCompleted = Status("completed")
	StatusError     = Status("error")
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// A Session is a point-in-time snapshot of one measurement session. The
// scheduler hands out copies; mutating one has no effect on the live task.
type Session struct {
	ID            string        `json:"session_id"`
	SensorIDs     []string      `json:"sensor_ids"`
	Interval      time.Duration `json:"interval"`
	Duration      time.Duration `json:"duration,omitempty"`
	Status        Status        `json:"status"`
	StartedAt     *time.Time    `json:"start_time,omitempty"`
	EndedAt       *time.Time    `json:"end_time,omitempty"`
	ReadingsCount int           `json:"readings_count"`
	ErrorCount    int           `json:"error_count"`
}

// A StartRequest describes the session to create. An empty ID asks the
// scheduler to generate one; a zero Duration runs the session until stopped.
type StartRequest struct {
	ID        string        `json:"session_id,omitempty"`
	SensorIDs []string      `json:"sensor_ids"`
	Interval  time.Duration `json:"interval"`
	Duration  time.Duration `json:"duration,omitempty"`
}
