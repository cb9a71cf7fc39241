// Package models contains request and response bodies of the notif HTTP API.
package models

import (
	"encoding/json"
	"time"
)

type EmitRequest struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type EmitResponse struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
}

// ScheduleRequest defers an emit. Exactly one of ScheduledFor or In should be set;
// In is a duration string such as "30m".
type ScheduleRequest struct {
	Topic        string          `json:"topic"`
	Data         json.RawMessage `json:"data"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	In           string          `json:"in,omitempty"`
}

type CreateScheduleResponse struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	ScheduledFor time.Time `json:"scheduled_for"`
	CreatedAt    time.Time `json:"created_at"`
}

type ScheduleStatus string

const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleCompleted ScheduleStatus = "completed"
	ScheduleCancelled ScheduleStatus = "cancelled"
	ScheduleFailed    ScheduleStatus = "failed"
)

type Schedule struct {
	ID           string          `json:"id"`
	Topic        string          `json:"topic"`
	Data         json.RawMessage `json:"data"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Status       ScheduleStatus  `json:"status"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ExecutedAt   *time.Time      `json:"executed_at,omitempty"`
}

type ListSchedulesOptions struct {
	Status ScheduleStatus
	Limit  int
	Offset int
}

type ScheduleList struct {
	Schedules []Schedule `json:"schedules"`
	Total     int        `json:"total"`
}

type RunScheduleResponse struct {
	ScheduleID string `json:"schedule_id"`
	EventID    string `json:"event_id"`
}

// ErrorResponse is the body of a non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
