package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CaptureStatus is the lifecycle state of a capture job.
type CaptureStatus string

const (
	CaptureQueued  CaptureStatus = "QUEUED"
	CaptureRunning CaptureStatus = "RUNNING"
	CaptureDone    CaptureStatus = "DONE"
	CaptureFailed  CaptureStatus = "FAILED"
)

// Valid reports whether s is a known status.
func (s CaptureStatus) Valid() bool {
	switch s {
	case CaptureQueued, CaptureRunning, CaptureDone, CaptureFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions happen from s.
func (s CaptureStatus) Terminal() bool {
	return s == CaptureDone || s == CaptureFailed
}

// transitions lists, per target status, the states it may be entered from.
var transitions = map[CaptureStatus][]CaptureStatus{
	CaptureRunning: {CaptureQueued},
	CaptureDone:    {CaptureRunning},
	CaptureFailed:  {CaptureQueued, CaptureRunning},
}

// TransitionSources returns the states a capture may move to `to` from.
// QUEUED is never a target.
func TransitionSources(to CaptureStatus) []CaptureStatus {
	return append([]CaptureStatus(nil), transitions[to]...)
}

// CanTransition reports whether a capture in s may move to `to`.
func (s CaptureStatus) CanTransition(to CaptureStatus) bool {
	for _, from := range transitions[to] {
		if from == s {
			return true
		}
	}
	return false
}

// Capture is an archived render: the request that produced it and, once
// the worker is done, where the artifact lives.
type Capture struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	Type        string          `json:"type"`
	Options     json.RawMessage `json:"options,omitempty"`
	Status      CaptureStatus   `json:"status"`
	ObjectKey   string          `json:"object_key,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
	SizeBytes   int64           `json:"size_bytes,omitempty"`
	Provider    string          `json:"provider,omitempty"`
	ErrorText   string          `json:"error_text,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// NewCaptureID returns a fresh capture id ("cap_" + uuid).
func NewCaptureID() string {
	return "cap_" + uuid.NewString()
}
