package engine

import (
	"sync/atomic"
	"time"
)

// Status is the snapshot the shell polls.
type Status struct {
	State             string     `json:"state"`
	Running           bool       `json:"running"`
	NotConfigured     bool       `json:"not_configured"`
	NeedsReauth       bool       `json:"needs_reauth"`
	ForegroundApp     string     `json:"foreground_app,omitempty"`
	PausedSince       *time.Time `json:"paused_since,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	LastErrorAt       *time.Time `json:"last_error_at,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	CaptureErrors     int        `json:"consecutive_capture_errors"`
	HeartbeatErrors   int        `json:"consecutive_heartbeat_errors"`
	LastHeartbeatAt   *time.Time `json:"last_heartbeat_at,omitempty"`
	LastCaptureAt     *time.Time `json:"last_capture_at,omitempty"`
}

// channel identifies an independent error streak.
type channel int

const (
	channelCapture channel = iota
	channelHeartbeat
	channelPreflight
	channelCount
)

type errorSummary struct {
	msg string
	at  time.Time
}

type statusTracker struct {
	notConfigured     atomic.Bool
	lastHeartbeatAt   atomic.Int64
	lastCaptureAt     atomic.Int64
	streaks           [channelCount]atomic.Int32
	lastError         atomic.Pointer[errorSummary]
	foreground        atomic.Pointer[string]
}

func (s *statusTracker) recordError(ch channel, op string, err error, at time.Time) {
	s.lastError.Store(&errorSummary{msg: op + ": " + err.Error(), at: at.UTC()})
	s.streaks[ch].Add(1)
}

// markSuccess ends the streak of ch only; other channels keep counting.
func (s *statusTracker) markSuccess(ch channel, at time.Time) {
	switch ch {
	case channelCapture:
		s.lastCaptureAt.Store(at.UnixNano())
	case channelHeartbeat:
		s.lastHeartbeatAt.Store(at.UnixNano())
	}
	s.streaks[ch].Store(0)
}

func (s *statusTracker) setForeground(app string) {
	s.foreground.Store(&app)
}

func (s *statusTracker) fill(out *Status) {
	out.NotConfigured = s.notConfigured.Load()
	out.CaptureErrors = int(s.streaks[channelCapture].Load())
	out.HeartbeatErrors = int(s.streaks[channelHeartbeat].Load())
	for i := range s.streaks {
		out.ConsecutiveErrors = max(out.ConsecutiveErrors, int(s.streaks[i].Load()))
	}
	if v := s.lastHeartbeatAt.Load(); v > 0 {
		t := time.Unix(0, v).UTC()
		out.LastHeartbeatAt = &t
	}
	if v := s.lastCaptureAt.Load(); v > 0 {
		t := time.Unix(0, v).UTC()
		out.LastCaptureAt = &t
	}
	if e := s.lastError.Load(); e != nil {
		at := e.at
		out.LastError = e.msg
		out.LastErrorAt = &at
	}
	if fg := s.foreground.Load(); fg != nil {
		out.ForegroundApp = *fg
	}
}
