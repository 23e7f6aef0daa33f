package model

import "time"

type PayloadKind string

const (
	PayloadKindHeartbeat PayloadKind = "heartbeat"
	PayloadKindCapture   PayloadKind = "capture"
)

// Heartbeat is the liveness record posted to <api_url>/heartbeat.
type Heartbeat struct {
	DeviceID      string    `json:"device_id"`
	Timestamp     time.Time `json:"timestamp"`
	State         string    `json:"state"`
	ForegroundApp string    `json:"foreground_app"`
}

// Capture is the screen snapshot posted to <api_url>/capture.
// ImageBase64 is marshaled by encoding/json as standard base64.
type Capture struct {
	DeviceID        string    `json:"device_id"`
	Timestamp       time.Time `json:"timestamp"`
	ImageBase64     []byte    `json:"image_base64"`
	ForegroundApp   string    `json:"foreground_app"`
	SimilarityScore float64   `json:"similarity_score"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
}

func NewHeartbeat(deviceID, state, foregroundApp string, at time.Time) Heartbeat {
	return Heartbeat{
		DeviceID:      deviceID,
		Timestamp:     at.UTC(),
		State:         state,
		ForegroundApp: foregroundApp,
	}
}
