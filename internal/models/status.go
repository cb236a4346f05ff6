package models

import "time"

// SessionStatus describes one peer session in the status API
type SessionStatus struct {
	Identifier string    `json:"identifier"`
	Role       string    `json:"role"`
	Phase      string    `json:"phase"`
	Generation string    `json:"generation"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CameraStatus is the response body of GET /api/status
type CameraStatus struct {
	CameraID   string          `json:"cameraId"`
	RunID      string          `json:"runId"`
	Connection string          `json:"connection"`
	Call       string          `json:"call"`
	Sessions   []SessionStatus `json:"sessions"`
}

// HangUpResponse is the response body of DELETE /api/sessions/:peerId
type HangUpResponse struct {
	Identifier string `json:"identifier"`
	Removed    bool   `json:"removed"`
}
