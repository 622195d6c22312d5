package ws

import (
	"time"

	"github.com/docserver/docserver/internal/job"
)

// Server → watcher

type AckMessage struct {
	Type     string `json:"type"`
	UploadID string `json:"upload_id,omitempty"`
	Message  string `json:"message"`
}

type EventMessage struct {
	Type      string        `json:"type"`
	Event     job.EventType `json:"event"`
	UploadID  string        `json:"upload_id"`
	Status    *job.Status   `json:"status,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// DroppedMessage tells a slow watcher that events were skipped.
type DroppedMessage struct {
	Type    string `json:"type"`
	Dropped int    `json:"dropped"`
}
