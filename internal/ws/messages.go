package ws

import (
	"time"

	"github.com/webdoc/webdoc/internal/job"
)

// Server → client

// JobMessage carries a full job snapshot, the same document GET /jobs/{id}
// returns.
type JobMessage struct {
	Type string   `json:"type"`
	Job  *job.Job `json:"job"`
}

type HeartbeatMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
