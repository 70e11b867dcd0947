package model

import (
	"encoding/json"
	"time"
)

// DeadLetterMessage wraps an outbox message that could not be delivered. It is
// written to the dead-letter queue for manual replay.
type DeadLetterMessage struct {
	Queue     string          `json:"queue"`
	MessageID int64           `json:"message_id"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Attempts  int             `json:"attempts"`
	FailedAt  time.Time       `json:"failed_at"`
}
