package models

import "time"

// WebhookEvent is the audit record of one verified gateway delivery.
type WebhookEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Success       bool      `json:"success"`
	Message       string    `json:"message,omitempty"`
	ArchiveKey    string    `json:"archive_key,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
	ProcessedAt   time.Time `json:"processed_at"`
}
