package models

import "time"

// OfflineAction is a deferred HTTP request kept on the client until it can be delivered.
type OfflineAction struct {
	ID         string            `json:"id"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Attempts   int               `json:"attempts"`
	LastError  string            `json:"last_error,omitempty"`
	Conflicted bool              `json:"conflicted"`
}
