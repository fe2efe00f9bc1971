package core

import "time"

// BatchResult captures the outcome of one subject in a batch run.
type BatchResult struct {
	Subject     Subject    `json:"subject"`
	Report      *RunReport `json:"report,omitempty"`
	Error       string     `json:"error,omitempty"`
	NotFound    bool       `json:"not_found,omitempty"`
	CompletedAt time.Time  `json:"completed_at"`
}
