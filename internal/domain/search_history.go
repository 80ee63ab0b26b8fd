package domain

import "time"

// SearchHistory records one host outcome of one search request.
type SearchHistory struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	Server     string    `json:"server"`
	Pattern    string    `json:"pattern"`
	TimeRange  string    `json:"time_range,omitempty"`
	Status     string    `json:"status"`
	LineCount  int       `json:"line_count"`
	Truncated  bool      `json:"truncated"`
	ErrorText  string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
}
