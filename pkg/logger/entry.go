package logger

import "time"

// Entry is one access-log record as shipped to Kafka and indexed by logkeeper.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	IP         string    `json:"ip"`
	StatusCode int       `json:"status_code"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Duration   float64   `json:"duration_sec"`
	Bytes      int       `json:"bytes"`
	Service    string    `json:"service"`
}

// DocumentID identifies the entry across services.
func (e Entry) DocumentID() string {
	return e.Service + e.RequestID
}
