package dto

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// StatusResponse reports service health and ingestion progress
type StatusResponse struct {
	Status   string        `json:"status"`
	Service  string        `json:"service"`
	Database string        `json:"database"`
	Queue    QueueCounters `json:"queue"`
}

// QueueCounters mirrors the ingestion queue counters
type QueueCounters struct {
	Enqueued  int64 `json:"enqueued"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Pending   int64 `json:"pending"`
}
