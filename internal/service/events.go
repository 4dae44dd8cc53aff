package service

import "healthsync/internal/domain"

// Event payloads carried in the webhook envelope's data field.

type dataUpdatedPayload struct {
	Metrics  int `json:"metrics"`
	Workouts int `json:"workouts"`
	Sleep    int `json:"sleep"`
}

type syncCompletedPayload struct {
	Type             domain.SyncType `json:"type"`
	RecordsProcessed int             `json:"records_processed"`
	RecordsFailed    int             `json:"records_failed"`
	DurationMS       int64           `json:"duration_ms"`
}

type syncFailedPayload struct {
	Type  domain.SyncType `json:"type"`
	Error string          `json:"error"`
}
