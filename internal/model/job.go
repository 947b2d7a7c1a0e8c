package model

import "time"

// JobStatus represents the lifecycle state of an upload job.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

// IsTerminal reports whether no further chunk updates are expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// ErrorDetail records one record-level persistence failure.
type ErrorDetail struct {
	Phone string `json:"phone" yaml:"phone"`
	Error string `json:"error" yaml:"error"`
}

// UploadJob tracks the persistence of one upload.
type UploadJob struct {
	ID             string        `json:"id" yaml:"id"`
	FileName       string        `json:"file_name" yaml:"file_name"`
	TotalRows      int           `json:"total_rows" yaml:"total_rows"`
	ProcessedCount int           `json:"processed_count" yaml:"processed_count"`
	ErrorCount     int           `json:"error_count" yaml:"error_count"`
	Status         JobStatus     `json:"status" yaml:"status"`
	ErrorDetail    []ErrorDetail `json:"error_detail" yaml:"error_detail"`
	CreatedAt      time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" yaml:"updated_at"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Counted returns how many records have been settled either way.
func (j *UploadJob) Counted() int {
	return j.ProcessedCount + j.ErrorCount
}

// JobFilter specifies criteria for listing upload jobs.
type JobFilter struct {
	Status       JobStatus `json:"status,omitempty"`
	CreatedAfter time.Time `json:"created_after,omitzero"`
	Limit        int       `json:"limit,omitempty"`
}
