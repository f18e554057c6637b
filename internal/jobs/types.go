package jobs

import (
	"context"
	"time"
)

// JobType identifies what kind of work a job carries.
type JobType string

const (
	// JobTypeIngestReceipt runs OCR and categorization on an uploaded
	// receipt image and saves the resulting draft.
	JobTypeIngestReceipt JobType = "ingest_receipt"
)

// JobStatus is the execution state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// IngestReceiptJob turns a stored receipt image into a DRAFT receipt.
// The upload handler publishes it and returns immediately; the worker
// fetches the image, extracts line items and writes the draft.
type IngestReceiptJob struct {
	JobID string `json:"job_id"`

	// BranchID scopes the draft and selects the category table.
	BranchID string `json:"branch_id"`

	// ImageURI is the gs:// location of the uploaded image.
	ImageURI string `json:"image_uri"`

	// MimeType of the uploaded file, passed through to OCR.
	MimeType string `json:"mime_type"`

	// UploadedBy is the identity that uploaded the image.
	UploadedBy string `json:"uploaded_by"`

	// ReceiptID is set once the draft has been created.
	ReceiptID string `json:"receipt_id,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
}

// Job is the generic view of any queued work item.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

func (j *IngestReceiptJob) GetID() string        { return j.JobID }
func (j *IngestReceiptJob) GetType() JobType     { return JobTypeIngestReceipt }
func (j *IngestReceiptJob) GetStatus() JobStatus { return j.Status }

// Publisher enqueues jobs. The in-memory queue serves single-instance
// deployments; a Cloud Tasks or Pub/Sub implementation can replace it
// without touching callers.
type Publisher interface {
	PublishIngestReceipt(ctx context.Context, job *IngestReceiptJob) error
	Close() error
}

// Consumer pulls jobs off the queue and runs them through a handler.
type Consumer interface {
	Start(ctx context.Context, handler JobHandler) error
	Stop(ctx context.Context) error
}

// JobHandler processes one job. A returned error triggers a retry until
// the job's retry budget is spent.
type JobHandler func(ctx context.Context, job Job) error

// JobStore tracks job state so upload status can be polled.
type JobStore interface {
	SaveJob(ctx context.Context, job *IngestReceiptJob) error
	GetJob(ctx context.Context, jobID string) (*IngestReceiptJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*IngestReceiptJob, error)
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	BranchID string
	Status   JobStatus
	Limit    int
	Offset   int
}
