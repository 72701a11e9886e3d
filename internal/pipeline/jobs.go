package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/docrecon/internal/record"
)

// JobStatus represents the state of a reconstruction job.
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusLoading     JobStatus = "loading"
	StatusRecognizing JobStatus = "recognizing"
	StatusMerging     JobStatus = "merging"
	StatusSaving      JobStatus = "saving"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
)

// Job tracks the state of a single uploaded file.
type Job struct {
	mu sync.Mutex

	ID       string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData    []byte
	errors      []string
	result      *record.ProcessResult
	documentIDs []int64
	outputDir   string
}

// Progress tracks processing progress.
type Progress struct {
	TotalPages     int      `json:"total_pages"`
	PagesProcessed int      `json:"pages_processed"`
	Documents      int      `json:"documents"`
	Errors         []string `json:"errors"`
}

// NewJob creates a queued job for an uploaded file.
func NewJob(filename string, data []byte) *Job {
	now := time.Now()
	j := &Job{
		ID:          NewJobID(),
		Status:      StatusQueued,
		Phase:       "queued",
		Filename:    filename,
		ContentHash: ContentHashHex(data),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	j.fileData = data
	return j
}

// NewJobID returns a time-ordered UUIDv7, falling back to v4 if the
// clock-based generator fails.
func NewJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		updated := job.UpdatedAt
		job.mu.Unlock()
		if now.Sub(updated) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetTotalPages records the page count once the file is loaded.
func (j *Job) SetTotalPages(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalPages = n
	j.UpdatedAt = time.Now()
}

// IncrPagesProcessed atomically increments pages processed.
func (j *Job) IncrPagesProcessed() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.PagesProcessed++
	j.UpdatedAt = time.Now()
}

// SetResult stores the outcome of processing.
func (j *Job) SetResult(res record.ProcessResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = &res
	j.Progress.Documents = res.NumDocuments
	j.UpdatedAt = time.Now()
}

// Result returns the stored outcome, or nil before processing finished.
func (j *Job) Result() *record.ProcessResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// SetSaved records where the result was persisted.
func (j *Job) SetSaved(documentIDs []int64, outputDir string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.documentIDs = documentIDs
	j.outputDir = outputDir
	j.UpdatedAt = time.Now()
}

// SetFileData sets the raw file bytes for processing.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
}

// FileData returns the raw file bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	Filename    string    `json:"filename"`
	Progress    Progress  `json:"progress"`
	DocumentIDs []int64   `json:"document_ids"`
	OutputDir   string    `json:"output_dir,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.Progress.Errors...)
	ids := append([]int64{}, j.documentIDs...)
	return JobSnapshot{
		ID:       j.ID,
		Status:   j.Status,
		Phase:    j.Phase,
		Filename: j.Filename,
		Progress: Progress{
			TotalPages:     j.Progress.TotalPages,
			PagesProcessed: j.Progress.PagesProcessed,
			Documents:      j.Progress.Documents,
			Errors:         errs,
		},
		DocumentIDs: ids,
		OutputDir:   j.outputDir,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
