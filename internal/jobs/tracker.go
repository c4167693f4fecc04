// Package jobs tracks the progress of asynchronous batch ingestion runs.
package jobs

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an ingestion job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	// StatusCompleted means every item was attempted and none failed.
	StatusCompleted Status = "completed"
	// StatusCompletedWithErrors means every item was attempted but some
	// failed; the failures are listed in Errors.
	StatusCompletedWithErrors Status = "completed_with_errors"
	// StatusFailed means the batch was aborted before all items were
	// attempted (cancellation or an unrecoverable error).
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompletedWithErrors || s == StatusFailed
}

// Job is a snapshot of one batch ingestion run. Progress is always
// ProcessedItems/TotalItems*100, or 0 when TotalItems is 0.
type Job struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	Progress       float64   `json:"progress"`
	TotalItems     int       `json:"totalItems"`
	ProcessedItems int       `json:"processedItems"`
	Errors         []string  `json:"errors"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ErrNotFound is returned when no job exists with the given ID.
var ErrNotFound = errors.New("ingestion job not found")

// Tracker owns ingestion job state. All mutation goes through the tracker
// under a single lock; reads return copies, so two Get calls without
// intervening processing return identical snapshots.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewTracker creates an empty job tracker.
func NewTracker() *Tracker {
	return &Tracker{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// Create registers a new pending job for a batch of totalItems and returns
// its ID.
func (t *Tracker) Create(totalItems int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	job := &Job{
		ID:         uuid.New().String(),
		Status:     StatusPending,
		TotalItems: totalItems,
		Errors:     []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	t.jobs[job.ID] = job
	return job.ID
}

// Start moves the job to processing. Called when the first item begins.
func (t *Tracker) Start(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Status = StatusProcessing
	job.UpdatedAt = t.now()
	return nil
}

// ItemDone records one attempted item. A non-empty errMsg marks the attempt
// as failed without stopping the batch. ProcessedItems never exceeds
// TotalItems.
func (t *Tracker) ItemDone(id string, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.ProcessedItems < job.TotalItems {
		job.ProcessedItems++
	}
	if errMsg != "" {
		job.Errors = append(job.Errors, errMsg)
	}
	job.Progress = progress(job.ProcessedItems, job.TotalItems)
	job.UpdatedAt = t.now()
	return nil
}

// Finish marks the job terminal after every item was attempted: completed
// when no errors accumulated, completed_with_errors otherwise.
func (t *Tracker) Finish(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if len(job.Errors) > 0 {
		job.Status = StatusCompletedWithErrors
	} else {
		job.Status = StatusCompleted
	}
	job.UpdatedAt = t.now()
	return nil
}

// Fail marks the job failed before all items were attempted, recording the
// reason.
func (t *Tracker) Fail(id string, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Status = StatusFailed
	if reason != "" {
		job.Errors = append(job.Errors, reason)
	}
	job.UpdatedAt = t.now()
	return nil
}

// Get returns a snapshot copy of the job, or ErrNotFound.
func (t *Tracker) Get(id string) (*Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	snapshot := *job
	snapshot.Errors = append([]string(nil), job.Errors...)
	return &snapshot, nil
}

func progress(processed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(processed) / float64(total) * 100
}
