package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sriram-PR/product-scout/pkg/orchestrate"
)

// JobStatus represents the current state of a discovery job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents a background product discovery job
type Job struct {
	ID            string    `json:"id"`
	SiteKey       string    `json:"site_key"`
	Status        JobStatus `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
	RootsTotal    int       `json:"roots_total"`
	RootsDone     int       `json:"roots_done"`
	ProductsFound int       `json:"products_found"`
	NewProducts   int       `json:"new_products"` // -1 when product history is disabled
	OutputFiles   []string  `json:"output_files,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`

	ctx    context.Context
	cancel context.CancelFunc
}

func (j *Job) active() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusRunning
}

// snapshot copies the job so callers can read it without holding the lock
func (j *Job) snapshot() *Job {
	c := *j
	c.OutputFiles = append([]string(nil), j.OutputFiles...)
	return &c
}

// JobManager manages background discovery jobs
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	bysite map[string]string // siteKey -> jobID for active jobs
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		bysite: make(map[string]string),
	}
}

// CreateJob creates a pending job for a site. If the site already has an
// active job, that job is returned with created set to false.
func (m *JobManager) CreateJob(siteKey string) (job *Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingJobID, exists := m.bysite[siteKey]; exists {
		if existing := m.jobs[existingJobID]; existing != nil && existing.active() {
			return existing.snapshot(), false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job = &Job{
		ID:          uuid.New().String(),
		SiteKey:     siteKey,
		Status:      JobStatusPending,
		StartedAt:   time.Now(),
		NewProducts: -1,
		ctx:         ctx,
		cancel:      cancel,
	}

	m.jobs[job.ID] = job
	m.bysite[siteKey] = job.ID

	return job.snapshot(), true
}

// GetJob returns a copy of the job, or nil if it does not exist
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[jobID]; ok {
		return job.snapshot()
	}
	return nil
}

// GetJobBySite returns a copy of the site's active job, or nil
func (m *JobManager) GetJobBySite(siteKey string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.bysite[siteKey]; exists {
		if job, ok := m.jobs[jobID]; ok {
			return job.snapshot()
		}
	}
	return nil
}

// IsRunning checks if a job is currently active for a site
func (m *JobManager) IsRunning(siteKey string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.bysite[siteKey]; exists {
		job := m.jobs[jobID]
		return job != nil && job.active()
	}
	return false
}

// UpdateStatus updates the status of a job. Cancelled jobs stay cancelled.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists || job.Status == JobStatusCancelled {
		return
	}
	job.Status = status
	if !job.active() {
		job.CompletedAt = time.Now()
		delete(m.bysite, job.SiteKey)
	}
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
}

// UpdateProgress records a progress report from the orchestrator
func (m *JobManager) UpdateProgress(jobID string, p orchestrate.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists {
		job.RootsTotal = p.RootsTotal
		job.RootsDone = p.RootsDone
		job.ProductsFound = p.Products
	}
}

// Finish records a site result and moves the job to its final status
func (m *JobManager) Finish(jobID string, result orchestrate.SiteResult) {
	m.mu.Lock()
	job, exists := m.jobs[jobID]
	if exists {
		job.ProductsFound = result.ProductCount
		job.NewProducts = result.NewProducts
		job.OutputFiles = append([]string(nil), result.OutputFiles...)
		job.RootsTotal = len(result.Roots)
	}
	m.mu.Unlock()
	if !exists {
		return
	}

	switch {
	case result.Success:
		m.UpdateStatus(jobID, JobStatusCompleted, "")
	case result.Error != nil && job.ctx.Err() != nil:
		m.UpdateStatus(jobID, JobStatusCancelled, "")
	case result.Error != nil:
		m.UpdateStatus(jobID, JobStatusFailed, result.Error.Error())
	default:
		m.UpdateStatus(jobID, JobStatusFailed, "discovery failed")
	}
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists && job.active() {
		job.cancel()
		job.Status = JobStatusCancelled
		job.CompletedAt = time.Now()
		delete(m.bysite, job.SiteKey)
		return true
	}
	return false
}

// CancelAll cancels all active jobs
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.active() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.bysite = make(map[string]string)
}

// ListJobs returns copies of all jobs
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.snapshot())
	}
	return jobs
}

// GetContext returns the context a job's discovery run should use
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, exists := m.jobs[jobID]; exists {
		return job.ctx
	}
	return context.Background()
}
