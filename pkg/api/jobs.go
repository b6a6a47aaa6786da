package api

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/orchestrate"
)

// JobStatus represents the current state of an import job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Job is a background import of one target (a sorted, comma joined alias list).
type Job struct {
	ID           string                  `json:"id"`
	Target       string                  `json:"target"`
	Sources      []string                `json:"sources"`
	Status       JobStatus               `json:"status"`
	StartedAt    time.Time               `json:"started_at"`
	CompletedAt  time.Time               `json:"completed_at,omitempty"`
	Summary      *orchestrate.RunSummary `json:"summary,omitempty"`
	ErrorMessage string                  `json:"error_message,omitempty"`

	ctx    context.Context
	cancel context.CancelFunc
}

// JobManager tracks import jobs, allowing one active job per target.
type JobManager struct {
	jobs     map[string]*Job
	mu       sync.RWMutex
	byTarget map[string]string // target -> jobID for active jobs
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewJobManager creates an empty job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:     make(map[string]*Job),
		byTarget: make(map[string]string),
		now:      time.Now,
	}
}

// CreateJob registers a pending job for target. If a job for the same
// target is still active it is returned instead, with created=false.
func (m *JobManager) CreateJob(target string, sources []string) (job Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.byTarget[target]; ok {
		if existing := m.jobs[existingID]; existing != nil && existing.Status.active() {
			return *existing, false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:        uuid.New().String(),
		Target:    target,
		Sources:   append([]string(nil), sources...),
		Status:    JobStatusPending,
		StartedAt: m.now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.jobs[j.ID] = j
	m.byTarget[target] = j.ID
	return *j, true
}

// GetJob returns a snapshot of the job with id.
func (m *JobManager) GetJob(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// IsRunning reports whether target has an active job.
func (m *JobManager) IsRunning(target string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.byTarget[target]; ok {
		j := m.jobs[id]
		return j != nil && j.Status.active()
	}
	return false
}

// MarkRunning moves a pending job to running.
func (m *JobManager) MarkRunning(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok && j.Status == JobStatusPending {
		j.Status = JobStatusRunning
	}
}

// Finish records the outcome of a job and frees its target.
// A cancelled job keeps its cancelled status.
func (m *JobManager) Finish(id string, summary *orchestrate.RunSummary, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return
	}
	j.Summary = summary
	if j.Status != JobStatusCancelled {
		j.Status = JobStatusCompleted
		if err != nil {
			j.Status = JobStatusFailed
			j.ErrorMessage = err.Error()
		} else if summary != nil && len(summary.Failed()) > 0 {
			j.Status = JobStatusFailed
			j.ErrorMessage = "failed sources: " + joinAliases(summary.Failed())
		}
		j.CompletedAt = m.now()
	}
	j.cancel()
	if m.byTarget[j.Target] == id {
		delete(m.byTarget, j.Target)
	}
}

// CancelJob cancels an active job.
func (m *JobManager) CancelJob(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || !j.Status.active() {
		return false
	}
	j.cancel()
	j.Status = JobStatusCancelled
	j.CompletedAt = m.now()
	delete(m.byTarget, j.Target)
	return true
}

// CancelAll cancels every active job.
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.jobs {
		if j.Status.active() {
			j.cancel()
			j.Status = JobStatusCancelled
			j.CompletedAt = m.now()
		}
	}
	m.byTarget = make(map[string]string)
}

// ListJobs returns snapshots of all jobs, newest first.
func (m *JobManager) ListJobs() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].StartedAt.After(jobs[k].StartedAt) })
	return jobs
}

// Context returns the cancellation context of a job.
func (m *JobManager) Context(id string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if j, ok := m.jobs[id]; ok {
		return j.ctx
	}
	return context.Background()
}

// RunFunc performs the import of a job.
type RunFunc func(ctx context.Context, aliases []string) (*orchestrate.RunSummary, error)

// Launch creates a job for aliases and runs it in the background. If a job
// for the same target is active it is returned instead, with created=false.
func (m *JobManager) Launch(aliases []string, run RunFunc, log *logrus.Entry) (Job, bool) {
	target := joinAliases(aliases)
	job, created := m.CreateJob(target, aliases)
	if !created {
		return job, false
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		jobLog := log.WithFields(logrus.Fields{"job_id": job.ID, "target": target})
		defer func() {
			if r := recover(); r != nil {
				jobLog.Errorf("PANIC in import job: %v", r)
				m.Finish(job.ID, nil, fmt.Errorf("panic: %v", r))
			}
		}()

		m.MarkRunning(job.ID)
		jobLog.Info("Import job started")
		summary, err := run(m.Context(job.ID), aliases)
		m.Finish(job.ID, summary, err)
		if err != nil {
			jobLog.Errorf("Import job failed: %v", err)
			return
		}
		jobLog.Info("Import job finished")
	}()
	return job, true
}

// Wait blocks until every launched job has returned.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

// joinAliases builds the canonical target of a set of aliases.
func joinAliases(aliases []string) string {
	sorted := append([]string(nil), aliases...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// TargetOf returns the job target for aliases.
func TargetOf(aliases []string) string { return joinAliases(aliases) }
