// Package jobs tracks in-flight pipeline work. It enforces single-flight
// per video and bounds how many transcoding jobs run at once across the
// whole process.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ErrAlreadyRunning is returned when a job for the same video is in flight.
var ErrAlreadyRunning = errors.New("job already running for video")

// Kind identifies the pipeline a job belongs to.
type Kind string

const (
	KindChunking   Kind = "chunking"
	KindGeneration Kind = "generation"
)

// Job describes one in-flight pipeline run.
type Job struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"video_id"`
	Kind      Kind      `json:"kind"`
	StartedAt time.Time `json:"started_at"`
}

// Registry is the process-wide job table.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Job
	sem    *semaphore.Weighted
}

// NewRegistry creates a registry allowing at most maxConcurrent transcoding
// jobs to hold the global slot at once.
func NewRegistry(maxConcurrent int) *Registry {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Registry{
		active: make(map[string]*Job),
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Begin claims the single-flight slot for videoID. It fails fast with
// ErrAlreadyRunning if any job for the video is in flight, regardless of
// kind.
func (r *Registry) Begin(videoID string, kind Kind) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[videoID]; ok {
		return nil, ErrAlreadyRunning
	}

	job := &Job{
		ID:        uuid.New().String(),
		VideoID:   videoID,
		Kind:      kind,
		StartedAt: time.Now().UTC(),
	}
	r.active[videoID] = job
	return job, nil
}

// Finish releases the single-flight slot held by job. Finishing a job that
// was already replaced is a no-op.
func (r *Registry) Finish(job *Job) {
	if job == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[job.VideoID]; ok && current.ID == job.ID {
		delete(r.active, job.VideoID)
	}
}

// Get returns the in-flight job for videoID, if any.
func (r *Registry) Get(videoID string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.active[videoID]
	return job, ok
}

// Count returns the number of in-flight jobs.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Acquire blocks until a global transcode slot is free or ctx is done.
func (r *Registry) Acquire(ctx context.Context) error {
	return r.sem.Acquire(ctx, 1)
}

// Release frees a global transcode slot.
func (r *Registry) Release() {
	r.sem.Release(1)
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Initialize creates the global registry. Later calls keep the first
// registry so tests can install their own via the zero-value path.
func Initialize(maxConcurrent int) {
	globalOnce.Do(func() {
		global = NewRegistry(maxConcurrent)
	})
}

// GetRegistry returns the global registry, creating a default one if
// Initialize was never called.
func GetRegistry() *Registry {
	Initialize(2)
	return global
}
