// Package jobs keeps track of extraction jobs: the in-memory registry the
// dispatcher reads, the bounded pool that runs them, and the lifecycle events
// they emit.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/op/go-logging"

	apperrors "github.com/RaelFilh96/Analise-de-Aderencia/errors"
	"github.com/RaelFilh96/Analise-de-Aderencia/extraction"
	"github.com/RaelFilh96/Analise-de-Aderencia/persistance"
)

var log = logging.MustGetLogger("log")

const DefaultRetention = 60 * time.Second

type Status string

const (
	Starting   Status = "starting"
	Extracting Status = "extracting"
	Paused     Status = "paused"
	Completed  Status = "completed"
	Cancelled  Status = "cancelled"
	Error      Status = "error"
)

func (s Status) Terminal() bool {
	return s == Completed || s == Cancelled || s == Error
}

type JobResult struct {
	TotalOperations int `json:"total_operations"`
}

// Job is the status view of one extraction, as returned to clients.
type Job struct {
	ID         string                `json:"id"`
	Status     Status                `json:"status"`
	Progress   int                   `json:"progress"`
	Total      int                   `json:"total"`
	Processed  int                   `json:"processed"`
	Message    string                `json:"message,omitempty"`
	StartTime  *time.Time            `json:"start_time,omitempty"`
	LastUpdate *time.Time            `json:"last_update,omitempty"`
	Result     *JobResult            `json:"result,omitempty"`
	Metadata   *persistance.Metadata `json:"metadata,omitempty"`
}

type entry struct {
	job             Job
	cancelRequested bool
	finishedAt      time.Time
}

// Registry is the single synchronization domain for job state. Workers write
// progress and results, the dispatcher writes cancellation requests; both go
// through the registry lock.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*entry
	// busy holds ids whose worker has not returned yet, even if the entry was
	// already removed, so an id is never run by two workers at once.
	busy      map[string]struct{}
	retention time.Duration
	now       func() time.Time

	checkpoints *persistance.CheckpointStore
	results     *persistance.ExtractionStore
}

func NewRegistry(retention time.Duration, checkpoints *persistance.CheckpointStore, results *persistance.ExtractionStore) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{
		jobs:        make(map[string]*entry),
		busy:        make(map[string]struct{}),
		retention:   retention,
		now:         time.Now,
		checkpoints: checkpoints,
		results:     results,
	}
}

// Register adds a starting job. It fails with DuplicateJobId when the id is
// resident or its previous worker is still running.
func (r *Registry) Register(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; ok {
		return Job{}, apperrors.New(apperrors.DuplicateJobId, fmt.Sprintf("extraction %s is already in progress", id))
	}
	if _, ok := r.busy[id]; ok {
		return Job{}, apperrors.New(apperrors.DuplicateJobId, fmt.Sprintf("extraction %s is still stopping", id))
	}
	now := r.now()
	e := &entry{job: Job{
		ID:        id,
		Status:    Starting,
		Message:   "starting extraction",
		StartTime: &now,
	}}
	r.jobs[id] = e
	r.busy[id] = struct{}{}
	return e.job, nil
}

// Release marks the worker of id as finished.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	delete(r.busy, id)
	r.mu.Unlock()
}

// UpdateProgress records a progress report. Processed and percent never move
// backwards, and nothing changes once the job reached a terminal status.
func (r *Registry) UpdateProgress(id string, p extraction.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || e.job.Status.Terminal() {
		return
	}
	if p.Percent > e.job.Progress {
		e.job.Progress = p.Percent
	}
	if p.Processed > e.job.Processed {
		e.job.Processed = p.Processed
	}
	e.job.Total = p.Total
	e.job.Message = p.Message
	if e.job.Status == Starting {
		e.job.Status = Extracting
	}
	now := r.now()
	e.job.LastUpdate = &now
}

func (r *Registry) SetStatus(id string, status Status, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || e.job.Status.Terminal() {
		return
	}
	r.setLocked(e, status, msg)
}

// Complete marks id completed with its final record count. A job whose
// cancellation was already acknowledged stays cancelled.
func (r *Registry) Complete(id string, totalOperations int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || e.cancelRequested {
		return
	}
	e.job.Progress = 100
	e.job.Result = &JobResult{TotalOperations: totalOperations}
	r.setLocked(e, Completed, "extraction completed")
}

// Finish moves id to a terminal status other than completed.
func (r *Registry) Finish(id string, status Status, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return
	}
	r.setLocked(e, status, msg)
}

func (r *Registry) Fail(id string, msg string) { r.Finish(id, Error, msg) }

func (r *Registry) setLocked(e *entry, status Status, msg string) {
	e.job.Status = status
	e.job.Message = msg
	now := r.now()
	e.job.LastUpdate = &now
	if status.Terminal() {
		e.finishedAt = now
	}
}

// MarkCancelled flags a resident, still running job for cancellation. It
// reports false for unknown or already finished jobs.
func (r *Registry) MarkCancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || e.job.Status.Terminal() {
		return false
	}
	e.cancelRequested = true
	r.setLocked(e, Cancelled, "cancellation requested")
	return true
}

func (r *Registry) IsCancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	// a removed entry means the dispatcher already acknowledged a cancel
	return !ok || e.cancelRequested
}

// Token returns the cancellation token the worker of id polls.
func (r *Registry) Token(id string) extraction.CancelToken {
	return cancelToken{r: r, id: id}
}

type cancelToken struct {
	r  *Registry
	id string
}

func (t cancelToken) Cancelled() bool { return t.r.IsCancelled(t.id) }

// Get returns a copy of the resident job.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// Active counts resident jobs that have not reached a terminal status.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.jobs {
		if !e.job.Status.Terminal() {
			n++
		}
	}
	return n
}

// Sweep drops jobs whose terminal status is older than the retention window.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	removed := 0
	for id, e := range r.jobs {
		if e.job.Status.Terminal() && now.Sub(e.finishedAt) >= r.retention {
			log.Debugf("Removing job %s from registry (%s %v ago)", id, e.job.Status, now.Sub(e.finishedAt))
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				log.Infof("Job cleanup removed %d finished jobs", n)
			}
		}
	}
}

// Lookup resolves the status of id: the resident job first, then an
// interrupted run's checkpoint (paused), then a finished run's metadata.
func (r *Registry) Lookup(id string) (Job, bool) {
	if job, ok := r.Get(id); ok {
		return job, true
	}

	cp, err := r.checkpoints.Load(id)
	if err != nil {
		log.Warningf("Status of %s: %v", id, err)
	}
	if cp != nil {
		processed := len(cp.Operations)
		return Job{
			ID:        id,
			Status:    Paused,
			Progress:  extraction.Percent(processed, cp.TotalOps),
			Processed: processed,
			Total:     cp.TotalOps,
			Message:   "extraction interrupted, can be resumed",
		}, true
	}

	meta, err := r.results.LoadMetadata(id)
	if err != nil {
		log.Warningf("Status of %s: %v", id, err)
	}
	if meta != nil {
		return Job{ID: id, Status: Completed, Progress: 100, Processed: meta.TotalOperations, Total: meta.TotalOperations, Metadata: meta}, true
	}
	return Job{}, false
}
