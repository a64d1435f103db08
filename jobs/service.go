package jobs

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/RaelFilh96/Analise-de-Aderencia/errors"
	"github.com/RaelFilh96/Analise-de-Aderencia/extraction"
	"github.com/RaelFilh96/Analise-de-Aderencia/metrics"
	"github.com/RaelFilh96/Analise-de-Aderencia/persistance"
)

const DefaultCancelGrace = time.Second

// Extractor runs one extraction to its outcome.
type Extractor interface {
	Extract(ctx context.Context, req extraction.Request, progress extraction.ProgressFunc, cancel extraction.CancelToken) extraction.Result
}

// Service starts, tracks and cancels extraction jobs.
type Service struct {
	registry           *Registry
	pool               *Pool
	engine             Extractor
	events             EventSink
	checkpointInterval int
	cancelGrace        time.Duration
}

func NewService(registry *Registry, pool *Pool, engine Extractor, events EventSink, checkpointInterval int, cancelGrace time.Duration) *Service {
	if events == nil {
		events = NopEvents{}
	}
	if cancelGrace < 0 {
		cancelGrace = DefaultCancelGrace
	}
	return &Service{
		registry:           registry,
		pool:               pool,
		engine:             engine,
		events:             events,
		checkpointInterval: checkpointInterval,
		cancelGrace:        cancelGrace,
	}
}

func (s *Service) Registry() *Registry { return s.registry }

// Start registers the job and queues it on the pool. It returns as soon as
// the job is queued.
func (s *Service) Start(req extraction.Request) (Job, error) {
	if !persistance.ValidID(req.JobID) {
		return Job{}, apperrors.New(apperrors.InvalidRequest, fmt.Sprintf("invalid extract_id %q", req.JobID))
	}
	if req.CheckpointInterval <= 0 {
		req.CheckpointInterval = s.checkpointInterval
	}

	job, err := s.registry.Register(req.JobID)
	if err != nil {
		return Job{}, err
	}

	err = s.pool.Submit(Task{ID: req.JobID, Run: func(ctx context.Context) { s.run(ctx, req) }})
	if err != nil {
		s.registry.Remove(req.JobID)
		s.registry.Release(req.JobID)
		return Job{}, err
	}

	metrics.SetActiveJobs(s.registry.Active())
	log.Infof("Extraction %s queued (%s .. %s)", req.JobID, persistance.FormatTime(req.Start), persistance.FormatTime(req.End))
	return job, nil
}

func (s *Service) run(ctx context.Context, req extraction.Request) {
	id := req.JobID
	defer s.registry.Release(id)
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("extraction panicked: %v", r)
			log.Errorf("Extraction %s: %s", id, msg)
			s.registry.Fail(id, msg)
			ev := newEvent(EventFailed, id, Error)
			ev.Error = msg
			s.finished(ev)
		}
	}()

	if s.registry.IsCancelled(id) {
		log.Infof("Extraction %s cancelled before it started", id)
		s.registry.Finish(id, Cancelled, "extraction cancelled")
		s.finished(newEvent(EventCancelled, id, Cancelled))
		return
	}

	s.registry.SetStatus(id, Extracting, "extraction running")
	s.events.Publish(newEvent(EventStarted, id, Extracting))

	progress := func(p extraction.Progress) { s.registry.UpdateProgress(id, p) }
	res := s.engine.Extract(ctx, req, progress, s.registry.Token(id))

	var ev Event
	switch res.Outcome {
	case extraction.Completed:
		s.registry.Complete(id, res.Metadata.TotalOperations)
		ev = newEvent(EventCompleted, id, Completed)
	case extraction.Cancelled:
		s.registry.Finish(id, Cancelled, "extraction cancelled")
		ev = newEvent(EventCancelled, id, Cancelled)
	default:
		msg := "extraction failed"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		s.registry.Fail(id, msg)
		ev = newEvent(EventFailed, id, Error)
		ev.Error = msg
	}
	ev.Operations = len(res.Operations)
	s.finished(ev)
}

func (s *Service) finished(ev Event) {
	metrics.ObserveJobFinished(string(ev.Status))
	metrics.SetActiveJobs(s.registry.Active())
	s.events.Publish(ev)
}

// Cancel flags id, gives its worker the grace period to reach a batch
// boundary and drops the entry from the registry. It reports false when id
// is not an active job.
func (s *Service) Cancel(ctx context.Context, id string) bool {
	if !s.registry.MarkCancelled(id) {
		return false
	}
	log.Infof("Cancellation requested for extraction %s", id)

	timer := time.NewTimer(s.cancelGrace)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}
	s.registry.Remove(id)
	metrics.SetActiveJobs(s.registry.Active())
	return true
}

// Close stops the pool. Running jobs are interrupted and keep their
// checkpoints.
func (s *Service) Close() {
	s.pool.Close()
}
