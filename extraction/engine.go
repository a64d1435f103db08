// Package extraction runs resumable, checkpointed history extractions.
//
// A job walks its date range in 7-day batch windows. Each window is fetched
// through the session, appended to the accumulated records and marked done in
// the checkpoint's window set, so a resumed job never fetches a window twice.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	roaring "github.com/RoaringBitmap/roaring/roaring64"
	"github.com/op/go-logging"

	apperrors "github.com/RaelFilh96/Analise-de-Aderencia/errors"
	"github.com/RaelFilh96/Analise-de-Aderencia/metrics"
	"github.com/RaelFilh96/Analise-de-Aderencia/persistance"
	"github.com/RaelFilh96/Analise-de-Aderencia/session"
	"github.com/RaelFilh96/Analise-de-Aderencia/terminal"
)

var log = logging.MustGetLogger("log")

const (
	DefaultCheckpointInterval = 500
	DefaultEstimate           = 1000
	estimateSample            = 7 * 24 * time.Hour
)

// DataSource is what the engine needs from the session supervisor.
type DataSource interface {
	Connected() bool
	Connect(ctx context.Context, p session.ConnectParams) error
	HistoryDeals(ctx context.Context, from, to time.Time) ([]terminal.Deal, error)
}

// Progress is one progress report of a running job.
type Progress struct {
	Percent   int
	Total     int
	Processed int
	Message   string
}

type ProgressFunc func(Progress)

// CancelToken is polled at every batch boundary.
type CancelToken interface {
	Cancelled() bool
}

type Request struct {
	JobID string
	Start time.Time
	// End defaults to now.
	End time.Time
	// CheckpointInterval defaults to DefaultCheckpointInterval.
	CheckpointInterval int
}

type Outcome string

const (
	Completed Outcome = "completed"
	Cancelled Outcome = "cancelled"
	Failed    Outcome = "failed"
)

type Result struct {
	Outcome    Outcome
	Operations []terminal.Deal
	Metadata   persistance.Metadata
	// Batches is the number of windows fetched by this run.
	Batches int
	Err     error
}

func (r Result) Success() bool { return r.Outcome == Completed }

type Engine struct {
	source      DataSource
	checkpoints *persistance.CheckpointStore
	results     *persistance.ExtractionStore
	now         func() time.Time
}

func NewEngine(source DataSource, checkpoints *persistance.CheckpointStore, results *persistance.ExtractionStore) *Engine {
	return &Engine{
		source:      source,
		checkpoints: checkpoints,
		results:     results,
		now:         time.Now,
	}
}

// job is the mutable state of one Extract call.
type job struct {
	id        string
	start     time.Time
	end       time.Time
	interval  int
	ops       []terminal.Deal
	windows   *roaring.Bitmap
	lastDate  time.Time
	total     int
	processed int
	batches   int
	progress  ProgressFunc
}

// Extract runs (or resumes) the job described by req. It never panics on
// terminal failures: every outcome is reported through Result.
func (e *Engine) Extract(ctx context.Context, req Request, progress ProgressFunc, cancel CancelToken) Result {
	if req.JobID == "" {
		req.JobID = GenerateID(e.now())
	}
	if req.End.IsZero() {
		req.End = e.now().UTC()
	}
	if req.CheckpointInterval <= 0 {
		req.CheckpointInterval = DefaultCheckpointInterval
	}
	if progress == nil {
		progress = func(Progress) {}
	}

	if !e.source.Connected() {
		if err := e.source.Connect(ctx, session.ConnectParams{}); err != nil {
			log.Errorf("Extraction %s: cannot connect to terminal: %v", req.JobID, err)
			return Result{
				Outcome: Failed,
				Err:     apperrors.Wrap(apperrors.SessionUnavailable, "terminal connection failed", err),
			}
		}
	}

	j := e.prepare(ctx, req)
	j.progress = progress
	j.report("starting extraction")

	n := windowCount(j.start, j.end)
	for k := 0; k < n; k++ {
		if j.windows.Contains(uint64(k)) {
			continue
		}
		if cancel != nil && cancel.Cancelled() {
			return e.cancelled(j)
		}
		from, to := window(j.start, j.end, k, n)
		if err := ctx.Err(); err != nil {
			return e.failed(j, from, err)
		}

		log.Infof("Extraction %s: fetching %s .. %s", j.id, persistance.FormatTime(from), persistance.FormatTime(to))
		deals, err := e.source.HistoryDeals(ctx, from, to)
		if err != nil {
			if interrupts(ctx, err) {
				return e.failed(j, from, err)
			}
			log.Warningf("Extraction %s: no deals for %s .. %s: %v", j.id, persistance.FormatTime(from), persistance.FormatTime(to), err)
			deals = nil
		}

		j.ops = append(j.ops, deals...)
		j.windows.Add(uint64(k))
		j.lastDate = to
		j.batches++
		metrics.ObserveBatch(len(deals))

		if len(deals) == 0 {
			continue
		}
		j.processed = len(j.ops)
		j.report("extracting operations")

		if len(j.ops)%j.interval == 0 {
			if err := e.checkpoints.Save(j.checkpoint(e.now())); err != nil {
				log.Errorf("Extraction %s: %v", j.id, err)
			} else {
				log.Infof("Extraction %s: checkpoint saved with %d operations", j.id, len(j.ops))
			}
		}
	}

	// a cancel acknowledged during the last fetch still wins
	if cancel != nil && cancel.Cancelled() {
		return e.cancelled(j)
	}
	return e.complete(j)
}

// prepare restores the job from its checkpoint or starts a fresh one.
func (e *Engine) prepare(ctx context.Context, req Request) *job {
	j := &job{
		id:       req.JobID,
		start:    req.Start.UTC(),
		end:      req.End.UTC(),
		interval: req.CheckpointInterval,
	}

	cp, err := e.checkpoints.Load(req.JobID)
	if err != nil {
		log.Warningf("Extraction %s: ignoring unreadable checkpoint: %v", req.JobID, err)
		cp = nil
	}

	if cp == nil {
		log.Infof("Starting new extraction %s", j.id)
		j.windows = roaring.New()
		j.lastDate = j.start
		j.total = e.estimate(ctx, j.start, j.end)
		return j
	}

	log.Infof("Resuming extraction %s from checkpoint (%d operations, last date %s)", j.id, len(cp.Operations), persistance.FormatTime(cp.LastDate))
	j.ops = cp.Operations
	j.processed = len(cp.Operations)
	j.total = cp.TotalOps
	if j.total < 1 {
		j.total = DefaultEstimate
	}
	j.lastDate = cp.LastDate
	if cp.StartDate.IsZero() {
		// checkpoint without a window set: resume right after its boundary
		j.start = cp.LastDate
		j.windows = roaring.New()
	} else {
		j.start = cp.StartDate
		j.windows = cp.Windows
	}
	return j
}

// estimate extrapolates the daily deal rate of the trailing week to the whole
// range. It only feeds the progress percentage.
func (e *Engine) estimate(ctx context.Context, start, end time.Time) int {
	sampleStart := end.Add(-estimateSample)
	if sampleStart.Before(start) {
		sampleStart = start
	}
	deals, err := e.source.HistoryDeals(ctx, sampleStart, end)
	if err != nil || len(deals) == 0 {
		return DefaultEstimate
	}
	sampleDays := int(end.Sub(sampleStart).Hours() / 24)
	if sampleDays == 0 {
		sampleDays = 1
	}
	totalDays := int(end.Sub(start).Hours() / 24)
	if totalDays == 0 {
		totalDays = 1
	}
	est := len(deals) * totalDays / sampleDays
	if est < 1 {
		est = 1
	}
	return est
}

func (e *Engine) complete(j *job) Result {
	meta := persistance.Metadata{
		ExtractID:       j.id,
		StartDate:       persistance.FormatTime(j.start),
		EndDate:         persistance.FormatTime(j.end),
		TotalOperations: len(j.ops),
		Timestamp:       persistance.FormatTime(e.now()),
	}
	if err := e.results.Save(meta, j.ops); err != nil {
		if cpErr := e.checkpoints.Save(j.checkpoint(e.now())); cpErr != nil {
			log.Errorf("Extraction %s: %v", j.id, cpErr)
		}
		return e.partial(j, j.lastDate, apperrors.Wrap(apperrors.ExtractionFailure, "could not save extraction", err), Failed)
	}
	if err := e.checkpoints.Delete(j.id); err != nil {
		log.Warningf("Extraction %s: %v", j.id, err)
	}

	j.progress(Progress{Percent: 100, Total: j.total, Processed: j.processed, Message: "extraction completed"})
	log.Infof("Extraction %s completed: %d operations", j.id, len(j.ops))
	return Result{Outcome: Completed, Operations: j.ops, Metadata: meta, Batches: j.batches}
}

func (e *Engine) cancelled(j *job) Result {
	log.Infof("Extraction %s cancelled at %s with %d operations", j.id, persistance.FormatTime(j.lastDate), len(j.ops))
	e.saveOnStop(j)
	return e.partial(j, j.lastDate, nil, Cancelled)
}

func (e *Engine) failed(j *job, at time.Time, cause error) Result {
	log.Errorf("Extraction %s failed at %s: %v", j.id, persistance.FormatTime(at), cause)
	e.saveOnStop(j)
	err := apperrors.Wrap(apperrors.ExtractionFailure, fmt.Sprintf("stopped at %s", persistance.FormatTime(at)), cause)
	return e.partial(j, at, err, Failed)
}

func (e *Engine) saveOnStop(j *job) {
	if len(j.ops) == 0 {
		return
	}
	if err := e.checkpoints.Save(j.checkpoint(e.now())); err != nil {
		log.Errorf("Extraction %s: %v", j.id, err)
	}
}

func (e *Engine) partial(j *job, at time.Time, err error, outcome Outcome) Result {
	return Result{
		Outcome:    outcome,
		Operations: j.ops,
		Batches:    j.batches,
		Err:        err,
		Metadata: persistance.Metadata{
			ExtractID:       j.id,
			StartDate:       persistance.FormatTime(j.start),
			TotalOperations: len(j.ops),
			Timestamp:       persistance.FormatTime(e.now()),
			Partial:         true,
			ErrorDate:       persistance.FormatTime(at),
		},
	}
}

func (j *job) report(msg string) {
	j.progress(Progress{
		Percent:   Percent(j.processed, j.total),
		Total:     j.total,
		Processed: j.processed,
		Message:   msg,
	})
}

func (j *job) checkpoint(now time.Time) *persistance.Checkpoint {
	return &persistance.Checkpoint{
		ExtractID:  j.id,
		Operations: j.ops,
		LastDate:   j.lastDate,
		TotalOps:   j.total,
		Timestamp:  now,
		StartDate:  j.start,
		Windows:    j.windows,
	}
}

// Percent is processed as a share of total, capped at 99 until the job
// completes.
func Percent(processed, total int) int {
	if total < 1 {
		return 0
	}
	p := processed * 100 / total
	if p > 99 {
		p = 99
	}
	return p
}

// interrupts reports whether err means the job cannot go on, as opposed to a
// window the terminal simply could not serve.
func interrupts(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return apperrors.Is(err, apperrors.SessionUnavailable) || apperrors.Is(err, apperrors.ConnectionError)
}
