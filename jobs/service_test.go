package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/RaelFilh96/Analise-de-Aderencia/errors"
	"github.com/RaelFilh96/Analise-de-Aderencia/extraction"
	"github.com/RaelFilh96/Analise-de-Aderencia/middleware"
	"github.com/RaelFilh96/Analise-de-Aderencia/terminal"
)

// StubExtractor reports one progress step and then either finishes with
// outcome, waits for the cancel token when block is set, or panics when
// panics is set.
type StubExtractor struct {
	outcome extraction.Outcome
	err     error
	block   bool
	panics  bool
}

func (s *StubExtractor) Extract(ctx context.Context, req extraction.Request, progress extraction.ProgressFunc, cancel extraction.CancelToken) extraction.Result {
	progress(extraction.Progress{Percent: 50, Processed: 2, Total: 4, Message: "extracting operations"})
	ops := []terminal.Deal{{"ticket": 1}, {"ticket": 2}}
	if s.panics {
		panic("history decoder blew up")
	}
	if s.block {
		for !cancel.Cancelled() {
			select {
			case <-ctx.Done():
				return extraction.Result{Outcome: extraction.Failed, Operations: ops, Err: ctx.Err()}
			case <-time.After(5 * time.Millisecond):
			}
		}
		return extraction.Result{Outcome: extraction.Cancelled, Operations: ops}
	}
	res := extraction.Result{Outcome: s.outcome, Operations: ops, Err: s.err}
	res.Metadata.TotalOperations = len(ops)
	return res
}

type StubSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *StubSink) Publish(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *StubSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

func newService(t *testing.T, engine Extractor, workers, queue int) (*Service, *StubSink) {
	t.Helper()
	r, _ := newRegistry(t)
	r.now = time.Now
	sink := &StubSink{}
	s := NewService(r, NewPool(workers, queue), engine, sink, 0, 10*time.Millisecond)
	t.Cleanup(s.Close)
	return s, sink
}

func waitForStatus(t *testing.T, r *Registry, id string, want Status) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = r.Get(id)
		return ok && job.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return job
}

func TestServiceCompletesJob(t *testing.T) {
	s, sink := newService(t, &StubExtractor{outcome: extraction.Completed}, 1, 1)

	job, err := s.Start(extraction.Request{JobID: "ok", Start: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, Starting, job.Status)

	job = waitForStatus(t, s.Registry(), "ok", Completed)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 2, job.Processed)
	assert.Equal(t, 2, job.Result.TotalOperations)
	require.Eventually(t, func() bool { return len(sink.types()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{EventStarted, EventCompleted}, sink.types())
}

func TestServiceRecordsFailure(t *testing.T) {
	cause := apperrors.Wrap(apperrors.ExtractionFailure, "stopped at 2024-01-15T00:00:00Z", errors.New("terminal went away"))
	s, sink := newService(t, &StubExtractor{outcome: extraction.Failed, err: cause}, 1, 1)

	_, err := s.Start(extraction.Request{JobID: "bad"})
	require.NoError(t, err)

	job := waitForStatus(t, s.Registry(), "bad", Error)
	assert.Contains(t, job.Message, "terminal went away")
	require.Eventually(t, func() bool { return len(sink.types()) == 2 }, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	assert.Equal(t, EventFailed, sink.events[1].Type)
	assert.Contains(t, sink.events[1].Error, "terminal went away")
	sink.mu.Unlock()
}

func TestServiceFailsPanickingJob(t *testing.T) {
	s, sink := newService(t, &StubExtractor{panics: true}, 1, 1)
	s.Registry().retention = 0

	_, err := s.Start(extraction.Request{JobID: "boom"})
	require.NoError(t, err)

	job := waitForStatus(t, s.Registry(), "boom", Error)
	assert.Contains(t, job.Message, "history decoder blew up")
	require.Eventually(t, func() bool { return len(sink.types()) == 2 }, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	assert.Equal(t, EventFailed, sink.events[1].Type)
	assert.Equal(t, Error, sink.events[1].Status)
	sink.mu.Unlock()
	assert.Equal(t, 0, s.Registry().Active())

	assert.Equal(t, 1, s.Registry().Sweep())
	require.Eventually(t, func() bool {
		_, err := s.Start(extraction.Request{JobID: "boom"})
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestServiceCancel(t *testing.T) {
	s, sink := newService(t, &StubExtractor{block: true}, 1, 1)

	assert.False(t, s.Cancel(context.Background(), "unknown"))

	_, err := s.Start(extraction.Request{JobID: "long"})
	require.NoError(t, err)
	waitForStatus(t, s.Registry(), "long", Extracting)

	assert.True(t, s.Cancel(context.Background(), "long"))
	_, ok := s.Registry().Get("long")
	assert.False(t, ok, "entry is dropped after the grace period")
	assert.False(t, s.Cancel(context.Background(), "long"))

	require.Eventually(t, func() bool {
		types := sink.types()
		return len(types) == 2 && types[1] == EventCancelled
	}, 2*time.Second, 5*time.Millisecond)

	// the worker returned, so the id is free again
	require.Eventually(t, func() bool {
		_, err := s.Start(extraction.Request{JobID: "long"})
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestServiceRejectsDuplicateAndInvalidIDs(t *testing.T) {
	s, _ := newService(t, &StubExtractor{block: true}, 1, 1)

	_, err := s.Start(extraction.Request{JobID: "dup"})
	require.NoError(t, err)
	_, err = s.Start(extraction.Request{JobID: "dup"})
	assert.Equal(t, apperrors.DuplicateJobId, apperrors.KindOf(err))

	_, err = s.Start(extraction.Request{JobID: "../escape"})
	assert.Equal(t, apperrors.InvalidRequest, apperrors.KindOf(err))
}

func TestServiceReportsPoolExhaustion(t *testing.T) {
	s, _ := newService(t, &StubExtractor{block: true}, 1, 1)

	_, err := s.Start(extraction.Request{JobID: "first"})
	require.NoError(t, err)
	waitForStatus(t, s.Registry(), "first", Extracting)
	_, err = s.Start(extraction.Request{JobID: "second"})
	require.NoError(t, err)

	_, err = s.Start(extraction.Request{JobID: "third"})
	assert.Equal(t, apperrors.PoolExhausted, apperrors.KindOf(err))
	_, ok := s.Registry().Get("third")
	assert.False(t, ok, "rejected jobs are not left in the registry")
}

// StubProducer captures what BrokerEvents sends.
type StubProducer struct {
	sent [][]byte
	fail bool
}

func (p *StubProducer) Send(message []byte) *middleware.MessageMiddlewareError {
	if p.fail {
		return &middleware.MessageMiddlewareError{Code: middleware.MessageMiddlewareDisconnectedError, Msg: "broker down"}
	}
	p.sent = append(p.sent, message)
	return nil
}

func TestBrokerEventsEncodesJSON(t *testing.T) {
	out := &StubProducer{}
	events := NewBrokerEvents(out)

	ev := newEvent(EventCompleted, "extract_20240101_000000", Completed)
	ev.Operations = 42
	events.Publish(ev)

	require.Len(t, out.sent, 1)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.sent[0], &decoded))
	assert.Equal(t, "extraction.completed", decoded["type"])
	assert.Equal(t, "extract_20240101_000000", decoded["extract_id"])
	assert.Equal(t, "completed", decoded["status"])
	assert.Equal(t, 42.0, decoded["operations"])
	assert.NotEmpty(t, decoded["event_id"])

	out.fail = true
	assert.NotPanics(t, func() { events.Publish(ev) })
}
