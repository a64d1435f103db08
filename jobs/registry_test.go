package jobs

import (
	"path/filepath"
	"testing"
	"time"

	roaring "github.com/RoaringBitmap/roaring/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/RaelFilh96/Analise-de-Aderencia/errors"
	"github.com/RaelFilh96/Analise-de-Aderencia/extraction"
	"github.com/RaelFilh96/Analise-de-Aderencia/persistance"
	"github.com/RaelFilh96/Analise-de-Aderencia/terminal"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newRegistry(t *testing.T) (*Registry, *clock) {
	t.Helper()
	dir := t.TempDir()
	r := NewRegistry(0,
		persistance.NewCheckpointStore(filepath.Join(dir, "checkpoints")),
		persistance.NewExtractionStore(filepath.Join(dir, "extractions")))
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	r.now = c.now
	return r, c
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r, _ := newRegistry(t)
	job, err := r.Register("a")
	require.NoError(t, err)
	assert.Equal(t, Starting, job.Status)
	require.NotNil(t, job.StartTime)

	_, err = r.Register("a")
	assert.Equal(t, apperrors.DuplicateJobId, apperrors.KindOf(err))

	// removed from view but its worker has not returned yet
	r.Remove("a")
	_, err = r.Register("a")
	assert.Equal(t, apperrors.DuplicateJobId, apperrors.KindOf(err))

	r.Release("a")
	_, err = r.Register("a")
	assert.NoError(t, err)
}

func TestProgressIsMonotonic(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Register("a")
	require.NoError(t, err)

	r.UpdateProgress("a", extraction.Progress{Percent: 40, Processed: 400, Total: 1000, Message: "extracting"})
	r.UpdateProgress("a", extraction.Progress{Percent: 30, Processed: 300, Total: 1000, Message: "late report"})

	job, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, Extracting, job.Status)
	assert.Equal(t, 40, job.Progress)
	assert.Equal(t, 400, job.Processed)
	assert.NotNil(t, job.LastUpdate)

	r.Complete("a", 812)
	r.UpdateProgress("a", extraction.Progress{Percent: 99, Processed: 900})
	job, _ = r.Get("a")
	assert.Equal(t, Completed, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 400, job.Processed)
	require.NotNil(t, job.Result)
	assert.Equal(t, 812, job.Result.TotalOperations)
}

func TestGetReturnsACopy(t *testing.T) {
	r, _ := newRegistry(t)
	_, _ = r.Register("a")
	job, _ := r.Get("a")
	job.Progress = 77
	again, _ := r.Get("a")
	assert.Equal(t, 0, again.Progress)
}

func TestMarkCancelled(t *testing.T) {
	r, _ := newRegistry(t)
	assert.False(t, r.MarkCancelled("missing"))

	_, _ = r.Register("a")
	token := r.Token("a")
	assert.False(t, token.Cancelled())
	assert.True(t, r.MarkCancelled("a"))
	assert.True(t, token.Cancelled())
	job, _ := r.Get("a")
	assert.Equal(t, Cancelled, job.Status)

	// a worker that still finished its last batch does not undo the cancel
	r.Complete("a", 5)
	job, _ = r.Get("a")
	assert.Equal(t, Cancelled, job.Status)
	assert.Nil(t, job.Result)

	// already terminal
	assert.False(t, r.MarkCancelled("a"))

	_, _ = r.Register("b")
	r.Complete("b", 1)
	assert.False(t, r.MarkCancelled("b"))

	r.Remove("a")
	assert.True(t, token.Cancelled())
}

func TestSweepHonoursRetention(t *testing.T) {
	r, c := newRegistry(t)
	_, _ = r.Register("done")
	_, _ = r.Register("failed")
	_, _ = r.Register("running")
	r.Complete("done", 10)
	r.Fail("failed", "terminal went away")
	assert.Equal(t, 1, r.Active())

	c.t = c.t.Add(59 * time.Second)
	assert.Equal(t, 0, r.Sweep())

	c.t = c.t.Add(time.Second)
	assert.Equal(t, 2, r.Sweep())
	_, ok := r.Get("done")
	assert.False(t, ok)
	_, ok = r.Get("running")
	assert.True(t, ok)
}

func TestLookupFallsBackToDisk(t *testing.T) {
	r, _ := newRegistry(t)

	_, ok := r.Lookup("nowhere")
	assert.False(t, ok)

	cp := &persistance.Checkpoint{
		ExtractID:  "paused",
		Operations: []terminal.Deal{{"ticket": 1}, {"ticket": 2}, {"ticket": 3}},
		LastDate:   time.Date(2024, 1, 7, 23, 59, 59, 0, time.UTC),
		TotalOps:   12,
		Timestamp:  time.Now(),
		StartDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Windows:    roaring.BitmapOf(0),
	}
	require.NoError(t, r.checkpoints.Save(cp))
	job, ok := r.Lookup("paused")
	require.True(t, ok)
	assert.Equal(t, Paused, job.Status)
	assert.Equal(t, 3, job.Processed)
	assert.Equal(t, 12, job.Total)
	assert.Equal(t, 25, job.Progress)

	// the estimate was too low: progress stays below 100 until completion
	over := &persistance.Checkpoint{
		ExtractID:  "overrun",
		Operations: make([]terminal.Deal, 25),
		LastDate:   time.Date(2024, 1, 7, 23, 59, 59, 0, time.UTC),
		TotalOps:   10,
		Timestamp:  time.Now(),
		StartDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Windows:    roaring.BitmapOf(0),
	}
	for i := range over.Operations {
		over.Operations[i] = terminal.Deal{"ticket": i + 1}
	}
	require.NoError(t, r.checkpoints.Save(over))
	job, ok = r.Lookup("overrun")
	require.True(t, ok)
	assert.Equal(t, Paused, job.Status)
	assert.Equal(t, 25, job.Processed)
	assert.Equal(t, 99, job.Progress)

	meta := persistance.Metadata{ExtractID: "done", StartDate: "2024-01-01T00:00:00Z", TotalOperations: 2, Timestamp: "2024-01-11T00:00:00Z"}
	require.NoError(t, r.results.Save(meta, []terminal.Deal{{"ticket": 1}, {"ticket": 2}}))
	job, ok = r.Lookup("done")
	require.True(t, ok)
	assert.Equal(t, Completed, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Metadata)
	assert.Equal(t, 2, job.Metadata.TotalOperations)

	// a resident job wins over anything on disk
	_, _ = r.Register("done")
	job, _ = r.Lookup("done")
	assert.Equal(t, Starting, job.Status)
}
