package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RaelFilh96/Analise-de-Aderencia/jobs"
	mw "github.com/RaelFilh96/Analise-de-Aderencia/middleware"
)

func TestBuildRequest(t *testing.T) {
	data, err := buildRequest("extract", []string{
		"start_date=2024-01-01",
		"extract_id=20240101_000000",
		"login=5001",
		"dry=true",
		"note=",
		"server=Demo=Server",
	})
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(data, &req))
	assert.Equal(t, "extract", req["action"])
	assert.NotEmpty(t, req["requestId"])
	assert.Equal(t, "2024-01-01", req["start_date"])
	assert.Equal(t, "20240101_000000", req["extract_id"])
	assert.Equal(t, float64(5001), req["login"])
	assert.Equal(t, true, req["dry"])
	assert.Equal(t, "", req["note"])
	assert.Equal(t, "Demo=Server", req["server"])
}

func TestBuildRequestRejectsBareWords(t *testing.T) {
	_, err := buildRequest("status", []string{"verbose"})
	assert.Error(t, err)
	_, err = buildRequest("status", []string{"=x"})
	assert.Error(t, err)
}

func TestPrintEvent(t *testing.T) {
	body, err := json.Marshal(jobs.Event{
		ID:         "e1",
		Type:       jobs.EventCompleted,
		ExtractID:  "job-1",
		Status:     jobs.Completed,
		Operations: 12,
		At:         "2024-01-02T03:04:05Z",
	})
	require.NoError(t, err)

	var out bytes.Buffer
	done := make(chan *mw.MessageMiddlewareError, 1)
	printEvent(&out)(mw.MiddlewareMessage{Body: body}, done)

	assert.Nil(t, <-done)
	assert.Contains(t, out.String(), "extraction.completed")
	assert.Contains(t, out.String(), "job-1 status=completed operations=12")

	out.Reset()
	printEvent(&out)(mw.MiddlewareMessage{Body: []byte("not json")}, done)
	assert.Nil(t, <-done)
	assert.Empty(t, out.String())
}
