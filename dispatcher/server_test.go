package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RaelFilh96/Analise-de-Aderencia/session"
	"github.com/RaelFilh96/Analise-de-Aderencia/terminal"
)

// FakeTransport feeds requests from in and collects replies on out. It
// fails the test if two requests are received without a reply in between.
type FakeTransport struct {
	t       *testing.T
	in      chan []byte
	out     chan []byte
	closed  chan struct{}
	once    sync.Once
	mu      sync.Mutex
	pending bool
}

func NewFakeTransport(t *testing.T) *FakeTransport {
	return &FakeTransport{
		t:      t,
		in:     make(chan []byte),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *FakeTransport) Recv() ([]byte, error) {
	select {
	case data := <-f.in:
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.pending {
			f.t.Errorf("received a request before replying to the previous one")
		}
		f.pending = true
		return data, nil
	case <-f.closed:
		return nil, errors.New("transport closed")
	}
}

func (f *FakeTransport) Send(reply []byte) error {
	f.mu.Lock()
	f.pending = false
	f.mu.Unlock()
	f.out <- reply
	return nil
}

func (f *FakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *FakeTransport) roundTrip(t *testing.T, req map[string]any) map[string]any {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	f.in <- data
	select {
	case raw := <-f.out:
		var reply map[string]any
		require.NoError(t, json.Unmarshal(raw, &reply))
		return reply
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return nil
	}
}

func TestServerAnswersInOrderAndStops(t *testing.T) {
	f := newFixture(t, nil, 1, 1)
	transport := NewFakeTransport(t)
	server := NewServer(transport, f.d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	reply := transport.roundTrip(t, map[string]any{"action": "status", "requestId": "1"})
	assert.Equal(t, "1", reply["requestId"])
	assert.Equal(t, true, reply["success"])

	reply = transport.roundTrip(t, map[string]any{"action": "nope", "requestId": "2"})
	assert.Equal(t, "2", reply["requestId"])
	assert.Equal(t, false, reply["success"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server did not observe the stop signal")
	}
	transport.Close()
}

func TestServerReturnsTransportFailure(t *testing.T) {
	f := newFixture(t, nil, 1, 1)
	transport := NewFakeTransport(t)
	server := NewServer(transport, f.d)

	done := make(chan error, 1)
	go func() { done <- server.Run(context.Background()) }()
	transport.Close()

	select {
	case err := <-done:
		assert.EqualError(t, err, "transport closed")
	case <-time.After(time.Second):
		t.Fatal("server kept running on a dead transport")
	}
}

func TestHeartbeat(t *testing.T) {
	paper := terminal.NewPaper(nil, nil)
	sup := session.NewSupervisor(paper, session.ConnectParams{})
	hb := NewHeartbeat(sup, time.Hour, time.Millisecond)

	// never connected: the beat makes one connect attempt
	assert.True(t, hb.Beat(context.Background()))
	assert.True(t, sup.Connected())
	assert.Equal(t, 1, paper.InitializeCalls())

	assert.True(t, hb.Beat(context.Background()))
	assert.Equal(t, 1, paper.InitializeCalls())

	// terminal restarted behind our back
	paper.Drop()
	assert.True(t, hb.Beat(context.Background()))
	assert.Equal(t, 2, paper.InitializeCalls())

	// terminal gone for good
	paper.Drop()
	paper.SetInitializeError(errors.New("terminal not running"))
	assert.False(t, hb.Beat(context.Background()))
	assert.Equal(t, 3, paper.InitializeCalls())
	assert.Equal(t, session.Disconnected, sup.State())
}

func TestHeartbeatRunStops(t *testing.T) {
	sup := session.NewSupervisor(terminal.NewPaper(nil, nil), session.ConnectParams{})
	hb := NewHeartbeat(sup, 5*time.Millisecond, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, hb.Run(ctx))
	assert.True(t, sup.Connected())
}
