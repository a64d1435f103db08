package dispatcher

import (
	"context"
)

type inbound struct {
	data  []byte
	reply chan []byte
}

// Server runs the receive loop of one transport. A reader goroutine owns the
// transport and keeps the strict receive/reply alternation; the loop itself
// only selects between inbound requests and the stop signal, so a stop is
// observed without waiting for a client.
type Server struct {
	transport  Transport
	dispatcher *Dispatcher
}

func NewServer(transport Transport, dispatcher *Dispatcher) *Server {
	return &Server{transport: transport, dispatcher: dispatcher}
}

// Run serves requests until ctx is done or the transport fails.
func (s *Server) Run(ctx context.Context) error {
	requests := make(chan inbound)
	readErr := make(chan error, 1)
	go s.read(ctx, requests, readErr)

	log.Infof("Dispatcher loop started")
	for {
		select {
		case <-ctx.Done():
			log.Infof("Dispatcher loop stopped")
			return nil
		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			log.Errorf("Transport failed: %v", err)
			return err
		case in := <-requests:
			in.reply <- s.dispatcher.Handle(ctx, in.data)
		}
	}
}

func (s *Server) read(ctx context.Context, requests chan<- inbound, readErr chan<- error) {
	for {
		data, err := s.transport.Recv()
		if err != nil {
			readErr <- err
			return
		}

		in := inbound{data: data, reply: make(chan []byte, 1)}
		select {
		case requests <- in:
		case <-ctx.Done():
			return
		}

		if err := s.transport.Send(<-in.reply); err != nil {
			readErr <- err
			return
		}
	}
}
