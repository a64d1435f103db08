package dispatcher

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"
)

// Transport is a reply endpoint. Every Recv must be answered by exactly one
// Send before the next Recv.
type Transport interface {
	Recv() ([]byte, error)
	Send(reply []byte) error
	Close() error
}

// ZmqTransport is a bound ZeroMQ REP socket.
type ZmqTransport struct {
	address string
	socket  zmq4.Socket
}

// ListenZmq binds a REP socket to address. Cancelling ctx closes the socket
// and unblocks a pending Recv.
func ListenZmq(ctx context.Context, address string) (*ZmqTransport, error) {
	socket := zmq4.NewRep(ctx)
	if err := socket.Listen(address); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("bind %s: %w", address, err)
	}
	log.Infof("Listening on %s", address)
	return &ZmqTransport{address: address, socket: socket}, nil
}

func (t *ZmqTransport) Recv() ([]byte, error) {
	msg, err := t.socket.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Bytes(), nil
}

func (t *ZmqTransport) Send(reply []byte) error {
	return t.socket.Send(zmq4.NewMsg(reply))
}

func (t *ZmqTransport) Close() error {
	log.Infof("Closing %s", t.address)
	return t.socket.Close()
}

// Call sends one request over a REQ socket and waits for the reply.
func Call(ctx context.Context, address string, request []byte) ([]byte, error) {
	socket := zmq4.NewReq(ctx)
	defer socket.Close()
	if err := socket.Dial(address); err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	if err := socket.Send(zmq4.NewMsg(request)); err != nil {
		return nil, fmt.Errorf("send to %s: %w", address, err)
	}
	msg, err := socket.Recv()
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", address, err)
	}
	return msg.Bytes(), nil
}
