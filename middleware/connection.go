package middleware

import (
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitConn struct {
	mu   sync.Mutex
	url  string
	conn *amqp.Connection
}

// Dial opens a connection to the broker at url.
func Dial(url string) (*RabbitConn, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, &MessageMiddlewareError{Code: MessageMiddlewareDisconnectedError, Msg: "could not connect to " + url + ": " + err.Error()}
	}
	return &RabbitConn{url: url, conn: c}, nil
}

// Channel opens a channel, redialing once if the connection was dropped.
func (r *RabbitConn) Channel() (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn.IsClosed() {
		log.Warningf("Broker connection closed, redialing %s", r.url)
		c, err := amqp.Dial(r.url)
		if err != nil {
			return nil, &MessageMiddlewareError{Code: MessageMiddlewareDisconnectedError, Msg: "Connection is closed"}
		}
		r.conn = c
	}
	return r.conn.Channel()
}

func (r *RabbitConn) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn.Close()
	}
	return nil
}
