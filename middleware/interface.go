// Package middleware publishes and consumes bridge events over RabbitMQ
// fanout exchanges.
package middleware

import (
	"fmt"

	"github.com/op/go-logging"
	amqp "github.com/rabbitmq/amqp091-go"
)

var log = logging.MustGetLogger("log")

type MiddlewareMessage amqp.Delivery

type MessageMiddlewareError struct {
	Code int
	Msg  string
}

func (e *MessageMiddlewareError) Error() string {
	return fmt.Sprintf("middleware error (%d): %s", e.Code, e.Msg)
}

const (
	MessageMiddlewareMessageError int = iota + 1
	MessageMiddlewareDisconnectedError
	MessageMiddlewareCloseError
	MessageMiddlewareDeleteError
	MessageMiddlewareProducerCannotConsumeError
	MessageMiddlewareConsumerCannotSendError
)

// OnMessageCallback handles one delivery and reports on done whether it was
// processed (nil acks, an error requeues).
type OnMessageCallback func(msg MiddlewareMessage, done chan *MessageMiddlewareError)

type MessageMiddleware interface {
	/*
	   Starts listening to the exchange and calls onMessageCallback for every
	   delivery. Returns MessageMiddlewareDisconnectedError if the broker goes
	   away and MessageMiddlewareMessageError on internal failures.
	*/
	StartConsuming(onMessageCallback OnMessageCallback) (error *MessageMiddlewareError)

	/*
	   Stops a running StartConsuming. No effect if nothing is being consumed.
	*/
	StopConsuming() (error *MessageMiddlewareError)

	/*
	   Publishes a message to the exchange.
	*/
	Send(message []byte) (error *MessageMiddlewareError)

	/*
	   Releases the channel.
	*/
	Close() (error *MessageMiddlewareError)

	/*
	   Deletes the remote queue or exchange.
	*/
	Delete() (error *MessageMiddlewareError)
}
