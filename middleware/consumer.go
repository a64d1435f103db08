package middleware

import (
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer reads a fanout exchange through its own queue. An empty queue
// name asks the broker for an exclusive, auto-deleted one.
type Consumer struct {
	name       string
	sourceName string
	channel    *amqp.Channel
	deliveries <-chan amqp.Delivery

	quit    chan struct{} // signals the consuming loop to stop
	deleted chan struct{} // closed once the queue is deleted
	done    chan struct{} // closed when the consuming loop returns

	startOnce  sync.Once
	closeOnce  sync.Once
	deleteOnce sync.Once
}

func NewConsumer(conn *RabbitConn, queueName string, sourceName string) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	transient := queueName == ""
	q, err := ch.QueueDeclare(
		queueName, // name
		false,     // durable
		transient, // delete when unused
		transient, // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	err = ch.ExchangeDeclare(
		sourceName,
		"fanout", // type
		false,    // durable
		false,    // auto-delete
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	err = ch.QueueBind(
		q.Name,     // queue name
		"",         // routing key
		sourceName, // exchange name
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	return &Consumer{
		name:       q.Name,
		sourceName: sourceName,
		channel:    ch,
		quit:       make(chan struct{}),
		deleted:    make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

func (c *Consumer) StartConsuming(onMessageCallback OnMessageCallback) *MessageMiddlewareError {
	var startErr error
	first := false

	c.startOnce.Do(func() {
		first = true
		deliveries, err := c.channel.Consume(
			c.name, // queue
			"",     // consumer
			false,  // autoAck
			false,  // exclusive
			false,  // noLocal
			false,  // noWait
			nil,    // args
		)
		if err != nil {
			startErr = err
			return
		}
		c.deliveries = deliveries
	})

	if startErr != nil {
		return &MessageMiddlewareError{Code: MessageMiddlewareMessageError, Msg: "Failed consuming: " + startErr.Error()}
	}
	if !first {
		return &MessageMiddlewareError{Code: MessageMiddlewareMessageError, Msg: "Consumer already started"}
	}

	defer close(c.done)
	for {
		select {
		case <-c.quit:
			return nil
		case d, ok := <-c.deliveries:
			if !ok {
				return &MessageMiddlewareError{Code: MessageMiddlewareDisconnectedError, Msg: "deliveries channel closed"}
			}

			ret := make(chan *MessageMiddlewareError, 1)
			onMessageCallback(MiddlewareMessage(d), ret)

			select {
			case <-c.deleted:
				return nil
			case err := <-ret:
				if err != nil {
					log.Warningf("Requeueing message from %s: %v", c.sourceName, err)
					_ = d.Nack(false, true)
				} else {
					_ = d.Ack(false)
				}
			}
		}
	}
}

func (c *Consumer) StopConsuming() *MessageMiddlewareError {
	c.closeOnce.Do(func() {
		close(c.quit)
		// without a started loop nobody closes done
		if c.deliveries != nil {
			<-c.done
		}
	})
	return nil
}

func (c *Consumer) Send(message []byte) (error *MessageMiddlewareError) {
	return &MessageMiddlewareError{Code: MessageMiddlewareConsumerCannotSendError, Msg: "Consumer cannot send messages"}
}

func (c *Consumer) Close() (error *MessageMiddlewareError) {
	c.StopConsuming()

	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			return &MessageMiddlewareError{Code: MessageMiddlewareCloseError, Msg: "Failed to close channel: " + err.Error()}
		}
	}
	return nil
}

func (c *Consumer) Delete() (error *MessageMiddlewareError) {
	var firstErr *MessageMiddlewareError
	c.deleteOnce.Do(func() {
		close(c.deleted)
		if _, err := c.channel.QueueDelete(c.name, false, false, false); err != nil {
			firstErr = &MessageMiddlewareError{Code: MessageMiddlewareDeleteError, Msg: "Failed to delete queue: " + err.Error()}
		}
	})
	if err := c.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
