package middleware

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Producer publishes to a fanout exchange.
type Producer struct {
	name    string
	channel *amqp.Channel
}

func NewProducer(conn *RabbitConn, name string) (*Producer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	err = ch.ExchangeDeclare(
		name,
		"fanout", // type
		false,    // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	return &Producer{name: name, channel: ch}, nil
}

func (p *Producer) StartConsuming(onMessageCallback OnMessageCallback) (error *MessageMiddlewareError) {
	return &MessageMiddlewareError{Code: MessageMiddlewareProducerCannotConsumeError, Msg: "Producer cannot consume messages"}
}

func (p *Producer) StopConsuming() (error *MessageMiddlewareError) {
	return &MessageMiddlewareError{Code: MessageMiddlewareProducerCannotConsumeError, Msg: "Producer cannot consume messages"}
}

func (p *Producer) Send(message []byte) (error *MessageMiddlewareError) {
	err := p.channel.Publish(
		p.name,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        message,
		})

	if err != nil {
		return &MessageMiddlewareError{Code: MessageMiddlewareDisconnectedError, Msg: "Failed to send message: " + err.Error()}
	}

	return nil
}

func (p *Producer) Close() (error *MessageMiddlewareError) {
	if p.channel == nil || p.channel.IsClosed() {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		return &MessageMiddlewareError{Code: MessageMiddlewareCloseError, Msg: "Failed to close channel: " + err.Error()}
	}
	return nil
}

func (p *Producer) Delete() (error *MessageMiddlewareError) {
	if err := p.channel.ExchangeDelete(p.name, false, false); err != nil {
		return &MessageMiddlewareError{Code: MessageMiddlewareDeleteError, Msg: "Failed to delete exchange: " + err.Error()}
	}
	return p.Close()
}
