package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Handler processes one message body. Returning false re-queues the message.
type Handler func(body []byte) bool

type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// Consume binds a durable queue to one routing key and dispatches deliveries
// to handler until the channel closes.
func (c *Consumer) Consume(exchange, queueName, routingKey string, handler Handler) error {
	return c.ConsumeWithBindings(exchange, queueName, map[string]Handler{routingKey: handler})
}

// ConsumeWithBindings binds a durable queue to several routing keys, each with
// its own handler. Deliveries are processed on a background goroutine.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	handlers := make(map[string]Handler)
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			switch dispatch(handlers, d.RoutingKey, d.Body) {
			case outcomeAck:
				d.Ack(false)
			case outcomeDrop:
				log.Warn().Str("component", "rabbitmq_consumer").Str("routing_key", d.RoutingKey).Msg("no handler for routing key; acknowledging to drop")
				d.Ack(false)
			case outcomeRequeue:
				log.Warn().Str("component", "rabbitmq_consumer").Str("routing_key", d.RoutingKey).Msg("handler failed; re-queuing")
				d.Nack(false, true)
			}
		}
		log.Info().Str("component", "rabbitmq_consumer").Str("queue", q.Name).Msg("delivery channel closed")
	}()

	return nil
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeDrop
	outcomeRequeue
)

func dispatch(handlers map[string]Handler, routingKey string, body []byte) outcome {
	handler, ok := handlers[routingKey]
	if !ok {
		return outcomeDrop
	}
	if handler(body) {
		return outcomeAck
	}
	return outcomeRequeue
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
