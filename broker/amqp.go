package broker

import (
	"context"
	"encoding/json"
	"time"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var _ Producer = &AMQPBroker{}

const (
	billingExchange string = "billing_events"
)

// AMQPBroker describes a message broker via RabbitMQ
type AMQPBroker struct {
	connection *amqp.Connection
	channel    *amqp.Channel
}

// NewAMQPBroker returns a Message Broker over RabbitMQ
func NewAMQPBroker(amqpURI string) (*AMQPBroker, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	broker := &AMQPBroker{
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := broker.setupBillingExchange(); err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare exchange for billing events")
	}

	return broker, nil
}

func (a *AMQPBroker) setupBillingExchange() error {
	return a.channel.ExchangeDeclare(
		billingExchange, // name
		"direct",        // type
		true,            // durable
		false,           // auto-deleted
		false,           // internal
		false,           // no-wait
		nil,             // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	a.connection.Close()
}

// PublishBillingEvent will publish the event to the billing exchange, routed
// by its type so consumers can bind to the subset they care about
func (a *AMQPBroker) PublishBillingEvent(e *Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	jsonBytes, err := json.Marshal(e)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode event into bytes")
	}
	if err := a.channel.Publish(
		billingExchange,
		string(e.Type),
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        jsonBytes,
		},
	); err != nil {
		return extErrors.Wrap(err, "Cannot publish billing event")
	}
	return nil
}

func decodeEvent(body []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, extErrors.Wrap(err, "Cannot decode billing event")
	}
	return &e, nil
}

// ReceiveBillingEvents binds a queue to the billing exchange for the given
// event types and decodes deliveries until the context is cancelled
func (a *AMQPBroker) ReceiveBillingEvents(ctx context.Context, queueName string, types ...EventType) (<-chan *Event, error) {
	if _, err := a.channel.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup queue")
	}
	for _, t := range types {
		if err := a.channel.QueueBind(
			queueName,
			string(t),
			billingExchange,
			false,
			nil,
		); err != nil {
			return nil, extErrors.Wrap(err, "Cannot bind queue to exchange")
		}
	}
	msgChan, err := a.channel.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot consume from queue")
	}

	eventChan := make(chan *Event)
	go func() {
		defer close(eventChan)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgChan:
				if !ok {
					return
				}
				e, err := decodeEvent(d.Body)
				if err != nil {
					d.Nack(false, false)
					continue
				}
				d.Ack(false)
				eventChan <- e
			}
		}
	}()
	return eventChan, nil
}
