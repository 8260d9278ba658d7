// Package eventbus publishes terminal transfer-state transitions to an
// external broker, an alternative sink alongside the in-process
// ProgressHandler callback (§6). Grounded on
// Mantsje-iterum-sidecar/messageq/sender.go's Sender, which dialed a
// broker once, declared a queue, and published one JSON message per
// item off a channel; AMQPPublisher keeps that shape but publishes
// TransferEventArgs instead of a fragment description, and reports
// publish failures to the caller instead of only logging them.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"github.com/blobmover/core/internal/logx"
)

// EventKind names one terminal transition worth publishing.
type EventKind string

const (
	EventFileFinished  EventKind = "FileFinished"
	EventFileFailed    EventKind = "FileFailed"
	EventFileSkipped   EventKind = "FileSkipped"
	EventTransferDone  EventKind = "TransferDone"
	EventTransferError EventKind = "TransferError"
)

// TransferEventArgs is the payload published for one event (§6's
// TransferEventArgs, generalized across single-object and directory
// transfers).
type TransferEventArgs struct {
	Kind      EventKind `json:"kind"`
	Source    string    `json:"source"`
	Dest      string    `json:"dest"`
	Bytes     int64     `json:"bytes,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the sink AMQPPublisher and any future broker
// implementation satisfy; the manager depends on this interface, not
// the concrete AMQP type, so tests can substitute a fake.
type Publisher interface {
	Publish(ctx context.Context, event TransferEventArgs) error
	Close() error
}

// AMQPPublisher publishes TransferEventArgs onto a single durable
// queue on a broker reachable at BrokerURL. One connection and
// channel are held open for the publisher's lifetime, matching
// Sender.StartBlocking's single dial-and-declare-once shape.
type AMQPPublisher struct {
	BrokerURL string
	Queue     string

	conn *amqp.Connection
	ch   *amqp.Channel
	log  logx.Fields
}

// NewAMQPPublisher dials brokerURL and declares queue as a durable
// queue, ready to publish.
func NewAMQPPublisher(brokerURL, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("eventbus: dial %q: %w", brokerURL, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("eventbus: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("eventbus: declare queue %q: %w", queue, err)
	}

	p := &AMQPPublisher{BrokerURL: brokerURL, Queue: queue, conn: conn, ch: ch}
	logx.Infof(p.log, "eventbus: connected to %s, publishing on %q", brokerURL, queue)
	return p, nil
}

// Publish serializes event as JSON and publishes it to the declared
// queue, persistent so a broker restart does not lose it.
func (p *AMQPPublisher) Publish(ctx context.Context, event TransferEventArgs) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}

	err = p.ch.Publish("", p.Queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    event.Timestamp,
		Body:         body,
	})
	if err != nil {
		logx.Warnf(p.log, "eventbus: publish %s failed: %v", event.Kind, err)
		return fmt.Errorf("eventbus: publish: %w", err)
	}
	return nil
}

// Close tears down the channel and connection.
func (p *AMQPPublisher) Close() error {
	chErr := p.ch.Close()
	connErr := p.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}

var _ Publisher = (*AMQPPublisher)(nil)
