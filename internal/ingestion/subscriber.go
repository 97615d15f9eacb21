// Package ingestion consumes ledger commands from NATS JetStream and applies
// them through the fund service. Each message carries one draft or post
// instruction; the subject's last token names the command kind.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream   = "FUND_LEDGER_COMMANDS"
	CommandSubjects = "fund.commands.>"
	ConsumerName    = "fund-ledger-commands"
)

// RawCommand is a message from NATS, not yet parsed.
type RawCommand struct {
	Subject  string
	Data     []byte
	Received time.Time
	Ack      func() // processed, do not redeliver
	Nak      func() // transient failure, redeliver
	Term     func() // permanent failure, never redeliver
}

// NATSSubscriber feeds command messages into a channel drained by Handler.Run.
type NATSSubscriber struct {
	js       jetstream.JetStream
	out      chan<- RawCommand
	consumer jetstream.ConsumeContext
	log      zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, out chan<- RawCommand, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{js: js, out: out, log: log}
}

// EnsureCommandStream creates the command stream if it does not exist.
func EnsureCommandStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      CommandStream,
		Subjects:  []string{CommandSubjects},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", CommandStream, err)
	}
	return nil
}

// Subscribe creates a durable consumer with explicit ACK, max_deliver=5 and
// ack_wait=30s. Messages are handed to out in delivery order.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: CommandSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", ConsumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawCommand{
			Subject:  msg.Subject(),
			Data:     msg.Data(),
			Received: time.Now(),
			Ack:      func() { msg.Ack() },
			Nak:      func() { msg.Nak() },
			Term:     func() { msg.Term() },
		}

		select {
		case ns.out <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", ConsumerName, err)
	}

	ns.consumer = cc
	ns.log.Info().Str("subject", CommandSubjects).Str("consumer", ConsumerName).Msg("subscribed to commands")
	return nil
}

func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.log.Info().Msg("command subscriber stopped")
}
