package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Subscriber streams credit events from JetStream to SSE clients and the CLI.
type Subscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSubscriber connects to NATS for consuming credit events.
func NewSubscriber(natsURL string, logger *slog.Logger) (*Subscriber, error) {
	nc, js, err := connect(natsURL, "wishpay-subscriber")
	if err != nil {
		return nil, err
	}

	logger.Info("NATS subscriber initialized", "url", natsURL)

	return &Subscriber{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Subscribe delivers credit events published after the call. An empty
// walletAddress subscribes to every wallet. The returned channel is closed
// once ctx is done and the consumer has stopped.
func (s *Subscriber) Subscribe(ctx context.Context, walletAddress string) (<-chan *CreditEvent, error) {
	subject := StreamSubjects
	if walletAddress != "" {
		subject = SubjectForWallet(walletAddress)
	}

	cons, err := s.js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	out := make(chan *CreditEvent, 16)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var event CreditEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			s.logger.WarnContext(ctx, "failed to unmarshal credit event",
				"subject", msg.Subject(),
				"error", err,
			)
			return
		}
		select {
		case out <- &event:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		<-ctx.Done()
		cc.Stop()
		<-cc.Closed()
		close(out)
	}()

	return out, nil
}

// Close closes the NATS connection.
func (s *Subscriber) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS subscriber closed")
	}
	return nil
}
