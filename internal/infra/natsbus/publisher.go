// Package natsbus publishes auction events to a NATS JetStream stream.
package natsbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"nft_auction/internal/domain"
	"nft_auction/internal/event"
)

// Config describes the connection and the stream.
type Config struct {
	URL     string
	Stream  string
	Subject string // prefix; events go to <Subject>.<Kind>
}

// jsPublisher is the part of jetstream.JetStream used here.
type jsPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher is a domain.EventSink backed by JetStream. Event IDs are used as
// message IDs so server-side deduplication drops replays.
type Publisher struct {
	conn    *nats.Conn
	js      jsPublisher
	subject string
	logger  *slog.Logger
}

// Connect dials NATS and makes sure the stream exists.
func Connect(ctx context.Context, cfg Config) (*Publisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("nft-auction"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, domain.NewNetworkError("nats connect", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Subject + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream %s: %w", cfg.Stream, err)
	}

	p := newPublisher(js, cfg.Subject)
	p.conn = conn
	p.logger.Info("JetStream stream ready", slog.String("stream", cfg.Stream), slog.String("url", cfg.URL))
	return p, nil
}

func newPublisher(js jsPublisher, subject string) *Publisher {
	return &Publisher{
		js:      js,
		subject: subject,
		logger:  slog.Default().With(slog.String("module", "natsbus")),
	}
}

// Subject returns the subject an envelope is published on.
func (p *Publisher) Subject(env domain.Envelope) string {
	return p.subject + "." + string(env.Kind)
}

// Publish implements domain.EventSink and waits for the stream ack.
func (p *Publisher) Publish(ctx context.Context, env domain.Envelope) error {
	data, err := event.Encode(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ack, err := p.js.Publish(ctx, p.Subject(env), data, jetstream.WithMsgID(env.ID))
	if err != nil {
		return domain.NewNetworkError("jetstream publish", err)
	}
	p.logger.Debug("Event published",
		slog.String("subject", p.Subject(env)),
		slog.Uint64("seq", ack.Sequence),
		slog.Bool("duplicate", ack.Duplicate),
	)
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
