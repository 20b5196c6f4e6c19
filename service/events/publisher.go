package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kestrelhq/solsync/service/metrics"
	"github.com/kestrelhq/solsync/service/txsync"
)

const (
	// StreamName is the name of the JetStream stream for account updates.
	StreamName = "ACCOUNT_TXNS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "accounts.*.transactions"

	// StreamRetention is how long messages are retained.
	StreamRetention = 30 * 24 * time.Hour
)

// AccountTransactionsUpdated is the event published when a sync pass persists
// new transactions for an account. One event per account per save batch.
type AccountTransactionsUpdated struct {
	AccountID    string                `json:"account_id"`
	Transactions []*txsync.Transaction `json:"transactions"`
	PublishedAt  time.Time             `json:"published_at"`
}

// JetStreamPublisher publishes account update events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher creates a new JetStream publisher. It connects to NATS and
// ensures the stream exists. If m is nil, no metrics are recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("solsync-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := p.js.Stream(ctx, StreamName); err == nil {
		p.logger.Debug("JetStream stream already exists", "stream", StreamName)
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Account transaction update events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// PublishAccountTransactionsUpdated publishes one event per account in the
// batch to "accounts.{account_id}.transactions". A failed publish for one
// account does not stop the others; the first error is returned.
func (p *JetStreamPublisher) PublishAccountTransactionsUpdated(ctx context.Context, updates map[string][]*txsync.Transaction) error {
	var firstErr error
	for accountID, txns := range updates {
		if len(txns) == 0 {
			continue
		}

		event := AccountTransactionsUpdated{
			AccountID:    accountID,
			Transactions: txns,
			PublishedAt:  time.Now().UTC(),
		}
		data, err := json.Marshal(event)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to encode event for account %s: %w", accountID, err)
			}
			continue
		}

		subject := fmt.Sprintf("accounts.%s.transactions", accountID)
		_, err = p.js.Publish(ctx, subject, data)

		status := "success"
		if err != nil {
			status = "error"
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to publish event for account %s: %w", accountID, err)
			}
			p.logger.ErrorContext(ctx, "failed to publish account update",
				"account", accountID,
				"subject", subject,
				"error", err,
			)
		} else {
			p.logger.DebugContext(ctx, "published account update",
				"account", accountID,
				"subject", subject,
				"transactions", len(txns),
			)
		}
		if p.metrics != nil {
			p.metrics.RecordEventPublished(status, 1)
		}
	}
	return firstErr
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	p.nc.Close()
	return nil
}
