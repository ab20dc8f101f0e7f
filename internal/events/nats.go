package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectPrefix is prepended to every event type to form the NATS subject,
// e.g. "factord.evidence.appended".
const SubjectPrefix = "factord."

// NATSPublisher publishes events as JSON to NATS subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewNATSPublisher connects to a NATS server and returns a publisher.
func NewNATSPublisher(url string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := nats.Connect(url,
		nats.Name("factord"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return &NATSPublisher{conn: conn, logger: logger}, nil
}

// Publish sends the event to its subject. Errors are logged and returned
// but callers are expected to treat publication as best-effort.
func (p *NATSPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	subject := SubjectPrefix + string(evt.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("event publish failed",
			zap.String("subject", subject),
			zap.String("event_id", evt.ID),
			zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

var _ Publisher = (*NATSPublisher)(nil)
