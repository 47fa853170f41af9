package events

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const defaultSubjectPrefix = "klinik.queue"

type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// ConnectNATS dials the broker and returns a publisher writing to
// <prefix>.<event type> subjects.
func ConnectNATS(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	conn, err := nats.Connect(url, nats.Name("registration-service"))
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}, nil
}

func (p *NATSPublisher) Publish(event QueueEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshal queue event", zap.Error(err))
		return
	}
	if err := p.conn.Publish(p.prefix+"."+event.Type, payload); err != nil {
		p.logger.Error("publish queue event",
			zap.String("type", event.Type),
			zap.Error(err),
		)
	}
}

func (p *NATSPublisher) Close() {
	_ = p.conn.Drain()
}
