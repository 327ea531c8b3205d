package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSRelay mirrors every hub event onto a NATS subject so processes other
// than the dashboard can follow task and monitoring activity.
type NATSRelay struct {
	conn    *nats.Conn
	subject string
}

func NewNATSRelay(url, subject string, opts ...nats.Option) (*NATSRelay, error) {
	defaults := []nats.Option{
		nats.Name("missioncontrol"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSRelay{conn: nc, subject: subject}, nil
}

// Run forwards events from hub until ctx is cancelled or the hub closes.
// Publish failures are logged; the hub is never blocked by the relay.
func (r *NATSRelay) Run(ctx context.Context, hub *Hub) error {
	sub := hub.Subscribe()
	defer sub.Close()

	log.Info().Str("subject", r.subject).Msg("nats relay started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := r.conn.Publish(r.subject, []byte(msg)); err != nil {
				log.Warn().Err(err).Str("subject", r.subject).Msg("nats publish failed")
			}
		}
	}
}

func (r *NATSRelay) Close() error {
	if err := r.conn.Drain(); err != nil {
		r.conn.Close()
		return err
	}
	return nil
}
