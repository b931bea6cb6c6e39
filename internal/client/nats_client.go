package client

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSConfig configures the broker connection.
type NATSConfig struct {
	URL  string
	Name string
	// JetStream publishes with acknowledgement; the target stream must exist.
	JetStream bool
}

// NATSClient publishes raw messages to NATS.
type NATSClient struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewNATSClient connects to the broker. Reconnects are handled by nats.go.
func NewNATSClient(cfg NATSConfig, log zerolog.Logger) (*NATSClient, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	c := &NATSClient{conn: conn}
	if cfg.JetStream {
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		c.js = js
	}
	return c, nil
}

// Publish sends data on subject.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if c.js != nil {
		_, err := c.js.Publish(ctx, subject, data)
		return err
	}
	return c.conn.Publish(subject, data)
}

// Close drains pending messages and closes the connection.
func (c *NATSClient) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
