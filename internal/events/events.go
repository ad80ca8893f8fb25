// Package events announces the outcome of every processed property so that
// other systems can react without polling the store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"iptu-backend/internal/debts"
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultSubject = "iptu.property.processed"

// PropertyProcessed is published once per property of a run.
type PropertyProcessed struct {
	RunId        string               `json:"run_id"`
	PropertyId   string               `json:"property_id"`
	Status       debts.PropertyStatus `json:"status"`
	Installments int                  `json:"installments"`
	Documents    int                  `json:"documents"`
	Attempts     int                  `json:"attempts"`
	Error        string               `json:"error,omitempty"`
	At           time.Time            `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, evt PropertyProcessed) error
	Close() error
}

// Noop is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, PropertyProcessed) error { return nil }
func (Noop) Close() error                                      { return nil }

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

type NATSPublisher struct {
	nc      conn
	subject string
}

type NATSConfig struct {
	Url     string `json:"url"`
	Subject string `json:"subject"`
}

func NewNATSPublisher(cfg NATSConfig) (NATSPublisher, error) {
	url := cfg.Url
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(
		url,
		nats.Name("iptu-cli"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return NATSPublisher{}, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return newNATSPublisher(nc, cfg.Subject), nil
}

func newNATSPublisher(nc conn, subject string) NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return NATSPublisher{nc: nc, subject: subject}
}

func (p NATSPublisher) Publish(ctx context.Context, evt PropertyProcessed) error {
	if evt.PropertyId == "" {
		return fmt.Errorf("invalid event: missing property id")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Close flushes pending messages before closing the connection.
func (p NATSPublisher) Close() error {
	return p.nc.Drain()
}
