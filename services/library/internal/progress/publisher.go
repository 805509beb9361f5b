package progress

import (
	"context"
	"encoding/json"
	"fmt"
)

const SubjectPrefix = "library.import.progress."

// Subject is the NATS subject updates for key are published on.
func Subject(key MediaKey) string {
	return fmt.Sprintf("%s%s.%d", SubjectPrefix, key.Kind, key.ExternalID)
}

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
}

// Publisher sends every update on core NATS. Updates are ephemeral; pollers
// use a Store instead.
type Publisher struct {
	nc Conn
}

func NewPublisher(nc Conn) *Publisher { return &Publisher{nc: nc} }

type message struct {
	Kind       string `json:"kind"`
	ExternalID int    `json:"external_id"`
	Progress
}

func (p *Publisher) Publish(_ context.Context, key MediaKey, pr Progress) error {
	b, err := json.Marshal(message{Kind: string(key.Kind), ExternalID: key.ExternalID, Progress: pr})
	if err != nil {
		return err
	}
	if err := p.nc.Publish(Subject(key), b); err != nil {
		return fmt.Errorf("progress: nats publish: %w", err)
	}
	return nil
}
