package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/example/animetrack/services/library/internal/domain"
)

const (
	StreamName         = "LIBRARY_JOBS"
	SubjectImportMedia = "library.import.media"
	SubjectDLQ         = "library.dlq"

	durableImportMedia = "library_import_media"
)

// streamSubjects leaves library.import.progress.> out of the stream; those
// snapshots are core NATS only.
var streamSubjects = []string{SubjectImportMedia, SubjectDLQ, "library.events.>", "library.drift.>"}

var ErrBadJob = errors.New("queue: bad job")

type ImportMediaJob struct {
	Kind       domain.Kind `json:"kind"`
	ExternalID int         `json:"external_id"`
}

func (j ImportMediaJob) Validate() error {
	if !j.Kind.IsMedia() {
		return fmt.Errorf("%w: kind %q", ErrBadJob, j.Kind)
	}
	if j.ExternalID <= 0 {
		return fmt.Errorf("%w: external_id %d", ErrBadJob, j.ExternalID)
	}
	return nil
}

// JetStreamPublisher is the part of nats.JetStreamContext used to enqueue.
type JetStreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Enqueue publishes an import job and waits for the stream ack.
func Enqueue(js JetStreamPublisher, job ImportMediaJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if _, err := js.Publish(SubjectImportMedia, b); err != nil {
		return fmt.Errorf("enqueue %s/%d: %w", job.Kind, job.ExternalID, err)
	}
	return nil
}

func decodeJob(data []byte) (ImportMediaJob, error) {
	var j ImportMediaJob
	if err := json.Unmarshal(data, &j); err != nil {
		return ImportMediaJob{}, fmt.Errorf("%w: %v", ErrBadJob, err)
	}
	return j, j.Validate()
}
