// Package progress carries roster import tallies from the importer to
// whoever is watching: NATS subscribers, pollers, or nobody.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/animetrack/services/library/internal/domain"
)

var ErrNoProgress = errors.New("progress: nothing recorded")

// MediaKey names the media whose roster is being imported.
type MediaKey struct {
	Kind       domain.Kind
	ExternalID int
}

func (k MediaKey) String() string { return fmt.Sprintf("%s/%d", k.Kind, k.ExternalID) }

// Progress is the running tally of one roster import.
type Progress struct {
	Total     int       `json:"total"`
	Existing  int       `json:"existing"`
	Created   int       `json:"created"`
	Failed    int       `json:"failed"`
	Remaining int       `json:"remaining"`
	Done      bool      `json:"done"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Processed is Existing+Created+Failed.
func (p Progress) Processed() int { return p.Existing + p.Created + p.Failed }

type Sink interface {
	Publish(ctx context.Context, key MediaKey, p Progress) error
}

type Reader interface {
	Latest(ctx context.Context, key MediaKey) (Progress, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, key MediaKey, p Progress) error

func (f SinkFunc) Publish(ctx context.Context, key MediaKey, p Progress) error { return f(ctx, key, p) }

// Discard drops every update.
var Discard Sink = SinkFunc(func(context.Context, MediaKey, Progress) error { return nil })

// Fanout forwards each update to every sink. A failing sink is logged and
// does not stop the others.
type Fanout struct {
	sinks []Sink
	log   *zap.Logger
}

func NewFanout(log *zap.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Fanout{sinks: kept, log: log}
}

func (f *Fanout) Publish(ctx context.Context, key MediaKey, p Progress) error {
	for _, s := range f.sinks {
		if err := s.Publish(ctx, key, p); err != nil {
			f.log.Warn("progress sink failed", zap.String("media", key.String()), zap.Error(err))
		}
	}
	return nil
}
