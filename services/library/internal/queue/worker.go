package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/animetrack/services/library/internal/anilist"
	"github.com/example/animetrack/services/library/internal/importer"
	"github.com/example/animetrack/services/library/internal/metrics"
)

// Handler runs one import job.
type Handler func(ctx context.Context, job ImportMediaJob) error

type Worker struct {
	Log     *zap.Logger
	JS      nats.JetStreamContext
	Handle  Handler
	Metrics *metrics.Metrics

	MaxDeliver int
	// Batch is the number of jobs pulled per fetch. They run one after another.
	Batch     int
	FetchWait time.Duration
}

func NewWorker(log *zap.Logger, js nats.JetStreamContext, handle Handler, m *metrics.Metrics) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{Log: log, JS: js, Handle: handle, Metrics: m, MaxDeliver: 5, Batch: 1, FetchWait: 2 * time.Second}
}

func (w *Worker) EnsureStream(ctx context.Context) error {
	info, err := w.JS.StreamInfo(StreamName, nats.Context(ctx))
	if err == nil {
		if slices.Equal(info.Config.Subjects, streamSubjects) {
			return nil
		}
		cfg := info.Config
		cfg.Subjects = streamSubjects
		_, err := w.JS.UpdateStream(&cfg, nats.Context(ctx))
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = w.JS.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: streamSubjects,
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	}, nats.Context(ctx))
	return err
}

func (w *Worker) Run(ctx context.Context) error {
	if err := w.EnsureStream(ctx); err != nil {
		return err
	}
	sub, err := w.JS.PullSubscribe(SubjectImportMedia, durableImportMedia, nats.ManualAck())
	if err != nil {
		return err
	}
	batch := w.Batch
	if batch < 1 {
		batch = 1
	}
	w.Log.Info("consumer started", zap.String("subject", SubjectImportMedia), zap.Int("batch", batch))
	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := sub.Fetch(batch, nats.MaxWait(w.FetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return err
		}
		for _, m := range msgs {
			if ctx.Err() != nil {
				_ = m.Nak()
				continue
			}
			w.handleMsg(ctx, m)
		}
	}
}

type action int

const (
	actAck action = iota
	actTerminal
	actRetry
	actDeadLetter
)

func (a action) String() string {
	switch a {
	case actAck:
		return "ok"
	case actTerminal:
		return "terminal"
	case actRetry:
		return "retry"
	default:
		return "dead_letter"
	}
}

// decide maps a handler outcome to the message disposition. Not-found and
// malformed failures never succeed on redelivery.
func decide(err error, numDelivered uint64, maxDeliver int) action {
	switch {
	case err == nil:
		return actAck
	case errors.Is(err, ErrBadJob), errors.Is(err, importer.ErrInvalidPayload):
		return actTerminal
	}
	switch anilist.KindOf(err) {
	case anilist.KindNotFound, anilist.KindMalformed:
		return actTerminal
	}
	if maxDeliver > 0 && int(numDelivered) >= maxDeliver {
		return actDeadLetter
	}
	return actRetry
}

func (w *Worker) handleMsg(ctx context.Context, m *nats.Msg) {
	md, _ := m.Metadata()
	numDelivered := uint64(1)
	if md != nil {
		numDelivered = md.NumDelivered
	}

	job, err := decodeJob(m.Data)
	if err == nil {
		err = w.Handle(ctx, job)
	}
	act := decide(err, numDelivered, w.MaxDeliver)
	w.Metrics.Job(act.String())

	log := w.Log.With(zap.String("kind", string(job.Kind)), zap.Int("external_id", job.ExternalID),
		zap.Uint64("attempt", numDelivered))
	switch act {
	case actAck:
		_ = m.Ack()
	case actTerminal:
		log.Warn("import job dropped", zap.Error(err))
		_ = m.Ack()
	case actRetry:
		d := retryDelay(err, numDelivered)
		log.Warn("import job failed, retrying", zap.Duration("delay", d), zap.Error(err))
		_ = m.NakWithDelay(d)
	case actDeadLetter:
		log.Error("import job exhausted deliveries", zap.Error(err))
		if dlqErr := w.publishDLQ(m.Data, fmt.Sprintf("max deliveries exceeded: %d: %v", numDelivered, err)); dlqErr != nil {
			log.Error("dlq publish failed", zap.Error(dlqErr))
			_ = m.NakWithDelay(maxBackoff)
			return
		}
		_ = m.Ack()
	}
}

func (w *Worker) publishDLQ(data []byte, reason string) error {
	msg := map[string]any{"subject": SubjectImportMedia, "reason": reason, "payload": json.RawMessage(data)}
	b, _ := json.Marshal(msg)
	_, err := w.JS.Publish(SubjectDLQ, b)
	return err
}
