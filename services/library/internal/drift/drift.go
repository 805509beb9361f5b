// Package drift periodically compares imported media with the catalog.
package drift

import (
	"context"
	"fmt"

	cron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/example/animetrack/internal/platform/events"
	"github.com/example/animetrack/services/library/internal/domain"
	"github.com/example/animetrack/services/library/internal/metrics"
	"github.com/example/animetrack/services/library/internal/reconcile"
	"github.com/example/animetrack/services/library/internal/store"
)

type Lister interface {
	ListImported(ctx context.Context, kind domain.Kind, limit int) ([]store.ImportedRef, error)
}

type Comparer interface {
	Compare(ctx context.Context, kind domain.Kind, id string) (reconcile.DiffResult, error)
}

type EventPublisher interface {
	Publish(subject, eventName, userID string, props map[string]any)
}

type Options struct {
	Store    Lister
	Comparer Comparer
	Metrics  *metrics.Metrics
	Events   EventPublisher
	Log      *zap.Logger
	// Limit caps the media compared per scan; 0 means all.
	Limit int
}

type Scanner struct {
	opts Options
	log  *zap.Logger
}

func New(opts Options) *Scanner {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{opts: opts, log: log}
}

// Summary tallies one scan. Errors counts media the local side failed to compare.
type Summary struct {
	Scanned     int
	InSync      int
	Drifted     int
	Unavailable int
	Errors      int
}

func (s Summary) counts() map[string]int {
	return map[string]int{
		string(reconcile.StatusInSync):            s.InSync,
		string(reconcile.StatusDrifted):           s.Drifted,
		string(reconcile.StatusSourceUnavailable): s.Unavailable,
		"error": s.Errors,
	}
}

// Scan compares every imported media, oldest activity first. It stops early
// only when ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context) (Summary, error) {
	refs, err := s.opts.Store.ListImported(ctx, "", s.opts.Limit)
	if err != nil {
		return Summary{}, fmt.Errorf("list imported: %w", err)
	}
	var sum Summary
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Scanned++
		d, err := s.opts.Comparer.Compare(ctx, ref.Kind, ref.ID)
		if err != nil {
			sum.Errors++
			s.log.Warn("drift: compare failed", zap.String("media_id", ref.ID), zap.Error(err))
			continue
		}
		switch d.Status {
		case reconcile.StatusInSync:
			sum.InSync++
		case reconcile.StatusSourceUnavailable:
			sum.Unavailable++
		case reconcile.StatusDrifted:
			sum.Drifted++
			groups := make([]string, 0, 3)
			for _, g := range d.DriftedGroups() {
				groups = append(groups, string(g))
			}
			if s.opts.Events != nil {
				s.opts.Events.Publish(events.SubjectDriftDetected, "media_drifted", "", map[string]any{
					"media_id":    ref.ID,
					"kind":        string(ref.Kind),
					"external_id": ref.ExternalID,
					"groups":      groups,
				})
			}
		}
	}
	s.opts.Metrics.DriftScan(sum.counts())
	s.log.Info("drift scan done",
		zap.Int("scanned", sum.Scanned), zap.Int("drifted", sum.Drifted),
		zap.Int("unavailable", sum.Unavailable), zap.Int("errors", sum.Errors))
	return sum, nil
}

// Schedule registers Scan on a new cron using spec (standard cron syntax or
// descriptors such as "@every 6h"). Overlapping runs are skipped. The caller
// starts and stops the returned cron.
func (s *Scanner) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	cl := cronLogger{s.log.Sugar()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Scan(ctx); err != nil {
			s.log.Warn("drift scan aborted", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("drift schedule %q: %w", spec, err)
	}
	return c, nil
}

type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...any) { l.s.Debugw(msg, keysAndValues...) }

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
