// Package roster imports a media's character roster one character at a time,
// spacing catalog fetches apart and reporting a running tally.
package roster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/animetrack/services/library/internal/anilist"
	"github.com/example/animetrack/services/library/internal/domain"
	"github.com/example/animetrack/services/library/internal/metrics"
	"github.com/example/animetrack/services/library/internal/progress"
	"github.com/example/animetrack/services/library/internal/resolver"
	"github.com/example/animetrack/services/library/internal/store"
)

type State string

const (
	StatePending   State = "pending"
	StateResolving State = "resolving"
	StateExisting  State = "existing"
	StateFetching  State = "fetching"
	StateCreating  State = "creating"
	StateCreated   State = "created"
	StateFailed    State = "failed"
)

// Item is the outcome for one roster entry.
type Item struct {
	ExternalID  int         `json:"external_id"`
	Role        domain.Role `json:"role"`
	State       State       `json:"state"`
	CharacterID string      `json:"character_id,omitempty"`
	// FailedAt is the state the item was in when it failed.
	FailedAt State  `json:"failed_at,omitempty"`
	Error    string `json:"error,omitempty"`
}

type Report struct {
	Items    []Item            `json:"items"`
	Progress progress.Progress `json:"progress"`
	// Entries are the resolved roster members in roster order, one per character.
	Entries []domain.CharacterRef `json:"-"`
}

// Catalog is the part of anilist.Provider the importer needs.
type Catalog interface {
	FetchCharacter(ctx context.Context, id int) (*anilist.CharacterPayload, error)
}

type Limiter interface {
	Wait(ctx context.Context) error
}

type Options struct {
	Resolver *resolver.Resolver
	Store    store.Store
	Catalog  Catalog
	// Limiter is waited on before every catalog fetch.
	Limiter Limiter
	Sink    progress.Sink
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

type Importer struct {
	resolver *resolver.Resolver
	store    store.Store
	catalog  Catalog
	limiter  Limiter
	sink     progress.Sink
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func New(opts Options) *Importer {
	if opts.Sink == nil {
		opts.Sink = progress.Discard
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Importer{
		resolver: opts.Resolver,
		store:    opts.Store,
		catalog:  opts.Catalog,
		limiter:  opts.Limiter,
		sink:     opts.Sink,
		metrics:  opts.Metrics,
		log:      opts.Log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Import processes entries sequentially in the given order. It never fails as
// a whole: every entry ends Existing, Created or Failed, and the tally is
// published after each one. When ctx ends, the remaining entries are marked
// Failed with the context error; characters already created stay.
func (im *Importer) Import(ctx context.Context, media domain.Media, entries []anilist.RosterEntry) Report {
	key := progress.MediaKey{Kind: media.Kind, ExternalID: media.ExternalID}
	ref := domain.MediaRef{MediaID: media.ID, Kind: media.Kind}

	rep := Report{
		Items:    make([]Item, 0, len(entries)),
		Progress: progress.Progress{Total: len(entries), Remaining: len(entries)},
	}
	seen := make(map[string]bool, len(entries))

	for _, e := range entries {
		var item Item
		if err := ctx.Err(); err != nil {
			item = Item{ExternalID: e.ExternalID, Role: domain.TranslateRole(e.Role)}
			item.fail(StatePending, err)
		} else {
			item = im.importOne(ctx, ref, e)
		}

		rep.Items = append(rep.Items, item)
		switch item.State {
		case StateExisting:
			rep.Progress.Existing++
		case StateCreated:
			rep.Progress.Created++
		default:
			rep.Progress.Failed++
		}
		if item.CharacterID != "" && !seen[item.CharacterID] {
			seen[item.CharacterID] = true
			rep.Entries = append(rep.Entries, domain.CharacterRef{CharacterID: item.CharacterID, Role: item.Role})
		}
		im.metrics.RosterItem(string(item.State))
		rep.Progress.Remaining--
		rep.Progress.Done = rep.Progress.Remaining == 0
		im.publish(ctx, key, &rep.Progress)
	}
	if len(entries) == 0 {
		rep.Progress.Done = true
		im.publish(ctx, key, &rep.Progress)
	}

	im.log.Info("roster import finished",
		zap.String("media", key.String()),
		zap.Int("total", rep.Progress.Total),
		zap.Int("existing", rep.Progress.Existing),
		zap.Int("created", rep.Progress.Created),
		zap.Int("failed", rep.Progress.Failed))
	return rep
}

func (im *Importer) publish(ctx context.Context, key progress.MediaKey, p *progress.Progress) {
	p.UpdatedAt = im.now()
	// The tally must still reach pollers after the caller gave up.
	if err := im.sink.Publish(context.WithoutCancel(ctx), key, *p); err != nil {
		im.log.Warn("progress publish failed", zap.String("media", key.String()), zap.Error(err))
	}
}

func (it *Item) fail(at State, err error) {
	it.State = StateFailed
	it.FailedAt = at
	it.Error = err.Error()
}

func (im *Importer) importOne(ctx context.Context, ref domain.MediaRef, e anilist.RosterEntry) Item {
	item := Item{ExternalID: e.ExternalID, Role: domain.TranslateRole(e.Role), State: StateResolving}

	c, err := im.resolver.ResolveCharacter(ctx, e.ExternalID)
	switch {
	case err == nil:
		if err := im.store.AttachCharacterMedia(ctx, c.ID, ref); err != nil {
			item.fail(StateExisting, fmt.Errorf("attach: %w", err))
			return item
		}
		item.State = StateExisting
		item.CharacterID = c.ID
		return item
	case !errors.Is(err, resolver.ErrNotFound):
		item.fail(StateResolving, err)
		return item
	}

	item.State = StateFetching
	if im.limiter != nil {
		if err := im.limiter.Wait(ctx); err != nil {
			item.fail(StateFetching, err)
			return item
		}
	}
	payload, err := im.catalog.FetchCharacter(ctx, e.ExternalID)
	if err != nil {
		im.log.Warn("character fetch failed", zap.Int("external_id", e.ExternalID), zap.Error(err))
		item.fail(StateFetching, err)
		return item
	}

	item.State = StateCreating
	c, created, err := im.resolver.CreateCharacter(ctx, anilist.ToCharacter(*payload))
	if err != nil {
		item.fail(StateCreating, err)
		return item
	}
	if err := im.store.AttachCharacterMedia(ctx, c.ID, ref); err != nil {
		item.fail(StateCreating, fmt.Errorf("attach: %w", err))
		return item
	}
	item.CharacterID = c.ID
	if created {
		item.State = StateCreated
	} else {
		// Another import created it between our resolve and create.
		item.State = StateExisting
	}
	return item
}
