// Package importer turns an accepted catalog media into a local media with
// resolved relation edges and an imported character roster.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"
	"go.uber.org/zap"

	"github.com/example/animetrack/internal/platform/auth"
	"github.com/example/animetrack/internal/platform/events"
	"github.com/example/animetrack/services/library/internal/anilist"
	"github.com/example/animetrack/services/library/internal/domain"
	"github.com/example/animetrack/services/library/internal/metrics"
	"github.com/example/animetrack/services/library/internal/resolver"
	"github.com/example/animetrack/services/library/internal/roster"
	"github.com/example/animetrack/services/library/internal/store"
)

var ErrInvalidPayload = errors.New("importer: invalid payload")

type SkipReason string

const (
	// SkipNotImported: the target exists in the catalog but not locally.
	SkipNotImported SkipReason = "not_imported"
	// SkipNotInCatalog: the catalog does not know the target either.
	SkipNotInCatalog SkipReason = "not_in_catalog"
	// SkipLookupFailed: the target could not be checked (store or catalog error).
	SkipLookupFailed SkipReason = "lookup_failed"
	// SkipUnsupportedKind: the target is neither anime nor manga.
	SkipUnsupportedKind SkipReason = "unsupported_kind"
)

type SkippedRelation struct {
	ExternalID  int                 `json:"external_id"`
	Kind        string              `json:"kind"`
	CatalogType string              `json:"catalog_type"`
	Type        domain.RelationType `json:"type"`
	Reason      SkipReason          `json:"reason"`
	Title       string              `json:"title,omitempty"`
	Detail      string              `json:"error,omitempty"`
}

func (s *SkippedRelation) Error() string {
	return fmt.Sprintf("relation %s/%d skipped: %s", s.Kind, s.ExternalID, s.Reason)
}

type Result struct {
	Media            domain.Media      `json:"media"`
	AlreadyImported  bool              `json:"already_imported"`
	SkippedRelations []SkippedRelation `json:"skipped_relations"`
	Roster           *roster.Report    `json:"roster,omitempty"`
	Warnings         []string          `json:"warnings,omitempty"`
}

// Catalog is the part of anilist.Provider the importer needs.
type Catalog interface {
	FetchMedia(ctx context.Context, id int, kind domain.Kind) (*anilist.MediaPayload, error)
	FetchCharacterRoster(ctx context.Context, mediaID int, kind domain.Kind) ([]anilist.RosterEntry, error)
}

type Options struct {
	Resolver *resolver.Resolver
	Store    store.Store
	Catalog  Catalog
	Roster   *roster.Importer
	Metrics  *metrics.Metrics
	Events   *events.Publisher
	Log      *zap.Logger
}

type Importer struct {
	resolver *resolver.Resolver
	store    store.Store
	catalog  Catalog
	roster   *roster.Importer
	metrics  *metrics.Metrics
	events   *events.Publisher
	log      *zap.Logger
	now      func() time.Time
}

func New(opts Options) *Importer {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Importer{
		resolver: opts.Resolver,
		store:    opts.Store,
		catalog:  opts.Catalog,
		roster:   opts.Roster,
		metrics:  opts.Metrics,
		events:   opts.Events,
		log:      opts.Log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Import fetches the accepted candidate and imports it. Failing to fetch the
// candidate itself is the only fatal catalog error.
func (im *Importer) Import(ctx context.Context, kind domain.Kind, externalID int) (*Result, error) {
	p, err := im.catalog.FetchMedia(ctx, externalID, kind)
	if err != nil {
		im.metrics.Import(string(kind), "failed")
		return nil, fmt.Errorf("fetch %s/%d: %w", kind, externalID, err)
	}
	return im.ImportPayload(ctx, p)
}

// ImportPayload imports an already fetched payload. Relations whose target is
// not in the local library are reported in SkippedRelations, never imported
// recursively.
func (im *Importer) ImportPayload(ctx context.Context, p *anilist.MediaPayload) (*Result, error) {
	if p == nil || p.ExternalID <= 0 || !p.Kind.IsMedia() {
		return nil, ErrInvalidPayload
	}
	log := im.log.With(zap.String("kind", string(p.Kind)), zap.Int("external_id", p.ExternalID))

	existing, err := im.resolver.ResolveMedia(ctx, p.Kind, p.ExternalID)
	if err == nil {
		// A previous import may have been cut short mid-roster. Characters it
		// already created resolve locally, so only the missing ones are fetched.
		res := &Result{Media: existing, AlreadyImported: true, SkippedRelations: []SkippedRelation{}}
		im.importRoster(ctx, log, p, res)
		im.metrics.Import(string(p.Kind), "already_imported")
		return res, nil
	}
	if !errors.Is(err, resolver.ErrNotFound) {
		im.metrics.Import(string(p.Kind), "failed")
		return nil, err
	}

	edges, skipped := im.resolveRelations(ctx, p)
	for _, s := range skipped {
		im.metrics.SkippedRelation(string(s.Reason))
	}

	m := anilist.ToMedia(*p)
	m.Relations = edges
	m.ActivityAt = im.now()
	media, created, err := im.resolver.CreateMedia(ctx, m)
	if err != nil {
		im.metrics.Import(string(p.Kind), "failed")
		return nil, fmt.Errorf("persist %s/%d: %w", p.Kind, p.ExternalID, err)
	}
	res := &Result{Media: media, SkippedRelations: skipped}
	if !created {
		log.Info("media imported concurrently by another request")
		res.AlreadyImported = true
		im.metrics.Import(string(p.Kind), "already_imported")
		return res, nil
	}

	im.importRoster(ctx, log, p, res)

	im.metrics.Import(string(p.Kind), "imported")
	uid, _ := auth.UserIDFromContext(ctx)
	im.events.Publish(events.SubjectImportCompleted, "import.completed", uid, map[string]any{
		"media_id":          media.ID,
		"kind":              string(media.Kind),
		"external_id":       media.ExternalID,
		"relations":         len(res.Media.Relations),
		"skipped_relations": len(skipped),
	})
	log.Info("media imported",
		zap.String("media_id", media.ID),
		zap.Int("relations", len(edges)),
		zap.Int("skipped_relations", len(skipped)))
	return res, nil
}

// importRoster imports the payload roster for res.Media and saves the merged
// character list. Failures end up in res.Warnings, never as an error.
func (im *Importer) importRoster(ctx context.Context, log *zap.Logger, p *anilist.MediaPayload, res *Result) {
	if im.roster == nil {
		return
	}
	media := res.Media
	entries := p.Roster
	if p.RosterHasMore {
		full, err := im.catalog.FetchCharacterRoster(ctx, p.ExternalID, p.Kind)
		switch {
		case err != nil:
			log.Warn("full roster unavailable, importing first page", zap.Error(err))
			res.Warnings = append(res.Warnings, "roster truncated to first page: "+err.Error())
		default:
			entries = full
		}
	}
	rep := im.roster.Import(ctx, media, entries)
	res.Roster = &rep

	chars := mergeRoster(rep.Entries, media.Characters)
	updated, err := im.store.UpdateMedia(context.WithoutCancel(ctx), media.Kind, media.ID, store.MediaPatch{Characters: &chars})
	if err != nil {
		log.Error("saving roster failed", zap.Error(err))
		res.Warnings = append(res.Warnings, "roster not saved: "+err.Error())
		return
	}
	res.Media = updated
}

// mergeRoster keeps the order of next and appends previously saved members it
// does not mention, so a failed re-import never drops a known character.
func mergeRoster(next, prev []domain.CharacterRef) []domain.CharacterRef {
	out := make([]domain.CharacterRef, 0, len(next)+len(prev))
	seen := make(map[string]bool, len(next)+len(prev))
	for _, list := range [][]domain.CharacterRef{next, prev} {
		for _, c := range list {
			if seen[c.CharacterID] {
				continue
			}
			seen[c.CharacterID] = true
			out = append(out, c)
		}
	}
	return out
}

type relationKey struct {
	kind string
	id   int
	typ  domain.RelationType
}

// candidates drops self-relations and coalesces duplicates (same target and
// translated type), keeping the first occurrence.
func candidates(p *anilist.MediaPayload) []anilist.RelationEntry {
	seen := make(map[relationKey]bool, len(p.Relations))
	out := make([]anilist.RelationEntry, 0, len(p.Relations))
	for _, r := range p.Relations {
		if r.ExternalID == p.ExternalID {
			continue
		}
		k := relationKey{kind: r.RawKind, id: r.ExternalID, typ: domain.TranslateRelation(r.Type)}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

func (im *Importer) resolveRelations(ctx context.Context, p *anilist.MediaPayload) ([]domain.Relation, []SkippedRelation) {
	rels := candidates(p)
	results := make([]mo.Result[domain.Relation], 0, len(rels))
	for _, r := range rels {
		results = append(results, im.resolveEdge(ctx, r))
	}

	edges := make([]domain.Relation, 0, len(results))
	skipped := make([]SkippedRelation, 0)
	for _, r := range results {
		if rel, err := r.Get(); err == nil {
			edges = append(edges, rel)
			continue
		}
		var s *SkippedRelation
		if errors.As(r.Error(), &s) {
			skipped = append(skipped, *s)
		}
	}
	return edges, skipped
}

func (im *Importer) resolveEdge(ctx context.Context, r anilist.RelationEntry) mo.Result[domain.Relation] {
	typ := domain.TranslateRelation(r.Type)
	skip := func(reason SkipReason, err error, title string) mo.Result[domain.Relation] {
		s := &SkippedRelation{
			ExternalID:  r.ExternalID,
			Kind:        r.RawKind,
			CatalogType: r.Type,
			Type:        typ,
			Reason:      reason,
			Title:       title,
		}
		if err != nil {
			s.Detail = err.Error()
		}
		return mo.Err[domain.Relation](s)
	}

	if !r.Kind.IsMedia() {
		return skip(SkipUnsupportedKind, nil, "")
	}
	target, err := im.resolver.ResolveMedia(ctx, r.Kind, r.ExternalID)
	if err == nil {
		return mo.Ok(domain.Relation{RelationID: target.ID, Type: typ})
	}
	if !errors.Is(err, resolver.ErrNotFound) {
		return skip(SkipLookupFailed, err, "")
	}

	// Lookup only: the answer labels the skip, it is never imported from here.
	found, err := im.catalog.FetchMedia(ctx, r.ExternalID, r.Kind)
	switch {
	case errors.Is(err, anilist.ErrNotFound):
		return skip(SkipNotInCatalog, nil, "")
	case err != nil:
		return skip(SkipLookupFailed, err, "")
	}
	return skip(SkipNotImported, nil, anilist.BestTitle(found.Titles))
}
