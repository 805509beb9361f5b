package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/animetrack/services/library/internal/anilist"
	"github.com/example/animetrack/services/library/internal/domain"
	"github.com/example/animetrack/services/library/internal/store"
)

var (
	// ErrSourceUnavailable is returned by Apply when the catalog copy cannot be fetched.
	ErrSourceUnavailable = errors.New("reconcile: catalog source unavailable")
	// ErrNotImported is returned for local-only media, which have nothing to compare against.
	ErrNotImported = errors.New("reconcile: media has no catalog id")
	ErrNoGroups    = errors.New("reconcile: no field groups selected")
)

type Catalog interface {
	FetchMedia(ctx context.Context, id int, kind domain.Kind) (*anilist.MediaPayload, error)
}

type Service struct {
	store   store.Store
	catalog Catalog
	log     *zap.Logger
}

func NewService(s store.Store, c Catalog, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: s, catalog: c, log: log}
}

func (s *Service) load(ctx context.Context, kind domain.Kind, id string) (domain.Media, error) {
	local, err := s.store.GetMedia(ctx, kind, id)
	if err != nil {
		return domain.Media{}, fmt.Errorf("load %s/%s: %w", kind, id, err)
	}
	if !local.Imported() {
		return domain.Media{}, ErrNotImported
	}
	return local, nil
}

// Compare diffs the stored media against the catalog. A failed fetch yields
// StatusSourceUnavailable, never a false in-sync.
func (s *Service) Compare(ctx context.Context, kind domain.Kind, id string) (DiffResult, error) {
	local, err := s.load(ctx, kind, id)
	if err != nil {
		return DiffResult{}, err
	}
	p, err := s.catalog.FetchMedia(ctx, local.ExternalID, local.Kind)
	if err != nil {
		s.log.Warn("compare: catalog fetch failed",
			zap.String("media_id", id), zap.Int("external_id", local.ExternalID), zap.Error(err))
		return DiffResult{
			Status:      StatusSourceUnavailable,
			Reason:      err.Error(),
			ReleaseData: FieldDiff[domain.Release]{Current: local.Release},
			Lengths:     FieldDiff[domain.Lengths]{Current: local.Lengths},
			Genres:      FieldDiff[[]string]{Current: nonNil(local.Genres), External: []string{}},
		}, nil
	}
	return Diff(local, anilist.ToMedia(*p)), nil
}

// Apply fetches the catalog copy, merges the selected groups and persists
// them. ActivityAt is bumped.
func (s *Service) Apply(ctx context.Context, kind domain.Kind, id string, groups []FieldGroup) (domain.Media, error) {
	if len(groups) == 0 {
		return domain.Media{}, ErrNoGroups
	}
	local, err := s.load(ctx, kind, id)
	if err != nil {
		return domain.Media{}, err
	}
	p, err := s.catalog.FetchMedia(ctx, local.ExternalID, local.Kind)
	if err != nil {
		return domain.Media{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	merged := Merge(local, anilist.ToMedia(*p), groups)

	patch := store.MediaPatch{Touch: true}
	for _, g := range groups {
		switch g {
		case GroupReleaseData:
			patch.Release = &merged.Release
		case GroupLengths:
			patch.Lengths = &merged.Lengths
		case GroupGenres:
			patch.Genres = &merged.Genres
		}
	}
	updated, err := s.store.UpdateMedia(ctx, kind, id, patch)
	if err != nil {
		return domain.Media{}, fmt.Errorf("save merge %s/%s: %w", kind, id, err)
	}
	s.log.Info("merge applied", zap.String("media_id", id), zap.Any("groups", groups))
	return updated, nil
}
