// Package resolver is the single dedup gate between catalog ids and local entities.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/animetrack/services/library/internal/domain"
	"github.com/example/animetrack/services/library/internal/store"
)

var ErrNotFound = errors.New("resolver: not found")

type Resolver struct {
	store store.Store
	log   *zap.Logger
}

func New(s store.Store, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{store: s, log: log}
}

// ResolveMedia looks up a local media by catalog id. It never calls the catalog.
func (r *Resolver) ResolveMedia(ctx context.Context, kind domain.Kind, externalID int) (domain.Media, error) {
	if externalID <= 0 {
		return domain.Media{}, fmt.Errorf("%w: %s/%d", ErrNotFound, kind, externalID)
	}
	m, err := r.store.FindMediaByExternalID(ctx, kind, externalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Media{}, fmt.Errorf("%w: %s/%d", ErrNotFound, kind, externalID)
		}
		return domain.Media{}, fmt.Errorf("resolve %s/%d: %w", kind, externalID, err)
	}
	return m, nil
}

func (r *Resolver) ResolveCharacter(ctx context.Context, externalID int) (domain.Character, error) {
	if externalID <= 0 {
		return domain.Character{}, fmt.Errorf("%w: character/%d", ErrNotFound, externalID)
	}
	c, err := r.store.FindCharacterByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Character{}, fmt.Errorf("%w: character/%d", ErrNotFound, externalID)
		}
		return domain.Character{}, fmt.Errorf("resolve character/%d: %w", externalID, err)
	}
	return c, nil
}

// CreateMedia persists m unless a media with the same catalog id already
// exists, in which case the existing one is returned with created=false.
func (r *Resolver) CreateMedia(ctx context.Context, m domain.Media) (domain.Media, bool, error) {
	if m.ExternalID != 0 {
		existing, err := r.ResolveMedia(ctx, m.Kind, m.ExternalID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return domain.Media{}, false, err
		}
	}
	created, err := r.store.CreateMedia(ctx, m)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return domain.Media{}, false, fmt.Errorf("create %s/%d: %w", m.Kind, m.ExternalID, err)
	}
	r.log.Info("create raced with another import; reusing existing media",
		zap.String("kind", string(m.Kind)), zap.Int("external_id", m.ExternalID))
	existing, err := r.ResolveMedia(ctx, m.Kind, m.ExternalID)
	if err != nil {
		return domain.Media{}, false, fmt.Errorf("re-resolve after conflict: %w", err)
	}
	return existing, false, nil
}

// CreateCharacter is CreateMedia for characters.
func (r *Resolver) CreateCharacter(ctx context.Context, c domain.Character) (domain.Character, bool, error) {
	if c.ExternalID != 0 {
		existing, err := r.ResolveCharacter(ctx, c.ExternalID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return domain.Character{}, false, err
		}
	}
	created, err := r.store.CreateCharacter(ctx, c)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return domain.Character{}, false, fmt.Errorf("create character/%d: %w", c.ExternalID, err)
	}
	r.log.Info("create raced with another import; reusing existing character", zap.Int("external_id", c.ExternalID))
	existing, err := r.ResolveCharacter(ctx, c.ExternalID)
	if err != nil {
		return domain.Character{}, false, fmt.Errorf("re-resolve after conflict: %w", err)
	}
	return existing, false, nil
}
