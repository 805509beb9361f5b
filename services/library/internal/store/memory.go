package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/animetrack/services/library/internal/domain"
)

type extKey struct {
	kind domain.Kind
	id   int
}

// MemoryStore is an in-process Store for development and tests. It enforces
// the same external id uniqueness as the Postgres schema.
type MemoryStore struct {
	mu         sync.RWMutex
	media      map[string]domain.Media
	characters map[string]domain.Character
	mediaExt   map[extKey]string
	charExt    map[int]string
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		media:      make(map[string]domain.Media),
		characters: make(map[string]domain.Character),
		mediaExt:   make(map[extKey]string),
		charExt:    make(map[int]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func cloneMedia(m domain.Media) domain.Media {
	m.Genres = append([]string(nil), m.Genres...)
	m.Synonyms = append([]string(nil), m.Synonyms...)
	m.Relations = append([]domain.Relation(nil), m.Relations...)
	m.Characters = append([]domain.CharacterRef(nil), m.Characters...)
	return m
}

func cloneCharacter(c domain.Character) domain.Character {
	c.Name.Alternatives = append([]domain.AlternativeName(nil), c.Name.Alternatives...)
	c.Media = append([]domain.MediaRef(nil), c.Media...)
	return c
}

func (s *MemoryStore) FindMediaByExternalID(_ context.Context, kind domain.Kind, externalID int) (domain.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.mediaExt[extKey{kind, externalID}]
	if !ok || externalID == 0 {
		return domain.Media{}, ErrNotFound
	}
	return cloneMedia(s.media[id]), nil
}

func (s *MemoryStore) FindCharacterByExternalID(_ context.Context, externalID int) (domain.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.charExt[externalID]
	if !ok || externalID == 0 {
		return domain.Character{}, ErrNotFound
	}
	return cloneCharacter(s.characters[id]), nil
}

func (s *MemoryStore) GetMedia(_ context.Context, kind domain.Kind, id string) (domain.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.media[id]
	if !ok || m.Kind != kind {
		return domain.Media{}, ErrNotFound
	}
	return cloneMedia(m), nil
}

func (s *MemoryStore) GetCharacter(_ context.Context, id string) (domain.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.characters[id]
	if !ok {
		return domain.Character{}, ErrNotFound
	}
	return cloneCharacter(c), nil
}

func (s *MemoryStore) CreateMedia(_ context.Context, m domain.Media) (domain.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ExternalID != 0 {
		if _, taken := s.mediaExt[extKey{m.Kind, m.ExternalID}]; taken {
			return domain.Media{}, ErrConflict
		}
	}
	m = cloneMedia(m)
	m.ID = uuid.NewString()
	if m.ActivityAt.IsZero() {
		m.ActivityAt = s.now()
	}
	s.media[m.ID] = m
	if m.ExternalID != 0 {
		s.mediaExt[extKey{m.Kind, m.ExternalID}] = m.ID
	}
	return cloneMedia(m), nil
}

func (s *MemoryStore) CreateCharacter(_ context.Context, c domain.Character) (domain.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ExternalID != 0 {
		if _, taken := s.charExt[c.ExternalID]; taken {
			return domain.Character{}, ErrConflict
		}
	}
	c = cloneCharacter(c)
	c.ID = uuid.NewString()
	s.characters[c.ID] = c
	if c.ExternalID != 0 {
		s.charExt[c.ExternalID] = c.ID
	}
	return cloneCharacter(c), nil
}

func (s *MemoryStore) UpdateMedia(_ context.Context, kind domain.Kind, id string, patch MediaPatch) (domain.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.media[id]
	if !ok || m.Kind != kind {
		return domain.Media{}, ErrNotFound
	}
	patch.apply(&m, s.now())
	s.media[id] = m
	return cloneMedia(m), nil
}

func (s *MemoryStore) AttachCharacterMedia(_ context.Context, characterID string, ref domain.MediaRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.characters[characterID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.media[ref.MediaID]; !ok {
		return ErrNotFound
	}
	if c.HasMedia(ref) {
		return nil
	}
	c.Media = append(c.Media, ref)
	s.characters[characterID] = c
	return nil
}

func (s *MemoryStore) ListImported(_ context.Context, kind domain.Kind, limit int) ([]ImportedRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]domain.Media, 0, len(s.mediaExt))
	for _, id := range s.mediaExt {
		m := s.media[id]
		if kind != "" && m.Kind != kind {
			continue
		}
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].ActivityAt.Equal(all[j].ActivityAt) {
			return all[i].ActivityAt.Before(all[j].ActivityAt)
		}
		return all[i].ID < all[j].ID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]ImportedRef, 0, len(all))
	for _, m := range all {
		out = append(out, ImportedRef{ID: m.ID, Kind: m.Kind, ExternalID: m.ExternalID})
	}
	return out, nil
}

func (s *MemoryStore) DeleteMedia(_ context.Context, kind domain.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.media[id]
	if !ok || m.Kind != kind {
		return ErrNotFound
	}
	delete(s.media, id)
	if m.ExternalID != 0 {
		delete(s.mediaExt, extKey{m.Kind, m.ExternalID})
	}
	for cid, c := range s.characters {
		kept := c.Media[:0]
		for _, ref := range c.Media {
			if ref.MediaID != id {
				kept = append(kept, ref)
			}
		}
		c.Media = kept
		s.characters[cid] = c
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
