package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/animetrack/services/library/internal/domain"
	"github.com/example/animetrack/services/library/internal/store"
)

// racingStore simulates a concurrent import winning the insert between our
// resolve and our create.
type racingStore struct {
	*store.MemoryStore
	mediaRaced, charRaced bool
}

func (s *racingStore) CreateMedia(ctx context.Context, m domain.Media) (domain.Media, error) {
	if !s.mediaRaced {
		s.mediaRaced = true
		if _, err := s.MemoryStore.CreateMedia(ctx, m); err != nil {
			return domain.Media{}, err
		}
		return domain.Media{}, store.ErrConflict
	}
	return s.MemoryStore.CreateMedia(ctx, m)
}

func (s *racingStore) CreateCharacter(ctx context.Context, c domain.Character) (domain.Character, error) {
	if !s.charRaced {
		s.charRaced = true
		if _, err := s.MemoryStore.CreateCharacter(ctx, c); err != nil {
			return domain.Character{}, err
		}
		return domain.Character{}, store.ErrConflict
	}
	return s.MemoryStore.CreateCharacter(ctx, c)
}

type brokenStore struct{ store.Store }

func (brokenStore) FindMediaByExternalID(context.Context, domain.Kind, int) (domain.Media, error) {
	return domain.Media{}, errors.New("connection reset")
}

func TestResolveMedia_NotFound(t *testing.T) {
	r := New(store.NewMemoryStore(), nil)
	_, err := r.ResolveMedia(context.Background(), domain.KindAnime, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.ResolveMedia(context.Background(), domain.KindAnime, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveMedia_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemoryStore(), nil)

	created, ok, err := r.CreateMedia(ctx, domain.Media{Kind: domain.KindAnime, ExternalID: 21})
	require.NoError(t, err)
	require.True(t, ok)

	first, err := r.ResolveMedia(ctx, domain.KindAnime, 21)
	require.NoError(t, err)
	second, err := r.ResolveMedia(ctx, domain.KindAnime, 21)
	require.NoError(t, err)
	assert.Equal(t, created.ID, first.ID)
	assert.Equal(t, first.ID, second.ID)

	again, ok, err := r.CreateMedia(ctx, domain.Media{Kind: domain.KindAnime, ExternalID: 21})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, created.ID, again.ID)
}

func TestCreateMedia_ConflictResolvesExisting(t *testing.T) {
	ctx := context.Background()
	s := &racingStore{MemoryStore: store.NewMemoryStore()}
	r := New(s, nil)

	m, created, err := r.CreateMedia(ctx, domain.Media{Kind: domain.KindManga, ExternalID: 30013})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NotEmpty(t, m.ID)

	refs, _ := s.ListImported(ctx, domain.KindManga, 0)
	assert.Len(t, refs, 1)
}

func TestCreateCharacter_ConflictResolvesExisting(t *testing.T) {
	ctx := context.Background()
	s := &racingStore{MemoryStore: store.NewMemoryStore()}
	r := New(s, nil)

	c, created, err := r.CreateCharacter(ctx, domain.Character{ExternalID: 1})
	require.NoError(t, err)
	assert.False(t, created)

	again, err := r.ResolveCharacter(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
}

func TestCreateMedia_LocalOnlySkipsResolve(t *testing.T) {
	ctx := context.Background()
	r := New(store.NewMemoryStore(), nil)
	a, ok1, err := r.CreateMedia(ctx, domain.Media{Kind: domain.KindAnime})
	require.NoError(t, err)
	b, ok2, err := r.CreateMedia(ctx, domain.Media{Kind: domain.KindAnime})
	require.NoError(t, err)
	assert.True(t, ok1 && ok2)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestResolveMedia_PropagatesStoreErrors(t *testing.T) {
	r := New(brokenStore{}, nil)
	_, err := r.ResolveMedia(context.Background(), domain.KindAnime, 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	_, _, err = r.CreateMedia(context.Background(), domain.Media{Kind: domain.KindAnime, ExternalID: 1})
	assert.Error(t, err)
}
