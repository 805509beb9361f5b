package roster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/animetrack/services/library/internal/anilist"
	"github.com/example/animetrack/services/library/internal/domain"
	"github.com/example/animetrack/services/library/internal/progress"
	"github.com/example/animetrack/services/library/internal/ratelimit"
	"github.com/example/animetrack/services/library/internal/resolver"
	"github.com/example/animetrack/services/library/internal/store"
)

type stubCatalog struct {
	mu      sync.Mutex
	fail    map[int]error
	fetched []int
	at      []time.Time
	// onFetch runs before the fetch returns.
	onFetch func(id int)
}

func (c *stubCatalog) FetchCharacter(_ context.Context, id int) (*anilist.CharacterPayload, error) {
	c.mu.Lock()
	c.fetched = append(c.fetched, id)
	c.at = append(c.at, time.Now())
	c.mu.Unlock()
	if c.onFetch != nil {
		c.onFetch(id)
	}
	if err := c.fail[id]; err != nil {
		return nil, err
	}
	return &anilist.CharacterPayload{ExternalID: id, Name: domain.CharacterName{First: fmt.Sprintf("char-%d", id)}}, nil
}

type recordingLimiter struct {
	calls int
}

func (l *recordingLimiter) Wait(context.Context) error { l.calls++; return nil }

type recordingSink struct {
	updates []progress.Progress
}

func (s *recordingSink) Publish(_ context.Context, _ progress.MediaKey, p progress.Progress) error {
	s.updates = append(s.updates, p)
	return nil
}

type fixture struct {
	store   *store.MemoryStore
	catalog *stubCatalog
	limiter *recordingLimiter
	sink    *recordingSink
	media   domain.Media
	im      *Importer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	m, err := s.CreateMedia(context.Background(), domain.Media{Kind: domain.KindAnime, ExternalID: 1})
	require.NoError(t, err)
	f := &fixture{
		store:   s,
		catalog: &stubCatalog{fail: map[int]error{}},
		limiter: &recordingLimiter{},
		sink:    &recordingSink{},
		media:   m,
	}
	f.im = New(Options{
		Resolver: resolver.New(s, nil),
		Store:    s,
		Catalog:  f.catalog,
		Limiter:  f.limiter,
		Sink:     f.sink,
	})
	return f
}

func entries(ids ...int) []anilist.RosterEntry {
	out := make([]anilist.RosterEntry, len(ids))
	for i, id := range ids {
		out[i] = anilist.RosterEntry{ExternalID: id, Role: "SUPPORTING"}
	}
	return out
}

func TestImport_FaultIsolation(t *testing.T) {
	f := newFixture(t)
	f.catalog.fail[3] = &anilist.CatalogError{Op: "fetch_character", Kind: anilist.KindMalformed}

	rep := f.im.Import(context.Background(), f.media, entries(1, 2, 3, 4, 5))

	require.Len(t, rep.Items, 5)
	p := rep.Progress
	assert.Equal(t, 5, p.Total)
	assert.Equal(t, 5, p.Existing+p.Created+p.Failed)
	assert.Equal(t, 1, p.Failed)
	assert.Equal(t, 4, p.Created)
	assert.Zero(t, p.Remaining)
	assert.True(t, p.Done)

	for i, it := range rep.Items {
		if it.ExternalID == 3 {
			assert.Equal(t, StateFailed, it.State)
			assert.Equal(t, StateFetching, it.FailedAt)
			assert.NotEmpty(t, it.Error)
			continue
		}
		assert.Equal(t, StateCreated, it.State, "item %d", i)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, f.catalog.fetched)
	assert.Len(t, rep.Entries, 4)
}

func TestImport_ExistingCharactersAreAttachedNotFetched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing, err := f.store.CreateCharacter(ctx, domain.Character{ExternalID: 2})
	require.NoError(t, err)

	rep := f.im.Import(ctx, f.media, []anilist.RosterEntry{
		{ExternalID: 1, Role: "MAIN"},
		{ExternalID: 2, Role: "main"},
	})

	assert.Equal(t, []int{1}, f.catalog.fetched)
	assert.Equal(t, 1, f.limiter.calls)
	assert.Equal(t, StateCreated, rep.Items[0].State)
	assert.Equal(t, StateExisting, rep.Items[1].State)
	assert.Equal(t, domain.RoleMain, rep.Items[1].Role)

	got, err := f.store.GetCharacter(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.MediaRef{{MediaID: f.media.ID, Kind: domain.KindAnime}}, got.Media)
}

func TestImport_TwiceDoesNotDuplicateBackReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.im.Import(ctx, f.media, entries(1, 2))
	second := f.im.Import(ctx, f.media, entries(1, 2))

	assert.Equal(t, 2, first.Progress.Created)
	assert.Equal(t, 2, second.Progress.Existing)
	assert.Len(t, f.catalog.fetched, 2)

	c, err := f.store.FindCharacterByExternalID(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, c.Media, 1)
}

func TestImport_ProgressAfterEachItem(t *testing.T) {
	f := newFixture(t)
	f.catalog.fail[2] = errors.New("boom")

	f.im.Import(context.Background(), f.media, entries(1, 2, 3))

	require.Len(t, f.sink.updates, 3)
	for i, u := range f.sink.updates {
		assert.Equal(t, 3, u.Total)
		assert.Equal(t, i+1, u.Processed())
		assert.Equal(t, 3-(i+1), u.Remaining)
	}
	assert.Equal(t, 1, f.sink.updates[1].Failed)
	assert.False(t, f.sink.updates[1].Done)
	assert.True(t, f.sink.updates[2].Done)
}

func TestImport_EmptyRoster(t *testing.T) {
	f := newFixture(t)
	rep := f.im.Import(context.Background(), f.media, nil)
	assert.Empty(t, rep.Items)
	require.Len(t, f.sink.updates, 1)
	assert.True(t, f.sink.updates[0].Done)
}

func TestImport_CancellationMarksRemainingFailed(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.catalog.onFetch = func(id int) {
		if id == 2 {
			cancel()
		}
	}

	rep := f.im.Import(ctx, f.media, entries(1, 2, 3, 4))

	assert.Equal(t, 4, rep.Progress.Existing+rep.Progress.Created+rep.Progress.Failed)
	assert.Equal(t, StateCreated, rep.Items[0].State)
	for _, it := range rep.Items[2:] {
		assert.Equal(t, StateFailed, it.State)
		assert.Contains(t, it.Error, context.Canceled.Error())
	}
	// Characters created before cancellation stay.
	_, err := f.store.FindCharacterByExternalID(context.Background(), 1)
	assert.NoError(t, err)
}

func TestImport_DelayBeforeEachFetchButNotFirst(t *testing.T) {
	f := newFixture(t)
	const delay = 60 * time.Millisecond
	f.im.limiter = ratelimit.NewInterval(delay)

	start := time.Now()
	f.im.Import(context.Background(), f.media, entries(1, 2, 3))

	require.Len(t, f.catalog.at, 3)
	assert.Less(t, f.catalog.at[0].Sub(start), delay/2, "first fetch should not wait")
	for i := 1; i < len(f.catalog.at); i++ {
		gap := f.catalog.at[i].Sub(f.catalog.at[i-1])
		assert.GreaterOrEqual(t, gap, delay-5*time.Millisecond, "gap %d", i)
	}
}
