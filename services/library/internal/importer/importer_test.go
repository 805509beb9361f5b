package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/animetrack/services/library/internal/anilist"
	"github.com/example/animetrack/services/library/internal/domain"
	"github.com/example/animetrack/services/library/internal/resolver"
	"github.com/example/animetrack/services/library/internal/roster"
	"github.com/example/animetrack/services/library/internal/store"
)

type mediaID struct {
	kind domain.Kind
	id   int
}

type stubCatalog struct {
	media      map[mediaID]*anilist.MediaPayload
	mediaErr   map[mediaID]error
	roster     map[int][]anilist.RosterEntry
	rosterErr  error
	fetches    []mediaID
	characters []int
	// onCharacter runs after each character fetch.
	onCharacter func()
}

func newStubCatalog() *stubCatalog {
	return &stubCatalog{
		media:    map[mediaID]*anilist.MediaPayload{},
		mediaErr: map[mediaID]error{},
		roster:   map[int][]anilist.RosterEntry{},
	}
}

func (c *stubCatalog) FetchMedia(_ context.Context, id int, kind domain.Kind) (*anilist.MediaPayload, error) {
	k := mediaID{kind, id}
	c.fetches = append(c.fetches, k)
	if err := c.mediaErr[k]; err != nil {
		return nil, err
	}
	if p, ok := c.media[k]; ok {
		return p, nil
	}
	return nil, &anilist.CatalogError{Op: "fetch_media", Kind: anilist.KindNotFound}
}

func (c *stubCatalog) FetchCharacterRoster(_ context.Context, mediaID int, _ domain.Kind) ([]anilist.RosterEntry, error) {
	if c.rosterErr != nil {
		return nil, c.rosterErr
	}
	return c.roster[mediaID], nil
}

func (c *stubCatalog) FetchCharacter(_ context.Context, id int) (*anilist.CharacterPayload, error) {
	c.characters = append(c.characters, id)
	if c.onCharacter != nil {
		c.onCharacter()
	}
	return &anilist.CharacterPayload{ExternalID: id, Name: domain.CharacterName{First: fmt.Sprint(id)}}, nil
}

type fixture struct {
	store   *store.MemoryStore
	catalog *stubCatalog
	im      *Importer
}

func newFixture() *fixture {
	s := store.NewMemoryStore()
	cat := newStubCatalog()
	res := resolver.New(s, nil)
	ros := roster.New(roster.Options{Resolver: res, Store: s, Catalog: cat})
	return &fixture{
		store:   s,
		catalog: cat,
		im:      New(Options{Resolver: res, Store: s, Catalog: cat, Roster: ros}),
	}
}

func (f *fixture) seed(t *testing.T, kind domain.Kind, externalID int) domain.Media {
	t.Helper()
	m, err := f.store.CreateMedia(context.Background(), domain.Media{Kind: kind, ExternalID: externalID})
	require.NoError(t, err)
	return m
}

func rel(id int, kind domain.Kind, typ string) anilist.RelationEntry {
	return anilist.RelationEntry{ExternalID: id, Kind: kind, RawKind: string(kind), Type: typ}
}

func TestImport_ThreeRelationsOneUnresolvable(t *testing.T) {
	f := newFixture()
	sequel := f.seed(t, domain.KindAnime, 5)
	manga := f.seed(t, domain.KindManga, 173)
	f.catalog.media[mediaID{domain.KindAnime, 1}] = &anilist.MediaPayload{
		ExternalID: 1,
		Kind:       domain.KindAnime,
		Genres:     []string{"Action"},
		Relations: []anilist.RelationEntry{
			rel(5, domain.KindAnime, "SEQUEL"),
			rel(173, domain.KindManga, "ADAPTATION"),
			rel(999999, domain.KindAnime, "SIDE_STORY"),
		},
	}

	res, err := f.im.Import(context.Background(), domain.KindAnime, 1)
	require.NoError(t, err)

	assert.False(t, res.AlreadyImported)
	assert.Equal(t, []domain.Relation{
		{RelationID: sequel.ID, Type: domain.RelationSequel},
		{RelationID: manga.ID, Type: domain.RelationAdaptation},
	}, res.Media.Relations)
	require.Len(t, res.SkippedRelations, 1)
	assert.Equal(t, 999999, res.SkippedRelations[0].ExternalID)
	assert.Equal(t, SkipNotInCatalog, res.SkippedRelations[0].Reason)
	assert.Equal(t, domain.RelationSideStory, res.SkippedRelations[0].Type)
}

func TestImport_SkipReasons(t *testing.T) {
	f := newFixture()
	f.catalog.media[mediaID{domain.KindManga, 10}] = &anilist.MediaPayload{
		ExternalID: 10, Kind: domain.KindManga,
		Relations: []anilist.RelationEntry{
			rel(20, domain.KindAnime, "ADAPTATION"),
			rel(30, domain.KindAnime, "SPIN_OFF"),
			{ExternalID: 40, RawKind: "NOVEL", Type: "SOURCE"},
		},
	}
	f.catalog.media[mediaID{domain.KindAnime, 20}] = &anilist.MediaPayload{
		ExternalID: 20, Kind: domain.KindAnime, Titles: domain.Titles{Romaji: "Target"},
	}
	f.catalog.mediaErr[mediaID{domain.KindAnime, 30}] = &anilist.CatalogError{Op: "fetch_media", Kind: anilist.KindTransient}

	res, err := f.im.Import(context.Background(), domain.KindManga, 10)
	require.NoError(t, err)

	assert.Empty(t, res.Media.Relations)
	require.Len(t, res.SkippedRelations, 3)
	assert.Equal(t, SkipNotImported, res.SkippedRelations[0].Reason)
	assert.Equal(t, "Target", res.SkippedRelations[0].Title)
	assert.Equal(t, SkipLookupFailed, res.SkippedRelations[1].Reason)
	assert.NotEmpty(t, res.SkippedRelations[1].Detail)
	assert.Contains(t, res.SkippedRelations[1].Error(), "lookup_failed")
	assert.Equal(t, SkipUnsupportedKind, res.SkippedRelations[2].Reason)

	// Lookups never import the target.
	_, err = f.store.FindMediaByExternalID(context.Background(), domain.KindAnime, 20)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestImport_FiltersSelfAndCoalescesDuplicates(t *testing.T) {
	f := newFixture()
	prequel := f.seed(t, domain.KindAnime, 2)
	f.catalog.media[mediaID{domain.KindAnime, 1}] = &anilist.MediaPayload{
		ExternalID: 1, Kind: domain.KindAnime,
		Relations: []anilist.RelationEntry{
			rel(1, domain.KindAnime, "ALTERNATIVE"),
			rel(2, domain.KindAnime, "PREQUEL"),
			rel(2, domain.KindAnime, "prequel"),
			rel(2, domain.KindAnime, "FAN_EDIT"),
		},
	}

	res, err := f.im.Import(context.Background(), domain.KindAnime, 1)
	require.NoError(t, err)
	assert.Equal(t, []domain.Relation{
		{RelationID: prequel.ID, Type: domain.RelationPrequel},
		{RelationID: prequel.ID, Type: domain.RelationOther},
	}, res.Media.Relations)
	assert.Empty(t, res.SkippedRelations)
	for _, r := range res.Media.Relations {
		assert.NotEqual(t, res.Media.ID, r.RelationID)
	}
}

func TestImport_IsIdempotent(t *testing.T) {
	f := newFixture()
	f.catalog.media[mediaID{domain.KindAnime, 1}] = &anilist.MediaPayload{
		ExternalID: 1, Kind: domain.KindAnime,
		Roster: []anilist.RosterEntry{{ExternalID: 100, Role: "MAIN"}},
	}
	ctx := context.Background()

	first, err := f.im.Import(ctx, domain.KindAnime, 1)
	require.NoError(t, err)
	second, err := f.im.Import(ctx, domain.KindAnime, 1)
	require.NoError(t, err)

	assert.True(t, second.AlreadyImported)
	assert.Equal(t, first.Media.ID, second.Media.ID)
	refs, _ := f.store.ListImported(ctx, domain.KindAnime, 0)
	assert.Len(t, refs, 1)
	assert.Equal(t, []int{100}, f.catalog.characters)
}

func TestImport_RosterPersistedAfterMedia(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.catalog.media[mediaID{domain.KindAnime, 1}] = &anilist.MediaPayload{
		ExternalID: 1, Kind: domain.KindAnime,
		Roster:        []anilist.RosterEntry{{ExternalID: 100, Role: "MAIN"}},
		RosterHasMore: true,
	}
	f.catalog.roster[1] = []anilist.RosterEntry{
		{ExternalID: 100, Role: "MAIN"},
		{ExternalID: 101, Role: "BACKGROUND"},
	}

	res, err := f.im.Import(ctx, domain.KindAnime, 1)
	require.NoError(t, err)
	require.NotNil(t, res.Roster)
	assert.Equal(t, 2, res.Roster.Progress.Created)
	require.Len(t, res.Media.Characters, 2)
	assert.Equal(t, domain.RoleBackground, res.Media.Characters[1].Role)

	stored, err := f.store.GetMedia(ctx, domain.KindAnime, res.Media.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Media.Characters, stored.Characters)

	c, err := f.store.FindCharacterByExternalID(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, []domain.MediaRef{{MediaID: res.Media.ID, Kind: domain.KindAnime}}, c.Media)
}

func TestImport_RetryCompletesAbandonedRoster(t *testing.T) {
	f := newFixture()
	f.catalog.media[mediaID{domain.KindAnime, 1}] = &anilist.MediaPayload{
		ExternalID: 1, Kind: domain.KindAnime,
		Roster: []anilist.RosterEntry{
			{ExternalID: 100, Role: "MAIN"},
			{ExternalID: 101, Role: "SUPPORTING"},
			{ExternalID: 102, Role: "BACKGROUND"},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.catalog.onCharacter = cancel
	first, err := f.im.Import(ctx, domain.KindAnime, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Roster.Progress.Created)
	assert.Equal(t, 2, first.Roster.Progress.Failed)
	require.Len(t, first.Media.Characters, 1)

	f.catalog.onCharacter = nil
	retry, err := f.im.Import(context.Background(), domain.KindAnime, 1)
	require.NoError(t, err)
	assert.True(t, retry.AlreadyImported)
	require.NotNil(t, retry.Roster)
	assert.Equal(t, 1, retry.Roster.Progress.Existing)
	assert.Equal(t, 2, retry.Roster.Progress.Created)

	stored, err := f.store.GetMedia(context.Background(), domain.KindAnime, first.Media.ID)
	require.NoError(t, err)
	require.Len(t, stored.Characters, 3)
	assert.Equal(t, domain.RoleBackground, stored.Characters[2].Role)
	// Character 100 was fetched once and only re-attached on retry.
	assert.Equal(t, []int{100, 101, 102}, f.catalog.characters)

	c, err := f.store.FindCharacterByExternalID(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, c.Media, 1)
}

func TestMergeRoster_KeepsPreviousMembers(t *testing.T) {
	next := []domain.CharacterRef{{CharacterID: "b", Role: domain.RoleMain}}
	prev := []domain.CharacterRef{{CharacterID: "a", Role: domain.RoleSupporting}, {CharacterID: "b", Role: domain.RoleBackground}}
	assert.Equal(t, []domain.CharacterRef{
		{CharacterID: "b", Role: domain.RoleMain},
		{CharacterID: "a", Role: domain.RoleSupporting},
	}, mergeRoster(next, prev))
	assert.Empty(t, mergeRoster(nil, nil))
}

func TestImport_TruncatedRosterIsReported(t *testing.T) {
	f := newFixture()
	f.catalog.media[mediaID{domain.KindAnime, 1}] = &anilist.MediaPayload{
		ExternalID: 1, Kind: domain.KindAnime,
		Roster:        []anilist.RosterEntry{{ExternalID: 100, Role: "MAIN"}},
		RosterHasMore: true,
	}
	f.catalog.rosterErr = errors.New("page 2 timed out")

	res, err := f.im.Import(context.Background(), domain.KindAnime, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Roster.Progress.Total)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "page 2 timed out")
}

func TestImport_CandidateFetchFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.catalog.mediaErr[mediaID{domain.KindAnime, 1}] = &anilist.CatalogError{Op: "fetch_media", Kind: anilist.KindTransient}

	_, err := f.im.Import(context.Background(), domain.KindAnime, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, anilist.ErrTransient)

	_, err = f.im.Import(context.Background(), domain.KindAnime, 2)
	assert.ErrorIs(t, err, anilist.ErrNotFound)
}

func TestImportPayload_Invalid(t *testing.T) {
	f := newFixture()
	_, err := f.im.ImportPayload(context.Background(), &anilist.MediaPayload{ExternalID: 1, Kind: domain.KindCharacter})
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = f.im.ImportPayload(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestCandidates_KeepsFirstOfDuplicates(t *testing.T) {
	p := &anilist.MediaPayload{ExternalID: 1, Kind: domain.KindAnime, Relations: []anilist.RelationEntry{
		rel(3, domain.KindManga, "ADAPTATION"),
		rel(3, domain.KindManga, "SOURCE"),
		rel(3, domain.KindManga, "ADAPTATION"),
		rel(3, domain.KindAnime, "ADAPTATION"),
	}}
	got := candidates(p)
	require.Len(t, got, 3)
	assert.Equal(t, "SOURCE", got[1].Type)
	assert.Equal(t, domain.KindAnime, got[2].Kind)
}
