package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/animetrack/services/library/internal/anilist"
	"github.com/example/animetrack/services/library/internal/domain"
	"github.com/example/animetrack/services/library/internal/store"
)

func baseMedia() domain.Media {
	return domain.Media{
		Kind:       domain.KindAnime,
		ExternalID: 21,
		Titles:     domain.Titles{Romaji: "One Piece"},
		Lengths:    domain.Lengths{Episodes: 1000, Duration: 24},
		Release: domain.Release{
			Status:    domain.StatusReleasing,
			StartDate: domain.FuzzyDate{Year: 1999, Month: 10, Day: 20},
		},
		Genres: []string{"Action"},
	}
}

func TestDiff_GenresOnly(t *testing.T) {
	local := baseMedia()
	ext := baseMedia()
	ext.Genres = []string{"Action", "Drama"}

	d := Diff(local, ext)
	assert.Equal(t, StatusDrifted, d.Status)
	assert.True(t, d.Genres.IsDifferent)
	assert.False(t, d.Lengths.IsDifferent)
	assert.False(t, d.ReleaseData.IsDifferent)
	assert.Equal(t, []FieldGroup{GroupGenres}, d.DriftedGroups())
	assert.Equal(t, []string{"Action"}, d.Genres.Current)
	assert.Equal(t, []string{"Action", "Drama"}, d.Genres.External)
}

func TestDiff_GenresCompareAsSets(t *testing.T) {
	local := baseMedia()
	local.Genres = []string{"Drama", "Action"}
	ext := baseMedia()
	ext.Genres = []string{"Action", "Drama", "Action"}

	d := Diff(local, ext)
	assert.Equal(t, StatusInSync, d.Status)
	assert.False(t, d.Genres.IsDifferent)
}

func TestDiff_NilAndEmptyGenresAreEqual(t *testing.T) {
	local := baseMedia()
	local.Genres = nil
	ext := baseMedia()
	ext.Genres = []string{}

	d := Diff(local, ext)
	assert.False(t, d.Genres.IsDifferent)
	assert.NotNil(t, d.Genres.Current)
}

func TestDiff_ReleaseAndLengths(t *testing.T) {
	local := baseMedia()
	ext := baseMedia()
	ext.Release.Status = domain.StatusFinished
	ext.Release.EndDate = domain.FuzzyDate{Year: 2030}
	ext.Lengths.Episodes = 1100

	d := Diff(local, ext)
	assert.True(t, d.ReleaseData.IsDifferent)
	assert.True(t, d.Lengths.IsDifferent)
	assert.False(t, d.Genres.IsDifferent)
}

func TestMerge_ReplacesOnlySelectedGroups(t *testing.T) {
	local := baseMedia()
	ext := baseMedia()
	ext.Genres = []string{"Action", "Drama"}
	ext.Lengths.Episodes = 1100

	got := Merge(local, ext, []FieldGroup{GroupGenres})
	assert.Equal(t, []string{"Action", "Drama"}, got.Genres)
	assert.Equal(t, 1000, got.Lengths.Episodes)
	assert.Equal(t, []string{"Action"}, local.Genres, "input must not be mutated")
}

func TestMerge_IsIdempotent(t *testing.T) {
	local := baseMedia()
	ext := baseMedia()
	ext.Genres = []string{"Action", "Drama"}
	ext.Release.Status = domain.StatusFinished

	groups := []FieldGroup{GroupGenres, GroupReleaseData}
	once := Merge(local, ext, groups)
	twice := Merge(once, ext, groups)
	assert.Equal(t, once, twice)

	d := Diff(once, ext)
	assert.False(t, d.Genres.IsDifferent)
	assert.False(t, d.ReleaseData.IsDifferent)
}

func TestParseFieldGroups(t *testing.T) {
	got, err := ParseFieldGroups([]string{"genres", "ReleaseData", "genres"})
	require.NoError(t, err)
	assert.Equal(t, []FieldGroup{GroupReleaseData, GroupGenres}, got)

	_, err = ParseFieldGroups([]string{"titles"})
	assert.ErrorIs(t, err, ErrUnknownGroup)

	got, err = ParseFieldGroups(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

type stubCatalog struct {
	payload *anilist.MediaPayload
	err     error
}

func (c stubCatalog) FetchMedia(context.Context, int, domain.Kind) (*anilist.MediaPayload, error) {
	return c.payload, c.err
}

func seed(t *testing.T, s *store.MemoryStore, m domain.Media) domain.Media {
	t.Helper()
	created, err := s.CreateMedia(context.Background(), m)
	require.NoError(t, err)
	return created
}

func payloadFrom(m domain.Media) *anilist.MediaPayload {
	return &anilist.MediaPayload{
		ExternalID: m.ExternalID,
		Kind:       m.Kind,
		Titles:     m.Titles,
		Lengths:    m.Lengths,
		Release:    m.Release,
		Genres:     m.Genres,
	}
}

func TestService_CompareAndApply(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	local := seed(t, s, baseMedia())

	ext := baseMedia()
	ext.Genres = []string{"Action", "Drama"}
	svc := NewService(s, stubCatalog{payload: payloadFrom(ext)}, nil)

	d, err := svc.Compare(ctx, domain.KindAnime, local.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDrifted, d.Status)
	assert.Equal(t, []FieldGroup{GroupGenres}, d.DriftedGroups())

	updated, err := svc.Apply(ctx, domain.KindAnime, local.ID, []FieldGroup{GroupGenres})
	require.NoError(t, err)
	assert.Equal(t, []string{"Action", "Drama"}, updated.Genres)
	assert.Equal(t, local.Lengths, updated.Lengths)
	assert.False(t, updated.ActivityAt.IsZero())

	d, err = svc.Compare(ctx, domain.KindAnime, local.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInSync, d.Status)
}

func TestService_SourceUnavailable(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	local := seed(t, s, baseMedia())
	boom := &anilist.CatalogError{Op: "fetch_media", Kind: anilist.KindTransient, Err: errors.New("502")}
	svc := NewService(s, stubCatalog{err: boom}, nil)

	d, err := svc.Compare(ctx, domain.KindAnime, local.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSourceUnavailable, d.Status)
	assert.NotEmpty(t, d.Reason)
	assert.Empty(t, d.DriftedGroups())

	_, err = svc.Apply(ctx, domain.KindAnime, local.ID, []FieldGroup{GroupGenres})
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	after, err := s.GetMedia(ctx, domain.KindAnime, local.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Action"}, after.Genres)
}

func TestService_Errors(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	svc := NewService(s, stubCatalog{}, nil)

	_, err := svc.Compare(ctx, domain.KindAnime, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	localOnly := baseMedia()
	localOnly.ExternalID = 0
	m := seed(t, s, localOnly)
	_, err = svc.Compare(ctx, domain.KindAnime, m.ID)
	assert.ErrorIs(t, err, ErrNotImported)

	_, err = svc.Apply(ctx, domain.KindAnime, m.ID, nil)
	assert.ErrorIs(t, err, ErrNoGroups)
}
