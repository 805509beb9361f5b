package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/animetrack/services/library/internal/reconcile"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func devEnv(t *testing.T, anilistURL string) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("NATS_URL", "")
	t.Setenv("ANILIST_URL", anilistURL)
	t.Setenv("ROSTER_FETCH_DELAY", "0s")
}

func TestSearch_PrintsCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"Page":{"media":[
			{"id":1,"type":"ANIME","format":"TV","seasonYear":1998,"title":{"romaji":"Cowboy Bebop"},"coverImage":{"large":"c.jpg"}}
		]}}}`))
	}))
	defer srv.Close()
	devEnv(t, srv.URL)

	out, err := execute(t, "search", "cowboy", "bebop")
	require.NoError(t, err)
	assert.Contains(t, out, "Cowboy Bebop")
	assert.Contains(t, out, "anime")
}

func TestImport_ValidatesArgs(t *testing.T) {
	devEnv(t, "http://127.0.0.1:1")

	_, err := execute(t, "import", "character", "1")
	assert.Error(t, err)

	_, err = execute(t, "import", "anime", "zero")
	assert.Error(t, err)

	_, err = execute(t, "import", "anime")
	assert.Error(t, err)
}

func TestMerge_ValidatesFields(t *testing.T) {
	devEnv(t, "http://127.0.0.1:1")

	_, err := execute(t, "merge", "anime", "m1", "--fields", "titles")
	assert.ErrorIs(t, err, reconcile.ErrUnknownGroup)

	_, err = execute(t, "merge", "anime", "m1")
	assert.ErrorIs(t, err, reconcile.ErrNoGroups)
}

func TestMigrate_RequiresDatabase(t *testing.T) {
	devEnv(t, "http://127.0.0.1:1")
	_, err := execute(t, "migrate")
	assert.Error(t, err)
}
