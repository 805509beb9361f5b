// Package handlers exposes the library service over HTTP.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/example/animetrack/internal/platform/api"
	"github.com/example/animetrack/internal/platform/auth"
	"github.com/example/animetrack/services/library/internal/anilist"
	"github.com/example/animetrack/services/library/internal/domain"
	"github.com/example/animetrack/services/library/internal/importer"
	"github.com/example/animetrack/services/library/internal/progress"
	"github.com/example/animetrack/services/library/internal/queue"
	"github.com/example/animetrack/services/library/internal/reconcile"
)

type Searcher interface {
	SearchByTitle(ctx context.Context, text string) ([]anilist.Candidate, error)
	SearchCharacters(ctx context.Context, name string) ([]anilist.CharacterCandidate, error)
}

type Importer interface {
	Import(ctx context.Context, kind domain.Kind, externalID int) (*importer.Result, error)
}

type Reconciler interface {
	Compare(ctx context.Context, kind domain.Kind, id string) (reconcile.DiffResult, error)
	Apply(ctx context.Context, kind domain.Kind, id string, groups []reconcile.FieldGroup) (domain.Media, error)
}

type Deleter interface {
	DeleteMedia(ctx context.Context, kind domain.Kind, id string) error
}

// EnqueueFunc queues an import for the worker. Nil disables ?async=true.
type EnqueueFunc func(job queue.ImportMediaJob) error

type Deps struct {
	Catalog   Searcher
	Importer  Importer
	Reconcile Reconciler
	Progress  progress.Reader
	Store     Deleter
	Enqueue   EnqueueFunc
	Metrics   http.Handler
	Verifier  auth.JWTVerifier
	Log       *zap.Logger
}

// Register mounts the library routes on r. Mutating routes require a bearer token.
func Register(r chi.Router, d Deps) {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	r.Get("/v1/catalog/search", SearchCatalog(d.Catalog, log))
	r.Get("/v1/catalog/characters", SearchCharacters(d.Catalog, log))
	r.Get("/v1/import/{kind}/{external_id}/progress", ImportProgress(d.Progress, log))
	r.Get("/v1/library/{kind}/{id}/compare", Compare(d.Reconcile, log))

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(d.Verifier))
		r.Post("/v1/import/{kind}/{external_id}", ImportMedia(d.Importer, d.Enqueue, log))
		r.Post("/v1/library/{kind}/{id}/merge", Merge(d.Reconcile, log))
		r.With(auth.RequireAdmin).Delete("/v1/library/{kind}/{id}", DeleteMedia(d.Store, log))
	})

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
}

func queryText(w http.ResponseWriter, r *http.Request) (string, bool) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		api.BadRequest(w, "VALIDATION_QUERY", "q is required", requestID(r), nil)
		return "", false
	}
	return q, true
}

// SearchCatalog handles GET /v1/catalog/search?q=&kind=
func SearchCatalog(c Searcher, log *zap.Logger) http.HandlerFunc {
	log = nopIfNil(log)
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := queryText(w, r)
		if !ok {
			return
		}
		var kind domain.Kind
		if raw := r.URL.Query().Get("kind"); raw != "" {
			k, err := domain.ParseMediaKind(raw)
			if err != nil {
				api.BadRequest(w, "VALIDATION_KIND", "kind must be anime or manga", requestID(r), nil)
				return
			}
			kind = k
		}
		found, err := c.SearchByTitle(r.Context(), q)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		if kind != "" {
			found = lo.Filter(found, func(m anilist.Candidate, _ int) bool { return m.Kind == kind })
		}
		if found == nil {
			found = []anilist.Candidate{}
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{"results": found})
	}
}

// SearchCharacters handles GET /v1/catalog/characters?q=
func SearchCharacters(c Searcher, log *zap.Logger) http.HandlerFunc {
	log = nopIfNil(log)
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := queryText(w, r)
		if !ok {
			return
		}
		found, err := c.SearchCharacters(r.Context(), q)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		if found == nil {
			found = []anilist.CharacterCandidate{}
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{"results": found})
	}
}

// ImportMedia handles POST /v1/import/{kind}/{external_id}[?async=true]
func ImportMedia(im Importer, enqueue EnqueueFunc, log *zap.Logger) http.HandlerFunc {
	log = nopIfNil(log)
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := mediaKindParam(w, r)
		if !ok {
			return
		}
		extID, ok := externalIDParam(w, r)
		if !ok {
			return
		}

		if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
			if enqueue == nil {
				api.Unavailable(w, "QUEUE_UNAVAILABLE", "async imports are disabled", requestID(r))
				return
			}
			job := queue.ImportMediaJob{Kind: kind, ExternalID: extID}
			if err := enqueue(job); err != nil {
				log.Error("enqueue import", zap.Int("external_id", extID), zap.Error(err))
				api.Unavailable(w, "QUEUE_UNAVAILABLE", "could not queue import", requestID(r))
				return
			}
			api.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "job": job})
			return
		}

		res, err := im.Import(r.Context(), kind, extID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		status := http.StatusCreated
		if res.AlreadyImported {
			status = http.StatusOK
		}
		api.WriteJSON(w, status, res)
	}
}

// ImportProgress handles GET /v1/import/{kind}/{external_id}/progress
func ImportProgress(pr progress.Reader, log *zap.Logger) http.HandlerFunc {
	log = nopIfNil(log)
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := mediaKindParam(w, r)
		if !ok {
			return
		}
		extID, ok := externalIDParam(w, r)
		if !ok {
			return
		}
		p, err := pr.Latest(r.Context(), progress.MediaKey{Kind: kind, ExternalID: extID})
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, p)
	}
}

// Compare handles GET /v1/library/{kind}/{id}/compare
func Compare(rc Reconciler, log *zap.Logger) http.HandlerFunc {
	log = nopIfNil(log)
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := mediaKindParam(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		d, err := rc.Compare(r.Context(), kind, id)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, d)
	}
}

type mergeRequest struct {
	Fields []string `json:"fields"`
}

// Merge handles POST /v1/library/{kind}/{id}/merge
func Merge(rc Reconciler, log *zap.Logger) http.HandlerFunc {
	log = nopIfNil(log)
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := mediaKindParam(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		var req mergeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		groups, err := reconcile.ParseFieldGroups(req.Fields)
		if err == nil && len(groups) == 0 {
			err = reconcile.ErrNoGroups
		}
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		m, err := rc.Apply(r.Context(), kind, id, groups)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		uid, _ := auth.UserIDFromContext(r.Context())
		log.Info("merge", zap.String("media_id", id), zap.String("user_id", uid), zap.Any("fields", groups))
		api.WriteJSON(w, http.StatusOK, m)
	}
}

// DeleteMedia handles DELETE /v1/library/{kind}/{id}
func DeleteMedia(s Deleter, log *zap.Logger) http.HandlerFunc {
	log = nopIfNil(log)
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := mediaKindParam(w, r)
		if !ok {
			return
		}
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		if err := s.DeleteMedia(r.Context(), kind, id); err != nil {
			writeError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
