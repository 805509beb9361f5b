package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/animetrack/internal/platform/api"
	"github.com/example/animetrack/internal/platform/httpserver"
	"github.com/example/animetrack/services/library/internal/anilist"
	"github.com/example/animetrack/services/library/internal/domain"
	"github.com/example/animetrack/services/library/internal/importer"
	"github.com/example/animetrack/services/library/internal/progress"
	"github.com/example/animetrack/services/library/internal/reconcile"
	"github.com/example/animetrack/services/library/internal/resolver"
	"github.com/example/animetrack/services/library/internal/store"
)

const maxRequestBodyBytes = 1 << 20 // 1 MiB

func requestID(r *http.Request) string { return httpserver.RequestIDFromContext(r.Context()) }

// decodeJSON reads up to maxRequestBodyBytes from r.Body and decodes JSON into dst.
// On failure it writes a 400 response and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, dst *T) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(dst); err != nil {
		api.BadRequest(w, "VALIDATION_JSON", "invalid JSON", requestID(r), nil)
		return false
	}
	return true
}

func mediaKindParam(w http.ResponseWriter, r *http.Request) (domain.Kind, bool) {
	k, err := domain.ParseMediaKind(chi.URLParam(r, "kind"))
	if err != nil {
		api.BadRequest(w, "VALIDATION_KIND", "kind must be anime or manga", requestID(r),
			map[string]any{"kind": chi.URLParam(r, "kind")})
		return "", false
	}
	return k, true
}

func externalIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "external_id"))
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		api.BadRequest(w, "VALIDATION_EXTERNAL_ID", "external_id must be a positive integer", requestID(r),
			map[string]any{"external_id": raw})
		return 0, false
	}
	return id, true
}

func idParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		api.BadRequest(w, "VALIDATION_ID", "id is required", requestID(r), nil)
		return "", false
	}
	return id, true
}

func nopIfNil(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// writeError maps domain and catalog failures onto the API envelope.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	rid := requestID(r)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, resolver.ErrNotFound),
		errors.Is(err, progress.ErrNoProgress), errors.Is(err, anilist.ErrNotFound):
		api.NotFound(w, "NOT_FOUND", "not found", rid)
	case errors.Is(err, reconcile.ErrNotImported):
		api.Conflict(w, "NOT_IMPORTED", "media has no catalog counterpart", rid, nil)
	case errors.Is(err, reconcile.ErrNoGroups), errors.Is(err, reconcile.ErrUnknownGroup):
		api.BadRequest(w, "VALIDATION_FIELDS", err.Error(), rid,
			map[string]any{"allowed": reconcile.AllGroups})
	case errors.Is(err, reconcile.ErrSourceUnavailable), errors.Is(err, importer.ErrInvalidPayload),
		errors.Is(err, anilist.ErrTransient), errors.Is(err, anilist.ErrMalformed):
		api.BadGateway(w, "CATALOG_UNAVAILABLE", "catalog unavailable", rid, map[string]any{"reason": err.Error()})
	default:
		log.Error("request failed", zap.String("path", r.URL.Path), zap.String("request_id", rid), zap.Error(err))
		api.Internal(w, rid)
	}
}
