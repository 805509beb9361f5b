package store

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/example/animetrack/services/library/internal/domain"
)

// Migrations holds the schema applied at startup.
//
//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsDir = "migrations"

var (
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned by Create* when the external id is already taken.
	ErrConflict = errors.New("store: external id already exists")
)

// MediaPatch is a partial update; nil fields are left untouched.
type MediaPatch struct {
	Release    *domain.Release
	Lengths    *domain.Lengths
	Genres     *[]string
	Relations  *[]domain.Relation
	Characters *[]domain.CharacterRef
	// Touch bumps ActivityAt.
	Touch bool
}

func (p MediaPatch) Empty() bool {
	return p.Release == nil && p.Lengths == nil && p.Genres == nil &&
		p.Relations == nil && p.Characters == nil && !p.Touch
}

func (p MediaPatch) apply(m *domain.Media, now time.Time) {
	if p.Release != nil {
		m.Release = *p.Release
	}
	if p.Lengths != nil {
		m.Lengths = *p.Lengths
	}
	if p.Genres != nil {
		m.Genres = append([]string(nil), (*p.Genres)...)
	}
	if p.Relations != nil {
		m.Relations = append([]domain.Relation(nil), (*p.Relations)...)
	}
	if p.Characters != nil {
		m.Characters = append([]domain.CharacterRef(nil), (*p.Characters)...)
	}
	if p.Touch {
		m.ActivityAt = now
	}
}

// ImportedRef identifies a media that carries a catalog id.
type ImportedRef struct {
	ID         string
	Kind       domain.Kind
	ExternalID int
}

// Store is the persistence port for media and characters.
type Store interface {
	FindMediaByExternalID(ctx context.Context, kind domain.Kind, externalID int) (domain.Media, error)
	FindCharacterByExternalID(ctx context.Context, externalID int) (domain.Character, error)
	GetMedia(ctx context.Context, kind domain.Kind, id string) (domain.Media, error)
	GetCharacter(ctx context.Context, id string) (domain.Character, error)

	CreateMedia(ctx context.Context, m domain.Media) (domain.Media, error)
	CreateCharacter(ctx context.Context, c domain.Character) (domain.Character, error)
	UpdateMedia(ctx context.Context, kind domain.Kind, id string, patch MediaPatch) (domain.Media, error)
	// AttachCharacterMedia records ref on the character. Attaching twice is a no-op.
	AttachCharacterMedia(ctx context.Context, characterID string, ref domain.MediaRef) error

	// ListImported returns imported media of kind ("" for all), oldest activity
	// first. A limit <= 0 returns every row.
	ListImported(ctx context.Context, kind domain.Kind, limit int) ([]ImportedRef, error)
	// DeleteMedia removes the media and its character back-references. Characters stay.
	DeleteMedia(ctx context.Context, kind domain.Kind, id string) error
}
