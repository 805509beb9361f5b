package anilist

import (
	"context"

	"github.com/example/animetrack/services/library/internal/domain"
)

// Provider is the port for reading media and characters from the catalog.
type Provider interface {
	SearchByTitle(ctx context.Context, text string) ([]Candidate, error)
	SearchCharacters(ctx context.Context, name string) ([]CharacterCandidate, error)
	FetchMedia(ctx context.Context, id int, kind domain.Kind) (*MediaPayload, error)
	FetchCharacter(ctx context.Context, id int) (*CharacterPayload, error)
	FetchCharacterRoster(ctx context.Context, mediaID int, kind domain.Kind) ([]RosterEntry, error)
}

var _ Provider = (*Client)(nil)
