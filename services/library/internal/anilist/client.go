package anilist

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shurcooL/graphql"

	"github.com/example/animetrack/services/library/internal/domain"
)

const (
	DefaultURL       = "https://graphql.anilist.co"
	defaultUserAgent = "animetrack-library/1.0"
	rosterPageSize   = 25
	// maxRosterPages bounds pagination against a catalog that never reports the last page.
	maxRosterPages = 40
	searchPageSize = 10
)

// MediaType is the catalog's media type enum, used as a query variable.
type MediaType string

func mediaType(kind domain.Kind) MediaType { return MediaType(strings.ToUpper(string(kind))) }

type Options struct {
	URL        string
	HTTPClient *http.Client
	Limiter    Waiter
	Timeout    time.Duration
	UserAgent  string
}

type Client struct {
	gql *graphql.Client
}

func New(opts Options) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	base := http.DefaultTransport
	if opts.HTTPClient != nil && opts.HTTPClient.Transport != nil {
		base = opts.HTTPClient.Transport
	}
	hc := &http.Client{
		Timeout:   opts.Timeout,
		Transport: &transport{base: base, limiter: opts.Limiter, userAgent: opts.UserAgent},
	}
	return &Client{gql: graphql.NewClient(opts.URL, hc)}
}

// Candidate is a search hit; callers pick one and hand its id to the importer.
type Candidate struct {
	ExternalID int           `json:"external_id"`
	Kind       domain.Kind   `json:"kind"`
	Titles     domain.Titles `json:"titles"`
	Format     string        `json:"format,omitempty"`
	Year       int           `json:"year,omitempty"`
	Cover      string        `json:"cover,omitempty"`
}

type CharacterCandidate struct {
	ExternalID int    `json:"external_id"`
	Name       string `json:"name"`
	Native     string `json:"native,omitempty"`
	Image      string `json:"image,omitempty"`
}

// RelationEntry is one relation edge as the catalog reports it.
type RelationEntry struct {
	ExternalID int
	// Kind is empty when the target is not anime or manga.
	Kind    domain.Kind
	RawKind string
	Type    string
}

type RosterEntry struct {
	ExternalID int    `json:"external_id"`
	Role       string `json:"role"`
}

type MediaPayload struct {
	ExternalID  int
	Kind        domain.Kind
	Titles      domain.Titles
	Format      string
	Source      string
	Country     string
	Lengths     domain.Lengths
	Release     domain.Release
	Genres      []string
	Synonyms    []string
	Description string
	Images      domain.Images
	Relations   []RelationEntry
	// Roster holds the first roster page; RosterHasMore is set when more exist.
	Roster        []RosterEntry
	RosterHasMore bool
}

type CharacterPayload struct {
	ExternalID  int
	Name        domain.CharacterName
	Gender      string
	Age         string
	DateOfBirth domain.FuzzyDate
	Image       string
	Description string
}

func (c *Client) SearchByTitle(ctx context.Context, text string) ([]Candidate, error) {
	const op = "search_media"
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("anilist %s: search text required", op)
	}
	var q struct {
		Page struct {
			Media []mediaSummary `graphql:"media(search: $search, sort: SEARCH_MATCH)"`
		} `graphql:"Page(page: 1, perPage: $perPage)"`
	}
	vars := map[string]any{
		"search":  graphql.String(text),
		"perPage": graphql.Int(searchPageSize),
	}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, classify(op, err)
	}
	out := make([]Candidate, 0, len(q.Page.Media))
	for _, m := range q.Page.Media {
		if cand, ok := m.candidate(); ok {
			out = append(out, cand)
		}
	}
	return out, nil
}

func (c *Client) SearchCharacters(ctx context.Context, name string) ([]CharacterCandidate, error) {
	const op = "search_characters"
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("anilist %s: name required", op)
	}
	var q struct {
		Page struct {
			Characters []characterSummary `graphql:"characters(search: $search, sort: SEARCH_MATCH)"`
		} `graphql:"Page(page: 1, perPage: $perPage)"`
	}
	vars := map[string]any{
		"search":  graphql.String(name),
		"perPage": graphql.Int(searchPageSize),
	}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, classify(op, err)
	}
	out := make([]CharacterCandidate, 0, len(q.Page.Characters))
	for _, ch := range q.Page.Characters {
		out = append(out, ch.candidate())
	}
	return out, nil
}

// FetchMedia returns the full payload for one anime or manga, including its
// relations and the first page of its character roster.
func (c *Client) FetchMedia(ctx context.Context, id int, kind domain.Kind) (*MediaPayload, error) {
	const op = "fetch_media"
	if id <= 0 {
		return nil, &CatalogError{Op: op, Kind: KindMalformed, Err: fmt.Errorf("invalid id %d", id)}
	}
	if !kind.IsMedia() {
		return nil, &CatalogError{Op: op, Kind: KindMalformed, Err: fmt.Errorf("kind %q is not a media kind", kind)}
	}
	var q struct {
		Media mediaDetail `graphql:"Media(id: $id, type: $type)"`
	}
	vars := map[string]any{
		"id":   graphql.Int(id),
		"type": mediaType(kind),
	}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, classify(op, err)
	}
	if q.Media.ID == 0 {
		return nil, notFound(op, id)
	}
	p := q.Media.payload()
	if p.Kind == "" {
		p.Kind = kind
	}
	return &p, nil
}

func (c *Client) FetchCharacter(ctx context.Context, id int) (*CharacterPayload, error) {
	const op = "fetch_character"
	if id <= 0 {
		return nil, &CatalogError{Op: op, Kind: KindMalformed, Err: fmt.Errorf("invalid id %d", id)}
	}
	var q struct {
		Character characterDetail `graphql:"Character(id: $id)"`
	}
	vars := map[string]any{"id": graphql.Int(id)}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, classify(op, err)
	}
	if q.Character.ID == 0 {
		return nil, notFound(op, id)
	}
	p := q.Character.payload()
	return &p, nil
}

// FetchCharacterRoster walks every roster page of a media in catalog order.
func (c *Client) FetchCharacterRoster(ctx context.Context, mediaID int, kind domain.Kind) ([]RosterEntry, error) {
	const op = "fetch_roster"
	if mediaID <= 0 || !kind.IsMedia() {
		return nil, &CatalogError{Op: op, Kind: KindMalformed, Err: fmt.Errorf("invalid media %s/%d", kind, mediaID)}
	}
	var out []RosterEntry
	for page := 1; page <= maxRosterPages; page++ {
		var q struct {
			Media struct {
				ID         int         `graphql:"id"`
				Characters rosterPage `graphql:"characters(page: $page, perPage: $perPage, sort: [ROLE, RELEVANCE, ID])"`
			} `graphql:"Media(id: $id, type: $type)"`
		}
		vars := map[string]any{
			"id":      graphql.Int(mediaID),
			"type":    mediaType(kind),
			"page":    graphql.Int(page),
			"perPage": graphql.Int(rosterPageSize),
		}
		if err := c.gql.Query(ctx, &q, vars); err != nil {
			return out, classify(op, err)
		}
		if q.Media.ID == 0 {
			return nil, notFound(op, mediaID)
		}
		out = append(out, q.Media.Characters.entries()...)
		if !q.Media.Characters.PageInfo.HasNextPage {
			return out, nil
		}
	}
	return out, nil
}
