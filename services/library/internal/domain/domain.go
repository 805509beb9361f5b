// Package domain holds the library's media and character model and the
// translation tables from the catalog vocabulary into it.
package domain

import (
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindAnime     Kind = "anime"
	KindManga     Kind = "manga"
	KindCharacter Kind = "character"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindAnime, KindManga, KindCharacter:
		return k, nil
	default:
		return "", fmt.Errorf("unknown kind %q", s)
	}
}

// ParseMediaKind is ParseKind restricted to anime and manga.
func ParseMediaKind(s string) (Kind, error) {
	k, err := ParseKind(s)
	if err != nil {
		return "", err
	}
	if !k.IsMedia() {
		return "", fmt.Errorf("kind %q is not a media kind", s)
	}
	return k, nil
}

func (k Kind) IsMedia() bool { return k == KindAnime || k == KindManga }

// FuzzyDate is a partial calendar date; zero parts are unknown.
type FuzzyDate struct {
	Year  int `json:"year,omitempty"`
	Month int `json:"month,omitempty"`
	Day   int `json:"day,omitempty"`
}

func (d FuzzyDate) IsZero() bool { return d == FuzzyDate{} }

type Titles struct {
	Romaji  string `json:"romaji,omitempty"`
	English string `json:"english,omitempty"`
	Native  string `json:"native,omitempty"`
}

type Lengths struct {
	Episodes int `json:"episodes,omitempty"`
	Duration int `json:"duration,omitempty"`
	Chapters int `json:"chapters,omitempty"`
	Volumes  int `json:"volumes,omitempty"`
}

type Release struct {
	Status    ReleaseStatus `json:"status,omitempty"`
	StartDate FuzzyDate     `json:"start_date"`
	EndDate   FuzzyDate     `json:"end_date"`
}

type Images struct {
	Cover  string `json:"cover,omitempty"`
	Banner string `json:"banner,omitempty"`
}

// Relation is a directional edge stored on the source media.
type Relation struct {
	RelationID string       `json:"relation_id"`
	Type       RelationType `json:"type"`
}

type CharacterRef struct {
	CharacterID string `json:"character_id"`
	Role        Role   `json:"role"`
}

type Media struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	ExternalID  int            `json:"external_id,omitempty"`
	Titles      Titles         `json:"titles"`
	Format      string         `json:"format,omitempty"`
	Source      string         `json:"source,omitempty"`
	Country     string         `json:"country,omitempty"`
	Lengths     Lengths        `json:"lengths"`
	Release     Release        `json:"release"`
	Genres      []string       `json:"genres"`
	Synonyms    []string       `json:"synonyms,omitempty"`
	Relations   []Relation     `json:"relations"`
	Characters  []CharacterRef `json:"characters"`
	Description string         `json:"description,omitempty"`
	Images      Images         `json:"images"`
	ActivityAt  time.Time      `json:"activity_at"`
}

// Imported reports whether m carries a catalog id.
func (m Media) Imported() bool { return m.ExternalID != 0 }

type AlternativeName struct {
	Name    string `json:"name"`
	Spoiler bool   `json:"spoiler,omitempty"`
}

type CharacterName struct {
	First        string            `json:"first,omitempty"`
	Middle       string            `json:"middle,omitempty"`
	Last         string            `json:"last,omitempty"`
	Native       string            `json:"native,omitempty"`
	Alternatives []AlternativeName `json:"alternatives,omitempty"`
}

// Full joins the given, middle and family names.
func (n CharacterName) Full() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{n.First, n.Middle, n.Last} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

type MediaRef struct {
	MediaID string `json:"media_id"`
	Kind    Kind   `json:"kind"`
}

type Character struct {
	ID          string        `json:"id"`
	ExternalID  int           `json:"external_id,omitempty"`
	Name        CharacterName `json:"name"`
	Gender      string        `json:"gender,omitempty"`
	Age         string        `json:"age,omitempty"`
	DateOfBirth FuzzyDate     `json:"date_of_birth"`
	Image       string        `json:"image,omitempty"`
	Description string        `json:"description,omitempty"`
	Media       []MediaRef    `json:"media"`
}

// HasMedia reports whether ref is already among c's back-references.
func (c Character) HasMedia(ref MediaRef) bool {
	for _, m := range c.Media {
		if m == ref {
			return true
		}
	}
	return false
}
