package anilist

import (
	"strings"

	"github.com/example/animetrack/services/library/internal/domain"
)

type titleFields struct {
	Romaji  *string `graphql:"romaji"`
	English *string `graphql:"english"`
	Native  *string `graphql:"native"`
}

type fuzzyDate struct {
	Year  *int `graphql:"year"`
	Month *int `graphql:"month"`
	Day   *int `graphql:"day"`
}

type coverImage struct {
	Large *string `graphql:"large"`
}

type mediaSummary struct {
	ID         int         `graphql:"id"`
	Type       *string     `graphql:"type"`
	Format     *string     `graphql:"format"`
	SeasonYear *int        `graphql:"seasonYear"`
	Title      titleFields `graphql:"title"`
	CoverImage coverImage  `graphql:"coverImage"`
}

type characterSummary struct {
	ID   int `graphql:"id"`
	Name struct {
		Full   *string `graphql:"full"`
		Native *string `graphql:"native"`
	} `graphql:"name"`
	Image coverImage `graphql:"image"`
}

type rosterPage struct {
	PageInfo struct {
		HasNextPage bool `graphql:"hasNextPage"`
	} `graphql:"pageInfo"`
	Edges []struct {
		Role *string `graphql:"role"`
		Node struct {
			ID int `graphql:"id"`
		} `graphql:"node"`
	} `graphql:"edges"`
}

type mediaDetail struct {
	ID              int         `graphql:"id"`
	Type            *string     `graphql:"type"`
	Title           titleFields `graphql:"title"`
	Format          *string     `graphql:"format"`
	Source          *string     `graphql:"source"`
	CountryOfOrigin *string     `graphql:"countryOfOrigin"`
	Status          *string     `graphql:"status"`
	StartDate       fuzzyDate   `graphql:"startDate"`
	EndDate         fuzzyDate   `graphql:"endDate"`
	Episodes        *int        `graphql:"episodes"`
	Duration        *int        `graphql:"duration"`
	Chapters        *int        `graphql:"chapters"`
	Volumes         *int        `graphql:"volumes"`
	Genres          []string    `graphql:"genres"`
	Synonyms        []string    `graphql:"synonyms"`
	Description     *string     `graphql:"description(asHtml: false)"`
	CoverImage      coverImage  `graphql:"coverImage"`
	BannerImage     *string     `graphql:"bannerImage"`
	Relations       struct {
		Edges []struct {
			RelationType *string `graphql:"relationType(version: 2)"`
			Node         struct {
				ID   int     `graphql:"id"`
				Type *string `graphql:"type"`
			} `graphql:"node"`
		} `graphql:"edges"`
	} `graphql:"relations"`
	Characters rosterPage `graphql:"characters(page: 1, perPage: 25, sort: [ROLE, RELEVANCE, ID])"`
}

type characterDetail struct {
	ID   int `graphql:"id"`
	Name struct {
		First              *string  `graphql:"first"`
		Middle             *string  `graphql:"middle"`
		Last               *string  `graphql:"last"`
		Native             *string  `graphql:"native"`
		Alternative        []string `graphql:"alternative"`
		AlternativeSpoiler []string `graphql:"alternativeSpoiler"`
	} `graphql:"name"`
	Gender      *string    `graphql:"gender"`
	Age         *string    `graphql:"age"`
	DateOfBirth fuzzyDate  `graphql:"dateOfBirth"`
	Image       coverImage `graphql:"image"`
	Description *string    `graphql:"description(asHtml: false)"`
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func num(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func (t titleFields) titles() domain.Titles {
	return domain.Titles{Romaji: str(t.Romaji), English: str(t.English), Native: str(t.Native)}
}

func (d fuzzyDate) date() domain.FuzzyDate {
	return domain.FuzzyDate{Year: num(d.Year), Month: num(d.Month), Day: num(d.Day)}
}

// kindOf returns "" for catalog types outside anime and manga.
func kindOf(p *string) domain.Kind {
	k, err := domain.ParseMediaKind(str(p))
	if err != nil {
		return ""
	}
	return k
}

func (m mediaSummary) candidate() (Candidate, bool) {
	kind := kindOf(m.Type)
	if m.ID == 0 || kind == "" {
		return Candidate{}, false
	}
	return Candidate{
		ExternalID: m.ID,
		Kind:       kind,
		Titles:     m.Title.titles(),
		Format:     str(m.Format),
		Year:       num(m.SeasonYear),
		Cover:      str(m.CoverImage.Large),
	}, true
}

func (c characterSummary) candidate() CharacterCandidate {
	return CharacterCandidate{
		ExternalID: c.ID,
		Name:       str(c.Name.Full),
		Native:     str(c.Name.Native),
		Image:      str(c.Image.Large),
	}
}

func (r rosterPage) entries() []RosterEntry {
	out := make([]RosterEntry, 0, len(r.Edges))
	for _, e := range r.Edges {
		if e.Node.ID == 0 {
			continue
		}
		out = append(out, RosterEntry{ExternalID: e.Node.ID, Role: strings.ToUpper(str(e.Role))})
	}
	return out
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (m mediaDetail) payload() MediaPayload {
	p := MediaPayload{
		ExternalID: m.ID,
		Kind:       kindOf(m.Type),
		Titles:     m.Title.titles(),
		Format:     str(m.Format),
		Source:     str(m.Source),
		Country:    str(m.CountryOfOrigin),
		Lengths: domain.Lengths{
			Episodes: num(m.Episodes),
			Duration: num(m.Duration),
			Chapters: num(m.Chapters),
			Volumes:  num(m.Volumes),
		},
		Release: domain.Release{
			Status:    domain.TranslateStatus(str(m.Status)),
			StartDate: m.StartDate.date(),
			EndDate:   m.EndDate.date(),
		},
		Genres:        cleanList(m.Genres),
		Synonyms:      cleanList(m.Synonyms),
		Description:   str(m.Description),
		Images:        domain.Images{Cover: str(m.CoverImage.Large), Banner: str(m.BannerImage)},
		Roster:        m.Characters.entries(),
		RosterHasMore: m.Characters.PageInfo.HasNextPage,
	}
	for _, e := range m.Relations.Edges {
		if e.Node.ID == 0 {
			continue
		}
		p.Relations = append(p.Relations, RelationEntry{
			ExternalID: e.Node.ID,
			Kind:       kindOf(e.Node.Type),
			RawKind:    str(e.Node.Type),
			Type:       str(e.RelationType),
		})
	}
	return p
}

func (c characterDetail) payload() CharacterPayload {
	name := domain.CharacterName{
		First:  str(c.Name.First),
		Middle: str(c.Name.Middle),
		Last:   str(c.Name.Last),
		Native: str(c.Name.Native),
	}
	for _, a := range cleanList(c.Name.Alternative) {
		name.Alternatives = append(name.Alternatives, domain.AlternativeName{Name: a})
	}
	for _, a := range cleanList(c.Name.AlternativeSpoiler) {
		name.Alternatives = append(name.Alternatives, domain.AlternativeName{Name: a, Spoiler: true})
	}
	return CharacterPayload{
		ExternalID:  c.ID,
		Name:        name,
		Gender:      str(c.Gender),
		Age:         str(c.Age),
		DateOfBirth: c.DateOfBirth.date(),
		Image:       str(c.Image.Large),
		Description: str(c.Description),
	}
}

// ToMedia converts a payload into an unsaved local media. Relations and
// characters are left empty; the importer fills them in.
func ToMedia(p MediaPayload) domain.Media {
	return domain.Media{
		Kind:        p.Kind,
		ExternalID:  p.ExternalID,
		Titles:      p.Titles,
		Format:      p.Format,
		Source:      p.Source,
		Country:     p.Country,
		Lengths:     p.Lengths,
		Release:     p.Release,
		Genres:      append([]string(nil), p.Genres...),
		Synonyms:    append([]string(nil), p.Synonyms...),
		Description: p.Description,
		Images:      p.Images,
	}
}

// ToCharacter converts a payload into an unsaved local character with no back-references.
func ToCharacter(p CharacterPayload) domain.Character {
	return domain.Character{
		ExternalID:  p.ExternalID,
		Name:        p.Name,
		Gender:      p.Gender,
		Age:         p.Age,
		DateOfBirth: p.DateOfBirth,
		Image:       p.Image,
		Description: p.Description,
	}
}

// BestTitle prefers the English title, then romaji, then native.
func BestTitle(t domain.Titles) string {
	if t.English != "" {
		return t.English
	}
	if t.Romaji != "" {
		return t.Romaji
	}
	return t.Native
}
