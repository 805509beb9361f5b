// Package reconcile compares imported media with their catalog counterpart
// and applies caller-selected merges.
package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/example/animetrack/services/library/internal/domain"
)

// FieldGroup is a unit of comparison and merge. Groups are replaced wholesale.
type FieldGroup string

const (
	GroupReleaseData FieldGroup = "releaseData"
	GroupLengths     FieldGroup = "lengths"
	GroupGenres      FieldGroup = "genres"
)

var AllGroups = []FieldGroup{GroupReleaseData, GroupLengths, GroupGenres}

var ErrUnknownGroup = errors.New("reconcile: unknown field group")

// ParseFieldGroups validates caller input. Names are matched case-insensitively
// and duplicates are dropped; order follows AllGroups.
func ParseFieldGroups(names []string) ([]FieldGroup, error) {
	picked := make(map[FieldGroup]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		g, ok := lo.Find(AllGroups, func(g FieldGroup) bool { return strings.EqualFold(string(g), n) })
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, n)
		}
		picked[g] = true
	}
	return lo.Filter(AllGroups, func(g FieldGroup, _ int) bool { return picked[g] }), nil
}

type Status string

const (
	StatusInSync            Status = "in_sync"
	StatusDrifted           Status = "drifted"
	StatusSourceUnavailable Status = "source_unavailable"
)

type FieldDiff[T any] struct {
	Current     T    `json:"current"`
	External    T    `json:"external"`
	IsDifferent bool `json:"is_different"`
}

type DiffResult struct {
	Status      Status                    `json:"status"`
	ReleaseData FieldDiff[domain.Release] `json:"releaseData"`
	Lengths     FieldDiff[domain.Lengths] `json:"lengths"`
	Genres      FieldDiff[[]string]       `json:"genres"`
	// Reason explains StatusSourceUnavailable.
	Reason string `json:"reason,omitempty"`
}

// Different reports whether g differs. It is false for every group when the
// source was unavailable.
func (d DiffResult) Different(g FieldGroup) bool {
	switch g {
	case GroupReleaseData:
		return d.ReleaseData.IsDifferent
	case GroupLengths:
		return d.Lengths.IsDifferent
	case GroupGenres:
		return d.Genres.IsDifferent
	}
	return false
}

// DriftedGroups lists the groups that differ.
func (d DiffResult) DriftedGroups() []FieldGroup {
	return lo.Filter(AllGroups, func(g FieldGroup, _ int) bool { return d.Different(g) })
}

// sameGenres compares genre lists as sets.
func sameGenres(a, b []string) bool {
	left, right := lo.Difference(a, b)
	return len(left) == 0 && len(right) == 0
}

// Diff compares the comparable groups of local against external.
func Diff(local, external domain.Media) DiffResult {
	d := DiffResult{
		ReleaseData: FieldDiff[domain.Release]{
			Current:     local.Release,
			External:    external.Release,
			IsDifferent: local.Release != external.Release,
		},
		Lengths: FieldDiff[domain.Lengths]{
			Current:     local.Lengths,
			External:    external.Lengths,
			IsDifferent: local.Lengths != external.Lengths,
		},
		Genres: FieldDiff[[]string]{
			Current:     nonNil(local.Genres),
			External:    nonNil(external.Genres),
			IsDifferent: !sameGenres(local.Genres, external.Genres),
		},
	}
	d.Status = StatusInSync
	if len(d.DriftedGroups()) > 0 {
		d.Status = StatusDrifted
	}
	return d
}

// Merge returns local with every selected group replaced by external's value.
// Unselected groups are untouched.
func Merge(local, external domain.Media, selected []FieldGroup) domain.Media {
	out := local
	out.Genres = append([]string(nil), local.Genres...)
	for _, g := range lo.Uniq(selected) {
		switch g {
		case GroupReleaseData:
			out.Release = external.Release
		case GroupLengths:
			out.Lengths = external.Lengths
		case GroupGenres:
			out.Genres = append([]string(nil), external.Genres...)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
