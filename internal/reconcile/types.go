// Package reconcile diffs the episode inventory found on a storage
// backend against the catalog's announced episodes and reports what is
// missing.
package reconcile

import (
	"sort"
	"time"

	"github.com/showgap/showgap/internal/storage"
)

// MissingEpisode is one episode the catalog announces but the library
// does not have.
type MissingEpisode struct {
	Show    string    `json:"show"`
	TMDBID  int       `json:"tmdbId"`
	Season  int       `json:"season"`
	Episode int       `json:"episode"`
	AirDate time.Time `json:"airDate,omitzero"`
}

// ShowResult is the per-show outcome of a run.
type ShowResult struct {
	Show          string           `json:"show"`
	CanonicalName string           `json:"canonicalName,omitempty"`
	TMDBID        int              `json:"tmdbId,omitempty"`
	Files         int              `json:"files"`
	Missing       []MissingEpisode `json:"missing,omitempty"`
	FromCache     bool             `json:"fromCache,omitempty"`
	Unresolved    bool             `json:"unresolved,omitempty"`
	Err           error            `json:"-"`
}

// Result is everything one run produced. Missing is in canonical order:
// show name, then season, then episode.
type Result struct {
	RunID        string                `json:"runId"`
	StartedAt    time.Time             `json:"startedAt"`
	Elapsed      time.Duration         `json:"elapsed"`
	FilesListed  int                   `json:"filesListed"`
	FilesParsed  int                   `json:"filesParsed"`
	Skipped      []string              `json:"skipped,omitempty"`
	SoftFailures []storage.SoftFailure `json:"softFailures,omitempty"`
	Shows        []ShowResult          `json:"shows"`
	Missing      []MissingEpisode      `json:"missing"`
}

// Unresolved lists the shows that could not be resolved against the
// catalog this run.
func (r *Result) Unresolved() []string {
	var out []string
	for _, s := range r.Shows {
		if s.Unresolved {
			out = append(out, s.Show)
		}
	}
	sort.Strings(out)
	return out
}

// sortMissing applies the canonical report ordering. The ordering is a
// post-hoc sort so it never depends on the concurrency schedule.
func sortMissing(eps []MissingEpisode) {
	sort.Slice(eps, func(i, j int) bool {
		if eps[i].Show != eps[j].Show {
			return eps[i].Show < eps[j].Show
		}
		if eps[i].Season != eps[j].Season {
			return eps[i].Season < eps[j].Season
		}
		return eps[i].Episode < eps[j].Episode
	})
}
