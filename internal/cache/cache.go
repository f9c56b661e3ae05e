// Package cache persists per-show catalog snapshots and last-known
// episode inventories between runs. One JSON document per library;
// every write holds an advisory lock and re-reads the on-disk document
// first, so concurrent runs interleave their records instead of the
// last writer clobbering the rest. A held lock surfaces as ErrLocked.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/showgap/showgap/internal/tmdb"
)

// SchemaVersion is the current cache file schema. MergeLegacy reads one
// version back (and the original flat title-to-id map that predates
// versioning).
const SchemaVersion = 2

// ErrLocked means another run holds the cache lock. Retryable.
var ErrLocked = errors.New("cache is locked by another run")

// SeasonState is what the cache knows about one season of one show.
// Verification is recorded per season, never inferred from siblings.
type SeasonState struct {
	// Verified means a full diff ran for this season and found nothing
	// missing. Merges may upgrade this flag but never downgrade it.
	Verified bool `json:"verified"`
	// Episodes are the episode numbers present at the last scan.
	Episodes []int `json:"episodes,omitempty"`
}

// Record is the persisted per-show snapshot: catalog data plus the
// last-known parsed inventory.
type Record struct {
	TMDBID        int                 `json:"tmdb_id"`
	CanonicalName string              `json:"canonical_name,omitempty"`
	Year          int                 `json:"year,omitempty"`
	Show          *tmdb.Show          `json:"show,omitempty"`
	Seasons       map[int]SeasonState `json:"seasons,omitempty"`
	InventorySize int                 `json:"inventory_size,omitempty"`
	LastChecked   time.Time           `json:"last_checked,omitzero"`
	SourceVersion int                 `json:"source_version"`
}

// FullyVerified reports whether every announced season of the cached
// show is marked verified. Seasons with no episodes yet do not count
// against verification.
func (r Record) FullyVerified() bool {
	if r.Show == nil || len(r.Show.Seasons) == 0 {
		return false
	}
	for n, season := range r.Show.Seasons {
		if season.EpisodeCount == 0 {
			continue
		}
		if !r.Seasons[n].Verified {
			return false
		}
	}
	return true
}

// fileFormat is the on-disk document.
type fileFormat struct {
	SchemaVersion int               `json:"schema_version"`
	Shows         map[string]Record `json:"shows"`
}

// Store owns the on-disk cache for one library.
type Store struct {
	path   string
	logger zerolog.Logger
	flk    *flock.Flock

	mu    sync.Mutex
	shows map[string]Record
}

// Open loads the cache at path, creating an empty store when the file
// does not exist. A corrupt file is backed up and replaced with an
// empty cache rather than failing the run.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger.With().Str("component", "cache").Logger(),
		flk:    flock.New(path + ".lock"),
		shows:  map[string]Record{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var doc fileFormat
	if err := json.Unmarshal(data, &doc); err != nil || doc.SchemaVersion > SchemaVersion {
		backup := path + ".bak"
		if werr := os.WriteFile(backup, data, 0644); werr == nil {
			s.logger.Warn().Str("backup", backup).Msg("Cache file unreadable, backed up and starting empty")
		}
		return s, nil
	}
	if doc.Shows != nil {
		s.shows = doc.Shows
	}
	return s, nil
}

// Len returns the number of cached shows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shows)
}

// Lookup returns the record cached under the show's grouping key.
func (s *Store) Lookup(show string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.shows[show]
	return rec, ok
}

// Store merges rec into the cache under show and persists the result.
// With force set the fresh record replaces the existing one outright;
// otherwise episode sets are unioned and verification flags are only
// ever upgraded.
func (s *Store) Store(show string, rec Record, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.flk.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire cache lock: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	defer s.flk.Unlock()

	s.refresh()

	rec.SourceVersion = SchemaVersion
	if existing, ok := s.shows[show]; ok && !force {
		rec = merge(existing, rec)
	}
	s.shows[show] = rec

	return s.save()
}

// Delete removes a show's record and persists. Used by forced refresh.
func (s *Store) Delete(show string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.flk.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire cache lock: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	defer s.flk.Unlock()

	s.refresh()

	delete(s.shows, show)
	return s.save()
}

// refresh folds records another run committed since Open back into the
// in-memory state, so a save rewrites the latest on-disk document
// instead of clobbering it. Callers hold s.mu and the file lock.
func (s *Store) refresh() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var doc fileFormat
	if err := json.Unmarshal(data, &doc); err != nil || doc.SchemaVersion > SchemaVersion {
		return
	}
	for show, rec := range doc.Shows {
		if existing, ok := s.shows[show]; ok {
			rec = merge(existing, rec)
		}
		s.shows[show] = rec
	}
}

// merge applies the store merge rule: fresh wins scalar fields, episode
// sets are unioned, verification only upgrades.
func merge(existing, fresh Record) Record {
	out := fresh
	if out.CanonicalName == "" {
		out.CanonicalName = existing.CanonicalName
	}
	if out.Year == 0 {
		out.Year = existing.Year
	}
	if out.TMDBID == 0 {
		out.TMDBID = existing.TMDBID
	}
	if out.Show == nil {
		out.Show = existing.Show
	}
	if out.LastChecked.IsZero() {
		out.LastChecked = existing.LastChecked
	}
	if out.InventorySize == 0 {
		out.InventorySize = existing.InventorySize
	}

	if len(existing.Seasons) > 0 {
		if out.Seasons == nil {
			out.Seasons = make(map[int]SeasonState, len(existing.Seasons))
		}
		for n, old := range existing.Seasons {
			cur := out.Seasons[n]
			cur.Verified = cur.Verified || old.Verified
			cur.Episodes = unionEpisodes(old.Episodes, cur.Episodes)
			out.Seasons[n] = cur
		}
	}
	return out
}

func unionEpisodes(a, b []int) []int {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	set := make(map[int]bool, len(a)+len(b))
	for _, e := range a {
		set[e] = true
	}
	for _, e := range b {
		set[e] = true
	}
	out := make([]int, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Ints(out)
	return out
}

// save writes the document atomically. Callers hold s.mu and the file lock.
func (s *Store) save() error {
	doc := fileFormat{
		SchemaVersion: SchemaVersion,
		Shows:         s.shows,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace cache: %w", err)
	}
	return nil
}
