package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// legacyDocument is the unversioned cache layout used before
// SchemaVersion 2: a set of directories confirmed complete plus a flat
// title-to-id lookup.
type legacyDocument struct {
	CompleteDirs map[string]legacyCompleteEntry `json:"complete_dirs"`
	TMDBMap      map[string]int                 `json:"tmdb_map"`
}

type legacyCompleteEntry struct {
	TMDBID    int    `json:"tmdb_id"`
	CheckedAt string `json:"checked_at"`
}

// MergeLegacy folds an older cache file into the store and persists the
// result. Three layouts are recognized: the current versioned document,
// the unversioned complete_dirs/tmdb_map document, and the original
// flat title-to-id map. Records that cannot be interpreted are skipped
// and counted, never fatal. Merging the same file twice is a no-op the
// second time.
func (s *Store) MergeLegacy(path string) (merged, skipped int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read legacy cache: %w", err)
	}

	records, skipped, err := decodeLegacy(data)
	if err != nil {
		return 0, skipped, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	locked, lerr := s.flk.TryLock()
	if lerr != nil {
		return 0, skipped, fmt.Errorf("failed to acquire cache lock: %w", lerr)
	}
	if !locked {
		return 0, skipped, ErrLocked
	}
	defer s.flk.Unlock()

	s.refresh()

	for show, rec := range records {
		if existing, ok := s.shows[show]; ok {
			rec = merge(rec, existing)
		}
		rec.SourceVersion = SchemaVersion
		s.shows[show] = rec
		merged++
	}

	if err := s.save(); err != nil {
		return merged, skipped, err
	}
	s.logger.Info().Int("merged", merged).Int("skipped", skipped).Str("source", path).Msg("Merged legacy cache")
	return merged, skipped, nil
}

func decodeLegacy(data []byte) (map[string]Record, int, error) {
	// Current layout first: we may be merging a sibling library's cache.
	var doc fileFormat
	if err := json.Unmarshal(data, &doc); err == nil && doc.SchemaVersion == SchemaVersion {
		return doc.Shows, 0, nil
	}

	var legacy legacyDocument
	if err := json.Unmarshal(data, &legacy); err == nil && (len(legacy.CompleteDirs) > 0 || len(legacy.TMDBMap) > 0) {
		return upgradeLegacy(legacy)
	}

	// Oldest layout: a bare title-to-id map. Entries with non-numeric
	// ids are skipped rather than failing the whole merge.
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, 0, fmt.Errorf("unrecognized legacy cache format: %w", err)
	}
	records := make(map[string]Record, len(flat))
	skipped := 0
	for title, raw := range flat {
		var id int
		if err := json.Unmarshal(raw, &id); err != nil || id <= 0 {
			skipped++
			continue
		}
		records[title] = Record{TMDBID: id}
	}
	return records, skipped, nil
}

func upgradeLegacy(doc legacyDocument) (map[string]Record, int, error) {
	records := make(map[string]Record, len(doc.CompleteDirs)+len(doc.TMDBMap))
	skipped := 0

	for title, id := range doc.TMDBMap {
		if id <= 0 {
			skipped++
			continue
		}
		records[title] = Record{TMDBID: id}
	}

	// A legacy complete flag covered the whole directory with no season
	// breakdown, so it cannot populate per-season verification. Carry
	// the id and timestamp only.
	for dir, entry := range doc.CompleteDirs {
		rec := records[dir]
		if entry.TMDBID > 0 {
			rec.TMDBID = entry.TMDBID
		}
		if entry.CheckedAt != "" {
			if t, err := time.Parse(time.RFC3339, entry.CheckedAt); err == nil {
				rec.LastChecked = t
			}
		}
		if rec.TMDBID == 0 && rec.LastChecked.IsZero() {
			skipped++
			continue
		}
		records[dir] = rec
	}
	return records, skipped, nil
}
