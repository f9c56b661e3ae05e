package reconcile

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/showgap/showgap/internal/cache"
	"github.com/showgap/showgap/internal/scanner"
	"github.com/showgap/showgap/internal/storage"
	"github.com/showgap/showgap/internal/tmdb"
)

// Catalog is the slice of the TMDB client the engine needs. Tests
// substitute a fake.
type Catalog interface {
	ResolveShow(ctx context.Context, name string, yearHint int) (*tmdb.ShowCandidate, error)
	GetShowStructure(ctx context.Context, showID int) (*tmdb.Show, error)
}

// Options control one run.
type Options struct {
	// Root is the directory listed on the backend, relative to its base.
	Root string
	// ShowFilter restricts the run to shows whose directory name or
	// cleaned title matches, case-insensitively, exactly or by substring.
	ShowFilter string
	// ForceCheckAll bypasses the cache short-circuit and refetches
	// catalog data for every show.
	ForceCheckAll bool
	// Concurrency bounds parallel per-show catalog resolution.
	Concurrency int
	// MaxShows caps how many shows one run checks, 0 for no cap.
	MaxShows int
	// Extensions decides which files count as video.
	Extensions scanner.ExtensionSet
}

// Engine runs the scan, parse, resolve, diff pipeline for one library.
type Engine struct {
	backend storage.Backend
	catalog Catalog
	cache   *cache.Store
	logger  zerolog.Logger
	opts    Options
}

func New(backend storage.Backend, catalog Catalog, store *cache.Store, logger zerolog.Logger, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Extensions == nil {
		opts.Extensions = scanner.NewExtensionSet(nil)
	}
	return &Engine{
		backend: backend,
		catalog: catalog,
		cache:   store,
		logger:  logger.With().Str("component", "reconcile").Logger(),
		opts:    opts,
	}
}

// entry pairs a parsed identity with the file it came from. Duplicate
// identities are collapsed keeping the newest file.
type entry struct {
	parsed scanner.ParsedEpisode
	file   storage.MediaFile
}

type episodeKey struct {
	season  int
	episode int
	airDate string
}

func keyFor(p scanner.ParsedEpisode) episodeKey {
	if p.ByAirDate() {
		return episodeKey{airDate: p.AirDate.Format("2006-01-02")}
	}
	return episodeKey{season: p.Season, episode: p.Episode}
}

// Run executes the full pipeline. Only an unreachable backend root is
// fatal; every other failure is recorded on the result and the run
// continues.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{
		RunID:     uuid.NewString(),
		StartedAt: start,
	}

	listing, err := e.backend.List(ctx, e.opts.Root)
	if err != nil {
		return nil, err
	}
	res.FilesListed = len(listing.Files)
	res.SoftFailures = listing.Soft

	groups := e.buildGroups(listing.Files, res)

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	if e.opts.MaxShows > 0 && len(names) > e.opts.MaxShows {
		e.logger.Warn().Int("shows", len(names)).Int("max", e.opts.MaxShows).Msg("Show count exceeds cap, truncating run")
		names = names[:e.opts.MaxShows]
	}

	var (
		mu      sync.Mutex
		results []ShowResult
	)
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(e.opts.Concurrency))
	for _, name := range names {
		eps := groups[name]
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			sr := e.checkShow(gctx, name, eps)
			mu.Lock()
			results = append(results, sr)
			mu.Unlock()
			return nil
		})
	}
	// Per-show failures are recoverable, so the group only fails on
	// cancellation. Results for finished shows are kept either way.
	runErr := g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Show < results[j].Show })
	res.Shows = results
	for _, sr := range results {
		res.Missing = append(res.Missing, sr.Missing...)
	}
	sortMissing(res.Missing)
	res.Elapsed = time.Since(start)

	e.logger.Info().
		Str("runId", res.RunID).
		Int("files", res.FilesListed).
		Int("shows", len(res.Shows)).
		Int("missing", len(res.Missing)).
		Int("skipped", len(res.Skipped)).
		Dur("elapsed", res.Elapsed).
		Msg("Reconciliation run finished")

	if runErr != nil && ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, nil
}

// buildGroups parses every video file, routes unparsable ones to the
// skipped list, and groups deduplicated entries by show directory.
func (e *Engine) buildGroups(files []storage.MediaFile, res *Result) map[string][]entry {
	byShow := make(map[string]map[episodeKey]entry)
	for _, f := range files {
		base := f.Path[strings.LastIndex(f.Path, "/")+1:]
		if !e.opts.Extensions.IsVideo(base) {
			continue
		}
		if scanner.IsSampleFile(base) {
			e.logger.Debug().Str("path", f.Path).Msg("Ignoring sample file")
			continue
		}
		parsed, ok := scanner.Parse(f.Path)
		if !ok {
			res.Skipped = append(res.Skipped, f.Path)
			continue
		}
		res.FilesParsed++

		if e.opts.ShowFilter != "" && !matchesFilter(e.opts.ShowFilter, parsed.ShowGuess) {
			continue
		}
		group := byShow[parsed.ShowGuess]
		if group == nil {
			group = make(map[episodeKey]entry)
			byShow[parsed.ShowGuess] = group
		}
		key := keyFor(parsed)
		if prev, dup := group[key]; !dup || f.ModTime.After(prev.file.ModTime) {
			group[key] = entry{parsed: parsed, file: f}
		}
	}
	sort.Strings(res.Skipped)

	out := make(map[string][]entry, len(byShow))
	for name, group := range byShow {
		eps := make([]entry, 0, len(group))
		for _, en := range group {
			eps = append(eps, en)
		}
		out[name] = eps
	}
	return out
}

func matchesFilter(filter, guess string) bool {
	filter = strings.ToLower(filter)
	if strings.Contains(strings.ToLower(guess), filter) {
		return true
	}
	title, _ := scanner.CleanTitle(guess)
	return strings.Contains(strings.ToLower(title), filter)
}

// checkShow resolves one show and diffs its inventory against the
// catalog. Catalog failures mark the show unresolved, never fail the
// run.
func (e *Engine) checkShow(ctx context.Context, name string, eps []entry) ShowResult {
	res := ShowResult{Show: name, Files: len(eps)}
	log := e.logger.With().Str("show", name).Logger()

	cached, haveCache := e.cache.Lookup(name)
	force := e.opts.ForceCheckAll
	if !force && haveCache && cached.FullyVerified() && cached.InventorySize == len(eps) {
		res.FromCache = true
		res.TMDBID = cached.TMDBID
		res.CanonicalName = cached.CanonicalName
		log.Debug().Msg("Show fully verified and unchanged, skipping")
		return res
	}

	id := cached.TMDBID
	canonical := cached.CanonicalName
	year := cached.Year
	if id == 0 || force {
		title, hint := scanner.CleanTitle(name)
		cand, err := e.catalog.ResolveShow(ctx, title, hint)
		if err != nil {
			res.Unresolved = true
			res.Err = err
			log.Warn().Err(err).Msg("Failed to resolve show against catalog")
			return res
		}
		id, canonical, year = cand.ID, cand.Name, cand.Year
	}

	show := cached.Show
	if show == nil || force {
		fetched, err := e.catalog.GetShowStructure(ctx, id)
		if err != nil {
			res.Unresolved = true
			res.Err = err
			log.Warn().Err(err).Int("tmdbId", id).Msg("Failed to fetch show structure")
			return res
		}
		show = fetched
	}
	if canonical == "" {
		canonical = show.Name
	}
	res.TMDBID = id
	res.CanonicalName = canonical

	present := presentEpisodes(eps, show)
	now := time.Now()
	seasons := make(map[int]cache.SeasonState, len(show.Seasons))
	for n, season := range show.Seasons {
		if season.EpisodeCount == 0 {
			continue
		}
		var missing []MissingEpisode
		for ep, aired := range expectedEpisodes(season, now) {
			if !present[n][ep] {
				missing = append(missing, MissingEpisode{
					Show:    canonical,
					TMDBID:  id,
					Season:  n,
					Episode: ep,
					AirDate: aired,
				})
			}
		}
		seasons[n] = cache.SeasonState{
			Verified: len(missing) == 0,
			Episodes: sortedEpisodes(present[n]),
		}
		res.Missing = append(res.Missing, missing...)
	}
	sortMissing(res.Missing)

	rec := cache.Record{
		TMDBID:        id,
		CanonicalName: canonical,
		Year:          year,
		Show:          show,
		Seasons:       seasons,
		InventorySize: len(eps),
		LastChecked:   now,
	}
	if err := e.cache.Store(name, rec, force); err != nil {
		if errors.Is(err, cache.ErrLocked) {
			log.Warn().Msg("Cache locked by another run, result not persisted")
		} else {
			log.Warn().Err(err).Msg("Failed to persist cache record")
		}
	}
	return res
}

// presentEpisodes builds the season to episode-set inventory. Date-named
// entries are resolved against the catalog's air-date map.
func presentEpisodes(eps []entry, show *tmdb.Show) map[int]map[int]bool {
	present := make(map[int]map[int]bool)
	mark := func(season, episode int) {
		if present[season] == nil {
			present[season] = make(map[int]bool)
		}
		present[season][episode] = true
	}
	for _, en := range eps {
		p := en.parsed
		if !p.ByAirDate() {
			mark(p.Season, p.Episode)
			continue
		}
		y, m, d := p.AirDate.Date()
		for n, season := range show.Seasons {
			for ep, aired := range season.AirDates {
				ay, am, ad := aired.Date()
				if ay == y && am == m && ad == d {
					mark(n, ep)
				}
			}
		}
	}
	return present
}

// expectedEpisodes returns episode number to air date for everything
// the catalog says has aired by now. Unaired and unscheduled episodes
// are expected-absent. Seasons with no air-date data fall back to the
// full announced count.
func expectedEpisodes(season tmdb.SeasonInfo, now time.Time) map[int]time.Time {
	out := make(map[int]time.Time, season.EpisodeCount)
	if len(season.AirDates) == 0 {
		for ep := 1; ep <= season.EpisodeCount; ep++ {
			out[ep] = time.Time{}
		}
		return out
	}
	for ep, aired := range season.AirDates {
		if aired.IsZero() || aired.After(now) {
			continue
		}
		out[ep] = aired
	}
	return out
}

func sortedEpisodes(set map[int]bool) []int {
	if len(set) == 0 {
		return nil
	}
	out := make([]int, 0, len(set))
	for ep := range set {
		out = append(out, ep)
	}
	sort.Ints(out)
	return out
}
