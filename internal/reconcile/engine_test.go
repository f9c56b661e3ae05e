package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/showgap/showgap/internal/cache"
	"github.com/showgap/showgap/internal/storage"
	"github.com/showgap/showgap/internal/tmdb"
)

type fakeBackend struct {
	listing *storage.Listing
	err     error
}

func (f *fakeBackend) Kind() storage.Kind { return storage.KindLocal }

func (f *fakeBackend) List(ctx context.Context, dir string) (*storage.Listing, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.listing, nil
}

func (f *fakeBackend) Exists(ctx context.Context, dir string) (bool, error) {
	return f.err == nil, f.err
}

type fakeCatalog struct {
	mu       sync.Mutex
	shows    map[string]*tmdb.Show
	resolves int
	fetches  int
	err      error
}

func (f *fakeCatalog) ResolveShow(ctx context.Context, name string, yearHint int) (*tmdb.ShowCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	if f.err != nil {
		return nil, f.err
	}
	show, ok := f.shows[name]
	if !ok {
		return nil, tmdb.ErrShowNotFound
	}
	return &tmdb.ShowCandidate{ID: show.ID, Name: show.Name, Year: show.Year}, nil
}

func (f *fakeCatalog) GetShowStructure(ctx context.Context, showID int) (*tmdb.Show, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	for _, show := range f.shows {
		if show.ID == showID {
			return show, nil
		}
	}
	return nil, tmdb.ErrShowNotFound
}

func airedSeason(number, episodes int) tmdb.SeasonInfo {
	info := tmdb.SeasonInfo{
		SeasonNumber: number,
		EpisodeCount: episodes,
		AirDates:     make(map[int]time.Time, episodes),
	}
	base := time.Now().AddDate(-1, 0, 0)
	for ep := 1; ep <= episodes; ep++ {
		info.AirDates[ep] = base.AddDate(0, 0, ep*7)
	}
	return info
}

func files(paths ...string) *storage.Listing {
	l := &storage.Listing{}
	for _, p := range paths {
		l.Files = append(l.Files, storage.MediaFile{
			Path:    p,
			Backend: storage.KindLocal,
			ModTime: time.Now(),
		})
	}
	return l
}

func testEngine(t *testing.T, backend storage.Backend, catalog Catalog, opts Options) *Engine {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "test_cache.json"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return New(backend, catalog, store, zerolog.Nop(), opts)
}

func TestRunFindsMissingEpisodes(t *testing.T) {
	catalog := &fakeCatalog{shows: map[string]*tmdb.Show{
		"Gotham": {
			ID:      1981,
			Name:    "Gotham",
			Year:    2014,
			Seasons: map[int]tmdb.SeasonInfo{1: airedSeason(1, 3)},
		},
	}}
	backend := &fakeBackend{listing: files(
		"Gotham (2014)/Season 1/Gotham.S01E01.mkv",
		"Gotham (2014)/Season 1/Gotham.S01E03.mkv",
	)}

	engine := testEngine(t, backend, catalog, Options{})
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Missing) != 1 {
		t.Fatalf("missing = %+v, want exactly one entry", result.Missing)
	}
	m := result.Missing[0]
	if m.Show != "Gotham" || m.Season != 1 || m.Episode != 2 {
		t.Errorf("missing = %+v, want Gotham S01E02", m)
	}
	if m.AirDate.IsZero() {
		t.Error("missing episode lost its air date")
	}
}

func TestRunCompleteSeasonProducesNothing(t *testing.T) {
	catalog := &fakeCatalog{shows: map[string]*tmdb.Show{
		"Gotham": {
			ID:      1981,
			Name:    "Gotham",
			Seasons: map[int]tmdb.SeasonInfo{1: airedSeason(1, 2)},
		},
	}}
	backend := &fakeBackend{listing: files(
		"Gotham/Season 1/Gotham.S01E01.mkv",
		"Gotham/Season 1/Gotham.S01E02.mkv",
	)}

	engine := testEngine(t, backend, catalog, Options{})
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Missing) != 0 {
		t.Errorf("complete season produced %+v", result.Missing)
	}
}

func TestRunFutureEpisodesExpectedAbsent(t *testing.T) {
	season := airedSeason(1, 2)
	season.EpisodeCount = 3
	season.AirDates[3] = time.Now().AddDate(0, 1, 0)

	catalog := &fakeCatalog{shows: map[string]*tmdb.Show{
		"Show": {ID: 7, Name: "Show", Seasons: map[int]tmdb.SeasonInfo{1: season}},
	}}
	backend := &fakeBackend{listing: files(
		"Show/Season 1/Show.S01E01.mkv",
		"Show/Season 1/Show.S01E02.mkv",
	)}

	engine := testEngine(t, backend, catalog, Options{})
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Missing) != 0 {
		t.Errorf("unaired episode reported missing: %+v", result.Missing)
	}
}

func TestRunDeduplicatesEpisodes(t *testing.T) {
	catalog := &fakeCatalog{shows: map[string]*tmdb.Show{
		"Show": {ID: 7, Name: "Show", Seasons: map[int]tmdb.SeasonInfo{1: airedSeason(1, 2)}},
	}}
	// Two copies of episode 1 in different qualities.
	backend := &fakeBackend{listing: files(
		"Show/Season 1/Show.S01E01.720p.mkv",
		"Show/Season 1/Show.S01E01.1080p.mkv",
	)}

	engine := testEngine(t, backend, catalog, Options{})
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Missing) != 1 || result.Missing[0].Episode != 2 {
		t.Errorf("missing = %+v, want only S01E02", result.Missing)
	}
	if result.Shows[0].Files != 1 {
		t.Errorf("deduped inventory = %d files, want 1", result.Shows[0].Files)
	}
}

func TestBuildGroupsPrefersNewestDuplicate(t *testing.T) {
	older := storage.MediaFile{
		Path:    "Show/Season 1/Show.S01E01.720p.mkv",
		Backend: storage.KindLocal,
		ModTime: time.Now().Add(-time.Hour),
	}
	newer := storage.MediaFile{
		Path:    "Show/Season 1/Show.S01E01.1080p.mkv",
		Backend: storage.KindLocal,
		ModTime: time.Now(),
	}
	engine := testEngine(t, &fakeBackend{}, &fakeCatalog{}, Options{})

	// The newer file must survive whichever side of the duplicate is
	// seen first.
	for _, order := range [][]storage.MediaFile{{older, newer}, {newer, older}} {
		groups := engine.buildGroups(order, &Result{})
		eps := groups["Show"]
		if len(eps) != 1 {
			t.Fatalf("entries = %d, want 1", len(eps))
		}
		if eps[0].file.Path != newer.Path {
			t.Errorf("kept %s, want the newer %s", eps[0].file.Path, newer.Path)
		}
	}
}

// haltingCatalog cancels the run from inside the first resolve, leaving
// later shows unchecked.
type haltingCatalog struct {
	*fakeCatalog
	cancel context.CancelFunc
	once   sync.Once
}

func (c *haltingCatalog) ResolveShow(ctx context.Context, name string, yearHint int) (*tmdb.ShowCandidate, error) {
	var first bool
	c.once.Do(func() { first = true })
	if first {
		c.cancel()
		<-ctx.Done()
	}
	return c.fakeCatalog.ResolveShow(ctx, name, yearHint)
}

func TestRunCancellationKeepsFinishedShows(t *testing.T) {
	shows := map[string]*tmdb.Show{
		"Alpha": {ID: 1, Name: "Alpha", Seasons: map[int]tmdb.SeasonInfo{1: airedSeason(1, 2)}},
		"Beta":  {ID: 2, Name: "Beta", Seasons: map[int]tmdb.SeasonInfo{1: airedSeason(1, 2)}},
	}
	backend := &fakeBackend{listing: files(
		"Alpha/Season 1/Alpha.S01E01.mkv",
		"Beta/Season 1/Beta.S01E01.mkv",
	)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	catalog := &haltingCatalog{fakeCatalog: &fakeCatalog{shows: shows}, cancel: cancel}

	engine := testEngine(t, backend, catalog, Options{Concurrency: 1})
	result, err := engine.Run(ctx)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result == nil {
		t.Fatal("cancelled run returned no result")
	}
	// The show whose check was in flight when the run was cancelled
	// still finishes and reports its gap.
	if len(result.Shows) != 1 {
		t.Fatalf("shows = %+v, want the one finished check", result.Shows)
	}
	if len(result.Shows[0].Missing) != 1 || result.Shows[0].Missing[0].Episode != 2 {
		t.Errorf("finished show missing = %+v, want S01E02", result.Shows[0].Missing)
	}
}

func TestRunUnresolvedShowDoesNotAbort(t *testing.T) {
	catalog := &fakeCatalog{shows: map[string]*tmdb.Show{
		"Good": {ID: 1, Name: "Good", Seasons: map[int]tmdb.SeasonInfo{1: airedSeason(1, 1)}},
	}}
	backend := &fakeBackend{listing: files(
		"Good/Season 1/Good.S01E01.mkv",
		"Unknown/Season 1/Unknown.S01E01.mkv",
	)}

	engine := testEngine(t, backend, catalog, Options{})
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if want := []string{"Unknown"}; !reflect.DeepEqual(result.Unresolved(), want) {
		t.Errorf("unresolved = %v, want %v", result.Unresolved(), want)
	}
	for _, show := range result.Shows {
		if show.Show == "Good" && show.Unresolved {
			t.Error("resolvable show marked unresolved")
		}
	}
}

func TestRunBackendUnavailableIsFatal(t *testing.T) {
	backend := &fakeBackend{err: storage.ErrBackendUnavailable}
	engine := testEngine(t, backend, &fakeCatalog{}, Options{})

	if _, err := engine.Run(context.Background()); err == nil {
		t.Fatal("expected fatal error for unreachable backend")
	}
}

func TestRunShortCircuitSkipsVerifiedShows(t *testing.T) {
	show := &tmdb.Show{ID: 7, Name: "Show", Seasons: map[int]tmdb.SeasonInfo{1: airedSeason(1, 2)}}
	catalog := &fakeCatalog{shows: map[string]*tmdb.Show{"Show": show}}
	backend := &fakeBackend{listing: files(
		"Show/Season 1/Show.S01E01.mkv",
		"Show/Season 1/Show.S01E02.mkv",
	)}

	engine := testEngine(t, backend, catalog, Options{})
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstFetches := catalog.fetches

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if catalog.fetches != firstFetches {
		t.Error("second run hit the catalog despite a fully verified cache record")
	}
	if len(result.Shows) != 1 || !result.Shows[0].FromCache {
		t.Errorf("expected cache short-circuit, got %+v", result.Shows)
	}
}

func TestRunForceCheckAllBypassesCache(t *testing.T) {
	show := &tmdb.Show{ID: 7, Name: "Show", Seasons: map[int]tmdb.SeasonInfo{1: airedSeason(1, 2)}}
	catalog := &fakeCatalog{shows: map[string]*tmdb.Show{"Show": show}}
	backend := &fakeBackend{listing: files(
		"Show/Season 1/Show.S01E01.mkv",
		"Show/Season 1/Show.S01E02.mkv",
	)}

	store, err := cache.Open(filepath.Join(t.TempDir(), "test_cache.json"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	engine := New(backend, catalog, store, zerolog.Nop(), Options{})
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	forced := New(backend, catalog, store, zerolog.Nop(), Options{ForceCheckAll: true})
	fetchesBefore := catalog.fetches
	result, err := forced.Run(context.Background())
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if catalog.fetches == fetchesBefore {
		t.Error("forced run did not refetch catalog data")
	}
	if result.Shows[0].FromCache {
		t.Error("forced run short-circuited from cache")
	}
}

func TestRunShowFilter(t *testing.T) {
	catalog := &fakeCatalog{shows: map[string]*tmdb.Show{
		"Gotham": {ID: 1, Name: "Gotham", Seasons: map[int]tmdb.SeasonInfo{1: airedSeason(1, 1)}},
		"Other":  {ID: 2, Name: "Other", Seasons: map[int]tmdb.SeasonInfo{1: airedSeason(1, 1)}},
	}}
	backend := &fakeBackend{listing: files(
		"Gotham (2014)/Season 1/Gotham.S01E01.mkv",
		"Other/Season 1/Other.S01E01.mkv",
	)}

	engine := testEngine(t, backend, catalog, Options{ShowFilter: "gotham"})
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Shows) != 1 || result.Shows[0].Show != "Gotham (2014)" {
		t.Errorf("shows = %+v, want only Gotham", result.Shows)
	}
}

func TestRunOrderingIsDeterministic(t *testing.T) {
	catalog := &fakeCatalog{shows: map[string]*tmdb.Show{
		"Alpha": {ID: 1, Name: "Alpha", Seasons: map[int]tmdb.SeasonInfo{
			1: airedSeason(1, 2),
			2: airedSeason(2, 2),
		}},
		"Beta": {ID: 2, Name: "Beta", Seasons: map[int]tmdb.SeasonInfo{1: airedSeason(1, 2)}},
	}}
	backend := &fakeBackend{listing: files(
		"Beta/Season 1/Beta.S01E02.mkv",
		"Alpha/Season 2/Alpha.S02E02.mkv",
		"Alpha/Season 1/Alpha.S01E02.mkv",
	)}

	var first []MissingEpisode
	for i := 0; i < 3; i++ {
		engine := testEngine(t, backend, catalog, Options{Concurrency: 2})
		result, err := engine.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if i == 0 {
			first = result.Missing
			want := []string{"Alpha S1E1", "Alpha S2E1", "Beta S1E1"}
			if len(first) != len(want) {
				t.Fatalf("missing = %+v", first)
			}
			for j, m := range first {
				if got := fmt.Sprintf("%s S%dE%d", m.Show, m.Season, m.Episode); got != want[j] {
					t.Fatalf("order[%d] = %s, want %s", j, got, want[j])
				}
			}
			continue
		}
		if !reflect.DeepEqual(result.Missing, first) {
			t.Fatalf("run %d ordering differs: %+v vs %+v", i, result.Missing, first)
		}
	}
}

func TestRunSkippedFilesRecorded(t *testing.T) {
	catalog := &fakeCatalog{shows: map[string]*tmdb.Show{}}
	backend := &fakeBackend{listing: files(
		"Show/Season 1/Behind the Scenes.mkv",
		"Show/cover.jpg",
	)}

	engine := testEngine(t, backend, catalog, Options{})
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := []string{"Show/Season 1/Behind the Scenes.mkv"}; !reflect.DeepEqual(result.Skipped, want) {
		t.Errorf("skipped = %v, want %v", result.Skipped, want)
	}
}
