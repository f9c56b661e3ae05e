package tmdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/showgap/showgap/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.TMDBConfig{
		APIKey:   "test-key",
		BaseURL:  srv.URL,
		Language: "en-US",
		Timeout:  5,
	}, zerolog.Nop())
}

func searchHandler(t *testing.T, body string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/tv" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("api_key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"status_code": 7, "status_message": "Invalid API key"}`)
			return
		}
		fmt.Fprint(w, body)
	})
}

func TestSearchShow(t *testing.T) {
	client := newTestClient(t, searchHandler(t, `{
		"results": [
			{"id": 1981, "name": "Gotham", "first_air_date": "2014-09-22"},
			{"id": 2, "name": "Gotham Knights", "first_air_date": "2023-03-14"}
		]
	}`))

	candidates, err := client.SearchShow(context.Background(), "Gotham")
	if err != nil {
		t.Fatalf("SearchShow: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("candidates = %+v", candidates)
	}
	if candidates[0].ID != 1981 || candidates[0].Name != "Gotham" || candidates[0].Year != 2014 {
		t.Errorf("candidates[0] = %+v", candidates[0])
	}
}

func TestSearchShowRequiresAPIKey(t *testing.T) {
	client := NewClient(config.TMDBConfig{}, zerolog.Nop())
	if _, err := client.SearchShow(context.Background(), "x"); !errors.Is(err, ErrAPIKeyMissing) {
		t.Errorf("err = %v, want ErrAPIKeyMissing", err)
	}
}

func TestResolveShowYearDisambiguation(t *testing.T) {
	body := `{
		"results": [
			{"id": 1, "name": "Show", "first_air_date": "2005-01-01"},
			{"id": 2, "name": "Show", "first_air_date": "2014-01-01"},
			{"id": 3, "name": "Show", "first_air_date": "2015-01-01"}
		]
	}`

	tests := []struct {
		name     string
		yearHint int
		wantID   int
	}{
		{"exact year", 2014, 2},
		{"within one year", 2016, 3},
		{"closest year", 2008, 1},
		{"no hint takes first", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, searchHandler(t, body))
			cand, err := client.ResolveShow(context.Background(), "Show", tt.yearHint)
			if err != nil {
				t.Fatalf("ResolveShow: %v", err)
			}
			if cand.ID != tt.wantID {
				t.Errorf("ID = %d, want %d", cand.ID, tt.wantID)
			}
		})
	}
}

func TestResolveShowNoResults(t *testing.T) {
	client := newTestClient(t, searchHandler(t, `{"results": []}`))
	if _, err := client.ResolveShow(context.Background(), "Nope", 0); !errors.Is(err, ErrShowNotFound) {
		t.Errorf("err = %v, want ErrShowNotFound", err)
	}
}

func TestGetSeasonDetails(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tv/7/season/1" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{
			"season_number": 1,
			"episodes": [
				{"episode_number": 1, "air_date": "2024-01-01"},
				{"episode_number": 2, "air_date": "2024-01-08"},
				{"episode_number": 3, "air_date": ""}
			]
		}`)
	}))

	info, err := client.GetSeasonDetails(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("GetSeasonDetails: %v", err)
	}
	if info.SeasonNumber != 1 || info.EpisodeCount != 3 {
		t.Errorf("info = %+v", info)
	}
	want := time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)
	if !info.AirDates[2].Equal(want) {
		t.Errorf("AirDates[2] = %v, want %v", info.AirDates[2], want)
	}
	// Episodes without an announced date carry a zero time.
	if !info.AirDates[3].IsZero() {
		t.Errorf("AirDates[3] = %v, want zero", info.AirDates[3])
	}
}

func TestGetShowStructure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tv/7":
			fmt.Fprint(w, `{
				"id": 7,
				"name": "Show",
				"first_air_date": "2014-09-22",
				"seasons": [
					{"season_number": 0, "episode_count": 5},
					{"season_number": 1, "episode_count": 2},
					{"season_number": 2, "episode_count": 1}
				]
			}`)
		case "/tv/7/season/1":
			fmt.Fprint(w, `{
				"season_number": 1,
				"episodes": [
					{"episode_number": 1, "air_date": "2024-01-01"},
					{"episode_number": 2, "air_date": "2024-01-08"}
				]
			}`)
		case "/tv/7/season/2":
			// Unfetchable season: skipped, not fatal.
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"status_code": 34, "status_message": "not found"}`)
		default:
			http.NotFound(w, r)
		}
	}))

	show, err := client.GetShowStructure(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetShowStructure: %v", err)
	}
	if show.ID != 7 || show.Name != "Show" || show.Year != 2014 {
		t.Errorf("show = %+v", show)
	}
	if _, ok := show.Seasons[0]; ok {
		t.Error("specials season must be excluded")
	}
	if _, ok := show.Seasons[2]; ok {
		t.Error("unfetchable season must be skipped")
	}
	if info := show.Seasons[1]; info.EpisodeCount != 2 {
		t.Errorf("season 1 = %+v", info)
	}
}

func TestDoRequestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, ErrShowNotFound},
		{"unauthorized", http.StatusUnauthorized, ErrUnreachable},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"status_code": 1, "status_message": "error"}`)
			}))
			_, err := client.SearchShow(context.Background(), "x")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDoRequestMalformedBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	}))
	_, err := client.SearchShow(context.Background(), "x")
	if !errors.Is(err, ErrCatalogData) {
		t.Errorf("err = %v, want ErrCatalogData", err)
	}
}

func TestDoRequestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(config.TMDBConfig{APIKey: "k", BaseURL: srv.URL, Timeout: 1}, zerolog.Nop())
	_, err := client.SearchShow(context.Background(), "x")
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("err = %v, want ErrUnreachable", err)
	}
}
