package tmdb

import (
	"strconv"
	"time"
)

// searchTVResponse is the response from TMDB TV search.
type searchTVResponse struct {
	Page         int        `json:"page"`
	Results      []tvResult `json:"results"`
	TotalResults int        `json:"total_results"`
}

// tvResult is a TV series from TMDB search results.
type tvResult struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	OriginalName string  `json:"original_name"`
	FirstAirDate string  `json:"first_air_date"`
	Popularity   float64 `json:"popularity"`
	VoteCount    int     `json:"vote_count"`
}

// tvDetails is the detailed TV series info from TMDB.
type tvDetails struct {
	ID               int        `json:"id"`
	Name             string     `json:"name"`
	FirstAirDate     string     `json:"first_air_date"`
	NumberOfSeasons  int        `json:"number_of_seasons"`
	NumberOfEpisodes int        `json:"number_of_episodes"`
	Seasons          []tvSeason `json:"seasons"`
}

type tvSeason struct {
	SeasonNumber int    `json:"season_number"`
	EpisodeCount int    `json:"episode_count"`
	AirDate      string `json:"air_date"`
}

// seasonDetails is the per-season episode listing from TMDB.
type seasonDetails struct {
	SeasonNumber int         `json:"season_number"`
	Name         string      `json:"name"`
	AirDate      string      `json:"air_date"`
	Episodes     []tvEpisode `json:"episodes"`
}

type tvEpisode struct {
	EpisodeNumber int    `json:"episode_number"`
	SeasonNumber  int    `json:"season_number"`
	Name          string `json:"name"`
	AirDate       string `json:"air_date"`
}

// errorResponse is TMDB's error envelope.
type errorResponse struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}

// ShowCandidate is one search result, normalized.
type ShowCandidate struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Year int    `json:"year"`
}

// SeasonInfo is the expected-episode structure of one season.
type SeasonInfo struct {
	SeasonNumber int               `json:"seasonNumber"`
	EpisodeCount int               `json:"episodeCount"`
	AirDates     map[int]time.Time `json:"airDates"`
}

// Show is the full catalog-resolved season/episode structure of a show.
// Immutable once fetched; refreshed wholesale, never patched.
type Show struct {
	ID      int                `json:"id"`
	Name    string             `json:"name"`
	Year    int                `json:"year"`
	Seasons map[int]SeasonInfo `json:"seasons"`
}

// parseAirDate parses TMDB's YYYY-MM-DD air dates; empty or malformed
// dates yield the zero time, which the diff treats as not yet aired.
func parseAirDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func yearOf(airDate string) int {
	if len(airDate) < 4 {
		return 0
	}
	year, _ := strconv.Atoi(airDate[:4])
	return year
}
