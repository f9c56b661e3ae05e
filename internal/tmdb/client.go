// Package tmdb is the catalog client: it resolves show names to TMDB
// entries and fetches the authoritative season/episode structure.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/showgap/showgap/internal/config"
)

var (
	ErrAPIKeyMissing = errors.New("TMDB API key is not configured")
	ErrShowNotFound  = errors.New("show not found")
	ErrRateLimited   = errors.New("TMDB API rate limited")

	// ErrUnreachable covers network and HTTP-level failures; per-show
	// recoverable for the caller.
	ErrUnreachable = errors.New("TMDB unreachable")

	// ErrCatalogData covers responses that came back but could not be
	// decoded; also per-show recoverable.
	ErrCatalogData = errors.New("malformed TMDB response")
)

// Client is a TMDB API client.
type Client struct {
	httpClient *http.Client
	config     config.TMDBConfig
	logger     zerolog.Logger
}

// NewClient creates a new TMDB client.
func NewClient(cfg config.TMDBConfig, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		config: cfg,
		logger: logger.With().Str("component", "tmdb").Logger(),
	}
}

// IsConfigured returns true if the API key is set.
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SearchShow searches TV series by free-text name.
func (c *Client) SearchShow(ctx context.Context, query string) ([]ShowCandidate, error) {
	if !c.IsConfigured() {
		return nil, ErrAPIKeyMissing
	}

	endpoint := fmt.Sprintf("%s/search/tv", c.config.BaseURL)
	params := url.Values{}
	params.Set("api_key", c.config.APIKey)
	params.Set("language", c.config.Language)
	params.Set("query", query)

	var response searchTVResponse
	if err := c.doRequest(ctx, endpoint, params, &response); err != nil {
		return nil, err
	}

	results := make([]ShowCandidate, 0, len(response.Results))
	for _, tv := range response.Results {
		results = append(results, ShowCandidate{
			ID:   tv.ID,
			Name: tv.Name,
			Year: yearOf(tv.FirstAirDate),
		})
	}

	c.logger.Debug().
		Str("query", query).
		Int("results", len(results)).
		Msg("Show search completed")

	return results, nil
}

// ResolveShow searches for a show and picks the best candidate. With a
// year hint the order of preference is exact year, then within one
// year, then the closest year; without one the first result wins.
func (c *Client) ResolveShow(ctx context.Context, name string, yearHint int) (*ShowCandidate, error) {
	candidates, err := c.SearchShow(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrShowNotFound
	}

	if yearHint > 0 {
		for _, cand := range candidates {
			if cand.Year == yearHint {
				return &cand, nil
			}
		}
		for _, cand := range candidates {
			if cand.Year != 0 && abs(cand.Year-yearHint) <= 1 {
				return &cand, nil
			}
		}

		var best *ShowCandidate
		closest := 1 << 30
		for i, cand := range candidates {
			if cand.Year == 0 {
				continue
			}
			if diff := abs(cand.Year - yearHint); diff < closest {
				closest = diff
				best = &candidates[i]
			}
		}
		if best != nil {
			c.logger.Warn().
				Str("name", name).
				Int("yearHint", yearHint).
				Int("chosenYear", best.Year).
				Msg("No year match, using closest candidate")
			return best, nil
		}
	}

	return &candidates[0], nil
}

// GetSeasonDetails fetches one season's episode listing.
func (c *Client) GetSeasonDetails(ctx context.Context, showID, seasonNumber int) (*SeasonInfo, error) {
	if !c.IsConfigured() {
		return nil, ErrAPIKeyMissing
	}

	endpoint := fmt.Sprintf("%s/tv/%d/season/%d", c.config.BaseURL, showID, seasonNumber)
	params := url.Values{}
	params.Set("api_key", c.config.APIKey)
	params.Set("language", c.config.Language)

	var details seasonDetails
	if err := c.doRequest(ctx, endpoint, params, &details); err != nil {
		return nil, err
	}

	info := SeasonInfo{
		SeasonNumber: details.SeasonNumber,
		EpisodeCount: len(details.Episodes),
		AirDates:     make(map[int]time.Time, len(details.Episodes)),
	}
	for _, ep := range details.Episodes {
		info.AirDates[ep.EpisodeNumber] = parseAirDate(ep.AirDate)
	}

	c.logger.Debug().
		Int("showID", showID).
		Int("seasonNumber", seasonNumber).
		Int("episodes", info.EpisodeCount).
		Msg("Got season details")

	return &info, nil
}

// GetShowStructure fetches the show's full season/episode structure.
// Season 0 (specials) is excluded; a season whose details cannot be
// fetched is logged and skipped rather than failing the show.
func (c *Client) GetShowStructure(ctx context.Context, showID int) (*Show, error) {
	if !c.IsConfigured() {
		return nil, ErrAPIKeyMissing
	}

	endpoint := fmt.Sprintf("%s/tv/%d", c.config.BaseURL, showID)
	params := url.Values{}
	params.Set("api_key", c.config.APIKey)
	params.Set("language", c.config.Language)

	var details tvDetails
	if err := c.doRequest(ctx, endpoint, params, &details); err != nil {
		return nil, err
	}

	show := &Show{
		ID:      details.ID,
		Name:    details.Name,
		Year:    yearOf(details.FirstAirDate),
		Seasons: make(map[int]SeasonInfo, len(details.Seasons)),
	}

	for _, season := range details.Seasons {
		if season.SeasonNumber == 0 {
			continue
		}
		info, err := c.GetSeasonDetails(ctx, showID, season.SeasonNumber)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Int("showID", showID).
				Int("seasonNumber", season.SeasonNumber).
				Msg("Failed to get season details, skipping")
			continue
		}
		show.Seasons[info.SeasonNumber] = *info
	}

	c.logger.Debug().
		Int("showID", showID).
		Str("name", show.Name).
		Int("seasons", len(show.Seasons)).
		Msg("Got show structure")

	return show, nil
}

// doRequest performs an HTTP GET request and decodes the JSON response.
func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	reqURL := endpoint
	if len(params) > 0 {
		reqURL = fmt.Sprintf("%s?%s", endpoint, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("url", endpoint).Msg("HTTP request failed")
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			c.logger.Error().
				Int("status", resp.StatusCode).
				Str("message", errResp.StatusMessage).
				Msg("TMDB API error")
		}

		switch resp.StatusCode {
		case http.StatusNotFound:
			return ErrShowNotFound
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: invalid API key", ErrUnreachable)
		case http.StatusTooManyRequests:
			return ErrRateLimited
		default:
			return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: %v", ErrCatalogData, err)
	}

	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
