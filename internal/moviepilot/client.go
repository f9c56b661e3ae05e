// Package moviepilot is a client for the MoviePilot automation server.
// It covers the token login, season subscriptions, resource search and
// download-task endpoints the dispatcher needs.
package moviepilot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/showgap/showgap/internal/config"
)

var (
	ErrNotConfigured = errors.New("moviepilot is not configured")
	ErrLoginFailed   = errors.New("moviepilot login failed")
	ErrRequestFailed = errors.New("moviepilot request failed")
	ErrNoResource    = errors.New("no matching resource found")
)

// Client talks to one MoviePilot instance. The access token is fetched
// lazily on first use and refreshed once when the server rejects it.
type Client struct {
	httpClient *http.Client
	config     config.MoviePilotConfig
	logger     zerolog.Logger

	mu    sync.Mutex
	token string
}

func NewClient(cfg config.MoviePilotConfig, logger zerolog.Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		config:     cfg,
		logger:     logger.With().Str("component", "moviepilot").Logger(),
	}
}

// IsConfigured reports whether the client has a server URL and
// credentials to work with.
func (c *Client) IsConfigured() bool {
	return c.config.URL != "" && c.config.Username != "" && c.config.Password != ""
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login authenticates with the form-encoded token endpoint and stores
// the bearer token for later calls.
func (c *Client) Login(ctx context.Context) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	form := url.Values{}
	form.Set("username", c.config.Username)
	form.Set("password", c.config.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.config.URL, "/")+"/api/v1/login/access-token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrLoginFailed, resp.StatusCode)
	}

	var login loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if login.AccessToken == "" {
		return fmt.Errorf("%w: empty token", ErrLoginFailed)
	}

	c.mu.Lock()
	c.token = login.TokenType + " " + login.AccessToken
	c.mu.Unlock()

	c.logger.Info().Str("url", c.config.URL).Msg("Logged in to MoviePilot")
	return nil
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type subscribeRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Year        string `json:"year"`
	TMDBID      int    `json:"tmdbid,omitempty"`
	Season      int    `json:"season"`
	BestVersion int    `json:"best_version"`
}

// Subscribe creates a season subscription for the show.
func (c *Client) Subscribe(ctx context.Context, show string, tmdbID, season int) error {
	payload := subscribeRequest{
		Name:   show,
		Type:   "电视剧",
		TMDBID: tmdbID,
		Season: season,
	}
	var env apiEnvelope
	if err := c.request(ctx, http.MethodPost, "/api/v1/subscribe", payload, &env); err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("%w: %s", ErrRequestFailed, env.Message)
	}
	c.logger.Info().Str("show", show).Int("season", season).Msg("Created season subscription")
	return nil
}

// Resource is one search hit, flattened from MoviePilot's meta and
// torrent blocks.
type Resource struct {
	Title     string
	Seeders   int
	ID        string
	Site      string
	Enclosure string
}

type searchHit struct {
	MetaInfo struct {
		Title string `json:"title"`
	} `json:"meta_info"`
	TorrentInfo struct {
		ID        json.Number `json:"id"`
		Site      json.Number `json:"site"`
		Seeders   flexInt     `json:"seeders"`
		Enclosure string      `json:"enclosure"`
	} `json:"torrent_info"`
}

// flexInt tolerates the number-or-quoted-string values MoviePilot emits
// for seeder counts. Anything unparsable counts as zero.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.Atoi(s)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexInt(v)
	return nil
}

// SearchTitle queries the resource index. Results come back ordered by
// seeder count, best first.
func (c *Client) SearchTitle(ctx context.Context, keyword string) ([]Resource, error) {
	var env apiEnvelope
	endpoint := "/api/v1/search/title?keyword=" + url.QueryEscape(keyword)
	if err := c.request(ctx, http.MethodGet, endpoint, nil, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, env.Message)
	}

	var hits []searchHit
	if err := json.Unmarshal(env.Data, &hits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	resources := make([]Resource, 0, len(hits))
	for _, hit := range hits {
		resources = append(resources, Resource{
			Title:     hit.MetaInfo.Title,
			Seeders:   int(hit.TorrentInfo.Seeders),
			ID:        hit.TorrentInfo.ID.String(),
			Site:      hit.TorrentInfo.Site.String(),
			Enclosure: hit.TorrentInfo.Enclosure,
		})
	}
	sort.SliceStable(resources, func(i, j int) bool { return resources[i].Seeders > resources[j].Seeders })
	return resources, nil
}

type downloadRequest struct {
	ID        string `json:"id"`
	Site      string `json:"site"`
	Enclosure string `json:"enclosure"`
}

// Download searches for a release covering one of the missing episodes
// and queues the best-seeded match as a download task.
func (c *Client) Download(ctx context.Context, show string, tmdbID, season int, episodes []int) error {
	keyword := fmt.Sprintf("%s S%02d", show, season)
	resources, err := c.SearchTitle(ctx, keyword)
	if err != nil {
		return err
	}

	for _, res := range resources {
		if !coversEpisode(res.Title, season, episodes) {
			continue
		}
		payload := downloadRequest{ID: res.ID, Site: res.Site, Enclosure: res.Enclosure}
		var env apiEnvelope
		if err := c.request(ctx, http.MethodPost, "/api/v1/download/add", payload, &env); err != nil {
			c.logger.Warn().Err(err).Str("title", res.Title).Msg("Failed to queue download, trying next resource")
			continue
		}
		if !env.Success {
			c.logger.Warn().Str("title", res.Title).Str("message", env.Message).Msg("Download rejected, trying next resource")
			continue
		}
		c.logger.Info().Str("show", show).Int("season", season).Str("title", res.Title).Msg("Queued download task")
		return nil
	}
	return fmt.Errorf("%w: %s season %d", ErrNoResource, show, season)
}

func coversEpisode(title string, season int, episodes []int) bool {
	for _, ep := range episodes {
		if strings.Contains(title, fmt.Sprintf("S%02dE%02d", season, ep)) {
			return true
		}
	}
	return false
}

// request performs one authenticated call, logging in first when no
// token is held and retrying once after a 401.
func (c *Client) request(ctx context.Context, method, endpoint string, payload, result interface{}) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}

	status, err := c.doRequest(ctx, method, endpoint, payload, result)
	if err == nil && status == http.StatusUnauthorized {
		if err := c.Login(ctx); err != nil {
			return err
		}
		status, err = c.doRequest(ctx, method, endpoint, payload, result)
	}
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrRequestFailed, status)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, payload, result interface{}) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.config.URL, "/")+endpoint, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	req.Header.Set("Authorization", c.token)
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: %v", ErrRequestFailed, err)
		}
	}
	return resp.StatusCode, nil
}
