package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/showgap/showgap/internal/config"
)

// Alist lists files through an Alist server's file-index API.
type Alist struct {
	baseURL    string
	username   string
	password   string
	basePath   string
	httpClient *http.Client
	logger     zerolog.Logger

	mu    sync.Mutex
	token string
}

// NewAlist creates an Alist backend. When cfg.Token is empty the client
// logs in with username/password on first use.
func NewAlist(cfg config.AlistConfig, logger zerolog.Logger) *Alist {
	return &Alist{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		basePath: strings.Trim(cfg.Path, "/"),
		token:    cfg.Token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With().Str("component", "storage").Str("backend", "alist").Logger(),
	}
}

func (a *Alist) Kind() Kind { return KindAlist }

type alistEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type alistFile struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	IsDir    bool   `json:"is_dir"`
	Modified string `json:"modified"`
}

// List lists dir recursively through /api/fs/list, one request per
// directory. Failed subtree requests become soft failures.
func (a *Alist) List(ctx context.Context, dir string) (*Listing, error) {
	return walk(ctx, dir, KindAlist, a.listDir)
}

func (a *Alist) listDir(ctx context.Context, dir string) ([]entry, error) {
	body := map[string]any{
		"path":     "/" + joinPath(a.basePath, dir),
		"password": "",
		"page":     1,
		"per_page": 0,
		"refresh":  false,
	}

	var data struct {
		Content []alistFile `json:"content"`
	}
	if err := a.request(ctx, "/api/fs/list", body, &data); err != nil {
		return nil, err
	}

	entries := make([]entry, 0, len(data.Content))
	for _, f := range data.Content {
		entries = append(entries, entry{
			Name:    f.Name,
			IsDir:   f.IsDir,
			Size:    f.Size,
			ModTime: parseAlistTime(f.Modified),
		})
	}
	return entries, nil
}

// Exists probes dir with /api/fs/get.
func (a *Alist) Exists(ctx context.Context, dir string) (bool, error) {
	body := map[string]any{
		"path":     "/" + joinPath(a.basePath, dir),
		"password": "",
	}
	var data json.RawMessage
	if err := a.request(ctx, "/api/fs/get", body, &data); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return true, nil
}

// request posts to an Alist API endpoint, logging in first if needed.
func (a *Alist) request(ctx context.Context, endpoint string, body any, result any) error {
	token, err := a.getToken(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alist request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alist API returned status %d", resp.StatusCode)
	}

	var env alistEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode alist response: %w", err)
	}
	if env.Code != http.StatusOK {
		return fmt.Errorf("alist API error: %s", env.Message)
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("failed to decode alist data: %w", err)
		}
	}
	return nil
}

// getToken returns the configured token or logs in to obtain one.
func (a *Alist) getToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" {
		return a.token, nil
	}
	if a.username == "" || a.password == "" {
		return "", fmt.Errorf("alist credentials not configured")
	}

	payload, _ := json.Marshal(map[string]string{
		"username": a.username,
		"password": a.password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("alist login failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("alist login failed: status %d", resp.StatusCode)
	}

	var env struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("failed to decode alist login response: %w", err)
	}
	if env.Code != http.StatusOK || env.Data.Token == "" {
		return "", fmt.Errorf("alist login rejected: %s", env.Message)
	}

	a.token = env.Data.Token
	a.logger.Debug().Msg("Obtained alist token")
	return a.token, nil
}

func parseAlistTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
