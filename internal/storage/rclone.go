package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/showgap/showgap/internal/config"
)

// Rclone lists files from any rclone remote by shelling out to the
// rclone binary, which must be on PATH.
type Rclone struct {
	remote string
	logger zerolog.Logger

	// runCommand is swappable for tests.
	runCommand func(ctx context.Context, args ...string) ([]byte, error)
}

// NewRclone creates a backend for the remote path in cfg, e.g. "gdrive:media/tv".
func NewRclone(cfg config.RcloneConfig, logger zerolog.Logger) *Rclone {
	r := &Rclone{
		remote: strings.TrimRight(cfg.Remote, "/"),
		logger: logger.With().Str("component", "storage").Str("backend", "rclone").Logger(),
	}
	r.runCommand = r.execRclone
	return r
}

func (r *Rclone) Kind() Kind { return KindRclone }

// rcloneItem mirrors one element of rclone lsjson output.
type rcloneItem struct {
	Path    string `json:"Path"`
	Name    string `json:"Name"`
	Size    int64  `json:"Size"`
	ModTime string `json:"ModTime"`
	IsDir   bool   `json:"IsDir"`
}

// List lists dir recursively via one "rclone lsjson" call per directory,
// so an unreadable subtree is skipped instead of failing the whole scan.
func (r *Rclone) List(ctx context.Context, dir string) (*Listing, error) {
	return walk(ctx, dir, KindRclone, r.listDir)
}

func (r *Rclone) listDir(ctx context.Context, dir string) ([]entry, error) {
	out, err := r.runCommand(ctx, "lsjson", joinPath(r.remote, dir))
	if err != nil {
		return nil, err
	}

	items, err := parseLsjson(out)
	if err != nil {
		return nil, err
	}

	entries := make([]entry, 0, len(items))
	for _, it := range items {
		entries = append(entries, entry{
			Name:    it.Path,
			IsDir:   it.IsDir,
			Size:    it.Size,
			ModTime: parseRcloneTime(it.ModTime),
		})
	}
	return entries, nil
}

// Exists probes dir with "rclone lsjson --stat".
func (r *Rclone) Exists(ctx context.Context, dir string) (bool, error) {
	_, err := r.runCommand(ctx, "lsjson", "--stat", joinPath(r.remote, dir))
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return true, nil
}

func (r *Rclone) execRclone(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "rclone", args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("rclone %s: %s", args[0], msg)
	}
	return out, nil
}

func parseLsjson(data []byte) ([]rcloneItem, error) {
	var items []rcloneItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode rclone lsjson output: %w", err)
	}
	return items, nil
}

func parseRcloneTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
