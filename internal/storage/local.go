package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/showgap/showgap/internal/config"
)

// Local lists files from a directory on the local filesystem.
type Local struct {
	root   string
	logger zerolog.Logger
}

// NewLocal creates a local filesystem backend rooted at cfg.Path.
func NewLocal(cfg config.LocalConfig, logger zerolog.Logger) *Local {
	return &Local{
		root:   cfg.Path,
		logger: logger.With().Str("component", "storage").Str("backend", "local").Logger(),
	}
}

func (l *Local) Kind() Kind { return KindLocal }

// List walks the tree under dir. Symlinked directories are followed at
// most once per resolved target so cycles cannot loop the walk.
func (l *Local) List(ctx context.Context, dir string) (*Listing, error) {
	start := filepath.Join(l.root, filepath.FromSlash(dir))

	info, err := os.Stat(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrBackendUnavailable, start)
	}

	out := &Listing{}
	seen := map[string]bool{}
	if resolved, err := filepath.EvalSymlinks(start); err == nil {
		seen[resolved] = true
	}

	l.walkDir(ctx, start, "", seen, out)
	return out, ctx.Err()
}

func (l *Local) walkDir(ctx context.Context, dir, rel string, seen map[string]bool, out *Listing) {
	if ctx.Err() != nil {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		out.Soft = append(out.Soft, SoftFailure{Path: rel, Err: err.Error()})
		return
	}

	for _, e := range entries {
		childPath := filepath.Join(dir, e.Name())
		childRel := e.Name()
		if rel != "" {
			childRel = rel + "/" + e.Name()
		}

		isDir := e.IsDir()
		if e.Type()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(childPath)
			if err != nil {
				out.Soft = append(out.Soft, SoftFailure{Path: childRel, Err: err.Error()})
				continue
			}
			target, err := os.Stat(resolved)
			if err != nil {
				out.Soft = append(out.Soft, SoftFailure{Path: childRel, Err: err.Error()})
				continue
			}
			if target.IsDir() {
				if seen[resolved] {
					l.logger.Debug().Str("path", childRel).Msg("Skipping already visited symlink target")
					continue
				}
				seen[resolved] = true
				isDir = true
				childPath = resolved
			} else {
				out.Files = append(out.Files, MediaFile{
					Path:    childRel,
					Backend: KindLocal,
					Size:    target.Size(),
					ModTime: target.ModTime(),
				})
				continue
			}
		}

		if isDir {
			l.walkDir(ctx, childPath, childRel, seen, out)
			continue
		}

		info, err := e.Info()
		if err != nil {
			info, err = os.Stat(childPath)
		}
		if err != nil {
			out.Soft = append(out.Soft, SoftFailure{Path: childRel, Err: err.Error()})
			continue
		}

		out.Files = append(out.Files, MediaFile{
			Path:    childRel,
			Backend: KindLocal,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
}

// Exists reports whether dir exists under the root.
func (l *Local) Exists(ctx context.Context, dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(l.root, filepath.FromSlash(dir)))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
