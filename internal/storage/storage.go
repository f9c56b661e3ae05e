// Package storage provides a uniform recursive file-listing abstraction
// over the supported library transports: rclone remotes, Alist servers,
// WebDAV shares and the local filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/showgap/showgap/internal/config"
)

// Kind identifies a storage transport.
type Kind string

const (
	KindRclone Kind = "rclone"
	KindAlist  Kind = "alist"
	KindWebDAV Kind = "webdav"
	KindLocal  Kind = "local"
)

// ErrBackendUnavailable means the configured root itself could not be
// reached. It is fatal for a run; per-entry failures are not.
var ErrBackendUnavailable = errors.New("storage backend unavailable")

// MediaFile is a file discovered under the library root. Paths are
// always forward-slash separated and relative to the listed directory,
// so downstream parsing is backend-agnostic.
type MediaFile struct {
	Path    string
	Backend Kind
	Size    int64
	ModTime time.Time
}

// SoftFailure records a per-entry transport error that was skipped
// without aborting the listing.
type SoftFailure struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Listing is the result of a recursive List.
type Listing struct {
	Files []MediaFile
	Soft  []SoftFailure
}

// Backend is the capability set shared by all storage transports.
type Backend interface {
	Kind() Kind

	// List recursively lists all files under dir, relative to the
	// configured root (empty dir = the root itself). Unreachable
	// subtrees are recorded as soft failures and skipped; an
	// unreachable root returns ErrBackendUnavailable.
	List(ctx context.Context, dir string) (*Listing, error)

	// Exists reports whether dir exists under the configured root.
	Exists(ctx context.Context, dir string) (bool, error)
}

// New builds the backend selected by cfg.Type.
func New(cfg config.StorageConfig, logger zerolog.Logger) (Backend, error) {
	switch Kind(cfg.Type) {
	case KindRclone:
		return NewRclone(cfg.Rclone, logger), nil
	case KindAlist:
		return NewAlist(cfg.Alist, logger), nil
	case KindWebDAV:
		return NewWebDAV(cfg.WebDAV, logger), nil
	case KindLocal:
		return NewLocal(cfg.Local, logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

// entry is one item returned by a backend's directory lister.
type entry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// listDirFunc lists the immediate children of one directory.
type listDirFunc func(ctx context.Context, dir string) ([]entry, error)

// walk drives the shared recursion for the remote backends. The root
// listing must succeed; deeper listings that fail become soft failures.
func walk(ctx context.Context, root string, kind Kind, listDir listDirFunc) (*Listing, error) {
	out := &Listing{}

	rootEntries, err := listDir(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	type frame struct {
		dir     string // backend path to list
		rel     string // slash-relative path accumulated so far
		entries []entry
	}

	stack := []frame{{dir: root, entries: rootEntries}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, e := range f.entries {
			if err := ctx.Err(); err != nil {
				return out, err
			}

			rel := e.Name
			if f.rel != "" {
				rel = f.rel + "/" + e.Name
			}

			if !e.IsDir {
				out.Files = append(out.Files, MediaFile{
					Path:    rel,
					Backend: kind,
					Size:    e.Size,
					ModTime: e.ModTime,
				})
				continue
			}

			sub := e.Name
			if f.dir != "" {
				sub = f.dir + "/" + e.Name
			}
			children, err := listDir(ctx, sub)
			if err != nil {
				out.Soft = append(out.Soft, SoftFailure{Path: rel, Err: err.Error()})
				continue
			}
			stack = append(stack, frame{dir: sub, rel: rel, entries: children})
		}
	}

	return out, nil
}

// joinPath joins slash paths, tolerating empty components.
func joinPath(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out == "" {
			out = p
		} else {
			out = out + "/" + p
		}
	}
	return out
}
