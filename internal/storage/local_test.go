package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/rs/zerolog"

	"github.com/showgap/showgap/internal/config"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func listedPaths(l *Listing) []string {
	paths := make([]string, 0, len(l.Files))
	for _, f := range l.Files {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	return paths
}

func TestLocalList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Show", "Season 1", "Show.S01E01.mkv"))
	writeFile(t, filepath.Join(root, "Show", "Season 1", "Show.S01E02.mkv"))
	writeFile(t, filepath.Join(root, "Other", "Other.S01E01.mkv"))

	backend := NewLocal(config.LocalConfig{Path: root}, zerolog.Nop())
	listing, err := backend.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	want := []string{
		"Other/Other.S01E01.mkv",
		"Show/Season 1/Show.S01E01.mkv",
		"Show/Season 1/Show.S01E02.mkv",
	}
	got := listedPaths(listing)
	if len(got) != len(want) {
		t.Fatalf("paths = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	for _, f := range listing.Files {
		if f.Backend != KindLocal {
			t.Errorf("backend = %q, want local", f.Backend)
		}
		if f.ModTime.IsZero() {
			t.Errorf("%s has zero mod time", f.Path)
		}
	}
}

func TestLocalListSubdir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Show", "Season 1", "e1.mkv"))

	backend := NewLocal(config.LocalConfig{Path: root}, zerolog.Nop())
	listing, err := backend.List(context.Background(), "Show")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listing.Files) != 1 || listing.Files[0].Path != "Season 1/e1.mkv" {
		t.Errorf("files = %+v", listing.Files)
	}
}

func TestLocalListMissingRoot(t *testing.T) {
	backend := NewLocal(config.LocalConfig{Path: filepath.Join(t.TempDir(), "nope")}, zerolog.Nop())
	_, err := backend.List(context.Background(), "")
	if err == nil {
		t.Fatal("expected error for missing root")
	}
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("err = %v, want ErrBackendUnavailable", err)
	}
}

func TestLocalSymlinkCycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks not reliable on windows")
	}

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Show", "e1.mkv"))
	// Loop back into the root from inside the tree.
	if err := os.Symlink(root, filepath.Join(root, "Show", "loop")); err != nil {
		t.Fatal(err)
	}

	backend := NewLocal(config.LocalConfig{Path: root}, zerolog.Nop())
	listing, err := backend.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listing.Files) != 1 {
		t.Errorf("files = %v, want the one real file", listedPaths(listing))
	}
}

func TestLocalSymlinkedFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks not reliable on windows")
	}

	root := t.TempDir()
	target := filepath.Join(t.TempDir(), "real.mkv")
	writeFile(t, target)
	if err := os.MkdirAll(filepath.Join(root, "Show"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(root, "Show", "e1.mkv")); err != nil {
		t.Fatal(err)
	}

	backend := NewLocal(config.LocalConfig{Path: root}, zerolog.Nop())
	listing, err := backend.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listing.Files) != 1 || listing.Files[0].Path != "Show/e1.mkv" {
		t.Errorf("files = %+v", listing.Files)
	}
}

func TestLocalExists(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Show", "e1.mkv"))

	backend := NewLocal(config.LocalConfig{Path: root}, zerolog.Nop())
	if ok, err := backend.Exists(context.Background(), "Show"); err != nil || !ok {
		t.Errorf("Exists(Show) = %v, %v", ok, err)
	}
	if ok, err := backend.Exists(context.Background(), "Nope"); err != nil || ok {
		t.Errorf("Exists(Nope) = %v, %v", ok, err)
	}
}
