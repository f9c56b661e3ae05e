package scanner

import (
	"path/filepath"
	"strings"
)

// DefaultVideoExtensions contains the video file extensions recognized
// when the config does not override them.
var DefaultVideoExtensions = []string{
	".mkv", ".mp4", ".avi", ".m4v", ".ts", ".wmv", ".mov",
	".webm", ".flv", ".mpg", ".mpeg", ".m2ts", ".vob", ".iso",
	".rmvb", ".strm",
}

// SampleFileIndicators are substrings that mark a file as a sample.
var SampleFileIndicators = []string{
	"sample",
	"trailer",
	"proof",
}

// ExtensionSet is a lowercase extension lookup built from config.
type ExtensionSet map[string]bool

// NewExtensionSet builds an ExtensionSet; an empty list yields the defaults.
func NewExtensionSet(exts []string) ExtensionSet {
	if len(exts) == 0 {
		exts = DefaultVideoExtensions
	}
	set := make(ExtensionSet, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}

// IsVideo checks if a filename has a recognized video extension.
func (s ExtensionSet) IsVideo(filename string) bool {
	return s[strings.ToLower(filepath.Ext(filename))]
}

// IsSampleFile checks if a filename indicates a sample file.
func IsSampleFile(filename string) bool {
	lower := strings.ToLower(filename)
	for _, indicator := range SampleFileIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
