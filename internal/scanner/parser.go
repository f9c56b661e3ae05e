// Package scanner turns raw library paths into structured episode
// identities. Parsing never reads file content, only path text.
package scanner

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/moistari/rls"
)

// ParsedEpisode is a season/episode candidate extracted from one path.
// For date-named files (daily shows) Season and Episode are zero and
// AirDate carries the identity instead; the engine resolves it against
// the catalog's air-date map.
type ParsedEpisode struct {
	ShowGuess  string    `json:"showGuess"`
	Season     int       `json:"season"`
	Episode    int       `json:"episode"`
	AirDate    time.Time `json:"airDate,omitzero"`
	SourcePath string    `json:"sourcePath"`
}

// ByAirDate reports whether the identity must be resolved by air date.
func (p ParsedEpisode) ByAirDate() bool {
	return p.Season == 0 && !p.AirDate.IsZero()
}

// The matcher priority list is fixed so parse results never depend on
// registration or map iteration order. Earlier entries win.
//
//  1. SxxEyy
//  2. Season X ... Episode Y spelled out
//  3. NxM
//  4. CJK 第N季...第M集
//  5. air date YYYY.MM.DD
//  6. combined digits (101 = S01E01) bounded by separators
//
// When none match, episode-only patterns apply if the parent directory
// names a season, and finally a generic release-name parse.
var pairMatchers = []struct {
	name string
	re   *regexp.Regexp
}{
	{"sxxeyy", regexp.MustCompile(`(?i)s(\d{1,2})[\s._-]?e(\d{1,3})`)},
	{"spelled", regexp.MustCompile(`(?i)season[\s._-]*(\d{1,2}).{0,40}?episode[\s._-]*(\d{1,3})`)},
	{"nxm", regexp.MustCompile(`(?i)(?:^|[\s._\-\[(])(\d{1,2})x(\d{2,3})(?:$|[\s._\-\])])`)},
	{"cjk", regexp.MustCompile(`第(\d{1,2})季.{0,20}?第(\d{1,3})集`)},
}

var dateMatcher = regexp.MustCompile(`(?:^|[\s._-])(\d{4})[\s._-](\d{2})[\s._-](\d{2})(?:$|[\s._-])`)

var combinedMatcher = regexp.MustCompile(`(?:^|[\s._-])(\d{1,2})(\d{2})(?:$|[\s._-])`)

var episodeOnlyMatchers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bep?[\s._-]?(\d{1,3})\b`),
	regexp.MustCompile(`(?i)episode[\s._-]*(\d{1,3})`),
	regexp.MustCompile(`第(\d{1,3})集`),
	regexp.MustCompile(`(?:^|[\s._-])(\d{1,3})(?:$|[\s._-])`),
}

var seasonDirMatchers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)season[\s._-]*(\d{1,2})`),
	regexp.MustCompile(`(?i)^s(\d{1,2})$`),
	regexp.MustCompile(`第(\d{1,2})季`),
}

var (
	yearTagPattern = regexp.MustCompile(`\s*\((\d{4})\)\s*`)
	bracketPattern = regexp.MustCompile(`\s*[\[{][^\]}]*[\]}]\s*`)
	separatorRun   = regexp.MustCompile(`[\s._-]+`)
)

// Parse extracts an episode identity from a slash-separated relative
// path. The second return is false when no matcher succeeded; callers
// route such paths to the skipped-files report.
func Parse(relPath string) (ParsedEpisode, bool) {
	filename := path.Base(relPath)
	name := strings.TrimSuffix(filename, path.Ext(filename))

	parsed := ParsedEpisode{
		ShowGuess:  ShowGuess(relPath),
		SourcePath: relPath,
	}

	for _, m := range pairMatchers {
		if match := m.re.FindStringSubmatch(name); match != nil {
			parsed.Season, _ = strconv.Atoi(match[1])
			parsed.Episode, _ = strconv.Atoi(match[2])
			if parsed.Season > 0 && parsed.Episode > 0 {
				return parsed, true
			}
			parsed.Season, parsed.Episode = 0, 0
		}
	}

	if match := dateMatcher.FindStringSubmatch(name); match != nil {
		year, _ := strconv.Atoi(match[1])
		month, _ := strconv.Atoi(match[2])
		day, _ := strconv.Atoi(match[3])
		if year >= 1950 && month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			parsed.AirDate = time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
			return parsed, true
		}
	}

	if match := combinedMatcher.FindStringSubmatch(name); match != nil {
		season, _ := strconv.Atoi(match[1])
		episode, _ := strconv.Atoi(match[2])
		combined := season*100 + episode
		// 4-digit runs in the plausible year range are years, not S/E.
		if season > 0 && episode > 0 && (combined < 1900 || combined > 2100) {
			parsed.Season = season
			parsed.Episode = episode
			return parsed, true
		}
	}

	if season, ok := SeasonFromDirname(path.Base(path.Dir(relPath))); ok {
		for _, re := range episodeOnlyMatchers {
			if match := re.FindStringSubmatch(name); match != nil {
				episode, _ := strconv.Atoi(match[1])
				if episode > 0 {
					parsed.Season = season
					parsed.Episode = episode
					return parsed, true
				}
			}
		}
	}

	// Terminal fallback: generic release-name parse.
	if r := rls.ParseString(name); r.Series > 0 && r.Episode > 0 {
		parsed.Season = r.Series
		parsed.Episode = r.Episode
		return parsed, true
	}

	return ParsedEpisode{SourcePath: relPath, ShowGuess: parsed.ShowGuess}, false
}

// SeasonFromDirname extracts a season number from a directory name.
func SeasonFromDirname(dirname string) (int, bool) {
	trimmed := strings.TrimSpace(dirname)
	for _, re := range seasonDirMatchers {
		if match := re.FindStringSubmatch(trimmed); match != nil {
			season, err := strconv.Atoi(match[1])
			if err == nil && season > 0 {
				return season, true
			}
		}
	}
	return 0, false
}

// ShowGuess returns the topmost directory component of a relative path,
// which names the show in the library layouts this tool scans. A bare
// filename yields its cleaned title instead.
func ShowGuess(relPath string) string {
	relPath = strings.Trim(relPath, "/")
	if i := strings.Index(relPath, "/"); i > 0 {
		return relPath[:i]
	}
	name := strings.TrimSuffix(relPath, path.Ext(relPath))
	title, _ := CleanTitle(name)
	if title == "" {
		return name
	}
	return title
}

// CleanTitle strips a trailing year tag and bracketed metadata from a
// show directory name, returning the query title and the year hint.
// "Gotham (2014) [1080p]" becomes ("Gotham", 2014).
func CleanTitle(name string) (string, int) {
	year := 0
	if match := yearTagPattern.FindStringSubmatch(name); match != nil {
		year, _ = strconv.Atoi(match[1])
		name = yearTagPattern.ReplaceAllString(name, " ")
	}
	name = bracketPattern.ReplaceAllString(name, " ")
	name = separatorRun.ReplaceAllString(name, " ")
	return strings.TrimSpace(name), year
}
