// Package report renders a run's results into the per-library report
// and skipped-files log. Output order follows the engine's canonical
// sort so reports from identical libraries are byte-for-byte diffable.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/showgap/showgap/internal/reconcile"
)

// WriteMissing renders the missing-episode report.
func WriteMissing(w io.Writer, storageType string, result *reconcile.Result) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Missing episode report (storage: %s)\n", storageType)
	b.WriteString("===============================\n")
	fmt.Fprintf(&b, "Run %s at %s\n", result.RunID, result.StartedAt.Format("2006-01-02 15:04:05"))

	if len(result.Missing) == 0 {
		b.WriteString("\nNo missing episodes.\n")
	} else {
		b.WriteString("\nMissing episodes\n-----------------\n")
		for _, show := range result.Shows {
			if len(show.Missing) == 0 {
				continue
			}
			fmt.Fprintf(&b, "\n[%s] - %s [TMDB ID: %d]\n", show.Show, show.CanonicalName, show.TMDBID)
			for season, episodes := range groupBySeason(show.Missing) {
				fmt.Fprintf(&b, "  Season %d: missing %s\n", season, formatEpisodes(episodes))
			}
		}
	}

	if unresolved := result.Unresolved(); len(unresolved) > 0 {
		b.WriteString("\nUnresolved shows\n-----------------\n")
		for _, name := range unresolved {
			fmt.Fprintf(&b, "  %s\n", name)
		}
	}

	fmt.Fprintf(&b, "\nFiles listed: %d, parsed: %d, skipped: %d, shows checked: %d, missing episodes: %d\n",
		result.FilesListed, result.FilesParsed, len(result.Skipped), len(result.Shows), len(result.Missing))

	_, err := io.WriteString(w, b.String())
	return err
}

// groupBySeason returns season numbers in the order the sorted missing
// slice visits them, with their episode lists.
func groupBySeason(missing []reconcile.MissingEpisode) func(func(int, []int) bool) {
	return func(yield func(int, []int) bool) {
		for i := 0; i < len(missing); {
			season := missing[i].Season
			var episodes []int
			for i < len(missing) && missing[i].Season == season {
				episodes = append(episodes, missing[i].Episode)
				i++
			}
			if !yield(season, episodes) {
				return
			}
		}
	}
}

func formatEpisodes(episodes []int) string {
	parts := make([]string, len(episodes))
	for i, ep := range episodes {
		parts[i] = fmt.Sprintf("E%02d", ep)
	}
	return strings.Join(parts, ", ")
}

// WriteSkipped renders the skipped-files log, one path per line.
func WriteSkipped(w io.Writer, result *reconcile.Result) error {
	var b strings.Builder
	for _, path := range result.Skipped {
		b.WriteString(path)
		b.WriteByte('\n')
	}
	for _, soft := range result.SoftFailures {
		fmt.Fprintf(&b, "%s\t(list failed: %v)\n", soft.Path, soft.Err)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Save writes both outputs to their per-library files. The skipped log
// is only written when there is something to record.
func Save(reportPath, skippedPath, storageType string, result *reconcile.Result) error {
	f, err := os.Create(reportPath)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()
	if err := WriteMissing(f, storageType, result); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if len(result.Skipped) == 0 && len(result.SoftFailures) == 0 {
		os.Remove(skippedPath)
		return nil
	}
	sf, err := os.Create(skippedPath)
	if err != nil {
		return fmt.Errorf("failed to create skipped log: %w", err)
	}
	defer sf.Close()
	if err := WriteSkipped(sf, result); err != nil {
		return fmt.Errorf("failed to write skipped log: %w", err)
	}
	return nil
}
