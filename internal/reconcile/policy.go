package reconcile

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
)

// Action is what the policy decided to do about one season's gaps.
type Action int

const (
	ActionNone Action = iota
	ActionSubscribe
	ActionDownload
)

func (a Action) String() string {
	switch a {
	case ActionSubscribe:
		return "subscribe"
	case ActionDownload:
		return "download"
	default:
		return "none"
	}
}

// Decision is one season-level instruction for the dispatcher.
type Decision struct {
	Show     string
	TMDBID   int
	Season   int
	Action   Action
	Episodes []int
}

// Dispatcher hands decisions to an automation downstream. The
// MoviePilot client implements it.
type Dispatcher interface {
	Subscribe(ctx context.Context, show string, tmdbID, season int) error
	Download(ctx context.Context, show string, tmdbID, season int, episodes []int) error
}

// Policy decides, per season with missing episodes, whether to
// subscribe the whole season or download the individual episodes.
type Policy struct {
	// Subscribe enables season subscriptions.
	Subscribe bool
	// Download enables per-episode downloads when the season is not
	// subscribed.
	Download bool
	// SubscribeAll subscribes every season with gaps regardless of the
	// threshold.
	SubscribeAll bool
	// Threshold is the missing-episode count above which a season is
	// subscribed rather than downloaded. Zero means always subscribe.
	Threshold int
}

// Decide turns a run's missing episodes into season-level decisions,
// in canonical order.
func (p Policy) Decide(missing []MissingEpisode) []Decision {
	if !p.Subscribe && !p.Download {
		return nil
	}

	type seasonKey struct {
		show   string
		season int
	}
	bySeason := make(map[seasonKey]*Decision)
	var order []seasonKey
	for _, m := range missing {
		key := seasonKey{show: m.Show, season: m.Season}
		d := bySeason[key]
		if d == nil {
			d = &Decision{Show: m.Show, TMDBID: m.TMDBID, Season: m.Season}
			bySeason[key] = d
			order = append(order, key)
		}
		d.Episodes = append(d.Episodes, m.Episode)
	}

	var out []Decision
	for _, key := range order {
		d := bySeason[key]
		sort.Ints(d.Episodes)
		switch {
		case p.Subscribe && (p.SubscribeAll || p.Threshold == 0 || len(d.Episodes) > p.Threshold):
			d.Action = ActionSubscribe
		case p.Download:
			d.Action = ActionDownload
		default:
			continue
		}
		out = append(out, *d)
	}
	return out
}

// Apply sends each decision to the dispatcher. Failures are logged and
// counted, never fatal.
func Apply(ctx context.Context, d Dispatcher, decisions []Decision, logger zerolog.Logger) (applied, failed int) {
	log := logger.With().Str("component", "dispatch").Logger()
	for _, dec := range decisions {
		var err error
		switch dec.Action {
		case ActionSubscribe:
			err = d.Subscribe(ctx, dec.Show, dec.TMDBID, dec.Season)
		case ActionDownload:
			err = d.Download(ctx, dec.Show, dec.TMDBID, dec.Season, dec.Episodes)
		default:
			continue
		}
		if err != nil {
			failed++
			log.Warn().Err(err).Str("show", dec.Show).Int("season", dec.Season).Str("action", dec.Action.String()).Msg("Dispatch failed")
			continue
		}
		applied++
		log.Info().Str("show", dec.Show).Int("season", dec.Season).Int("episodes", len(dec.Episodes)).Str("action", dec.Action.String()).Msg("Dispatched")
	}
	return applied, failed
}
