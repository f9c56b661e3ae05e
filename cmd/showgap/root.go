package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/showgap/showgap/internal/cache"
	"github.com/showgap/showgap/internal/config"
	"github.com/showgap/showgap/internal/logger"
	"github.com/showgap/showgap/internal/moviepilot"
	"github.com/showgap/showgap/internal/reconcile"
	"github.com/showgap/showgap/internal/report"
	"github.com/showgap/showgap/internal/scanner"
	"github.com/showgap/showgap/internal/storage"
	"github.com/showgap/showgap/internal/tmdb"
)

type rootFlags struct {
	configPath    string
	show          string
	storageType   string
	localPath     string
	rcloneRemote  string
	alistURL      string
	webdavURL     string
	forceCheckAll bool
	mergeCache    string
	download      bool
	noSubscribe   bool
	subscribeAll  bool
	threshold     int
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "showgap",
		Short: "Find missing TV episodes in a media library",
		Long: `showgap scans a media library on a local, rclone, Alist or WebDAV
backend, parses season and episode numbers out of file names, compares
the inventory against TMDB and reports every missing episode. Gaps can
optionally be subscribed or downloaded through MoviePilot.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&flags.show, "show", "", "only check shows matching this name")
	cmd.Flags().StringVar(&flags.storageType, "storage", "", "storage backend override (local, rclone, alist, webdav)")
	cmd.Flags().StringVar(&flags.localPath, "local-path", "", "local backend root override")
	cmd.Flags().StringVar(&flags.rcloneRemote, "rclone-remote", "", "rclone remote override, e.g. gdrive:media/tv")
	cmd.Flags().StringVar(&flags.alistURL, "alist-url", "", "alist server URL override")
	cmd.Flags().StringVar(&flags.webdavURL, "webdav-url", "", "webdav server URL override")
	cmd.Flags().BoolVar(&flags.forceCheckAll, "force-check-all", false, "recheck shows already verified in the cache")
	cmd.Flags().StringVar(&flags.mergeCache, "merge-cache", "", "merge an older cache file before the run")
	cmd.Flags().BoolVar(&flags.download, "download", false, "download individual missing episodes via MoviePilot")
	cmd.Flags().BoolVar(&flags.noSubscribe, "no-subscribe", false, "disable season subscriptions")
	cmd.Flags().BoolVar(&flags.subscribeAll, "subscribe-all", false, "subscribe every season with gaps regardless of the threshold")
	cmd.Flags().IntVar(&flags.threshold, "threshold", 0, "subscribe the whole season when more than this many episodes are missing (0 = always)")

	return cmd
}

func run(cmd *cobra.Command, flags *rootFlags) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging)
	defer log.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := storage.New(cfg.Storage, log.Logger)
	if err != nil {
		return err
	}

	catalog := tmdb.NewClient(cfg.TMDB, log.Logger)
	if !catalog.IsConfigured() {
		return fmt.Errorf("tmdb.api_key is not set (config file or SHOWGAP_TMDB_API_KEY)")
	}

	paths := cfg.Paths()
	store, err := cache.Open(paths.Cache, log.Logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flags.mergeCache != "" {
		merged, skipped, err := store.MergeLegacy(flags.mergeCache)
		if err != nil {
			return fmt.Errorf("merge cache %s: %w", flags.mergeCache, err)
		}
		fmt.Fprintf(out, "Merged %d records from %s (%d skipped)\n", merged, flags.mergeCache, skipped)
	}

	engine := reconcile.New(backend, catalog, store, log.Logger, reconcile.Options{
		ShowFilter:    flags.show,
		ForceCheckAll: flags.forceCheckAll,
		Concurrency:   cfg.Features.Concurrency,
		MaxShows:      cfg.Features.MaxShows,
		Extensions:    scanner.NewExtensionSet(cfg.Features.VideoExtensions),
	})

	// A cancelled run still returns the results of the shows that
	// finished; write the report for those before surfacing the error.
	result, runErr := engine.Run(ctx)
	if result == nil {
		return runErr
	}

	if err := report.Save(paths.Report, paths.Skipped, cfg.Storage.Type, result); err != nil {
		return err
	}

	fmt.Fprintf(out, "Checked %d shows, %d files: %d missing episodes\n",
		len(result.Shows), result.FilesListed, len(result.Missing))
	if unresolved := result.Unresolved(); len(unresolved) > 0 {
		fmt.Fprintf(out, "Unresolved shows: %d (see %s)\n", len(unresolved), paths.Report)
	}
	fmt.Fprintf(out, "Report saved to %s\n", paths.Report)
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, "Skipped %d unparsable files (see %s)\n", len(result.Skipped), paths.Skipped)
	}
	if runErr != nil {
		fmt.Fprintf(out, "Run interrupted, report covers %d finished shows\n", len(result.Shows))
		return runErr
	}

	return dispatch(ctx, cmd, flags, cfg, result, log)
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if cfg == nil {
		return nil, err
	}

	if flags.storageType != "" {
		cfg.Storage.Type = flags.storageType
	}
	if flags.localPath != "" {
		cfg.Storage.Local.Path = flags.localPath
	}
	if flags.rcloneRemote != "" {
		cfg.Storage.Rclone.Remote = flags.rcloneRemote
	}
	if flags.alistURL != "" {
		cfg.Storage.Alist.URL = flags.alistURL
	}
	if flags.webdavURL != "" {
		cfg.Storage.WebDAV.URL = flags.webdavURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if flags.noSubscribe {
		cfg.MoviePilot.AutoSubscribe = false
	}
	if flags.download {
		cfg.MoviePilot.AutoDownload = true
	}
	if flags.subscribeAll {
		cfg.MoviePilot.SubscribeThreshold = 0
	} else if cmd.Flags().Changed("threshold") {
		cfg.MoviePilot.SubscribeThreshold = flags.threshold
	}
	return cfg, nil
}

// dispatch hands a run's gaps to MoviePilot when automation is enabled.
func dispatch(ctx context.Context, cmd *cobra.Command, flags *rootFlags, cfg *config.Config, result *reconcile.Result, log *logger.Logger) error {
	if len(result.Missing) == 0 {
		return nil
	}
	if !cfg.MoviePilot.AutoSubscribe && !cfg.MoviePilot.AutoDownload {
		return nil
	}

	client := moviepilot.NewClient(cfg.MoviePilot, log.Logger)
	if !client.IsConfigured() {
		log.Warn().Msg("MoviePilot automation enabled but server is not configured, skipping dispatch")
		return nil
	}

	policy := reconcile.Policy{
		Subscribe:    cfg.MoviePilot.AutoSubscribe,
		Download:     cfg.MoviePilot.AutoDownload,
		SubscribeAll: flags.subscribeAll,
		Threshold:    cfg.MoviePilot.SubscribeThreshold,
	}
	decisions := policy.Decide(result.Missing)
	if len(decisions) == 0 {
		return nil
	}

	applied, failed := reconcile.Apply(ctx, client, decisions, log.Logger)
	fmt.Fprintf(cmd.OutOrStdout(), "MoviePilot: %d actions dispatched, %d failed\n", applied, failed)
	return nil
}
