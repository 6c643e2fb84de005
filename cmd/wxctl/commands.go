package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wxdecoder/wxdecoder/internal/airports"
	"github.com/wxdecoder/wxdecoder/internal/config"
	"github.com/wxdecoder/wxdecoder/internal/maintenance"
	"github.com/wxdecoder/wxdecoder/internal/physics"
	"github.com/wxdecoder/wxdecoder/internal/settings"
	"github.com/wxdecoder/wxdecoder/internal/stations"
	"github.com/wxdecoder/wxdecoder/internal/storage/sqlite"
	"github.com/wxdecoder/wxdecoder/internal/weather"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "wxctl",
		Short:         "WxDecoder operator tool",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level")

	root.AddCommand(
		newCrosswindCommand(),
		newResolveCommand(opts),
		newSweepCommand(opts),
		newLogsCommand(opts),
		newSettingsCommand(opts),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadWithFallback(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Format: "console"})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// --- crosswind ---

type crosswindOptions struct {
	runway    float64
	windDir   int
	windSpeed int
	gust      int
	size      string
	limit     int
}

func newCrosswindCommand() *cobra.Command {
	opts := &crosswindOptions{}
	cmd := &cobra.Command{
		Use:   "crosswind",
		Short: "Compute the crosswind component for one runway",
		Example: "  wxctl crosswind --runway 280 --wind-dir 310 --wind-speed 20\n" +
			"  wxctl crosswind --runway 330 --wind-dir 270 --wind-speed 12 --gust 22 --size medium",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrosswind(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().Float64Var(&opts.runway, "runway", 0, "Runway magnetic heading in degrees")
	cmd.Flags().IntVar(&opts.windDir, "wind-dir", 0, "Wind direction in degrees")
	cmd.Flags().IntVar(&opts.windSpeed, "wind-speed", 0, "Sustained wind speed in knots")
	cmd.Flags().IntVar(&opts.gust, "gust", 0, "Gust speed in knots")
	cmd.Flags().StringVar(&opts.size, "size", "small", "Aircraft size or type")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Crosswind limit override in knots")
	_ = cmd.MarkFlagRequired("runway")
	_ = cmd.MarkFlagRequired("wind-speed")
	return cmd
}

func runCrosswind(w io.Writer, opts *crosswindOptions) error {
	if opts.windSpeed < 0 || opts.gust < 0 {
		return fmt.Errorf("wind speeds must not be negative")
	}
	profile := physics.ProfileFor(physics.CategoryFor(opts.size), opts.limit)
	wind := &physics.Wind{Direction: opts.windDir, Speed: opts.windSpeed, Gust: opts.gust}
	res := physics.Evaluate(wind, []physics.Runway{{Label: "RWY", Heading: opts.runway}}, profile.CrosswindLimit, 0)

	fmt.Fprintf(w, "Profile:   %s (limit %d kts)\n", profile.Label, profile.CrosswindLimit)
	fmt.Fprintf(w, "Crosswind: %d kts\n", res.Crosswind)
	fmt.Fprintf(w, "Headwind:  %d kts\n", res.Headwind)
	fmt.Fprintf(w, "Status:    %s\n", res.Status)
	return nil
}

// --- resolve ---

func newResolveCommand(root *rootOptions) *cobra.Command {
	var fallback bool
	cmd := &cobra.Command{
		Use:   "resolve <code>",
		Short: "Normalize an airport identifier and optionally find a nearby reporting station",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			dir, err := airports.Load(cfg.Airports.AirportsDBPath, cfg.Airports.RunwaysDBPath, log)
			if err != nil {
				return err
			}
			wx := weather.NewClient(cfg.Weather, log)
			dir.SetRemoteLookup(wx)

			var resolver *stations.Resolver
			if fallback {
				resolver = stations.NewResolver(dir, wx, cfg.Fallback, log)
			}
			return runResolve(cmd.Context(), cmd.OutOrStdout(), dir, resolver, args[0])
		},
	}
	cmd.Flags().BoolVar(&fallback, "fallback", false, "Search for the nearest station with weather (queries the upstream)")
	return cmd
}

func runResolve(ctx context.Context, w io.Writer, dir *airports.Directory, resolver *stations.Resolver, input string) error {
	res, err := dir.Normalize(ctx, input)
	if err != nil {
		return err
	}

	name := res.Code
	if res.Airport != nil {
		name = res.Airport.Name
	}
	fmt.Fprintf(w, "Input:     %s\n", res.Input)
	fmt.Fprintf(w, "Code:      %s\n", res.Code)
	fmt.Fprintf(w, "Display:   %s\n", res.DisplayCode())
	fmt.Fprintf(w, "Name:      %s\n", name)
	fmt.Fprintf(w, "Remote:    %t\n", res.Remote)
	if res.Airport != nil {
		fmt.Fprintf(w, "Runways:   %d ends\n", len(res.Airport.Runways))
	}

	if resolver == nil || res.Airport == nil {
		return nil
	}
	fb, ok, err := resolver.FindFallbackNear(ctx, res.Airport)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(w, "Fallback:  none within range")
		return nil
	}
	fmt.Fprintf(w, "Fallback:  %s (%s) %.1f NM, %d candidates\n", fb.Station, fb.Name, fb.DistanceNM, fb.Candidates)
	return nil
}

// --- sweep ---

func newSweepCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Purge expired cache rows and logs past retention once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := sqlite.Open(cfg.Storage.SQLitePath, log)
			if err != nil {
				return err
			}
			defer db.Close()

			ttl := time.Duration(cfg.Cache.DefaultTTLMinutes) * time.Minute
			cacheStore := sqlite.NewCacheStorage(db, log)
			svc := maintenance.NewService(cfg.Maintenance, cacheStore, sqlite.NewLogStorage(db, log), nil, nil,
				func() time.Duration { return ttl }, log)
			return runSweep(cmd.Context(), cmd.OutOrStdout(), svc, cacheStore)
		},
	}
}

type cacheCounter interface {
	CountCache(ctx context.Context) (int, error)
}

func runSweep(ctx context.Context, w io.Writer, svc *maintenance.Service, counter cacheCounter) error {
	res := svc.Sweep(ctx)
	fmt.Fprintf(w, "Deleted %d cache rows and %d log rows\n", res.CacheRows, res.LogRows)
	remaining, err := counter.CountCache(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Cache rows remaining: %d\n", remaining)
	return nil
}

// --- logs ---

func newLogsCommand(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the most recent request logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := sqlite.Open(cfg.Storage.SQLitePath, log)
			if err != nil {
				return err
			}
			defer db.Close()

			logs, err := sqlite.NewLogStorage(db, log).RecentLogs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printLogs(cmd.OutOrStdout(), logs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of rows")
	return cmd
}

func printLogs(w io.Writer, logs []*sqlite.LogRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tINPUT\tRESOLVED\tWX\tPROFILE\tSTATUS\tDURATION\tTOKENS")
	for _, r := range logs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.2fs\t%d\n",
			r.Timestamp.Format(time.RFC3339), r.InputICAO, r.ResolvedICAO, r.WeatherICAO,
			r.PlaneProfile, r.Status, r.DurationSeconds, r.TokensUsed)
	}
	return tw.Flush()
}

// --- settings ---

func newSettingsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or change runtime settings",
	}

	open := func() (*settings.Service, *sqlite.SettingsStorage, func(), error) {
		cfg, log, err := root.load()
		if err != nil {
			return nil, nil, nil, err
		}
		db, err := sqlite.Open(cfg.Storage.SQLitePath, log)
		if err != nil {
			return nil, nil, nil, err
		}
		store := sqlite.NewSettingsStorage(db, log)
		svc := settings.NewService(store, settings.Defaults{}, time.Second, log)
		return svc, store, func() { db.Close(); log.Sync() }, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print stored settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, closeFn, err := open()
			if err != nil {
				return err
			}
			defer closeFn()
			raw, err := store.AllSettings(cmd.Context())
			if err != nil {
				return err
			}
			return printSettings(cmd.OutOrStdout(), raw)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Write a runtime setting; running servers pick it up on their next refresh",
		Example: "  wxctl settings set global_pause true\n  wxctl settings set crosswind_limit_small 12",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, closeFn, err := open()
			if err != nil {
				return err
			}
			defer closeFn()
			return runSettingsSet(cmd.Context(), cmd.OutOrStdout(), svc, args[0], args[1])
		},
	})
	return cmd
}

type settingsWriter interface {
	Set(ctx context.Context, key, value string) error
}

func runSettingsSet(ctx context.Context, w io.Writer, svc settingsWriter, key, value string) error {
	if !settings.KnownKey(key) {
		return fmt.Errorf("unknown setting %q", key)
	}
	if err := svc.Set(ctx, key, value); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s = %s\n", key, value)
	return nil
}

func printSettings(w io.Writer, raw map[string]string) error {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\n", k, raw[k])
	}
	return tw.Flush()
}
