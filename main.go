// Command digiskimmer records receiver audio on a band-hop schedule, decodes
// each segment with the external weak-signal decoders and uploads the
// resulting spots per station.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"digiskimmer/archive"
	"digiskimmer/cluster"
	"digiskimmer/config"
	"digiskimmer/decoder"
	"digiskimmer/extparser"
	"digiskimmer/kiwi"
	"digiskimmer/profile"
	"digiskimmer/skimmer"
	"digiskimmer/station"
	"digiskimmer/stats"
	"digiskimmer/upload"
)

const (
	envConfigPath     = "DIGISKR_CONFIG"
	defaultConfigPath = "settings.yaml"

	statsLogInterval = 5 * time.Minute
	shutdownTimeout  = 90 * time.Second
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "digiskimmer",
	Short:         "Band-hopping weak-signal skimmer and spot uploader",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          func(cmd *cobra.Command, args []string) error { return runDaemon(cmd.Context()) },
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (default $"+envConfigPath+" or "+defaultConfigPath+")")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start recording, decoding and uploading",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return runDaemon(cmd.Context()) },
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Validate and print the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			cfg.Print()
			return nil
		},
	})
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Ignoring .env: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "digiskimmer: %v\n", err)
		os.Exit(1)
	}
}

// Purpose: Resolve and load the configuration file.
// Key aspects: An explicit path must exist; otherwise the env override is
// tried before the default path, skipping candidates that do not exist.
// Upstream: runDaemon and the helper subcommands.
// Downstream: config.Load and Config.Validate.
func loadConfig(explicit string) (*config.Config, string, error) {
	var candidates []string
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		candidates = append(candidates, explicit)
	} else {
		if envPath := strings.TrimSpace(os.Getenv(envConfigPath)); envPath != "" {
			candidates = append(candidates, envPath)
		}
		candidates = append(candidates, defaultConfigPath)
	}

	var lastErr error
	for _, path := range candidates {
		cfg, err := config.Load(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && explicit == "" {
				lastErr = err
				continue
			}
			return nil, path, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, path, err
		}
		return cfg, cfg.LoadedFrom, nil
	}
	return nil, "", fmt.Errorf("unable to load config; tried %s (last error: %v)", strings.Join(candidates, ", "), lastErr)
}

// pipeline holds the shared, station-independent parts of the daemon.
type pipeline struct {
	cfg      *config.Config
	stations *station.Store
	stats    *stats.Tracker
	profiles *profile.Registry
	queue    *decoder.Queue
	uploader upload.Uploader
	archive  *archive.Archive
	clusters *cluster.Registry
	parser   *extparser.Parser
}

// Purpose: Build the upload side of the pipeline.
// Key aspects: The archive and spot log are optional; the parser is
// optional too, but without it decoded lines are dropped.
// Upstream: runDaemon, replay command.
// Downstream: upload.New, archive.Open, cluster.NewRegistry, extparser.New.
func newPipeline(cfg *config.Config, withSpotLog bool) (*pipeline, error) {
	p := &pipeline{
		cfg:      cfg,
		stations: station.NewStore(cfg.Stations),
		stats:    stats.NewTracker(),
		profiles: profile.NewRegistry(cfg.Decoder),
		queue:    decoder.NewQueue(cfg.DecoderQueue.MaxSize, cfg.DecoderQueue.Workers),
	}
	uploader, err := upload.New(cfg, p.stations)
	if err != nil {
		return nil, err
	}
	p.uploader = uploader

	opts := cluster.Options{
		Uploader: uploader,
		Stats:    p.stats,
		Interval: time.Duration(cfg.Upload.IntervalSeconds) * time.Second,
		Jitter:   time.Duration(cfg.Upload.JitterSeconds) * time.Second,
		Timeout:  time.Duration(cfg.Upload.TimeoutSeconds) * time.Second,
	}
	if withSpotLog && cfg.LogSpots {
		opts.SpotLog = cluster.NewSpotLog(cfg.LogPath, time.Local)
	}
	if cfg.Archive.Enabled {
		a, err := archive.Open(cfg.Archive.Path, cfg.Archive.PerModeLimit)
		if err != nil {
			_ = uploader.Close()
			return nil, err
		}
		p.archive = a
		opts.Archive = a
	}
	p.clusters = cluster.NewRegistry(opts)

	if parser, err := extparser.New(cfg.Parser.Command, p.clusters); err != nil {
		log.Printf("Parser: %v; decoded lines will not produce spots", err)
	} else {
		p.parser = parser
	}
	return p, nil
}

// Purpose: Build one recorder per configured receiver.
// Key aspects: Recorders share the queue, parser, station store and stats.
// Upstream: runDaemon.
// Downstream: kiwi.New, skimmer.HopsFromConfig, skimmer.NewRecorder.
func (p *pipeline) recorders() ([]*skimmer.Recorder, error) {
	out := make([]*skimmer.Recorder, 0, len(p.cfg.Recorders))
	for _, rc := range p.cfg.Recorders {
		hops, err := skimmer.HopsFromConfig(rc.Hops)
		if err != nil {
			return nil, fmt.Errorf("recorder %s: %w", rc.Station, err)
		}
		deps := skimmer.Deps{
			Profiles: p.profiles,
			Queue:    p.queue,
			Receiver: kiwi.New(rc.Receiver),
			Stations: p.stations,
			Stats:    p.stats,
		}
		if p.parser != nil {
			deps.Parser = p.parser
		}
		rec, err := skimmer.NewRecorder(skimmer.Options{
			Station:     rc.Station,
			Hops:        hops,
			Modulation:  rc.Modulation,
			LowCut:      rc.LowCut,
			TmpPath:     p.cfg.TmpPath,
			Nice:        p.cfg.NiceLevel(),
			WaitTimeout: time.Duration(p.cfg.Decoder.WaitTimeoutSeconds) * time.Second,
		}, deps)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Purpose: Stop the upload side and release its resources.
// Key aspects: Clusters are cancelled and optionally flushed before the
// transport and archive are closed.
// Upstream: runDaemon and replay shutdown.
// Downstream: cluster.Registry.Stop, Uploader.Close, Archive.Close.
func (p *pipeline) close(ctx context.Context, flush bool) {
	p.clusters.Stop(ctx, flush)
	if err := p.uploader.Close(); err != nil {
		log.Printf("Upload: close failed: %v", err)
	}
	if err := p.archive.Close(); err != nil {
		log.Printf("Archive: close failed: %v", err)
	}
}

// Purpose: Daemon entrypoint; wires configuration, recorders and uploads.
// Key aspects: Spools and band-hop schedules run under an errgroup; shutdown
// stops them, drains the decode queue, then flushes the clusters.
// Upstream: run command.
// Downstream: newPipeline, skimmer.Spool.Run, skimmer.Recorder.RunSchedule,
// statusLine.Run.
func runDaemon(ctx context.Context) error {
	cfg, source, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	statusEnabled := cfg.StatusLine && isStdoutTTY()
	console := newTerminal(os.Stdout)
	logs, err := setupLogging(cfg.Logging, console)
	log.SetFlags(0)
	log.SetOutput(logs)
	defer logs.Close()
	if err != nil {
		log.Printf("Logging: file sink disabled: %v", err)
	}
	log.Printf("Loaded configuration from %s", source)

	p, err := newPipeline(cfg, true)
	if err != nil {
		return err
	}
	recorders, err := p.recorders()
	if err != nil {
		p.close(context.Background(), false)
		return err
	}
	if len(recorders) == 0 {
		log.Printf("No recorders configured; nothing will be decoded")
	}

	logs.OnRollover(func(prevDay time.Time) {
		writeStats(logs, p.stats, "Stats for "+prevDay.Format(logFileDateLayout))
	})

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()
	p.queue.Start(workCtx)

	g, gctx := errgroup.WithContext(workCtx)
	for _, rec := range recorders {
		if err := rec.Tune(gctx); err != nil {
			log.Printf("Recorder[%s]: initial tune failed: %v", rec.Station(), err)
		}
		spool := skimmer.NewSpool(rec,
			time.Duration(cfg.Spool.PollMillis)*time.Millisecond,
			time.Duration(cfg.Spool.SettleSeconds)*time.Second)
		g.Go(func() error { return spool.Run(gctx) })
		g.Go(func() error { return rec.RunSchedule(gctx) })
	}
	g.Go(func() error {
		ticker := time.NewTicker(statsLogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				writeStats(logs, p.stats, "Stats")
			}
		}
	})
	if statusEnabled {
		status := newStatusLine(console, p.queue, p.clusters, recorders)
		g.Go(func() error { return status.Run(gctx) })
	}

	log.Printf("Skimmer running with %d recorder(s), upload via %s. Press Ctrl+C to stop.", len(recorders), cfg.Upload.Transport)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Shutting down after error: %v", err)
	} else {
		log.Printf("Shutting down")
	}
	cancelWork()
	p.queue.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	p.close(shutdownCtx, *cfg.Upload.FlushOnShutdown)

	snap := p.stats.Snapshot()
	var uploaded uint64
	for _, n := range snap.UploadedBy {
		uploaded += n
	}
	log.Printf("Stopped after %s: %s decodes, %s spots uploaded in %s batches",
		snap.Uptime.Round(time.Second),
		humanize.Comma(int64(snap.Decodes)),
		humanize.Comma(int64(uploaded)),
		humanize.Comma(int64(snap.Uploads)))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// writeStats writes the tracker summary to the log file only.
func writeStats(logs *logRouter, tracker *stats.Tracker, title string) {
	now := time.Now().UTC()
	logs.FileOnly(now, title+":")
	for _, line := range tracker.SnapshotLines() {
		logs.FileOnly(now, "  "+line)
	}
}
