// Command lanes estimates lane curvature and vehicle offset over an
// ordered directory of binary lane masks, persists the per-frame results
// and optionally serves the session API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/banshee-data/lane.report/internal/api"
	"github.com/banshee-data/lane.report/internal/config"
	"github.com/banshee-data/lane.report/internal/lane/l1mask"
	"github.com/banshee-data/lane.report/internal/lane/l2windows"
	"github.com/banshee-data/lane.report/internal/lane/l3fit"
	"github.com/banshee-data/lane.report/internal/lane/l4state"
	"github.com/banshee-data/lane.report/internal/lane/monitor"
	"github.com/banshee-data/lane.report/internal/lane/pipeline"
	"github.com/banshee-data/lane.report/internal/lane/storage/sqlite"
	"github.com/banshee-data/lane.report/internal/monitoring"
	"github.com/banshee-data/lane.report/internal/version"
)

var (
	configPath = flag.String("config", "", "Tuning config JSON (default: config/tuning.defaults.json found from the working directory)")
	masksDir   = flag.String("masks", "", "Directory of mask images processed in file name order")
	dbPath     = flag.String("db", "lanes.db", "SQLite database path (empty disables persistence)")
	plotsDir   = flag.String("plots", "plots", "Base directory for radius/offset PNG plots (empty disables plotting)")
	listen     = flag.String("listen", "", "Serve the session API on this address after processing, e.g. :8080")
	logLevel   = flag.String("log-level", "info", "Log level: warn, info, debug or trace")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

// options is the parsed command line.
type options struct {
	ConfigPath string
	MasksDir   string
	DBPath     string
	PlotsDir   string
	Listen     string
}

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.String())
		return
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatalf("invalid -log-level: %v", err)
	}
	logger.SetLevel(level)

	closeWriters := wireLogStreams(logger)
	defer closeWriters()

	opts := options{
		ConfigPath: *configPath,
		MasksDir:   *masksDir,
		DBPath:     *dbPath,
		PlotsDir:   *plotsDir,
		Listen:     *listen,
	}
	if opts.MasksDir == "" && opts.Listen == "" {
		logger.Fatal("one of -masks or -listen is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.WithError(err).Fatal("lanes failed")
	}
}

// wireLogStreams routes the per-package log streams into logger: ops at
// warn, diag at debug and trace at trace level. The returned func closes
// the pipe writers.
func wireLogStreams(logger *logrus.Logger) func() {
	ops := logger.WriterLevel(logrus.WarnLevel)
	diag := logger.WriterLevel(logrus.DebugLevel)
	trace := logger.WriterLevel(logrus.TraceLevel)

	l1mask.SetLogWriters(ops, diag, trace)
	l2windows.SetLogWriters(ops, diag, trace)
	l3fit.SetLogWriters(ops, diag, trace)
	l4state.SetLogWriters(ops, diag, trace)
	pipeline.SetLogWriters(ops, diag, trace)
	monitoring.SetWriter("", logger.WriterLevel(logrus.InfoLevel))

	return func() {
		for _, w := range []io.Closer{ops, diag, trace} {
			w.Close()
		}
	}
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		tc, err := config.LoadTuningConfig(config.DefaultConfigPath)
		if errors.Is(err, fs.ErrNotExist) {
			return config.DefaultTuningConfig(), nil
		}
		return tc, err
	}
	return config.LoadTuningConfig(path)
}

func run(ctx context.Context, opts options, logger *logrus.Logger) error {
	tuning, err := loadTuning(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load tuning: %w", err)
	}

	var store *sqlite.RunStore
	if opts.DBPath != "" {
		db, err := sqlite.Open(opts.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		store = sqlite.NewRunStore(db)
	}

	if opts.MasksDir != "" {
		summary, err := processDir(ctx, opts.MasksDir, tuning, store, logger)
		if err != nil {
			return err
		}
		if opts.PlotsDir != "" && len(summary.Records) > 0 {
			plotter := monitor.NewHistoryPlotter(monitor.MakePlotOutputDir(opts.PlotsDir, opts.MasksDir))
			paths, err := plotter.GeneratePlots(summary.Records)
			if err != nil {
				return fmt.Errorf("generate plots: %w", err)
			}
			logger.WithField("files", paths).Info("plots written")
		}
	}

	if opts.Listen == "" {
		return nil
	}
	return serve(ctx, opts.Listen, api.NewServer(tuning, store, logger))
}

// dirSummary is what processDir reports about one directory run.
type dirSummary struct {
	RunID   string
	Frames  int
	Frozen  int
	Skipped int
	Records []sqlite.FrameRecord
	Last    *pipeline.FrameResult
}

// processDir feeds every mask file under dir through one session, in file
// name order. Files that cannot be decoded are skipped; masks that decode
// but are invalid produce a frozen result.
func processDir(ctx context.Context, dir string, tuning *config.TuningConfig, store *sqlite.RunStore, logger *logrus.Logger) (dirSummary, error) {
	files, err := l1mask.ListMaskFiles(dir)
	if err != nil {
		return dirSummary{}, err
	}
	if len(files) == 0 {
		return dirSummary{}, fmt.Errorf("no mask images in %s", dir)
	}

	cfg := pipeline.SessionConfig{Tuning: tuning}
	var runID string
	if store != nil {
		params, err := json.Marshal(tuning)
		if err != nil {
			return dirSummary{}, fmt.Errorf("encode tuning: %w", err)
		}
		run := &sqlite.Run{Source: dir, ParamsJSON: params}
		cfg.ID = uuid.New().String()
		run.SessionID = cfg.ID
		if err := store.CreateRun(run); err != nil {
			return dirSummary{}, fmt.Errorf("create run: %w", err)
		}
		runID = run.RunID
		cfg.Sink = store
		cfg.RunID = runID
	}

	session, err := pipeline.NewSession(cfg)
	if err != nil {
		return dirSummary{}, err
	}
	log := logger.WithFields(logrus.Fields{"session_id": session.ID(), "run_id": runID, "masks": dir})
	log.WithField("files", len(files)).Info("processing masks")

	sum := dirSummary{RunID: runID}
	start := time.Now()
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			log.Warn("interrupted")
			break
		}
		m, err := l1mask.LoadMask(path)
		if err != nil {
			sum.Skipped++
			log.WithError(err).WithField("file", path).Warn("skipping unreadable mask")
			continue
		}
		res, err := session.ProcessFrameFrom(m, path)
		if err != nil && !errors.Is(err, l1mask.ErrInvalidMask) {
			return sum, fmt.Errorf("process %s: %w", path, err)
		}
		if err != nil {
			log.WithError(err).WithField("file", path).Warn("frame frozen")
			continue
		}
		log.WithFields(logrus.Fields{
			"frame":  res.FrameIndex,
			"radius": res.SmoothedRadius.Label(),
			"offset": res.Offset.Label(),
		}).Debug(res.RadiusLabel())
	}

	if store != nil {
		if err := store.CompleteRun(runID); err != nil {
			return sum, fmt.Errorf("complete run: %w", err)
		}
	}

	sum.Frames = session.FrameCount()
	sum.Frozen = session.FrozenCount()
	sum.Records = session.Records()
	if store != nil {
		// The session only keeps recent records; the run holds them all.
		if sum.Records, err = store.ListFrames(runID); err != nil {
			return sum, fmt.Errorf("list frames: %w", err)
		}
	}
	if last, ok := session.Last(); ok {
		sum.Last = &last
		log = log.WithFields(logrus.Fields{
			"radius": last.RadiusLabel(),
			"offset": last.OffsetLabel(),
		})
	}
	log.WithFields(logrus.Fields{
		"frames":   sum.Frames,
		"frozen":   sum.Frozen,
		"skipped":  sum.Skipped,
		"duration": time.Since(start).String(),
	}).Info("masks processed")
	return sum, nil
}

// serve runs the API until ctx is cancelled.
func serve(ctx context.Context, addr string, srv *api.Server) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		if cerr := server.Close(); cerr != nil {
			return fmt.Errorf("force close: %w", cerr)
		}
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
