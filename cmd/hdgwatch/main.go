package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"hdgwatch/internal/camera"
	"hdgwatch/internal/catalog"
	"hdgwatch/internal/config"
	"hdgwatch/internal/db"
	"hdgwatch/internal/hdg"
	"hdgwatch/internal/identity"
	"hdgwatch/internal/logging"
	"hdgwatch/internal/metrics"
	"hdgwatch/internal/readings"
	"hdgwatch/internal/scheduler"
	"hdgwatch/internal/storage"
	"hdgwatch/internal/supabase"
)

func main() {
	logging.Init("hdgwatch", nil)
	if err := run(context.Background(), os.Args[1:], os.Stdout, serveHTTP); err != nil {
		fatalf("hdgwatch: %v", err)
	}
}

var serveHTTP = func(srv *http.Server) error { return srv.ListenAndServe() }
var fatalf = func(format string, args ...any) {
	slog.Error("fatal", "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}
var loadConfig = config.LoadConfig
var openDB = db.NewDB
var machineID = func(log *slog.Logger) string {
	return (&identity.Resolver{Log: log}).MachineID()
}
var newOpener = func(cfg config.CameraConfig) camera.Opener {
	return camera.FFmpegOpener{Path: cfg.FFmpegPath, Timeout: cfg.Timeout}
}

func run(parent context.Context, args []string, stdout io.Writer, serve func(*http.Server) error) error {
	fs := flag.NewFlagSet("hdgwatch", flag.ContinueOnError)
	envPath := fs.String("env", ".env", "path to .env file")
	catalogPath := fs.String("catalog", "", "query catalog path (overrides CATALOG_FILE)")
	once := fs.Bool("once", false, "run a single poll cycle and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*envPath)
	if err != nil {
		return err
	}
	if *catalogPath != "" {
		cfg.Poll.CatalogFile = *catalogPath
	}
	var hours scheduler.HourSet
	if cfg.Camera.Enabled() {
		if hours, err = scheduler.ParseHours(cfg.Camera.Hours); err != nil {
			return err
		}
	}

	logFile, err := logging.OpenFileSink(cfg.Log.File)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := logging.InitWithFile("hdgwatch", stdout, logFile)
	logger.Info("==== hdgwatch starting ====", "log_file", logFile.Path())
	defer logger.Info("==== hdgwatch stopped ====")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	mac := machineID(logger)
	sink, closeSink, err := newReadingSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	poll := &scheduler.PollScheduler{
		Catalog:     catalog.File{Path: cfg.Poll.CatalogFile},
		Fetcher:     hdg.NewClient(cfg.Poll.FetchTimeout),
		Sink:        sink,
		Retention:   logging.Retention{Sink: logFile, Policy: logging.RetentionPolicy{MaxAge: cfg.Log.MaxAge(), MaxBytes: cfg.Log.MaxBytes}},
		Sources:     cfg.Sources,
		MachineID:   mac,
		Interval:    cfg.Poll.Interval,
		MaxCooldown: cfg.Poll.MaxCooldown,
		LoadRetry:   cfg.Poll.LoadRetry,
		Pause:       cfg.Poll.Pause,
		Log:         logger,
	}
	if *once {
		report := poll.RunCycle(ctx)
		if !report.Loaded {
			return errors.New("catalog could not be loaded")
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poll.Run(gctx) })

	if cfg.Camera.Enabled() {
		shots := &scheduler.ScreenshotScheduler{
			Hours:    hours,
			Interval: cfg.Camera.CheckInterval,
			OnStart:  cfg.Camera.OnStart,
			Log:      logger,
			Trigger: &camera.Service{
				Capturer: &camera.Capturer{
					Address:   cfg.Camera.StreamAddress,
					MachineID: mac,
					Opener:    newOpener(cfg.Camera),
					Warmup:    cfg.Camera.Warmup,
					Quality:   cfg.Camera.Quality,
					Log:       logger,
				},
				Sink: storage.ObjectStore{
					Endpoint:    cfg.Supabase.URL,
					Bucket:      cfg.Supabase.Bucket,
					APIKey:      cfg.Supabase.Key,
					ContentType: storage.ContentTypeJPEG,
					HTTPClient:  supabase.NewHTTPClient(0),
				},
				Log: logger,
			},
		}
		g.Go(func() error { return shots.Run(gctx) })
	} else {
		logger.Info("camera stream not configured, screenshots disabled")
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Mux(), ReadHeaderTimeout: 5 * time.Second}
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		g.Go(func() error {
			if err := serve(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			return nil
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("interrupted")
		return nil
	}
	return err
}

// newReadingSink picks the direct Postgres sink when a DSN is configured and
// the Supabase REST API otherwise.
func newReadingSink(ctx context.Context, cfg config.Config, logger *slog.Logger) (readings.Sink, func(), error) {
	if cfg.Supabase.DBDSN == "" {
		logger.Info("saving readings through supabase rest", "table", cfg.Supabase.Table)
		return &readings.PostgRESTSink{
			BaseURL:    cfg.Supabase.URL,
			APIKey:     cfg.Supabase.Key,
			Table:      cfg.Supabase.Table,
			HTTPClient: supabase.NewHTTPClient(0),
		}, func() {}, nil
	}
	conn, err := openDB(cfg.Supabase.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	logger.Info("saving readings through postgres", "table", cfg.Supabase.Table)
	return db.ReadingSink{DB: conn, Table: cfg.Supabase.Table}, func() { _ = conn.Close() }, nil
}
