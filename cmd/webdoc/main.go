package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/webdoc/webdoc/internal/api"
	"github.com/webdoc/webdoc/internal/config"
	"github.com/webdoc/webdoc/internal/db"
	"github.com/webdoc/webdoc/internal/extract"
	"github.com/webdoc/webdoc/internal/job"
	"github.com/webdoc/webdoc/internal/js"
	"github.com/webdoc/webdoc/internal/lua"
	"github.com/webdoc/webdoc/internal/orchestrator"
	"github.com/webdoc/webdoc/internal/queue"
	"github.com/webdoc/webdoc/internal/render"
	"github.com/webdoc/webdoc/internal/storage"
	"github.com/webdoc/webdoc/internal/worker"
	"github.com/webdoc/webdoc/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to a YAML or JSON config file")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := config.LoadEnvFiles(".env.local", ".env"); err != nil {
		log.Fatal().Err(err).Msg("load env files")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("webdoc stopped")
	}
	log.Info().Msg("webdoc stopped")
}

func setupLogging(cfg *config.Config) {
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.EffectiveLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context, cfg *config.Config) error {
	hub := ws.NewHub()

	baseStore, closeStore, err := openJobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	store := job.NewObservedStore(baseStore, hub.Publish)

	q, closeQueue, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQueue()

	docs, err := storage.NewStore(filepath.Join(cfg.DataDir, "documents"))
	if err != nil {
		return fmt.Errorf("open document storage: %w", err)
	}

	orch := orchestrator.New(store, q, docs)
	if n, err := orch.FailInterrupted(ctx); err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	} else if n > 0 {
		log.Warn().Int("count", n).Msg("failed jobs interrupted by restart")
	}

	renderOpts, err := loadClassifier(cfg)
	if err != nil {
		return err
	}
	w := worker.New(q, store, newExtractor(cfg), docs, renderOpts...)

	routerOpts := []api.Option{api.WithWorkerStats(w.Stats)}
	if lq, ok := q.(*queue.LocalQueue); ok {
		routerOpts = append(routerOpts, api.WithQueueStats(lq.Stats))
	}
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(cfg, orch, ws.NewServer(hub, store, cfg.CORSOrigins), routerOpts...),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Workers; i++ {
		g.Go(func() error { return w.Run(gctx) })
	}

	// Workers are already draining, so a full queue empties while this waits.
	if n, err := orch.Requeue(gctx); err != nil {
		log.Error().Err(err).Msg("requeue pending jobs failed")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("requeued pending jobs")
	}

	g.Go(func() error {
		log.Info().
			Str("addr", cfg.Addr()).
			Str("store", cfg.Store).
			Str("queue", cfg.Queue).
			Str("extractor", cfg.Extractor).
			Int("workers", cfg.Workers).
			Msg("webdoc listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openJobStore(ctx context.Context, cfg *config.Config) (job.JobStore, func(), error) {
	switch cfg.Store {
	case "badger":
		dbStore, err := db.NewStore(filepath.Join(cfg.DataDir, "db"))
		if err != nil {
			return nil, nil, fmt.Errorf("open badger: %w", err)
		}
		return job.NewPersistentStore(dbStore), func() { dbStore.Close() }, nil
	case "postgres":
		pg, err := job.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return job.NewStore(), func() {}, nil
	}
}

func openQueue(ctx context.Context, cfg *config.Config) (queue.Queue, func(), error) {
	if cfg.Queue != "redis" {
		return queue.NewLocalQueue(cfg.QueueBuffer), func() {}, nil
	}
	sq, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Stream:   cfg.RedisStream,
		Group:    cfg.RedisGroup,
		Consumer: cfg.RedisConsumer,
	})
	if err != nil {
		return nil, nil, err
	}
	return sq, func() { sq.Close() }, nil
}

func newExtractor(cfg *config.Config) extract.Extractor {
	if cfg.Extractor == "static" {
		ex := extract.NewStaticExtractor()
		ex.Timeout = cfg.ExtractTimeout
		ex.MaxChars = cfg.ExtractMaxChars
		if cfg.UserAgent != "" {
			ex.UserAgent = cfg.UserAgent
		}
		return ex
	}
	ex := extract.NewBrowserExtractor(extract.RodLauncher{Bin: cfg.BrowserBin})
	ex.Timeout = cfg.ExtractTimeout
	ex.MaxChars = cfg.ExtractMaxChars
	if cfg.UserAgent != "" {
		ex.UserAgent = cfg.UserAgent
	}
	return ex
}

// loadClassifier compiles CLASSIFIER_SCRIPT, if set, into a render option.
func loadClassifier(cfg *config.Config) ([]render.Option, error) {
	path := cfg.ClassifierScript
	if path == "" {
		return nil, nil
	}
	var classify render.Classifier
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js":
		c, err := js.LoadClassifier(path)
		if err != nil {
			return nil, fmt.Errorf("load classifier: %w", err)
		}
		classify = c.Classify
	default:
		c, err := lua.LoadClassifier(path)
		if err != nil {
			return nil, fmt.Errorf("load classifier: %w", err)
		}
		classify = c.Classify
	}
	log.Info().Str("script", path).Msg("using classifier script")
	return []render.Option{render.WithClassifier(classify)}, nil
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "webdoc - turn web pages into PDF and DOCX documents\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nSettings are read from .env.local, .env, the config file and the environment.\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                           # memory store, local queue, headless Chrome\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  STORE=badger %s              # persist jobs under DATA_DIR\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config webdoc.yaml       # load settings from a file\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  CLASSIFIER_SCRIPT=rules.lua %s  # custom heading rules\n", os.Args[0])
	}
}
