package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/mind-engage/learncore/internal/api/http"
	auth "github.com/mind-engage/learncore/internal/auth/middleware"
	"github.com/mind-engage/learncore/internal/clients/redis"
	"github.com/mind-engage/learncore/internal/config"
	"github.com/mind-engage/learncore/internal/curriculum"
	"github.com/mind-engage/learncore/internal/db"
	"github.com/mind-engage/learncore/internal/lock"
	"github.com/mind-engage/learncore/internal/logger"
	"github.com/mind-engage/learncore/internal/progress"
	"github.com/mind-engage/learncore/internal/submission"
	syncx "github.com/mind-engage/learncore/internal/sync"
)

func main() {
	cfg := config.FromEnv()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- DB ---
	driver, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		log.Fatal("bad DB_DRIVER", "driver", cfg.DBDriver, "err", err)
	}
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(openCtx, driver, cfg.DBDSN)
	cancel()
	if err != nil {
		log.Fatal("db open failed", "driver", cfg.DBDriver, "err", err)
	}
	defer dbh.Close()

	// --- Events + lock (Redis when configured, in-process otherwise) ---
	events := syncx.NewEventRepo(dbh, cfg.SiteID, log)
	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		rdb, err := redis.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("redis connect failed", "addr", cfg.RedisAddr, "err", err)
		}
		defer rdb.Close()
		locker = lock.NewRedis(rdb, "learncore:lock:")
		bus := redis.NewEventBus(rdb, cfg.RedisChannel, log)
		events.WithPublisher(bus)
		err = bus.StartForwarder(ctx, func(e syncx.Event) {
			log.Debug("event received", "type", e.Type, "key", e.Key, "site_id", e.SiteID)
		})
		if err != nil {
			log.Warn("event forwarder not started", "err", err)
		}
		log.Info("redis enabled", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
	}

	// --- Core ---
	content := curriculum.NewStore(dbh, driver, log)
	rec := submission.NewRecorder(dbh, content, events, log,
		submission.WithDedupWindow(cfg.SubmitDedupWindow))
	agg := progress.NewAggregator(dbh, driver, content, rec, events, log,
		progress.WithLocker(locker),
		progress.WithParallelism(cfg.RecomputeParallelism))

	rec.OnRecorded(func(ctx context.Context, s submission.Submission) {
		if _, err := agg.Recompute(ctx, s.LearnerID, s.CourseID); err != nil {
			log.Error("progress recompute failed", "learner_id", s.LearnerID, "course_id", s.CourseID, "err", err)
		}
	})
	content.OnContentChange(agg.ContentChanged)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Content-Length", "Retry-After"},
		AllowCredentials: cfg.CORSAllowCredentials,
		MaxAge:           300,
	}))
	r.Mount("/", api.Routes(api.Deps{
		DB:         dbh,
		Verifier:   auth.NewVerifier(cfg.AuthHMACSecret, cfg.AuthIssuer),
		Content:    content,
		Recorder:   rec,
		Aggregator: agg,
		Events:     events,
		Log:        log,
	}))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	log.Info("listening", "addr", cfg.HTTPAddr, "mode", cfg.Mode, "db", driver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("http server failed", "err", err)
	}
	log.Info("shut down")
}
