package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gyaneshwarpardhi/alertflow/internal/api"
	"github.com/gyaneshwarpardhi/alertflow/internal/config"
	"github.com/gyaneshwarpardhi/alertflow/internal/dashboard"
	"github.com/gyaneshwarpardhi/alertflow/internal/engine"
	"github.com/gyaneshwarpardhi/alertflow/internal/notify"
	"github.com/gyaneshwarpardhi/alertflow/internal/notify/rabbit"
	"github.com/gyaneshwarpardhi/alertflow/internal/notify/wsfeed"
	"github.com/gyaneshwarpardhi/alertflow/internal/rules"
	"github.com/gyaneshwarpardhi/alertflow/internal/store"
	"github.com/gyaneshwarpardhi/alertflow/internal/store/backend"
	"github.com/gyaneshwarpardhi/alertflow/internal/transition"
	"github.com/gyaneshwarpardhi/alertflow/internal/writer"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	cfgPath := flag.String("config", "configs/alertflow.yaml", "Path to alertflow YAML config")
	envFile := flag.String("env", ".env", "Optional dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("dotenv file not loaded", "path", *envFile, "err", err)
	}

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Store ─────────────────────────────────────────────────────────────────
	openCtx, openCancel := context.WithTimeout(ctx, 30*time.Second)
	st, err := backend.Open(openCtx, cfg.Store)
	openCancel()
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("store opened", "driver", cfg.Store.Driver)

	// ── Rules ─────────────────────────────────────────────────────────────────
	rs, err := rules.Build(cfg.Rules)
	if err != nil {
		slog.Error("failed to build rules", "err", err)
		os.Exit(1)
	}
	slog.Info("rules built", "amount_steps", len(rs.Steps()), "indicators", len(rs.Indicators()))

	wconf, err := writer.ConfigFrom(cfg.Writer)
	if err != nil {
		slog.Error("invalid writer config", "err", err)
		os.Exit(1)
	}
	tcl, err := store.ParseConsistency(cfg.Transition.Consistency)
	if err != nil {
		slog.Error("invalid transition config", "err", err)
		os.Exit(1)
	}
	topts := []transition.Option{transition.WithConsistency(tcl)}
	if cfg.Transition.SerializePerAlert {
		topts = append(topts, transition.WithLocker(transition.NewKeyedMutex()))
	}

	// ── Notifiers ─────────────────────────────────────────────────────────────
	reg := notify.NewRegistry(logger)
	var hub *wsfeed.Hub
	if cfg.Notify.WebSocket {
		hub = wsfeed.NewHub(logger)
		go hub.Run(ctx)
		reg.Register(hub)
	}
	if cfg.Notify.AMQP.URL != "" {
		pub, err := rabbit.Dial(cfg.Notify.AMQP.URL, cfg.Notify.AMQP.Exchange)
		if err != nil {
			slog.Warn("amqp notifier unavailable", "err", err)
		} else {
			defer pub.Close()
			reg.Register(pub)
		}
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	eopts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithTransitionOptions(topts...),
	}
	if names := reg.Names(); len(names) > 0 {
		eopts = append(eopts, engine.WithNotifier(reg, 2, 256))
		slog.Info("notifiers registered", "names", names)
	}
	eng := engine.New(st, rules.NewEngine(rs), wconf, eopts...)
	eng.Start(ctx)

	// ── Dashboards ────────────────────────────────────────────────────────────
	dopts := []dashboard.Option{dashboard.WithLogger(logger)}
	if cfg.Dashboard.RedisAddr != "" {
		rdb, err := dashboard.DialRedis(ctx, cfg.Dashboard.RedisAddr, cfg.Dashboard.RedisDB)
		if err != nil {
			slog.Warn("dashboard cache unavailable", "addr", cfg.Dashboard.RedisAddr, "err", err)
		} else {
			defer rdb.Close()
			ttl := time.Duration(cfg.Dashboard.CacheTTLSec) * time.Second
			dopts = append(dopts, dashboard.WithCache(dashboard.NewRedisCache(rdb, ttl)))
		}
	}
	dash := dashboard.New(st, dopts...)
	if cfg.Dashboard.RefreshIntervalSec > 0 {
		go dash.RunPeriodic(ctx, time.Duration(cfg.Dashboard.RefreshIntervalSec)*time.Second)
	}

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	eng.FollowConfig(loader)
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	hopts := []api.Option{api.WithMaxBatchSize(cfg.Server.MaxBatchSize)}
	if hub != nil {
		hopts = append(hopts, api.WithFeed(hub))
	}
	handler := api.New(eng, dash, loader, hopts...)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	eng.Stop() // flush queued alerts before the store closes
	cancel()
	slog.Info("goodbye")
}

func newLogger(conf config.LogConf) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(conf.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if conf.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
