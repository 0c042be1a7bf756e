package main

import (
	"context"
	"errors"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"farmersfright.gg/internal/config"
	"farmersfright.gg/internal/gate"
	"farmersfright.gg/internal/logging"
	"farmersfright.gg/internal/match"
	persistlog "farmersfright.gg/internal/persistence/log"
	"farmersfright.gg/internal/session"
	"farmersfright.gg/internal/transport/ws"
	"farmersfright.gg/internal/tuning"
)

func main() {
	var (
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		noEvents   = flag.Bool("disable_event_log", false, "do not write the match event log")
	)
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		// No configured logger yet.
		l := logging.New("info", false, os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	root := logging.New(cfg.LogLevel, cfg.LogPretty, os.Stdout)
	logger := logging.Component(root, "server")

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatal().Err(err).Str("path", tp).Msg("load tuning")
		}
		logger.Info().Str("path", tp).Msg("tuning not found; using defaults")
		tune = tuning.Defaults()
	}

	idx, err := openRuntimeIndex(cfg, logging.Component(root, "index"))
	if err != nil {
		logger.Fatal().Err(err).Msg("open index backend")
	}
	if idx != nil {
		defer idx.Close()
	}

	sess := session.New(session.Config{
		TickRateHz: tune.TickRateHz,
		MaxPlayers: tune.Queue.MaxPlayers,
		Rules:      session.RulesFromTuning(tune),
	}, logging.Component(root, "session"))
	if idx != nil {
		sess.SetMatchIndex(idx)
	}
	if !*noEvents {
		events := persistlog.NewEventLog(cfg.EventsDir())
		defer events.Close()
		sess.SetEventLogger(events)
	}

	queue := match.NewQueue(match.Config{
		Quorum:      tune.Queue.Quorum,
		SettleDelay: tune.Queue.SettleDelay(),
		MaxPlayers:  tune.Queue.MaxPlayers,
	}, rand.New(rand.NewSource(time.Now().UnixNano())), sess.StartMatch, logging.Component(root, "queue"))
	defer queue.Close()

	limiter := gate.NewLimiter(tune.RateLimits.ConnectMax, tune.RateLimits.ConnectWindow())

	ctx, cancel := signalContext()
	defer cancel()

	sessDone := make(chan struct{})
	go func() {
		defer close(sessDone)
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("session stopped")
		}
	}()
	go limiter.Run(ctx)

	a := &app{
		cfg:     cfg,
		log:     logger,
		started: time.Now(),
		sess:    sess,
		queue:   queue,
		limiter: limiter,
		index:   idx,
		ws: ws.NewServer(queue, sess, limiter, ws.Options{
			AllowedOrigins: cfg.AllowedOrigins(),
			OutQueue:       tune.OutQueue,
		}, logging.Component(root, "ws")),
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info().
		Str("addr", srv.Addr).
		Str("env", cfg.Env).
		Int("tick_rate_hz", tune.TickRateHz).
		Str("index", cfg.IndexBackend).
		Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("ListenAndServe")
	}
	cancel()
	<-sessDone
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
