package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"energy-monitor-service/internal/config"
	"energy-monitor-service/internal/httpapi"
	"energy-monitor-service/internal/identity"
	"energy-monitor-service/internal/ingest"
	"energy-monitor-service/internal/mqtt"
	"energy-monitor-service/internal/pipeline"
	"energy-monitor-service/internal/realtime"
	"energy-monitor-service/internal/store"
	"energy-monitor-service/internal/tracker"
	"energy-monitor-service/internal/upstream"
)

func main() {
	cfg, err := config.Load(os.Getenv("EMS_CONFIG_PATH"))
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	if strings.TrimSpace(cfg.Postgres.User) == "" {
		slog.Error("missing required config", "key", "postgres.user")
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.Postgres.DBName) == "" {
		slog.Error("missing required config", "key", "postgres.dbname")
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.Postgres.Host) == "" {
		slog.Error("missing required config", "key", "postgres.host")
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.Postgres.Port) == "" {
		slog.Error("missing required config", "key", "postgres.port")
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.JWTPublicKeyPath) == "" {
		slog.Error("missing required config", "key", "jwt_public_key_path")
		os.Exit(1)
	}

	db, err := store.OpenPostgres(cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName, cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.SSLMode)
	if err != nil {
		slog.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	repo, err := store.New(db)
	if err != nil {
		slog.Error("db migrate failed", "error", err)
		os.Exit(1)
	}

	pubKey, err := identity.LoadRSAPublicKey(cfg.JWTPublicKeyPath)
	if err != nil {
		slog.Error("jwt public key load failed", "path", cfg.JWTPublicKeyPath, "error", err)
		os.Exit(1)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		slog.Error("invalid timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis not reachable at startup, fan-out degraded", "addr", cfg.RedisAddr, "error", err)
	}

	hub := realtime.NewHub(func(r *http.Request) string {
		return identity.ViewerID(r.Context())
	})
	publisher := realtime.NewPublisher(repo, rdb, cfg.SeriesAnchorHour, loc)
	bridge := realtime.NewBridge(rdb, hub)
	go func() {
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("realtime bridge stopped", "error", err)
		}
	}()

	trk := tracker.New(cfg.PowerRatings)
	pipe := pipeline.New(repo, trk, publisher)

	if strings.TrimSpace(cfg.MQTTBrokerURL) != "" {
		mq, err := mqtt.Dial(mqtt.Options{
			BrokerURL:     cfg.MQTTBrokerURL,
			ClientID:      cfg.MQTTClientID,
			KeepAlive:     cfg.MQTTKeepAlive,
			RetryInterval: cfg.MQTTRetry,
			TLSInsecure:   cfg.MQTTTLSInsecure,
		})
		if err != nil {
			slog.Error("mqtt connect failed", "error", err)
			os.Exit(1)
		}
		defer mq.Close()

		ing := &ingest.Ingestor{Pipeline: pipe, TopicPrefix: cfg.TelemetryPrefix, AllowRetains: cfg.IngestRetained}
		subTopic := strings.TrimRight(cfg.TelemetryPrefix, "/") + "/#"
		if err := mq.Subscribe(subTopic, func(m mqtt.Message) {
			ing.HandleMessage(ctx, m, time.Now().UTC())
		}); err != nil {
			slog.Error("mqtt subscribe failed", "topic", subTopic, "error", err)
			os.Exit(1)
		}
		slog.Info("telemetry ingest subscribed", "topic", subTopic)
	}

	up := upstream.New(cfg.UpstreamURL)
	srv := httpapi.NewServer(repo, pipe, hub, up, identity.JWTAuthMiddlewareRS256(pubKey))
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("energy-monitor-service listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}
	slog.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	cancel()
	_ = rdb.Close()
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}
