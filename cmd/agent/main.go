package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callagent/internal/api"
	"callagent/internal/auth"
	"callagent/internal/backoff"
	"callagent/internal/callrecord"
	"callagent/internal/config"
	"callagent/internal/diag"
	"callagent/internal/engine"
	"callagent/internal/kvstore"
	"callagent/internal/outbox"
	"callagent/internal/outcome"
	"callagent/internal/resolve"
	"callagent/internal/storage"
	"callagent/internal/telemetry"
	"callagent/pkg/logger"
	"callagent/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const logCaptureMax = 1000

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log, capture := logger.NewWithCapture(cfg.App.Env, logCaptureMax)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	kv, err := openKV(rootCtx, cfg.KV)
	if err != nil {
		log.Error("kv store init failed", "err", err)
		os.Exit(1)
	}

	db, err := storage.Open(rootCtx, cfg.Storage)
	if err != nil {
		log.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	creds := auth.NewCredentials(kv)
	deviceID, err := ensureDeviceID(rootCtx, creds)
	if err != nil {
		log.Error("device identity init failed", "err", err)
		os.Exit(1)
	}
	log = log.With("device_id", deviceID)

	client := api.NewClient(cfg.Server.BaseURL, cfg.Server.RequestTimeout(), deviceID, log)
	tokens := auth.NewCoordinator(creds, client.RefreshToken, log)
	client.SetTokenSource(tokens)

	outboxStore := outbox.NewSQLStore(db)
	flusher := outbox.NewFlusher(outboxStore, &outbox.APIDeliverer{Client: client}, log)

	machine := resolve.NewMachine(
		callrecord.NewSQLReader(db),
		outcome.NewSQLStore(db),
		client,
		flusher,
		log,
	)

	controller := backoff.New(cfg.Poll.BackoffMaxLevel)

	eng := engine.New(engine.Options{
		Config: engine.Config{
			HeartbeatEveryCycles: cfg.Poll.HeartbeatEveryCycles,
			OutboxEveryCycles:    cfg.Poll.OutboxEveryCycles,
			LogEveryCycles:       cfg.Poll.LogEveryCycles,
			LogBufferThreshold:   cfg.Poll.LogBufferThreshold,
		},
		Client:    client,
		Tokens:    tokens,
		Creds:     creds,
		Backoff:   controller,
		Machine:   machine,
		Outbox:    flusher,
		Telemetry: telemetry.NewBuffer(0),
		Logs:      capture,
		DeviceID:  deviceID,
		Logger:    log,
	})

	var diagSrv *diag.Server
	if cfg.Diag.Enabled {
		diagSrv = diag.New(cfg.Diag, eng, machine, flusher, controller, tokens, log)
		diagSrv.Start()
	}

	runErr := eng.Run(rootCtx)

	log.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if diagSrv != nil {
		if err := diagSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("diag shutdown failed", "err", err)
		}
	}
	machine.Wait()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("agent stopped", "err", runErr)
		os.Exit(1)
	}
}

func openKV(ctx context.Context, cfg config.KVConfig) (kvstore.Store, error) {
	switch cfg.Backend {
	case "redis":
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr})
		if err != nil {
			return nil, err
		}
		return kvstore.NewRedis(rdb), nil
	default:
		return kvstore.NewFile(cfg.Path)
	}
}

// ensureDeviceID reads the persisted device identity, minting one on first
// boot.
func ensureDeviceID(ctx context.Context, creds *auth.Credentials) (string, error) {
	id, err := creds.DeviceID(ctx)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, auth.ErrNoCredentials) {
		return "", err
	}
	id = uuid.NewString()
	if err := creds.SetDeviceID(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}
