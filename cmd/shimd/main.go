package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/liboscore/shim/internal/api"
	"github.com/liboscore/shim/internal/config"
	"github.com/liboscore/shim/internal/ipc"
	"github.com/liboscore/shim/internal/logging"
)

func main() {
	listenURI := flag.String("listen", "tcp://0.0.0.0:9500", "IPC listen URI")
	adminAddr := flag.String("admin", ":8000", "admin HTTP/WS listen address")
	selfID := flag.Uint64("self-id", 1, "this process's vmid")
	configPath := flag.String("config", "", "optional YAML config file")
	dev := flag.Bool("dev", false, "enable development logging")
	flag.Parse()

	logCfg := logging.DefaultConfig()
	if *dev {
		logCfg = logging.DevelopmentConfig()
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("config load failed, using defaults", zap.Error(err))
		cfg = config.Default()
	}

	if err := run(*listenURI, *adminAddr, *selfID, cfg, logger.Logger); err != nil {
		logger.Fatal("shimd exited with error", zap.Error(err))
	}
}

func run(listenURI, adminAddr string, selfID uint64, cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := ipc.New(selfID, cfg, log)

	if _, err := manager.InitPorts(ctx, listenURI); err != nil {
		return fmt.Errorf("init ports: %w", err)
	}
	if err := manager.InitHelper(ctx); err != nil {
		return fmt.Errorf("init helper: %w", err)
	}
	if err := manager.Helper.Start(ctx); err != nil {
		return fmt.Errorf("start helper: %w", err)
	}

	router := api.NewRouter(manager, cfg, log)
	adminSrv := &http.Server{
		Addr:    adminAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("admin API listening", zap.String("addr", adminAddr))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("admin API failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = adminSrv.Shutdown(shutdownCtx)

	if err := manager.ExitWithHelper(context.Background(), false); err != nil {
		log.Warn("exit with helper returned error", zap.Error(err))
	}
	if err := manager.TerminateHelper(); err != nil {
		log.Warn("terminate helper returned error", zap.Error(err))
	}
	return nil
}
