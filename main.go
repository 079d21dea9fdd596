package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nixxel-company-limited/ql-usb-server/adapter"
	"github.com/nixxel-company-limited/ql-usb-server/cache"
	"github.com/nixxel-company-limited/ql-usb-server/prepare"
	"github.com/nixxel-company-limited/ql-usb-server/printjob"
	"github.com/nixxel-company-limited/ql-usb-server/raster"
	"github.com/nixxel-company-limited/ql-usb-server/server"
	"github.com/nixxel-company-limited/ql-usb-server/session"
	"github.com/nixxel-company-limited/ql-usb-server/settings"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func newCache(cfg settings.CacheConfig, logger *zap.Logger) (cache.Cache, func()) {
	switch cfg.Backend {
	case "redis":
		rc := cache.NewRedis(cfg.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("Redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		return rc, func() { rc.Close() }
	case "none":
		return nil, func() {}
	default:
		return cache.NewMemory(0), func() {}
	}
}

func newPreparer(cfg settings.PrepareConfig, logger *zap.Logger) prepare.Preparer {
	if cfg.URL != "" {
		logger.Info("Using remote renderer", zap.String("url", cfg.URL))
		return prepare.NewRemote(cfg.URL, &http.Client{Timeout: cfg.Timeout}, logger)
	}
	return prepare.NewLocal(raster.NewRasterizer(nil, logger), cfg.Encoding)
}

// usbOpener returns a fresh adapter for every connect so a replugged
// printer is found again.
func usbOpener(cfg settings.PrinterConfig, logger *zap.Logger) session.Opener {
	match := adapter.Match{Vendor: cfg.VendorID, Product: cfg.ProductID, Serial: cfg.Serial}
	return func() adapter.Adapter {
		a := adapter.NewUSBAdapter(match, logger)
		a.On(adapter.EventOpen, func(e adapter.Event) {
			logger.Info("Printer opened", zap.String("device", e.Device))
		})
		a.On(adapter.EventClose, func(e adapter.Event) {
			logger.Info("Printer closed", zap.String("device", e.Device))
		})
		a.On(adapter.EventError, func(e adapter.Event) {
			logger.Warn("Printer error", zap.String("device", e.Device), zap.Error(e.Error))
		})
		return a
	}
}

func main() {
	cfg, err := settings.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	store, err := settings.NewStore(cfg.Print)
	if err != nil {
		logger.Fatal("Invalid print settings", zap.Error(err))
	}

	sess := session.New(usbOpener(cfg.Printer, logger), session.Options{
		StatusDelay: cfg.Printer.StatusDelay,
		ReadTimeout: cfg.Printer.ReadTimeout,
	}, logger)

	prepared, closeCache := newCache(cfg.Cache, logger)
	defer closeCache()

	orch := printjob.New(sess, newPreparer(cfg.Prepare, logger), store, printjob.Options{
		Cache:    prepared,
		CacheTTL: cfg.Cache.TTL,
		Encoding: cfg.Prepare.Encoding,
	}, logger)

	// A missing printer is not fatal; every job connects again.
	if err := sess.Connect(context.Background()); err != nil {
		logger.Warn("Printer not available yet", zap.Error(err))
	}

	var raw *server.Server
	if cfg.Server.Address != "" {
		raw = server.New(orch, cfg.Server.Address, logger)
		if err := raw.StartAsync(); err != nil {
			logger.Fatal("Failed to start raw server", zap.Error(err))
		}
	}

	var httpServer *http.Server
	if cfg.Server.HTTPAddress != "" {
		mux := http.NewServeMux()
		server.NewHandler(orch, store, logger).RegisterRoutes(mux)
		httpServer = &http.Server{
			Addr:         cfg.Server.HTTPAddress,
			Handler:      mux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			logger.Info("Starting HTTP server", zap.String("address", cfg.Server.HTTPAddress))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("Server started",
		zap.String("raw_address", cfg.Server.Address),
		zap.String("http_address", cfg.Server.HTTPAddress),
		zap.String("cache", cfg.Cache.Backend))

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
	}
	if raw != nil {
		if err := raw.Stop(); err != nil {
			logger.Error("Raw server shutdown failed", zap.Error(err))
		}
	}
	if err := sess.Disconnect(); err != nil {
		logger.Error("Printer release failed", zap.Error(err))
	}
	logger.Info("Server shutdown complete")
}
