package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mssqlpipe/config"
	handlers "mssqlpipe/handler"
	"mssqlpipe/logger"
	"mssqlpipe/model"
	"mssqlpipe/router"
	"mssqlpipe/service/db"
	"mssqlpipe/service/session"
)

// initFlags initializes the command line flags
func initFlags() *model.CommandLineFlags {

	appFlags := &model.CommandLineFlags{}
	appFlags.Host = flag.String("host", "", "API host. Overrides the config file.")
	appFlags.Port = flag.String("port", "", "API port. Overrides the config file.")
	appFlags.Config = flag.String("config", "", "Configuration file path. Optional.")
	flag.Parse()

	return appFlags
}

func main() {
	appFlags := initFlags()
	config.InitConfig(*appFlags.Config)
	cfg := config.Config

	log := logger.InitZap(cfg.Logging.Level, cfg.Logging.File)
	defer log.Sync()

	host := cfg.Listen.Host
	if *appFlags.Host != "" {
		host = *appFlags.Host
	}
	port := cfg.Listen.Port
	if *appFlags.Port != "" {
		port = *appFlags.Port
	}

	conn, err := db.Connect(db.ConnectionSettings{
		Host:                   cfg.Mssql.Host,
		Port:                   cfg.Mssql.Port,
		User:                   cfg.Mssql.User,
		Password:               cfg.Mssql.Password,
		Database:               cfg.Mssql.Database,
		TrustServerCertificate: cfg.Mssql.TrustServerCertificate,
	})
	if err != nil {
		log.Fatal("failed to connect to sqlserver", zap.Error(err))
	}
	defer conn.Close()

	gateway := db.NewGateway(conn)
	registry := session.NewRegistry(gateway, cfg.Sessions.TimeoutS, cfg.Sessions.MaxConcurrent, log)

	stopSweep := make(chan struct{})
	go retentionSweep(registry, time.Duration(cfg.Sessions.RetentionS)*time.Second, log, stopSweep)

	h := &handlers.Handler{
		Registry: registry,
		Gateway:  gateway,
		TimeoutS: cfg.Sessions.TimeoutS,
	}
	srv := &http.Server{
		Addr:    host + ":" + port,
		Handler: router.NewRouter(h, log),
	}

	go func() {
		log.Info("mssqlpipe API running", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")
	close(stopSweep)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	if err := registry.Shutdown(ctx); err != nil {
		log.Error("session shutdown", zap.Error(err))
	}
}

// retentionSweep evicts terminal sessions older than maxAge on a fixed tick.
func retentionSweep(registry *session.Registry, maxAge time.Duration, log *zap.Logger, stop <-chan struct{}) {
	if maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := registry.CleanupExpired(maxAge); n > 0 {
				log.Info("expired sessions cleaned", zap.Int("count", n))
			}
		case <-stop:
			return
		}
	}
}
