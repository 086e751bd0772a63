package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/crmforge/policy-engine/internal/config"
	"github.com/crmforge/policy-engine/internal/repository/postgres"
	"github.com/crmforge/policy-engine/internal/service"
	myhttp "github.com/crmforge/policy-engine/internal/transport/http"
	"github.com/crmforge/policy-engine/pkg/logger/slogpretty"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	log := slogpretty.SetupLogger(cfg.Env)

	log.Info("starting policy-engine", slog.String("env", cfg.Env))

	errChan := make(chan error, 1)

	pg, err := postgres.NewDB(cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("failed to init db: %v", err)
	}
	defer func() {
		if err := pg.DB().Close(); err != nil {
			log.Error("db close failed", slog.String("error", err.Error()))
		}
	}()

	db := pg.DB()

	slaRepo := postgres.NewSLARepository(db, log)
	ruleRepo := postgres.NewRuleRepository(db, log)
	assignmentRepo := postgres.NewAssignmentRepository(db, log)

	slaService := service.NewSLAService(db, db, log, slaRepo)
	assignmentService := service.NewAssignmentService(db, db, log, ruleRepo, assignmentRepo)

	srv := myhttp.NewServer(log, slaService, assignmentService)
	httpServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Routes(),
	}

	go startServer(log, httpServer, errChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("http server error: %v", err)

	case <-ctx.Done():
		log.Info("stopping server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down http server: %v", err)
	}

	return nil
}

func startServer(log *slog.Logger, httpServer *http.Server, errChan chan error) {
	defer close(errChan)

	log.Info("service started", slog.String("addr", httpServer.Addr))

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- fmt.Errorf("error listening and serving: %v", err)
	}
}
