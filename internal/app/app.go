// Package app wires the saga orchestration host together: config, SSS
// backing store, EB transport, CFI, metrics/logging, the engine and
// choreographer, and the admin HTTP surface. It mirrors the teacher's
// per-service internal/app.App{NewApp,Run,Shutdown} shape.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/director74/sagacore/pkg/config"
	"github.com/director74/sagacore/pkg/database"
	sagaerrors "github.com/director74/sagacore/pkg/errors"
	"github.com/director74/sagacore/pkg/eventbus"
	"github.com/director74/sagacore/pkg/failureinjector"
	"github.com/director74/sagacore/pkg/participants"
	"github.com/director74/sagacore/pkg/saga"
	"github.com/director74/sagacore/pkg/sagahttp"
	"github.com/director74/sagacore/pkg/sagalog"
	"github.com/director74/sagacore/pkg/sagametrics"
	"github.com/director74/sagacore/pkg/sagastore"
)

const serviceName = "sagacore"

// App holds every long-lived collaborator the host needs to start and stop
// cleanly.
type App struct {
	config     *config.CommonConfig
	httpServer *http.Server
	db         *gorm.DB
	bus        *eventbus.Bus
	store      saga.Store
}

// NewApp builds the full dependency graph. When RabbitMQ/Postgres are
// unreachable the relevant collaborator falls back to an in-process
// equivalent (sagastore.InMemoryStore, no event bus) rather than refusing
// to start — useful for local development, at the cost of durability
// across restarts (§9's sanctioned fallback).
func NewApp(cfg *config.CommonConfig) (*App, error) {
	logger := sagalog.New(serviceName)
	metrics := sagametrics.New(serviceName)

	var store saga.Store
	var db *gorm.DB
	pgDB, err := database.NewPostgresDBWithRetry(cfg.Postgres, cfg.Saga.RetryBackoff)
	if err != nil {
		sagalog.Warnf("postgres unavailable, falling back to in-memory saga store: %v", err)
		store = sagastore.NewInMemoryStore()
	} else {
		if err := database.AutoMigrateWithCleanup(pgDB, sagastore.Models()...); err != nil {
			database.CloseDB(pgDB)
			return nil, sagaerrors.AppendPrefix(err, "failed to migrate saga store")
		}
		db = pgDB
		store = sagastore.NewPostgresStore(pgDB)
	}

	var bus *eventbus.Bus
	eb, err := eventbus.New(eventbus.Config{
		Host:     cfg.RabbitMQ.Host,
		Port:     cfg.RabbitMQ.Port,
		User:     cfg.RabbitMQ.User,
		Password: cfg.RabbitMQ.Password,
		VHost:    cfg.RabbitMQ.VHost,
	}, cfg.Saga.RetryBackoff, metrics)
	if err != nil {
		sagalog.Warnf("rabbitmq unavailable, continuing without the event bus: %v", err)
	} else {
		bus = eb
	}

	injector := failureinjector.New().WithMetrics(metrics)
	initialStock := map[string]map[string]int{
		"store-1": {"widget": 100, "gadget": 50},
	}
	fake := participants.NewInMemory(injector, initialStock)

	engine := saga.NewEngine(store, bus, metrics, logger, serviceName, cfg.Saga.RetryBackoff)
	engine.RegisterTemplate(saga.TypeSale, func() saga.Template { return saga.SaleSagaTemplate(fake, fake, fake) })
	engine.RegisterTemplate(saga.TypeOrder, func() saga.Template { return saga.OrderSagaTemplate(fake, fake, fake) })
	engine.RegisterTemplate(saga.TypeStockUpdate, func() saga.Template { return saga.StockUpdateSagaTemplate(fake) })

	if bus != nil {
		choreographer := saga.NewChoreographer(store, bus, metrics, logger, serviceName)
		if err := choreographer.Subscribe("sagacore"); err != nil {
			sagalog.Warnf("failed to subscribe choreographer: %v", err)
		}
	}

	handler := sagahttp.NewHandler(engine, store, injector)

	router := gin.Default()
	router.Use(sagaerrors.RecoveryMiddleware())
	router.Use(sagaerrors.ErrorMiddleware())
	router.NoRoute(sagaerrors.NotFoundHandler())
	router.NoMethod(sagaerrors.MethodNotAllowedHandler())
	handler.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &App{
		config:     cfg,
		httpServer: httpServer,
		db:         db,
		bus:        bus,
		store:      store,
	}, nil
}

// Run starts the HTTP server and blocks until an interrupt or terminate
// signal is received.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Printf("saga admin surface listening on port %s", a.config.HTTP.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("shutdown signal received")
	case <-ctx.Done():
	}

	return a.Shutdown()
}

// Shutdown closes every collaborator, collecting failures rather than
// stopping at the first one.
func (a *App) Shutdown() error {
	errGroup := sagaerrors.NewErrorGroup()

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errGroup.AddPrefix(err, "failed to close http server")
		}
	}

	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			errGroup.AddPrefix(err, "failed to close event bus")
		}
	}

	if a.db != nil {
		if err := database.CloseDB(a.db); err != nil {
			errGroup.AddPrefix(err, "failed to close database")
		}
	}

	if errGroup.HasErrors() {
		return fmt.Errorf("shutdown: %w", errGroup)
	}

	log.Println("saga host shut down cleanly")
	return nil
}
