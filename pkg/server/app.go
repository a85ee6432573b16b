package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	domrepo "github.com/firebird631/siis-rev/internal/domain/repository"
	"github.com/firebird631/siis-rev/internal/store"
	"github.com/firebird631/siis-rev/internal/usecase"
	pkgch "github.com/firebird631/siis-rev/pkg/clickhouse"
	"github.com/firebird631/siis-rev/pkg/config"
	xhttp "github.com/firebird631/siis-rev/pkg/http"
	pkgkafka "github.com/firebird631/siis-rev/pkg/kafka"
	applogger "github.com/firebird631/siis-rev/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg       *config.Config
	log       *applogger.Logger
	store     *store.Store
	ingestor  *usecase.Ingestor
	consumer  *pkgkafka.Consumer
	kh        pkgkafka.MessageHandler
	chClient  *pkgch.Client
	publisher domrepo.Publisher

	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	st *store.Store,
	ingestor *usecase.Ingestor,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	chClient *pkgch.Client,
	publisher domrepo.Publisher,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		ingestor:  ingestor,
		consumer:  consumer,
		kh:        kh,
		chClient:  chClient,
		publisher: publisher,
	}
}

// SetHTTPHandler allows DI to inject an HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Register configured markets so aggregation starts from the first
	// tick, then launch the write-behind flusher.
	for _, market := range a.cfg.Broker.Markets {
		if err := a.ingestor.Watch(market); err != nil {
			return err
		}
	}
	a.log.Info("markets watched", applogger.Strings("markets", a.cfg.Broker.Markets))

	a.store.Start()

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithServerLogger(a.log, 0),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown stops intake first, then drains the store so nothing
// buffered is lost, then releases the infrastructure clients.
func (a *App) shutdown(ctx context.Context) error {
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store drain error", applogger.Error(err))
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("publisher close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
