//go:build wireinject
// +build wireinject

package di

import (
	"github.com/firebird631/siis-rev/pkg/config"
	"github.com/firebird631/siis-rev/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideCache,

		// Repositories
		ProvideBackend,
		ProvidePublisher,

		// Pipeline
		ProvideStore,
		ProvideTable,
		ProvideIngestor,
		ProvideKafkaTicksHandler,
		ProvideCandlesUseCase,
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
