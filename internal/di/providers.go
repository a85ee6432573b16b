package di

import (
	"context"
	"fmt"
	"time"

	"github.com/firebird631/siis-rev/internal/domain/models"
	"github.com/firebird631/siis-rev/internal/domain/repository"
	"github.com/firebird631/siis-rev/internal/handler/api"
	"github.com/firebird631/siis-rev/internal/ohlc"
	internalrepo "github.com/firebird631/siis-rev/internal/repository"
	"github.com/firebird631/siis-rev/internal/store"
	"github.com/firebird631/siis-rev/internal/usecase"
	"github.com/firebird631/siis-rev/pkg/cache"
	pkgch "github.com/firebird631/siis-rev/pkg/clickhouse"
	"github.com/firebird631/siis-rev/pkg/config"
	xhttp "github.com/firebird631/siis-rev/pkg/http"
	pkgkafka "github.com/firebird631/siis-rev/pkg/kafka"
	applogger "github.com/firebird631/siis-rev/pkg/logger"
	"github.com/firebird631/siis-rev/pkg/metrics"
	"github.com/firebird631/siis-rev/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	format := "json"
	if cfg.Environment == "development" {
		format = "console"
	}
	return applogger.New(&applogger.Config{Level: "info", Format: format, Output: "stdout"})
}

// ProvideClickHouseClient creates a ClickHouse client and ensures the schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.Schema()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideBackend creates the durable backend over ClickHouse.
func ProvideBackend(chClient *pkgch.Client) repository.Backend {
	return internalrepo.NewClickHouseBackend(chClient.DB())
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher creates the closed-candle publisher. Disabled when no
// topic is configured.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if cfg.Kafka.OhlcTopic == "" {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.OhlcTopic)
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideCache creates the query cache: layered over Redis when enabled,
// in-process otherwise.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix("siis"),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(rc), nil
}

// ProvideStore creates the write-behind store.
func ProvideStore(backend repository.Backend, m repository.Metrics, log *applogger.Logger, cfg *config.Config) *store.Store {
	opts := []store.Option{
		store.WithLogger(log),
		store.WithMetrics(m),
	}
	if cfg.Store.FlushInterval > 0 {
		opts = append(opts, store.WithFlushInterval(cfg.Store.FlushInterval))
	}
	if cfg.Store.OhlcBatchSize > 0 && cfg.Store.OhlcFlushMax > 0 {
		opts = append(opts, store.WithOhlcBatching(cfg.Store.OhlcBatchSize, cfg.Store.OhlcFlushMax))
	}
	if cfg.Store.CleanupInterval > 0 {
		opts = append(opts, store.WithCleanupInterval(cfg.Store.CleanupInterval))
	}
	if cfg.Store.BackoffMin > 0 && cfg.Store.BackoffMax > 0 {
		opts = append(opts, store.WithBackoff(cfg.Store.BackoffMin, cfg.Store.BackoffMax))
	}
	if cfg.TickLog.Enabled {
		opts = append(opts, store.WithTickLog(cfg.TickLog.Path))
	}
	return store.New(backend, opts...)
}

// ProvideTable creates the aggregation fan-out table from the configured
// baseline timeframes.
func ProvideTable(cfg *config.Config) (*ohlc.Table, error) {
	baseline := make([]models.Timeframe, 0, len(cfg.Aggregation.Timeframes))
	for _, name := range cfg.Aggregation.Timeframes {
		tf, err := models.ParseTimeframe(name)
		if err != nil {
			return nil, fmt.Errorf("aggregation timeframe %q: %w", name, err)
		}
		baseline = append(baseline, tf)
	}
	return ohlc.NewTable(baseline)
}

// ProvideIngestor creates the tick ingestion pipeline.
func ProvideIngestor(
	cfg *config.Config,
	table *ohlc.Table,
	st *store.Store,
	publisher repository.Publisher,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.Ingestor {
	return usecase.NewIngestor(cfg.Broker.ID, table, st, publisher, m, log)
}

// ProvideKafkaConsumer creates the tick consumer. Workers are pinned to
// one so ticks of a market are applied in order.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(1),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKafkaTicksHandler registers the handler for the ticks topic.
func ProvideKafkaTicksHandler(cfg *config.Config, ingestor *usecase.Ingestor, m repository.Metrics) *usecase.KafkaTicksHandler {
	return usecase.NewKafkaTicksHandler(cfg.Kafka.TicksTopic, ingestor, m)
}

// ProvideCandlesUseCase creates the candle query use case.
func ProvideCandlesUseCase(backend repository.Backend, c cache.Service, log *applogger.Logger) *usecase.CandlesUseCase {
	return usecase.NewCandlesUseCase(backend, c, log)
}

// ProvideHTTPHandler creates the ops API handler.
func ProvideHTTPHandler(
	log *applogger.Logger,
	candles *usecase.CandlesUseCase,
	ingestor *usecase.Ingestor,
	st *store.Store,
	backend repository.Backend,
) xhttp.Handler {
	return api.NewOhlcEchoHandler(log, candles, ingestor, st, backend)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	st *store.Store,
	ingestor *usecase.Ingestor,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaTicksHandler,
	chClient *pkgch.Client,
	publisher repository.Publisher,
	httpHandler xhttp.Handler,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}
	app := server.New(cfg, log, st, ingestor, consumer, kh, chClient, publisher)
	app.SetHTTPHandler(httpHandler)
	return app
}
