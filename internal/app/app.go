// Package app собирает слой доступа к данным, фоновую публикацию
// событий и операционный HTTP-сервер в работающее приложение.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/uos/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/uos/internal/health"
	"github.com/vladislavdragonenkov/uos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/uos/internal/metrics"
	"github.com/vladislavdragonenkov/uos/internal/service/changefeed"
	"github.com/vladislavdragonenkov/uos/internal/service/outbox"
	"github.com/vladislavdragonenkov/uos/internal/version"
)

// App — собранное приложение: репозитории с changefeed-обёртками,
// outbox worker и операционные HTTP-ручки.
type App struct {
	// Users и Orders — готовые к использованию репозитории;
	// успешные изменения через них попадают в outbox.
	Users  domain.UserRepository
	Orders domain.OrderRepository
	Outbox domain.OutboxRepository

	cfg           Config
	logger        *log.Entry
	deps          *runtimeDependencies
	kafkaProducer *kafka.Producer
	auditConsumer *kafka.Consumer
	worker        *outbox.Worker
	retention     *outbox.RetentionWorker
	healthHandler *healthcheck.Handler

	closeOnce sync.Once
}

// New собирает приложение по конфигурации.
func New(ctx context.Context, cfg Config) (*App, error) {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Ошибка подключения к Kafka не фатальна: репозитории работают,
	// события копятся в outbox до восстановления брокера.
	kafkaProducer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		kafkaProducer = nil
	}

	feedLogger := logger.WithField("layer", "changefeed")
	storageMetrics := metrics.NewStorageMetrics()
	users := changefeed.NewUserRepository(deps.users, deps.outboxRepo, storageMetrics, feedLogger)
	orders := changefeed.NewOrderRepository(deps.orders, deps.outboxRepo, storageMetrics, feedLogger)

	var worker *outbox.Worker
	if kafkaProducer != nil {
		publisher := kafka.NewOutboxPublisher(kafkaProducer)
		worker = outbox.NewWorker(
			deps.outboxRepo,
			publisher,
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithMetrics(storageMetrics),
			outbox.WithDLQPublisher(kafka.NewDLQPublisher(kafkaProducer)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
	}

	// Аудит событий опционален: ошибка подписки не мешает основной работе.
	var auditConsumer *kafka.Consumer
	if kafkaProducer != nil {
		auditConsumer, _ = initEventAuditConsumer(cfg, kafkaProducer, logger)
	}

	retention := outbox.NewRetentionWorker(deps.outboxRepo, outbox.RetentionOptions{
		Logger:   logger.WithField("layer", "outbox-retention"),
		Interval: cfg.OutboxRetentionInterval,
		MaxAge:   cfg.OutboxRetention,
	})

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.pinger != nil {
		healthHandler.RegisterChecker(deps.driver, healthcheck.NewStoreChecker(deps.driver, deps.pinger, 2*time.Second))
	}

	return &App{
		Users:         users,
		Orders:        orders,
		Outbox:        deps.outboxRepo,
		cfg:           cfg,
		logger:        logger,
		deps:          deps,
		kafkaProducer: kafkaProducer,
		auditConsumer: auditConsumer,
		worker:        worker,
		retention:     retention,
		healthHandler: healthHandler,
	}, nil
}

// Run блокируется до отмены ctx: поднимает операционный HTTP-сервер
// и гоняет outbox worker.
func (a *App) Run(ctx context.Context) error {
	metricsSrv := startMetricsServer(ctx, a.cfg.MetricsAddr, a.logger, a.healthHandler)

	var wg sync.WaitGroup
	if a.worker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.worker.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.retention.Run(ctx)
	}()

	if a.auditConsumer != nil {
		if err := a.auditConsumer.Start(ctx); err != nil {
			a.logger.WithError(err).Warn("failed to start event audit consumer")
		}
	}

	<-ctx.Done()
	a.logger.Info("получен сигнал остановки")

	wg.Wait()
	shutdownHTTP(metricsSrv, a.logger)
	a.Close()

	return ctx.Err()
}

// Close освобождает ресурсы приложения: producer и хранилище.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.auditConsumer != nil {
			if err := a.auditConsumer.Stop(); err != nil {
				a.logger.WithError(err).Warn("failed to stop event audit consumer")
			}
		}
		closeKafka(a.kafkaProducer, a.logger)
		if err := a.deps.close(); err != nil {
			a.logger.WithError(err).Warn("failed to close storage")
		}
	})
}

// Run собирает приложение и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	application, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return application.Run(ctx)
}

// startMetricsServer запускает HTTP-обработчики /metrics и health checks.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
