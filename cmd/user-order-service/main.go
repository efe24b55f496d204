package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/uos/internal/app"
	"github.com/vladislavdragonenkov/uos/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

func main() {
	setupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.WithError(err).Fatal("сервис завершился с ошибкой")
	}

	log.Info("сервис остановлен")
}

// run читает конфигурацию и блокируется до остановки приложения.
func run(ctx context.Context) error {
	cfg, err := app.ConfigFromEnv()
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"version":      version.GetVersion(),
		"storage":      cfg.StorageDriver,
		"metrics_addr": cfg.MetricsAddr,
	}).Info("запускаем user-order-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
