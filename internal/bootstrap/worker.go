package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urbanpulse/demandmap/internal/config"
	"github.com/urbanpulse/demandmap/internal/infrastructure/messaging/kafka"
	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/logging"
	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/prometheus"
)

// RunWorker assembles the application and consumes ingestion events,
// re-fitting the model whenever a new observation set lands. It blocks until
// SIGINT or SIGTERM.
func RunWorker(cfg *config.Config, log logging.Logger) error {
	app, err := NewApp(cfg, log, "worker")
	if err != nil {
		return err
	}
	defer app.Close()

	consumer, err := kafka.NewConsumer(cfg.Kafka, []string{kafka.TopicObservationsIngested}, log)
	if err != nil {
		return err
	}

	consumer.RegisterHandler(kafka.TopicObservationsIngested,
		func(ctx context.Context, env *kafka.EventEnvelope) error {
			var payload kafka.ObservationsIngestedPayload
			if err := env.DecodePayload(&payload); err != nil {
				return err
			}

			log.Info("refitting on ingested observations",
				logging.String("event_id", env.EventID),
				logging.Int("units", payload.DatasetSize))

			start := time.Now()
			result, err := app.Service.RunAnalysis(ctx, "worker")
			if err != nil {
				prometheus.RecordError(app.Metrics, "worker", "analysis_failed")
				return err
			}

			log.Info("worker analysis complete",
				logging.String("run_id", result.Fit.RunID),
				logging.Bool("converged", result.Fit.Converged),
				logging.Duration("elapsed", time.Since(start)))
			return nil
		})

	if err := consumer.Start(context.Background()); err != nil {
		return err
	}
	log.Info("worker consuming", logging.String("topic", kafka.TopicObservationsIngested))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop

	log.Info("shutting down", logging.String("signal", sig.String()))
	return consumer.Stop()
}
