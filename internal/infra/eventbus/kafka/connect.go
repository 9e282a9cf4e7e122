package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/avolric/crewsight/pkg/common/logger"
)

// ConnectRelay creates an UpdateRelay from the provided Kafka client,
// retrying producer setup with exponential backoff for up to 5 minutes.
// This helps handle temporary network issues or Kafka cluster unavailability
// during startup.
func ConnectRelay(
	cfg *RelayConfig,
	client sarama.Client,
	logger *logger.Logger,
	metrics RelayMetrics,
	tracer trace.Tracer,
) (*UpdateRelay, error) {
	var relay *UpdateRelay

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			return fmt.Errorf("creating producer: %w", err)
		}

		relay, err = NewUpdateRelay(producer, cfg, logger, metrics, tracer)
		if err != nil {
			producer.Close() // Clean up on failure
			return fmt.Errorf("creating update relay: %w", err)
		}
		return nil
	}

	err := backoff.Retry(operation, expBackoff)
	if err != nil {
		return nil, fmt.Errorf("failed to connect update relay after retries: %w", err)
	}

	return relay, nil
}
