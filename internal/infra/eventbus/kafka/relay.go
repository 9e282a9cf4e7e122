// Package kafka republishes dashboard updates to Kafka so consumers outside
// the process can follow the live stream.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/avolric/crewsight/internal/domain/dashboard"
	"github.com/avolric/crewsight/internal/infra/eventbus/kafka/tracing"
	"github.com/avolric/crewsight/pkg/common/logger"
)

// RelayMetrics defines metrics operations needed to monitor outbound update
// publishing.
type RelayMetrics interface {
	IncUpdatePublished(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
}

// RelayConfig maps update kinds onto the Kafka topics they are relayed to.
type RelayConfig struct {
	// TaskEventsTopic receives task started and completed updates.
	TaskEventsTopic string
	// WorkerEventsTopic receives clock-in and clock-out updates.
	WorkerEventsTopic string
	// MetricsEventsTopic receives metrics, compliance and performance updates.
	MetricsEventsTopic string
	// PortfolioEventsTopic receives portfolio shape and intelligence updates.
	PortfolioEventsTopic string

	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

var _ dashboard.UpdatePublisher = (*UpdateRelay)(nil)

// UpdateRelay implements the UpdatePublisher interface on top of a Kafka
// sync producer. Each update is serialized to a JSON envelope and routed to
// the topic configured for its kind.
type UpdateRelay struct {
	producer sarama.SyncProducer

	// Maps update kinds to their Kafka topics.
	topicMap map[dashboard.UpdateKind]string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics RelayMetrics
}

// NewUpdateRelay creates an UpdateRelay that publishes through the provided
// producer. The caller owns the producer's lifecycle up to the point this
// function succeeds; afterwards Close releases it.
func NewUpdateRelay(
	producer sarama.SyncProducer,
	cfg *RelayConfig,
	logger *logger.Logger,
	metrics RelayMetrics,
	tracer trace.Tracer,
) (*UpdateRelay, error) {
	if metrics == nil {
		return nil, fmt.Errorf("metrics are required for kafka update relay")
	}

	logger = logger.With(
		"component", "kafka_update_relay",
		"client_id", cfg.ClientID,
	)

	topicMap := map[dashboard.UpdateKind]string{
		dashboard.KindTaskStarted:           cfg.TaskEventsTopic,
		dashboard.KindTaskCompleted:         cfg.TaskEventsTopic,
		dashboard.KindWorkerClockedIn:       cfg.WorkerEventsTopic,
		dashboard.KindWorkerClockedOut:      cfg.WorkerEventsTopic,
		dashboard.KindMetricsChanged:        cfg.MetricsEventsTopic,
		dashboard.KindComplianceChanged:     cfg.MetricsEventsTopic,
		dashboard.KindPerformanceChanged:    cfg.MetricsEventsTopic,
		dashboard.KindPortfolioUpdated:      cfg.PortfolioEventsTopic,
		dashboard.KindIntelligenceGenerated: cfg.PortfolioEventsTopic,
	}

	return &UpdateRelay{
		producer: producer,
		topicMap: topicMap,
		logger:   logger,
		tracer:   tracer,
		metrics:  metrics,
	}, nil
}

// updateEnvelope is the wire form of a dashboard update. The payload keeps
// the kind-specific fields; kind tells consumers how to decode it.
type updateEnvelope struct {
	ID          uuid.UUID       `json:"id"`
	Kind        string          `json:"kind"`
	Origin      string          `json:"origin"`
	BuildingID  *uuid.UUID      `json:"building_id,omitempty"`
	WorkerID    *uuid.UUID      `json:"worker_id,omitempty"`
	Description string          `json:"description"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// PublishUpdate sends a dashboard update to the Kafka topic configured for
// its kind. Updates without an explicit key are keyed by their own id.
func (r *UpdateRelay) PublishUpdate(ctx context.Context, update dashboard.DashboardUpdate, opts ...dashboard.PublishOption) error {
	topic, ok := r.topicMap[update.UpdateKind()]
	if !ok {
		return fmt.Errorf("unknown update kind '%s', no topic mapped", update.UpdateKind())
	}

	ctx, span := tracing.StartProducerSpan(ctx, topic, r.tracer)
	defer span.End()

	var pParams dashboard.PublishParams
	for _, opt := range opts {
		opt(&pParams)
	}

	key := pParams.Key
	if key == "" {
		key = update.ID().String()
	}
	span.SetAttributes(
		attribute.String("update.key", key),
		attribute.String("update.kind", string(update.UpdateKind())),
	)

	msgBytes, err := serializeUpdate(update)
	if err != nil {
		span.RecordError(err)
		if r.metrics != nil {
			r.metrics.IncPublishError(ctx, topic)
		}
		return fmt.Errorf("failed to serialize %s update: %w", update.UpdateKind(), err)
	}

	return r.publishToTopic(ctx, topic, key, pParams.Headers, msgBytes)
}

// publishToTopic handles the actual publishing of a message to a single
// Kafka topic.
func (r *UpdateRelay) publishToTopic(ctx context.Context, topic, key string, headers map[string]string, msgBytes []byte) error {
	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(msgBytes),
	}
	for hk, hv := range headers {
		kafkaMsg.Headers = append(kafkaMsg.Headers, sarama.RecordHeader{
			Key:   []byte(hk),
			Value: []byte(hv),
		})
	}

	tracing.InjectTraceContext(ctx, kafkaMsg)

	partition, offset, err := r.producer.SendMessage(kafkaMsg)
	if err != nil {
		if r.metrics != nil {
			r.metrics.IncPublishError(ctx, topic)
		}
		return fmt.Errorf("failed to send update to kafka topic %s: %w", topic, err)
	}

	if r.metrics != nil {
		r.metrics.IncUpdatePublished(ctx, topic)
	}

	r.logger.Debug(ctx, "Published update to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"key", key,
	)

	return nil
}

func serializeUpdate(update dashboard.DashboardUpdate) ([]byte, error) {
	payload, err := json.Marshal(update.Payload())
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	return json.Marshal(updateEnvelope{
		ID:          update.ID(),
		Kind:        string(update.UpdateKind()),
		Origin:      string(update.Origin()),
		BuildingID:  update.BuildingID(),
		WorkerID:    update.WorkerID(),
		Description: update.Description(),
		OccurredAt:  update.OccurredAt(),
		Payload:     payload,
	})
}

// Close shuts down the underlying producer. Pending sends complete first.
func (r *UpdateRelay) Close() error {
	return r.producer.Close()
}
