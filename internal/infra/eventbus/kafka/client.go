package kafka

import (
	"github.com/IBM/sarama"
)

// ClientConfig contains the connection settings for the relay's Kafka client.
type ClientConfig struct {
	Brokers  []string
	ClientID string
}

// NewClient creates a Kafka client configured for synchronous, fully
// acknowledged publishing. The relay only produces, so no consumer settings
// are applied.
func NewClient(cfg *ClientConfig) (sarama.Client, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	// Version should be consistent across all components
	config.Version = sarama.V3_6_0_0

	return sarama.NewClient(cfg.Brokers, config)
}
