// Package kafka provides an output backend which publishes artifacts to
// a Kafka topic. The artifact key becomes the message key; each part of a
// run has its own artifact key, so parts may land on different partitions.
package kafka

import (
	"context"
	"strings"

	"github.com/IBM/sarama"

	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/outputs"
	"github.com/hashicorp-forge/grove/pkg/settings"
)

// Name is the handler name this backend registers under.
const Name = "kafka"

func init() {
	outputs.Register(Name, func() (outputs.Output, error) {
		brokers := settings.Backend("output", Name, "brokers")
		if brokers == "" {
			return nil, errors.New(errors.ErrorTypeConfiguration, "GROVE_OUTPUT_KAFKA_BROKERS must be set")
		}
		topic := settings.BackendDefault("output", Name, "topic", "grove")

		config := sarama.NewConfig()
		config.Version = sarama.V2_1_0_0
		config.Producer.RequiredAcks = sarama.WaitForAll
		config.Producer.Return.Successes = true
		config.Producer.Idempotent = true
		config.Net.MaxOpenRequests = 1

		producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), config)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBackend, "unable to construct Kafka producer")
		}
		return New(producer, topic), nil
	})
}

// Output publishes artifacts to a Kafka topic using a synchronous
// producer, so Submit does not return before the broker acknowledges.
type Output struct {
	producer sarama.SyncProducer
	topic    string
}

// New constructs a Kafka output over the given producer.
func New(producer sarama.SyncProducer, topic string) *Output {
	return &Output{producer: producer, topic: topic}
}

// Submit publishes the artifact as a single message. Provenance metadata
// rides along as message headers.
func (o *Output) Submit(_ context.Context, key string, data []byte, metadata map[string]string) error {
	headers := make([]sarama.RecordHeader, 0, len(metadata))
	for field, value := range metadata {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte(field),
			Value: []byte(value),
		})
	}

	message := &sarama.ProducerMessage{
		Topic:   o.topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(data),
		Headers: headers,
	}

	if _, _, err := o.producer.SendMessage(message); err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackend, "unable to publish artifact to Kafka")
	}
	return nil
}

// Close shuts down the underlying producer.
func (o *Output) Close() error {
	return o.producer.Close()
}
