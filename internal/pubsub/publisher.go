// Package pubsub streams analytical events to Redpanda topics. Publishing is
// strictly best-effort: failures are logged and dropped, never blocking the
// pipeline.
package pubsub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/runic-indexer/runic/internal/config"
	"github.com/runic-indexer/runic/internal/model"
)

// Publisher wraps a Kafka producer with the topic layout
// <prefix>.<chain_id>.{swaps,liquidity,new_pools}.
type Publisher struct {
	producer    *kafka.Producer
	topicPrefix string
	logger      *zap.Logger
}

// NewPublisher returns nil (no publisher) when Redpanda is disabled.
func NewPublisher(cfg config.RedpandaConfig, logger *zap.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("pubsub")

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":            cfg.Brokers,
		"message.timeout.ms":           5000,
		"queue.buffering.max.messages": 100000,
		"linger.ms":                    5,
	})
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}

	p := &Publisher{producer: producer, topicPrefix: cfg.TopicPrefix, logger: logger}
	go p.drainDeliveryReports()

	logger.Info("publisher connected", zap.String("brokers", cfg.Brokers),
		zap.String("topic_prefix", cfg.TopicPrefix))
	return p, nil
}

// drainDeliveryReports logs failed deliveries; successes are discarded.
func (p *Publisher) drainDeliveryReports() {
	for e := range p.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			p.logger.Warn("delivery failed", zap.Error(m.TopicPartition.Error))
		}
	}
}

// PublishBatch streams one processed batch: swaps and liquidity events to
// their event-class topics, discoveries to new_pools. At-least-once;
// consumers dedupe on (chain_id, tx_hash, log_index).
func (p *Publisher) PublishBatch(chainID uint64, events []model.Event, newPools []model.NewPool) {
	swapsTopic := fmt.Sprintf("%s.%d.swaps", p.topicPrefix, chainID)
	liquidityTopic := fmt.Sprintf("%s.%d.liquidity", p.topicPrefix, chainID)
	newPoolsTopic := fmt.Sprintf("%s.%d.new_pools", p.topicPrefix, chainID)

	for i := range events {
		ev := &events[i]
		topic := liquidityTopic
		if ev.EventType == model.EventSwap {
			topic = swapsTopic
		}
		p.produce(topic, ev.PoolAddress, ev)
	}
	for i := range newPools {
		p.produce(newPoolsTopic, newPools[i].PoolAddress, &newPools[i])
	}
}

func (p *Publisher) produce(topic, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		p.logger.Warn("marshal failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          payload,
	}, nil)
	if err != nil {
		// Queue full or broker down; drop and move on.
		p.logger.Warn("produce failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Close flushes pending messages with a bounded wait.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.producer.Flush(int((5 * time.Second).Milliseconds()))
	p.producer.Close()
}
