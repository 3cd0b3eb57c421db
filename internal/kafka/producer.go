// Package kafka 质押生命周期事件的 Kafka 生产者
//
// Topic:
//
//   - stake-events: stake.created / stake.claimed / stake.refunded / stake.expired
//     Partition Key: stake_id
//   - reward-events: reward.withdrawn
//     Partition Key: staker
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/internal/model"
	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

const (
	TopicStakeEvents  = "stake-events"
	TopicRewardEvents = "reward-events"
)

// ErrProducerClosed 生产者已关闭
var ErrProducerClosed = errors.New("producer is closed")

// Producer Kafka 生产者
type Producer struct {
	producer sarama.SyncProducer
	mu       sync.RWMutex
	closed   bool
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RequiredAcks sarama.RequiredAcks
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewProducer 创建生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	requiredAcks := cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = sarama.WaitForAll
	}
	config.Producer.RequiredAcks = requiredAcks

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	config.Producer.Retry.Max = maxRetries

	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = 100 * time.Millisecond
	}
	config.Producer.Retry.Backoff = retryBackoff

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, err
	}
	return NewProducerWith(producer), nil
}

// NewProducerWith 使用已有的 SyncProducer
func NewProducerWith(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}

func (p *Producer) send(topic, key string, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.Error("failed to send kafka message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// EventPublisher 事件发布器接口
type EventPublisher interface {
	PublishStakeEvent(ctx context.Context, event *model.StakeEvent) error
}

// KafkaEventPublisher Kafka 事件发布器
type KafkaEventPublisher struct {
	producer *Producer
	network  string
	now      func() time.Time
}

// NewKafkaEventPublisher 创建 Kafka 事件发布器
func NewKafkaEventPublisher(producer *Producer, network string) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		producer: producer,
		network:  network,
		now:      time.Now,
	}
}

// PublishStakeEvent 补全 event_id / network / occurred_at 后发送
func (p *KafkaEventPublisher) PublishStakeEvent(ctx context.Context, event *model.StakeEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Network == "" {
		event.Network = p.network
	}
	if event.OccurredAt == 0 {
		event.OccurredAt = p.now().UnixMilli()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	topic, key := TopicStakeEvents, strconv.FormatInt(event.StakeID, 10)
	if event.Type == model.StakeEventRewardWithdrawn {
		topic, key = TopicRewardEvents, event.Staker
	}
	return p.producer.send(topic, key, data)
}

// NoopPublisher Kafka 未启用时使用, 只记录日志
type NoopPublisher struct{}

// PublishStakeEvent 仅记录调试日志
func (NoopPublisher) PublishStakeEvent(ctx context.Context, event *model.StakeEvent) error {
	logger.Debug("kafka disabled, event dropped",
		zap.String("type", string(event.Type)),
		zap.Int64("stake_id", event.StakeID))
	return nil
}
