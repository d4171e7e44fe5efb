package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"github.com/eidos-exchange/eidos/eidos-campaign/pkg/logger"
)

// TopicCampaignActivity 动态发布 Topic
//
// Partition Key: campaign_id (活动 ID 或金库地址)
// 消息格式: model.Activity
const TopicCampaignActivity = "campaign-activity"

var ErrProducerClosed = errors.New("producer is closed")

// Producer Kafka 生产者
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	mu       sync.RWMutex
	closed   bool
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	Topic        string
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
	config.Producer.Partitioner = sarama.NewHashPartitioner

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
	return newProducer(producer, cfg.Topic), nil
}

func newProducer(producer sarama.SyncProducer, topic string) *Producer {
	if topic == "" {
		topic = TopicCampaignActivity
	}
	return &Producer{
		producer: producer,
		topic:    topic,
	}
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

// send 发送消息
func (p *Producer) send(topic string, key string, value []byte) error {
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
		metrics.RecordKafkaProduced(topic, "error")
		logger.Error("failed to send kafka message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}
	metrics.RecordKafkaProduced(topic, "success")

	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))

	return nil
}

// SendActivity 发送一条动态
func (p *Producer) SendActivity(ctx context.Context, activity *model.Activity) error {
	data, err := json.Marshal(activity)
	if err != nil {
		return err
	}
	return p.send(p.topic, activity.CampaignID, data)
}

// PublishActivities 事务提交后发布动态，失败只记录日志，不影响已提交状态
func (p *Producer) PublishActivities(ctx context.Context, activities []*model.Activity) {
	for _, a := range activities {
		if err := p.SendActivity(ctx, a); err != nil {
			logger.Warn("activity not published",
				zap.String("activity_id", a.ID),
				zap.Error(err))
		}
	}
}
