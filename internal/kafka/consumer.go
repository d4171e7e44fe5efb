// Package kafka 提供 Kafka 消费者和生产者功能
//
// ========================================
// Kafka 消息流说明
// ========================================
//
// ## 消费者 (Consumer)
//
// Topic: campaign-events
//   - 生产者: 上游链事件网关 (与 RPC 索引二选一)
//   - 消息内容: model.EventEnvelope
//   - Partition Key: chain_id，同一条链的事件在同一分区内有序
//   - 处理逻辑: 逐条交给 Dispatcher，处理成功或确认跳过后才提交 offset
//
// ## 生产者 (Producer)
//
// Topic: campaign-activity
//   - 消息内容: model.Activity
//   - Partition Key: 活动 ID 或金库地址
//   - 触发条件: 事件事务提交后回调
//
// ========================================
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/service"
	"github.com/eidos-exchange/eidos/eidos-campaign/pkg/logger"
)

// TopicCampaignEvents 链上事件 Topic
const TopicCampaignEvents = "campaign-events"

var ErrConsumerAlreadyRunning = errors.New("consumer already running")

// 单条消息的处理结果
const (
	resultApplied   = "applied"
	resultSkipped   = "skipped"
	resultRetry     = "retry"
	resultFatal     = "fatal"
	resultDuplicate = "duplicate"
)

// Consumer Kafka 消费者
type Consumer struct {
	client  sarama.ConsumerGroup
	handler *consumerGroupHandler
	topics  []string
	groupID string

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers      []string
	GroupID      string
	Topic        string
	RetryBackoff time.Duration // 基础设施错误后重试同一条消息的间隔
	Dispatcher   service.EventDispatcher
	OnFatal      func(err error)
}

// NewConsumer 创建消费者
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Offsets.AutoCommit.Enable = true
	config.Consumer.Offsets.AutoCommit.Interval = time.Second

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, err
	}
	return newConsumer(client, cfg), nil
}

func newConsumer(client sarama.ConsumerGroup, cfg *ConsumerConfig) *Consumer {
	topic := cfg.Topic
	if topic == "" {
		topic = TopicCampaignEvents
	}
	backoff := cfg.RetryBackoff
	if backoff == 0 {
		backoff = time.Second
	}

	return &Consumer{
		client: client,
		handler: &consumerGroupHandler{
			dispatcher: cfg.Dispatcher,
			backoff:    backoff,
			onFatal:    cfg.OnFatal,
		},
		topics:  []string{topic},
		groupID: cfg.GroupID,
	}
}

// Start 启动消费者
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrConsumerAlreadyRunning
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	consumeCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-stopCh
		cancel()
	}()

	go func() {
		defer close(doneCh)
		defer cancel()
		for {
			if err := c.client.Consume(consumeCtx, c.topics, c.handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				logger.Error("kafka consume error", zap.Error(err))
			}
			if c.handler.halted() || consumeCtx.Err() != nil {
				return
			}
			select {
			case <-consumeCtx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()

	logger.Info("kafka consumer started",
		zap.Strings("topics", c.topics),
		zap.String("group_id", c.groupID))

	return nil
}

// Stop 停止消费者
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	close(c.stopCh)
	c.running = false
	doneCh := c.doneCh
	c.mu.Unlock()

	<-doneCh
	return c.client.Close()
}

// consumerGroupHandler 消费组处理器
type consumerGroupHandler struct {
	dispatcher service.EventDispatcher
	backoff    time.Duration
	onFatal    func(err error)

	mu       sync.Mutex
	fatalErr error
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) halted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fatalErr != nil
}

// ConsumeClaim 分区内严格顺序处理：基础设施错误原地重试，不跳过也不提交
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.consume(ctx, msg); err != nil {
				return err
			}
			session.MarkMessage(msg, "")
		}
	}
}

// consume 处理一条消息直到成功、跳过或遇到致命错误
func (h *consumerGroupHandler) consume(ctx context.Context, msg *sarama.ConsumerMessage) error {
	for {
		result, err := h.process(ctx, msg.Value)
		metrics.RecordKafkaConsumed(msg.Topic, result)

		switch result {
		case resultApplied, resultDuplicate:
			return nil
		case resultSkipped:
			logger.Error("malformed kafka message skipped",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return nil
		case resultFatal:
			h.mu.Lock()
			h.fatalErr = err
			h.mu.Unlock()
			logger.Error("kafka consumer halted on fatal error",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			if h.onFatal != nil {
				h.onFatal(err)
			}
			return err
		}

		logger.Warn("kafka message processing failed, retrying",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.backoff):
		}
	}
}

// process 解码并分发，返回处理结果分类
func (h *consumerGroupHandler) process(ctx context.Context, value []byte) (string, error) {
	var envelope model.EventEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return resultSkipped, fmt.Errorf("decode envelope: %w", err)
	}
	ev, err := envelope.ToEvent()
	if err != nil {
		return resultSkipped, err
	}

	result, err := h.dispatcher.Dispatch(ctx, ev)
	switch {
	case err == nil:
		if result != nil && result.Status == service.DispatchDuplicate {
			return resultDuplicate, nil
		}
		return resultApplied, nil
	case service.IsFatal(err):
		return resultFatal, err
	case service.IsMalformed(err):
		return resultSkipped, err
	default:
		return resultRetry, err
	}
}
