// Package metrics 提供 eidos-campaign 服务的 Prometheus 监控指标
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eidos_campaign"

// 事件分发指标
var (
	// EventsProcessedTotal 已分发事件总数
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "已分发链上事件总数",
		},
		[]string{"event_type", "result"}, // result: applied, duplicate, skipped, failed
	)

	// DispatchDuration 单事件事务耗时
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "单个事件聚合事务耗时(秒)",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"event_type"},
	)

	// OrphanEventsTotal 孤儿事件数
	OrphanEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_events_total",
			Help:      "引用实体不存在的事件数",
		},
		[]string{"event_type", "entity"}, // entity: campaign, checkpoint, stake
	)

	// StakeUnderflowTotal 余额截断次数
	StakeUnderflowTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stake_underflow_total",
			Help:      "提取超过余额被截断为 0 的次数",
		},
		[]string{"scope"},
	)

	// ActivitiesRecordedTotal 写入动态数
	ActivitiesRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_recorded_total",
			Help:      "写入的动态流水数",
		},
		[]string{"type"},
	)
)

// 区块索引指标
var (
	// BlocksIndexedTotal 已索引区块总数
	BlocksIndexedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_indexed_total",
			Help:      "已索引区块总数",
		},
		[]string{"chain_id"},
	)

	// BlockIndexLatency 区块索引延迟
	BlockIndexLatency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_index_latency_blocks",
			Help:      "区块索引延迟 (落后链上区块数)",
		},
		[]string{"chain_id"},
	)

	// LatestIndexedBlock 最新索引区块高度
	LatestIndexedBlockGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_indexed_block",
			Help:      "最新索引区块高度",
		},
		[]string{"chain_id"},
	)

	// RPCErrorsTotal RPC 调用失败数
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_errors_total",
			Help:      "RPC 调用失败次数",
		},
		[]string{"chain_id", "method"},
	)
)

// Kafka 指标
var (
	// KafkaMessagesConsumed Kafka 消费消息数
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_consumed_total",
			Help:      "Kafka 消费消息总数",
		},
		[]string{"topic", "result"},
	)

	// KafkaMessagesProduced Kafka 生产消息数
	KafkaMessagesProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_produced_total",
			Help:      "Kafka 生产消息总数",
		},
		[]string{"topic", "status"},
	)
)

// 缓存指标
var (
	// CacheRequestsTotal 读缓存命中情况
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "读缓存请求数",
		},
		[]string{"cache", "result"}, // result: hit, miss, error
	)
)

// HTTP 指标
var (
	// HTTPRequestsTotal 读接口请求数
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration 读接口耗时
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP 请求耗时(秒)",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 以下为便捷记录函数

// RecordDispatch 记录一次分发
func RecordDispatch(eventType, result string, durationSeconds float64) {
	EventsProcessedTotal.WithLabelValues(eventType, result).Inc()
	DispatchDuration.WithLabelValues(eventType).Observe(durationSeconds)
}

// RecordOrphan 记录孤儿事件
func RecordOrphan(eventType, entity string) {
	OrphanEventsTotal.WithLabelValues(eventType, entity).Inc()
}

// RecordUnderflow 记录余额截断
func RecordUnderflow(scope string) {
	StakeUnderflowTotal.WithLabelValues(scope).Inc()
}

// RecordActivity 记录动态写入
func RecordActivity(activityType string) {
	ActivitiesRecordedTotal.WithLabelValues(activityType).Inc()
}

// RecordBlocksIndexed 记录区块索引进度
func RecordBlocksIndexed(chainID int64, blocks int, latestIndexed, chainHead uint64) {
	label := strconv.FormatInt(chainID, 10)
	BlocksIndexedTotal.WithLabelValues(label).Add(float64(blocks))
	LatestIndexedBlockGauge.WithLabelValues(label).Set(float64(latestIndexed))
	lag := float64(0)
	if chainHead > latestIndexed {
		lag = float64(chainHead - latestIndexed)
	}
	BlockIndexLatency.WithLabelValues(label).Set(lag)
}

// RecordRPCError 记录 RPC 失败
func RecordRPCError(chainID int64, method string) {
	RPCErrorsTotal.WithLabelValues(strconv.FormatInt(chainID, 10), method).Inc()
}

// RecordKafkaConsumed 记录 Kafka 消费
func RecordKafkaConsumed(topic, result string) {
	KafkaMessagesConsumed.WithLabelValues(topic, result).Inc()
}

// RecordKafkaProduced 记录 Kafka 生产
func RecordKafkaProduced(topic, status string) {
	KafkaMessagesProduced.WithLabelValues(topic, status).Inc()
}

// RecordCache 记录缓存命中
func RecordCache(cache, result string) {
	CacheRequestsTotal.WithLabelValues(cache, result).Inc()
}

// RecordHTTPRequest 记录 HTTP 请求
func RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}
