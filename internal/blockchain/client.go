package blockchain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-campaign/pkg/logger"
)

var (
	ErrNoHealthyRPC    = errors.New("no healthy RPC endpoint available")
	ErrNoRPCURL        = errors.New("at least one RPC URL is required")
	ErrChainIDMismatch = errors.New("rpc chain id mismatch")
	ErrBlockNotFound   = errors.New("block not found")
)

// RPCEndpoint RPC 端点信息
type RPCEndpoint struct {
	URL        string
	IsHealthy  bool
	LatencyMs  int64
	LastBlock  uint64
	ErrorCount int
	LastCheck  time.Time
}

// Client 只读区块链客户端，多端点故障转移
type Client struct {
	chainID int64

	endpoints  []*RPCEndpoint
	currentIdx int
	mu         sync.RWMutex

	client *ethclient.Client

	// 配置
	maxRetries      int
	retryInterval   time.Duration
	healthCheckFreq time.Duration
}

// ClientConfig 客户端配置
type ClientConfig struct {
	ChainID         int64
	RPCURLs         []string
	MaxRetries      int
	RetryInterval   time.Duration
	HealthCheckFreq time.Duration
}

// NewClient 创建区块链客户端
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	// 连接到第一个可用的 RPC
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func newClient(cfg *ClientConfig) (*Client, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, ErrNoRPCURL
	}

	endpoints := make([]*RPCEndpoint, len(cfg.RPCURLs))
	for i, url := range cfg.RPCURLs {
		endpoints[i] = &RPCEndpoint{
			URL:       url,
			IsHealthy: true,
		}
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	retryInterval := cfg.RetryInterval
	if retryInterval == 0 {
		retryInterval = time.Second
	}

	healthCheckFreq := cfg.HealthCheckFreq
	if healthCheckFreq == 0 {
		healthCheckFreq = 30 * time.Second
	}

	return &Client{
		chainID:         cfg.ChainID,
		endpoints:       endpoints,
		maxRetries:      maxRetries,
		retryInterval:   retryInterval,
		healthCheckFreq: healthCheckFreq,
	}, nil
}

// connect 连接到可用的 RPC，并校验链 ID
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error = ErrNoHealthyRPC
	for i := range c.endpoints {
		idx := (c.currentIdx + i) % len(c.endpoints)
		ep := c.endpoints[idx]

		if !ep.IsHealthy && time.Since(ep.LastCheck) < c.healthCheckFreq {
			continue
		}

		start := time.Now()
		client, err := ethclient.DialContext(ctx, ep.URL)
		if err != nil {
			c.markUnhealthy(ep)
			continue
		}

		chainID, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			c.markUnhealthy(ep)
			continue
		}
		if c.chainID != 0 && chainID.Int64() != c.chainID {
			client.Close()
			c.markUnhealthy(ep)
			lastErr = ErrChainIDMismatch
			logger.Error("rpc endpoint serves another chain",
				zap.String("url", ep.URL),
				zap.Int64("expected", c.chainID),
				zap.Int64("actual", chainID.Int64()))
			continue
		}

		if c.client != nil {
			c.client.Close()
		}

		c.client = client
		c.currentIdx = idx
		ep.IsHealthy = true
		ep.ErrorCount = 0
		ep.LatencyMs = time.Since(start).Milliseconds()
		ep.LastCheck = time.Now()
		return nil
	}

	return lastErr
}

// markUnhealthy 调用方需持有写锁
func (c *Client) markUnhealthy(ep *RPCEndpoint) {
	ep.IsHealthy = false
	ep.ErrorCount++
	ep.LastCheck = time.Now()
}

// getClient 获取客户端，如果不可用则尝试重连
func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client != nil {
		return client, nil
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client, nil
}

// withRetry 带重试的操作，失败时切换端点
func (c *Client) withRetry(ctx context.Context, method string, fn func(*ethclient.Client) error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryInterval):
			}
		}

		client, err := c.getClient(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		err = fn(client)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrBlockNotFound) || ctx.Err() != nil {
			return err
		}

		lastErr = err
		metrics.RecordRPCError(c.chainID, method)

		// 标记当前端点为不健康，下次重连换端点
		c.mu.Lock()
		if c.currentIdx < len(c.endpoints) {
			c.markUnhealthy(c.endpoints[c.currentIdx])
		}
		if c.client != nil {
			c.client.Close()
			c.client = nil
		}
		c.currentIdx = (c.currentIdx + 1) % len(c.endpoints)
		c.mu.Unlock()
	}
	return lastErr
}

// ChainID 返回链 ID
func (c *Client) ChainID() int64 {
	return c.chainID
}

// BlockNumber 获取最新区块号
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var blockNum uint64
	err := c.withRetry(ctx, "eth_blockNumber", func(client *ethclient.Client) error {
		var err error
		blockNum, err = client.BlockNumber(ctx)
		return err
	})
	if err == nil {
		c.mu.Lock()
		if c.currentIdx < len(c.endpoints) {
			c.endpoints[c.currentIdx].LastBlock = blockNum
		}
		c.mu.Unlock()
	}
	return blockNum, err
}

// HeaderByNumber 获取区块头
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.withRetry(ctx, "eth_getBlockByNumber", func(client *ethclient.Client) error {
		var err error
		header, err = client.HeaderByNumber(ctx, number)
		if errors.Is(err, ethereum.NotFound) {
			return ErrBlockNotFound
		}
		return err
	})
	return header, err
}

// FilterLogs 过滤日志
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.withRetry(ctx, "eth_getLogs", func(client *ethclient.Client) error {
		var err error
		logs, err = client.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// Close 关闭客户端
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// HealthCheck 健康检查
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// GetHealthyEndpoints 获取健康的端点列表
func (c *Client) GetHealthyEndpoints() []*RPCEndpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var healthy []*RPCEndpoint
	for _, ep := range c.endpoints {
		if ep.IsHealthy {
			healthy = append(healthy, ep)
		}
	}
	return healthy
}
