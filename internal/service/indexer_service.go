// ========================================
// IndexerService 链上索引服务
// ========================================
//
// ## 功能概述
// 轮询 RPC，按区块区间拉取 Registry 与金库合约的日志，解码后
// 按 (区块号, 日志序号) 顺序逐条交给 Dispatcher。
//
// ## 确认数
// 只处理 latest - confirmations 之前的区块，回滚在确认深度之外不处理。
//
// ## 游标
// - 每个区间全部事件处理完成后保存游标 (source = rpc)
// - 服务重启后从游标 + 1 继续
// - 区间内基础设施错误：游标不动，下一轮重读同一区间，依赖分发器幂等
// - 致命错误：停止循环并回调 onFatal
//
// ========================================
package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/contract"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-campaign/pkg/logger"
)

var (
	ErrIndexerAlreadyRunning = errors.New("indexer already running")
	ErrIndexerNotRunning     = errors.New("indexer not running")
)

// ChainReader 索引所需的只读链接口
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// EventDispatcher 事件分发接口
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev *model.Event) (*DispatchResult, error)
}

// IndexerService 链上索引服务
type IndexerService struct {
	client     ChainReader
	decoder    *contract.Decoder
	dispatcher EventDispatcher
	eventRepo  repository.ChainEventRepository

	// 配置
	chainID       int64
	pollInterval  time.Duration
	batchSize     uint64
	confirmations uint64
	startBlock    uint64

	// 运行状态
	mu           sync.RWMutex
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	nextBlock    uint64
	currentBlock uint64
	lastErr      error

	onFatal func(err error)
}

// IndexerServiceConfig 配置
type IndexerServiceConfig struct {
	ChainID       int64
	PollInterval  time.Duration
	BatchSize     uint64 // 每次 eth_getLogs 的区块数
	Confirmations uint64
	StartBlock    uint64 // 无游标时的起始区块，0 表示从当前安全高度开始
}

// NewIndexerService 创建索引服务
func NewIndexerService(
	client ChainReader,
	decoder *contract.Decoder,
	dispatcher EventDispatcher,
	eventRepo repository.ChainEventRepository,
	cfg *IndexerServiceConfig,
) *IndexerService {
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 2 * time.Second
	}

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 500
	}

	return &IndexerService{
		client:        client,
		decoder:       decoder,
		dispatcher:    dispatcher,
		eventRepo:     eventRepo,
		chainID:       cfg.ChainID,
		pollInterval:  pollInterval,
		batchSize:     batchSize,
		confirmations: cfg.Confirmations,
		startBlock:    cfg.StartBlock,
	}
}

// SetOnFatal 设置致命错误回调，回调后索引循环已退出
func (s *IndexerService) SetOnFatal(fn func(err error)) {
	s.onFatal = fn
}

// Start 启动索引服务
func (s *IndexerService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrIndexerAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	startBlock, err := s.getStartBlock(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		close(s.doneCh)
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.nextBlock = startBlock
	s.mu.Unlock()

	logger.Info("indexer starting",
		zap.Int64("chain_id", s.chainID),
		zap.Uint64("start_block", startBlock),
		zap.Uint64("confirmations", s.confirmations))

	go s.runLoop(ctx, s.stopCh, s.doneCh)

	return nil
}

// Stop 停止索引服务并等待循环退出
func (s *IndexerService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrIndexerNotRunning
	}
	close(s.stopCh)
	s.running = false
	done := s.doneCh
	s.mu.Unlock()

	<-done
	logger.Info("indexer stopped", zap.Int64("chain_id", s.chainID))

	return nil
}

// IsRunning 检查是否运行中
func (s *IndexerService) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetCurrentBlock 获取已完整处理的最高区块
func (s *IndexerService) GetCurrentBlock() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentBlock
}

// getStartBlock 获取起始区块
func (s *IndexerService) getStartBlock(ctx context.Context) (uint64, error) {
	cursor, err := s.eventRepo.GetCursor(ctx, s.chainID, model.EventSourceRPC)
	if err == nil {
		s.mu.Lock()
		s.currentBlock = uint64(cursor.BlockNumber)
		s.mu.Unlock()
		return uint64(cursor.BlockNumber + 1), nil
	}
	if !errors.Is(err, repository.ErrCursorNotFound) {
		return 0, err
	}

	if s.startBlock > 0 {
		return s.startBlock, nil
	}

	// 从当前安全高度开始
	latest, err := s.client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if latest < s.confirmations {
		return 0, nil
	}
	return latest - s.confirmations, nil
}

// runLoop 主循环
func (s *IndexerService) runLoop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.syncOnce(ctx, stopCh)
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()
			if err == nil {
				continue
			}
			if IsFatal(err) {
				logger.Error("indexer halted on fatal error",
					zap.Int64("chain_id", s.chainID),
					zap.Error(err))
				s.mu.Lock()
				s.running = false
				s.mu.Unlock()
				if s.onFatal != nil {
					s.onFatal(err)
				}
				return
			}
			logger.Error("indexer sync failed, will retry",
				zap.Int64("chain_id", s.chainID),
				zap.Uint64("next_block", s.nextBlockSnapshot()),
				zap.Error(err))
		}
	}
}

func (s *IndexerService) nextBlockSnapshot() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextBlock
}

// syncOnce 追到当前安全高度，每个区间完成后保存游标
func (s *IndexerService) syncOnce(ctx context.Context, stopCh <-chan struct{}) error {
	latest, err := s.client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if latest < s.confirmations {
		return nil
	}
	safe := latest - s.confirmations

	next := s.nextBlockSnapshot()
	for next <= safe {
		select {
		case <-stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		to := next + s.batchSize - 1
		if to > safe {
			to = safe
		}

		if err := s.processRange(ctx, next, to); err != nil {
			return err
		}
		if err := s.saveCursor(ctx, to); err != nil {
			return err
		}

		s.mu.Lock()
		s.currentBlock = to
		s.nextBlock = to + 1
		s.mu.Unlock()

		metrics.RecordBlocksIndexed(s.chainID, int(to-next+1), to, latest)
		next = to + 1
	}
	return nil
}

// processRange 处理 [from, to] 区间内的全部日志
func (s *IndexerService) processRange(ctx context.Context, from, to uint64) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: s.decoder.Addresses(),
		Topics:    [][]common.Hash{s.decoder.Topics()},
	}

	logs, err := s.client.FilterLogs(ctx, query)
	if err != nil {
		return err
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	headers := make(map[uint64]*types.Header)
	for _, log := range logs {
		if log.Removed {
			continue
		}

		header, ok := headers[log.BlockNumber]
		if !ok {
			header, err = s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(log.BlockNumber))
			if err != nil {
				return err
			}
			headers[log.BlockNumber] = header
		}

		ev, err := s.decoder.Decode(log, int64(header.Time))
		if err != nil {
			logger.Error("undecodable log skipped",
				zap.Int64("chain_id", s.chainID),
				zap.String("tx_hash", log.TxHash.Hex()),
				zap.Uint("log_index", log.Index),
				zap.Error(err))
			continue
		}

		if _, err := s.dispatcher.Dispatch(ctx, ev); err != nil {
			if IsMalformed(err) {
				continue
			}
			return fmt.Errorf("block %d log %d: %w", log.BlockNumber, log.Index, err)
		}
	}
	return nil
}

// saveCursor 保存游标
func (s *IndexerService) saveCursor(ctx context.Context, blockNumber uint64) error {
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return err
	}

	cursor := &model.SyncCursor{
		ChainID:     s.chainID,
		Source:      model.EventSourceRPC,
		BlockNumber: int64(blockNumber),
		BlockHash:   header.Hash().Hex(),
	}
	if err := s.eventRepo.UpsertCursor(ctx, cursor); err != nil {
		return err
	}

	logger.Debug("cursor saved",
		zap.Int64("chain_id", s.chainID),
		zap.Uint64("block", blockNumber))
	return nil
}

// GetIndexerStatus 获取索引器状态
func (s *IndexerService) GetIndexerStatus(ctx context.Context) (*IndexerStatus, error) {
	latestBlock, err := s.client.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	currentBlock := s.GetCurrentBlock()
	lag := int64(latestBlock) - int64(currentBlock)
	if lag < 0 {
		lag = 0
	}

	status := &IndexerStatus{
		ChainID:       s.chainID,
		Running:       s.IsRunning(),
		CurrentBlock:  currentBlock,
		LatestBlock:   latestBlock,
		LagBlocks:     lag,
		Confirmations: s.confirmations,
	}

	if cursor, err := s.eventRepo.GetCursor(ctx, s.chainID, model.EventSourceRPC); err == nil {
		status.CursorBlock = cursor.BlockNumber
	}
	if orphans, err := s.eventRepo.CountOrphans(ctx, s.chainID); err == nil {
		status.OrphanEvents = orphans
	}

	s.mu.RLock()
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	return status, nil
}

// IndexerStatus 索引器状态
type IndexerStatus struct {
	ChainID       int64  `json:"chain_id"`
	Running       bool   `json:"running"`
	CurrentBlock  uint64 `json:"current_block"`
	LatestBlock   uint64 `json:"latest_block"`
	LagBlocks     int64  `json:"lag_blocks"`
	CursorBlock   int64  `json:"cursor_block"`
	Confirmations uint64 `json:"confirmations"`
	OrphanEvents  int64  `json:"orphan_events"`
	LastError     string `json:"last_error,omitempty"`
}
