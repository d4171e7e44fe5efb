package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-campaign/pkg/logger"
)

var (
	// ErrUnregisteredEvent 事件类型没有注册处理器 (配置错误，致命)
	ErrUnregisteredEvent = errors.New("unregistered event type")
	// ErrDuplicateHandler 同一事件类型重复注册
	ErrDuplicateHandler = errors.New("handler already registered")
	// ErrMalformedEvent 事件参数不合法，跳过且不写流水
	ErrMalformedEvent = errors.New("malformed event")
)

// IsFatal 是否为必须停止事件流的错误
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnregisteredEvent) || errors.Is(err, model.ErrKeySpaceCollision)
}

// IsMalformed 是否为可跳过的非法事件
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedEvent)
}

// malformed 包装参数错误
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}

// DispatchStatus 分发结果
type DispatchStatus string

const (
	DispatchApplied   DispatchStatus = "applied"
	DispatchDuplicate DispatchStatus = "duplicate"
	DispatchSkipped   DispatchStatus = "skipped"
	DispatchFailed    DispatchStatus = "failed"
)

// OwnerRef 质押归属 (活动或金库)，用于读缓存失效
type OwnerRef struct {
	Scope model.StakeScope
	Owner string
}

// Orphan 一次孤儿引用
type Orphan struct {
	Entity string // campaign, checkpoint, stake
	Key    string
}

// DispatchResult 单个事件的处理结果，处理器在事务内填充
type DispatchResult struct {
	Event      *model.Event
	Status     DispatchStatus
	Orphans    []Orphan
	Underflows []model.StakeKey
	Activities []*model.Activity
	Touched    []OwnerRef
}

func (r *DispatchResult) orphan(entity, key string) {
	r.Orphans = append(r.Orphans, Orphan{Entity: entity, Key: key})
}

func (r *DispatchResult) touch(scope model.StakeScope, owner string) {
	for _, t := range r.Touched {
		if t.Scope == scope && t.Owner == owner {
			return
		}
	}
	r.Touched = append(r.Touched, OwnerRef{Scope: scope, Owner: owner})
}

// reset 事务重试前清空处理器写入的内容
func (r *DispatchResult) reset() {
	r.Status = DispatchApplied
	r.Orphans = nil
	r.Underflows = nil
	r.Activities = nil
	r.Touched = nil
}

// Handler 单类事件的聚合逻辑，在分发器开启的事务内执行
type Handler func(ctx context.Context, ev *model.Event, result *DispatchResult) error

// DispatcherConfig 分发器配置
type DispatcherConfig struct {
	MaxRetries int
}

// Dispatcher 按 (合约, 事件) 将事件路由到唯一的处理器
//
// 每个事件在一个数据库事务内完成：先写事件流水 (重复坐标直接跳过)，
// 再执行处理器。提交后触发动态发布与缓存失效回调。
type Dispatcher struct {
	repo       *repository.Repository
	eventRepo  repository.ChainEventRepository
	handlers   map[model.EventType]Handler
	maxRetries int

	onActivityRecorded func(ctx context.Context, activities []*model.Activity)
	onStateChanged     func(ctx context.Context, touched []OwnerRef)
}

// NewDispatcher 创建分发器
func NewDispatcher(repo *repository.Repository, eventRepo repository.ChainEventRepository, cfg *DispatcherConfig) *Dispatcher {
	maxRetries := 3
	if cfg != nil && cfg.MaxRetries > 0 {
		maxRetries = cfg.MaxRetries
	}
	return &Dispatcher{
		repo:       repo,
		eventRepo:  eventRepo,
		handlers:   make(map[model.EventType]Handler),
		maxRetries: maxRetries,
	}
}

// Register 注册处理器，同一事件类型只能注册一次
func (d *Dispatcher) Register(t model.EventType, h Handler) error {
	if _, err := model.NewEventArgs(t); err != nil {
		return err
	}
	if _, ok := d.handlers[t]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, t)
	}
	d.handlers[t] = h
	return nil
}

// Validate 启动时检查处理器表覆盖全部事件类型
func (d *Dispatcher) Validate() error {
	var missing []string
	for _, t := range model.EventCatalog() {
		if _, ok := d.handlers[t]; !ok {
			missing = append(missing, t.String())
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrUnregisteredEvent, strings.Join(missing, ", "))
	}
	return nil
}

// SetOnActivityRecorded 设置动态写入回调 (提交后调用)
func (d *Dispatcher) SetOnActivityRecorded(fn func(ctx context.Context, activities []*model.Activity)) {
	d.onActivityRecorded = fn
}

// SetOnStateChanged 设置质押状态变化回调 (提交后调用)
func (d *Dispatcher) SetOnStateChanged(fn func(ctx context.Context, touched []OwnerRef)) {
	d.onStateChanged = fn
}

// Dispatch 处理单个事件
//
// 返回致命错误时调用方必须停止事件流；返回非法事件错误时调用方跳过该事件；
// 其余错误为基础设施错误，调用方应重新投递同一事件。
func (d *Dispatcher) Dispatch(ctx context.Context, ev *model.Event) (*DispatchResult, error) {
	start := time.Now()
	eventType := ev.Type().String()
	result := &DispatchResult{Event: ev}

	handler, ok := d.handlers[ev.Type()]
	if !ok {
		result.Status = DispatchFailed
		return result, fmt.Errorf("%w: %s", ErrUnregisteredEvent, eventType)
	}
	if err := normalizeCoordinates(ev); err != nil {
		result.Status = DispatchSkipped
		d.finish(ctx, result, start, err)
		return result, err
	}

	err := d.repo.TransactionWithRetry(ctx, d.maxRetries, func(txCtx context.Context) error {
		result.reset()

		inserted, err := d.eventRepo.RecordEvent(txCtx, &model.ChainEvent{
			ChainID:     ev.ChainID,
			TxHash:      ev.TxHash,
			LogIndex:    ev.LogIndex,
			BlockNumber: ev.BlockNumber,
			Contract:    string(ev.Contract),
			EventName:   string(ev.Name),
		})
		if err != nil {
			return err
		}
		if !inserted {
			result.Status = DispatchDuplicate
			return nil
		}

		if err := handler(txCtx, ev, result); err != nil {
			return err
		}

		if len(result.Orphans) > 0 {
			return d.eventRepo.MarkOrphan(txCtx, ev.ChainID, ev.TxHash, ev.LogIndex)
		}
		return nil
	})

	switch {
	case err == nil:
	case IsMalformed(err):
		result.Status = DispatchSkipped
	default:
		result.Status = DispatchFailed
	}
	d.finish(ctx, result, start, err)
	return result, err
}

// finish 记录日志与指标，成功提交后触发回调
func (d *Dispatcher) finish(ctx context.Context, result *DispatchResult, start time.Time, err error) {
	ev := result.Event
	eventType := ev.Type().String()
	metrics.RecordDispatch(eventType, string(result.Status), time.Since(start).Seconds())

	fields := []zap.Field{
		zap.Int64("chain_id", ev.ChainID),
		zap.String("event", eventType),
		zap.Int64("block", ev.BlockNumber),
		zap.String("tx_hash", ev.TxHash),
		zap.Int("log_index", ev.LogIndex),
	}

	switch result.Status {
	case DispatchFailed:
		logger.Error("dispatch event failed", append(fields, zap.Error(err))...)
		return
	case DispatchSkipped:
		logger.Error("malformed event skipped", append(fields, zap.Error(err))...)
		return
	case DispatchDuplicate:
		logger.Debug("duplicate event ignored", fields...)
		return
	}

	for _, o := range result.Orphans {
		metrics.RecordOrphan(eventType, o.Entity)
		logger.Warn("orphan event reference",
			append(fields, zap.String("entity", o.Entity), zap.String("key", o.Key))...)
	}
	for _, k := range result.Underflows {
		metrics.RecordUnderflow(string(k.Scope))
		logger.Warn("stake underflow clamped to zero",
			append(fields, zap.String("stake", k.String()))...)
	}
	for _, a := range result.Activities {
		metrics.RecordActivity(string(a.Type))
	}

	if len(result.Activities) > 0 && d.onActivityRecorded != nil {
		d.onActivityRecorded(ctx, result.Activities)
	}
	if len(result.Touched) > 0 && d.onStateChanged != nil {
		d.onStateChanged(ctx, result.Touched)
	}
}

// normalizeCoordinates 校验并规范化日志坐标
func normalizeCoordinates(ev *model.Event) error {
	if ev.LogIndex < 0 || ev.BlockNumber < 0 {
		return malformed("negative log coordinate block=%d log_index=%d", ev.BlockNumber, ev.LogIndex)
	}
	tx, err := model.NormalizeHash(ev.TxHash)
	if err != nil {
		return malformed("invalid tx hash %q", ev.TxHash)
	}
	ev.TxHash = tx
	if ev.ContractAddress != "" {
		addr, err := model.NormalizeAddress(ev.ContractAddress)
		if err != nil {
			return malformed("invalid contract address %q", ev.ContractAddress)
		}
		ev.ContractAddress = addr
	}
	return nil
}
