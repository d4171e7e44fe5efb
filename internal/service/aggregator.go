package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/repository"
)

// Aggregator 各类事件的聚合处理器集合
//
// 处理器只通过 ctx 中的事务读写实体，不做任何网络调用。
// 所有时间字段取区块时间，重放同一事件序列得到相同状态。
type Aggregator struct {
	accountRepo    repository.AccountRepository
	campaignRepo   repository.CampaignRepository
	checkpointRepo repository.CheckpointRepository
	stakeRepo      repository.StakeRepository
	activityRepo   repository.ActivityRepository
}

// NewAggregator 创建聚合器
func NewAggregator(
	accountRepo repository.AccountRepository,
	campaignRepo repository.CampaignRepository,
	checkpointRepo repository.CheckpointRepository,
	stakeRepo repository.StakeRepository,
	activityRepo repository.ActivityRepository,
) *Aggregator {
	return &Aggregator{
		accountRepo:    accountRepo,
		campaignRepo:   campaignRepo,
		checkpointRepo: checkpointRepo,
		stakeRepo:      stakeRepo,
		activityRepo:   activityRepo,
	}
}

// Register 将全部处理器注册到分发器
func (a *Aggregator) Register(d *Dispatcher) error {
	handlers := map[model.EventType]Handler{
		{Contract: model.ContractRegistry, Name: model.EventCampaignSubmitted}:       a.handleCampaignSubmitted,
		{Contract: model.ContractRegistry, Name: model.EventCampaignApproved}:        a.handleCampaignApproved,
		{Contract: model.ContractRegistry, Name: model.EventCampaignRejected}:        a.handleCampaignRejected,
		{Contract: model.ContractRegistry, Name: model.EventCampaignStatusChanged}:   a.handleCampaignStatusChanged,
		{Contract: model.ContractRegistry, Name: model.EventCampaignVaultRegistered}: a.handleCampaignVaultRegistered,
		{Contract: model.ContractRegistry, Name: model.EventCheckpointScheduled}:     a.handleCheckpointScheduled,
		{Contract: model.ContractRegistry, Name: model.EventCheckpointStatusUpdated}: a.handleCheckpointStatusUpdated,
		{Contract: model.ContractRegistry, Name: model.EventStakeDeposited}:          a.handleStakeDeposited,
		{Contract: model.ContractRegistry, Name: model.EventStakeExitFinalized}:      a.handleStakeExitFinalized,
		{Contract: model.ContractRegistry, Name: model.EventCheckpointVoteCast}:      a.handleCheckpointVoteCast,
		{Contract: model.ContractEthVault, Name: model.EventVaultDeposit}:            a.handleVaultDeposit,
		{Contract: model.ContractEthVault, Name: model.EventVaultWithdraw}:           a.handleVaultWithdraw,
		{Contract: model.ContractUsdcVault, Name: model.EventVaultDeposit}:           a.handleVaultDeposit,
		{Contract: model.ContractUsdcVault, Name: model.EventVaultWithdraw}:          a.handleVaultWithdraw,
	}
	for t, h := range handlers {
		if err := d.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}

// ensureAccount 账户首次被引用时创建
func (a *Aggregator) ensureAccount(ctx context.Context, ev *model.Event, address string) error {
	_, err := a.accountRepo.Ensure(ctx, &model.Account{
		Address:        address,
		FirstSeenBlock: ev.BlockNumber,
		CreatedAt:      ev.BlockTimestamp,
	})
	return err
}

// appendActivity 追加动态，返回 false 表示同坐标动态已存在
func (a *Aggregator) appendActivity(ctx context.Context, ev *model.Event, result *DispatchResult, activity *model.Activity) (bool, error) {
	activity.ChainID = ev.ChainID
	activity.Timestamp = ev.BlockTimestamp
	activity.BlockNumber = ev.BlockNumber
	activity.TxHash = ev.TxHash
	activity.LogIndex = ev.LogIndex

	inserted, err := a.activityRepo.Create(ctx, activity)
	if err != nil {
		return false, err
	}
	if inserted {
		result.Activities = append(result.Activities, activity)
	}
	return inserted, nil
}

// 参数规范化，失败均为非法事件

func campaignIDArg(field, raw string) (string, error) {
	id, err := model.NormalizeCampaignID(raw)
	if err != nil {
		return "", malformed("%s: %v", field, err)
	}
	return id, nil
}

func addressArg(field, raw string) (string, error) {
	addr, err := model.NormalizeAddress(raw)
	if err != nil {
		return "", malformed("%s: %v", field, err)
	}
	return addr, nil
}

func amountArg(field string, v decimal.Decimal) (decimal.Decimal, error) {
	if v.IsNegative() || !v.IsInteger() {
		return decimal.Zero, malformed("%s: %s is not an unsigned integer", field, v.String())
	}
	return v.Truncate(0), nil
}

func argsOf[T any](ev *model.Event) (*T, error) {
	args, ok := ev.Args.(*T)
	if !ok || args == nil {
		return nil, malformed("%s: unexpected args type %T", ev.Type(), ev.Args)
	}
	return args, nil
}
