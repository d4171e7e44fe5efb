package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-campaign/pkg/logger"
)

func (a *Aggregator) handleStakeDeposited(ctx context.Context, ev *model.Event, result *DispatchResult) error {
	args, err := argsOf[model.StakeDepositedArgs](ev)
	if err != nil {
		return err
	}
	key, err := campaignStakeKey(args.ID, args.Supporter)
	if err != nil {
		return err
	}
	amount, err := amountArg("amount", args.Amount)
	if err != nil {
		return err
	}
	return a.applyDeposit(ctx, ev, result, key, amount)
}

func (a *Aggregator) handleStakeExitFinalized(ctx context.Context, ev *model.Event, result *DispatchResult) error {
	args, err := argsOf[model.StakeExitFinalizedArgs](ev)
	if err != nil {
		return err
	}
	key, err := campaignStakeKey(args.ID, args.Supporter)
	if err != nil {
		return err
	}
	amount, err := amountArg("amountWithdrawn", args.AmountWithdrawn)
	if err != nil {
		return err
	}
	return a.applyWithdraw(ctx, ev, result, key, amount)
}

func (a *Aggregator) handleVaultDeposit(ctx context.Context, ev *model.Event, result *DispatchResult) error {
	args, err := argsOf[model.VaultDepositArgs](ev)
	if err != nil {
		return err
	}
	key, err := vaultStakeKey(ev, args.Owner)
	if err != nil {
		return err
	}
	amount, err := amountArg("assets", args.Assets)
	if err != nil {
		return err
	}
	return a.applyDeposit(ctx, ev, result, key, amount)
}

func (a *Aggregator) handleVaultWithdraw(ctx context.Context, ev *model.Event, result *DispatchResult) error {
	args, err := argsOf[model.VaultWithdrawArgs](ev)
	if err != nil {
		return err
	}
	key, err := vaultStakeKey(ev, args.Owner)
	if err != nil {
		return err
	}
	amount, err := amountArg("assets", args.Assets)
	if err != nil {
		return err
	}
	return a.applyWithdraw(ctx, ev, result, key, amount)
}

// campaignStakeKey 活动空间的质押键
func campaignStakeKey(rawID, rawSupporter string) (model.StakeKey, error) {
	id, err := campaignIDArg("id", rawID)
	if err != nil {
		return model.StakeKey{}, err
	}
	supporter, err := addressArg("supporter", rawSupporter)
	if err != nil {
		return model.StakeKey{}, err
	}
	key := model.StakeKey{Scope: model.StakeScopeCampaign, Owner: id, Supporter: supporter}
	return key, key.Validate()
}

// vaultStakeKey 全局金库空间的质押键，金库合约地址作为 owner
func vaultStakeKey(ev *model.Event, rawOwner string) (model.StakeKey, error) {
	if ev.ContractAddress == "" {
		return model.StakeKey{}, malformed("%s: missing vault contract address", ev.Type())
	}
	owner, err := addressArg("owner", rawOwner)
	if err != nil {
		return model.StakeKey{}, err
	}
	key := model.StakeKey{Scope: model.StakeScopeVault, Owner: ev.ContractAddress, Supporter: owner}
	return key, key.Validate()
}

// applyDeposit 存入：先追加动态，动态已存在则整体跳过；头寸存在则累加，否则新建
func (a *Aggregator) applyDeposit(ctx context.Context, ev *model.Event, result *DispatchResult, key model.StakeKey, amount decimal.Decimal) error {
	if err := a.ensureAccount(ctx, ev, key.Supporter); err != nil {
		return err
	}

	appended, err := a.appendActivity(ctx, ev, result, &model.Activity{
		Scope:      key.Scope,
		CampaignID: key.Owner,
		Supporter:  key.Supporter,
		Type:       model.ActivityTypeDeposit,
		Amount:     decimal.NewNullDecimal(amount),
	})
	if err != nil {
		return err
	}
	if !appended {
		logger.Debug("deposit activity exists, stake untouched", zap.String("stake", key.String()))
		return nil
	}

	stake, err := a.stakeRepo.Get(ctx, key, &repository.QueryOptions{ForUpdate: true})
	switch {
	case errors.Is(err, repository.ErrStakeNotFound):
		// 并发创建时返回可重试冲突，重试后走累加分支
		err = a.stakeRepo.Create(ctx, &model.Stake{
			Scope:          key.Scope,
			CampaignID:     key.Owner,
			Supporter:      key.Supporter,
			Amount:         amount,
			TotalDeposited: amount,
			CreatedAt:      ev.BlockTimestamp,
			UpdatedAt:      ev.BlockTimestamp,
		})
	case err != nil:
		return err
	default:
		stake.Amount = stake.Amount.Add(amount)
		stake.TotalDeposited = stake.TotalDeposited.Add(amount)
		stake.UpdatedAt = ev.BlockTimestamp
		err = a.stakeRepo.Update(ctx, stake)
	}
	if err != nil {
		return err
	}
	result.touch(key.Scope, key.Owner)
	return nil
}

// applyWithdraw 提取：动态总是保留；头寸不存在为孤儿；余额不足截断为 0 并标记
func (a *Aggregator) applyWithdraw(ctx context.Context, ev *model.Event, result *DispatchResult, key model.StakeKey, amount decimal.Decimal) error {
	if err := a.ensureAccount(ctx, ev, key.Supporter); err != nil {
		return err
	}

	appended, err := a.appendActivity(ctx, ev, result, &model.Activity{
		Scope:      key.Scope,
		CampaignID: key.Owner,
		Supporter:  key.Supporter,
		Type:       model.ActivityTypeWithdraw,
		Amount:     decimal.NewNullDecimal(amount),
	})
	if err != nil {
		return err
	}
	if !appended {
		logger.Debug("withdraw activity exists, stake untouched", zap.String("stake", key.String()))
		return nil
	}

	stake, err := a.stakeRepo.Get(ctx, key, &repository.QueryOptions{ForUpdate: true})
	if errors.Is(err, repository.ErrStakeNotFound) {
		result.orphan(entityStake, key.String())
		return nil
	}
	if err != nil {
		return err
	}

	remaining := stake.Amount.Sub(amount)
	if remaining.IsNegative() {
		remaining = decimal.Zero
		stake.Underflow = true
		result.Underflows = append(result.Underflows, key)
	}
	stake.Amount = remaining
	stake.UpdatedAt = ev.BlockTimestamp

	if err := a.stakeRepo.Update(ctx, stake); err != nil {
		return err
	}
	result.touch(key.Scope, key.Owner)
	return nil
}
