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

const (
	entityCampaign   = "campaign"
	entityCheckpoint = "checkpoint"
	entityStake      = "stake"
)

func (a *Aggregator) handleCampaignSubmitted(ctx context.Context, ev *model.Event, result *DispatchResult) error {
	args, err := argsOf[model.CampaignSubmittedArgs](ev)
	if err != nil {
		return err
	}
	id, err := campaignIDArg("id", args.ID)
	if err != nil {
		return err
	}
	proposer, err := addressArg("proposer", args.Proposer)
	if err != nil {
		return err
	}

	if err := a.ensureAccount(ctx, ev, proposer); err != nil {
		return err
	}

	created, err := a.campaignRepo.Create(ctx, &model.Campaign{
		ID:           id,
		ChainID:      ev.ChainID,
		Proposer:     proposer,
		MetadataHash: args.MetadataHash,
		MetadataCID:  args.MetadataCID,
		Status:       model.CampaignStatusSubmitted,
		TxHash:       ev.TxHash,
		CreatedAt:    ev.BlockTimestamp,
		UpdatedAt:    ev.BlockTimestamp,
	})
	if err != nil {
		return err
	}
	if !created {
		// 原始提交记录优先，不覆盖
		logger.Debug("campaign already exists", zap.String("campaign_id", id))
	}
	return nil
}

func (a *Aggregator) handleCampaignApproved(ctx context.Context, ev *model.Event, result *DispatchResult) error {
	args, err := argsOf[model.CampaignApprovedArgs](ev)
	if err != nil {
		return err
	}
	return a.setCampaignStatus(ctx, ev, result, args.ID, model.CampaignStatusApproved)
}

func (a *Aggregator) handleCampaignRejected(ctx context.Context, ev *model.Event, result *DispatchResult) error {
	args, err := argsOf[model.CampaignRejectedArgs](ev)
	if err != nil {
		return err
	}
	return a.setCampaignStatus(ctx, ev, result, args.ID, model.CampaignStatusRejected)
}

func (a *Aggregator) handleCampaignStatusChanged(ctx context.Context, ev *model.Event, result *DispatchResult) error {
	args, err := argsOf[model.CampaignStatusChangedArgs](ev)
	if err != nil {
		return err
	}
	return a.setCampaignStatus(ctx, ev, result, args.ID, args.NewStatus)
}

// setCampaignStatus 覆盖状态，不校验迁移合法性
func (a *Aggregator) setCampaignStatus(ctx context.Context, ev *model.Event, result *DispatchResult, rawID string, status model.CampaignStatus) error {
	id, err := campaignIDArg("id", rawID)
	if err != nil {
		return err
	}

	campaign, err := a.campaignRepo.GetByID(ctx, id, &repository.QueryOptions{ForUpdate: true})
	if errors.Is(err, repository.ErrCampaignNotFound) {
		result.orphan(entityCampaign, id)
		return nil
	}
	if err != nil {
		return err
	}

	// 合约是状态机的权威来源，这里只记录异常迁移
	if campaign.Status.IsTerminal() && campaign.Status != status {
		logger.Warn("campaign left terminal status",
			zap.String("campaign_id", id),
			zap.String("from", campaign.Status.String()),
			zap.String("to", status.String()),
			zap.String("tx_hash", ev.TxHash))
	}

	campaign.Status = status
	campaign.UpdatedAt = ev.BlockTimestamp
	return a.campaignRepo.Update(ctx, campaign)
}

func (a *Aggregator) handleCampaignVaultRegistered(ctx context.Context, ev *model.Event, result *DispatchResult) error {
	args, err := argsOf[model.CampaignVaultRegisteredArgs](ev)
	if err != nil {
		return err
	}
	id, err := campaignIDArg("campaignId", args.CampaignID)
	if err != nil {
		return err
	}
	vault, err := addressArg("vault", args.Vault)
	if err != nil {
		return err
	}

	campaign, err := a.campaignRepo.GetByID(ctx, id, &repository.QueryOptions{ForUpdate: true})
	if errors.Is(err, repository.ErrCampaignNotFound) {
		result.orphan(entityCampaign, id)
		return nil
	}
	if err != nil {
		return err
	}

	campaign.Vault = &vault
	campaign.UpdatedAt = ev.BlockTimestamp
	return a.campaignRepo.Update(ctx, campaign)
}

func (a *Aggregator) handleCheckpointScheduled(ctx context.Context, ev *model.Event, result *DispatchResult) error {
	args, err := argsOf[model.CheckpointScheduledArgs](ev)
	if err != nil {
		return err
	}
	id, err := campaignIDArg("campaignId", args.CampaignID)
	if err != nil {
		return err
	}
	// 按合约发出的原值记录
	if args.End < args.Start {
		logger.Warn("checkpoint voting window ends before it starts",
			zap.String("campaign_id", id),
			zap.Uint32("index", args.Index),
			zap.Int64("start", args.Start),
			zap.Int64("end", args.End),
			zap.String("tx_hash", ev.TxHash))
	}

	checkpoint := &model.Checkpoint{
		CampaignID:   id,
		Index:        args.Index,
		VotingStart:  args.Start,
		VotingEnd:    args.End,
		QuorumBps:    args.QuorumBps,
		Status:       model.CheckpointStatusScheduled,
		VotesFor:     decimal.Zero,
		VotesAgainst: decimal.Zero,
		CreatedAt:    ev.BlockTimestamp,
		UpdatedAt:    ev.BlockTimestamp,
	}
	created, err := a.checkpointRepo.Create(ctx, checkpoint)
	if err != nil {
		return err
	}
	if !created {
		logger.Debug("checkpoint already exists", zap.String("checkpoint", checkpoint.ID))
	}
	return nil
}

func (a *Aggregator) handleCheckpointStatusUpdated(ctx context.Context, ev *model.Event, result *DispatchResult) error {
	args, err := argsOf[model.CheckpointStatusUpdatedArgs](ev)
	if err != nil {
		return err
	}
	id, err := campaignIDArg("campaignId", args.CampaignID)
	if err != nil {
		return err
	}

	key := model.CheckpointKey{CampaignID: id, Index: args.Index}
	checkpoint, err := a.checkpointRepo.Get(ctx, key, &repository.QueryOptions{ForUpdate: true})
	if errors.Is(err, repository.ErrCheckpointNotFound) {
		result.orphan(entityCheckpoint, key.String())
		return nil
	}
	if err != nil {
		return err
	}

	checkpoint.Status = args.NewStatus
	checkpoint.UpdatedAt = ev.BlockTimestamp
	return a.checkpointRepo.Update(ctx, checkpoint)
}
