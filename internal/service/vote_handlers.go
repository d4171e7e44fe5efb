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

// handleCheckpointVoteCast 投票：每个支持者每个检查点只计一次权重
//
// 同一支持者的重复投票 (不同交易) 视为传输层重复，只保留第一票。
func (a *Aggregator) handleCheckpointVoteCast(ctx context.Context, ev *model.Event, result *DispatchResult) error {
	args, err := argsOf[model.CheckpointVoteCastArgs](ev)
	if err != nil {
		return err
	}
	id, err := campaignIDArg("campaignId", args.CampaignID)
	if err != nil {
		return err
	}
	supporter, err := addressArg("supporter", args.Supporter)
	if err != nil {
		return err
	}
	weight, err := amountArg("weight", args.Weight)
	if err != nil {
		return err
	}

	if err := a.ensureAccount(ctx, ev, supporter); err != nil {
		return err
	}

	index := args.Index
	support := args.Support
	appended, err := a.appendActivity(ctx, ev, result, &model.Activity{
		Scope:           model.StakeScopeCampaign,
		CampaignID:      id,
		Supporter:       supporter,
		Type:            model.ActivityTypeVote,
		Amount:          decimal.NewNullDecimal(weight),
		Support:         &support,
		CheckpointIndex: &index,
	})
	if err != nil {
		return err
	}
	if !appended {
		return nil
	}

	voteKey := model.VoteKey{CampaignID: id, Index: index, Supporter: supporter}
	inserted, err := a.checkpointRepo.CreateVote(ctx, &model.Vote{
		CampaignID:      id,
		CheckpointIndex: index,
		Supporter:       supporter,
		Support:         support,
		Weight:          weight,
		TxHash:          ev.TxHash,
		CreatedAt:       ev.BlockTimestamp,
	})
	if err != nil {
		return err
	}
	if !inserted {
		logger.Info("repeat vote ignored", zap.String("vote", voteKey.String()), zap.String("tx_hash", ev.TxHash))
		return nil
	}

	cpKey := voteKey.Checkpoint()
	checkpoint, err := a.checkpointRepo.Get(ctx, cpKey, &repository.QueryOptions{ForUpdate: true})
	if errors.Is(err, repository.ErrCheckpointNotFound) {
		result.orphan(entityCheckpoint, cpKey.String())
		return nil
	}
	if err != nil {
		return err
	}

	if support {
		checkpoint.VotesFor = checkpoint.VotesFor.Add(weight)
	} else {
		checkpoint.VotesAgainst = checkpoint.VotesAgainst.Add(weight)
	}
	checkpoint.UpdatedAt = ev.BlockTimestamp
	return a.checkpointRepo.Update(ctx, checkpoint)
}
