package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/repository"
)

const (
	testChainID = int64(31337)
	campaignAA  = "0xAA"
	campaignBB  = "0xBB"
	supporterS1 = "0x00000000000000000000000000000000000000a1"
	supporterS2 = "0x00000000000000000000000000000000000000b2"
	proposerP1  = "0x00000000000000000000000000000000000000c3"
	vaultV1     = "0x00000000000000000000000000000000000000f1"
	registry    = "0x00000000000000000000000000000000000000e0"
)

var testDBCounter int64

type testEnv struct {
	db             *gorm.DB
	dispatcher     *Dispatcher
	campaignRepo   repository.CampaignRepository
	checkpointRepo repository.CheckpointRepository
	stakeRepo      repository.StakeRepository
	activityRepo   repository.ActivityRepository
	eventRepo      repository.ChainEventRepository
	accountRepo    repository.AccountRepository
}

func newTestEnv(t *testing.T) *testEnv {
	counter := atomic.AddInt64(&testDBCounter, 1)
	dsn := fmt.Sprintf("file:aggtest%d?mode=memory&cache=shared", counter)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Account{}, &model.Campaign{}, &model.Checkpoint{}, &model.Vote{},
		&model.Stake{}, &model.Activity{}, &model.ChainEvent{}, &model.SyncCursor{},
	))

	env := &testEnv{
		db:             db,
		campaignRepo:   repository.NewCampaignRepository(db),
		checkpointRepo: repository.NewCheckpointRepository(db),
		stakeRepo:      repository.NewStakeRepository(db),
		activityRepo:   repository.NewActivityRepository(db),
		eventRepo:      repository.NewChainEventRepository(db),
		accountRepo:    repository.NewAccountRepository(db),
	}
	env.dispatcher = NewDispatcher(repository.NewRepository(db), env.eventRepo, nil)
	agg := NewAggregator(env.accountRepo, env.campaignRepo, env.checkpointRepo, env.stakeRepo, env.activityRepo)
	require.NoError(t, agg.Register(env.dispatcher))
	require.NoError(t, env.dispatcher.Validate())
	return env
}

func txHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func cid(raw string) string {
	id, err := model.NormalizeCampaignID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func registryEvent(name model.EventName, tx, logIndex int, args any) *model.Event {
	return &model.Event{
		ChainID:         testChainID,
		Contract:        model.ContractRegistry,
		ContractAddress: registry,
		Name:            name,
		BlockNumber:     int64(tx),
		BlockTimestamp:  1700000000 + int64(tx),
		TxHash:          txHash(tx),
		LogIndex:        logIndex,
		Args:            args,
	}
}

func vaultEvent(kind model.ContractKind, vault string, name model.EventName, tx int, args any) *model.Event {
	return &model.Event{
		ChainID:         testChainID,
		Contract:        kind,
		ContractAddress: vault,
		Name:            name,
		BlockNumber:     int64(tx),
		BlockTimestamp:  1700000000 + int64(tx),
		TxHash:          txHash(tx),
		LogIndex:        0,
		Args:            args,
	}
}

func deposit(campaign, supporter string, amount int64, tx int) *model.Event {
	return registryEvent(model.EventStakeDeposited, tx, 0, &model.StakeDepositedArgs{
		ID: campaign, Supporter: supporter, Amount: decimal.NewFromInt(amount),
	})
}

func withdraw(campaign, supporter string, amount int64, tx int) *model.Event {
	return registryEvent(model.EventStakeExitFinalized, tx, 0, &model.StakeExitFinalizedArgs{
		ID: campaign, Supporter: supporter, AmountWithdrawn: decimal.NewFromInt(amount),
	})
}

func vote(campaign string, index uint32, supporter string, support bool, weight int64, tx int) *model.Event {
	return registryEvent(model.EventCheckpointVoteCast, tx, 0, &model.CheckpointVoteCastArgs{
		CampaignID: campaign, Index: index, Supporter: supporter, Support: support, Weight: decimal.NewFromInt(weight),
	})
}

func schedule(campaign string, index uint32, tx int) *model.Event {
	return registryEvent(model.EventCheckpointScheduled, tx, 0, &model.CheckpointScheduledArgs{
		CampaignID: campaign, Index: index, Start: 100, End: 200, QuorumBps: 5000,
	})
}

func (e *testEnv) dispatch(t *testing.T, ev *model.Event) *DispatchResult {
	t.Helper()
	result, err := e.dispatcher.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	return result
}

func (e *testEnv) campaignStake(t *testing.T, campaign, supporter string) *model.Stake {
	t.Helper()
	stake, err := e.stakeRepo.Get(context.Background(), model.StakeKey{
		Scope: model.StakeScopeCampaign, Owner: cid(campaign), Supporter: supporter,
	}, nil)
	require.NoError(t, err)
	return stake
}

func (e *testEnv) activities(t *testing.T, owner string, typ model.ActivityType) []*model.Activity {
	t.Helper()
	list, err := e.activityRepo.List(context.Background(), &repository.ActivityFilter{Owner: owner, Type: typ}, nil)
	require.NoError(t, err)
	return list
}

// TestScenario_DepositsAccumulate 两次存入累加
func TestScenario_DepositsAccumulate(t *testing.T) {
	env := newTestEnv(t)

	env.dispatch(t, deposit(campaignAA, supporterS1, 100, 1))
	env.dispatch(t, deposit(campaignAA, supporterS1, 50, 2))

	stake := env.campaignStake(t, campaignAA, supporterS1)
	assert.True(t, stake.Amount.Equal(decimal.NewFromInt(150)))
	assert.True(t, stake.TotalDeposited.Equal(decimal.NewFromInt(150)))
	assert.False(t, stake.Underflow)
	assert.Len(t, env.activities(t, cid(campaignAA), model.ActivityTypeDeposit), 2)

	account, err := env.accountRepo.GetByAddress(context.Background(), supporterS1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), account.FirstSeenBlock)
}

// TestScenario_WithdrawKeepsTotalDeposited 提取不影响累计存入
func TestScenario_WithdrawKeepsTotalDeposited(t *testing.T) {
	env := newTestEnv(t)

	env.dispatch(t, deposit(campaignAA, supporterS1, 100, 1))
	env.dispatch(t, deposit(campaignAA, supporterS1, 50, 2))
	env.dispatch(t, withdraw(campaignAA, supporterS1, 60, 3))

	stake := env.campaignStake(t, campaignAA, supporterS1)
	assert.True(t, stake.Amount.Equal(decimal.NewFromInt(90)))
	assert.True(t, stake.TotalDeposited.Equal(decimal.NewFromInt(150)))
	assert.Len(t, env.activities(t, cid(campaignAA), model.ActivityTypeWithdraw), 1)
	assert.Len(t, env.activities(t, cid(campaignAA), ""), 3)
}

// TestScenario_CheckpointVotes 投票计入检查点
func TestScenario_CheckpointVotes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.dispatch(t, schedule(campaignAA, 0, 1))
	env.dispatch(t, vote(campaignAA, 0, supporterS1, true, 40, 2))
	env.dispatch(t, vote(campaignAA, 0, supporterS2, false, 10, 3))

	key := model.CheckpointKey{CampaignID: cid(campaignAA), Index: 0}
	cp, err := env.checkpointRepo.Get(ctx, key, nil)
	require.NoError(t, err)
	assert.Equal(t, model.CheckpointStatusScheduled, cp.Status)
	assert.True(t, cp.VotesFor.Equal(decimal.NewFromInt(40)))
	assert.True(t, cp.VotesAgainst.Equal(decimal.NewFromInt(10)))

	votes, err := env.checkpointRepo.ListVotes(ctx, key, nil)
	require.NoError(t, err)
	assert.Len(t, votes, 2)

	acts := env.activities(t, cid(campaignAA), model.ActivityTypeVote)
	require.Len(t, acts, 2)
	for _, a := range acts {
		require.NotNil(t, a.CheckpointIndex)
		assert.Equal(t, uint32(0), *a.CheckpointIndex)
		require.NotNil(t, a.Support)
	}
}

// TestScenario_ReplayIsNoop 同坐标重放不重复计入
func TestScenario_ReplayIsNoop(t *testing.T) {
	env := newTestEnv(t)

	first := deposit(campaignAA, supporterS1, 100, 1)
	env.dispatch(t, first)
	env.dispatch(t, deposit(campaignAA, supporterS1, 50, 2))

	result := env.dispatch(t, deposit(campaignAA, supporterS1, 100, 1))
	assert.Equal(t, DispatchDuplicate, result.Status)
	assert.Empty(t, result.Activities)

	stake := env.campaignStake(t, campaignAA, supporterS1)
	assert.True(t, stake.Amount.Equal(decimal.NewFromInt(150)))
	assert.True(t, stake.TotalDeposited.Equal(decimal.NewFromInt(150)))
	assert.Len(t, env.activities(t, cid(campaignAA), model.ActivityTypeDeposit), 2)
}

// TestScenario_ActivityLockstep 流水未命中但动态键已存在时，头寸同步跳过
func TestScenario_ActivityLockstep(t *testing.T) {
	env := newTestEnv(t)

	env.dispatch(t, deposit(campaignAA, supporterS1, 100, 1))

	// 同一日志坐标从另一条链号投递，流水判重不命中，动态键命中
	again := deposit(campaignAA, supporterS1, 100, 1)
	again.ChainID = testChainID + 1
	result := env.dispatch(t, again)
	assert.Equal(t, DispatchApplied, result.Status)
	assert.Empty(t, result.Activities)
	assert.Empty(t, result.Touched)

	stake := env.campaignStake(t, campaignAA, supporterS1)
	assert.True(t, stake.Amount.Equal(decimal.NewFromInt(100)))
}

// TestScenario_OrphanApproval 未提交的活动被批准
func TestScenario_OrphanApproval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result := env.dispatch(t, registryEvent(model.EventCampaignApproved, 1, 0, &model.CampaignApprovedArgs{ID: campaignAA}))
	require.Len(t, result.Orphans, 1)
	assert.Equal(t, entityCampaign, result.Orphans[0].Entity)

	_, err := env.campaignRepo.GetByID(ctx, cid(campaignAA), nil)
	assert.ErrorIs(t, err, repository.ErrCampaignNotFound)

	orphans, err := env.eventRepo.CountOrphans(ctx, testChainID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), orphans)

	// 后续事件照常处理
	env.dispatch(t, deposit(campaignAA, supporterS1, 5, 2))
	stake := env.campaignStake(t, campaignAA, supporterS1)
	assert.True(t, stake.Amount.Equal(decimal.NewFromInt(5)))
}

// TestScenario_VaultDeposit 金库质押与活动质押互不干扰
func TestScenario_VaultDeposit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.dispatch(t, vaultEvent(model.ContractEthVault, vaultV1, model.EventVaultDeposit, 1, &model.VaultDepositArgs{
		Sender: supporterS1, Owner: supporterS1, Assets: decimal.NewFromInt(77), Shares: decimal.NewFromInt(70),
	}))
	env.dispatch(t, deposit(campaignAA, supporterS1, 5, 2))

	key := model.StakeKey{Scope: model.StakeScopeVault, Owner: vaultV1, Supporter: supporterS1}
	stake, err := env.stakeRepo.Get(ctx, key, nil)
	require.NoError(t, err)
	assert.Equal(t, vaultV1, stake.CampaignID)
	assert.Equal(t, model.StakeScopeVault, stake.Scope)
	assert.True(t, stake.Amount.Equal(decimal.NewFromInt(77)))

	campaignStake := env.campaignStake(t, campaignAA, supporterS1)
	assert.NotEqual(t, stake.ID, campaignStake.ID)
	assert.True(t, campaignStake.Amount.Equal(decimal.NewFromInt(5)))

	board, err := env.stakeRepo.ListByOwner(ctx, model.StakeScopeVault, vaultV1, nil)
	require.NoError(t, err)
	assert.Len(t, board, 1)
}

func TestVaultWithdraw_UsdcVault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.dispatch(t, vaultEvent(model.ContractUsdcVault, vaultV1, model.EventVaultDeposit, 1, &model.VaultDepositArgs{
		Sender: supporterS2, Owner: supporterS1, Assets: decimal.NewFromInt(40),
	}))
	env.dispatch(t, vaultEvent(model.ContractUsdcVault, vaultV1, model.EventVaultWithdraw, 2, &model.VaultWithdrawArgs{
		Sender: supporterS1, Receiver: supporterS2, Owner: supporterS1, Assets: decimal.NewFromInt(15),
	}))

	stake, err := env.stakeRepo.Get(ctx, model.StakeKey{Scope: model.StakeScopeVault, Owner: vaultV1, Supporter: supporterS1}, nil)
	require.NoError(t, err)
	assert.True(t, stake.Amount.Equal(decimal.NewFromInt(25)))
	assert.True(t, stake.TotalDeposited.Equal(decimal.NewFromInt(40)))
}

func TestWithdraw_UnderflowClampsToZero(t *testing.T) {
	env := newTestEnv(t)

	env.dispatch(t, deposit(campaignAA, supporterS1, 10, 1))
	result := env.dispatch(t, withdraw(campaignAA, supporterS1, 30, 2))
	require.Len(t, result.Underflows, 1)

	stake := env.campaignStake(t, campaignAA, supporterS1)
	assert.True(t, stake.Amount.IsZero())
	assert.True(t, stake.Underflow)
	assert.True(t, stake.TotalDeposited.Equal(decimal.NewFromInt(10)))

	var n int64
	require.NoError(t, env.db.Model(&model.Stake{}).Where("underflow = ?", true).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestWithdraw_OrphanKeepsActivity(t *testing.T) {
	env := newTestEnv(t)

	result := env.dispatch(t, withdraw(campaignAA, supporterS1, 30, 1))
	require.Len(t, result.Orphans, 1)
	assert.Equal(t, entityStake, result.Orphans[0].Entity)
	assert.Len(t, result.Activities, 1)

	_, err := env.stakeRepo.Get(context.Background(), model.StakeKey{
		Scope: model.StakeScopeCampaign, Owner: cid(campaignAA), Supporter: supporterS1,
	}, nil)
	assert.ErrorIs(t, err, repository.ErrStakeNotFound)
	assert.Len(t, env.activities(t, cid(campaignAA), model.ActivityTypeWithdraw), 1)
}

func TestVote_OrphanCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result := env.dispatch(t, vote(campaignAA, 3, supporterS1, true, 40, 1))
	require.Len(t, result.Orphans, 1)
	assert.Equal(t, entityCheckpoint, result.Orphans[0].Entity)

	_, err := env.checkpointRepo.GetVote(ctx, model.VoteKey{CampaignID: cid(campaignAA), Index: 3, Supporter: supporterS1})
	assert.NoError(t, err)
	assert.Len(t, env.activities(t, cid(campaignAA), model.ActivityTypeVote), 1)

	_, err = env.checkpointRepo.Get(ctx, model.CheckpointKey{CampaignID: cid(campaignAA), Index: 3}, nil)
	assert.ErrorIs(t, err, repository.ErrCheckpointNotFound)
}

func TestVote_RepeatVoteFromNewTxCountsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.dispatch(t, schedule(campaignAA, 0, 1))
	env.dispatch(t, vote(campaignAA, 0, supporterS1, true, 40, 2))
	env.dispatch(t, vote(campaignAA, 0, supporterS1, false, 99, 3))

	cp, err := env.checkpointRepo.Get(ctx, model.CheckpointKey{CampaignID: cid(campaignAA), Index: 0}, nil)
	require.NoError(t, err)
	assert.True(t, cp.VotesFor.Equal(decimal.NewFromInt(40)))
	assert.True(t, cp.VotesAgainst.IsZero())

	// 只有第一票成为投票记录
	votes, err := env.checkpointRepo.ListVotes(ctx, model.CheckpointKey{CampaignID: cid(campaignAA), Index: 0}, nil)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.True(t, votes[0].Support)
	assert.True(t, votes[0].Weight.Equal(decimal.NewFromInt(40)))

	// 两次投票事件均留有动态
	assert.Len(t, env.activities(t, cid(campaignAA), model.ActivityTypeVote), 2)
}

// TestVoteTallyMatchesVotes 检查点票数等于投票权重之和
func TestVoteTallyMatchesVotes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.dispatch(t, schedule(campaignAA, 1, 1))
	voters := []struct {
		addr    string
		support bool
		weight  int64
	}{
		{supporterS1, true, 7},
		{supporterS2, false, 3},
		{proposerP1, true, 11},
	}
	for i, v := range voters {
		env.dispatch(t, vote(campaignAA, 1, v.addr, v.support, v.weight, 10+i))
		// 重复投递
		env.dispatch(t, vote(campaignAA, 1, v.addr, v.support, v.weight, 10+i))
	}

	key := model.CheckpointKey{CampaignID: cid(campaignAA), Index: 1}
	cp, err := env.checkpointRepo.Get(ctx, key, nil)
	require.NoError(t, err)
	votes, err := env.checkpointRepo.ListVotes(ctx, key, nil)
	require.NoError(t, err)

	sumFor, sumAgainst := decimal.Zero, decimal.Zero
	for _, v := range votes {
		if v.Support {
			sumFor = sumFor.Add(v.Weight)
		} else {
			sumAgainst = sumAgainst.Add(v.Weight)
		}
	}
	assert.True(t, cp.VotesFor.Equal(sumFor))
	assert.True(t, cp.VotesAgainst.Equal(sumAgainst))
	assert.True(t, sumFor.Equal(decimal.NewFromInt(18)))
}

// TestConservation 存取序列后余额守恒
func TestConservation(t *testing.T) {
	tests := []struct {
		name      string
		deposits  []int64
		withdraws []int64
	}{
		{"single", []int64{10}, nil},
		{"mixed", []int64{5, 7, 11}, []int64{3, 4}},
		{"drain", []int64{20, 30}, []int64{50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tx := 1
			var d, w int64
			for _, x := range tt.deposits {
				env.dispatch(t, deposit(campaignBB, supporterS2, x, tx))
				d += x
				tx++
			}
			for _, x := range tt.withdraws {
				env.dispatch(t, withdraw(campaignBB, supporterS2, x, tx))
				w += x
				tx++
			}

			stake := env.campaignStake(t, campaignBB, supporterS2)
			assert.True(t, stake.Amount.Equal(decimal.NewFromInt(d-w)))
			assert.True(t, stake.TotalDeposited.Equal(decimal.NewFromInt(d)))
			assert.False(t, stake.Underflow)
			assert.Len(t, env.activities(t, cid(campaignBB), ""), len(tt.deposits)+len(tt.withdraws))
		})
	}
}

type snapshot struct {
	Accounts    []model.Account
	Campaigns   []model.Campaign
	Checkpoints []model.Checkpoint
	Votes       []model.Vote
	Stakes      []model.Stake
	Activities  []model.Activity
}

func (e *testEnv) snapshot(t *testing.T) snapshot {
	t.Helper()
	var s snapshot
	require.NoError(t, e.db.Order("address").Find(&s.Accounts).Error)
	require.NoError(t, e.db.Order("id").Find(&s.Campaigns).Error)
	require.NoError(t, e.db.Order("id").Find(&s.Checkpoints).Error)
	require.NoError(t, e.db.Order("id").Find(&s.Votes).Error)
	require.NoError(t, e.db.Order("id").Find(&s.Stakes).Error)
	require.NoError(t, e.db.Order("id").Find(&s.Activities).Error)
	return s
}

// TestIdempotentReplay 整个事件序列重放后状态不变
func TestIdempotentReplay(t *testing.T) {
	env := newTestEnv(t)

	vault := vaultV1
	events := []*model.Event{
		registryEvent(model.EventCampaignSubmitted, 1, 0, &model.CampaignSubmittedArgs{
			ID: campaignAA, Proposer: proposerP1, MetadataHash: "0xmeta", MetadataCID: "bafy",
		}),
		registryEvent(model.EventCampaignApproved, 2, 0, &model.CampaignApprovedArgs{ID: campaignAA}),
		registryEvent(model.EventCampaignVaultRegistered, 3, 0, &model.CampaignVaultRegisteredArgs{CampaignID: campaignAA, Vault: vault}),
		registryEvent(model.EventCampaignStatusChanged, 4, 0, &model.CampaignStatusChangedArgs{ID: campaignAA, NewStatus: model.CampaignStatusActive}),
		schedule(campaignAA, 0, 5),
		deposit(campaignAA, supporterS1, 100, 6),
		deposit(campaignAA, supporterS2, 30, 7),
		vote(campaignAA, 0, supporterS1, true, 100, 8),
		registryEvent(model.EventCheckpointStatusUpdated, 9, 0, &model.CheckpointStatusUpdatedArgs{
			CampaignID: campaignAA, Index: 0, NewStatus: model.CheckpointStatusSucceeded,
		}),
		withdraw(campaignAA, supporterS2, 30, 10),
		vaultEvent(model.ContractEthVault, vaultV1, model.EventVaultDeposit, 11, &model.VaultDepositArgs{
			Sender: supporterS1, Owner: supporterS1, Assets: decimal.NewFromInt(9),
		}),
	}

	for _, ev := range events {
		env.dispatch(t, ev)
	}
	before := env.snapshot(t)

	for _, ev := range events {
		result := env.dispatch(t, ev)
		assert.Equal(t, DispatchDuplicate, result.Status)
	}
	after := env.snapshot(t)
	assert.Equal(t, before, after)

	require.Len(t, before.Campaigns, 1)
	c := before.Campaigns[0]
	assert.Equal(t, model.CampaignStatusActive, c.Status)
	require.NotNil(t, c.Vault)
	assert.Equal(t, vaultV1, *c.Vault)
	assert.Equal(t, int64(1700000001), c.CreatedAt)
	assert.Equal(t, int64(1700000004), c.UpdatedAt)
	require.Len(t, before.Checkpoints, 1)
	assert.Equal(t, model.CheckpointStatusSucceeded, before.Checkpoints[0].Status)
}

func TestCampaignSubmitted_DuplicateIDKeepsOriginal(t *testing.T) {
	env := newTestEnv(t)

	env.dispatch(t, registryEvent(model.EventCampaignSubmitted, 1, 0, &model.CampaignSubmittedArgs{
		ID: campaignAA, Proposer: proposerP1, MetadataHash: "0x1", MetadataCID: "first",
	}))
	env.dispatch(t, registryEvent(model.EventCampaignSubmitted, 2, 0, &model.CampaignSubmittedArgs{
		ID: campaignAA, Proposer: supporterS1, MetadataHash: "0x2", MetadataCID: "second",
	}))

	c, err := env.campaignRepo.GetByID(context.Background(), cid(campaignAA), nil)
	require.NoError(t, err)
	assert.Equal(t, "first", c.MetadataCID)
	assert.Equal(t, proposerP1, c.Proposer)
	assert.Equal(t, model.CampaignStatusSubmitted, c.Status)
}

func TestDispatch_MalformedIsSkippedAndNotJournaled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bad := deposit(campaignAA, "0xS1", 10, 1)
	result, err := env.dispatcher.Dispatch(ctx, bad)
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
	assert.False(t, IsFatal(err))
	assert.Equal(t, DispatchSkipped, result.Status)

	var journaled int64
	require.NoError(t, env.db.Model(&model.ChainEvent{}).Count(&journaled).Error)
	assert.Zero(t, journaled)

	neg := deposit(campaignAA, supporterS1, -5, 2)
	_, err = env.dispatcher.Dispatch(ctx, neg)
	assert.True(t, IsMalformed(err))

	wrongArgs := registryEvent(model.EventStakeDeposited, 3, 0, &model.CampaignApprovedArgs{ID: campaignAA})
	_, err = env.dispatcher.Dispatch(ctx, wrongArgs)
	assert.True(t, IsMalformed(err))

	badTx := deposit(campaignAA, supporterS1, 5, 4)
	badTx.TxHash = "0x1234"
	_, err = env.dispatcher.Dispatch(ctx, badTx)
	assert.True(t, IsMalformed(err))

	noVault := vaultEvent(model.ContractEthVault, "", model.EventVaultDeposit, 5, &model.VaultDepositArgs{
		Owner: supporterS1, Assets: decimal.NewFromInt(1),
	})
	_, err = env.dispatcher.Dispatch(ctx, noVault)
	assert.True(t, IsMalformed(err))

	// 同一坐标修正后可以正常处理
	env.dispatch(t, deposit(campaignAA, supporterS1, 10, 1))
	stake := env.campaignStake(t, campaignAA, supporterS1)
	assert.True(t, stake.Amount.Equal(decimal.NewFromInt(10)))
}

func TestDispatch_NormalizesCoordinates(t *testing.T) {
	env := newTestEnv(t)

	ev := deposit(campaignAA, "0x00000000000000000000000000000000000000A1", 10, 1)
	ev.TxHash = "0x" + fmt.Sprintf("%064X", 0xabc)
	env.dispatch(t, ev)

	again := deposit(campaignAA, supporterS1, 10, 1)
	again.TxHash = fmt.Sprintf("0x%064x", 0xabc)
	result := env.dispatch(t, again)
	assert.Equal(t, DispatchDuplicate, result.Status)
}

func TestDispatcher_Validate(t *testing.T) {
	env := newTestEnv(t)

	d := NewDispatcher(repository.NewRepository(env.db), env.eventRepo, &DispatcherConfig{MaxRetries: 1})
	err := d.Validate()
	assert.ErrorIs(t, err, ErrUnregisteredEvent)
	assert.True(t, IsFatal(err))

	_, err = d.Dispatch(context.Background(), deposit(campaignAA, supporterS1, 1, 1))
	assert.ErrorIs(t, err, ErrUnregisteredEvent)

	noop := func(context.Context, *model.Event, *DispatchResult) error { return nil }
	t1 := model.EventType{Contract: model.ContractRegistry, Name: model.EventCampaignApproved}
	require.NoError(t, d.Register(t1, noop))
	assert.ErrorIs(t, d.Register(t1, noop), ErrDuplicateHandler)
	assert.ErrorIs(t, d.Register(model.EventType{Contract: model.ContractEthVault, Name: model.EventStakeDeposited}, noop), model.ErrUnknownEvent)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(fmt.Errorf("wrap: %w", model.ErrKeySpaceCollision)))
	assert.True(t, IsFatal(ErrUnregisteredEvent))
	assert.False(t, IsFatal(ErrMalformedEvent))
	assert.False(t, IsFatal(nil))
}

func TestDispatch_PostCommitHooks(t *testing.T) {
	env := newTestEnv(t)

	var recorded []*model.Activity
	var touched []OwnerRef
	env.dispatcher.SetOnActivityRecorded(func(_ context.Context, acts []*model.Activity) {
		recorded = append(recorded, acts...)
	})
	env.dispatcher.SetOnStateChanged(func(_ context.Context, refs []OwnerRef) {
		touched = append(touched, refs...)
	})

	env.dispatch(t, deposit(campaignAA, supporterS1, 10, 1))
	env.dispatch(t, deposit(campaignAA, supporterS1, 10, 1))
	env.dispatch(t, registryEvent(model.EventCampaignApproved, 2, 0, &model.CampaignApprovedArgs{ID: campaignAA}))

	require.Len(t, recorded, 1)
	assert.Equal(t, model.ActivityTypeDeposit, recorded[0].Type)
	assert.Equal(t, txHash(1)+"-0", recorded[0].ID)
	require.Len(t, touched, 1)
	assert.Equal(t, OwnerRef{Scope: model.StakeScopeCampaign, Owner: cid(campaignAA)}, touched[0])
}

// TestCheckpointScheduled_InvertedWindowIsRecorded 投票窗口原样记录，后续投票照常计票
func TestCheckpointScheduled_InvertedWindowIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result := env.dispatch(t, registryEvent(model.EventCheckpointScheduled, 1, 0, &model.CheckpointScheduledArgs{
		CampaignID: campaignAA, Index: 0, Start: 200, End: 100, QuorumBps: 5000,
	}))
	assert.Equal(t, DispatchApplied, result.Status)

	key := model.CheckpointKey{CampaignID: cid(campaignAA), Index: 0}
	cp, err := env.checkpointRepo.Get(ctx, key, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(200), cp.VotingStart)
	assert.Equal(t, int64(100), cp.VotingEnd)

	result = env.dispatch(t, vote(campaignAA, 0, supporterS1, true, 40, 2))
	assert.Empty(t, result.Orphans)

	cp, err = env.checkpointRepo.Get(ctx, key, nil)
	require.NoError(t, err)
	assert.True(t, cp.VotesFor.Equal(decimal.NewFromInt(40)))
}

// TestOrphanEvents_MissingParent 父实体不存在时跳过、标记孤儿并记入流水
func TestOrphanEvents_MissingParent(t *testing.T) {
	tests := []struct {
		name   string
		event  *model.Event
		entity string
		key    string
	}{
		{
			name:   "vault registered",
			event:  registryEvent(model.EventCampaignVaultRegistered, 1, 0, &model.CampaignVaultRegisteredArgs{CampaignID: campaignAA, Vault: vaultV1}),
			entity: entityCampaign,
			key:    cid(campaignAA),
		},
		{
			name:   "status changed",
			event:  registryEvent(model.EventCampaignStatusChanged, 1, 0, &model.CampaignStatusChangedArgs{ID: campaignAA, NewStatus: model.CampaignStatusPaused}),
			entity: entityCampaign,
			key:    cid(campaignAA),
		},
		{
			name:   "rejected",
			event:  registryEvent(model.EventCampaignRejected, 1, 0, &model.CampaignRejectedArgs{ID: campaignAA}),
			entity: entityCampaign,
			key:    cid(campaignAA),
		},
		{
			name:   "checkpoint status updated",
			event:  registryEvent(model.EventCheckpointStatusUpdated, 1, 0, &model.CheckpointStatusUpdatedArgs{CampaignID: campaignAA, Index: 2, NewStatus: model.CheckpointStatusScheduled}),
			entity: entityCheckpoint,
			key:    model.CheckpointKey{CampaignID: cid(campaignAA), Index: 2}.String(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			result := env.dispatch(t, tt.event)
			assert.Equal(t, DispatchApplied, result.Status)
			require.Len(t, result.Orphans, 1)
			assert.Equal(t, tt.entity, result.Orphans[0].Entity)
			assert.Equal(t, tt.key, result.Orphans[0].Key)

			var campaigns, checkpoints int64
			require.NoError(t, env.db.Model(&model.Campaign{}).Count(&campaigns).Error)
			require.NoError(t, env.db.Model(&model.Checkpoint{}).Count(&checkpoints).Error)
			assert.Zero(t, campaigns)
			assert.Zero(t, checkpoints)

			orphans, err := env.eventRepo.CountOrphans(ctx, testChainID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), orphans)

			// 重放仍是重复事件，不再计入孤儿
			again := env.dispatch(t, tt.event)
			assert.Equal(t, DispatchDuplicate, again.Status)
			orphans, err = env.eventRepo.CountOrphans(ctx, testChainID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), orphans)
		})
	}
}

// conflictOnceStakeRepo 第一次创建返回并发冲突
type conflictOnceStakeRepo struct {
	repository.StakeRepository
	creates int
}

func (r *conflictOnceStakeRepo) Create(ctx context.Context, stake *model.Stake) error {
	r.creates++
	if r.creates == 1 {
		return repository.ErrStakeConflict
	}
	return r.StakeRepository.Create(ctx, stake)
}

// TestDeposit_CreateConflictRetriesTransaction 创建冲突时整个事务重试，存入只计一次
func TestDeposit_CreateConflictRetriesTransaction(t *testing.T) {
	env := newTestEnv(t)
	stakes := &conflictOnceStakeRepo{StakeRepository: env.stakeRepo}

	dispatcher := NewDispatcher(repository.NewRepository(env.db), env.eventRepo, nil)
	agg := NewAggregator(env.accountRepo, env.campaignRepo, env.checkpointRepo, stakes, env.activityRepo)
	require.NoError(t, agg.Register(dispatcher))

	result, err := dispatcher.Dispatch(context.Background(), vaultEvent(model.ContractEthVault, vaultV1, model.EventVaultDeposit, 1, &model.VaultDepositArgs{
		Sender: supporterS1, Owner: supporterS1, Assets: decimal.NewFromInt(100), Shares: decimal.NewFromInt(100),
	}))
	require.NoError(t, err)
	assert.Equal(t, DispatchApplied, result.Status)
	assert.Equal(t, 2, stakes.creates)

	stake, err := env.stakeRepo.Get(context.Background(), model.StakeKey{
		Scope: model.StakeScopeVault, Owner: vaultV1, Supporter: supporterS1,
	}, nil)
	require.NoError(t, err)
	assert.True(t, stake.Amount.Equal(decimal.NewFromInt(100)))
	assert.Len(t, env.activities(t, vaultV1, model.ActivityTypeDeposit), 1)
}
