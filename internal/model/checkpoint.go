package model

import "github.com/shopspring/decimal"

// CheckpointStatus 里程碑检查点状态，序号与 Registry 合约一致
type CheckpointStatus int8

const (
	CheckpointStatusScheduled CheckpointStatus = 0 // 已排期
	CheckpointStatusVoting    CheckpointStatus = 1 // 投票中
	CheckpointStatusSucceeded CheckpointStatus = 2 // 通过
	CheckpointStatusFailed    CheckpointStatus = 3 // 未通过
	CheckpointStatusCancelled CheckpointStatus = 4 // 已取消
)

func (s CheckpointStatus) String() string {
	switch s {
	case CheckpointStatusScheduled:
		return "SCHEDULED"
	case CheckpointStatusVoting:
		return "VOTING"
	case CheckpointStatusSucceeded:
		return "SUCCEEDED"
	case CheckpointStatusFailed:
		return "FAILED"
	case CheckpointStatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Checkpoint 活动内的里程碑验收投票
//
// VotesFor / VotesAgainst 单调不减，且等于引用本检查点的 Vote 按 support 分组的权重之和。
type Checkpoint struct {
	ID           string           `gorm:"primaryKey;column:id;type:varchar(80)" json:"id"`
	CampaignID   string           `gorm:"column:campaign_id;type:varchar(66);index;not null" json:"campaign_id"`
	Index        uint32           `gorm:"column:checkpoint_index;type:bigint;not null" json:"index"`
	VotingStart  int64            `gorm:"column:voting_start;type:bigint;not null" json:"voting_start"`
	VotingEnd    int64            `gorm:"column:voting_end;type:bigint;not null" json:"voting_end"`
	QuorumBps    uint32           `gorm:"column:quorum_bps;type:integer;not null" json:"quorum_bps"`
	Status       CheckpointStatus `gorm:"column:status;type:smallint;not null" json:"status"`
	VotesFor     decimal.Decimal  `gorm:"column:votes_for;type:numeric(78,0);not null" json:"votes_for"`
	VotesAgainst decimal.Decimal  `gorm:"column:votes_against;type:numeric(78,0);not null" json:"votes_against"`
	CreatedAt    int64            `gorm:"column:created_at;type:bigint;not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt    int64            `gorm:"column:updated_at;type:bigint;not null;autoUpdateTime:false" json:"updated_at"`
}

// TableName 返回表名
func (Checkpoint) TableName() string {
	return "campaign_checkpoints"
}

// Key 返回主键
func (c *Checkpoint) Key() CheckpointKey {
	return CheckpointKey{CampaignID: c.CampaignID, Index: c.Index}
}

// Vote 支持者对检查点的一票
type Vote struct {
	ID              string          `gorm:"primaryKey;column:id;type:varchar(128)" json:"id"`
	CheckpointID    string          `gorm:"column:checkpoint_id;type:varchar(80);index;not null" json:"checkpoint_id"`
	CampaignID      string          `gorm:"column:campaign_id;type:varchar(66);index;not null" json:"campaign_id"`
	CheckpointIndex uint32          `gorm:"column:checkpoint_index;type:bigint;not null" json:"checkpoint_index"`
	Supporter       string          `gorm:"column:supporter;type:varchar(42);index;not null" json:"supporter"`
	Support         bool            `gorm:"column:support;not null" json:"support"`
	Weight          decimal.Decimal `gorm:"column:weight;type:numeric(78,0);not null" json:"weight"`
	TxHash          string          `gorm:"column:tx_hash;type:varchar(66);not null" json:"tx_hash"`
	CreatedAt       int64           `gorm:"column:created_at;type:bigint;not null;autoCreateTime:false" json:"created_at"`
}

// TableName 返回表名
func (Vote) TableName() string {
	return "campaign_votes"
}
