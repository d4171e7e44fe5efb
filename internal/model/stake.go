package model

import "github.com/shopspring/decimal"

// Stake 支持者在活动或全局金库中的头寸
//
// Amount 为当前可提余额；TotalDeposited 为累计存入，只增不减。
// Underflow 表示曾有提取超过余额、已被截断为 0，需要对账。
type Stake struct {
	ID             string          `gorm:"primaryKey;column:id;type:varchar(128)" json:"id"`
	Scope          StakeScope      `gorm:"column:scope;type:varchar(16);not null" json:"scope"`
	CampaignID     string          `gorm:"column:campaign_id;type:varchar(66);index:idx_stakes_owner_amount,priority:1;not null" json:"campaign_id"` // 活动 ID 或金库地址
	Supporter      string          `gorm:"column:supporter;type:varchar(42);index;not null" json:"supporter"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(78,0);index:idx_stakes_owner_amount,priority:2;not null" json:"amount"`
	TotalDeposited decimal.Decimal `gorm:"column:total_deposited;type:numeric(78,0);not null" json:"total_deposited"`
	Underflow      bool            `gorm:"column:underflow;not null" json:"underflow"`
	CreatedAt      int64           `gorm:"column:created_at;type:bigint;not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt      int64           `gorm:"column:updated_at;type:bigint;not null;autoUpdateTime:false" json:"updated_at"`
}

// TableName 返回表名
func (Stake) TableName() string {
	return "campaign_stakes"
}

// Key 返回主键
func (s *Stake) Key() StakeKey {
	return StakeKey{Scope: s.Scope, Owner: s.CampaignID, Supporter: s.Supporter}
}

// ActivityType 动态类型
type ActivityType string

const (
	ActivityTypeDeposit  ActivityType = "DEPOSIT"
	ActivityTypeWithdraw ActivityType = "WITHDRAW"
	ActivityTypeVote     ActivityType = "VOTE"
)

// Activity 面向用户的不可变动态流水，一条链上事件对应一条
type Activity struct {
	ID              string              `gorm:"primaryKey;column:id;type:varchar(80)" json:"id"`
	ChainID         int64               `gorm:"column:chain_id;type:bigint;not null" json:"chain_id"`
	Scope           StakeScope          `gorm:"column:scope;type:varchar(16);not null" json:"scope"`
	CampaignID      string              `gorm:"column:campaign_id;type:varchar(66);index:idx_activities_owner_ts,priority:1;not null" json:"campaign_id"`
	Supporter       string              `gorm:"column:supporter;type:varchar(42);index;not null" json:"supporter"`
	Type            ActivityType        `gorm:"column:type;type:varchar(16);not null" json:"type"`
	Amount          decimal.NullDecimal `gorm:"column:amount;type:numeric(78,0)" json:"amount"`
	Support         *bool               `gorm:"column:support" json:"support,omitempty"`
	CheckpointIndex *uint32             `gorm:"column:checkpoint_index;type:bigint" json:"checkpoint_index,omitempty"`
	Timestamp       int64               `gorm:"column:timestamp;type:bigint;index:idx_activities_owner_ts,priority:2;not null" json:"timestamp"`
	BlockNumber     int64               `gorm:"column:block_number;type:bigint;not null" json:"block_number"`
	TxHash          string              `gorm:"column:tx_hash;type:varchar(66);not null" json:"tx_hash"`
	LogIndex        int                 `gorm:"column:log_index;type:int;not null" json:"log_index"`
}

// TableName 返回表名
func (Activity) TableName() string {
	return "campaign_activities"
}
