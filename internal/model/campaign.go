package model

// CampaignStatus 活动状态，序号与 Registry 合约的 uint8 枚举一致
type CampaignStatus int8

const (
	CampaignStatusSubmitted CampaignStatus = 0 // 已提交
	CampaignStatusApproved  CampaignStatus = 1 // 已批准
	CampaignStatusRejected  CampaignStatus = 2 // 已拒绝 (终态)
	CampaignStatusActive    CampaignStatus = 3 // 进行中
	CampaignStatusPaused    CampaignStatus = 4 // 已暂停
	CampaignStatusCancelled CampaignStatus = 5 // 已取消 (终态)
	CampaignStatusCompleted CampaignStatus = 6 // 已完成 (终态)
	CampaignStatusFailed    CampaignStatus = 7 // 已失败 (终态)
)

func (s CampaignStatus) String() string {
	switch s {
	case CampaignStatusSubmitted:
		return "SUBMITTED"
	case CampaignStatusApproved:
		return "APPROVED"
	case CampaignStatusRejected:
		return "REJECTED"
	case CampaignStatusActive:
		return "ACTIVE"
	case CampaignStatusPaused:
		return "PAUSED"
	case CampaignStatusCancelled:
		return "CANCELLED"
	case CampaignStatusCompleted:
		return "COMPLETED"
	case CampaignStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 是否为终态
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case CampaignStatusRejected, CampaignStatusCancelled, CampaignStatusCompleted, CampaignStatusFailed:
		return true
	}
	return false
}

// Account 链上账户，首次被事件引用时创建
type Account struct {
	Address        string `gorm:"primaryKey;column:address;type:varchar(42)" json:"address"`
	FirstSeenBlock int64  `gorm:"column:first_seen_block;type:bigint;not null" json:"first_seen_block"`
	CreatedAt      int64  `gorm:"column:created_at;type:bigint;not null;autoCreateTime:false" json:"created_at"`
}

// TableName 返回表名
func (Account) TableName() string {
	return "campaign_accounts"
}

// Campaign 众筹活动
type Campaign struct {
	ID           string         `gorm:"primaryKey;column:id;type:varchar(66)" json:"id"`
	ChainID      int64          `gorm:"column:chain_id;type:bigint;not null" json:"chain_id"`
	Proposer     string         `gorm:"column:proposer;type:varchar(42);index;not null" json:"proposer"`
	MetadataHash string         `gorm:"column:metadata_hash;type:varchar(66);not null" json:"metadata_hash"`
	MetadataCID  string         `gorm:"column:metadata_cid;type:varchar(128);not null" json:"metadata_cid"`
	Vault        *string        `gorm:"column:vault;type:varchar(42)" json:"vault,omitempty"`
	Status       CampaignStatus `gorm:"column:status;type:smallint;index;not null" json:"status"`
	TxHash       string         `gorm:"column:tx_hash;type:varchar(66);not null" json:"tx_hash"`
	CreatedAt    int64          `gorm:"column:created_at;type:bigint;not null;autoCreateTime:false" json:"created_at"` // 区块时间
	UpdatedAt    int64          `gorm:"column:updated_at;type:bigint;not null;autoUpdateTime:false" json:"updated_at"` // 区块时间
}

// TableName 返回表名
func (Campaign) TableName() string {
	return "campaign_campaigns"
}
