package model

// SyncCursor 每条链、每个事件源最后完整处理的区块
type SyncCursor struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ChainID     int64  `gorm:"column:chain_id;type:bigint;uniqueIndex:uk_cursor_chain_source;not null" json:"chain_id"`
	Source      string `gorm:"column:source;type:varchar(32);uniqueIndex:uk_cursor_chain_source;not null" json:"source"`
	BlockNumber int64  `gorm:"column:block_number;type:bigint;not null" json:"block_number"`
	BlockHash   string `gorm:"column:block_hash;type:varchar(66);not null" json:"block_hash"`
	ProcessedAt int64  `gorm:"column:processed_at;type:bigint;not null" json:"processed_at"`
	CreatedAt   int64  `gorm:"column:created_at;type:bigint;not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt   int64  `gorm:"column:updated_at;type:bigint;not null;autoUpdateTime:false" json:"updated_at"`
}

// TableName 返回表名
func (SyncCursor) TableName() string {
	return "campaign_sync_cursors"
}

// ChainEvent 已应用事件流水，(chain_id, tx_hash, log_index) 唯一，用于整事件幂等
type ChainEvent struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ChainID     int64  `gorm:"column:chain_id;type:bigint;uniqueIndex:uk_chain_event_coord,priority:1;not null" json:"chain_id"`
	TxHash      string `gorm:"column:tx_hash;type:varchar(66);uniqueIndex:uk_chain_event_coord,priority:2;not null" json:"tx_hash"`
	LogIndex    int    `gorm:"column:log_index;type:int;uniqueIndex:uk_chain_event_coord,priority:3;not null" json:"log_index"`
	BlockNumber int64  `gorm:"column:block_number;type:bigint;index;not null" json:"block_number"`
	Contract    string `gorm:"column:contract;type:varchar(32);not null" json:"contract"`
	EventName   string `gorm:"column:event_name;type:varchar(64);index;not null" json:"event_name"`
	Orphan      bool   `gorm:"column:orphan;not null" json:"orphan"`
	CreatedAt   int64  `gorm:"column:created_at;type:bigint;not null;autoCreateTime:false" json:"created_at"`
}

// TableName 返回表名
func (ChainEvent) TableName() string {
	return "campaign_chain_events"
}

// EventSource 事件源名称
const EventSourceRPC = "rpc"
