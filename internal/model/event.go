package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUnknownEvent 事件目录中不存在的 (合约, 事件) 组合
var ErrUnknownEvent = errors.New("unknown contract event")

// ContractKind 合约类型
type ContractKind string

const (
	ContractRegistry  ContractKind = "Registry"
	ContractEthVault  ContractKind = "EthVault"
	ContractUsdcVault ContractKind = "UsdcVault"
)

// IsVault 是否为全局金库合约
func (c ContractKind) IsVault() bool {
	return c == ContractEthVault || c == ContractUsdcVault
}

// EventName 事件名
type EventName string

const (
	EventCampaignSubmitted       EventName = "CampaignSubmitted"
	EventCampaignApproved        EventName = "CampaignApproved"
	EventCampaignRejected        EventName = "CampaignRejected"
	EventCampaignStatusChanged   EventName = "CampaignStatusChanged"
	EventCampaignVaultRegistered EventName = "CampaignVaultRegistered"
	EventCheckpointScheduled     EventName = "CheckpointScheduled"
	EventCheckpointStatusUpdated EventName = "CheckpointStatusUpdated"
	EventStakeDeposited          EventName = "StakeDeposited"
	EventStakeExitFinalized      EventName = "StakeExitFinalized"
	EventCheckpointVoteCast      EventName = "CheckpointVoteCast"
	EventVaultDeposit            EventName = "Deposit"
	EventVaultWithdraw           EventName = "Withdraw"
)

// EventType (合约, 事件) 组合，分发器的路由键
type EventType struct {
	Contract ContractKind
	Name     EventName
}

func (t EventType) String() string {
	return string(t.Contract) + ":" + string(t.Name)
}

// Event 一条链上日志事件
type Event struct {
	ChainID         int64
	Contract        ContractKind
	ContractAddress string
	Name            EventName
	BlockNumber     int64
	BlockHash       string
	BlockTimestamp  int64 // 秒
	TxHash          string
	LogIndex        int
	Args            any
}

// Type 返回路由键
func (e *Event) Type() EventType {
	return EventType{Contract: e.Contract, Name: e.Name}
}

// ActivityKey 返回该事件对应的动态主键
func (e *Event) ActivityKey() ActivityKey {
	return ActivityKey{TxHash: e.TxHash, LogIndex: e.LogIndex}
}

// 事件参数，字段名与合约事件参数一致

type CampaignSubmittedArgs struct {
	ID           string `json:"id"`
	Proposer     string `json:"proposer"`
	MetadataHash string `json:"metadataHash"`
	MetadataCID  string `json:"metadataCID"`
}

type CampaignApprovedArgs struct {
	ID string `json:"id"`
}

type CampaignRejectedArgs struct {
	ID string `json:"id"`
}

type CampaignStatusChangedArgs struct {
	ID        string         `json:"id"`
	NewStatus CampaignStatus `json:"newStatus"`
}

type CampaignVaultRegisteredArgs struct {
	CampaignID string `json:"campaignId"`
	Vault      string `json:"vault"`
}

type CheckpointScheduledArgs struct {
	CampaignID string `json:"campaignId"`
	Index      uint32 `json:"index"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
	QuorumBps  uint32 `json:"quorumBps"`
}

type CheckpointStatusUpdatedArgs struct {
	CampaignID string           `json:"campaignId"`
	Index      uint32           `json:"index"`
	NewStatus  CheckpointStatus `json:"newStatus"`
}

type StakeDepositedArgs struct {
	ID        string          `json:"id"`
	Supporter string          `json:"supporter"`
	Amount    decimal.Decimal `json:"amount"`
}

type StakeExitFinalizedArgs struct {
	ID              string          `json:"id"`
	Supporter       string          `json:"supporter"`
	AmountWithdrawn decimal.Decimal `json:"amountWithdrawn"`
}

type CheckpointVoteCastArgs struct {
	CampaignID string          `json:"campaignId"`
	Index      uint32          `json:"index"`
	Supporter  string          `json:"supporter"`
	Support    bool            `json:"support"`
	Weight     decimal.Decimal `json:"weight"`
}

// VaultDepositArgs ERC-4626 Deposit(sender, owner, assets, shares)
type VaultDepositArgs struct {
	Sender string          `json:"sender"`
	Owner  string          `json:"owner"`
	Assets decimal.Decimal `json:"assets"`
	Shares decimal.Decimal `json:"shares"`
}

// VaultWithdrawArgs ERC-4626 Withdraw(sender, receiver, owner, assets, shares)
type VaultWithdrawArgs struct {
	Sender   string          `json:"sender"`
	Receiver string          `json:"receiver"`
	Owner    string          `json:"owner"`
	Assets   decimal.Decimal `json:"assets"`
	Shares   decimal.Decimal `json:"shares"`
}

var eventCatalog = map[EventType]func() any{
	{ContractRegistry, EventCampaignSubmitted}:       func() any { return &CampaignSubmittedArgs{} },
	{ContractRegistry, EventCampaignApproved}:        func() any { return &CampaignApprovedArgs{} },
	{ContractRegistry, EventCampaignRejected}:        func() any { return &CampaignRejectedArgs{} },
	{ContractRegistry, EventCampaignStatusChanged}:   func() any { return &CampaignStatusChangedArgs{} },
	{ContractRegistry, EventCampaignVaultRegistered}: func() any { return &CampaignVaultRegisteredArgs{} },
	{ContractRegistry, EventCheckpointScheduled}:     func() any { return &CheckpointScheduledArgs{} },
	{ContractRegistry, EventCheckpointStatusUpdated}: func() any { return &CheckpointStatusUpdatedArgs{} },
	{ContractRegistry, EventStakeDeposited}:          func() any { return &StakeDepositedArgs{} },
	{ContractRegistry, EventStakeExitFinalized}:      func() any { return &StakeExitFinalizedArgs{} },
	{ContractRegistry, EventCheckpointVoteCast}:      func() any { return &CheckpointVoteCastArgs{} },
	{ContractEthVault, EventVaultDeposit}:            func() any { return &VaultDepositArgs{} },
	{ContractEthVault, EventVaultWithdraw}:           func() any { return &VaultWithdrawArgs{} },
	{ContractUsdcVault, EventVaultDeposit}:           func() any { return &VaultDepositArgs{} },
	{ContractUsdcVault, EventVaultWithdraw}:          func() any { return &VaultWithdrawArgs{} },
}

// EventCatalog 返回本服务处理的全部事件类型
func EventCatalog() []EventType {
	types := make([]EventType, 0, len(eventCatalog))
	for t := range eventCatalog {
		types = append(types, t)
	}
	return types
}

// NewEventArgs 返回该事件类型对应的空参数结构指针
func NewEventArgs(t EventType) (any, error) {
	factory, ok := eventCatalog[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, t)
	}
	return factory(), nil
}
