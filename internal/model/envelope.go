package model

import (
	"encoding/json"
	"fmt"
)

// EventEnvelope Kafka campaign-events 消息体
type EventEnvelope struct {
	ChainID         int64           `json:"chain_id"`
	Contract        ContractKind    `json:"contract"`
	ContractAddress string          `json:"contract_address"`
	Event           EventName       `json:"event"`
	BlockNumber     int64           `json:"block_number"`
	BlockHash       string          `json:"block_hash"`
	BlockTimestamp  int64           `json:"block_timestamp"`
	TxHash          string          `json:"tx_hash"`
	LogIndex        int             `json:"log_index"`
	Args            json.RawMessage `json:"args"`
}

// ToEvent 按事件目录解析参数
func (e *EventEnvelope) ToEvent() (*Event, error) {
	t := EventType{Contract: e.Contract, Name: e.Event}
	args, err := NewEventArgs(t)
	if err != nil {
		return nil, err
	}
	if len(e.Args) > 0 {
		if err := json.Unmarshal(e.Args, args); err != nil {
			return nil, fmt.Errorf("decode %s args: %w", t, err)
		}
	}

	return &Event{
		ChainID:         e.ChainID,
		Contract:        e.Contract,
		ContractAddress: e.ContractAddress,
		Name:            e.Event,
		BlockNumber:     e.BlockNumber,
		BlockHash:       e.BlockHash,
		BlockTimestamp:  e.BlockTimestamp,
		TxHash:          e.TxHash,
		LogIndex:        e.LogIndex,
		Args:            args,
	}, nil
}

// NewEventEnvelope 将事件编码为 Kafka 消息体
func NewEventEnvelope(ev *Event) (*EventEnvelope, error) {
	args, err := json.Marshal(ev.Args)
	if err != nil {
		return nil, err
	}
	return &EventEnvelope{
		ChainID:         ev.ChainID,
		Contract:        ev.Contract,
		ContractAddress: ev.ContractAddress,
		Event:           ev.Name,
		BlockNumber:     ev.BlockNumber,
		BlockHash:       ev.BlockHash,
		BlockTimestamp:  ev.BlockTimestamp,
		TxHash:          ev.TxHash,
		LogIndex:        ev.LogIndex,
		Args:            args,
	}, nil
}
