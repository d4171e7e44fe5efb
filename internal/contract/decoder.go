package contract

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
)

var (
	ErrUnknownContract = errors.New("log from unknown contract")
	ErrUnknownTopic    = errors.New("unknown event topic")
	ErrMalformedLog    = errors.New("malformed log")
)

// Binding 一个被索引的合约
type Binding struct {
	Kind    model.ContractKind
	Address common.Address
}

// Decoder 将链上日志解码为领域事件
type Decoder struct {
	chainID  int64
	bindings map[common.Address]model.ContractKind
	abis     map[model.ContractKind]abi.ABI
}

// NewDecoder 创建解码器
func NewDecoder(chainID int64, bindings []Binding) (*Decoder, error) {
	registryABI, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	vaultABI, err := abi.JSON(strings.NewReader(VaultABI))
	if err != nil {
		return nil, fmt.Errorf("parse vault abi: %w", err)
	}

	d := &Decoder{
		chainID:  chainID,
		bindings: make(map[common.Address]model.ContractKind, len(bindings)),
		abis: map[model.ContractKind]abi.ABI{
			model.ContractRegistry:  registryABI,
			model.ContractEthVault:  vaultABI,
			model.ContractUsdcVault: vaultABI,
		},
	}
	for _, b := range bindings {
		if _, ok := d.abis[b.Kind]; !ok {
			return nil, fmt.Errorf("unsupported contract kind %q", b.Kind)
		}
		if prev, ok := d.bindings[b.Address]; ok && prev != b.Kind {
			return nil, fmt.Errorf("address %s bound to both %s and %s", b.Address.Hex(), prev, b.Kind)
		}
		d.bindings[b.Address] = b.Kind
	}
	return d, nil
}

// Addresses 返回需要过滤日志的合约地址
func (d *Decoder) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(d.bindings))
	for addr := range d.bindings {
		addrs = append(addrs, addr)
	}
	return addrs
}

// Topics 返回全部已知事件的 topic0
func (d *Decoder) Topics() []common.Hash {
	seen := make(map[common.Hash]struct{})
	var topics []common.Hash
	for _, a := range d.abis {
		for _, ev := range a.Events {
			if _, ok := seen[ev.ID]; ok {
				continue
			}
			seen[ev.ID] = struct{}{}
			topics = append(topics, ev.ID)
		}
	}
	return topics
}

// Decode 解码一条日志，blockTime 为所在区块时间 (秒)
func (d *Decoder) Decode(log types.Log, blockTime int64) (*model.Event, error) {
	kind, ok := d.bindings[log.Address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, log.Address.Hex())
	}
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("%w: no topics", ErrMalformedLog)
	}

	contractABI := d.abis[kind]
	abiEvent, err := contractABI.EventByID(log.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownTopic, log.Topics[0].Hex(), kind)
	}

	fields := make(map[string]interface{})
	if len(log.Data) > 0 {
		if err := contractABI.UnpackIntoMap(fields, abiEvent.Name, log.Data); err != nil {
			return nil, fmt.Errorf("%w: unpack %s data: %v", ErrMalformedLog, abiEvent.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range abiEvent.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(log.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("%w: %s expects %d indexed topics, got %d", ErrMalformedLog, abiEvent.Name, len(indexed), len(log.Topics)-1)
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("%w: parse %s topics: %v", ErrMalformedLog, abiEvent.Name, err)
	}

	name := model.EventName(abiEvent.Name)
	args, err := buildArgs(kind, name, &argReader{fields: fields})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedLog, abiEvent.Name, err)
	}

	return &model.Event{
		ChainID:         d.chainID,
		Contract:        kind,
		ContractAddress: strings.ToLower(log.Address.Hex()),
		Name:            name,
		BlockNumber:     int64(log.BlockNumber),
		BlockHash:       log.BlockHash.Hex(),
		BlockTimestamp:  blockTime,
		TxHash:          log.TxHash.Hex(),
		LogIndex:        int(log.Index),
		Args:            args,
	}, nil
}

func buildArgs(kind model.ContractKind, name model.EventName, r *argReader) (any, error) {
	var args any
	switch {
	case kind.IsVault() && name == model.EventVaultDeposit:
		args = &model.VaultDepositArgs{
			Sender: r.address("sender"),
			Owner:  r.address("owner"),
			Assets: r.amount("assets"),
			Shares: r.amount("shares"),
		}
	case kind.IsVault() && name == model.EventVaultWithdraw:
		args = &model.VaultWithdrawArgs{
			Sender:   r.address("sender"),
			Receiver: r.address("receiver"),
			Owner:    r.address("owner"),
			Assets:   r.amount("assets"),
			Shares:   r.amount("shares"),
		}
	case kind.IsVault():
		return nil, fmt.Errorf("no args for %s:%s", kind, name)
	case name == model.EventCampaignSubmitted:
		args = &model.CampaignSubmittedArgs{
			ID:           r.bytes32("id"),
			Proposer:     r.address("proposer"),
			MetadataHash: r.bytes32("metadataHash"),
			MetadataCID:  r.text("metadataCID"),
		}
	case name == model.EventCampaignApproved:
		args = &model.CampaignApprovedArgs{ID: r.bytes32("id")}
	case name == model.EventCampaignRejected:
		args = &model.CampaignRejectedArgs{ID: r.bytes32("id")}
	case name == model.EventCampaignStatusChanged:
		args = &model.CampaignStatusChangedArgs{
			ID:        r.bytes32("id"),
			NewStatus: model.CampaignStatus(r.uint("newStatus")),
		}
	case name == model.EventCampaignVaultRegistered:
		args = &model.CampaignVaultRegisteredArgs{
			CampaignID: r.bytes32("campaignId"),
			Vault:      r.address("vault"),
		}
	case name == model.EventCheckpointScheduled:
		args = &model.CheckpointScheduledArgs{
			CampaignID: r.bytes32("campaignId"),
			Index:      uint32(r.uint("index")),
			Start:      int64(r.uint("start")),
			End:        int64(r.uint("end")),
			QuorumBps:  uint32(r.uint("quorumBps")),
		}
	case name == model.EventCheckpointStatusUpdated:
		args = &model.CheckpointStatusUpdatedArgs{
			CampaignID: r.bytes32("campaignId"),
			Index:      uint32(r.uint("index")),
			NewStatus:  model.CheckpointStatus(r.uint("newStatus")),
		}
	case name == model.EventStakeDeposited:
		args = &model.StakeDepositedArgs{
			ID:        r.bytes32("id"),
			Supporter: r.address("supporter"),
			Amount:    r.amount("amount"),
		}
	case name == model.EventStakeExitFinalized:
		args = &model.StakeExitFinalizedArgs{
			ID:              r.bytes32("id"),
			Supporter:       r.address("supporter"),
			AmountWithdrawn: r.amount("amountWithdrawn"),
		}
	case name == model.EventCheckpointVoteCast:
		args = &model.CheckpointVoteCastArgs{
			CampaignID: r.bytes32("campaignId"),
			Index:      uint32(r.uint("index")),
			Supporter:  r.address("supporter"),
			Support:    r.boolean("support"),
			Weight:     r.amount("weight"),
		}
	default:
		return nil, fmt.Errorf("no args for %s:%s", kind, name)
	}
	if r.err != nil {
		return nil, r.err
	}
	return args, nil
}

// argReader 从解包结果中按类型取值，记录第一个错误
type argReader struct {
	fields map[string]interface{}
	err    error
}

func (r *argReader) get(name string) interface{} {
	v, ok := r.fields[name]
	if !ok && r.err == nil {
		r.err = fmt.Errorf("missing field %q", name)
	}
	return v
}

func (r *argReader) fail(name string, v interface{}) {
	if r.err == nil {
		r.err = fmt.Errorf("field %q has unexpected type %T", name, v)
	}
}

func (r *argReader) address(name string) string {
	v := r.get(name)
	a, ok := v.(common.Address)
	if !ok {
		r.fail(name, v)
		return ""
	}
	return strings.ToLower(a.Hex())
}

func (r *argReader) bytes32(name string) string {
	v := r.get(name)
	b, ok := v.([32]byte)
	if !ok {
		r.fail(name, v)
		return ""
	}
	return common.Hash(b).Hex()
}

func (r *argReader) text(name string) string {
	v := r.get(name)
	s, ok := v.(string)
	if !ok {
		r.fail(name, v)
	}
	return s
}

func (r *argReader) amount(name string) decimal.Decimal {
	v := r.get(name)
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		r.fail(name, v)
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n, 0)
}

func (r *argReader) boolean(name string) bool {
	v := r.get(name)
	b, ok := v.(bool)
	if !ok {
		r.fail(name, v)
	}
	return b
}

// uint 读取 uint8 到 uint64 的定长整数
func (r *argReader) uint(name string) uint64 {
	v := r.get(name)
	switch n := v.(type) {
	case uint8:
		return uint64(n)
	case uint16:
		return uint64(n)
	case uint32:
		return uint64(n)
	case uint64:
		return n
	}
	r.fail(name, v)
	return 0
}
