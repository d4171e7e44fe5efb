package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInvalidAddress 非法的 20 字节地址
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidCampaignID 非法的 32 字节活动 ID
	ErrInvalidCampaignID = errors.New("invalid campaign id")
	// ErrInvalidHash 非法的 32 字节哈希
	ErrInvalidHash = errors.New("invalid hash")
	// ErrKeySpaceCollision 质押键的 owner 与 scope 的标识空间不一致
	ErrKeySpaceCollision = errors.New("stake key space collision")
)

const (
	addressHexLen    = 2 + common.AddressLength*2
	campaignIDHexLen = 2 + common.HashLength*2
)

// NormalizeAddress 校验并返回小写的 0x 地址
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}

// NormalizeCampaignID 校验 bytes32 十六进制并左补零为 0x + 64 位小写
func NormalizeCampaignID(s string) (string, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if raw == "" || len(raw) > common.HashLength*2 || !isHex(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCampaignID, s)
	}
	return common.HexToHash(raw).Hex(), nil
}

// NormalizeHash 校验完整的 32 字节哈希 (交易哈希、区块哈希) 并转小写
func NormalizeHash(s string) (string, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(raw) != common.HashLength*2 || !isHex(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	return "0x" + strings.ToLower(raw), nil
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// IsCampaignID 是否为规范化后的活动 ID
func IsCampaignID(s string) bool {
	return len(s) == campaignIDHexLen && strings.HasPrefix(s, "0x") && isHex(s[2:])
}

// IsAddress 是否为规范化后的地址
func IsAddress(s string) bool {
	return len(s) == addressHexLen && strings.HasPrefix(s, "0x") && isHex(s[2:])
}

// CheckpointKey 里程碑检查点主键
type CheckpointKey struct {
	CampaignID string
	Index      uint32
}

func (k CheckpointKey) String() string {
	return fmt.Sprintf("%s-%d", k.CampaignID, k.Index)
}

// StakeScope 质押归属的标识空间
type StakeScope string

const (
	StakeScopeCampaign StakeScope = "campaign" // owner 为活动 ID
	StakeScopeVault    StakeScope = "vault"    // owner 为全局金库合约地址
)

// StakeKey 质押主键，scope 是显式的判别字段
type StakeKey struct {
	Scope     StakeScope
	Owner     string
	Supporter string
}

func (k StakeKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Scope, k.Owner, k.Supporter)
}

// Validate 校验 owner 的形状与 scope 一致
func (k StakeKey) Validate() error {
	switch k.Scope {
	case StakeScopeCampaign:
		if !IsCampaignID(k.Owner) {
			return fmt.Errorf("%w: scope=%s owner=%s", ErrKeySpaceCollision, k.Scope, k.Owner)
		}
	case StakeScopeVault:
		if !IsAddress(k.Owner) {
			return fmt.Errorf("%w: scope=%s owner=%s", ErrKeySpaceCollision, k.Scope, k.Owner)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrKeySpaceCollision, k.Scope)
	}
	if !IsAddress(k.Supporter) {
		return fmt.Errorf("%w: supporter %q", ErrInvalidAddress, k.Supporter)
	}
	return nil
}

// VoteKey 投票主键：每个支持者在每个检查点最多一票
type VoteKey struct {
	CampaignID string
	Index      uint32
	Supporter  string
}

func (k VoteKey) String() string {
	return fmt.Sprintf("%s-%d:%s", k.CampaignID, k.Index, k.Supporter)
}

// Checkpoint 返回所属检查点的主键
func (k VoteKey) Checkpoint() CheckpointKey {
	return CheckpointKey{CampaignID: k.CampaignID, Index: k.Index}
}

// ActivityKey 动态主键，链上日志坐标天然唯一
type ActivityKey struct {
	TxHash   string
	LogIndex int
}

func (k ActivityKey) String() string {
	return fmt.Sprintf("%s-%d", strings.ToLower(k.TxHash), k.LogIndex)
}
