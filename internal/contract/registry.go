// Package contract provides ABI bindings and log decoding for the campaign contracts.
package contract

// RegistryABI 活动注册合约的事件 ABI
//
//	event CampaignSubmitted(bytes32 indexed id, address indexed proposer, bytes32 metadataHash, string metadataCID);
//	event CampaignApproved(bytes32 indexed id);
//	event CampaignRejected(bytes32 indexed id);
//	event CampaignStatusChanged(bytes32 indexed id, uint8 newStatus);
//	event CampaignVaultRegistered(bytes32 indexed campaignId, address indexed vault);
//	event CheckpointScheduled(bytes32 indexed campaignId, uint32 indexed index, uint64 start, uint64 end, uint16 quorumBps);
//	event CheckpointStatusUpdated(bytes32 indexed campaignId, uint32 indexed index, uint8 newStatus);
//	event StakeDeposited(bytes32 indexed id, address indexed supporter, uint256 amount);
//	event StakeExitFinalized(bytes32 indexed id, address indexed supporter, uint256 amountWithdrawn);
//	event CheckpointVoteCast(bytes32 indexed campaignId, uint32 indexed index, address indexed supporter, bool support, uint256 weight);
const RegistryABI = `[
	{
		"type": "event",
		"name": "CampaignSubmitted",
		"inputs": [
			{"name": "id", "type": "bytes32", "indexed": true},
			{"name": "proposer", "type": "address", "indexed": true},
			{"name": "metadataHash", "type": "bytes32", "indexed": false},
			{"name": "metadataCID", "type": "string", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "CampaignApproved",
		"inputs": [
			{"name": "id", "type": "bytes32", "indexed": true}
		]
	},
	{
		"type": "event",
		"name": "CampaignRejected",
		"inputs": [
			{"name": "id", "type": "bytes32", "indexed": true}
		]
	},
	{
		"type": "event",
		"name": "CampaignStatusChanged",
		"inputs": [
			{"name": "id", "type": "bytes32", "indexed": true},
			{"name": "newStatus", "type": "uint8", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "CampaignVaultRegistered",
		"inputs": [
			{"name": "campaignId", "type": "bytes32", "indexed": true},
			{"name": "vault", "type": "address", "indexed": true}
		]
	},
	{
		"type": "event",
		"name": "CheckpointScheduled",
		"inputs": [
			{"name": "campaignId", "type": "bytes32", "indexed": true},
			{"name": "index", "type": "uint32", "indexed": true},
			{"name": "start", "type": "uint64", "indexed": false},
			{"name": "end", "type": "uint64", "indexed": false},
			{"name": "quorumBps", "type": "uint16", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "CheckpointStatusUpdated",
		"inputs": [
			{"name": "campaignId", "type": "bytes32", "indexed": true},
			{"name": "index", "type": "uint32", "indexed": true},
			{"name": "newStatus", "type": "uint8", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "StakeDeposited",
		"inputs": [
			{"name": "id", "type": "bytes32", "indexed": true},
			{"name": "supporter", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "StakeExitFinalized",
		"inputs": [
			{"name": "id", "type": "bytes32", "indexed": true},
			{"name": "supporter", "type": "address", "indexed": true},
			{"name": "amountWithdrawn", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "CheckpointVoteCast",
		"inputs": [
			{"name": "campaignId", "type": "bytes32", "indexed": true},
			{"name": "index", "type": "uint32", "indexed": true},
			{"name": "supporter", "type": "address", "indexed": true},
			{"name": "support", "type": "bool", "indexed": false},
			{"name": "weight", "type": "uint256", "indexed": false}
		]
	}
]`

// VaultABI ERC-4626 金库的事件 ABI，ETH 与 USDC 金库共用
//
//	event Deposit(address indexed sender, address indexed owner, uint256 assets, uint256 shares);
//	event Withdraw(address indexed sender, address indexed receiver, address indexed owner, uint256 assets, uint256 shares);
const VaultABI = `[
	{
		"type": "event",
		"name": "Deposit",
		"inputs": [
			{"name": "sender", "type": "address", "indexed": true},
			{"name": "owner", "type": "address", "indexed": true},
			{"name": "assets", "type": "uint256", "indexed": false},
			{"name": "shares", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "Withdraw",
		"inputs": [
			{"name": "sender", "type": "address", "indexed": true},
			{"name": "receiver", "type": "address", "indexed": true},
			{"name": "owner", "type": "address", "indexed": true},
			{"name": "assets", "type": "uint256", "indexed": false},
			{"name": "shares", "type": "uint256", "indexed": false}
		]
	}
]`
