package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"AgentPay-Chain/internal/identity"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// registryABI 是链上智能体注册合约的最小只读接口。
const registryABI = `[
  {"name":"ownerOf","type":"function","stateMutability":"view",
   "inputs":[{"name":"agentId","type":"uint256"}],
   "outputs":[{"name":"","type":"address"}]},
  {"name":"exists","type":"function","stateMutability":"view",
   "inputs":[{"name":"agentId","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

// Config describes how to reach the on-chain agent registry.
type Config struct {
	Name            string
	RPCURL          string
	RegistryAddress string
}

// Directory resolves agent ownership from the registry contract on an EVM
// compatible chain.
type Directory struct {
	name      string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	registry  common.Address
	parsedABI abi.ABI
	mu        sync.Mutex
}

// NewDirectory dials the configured RPC endpoint and returns a ready-to-use
// directory.
func NewDirectory(ctx context.Context, cfg Config) (*Directory, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	registryHex := strings.TrimSpace(cfg.RegistryAddress)
	if !common.IsHexAddress(registryHex) {
		return nil, fmt.Errorf("非法的注册合约地址: %q", cfg.RegistryAddress)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("解析注册合约 ABI 失败: %w", err)
	}

	return &Directory{
		name:      cfg.Name,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
		registry:  common.HexToAddress(registryHex),
		parsedABI: parsed,
	}, nil
}

// Close releases network connections held by the directory.
func (d *Directory) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.eth != nil {
		d.eth.Close()
		d.eth = nil
	}
	if d.rpcClient != nil {
		d.rpcClient.Close()
		d.rpcClient = nil
	}
}

func (d *Directory) call(ctx context.Context, method string, args ...any) ([]any, error) {
	if d == nil || d.eth == nil {
		return nil, errors.New("未初始化的注册目录客户端")
	}
	input, err := d.parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	output, err := d.eth.CallContract(ctx, gethcore.CallMsg{
		To:   &d.registry,
		Data: input,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用注册合约 %s 失败: %w", method, err)
	}
	values, err := d.parsedABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("解码 %s 返回值失败: %w", method, err)
	}
	return values, nil
}

// OwnerOf 实现 identity.Directory 接口。
func (d *Directory) OwnerOf(ctx context.Context, agentID uint64) (identity.Address, error) {
	values, err := d.call(ctx, "ownerOf", new(big.Int).SetUint64(agentID))
	if err != nil {
		return identity.ZeroAddress, err
	}
	if len(values) != 1 {
		return identity.ZeroAddress, fmt.Errorf("ownerOf 返回了 %d 个值", len(values))
	}
	owner, ok := values[0].(common.Address)
	if !ok {
		return identity.ZeroAddress, errors.New("ownerOf 返回值类型不是地址")
	}
	if owner == (common.Address{}) {
		return identity.ZeroAddress, identity.NotFound(agentID)
	}
	return identity.Normalize(identity.Address(owner.Hex())), nil
}

// Exists 实现 identity.Directory 接口。
func (d *Directory) Exists(ctx context.Context, agentID uint64) (bool, error) {
	values, err := d.call(ctx, "exists", new(big.Int).SetUint64(agentID))
	if err != nil {
		return false, err
	}
	if len(values) != 1 {
		return false, fmt.Errorf("exists 返回了 %d 个值", len(values))
	}
	exists, ok := values[0].(bool)
	if !ok {
		return false, errors.New("exists 返回值类型不是布尔")
	}
	return exists, nil
}

var _ identity.Directory = (*Directory)(nil)
