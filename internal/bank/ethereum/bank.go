package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"AgentPay-Chain/internal/bank"
	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/identity"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// settlementABI 是链上结算合约的接口。disburse 在单笔交易内完成整批
// 支出，由链本身保证原子性；lockToken 将代币从付款方划入合约托管。
// 原生价值以零地址代币表示。
const settlementABI = `[
  {"name":"lockToken","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"token","type":"address"},
             {"name":"from","type":"address"},
             {"name":"amount","type":"uint256"}],
   "outputs":[]},
  {"name":"disburse","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"token","type":"address"},
             {"name":"recipients","type":"address[]"},
             {"name":"amounts","type":"uint256[]"}],
   "outputs":[]}
]`

// Config describes how to reach the on-chain settlement contract.
type Config struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	ChainID         int64
}

// Bank executes settlement transfers through the settlement contract of an
// EVM compatible chain. Batch atomicity comes from transaction atomicity.
type Bank struct {
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	contract  common.Address
	parsedABI abi.ABI
	key       *ecdsa.PrivateKey
	sender    common.Address
	chainID   *big.Int
	mu        sync.Mutex
}

// NewBank dials the configured RPC endpoint and prepares the signer.
func NewBank(ctx context.Context, cfg Config) (*Bank, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	if !common.IsHexAddress(strings.TrimSpace(cfg.ContractAddress)) {
		return nil, fmt.Errorf("非法的结算合约地址: %q", cfg.ContractAddress)
	}
	if cfg.ChainID <= 0 {
		return nil, errors.New("必须配置链 ID")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析结算私钥失败: %w", err)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(settlementABI))
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("解析结算合约 ABI 失败: %w", err)
	}

	return &Bank{
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
		contract:  common.HexToAddress(strings.TrimSpace(cfg.ContractAddress)),
		parsedABI: parsed,
		key:       key,
		sender:    crypto.PubkeyToAddress(key.PublicKey),
		chainID:   big.NewInt(cfg.ChainID),
	}, nil
}

// Close releases network connections held by the bank.
func (b *Bank) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.eth != nil {
		b.eth.Close()
		b.eth = nil
	}
	if b.rpcClient != nil {
		b.rpcClient.Close()
		b.rpcClient = nil
	}
}

func tokenOf(target bank.TransferTarget) (common.Address, error) {
	if target.IsNative() {
		return common.Address{}, nil
	}
	raw := string(target.TokenAddress())
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("非法的代币地址: %q", raw))
	}
	return common.HexToAddress(raw), nil
}

// submit 签名并发送一笔合约调用，等待上链结果。
func (b *Bank) submit(ctx context.Context, input []byte) error {
	b.mu.Lock()
	eth := b.eth
	b.mu.Unlock()
	if eth == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "结算客户端已关闭")
	}

	nonce, err := eth.PendingNonceAt(ctx, b.sender)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransferFailure, err, "获取 nonce 失败")
	}
	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransferFailure, err, "获取 gas 价格失败")
	}
	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		To:       &b.contract,
		Gas:      500_000,
		GasPrice: gasPrice,
		Data:     input,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(b.chainID), b.key)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransferFailure, err, "签名交易失败")
	}
	if err := eth.SendTransaction(ctx, signed); err != nil {
		return xerrors.Wrap(xerrors.CodeTransferFailure, err, "发送结算交易失败")
	}
	receipt, err := bind.WaitMined(ctx, eth, signed)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransferFailure, err, "等待交易上链失败")
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return xerrors.New(xerrors.CodeTransferFailure, "结算交易被回滚",
			xerrors.WithMetadata("tx_hash", signed.Hash().Hex()))
	}
	return nil
}

// Lock 实现 bank.Bank 接口。
func (b *Bank) Lock(ctx context.Context, target bank.TransferTarget, from identity.Address, amount uint64) error {
	token, err := tokenOf(target)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(string(from)) {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的付款地址: %q", from))
	}
	input, err := b.parsedABI.Pack("lockToken", token, common.HexToAddress(string(from)),
		new(big.Int).SetUint64(amount))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransferFailure, err, "编码 lockToken 调用失败")
	}
	return b.submit(ctx, input)
}

// Pay 实现 bank.Bank 接口。整批支出打包为一笔交易。
func (b *Bank) Pay(ctx context.Context, target bank.TransferTarget, payouts []bank.Payout) error {
	token, err := tokenOf(target)
	if err != nil {
		return err
	}
	recipients := make([]common.Address, 0, len(payouts))
	amounts := make([]*big.Int, 0, len(payouts))
	for _, payout := range payouts {
		if payout.Amount == 0 {
			continue
		}
		if !common.IsHexAddress(string(payout.To)) {
			return xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("非法的收款地址: %q", payout.To))
		}
		recipients = append(recipients, common.HexToAddress(string(payout.To)))
		amounts = append(amounts, new(big.Int).SetUint64(payout.Amount))
	}
	if len(recipients) == 0 {
		return nil
	}
	input, err := b.parsedABI.Pack("disburse", token, recipients, amounts)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransferFailure, err, "编码 disburse 调用失败")
	}
	return b.submit(ctx, input)
}

var _ bank.Bank = (*Bank)(nil)
