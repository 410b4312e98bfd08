package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"AMM-Agent/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	RPCURL  string
	ChainID int64
	// ABI is the contract ABI in JSON; empty selects DefaultContractABI.
	ABI         string
	WaitReceipt bool
}

// ErrTransactionReverted is returned when a mined transaction has a failed status.
var ErrTransactionReverted = errors.New("交易执行失败")

// chainBackend is what bound contracts and bind.WaitMined need, plus the
// chain ID lookup.
type chainBackend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client implements web3.ContractClient for EVM compatible chains.
type Client struct {
	name        string
	rpcClient   *gethrpc.Client
	eth         *ethclient.Client
	backend     chainBackend
	contractABI abi.ABI
	chainID     *big.Int
	waitReceipt bool
	mu          sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	client, err := NewClientWithRPC(rpcClient, cfg)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	return client, nil
}

// NewClientWithRPC wraps an already connected RPC client, for example an
// in-process one.
func NewClientWithRPC(rpcClient *gethrpc.Client, cfg Config) (*Client, error) {
	if rpcClient == nil {
		return nil, errors.New("RPC 客户端不能为空")
	}
	contractABI, err := ParseABI(cfg.ABI)
	if err != nil {
		return nil, err
	}

	eth := ethclient.NewClient(rpcClient)
	client := &Client{
		name:        cfg.Name,
		rpcClient:   rpcClient,
		eth:         eth,
		backend:     eth,
		contractABI: contractABI,
		waitReceipt: cfg.WaitReceipt,
	}
	if cfg.ChainID > 0 {
		client.chainID = big.NewInt(cfg.ChainID)
	}
	return client, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
	c.backend = nil
}

// ChainID returns the configured chain ID, asking the node once when none
// was configured.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chainID != nil {
		return new(big.Int).Set(c.chainID), nil
	}
	if c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 %s 的 ID 失败: %w", c.name, err)
	}
	c.chainID = new(big.Int).Set(id)
	return id, nil
}

// CallView performs an eth_call against the latest block and decodes the
// outputs declared by the ABI.
func (c *Client) CallView(ctx context.Context, contract, method string, args map[string]any) (web3.ViewResult, error) {
	backend := c.chainBackend()
	if backend == nil {
		return web3.ViewResult{}, errors.New("未初始化的以太坊客户端")
	}
	to, err := parseAddress(contract)
	if err != nil {
		return web3.ViewResult{}, err
	}
	values, err := callArguments(c.contractABI, method, args)
	if err != nil {
		return web3.ViewResult{}, err
	}

	var out []any
	bound := bind.NewBoundContract(to, c.contractABI, backend, backend, backend)
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, method, values...); err != nil {
		return web3.ViewResult{}, fmt.Errorf("调用 %s 失败: %w", method, err)
	}
	return web3.ViewResult{Values: out}, nil
}

// CallMutate signs and broadcasts a legacy transaction calling method on
// contract. The gas limit is exactly gasBudget.
func (c *Client) CallMutate(ctx context.Context, account web3.Account, contract, method string, args map[string]any, gasBudget uint64, value *big.Int) (web3.TxReceipt, error) {
	backend := c.chainBackend()
	if backend == nil {
		return web3.TxReceipt{}, errors.New("未初始化的以太坊客户端")
	}
	if !account.Present() {
		return web3.TxReceipt{}, errors.New("缺少签名账户")
	}
	if gasBudget == 0 {
		return web3.TxReceipt{}, errors.New("gas 预算必须大于 0")
	}
	to, err := parseAddress(contract)
	if err != nil {
		return web3.TxReceipt{}, err
	}
	values, err := callArguments(c.contractABI, method, args)
	if err != nil {
		return web3.TxReceipt{}, err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(account.PrivateKey), "0x"))
	if err != nil {
		return web3.TxReceipt{}, fmt.Errorf("解析私钥失败: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	if id := strings.TrimSpace(account.ID); common.IsHexAddress(id) && common.HexToAddress(id) != from {
		return web3.TxReceipt{}, fmt.Errorf("账户 %s 与私钥地址 %s 不一致", id, from.Hex())
	}

	chainID, err := c.ChainID(ctx)
	if err != nil {
		return web3.TxReceipt{}, err
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return web3.TxReceipt{}, fmt.Errorf("创建交易签名器失败: %w", err)
	}
	// 显式设置 gas 价格，交易保持 legacy 格式。
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return web3.TxReceipt{}, fmt.Errorf("获取 gas 价格失败: %w", err)
	}
	auth.Context = ctx
	auth.GasLimit = gasBudget
	auth.GasPrice = gasPrice
	auth.Value = value

	bound := bind.NewBoundContract(to, c.contractABI, backend, backend, backend)
	tx, err := bound.Transact(auth, method, values...)
	if err != nil {
		return web3.TxReceipt{}, fmt.Errorf("发送交易失败: %w", err)
	}

	receipt := web3.TxReceipt{Hash: tx.Hash().Hex(), From: from.Hex(), Nonce: tx.Nonce()}
	if !c.waitReceipt {
		return receipt, nil
	}

	mined, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return receipt, fmt.Errorf("等待交易 %s 上链失败: %w", receipt.Hash, err)
	}
	receipt.Mined = true
	receipt.Status = mined.Status
	if mined.BlockNumber != nil {
		receipt.Block = mined.BlockNumber.Uint64()
	}
	if mined.Status != coretypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrTransactionReverted, receipt.Hash)
	}
	return receipt, nil
}

func (c *Client) chainBackend() chainBackend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend
}

func parseAddress(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("无效的合约地址 %q", value)
	}
	return common.HexToAddress(value), nil
}

var _ web3.ContractClient = (*Client)(nil)
