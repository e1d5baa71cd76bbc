package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gr4yha7/ghosttab-backend/internal/config"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrTxNotFound    = errors.New("transaction not found")
	ErrTxReverted    = errors.New("transaction reverted")
	ErrAssetMismatch = errors.New("transaction does not transfer the expected asset")
	ErrInvalidHash   = errors.New("invalid transaction hash")
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ValidHash reports whether s is a 0x-prefixed 32-byte hex hash
func ValidHash(s string) bool {
	return txHashPattern.MatchString(s)
}

const erc20TransferABI = `[{"anonymous":false,"inputs":[
	{"indexed":true,"name":"from","type":"address"},
	{"indexed":true,"name":"to","type":"address"},
	{"indexed":false,"name":"value","type":"uint256"}],
	"name":"Transfer","type":"event"}]`

// Transaction is the transfer extracted from a ledger transaction
type Transaction struct {
	Hash        string
	Confirmed   bool
	From        string
	To          string
	Amount      decimal.Decimal
	Asset       string // token contract, "" for the native coin
	BlockNumber uint64
}

// Verifier looks up a transaction and extracts the transfer of asset
type Verifier interface {
	VerifyTransaction(ctx context.Context, txHash string, asset config.Asset) (*Transaction, error)
}

// ChainReader is the subset of ethclient.Client the verifier needs
type ChainReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// EVMVerifier verifies native and ERC-20 transfers over JSON-RPC
type EVMVerifier struct {
	reader        ChainReader
	signer        types.Signer
	confirmations uint64
	timeout       time.Duration
	transfer      abi.ABI
	logger        *zap.Logger
}

func NewEVMVerifier(reader ChainReader, cfg config.LedgerConfig, logger *zap.Logger) (*EVMVerifier, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		return nil, fmt.Errorf("parse transfer abi: %w", err)
	}
	confirmations := cfg.Confirmations
	if confirmations == 0 {
		confirmations = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EVMVerifier{
		reader:        reader,
		signer:        types.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		confirmations: confirmations,
		timeout:       timeout,
		transfer:      parsed,
		logger:        logger.With(zap.String("component", "ledger")),
	}, nil
}

func (v *EVMVerifier) VerifyTransaction(ctx context.Context, txHash string, asset config.Asset) (*Transaction, error) {
	if !ValidHash(txHash) {
		return nil, ErrInvalidHash
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	hash := common.HexToHash(txHash)
	tx, pending, err := v.reader.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrTxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch transaction: %w", err)
	}

	from, err := types.Sender(v.signer, tx)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}
	out := &Transaction{Hash: hash.Hex(), From: from.Hex()}
	if pending {
		return out, nil
	}

	receipt, err := v.reader.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, ErrTxReverted
	}

	head, err := v.reader.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch block number: %w", err)
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
		out.Confirmed = head >= out.BlockNumber && head-out.BlockNumber+1 >= v.confirmations
	}

	if asset.Native() {
		if tx.To() == nil || tx.Value().Sign() == 0 {
			return nil, ErrAssetMismatch
		}
		out.To = tx.To().Hex()
		out.Amount = decimal.NewFromBigInt(tx.Value(), -asset.Decimals)
		return out, nil
	}

	token := common.HexToAddress(asset.Token)
	to, value, ok := v.findTransfer(receipt.Logs, token, from)
	if !ok {
		return nil, ErrAssetMismatch
	}
	out.To = to.Hex()
	out.Asset = token.Hex()
	out.Amount = decimal.NewFromBigInt(value, -asset.Decimals)
	return out, nil
}

// findTransfer returns the first Transfer event emitted by token and sent by from
func (v *EVMVerifier) findTransfer(logs []*types.Log, token, from common.Address) (common.Address, *big.Int, bool) {
	event := v.transfer.Events["Transfer"]
	for _, l := range logs {
		if l.Address != token || len(l.Topics) != 3 || l.Topics[0] != event.ID {
			continue
		}
		if common.BytesToAddress(l.Topics[1].Bytes()) != from {
			continue
		}
		values, err := v.transfer.Unpack("Transfer", l.Data)
		if err != nil || len(values) != 1 {
			v.logger.Warn("undecodable transfer log", zap.String("tx_hash", l.TxHash.Hex()), zap.Error(err))
			continue
		}
		value, ok := values[0].(*big.Int)
		if !ok {
			continue
		}
		return common.BytesToAddress(l.Topics[2].Bytes()), value, true
	}
	return common.Address{}, nil, false
}

// ToUnits converts a decimal amount into the asset's smallest unit
func ToUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}
