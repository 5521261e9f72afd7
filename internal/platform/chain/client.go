// Package chain implements domain.MarketLedger on top of an EVM JSON-RPC
// node using go-ethereum.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/poolbot/internal/crypto"
	"github.com/alanyoungcy/poolbot/internal/domain"
)

const (
	defaultReceiptPoll    = 1 * time.Second
	defaultConfirmTimeout = 2 * time.Minute
	// gasHeadroomPct is added on top of the node's gas estimate.
	gasHeadroomPct = 20
)

// Backend is the subset of the JSON-RPC surface the client uses.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Config holds the ledger client settings.
type Config struct {
	RPCURL       string
	TokenAddress string
	// TokenDecimals <= 0 means read decimals() from the token on Dial.
	TokenDecimals       int32
	ReceiptPollInterval time.Duration
	ConfirmTimeout      time.Duration
}

// Client is the go-ethereum backed MarketLedger.
type Client struct {
	eth      Backend
	signer   *crypto.Signer
	token    common.Address
	decimals int32
	nonces   *nonceTracker

	pollInterval   time.Duration
	confirmTimeout time.Duration
	logger         *slog.Logger
}

// Dial connects to the node at cfg.RPCURL and checks that it serves the
// chain the signer was built for. A nil signer yields a read-only client.
func Dial(ctx context.Context, cfg Config, signer *crypto.Signer, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	id, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if signer != nil && id.Cmp(signer.ChainID()) != 0 {
		eth.Close()
		return nil, fmt.Errorf("chain: node serves chain %s, wallet configured for %s: %w",
			id, signer.ChainID(), domain.ErrConfiguration)
	}

	c := NewClient(eth, signer, cfg, logger)
	if cfg.TokenDecimals <= 0 {
		d, err := c.TokenDecimals(ctx)
		if err != nil {
			eth.Close()
			return nil, err
		}
		c.decimals = int32(d)
	}

	c.logger.InfoContext(ctx, "ledger connected",
		slog.String("chain_id", id.String()),
		slog.String("wallet", c.Address()),
		slog.String("token", c.token.Hex()),
		slog.Int("token_decimals", int(c.decimals)),
	)
	return c, nil
}

// NewClient wraps an existing backend.
func NewClient(eth Backend, signer *crypto.Signer, cfg Config, logger *slog.Logger) *Client {
	c := &Client{
		eth:            eth,
		signer:         signer,
		token:          common.HexToAddress(cfg.TokenAddress),
		decimals:       cfg.TokenDecimals,
		pollInterval:   cfg.ReceiptPollInterval,
		confirmTimeout: cfg.ConfirmTimeout,
		logger:         logger.With(slog.String("component", "chain")),
	}
	if c.decimals <= 0 {
		c.decimals = DefaultTokenDecimals
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultReceiptPoll
	}
	if c.confirmTimeout <= 0 {
		c.confirmTimeout = defaultConfirmTimeout
	}
	c.nonces = newNonceTracker(func(ctx context.Context) (uint64, error) {
		return c.eth.PendingNonceAt(ctx, c.signer.Address())
	})
	return c
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Address returns the bot wallet address, or "" for a read-only client.
func (c *Client) Address() string {
	if c.signer == nil {
		return ""
	}
	return c.signer.Address().Hex()
}

// Decimals returns the token decimals used for base-unit conversion.
func (c *Client) Decimals() int32 {
	return c.decimals
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// PoolTotals reads the YES and NO pool totals of m.
func (c *Client) PoolTotals(ctx context.Context, m domain.Market) (*big.Int, *big.Int, error) {
	addr := common.HexToAddress(m.Contract)
	yes, err := c.callBig(ctx, addr, marketABI, "yesTotal")
	if err != nil {
		return nil, nil, err
	}
	no, err := c.callBig(ctx, addr, marketABI, "noTotal")
	if err != nil {
		return nil, nil, err
	}
	return yes, no, nil
}

// IsResolved reports whether m has been resolved.
func (c *Client) IsResolved(ctx context.Context, m domain.Market) (bool, error) {
	return c.callBool(ctx, common.HexToAddress(m.Contract), marketABI, "resolved")
}

// Outcome returns the resolved outcome of m, or nil while unresolved.
func (c *Client) Outcome(ctx context.Context, m domain.Market) (*bool, error) {
	addr := common.HexToAddress(m.Contract)
	resolved, err := c.callBool(ctx, addr, marketABI, "resolved")
	if err != nil || !resolved {
		return nil, err
	}
	yes, err := c.callBool(ctx, addr, marketABI, "outcomeYes")
	if err != nil {
		return nil, err
	}
	return &yes, nil
}

// Expiry reads the on-chain expiry of m.
func (c *Client) Expiry(ctx context.Context, m domain.Market) (time.Time, error) {
	ts, err := c.callBig(ctx, common.HexToAddress(m.Contract), marketABI, "expiry")
	if err != nil {
		return time.Time{}, err
	}
	if !ts.IsInt64() {
		return time.Time{}, fmt.Errorf("chain: expiry %s out of range", ts)
	}
	return time.Unix(ts.Int64(), 0).UTC(), nil
}

// Allowance returns how much of the token spender may pull from owner.
func (c *Client) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	return c.callBig(ctx, c.token, erc20ABI, "allowance",
		common.HexToAddress(owner), common.HexToAddress(spender))
}

// TokenBalance returns the token balance of owner in base units.
func (c *Client) TokenBalance(ctx context.Context, owner string) (*big.Int, error) {
	return c.callBig(ctx, c.token, erc20ABI, "balanceOf", common.HexToAddress(owner))
}

// TokenDecimals reads decimals() from the token contract.
func (c *Client) TokenDecimals(ctx context.Context) (uint8, error) {
	out, err := c.call(ctx, c.token, erc20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chain: decimals: unexpected type %T", out[0])
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// SubmitApproval approves spender for amount of the token. Only the bot
// wallet can be the owner.
func (c *Client) SubmitApproval(ctx context.Context, owner, spender string, amount *big.Int) (domain.TxHandle, error) {
	if !strings.EqualFold(owner, c.Address()) {
		return domain.TxHandle{}, fmt.Errorf("chain: approve: owner %s is not the bot wallet %s", owner, c.Address())
	}
	data, err := erc20ABI.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return domain.TxHandle{}, fmt.Errorf("chain: pack approve: %w", err)
	}
	return c.transact(ctx, c.token, data, "approve")
}

// SubmitTrade buys amount whole tokens of side in m.
func (c *Client) SubmitTrade(ctx context.Context, m domain.Market, side domain.Side, amount int64) (domain.TxHandle, error) {
	method := "buyNo"
	if side == domain.SideYes {
		method = "buyYes"
	}
	data, err := marketABI.Pack(method, ToBaseUnits(amount, c.decimals))
	if err != nil {
		return domain.TxHandle{}, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	return c.transact(ctx, common.HexToAddress(m.Contract), data, method)
}

// SubmitResolution resolves m with the given outcome.
func (c *Client) SubmitResolution(ctx context.Context, m domain.Market, outcomeYes bool) (domain.TxHandle, error) {
	data, err := marketABI.Pack("resolve", outcomeYes)
	if err != nil {
		return domain.TxHandle{}, fmt.Errorf("chain: pack resolve: %w", err)
	}
	return c.transact(ctx, common.HexToAddress(m.Contract), data, "resolve")
}

// AwaitConfirmation polls for the receipt of tx until it is mined, the
// confirm timeout elapses or ctx is done.
func (c *Client) AwaitConfirmation(ctx context.Context, tx domain.TxHandle) (domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	hash := common.HexToHash(tx.Hash)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			r := domain.Receipt{
				Hash:        tx.Hash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
				Success:     receipt.Status == types.ReceiptStatusSuccessful,
			}
			if !r.Success {
				return r, fmt.Errorf("chain: tx %s: %w", tx.Hash, domain.ErrTxReverted)
			}
			return r, nil
		case errors.Is(err, ethereum.NotFound):
			// still pending
		default:
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return domain.Receipt{}, transient("await "+tx.Hash, lastErr)
			}
			return domain.Receipt{}, transient("await "+tx.Hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (c *Client) transact(ctx context.Context, to common.Address, data []byte, op string) (domain.TxHandle, error) {
	if c.signer == nil {
		return domain.TxHandle{}, fmt.Errorf("chain: %s: no wallet configured: %w", op, domain.ErrConfiguration)
	}
	from := c.signer.Address()

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return domain.TxHandle{}, transient(op+": gas price", err)
	}
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return domain.TxHandle{}, transient(op+": estimate gas", err)
	}
	gas += gas * gasHeadroomPct / 100

	nonce, err := c.nonces.acquire(ctx)
	if err != nil {
		return domain.TxHandle{}, transient(op+": nonce", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := c.signer.SignTx(tx)
	if err != nil {
		c.nonces.reset()
		return domain.TxHandle{}, fmt.Errorf("chain: %s: %w", op, err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		c.nonces.reset()
		return domain.TxHandle{}, transient(op+": send", err)
	}

	c.logger.DebugContext(ctx, "tx sent",
		slog.String("op", op),
		slog.String("to", to.Hex()),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)
	return domain.TxHandle{Hash: signed.Hash().Hex()}, nil
}

func (c *Client) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	if c.signer != nil {
		msg.From = c.signer.Address()
	}
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, transient(method+" "+to.Hex(), err)
	}
	res, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, transient("unpack "+method, err)
	}
	if len(res) == 0 {
		return nil, transient(method, errors.New("empty result"))
	}
	return res, nil
}

func (c *Client) callBig(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) (*big.Int, error) {
	out, err := c.call(ctx, to, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: %s: unexpected type %T", method, out[0])
	}
	return v, nil
}

func (c *Client) callBool(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) (bool, error) {
	out, err := c.call(ctx, to, parsed, method, args...)
	if err != nil {
		return false, err
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("chain: %s: unexpected type %T", method, out[0])
	}
	return v, nil
}

func transient(op string, err error) error {
	return fmt.Errorf("chain: %s: %w: %w", op, domain.ErrTransientLedger, err)
}

var _ domain.MarketLedger = (*Client)(nil)
