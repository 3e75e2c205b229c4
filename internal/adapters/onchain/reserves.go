// Package onchain reads on-chain AMM pool state over an EVM JSON-RPC
// endpoint: a Uniswap-V2-shaped pair's `getReserves()` and an ERC20's
// `balanceOf`, feeding internal/amm's constant-product pool math (§4.2).
//
// Grounded on the teacher's internal/adapters/onchain/merge.go — same
// go-ethereum stack (ethclient, accounts/abi, common, crypto), same
// ABI-pack-then-CallContract read pattern and gas-price caching — but
// generalized from one dApp's CTF merge-transaction executor (Polymarket's
// conditional-token redemption) into a read-only multi-DEX reserve reader,
// since SPEC_FULL.md's DEX pool scanner only ever reads on-chain state; it
// never signs or sends transactions.
package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/evanward/triarb/internal/domain"
)

// Contract ABIs, parsed once.
var (
	pairABI abi.ABI
	erc20ABI abi.ABI
)

func init() {
	var err error

	pairABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "getReserves",
			"type": "function",
			"inputs": [],
			"outputs": [
				{"name": "reserve0", "type": "uint112"},
				{"name": "reserve1", "type": "uint112"},
				{"name": "blockTimestampLast", "type": "uint32"}
			]
		},
		{
			"name": "token0",
			"type": "function",
			"inputs": [],
			"outputs": [{"name": "", "type": "address"}]
		},
		{
			"name": "token1",
			"type": "function",
			"inputs": [],
			"outputs": [{"name": "", "type": "address"}]
		}
	]`))
	if err != nil {
		panic("onchain: pair abi parse: " + err.Error())
	}

	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "decimals",
			"type": "function",
			"inputs": [],
			"outputs": [{"name": "", "type": "uint8"}]
		}
	]`))
	if err != nil {
		panic("onchain: erc20 abi parse: " + err.Error())
	}
}

// PoolSpec names one pair contract to read, plus the fee tier and
// base/quote currency codes the scanner should attach to the resulting
// domain.Pool — a pair contract carries token0/token1 addresses, but has
// no notion of which currency code or fee tier they correspond to.
type PoolSpec struct {
	Dex      string
	Address  string
	FeeBps   int64
	Base     domain.Currency
	Quote    domain.Currency
	BaseIs0  bool // true if token0 == Base, false if token0 == Quote
}

// ReserveReader reads Uniswap-V2-shaped pair reserves and ERC20 balances
// over an EVM JSON-RPC endpoint.
type ReserveReader struct {
	client *ethclient.Client

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// NewReserveReader dials rpcURL and builds a read-only reserve reader.
func NewReserveReader(rpcURL string) (*ReserveReader, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain: dial rpc %s: %w", rpcURL, err)
	}
	return &ReserveReader{client: client}, nil
}

// ReadPool reads current reserves for spec and returns a domain.Pool ready
// for internal/amm's constant-product math: reserves normalized to
// big.Int in Base/Quote order, and Fee as an exact big.Rat (FeeBps/10000).
func (r *ReserveReader) ReadPool(ctx context.Context, spec PoolSpec) (domain.Pool, error) {
	addr := common.HexToAddress(spec.Address)

	callData, err := pairABI.Pack("getReserves")
	if err != nil {
		return domain.Pool{}, fmt.Errorf("onchain: pack getReserves: %w", err)
	}

	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: callData}, nil)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("onchain: call getReserves on %s: %w", spec.Address, err)
	}

	vals, err := pairABI.Unpack("getReserves", raw)
	if err != nil || len(vals) < 2 {
		return domain.Pool{}, fmt.Errorf("onchain: unpack getReserves on %s: %w", spec.Address, err)
	}

	reserve0 := reserveAsBigInt(vals[0])
	reserve1 := reserveAsBigInt(vals[1])

	reserveBase, reserveQuote := reserve0, reserve1
	if !spec.BaseIs0 {
		reserveBase, reserveQuote = reserve1, reserve0
	}

	return domain.Pool{
		Dex:      spec.Dex,
		Kind:     "v2",
		Address:  spec.Address,
		Token0:   spec.Address, // resolved token addresses aren't needed downstream; address identifies the pool
		Token1:   spec.Address,
		Reserve0: reserveBase,
		Reserve1: reserveQuote,
		Fee:      big.NewRat(spec.FeeBps, 10_000),
		Base:     spec.Base,
		Quote:    spec.Quote,
	}, nil
}

// reserveAsBigInt converts a getReserves() uint112 return value — decoded
// by go-ethereum's abi package as *big.Int already within EVM word width —
// through uint256 and back, a width-correct round trip for raw on-chain
// amounts before they're normalized for AMM math (§B DOMAIN STACK: "the
// EVM-native width, converted at the adapter boundary").
func reserveAsBigInt(v any) *big.Int {
	bi, ok := v.(*big.Int)
	if !ok {
		return big.NewInt(0)
	}
	u, overflow := uint256.FromBig(bi)
	if overflow {
		return bi
	}
	return u.ToBig()
}

// BalanceOf reads an ERC20 token balance for owner, normalized to a
// big.Int of base units (no decimal scaling — callers that need a
// human-denominated amount divide by 10^decimals themselves).
func (r *ReserveReader) BalanceOf(ctx context.Context, tokenAddress, owner string) (*big.Int, error) {
	token := common.HexToAddress(tokenAddress)
	ownerAddr := common.HexToAddress(owner)

	callData, err := erc20ABI.Pack("balanceOf", ownerAddr)
	if err != nil {
		return nil, fmt.Errorf("onchain: pack balanceOf: %w", err)
	}

	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: callData}, nil)
	if err != nil {
		return nil, fmt.Errorf("onchain: call balanceOf on %s: %w", tokenAddress, err)
	}

	vals, err := erc20ABI.Unpack("balanceOf", raw)
	if err != nil || len(vals) == 0 {
		return nil, fmt.Errorf("onchain: unpack balanceOf on %s: %w", tokenAddress, err)
	}

	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("onchain: balanceOf on %s: unexpected return type", tokenAddress)
	}
	return bal, nil
}

// GasPriceWei returns the current suggested gas price, cached for a short
// interval to avoid hammering the RPC endpoint on every pool read —
// grounded on the teacher's getGasPrice caching in merge.go, kept here
// since the DEX pool scanner still needs a gas estimate to judge whether
// an on-chain leg is worth its execution cost.
func (r *ReserveReader) GasPriceWei(ctx context.Context) (*big.Int, error) {
	const refreshInterval = 5 * time.Minute

	r.mu.RLock()
	cached := r.cachedGasWei
	updatedAt := r.gasUpdatedAt
	r.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < refreshInterval {
		return cached, nil
	}

	price, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return nil, fmt.Errorf("onchain: suggest gas price: %w", err)
	}

	r.mu.Lock()
	r.cachedGasWei = price
	r.gasUpdatedAt = time.Now()
	r.mu.Unlock()

	return price, nil
}

// Close releases the underlying RPC connection.
func (r *ReserveReader) Close() { r.client.Close() }
