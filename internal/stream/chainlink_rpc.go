package stream

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mx-town/updown-engine/pkg/types"
)

// aggregatorABI is the minimal Chainlink AggregatorV3Interface surface
// this poller needs: latestRoundData and decimals.
const aggregatorABI = `[
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"internalType":"uint80","name":"roundId","type":"uint80"},
    {"internalType":"int256","name":"answer","type":"int256"},
    {"internalType":"uint256","name":"startedAt","type":"uint256"},
    {"internalType":"uint256","name":"updatedAt","type":"uint256"},
    {"internalType":"uint80","name":"answeredInRound","type":"uint80"}
  ],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

// ChainlinkRPCConfig configures the on-chain oracle poller.
type ChainlinkRPCConfig struct {
	AggregatorAddress string
	RPCURLs           []string // tried in order; rotated through on repeated failure
	PollInterval      time.Duration
	Symbol            string
}

// ChainlinkRPCAdapter polls a Chainlink aggregator's latestRoundData over
// JSON-RPC on a fixed interval (default 2s), emitting a new PriceUpdate
// only when the round changes. On a recognized rate-limit error it backs
// off linearly (min(30, 10*consecutive_errors) seconds); on three
// consecutive non-rate-limit errors it rotates to the next configured RPC
// URL.
//
// Grounded on original_source/src/data/streams/chainlink_rpc.py, with
// web3.py's Contract.functions.latestRoundData().call() translated to
// go-ethereum's ethclient + abi.Pack/Unpack.
type ChainlinkRPCAdapter struct {
	cfg           ChainlinkRPCConfig
	onPriceUpdate func(types.PriceUpdate)
	stats         Stats
	logger        *slog.Logger

	abi          abi.ABI
	lastRoundID  *big.Int
	decimals     uint8
	urlIndex     int
}

// NewChainlinkRPCAdapter constructs the poller. Panics only on a
// malformed embedded ABI, which is a programmer error, not a runtime one.
func NewChainlinkRPCAdapter(cfg ChainlinkRPCConfig, onPriceUpdate func(types.PriceUpdate), logger *slog.Logger) *ChainlinkRPCAdapter {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		panic(fmt.Sprintf("embedded aggregator ABI is malformed: %v", err))
	}
	return &ChainlinkRPCAdapter{
		cfg:           cfg,
		onPriceUpdate: onPriceUpdate,
		abi:           parsed,
		decimals:      8, // Chainlink USD pairs default to 8 decimals
		logger:        logger.With("component", "stream.chainlink_rpc"),
	}
}

// Stats exposes the adapter's observability counters.
func (a *ChainlinkRPCAdapter) Stats() *Stats { return &a.stats }

// Connect runs the poller until ctx is cancelled.
func (a *ChainlinkRPCAdapter) Connect(ctx context.Context) {
	client, err := a.dialCurrent(ctx)
	if err != nil {
		a.logger.Error("could not connect to any configured RPC endpoint", "error", err)
		return
	}
	a.stats.setConnected(true)
	defer a.stats.setConnected(false)

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	consecutiveErrors := 0
	var backoff time.Duration

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if backoff > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = 0
		}

		if err := a.pollOnce(ctx, client); err != nil {
			consecutiveErrors++
			if isRateLimitError(err) {
				backoff = time.Duration(min(30, 10*consecutiveErrors)) * time.Second
				a.logger.Warn("rate limited, backing off", "backoff", backoff, "errors", consecutiveErrors)
				continue
			}
			a.logger.Error("poll error", "error", err)
			if consecutiveErrors >= 3 {
				a.stats.recordReconnect()
				a.urlIndex = (a.urlIndex + 1) % len(a.cfg.RPCURLs)
				newClient, dialErr := a.dialCurrent(ctx)
				if dialErr == nil {
					client = newClient
				}
				consecutiveErrors = 0
			}
			continue
		}
		consecutiveErrors = 0
	}
}

func (a *ChainlinkRPCAdapter) dialCurrent(ctx context.Context) (*ethclient.Client, error) {
	var lastErr error
	for i := 0; i < len(a.cfg.RPCURLs); i++ {
		idx := (a.urlIndex + i) % len(a.cfg.RPCURLs)
		client, err := ethclient.DialContext(ctx, a.cfg.RPCURLs[idx])
		if err != nil {
			lastErr = err
			continue
		}
		a.urlIndex = idx
		return client, nil
	}
	return nil, fmt.Errorf("all configured RPC endpoints failed: %w", lastErr)
}

func (a *ChainlinkRPCAdapter) pollOnce(ctx context.Context, client *ethclient.Client) error {
	data, err := a.abi.Pack("latestRoundData")
	if err != nil {
		return fmt.Errorf("pack latestRoundData: %w", err)
	}

	addr := common.HexToAddress(a.cfg.AggregatorAddress)
	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("call latestRoundData: %w", err)
	}

	out, err := a.abi.Unpack("latestRoundData", result)
	if err != nil {
		return fmt.Errorf("unpack latestRoundData: %w", err)
	}
	roundID := out[0].(*big.Int)
	answer := out[1].(*big.Int)
	updatedAt := out[3].(*big.Int)

	if a.lastRoundID != nil && a.lastRoundID.Cmp(roundID) == 0 {
		return nil // same round, no new data
	}
	a.lastRoundID = roundID

	divisor := new(big.Float).SetFloat64(1)
	for i := uint8(0); i < a.decimals; i++ {
		divisor.Mul(divisor, big.NewFloat(10))
	}
	price, _ := new(big.Float).Quo(new(big.Float).SetInt(answer), divisor).Float64()
	timestampMs := updatedAt.Int64() * 1000

	a.stats.recordUpdate(price, time.UnixMilli(timestampMs))
	if a.onPriceUpdate != nil {
		a.onPriceUpdate(types.PriceUpdate{
			Source:      types.ChainOracle,
			Symbol:      a.cfg.Symbol,
			Price:       price,
			TimestampMs: timestampMs,
			Sequence:    roundID.Int64(),
		})
	}
	return nil
}

func isRateLimitError(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "rate limit") || strings.Contains(s, "-32090")
}
