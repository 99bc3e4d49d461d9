package worker

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/runic-indexer/runic/internal/dex"
	"github.com/runic-indexer/runic/internal/ingest"
	"github.com/runic-indexer/runic/internal/model"
	"github.com/runic-indexer/runic/internal/tokens"
)

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func rawLog(address common.Address, topics []common.Hash, data []byte, block uint64, logIndex uint32) model.LogRecord {
	topicStrs := make([]string, 0, len(topics))
	for _, t := range topics {
		topicStrs = append(topicStrs, t.Hex())
	}
	return model.LogRecord{
		ChainID:     1,
		BlockNumber: block,
		TxHash:      "0xfeed",
		TxIndex:     0,
		LogIndex:    logIndex,
		Address:     address.Hex(),
		Topics:      topicStrs,
		Data:        hexutil.Encode(data),
		Timestamp:   1700000000,
	}
}

func newTestParser(t *testing.T) (*Parser, *tokens.Fetcher) {
	t.Helper()
	decoder, err := dex.NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	fetcher := tokens.NewFetcher(1, nil, nil, 1, zap.NewNop())
	fetcher.Seed([]*model.Token{
		{ChainID: 1, Address: usdcAddr, Symbol: "USDC", Decimals: 6, MetadataOK: true},
		{ChainID: 1, Address: wethAddr, Symbol: "WETH", Decimals: 18, MetadataOK: true},
		{ChainID: 1, Address: memeAddr, Symbol: "MEME", Decimals: 18, MetadataOK: true},
	})
	parser := NewParser(1, decoder, fetcher, testChainTokens(), zap.NewNop())
	return parser, fetcher
}

func TestProcessBatchV3SwapEnrichment(t *testing.T) {
	parser, _ := newTestParser(t)
	v3, err := dex.V3ABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}

	poolAddr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	sender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	recipient := common.HexToAddress("0x3333333333333333333333333333333333333333")

	// Pool: meme (base) / USDC (quote), already initialized at $3 per meme.
	pool := poolWith(poolAddr.Hex(), memeAddr, usdcAddr, 3.0, 50_000)
	pool.Address = "0x1111111111111111111111111111111111111111"
	pool.ProtocolVersion = model.VersionV3
	pool.Initialized = true
	pool.Token0Decimals = 18
	pool.Token1Decimals = 6
	index := map[string]*model.Pool{pool.Address: pool}

	// amount0 = +100 meme in, amount1 = -300 USDC out.
	data, err := v3.Events["Swap"].Inputs.NonIndexed().Pack(
		big.NewInt(100),
		big.NewInt(-300),
		new(big.Int).Lsh(big.NewInt(1), 96),
		big.NewInt(1_000_000),
		big.NewInt(5),
	)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	batch := ingest.Batch{
		FromBlock: 1000, ToBlock: 1000,
		Logs: []model.LogRecord{
			rawLog(poolAddr, []common.Hash{
				v3.Events["Swap"].ID, topicFromAddress(sender), topicFromAddress(recipient),
			}, data, 1000, 1),
		},
	}

	st := &BatchState{}
	st.NativePrice = model.NativeTokenPrice{ChainID: 1, PriceUSD: 2000}

	result, err := parser.ProcessBatch(context.Background(), batch, index, st)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("events: %d", len(result.Events))
	}

	ev := result.Events[0]
	if ev.EventType != model.EventSwap {
		t.Fatalf("event type: %s", ev.EventType)
	}
	if ev.Amount0Direction != 1 || ev.Amount1Direction != -1 {
		t.Fatalf("directions: %d %d", ev.Amount0Direction, ev.Amount1Direction)
	}
	if ev.Amount0Direction+ev.Amount1Direction != 0 {
		t.Fatalf("directions must sum to zero")
	}
	if ev.Maker != sender.Hex() && ev.Maker != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("maker: %s", ev.Maker)
	}
	if len(result.TouchedPools) != 1 {
		t.Fatalf("touched pools: %d", len(result.TouchedPools))
	}
	if pool.TotalSwaps != 1 {
		t.Fatalf("pool swap counter: %d", pool.TotalSwaps)
	}
}

func TestProcessBatchRegistersV2Pool(t *testing.T) {
	parser, _ := newTestParser(t)
	v2, err := dex.V2ABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}

	factory := common.HexToAddress("0x9999999999999999999999999999999999999999")
	pair := common.HexToAddress("0x8888888888888888888888888888888888888888")

	data, err := v2.Events["PairCreated"].Inputs.NonIndexed().Pack(pair, big.NewInt(1))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	batch := ingest.Batch{
		FromBlock: 500, ToBlock: 500,
		Logs: []model.LogRecord{
			rawLog(factory, []common.Hash{
				v2.Events["PairCreated"].ID,
				topicFromAddress(common.HexToAddress(memeAddr)),
				topicFromAddress(common.HexToAddress(usdcAddr)),
			}, data, 500, 0),
		},
	}

	index := map[string]*model.Pool{}
	st := &BatchState{}
	result, err := parser.ProcessBatch(context.Background(), batch, index, st)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(result.NewPools) != 1 {
		t.Fatalf("new pools: %d", len(result.NewPools))
	}
	created, ok := index["0x8888888888888888888888888888888888888888"]
	if !ok {
		t.Fatalf("pool not registered")
	}
	if created.ProtocolVersion != model.VersionV2 {
		t.Fatalf("version: %s", created.ProtocolVersion)
	}
	// USDC outranks meme, so it becomes the quote side.
	if created.QuoteToken != usdcAddr || created.BaseToken != memeAddr {
		t.Fatalf("base/quote: %s %s", created.BaseToken, created.QuoteToken)
	}
	if created.Token0Decimals != 18 || created.Token1Decimals != 6 {
		t.Fatalf("decimals: %d %d", created.Token0Decimals, created.Token1Decimals)
	}
}

func TestProcessBatchSupplyEvents(t *testing.T) {
	parser, _ := newTestParser(t)
	erc20, err := dex.ERC20ABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}

	token := common.HexToAddress(memeAddr)
	holder := common.HexToAddress("0x7777777777777777777777777777777777777777")

	mintData, err := erc20.Events["Transfer"].Inputs.NonIndexed().Pack(big.NewInt(1000))
	if err != nil {
		t.Fatalf("pack mint: %v", err)
	}
	burnData, err := erc20.Events["Transfer"].Inputs.NonIndexed().Pack(big.NewInt(400))
	if err != nil {
		t.Fatalf("pack burn: %v", err)
	}
	plainData, err := erc20.Events["Transfer"].Inputs.NonIndexed().Pack(big.NewInt(7))
	if err != nil {
		t.Fatalf("pack plain: %v", err)
	}

	batch := ingest.Batch{
		FromBlock: 600, ToBlock: 600,
		Logs: []model.LogRecord{
			rawLog(token, []common.Hash{
				erc20.Events["Transfer"].ID,
				topicFromAddress(common.Address{}),
				topicFromAddress(holder),
			}, mintData, 600, 0),
			rawLog(token, []common.Hash{
				erc20.Events["Transfer"].ID,
				topicFromAddress(holder),
				topicFromAddress(common.Address{}),
			}, burnData, 600, 1),
			rawLog(token, []common.Hash{
				erc20.Events["Transfer"].ID,
				topicFromAddress(holder),
				topicFromAddress(common.HexToAddress("0x6666666666666666666666666666666666666666")),
			}, plainData, 600, 2),
		},
	}

	index := map[string]*model.Pool{}
	result, err := parser.ProcessBatch(context.Background(), batch, index, &BatchState{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(result.SupplyEvents) != 2 {
		t.Fatalf("supply events: %d", len(result.SupplyEvents))
	}
	if result.SupplyEvents[0].EventType != model.SupplyMint {
		t.Fatalf("first should be mint: %s", result.SupplyEvents[0].EventType)
	}
	if result.SupplyEvents[1].EventType != model.SupplyBurn {
		t.Fatalf("second should be burn: %s", result.SupplyEvents[1].EventType)
	}
	if result.SupplyEvents[0].Amount != "1000" || result.SupplyEvents[1].Amount != "400" {
		t.Fatalf("amounts: %s %s", result.SupplyEvents[0].Amount, result.SupplyEvents[1].Amount)
	}
}

func TestProcessBatchSkipsUninitializedV3Swap(t *testing.T) {
	parser, _ := newTestParser(t)
	v3, err := dex.V3ABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}

	poolAddr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	pool := poolWith("0x1111111111111111111111111111111111111111", memeAddr, usdcAddr, 0, 0)
	pool.ProtocolVersion = model.VersionV3
	pool.Initialized = false
	index := map[string]*model.Pool{pool.Address: pool}

	data, err := v3.Events["Swap"].Inputs.NonIndexed().Pack(
		big.NewInt(1), big.NewInt(-1), big.NewInt(0), big.NewInt(0), big.NewInt(0),
	)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	batch := ingest.Batch{
		FromBlock: 700, ToBlock: 700,
		Logs: []model.LogRecord{
			rawLog(poolAddr, []common.Hash{
				v3.Events["Swap"].ID,
				topicFromAddress(common.HexToAddress("0x2222222222222222222222222222222222222222")),
				topicFromAddress(common.HexToAddress("0x3333333333333333333333333333333333333333")),
			}, data, 700, 0),
		},
	}

	result, err := parser.ProcessBatch(context.Background(), batch, index, &BatchState{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(result.Events) != 0 {
		t.Fatalf("uninitialized pool swap should be dropped, got %d events", len(result.Events))
	}
}
