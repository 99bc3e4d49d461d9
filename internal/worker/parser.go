package worker

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/runic-indexer/runic/internal/dex"
	"github.com/runic-indexer/runic/internal/ingest"
	"github.com/runic-indexer/runic/internal/model"
	"github.com/runic-indexer/runic/internal/tokens"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Parser turns a raw log batch into analytical events and pool/token state
// mutations. It is single-threaded per chain so per-pool ordering holds by
// construction.
type Parser struct {
	chainID     uint64
	decoder     *dex.Decoder
	fetcher     *tokens.Fetcher
	chainTokens *model.ChainTokens
	logger      *zap.Logger
}

// NewParser wires the decoder and token fetcher for one chain.
func NewParser(chainID uint64, decoder *dex.Decoder, fetcher *tokens.Fetcher, ct *model.ChainTokens, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		chainID:     chainID,
		decoder:     decoder,
		fetcher:     fetcher,
		chainTokens: ct,
		logger:      logger,
	}
}

// BatchState carries mutable cross-batch state, currently the native token
// price tracked from the stable reference pool.
type BatchState struct {
	NativePrice model.NativeTokenPrice
}

// BatchResult is everything one processed batch wants persisted.
type BatchResult struct {
	Events       []model.Event
	SupplyEvents []model.SupplyEvent
	NewPools     []model.NewPool
	// TouchedPools holds post-state of every pool mutated in this batch.
	TouchedPools []*model.Pool
	// PricedTokens holds tokens whose USD price was refreshed.
	PricedTokens []*model.Token
}

// ProcessBatch decodes, enriches, and applies one batch against the worker's
// pool index. Events apply in (block, tx_index, log_index) order; decode
// failures drop the single log and continue.
func (p *Parser) ProcessBatch(ctx context.Context, batch ingest.Batch, index map[string]*model.Pool, st *BatchState) (*BatchResult, error) {
	decoded := make([]model.DecodedLog, 0, len(batch.Logs))
	tokenAddrs := make(map[string]struct{})

	for _, rec := range batch.Logs {
		log, err := p.decoder.Decode(rec)
		if err != nil {
			p.logger.Warn("decode failed", zap.Error(err))
			continue
		}
		if log.Kind == model.KindUnknown {
			continue
		}
		decoded = append(decoded, log)
		collectTokenAddrs(log, index, tokenAddrs)
	}

	addrList := make([]string, 0, len(tokenAddrs))
	for addr := range tokenAddrs {
		addrList = append(addrList, addr)
	}
	tokenSet, err := p.fetcher.Get(ctx, addrList)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	touched := make(map[string]*model.Pool)

	// Pool creation pass: register pools before their first events apply.
	for i := range decoded {
		p.registerPool(&decoded[i], index, tokenSet, touched, result)
	}

	// Sequential event pass.
	for i := range decoded {
		p.applyLog(&decoded[i], index, tokenSet, touched, st, result)
	}

	// Pricing pass over the updated snapshot.
	resolver := NewResolver(p.chainTokens, st.NativePrice.PriceUSD, index)

	for i := range result.Events {
		ev := &result.Events[i]
		pool, ok := index[ev.PoolAddress]
		if !ok {
			continue
		}
		if t0, t1 := tokenSet[pool.Token0], tokenSet[pool.Token1]; usdReady(t0) && usdReady(t1) {
			resolver.PriceEvent(ev, pool)
			pool.TotalVolumeUSD += ev.VolumeUSD
			if ev.VolumeUSD > 0 {
				touchTokenActivity(tokenSet, pool, ev)
			}
		}
	}

	for _, pool := range touched {
		priceUSD, tvlUSD := resolver.PoolPricing(pool)
		if priceUSD > 0 {
			pool.PriceUSD = priceUSD
		}
		if tvlUSD > 0 {
			pool.TVLUSD = tvlUSD
		}
		result.TouchedPools = append(result.TouchedPools, pool)
	}

	for i := range result.NewPools {
		if pool, ok := index[result.NewPools[i].PoolAddress]; ok {
			result.NewPools[i].InitialTVLUSD = pool.TVLUSD
		}
	}

	for _, token := range tokenSet {
		if !token.MetadataOK {
			continue
		}
		if price := resolver.TokenPriceUSD(token.Address); price > 0 {
			token.PriceUSD = price
			token.MarketCapUSD = price * token.CirculatingSupply
			result.PricedTokens = append(result.PricedTokens, token)
		}
	}

	return result, nil
}

// collectTokenAddrs gathers every token whose metadata this batch needs.
func collectTokenAddrs(log model.DecodedLog, index map[string]*model.Pool, out map[string]struct{}) {
	switch ev := log.Payload.(type) {
	case *model.V2PairCreatedEvent:
		out[ev.Token0] = struct{}{}
		out[ev.Token1] = struct{}{}
	case *model.V3PoolCreatedEvent:
		out[ev.Token0] = struct{}{}
		out[ev.Token1] = struct{}{}
	case *model.V4InitializeEvent:
		out[ev.Currency0] = struct{}{}
		out[ev.Currency1] = struct{}{}
	case *model.TransferEvent:
		if ev.From == zeroAddress || ev.To == zeroAddress {
			out[log.Meta.Address] = struct{}{}
		}
	case *model.DepositEvent, *model.WithdrawalEvent:
		out[log.Meta.Address] = struct{}{}
	default:
		// Pool events need the pool's token pair.
		key := poolKeyFor(log)
		if pool, ok := index[key]; ok {
			out[pool.Token0] = struct{}{}
			out[pool.Token1] = struct{}{}
		}
	}
}

// poolKeyFor returns the index key a pool event addresses: the emitting
// contract for V2/V3, the pool ID for V4.
func poolKeyFor(log model.DecodedLog) string {
	switch ev := log.Payload.(type) {
	case *model.V4SwapEvent:
		return strings.ToLower(ev.ID)
	case *model.V4ModifyLiquidityEvent:
		return strings.ToLower(ev.ID)
	default:
		return log.Meta.Address
	}
}

func (p *Parser) registerPool(log *model.DecodedLog, index map[string]*model.Pool, tokenSet map[string]*model.Token, touched map[string]*model.Pool, result *BatchResult) {
	switch ev := log.Payload.(type) {
	case *model.V2PairCreatedEvent:
		if ev.Pair == zeroAddress || !p.chainTokens.AllowedFactory(log.Meta.Address) {
			return
		}
		t0, t1 := tokenSet[ev.Token0], tokenSet[ev.Token1]
		if t0 == nil || t1 == nil {
			return
		}
		pool := model.NewPoolFromV2Created(log.Meta, ev, t0, t1, p.chainTokens)
		p.addPool(pool, index, touched, result, t0, t1, log.Meta.BlockNumber)

	case *model.V3PoolCreatedEvent:
		if ev.Pool == zeroAddress || !p.chainTokens.AllowedFactory(log.Meta.Address) {
			return
		}
		t0, t1 := tokenSet[ev.Token0], tokenSet[ev.Token1]
		if t0 == nil || t1 == nil {
			return
		}
		pool := model.NewPoolFromV3Created(log.Meta, ev, t0, t1, p.chainTokens)
		p.addPool(pool, index, touched, result, t0, t1, log.Meta.BlockNumber)

	case *model.V4InitializeEvent:
		if !p.chainTokens.AllowedFactory(log.Meta.Address) {
			return
		}
		computed := dex.ComputeV4PoolID(ev.Currency0, ev.Currency1, ev.Fee, ev.TickSpacing, ev.Hooks)
		if !strings.EqualFold(computed, ev.ID) {
			p.logger.Warn("v4 pool id mismatch",
				zap.String("event_id", ev.ID), zap.String("computed", computed))
			return
		}
		t0, t1 := tokenSet[ev.Currency0], tokenSet[ev.Currency1]
		if t0 == nil || t1 == nil {
			return
		}
		meta := log.Meta
		pool := model.NewPoolFromV4Initialize(meta, ev, t0, t1, p.chainTokens)
		pool.Address = strings.ToLower(ev.ID)
		p.addPool(pool, index, touched, result, t0, t1, log.Meta.BlockNumber)
	}
}

func (p *Parser) addPool(pool *model.Pool, index map[string]*model.Pool, touched map[string]*model.Pool, result *BatchResult, t0, t1 *model.Token, block uint64) {
	if _, exists := index[pool.Address]; exists {
		return
	}
	index[pool.Address] = pool
	touched[pool.Address] = pool
	result.NewPools = append(result.NewPools, model.NewPoolRecord(pool))

	for _, t := range []*model.Token{t0, t1} {
		t.PoolCount++
		if t.FirstSeenBlock == 0 {
			t.FirstSeenBlock = block
		}
	}
}

func (p *Parser) applyLog(log *model.DecodedLog, index map[string]*model.Pool, tokenSet map[string]*model.Token, touched map[string]*model.Pool, st *BatchState, result *BatchResult) {
	meta := log.Meta

	switch ev := log.Payload.(type) {
	case *model.V2SyncEvent:
		if pool, ok := index[meta.Address]; ok {
			pool.ApplyV2Sync(ev, meta.BlockNumber, meta.Timestamp)
			touched[pool.Address] = pool
			p.trackNativePrice(pool, st)
		}

	case *model.V3InitializeEvent:
		if pool, ok := index[meta.Address]; ok {
			pool.ApplyInitialize(ev.SqrtPriceX96, ev.Tick, meta.BlockNumber, meta.Timestamp)
			touched[pool.Address] = pool
			p.trackNativePrice(pool, st)
		}

	case *model.V2SwapEvent:
		p.withPoolTokens(meta.Address, index, tokenSet, func(pool *model.Pool, t0, t1 *model.Token) {
			event := model.EventFromV2Swap(meta, ev, pool, t0, t1)
			p.finishEvent(event, pool, touched, st, result)
		})

	case *model.V3SwapEvent:
		p.withPoolTokens(meta.Address, index, tokenSet, func(pool *model.Pool, t0, t1 *model.Token) {
			if !pool.Initialized {
				return
			}
			event := model.EventFromV3Swap(meta, ev, pool, t0, t1)
			p.finishEvent(event, pool, touched, st, result)
		})

	case *model.V4SwapEvent:
		key := strings.ToLower(ev.ID)
		p.withPoolTokens(key, index, tokenSet, func(pool *model.Pool, t0, t1 *model.Token) {
			if !p.validV4Pool(pool, key) || !pool.Initialized {
				return
			}
			pool.ApplyV4Fee(ev.Fee)
			event := model.EventFromV4Swap(meta, ev, pool, t0, t1)
			p.finishEvent(event, pool, touched, st, result)
		})

	case *model.V2MintEvent:
		p.withPoolTokens(meta.Address, index, tokenSet, func(pool *model.Pool, t0, t1 *model.Token) {
			event := model.EventFromV2Mint(meta, ev, pool, t0, t1)
			p.finishEvent(event, pool, touched, st, result)
		})

	case *model.V2BurnEvent:
		p.withPoolTokens(meta.Address, index, tokenSet, func(pool *model.Pool, t0, t1 *model.Token) {
			event := model.EventFromV2Burn(meta, ev, pool, t0, t1)
			p.finishEvent(event, pool, touched, st, result)
		})

	case *model.V3MintEvent:
		p.withPoolTokens(meta.Address, index, tokenSet, func(pool *model.Pool, t0, t1 *model.Token) {
			event := model.EventFromV3Mint(meta, ev, pool, t0, t1)
			p.finishEvent(event, pool, touched, st, result)
		})

	case *model.V3BurnEvent:
		p.withPoolTokens(meta.Address, index, tokenSet, func(pool *model.Pool, t0, t1 *model.Token) {
			event := model.EventFromV3Burn(meta, ev, pool, t0, t1)
			p.finishEvent(event, pool, touched, st, result)
		})

	case *model.V3CollectEvent:
		p.withPoolTokens(meta.Address, index, tokenSet, func(pool *model.Pool, t0, t1 *model.Token) {
			event := model.EventFromV3Collect(meta, ev, pool, t0, t1)
			p.finishEvent(event, pool, touched, st, result)
		})

	case *model.V4ModifyLiquidityEvent:
		key := strings.ToLower(ev.ID)
		p.withPoolTokens(key, index, tokenSet, func(pool *model.Pool, t0, t1 *model.Token) {
			if !p.validV4Pool(pool, key) {
				return
			}
			event := model.EventFromV4ModifyLiquidity(meta, ev, pool, t0, t1)
			p.finishEvent(event, pool, touched, st, result)
		})

	case *model.TransferEvent:
		isMint := ev.From == zeroAddress
		isBurn := ev.To == zeroAddress
		if isMint == isBurn {
			// Plain transfer, or a zero-to-zero oddity; not a supply change.
			return
		}
		if token, ok := tokenSet[meta.Address]; ok && token.MetadataOK {
			eventType := model.SupplyBurn
			if isMint {
				eventType = model.SupplyMint
			}
			result.SupplyEvents = append(result.SupplyEvents,
				model.NewSupplyEvent(meta, eventType, ev.Value, token.Decimals))
		}

	case *model.DepositEvent:
		if token, ok := tokenSet[meta.Address]; ok && token.MetadataOK {
			result.SupplyEvents = append(result.SupplyEvents,
				model.NewSupplyEvent(meta, model.SupplyMint, ev.Amount, token.Decimals))
		}

	case *model.WithdrawalEvent:
		if token, ok := tokenSet[meta.Address]; ok && token.MetadataOK {
			result.SupplyEvents = append(result.SupplyEvents,
				model.NewSupplyEvent(meta, model.SupplyBurn, ev.Amount, token.Decimals))
		}
	}
}

func (p *Parser) withPoolTokens(key string, index map[string]*model.Pool, tokenSet map[string]*model.Token, fn func(*model.Pool, *model.Token, *model.Token)) {
	pool, ok := index[key]
	if !ok {
		return
	}
	t0, t1 := tokenSet[pool.Token0], tokenSet[pool.Token1]
	if t0 == nil {
		t0, _ = p.fetcher.Cached(pool.Token0)
	}
	if t1 == nil {
		t1, _ = p.fetcher.Cached(pool.Token1)
	}
	if t0 == nil || t1 == nil {
		return
	}
	fn(pool, t0, t1)
}

// validV4Pool recomputes the pool ID from the stored key to reject spoofed
// events carrying a known ID from an unrelated contract.
func (p *Parser) validV4Pool(pool *model.Pool, eventID string) bool {
	computed := dex.ComputeV4PoolID(pool.Token0, pool.Token1, pool.Fee, pool.TickSpacing, pool.HookAddress)
	if !strings.EqualFold(computed, eventID) {
		p.logger.Warn("v4 pool id mismatch",
			zap.String("event_id", eventID), zap.String("computed", computed))
		return false
	}
	return true
}

func (p *Parser) finishEvent(event model.Event, pool *model.Pool, touched map[string]*model.Pool, st *BatchState, result *BatchResult) {
	pool.ApplyEvent(&event)
	touched[pool.Address] = pool
	p.trackNativePrice(pool, st)
	result.Events = append(result.Events, event)
}

func (p *Parser) trackNativePrice(pool *model.Pool, st *BatchState) {
	if p.chainTokens.IsStablePool(pool.Address) {
		st.NativePrice.UpdateFromStablePool(pool, p.chainTokens.WrappedNative())
	}
}

func usdReady(t *model.Token) bool { return t != nil && t.MetadataOK }

func touchTokenActivity(tokenSet map[string]*model.Token, pool *model.Pool, ev *model.Event) {
	for _, addr := range []string{pool.Token0, pool.Token1} {
		if t, ok := tokenSet[addr]; ok {
			t.LastActivityAt = ev.Timestamp
		}
	}
}
