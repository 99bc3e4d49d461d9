// Package dex decodes raw chain logs into typed DEX events. Decoding is a
// pure function of the log: no I/O, no pool state.
package dex

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/runic-indexer/runic/internal/model"
)

// Decoder maps topic0 hashes to the known protocol event catalogue.
type Decoder struct {
	v2    abi.ABI
	v3    abi.ABI
	v4    abi.ABI
	erc20 abi.ABI
	kinds map[common.Hash]model.DecodedKind
}

// NewDecoder parses the protocol ABIs and builds the topic0 index.
func NewDecoder() (*Decoder, error) {
	v2, err := V2ABI()
	if err != nil {
		return nil, err
	}
	v3, err := V3ABI()
	if err != nil {
		return nil, err
	}
	v4, err := V4ABI()
	if err != nil {
		return nil, err
	}
	erc20, err := ERC20ABI()
	if err != nil {
		return nil, err
	}

	d := &Decoder{v2: v2, v3: v3, v4: v4, erc20: erc20}
	d.kinds = map[common.Hash]model.DecodedKind{
		v2.Events["PairCreated"].ID: model.KindV2PairCreated,
		v2.Events["Sync"].ID:        model.KindV2Sync,
		v2.Events["Swap"].ID:        model.KindV2Swap,
		v2.Events["Mint"].ID:        model.KindV2Mint,
		v2.Events["Burn"].ID:        model.KindV2Burn,

		v3.Events["PoolCreated"].ID: model.KindV3PoolCreated,
		v3.Events["Initialize"].ID:  model.KindV3Initialize,
		v3.Events["Swap"].ID:        model.KindV3Swap,
		v3.Events["Mint"].ID:        model.KindV3Mint,
		v3.Events["Burn"].ID:        model.KindV3Burn,
		v3.Events["Collect"].ID:     model.KindV3Collect,

		v4.Events["Initialize"].ID:      model.KindV4Initialize,
		v4.Events["Swap"].ID:            model.KindV4Swap,
		v4.Events["ModifyLiquidity"].ID: model.KindV4ModifyLiquidity,

		erc20.Events["Transfer"].ID:   model.KindTransfer,
		erc20.Events["Deposit"].ID:    model.KindDeposit,
		erc20.Events["Withdrawal"].ID: model.KindWithdrawal,
	}
	return d, nil
}

// Topics returns every topic0 the decoder recognizes, for ingestor filters.
func (d *Decoder) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(d.kinds))
	for topic := range d.kinds {
		out = append(out, topic)
	}
	return out
}

// CanDecode reports whether topic0 is in the catalogue.
func (d *Decoder) CanDecode(topic0 common.Hash) bool {
	_, ok := d.kinds[topic0]
	return ok
}

// Decode converts a raw log into a tagged DecodedLog. Unknown topic0 yields
// KindUnknown with a nil payload; malformed payloads yield a *DecodeError.
func (d *Decoder) Decode(rec model.LogRecord) (model.DecodedLog, error) {
	meta := model.LogMeta{
		ChainID:     rec.ChainID,
		BlockNumber: rec.BlockNumber,
		TxHash:      rec.TxHash,
		TxIndex:     rec.TxIndex,
		LogIndex:    rec.LogIndex,
		Address:     strings.ToLower(rec.Address),
		Timestamp:   rec.Timestamp,
	}

	if len(rec.Topics) == 0 {
		return model.DecodedLog{}, d.fail(rec, "missing topic0")
	}

	topics, err := parseTopicHashes(rec.Topics)
	if err != nil {
		return model.DecodedLog{}, d.fail(rec, err.Error())
	}

	kind, ok := d.kinds[topics[0]]
	if !ok {
		return model.DecodedLog{Meta: meta, Kind: model.KindUnknown}, nil
	}

	data, err := hexutil.Decode(rec.Data)
	if err != nil {
		return model.DecodedLog{}, d.fail(rec, fmt.Sprintf("invalid data: %v", err))
	}

	payload, err := d.decodePayload(kind, topics, data)
	if err != nil {
		return model.DecodedLog{}, d.fail(rec, err.Error())
	}

	return model.DecodedLog{Meta: meta, Kind: kind, Payload: payload}, nil
}

func (d *Decoder) decodePayload(kind model.DecodedKind, topics []common.Hash, data []byte) (any, error) {
	switch kind {
	case model.KindV2PairCreated:
		return d.decodeV2PairCreated(topics, data)
	case model.KindV2Sync:
		return d.decodeV2Sync(topics, data)
	case model.KindV2Swap:
		return d.decodeV2Swap(topics, data)
	case model.KindV2Mint:
		return d.decodeV2Mint(topics, data)
	case model.KindV2Burn:
		return d.decodeV2Burn(topics, data)
	case model.KindV3PoolCreated:
		return d.decodeV3PoolCreated(topics, data)
	case model.KindV3Initialize:
		return d.decodeV3Initialize(topics, data)
	case model.KindV3Swap:
		return d.decodeV3Swap(topics, data)
	case model.KindV3Mint:
		return d.decodeV3Mint(topics, data)
	case model.KindV3Burn:
		return d.decodeV3Burn(topics, data)
	case model.KindV3Collect:
		return d.decodeV3Collect(topics, data)
	case model.KindV4Initialize:
		return d.decodeV4Initialize(topics, data)
	case model.KindV4Swap:
		return d.decodeV4Swap(topics, data)
	case model.KindV4ModifyLiquidity:
		return d.decodeV4ModifyLiquidity(topics, data)
	case model.KindTransfer:
		return d.decodeTransfer(topics, data)
	case model.KindDeposit:
		return d.decodeDeposit(topics, data)
	case model.KindWithdrawal:
		return d.decodeWithdrawal(topics, data)
	default:
		return nil, fmt.Errorf("unhandled kind %d", kind)
	}
}

func (d *Decoder) decodeV2PairCreated(topics []common.Hash, data []byte) (*model.V2PairCreatedEvent, error) {
	event := d.v2.Events["PairCreated"]
	var indexed struct {
		Token0 common.Address
		Token1 common.Address
	}
	if err := parseIndexed(event, topics, &indexed); err != nil {
		return nil, err
	}
	values, err := unpackData(event, data, 2)
	if err != nil {
		return nil, err
	}
	pair, err := asAddress(values[0])
	if err != nil {
		return nil, fmt.Errorf("pair: %w", err)
	}
	return &model.V2PairCreatedEvent{
		Token0: lowerHex(indexed.Token0),
		Token1: lowerHex(indexed.Token1),
		Pair:   lowerHex(pair),
	}, nil
}

func (d *Decoder) decodeV2Sync(topics []common.Hash, data []byte) (*model.V2SyncEvent, error) {
	event := d.v2.Events["Sync"]
	if err := parseIndexed(event, topics, nil); err != nil {
		return nil, err
	}
	values, err := unpackData(event, data, 2)
	if err != nil {
		return nil, err
	}
	reserve0, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	reserve1, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}
	return &model.V2SyncEvent{Reserve0: reserve0, Reserve1: reserve1}, nil
}

func (d *Decoder) decodeV2Swap(topics []common.Hash, data []byte) (*model.V2SwapEvent, error) {
	event := d.v2.Events["Swap"]
	var indexed struct {
		Sender common.Address
		To     common.Address
	}
	if err := parseIndexed(event, topics, &indexed); err != nil {
		return nil, err
	}
	values, err := unpackData(event, data, 4)
	if err != nil {
		return nil, err
	}
	amounts := make([]*big.Int, 4)
	for i, v := range values {
		amounts[i], err = asBigInt(v)
		if err != nil {
			return nil, err
		}
	}
	return &model.V2SwapEvent{
		Sender:     lowerHex(indexed.Sender),
		To:         lowerHex(indexed.To),
		Amount0In:  amounts[0],
		Amount1In:  amounts[1],
		Amount0Out: amounts[2],
		Amount1Out: amounts[3],
	}, nil
}

func (d *Decoder) decodeV2Mint(topics []common.Hash, data []byte) (*model.V2MintEvent, error) {
	event := d.v2.Events["Mint"]
	var indexed struct {
		Sender common.Address
	}
	if err := parseIndexed(event, topics, &indexed); err != nil {
		return nil, err
	}
	values, err := unpackData(event, data, 2)
	if err != nil {
		return nil, err
	}
	amount0, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	amount1, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}
	return &model.V2MintEvent{Sender: lowerHex(indexed.Sender), Amount0: amount0, Amount1: amount1}, nil
}

func (d *Decoder) decodeV2Burn(topics []common.Hash, data []byte) (*model.V2BurnEvent, error) {
	event := d.v2.Events["Burn"]
	var indexed struct {
		Sender common.Address
		To     common.Address
	}
	if err := parseIndexed(event, topics, &indexed); err != nil {
		return nil, err
	}
	values, err := unpackData(event, data, 2)
	if err != nil {
		return nil, err
	}
	amount0, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	amount1, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}
	return &model.V2BurnEvent{
		Sender:  lowerHex(indexed.Sender),
		To:      lowerHex(indexed.To),
		Amount0: amount0,
		Amount1: amount1,
	}, nil
}

func (d *Decoder) decodeV3PoolCreated(topics []common.Hash, data []byte) (*model.V3PoolCreatedEvent, error) {
	event := d.v3.Events["PoolCreated"]
	var indexed struct {
		Token0 common.Address
		Token1 common.Address
		Fee    *big.Int
	}
	if err := parseIndexed(event, topics, &indexed); err != nil {
		return nil, err
	}
	values, err := unpackData(event, data, 2)
	if err != nil {
		return nil, err
	}
	tickSpacing, err := asInt24(values[0])
	if err != nil {
		return nil, fmt.Errorf("tickSpacing: %w", err)
	}
	pool, err := asAddress(values[1])
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}
	return &model.V3PoolCreatedEvent{
		Token0:      lowerHex(indexed.Token0),
		Token1:      lowerHex(indexed.Token1),
		Fee:         uint32(indexed.Fee.Uint64()),
		TickSpacing: tickSpacing,
		Pool:        lowerHex(pool),
	}, nil
}

func (d *Decoder) decodeV3Initialize(topics []common.Hash, data []byte) (*model.V3InitializeEvent, error) {
	event := d.v3.Events["Initialize"]
	if err := parseIndexed(event, topics, nil); err != nil {
		return nil, err
	}
	values, err := unpackData(event, data, 2)
	if err != nil {
		return nil, err
	}
	sqrtPrice, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	tick, err := asInt24(values[1])
	if err != nil {
		return nil, err
	}
	return &model.V3InitializeEvent{SqrtPriceX96: sqrtPrice, Tick: tick}, nil
}

func (d *Decoder) decodeV3Swap(topics []common.Hash, data []byte) (*model.V3SwapEvent, error) {
	event := d.v3.Events["Swap"]
	var indexed struct {
		Sender    common.Address
		Recipient common.Address
	}
	if err := parseIndexed(event, topics, &indexed); err != nil {
		return nil, err
	}
	values, err := unpackData(event, data, 5)
	if err != nil {
		return nil, err
	}
	nums := make([]*big.Int, 4)
	for i := 0; i < 4; i++ {
		nums[i], err = asBigInt(values[i])
		if err != nil {
			return nil, err
		}
	}
	tick, err := asInt24(values[4])
	if err != nil {
		return nil, err
	}
	return &model.V3SwapEvent{
		Sender:       lowerHex(indexed.Sender),
		Recipient:    lowerHex(indexed.Recipient),
		Amount0:      nums[0],
		Amount1:      nums[1],
		SqrtPriceX96: nums[2],
		Liquidity:    nums[3],
		Tick:         tick,
	}, nil
}

func (d *Decoder) decodeV3Mint(topics []common.Hash, data []byte) (*model.V3MintEvent, error) {
	event := d.v3.Events["Mint"]
	var indexed struct {
		Owner     common.Address
		TickLower *big.Int
		TickUpper *big.Int
	}
	if err := parseIndexed(event, topics, &indexed); err != nil {
		return nil, err
	}
	values, err := unpackData(event, data, 4)
	if err != nil {
		return nil, err
	}
	sender, err := asAddress(values[0])
	if err != nil {
		return nil, err
	}
	amount, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}
	amount0, err := asBigInt(values[2])
	if err != nil {
		return nil, err
	}
	amount1, err := asBigInt(values[3])
	if err != nil {
		return nil, err
	}
	tickLower, tickUpper, err := tickRange(indexed.TickLower, indexed.TickUpper)
	if err != nil {
		return nil, err
	}
	return &model.V3MintEvent{
		Sender:    lowerHex(sender),
		Owner:     lowerHex(indexed.Owner),
		TickLower: tickLower,
		TickUpper: tickUpper,
		Amount:    amount,
		Amount0:   amount0,
		Amount1:   amount1,
	}, nil
}

func (d *Decoder) decodeV3Burn(topics []common.Hash, data []byte) (*model.V3BurnEvent, error) {
	event := d.v3.Events["Burn"]
	var indexed struct {
		Owner     common.Address
		TickLower *big.Int
		TickUpper *big.Int
	}
	if err := parseIndexed(event, topics, &indexed); err != nil {
		return nil, err
	}
	values, err := unpackData(event, data, 3)
	if err != nil {
		return nil, err
	}
	amount, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	amount0, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}
	amount1, err := asBigInt(values[2])
	if err != nil {
		return nil, err
	}
	tickLower, tickUpper, err := tickRange(indexed.TickLower, indexed.TickUpper)
	if err != nil {
		return nil, err
	}
	return &model.V3BurnEvent{
		Owner:     lowerHex(indexed.Owner),
		TickLower: tickLower,
		TickUpper: tickUpper,
		Amount:    amount,
		Amount0:   amount0,
		Amount1:   amount1,
	}, nil
}

func (d *Decoder) decodeV3Collect(topics []common.Hash, data []byte) (*model.V3CollectEvent, error) {
	event := d.v3.Events["Collect"]
	var indexed struct {
		Owner     common.Address
		TickLower *big.Int
		TickUpper *big.Int
	}
	if err := parseIndexed(event, topics, &indexed); err != nil {
		return nil, err
	}
	values, err := unpackData(event, data, 3)
	if err != nil {
		return nil, err
	}
	recipient, err := asAddress(values[0])
	if err != nil {
		return nil, err
	}
	amount0, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}
	amount1, err := asBigInt(values[2])
	if err != nil {
		return nil, err
	}
	tickLower, tickUpper, err := tickRange(indexed.TickLower, indexed.TickUpper)
	if err != nil {
		return nil, err
	}
	return &model.V3CollectEvent{
		Owner:     lowerHex(indexed.Owner),
		Recipient: lowerHex(recipient),
		TickLower: tickLower,
		TickUpper: tickUpper,
		Amount0:   amount0,
		Amount1:   amount1,
	}, nil
}

func (d *Decoder) decodeV4Initialize(topics []common.Hash, data []byte) (*model.V4InitializeEvent, error) {
	event := d.v4.Events["Initialize"]
	if len(topics) != 4 {
		return nil, fmt.Errorf("expected 4 topics, got %d", len(topics))
	}
	values, err := unpackData(event, data, 5)
	if err != nil {
		return nil, err
	}
	fee, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	tickSpacing, err := asInt24(values[1])
	if err != nil {
		return nil, err
	}
	hooks, err := asAddress(values[2])
	if err != nil {
		return nil, err
	}
	sqrtPrice, err := asBigInt(values[3])
	if err != nil {
		return nil, err
	}
	tick, err := asInt24(values[4])
	if err != nil {
		return nil, err
	}
	return &model.V4InitializeEvent{
		ID:           topics[1].Hex(),
		Currency0:    lowerHex(common.BytesToAddress(topics[2].Bytes())),
		Currency1:    lowerHex(common.BytesToAddress(topics[3].Bytes())),
		Fee:          uint32(fee.Uint64()),
		TickSpacing:  tickSpacing,
		Hooks:        lowerHex(hooks),
		SqrtPriceX96: sqrtPrice,
		Tick:         tick,
	}, nil
}

func (d *Decoder) decodeV4Swap(topics []common.Hash, data []byte) (*model.V4SwapEvent, error) {
	event := d.v4.Events["Swap"]
	if len(topics) != 3 {
		return nil, fmt.Errorf("expected 3 topics, got %d", len(topics))
	}
	values, err := unpackData(event, data, 6)
	if err != nil {
		return nil, err
	}
	nums := make([]*big.Int, 4)
	for i := 0; i < 4; i++ {
		nums[i], err = asBigInt(values[i])
		if err != nil {
			return nil, err
		}
	}
	tick, err := asInt24(values[4])
	if err != nil {
		return nil, err
	}
	fee, err := asBigInt(values[5])
	if err != nil {
		return nil, err
	}
	return &model.V4SwapEvent{
		ID:           topics[1].Hex(),
		Sender:       lowerHex(common.BytesToAddress(topics[2].Bytes())),
		Amount0:      nums[0],
		Amount1:      nums[1],
		SqrtPriceX96: nums[2],
		Liquidity:    nums[3],
		Tick:         tick,
		Fee:          uint32(fee.Uint64()),
	}, nil
}

func (d *Decoder) decodeV4ModifyLiquidity(topics []common.Hash, data []byte) (*model.V4ModifyLiquidityEvent, error) {
	event := d.v4.Events["ModifyLiquidity"]
	if len(topics) != 3 {
		return nil, fmt.Errorf("expected 3 topics, got %d", len(topics))
	}
	values, err := unpackData(event, data, 4)
	if err != nil {
		return nil, err
	}
	tickLower, err := asInt24(values[0])
	if err != nil {
		return nil, err
	}
	tickUpper, err := asInt24(values[1])
	if err != nil {
		return nil, err
	}
	delta, err := asBigInt(values[2])
	if err != nil {
		return nil, err
	}
	salt, err := asBytes32Hex(values[3])
	if err != nil {
		return nil, err
	}
	return &model.V4ModifyLiquidityEvent{
		ID:             topics[1].Hex(),
		Sender:         lowerHex(common.BytesToAddress(topics[2].Bytes())),
		TickLower:      tickLower,
		TickUpper:      tickUpper,
		LiquidityDelta: delta,
		Salt:           salt,
	}, nil
}

func (d *Decoder) decodeTransfer(topics []common.Hash, data []byte) (*model.TransferEvent, error) {
	event := d.erc20.Events["Transfer"]
	var indexed struct {
		From common.Address
		To   common.Address
	}
	if err := parseIndexed(event, topics, &indexed); err != nil {
		return nil, err
	}
	values, err := unpackData(event, data, 1)
	if err != nil {
		return nil, err
	}
	value, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	return &model.TransferEvent{From: lowerHex(indexed.From), To: lowerHex(indexed.To), Value: value}, nil
}

func (d *Decoder) decodeDeposit(topics []common.Hash, data []byte) (*model.DepositEvent, error) {
	event := d.erc20.Events["Deposit"]
	var indexed struct {
		User common.Address
	}
	if err := parseIndexed(event, topics, &indexed); err != nil {
		return nil, err
	}
	values, err := unpackData(event, data, 1)
	if err != nil {
		return nil, err
	}
	amount, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	return &model.DepositEvent{User: lowerHex(indexed.User), Amount: amount}, nil
}

func (d *Decoder) decodeWithdrawal(topics []common.Hash, data []byte) (*model.WithdrawalEvent, error) {
	event := d.erc20.Events["Withdrawal"]
	var indexed struct {
		User common.Address
	}
	if err := parseIndexed(event, topics, &indexed); err != nil {
		return nil, err
	}
	values, err := unpackData(event, data, 1)
	if err != nil {
		return nil, err
	}
	amount, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	return &model.WithdrawalEvent{User: lowerHex(indexed.User), Amount: amount}, nil
}

func (d *Decoder) fail(rec model.LogRecord, reason string) *model.DecodeError {
	topic0 := ""
	if len(rec.Topics) > 0 {
		topic0 = rec.Topics[0]
	}
	return &model.DecodeError{
		ChainID:     rec.ChainID,
		BlockNumber: rec.BlockNumber,
		TxHash:      rec.TxHash,
		LogIndex:    rec.LogIndex,
		Address:     rec.Address,
		Topic0:      topic0,
		Reason:      reason,
	}
}

// ComputeV4PoolID recomputes a V4 pool ID as keccak256 of the ABI-encoded
// pool key (currency0, currency1, fee, tickSpacing, hooks). Used to reject
// spoofed events whose id does not match their claimed key.
func ComputeV4PoolID(currency0, currency1 string, fee uint32, tickSpacing int32, hooks string) string {
	buf := make([]byte, 0, 5*32)
	buf = append(buf, common.LeftPadBytes(common.HexToAddress(currency0).Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(common.HexToAddress(currency1).Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(new(big.Int).SetUint64(uint64(fee)).Bytes(), 32)...)
	buf = append(buf, math.U256Bytes(big.NewInt(int64(tickSpacing)))...)
	buf = append(buf, common.LeftPadBytes(common.HexToAddress(hooks).Bytes(), 32)...)
	return common.BytesToHash(crypto.Keccak256(buf)).Hex()
}
