package model

import "math/big"

// DecodedKind tags the variant carried by a DecodedLog.
type DecodedKind int

const (
	KindUnknown DecodedKind = iota
	KindV2PairCreated
	KindV2Sync
	KindV2Swap
	KindV2Mint
	KindV2Burn
	KindV3PoolCreated
	KindV3Initialize
	KindV3Swap
	KindV3Mint
	KindV3Burn
	KindV3Collect
	KindV4Initialize
	KindV4Swap
	KindV4ModifyLiquidity
	KindTransfer
	KindDeposit
	KindWithdrawal
)

// LogMeta locates a log within its chain.
type LogMeta struct {
	ChainID     uint64
	BlockNumber uint64
	TxHash      string
	TxIndex     uint32
	LogIndex    uint32
	Address     string
	Timestamp   uint64
}

// DecodedLog is the decoder output: a tagged payload plus the log locator.
// Payload holds one of the typed event structs below, or nil for KindUnknown.
type DecodedLog struct {
	Meta    LogMeta
	Kind    DecodedKind
	Payload any
}

// V2PairCreatedEvent is the factory PairCreated payload.
type V2PairCreatedEvent struct {
	Token0 string
	Token1 string
	Pair   string
}

// V2SyncEvent carries post-trade reserves.
type V2SyncEvent struct {
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// V2SwapEvent carries the four in/out legs of a constant-product swap.
type V2SwapEvent struct {
	Sender     string
	To         string
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
}

// V2MintEvent is a liquidity add on a constant-product pool.
type V2MintEvent struct {
	Sender  string
	Amount0 *big.Int
	Amount1 *big.Int
}

// V2BurnEvent is a liquidity removal on a constant-product pool.
type V2BurnEvent struct {
	Sender  string
	To      string
	Amount0 *big.Int
	Amount1 *big.Int
}

// V3PoolCreatedEvent is the factory PoolCreated payload.
type V3PoolCreatedEvent struct {
	Token0      string
	Token1      string
	Fee         uint32
	TickSpacing int32
	Pool        string
}

// V3InitializeEvent sets the initial price of a concentrated pool.
type V3InitializeEvent struct {
	SqrtPriceX96 *big.Int
	Tick         int32
}

// V3SwapEvent amounts are signed: negative means tokens left the pool.
type V3SwapEvent struct {
	Sender       string
	Recipient    string
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int32
}

// V3MintEvent is a position mint with its tick range.
type V3MintEvent struct {
	Sender    string
	Owner     string
	TickLower int32
	TickUpper int32
	Amount    *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
}

// V3BurnEvent is a position burn; tokens move on the matching Collect.
type V3BurnEvent struct {
	Owner     string
	TickLower int32
	TickUpper int32
	Amount    *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
}

// V3CollectEvent withdraws accumulated tokens from a position.
type V3CollectEvent struct {
	Owner     string
	Recipient string
	TickLower int32
	TickUpper int32
	Amount0   *big.Int
	Amount1   *big.Int
}

// V4InitializeEvent creates and prices a singleton-manager pool.
type V4InitializeEvent struct {
	ID           string
	Currency0    string
	Currency1    string
	Fee          uint32
	TickSpacing  int32
	Hooks        string
	SqrtPriceX96 *big.Int
	Tick         int32
}

// V4SwapEvent amounts are signed int128, same sign convention as V3.
type V4SwapEvent struct {
	ID           string
	Sender       string
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int32
	Fee          uint32
}

// V4ModifyLiquidityEvent carries a signed liquidity delta. The sign is
// authoritative: positive adds liquidity, negative removes it.
type V4ModifyLiquidityEvent struct {
	ID             string
	Sender         string
	TickLower      int32
	TickUpper      int32
	LiquidityDelta *big.Int
	Salt           string
}

// TransferEvent is an ERC20 transfer; zero-address legs are supply changes.
type TransferEvent struct {
	From  string
	To    string
	Value *big.Int
}

// DepositEvent is a wrapped-native deposit (supply mint).
type DepositEvent struct {
	User   string
	Amount *big.Int
}

// WithdrawalEvent is a wrapped-native withdrawal (supply burn).
type WithdrawalEvent struct {
	User   string
	Amount *big.Int
}
