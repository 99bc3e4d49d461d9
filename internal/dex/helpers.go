package dex

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %v", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

// parseIndexed checks the topic count against the event definition and fills
// dest from the indexed topics. dest may be nil for events without indexed
// arguments.
func parseIndexed(event abi.Event, topics []common.Hash, dest any) error {
	indexed := indexedArguments(event.Inputs)
	if len(topics) != len(indexed)+1 {
		return fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(topics))
	}
	if dest == nil {
		return nil
	}
	if err := abi.ParseTopics(dest, indexed, topics[1:]); err != nil {
		return fmt.Errorf("parse topics: %v", err)
	}
	return nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackData(event abi.Event, data []byte, want int) ([]interface{}, error) {
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %v", event.Name, err)
	}
	if len(values) != want {
		return nil, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
	}
	return values, nil
}

func lowerHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asInt24(value interface{}) (int32, error) {
	v, err := asBigInt(value)
	if err != nil {
		return 0, err
	}
	return int24FromBig(v)
}

var twoPow256 = new(big.Int).Lsh(big.NewInt(1), 256)

func int24FromBig(value *big.Int) (int32, error) {
	v := new(big.Int).Set(value)
	// Indexed int24 topics can surface as raw 256-bit two's complement.
	if v.Sign() > 0 && v.BitLen() == 256 && v.Bit(255) == 1 {
		v.Sub(v, twoPow256)
	}
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if v.Cmp(min) < 0 || v.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(v.Int64()), nil
}

func tickRange(lower, upper *big.Int) (int32, int32, error) {
	tickLower, err := int24FromBig(lower)
	if err != nil {
		return 0, 0, fmt.Errorf("tickLower: %v", err)
	}
	tickUpper, err := int24FromBig(upper)
	if err != nil {
		return 0, 0, fmt.Errorf("tickUpper: %v", err)
	}
	return tickLower, tickUpper, nil
}

func asBytes32Hex(value interface{}) (string, error) {
	switch v := value.(type) {
	case [32]byte:
		return common.BytesToHash(v[:]).Hex(), nil
	case common.Hash:
		return v.Hex(), nil
	case []byte:
		return common.BytesToHash(v).Hex(), nil
	default:
		return "", fmt.Errorf("unsupported bytes32 type %T", value)
	}
}
