package ethereum

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"AMM-Agent/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultContractABI describes the pool contract the agent talks to when no
// ABI file is configured.
const DefaultContractABI = `[
  {
    "type": "function",
    "name": "get_swap_balances",
    "stateMutability": "view",
    "inputs": [
      {"name": "token_in", "type": "address"},
      {"name": "token_out", "type": "address"}
    ],
    "outputs": [
      {"name": "balance_in", "type": "uint256"},
      {"name": "balance_out", "type": "uint256"}
    ]
  },
  {
    "type": "function",
    "name": "agent_response",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "data_id", "type": "bytes32"},
      {"name": "amount_out", "type": "uint256"}
    ],
    "outputs": []
  }
]`

// ParseABI parses a contract ABI, falling back to DefaultContractABI.
func ParseABI(abiJSON string) (abi.ABI, error) {
	if strings.TrimSpace(abiJSON) == "" {
		abiJSON = DefaultContractABI
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("解析 ABI 失败: %w", err)
	}
	return parsed, nil
}

// callArguments orders and converts args to the inputs of method.
func callArguments(contractABI abi.ABI, method string, args map[string]any) ([]any, error) {
	m, ok := contractABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("ABI 中不存在方法 %s", method)
	}
	values := make([]any, 0, len(m.Inputs))
	for _, input := range m.Inputs {
		raw, ok := args[input.Name]
		if !ok {
			return nil, fmt.Errorf("方法 %s 缺少参数 %s", method, input.Name)
		}
		value, err := coerceArgument(input.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("方法 %s 参数 %s: %w", method, input.Name, err)
		}
		values = append(values, value)
	}
	return values, nil
}

// coerceArgument converts a JSON-shaped value into the Go type go-ethereum
// expects for typ.
func coerceArgument(typ abi.Type, v any) (any, error) {
	switch typ.T {
	case abi.AddressTy:
		s, ok := v.(string)
		if !ok || !common.IsHexAddress(strings.TrimSpace(s)) {
			return nil, fmt.Errorf("无效的地址 %v", v)
		}
		return common.HexToAddress(strings.TrimSpace(s)), nil
	case abi.UintTy, abi.IntTy:
		return coerceInteger(typ, v)
	case abi.BoolTy:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(b))
		}
		return nil, fmt.Errorf("无效的布尔值 %v", v)
	case abi.StringTy:
		switch s := v.(type) {
		case string:
			return s, nil
		case json.Number:
			return s.String(), nil
		case fmt.Stringer:
			return s.String(), nil
		}
		return fmt.Sprint(v), nil
	case abi.BytesTy:
		return decodeBytes(v)
	case abi.FixedBytesTy:
		raw, err := decodeBytes(v)
		if err != nil {
			return nil, err
		}
		if len(raw) != typ.Size {
			return nil, fmt.Errorf("需要 %d 字节，实际 %d 字节", typ.Size, len(raw))
		}
		arr := reflect.New(typ.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(raw))
		return arr.Interface(), nil
	default:
		return v, nil
	}
}

func coerceInteger(typ abi.Type, v any) (any, error) {
	n, err := web3.ToBigInt(v)
	if err != nil {
		return nil, err
	}
	if typ.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("uint%d 不能为负数: %s", typ.Size, n)
	}
	if typ.Size > 64 {
		if n.BitLen() > typ.Size {
			return nil, fmt.Errorf("数值超出 %s 范围: %s", typ.String(), n)
		}
		return n, nil
	}

	// go-ethereum packs small integers only from their exact Go type.
	var rv reflect.Value
	if typ.T == abi.UintTy {
		if n.BitLen() > typ.Size {
			return nil, fmt.Errorf("数值超出 %s 范围: %s", typ.String(), n)
		}
		rv = reflect.ValueOf(n.Uint64())
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(typ.Size-1))
		if n.Cmp(limit) >= 0 || n.Cmp(new(big.Int).Neg(limit)) < 0 {
			return nil, fmt.Errorf("数值超出 %s 范围: %s", typ.String(), n)
		}
		rv = reflect.ValueOf(n.Int64())
	}
	return rv.Convert(typ.GetType()).Interface(), nil
}

// decodeBytes accepts 0x-prefixed hex strings, raw byte slices and JSON
// arrays of byte values.
func decodeBytes(v any) ([]byte, error) {
	switch value := v.(type) {
	case []byte:
		return value, nil
	case string:
		decoded, err := hexutil.Decode(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("无效的十六进制数据 %q: %w", value, err)
		}
		return decoded, nil
	case []any:
		out := make([]byte, len(value))
		for i, item := range value {
			n, err := web3.ToBigInt(item)
			if err != nil {
				return nil, err
			}
			if n.Sign() < 0 || n.BitLen() > 8 {
				return nil, fmt.Errorf("第 %d 个字节超出范围: %s", i, n)
			}
			out[i] = byte(n.Uint64())
		}
		return out, nil
	default:
		return nil, errors.New("不支持的字节数据类型")
	}
}
