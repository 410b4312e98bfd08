package web3

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
)

var (
	// ErrMissingValue is returned when a call result has fewer values than expected.
	ErrMissingValue = errors.New("call result is missing a value")
	// ErrNotInteger is returned when a value cannot be read as an integer.
	ErrNotInteger = errors.New("value is not an integer")
)

// ToBigInt reads integer-like values: big integers, Go integer types,
// integral JSON numbers, and decimal or 0x-prefixed hex strings.
func ToBigInt(v any) (*big.Int, error) {
	switch value := v.(type) {
	case *big.Int:
		if value == nil {
			return nil, ErrNotInteger
		}
		return new(big.Int).Set(value), nil
	case int:
		return big.NewInt(int64(value)), nil
	case int32:
		return big.NewInt(int64(value)), nil
	case int64:
		return big.NewInt(value), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(value)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(value)), nil
	case uint64:
		return new(big.Int).SetUint64(value), nil
	case float64:
		if math.IsNaN(value) || math.IsInf(value, 0) || value != math.Trunc(value) {
			return nil, fmt.Errorf("%w: %v", ErrNotInteger, value)
		}
		out, _ := big.NewFloat(value).Int(nil)
		return out, nil
	case json.Number:
		return parseIntegerString(value.String())
	case string:
		return parseIntegerString(value)
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotInteger, v)
	}
}

func parseIntegerString(raw string) (*big.Int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrNotInteger)
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}
	out, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotInteger, raw)
	}
	if neg {
		out.Neg(out)
	}
	return out, nil
}
