package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	xerrors "AMM-Agent/internal/errors"
)

// envelope 是宿主消息内容的外层结构。
type envelope struct {
	Event     string          `json:"event"`
	RequestID json.RawMessage `json:"request_id"`
	Message   json.RawMessage `json:"message"`
}

// SwapRequest 是一次报价请求。
type SwapRequest struct {
	TokenIn  string
	TokenOut string
	AmountIn *big.Int
	// RequestID 原样回传给合约，保持解码后的 JSON 形态。
	RequestID any
}

func parseEnvelope(content string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return envelope{}, xerrors.Wrap(xerrors.CodeParseFailure, err, "解析事件内容失败")
	}
	return env, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// hasMessage 判断 message 字段存在且不为 null。
func (e envelope) hasMessage() bool {
	return !isNull(e.Message)
}

type swapPayload struct {
	TokenIn  string `json:"token_in"`
	TokenOut string `json:"token_out"`
	AmountIn any    `json:"amount_in"`
}

// parseSwapRequest 解析 message 中以字符串形式携带的内层 JSON。
func parseSwapRequest(env envelope) (SwapRequest, error) {
	var inner string
	if err := json.Unmarshal(env.Message, &inner); err != nil {
		return SwapRequest{}, xerrors.Wrap(xerrors.CodeParseFailure, err, "message 必须是 JSON 字符串")
	}

	dec := json.NewDecoder(strings.NewReader(inner))
	dec.UseNumber()
	var payload swapPayload
	if err := dec.Decode(&payload); err != nil {
		return SwapRequest{}, xerrors.Wrap(xerrors.CodeParseFailure, err, "解析报价请求失败")
	}
	if strings.TrimSpace(payload.TokenIn) == "" || strings.TrimSpace(payload.TokenOut) == "" {
		return SwapRequest{}, xerrors.New(xerrors.CodeParseFailure, "报价请求缺少 token_in 或 token_out")
	}
	amountIn, err := parseAmount(payload.AmountIn)
	if err != nil {
		return SwapRequest{}, err
	}

	if isNull(env.RequestID) {
		return SwapRequest{}, xerrors.New(xerrors.CodeParseFailure, "事件缺少 request_id")
	}
	idDec := json.NewDecoder(bytes.NewReader(env.RequestID))
	idDec.UseNumber()
	var requestID any
	if err := idDec.Decode(&requestID); err != nil {
		return SwapRequest{}, xerrors.Wrap(xerrors.CodeParseFailure, err, "解析 request_id 失败")
	}

	return SwapRequest{
		TokenIn:   payload.TokenIn,
		TokenOut:  payload.TokenOut,
		AmountIn:  amountIn,
		RequestID: requestID,
	}, nil
}

// parseAmount 接受十进制整数字符串或 JSON 整数。
func parseAmount(v any) (*big.Int, error) {
	var raw string
	switch value := v.(type) {
	case json.Number:
		raw = value.String()
	case string:
		raw = strings.TrimSpace(value)
	case nil:
		return nil, xerrors.New(xerrors.CodeParseFailure, "报价请求缺少 amount_in")
	default:
		return nil, xerrors.New(xerrors.CodeParseFailure, fmt.Sprintf("amount_in 类型无效: %T", v))
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeParseFailure, fmt.Sprintf("amount_in 不是整数: %q", raw))
	}
	return n, nil
}
