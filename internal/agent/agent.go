package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"AMM-Agent/internal/amm"
	"AMM-Agent/internal/config"
	xerrors "AMM-Agent/internal/errors"
	"AMM-Agent/internal/hostenv"
	"AMM-Agent/internal/web3"
	"AMM-Agent/pkg/logger"
)

// 固定的回复文本，宿主侧按原文匹配。
const (
	ReplyNotInitialized = "Agent wasn't initialized yet."
	ReplyIllegalRequest = "Illegal request"
	ReplyIllegalAmount  = "Illegal amount"
	ReplyFailure        = "Agent failed to process the request."
)

const (
	runAgentEvent = "run_agent"
	viewMethod    = "get_swap_balances"
	mutateMethod  = "agent_response"

	// responseGasBudget 是回写结果交易的 gas 上限。
	responseGasBudget uint64 = 200_000
)

// Outcome 描述一次处理的结局。
type Outcome string

const (
	OutcomeNotInitialized Outcome = "not_initialized"
	OutcomeIllegalRequest Outcome = "illegal_request"
	OutcomeIllegalAmount  Outcome = "illegal_amount"
	OutcomeSubmitted      Outcome = "submitted"
)

// Result 汇总一次处理的结果，供日志与测试使用。
type Result struct {
	Outcome Outcome
	Event   hostenv.Event
	Request *SwapRequest
	Quote   *amm.Quote
	Receipt *web3.TxReceipt
	Reply   string
}

// Config 是报价逻辑所需的配置。
type Config struct {
	AuthorizedSender string
	ContractID       string
	ExplorerTxURL    string
	ViewTimeout      time.Duration
	SubmitTimeout    time.Duration
	FailureReply     bool
}

// ConfigFrom 由文件配置构造 Config，explorer 为已解析的浏览器地址。
func ConfigFrom(cfg config.AgentConfig, explorer string) Config {
	return Config{
		AuthorizedSender: cfg.AuthorizedSender,
		ContractID:       cfg.ContractID,
		ExplorerTxURL:    explorer,
		ViewTimeout:      cfg.ViewTimeout(),
		SubmitTimeout:    cfg.SubmitTimeout(),
		FailureReply:     cfg.FailureReply,
	}
}

// Agent 处理单个报价事件：校验、查询储备、计算兑换量并回写合约。
type Agent struct {
	chain   web3.ContractClient
	cfg     Config
	account web3.Account
	log     *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithLogger 替换默认的组件日志。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// New 创建一个 Agent。chain 可以为 nil，此时账户必须缺失。
func New(chain web3.ContractClient, cfg Config, account web3.Account, opts ...Option) *Agent {
	if cfg.AuthorizedSender == "" {
		cfg.AuthorizedSender = config.DefaultAuthorizedSender
	}
	if cfg.ExplorerTxURL == "" {
		cfg.ExplorerTxURL = config.DefaultExplorerTxURL
	}
	ag := &Agent{
		chain:   chain,
		cfg:     cfg,
		account: account,
		log:     logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Run 处理宿主中的一个事件。正常结束时标记线程完成；不可恢复的错误
// 原样返回且不标记完成。
func (a *Agent) Run(ctx context.Context, host hostenv.Host) (*Result, error) {
	result, err := a.handle(ctx, host)
	if err != nil {
		a.log.Error("处理事件失败", xerrors.LogAttrs(err)...)
		if a.cfg.FailureReply {
			if replyErr := host.Reply(ctx, ReplyFailure); replyErr != nil {
				a.log.Warn("发送失败回复失败", "error", replyErr)
			}
		}
		return result, err
	}

	if err := host.MarkDone(ctx); err != nil {
		return result, asHostError(err, "标记线程完成失败")
	}
	a.log.Info("事件处理完成", "outcome", result.Outcome, "event_id", result.Event.ID)
	return result, nil
}

func (a *Agent) handle(ctx context.Context, host hostenv.Host) (*Result, error) {
	// 凭据缺失时不读取事件。
	if !a.account.Present() {
		result := &Result{Outcome: OutcomeNotInitialized}
		return result, a.reply(ctx, host, result, ReplyNotInitialized)
	}
	if a.chain == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置链客户端")
	}

	ev, err := host.ReceiveEvent(ctx)
	if err != nil {
		return nil, asHostError(err, "读取事件失败")
	}
	result := &Result{Event: ev}

	env, err := parseEnvelope(ev.Content)
	if err != nil {
		return result, err
	}
	if env.Event != runAgentEvent || !env.hasMessage() || ev.Sender != a.cfg.AuthorizedSender {
		result.Outcome = OutcomeIllegalRequest
		logger.Audit().Warn("拒绝报价请求",
			"event_id", ev.ID,
			"event", env.Event,
			"sender", ev.Sender,
			"has_message", env.hasMessage())
		return result, a.reply(ctx, host, result, ReplyIllegalRequest)
	}

	req, err := parseSwapRequest(env)
	if err != nil {
		return result, err
	}
	result.Request = &req

	// 非正的输入量不需要查询储备。
	if req.AmountIn.Sign() <= 0 {
		return result, a.rejectAmount(ctx, host, result, "non_positive_amount_in", "")
	}

	reserves, err := a.fetchReserves(ctx, req)
	if err != nil {
		return result, err
	}

	quote, err := amm.Compute(reserves, req.AmountIn)
	if err != nil {
		if stdErrors.Is(err, amm.ErrIllegalAmount) {
			return result, a.rejectAmount(ctx, host, result, "non_positive_new_balance_in", reserves.BalanceIn.String())
		}
		return result, xerrors.Wrap(xerrors.CodeUnknown, err, "计算兑换量失败")
	}
	result.Quote = &quote

	receipt, err := a.submit(ctx, req, quote)
	if err != nil {
		return result, err
	}
	result.Receipt = &receipt
	result.Outcome = OutcomeSubmitted

	logger.Audit().Info("报价已回写",
		"event_id", ev.ID,
		"token_in", req.TokenIn,
		"token_out", req.TokenOut,
		"amount_in", req.AmountIn.String(),
		"amount_out", quote.AmountOut.String(),
		"tx_hash", receipt.Hash)

	link := web3.TxLink(a.cfg.ExplorerTxURL, receipt.Hash)
	return result, a.reply(ctx, host, result, fmt.Sprintf("Transaction created: [%s](%s)", receipt.Hash, link))
}

// fetchReserves 读取池子当前的储备。
func (a *Agent) fetchReserves(ctx context.Context, req SwapRequest) (amm.Reserves, error) {
	viewCtx, cancel := withTimeout(ctx, a.cfg.ViewTimeout)
	defer cancel()

	res, err := a.chain.CallView(viewCtx, a.cfg.ContractID, viewMethod, map[string]any{
		"token_in":  req.TokenIn,
		"token_out": req.TokenOut,
	})
	if err != nil {
		return amm.Reserves{}, chainError(err, "查询池子储备失败", a.cfg.ContractID, viewMethod)
	}
	balanceIn, err := res.Integer(0)
	if err != nil {
		return amm.Reserves{}, xerrors.Wrap(xerrors.CodeChainCallFailure, err, "解析 balance_in 失败")
	}
	balanceOut, err := res.Integer(1)
	if err != nil {
		return amm.Reserves{}, xerrors.Wrap(xerrors.CodeChainCallFailure, err, "解析 balance_out 失败")
	}
	a.log.Debug("读取池子储备",
		"token_in", req.TokenIn,
		"token_out", req.TokenOut,
		"balance_in", balanceIn.String(),
		"balance_out", balanceOut.String())
	return amm.Reserves{BalanceIn: balanceIn, BalanceOut: balanceOut}, nil
}

// submit 以签名交易回写兑换结果。
func (a *Agent) submit(ctx context.Context, req SwapRequest, quote amm.Quote) (web3.TxReceipt, error) {
	submitCtx, cancel := withTimeout(ctx, a.cfg.SubmitTimeout)
	defer cancel()

	receipt, err := a.chain.CallMutate(submitCtx, a.account, a.cfg.ContractID, mutateMethod, map[string]any{
		"data_id":    req.RequestID,
		"amount_out": quote.AmountOut.String(),
	}, responseGasBudget, new(big.Int))
	if err != nil {
		return web3.TxReceipt{}, chainError(err, "回写兑换结果失败", a.cfg.ContractID, mutateMethod)
	}
	return receipt, nil
}

func (a *Agent) rejectAmount(ctx context.Context, host hostenv.Host, result *Result, reason, balanceIn string) error {
	result.Outcome = OutcomeIllegalAmount
	attrs := []any{
		"event_id", result.Event.ID,
		"reason", reason,
		"amount_in", result.Request.AmountIn.String(),
	}
	if balanceIn != "" {
		attrs = append(attrs, "balance_in", balanceIn)
	}
	logger.Audit().Warn("拒绝报价请求", attrs...)
	return a.reply(ctx, host, result, ReplyIllegalAmount)
}

func (a *Agent) reply(ctx context.Context, host hostenv.Host, result *Result, text string) error {
	result.Reply = text
	if err := host.Reply(ctx, text); err != nil {
		return asHostError(err, "发送回复失败")
	}
	return nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func chainError(err error, message, contract, method string) error {
	code := xerrors.CodeChainCallFailure
	if stdErrors.Is(err, context.DeadlineExceeded) {
		code = xerrors.CodeTimeout
	}
	return xerrors.Wrap(code, err, message,
		xerrors.WithMetadata("contract", contract),
		xerrors.WithMetadata("method", method))
}

// asHostError 保留宿主已分类的错误码。
func asHostError(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeHostFailure, err, message)
}
