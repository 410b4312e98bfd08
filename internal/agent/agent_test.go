package agent

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	xerrors "AMM-Agent/internal/errors"
	"AMM-Agent/internal/hostenv"
	"AMM-Agent/internal/web3"
)

type stubHost struct {
	event      hostenv.Event
	receiveErr error
	replyErr   error

	received int
	replies  []string
	done     int
}

func (h *stubHost) ReceiveEvent(context.Context) (hostenv.Event, error) {
	h.received++
	if h.receiveErr != nil {
		return hostenv.Event{}, h.receiveErr
	}
	return h.event, nil
}

func (h *stubHost) Reply(_ context.Context, text string) error {
	if h.replyErr != nil {
		return h.replyErr
	}
	h.replies = append(h.replies, text)
	return nil
}

func (h *stubHost) MarkDone(context.Context) error {
	h.done++
	return nil
}

func (h *stubHost) EnvVars(context.Context) (map[string]string, error) { return nil, nil }
func (h *stubHost) Close() error                                       { return nil }

type viewCall struct {
	contract, method string
	args             map[string]any
	deadline         bool
}

type mutateCall struct {
	account          web3.Account
	contract, method string
	args             map[string]any
	gas              uint64
	value            *big.Int
}

type stubChain struct {
	balances  []any
	viewErr   error
	mutateErr error
	viewWait  time.Duration

	views   []viewCall
	mutates []mutateCall
}

func (c *stubChain) CallView(ctx context.Context, contract, method string, args map[string]any) (web3.ViewResult, error) {
	_, hasDeadline := ctx.Deadline()
	c.views = append(c.views, viewCall{contract: contract, method: method, args: args, deadline: hasDeadline})
	if c.viewWait > 0 {
		select {
		case <-time.After(c.viewWait):
		case <-ctx.Done():
			return web3.ViewResult{}, ctx.Err()
		}
	}
	if c.viewErr != nil {
		return web3.ViewResult{}, c.viewErr
	}
	return web3.ViewResult{Values: c.balances}, nil
}

func (c *stubChain) CallMutate(_ context.Context, account web3.Account, contract, method string, args map[string]any, gasBudget uint64, value *big.Int) (web3.TxReceipt, error) {
	c.mutates = append(c.mutates, mutateCall{account: account, contract: contract, method: method, args: args, gas: gasBudget, value: value})
	if c.mutateErr != nil {
		return web3.TxReceipt{}, c.mutateErr
	}
	return web3.TxReceipt{Hash: "0xfeed"}, nil
}

func (c *stubChain) Close() {}

var testAccount = web3.Account{ID: "0x00000000000000000000000000000000000000a1", PrivateKey: "key"}

func testConfig() Config {
	return Config{
		AuthorizedSender: "ai-is-near.near",
		ContractID:       "0x00000000000000000000000000000000000000aa",
		ExplorerTxURL:    "https://explorer.local/tx/",
		ViewTimeout:      time.Second,
		SubmitTimeout:    time.Second,
	}
}

func quoteEvent(content string) hostenv.Event {
	return hostenv.Event{ID: "evt-1", Sender: "ai-is-near.near", Content: content}
}

const scenarioA = `{"event":"run_agent","request_id":"0x01","message":"{\"token_in\":\"0xa\",\"token_out\":\"0xb\",\"amount_in\":\"100\"}"}`

func TestRunSubmitsQuote(t *testing.T) {
	host := &stubHost{event: quoteEvent(scenarioA)}
	chain := &stubChain{balances: []any{"1000", big.NewInt(2000)}}
	ag := New(chain, testConfig(), testAccount)

	result, err := ag.Run(context.Background(), host)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeSubmitted {
		t.Fatalf("unexpected outcome %s", result.Outcome)
	}
	if result.Quote.K.Int64() != 2_000_000 || result.Quote.NewBalanceIn.Int64() != 1100 ||
		result.Quote.NewBalanceOut.Int64() != 1818 || result.Quote.AmountOut.Int64() != 182 {
		t.Fatalf("unexpected quote %+v", result.Quote)
	}

	if len(chain.views) != 1 {
		t.Fatalf("expected one view call, got %d", len(chain.views))
	}
	view := chain.views[0]
	if view.method != "get_swap_balances" || view.args["token_in"] != "0xa" || view.args["token_out"] != "0xb" || !view.deadline {
		t.Fatalf("unexpected view call %+v", view)
	}

	if len(chain.mutates) != 1 {
		t.Fatalf("expected one mutating call, got %d", len(chain.mutates))
	}
	call := chain.mutates[0]
	if call.method != "agent_response" || call.args["amount_out"] != "182" || call.args["data_id"] != "0x01" {
		t.Fatalf("unexpected mutating call %+v", call)
	}
	if call.gas != responseGasBudget || call.value.Sign() != 0 || call.account != testAccount {
		t.Fatalf("unexpected gas/value/account %+v", call)
	}

	want := "Transaction created: [0xfeed](https://explorer.local/tx/0xfeed)"
	if len(host.replies) != 1 || host.replies[0] != want {
		t.Fatalf("unexpected replies %q", host.replies)
	}
	if host.done != 1 {
		t.Fatalf("expected thread to be marked done once, got %d", host.done)
	}
}

func TestRunAcceptsNumericAmountAndStructuredRequestID(t *testing.T) {
	content := `{"event":"run_agent","request_id":[1,2,3],"message":"{\"token_in\":\"a\",\"token_out\":\"b\",\"amount_in\":100}"}`
	host := &stubHost{event: quoteEvent(content)}
	chain := &stubChain{balances: []any{"1000", "2000"}}

	result, err := New(chain, testConfig(), testAccount).Run(context.Background(), host)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Quote.AmountOut.Int64() != 182 {
		t.Fatalf("unexpected amount out %s", result.Quote.AmountOut)
	}
	id, ok := chain.mutates[0].args["data_id"].([]any)
	if !ok || len(id) != 3 {
		t.Fatalf("request id should be passed through, got %#v", chain.mutates[0].args["data_id"])
	}
}

func TestRunRejectsIllegalRequests(t *testing.T) {
	cases := map[string]hostenv.Event{
		"unauthorized sender": {Sender: "mallory.near", Content: scenarioA},
		"other event":         quoteEvent(`{"event":"other_event","request_id":"0x01","message":"{}"}`),
		"missing message":     quoteEvent(`{"event":"run_agent","request_id":"0x01"}`),
		"null message":        quoteEvent(`{"event":"run_agent","request_id":"0x01","message":null}`),
		"empty object":        quoteEvent(`{}`),
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			host := &stubHost{event: ev}
			chain := &stubChain{balances: []any{"1000", "2000"}}

			result, err := New(chain, testConfig(), testAccount).Run(context.Background(), host)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Outcome != OutcomeIllegalRequest {
				t.Fatalf("unexpected outcome %s", result.Outcome)
			}
			if len(host.replies) != 1 || host.replies[0] != ReplyIllegalRequest {
				t.Fatalf("unexpected replies %q", host.replies)
			}
			if len(chain.views) != 0 || len(chain.mutates) != 0 {
				t.Fatalf("no contract calls expected")
			}
			if host.done != 1 {
				t.Fatalf("expected thread to be marked done")
			}
		})
	}
}

func TestRunWithoutCredentials(t *testing.T) {
	host := &stubHost{event: quoteEvent(scenarioA)}
	chain := &stubChain{}

	result, err := New(chain, testConfig(), web3.Account{ID: "only-id"}).Run(context.Background(), host)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeNotInitialized {
		t.Fatalf("unexpected outcome %s", result.Outcome)
	}
	if len(host.replies) != 1 || host.replies[0] != ReplyNotInitialized {
		t.Fatalf("unexpected replies %q", host.replies)
	}
	if host.received != 0 {
		t.Fatalf("event must not be read without credentials")
	}
	if len(chain.views) != 0 || len(chain.mutates) != 0 {
		t.Fatalf("no contract calls expected")
	}

	// A nil chain client is fine when credentials are absent.
	host = &stubHost{}
	if _, err := New(nil, testConfig(), web3.Account{}).Run(context.Background(), host); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunRejectsIllegalAmounts(t *testing.T) {
	cases := map[string]struct {
		amount   string
		balances []any
		views    int
	}{
		"zero":             {amount: `\"0\"`, balances: []any{"1000", "2000"}},
		"negative":         {amount: `-5`, balances: []any{"1000", "2000"}},
		"drains pool side": {amount: `\"5\"`, balances: []any{"-10", "2000"}, views: 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			content := `{"event":"run_agent","request_id":"r","message":"{\"token_in\":\"a\",\"token_out\":\"b\",\"amount_in\":` + tc.amount + `}"}`
			host := &stubHost{event: quoteEvent(content)}
			chain := &stubChain{balances: tc.balances}

			result, err := New(chain, testConfig(), testAccount).Run(context.Background(), host)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Outcome != OutcomeIllegalAmount {
				t.Fatalf("unexpected outcome %s", result.Outcome)
			}
			if len(host.replies) != 1 || host.replies[0] != ReplyIllegalAmount {
				t.Fatalf("unexpected replies %q", host.replies)
			}
			if len(chain.views) != tc.views || len(chain.mutates) != 0 {
				t.Fatalf("expected %d view call(s) and no mutating call, got %d/%d", tc.views, len(chain.views), len(chain.mutates))
			}
			if host.done != 1 {
				t.Fatalf("expected thread to be marked done once, got %d", host.done)
			}
		})
	}
}

func TestRunEmptyPoolQuotesZero(t *testing.T) {
	content := `{"event":"run_agent","request_id":"r","message":"{\"token_in\":\"a\",\"token_out\":\"b\",\"amount_in\":\"5\"}"}`
	host := &stubHost{event: quoteEvent(content)}
	chain := &stubChain{balances: []any{"0", "0"}}

	result, err := New(chain, testConfig(), testAccount).Run(context.Background(), host)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeSubmitted || chain.mutates[0].args["amount_out"] != "0" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunParseFailures(t *testing.T) {
	cases := map[string]string{
		"malformed envelope":   `{"event":`,
		"message not a string": `{"event":"run_agent","request_id":"r","message":{"token_in":"a"}}`,
		"malformed inner json": `{"event":"run_agent","request_id":"r","message":"{oops"}`,
		"fractional amount":    `{"event":"run_agent","request_id":"r","message":"{\"token_in\":\"a\",\"token_out\":\"b\",\"amount_in\":1.5}"}`,
		"missing amount":       `{"event":"run_agent","request_id":"r","message":"{\"token_in\":\"a\",\"token_out\":\"b\"}"}`,
		"missing token":        `{"event":"run_agent","request_id":"r","message":"{\"token_in\":\"a\",\"amount_in\":\"1\"}"}`,
		"missing request id":   `{"event":"run_agent","message":"{\"token_in\":\"a\",\"token_out\":\"b\",\"amount_in\":\"1\"}"}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			host := &stubHost{event: quoteEvent(content)}
			chain := &stubChain{balances: []any{"1000", "2000"}}

			_, err := New(chain, testConfig(), testAccount).Run(context.Background(), host)
			if xerrors.CodeOf(err) != xerrors.CodeParseFailure {
				t.Fatalf("expected parse failure, got %v", err)
			}
			if len(host.replies) != 0 || host.done != 0 {
				t.Fatalf("abrupt termination expected, replies=%q done=%d", host.replies, host.done)
			}
			if len(chain.views) != 0 {
				t.Fatalf("no contract calls expected")
			}
		})
	}
}

func TestRunChainFailures(t *testing.T) {
	host := &stubHost{event: quoteEvent(scenarioA)}
	chain := &stubChain{viewErr: errors.New("Pool not found")}

	_, err := New(chain, testConfig(), testAccount).Run(context.Background(), host)
	if xerrors.CodeOf(err) != xerrors.CodeChainCallFailure {
		t.Fatalf("expected chain failure, got %v", err)
	}
	if len(host.replies) != 0 || host.done != 0 {
		t.Fatalf("abrupt termination expected")
	}

	host = &stubHost{event: quoteEvent(scenarioA)}
	chain = &stubChain{balances: []any{"1000"}}
	_, err = New(chain, testConfig(), testAccount).Run(context.Background(), host)
	if xerrors.CodeOf(err) != xerrors.CodeChainCallFailure {
		t.Fatalf("expected chain failure for short result, got %v", err)
	}

	host = &stubHost{event: quoteEvent(scenarioA)}
	chain = &stubChain{balances: []any{"1000", "2000"}, mutateErr: errors.New("nonce too low")}
	_, err = New(chain, testConfig(), testAccount).Run(context.Background(), host)
	if xerrors.CodeOf(err) != xerrors.CodeChainCallFailure {
		t.Fatalf("expected chain failure, got %v", err)
	}
	if host.done != 0 {
		t.Fatalf("thread must not be marked done after failure")
	}
	coded, _ := xerrors.From(err)
	if md := coded.Metadata(); md["method"] != "agent_response" || md["contract"] != testConfig().ContractID {
		t.Fatalf("unexpected metadata %v", md)
	}
}

func TestRunViewTimeout(t *testing.T) {
	host := &stubHost{event: quoteEvent(scenarioA)}
	chain := &stubChain{balances: []any{"1000", "2000"}, viewWait: time.Second}
	cfg := testConfig()
	cfg.ViewTimeout = 10 * time.Millisecond

	_, err := New(chain, cfg, testAccount).Run(context.Background(), host)
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded in chain, got %v", err)
	}
}

func TestRunFailureReply(t *testing.T) {
	host := &stubHost{event: quoteEvent(`not json`)}
	cfg := testConfig()
	cfg.FailureReply = true

	_, err := New(&stubChain{}, cfg, testAccount).Run(context.Background(), host)
	if xerrors.CodeOf(err) != xerrors.CodeParseFailure {
		t.Fatalf("expected parse failure, got %v", err)
	}
	if len(host.replies) != 1 || host.replies[0] != ReplyFailure {
		t.Fatalf("expected failure reply, got %q", host.replies)
	}
	if host.done != 0 {
		t.Fatalf("thread must not be marked done after failure")
	}
}

func TestRunHostFailures(t *testing.T) {
	noEvent := xerrors.New(xerrors.CodeNoEvent, "empty inbox")
	host := &stubHost{receiveErr: noEvent}
	_, err := New(&stubChain{}, testConfig(), testAccount).Run(context.Background(), host)
	if xerrors.CodeOf(err) != xerrors.CodeNoEvent {
		t.Fatalf("expected no-event code to be kept, got %v", err)
	}

	host = &stubHost{event: quoteEvent(`{}`), replyErr: errors.New("broken pipe")}
	_, err = New(&stubChain{}, testConfig(), testAccount).Run(context.Background(), host)
	if xerrors.CodeOf(err) != xerrors.CodeHostFailure {
		t.Fatalf("expected host failure, got %v", err)
	}
}
