package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"AMM-Agent/internal/config"
	xerrors "AMM-Agent/internal/errors"
	"AMM-Agent/internal/hostenv"
	"AMM-Agent/pkg/logger"

	"github.com/google/uuid"
)

const usage = `用法:
  ammctl enqueue -token-in ADDR -token-out ADDR -amount-in N [-request-id ID] [-sender ACCOUNT]
  ammctl setenv NAME=VALUE [NAME=VALUE ...]

配置路径取自 AMM_AGENT_CONFIG 或 -config，驱动与 ammagent 相同。
`

// main 是宿主投递端的运维入口：投递报价事件或写入智能体的环境变量。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout)
	if err != nil {
		logger.L().Error("ammctl 运行失败", xerrors.LogAttrs(err)...)
	}
	_ = logger.Sync()
	if err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return xerrors.New(xerrors.CodeInvalidArgument, "缺少子命令")
	}

	switch args[0] {
	case "enqueue":
		return runEnqueue(ctx, args[1:], out)
	case "setenv":
		return runSetEnv(ctx, args[1:], out)
	default:
		fmt.Fprint(out, usage)
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的子命令: %s", args[0]))
	}
}

func runEnqueue(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", defaultConfigPath(), "配置文件路径")
	tokenIn := fs.String("token-in", "", "输入代币地址")
	tokenOut := fs.String("token-out", "", "输出代币地址")
	amountIn := fs.String("amount-in", "", "输入数量（十进制整数）")
	requestID := fs.String("request-id", "", "回写合约的 request_id，缺省时生成 bytes32")
	sender := fs.String("sender", config.DefaultAuthorizedSender, "事件发送者")
	event := fs.String("event", "run_agent", "事件名")
	if err := fs.Parse(args); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析参数失败")
	}

	id := *requestID
	if id == "" {
		id = newRequestID()
	}
	content, err := quoteEnvelope(*event, id, *tokenIn, *tokenOut, *amountIn)
	if err != nil {
		return err
	}

	producer, err := openProducer(ctx, *configPath)
	if err != nil {
		return err
	}
	defer producer.Close()

	ev := hostenv.Event{ID: uuid.NewString(), Sender: *sender, Content: content}
	if err := producer.Publish(ctx, ev); err != nil {
		return err
	}
	logger.Audit().Info("已投递报价事件", "event_id", ev.ID, "request_id", id, "sender", ev.Sender)
	fmt.Fprintf(out, "%s %s\n", ev.ID, id)
	return nil
}

func runSetEnv(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("setenv", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", defaultConfigPath(), "配置文件路径")
	if err := fs.Parse(args); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析参数失败")
	}
	pairs, err := parseAssignments(fs.Args())
	if err != nil {
		return err
	}

	producer, err := openProducer(ctx, *configPath)
	if err != nil {
		return err
	}
	defer producer.Close()

	for _, kv := range pairs {
		if err := producer.SetEnv(ctx, kv[0], kv[1]); err != nil {
			return err
		}
		// 只记录变量名，值可能是私钥。
		logger.Audit().Info("已写入环境变量", "name", kv[0])
		fmt.Fprintln(out, kv[0])
	}
	return nil
}

func defaultConfigPath() string {
	if path := os.Getenv("AMM_AGENT_CONFIG"); path != "" {
		return path
	}
	return filepath.Join("configs", "ammagent.json")
}

func openProducer(ctx context.Context, path string) (hostenv.Producer, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载配置失败")
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化日志失败")
	}
	return hostenv.OpenProducer(ctx, cfg.Host)
}

// quoteEnvelope 生成 ammagent 接受的事件内容，message 为字符串形式的内层 JSON。
func quoteEnvelope(event, requestID, tokenIn, tokenOut, amountIn string) (string, error) {
	if strings.TrimSpace(tokenIn) == "" || strings.TrimSpace(tokenOut) == "" || strings.TrimSpace(amountIn) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "token-in、token-out 与 amount-in 均不能为空")
	}
	inner, err := json.Marshal(map[string]string{
		"token_in":  tokenIn,
		"token_out": tokenOut,
		"amount_in": amountIn,
	})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "序列化报价请求失败")
	}
	envelope, err := json.Marshal(map[string]string{
		"event":      event,
		"request_id": requestID,
		"message":    string(inner),
	})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "序列化事件失败")
	}
	return string(envelope), nil
}

func newRequestID() string {
	a, b := uuid.New(), uuid.New()
	return fmt.Sprintf("0x%x%x", a[:], b[:])
}

func parseAssignments(args []string) ([][2]string, error) {
	if len(args) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "至少需要一个 NAME=VALUE")
	}
	pairs := make([][2]string, 0, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("无效的赋值: %q", arg))
		}
		pairs = append(pairs, [2]string{name, value})
	}
	return pairs, nil
}
