package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"AMM-Agent/internal/agent"
	"AMM-Agent/internal/config"
	xerrors "AMM-Agent/internal/errors"
	"AMM-Agent/internal/hostenv"
	"AMM-Agent/internal/web3"
	"AMM-Agent/internal/web3/provider"
	"AMM-Agent/pkg/logger"
)

// main 是 AMM 报价智能体的入口，每次运行处理一个事件。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		logger.L().Error("ammagent 运行失败", xerrors.LogAttrs(err)...)
	}
	_ = logger.Sync()
	if err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AMM_AGENT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "ammagent.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载配置失败")
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
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化日志失败")
	}

	host, err := hostenv.Open(ctx, cfg.Host)
	if err != nil {
		return err
	}
	defer host.Close()

	vars, err := host.EnvVars(ctx)
	if err != nil {
		return err
	}
	account := web3.Account{
		ID:         vars[cfg.Agent.AccountIDVar],
		PrivateKey: vars[cfg.Agent.PrivateKeyVar],
	}

	// 凭据缺失时不连接链节点，智能体只回复未初始化。
	var chain web3.ContractClient
	explorer := cfg.Agent.ExplorerTxURL
	if account.Present() {
		registry, err := provider.NewRegistry(ctx, cfg.Web3, cfg.Agent)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化链客户端失败")
		}
		defer registry.Close()

		chain, err = registry.DefaultClient()
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "获取默认链失败")
		}
		explorer = registry.DefaultExplorer()
		logger.L().Info("链客户端已就绪", "chains", registry.Chains())
	}

	ag := agent.New(chain, agent.ConfigFrom(cfg.Agent, explorer), account)
	result, err := ag.Run(ctx, host)
	if err != nil {
		return err
	}

	attrs := []any{"outcome", result.Outcome, "driver", cfg.Host.Driver}
	if result.Receipt != nil {
		attrs = append(attrs, "tx_hash", result.Receipt.Hash)
	}
	logger.L().Info("ammagent 运行结束", attrs...)
	return nil
}
