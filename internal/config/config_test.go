package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ammagent.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"agent": {"contract_id": "0x00000000000000000000000000000000000000aa"},
		"web3": {"chain_config": "chain.yaml"},
		"host": {"file": {"thread_path": "thread.json", "reply_path": "-"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	baseDir := filepath.Dir(path)
	if cfg.Agent.AuthorizedSender != DefaultAuthorizedSender {
		t.Fatalf("unexpected authorized sender %q", cfg.Agent.AuthorizedSender)
	}
	if cfg.Agent.AccountIDVar != "master_account_id" || cfg.Agent.PrivateKeyVar != "master_private_key" {
		t.Fatalf("unexpected credential vars: %+v", cfg.Agent)
	}
	if cfg.Agent.ViewTimeout() != 30*time.Second || cfg.Agent.SubmitTimeout() != time.Minute {
		t.Fatalf("unexpected timeouts: %v %v", cfg.Agent.ViewTimeout(), cfg.Agent.SubmitTimeout())
	}
	if cfg.Host.Driver != "file" {
		t.Fatalf("unexpected host driver %q", cfg.Host.Driver)
	}
	if cfg.Web3.ChainConfig != filepath.Join(baseDir, "chain.yaml") {
		t.Fatalf("chain config not resolved: %s", cfg.Web3.ChainConfig)
	}
	if cfg.Host.File.ThreadPath != filepath.Join(baseDir, "thread.json") {
		t.Fatalf("thread path not resolved: %s", cfg.Host.File.ThreadPath)
	}
	if cfg.Host.File.ReplyPath != "-" {
		t.Fatalf("stdout marker should be kept, got %s", cfg.Host.File.ReplyPath)
	}
	if cfg.Host.Redis.KeyPrefix != "ammagent" || cfg.Host.RabbitMQ.Queue != "ammagent.events" {
		t.Fatalf("unexpected transport defaults: %+v", cfg.Host)
	}
	if cfg.Host.SQL.Driver != "sqlite3" {
		t.Fatalf("unexpected sql driver %q", cfg.Host.SQL.Driver)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"missing contract": `{"host": {"driver": "file"}}`,
		"unknown driver":   `{"agent": {"contract_id": "0x1"}, "host": {"driver": "kafka"}}`,
		"malformed json":   `{"agent": `,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "路径为空") {
		t.Fatalf("expected empty path error, got %v", err)
	}
}
