package hostenv

import (
	"context"
	"errors"
	"strings"
	"time"

	"AMM-Agent/internal/config"
	xerrors "AMM-Agent/internal/errors"
	"AMM-Agent/internal/storage/sqlstore"
)

type threadStore interface {
	Thread(ctx context.Context, id string) (sqlstore.Thread, error)
	LastMessage(ctx context.Context, threadID, role string) (sqlstore.Message, error)
	AppendMessage(ctx context.Context, threadID, role, content string) (sqlstore.Message, error)
	MarkThreadStatus(ctx context.Context, threadID, status string) error
	EnvVars(ctx context.Context, agentName string) (map[string]string, error)
	CreateThread(ctx context.Context, thread sqlstore.Thread) error
	SetEnvVar(ctx context.Context, agentName, name, value string) error
	Close() error
}

// SQLHost 以数据库中的线程作为宿主。
type SQLHost struct {
	store     threadStore
	threadID  string
	agentName string
}

// NewSQLHost 打开线程存储并绑定到配置的线程。
func NewSQLHost(ctx context.Context, cfg config.SQLConfig) (*SQLHost, error) {
	if strings.TrimSpace(cfg.ThreadID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "host.sql.thread_id 不能为空")
	}
	store, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开线程存储失败")
	}
	return newSQLHost(store, cfg), nil
}

func newSQLHost(store threadStore, cfg config.SQLConfig) *SQLHost {
	agentName := cfg.AgentName
	if agentName == "" {
		agentName = "ammagent"
	}
	return &SQLHost{store: store, threadID: cfg.ThreadID, agentName: agentName}
}

// ReceiveEvent 返回线程最新的 user 消息，发送者为线程的签名账户。
func (h *SQLHost) ReceiveEvent(ctx context.Context) (Event, error) {
	thread, err := h.store.Thread(ctx, h.threadID)
	if err != nil {
		if errors.Is(err, sqlstore.ErrNotFound) {
			return Event{}, noEvent("线程 " + h.threadID)
		}
		return Event{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取线程失败")
	}
	msg, err := h.store.LastMessage(ctx, h.threadID, "user")
	if err != nil {
		if errors.Is(err, sqlstore.ErrNotFound) {
			return Event{}, noEvent("线程 " + h.threadID)
		}
		return Event{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取消息失败")
	}
	return Event{ID: msg.ID, Sender: thread.SignerAccountID, Content: msg.Content, ReceivedAt: msg.CreatedAt}, nil
}

// Reply 以 assistant 角色追加消息。
func (h *SQLHost) Reply(ctx context.Context, text string) error {
	if _, err := h.store.AppendMessage(ctx, h.threadID, "assistant", text); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入回复失败")
	}
	return nil
}

// MarkDone 将线程状态置为 done。
func (h *SQLHost) MarkDone(ctx context.Context) error {
	if err := h.store.MarkThreadStatus(ctx, h.threadID, "done"); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新线程状态失败")
	}
	return nil
}

// EnvVars 读取 agent_env_vars 中属于本智能体的变量。
func (h *SQLHost) EnvVars(ctx context.Context) (map[string]string, error) {
	vars, err := h.store.EnvVars(ctx, h.agentName)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取环境变量失败")
	}
	return vars, nil
}

// Close 关闭线程存储。
func (h *SQLHost) Close() error {
	return h.store.Close()
}
