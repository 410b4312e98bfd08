package hostenv

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"AMM-Agent/internal/config"
	xerrors "AMM-Agent/internal/errors"
)

type threadFile struct {
	SignerAccountID string            `json:"signer_account_id"`
	EnvVars         map[string]string `json:"env_vars"`
	Messages        []threadMessage   `json:"messages"`
}

type threadMessage struct {
	ID        string `json:"id,omitempty"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// FileHost 从本地 JSON 线程文件读取事件，回复以 JSON 行写出。
type FileHost struct {
	cfg    config.FileHostConfig
	thread threadFile

	mu      sync.Mutex
	out     io.Writer
	closer  io.Closer
	eventID string
	now     func() time.Time
}

// NewFileHost 加载线程文件并打开回复输出。
func NewFileHost(cfg config.FileHostConfig) (*FileHost, error) {
	if strings.TrimSpace(cfg.ThreadPath) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "host.file.thread_path 不能为空")
	}
	content, err := os.ReadFile(cfg.ThreadPath)
	if err != nil {
		return nil, hostFailure(err, "读取线程文件失败")
	}
	var thread threadFile
	if err := json.Unmarshal(content, &thread); err != nil {
		return nil, hostFailure(err, "解析线程文件失败")
	}

	host := &FileHost{cfg: cfg, thread: thread, out: os.Stdout, now: time.Now}
	if path := strings.TrimSpace(cfg.ReplyPath); path != "" && path != "-" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, hostFailure(err, "打开回复文件失败")
		}
		host.out = file
		host.closer = file
	}
	return host, nil
}

// ReceiveEvent 返回线程中最后一条 user 消息。
func (h *FileHost) ReceiveEvent(_ context.Context) (Event, error) {
	for i := len(h.thread.Messages) - 1; i >= 0; i-- {
		msg := h.thread.Messages[i]
		if msg.Role != "user" {
			continue
		}
		id := msg.ID
		if id == "" {
			id = fmt.Sprintf("msg-%d", i)
		}
		h.mu.Lock()
		h.eventID = id
		h.mu.Unlock()
		return Event{ID: id, Sender: h.thread.SignerAccountID, Content: msg.Content, ReceivedAt: msg.CreatedAt}, nil
	}
	return Event{}, noEvent(h.cfg.ThreadPath)
}

// Reply 追加一行回复。
func (h *FileHost) Reply(_ context.Context, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	encoded, err := json.Marshal(replyRecord{
		InReplyTo: h.eventID,
		Role:      "assistant",
		Content:   text,
		CreatedAt: h.now().UnixNano(),
	})
	if err != nil {
		return hostFailure(err, "序列化回复失败")
	}
	if _, err := h.out.Write(append(encoded, '\n')); err != nil {
		return hostFailure(err, "写入回复失败")
	}
	return nil
}

// MarkDone 创建完成标记文件，未配置时为空操作。
func (h *FileHost) MarkDone(_ context.Context) error {
	path := strings.TrimSpace(h.cfg.DonePath)
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte("done\n"), 0o644); err != nil {
		return hostFailure(err, "写入完成标记失败")
	}
	return nil
}

// EnvVars 返回线程内的环境变量，env_path 中的值优先。
func (h *FileHost) EnvVars(_ context.Context) (map[string]string, error) {
	override, err := loadEnvFile(h.cfg.EnvPath)
	if err != nil {
		return nil, hostFailure(err, "加载环境变量失败")
	}
	return mergeEnv(h.thread.EnvVars, override), nil
}

// Close 关闭回复文件。
func (h *FileHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closer == nil {
		return nil
	}
	err := h.closer.Close()
	h.closer = nil
	return err
}
