package hostenv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"AMM-Agent/internal/config"
	xerrors "AMM-Agent/internal/errors"
	"AMM-Agent/internal/storage/sqlstore"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Producer 是宿主的投递端：把事件与环境变量放进智能体将要读取的位置。
type Producer interface {
	Publish(ctx context.Context, ev Event) error
	SetEnv(ctx context.Context, name, value string) error
	Close() error
}

// OpenProducer 根据配置打开与 Open 相同驱动的投递端。
func OpenProducer(ctx context.Context, cfg config.HostConfig) (Producer, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == DriverFile || driver == "" {
		if err := ensureThreadFile(cfg.File.ThreadPath); err != nil {
			return nil, err
		}
	}
	host, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	producer, ok := host.(Producer)
	if !ok {
		host.Close()
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("宿主驱动 %s 不支持投递", cfg.Driver))
	}
	return producer, nil
}

func ensureThreadFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil || !errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		return hostFailure(err, "创建线程文件失败")
	}
	return nil
}

// Publish 在线程文件末尾追加一条 user 消息，发送者写入 signer_account_id。
func (h *FileHost) Publish(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.Sender != "" {
		h.thread.SignerAccountID = ev.Sender
	}
	createdAt := ev.ReceivedAt
	if createdAt == 0 {
		createdAt = h.now().UnixNano()
	}
	h.thread.Messages = append(h.thread.Messages, threadMessage{
		ID:        ev.ID,
		Role:      "user",
		Content:   ev.Content,
		CreatedAt: createdAt,
	})
	return h.saveThread()
}

// SetEnv 写入线程文件内的环境变量。
func (h *FileHost) SetEnv(_ context.Context, name, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.thread.EnvVars == nil {
		h.thread.EnvVars = make(map[string]string)
	}
	h.thread.EnvVars[name] = value
	return h.saveThread()
}

func (h *FileHost) saveThread() error {
	encoded, err := json.MarshalIndent(h.thread, "", "  ")
	if err != nil {
		return hostFailure(err, "序列化线程文件失败")
	}
	if err := os.WriteFile(h.cfg.ThreadPath, append(encoded, '\n'), 0o644); err != nil {
		return hostFailure(err, "写入线程文件失败")
	}
	return nil
}

// Publish 将事件压入 inbox，BRPOP 端按先进先出取出。
func (h *RedisHost) Publish(ctx context.Context, ev Event) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return hostFailure(err, "序列化事件失败")
	}
	if err := h.client.LPush(ctx, h.key("inbox"), payload).Err(); err != nil {
		return hostFailure(err, "Redis 投递事件失败")
	}
	return nil
}

// SetEnv 写入 env hash。
func (h *RedisHost) SetEnv(ctx context.Context, name, value string) error {
	if err := h.client.HSet(ctx, h.key("env"), name, value).Err(); err != nil {
		return hostFailure(err, "Redis 写入环境变量失败")
	}
	return nil
}

// Publish 将事件发布到事件队列，回复地址取 reply_queue。
func (h *RabbitMQHost) Publish(ctx context.Context, ev Event) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return hostFailure(err, "序列化事件失败")
	}
	messageID := ev.ID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	err = h.ch.PublishWithContext(ctx, "", h.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     messageID,
		CorrelationId: messageID,
		ReplyTo:       h.replyQueue,
		Timestamp:     time.Now(),
		Body:          payload,
	})
	if err != nil {
		return hostFailure(err, fmt.Sprintf("发布事件到 %s 失败", h.queue))
	}
	return nil
}

// SetEnv 不受支持：RabbitMQ 宿主的环境变量来自 env_path 或进程环境。
func (h *RabbitMQHost) SetEnv(context.Context, string, string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ 宿主不支持写入环境变量，请编辑 env_path")
}

// Publish 向绑定的线程追加一条 user 消息，线程不存在时以发送者为签名账户创建。
func (h *SQLHost) Publish(ctx context.Context, ev Event) error {
	if _, err := h.store.Thread(ctx, h.threadID); err != nil {
		if !errors.Is(err, sqlstore.ErrNotFound) {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取线程失败")
		}
		if err := h.store.CreateThread(ctx, sqlstore.Thread{ID: h.threadID, SignerAccountID: ev.Sender}); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建线程失败")
		}
	}
	if _, err := h.store.AppendMessage(ctx, h.threadID, "user", ev.Content); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入事件失败")
	}
	return nil
}

// SetEnv 写入 agent_env_vars。
func (h *SQLHost) SetEnv(ctx context.Context, name, value string) error {
	if err := h.store.SetEnvVar(ctx, h.agentName, name, value); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入环境变量失败")
	}
	return nil
}

var (
	_ Producer = (*FileHost)(nil)
	_ Producer = (*RedisHost)(nil)
	_ Producer = (*RabbitMQHost)(nil)
	_ Producer = (*SQLHost)(nil)
)
