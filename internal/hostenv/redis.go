package hostenv

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"AMM-Agent/internal/config"
	xerrors "AMM-Agent/internal/errors"

	"github.com/redis/go-redis/v9"
)

// RedisHost 使用 Redis list 与 hash 承载线程。
type RedisHost struct {
	client *redis.Client
	prefix string
	wait   time.Duration

	mu      sync.Mutex
	eventID string
}

// NewRedisHost 创建 Redis 宿主实例。
func NewRedisHost(ctx context.Context, cfg config.RedisConfig) (*RedisHost, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ammagent"
	}
	wait := time.Duration(cfg.BlockWaitSeconds) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, hostFailure(err, "连接 Redis 失败")
	}
	return &RedisHost{client: client, prefix: prefix, wait: wait}, nil
}

func (h *RedisHost) key(suffix string) string {
	return h.prefix + ":" + suffix
}

// ReceiveEvent 通过 BRPOP 从 inbox 取出一条事件。
func (h *RedisHost) ReceiveEvent(ctx context.Context) (Event, error) {
	values, err := h.client.BRPop(ctx, h.wait, h.key("inbox")).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Event{}, noEvent(h.key("inbox"))
		}
		return Event{}, hostFailure(err, "Redis 取事件失败")
	}
	if len(values) != 2 {
		return Event{}, noEvent(h.key("inbox"))
	}
	ev, err := decodeEvent([]byte(values[1]))
	if err != nil {
		return Event{}, err
	}
	h.mu.Lock()
	h.eventID = ev.ID
	h.mu.Unlock()
	return ev, nil
}

// Reply 将回复推入 replies 列表。
func (h *RedisHost) Reply(ctx context.Context, text string) error {
	h.mu.Lock()
	eventID := h.eventID
	h.mu.Unlock()

	encoded, err := json.Marshal(replyRecord{
		InReplyTo: eventID,
		Role:      "assistant",
		Content:   text,
		CreatedAt: time.Now().UnixNano(),
	})
	if err != nil {
		return hostFailure(err, "序列化回复失败")
	}
	if err := h.client.LPush(ctx, h.key("replies"), encoded).Err(); err != nil {
		return hostFailure(err, "Redis 写入回复失败")
	}
	return nil
}

// MarkDone 将线程状态置为 done。
func (h *RedisHost) MarkDone(ctx context.Context) error {
	if err := h.client.Set(ctx, h.key("status"), "done", 0).Err(); err != nil {
		return hostFailure(err, "Redis 更新状态失败")
	}
	return nil
}

// EnvVars 读取 env hash。
func (h *RedisHost) EnvVars(ctx context.Context) (map[string]string, error) {
	vars, err := h.client.HGetAll(ctx, h.key("env")).Result()
	if err != nil {
		return nil, hostFailure(err, "Redis 读取环境变量失败")
	}
	return vars, nil
}

// Close 关闭 Redis 连接。
func (h *RedisHost) Close() error {
	if h == nil || h.client == nil {
		return nil
	}
	return h.client.Close()
}
