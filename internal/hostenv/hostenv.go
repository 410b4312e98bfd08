package hostenv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"AMM-Agent/internal/config"
	xerrors "AMM-Agent/internal/errors"
	"AMM-Agent/pkg/logger"
)

// Event 是宿主交付给智能体的一条入站消息。
type Event struct {
	ID      string
	Sender  string
	Content string
	// ReceivedAt 为纳秒时间戳，未知时为 0。
	ReceivedAt int64
}

// Host 抽象智能体所在的运行时：读取事件、回复、结束线程与读取环境变量。
type Host interface {
	ReceiveEvent(ctx context.Context) (Event, error)
	Reply(ctx context.Context, text string) error
	MarkDone(ctx context.Context) error
	EnvVars(ctx context.Context) (map[string]string, error)
	Close() error
}

const (
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
	DriverSQL      = "sql"
)

// Open 根据配置创建宿主实现。
func Open(ctx context.Context, cfg config.HostConfig) (Host, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	logger.Named("hostenv").Debug("打开宿主运行时", "driver", driver)

	var (
		host Host
		err  error
	)
	switch driver {
	case DriverFile, "":
		host, err = asHost(NewFileHost(cfg.File))
	case DriverRedis:
		host, err = asHost(NewRedisHost(ctx, cfg.Redis))
	case DriverRabbitMQ:
		host, err = asHost(NewRabbitMQHost(cfg.RabbitMQ))
	case DriverSQL:
		host, err = asHost(NewSQLHost(ctx, cfg.SQL))
	default:
		err = xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的宿主驱动: %s", cfg.Driver))
	}
	if err != nil {
		return nil, err
	}
	return host, nil
}

// asHost 避免把带类型的 nil 指针装进接口。
func asHost[H Host](h H, err error) (Host, error) {
	if err != nil {
		return nil, err
	}
	return h, nil
}

// wireEvent 是队列类宿主中事件的 JSON 表示。
type wireEvent struct {
	ID         string `json:"id"`
	Sender     string `json:"sender"`
	Content    string `json:"content"`
	ReceivedAt int64  `json:"received_at,omitempty"`
}

// EncodeEvent 序列化事件，即 redis 与 rabbitmq 中的投递格式。
func EncodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(wireEvent{ID: ev.ID, Sender: ev.Sender, Content: ev.Content, ReceivedAt: ev.ReceivedAt})
}

func decodeEvent(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeHostFailure, err, "解析宿主事件失败")
	}
	return Event{ID: w.ID, Sender: w.Sender, Content: w.Content, ReceivedAt: w.ReceivedAt}, nil
}

// replyRecord 是写回宿主的回复格式。
type replyRecord struct {
	InReplyTo string `json:"in_reply_to,omitempty"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

func noEvent(source string) error {
	return xerrors.New(xerrors.CodeNoEvent, fmt.Sprintf("%s 中没有待处理的事件", source))
}

func hostFailure(err error, message string) error {
	return xerrors.Wrap(xerrors.CodeHostFailure, err, message)
}
