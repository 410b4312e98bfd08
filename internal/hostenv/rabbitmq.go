package hostenv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"AMM-Agent/internal/config"
	xerrors "AMM-Agent/internal/errors"
	"AMM-Agent/pkg/logger"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpChannel 是 RabbitMQHost 用到的 *amqp.Channel 方法子集。
type amqpChannel interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQHost 从队列中消费一条事件，回复发往 ReplyTo，完成后 ack。
type RabbitMQHost struct {
	conn       *amqp.Connection
	ch         amqpChannel
	queue      string
	replyQueue string
	wait       time.Duration
	envPath    string

	mu       sync.Mutex
	received bool
	delivery *amqp.Delivery
}

// NewRabbitMQHost 连接 RabbitMQ 并声明事件队列。
func NewRabbitMQHost(cfg config.RabbitMQConfig) (*RabbitMQHost, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "ammagent.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, hostFailure(err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, hostFailure(err, "创建 RabbitMQ channel 失败")
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, hostFailure(err, "设置 RabbitMQ QOS 失败")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, hostFailure(err, "声明 RabbitMQ 队列失败")
	}
	host := newRabbitMQHost(ch, cfg)
	host.conn = conn
	host.queue = queue
	return host, nil
}

func newRabbitMQHost(ch amqpChannel, cfg config.RabbitMQConfig) *RabbitMQHost {
	wait := time.Duration(cfg.WaitSeconds) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RabbitMQHost{
		ch:         ch,
		queue:      cfg.Queue,
		replyQueue: cfg.ReplyQueue,
		wait:       wait,
		envPath:    cfg.EnvPath,
	}
}

// ReceiveEvent 在等待窗口内取一条投递，之后取消订阅。
func (h *RabbitMQHost) ReceiveEvent(ctx context.Context) (Event, error) {
	h.mu.Lock()
	h.received = true
	h.mu.Unlock()

	tag := "ammagent-" + uuid.NewString()
	msgs, err := h.ch.Consume(h.queue, tag, false, false, false, false, nil)
	if err != nil {
		return Event{}, hostFailure(err, "订阅 RabbitMQ 队列失败")
	}
	defer h.ch.Cancel(tag, false)

	timer := time.NewTimer(h.wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-timer.C:
		return Event{}, noEvent(h.queue)
	case d, ok := <-msgs:
		if !ok {
			return Event{}, hostFailure(errors.New("投递通道已关闭"), "RabbitMQ 取事件失败")
		}
		ev, err := decodeEvent(d.Body)
		if err != nil {
			// 无法解析的消息不应反复投递。
			_ = d.Reject(false)
			return Event{}, err
		}
		if ev.ID == "" {
			ev.ID = d.MessageId
		}
		if ev.ReceivedAt == 0 && !d.Timestamp.IsZero() {
			ev.ReceivedAt = d.Timestamp.UnixNano()
		}
		h.mu.Lock()
		h.delivery = &d
		h.mu.Unlock()
		return ev, nil
	}
}

// Reply 将回复发布到投递的 ReplyTo，缺省时使用 reply_queue。
// 尚未取事件时先绑定一条投递，使回复与确认有所归属。
func (h *RabbitMQHost) Reply(ctx context.Context, text string) error {
	d := h.bind(ctx)

	target := h.replyQueue
	correlationID := ""
	if d != nil {
		if d.ReplyTo != "" {
			target = d.ReplyTo
		}
		correlationID = d.CorrelationId
	}
	if target == "" {
		return xerrors.New(xerrors.CodeHostFailure, "没有可用的回复队列")
	}
	err := h.ch.PublishWithContext(ctx, "", target, false, false, amqp.Publishing{
		ContentType:   "text/plain",
		CorrelationId: correlationID,
		MessageId:     uuid.NewString(),
		Timestamp:     time.Now(),
		Body:          []byte(text),
	})
	if err != nil {
		return hostFailure(err, fmt.Sprintf("发布回复到 %s 失败", target))
	}
	return nil
}

// MarkDone 确认当前投递。
func (h *RabbitMQHost) MarkDone(ctx context.Context) error {
	h.bind(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.delivery == nil {
		return nil
	}
	if err := h.delivery.Ack(false); err != nil {
		return hostFailure(err, "确认 RabbitMQ 消息失败")
	}
	h.delivery = nil
	return nil
}

// bind 返回当前投递；本次运行尚未取过事件时先取一条。
func (h *RabbitMQHost) bind(ctx context.Context) *amqp.Delivery {
	h.mu.Lock()
	d, received := h.delivery, h.received
	h.mu.Unlock()
	if received {
		return d
	}
	if _, err := h.ReceiveEvent(ctx); err != nil {
		logger.Named("hostenv").Debug("未能绑定 RabbitMQ 投递", "queue", h.queue, "error", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.delivery
}

// EnvVars 优先读取 env_path，否则使用进程环境变量。
func (h *RabbitMQHost) EnvVars(_ context.Context) (map[string]string, error) {
	vars, err := loadEnvFile(h.envPath)
	if err != nil {
		return nil, hostFailure(err, "加载环境变量失败")
	}
	if vars == nil {
		return processEnv(), nil
	}
	return vars, nil
}

// Close 关闭 channel 与连接，未确认的投递会被 broker 重新入队。
func (h *RabbitMQHost) Close() error {
	if h == nil {
		return nil
	}
	if h.ch != nil {
		_ = h.ch.Close()
	}
	if h.conn != nil {
		return h.conn.Close()
	}
	return nil
}
