package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound 表示查询的线程或消息不存在。
var ErrNotFound = errors.New("记录不存在")

// Thread 是一次会话的元数据。
type Thread struct {
	ID              string
	SignerAccountID string
	Status          string
	CreatedAt       int64
	UpdatedAt       int64
}

// Message 是线程中的一条消息，CreatedAt 为纳秒时间戳。
type Message struct {
	ID        string
	ThreadID  string
	Role      string
	Content   string
	CreatedAt int64
}

// Store 基于 database/sql 持久化线程、消息与环境变量。
type Store struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// Open 建立连接并执行内置迁移。
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, dialect, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, dialect: dialect}
	if err := store.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close 释放数据库连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateThread 新建线程，状态缺省为 pending。
func (s *Store) CreateThread(ctx context.Context, thread Thread) error {
	now := s.clock().Unix()
	if thread.Status == "" {
		thread.Status = "pending"
	}
	if thread.CreatedAt == 0 {
		thread.CreatedAt = now
	}
	if thread.UpdatedAt == 0 {
		thread.UpdatedAt = thread.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, s.bind(`INSERT INTO agent_threads
    (id, signer_account_id, status, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?)`),
		thread.ID, thread.SignerAccountID, thread.Status, thread.CreatedAt, thread.UpdatedAt)
	if err != nil {
		return fmt.Errorf("写入线程失败: %w", err)
	}
	return nil
}

// Thread 读取线程元数据。
func (s *Store) Thread(ctx context.Context, id string) (Thread, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT id, signer_account_id, status, created_at, updated_at
    FROM agent_threads WHERE id = ?`), id)

	var thread Thread
	if err := row.Scan(&thread.ID, &thread.SignerAccountID, &thread.Status, &thread.CreatedAt, &thread.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Thread{}, fmt.Errorf("线程 %s: %w", id, ErrNotFound)
		}
		return Thread{}, fmt.Errorf("查询线程失败: %w", err)
	}
	return thread, nil
}

// LastMessage 返回线程中指定角色的最新一条消息。
func (s *Store) LastMessage(ctx context.Context, threadID, role string) (Message, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT id, thread_id, role, content, created_at
    FROM agent_messages WHERE thread_id = ? AND role = ?
    ORDER BY created_at DESC, id DESC LIMIT 1`), threadID, role)

	var msg Message
	if err := row.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, fmt.Errorf("线程 %s 没有 %s 消息: %w", threadID, role, ErrNotFound)
		}
		return Message{}, fmt.Errorf("查询消息失败: %w", err)
	}
	return msg, nil
}

// AppendMessage 向线程追加一条消息，返回带 ID 与纳秒时间戳的记录。
func (s *Store) AppendMessage(ctx context.Context, threadID, role, content string) (Message, error) {
	return s.insertMessage(ctx, Message{ThreadID: threadID, Role: role, Content: content})
}

func (s *Store) insertMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = s.clock().UnixNano()
	}
	_, err := s.db.ExecContext(ctx, s.bind(`INSERT INTO agent_messages
    (id, thread_id, role, content, created_at)
    VALUES (?, ?, ?, ?, ?)`),
		msg.ID, msg.ThreadID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("写入消息失败: %w", err)
	}
	return msg, nil
}

// MarkThreadStatus 更新线程状态。
func (s *Store) MarkThreadStatus(ctx context.Context, threadID, status string) error {
	res, err := s.db.ExecContext(ctx, s.bind(`UPDATE agent_threads SET status = ?, updated_at = ? WHERE id = ?`),
		status, s.clock().Unix(), threadID)
	if err != nil {
		return fmt.Errorf("更新线程状态失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("线程 %s: %w", threadID, ErrNotFound)
	}
	return nil
}

// SetEnvVar 写入或覆盖智能体的一个环境变量。
func (s *Store) SetEnvVar(ctx context.Context, agentName, name, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.bind(`DELETE FROM agent_env_vars WHERE agent_name = ? AND name = ?`), agentName, name); err != nil {
		tx.Rollback()
		return fmt.Errorf("删除环境变量失败: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.bind(`INSERT INTO agent_env_vars (agent_name, name, value) VALUES (?, ?, ?)`), agentName, name, value); err != nil {
		tx.Rollback()
		return fmt.Errorf("写入环境变量失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// EnvVars 返回智能体的全部环境变量。
func (s *Store) EnvVars(ctx context.Context, agentName string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`SELECT name, value FROM agent_env_vars WHERE agent_name = ?`), agentName)
	if err != nil {
		return nil, fmt.Errorf("查询环境变量失败: %w", err)
	}
	defer rows.Close()

	vars := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("解析环境变量失败: %w", err)
		}
		vars[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历环境变量失败: %w", err)
	}
	return vars, nil
}

func (s *Store) bind(query string) string {
	return rebind(s.dialect, query)
}

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
