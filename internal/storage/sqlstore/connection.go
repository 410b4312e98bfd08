package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Config 描述线程存储的数据库连接。
type Config struct {
	// Driver 取值 mysql、sqlite3 或 postgres。
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

const (
	dialectMySQL    = "mysql"
	dialectSQLite   = "sqlite3"
	dialectPostgres = "pgx"
)

// driverName maps user facing names to registered database/sql drivers.
func driverName(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql":
		return dialectMySQL, nil
	case "sqlite", "sqlite3", "":
		return dialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return dialectPostgres, nil
	default:
		return "", fmt.Errorf("不支持的数据库驱动: %s", driver)
	}
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, string, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, "", fmt.Errorf("数据库 DSN 不能为空")
	}
	name, err := driverName(cfg.Driver)
	if err != nil {
		return nil, "", err
	}

	db, err := sql.Open(name, cfg.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("连接数据库失败: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else if name == dialectSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("无法连接到数据库: %w", err)
	}
	return db, name, nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func rebind(dialect, query string) string {
	if dialect != dialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
