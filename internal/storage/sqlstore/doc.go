// Package sqlstore persists agent threads, their messages and per-agent
// environment variables through database/sql. MySQL, SQLite and PostgreSQL
// are supported; the schema ships as embedded migrations in deploy/migrations.
package sqlstore
