package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

type Database struct {
	Conn   *sql.DB
	logger *zap.Logger
}

func NewDatabase(ctx context.Context, dsn string, logger *zap.Logger) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn, logger: logger}, nil
}

// Message ids are the serial row id shifted into the server id space, so the
// messages index must keep id order equal to send order within a conversation.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		username VARCHAR(50) UNIQUE NOT NULL,
		password VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id SERIAL PRIMARY KEY,
		type VARCHAR(10) CHECK (type IN ('private', 'group')) DEFAULT 'private',
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS participants (
		conversation_id INT REFERENCES conversations(id) ON DELETE CASCADE,
		user_id INT REFERENCES users(id) ON DELETE CASCADE,
		joined_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (conversation_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id SERIAL PRIMARY KEY,
		conversation_id INT REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id INT REFERENCES users(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS messages_conversation_id_idx ON messages (conversation_id, id DESC)`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_date_idx ON messages (conversation_id, created_at)`,
}

func (d *Database) AutoMigrate(ctx context.Context) error {
	for i, query := range migrations {
		if _, err := d.Conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	d.logger.Info("schema ready", zap.Int("statements", len(migrations)))
	return nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}
