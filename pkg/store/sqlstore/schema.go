package sqlstore

import (
	"context"
	"fmt"
)

// Timestamps are stored as unix milliseconds so SQLite and Postgres share
// one schema and compare them the same way.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS channels (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  type TEXT NOT NULL,
  status TEXT NOT NULL,
  version BIGINT NOT NULL,
  last_seq BIGINT NOT NULL DEFAULT 0,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL,
  assignee_id TEXT NOT NULL DEFAULT '',
  escalation_reason TEXT NOT NULL DEFAULT '',
  resolution_note TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS channel_participants (
  channel_id TEXT NOT NULL REFERENCES channels(id),
  user_id TEXT NOT NULL,
  role TEXT NOT NULL,
  joined_at BIGINT NOT NULL,
  PRIMARY KEY (channel_id, user_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_user ON channel_participants(user_id)`,
	`CREATE TABLE IF NOT EXISTS tickets (
  id TEXT PRIMARY KEY,
  channel_id TEXT NOT NULL UNIQUE REFERENCES channels(id),
  subject TEXT NOT NULL,
  category TEXT NOT NULL,
  priority TEXT NOT NULL,
  status TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS messages (
  id BIGINT PRIMARY KEY,
  channel_id TEXT NOT NULL REFERENCES channels(id),
  seq BIGINT NOT NULL,
  sender_id TEXT NOT NULL,
  sender_type TEXT NOT NULL,
  content TEXT NOT NULL,
  metadata TEXT,
  created_at BIGINT NOT NULL,
  UNIQUE (channel_id, seq)
)`,
	`CREATE TABLE IF NOT EXISTS message_reads (
  message_id BIGINT NOT NULL REFERENCES messages(id),
  user_id TEXT NOT NULL,
  read_at BIGINT NOT NULL,
  PRIMARY KEY (message_id, user_id)
)`,
}

var dropOrder = []string{"message_reads", "messages", "tickets", "channel_participants", "channels"}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

// Drop removes every table. Development use only.
func (s *Store) Drop(ctx context.Context) error {
	for _, table := range dropOrder {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("sqlstore: drop %s: %w", table, err)
		}
	}
	return nil
}
