package scylla

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
)

func newCluster(hosts []string, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}
	return cluster
}

// NewSession connects to keyspace on the given hosts.
func NewSession(hosts []string, keyspace string, logger *slog.Logger) (*gocql.Session, error) {
	session, err := newCluster(hosts, keyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: connect %s: %w", keyspace, err)
	}
	logger.Info("connected to scylla", "hosts", hosts, "keyspace", keyspace)
	return session, nil
}

// EnsureKeyspace creates keyspace through the system keyspace. Replication
// factor 1 suits development clusters only.
func EnsureKeyspace(ctx context.Context, hosts []string, keyspace string, replication int) error {
	session, err := newCluster(hosts, "system").CreateSession()
	if err != nil {
		return fmt.Errorf("scylla: connect system: %w", err)
	}
	defer session.Close()

	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`,
		keyspace, replication)
	if err := session.Query(stmt).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("scylla: create keyspace %s: %w", keyspace, err)
	}
	return nil
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS channels (
		id text PRIMARY KEY,
		tenant_id text,
		type text,
		status text,
		version bigint,
		last_seq bigint,
		created_at timestamp,
		updated_at timestamp,
		assignee_id text,
		escalation_reason text,
		resolution_note text,
		participants map<text, text>,
		joined_at map<text, timestamp>,
		ticket_id text,
		ticket_subject text,
		ticket_category text,
		ticket_priority text,
		ticket_status text,
		ticket_created_at timestamp,
		ticket_updated_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		channel_id text,
		seq bigint,
		id bigint,
		sender_id text,
		sender_type text,
		content text,
		metadata text,
		created_at timestamp,
		read_by set<text>,
		PRIMARY KEY (channel_id, seq)
	) WITH CLUSTERING ORDER BY (seq ASC)`,
	`CREATE TABLE IF NOT EXISTS message_ids (
		id bigint PRIMARY KEY,
		channel_id text,
		seq bigint
	)`,
	`CREATE TABLE IF NOT EXISTS channels_by_user (
		user_id text,
		channel_id text,
		PRIMARY KEY (user_id, channel_id)
	)`,
}

// Migrate creates the support tables in the session's keyspace.
func Migrate(ctx context.Context, session *gocql.Session) error {
	for _, stmt := range tables {
		if err := session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("scylla: migrate: %w", err)
		}
	}
	return nil
}

// Drop removes the support tables.
func Drop(ctx context.Context, session *gocql.Session) error {
	for _, table := range []string{"channels_by_user", "message_ids", "messages", "channels"} {
		if err := session.Query("DROP TABLE IF EXISTS " + table).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("scylla: drop %s: %w", table, err)
		}
	}
	return nil
}
