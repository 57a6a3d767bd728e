// Package sqlstore is the relational support.Store. The same queries run on
// SQLite (modernc.org/sqlite) and Postgres (pgx through database/sql); only
// the placeholder style differs.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/support"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ support.Store = (*Store)(nil)

// Open connects to the database, retrying the ping a few times while the
// server comes up.
func Open(ctx context.Context, dialect Dialect, dsn string, logger *slog.Logger) (*Store, error) {
	driver := "sqlite"
	switch dialect {
	case SQLite:
	case Postgres:
		driver = "pgx"
	default:
		return nil, fmt.Errorf("sqlstore: unknown dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if dialect == SQLite {
		// One writer at a time; concurrent appends queue on the pool.
		db.SetMaxOpenConns(1)
	}

	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			break
		}
		if attempt == 5 {
			db.Close()
			return nil, fmt.Errorf("sqlstore: ping after %d attempts: %w", attempt, err)
		}
		logger.Warn("database not ready, retrying", "dialect", dialect, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	if dialect == SQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlstore: pragma: %w", err)
		}
	}
	logger.Info("database connected", "dialect", dialect)
	return &Store{db: db, dialect: dialect}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// rebind turns ? placeholders into $1..$n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
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

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func (s *Store) CreateChannel(ctx context.Context, ch *model.Channel) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO channels
  (id, tenant_id, type, status, version, last_seq, created_at, updated_at, assignee_id, escalation_reason, resolution_note)
  VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
			ch.ID, ch.TenantID, ch.Type, ch.Status, ch.Version, ch.LastSeq, ms(ch.CreatedAt), ms(ch.UpdatedAt),
			ch.AssigneeID, ch.EscalationReason, ch.ResolutionNote)
		if err != nil {
			return err
		}
		if err := s.addParticipants(ctx, tx, ch); err != nil {
			return err
		}
		if t := ch.Ticket; t != nil {
			_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO tickets
  (id, channel_id, subject, category, priority, status, created_at, updated_at)
  VALUES (?,?,?,?,?,?,?,?)`),
				t.ID, ch.ID, t.Subject, t.Category, t.Priority, t.Status, ms(t.CreatedAt), ms(t.UpdatedAt))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("sqlstore: create channel %s: %w", ch.ID, err)
	}
	return nil
}

// addParticipants upserts links. Links are never removed; an existing link
// only has its role rewritten (assignment).
func (s *Store) addParticipants(ctx context.Context, q querier, ch *model.Channel) error {
	stmt := s.rebind(`INSERT INTO channel_participants (channel_id, user_id, role, joined_at)
  VALUES (?,?,?,?) ON CONFLICT (channel_id, user_id) DO UPDATE SET role = excluded.role`)
	for _, p := range ch.Participants {
		if _, err := q.ExecContext(ctx, stmt, ch.ID, p.UserID, p.Role, ms(p.JoinedAt)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) LoadChannel(ctx context.Context, id string) (*model.Channel, error) {
	ch, err := s.loadChannel(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load channel %s: %w", id, err)
	}
	return ch, nil
}

func (s *Store) loadChannel(ctx context.Context, q querier, id string) (*model.Channel, error) {
	ch := &model.Channel{}
	var created, updated int64
	err := q.QueryRowContext(ctx, s.rebind(`SELECT id, tenant_id, type, status, version, last_seq, created_at, updated_at,
  assignee_id, escalation_reason, resolution_note FROM channels WHERE id = ?`), id).
		Scan(&ch.ID, &ch.TenantID, &ch.Type, &ch.Status, &ch.Version, &ch.LastSeq, &created, &updated,
			&ch.AssigneeID, &ch.EscalationReason, &ch.ResolutionNote)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, support.ErrStoreNotFound
	}
	if err != nil {
		return nil, err
	}
	ch.CreatedAt, ch.UpdatedAt = fromMS(created), fromMS(updated)

	rows, err := q.QueryContext(ctx, s.rebind(`SELECT user_id, role, joined_at FROM channel_participants
  WHERE channel_id = ? ORDER BY joined_at, user_id`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p model.Participant
		var joined int64
		if err := rows.Scan(&p.UserID, &p.Role, &joined); err != nil {
			return nil, err
		}
		p.JoinedAt = fromMS(joined)
		ch.Participants = append(ch.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	t := &model.Ticket{ChannelID: id}
	err = q.QueryRowContext(ctx, s.rebind(`SELECT id, subject, category, priority, status, created_at, updated_at
  FROM tickets WHERE channel_id = ?`), id).
		Scan(&t.ID, &t.Subject, &t.Category, &t.Priority, &t.Status, &created, &updated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		t.CreatedAt, t.UpdatedAt = fromMS(created), fromMS(updated)
		ch.Ticket = t
	}
	return ch, nil
}

// SaveChannel writes the channel if the stored version is still
// expectedVersion. last_seq belongs to AppendMessage and updated_at never
// moves backwards.
func (s *Store) SaveChannel(ctx context.Context, ch *model.Channel, expectedVersion int64) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		updated := ms(ch.UpdatedAt)
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE channels SET
  status = ?, version = ?, assignee_id = ?, escalation_reason = ?, resolution_note = ?,
  updated_at = CASE WHEN updated_at > ? THEN updated_at ELSE ? END
  WHERE id = ? AND version = ?`),
			ch.Status, ch.Version, ch.AssigneeID, ch.EscalationReason, ch.ResolutionNote,
			updated, updated, ch.ID, expectedVersion)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM channels WHERE id = ?`), ch.ID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return support.ErrStoreNotFound
			}
			if err != nil {
				return err
			}
			return support.ErrStoreConflict
		}

		if err := s.addParticipants(ctx, tx, ch); err != nil {
			return err
		}
		if t := ch.Ticket; t != nil {
			_, err = tx.ExecContext(ctx, s.rebind(`UPDATE tickets SET subject = ?, category = ?, priority = ?, status = ?, updated_at = ?
  WHERE channel_id = ?`), t.Subject, t.Category, t.Priority, t.Status, ms(t.UpdatedAt), ch.ID)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("sqlstore: save channel %s: %w", ch.ID, err)
	}
	return nil
}

// AppendMessage reserves the next sequence number and bumps updated_at in
// one UPDATE, then inserts the message and the sender's read mark, all in a
// single transaction.
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	out := *msg
	out.ReadBy = append([]string(nil), msg.ReadBy...)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		created := ms(msg.CreatedAt)
		err := tx.QueryRowContext(ctx, s.rebind(`UPDATE channels SET
  last_seq = last_seq + 1,
  updated_at = CASE WHEN updated_at > ? THEN updated_at ELSE ? END
  WHERE id = ? AND status <> ? RETURNING last_seq`),
			created, created, msg.ChannelID, model.StatusArchived).Scan(&out.Seq)
		if errors.Is(err, sql.ErrNoRows) {
			var status string
			err := tx.QueryRowContext(ctx, s.rebind(`SELECT status FROM channels WHERE id = ?`), msg.ChannelID).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return support.ErrStoreNotFound
			}
			if err != nil {
				return err
			}
			return support.ErrStoreArchived
		}
		if err != nil {
			return err
		}

		var metadata sql.NullString
		if len(msg.Metadata) > 0 {
			metadata = sql.NullString{String: string(msg.Metadata), Valid: true}
		}
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO messages
  (id, channel_id, seq, sender_id, sender_type, content, metadata, created_at)
  VALUES (?,?,?,?,?,?,?,?)`),
			msg.ID, msg.ChannelID, out.Seq, msg.SenderID, msg.SenderType, msg.Content, metadata, created)
		if err != nil {
			return err
		}
		for _, user := range msg.ReadBy {
			if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO message_reads (message_id, user_id, read_at)
  VALUES (?,?,?) ON CONFLICT (message_id, user_id) DO NOTHING`), msg.ID, user, created); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: append message to %s: %w", msg.ChannelID, err)
	}
	return &out, nil
}

func (s *Store) ListMessages(ctx context.Context, channelID string, afterSeq int64, limit int) ([]model.Message, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM channels WHERE id = ?`), channelID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlstore: list messages of %s: %w", channelID, support.ErrStoreNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list messages of %s: %w", channelID, err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, seq, sender_id, sender_type, content, metadata, created_at
  FROM messages WHERE channel_id = ? AND seq > ? ORDER BY seq LIMIT ?`), channelID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list messages of %s: %w", channelID, err)
	}
	defer rows.Close()

	var msgs []model.Message
	index := make(map[int64]int)
	for rows.Next() {
		m := model.Message{ChannelID: channelID}
		var metadata sql.NullString
		var created int64
		if err := rows.Scan(&m.ID, &m.Seq, &m.SenderID, &m.SenderType, &m.Content, &metadata, &created); err != nil {
			return nil, fmt.Errorf("sqlstore: scan message: %w", err)
		}
		if metadata.Valid {
			m.Metadata = []byte(metadata.String)
		}
		m.CreatedAt = fromMS(created)
		index[m.ID] = len(msgs)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	reads, err := s.db.QueryContext(ctx, s.rebind(`SELECT r.message_id, r.user_id FROM message_reads r
  JOIN messages m ON m.id = r.message_id
  WHERE m.channel_id = ? AND m.seq >= ? AND m.seq <= ?
  ORDER BY r.read_at, r.user_id`), channelID, msgs[0].Seq, msgs[len(msgs)-1].Seq)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list reads of %s: %w", channelID, err)
	}
	defer reads.Close()
	for reads.Next() {
		var id int64
		var user string
		if err := reads.Scan(&id, &user); err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			msgs[i].ReadBy = append(msgs[i].ReadBy, user)
		}
	}
	return msgs, reads.Err()
}

// MarkRead checks that every id belongs to the channel before marking
// anything, so a bad id leaves all read sets untouched.
func (s *Store) MarkRead(ctx context.Context, channelID string, messageIDs []int64, userID string) ([]int64, error) {
	var changed []int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range messageIDs {
			var owner string
			err := tx.QueryRowContext(ctx, s.rebind(`SELECT channel_id FROM messages WHERE id = ?`), id).Scan(&owner)
			if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != channelID) {
				return fmt.Errorf("message %d: %w", id, support.ErrStoreNotFound)
			}
			if err != nil {
				return err
			}
		}

		now := ms(time.Now())
		for _, id := range messageIDs {
			res, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO message_reads (message_id, user_id, read_at)
  VALUES (?,?,?) ON CONFLICT (message_id, user_id) DO NOTHING`), id, userID, now)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				changed = append(changed, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: mark read in %s: %w", channelID, err)
	}
	return changed, nil
}

// ListChannelsForUser returns the user's channels, most recently active first.
func (s *Store) ListChannelsForUser(ctx context.Context, userID string) ([]*model.Channel, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT c.id FROM channels c
  JOIN channel_participants p ON p.channel_id = c.id
  WHERE p.user_id = ? ORDER BY c.updated_at DESC, c.id`), userID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: channels of %s: %w", userID, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*model.Channel, 0, len(ids))
	for _, id := range ids {
		ch, err := s.LoadChannel(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}
