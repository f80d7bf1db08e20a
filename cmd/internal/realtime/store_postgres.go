package realtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStateStore is a StateStore over the platform's relational
// channel-of-record.
//
// Ownership model:
// - The store does NOT own the pgx pool; the caller closes it.
// - The store never runs migrations. Schema belongs to the platform backend;
//   this core only reads timestamps/participants and stamps
//   delivered_at/read_at and last-read markers.
type PostgresStateStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStateStore behavior.
type PostgresOption func(*PostgresStateStore) error

// WithSchema sets the DB schema used by this store (default: "tuma").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStateStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStateStore constructs a Postgres-backed StateStore.
func NewPostgresStateStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStateStore, error) {
	st := &PostgresStateStore{
		pool:   pool,
		schema: "tuma",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

const messageColumns = `id, conversation_id, sender_id, body, created_at, delivered_at, read_at`

// Message returns one message by id.
func (s *PostgresStateStore) Message(ctx context.Context, messageID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	messages := pgIdent(s.schema, "messages")

	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+messages+` WHERE id = $1`,
		messageID,
	)
	return scanMessage(row)
}

// Conversation returns one conversation with its participant list.
func (s *PostgresStateStore) Conversation(ctx context.Context, conversationID string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	conversations := pgIdent(s.schema, "conversations")
	participants := pgIdent(s.schema, "conversation_participants")

	var c Conversation
	var lastMessageAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT c.id, c.state, c.last_message_at,
		        COALESCE(array_agg(p.user_id) FILTER (WHERE p.user_id IS NOT NULL), '{}')
		   FROM `+conversations+` c
		   LEFT JOIN `+participants+` p ON p.conversation_id = c.id
		  WHERE c.id = $1
		  GROUP BY c.id`,
		conversationID,
	).Scan(&c.ID, &c.State, &lastMessageAt, &c.Participants)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	if lastMessageAt != nil {
		c.LastMessageAt = *lastMessageAt
	}
	return c, nil
}

// ActiveConversations lists the user's pending/in-progress conversations.
func (s *PostgresStateStore) ActiveConversations(ctx context.Context, userID string) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conversations := pgIdent(s.schema, "conversations")
	participants := pgIdent(s.schema, "conversation_participants")

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.state, c.last_message_at,
		        COALESCE(array_agg(p2.user_id) FILTER (WHERE p2.user_id IS NOT NULL), '{}')
		   FROM `+conversations+` c
		   JOIN `+participants+` p ON p.conversation_id = c.id AND p.user_id = $1
		   LEFT JOIN `+participants+` p2 ON p2.conversation_id = c.id
		  WHERE c.state IN ($2, $3)
		  GROUP BY c.id
		  ORDER BY c.id`,
		userID, ConversationPending, ConversationInProgress,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var lastMessageAt *time.Time
		if err := rows.Scan(&c.ID, &c.State, &lastMessageAt, &c.Participants); err != nil {
			return nil, err
		}
		if lastMessageAt != nil {
			c.LastMessageAt = *lastMessageAt
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListUndelivered returns the user's undelivered inbound messages, oldest first.
func (s *PostgresStateStore) ListUndelivered(ctx context.Context, userID string, since time.Time, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = redeliveryBatchMax
	}

	messages := pgIdent(s.schema, "messages")
	participants := pgIdent(s.schema, "conversation_participants")

	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.conversation_id, m.sender_id, m.body, m.created_at, m.delivered_at, m.read_at
		   FROM `+messages+` m
		   JOIN `+participants+` p ON p.conversation_id = m.conversation_id AND p.user_id = $1
		  WHERE m.sender_id <> $1
		    AND m.delivered_at IS NULL
		    AND m.created_at >= $2
		  ORDER BY m.created_at ASC, m.id ASC
		  LIMIT $3`,
		userID, since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// StampDelivered sets delivered_at if unset.
func (s *PostgresStateStore) StampDelivered(ctx context.Context, messageID string, at time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	messages := pgIdent(s.schema, "messages")

	row := s.pool.QueryRow(ctx,
		`UPDATE `+messages+`
		    SET delivered_at = COALESCE(delivered_at, $2)
		  WHERE id = $1
		RETURNING `+messageColumns,
		messageID, at,
	)
	return scanMessage(row)
}

// StampRead sets read_at, and delivered_at too when still unset.
func (s *PostgresStateStore) StampRead(ctx context.Context, messageID string, at time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	messages := pgIdent(s.schema, "messages")

	row := s.pool.QueryRow(ctx,
		`UPDATE `+messages+`
		    SET delivered_at = COALESCE(delivered_at, $2),
		        read_at      = COALESCE(read_at, $2)
		  WHERE id = $1
		RETURNING `+messageColumns,
		messageID, at,
	)
	return scanMessage(row)
}

// MarkConversationRead stamps all the user's unread messages in one statement
// and moves the last-read marker, atomically.
func (s *PostgresStateStore) MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	messages := pgIdent(s.schema, "messages")
	participants := pgIdent(s.schema, "conversation_participants")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	marker, err := tx.Exec(ctx,
		`UPDATE `+participants+`
		    SET last_read_at = $3
		  WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID, at,
	)
	if err != nil {
		return 0, err
	}
	if marker.RowsAffected() == 0 {
		return 0, ErrNotFound
	}

	stamped, err := tx.Exec(ctx,
		`UPDATE `+messages+`
		    SET delivered_at = COALESCE(delivered_at, $3),
		        read_at      = $3
		  WHERE conversation_id = $1
		    AND sender_id <> $2
		    AND read_at IS NULL`,
		conversationID, userID, at,
	)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(stamped.RowsAffected()), nil
}

// UnreadMessageCount counts inbound messages created after the last-read marker.
func (s *PostgresStateStore) UnreadMessageCount(ctx context.Context, userID, conversationID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	conversations := pgIdent(s.schema, "conversations")
	messages := pgIdent(s.schema, "messages")
	participants := pgIdent(s.schema, "conversation_participants")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+conversations+` WHERE id = $1`, conversationID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	var n int
	err = s.pool.QueryRow(ctx,
		`SELECT count(*)
		   FROM `+messages+` m
		  WHERE m.conversation_id = $1
		    AND m.sender_id <> $2
		    AND m.created_at > COALESCE(
		          (SELECT p.last_read_at FROM `+participants+` p
		            WHERE p.conversation_id = $1 AND p.user_id = $2),
		          'epoch'::timestamptz)`,
		conversationID, userID,
	).Scan(&n)
	return n, err
}

// UnreadNotificationCount counts the user's unread notifications.
func (s *PostgresStateStore) UnreadNotificationCount(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	notifications := pgIdent(s.schema, "notifications")

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+notifications+` WHERE user_id = $1 AND read_at IS NULL`,
		userID,
	).Scan(&n)
	return n, err
}

// PendingCartCount counts the user's packages awaiting payment.
func (s *PostgresStateStore) PendingCartCount(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	packages := pgIdent(s.schema, "packages")

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+packages+` WHERE user_id = $1 AND status = 'pending_payment'`,
		userID,
	).Scan(&n)
	return n, err
}

// MarkNotificationRead flags one of the user's notifications read.
func (s *PostgresStateStore) MarkNotificationRead(ctx context.Context, notificationID, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	notifications := pgIdent(s.schema, "notifications")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+notifications+`
		    SET read_at = COALESCE(read_at, $3)
		  WHERE id = $1 AND user_id = $2`,
		notificationID, userID, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Businesses lists the business ids the user owns or staffs.
func (s *PostgresStateStore) Businesses(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	staff := pgIdent(s.schema, "business_staff")

	rows, err := s.pool.Query(ctx,
		`SELECT business_id FROM `+staff+` WHERE user_id = $1 ORDER BY business_id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// LastSeen returns the user's persistent last-seen timestamp.
func (s *PostgresStateStore) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	users := pgIdent(s.schema, "users")

	var seen *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_seen_at FROM `+users+` WHERE id = $1`,
		userID,
	).Scan(&seen)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if seen == nil {
		return time.Time{}, false, nil
	}
	return *seen, true, nil
}

// ---- helpers ----

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.CreatedAt, &m.DeliveredAt, &m.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("scan message: %w", err)
	}
	return m, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
