package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"remindbot/internal/item"
	logx "remindbot/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresSchema string

var postgresUpgrades = []columnUpgrade{
	{"events", "lead_minutes", "TEXT"},
	{"events", "mention", "TEXT"},
	{"events", "msg_chat_id", "BIGINT"},
	{"events", "msg_thread_id", "INTEGER"},
	{"events", "msg_id", "INTEGER"},
	{"reminders", "cron", "TEXT"},
	{"reminders", "mention", "TEXT"},
}

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	st := &postgresStore{pool: pool, log: log.With(logx.String("comp", "storage"), logx.String("driver", "postgres"))}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	st.log.Info("store opened", logx.String("host", pool.Config().ConnConfig.Host))
	return st, nil
}

func (s *postgresStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return err
	}
	for _, u := range postgresUpgrades {
		q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", u.table, u.column, u.decl)
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("upgrade %s.%s: %w", u.table, u.column, err)
		}
	}
	return nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func scanPostgresRow(sc pgx.Row, kind item.Kind) (*item.Item, error) {
	var r row
	err := sc.Scan(&r.ID, &r.Scope, &r.Payload, &r.WhenAt, &r.Cron, &r.Lead,
		&r.TKind, &r.TChat, &r.TThread, &r.TUser, &r.Mention, &r.CreatedBy, &r.CreatedAt,
		&r.MsgChat, &r.MsgThread, &r.MsgID)
	if err != nil {
		return nil, err
	}
	return r.toItem(kind)
}

// The reminders table has no lead or message columns; typed NULLs keep the
// scan layout shared with events.
const pgReminderColumns = `id, scope_id, message, when_at, cron, NULL::text, target_kind, target_chat_id, target_thread_id, target_user_id,
	mention, created_by, created_at, NULL::bigint, NULL::integer, NULL::integer`

func (s *postgresStore) CreateEvent(ctx context.Context, it *item.Item) error {
	if err := prepareInsert(it, item.KindEvent); err != nil {
		return err
	}
	when, cron, lead, mention := insertArgs(it)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO events(scope_id, title, when_at, cron, lead_minutes, target_kind, target_chat_id, target_thread_id, target_user_id, mention, created_by, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 RETURNING id`,
		it.Scope, it.Payload, when, cron, lead, int(it.Target.Kind), it.Target.ChatID, it.Target.ThreadID, it.Target.UserID,
		mention, it.CreatedBy, it.CreatedAt,
	).Scan(&it.ID)
	return opErr("events.create", err)
}

func (s *postgresStore) get(ctx context.Context, op, query string, kind item.Kind, id int64) (*item.Item, error) {
	it, err := scanPostgresRow(s.pool.QueryRow(ctx, query, id), kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, opErr(op, err)
	}
	return it, nil
}

func (s *postgresStore) list(ctx context.Context, op string, kind item.Kind, query string, args ...any) ([]*item.Item, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, opErr(op, err)
	}
	defer rows.Close()

	var out []*item.Item
	for rows.Next() {
		it, err := scanPostgresRow(rows, kind)
		if err != nil {
			return nil, opErr(op, err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr(op, err)
	}
	return out, nil
}

func (s *postgresStore) GetEvent(ctx context.Context, id int64) (*item.Item, error) {
	return s.get(ctx, "events.get", `SELECT `+eventColumns+` FROM events WHERE id = $1`, item.KindEvent, id)
}

func (s *postgresStore) ListEvents(ctx context.Context, scope int64, limit int) ([]*item.Item, error) {
	return s.list(ctx, "events.list", item.KindEvent,
		`SELECT `+eventColumns+` FROM events WHERE scope_id = $1
		 ORDER BY cron IS NOT NULL, when_at, id LIMIT $2`, scope, limitOrDefault(limit))
}

func (s *postgresStore) ListAllEvents(ctx context.Context) ([]*item.Item, error) {
	return s.list(ctx, "events.list_all", item.KindEvent, `SELECT `+eventColumns+` FROM events ORDER BY id`)
}

func (s *postgresStore) SetEventMessage(ctx context.Context, id int64, ref item.MessageRef) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET msg_chat_id = $1, msg_thread_id = $2, msg_id = $3 WHERE id = $4`,
		ref.ChatID, ref.ThreadID, ref.MessageID, id)
	if err != nil {
		return opErr("events.set_message", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) DeleteEvent(ctx context.Context, scope, id int64) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, opErr("events.delete", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM events WHERE id = $1 AND scope_id = $2`, id, scope)
	if err != nil {
		return false, opErr("events.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM event_rsvps WHERE event_id = $1`, id); err != nil {
		return false, opErr("events.delete", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, opErr("events.delete", err)
	}
	return true, nil
}

func (s *postgresStore) CreateReminder(ctx context.Context, it *item.Item) error {
	if err := prepareInsert(it, item.KindReminder); err != nil {
		return err
	}
	when, cron, _, mention := insertArgs(it)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO reminders(scope_id, message, when_at, cron, target_kind, target_chat_id, target_thread_id, target_user_id, mention, created_by, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 RETURNING id`,
		it.Scope, it.Payload, when, cron, int(it.Target.Kind), it.Target.ChatID, it.Target.ThreadID, it.Target.UserID,
		mention, it.CreatedBy, it.CreatedAt,
	).Scan(&it.ID)
	return opErr("reminders.create", err)
}

func (s *postgresStore) GetReminder(ctx context.Context, id int64) (*item.Item, error) {
	return s.get(ctx, "reminders.get", `SELECT `+pgReminderColumns+` FROM reminders WHERE id = $1`, item.KindReminder, id)
}

func (s *postgresStore) ListReminders(ctx context.Context, userID int64, limit int) ([]*item.Item, error) {
	return s.list(ctx, "reminders.list", item.KindReminder,
		`SELECT `+pgReminderColumns+` FROM reminders WHERE created_by = $1
		 ORDER BY cron IS NOT NULL, when_at, id LIMIT $2`, userID, limitOrDefault(limit))
}

func (s *postgresStore) ListAllReminders(ctx context.Context) ([]*item.Item, error) {
	return s.list(ctx, "reminders.list_all", item.KindReminder, `SELECT `+pgReminderColumns+` FROM reminders ORDER BY id`)
}

func (s *postgresStore) DeleteReminder(ctx context.Context, userID, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reminders WHERE id = $1 AND created_by = $2`, id, userID)
	if err != nil {
		return false, opErr("reminders.delete", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) ConsumeReminder(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM reminders WHERE id = $1`, id)
	return opErr("reminders.consume", err)
}

func (s *postgresStore) UpsertRSVP(ctx context.Context, r item.RSVP) error {
	if !r.Status.Valid() {
		return fmt.Errorf("%w: rsvp status %q", item.ErrInvalid, r.Status)
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO event_rsvps(event_id, user_id, status, updated_at)
		 SELECT $1::bigint, $2::bigint, $3::text, $4::timestamptz WHERE EXISTS (SELECT 1 FROM events WHERE id = $1::bigint)
		 ON CONFLICT (event_id, user_id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		r.ItemID, r.UserID, string(r.Status), r.UpdatedAt,
	)
	if err != nil {
		return opErr("rsvps.upsert", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) RSVPTally(ctx context.Context, eventID int64) (item.Tally, error) {
	var t item.Tally
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, status FROM event_rsvps WHERE event_id = $1 ORDER BY updated_at, user_id`, eventID)
	if err != nil {
		return t, opErr("rsvps.tally", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			uid    int64
			status string
		)
		if err := rows.Scan(&uid, &status); err != nil {
			return t, opErr("rsvps.tally", err)
		}
		t.Add(uid, item.RSVPStatus(status))
	}
	return t, opErr("rsvps.tally", rows.Err())
}

func (s *postgresStore) GetTimezone(ctx context.Context, userID int64) (string, bool, error) {
	var tz string
	err := s.pool.QueryRow(ctx, `SELECT timezone FROM user_prefs WHERE user_id = $1`, userID).Scan(&tz)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, opErr("prefs.get", err)
	}
	return tz, true, nil
}

func (s *postgresStore) SetTimezone(ctx context.Context, userID int64, tz string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_prefs(user_id, timezone, updated_at) VALUES($1,$2,$3)
		 ON CONFLICT (user_id) DO UPDATE SET timezone = EXCLUDED.timezone, updated_at = EXCLUDED.updated_at`,
		userID, tz, time.Now().UTC(),
	)
	return opErr("prefs.set", err)
}
