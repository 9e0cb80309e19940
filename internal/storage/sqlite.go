package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"remindbot/internal/item"
	logx "remindbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations_sqlite.sql
var sqliteSchema string

// sqliteUpgrades are columns added after the first schema. Databases created
// by older builds get them in place.
var sqliteUpgrades = []columnUpgrade{
	{"events", "lead_minutes", "TEXT"},
	{"events", "mention", "TEXT"},
	{"events", "msg_chat_id", "INTEGER"},
	{"events", "msg_thread_id", "INTEGER"},
	{"events", "msg_id", "INTEGER"},
	{"reminders", "cron", "TEXT"},
	{"reminders", "mention", "TEXT"},
}

type columnUpgrade struct {
	table  string
	column string
	decl   string
}

const eventColumns = `id, scope_id, title, when_at, cron, lead_minutes, target_kind, target_chat_id, target_thread_id, target_user_id,
	mention, created_by, created_at, msg_chat_id, msg_thread_id, msg_id`

const reminderColumns = `id, scope_id, message, when_at, cron, NULL, target_kind, target_chat_id, target_thread_id, target_user_id,
	mention, created_by, created_at, NULL, NULL, NULL`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}

	// foreign_keys is per connection; the DSN pragma applies it to every one.
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log.With(logx.String("comp", "storage"), logx.String("driver", "sqlite"))}

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite %s: %w", path, err)
	}
	st.log.Info("store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return err
	}
	for _, u := range sqliteUpgrades {
		if err := s.ensureColumn(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) ensureColumn(ctx context.Context, u columnUpgrade) error {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+u.table+")")
	if err != nil {
		return err
	}
	found := false
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(name, u.column) {
			found = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if found {
		return nil
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", u.table, u.column, u.decl))
	if err == nil {
		s.log.Info("schema upgraded", logx.String("table", u.table), logx.String("column", u.column))
	}
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// msTime scans a nullable unix-millisecond column.
type msTime struct{ dst **time.Time }

func (m msTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m.dst = nil
	case int64:
		t := time.UnixMilli(v).UTC()
		*m.dst = &t
	default:
		return fmt.Errorf("unexpected time column type %T", src)
	}
	return nil
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRow(sc sqlScanner, kind item.Kind) (*item.Item, error) {
	var (
		r       row
		created *time.Time
	)
	err := sc.Scan(&r.ID, &r.Scope, &r.Payload, msTime{&r.WhenAt}, &r.Cron, &r.Lead,
		&r.TKind, &r.TChat, &r.TThread, &r.TUser, &r.Mention, &r.CreatedBy, msTime{&created},
		&r.MsgChat, &r.MsgThread, &r.MsgID)
	if err != nil {
		return nil, err
	}
	if created != nil {
		r.CreatedAt = *created
	}
	return r.toItem(kind)
}

func millis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func (s *sqliteStore) CreateEvent(ctx context.Context, it *item.Item) error {
	if err := prepareInsert(it, item.KindEvent); err != nil {
		return err
	}
	when, cron, lead, mention := insertArgs(it)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events(scope_id, title, when_at, cron, lead_minutes, target_kind, target_chat_id, target_thread_id, target_user_id, mention, created_by, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.Scope, it.Payload, millis(when), cron, lead, int(it.Target.Kind), it.Target.ChatID, it.Target.ThreadID, it.Target.UserID,
		mention, it.CreatedBy, it.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return opErr("events.create", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return opErr("events.create", err)
	}
	it.ID = id
	return nil
}

func (s *sqliteStore) GetEvent(ctx context.Context, id int64) (*item.Item, error) {
	return s.get(ctx, "events.get", `SELECT `+eventColumns+` FROM events WHERE id = ?`, item.KindEvent, id)
}

func (s *sqliteStore) get(ctx context.Context, op, query string, kind item.Kind, id int64) (*item.Item, error) {
	it, err := scanSQLiteRow(s.db.QueryRowContext(ctx, query, id), kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, opErr(op, err)
	}
	return it, nil
}

func (s *sqliteStore) list(ctx context.Context, op string, kind item.Kind, query string, args ...any) ([]*item.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, opErr(op, err)
	}
	defer rows.Close()

	var out []*item.Item
	for rows.Next() {
		it, err := scanSQLiteRow(rows, kind)
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

func (s *sqliteStore) ListEvents(ctx context.Context, scope int64, limit int) ([]*item.Item, error) {
	return s.list(ctx, "events.list", item.KindEvent,
		`SELECT `+eventColumns+` FROM events WHERE scope_id = ?
		 ORDER BY cron IS NOT NULL, when_at, id LIMIT ?`, scope, limitOrDefault(limit))
}

func (s *sqliteStore) ListAllEvents(ctx context.Context) ([]*item.Item, error) {
	return s.list(ctx, "events.list_all", item.KindEvent, `SELECT `+eventColumns+` FROM events ORDER BY id`)
}

func (s *sqliteStore) SetEventMessage(ctx context.Context, id int64, ref item.MessageRef) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET msg_chat_id = ?, msg_thread_id = ?, msg_id = ? WHERE id = ?`,
		ref.ChatID, ref.ThreadID, ref.MessageID, id)
	if err != nil {
		return opErr("events.set_message", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeleteEvent(ctx context.Context, scope, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, opErr("events.delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ? AND scope_id = ?`, id, scope)
	if err != nil {
		return false, opErr("events.delete", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	// Rows from databases created without the foreign key still go.
	if _, err := tx.ExecContext(ctx, `DELETE FROM event_rsvps WHERE event_id = ?`, id); err != nil {
		return false, opErr("events.delete", err)
	}
	if err := tx.Commit(); err != nil {
		return false, opErr("events.delete", err)
	}
	return true, nil
}

func (s *sqliteStore) CreateReminder(ctx context.Context, it *item.Item) error {
	if err := prepareInsert(it, item.KindReminder); err != nil {
		return err
	}
	when, cron, _, mention := insertArgs(it)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(scope_id, message, when_at, cron, target_kind, target_chat_id, target_thread_id, target_user_id, mention, created_by, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		it.Scope, it.Payload, millis(when), cron, int(it.Target.Kind), it.Target.ChatID, it.Target.ThreadID, it.Target.UserID,
		mention, it.CreatedBy, it.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return opErr("reminders.create", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return opErr("reminders.create", err)
	}
	it.ID = id
	return nil
}

func (s *sqliteStore) GetReminder(ctx context.Context, id int64) (*item.Item, error) {
	return s.get(ctx, "reminders.get", `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, item.KindReminder, id)
}

func (s *sqliteStore) ListReminders(ctx context.Context, userID int64, limit int) ([]*item.Item, error) {
	return s.list(ctx, "reminders.list", item.KindReminder,
		`SELECT `+reminderColumns+` FROM reminders WHERE created_by = ?
		 ORDER BY cron IS NOT NULL, when_at, id LIMIT ?`, userID, limitOrDefault(limit))
}

func (s *sqliteStore) ListAllReminders(ctx context.Context) ([]*item.Item, error) {
	return s.list(ctx, "reminders.list_all", item.KindReminder, `SELECT `+reminderColumns+` FROM reminders ORDER BY id`)
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, userID, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ? AND created_by = ?`, id, userID)
	if err != nil {
		return false, opErr("reminders.delete", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) ConsumeReminder(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return opErr("reminders.consume", err)
}

func (s *sqliteStore) UpsertRSVP(ctx context.Context, r item.RSVP) error {
	if !r.Status.Valid() {
		return fmt.Errorf("%w: rsvp status %q", item.ErrInvalid, r.Status)
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO event_rsvps(event_id, user_id, status, updated_at)
		 SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM events WHERE id = ?)
		 ON CONFLICT(event_id, user_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		r.ItemID, r.UserID, string(r.Status), r.UpdatedAt.UnixMilli(), r.ItemID,
	)
	if err != nil {
		return opErr("rsvps.upsert", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) RSVPTally(ctx context.Context, eventID int64) (item.Tally, error) {
	var t item.Tally
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, status FROM event_rsvps WHERE event_id = ? ORDER BY updated_at, user_id`, eventID)
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

func (s *sqliteStore) GetTimezone(ctx context.Context, userID int64) (string, bool, error) {
	var tz string
	err := s.db.QueryRowContext(ctx, `SELECT timezone FROM user_prefs WHERE user_id = ?`, userID).Scan(&tz)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, opErr("prefs.get", err)
	}
	return tz, true, nil
}

func (s *sqliteStore) SetTimezone(ctx context.Context, userID int64, tz string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_prefs(user_id, timezone, updated_at) VALUES(?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET timezone = excluded.timezone, updated_at = excluded.updated_at`,
		userID, tz, time.Now().UnixMilli(),
	)
	return opErr("prefs.set", err)
}
