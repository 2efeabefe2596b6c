package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"larder/internal/category"
	"larder/internal/notification"
	"larder/internal/store"
	logx "larder/pkg/logx"
)

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if err := migrate(ctx, db.DB, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type notificationRow struct {
	ID              int64          `db:"id"`
	Seq             int64          `db:"seq"`
	Category        string         `db:"category"`
	Priority        int            `db:"priority"`
	Title           string         `db:"title"`
	Message         string         `db:"message"`
	Source          string         `db:"source"`
	CreatedAt       string         `db:"created_at"`
	DeliveredAt     sql.NullString `db:"delivered_at"`
	Read            bool           `db:"read"`
	ReadAt          sql.NullString `db:"read_at"`
	Acknowledged    bool           `db:"acknowledged"`
	AcknowledgedAt  sql.NullString `db:"acknowledged_at"`
	EscalationCount int            `db:"escalation_count"`
	Exhausted       bool           `db:"exhausted"`
	GroupID         string         `db:"group_id"`
}

type suppressionRow struct {
	Seq      int64  `db:"seq"`
	At       string `db:"at"`
	ID       int64  `db:"id"`
	Category string `db:"category"`
	Reason   string `db:"reason"`
}

func toRow(seq int, n notification.Notification) notificationRow {
	return notificationRow{
		ID:              int64(n.ID),
		Seq:             int64(seq),
		Category:        string(n.Category),
		Priority:        n.Priority,
		Title:           n.Title,
		Message:         n.Message,
		Source:          n.Source,
		CreatedAt:       formatTime(n.CreatedAt),
		DeliveredAt:     nullTime(n.DeliveredAt),
		Read:            n.Read,
		ReadAt:          nullTime(n.ReadAt),
		Acknowledged:    n.Acknowledged,
		AcknowledgedAt:  nullTime(n.AcknowledgedAt),
		EscalationCount: n.EscalationCount,
		Exhausted:       n.Exhausted,
		GroupID:         n.GroupID,
	}
}

func (r notificationRow) notification() (notification.Notification, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return notification.Notification{}, fmt.Errorf("notification %d created_at: %w", r.ID, err)
	}
	n := notification.Notification{
		ID:              uint64(r.ID),
		Category:        category.Category(r.Category),
		Priority:        r.Priority,
		Title:           r.Title,
		Message:         r.Message,
		Source:          r.Source,
		CreatedAt:       created,
		Read:            r.Read,
		Acknowledged:    r.Acknowledged,
		EscalationCount: r.EscalationCount,
		Exhausted:       r.Exhausted,
		GroupID:         r.GroupID,
	}
	if n.DeliveredAt, err = parseNullTime(r.DeliveredAt); err != nil {
		return n, err
	}
	if n.ReadAt, err = parseNullTime(r.ReadAt); err != nil {
		return n, err
	}
	if n.AcknowledgedAt, err = parseNullTime(r.AcknowledgedAt); err != nil {
		return n, err
	}
	return n, nil
}

func (s *sqliteStore) Load(ctx context.Context) (State, bool, error) {
	if s == nil || s.db == nil {
		return State{}, false, ErrDisabled
	}
	var st State

	var meta []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &meta, `SELECT key, value FROM meta`); err != nil {
		return State{}, false, err
	}
	if len(meta) == 0 {
		return State{}, false, nil
	}
	for _, m := range meta {
		switch m.Key {
		case "next_id":
			st.NextID, _ = strconv.ParseUint(m.Value, 10, 64)
		case "version":
			st.Version, _ = strconv.Atoi(m.Value)
		case "saved_at":
			st.SavedAt, _ = parseTime(m.Value)
		}
	}
	if st.Version > StateVersion {
		return State{}, false, fmt.Errorf("state version %d is newer than supported %d", st.Version, StateVersion)
	}

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM notifications ORDER BY seq`); err != nil {
		return State{}, false, err
	}
	st.Log = make([]notification.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := r.notification()
		if err != nil {
			return State{}, false, err
		}
		st.Log = append(st.Log, n)
	}

	var sups []suppressionRow
	if err := s.db.SelectContext(ctx, &sups, `SELECT * FROM suppressions ORDER BY seq`); err != nil {
		return State{}, false, err
	}
	for _, r := range sups {
		at, err := parseTime(r.At)
		if err != nil {
			return State{}, false, err
		}
		st.Suppressed = append(st.Suppressed, store.Suppression{At: at, ID: uint64(r.ID), Category: category.Category(r.Category), Reason: r.Reason})
	}

	if err := selectJSON(ctx, s.db, `SELECT body FROM rules ORDER BY category, threshold`, &st.Rules); err != nil {
		return State{}, false, err
	}
	if err := selectJSON(ctx, s.db, `SELECT body FROM batches ORDER BY flush_at`, &st.Batches); err != nil {
		return State{}, false, err
	}
	if err := selectJSON(ctx, s.db, `SELECT body FROM escalations ORDER BY id`, &st.Escalations); err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

func selectJSON[T any](ctx context.Context, db *sqlx.DB, query string, out *[]T) error {
	var bodies []string
	if err := db.SelectContext(ctx, &bodies, query); err != nil {
		return err
	}
	for _, b := range bodies {
		var v T
		if err := json.Unmarshal([]byte(b), &v); err != nil {
			return err
		}
		*out = append(*out, v)
	}
	return nil
}

// Save writes st in one transaction. The log and the suppression ledger are
// upserted by position; rules, batches and escalations are replaced.
func (s *sqliteStore) Save(ctx context.Context, st State) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	start := time.Now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const upsertNotification = `INSERT INTO notifications
		(id, seq, category, priority, title, message, source, created_at, delivered_at, read, read_at, acknowledged, acknowledged_at, escalation_count, exhausted, group_id)
		VALUES (:id, :seq, :category, :priority, :title, :message, :source, :created_at, :delivered_at, :read, :read_at, :acknowledged, :acknowledged_at, :escalation_count, :exhausted, :group_id)
		ON CONFLICT(id) DO UPDATE SET
			seq=excluded.seq, delivered_at=excluded.delivered_at, group_id=excluded.group_id,
			read=excluded.read, read_at=excluded.read_at,
			acknowledged=excluded.acknowledged, acknowledged_at=excluded.acknowledged_at,
			escalation_count=excluded.escalation_count, exhausted=excluded.exhausted`
	if err := resetIfDiverged(ctx, tx, "notifications", len(st.Log), func(i int) uint64 { return st.Log[i].ID }); err != nil {
		return err
	}
	stmt, err := tx.PrepareNamedContext(ctx, upsertNotification)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, n := range st.Log {
		if _, err := stmt.ExecContext(ctx, toRow(i, n)); err != nil {
			return fmt.Errorf("notification %d: %w", n.ID, err)
		}
	}

	if err := resetIfDiverged(ctx, tx, "suppressions", len(st.Suppressed), func(i int) uint64 { return st.Suppressed[i].ID }); err != nil {
		return err
	}
	var have int
	if err := tx.GetContext(ctx, &have, `SELECT COUNT(*) FROM suppressions`); err != nil {
		return err
	}
	for i := have; i < len(st.Suppressed); i++ {
		e := st.Suppressed[i]
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO suppressions(seq, at, id, category, reason) VALUES(:seq, :at, :id, :category, :reason)`,
			suppressionRow{Seq: int64(i), At: formatTime(e.At), ID: int64(e.ID), Category: string(e.Category), Reason: e.Reason},
		); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rules`); err != nil {
		return err
	}
	for _, r := range st.Rules {
		if err := insertJSON(ctx, tx, `INSERT INTO rules(category, threshold, body) VALUES(?,?,?)`, r, string(r.Category), r.Threshold()); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM batches`); err != nil {
		return err
	}
	for _, b := range st.Batches {
		if err := insertJSON(ctx, tx, `INSERT INTO batches(group_id, flush_at, body) VALUES(?,?,?)`, b, b.GroupID, formatTime(b.FlushAt)); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM escalations`); err != nil {
		return err
	}
	for _, e := range st.Escalations {
		if err := insertJSON(ctx, tx, `INSERT INTO escalations(id, body) VALUES(?,?)`, e, int64(e.ID)); err != nil {
			return err
		}
	}

	saved := st.SavedAt
	if saved.IsZero() {
		saved = time.Now()
	}
	for k, v := range map[string]string{
		"version":  strconv.Itoa(StateVersion),
		"next_id":  strconv.FormatUint(st.NextID, 10),
		"saved_at": formatTime(saved),
	} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meta(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, k, v,
		); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("state saved", logx.Int("log", len(st.Log)), logx.Int("batches", len(st.Batches)), logx.Int("escalations", len(st.Escalations)), logx.Duration("took", time.Since(start)))
	return nil
}

// resetIfDiverged empties an append-only table when the saved rows are not a
// prefix of the state being written (after an import, for example).
func resetIfDiverged(ctx context.Context, tx *sqlx.Tx, table string, n int, idAt func(int) uint64) error {
	var have int
	if err := tx.GetContext(ctx, &have, `SELECT COUNT(*) FROM `+table); err != nil {
		return err
	}
	if have == 0 {
		return nil
	}
	diverged := have > n
	if !diverged {
		var last int64
		err := tx.GetContext(ctx, &last, `SELECT id FROM `+table+` WHERE seq = ?`, have-1)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		diverged = err != nil || uint64(last) != idAt(have-1)
	}
	if !diverged {
		return nil
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM `+table)
	return err
}

func insertJSON(ctx context.Context, tx *sqlx.Tx, query string, v any, args ...any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, append(args, string(b))...)
	return err
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(v string) (time.Time, error) { return time.Parse(time.RFC3339Nano, v) }

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
