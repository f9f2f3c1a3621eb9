//go:build sqlite
// +build sqlite

package jobstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "relaybot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Create(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(user_id, total, current, success, cancel_requested, anchor, started_at, progress_chat_id, progress_msg_id)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		rec.UserID, rec.Total, rec.Current, rec.Success, boolInt(rec.Cancel), rec.Anchor,
		rec.StartedAt.Format(time.RFC3339Nano), rec.ProgressChatID, rec.ProgressMsgID,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrJobExists
	}
	return err
}

func (s *sqliteStore) Update(ctx context.Context, userID int64, current, success int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET current = ?, success = ?
		 WHERE user_id = ? AND current <= ? AND success <= ? AND ? <= total AND ? <= ?`,
		current, success, userID, current, success, current, success, current,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, ok, _ := s.Get(ctx, userID); !ok {
			return ErrNoJob
		}
		return fmt.Errorf("job record: invariant success <= current <= total violated (%d/%d)", success, current)
	}
	return nil
}

func (s *sqliteStore) SetProgressMessage(ctx context.Context, userID int64, msgID int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET progress_msg_id = ? WHERE user_id = ?`, msgID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoJob
	}
	return nil
}

func (s *sqliteStore) RequestCancel(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET cancel_requested = 1 WHERE user_id = ?`, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) IsCancelled(ctx context.Context, userID int64) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE user_id = ?`, userID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return v != 0, err
}

func (s *sqliteStore) Get(ctx context.Context, userID int64) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, total, current, success, cancel_requested, anchor, started_at, progress_chat_id, progress_msg_id
		 FROM jobs WHERE user_id = ?`, userID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *sqliteStore) Remove(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE user_id = ?`, userID)
	return err
}

func (s *sqliteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, total, current, success, cancel_requested, anchor, started_at, progress_chat_id, progress_msg_id
		 FROM jobs ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var cancel int
	var started string
	err := row.Scan(&rec.UserID, &rec.Total, &rec.Current, &rec.Success, &cancel, &rec.Anchor, &started, &rec.ProgressChatID, &rec.ProgressMsgID)
	if err != nil {
		return Record{}, err
	}
	rec.Cancel = cancel != 0
	if t, perr := time.Parse(time.RFC3339Nano, started); perr == nil {
		rec.StartedAt = t
	}
	return rec, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
