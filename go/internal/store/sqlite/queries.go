package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mcdev12/livequiz/go/internal/sqlutil"
	"github.com/mcdev12/livequiz/go/internal/store"
)

const playerColumns = `session_id, session_pin, identity, display_name, score, answers, last_answer, joined_ms, updated_ms`

type queries struct {
	db sqlutil.DBTX
}

func newQueries(db sqlutil.DBTX) *queries {
	return &queries{db: db}
}

func (q *queries) getSession(ctx context.Context, id string) (store.SessionRow, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+store.SessionColumns+` FROM quiz_sessions WHERE id = ?`, id)
	r, err := store.ScanSessionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, store.ErrNotFound
	}
	return r, err
}

func (q *queries) getSessionByPin(ctx context.Context, pin string) (store.SessionRow, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+store.SessionColumns+` FROM quiz_sessions
		 WHERE pin = ?
		 ORDER BY status IN ('waiting', 'playing', 'intermission') DESC, created_ms DESC
		 LIMIT 1`, pin)
	r, err := store.ScanSessionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, store.ErrNotFound
	}
	return r, err
}

func (q *queries) listActiveByHost(ctx context.Context, hostIdentity string) ([]store.SessionRow, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+store.SessionColumns+` FROM quiz_sessions
		 WHERE host_identity = ? AND status IN ('waiting', 'playing', 'intermission')
		 ORDER BY created_ms DESC`, hostIdentity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.SessionRow
	for rows.Next() {
		r, err := store.ScanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *queries) insertSession(ctx context.Context, r store.SessionRow) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO quiz_sessions (`+store.SessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionArgs(r)...)
	return err
}

func (q *queries) updateSession(ctx context.Context, r store.SessionRow) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE quiz_sessions SET
		   pin = ?, status = ?, quiz = ?, current_question_index = ?, question_start_ms = ?,
		   question_duration_sec = ?, question_player_count = ?, intermission_start_ms = ?,
		   intermission_duration_sec = ?, host_identity = ?, created_ms = ?, expires_ms = ?, updated_ms = ?
		 WHERE id = ?`,
		append(sessionArgs(r)[1:], r.ID)...)
	return err
}

// expireStaleLobbies marks Waiting sessions holding pin that expired before nowMs.
func (q *queries) expireStaleLobbies(ctx context.Context, pin string, nowMs int64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`UPDATE quiz_sessions SET status = 'expired', updated_ms = ?
		 WHERE pin = ? AND status = 'waiting' AND expires_ms < ?
		 RETURNING id`, nowMs, pin, nowMs)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func (q *queries) getPlayer(ctx context.Context, sessionID, identity string) (store.PlayerRow, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM quiz_players WHERE session_id = ? AND identity = ?`,
		sessionID, identity)
	r, err := scanPlayerRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, store.ErrNotFound
	}
	return r, err
}

func (q *queries) insertPlayer(ctx context.Context, r store.PlayerRow) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO quiz_players (`+playerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.SessionPin, r.Identity, r.DisplayName, r.Score,
		string(r.Answers), nullText(r.LastAnswer), r.JoinedMs, r.UpdatedMs)
	return err
}

func (q *queries) updatePlayer(ctx context.Context, r store.PlayerRow) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE quiz_players SET
		   session_pin = ?, display_name = ?, score = ?, answers = ?, last_answer = ?, joined_ms = ?, updated_ms = ?
		 WHERE session_id = ? AND identity = ?`,
		r.SessionPin, r.DisplayName, r.Score, string(r.Answers), nullText(r.LastAnswer),
		r.JoinedMs, r.UpdatedMs, r.SessionID, r.Identity)
	return err
}

func (q *queries) listPlayers(ctx context.Context, sessionID string) ([]store.PlayerRow, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM quiz_players WHERE session_id = ? ORDER BY joined_ms, rowid`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.PlayerRow
	for rows.Next() {
		r, err := scanPlayerRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *queries) nextExpiry(ctx context.Context) (sql.NullInt64, error) {
	var ms sql.NullInt64
	err := q.db.QueryRowContext(ctx,
		`SELECT MIN(expires_ms) FROM quiz_sessions WHERE status = 'waiting'`).Scan(&ms)
	return ms, err
}

func (q *queries) listExpired(ctx context.Context, nowMs int64, limit int) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id FROM quiz_sessions
		 WHERE status = 'waiting' AND expires_ms < ?
		 ORDER BY expires_ms
		 LIMIT ?`, nowMs, limit)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func scanPlayerRow(sc store.RowScanner) (store.PlayerRow, error) {
	var (
		r       store.PlayerRow
		answers string
		last    sql.NullString
	)
	err := sc.Scan(&r.SessionID, &r.SessionPin, &r.Identity, &r.DisplayName, &r.Score,
		&answers, &last, &r.JoinedMs, &r.UpdatedMs)
	r.Answers = []byte(answers)
	if last.Valid {
		r.LastAnswer = []byte(last.String)
	}
	return r, err
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// sessionArgs stores the quiz snapshot as TEXT.
func sessionArgs(r store.SessionRow) []any {
	args := store.SessionArgs(r)
	args[3] = string(r.Quiz)
	return args
}

func nullText(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
