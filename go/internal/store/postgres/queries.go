package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mcdev12/livequiz/go/internal/sqlutil"
	"github.com/mcdev12/livequiz/go/internal/store"
	"github.com/sqlc-dev/pqtype"
)

const playerColumns = `session_id, session_pin, identity, display_name, score, answers, last_answer, joined_ms, updated_ms`

type queries struct {
	db sqlutil.DBTX
}

func newQueries(db sqlutil.DBTX) *queries {
	return &queries{db: db}
}

func (q *queries) getSession(ctx context.Context, id string, forUpdate bool) (store.SessionRow, error) {
	query := `SELECT ` + store.SessionColumns + ` FROM quiz_sessions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	r, err := store.ScanSessionRow(q.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, store.ErrNotFound
	}
	return r, err
}

func (q *queries) getSessionByPin(ctx context.Context, pin string) (store.SessionRow, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+store.SessionColumns+` FROM quiz_sessions
		 WHERE pin = $1
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
		 WHERE host_identity = $1 AND status IN ('waiting', 'playing', 'intermission')
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		sessionArgs(r)...)
	return err
}

func (q *queries) updateSession(ctx context.Context, r store.SessionRow) error {
	args := sessionArgs(r)
	_, err := q.db.ExecContext(ctx,
		`UPDATE quiz_sessions SET
		   pin = $2, status = $3, quiz = $4, current_question_index = $5, question_start_ms = $6,
		   question_duration_sec = $7, question_player_count = $8, intermission_start_ms = $9,
		   intermission_duration_sec = $10, host_identity = $11, created_ms = $12, expires_ms = $13, updated_ms = $14
		 WHERE id = $1`,
		args...)
	return err
}

func (q *queries) expireStaleLobbies(ctx context.Context, pin string, nowMs int64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`UPDATE quiz_sessions SET status = 'expired', updated_ms = $1
		 WHERE pin = $2 AND status = 'waiting' AND expires_ms < $1
		 RETURNING id`, nowMs, pin)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func (q *queries) getPlayerForUpdate(ctx context.Context, sessionID, identity string) (store.PlayerRow, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM quiz_players WHERE session_id = $1 AND identity = $2 FOR UPDATE`,
		sessionID, identity)
	r, err := scanPlayerRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, store.ErrNotFound
	}
	return r, err
}

func (q *queries) insertPlayer(ctx context.Context, r store.PlayerRow) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO quiz_players (`+playerColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.SessionID, r.SessionPin, r.Identity, r.DisplayName, r.Score,
		string(r.Answers), lastAnswerParam(r.LastAnswer), r.JoinedMs, r.UpdatedMs)
	return err
}

func (q *queries) updatePlayer(ctx context.Context, r store.PlayerRow) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE quiz_players SET
		   session_pin = $3, display_name = $4, score = $5, answers = $6, last_answer = $7, joined_ms = $8, updated_ms = $9
		 WHERE session_id = $1 AND identity = $2`,
		r.SessionID, r.Identity, r.SessionPin, r.DisplayName, r.Score,
		string(r.Answers), lastAnswerParam(r.LastAnswer), r.JoinedMs, r.UpdatedMs)
	return err
}

func (q *queries) listPlayers(ctx context.Context, sessionID string) ([]store.PlayerRow, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM quiz_players WHERE session_id = $1 ORDER BY joined_ms, seq`,
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
		 WHERE status = 'waiting' AND expires_ms < $1
		 ORDER BY expires_ms
		 LIMIT $2`, nowMs, limit)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func scanPlayerRow(sc store.RowScanner) (store.PlayerRow, error) {
	var (
		r    store.PlayerRow
		last pqtype.NullRawMessage
	)
	err := sc.Scan(&r.SessionID, &r.SessionPin, &r.Identity, &r.DisplayName, &r.Score,
		&r.Answers, &last, &r.JoinedMs, &r.UpdatedMs)
	if last.Valid {
		r.LastAnswer = last.RawMessage
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

func sessionArgs(r store.SessionRow) []any {
	args := store.SessionArgs(r)
	args[3] = string(r.Quiz)
	return args
}

func lastAnswerParam(b []byte) pqtype.NullRawMessage {
	return pqtype.NullRawMessage{RawMessage: b, Valid: b != nil}
}
