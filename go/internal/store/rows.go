package store

// SessionColumns is the column order ScanSessionRow expects.
const SessionColumns = `id, pin, status, quiz, current_question_index, question_start_ms,
	question_duration_sec, question_player_count, intermission_start_ms,
	intermission_duration_sec, host_identity, created_ms, expires_ms, updated_ms`

// RowScanner is satisfied by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// ScanSessionRow reads one row selected with SessionColumns.
func ScanSessionRow(sc RowScanner) (SessionRow, error) {
	var r SessionRow
	err := sc.Scan(
		&r.ID,
		&r.Pin,
		&r.Status,
		&r.Quiz,
		&r.CurrentQuestionIndex,
		&r.QuestionStartMs,
		&r.QuestionDurationSec,
		&r.QuestionPlayerCount,
		&r.IntermissionStartMs,
		&r.IntermissionDurationSec,
		&r.HostIdentity,
		&r.CreatedMs,
		&r.ExpiresMs,
		&r.UpdatedMs,
	)
	return r, err
}

// SessionArgs returns the values of r in SessionColumns order.
func SessionArgs(r SessionRow) []any {
	return []any{
		r.ID,
		r.Pin,
		r.Status,
		r.Quiz,
		r.CurrentQuestionIndex,
		r.QuestionStartMs,
		r.QuestionDurationSec,
		r.QuestionPlayerCount,
		r.IntermissionStartMs,
		r.IntermissionDurationSec,
		r.HostIdentity,
		r.CreatedMs,
		r.ExpiresMs,
		r.UpdatedMs,
	}
}
