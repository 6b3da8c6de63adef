package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/sqlutil"
)

var pinPattern = regexp.MustCompile(`^[1-9][0-9]{5}$`)

// ValidPin reports whether pin is a six digit code in [100000, 999999].
func ValidPin(pin string) bool {
	return pinPattern.MatchString(pin)
}

// SessionRow is the column layout SQL adapters read and write.
type SessionRow struct {
	ID                      string
	Pin                     string
	Status                  string
	Quiz                    []byte
	CurrentQuestionIndex    int64
	QuestionStartMs         sql.NullInt64
	QuestionDurationSec     int64
	QuestionPlayerCount     int64
	IntermissionStartMs     sql.NullInt64
	IntermissionDurationSec int64
	HostIdentity            string
	CreatedMs               int64
	ExpiresMs               sql.NullInt64
	UpdatedMs               int64
}

// PlayerRow is the column layout SQL adapters read and write.
// LastAnswer is nil when the player has not answered yet.
type PlayerRow struct {
	SessionID   string
	SessionPin  string
	Identity    string
	DisplayName string
	Score       int64
	Answers     []byte
	LastAnswer  []byte
	JoinedMs    int64
	UpdatedMs   int64
}

type lastAnswerDoc struct {
	AnswerIndex int `json:"answer_index"`
	TimeLeftSec int `json:"time_left_sec"`
}

// EncodeSession converts a session to its row form.
func EncodeSession(s *models.Session) (SessionRow, error) {
	quiz, err := json.Marshal(s.Quiz)
	if err != nil {
		return SessionRow{}, fmt.Errorf("failed to encode quiz snapshot: %w", err)
	}
	return SessionRow{
		ID:                      s.ID.String(),
		Pin:                     s.Pin,
		Status:                  string(s.Status),
		Quiz:                    quiz,
		CurrentQuestionIndex:    int64(s.CurrentQuestionIndex),
		QuestionStartMs:         sqlutil.ToNullMillis(s.QuestionStartTime),
		QuestionDurationSec:     int64(s.QuestionDurationSec),
		QuestionPlayerCount:     int64(s.QuestionPlayerCount),
		IntermissionStartMs:     sqlutil.ToNullMillis(s.IntermissionStartTime),
		IntermissionDurationSec: int64(s.IntermissionDurationSec),
		HostIdentity:            s.HostIdentity,
		CreatedMs:               sqlutil.ToMillis(s.CreatedAt),
		ExpiresMs:               sqlutil.ToNullMillis(s.ExpiresAt),
		UpdatedMs:               sqlutil.ToMillis(s.UpdatedAt),
	}, nil
}

// DecodeSession parses a row into a session, rejecting anything outside the schema.
func DecodeSession(r SessionRow) (*models.Session, error) {
	fail := func(field string, err error) error {
		return &DeserializationError{Entity: "session", Key: r.ID, Field: field, Err: err}
	}

	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fail("id", err)
	}
	if !ValidPin(r.Pin) {
		return nil, fail("pin", fmt.Errorf("invalid pin %q", r.Pin))
	}
	status, err := models.ParseSessionStatus(r.Status)
	if err != nil {
		return nil, fail("status", err)
	}
	var quiz models.Quiz
	if err := decodeStrict(r.Quiz, &quiz); err != nil {
		return nil, fail("quiz", err)
	}
	if err := quiz.Validate(); err != nil {
		return nil, fail("quiz", err)
	}
	if r.CurrentQuestionIndex < 0 || int(r.CurrentQuestionIndex) >= quiz.QuestionCount() {
		return nil, fail("current_question_index", fmt.Errorf("index %d outside quiz of %d questions", r.CurrentQuestionIndex, quiz.QuestionCount()))
	}
	if r.QuestionDurationSec < 0 || r.IntermissionDurationSec < 0 || r.QuestionPlayerCount < 0 {
		return nil, fail("durations", errors.New("negative value"))
	}
	if status == models.SessionStatusPlaying && !r.QuestionStartMs.Valid {
		return nil, fail("question_start_time", errors.New("required while playing"))
	}
	if status == models.SessionStatusIntermission && !r.IntermissionStartMs.Valid {
		return nil, fail("intermission_start_time", errors.New("required during intermission"))
	}
	if status == models.SessionStatusWaiting && !r.ExpiresMs.Valid {
		return nil, fail("expires_at", errors.New("required while waiting"))
	}

	return &models.Session{
		ID:                      id,
		Pin:                     r.Pin,
		Status:                  status,
		Quiz:                    quiz,
		CurrentQuestionIndex:    int(r.CurrentQuestionIndex),
		QuestionStartTime:       sqlutil.FromNullMillis(r.QuestionStartMs),
		QuestionDurationSec:     int(r.QuestionDurationSec),
		QuestionPlayerCount:     int(r.QuestionPlayerCount),
		IntermissionStartTime:   sqlutil.FromNullMillis(r.IntermissionStartMs),
		IntermissionDurationSec: int(r.IntermissionDurationSec),
		HostIdentity:            r.HostIdentity,
		CreatedAt:               sqlutil.FromMillis(r.CreatedMs),
		ExpiresAt:               sqlutil.FromNullMillis(r.ExpiresMs),
		UpdatedAt:               sqlutil.FromMillis(r.UpdatedMs),
	}, nil
}

// EncodePlayer converts a player to its row form.
func EncodePlayer(p *models.Player) (PlayerRow, error) {
	answers := p.Answers
	if answers == nil {
		answers = []models.Answer{}
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return PlayerRow{}, fmt.Errorf("failed to encode answers: %w", err)
	}
	var last []byte
	if p.LastAnswer != nil && p.LastAnswerTime != nil {
		last, err = json.Marshal(lastAnswerDoc{AnswerIndex: *p.LastAnswer, TimeLeftSec: *p.LastAnswerTime})
		if err != nil {
			return PlayerRow{}, fmt.Errorf("failed to encode last answer: %w", err)
		}
	}
	return PlayerRow{
		SessionID:   p.SessionID.String(),
		SessionPin:  p.SessionPin,
		Identity:    p.Identity,
		DisplayName: p.DisplayName,
		Score:       int64(p.Score),
		Answers:     answersJSON,
		LastAnswer:  last,
		JoinedMs:    sqlutil.ToMillis(p.JoinedAt),
		UpdatedMs:   sqlutil.ToMillis(p.UpdatedAt),
	}, nil
}

// DecodePlayer parses a row into a player and checks the score invariants.
func DecodePlayer(r PlayerRow) (*models.Player, error) {
	key := r.SessionID + "/" + r.Identity
	fail := func(field string, err error) error {
		return &DeserializationError{Entity: "player", Key: key, Field: field, Err: err}
	}

	sessionID, err := uuid.Parse(r.SessionID)
	if err != nil {
		return nil, fail("session_id", err)
	}
	if r.Identity == "" {
		return nil, fail("identity", errors.New("empty identity"))
	}
	var answers []models.Answer
	if err := decodeStrict(r.Answers, &answers); err != nil {
		return nil, fail("answers", err)
	}
	seen := make(map[int]bool, len(answers))
	sum := 0
	for _, a := range answers {
		if seen[a.QuestionIndex] {
			return nil, fail("answers", fmt.Errorf("duplicate answer for question %d", a.QuestionIndex))
		}
		seen[a.QuestionIndex] = true
		sum += a.PointsEarned
	}
	if r.Score < 0 || int(r.Score) != sum {
		return nil, fail("score", fmt.Errorf("score %d does not match answers total %d", r.Score, sum))
	}

	p := &models.Player{
		SessionID:   sessionID,
		SessionPin:  r.SessionPin,
		Identity:    r.Identity,
		DisplayName: r.DisplayName,
		Score:       int(r.Score),
		Answers:     answers,
		JoinedAt:    sqlutil.FromMillis(r.JoinedMs),
		UpdatedAt:   sqlutil.FromMillis(r.UpdatedMs),
	}
	if len(r.LastAnswer) > 0 {
		var last lastAnswerDoc
		if err := decodeStrict(r.LastAnswer, &last); err != nil {
			return nil, fail("last_answer", err)
		}
		p.LastAnswer = &last.AnswerIndex
		p.LastAnswerTime = &last.TimeLeftSec
	}
	return p, nil
}

func decodeStrict(data []byte, v any) error {
	if len(data) == 0 {
		return errors.New("empty document")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after document")
	}
	return nil
}
