// Package events defines the domain events a session emits and the
// publishers that carry them off-process.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livequiz/go/internal/models"
)

type Type string

const (
	TypeSessionCreated  Type = "SessionCreated"
	TypePlayerJoined    Type = "PlayerJoined"
	TypeGameStarted     Type = "GameStarted"
	TypeAnswerRecorded  Type = "AnswerRecorded"
	TypeQuestionEnded   Type = "QuestionEnded"
	TypeQuestionStarted Type = "QuestionStarted"
	TypeGameFinished    Type = "GameFinished"
	TypeSessionExpired  Type = "SessionExpired"
)

// Event is the envelope every domain event travels in.
type Event struct {
	ID         uuid.UUID       `json:"event_id"`
	Type       Type            `json:"event_type"`
	SessionID  uuid.UUID       `json:"session_id"`
	SessionPin string          `json:"session_pin"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// New wraps payload in an envelope for session.
func New(t Type, session *models.Session, at time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Event{
		ID:         uuid.New(),
		Type:       t,
		SessionID:  session.ID,
		SessionPin: session.Pin,
		OccurredAt: at.UTC(),
		Payload:    data,
	}, nil
}

// DecodePayload unmarshals the event payload into v.
func (e Event) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// QuestionEndCause records why a question closed.
type QuestionEndCause string

const (
	CauseTimeUp    QuestionEndCause = "time_up"
	CauseThreshold QuestionEndCause = "threshold"
)

type SessionCreatedPayload struct {
	QuizID        string    `json:"quiz_id"`
	QuizTitle     string    `json:"quiz_title"`
	QuestionCount int       `json:"question_count"`
	HostIdentity  string    `json:"host_identity"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type PlayerJoinedPayload struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	Rejoined    bool   `json:"rejoined"`
}

type GameStartedPayload struct {
	PlayerCount   int `json:"player_count"`
	QuestionCount int `json:"question_count"`
}

type QuestionStartedPayload struct {
	QuestionIndex int       `json:"question_index"`
	DurationSec   int       `json:"duration_sec"`
	StartedAt     time.Time `json:"started_at"`
	PlayerCount   int       `json:"player_count"`
}

type AnswerRecordedPayload struct {
	Identity      string `json:"identity"`
	QuestionIndex int    `json:"question_index"`
	IsCorrect     bool   `json:"is_correct"`
	PointsEarned  int    `json:"points_earned"`
	Score         int    `json:"score"`
}

type QuestionEndedPayload struct {
	QuestionIndex   int              `json:"question_index"`
	Cause           QuestionEndCause `json:"cause"`
	IntermissionSec int              `json:"intermission_sec"`
}

type GameFinishedPayload struct {
	QuestionCount int `json:"question_count"`
}

type SessionExpiredPayload struct {
	ExpiredAt time.Time `json:"expired_at"`
}
