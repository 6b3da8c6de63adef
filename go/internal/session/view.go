package session

import (
	"time"

	"github.com/mcdev12/livequiz/go/internal/game/timer"
	"github.com/mcdev12/livequiz/go/internal/models"
)

// QuestionView is a question as shown to clients. The correct answer is
// only revealed once the question has closed.
type QuestionView struct {
	Index              int      `json:"index"`
	Text               string   `json:"text"`
	Options            []string `json:"options"`
	TimeLimitSec       int      `json:"time_limit_sec"`
	CorrectAnswerIndex *int     `json:"correct_answer_index,omitempty"`
}

// View is the client-facing state of a session at ServerTime.
type View struct {
	ID                       string               `json:"id"`
	Pin                      string               `json:"pin"`
	Status                   models.SessionStatus `json:"status"`
	QuizTitle                string               `json:"quiz_title"`
	QuestionCount            int                  `json:"question_count"`
	CurrentQuestionIndex     int                  `json:"current_question_index"`
	Question                 *QuestionView        `json:"question,omitempty"`
	QuestionStartTime        *time.Time           `json:"question_start_time,omitempty"`
	QuestionDurationSec      int                  `json:"question_duration_sec"`
	QuestionRemainingSec     int                  `json:"question_remaining_sec"`
	QuestionPlayerCount      int                  `json:"question_player_count"`
	IntermissionStartTime    *time.Time           `json:"intermission_start_time,omitempty"`
	IntermissionDurationSec  int                  `json:"intermission_duration_sec"`
	IntermissionRemainingSec int                  `json:"intermission_remaining_sec"`
	HostIdentity             string               `json:"host_identity"`
	CreatedAt                time.Time            `json:"created_at"`
	ExpiresAt                *time.Time           `json:"expires_at,omitempty"`
	ServerTime               time.Time            `json:"server_time"`
}

// NewView renders s as observed at now.
func NewView(s *models.Session, now time.Time) View {
	observed := s.Observe(now)
	v := View{
		ID:                       observed.ID.String(),
		Pin:                      observed.Pin,
		Status:                   observed.Status,
		QuizTitle:                observed.Quiz.Title,
		QuestionCount:            observed.Quiz.QuestionCount(),
		CurrentQuestionIndex:     observed.CurrentQuestionIndex,
		QuestionStartTime:        observed.QuestionStartTime,
		QuestionDurationSec:      observed.QuestionDurationSec,
		QuestionRemainingSec:     timer.QuestionRemaining(observed, now),
		QuestionPlayerCount:      observed.QuestionPlayerCount,
		IntermissionStartTime:    observed.IntermissionStartTime,
		IntermissionDurationSec:  observed.IntermissionDurationSec,
		IntermissionRemainingSec: timer.IntermissionRemaining(observed, now),
		HostIdentity:             observed.HostIdentity,
		CreatedAt:                observed.CreatedAt,
		ExpiresAt:                observed.ExpiresAt,
		ServerTime:               now,
	}

	switch observed.Status {
	case models.SessionStatusPlaying, models.SessionStatusIntermission:
		if q, ok := observed.CurrentQuestion(); ok {
			qv := &QuestionView{
				Index:        observed.CurrentQuestionIndex,
				Text:         q.Text,
				Options:      append([]string(nil), q.Options...),
				TimeLimitSec: q.TimeLimitSec,
			}
			if observed.Status == models.SessionStatusIntermission {
				correct := q.CorrectAnswerIndex
				qv.CorrectAnswerIndex = &correct
			}
			v.Question = qv
		}
	}
	return v
}
