package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusWaiting      SessionStatus = "waiting"
	SessionStatusPlaying      SessionStatus = "playing"
	SessionStatusIntermission SessionStatus = "intermission"
	SessionStatusFinished     SessionStatus = "finished"
	SessionStatusExpired      SessionStatus = "expired"
)

// ParseSessionStatus converts a stored value into a SessionStatus.
// Anything outside the closed set is rejected.
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch status := SessionStatus(s); status {
	case SessionStatusWaiting,
		SessionStatusPlaying,
		SessionStatusIntermission,
		SessionStatusFinished,
		SessionStatusExpired:
		return status, nil
	default:
		return "", fmt.Errorf("unknown session status %q", s)
	}
}

// Terminal reports whether no further transitions are accepted from this status.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusFinished || s == SessionStatusExpired
}

// Session is one hosted run of a quiz, addressed by its PIN.
type Session struct {
	ID                      uuid.UUID     `json:"id"`
	Pin                     string        `json:"pin"`
	Status                  SessionStatus `json:"status"`
	Quiz                    Quiz          `json:"quiz"`
	CurrentQuestionIndex    int           `json:"current_question_index"`
	QuestionStartTime       *time.Time    `json:"question_start_time,omitempty"`
	QuestionDurationSec     int           `json:"question_duration_sec"`
	QuestionPlayerCount     int           `json:"question_player_count"`
	IntermissionStartTime   *time.Time    `json:"intermission_start_time,omitempty"`
	IntermissionDurationSec int           `json:"intermission_duration_sec"`
	HostIdentity            string        `json:"host_identity"`
	CreatedAt               time.Time     `json:"created_at"`
	ExpiresAt               *time.Time    `json:"expires_at,omitempty"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Quiz = s.Quiz.Clone()
	out.QuestionStartTime = cloneTime(s.QuestionStartTime)
	out.IntermissionStartTime = cloneTime(s.IntermissionStartTime)
	out.ExpiresAt = cloneTime(s.ExpiresAt)
	return &out
}

// ExpiredAt reports whether a Waiting session has outlived its TTL at now.
func (s *Session) ExpiredAt(now time.Time) bool {
	return s.Status == SessionStatusWaiting && s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// EffectiveStatus is the status every reader must observe at now,
// including lazy expiry of lobbies that were never started.
func (s *Session) EffectiveStatus(now time.Time) SessionStatus {
	if s.ExpiredAt(now) {
		return SessionStatusExpired
	}
	return s.Status
}

// Observe returns a copy of the session as it must be seen at now.
func (s *Session) Observe(now time.Time) *Session {
	out := s.Clone()
	out.Status = s.EffectiveStatus(now)
	return out
}

// Live reports whether the session still holds its PIN at now.
func (s *Session) Live(now time.Time) bool {
	return !s.EffectiveStatus(now).Terminal()
}

// CurrentQuestion returns the question the session is positioned on.
func (s *Session) CurrentQuestion() (Question, bool) {
	return s.Quiz.Question(s.CurrentQuestionIndex)
}

// HasNextQuestion reports whether another question follows the current one.
func (s *Session) HasNextQuestion() bool {
	return s.CurrentQuestionIndex+1 < s.Quiz.QuestionCount()
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
