package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Answer is a player's recorded response to one question.
type Answer struct {
	QuestionIndex int       `json:"question_index"`
	AnswerIndex   int       `json:"answer_index"`
	TimeLeftSec   int       `json:"time_left_sec"`
	IsCorrect     bool      `json:"is_correct"`
	PointsEarned  int       `json:"points_earned"`
	AnsweredAt    time.Time `json:"answered_at"`
}

// Player is a participant in a session, keyed by (SessionID, Identity).
type Player struct {
	SessionID   uuid.UUID `json:"session_id"`
	SessionPin  string    `json:"session_pin"`
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`
	Score       int       `json:"score"`
	Answers     []Answer  `json:"answers"`

	// LastAnswer and LastAnswerTime cache the most recent submission for display.
	LastAnswer     *int `json:"last_answer,omitempty"`
	LastAnswerTime *int `json:"last_answer_time,omitempty"`

	JoinedAt  time.Time `json:"joined_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AnswerFor returns the recorded answer for questionIndex, if any.
func (p *Player) AnswerFor(questionIndex int) (Answer, bool) {
	for _, a := range p.Answers {
		if a.QuestionIndex == questionIndex {
			return a, true
		}
	}
	return Answer{}, false
}

// HasAnswered reports whether the player already answered questionIndex.
func (p *Player) HasAnswered(questionIndex int) bool {
	_, ok := p.AnswerFor(questionIndex)
	return ok
}

// Clone returns a deep copy of the player.
func (p *Player) Clone() *Player {
	if p == nil {
		return nil
	}
	out := *p
	out.Answers = append([]Answer(nil), p.Answers...)
	if p.LastAnswer != nil {
		v := *p.LastAnswer
		out.LastAnswer = &v
	}
	if p.LastAnswerTime != nil {
		v := *p.LastAnswerTime
		out.LastAnswerTime = &v
	}
	return &out
}

// CountAnswered returns how many distinct players have answered questionIndex.
func CountAnswered(players []*Player, questionIndex int) int {
	n := 0
	for _, p := range players {
		if p.HasAnswered(questionIndex) {
			n++
		}
	}
	return n
}

// SortLeaderboard orders players by score, highest first; ties go to the earliest joiner.
func SortLeaderboard(players []*Player) {
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		return players[i].JoinedAt.Before(players[j].JoinedAt)
	})
}
