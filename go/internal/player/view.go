package player

import (
	"time"

	"github.com/mcdev12/livequiz/go/internal/models"
)

// View is a player as shown on the leaderboard.
type View struct {
	Identity          string    `json:"identity"`
	DisplayName       string    `json:"display_name"`
	Score             int       `json:"score"`
	Rank              int       `json:"rank"`
	AnsweredQuestions []int     `json:"answered_questions"`
	LastAnswer        *int      `json:"last_answer,omitempty"`
	LastAnswerTime    *int      `json:"last_answer_time,omitempty"`
	JoinedAt          time.Time `json:"joined_at"`
}

// NewView renders p with its leaderboard rank.
func NewView(p *models.Player, rank int) View {
	answered := make([]int, 0, len(p.Answers))
	for _, a := range p.Answers {
		answered = append(answered, a.QuestionIndex)
	}
	return View{
		Identity:          p.Identity,
		DisplayName:       p.DisplayName,
		Score:             p.Score,
		Rank:              rank,
		AnsweredQuestions: answered,
		LastAnswer:        p.LastAnswer,
		LastAnswerTime:    p.LastAnswerTime,
		JoinedAt:          p.JoinedAt,
	}
}

// Leaderboard renders players, already in leaderboard order, with ranks.
// Players with equal scores share a rank.
func Leaderboard(players []*models.Player) []View {
	out := make([]View, len(players))
	rank := 0
	for i, p := range players {
		if i == 0 || p.Score != players[i-1].Score {
			rank = i + 1
		}
		out[i] = NewView(p, rank)
	}
	return out
}

// CountAnswered returns how many of views answered questionIndex.
func CountAnswered(views []View, questionIndex int) int {
	n := 0
	for _, v := range views {
		for _, q := range v.AnsweredQuestions {
			if q == questionIndex {
				n++
				break
			}
		}
	}
	return n
}
