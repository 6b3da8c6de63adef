package models

import (
	"errors"
	"fmt"
	"strings"
)

// OptionsPerQuestion is the fixed number of answer options every question carries.
const OptionsPerQuestion = 4

// DefaultQuestionTimeSec is used when a question does not specify a time limit.
const DefaultQuestionTimeSec = 20

// Question is a single multiple-choice question.
type Question struct {
	Text               string   `json:"text" yaml:"text"`
	Options            []string `json:"options" yaml:"options"`
	CorrectAnswerIndex int      `json:"correct_answer_index" yaml:"correct_answer_index"`
	TimeLimitSec       int      `json:"time_limit_sec" yaml:"time_limit_sec"`
}

// Quiz is an ordered list of questions. Once embedded in a Session it is never mutated.
type Quiz struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description,omitempty" yaml:"description"`
	Category    string     `json:"category,omitempty" yaml:"category"`
	Questions   []Question `json:"questions" yaml:"questions"`
}

// QuestionCount returns the number of questions in the quiz.
func (q Quiz) QuestionCount() int {
	return len(q.Questions)
}

// Question returns the question at index i.
func (q Quiz) Question(i int) (Question, bool) {
	if i < 0 || i >= len(q.Questions) {
		return Question{}, false
	}
	return q.Questions[i], true
}

// Clone returns a deep copy of the quiz, suitable for use as a session snapshot.
func (q Quiz) Clone() Quiz {
	out := q
	out.Questions = make([]Question, len(q.Questions))
	for i, question := range q.Questions {
		out.Questions[i] = question
		out.Questions[i].Options = append([]string(nil), question.Options...)
	}
	return out
}

// Normalize trims text fields and fills in default time limits.
func (q *Quiz) Normalize() {
	q.Title = strings.TrimSpace(q.Title)
	for i := range q.Questions {
		q.Questions[i].Text = strings.TrimSpace(q.Questions[i].Text)
		if q.Questions[i].TimeLimitSec == 0 {
			q.Questions[i].TimeLimitSec = DefaultQuestionTimeSec
		}
	}
}

// Validate checks the structural rules every quiz snapshot must satisfy.
func (q Quiz) Validate() error {
	if strings.TrimSpace(q.Title) == "" {
		return errors.New("quiz title is required")
	}
	if len(q.Questions) == 0 {
		return errors.New("quiz must have at least one question")
	}
	for i, question := range q.Questions {
		if err := question.Validate(); err != nil {
			return fmt.Errorf("question %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks a single question.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return errors.New("question text is required")
	}
	if len(q.Options) != OptionsPerQuestion {
		return fmt.Errorf("question must have exactly %d options, got %d", OptionsPerQuestion, len(q.Options))
	}
	if q.CorrectAnswerIndex < 0 || q.CorrectAnswerIndex >= OptionsPerQuestion {
		return fmt.Errorf("correct answer index %d out of range", q.CorrectAnswerIndex)
	}
	if q.TimeLimitSec <= 0 {
		return fmt.Errorf("time limit must be positive, got %d", q.TimeLimitSec)
	}
	return nil
}
