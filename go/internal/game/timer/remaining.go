// Package timer derives countdowns from the authoritative timestamps stored on
// a session and drives the host's one-shot expiry callbacks.
package timer

import (
	"time"

	"github.com/mcdev12/livequiz/go/internal/models"
)

// Remaining returns the whole seconds left in a window of durationSec that
// started at start: max(0, duration - floor(elapsed / 1s)). A start in the
// future (clock skew) counts as zero elapsed.
func Remaining(start time.Time, durationSec int, now time.Time) int {
	elapsedMs := now.Sub(start).Milliseconds()
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	return max(0, durationSec-int(elapsedMs/1000))
}

// Deadline returns the instant a window of durationSec starting at start closes.
func Deadline(start time.Time, durationSec int) time.Time {
	return start.Add(time.Duration(durationSec) * time.Second)
}

// QuestionRemaining is the time left to answer the current question.
// It is zero whenever the session is not accepting answers.
func QuestionRemaining(s *models.Session, now time.Time) int {
	if s.Status != models.SessionStatusPlaying || s.QuestionStartTime == nil {
		return 0
	}
	return Remaining(*s.QuestionStartTime, s.QuestionDurationSec, now)
}

// IntermissionRemaining is the time left before the next question is shown.
func IntermissionRemaining(s *models.Session, now time.Time) int {
	if s.Status != models.SessionStatusIntermission || s.IntermissionStartTime == nil {
		return 0
	}
	return Remaining(*s.IntermissionStartTime, s.IntermissionDurationSec, now)
}
