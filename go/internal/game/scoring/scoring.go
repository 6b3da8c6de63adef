// Package scoring computes the points awarded for an answer.
package scoring

import "math"

const (
	// BasePoints is awarded for any correct answer.
	BasePoints = 1000
	// MaxSpeedBonus is the extra awarded for answering with the full time left.
	MaxSpeedBonus = 500
)

// Score returns the points for an answer. Incorrect answers score 0; correct
// answers score BasePoints plus a speed bonus proportional to the time left,
// with timeLeft clamped to [0, timeLimit].
func Score(isCorrect bool, timeLeft, timeLimit int) int {
	if !isCorrect {
		return 0
	}
	if timeLimit <= 0 {
		return BasePoints
	}
	left := min(max(timeLeft, 0), timeLimit)
	return BasePoints + int(math.Round(float64(left)/float64(timeLimit)*MaxSpeedBonus))
}
