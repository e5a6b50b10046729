package app

import (
	"sort"

	"twitch-trivia-service/internal/domain"

	"go.uber.org/zap"
)

// RoundResult is the outcome of scoring one closed round.
type RoundResult struct {
	Points      map[string]int
	Leaderboard []domain.LeaderboardEntry
	Votes       domain.VoteCounts
}

// ScoreRound scores a round's answers against the correct option.
//
// The answers slice must be in submission order; ties on points keep that
// order (stable sort), so two viewers with equal points rank by who answered
// first. A correct answer is worth its remaining-time margin, an incorrect
// one the negated margin, and the no-answer sentinel zero. Options outside
// the valid range are logged and excluded from both points and the tally.
func ScoreRound(answers []domain.Answer, correct int, logger *zap.Logger) RoundResult {
	points := make(map[string]int, len(answers))
	entries := make([]domain.LeaderboardEntry, 0, len(answers))
	votes := make(domain.VoteCounts, domain.OptionCount+1)
	for opt := 0; opt < domain.OptionCount; opt++ {
		votes[opt] = 0
	}
	votes[domain.NoAnswer] = 0

	for _, a := range answers {
		switch {
		case a.Option == domain.NoAnswer:
			points[a.UserID] = 0
		case a.Option < 0 || a.Option >= domain.OptionCount:
			logger.Warn("discarding answer with invalid option",
				zap.String("user_id", a.UserID),
				zap.Int("option", a.Option))
			continue
		case a.Option == correct:
			points[a.UserID] = int(a.MarginMs)
		default:
			points[a.UserID] = -int(a.MarginMs)
		}
		votes[a.Option]++
		entries = append(entries, domain.LeaderboardEntry{
			UserID:      a.UserID,
			DisplayName: a.DisplayName,
			Points:      points[a.UserID],
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Points > entries[j].Points
	})
	return RoundResult{Points: points, Leaderboard: entries, Votes: votes}
}
