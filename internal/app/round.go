package app

import (
	"time"

	"twitch-trivia-service/internal/domain"
)

type roundPhase int

const (
	roundOpen roundPhase = iota
	roundClosing
	roundClosed
)

// Round tracks the single in-flight question: its answers in submission
// order, the deadline, and the close guard. A Round has no lock of its own;
// the owning Game serializes all access.
type Round struct {
	Question domain.Question
	Index    int
	Deadline time.Time
	Expected int

	phase     roundPhase
	answers   map[string]domain.Answer
	order     []string
	stopTimer func() bool
}

func newRound(q domain.Question, index int, deadline time.Time, expected int) *Round {
	return &Round{
		Question: q,
		Index:    index,
		Deadline: deadline,
		Expected: expected,
		answers:  make(map[string]domain.Answer),
	}
}

// Submit records an answer, first write wins. It reports false and changes
// nothing when the round is no longer open, the option is the no-answer
// sentinel or out of range, the margin is not positive, or the user already
// answered.
func (r *Round) Submit(a domain.Answer) bool {
	if r.phase != roundOpen {
		return false
	}
	if a.Option == domain.NoAnswer || a.MarginMs <= 0 {
		return false
	}
	if a.Option < 0 || a.Option >= domain.OptionCount {
		return false
	}
	if _, dup := r.answers[a.UserID]; dup {
		return false
	}
	r.answers[a.UserID] = a
	r.order = append(r.order, a.UserID)
	return true
}

// Received is the number of recorded answers.
func (r *Round) Received() int {
	return len(r.order)
}

// Answers returns the recorded answers in submission order.
func (r *Round) Answers() []domain.Answer {
	out := make([]domain.Answer, 0, len(r.order))
	for _, userID := range r.order {
		out = append(out, r.answers[userID])
	}
	return out
}

// BeginClose claims the open → closing transition. Exactly one caller wins;
// the timer and any manual trigger both go through here, which is what makes
// close idempotent.
func (r *Round) BeginClose() bool {
	if r.phase != roundOpen {
		return false
	}
	r.phase = roundClosing
	return true
}

// FinishClose marks the round fully closed.
func (r *Round) FinishClose() {
	r.phase = roundClosed
}

// Relink moves an in-flight answer from one identity to another during a
// merge. If the target identity already answered, the anonymous answer is
// dropped (the target's answer was recorded first and wins).
func (r *Round) Relink(fromUserID string, to domain.User) {
	a, ok := r.answers[fromUserID]
	if !ok {
		return
	}
	delete(r.answers, fromUserID)
	if _, taken := r.answers[to.ID]; taken {
		for i, id := range r.order {
			if id == fromUserID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		return
	}
	a.UserID = to.ID
	a.DisplayName = to.DisplayName
	r.answers[to.ID] = a
	for i, id := range r.order {
		if id == fromUserID {
			r.order[i] = to.ID
			break
		}
	}
}

// CancelTimer stops the armed deadline timer, if any. Safe to call twice.
func (r *Round) CancelTimer() {
	if r.stopTimer != nil {
		r.stopTimer()
	}
}
