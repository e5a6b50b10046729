package domain

import "time"

// OptionCount is the fixed number of options per question.
const OptionCount = 4

// NoAnswer is the sentinel option meaning the viewer submitted nothing.
const NoAnswer = -1

// Question is one multiple-choice question with exactly one correct option.
// Immutable once a round references it; owned by the durable store.
type Question struct {
	ID        string              `json:"id"`
	Text      string              `json:"text"`
	Options   [OptionCount]string `json:"options"`
	Correct   int                 `json:"correct"`
	TimeLimit time.Duration       `json:"timeLimit"`
}

// QuizContent is the ordered question list for one quiz definition.
type QuizContent struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Questions []Question `json:"questions"`
}

// User is the internal identity behind an opaque viewer key.
type User struct {
	ID          string `json:"id"`
	ExternalKey string `json:"externalKey"`
	DisplayName string `json:"displayName"`
	Anonymous   bool   `json:"anonymous"`
}

// Answer is one recorded submission. At most one per user per round;
// immutable once recorded.
type Answer struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Option      int    `json:"option"`
	MarginMs    int64  `json:"marginMs"`
}

// Response is the durable row written for each answering user when a
// round closes.
type Response struct {
	InstanceID string
	QuizID     string
	QuestionID string
	UserID     string
	Option     int
	MarginMs   int64
	Points     int
	Correct    bool
}

// LeaderboardEntry is one scored row, ordered by points descending.
type LeaderboardEntry struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Points      int    `json:"points"`
}

// VoteCounts maps option index (including NoAnswer) to how many viewers
// picked it.
type VoteCounts map[int]int
