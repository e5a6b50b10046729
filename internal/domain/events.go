package domain

// Event names on the websocket wire. Viewer events go to every connected
// viewer; control events only to the registered control panel connection.
const (
	EventQuizReady            = "quiz-ready"
	EventStartQuestion        = "start-question"
	EventStartQuestionControl = "start-question-control-panel"
	EventLiveRoundUpdate      = "live-round-update"
	EventRoundEnd             = "round-end"
	EventShowFinalResults     = "show-final-results"
	EventQuizEnd              = "quiz-end"
)

// QuizReadyEvent announces an activated quiz.
type QuizReadyEvent struct {
	QuizID string `json:"quizId"`
	Name   string `json:"name"`
}

// StartQuestionEvent opens a round for viewers. The correct option is
// deliberately absent.
type StartQuestionEvent struct {
	QuizID     string              `json:"quizId"`
	QuestionID string              `json:"questionId"`
	Text       string              `json:"text"`
	Options    [OptionCount]string `json:"options"`
	TimeLimit  int                 `json:"timeLimit"`
}

// StartQuestionControlEvent is the control-panel variant carrying the
// correct option. Never broadcast generally.
type StartQuestionControlEvent struct {
	StartQuestionEvent
	CorrectOption int `json:"correctOption"`
}

// LiveRoundUpdateEvent is pushed to the control panel on every accepted
// submission.
type LiveRoundUpdateEvent struct {
	PartialLeaderboard []LeaderboardEntry `json:"partialLeaderboard"`
	VoteCounts         VoteCounts         `json:"voteCounts"`
	Received           int                `json:"received"`
	Expected           int                `json:"expected"`
}

// RoundEndEvent is broadcast once per closed round.
type RoundEndEvent struct {
	Leaderboard      []LeaderboardEntry `json:"leaderboard"`
	CumulativeScores []LeaderboardEntry `json:"cumulativeScores"`
	CorrectOption    int                `json:"correctOption"`
	VoteCounts       VoteCounts         `json:"voteCounts"`
}

// FinalResultsEvent is broadcast when the last question has been played.
type FinalResultsEvent struct {
	FinalScores []LeaderboardEntry `json:"finalScores"`
}

// QuizEndEvent is broadcast when the session ends before its last question.
type QuizEndEvent struct {
	FinalScores []LeaderboardEntry `json:"finalScores"`
	ManualStop  bool               `json:"manualStop"`
}
