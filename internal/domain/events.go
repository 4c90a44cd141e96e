package domain

import "time"

// EventType tags a message bus delivery.
type EventType string

const (
	EventPlayerJoined  EventType = "playerJoined"
	EventPlayerLeft    EventType = "playerLeft"
	EventGameStarted   EventType = "gameStarted"
	EventNewQuestion   EventType = "newQuestion"
	EventAnswerReview  EventType = "answerReview"
	EventAnswerResult  EventType = "answerResult"
	EventRewardOptions EventType = "rewardOptions"
	EventHacked        EventType = "hacked"
	EventHackSuccess   EventType = "hackSuccess"
	EventLeaderboard   EventType = "leaderboard"
	EventGameEnded     EventType = "gameEnded"
)

// Event is a single message bus delivery, addressed to a session topic or a
// specific recipient by the engine.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// PlayerJoinedPayload announces a new roster member to the session and teacher.
type PlayerJoinedPayload struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
	PlayerCount int    `json:"playerCount"`
}

// PlayerLeftPayload announces a pre-start departure.
type PlayerLeftPayload struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
}

// GameStartedPayload carries the configured limits to all players.
type GameStartedPayload struct {
	TimeLimitSec  int       `json:"timeLimitSec"`
	TargetCredits int       `json:"targetCredits"`
	StartedAt     time.Time `json:"startedAt"`
}

// QuestionPayload is a point-to-point question delivery. Answers holds the
// correct answer and distractors in a freshly randomized order.
type QuestionPayload struct {
	QuestionID       string   `json:"questionId"`
	Prompt           string   `json:"prompt"`
	Answers          []string `json:"answers"`
	Difficulty       int      `json:"difficulty"`
	ImageURL         string   `json:"imageUrl,omitempty"`
	TimeAllowanceSec int      `json:"timeAllowanceSec"`
}

// AnswerReviewPayload is the teacher-facing notification for every submission.
type AnswerReviewPayload struct {
	PlayerID     string  `json:"playerId"`
	DisplayName  string  `json:"displayName"`
	QuestionID   string  `json:"questionId"`
	Correct      bool    `json:"correct"`
	CorrectSum   int     `json:"correctSum"`
	IncorrectSum int     `json:"incorrectSum"`
	Accuracy     float64 `json:"accuracy"`
}

// AnswerResultPayload is the player-facing outcome of an incorrect (or stale)
// submission.
type AnswerResultPayload struct {
	QuestionID    string `json:"questionId"`
	Correct       bool   `json:"correct"`
	CorrectAnswer string `json:"correctAnswer,omitempty"`
	Explanation   string `json:"explanation,omitempty"`
}

// RewardOption is one of the fixed choices offered after a correct answer.
type RewardOption struct {
	Type        RewardType `json:"type"`
	Credits     int        `json:"credits,omitempty"`
	DurationSec int        `json:"durationSec,omitempty"`
}

// RewardOptionsPayload offers the reward menu to the answering player.
type RewardOptionsPayload struct {
	QuestionID string         `json:"questionId"`
	Options    []RewardOption `json:"options"`
}

// HackedPayload tells a player they were successfully hacked and which
// mini-challenge they must now complete (resolved outside this engine).
type HackedPayload struct {
	AttackerID   string `json:"attackerId"`
	AttackerName string `json:"attackerName"`
	CreditsLost  int    `json:"creditsLost"`
	Challenge    string `json:"challenge"`
}

// HackSuccessPayload is broadcast to the whole session and the teacher.
type HackSuccessPayload struct {
	AttackerID    string `json:"attackerId"`
	AttackerName  string `json:"attackerName"`
	TargetID      string `json:"targetId"`
	TargetName    string `json:"targetName"`
	CreditsStolen int    `json:"creditsStolen"`
}

// GameEndedPayload carries the final leaderboard.
type GameEndedPayload struct {
	Leaderboard Leaderboard `json:"leaderboard"`
	EndedAt     time.Time   `json:"endedAt"`
}
