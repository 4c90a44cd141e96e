package domain

import "time"

// SessionStatus is the lifecycle state of a game session.
type SessionStatus string

const (
	StatusWaiting SessionStatus = "waiting"
	StatusActive  SessionStatus = "active"
	// StatusPaused is declared for forward compatibility; no transition
	// into or out of it is implemented.
	StatusPaused SessionStatus = "paused"
	StatusEnded  SessionStatus = "ended"
)

// Question is a single immutable quiz question.
type Question struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Answer      string   `json:"answer"`
	Distractors []string `json:"distractors"`
	Difficulty  int      `json:"difficulty"` // 1..5
	ImageURL    string   `json:"imageUrl,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	Order       int      `json:"order"`
}

// QuestionSet is an ordered collection of questions loaded from a backing store.
type QuestionSet struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// RewardType identifies one of the three fixed rewards for a correct answer.
type RewardType string

const (
	RewardCredits RewardType = "credits"
	RewardShield  RewardType = "shield"
	RewardHack    RewardType = "hack"
)

// PlayerSummary is the roster view of a player, safe to share with other players.
type PlayerSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
	Connected   bool   `json:"connected"`
}

// LeaderboardEntry is one ranked row of a session leaderboard.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
	Credits     int    `json:"credits"`
}

// Leaderboard captures the ordered scoreboard for a session at a point in time.
type Leaderboard struct {
	SessionCode string             `json:"sessionCode"`
	Entries     []LeaderboardEntry `json:"entries"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// SessionInfo is the descriptor returned by create-session and get-session-info.
type SessionInfo struct {
	Code          string          `json:"code"`
	TeacherID     string          `json:"teacherId"`
	GameType      string          `json:"gameType,omitempty"`
	Status        SessionStatus   `json:"status"`
	TimeLimit     time.Duration   `json:"timeLimit"`
	TargetCredits int             `json:"targetCredits"`
	Players       []PlayerSummary `json:"players"`
	CreatedAt     time.Time       `json:"createdAt"`
	StartedAt     time.Time       `json:"startedAt,omitempty"`
	EndedAt       time.Time       `json:"endedAt,omitempty"`
}

// PlayerResult is the per-player outcome handed to the persistence sink.
type PlayerResult struct {
	PlayerID      string `json:"playerId"`
	StudentID     string `json:"studentId"`
	DisplayName   string `json:"displayName"`
	Avatar        string `json:"avatar"`
	Credits       int    `json:"credits"`
	Correct       int    `json:"correct"`
	Incorrect     int    `json:"incorrect"`
	HackAttempts  int    `json:"hackAttempts"`
	HackSuccesses int    `json:"hackSuccesses"`
	TimesHacked   int    `json:"timesHacked"`
	CreditsStolen int    `json:"creditsStolen"`
	CreditsLost   int    `json:"creditsLost"`
}

// SessionResult is the final state of a finished session.
type SessionResult struct {
	Code      string         `json:"code"`
	TeacherID string         `json:"teacherId"`
	GameType  string         `json:"gameType,omitempty"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   time.Time      `json:"endedAt"`
	Players   []PlayerResult `json:"players"`
}
