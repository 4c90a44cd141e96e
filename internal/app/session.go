package app

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"breach-session-service/internal/domain"

	"github.com/google/uuid"
)

const (
	baseCreditReward      = 50
	shieldDuration        = 90 * time.Second
	questionTimeAllowance = 30 * time.Second
	stealFractionPct      = 25
	minStealAmount        = 10
	hintThreshold         = 2
)

// miniChallenges are the challenge types a hacked player may be assigned.
// The challenge itself is resolved outside this engine.
var miniChallenges = []string{"typing", "cipher", "memory", "sequence"}

// playerState is the per-player mutable record, owned by its session and only
// touched under the session mutex.
type playerState struct {
	id          string
	studentID   string
	displayName string
	secret      string
	avatar      string

	credits       int
	correct       int
	incorrect     int
	hackAttempts  int
	hackSuccesses int
	timesHacked   int
	creditsStolen int
	creditsLost   int

	shieldUntil time.Time
	cursor      int
	pending     domain.Question
	hasPending  bool
	awaitReward bool
	awaitHack   bool
	connected   bool
	joinedAt    time.Time
}

// pairKey identifies an (attacker, target) hack relationship inside a session.
type pairKey struct {
	attacker string
	target   string
}

// Session is the aggregate owning one question deck, the player set and the
// hack attempt tracker. It is the unit of concurrency control: every mutation
// happens under mu, and methods return fully built payloads so the engine can
// publish to the bus outside the lock.
type Session struct {
	code          string
	teacherID     string
	gameType      string
	timeLimit     time.Duration
	targetCredits int

	now func() time.Time
	rnd *rand.Rand

	mu           sync.RWMutex
	status       domain.SessionStatus
	deck         []domain.Question
	players      map[string]*playerState
	order        []string
	hackFails    map[pairKey]int
	createdAt    time.Time
	startedAt    time.Time
	endedAt      time.Time
	lastActivity time.Time
}

// NewSession builds a waiting session around an already shuffled deck.
func NewSession(code, teacherID, gameType string, timeLimit time.Duration, targetCredits int, deck []domain.Question) *Session {
	return NewSessionWithClock(code, teacherID, gameType, timeLimit, targetCredits, deck, time.Now)
}

// NewSessionWithClock allows deterministic timestamps in tests.
func NewSessionWithClock(code, teacherID, gameType string, timeLimit time.Duration, targetCredits int, deck []domain.Question, now func() time.Time) *Session {
	created := now()
	return &Session{
		code:          code,
		teacherID:     teacherID,
		gameType:      gameType,
		timeLimit:     timeLimit,
		targetCredits: targetCredits,
		now:           now,
		rnd:           rand.New(rand.NewSource(created.UnixNano())),
		status:        domain.StatusWaiting,
		deck:          deck,
		players:       make(map[string]*playerState),
		hackFails:     make(map[pairKey]int),
		createdAt:     created,
		lastActivity:  created,
	}
}

// Code returns the join code of the session.
func (s *Session) Code() string { return s.code }

// TeacherID returns the owning teacher identity.
func (s *Session) TeacherID() string { return s.teacherID }

// LastActivity reports when the session last processed an operation.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *Session) touchLocked() {
	s.lastActivity = s.now()
}

type joinResult struct {
	PlayerID string
	Roster   []domain.PlayerSummary
	Joined   domain.PlayerJoinedPayload
}

func (s *Session) join(studentID, displayName, secret, avatar string) (joinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.StatusWaiting {
		return joinResult{}, domain.ErrGameAlreadyStarted
	}
	for _, id := range s.order {
		if s.players[id].studentID == studentID {
			return joinResult{}, domain.ErrAlreadyJoined
		}
	}

	player := &playerState{
		id:          uuid.NewString(),
		studentID:   studentID,
		displayName: displayName,
		secret:      secret,
		avatar:      avatar,
		connected:   true,
		joinedAt:    s.now(),
	}
	s.players[player.id] = player
	s.order = append(s.order, player.id)
	s.touchLocked()

	roster := make([]domain.PlayerSummary, 0, len(s.order)-1)
	for _, id := range s.order {
		if id == player.id {
			continue
		}
		roster = append(roster, s.summaryLocked(s.players[id]))
	}

	return joinResult{
		PlayerID: player.id,
		Roster:   roster,
		Joined: domain.PlayerJoinedPayload{
			PlayerID:    player.id,
			DisplayName: displayName,
			Avatar:      avatar,
			PlayerCount: len(s.order),
		},
	}, nil
}

type startResult struct {
	Started   domain.GameStartedPayload
	Questions map[string]domain.QuestionPayload
}

func (s *Session) start(callerID string) (startResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if callerID != s.teacherID {
		return startResult{}, domain.ErrNotAuthorized
	}
	if s.status != domain.StatusWaiting {
		return startResult{}, domain.ErrGameAlreadyStarted
	}

	s.status = domain.StatusActive
	s.startedAt = s.now()
	s.touchLocked()

	questions := make(map[string]domain.QuestionPayload, len(s.order))
	for _, id := range s.order {
		questions[id] = s.nextQuestionLocked(s.players[id])
	}

	return startResult{
		Started: domain.GameStartedPayload{
			TimeLimitSec:  int(s.timeLimit / time.Second),
			TargetCredits: s.targetCredits,
			StartedAt:     s.startedAt,
		},
		Questions: questions,
	}, nil
}

// nextQuestionLocked advances the player's cursor, cycling back to the start
// of the deck once exhausted, and records the question as outstanding.
func (s *Session) nextQuestionLocked(p *playerState) domain.QuestionPayload {
	if p.cursor >= len(s.deck) {
		p.cursor = 0
	}
	q := s.deck[p.cursor]
	p.cursor++
	p.pending = q
	p.hasPending = true
	p.awaitReward = false

	answers := make([]string, 0, len(q.Distractors)+1)
	answers = append(answers, q.Answer)
	answers = append(answers, q.Distractors...)
	s.rnd.Shuffle(len(answers), func(i, j int) {
		answers[i], answers[j] = answers[j], answers[i]
	})

	return domain.QuestionPayload{
		QuestionID:       q.ID,
		Prompt:           q.Prompt,
		Answers:          answers,
		Difficulty:       q.Difficulty,
		ImageURL:         q.ImageURL,
		TimeAllowanceSec: int(questionTimeAllowance / time.Second),
	}
}

type answerOutcome struct {
	Correct bool
	Stale   bool
	Review  *domain.AnswerReviewPayload
	Rewards *domain.RewardOptionsPayload
	Result  *domain.AnswerResultPayload
	Next    *domain.QuestionPayload
}

// submitAnswer applies a submission. Stale or out-of-band submissions resolve
// to an incorrect result with no side effects rather than an error.
func (s *Session) submitAnswer(playerID, questionID, answerText string) answerOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.StatusActive {
		return answerOutcome{Stale: true}
	}
	p, ok := s.players[playerID]
	if !ok {
		return answerOutcome{Stale: true}
	}
	if !p.hasPending || p.pending.ID != questionID || p.awaitReward || p.awaitHack {
		return answerOutcome{Stale: true}
	}
	s.touchLocked()

	q := p.pending
	correct := strings.EqualFold(strings.TrimSpace(answerText), strings.TrimSpace(q.Answer))

	if correct {
		p.correct++
		p.awaitReward = true
	} else {
		p.incorrect++
	}

	review := domain.AnswerReviewPayload{
		PlayerID:     p.id,
		DisplayName:  p.displayName,
		QuestionID:   q.ID,
		Correct:      correct,
		CorrectSum:   p.correct,
		IncorrectSum: p.incorrect,
		Accuracy:     accuracy(p.correct, p.incorrect),
	}

	out := answerOutcome{Correct: correct, Review: &review}
	if correct {
		out.Rewards = &domain.RewardOptionsPayload{
			QuestionID: q.ID,
			Options: []domain.RewardOption{
				{Type: domain.RewardCredits, Credits: baseCreditReward},
				{Type: domain.RewardHack},
				{Type: domain.RewardShield, DurationSec: int(shieldDuration / time.Second)},
			},
		}
		return out
	}

	out.Result = &domain.AnswerResultPayload{
		QuestionID:    q.ID,
		Correct:       false,
		CorrectAnswer: q.Answer,
		Explanation:   q.Explanation,
	}
	next := s.nextQuestionLocked(p)
	out.Next = &next
	return out
}

func accuracy(correct, incorrect int) float64 {
	total := correct + incorrect
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}

type rewardOutcome struct {
	Applied     bool
	Next        *domain.QuestionPayload
	Leaderboard *domain.Leaderboard
}

// selectReward resolves a previously offered reward. A selection with no
// pending reward is ignored, mirroring the stale-answer guard.
func (s *Session) selectReward(playerID string, reward domain.RewardType) (rewardOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return rewardOutcome{}, domain.ErrPlayerNotFound
	}
	if s.status != domain.StatusActive || !p.awaitReward {
		return rewardOutcome{}, nil
	}
	s.touchLocked()

	out := rewardOutcome{Applied: true}
	switch reward {
	case domain.RewardCredits:
		p.credits += baseCreditReward + domain.TraitsFor(p.avatar).CreditBonus
		p.awaitReward = false
		next := s.nextQuestionLocked(p)
		out.Next = &next
	case domain.RewardShield:
		p.shieldUntil = s.now().Add(shieldDuration)
		p.awaitReward = false
		next := s.nextQuestionLocked(p)
		out.Next = &next
	case domain.RewardHack:
		// Next question is deferred until the hack resolves.
		p.awaitReward = false
		p.awaitHack = true
	default:
		return rewardOutcome{}, nil
	}

	lb := s.leaderboardLocked()
	out.Leaderboard = &lb
	return out, nil
}

type hackOutcome struct {
	TargetShielded bool
	Success        bool
	CreditsStolen  int
	FailureCount   int
	Hint           string
	Hacked         *domain.HackedPayload
	Broadcast      *domain.HackSuccessPayload
	Leaderboard    *domain.Leaderboard
	Next           *domain.QuestionPayload
}

// attemptHack resolves a code guess by attacker against target.
func (s *Session) attemptHack(attackerID, targetID, guess string) (hackOutcome, error) {
	if attackerID == targetID {
		return hackOutcome{}, domain.ErrInvalidTarget
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	attacker, ok := s.players[attackerID]
	if !ok {
		return hackOutcome{}, domain.ErrPlayerNotFound
	}
	target, ok := s.players[targetID]
	if !ok {
		return hackOutcome{}, domain.ErrPlayerNotFound
	}
	if s.status != domain.StatusActive {
		return hackOutcome{}, nil
	}
	s.touchLocked()

	// Shield is evaluated lazily against the clock; a shielded target wastes
	// the attempt without touching any counters.
	if target.shieldUntil.After(s.now()) {
		attacker.awaitHack = false
		next := s.nextQuestionLocked(attacker)
		return hackOutcome{TargetShielded: true, Next: &next}, nil
	}

	attacker.hackAttempts++
	pair := pairKey{attacker: attackerID, target: targetID}

	if guess != target.secret {
		s.hackFails[pair]++
		failures := s.hackFails[pair]
		hint := ""
		if failures >= hintThreshold {
			hint = revealHint(target.secret, failures-1)
		}
		attacker.awaitHack = false
		next := s.nextQuestionLocked(attacker)
		return hackOutcome{FailureCount: failures, Hint: hint, Next: &next}, nil
	}

	attacker.hackSuccesses++
	target.timesHacked++

	steal := stolenCredits(target.credits, domain.TraitsFor(attacker.avatar), domain.TraitsFor(target.avatar))
	lost := steal
	if lost > target.credits {
		lost = target.credits
	}
	target.credits -= lost
	target.creditsLost += lost
	attacker.credits += steal
	attacker.creditsStolen += steal
	delete(s.hackFails, pair)

	attacker.awaitHack = false
	next := s.nextQuestionLocked(attacker)
	lb := s.leaderboardLocked()
	challenge := miniChallenges[s.rnd.Intn(len(miniChallenges))]

	return hackOutcome{
		Success:       true,
		CreditsStolen: steal,
		Next:          &next,
		Leaderboard:   &lb,
		Hacked: &domain.HackedPayload{
			AttackerID:   attacker.id,
			AttackerName: attacker.displayName,
			CreditsLost:  lost,
			Challenge:    challenge,
		},
		Broadcast: &domain.HackSuccessPayload{
			AttackerID:    attacker.id,
			AttackerName:  attacker.displayName,
			TargetID:      target.id,
			TargetName:    target.displayName,
			CreditsStolen: steal,
		},
	}, nil
}

// stolenCredits computes the steal amount: base fraction of the target's
// credits, attacker multiplier applied before the target's damage reduction,
// truncated to an integer at each step, then floored at the minimum steal.
func stolenCredits(targetCredits int, attacker, target domain.AvatarTraits) int {
	steal := targetCredits * stealFractionPct / 100
	steal = int(float64(steal) * attacker.StealMultiplier)
	steal = int(float64(steal) * (1 - target.DamageReduction))
	if steal < minStealAmount {
		steal = minStealAmount
	}
	return steal
}

// revealHint exposes the first reveal characters of the secret and masks the rest.
func revealHint(secret string, reveal int) string {
	runes := []rune(secret)
	if reveal > len(runes) {
		reveal = len(runes)
	}
	return string(runes[:reveal]) + strings.Repeat("*", len(runes)-reveal)
}

func (s *Session) leave(playerID string) *domain.PlayerLeftPayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return nil
	}
	s.touchLocked()

	if s.status == domain.StatusWaiting {
		delete(s.players, playerID)
		for i, id := range s.order {
			if id == playerID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		return &domain.PlayerLeftPayload{PlayerID: p.id, DisplayName: p.displayName}
	}

	// Mid-game departures keep their seat so scores and hack targets stay
	// stable; the flag is informational for UIs. Their result is persisted
	// with everyone else's at session end.
	p.connected = false
	return nil
}

type endResult struct {
	Result domain.SessionResult
	Ended  domain.GameEndedPayload
}

func (s *Session) end(callerID string) (endResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if callerID != s.teacherID {
		return endResult{}, domain.ErrNotAuthorized
	}
	return s.endLocked(), nil
}

// forceEnd terminates a session without an authorization check; used by the
// idle sweep.
func (s *Session) forceEnd() endResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endLocked()
}

func (s *Session) endLocked() endResult {
	s.status = domain.StatusEnded
	s.endedAt = s.now()
	s.hackFails = make(map[pairKey]int)

	lb := s.leaderboardLocked()
	results := make([]domain.PlayerResult, 0, len(s.order))
	for _, id := range s.order {
		results = append(results, s.resultLocked(s.players[id]))
	}

	return endResult{
		Result: domain.SessionResult{
			Code:      s.code,
			TeacherID: s.teacherID,
			GameType:  s.gameType,
			StartedAt: s.startedAt,
			EndedAt:   s.endedAt,
			Players:   results,
		},
		Ended: domain.GameEndedPayload{Leaderboard: lb, EndedAt: s.endedAt},
	}
}

func (s *Session) leaderboard() domain.Leaderboard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leaderboardLocked()
}

// leaderboardLocked ranks players by credits descending; ties keep join order.
func (s *Session) leaderboardLocked() domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, 0, len(s.order))
	for _, id := range s.order {
		p := s.players[id]
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID:    p.id,
			DisplayName: p.displayName,
			Avatar:      p.avatar,
			Credits:     p.credits,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Credits > entries[j].Credits
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return domain.Leaderboard{
		SessionCode: s.code,
		Entries:     entries,
		UpdatedAt:   s.now(),
	}
}

func (s *Session) info() domain.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]domain.PlayerSummary, 0, len(s.order))
	for _, id := range s.order {
		players = append(players, s.summaryLocked(s.players[id]))
	}
	return domain.SessionInfo{
		Code:          s.code,
		TeacherID:     s.teacherID,
		GameType:      s.gameType,
		Status:        s.status,
		TimeLimit:     s.timeLimit,
		TargetCredits: s.targetCredits,
		Players:       players,
		CreatedAt:     s.createdAt,
		StartedAt:     s.startedAt,
		EndedAt:       s.endedAt,
	}
}

func (s *Session) summaryLocked(p *playerState) domain.PlayerSummary {
	return domain.PlayerSummary{
		ID:          p.id,
		DisplayName: p.displayName,
		Avatar:      p.avatar,
		Connected:   p.connected,
	}
}

func (s *Session) resultLocked(p *playerState) domain.PlayerResult {
	return domain.PlayerResult{
		PlayerID:      p.id,
		StudentID:     p.studentID,
		DisplayName:   p.displayName,
		Avatar:        p.avatar,
		Credits:       p.credits,
		Correct:       p.correct,
		Incorrect:     p.incorrect,
		HackAttempts:  p.hackAttempts,
		HackSuccesses: p.hackSuccesses,
		TimesHacked:   p.timesHacked,
		CreditsStolen: p.creditsStolen,
		CreditsLost:   p.creditsLost,
	}
}
