package app

import (
	"context"
	"log"
	"time"

	"breach-session-service/internal/domain"
)

// Directory abstracts the process-wide registry of active sessions.
type Directory interface {
	Register(session *Session)
	Get(code string) (*Session, bool)
	Delete(code string)
	// SweepIdle removes and returns sessions with no activity for maxIdle.
	SweepIdle(maxIdle time.Duration) []*Session
}

// QuestionRepository loads question sets (from cache/backing store).
type QuestionRepository interface {
	GetQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// Bus is the publish/subscribe transport the engine emits deliveries on.
// Implementations must not block the caller.
type Bus interface {
	Broadcast(code string, event domain.Event)
	Send(code, recipientID string, event domain.Event)
}

// ResultSink persists a finished session's final player results.
type ResultSink interface {
	SaveResult(ctx context.Context, result domain.SessionResult) error
}

// GameService contains the session engine use cases. All operations are
// invoked on behalf of an already-authenticated caller identity.
type GameService struct {
	directory Directory
	questions QuestionRepository
	bus       Bus
	results   ResultSink
	codes     *codeGenerator
	now       func() time.Time
}

func NewGameService(directory Directory, questions QuestionRepository, bus Bus, results ResultSink) *GameService {
	return NewGameServiceWithClock(directory, questions, bus, results, time.Now)
}

// NewGameServiceWithClock is test-only for deterministic timestamps.
func NewGameServiceWithClock(directory Directory, questions QuestionRepository, bus Bus, results ResultSink, now func() time.Time) *GameService {
	return &GameService{
		directory: directory,
		questions: questions,
		bus:       bus,
		results:   results,
		codes:     newCodeGenerator(),
		now:       now,
	}
}

// CreateSession loads and shuffles the question set, allocates a unique code
// among currently active sessions and registers the new waiting session.
func (g *GameService) CreateSession(ctx context.Context, teacherID, setID, gameType string, timeLimit time.Duration, targetCredits int) (domain.SessionInfo, error) {
	set, err := g.questions.GetQuestionSet(ctx, setID)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	if len(set.Questions) == 0 {
		return domain.SessionInfo{}, domain.ErrQuestionSetNotFound
	}

	deck := make([]domain.Question, len(set.Questions))
	copy(deck, set.Questions)
	g.codes.shuffle(deck)

	code := g.codes.next()
	for {
		if _, taken := g.directory.Get(code); !taken {
			break
		}
		code = g.codes.next()
	}

	session := NewSessionWithClock(code, teacherID, gameType, timeLimit, targetCredits, deck, g.now)
	g.directory.Register(session)
	return session.info(), nil
}

// JoinResult is returned to the joining player.
type JoinResult struct {
	PlayerID string
	Roster   []domain.PlayerSummary
}

// Join adds a student to a waiting session and announces the arrival.
func (g *GameService) Join(_ context.Context, code, studentID, displayName, secret, avatar string) (JoinResult, error) {
	session, ok := g.directory.Get(code)
	if !ok {
		return JoinResult{}, domain.ErrSessionNotFound
	}
	res, err := session.join(studentID, displayName, secret, avatar)
	if err != nil {
		return JoinResult{}, err
	}

	joined := domain.Event{Type: domain.EventPlayerJoined, Payload: res.Joined}
	g.bus.Broadcast(code, joined)
	g.bus.Send(code, session.TeacherID(), joined)

	return JoinResult{PlayerID: res.PlayerID, Roster: res.Roster}, nil
}

// Start transitions the session to active and deals the first question to
// every joined player.
func (g *GameService) Start(_ context.Context, code, callerID string) error {
	session, ok := g.directory.Get(code)
	if !ok {
		return domain.ErrSessionNotFound
	}
	res, err := session.start(callerID)
	if err != nil {
		return err
	}

	g.bus.Broadcast(code, domain.Event{Type: domain.EventGameStarted, Payload: res.Started})
	for playerID, question := range res.Questions {
		g.bus.Send(code, playerID, domain.Event{Type: domain.EventNewQuestion, Payload: question})
	}
	return nil
}

// AnswerResult summarizes a submission for the immediate caller.
type AnswerResult struct {
	Correct bool
	// Stale reports that the submission was ignored (inactive session,
	// unknown player, or mismatched question).
	Stale bool
}

// SubmitAnswer scores a submission. Stale submissions resolve to an incorrect
// result with no side effects.
func (g *GameService) SubmitAnswer(_ context.Context, code, playerID, questionID, answerText string) (AnswerResult, error) {
	session, ok := g.directory.Get(code)
	if !ok {
		return AnswerResult{}, domain.ErrSessionNotFound
	}
	out := session.submitAnswer(playerID, questionID, answerText)
	if out.Stale {
		return AnswerResult{Stale: true}, nil
	}

	g.bus.Send(code, session.TeacherID(), domain.Event{Type: domain.EventAnswerReview, Payload: *out.Review})
	if out.Correct {
		g.bus.Send(code, playerID, domain.Event{Type: domain.EventRewardOptions, Payload: *out.Rewards})
	} else {
		g.bus.Send(code, playerID, domain.Event{Type: domain.EventAnswerResult, Payload: *out.Result})
		g.bus.Send(code, playerID, domain.Event{Type: domain.EventNewQuestion, Payload: *out.Next})
	}
	return AnswerResult{Correct: out.Correct}, nil
}

// SelectReward resolves the reward chosen after a correct answer.
func (g *GameService) SelectReward(_ context.Context, code, playerID string, reward domain.RewardType) error {
	session, ok := g.directory.Get(code)
	if !ok {
		return domain.ErrSessionNotFound
	}
	out, err := session.selectReward(playerID, reward)
	if err != nil {
		return err
	}
	if !out.Applied {
		return nil
	}
	if out.Next != nil {
		g.bus.Send(code, playerID, domain.Event{Type: domain.EventNewQuestion, Payload: *out.Next})
	}
	if out.Leaderboard != nil {
		g.bus.Broadcast(code, domain.Event{Type: domain.EventLeaderboard, Payload: *out.Leaderboard})
	}
	return nil
}

// HackResult summarizes a hack attempt for the attacker.
type HackResult struct {
	Success        bool
	TargetShielded bool
	CreditsStolen  int
	FailureCount   int
	Hint           string
}

// AttemptHack resolves a secret-code guess against another player.
func (g *GameService) AttemptHack(_ context.Context, code, attackerID, targetID, guess string) (HackResult, error) {
	session, ok := g.directory.Get(code)
	if !ok {
		return HackResult{}, domain.ErrSessionNotFound
	}
	out, err := session.attemptHack(attackerID, targetID, guess)
	if err != nil {
		return HackResult{}, err
	}

	if out.Hacked != nil {
		g.bus.Send(code, targetID, domain.Event{Type: domain.EventHacked, Payload: *out.Hacked})
	}
	if out.Broadcast != nil {
		ev := domain.Event{Type: domain.EventHackSuccess, Payload: *out.Broadcast}
		g.bus.Broadcast(code, ev)
		g.bus.Send(code, session.TeacherID(), ev)
	}
	if out.Leaderboard != nil {
		g.bus.Broadcast(code, domain.Event{Type: domain.EventLeaderboard, Payload: *out.Leaderboard})
	}
	if out.Next != nil {
		g.bus.Send(code, attackerID, domain.Event{Type: domain.EventNewQuestion, Payload: *out.Next})
	}

	return HackResult{
		Success:        out.Success,
		TargetShielded: out.TargetShielded,
		CreditsStolen:  out.CreditsStolen,
		FailureCount:   out.FailureCount,
		Hint:           out.Hint,
	}, nil
}

// EndGame terminates the session, broadcasts the final leaderboard, removes
// the session from the directory and hands the results to the persistence
// sink without blocking the caller.
func (g *GameService) EndGame(_ context.Context, code, callerID string) (domain.SessionResult, error) {
	session, ok := g.directory.Get(code)
	if !ok {
		return domain.SessionResult{}, domain.ErrSessionNotFound
	}
	res, err := session.end(callerID)
	if err != nil {
		return domain.SessionResult{}, err
	}

	g.bus.Broadcast(code, domain.Event{Type: domain.EventGameEnded, Payload: res.Ended})
	g.directory.Delete(code)
	g.persistAsync(res.Result)
	return res.Result, nil
}

// Leave removes a not-yet-started player from the roster, or marks a mid-game
// player disconnected.
func (g *GameService) Leave(_ context.Context, code, playerID string) {
	session, ok := g.directory.Get(code)
	if !ok {
		return
	}
	if left := session.leave(playerID); left != nil {
		ev := domain.Event{Type: domain.EventPlayerLeft, Payload: *left}
		g.bus.Broadcast(code, ev)
		g.bus.Send(code, session.TeacherID(), ev)
	}
}

// Leaderboard recomputes the ranked scoreboard on demand.
func (g *GameService) Leaderboard(_ context.Context, code string) (domain.Leaderboard, error) {
	session, ok := g.directory.Get(code)
	if !ok {
		return domain.Leaderboard{}, domain.ErrSessionNotFound
	}
	return session.leaderboard(), nil
}

// SessionInfo returns the current session descriptor.
func (g *GameService) SessionInfo(_ context.Context, code string) (domain.SessionInfo, error) {
	session, ok := g.directory.Get(code)
	if !ok {
		return domain.SessionInfo{}, domain.ErrSessionNotFound
	}
	return session.info(), nil
}

// SweepIdle force-ends sessions whose teacher never called end-game. Swept
// sessions still broadcast a game-ended event and reach the sink.
func (g *GameService) SweepIdle(maxIdle time.Duration) int {
	swept := g.directory.SweepIdle(maxIdle)
	for _, session := range swept {
		res := session.forceEnd()
		g.bus.Broadcast(session.Code(), domain.Event{Type: domain.EventGameEnded, Payload: res.Ended})
		g.persistAsync(res.Result)
	}
	return len(swept)
}

// persistAsync writes the final results without stalling a player-facing
// operation; the engine does not wait for the sink.
func (g *GameService) persistAsync(result domain.SessionResult) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := g.results.SaveResult(ctx, result); err != nil {
			log.Printf("persist results for session %s: %v", result.Code, err)
		}
	}()
}
