package app_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"breach-session-service/internal/app"
	"breach-session-service/internal/domain"
	"breach-session-service/internal/infra/memory"
)

func TestCreateJoinStartFlow(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestEngine(t)

	info, err := svc.CreateSession(ctx, "t1", "set-1", "classic", 10*time.Minute, 500)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if info.Status != domain.StatusWaiting {
		t.Fatalf("expected waiting status, got %s", info.Status)
	}
	if len(info.Code) != 6 {
		t.Fatalf("expected 6-char code, got %q", info.Code)
	}
	for _, c := range info.Code {
		if !strings.ContainsRune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789", c) {
			t.Fatalf("code %q contains ambiguous character %q", info.Code, c)
		}
	}

	alice, err := svc.Join(ctx, info.Code, "s1", "Alice", "ALPH", "")
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if len(alice.Roster) != 0 {
		t.Fatalf("expected empty roster for first player, got %d", len(alice.Roster))
	}

	bob, err := svc.Join(ctx, info.Code, "s2", "Bob", "BETA", "")
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if len(bob.Roster) != 1 || bob.Roster[0].ID != alice.PlayerID {
		t.Fatalf("expected roster to contain alice only, got %+v", bob.Roster)
	}

	if err := svc.Start(ctx, info.Code, "t1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	got, err := svc.SessionInfo(ctx, info.Code)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if got.Status != domain.StatusActive {
		t.Fatalf("expected active status, got %s", got.Status)
	}
}

func TestJoinRejections(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestEngine(t)

	if _, err := svc.Join(ctx, "NOSUCH", "s1", "Alice", "ALPH", ""); err != domain.ErrSessionNotFound {
		t.Fatalf("expected session not found, got %v", err)
	}

	info, _ := svc.CreateSession(ctx, "t1", "set-1", "", 0, 0)
	if _, err := svc.Join(ctx, info.Code, "s1", "Alice", "ALPH", ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.Join(ctx, info.Code, "s1", "Alice again", "XXXX", ""); err != domain.ErrAlreadyJoined {
		t.Fatalf("expected already joined, got %v", err)
	}

	if err := svc.Start(ctx, info.Code, "someone-else"); err != domain.ErrNotAuthorized {
		t.Fatalf("expected not authorized, got %v", err)
	}
	if err := svc.Start(ctx, info.Code, "t1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Start(ctx, info.Code, "t1"); err != domain.ErrGameAlreadyStarted {
		t.Fatalf("expected already started, got %v", err)
	}
	if _, err := svc.Join(ctx, info.Code, "s2", "Bob", "BETA", ""); err != domain.ErrGameAlreadyStarted {
		t.Fatalf("expected join after start rejected, got %v", err)
	}
}

func TestAnswerAndCreditsReward(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestEngine(t)
	code, alice, _ := startedGame(t, svc, "", "")

	res, err := svc.SubmitAnswer(ctx, code, alice, "q1", "  tls ")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Correct {
		t.Fatalf("expected trimmed case-insensitive match to be correct")
	}

	// Duplicate submission while the reward is pending is stale.
	dup, err := svc.SubmitAnswer(ctx, code, alice, "q1", "TLS")
	if err != nil || !dup.Stale || dup.Correct {
		t.Fatalf("expected stale duplicate, got %+v err=%v", dup, err)
	}

	if err := svc.SelectReward(ctx, code, alice, domain.RewardCredits); err != nil {
		t.Fatalf("reward: %v", err)
	}

	lb, err := svc.Leaderboard(ctx, code)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if lb.Entries[0].PlayerID != alice || lb.Entries[0].Credits != 50 {
		t.Fatalf("expected alice leading with 50 credits, got %+v", lb.Entries[0])
	}
}

func TestStaleAnswerHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	svc, _, sink := newTestEngine(t)
	code, alice, _ := startedGame(t, svc, "", "")

	res, err := svc.SubmitAnswer(ctx, code, alice, "wrong-question", "TLS")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Stale || res.Correct {
		t.Fatalf("expected stale incorrect result, got %+v", res)
	}

	result, err := svc.EndGame(ctx, code, "t1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	for _, p := range result.Players {
		if p.Correct != 0 || p.Incorrect != 0 {
			t.Fatalf("expected untouched counters, got %+v", p)
		}
	}
	waitForResult(t, sink)
}

func TestIncorrectAnswerDeliversNextQuestion(t *testing.T) {
	ctx := context.Background()
	svc, bus, _ := newTestEngine(t)

	info, _ := svc.CreateSession(ctx, "t1", "set-1", "", 0, 0)
	joined, _ := svc.Join(ctx, info.Code, "s1", "Alice", "ALPH", "")
	events, cancel := bus.Subscribe(info.Code, joined.PlayerID)
	defer cancel()
	if err := svc.Start(ctx, info.Code, "t1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	first := nextEvent(t, events, domain.EventNewQuestion)
	q := first.Payload.(domain.QuestionPayload)
	if q.QuestionID != "q1" || len(q.Answers) != 4 {
		t.Fatalf("expected q1 with 4 answers, got %+v", q)
	}

	res, err := svc.SubmitAnswer(ctx, info.Code, joined.PlayerID, "q1", "FTP")
	if err != nil || res.Correct {
		t.Fatalf("expected incorrect result, got %+v err=%v", res, err)
	}

	feedback := nextEvent(t, events, domain.EventAnswerResult)
	fb := feedback.Payload.(domain.AnswerResultPayload)
	if fb.CorrectAnswer != "TLS" {
		t.Fatalf("expected revealed answer TLS, got %+v", fb)
	}

	// Single-question deck cycles back to the same question.
	again := nextEvent(t, events, domain.EventNewQuestion)
	if again.Payload.(domain.QuestionPayload).QuestionID != "q1" {
		t.Fatalf("expected deck to cycle to q1, got %+v", again.Payload)
	}
}

func TestHackStealMath(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestEngine(t)
	code, alice, bob := startedGame(t, svc, "", "")

	earnCredits(t, svc, code, bob, 2) // 100 credits, neutral avatar

	res, err := svc.AttemptHack(ctx, code, alice, bob, "BETA")
	if err != nil {
		t.Fatalf("hack: %v", err)
	}
	if !res.Success || res.CreditsStolen != 25 {
		t.Fatalf("expected successful hack stealing 25, got %+v", res)
	}

	lb, _ := svc.Leaderboard(ctx, code)
	credits := creditsByPlayer(lb)
	if credits[bob] != 75 || credits[alice] != 25 {
		t.Fatalf("expected bob=75 alice=25, got %v", credits)
	}
}

func TestHackDamageReduction(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestEngine(t)
	code, alice, bob := startedGame(t, svc, "", "warden")

	earnCredits(t, svc, code, bob, 2) // warden has no credit bonus: 100

	res, err := svc.AttemptHack(ctx, code, alice, bob, "BETA")
	if err != nil {
		t.Fatalf("hack: %v", err)
	}
	// 25 base, 30% reduction, truncated: 17
	if !res.Success || res.CreditsStolen != 17 {
		t.Fatalf("expected steal of 17, got %+v", res)
	}
}

func TestHackMinimumStealAndCreditFloor(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestEngine(t)
	code, alice, bob := startedGame(t, svc, "", "")

	// Bob holds nothing; the minimum steal still pays the attacker, but the
	// target is clamped at zero.
	res, err := svc.AttemptHack(ctx, code, alice, bob, "BETA")
	if err != nil {
		t.Fatalf("hack: %v", err)
	}
	if !res.Success || res.CreditsStolen != 10 {
		t.Fatalf("expected minimum steal of 10, got %+v", res)
	}

	lb, _ := svc.Leaderboard(ctx, code)
	credits := creditsByPlayer(lb)
	if credits[bob] != 0 || credits[alice] != 10 {
		t.Fatalf("expected bob=0 alice=10, got %v", credits)
	}
}

func TestSelfHackRejected(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestEngine(t)
	code, alice, _ := startedGame(t, svc, "", "")

	// Guessing your own secret must not mint credits via the minimum-steal floor.
	res, err := svc.AttemptHack(ctx, code, alice, alice, "ALPH")
	if err != domain.ErrInvalidTarget {
		t.Fatalf("expected invalid target, got %+v err=%v", res, err)
	}

	lb, _ := svc.Leaderboard(ctx, code)
	if credits := creditsByPlayer(lb); credits[alice] != 0 {
		t.Fatalf("expected alice to stay at 0 credits, got %v", credits)
	}
}

func TestHackHints(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestEngine(t)
	code, alice, bob := startedGame(t, svc, "", "")

	first, err := svc.AttemptHack(ctx, code, alice, bob, "WRONG")
	if err != nil {
		t.Fatalf("hack: %v", err)
	}
	if first.Success || first.FailureCount != 1 || first.Hint != "" {
		t.Fatalf("expected first failure without hint, got %+v", first)
	}

	second, err := svc.AttemptHack(ctx, code, alice, bob, "WRONG")
	if err != nil {
		t.Fatalf("hack: %v", err)
	}
	if second.FailureCount != 2 || second.Hint != "B***" {
		t.Fatalf("expected hint B*** after two failures, got %+v", second)
	}

	third, err := svc.AttemptHack(ctx, code, alice, bob, "WRONG")
	if err != nil {
		t.Fatalf("hack: %v", err)
	}
	if third.FailureCount != 3 || third.Hint != "BE**" {
		t.Fatalf("expected hint BE** after three failures, got %+v", third)
	}
}

func TestFailureCounterClearsOnSuccess(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestEngine(t)
	code, alice, bob := startedGame(t, svc, "", "")

	_, _ = svc.AttemptHack(ctx, code, alice, bob, "WRONG")
	_, _ = svc.AttemptHack(ctx, code, alice, bob, "WRONG")
	if res, _ := svc.AttemptHack(ctx, code, alice, bob, "BETA"); !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	// The pair's counter restarts from scratch.
	res, err := svc.AttemptHack(ctx, code, alice, bob, "WRONG")
	if err != nil {
		t.Fatalf("hack: %v", err)
	}
	if res.FailureCount != 1 || res.Hint != "" {
		t.Fatalf("expected counter reset to 1, got %+v", res)
	}
}

func TestShieldBlocksHack(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestEngine(t)
	code, alice, bob := startedGame(t, svc, "", "")

	earnCredits(t, svc, code, bob, 1)

	// Bob answers correctly and raises a shield.
	if res, _ := svc.SubmitAnswer(ctx, code, bob, "q1", "TLS"); !res.Correct {
		t.Fatalf("expected correct answer")
	}
	if err := svc.SelectReward(ctx, code, bob, domain.RewardShield); err != nil {
		t.Fatalf("shield: %v", err)
	}

	res, err := svc.AttemptHack(ctx, code, alice, bob, "BETA")
	if err != nil {
		t.Fatalf("hack: %v", err)
	}
	if !res.TargetShielded || res.Success {
		t.Fatalf("expected shielded attempt, got %+v", res)
	}

	lb, _ := svc.Leaderboard(ctx, code)
	credits := creditsByPlayer(lb)
	if credits[bob] != 50 || credits[alice] != 0 {
		t.Fatalf("expected no credit movement, got %v", credits)
	}

	result, err := svc.EndGame(ctx, code, "t1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	for _, p := range result.Players {
		if p.PlayerID == alice && p.HackAttempts != 0 {
			t.Fatalf("expected wasted attempt to leave counters alone, got %+v", p)
		}
	}
}

func TestHackRewardDefersQuestion(t *testing.T) {
	ctx := context.Background()
	svc, bus, _ := newTestEngine(t)

	info, _ := svc.CreateSession(ctx, "t1", "set-1", "", 0, 0)
	alice, _ := svc.Join(ctx, info.Code, "s1", "Alice", "ALPH", "")
	bob, _ := svc.Join(ctx, info.Code, "s2", "Bob", "BETA", "")
	events, cancel := bus.Subscribe(info.Code, alice.PlayerID)
	defer cancel()
	if err := svc.Start(ctx, info.Code, "t1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	nextEvent(t, events, domain.EventNewQuestion)

	if res, _ := svc.SubmitAnswer(ctx, info.Code, alice.PlayerID, "q1", "TLS"); !res.Correct {
		t.Fatalf("expected correct answer")
	}
	nextEvent(t, events, domain.EventRewardOptions)

	if err := svc.SelectReward(ctx, info.Code, alice.PlayerID, domain.RewardHack); err != nil {
		t.Fatalf("reward: %v", err)
	}

	// No question until the hack resolves.
	if ev, ok := tryEvent(events); ok && ev.Type == domain.EventNewQuestion {
		t.Fatalf("expected question deferred until hack resolves, got %+v", ev)
	}

	if _, err := svc.AttemptHack(ctx, info.Code, alice.PlayerID, bob.PlayerID, "nope"); err != nil {
		t.Fatalf("hack: %v", err)
	}
	nextEvent(t, events, domain.EventNewQuestion)
}

func TestLeaderboardRanking(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestEngine(t)

	info, _ := svc.CreateSession(ctx, "t1", "set-1", "", 0, 0)
	var ids []string
	for _, p := range []struct{ sid, name, secret string }{
		{"s1", "Alice", "AAAA"}, {"s2", "Bob", "BBBB"}, {"s3", "Cara", "CCCC"},
	} {
		joined, err := svc.Join(ctx, info.Code, p.sid, p.name, p.secret, "")
		if err != nil {
			t.Fatalf("join %s: %v", p.name, err)
		}
		ids = append(ids, joined.PlayerID)
	}
	if err := svc.Start(ctx, info.Code, "t1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	earnCredits(t, svc, info.Code, ids[2], 1)

	lb, err := svc.Leaderboard(ctx, info.Code)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(lb.Entries))
	}
	for i, e := range lb.Entries {
		if e.Rank != i+1 {
			t.Fatalf("expected contiguous ranks, got %+v", lb.Entries)
		}
	}
	if lb.Entries[0].PlayerID != ids[2] {
		t.Fatalf("expected cara leading, got %+v", lb.Entries[0])
	}
	// Tied players keep join order.
	if lb.Entries[1].PlayerID != ids[0] || lb.Entries[2].PlayerID != ids[1] {
		t.Fatalf("expected tie broken by join order, got %+v", lb.Entries)
	}
}

func TestEndGamePersistsAndUnregisters(t *testing.T) {
	ctx := context.Background()
	svc, bus, sink := newTestEngine(t)
	code, alice, _ := startedGame(t, svc, "", "")

	events, cancel := bus.Subscribe(code, alice)
	defer cancel()

	earnCredits(t, svc, code, alice, 1)

	if _, err := svc.EndGame(ctx, code, "not-the-teacher"); err != domain.ErrNotAuthorized {
		t.Fatalf("expected not authorized, got %v", err)
	}

	result, err := svc.EndGame(ctx, code, "t1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if len(result.Players) != 2 {
		t.Fatalf("expected 2 player results, got %d", len(result.Players))
	}

	ended := nextEvent(t, events, domain.EventGameEnded)
	payload := ended.Payload.(domain.GameEndedPayload)
	if len(payload.Leaderboard.Entries) != 2 || payload.Leaderboard.Entries[0].Credits != 50 {
		t.Fatalf("expected final leaderboard, got %+v", payload.Leaderboard)
	}

	saved := waitForResult(t, sink)
	if saved.Code != code {
		t.Fatalf("expected persisted result for %s, got %s", code, saved.Code)
	}

	if _, err := svc.Leaderboard(ctx, code); err != domain.ErrSessionNotFound {
		t.Fatalf("expected session removed from directory, got %v", err)
	}
}

func TestSessionCodesAreUniqueAmongActive(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestEngine(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		info, err := svc.CreateSession(ctx, "t1", "set-1", "", 0, 0)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if seen[info.Code] {
			t.Fatalf("duplicate active code %s", info.Code)
		}
		seen[info.Code] = true
	}
}

// Hammers one session from several goroutines; meant for -race runs. Whatever
// the interleaving, no operation may error and no balance may go negative.
func TestConcurrentSessionOperations(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestEngine(t)
	code, alice, bob := startedGame(t, svc, "", "")

	players := []string{alice, bob}
	secrets := []string{"BETA", "ALPH"} // secret of the opposing player

	var wg sync.WaitGroup
	for i := range players {
		id, other, otherSecret := players[i], players[1-i], secrets[i]
		wg.Add(3)
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				res, err := svc.SubmitAnswer(ctx, code, id, "q1", "TLS")
				if err != nil {
					t.Errorf("submit: %v", err)
					return
				}
				if res.Correct {
					if err := svc.SelectReward(ctx, code, id, domain.RewardCredits); err != nil {
						t.Errorf("reward: %v", err)
						return
					}
				}
			}
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				guess := "WRONG"
				if n%3 == 0 {
					guess = otherSecret
				}
				if _, err := svc.AttemptHack(ctx, code, id, other, guess); err != nil {
					t.Errorf("hack: %v", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				if _, err := svc.Leaderboard(ctx, code); err != nil {
					t.Errorf("leaderboard: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	lb, err := svc.Leaderboard(ctx, code)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	for _, e := range lb.Entries {
		if e.Credits < 0 {
			t.Fatalf("negative balance for %s: %d", e.PlayerID, e.Credits)
		}
	}
}

// --- helpers ---

type captureSink struct {
	ch chan domain.SessionResult
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan domain.SessionResult, 4)}
}

func (s *captureSink) SaveResult(_ context.Context, result domain.SessionResult) error {
	s.ch <- result
	return nil
}

func waitForResult(t *testing.T, sink *captureSink) domain.SessionResult {
	t.Helper()
	select {
	case result := <-sink.ch:
		return result
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for persisted result")
		return domain.SessionResult{}
	}
}

func newTestEngine(t *testing.T) (*app.GameService, *memory.Bus, *captureSink) {
	t.Helper()
	directory := memory.NewSessionDirectory()
	questions := memory.NewQuestionRepository(memory.NewStaticSetLoader(map[string]domain.QuestionSet{
		"set-1": {
			ID: "set-1",
			Questions: []domain.Question{
				{
					ID:          "q1",
					Prompt:      "Which protocol secures HTTP traffic?",
					Answer:      "TLS",
					Distractors: []string{"FTP", "SMTP", "DNS"},
					Difficulty:  1,
				},
			},
		},
	}), 5*time.Minute)
	bus := memory.NewBus()
	sink := newCaptureSink()
	return app.NewGameService(directory, questions, bus, sink), bus, sink
}

// startedGame creates a session with Alice (secret ALPH, attacker) and Bob
// (secret BETA, avatar bobAvatar) and starts it.
func startedGame(t *testing.T, svc *app.GameService, aliceAvatar, bobAvatar string) (code, alice, bob string) {
	t.Helper()
	ctx := context.Background()
	info, err := svc.CreateSession(ctx, "t1", "set-1", "", 10*time.Minute, 500)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a, err := svc.Join(ctx, info.Code, "s1", "Alice", "ALPH", aliceAvatar)
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	b, err := svc.Join(ctx, info.Code, "s2", "Bob", "BETA", bobAvatar)
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if err := svc.Start(ctx, info.Code, "t1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	return info.Code, a.PlayerID, b.PlayerID
}

// earnCredits answers the single cycling question correctly and takes the
// credits reward, times over.
func earnCredits(t *testing.T, svc *app.GameService, code, playerID string, times int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < times; i++ {
		res, err := svc.SubmitAnswer(ctx, code, playerID, "q1", "TLS")
		if err != nil || !res.Correct {
			t.Fatalf("expected correct answer, got %+v err=%v", res, err)
		}
		if err := svc.SelectReward(ctx, code, playerID, domain.RewardCredits); err != nil {
			t.Fatalf("reward: %v", err)
		}
	}
}

func creditsByPlayer(lb domain.Leaderboard) map[string]int {
	credits := make(map[string]int, len(lb.Entries))
	for _, e := range lb.Entries {
		credits[e.PlayerID] = e.Credits
	}
	return credits
}

func nextEvent(t *testing.T, events <-chan domain.Event, want domain.EventType) domain.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func tryEvent(events <-chan domain.Event) (domain.Event, bool) {
	select {
	case ev := <-events:
		return ev, true
	case <-time.After(100 * time.Millisecond):
		return domain.Event{}, false
	}
}
