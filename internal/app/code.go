package app

import (
	"math/rand"
	"sync"
	"time"

	"breach-session-service/internal/domain"
)

// codeAlphabet avoids visually ambiguous characters (I, O, 0, 1) so codes can
// be read off a projector and typed.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// codeGenerator hands out session codes and deck shuffles from a single
// seeded source. Its mutex only serializes code generation, never sessions.
type codeGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func newCodeGenerator() *codeGenerator {
	return &codeGenerator{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (g *codeGenerator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	buf := make([]byte, codeLength)
	for i := range buf {
		buf[i] = codeAlphabet[g.rnd.Intn(len(codeAlphabet))]
	}
	return string(buf)
}

func (g *codeGenerator) shuffle(deck []domain.Question) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rnd.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
}
