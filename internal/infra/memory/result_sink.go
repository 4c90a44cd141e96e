package memory

import (
	"context"
	"log"

	"breach-session-service/internal/domain"
)

// ResultLog is a no-op persistence sink that logs final results; used when no
// database is configured.
type ResultLog struct{}

func NewResultLog() *ResultLog {
	return &ResultLog{}
}

func (l *ResultLog) SaveResult(_ context.Context, result domain.SessionResult) error {
	log.Printf("session %s ended with %d players (results not persisted)", result.Code, len(result.Players))
	return nil
}
