package redis

import (
	"context"
	"sync"
	"time"

	"breach-session-service/internal/app"
	"github.com/redis/go-redis/v9"
)

// SessionDirectory is a Redis-aware implementation of app.Directory.
// Notes:
//   - Sessions themselves stay in a local in-memory map; the aggregate holds
//     live channels and locks that do not serialize.
//   - Redis carries a best-effort liveness marker per code. Lookups and code
//     allocation consult only the local map; the marker could be extended to
//     cross-instance code reservation and routing.
type SessionDirectory struct {
	client *redis.Client
	ttl    time.Duration

	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionDirectory(client *redis.Client, ttl time.Duration) *SessionDirectory {
	return &SessionDirectory{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Session),
	}
}

func (d *SessionDirectory) Register(session *app.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[session.Code()] = session
	// best-effort liveness marker
	_ = d.client.Set(context.Background(), d.key(session.Code()), "1", d.ttl).Err()
}

func (d *SessionDirectory) Get(code string) (*app.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	session, ok := d.sessions[code]
	return session, ok
}

func (d *SessionDirectory) Delete(code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, code)
	_ = d.client.Del(context.Background(), d.key(code)).Err()
}

func (d *SessionDirectory) SweepIdle(maxIdle time.Duration) []*app.Session {
	cutoff := time.Now().Add(-maxIdle)

	d.mu.Lock()
	defer d.mu.Unlock()
	var swept []*app.Session
	for code, session := range d.sessions {
		if session.LastActivity().Before(cutoff) {
			swept = append(swept, session)
			delete(d.sessions, code)
			_ = d.client.Del(context.Background(), d.key(code)).Err()
		}
	}
	return swept
}

func (d *SessionDirectory) key(code string) string {
	return "breach:session:" + code
}
