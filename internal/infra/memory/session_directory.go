package memory

import (
	"sync"
	"time"

	"breach-session-service/internal/app"
)

// SessionDirectory is an in-memory implementation of app.Directory.
type SessionDirectory struct {
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionDirectory() *SessionDirectory {
	return &SessionDirectory{
		sessions: make(map[string]*app.Session),
	}
}

func (d *SessionDirectory) Register(session *app.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[session.Code()] = session
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
}

// SweepIdle removes and returns sessions whose last activity is older than
// maxIdle, guarding the directory against teachers that never end their game.
func (d *SessionDirectory) SweepIdle(maxIdle time.Duration) []*app.Session {
	cutoff := time.Now().Add(-maxIdle)

	d.mu.Lock()
	defer d.mu.Unlock()
	var swept []*app.Session
	for code, session := range d.sessions {
		if session.LastActivity().Before(cutoff) {
			swept = append(swept, session)
			delete(d.sessions, code)
		}
	}
	return swept
}
