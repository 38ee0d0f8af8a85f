package pop3

import "sync"

// UserRecord is one entry of the configured user table: the password
// verifier and the mailbox a successful login reads from.
type UserRecord struct {
	PasswordHash string
	Mbox         string
}

// SharedState is the cross-session state every accepted connection shares:
// the set of currently logged-in usernames (the sole mechanism enforcing
// single-session-per-user) and the immutable user table. A single
// SharedState is constructed once by the orchestrator and passed by
// pointer to every listener.
type SharedState struct {
	Users map[string]UserRecord

	mu       sync.Mutex
	loggedIn map[string]bool
}

// NewSharedState builds a SharedState from the configured user table.
func NewSharedState(users map[string]UserRecord) *SharedState {
	return &SharedState{
		Users:    users,
		loggedIn: make(map[string]bool),
	}
}

// TryLogin atomically checks that username is not already logged in and,
// if so, marks it logged in. Returns false if a session for username is
// already active.
func (s *SharedState) TryLogin(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loggedIn[username] {
		return false
	}
	s.loggedIn[username] = true
	return true
}

// Logout removes username from the logged-in set. Safe to call even if
// username was never logged in (e.g. a session that never authenticated).
func (s *SharedState) Logout(username string) {
	if username == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.loggedIn, username)
}
