// Package pop3 implements the RFC 1939 server: a per-connection state
// machine (GREETED, AUTH_USER, AUTH_PASS, TRANSACTION, UPDATE) backed by a
// ctime-ordered Maildir snapshot and a cross-session logged-in-user set.
package pop3

import (
	"github.com/balki/mail4one/internal/maildir"
	"github.com/balki/mail4one/internal/pwhash"
)

// State is one stage of the POP3 state machine.
type State int

const (
	StateGreeted State = iota
	StateAuthUser
	StateAuthPass
	StateTransaction
	StateUpdate
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateGreeted:
		return "GREETED"
	case StateAuthUser:
		return "AUTH_USER"
	case StateAuthPass:
		return "AUTH_PASS"
	case StateTransaction:
		return "TRANSACTION"
	case StateUpdate:
		return "UPDATE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

const maxRetries = 3

// Session is one connection's worth of protocol state. It is never shared
// across goroutines.
type Session struct {
	hostname  string
	mailsPath string
	shared    *SharedState

	state        State
	pendingUser  string // set by USER, consumed by PASS
	username     string // set once PASS succeeds
	mbox         string // resolved mailbox name once authenticated
	badCommands  int
	authFailures int

	list *maildir.List
}

// NewSession creates a session in the GREETED state.
func NewSession(hostname, mailsPath string, shared *SharedState) *Session {
	return &Session{
		hostname:  hostname,
		mailsPath: mailsPath,
		shared:    shared,
		state:     StateGreeted,
	}
}

func (s *Session) State() State { return s.state }

// Greet transitions GREETED -> AUTH_USER and returns the banner.
func (s *Session) Greet() Response {
	s.state = StateAuthUser
	return Response{OK: true, Message: "Server Ready"}
}

// recordBadCommand counts a malformed/unexpected command against the
// AUTH_USER/AUTH_PASS retry limit. Returns ErrTooManyBadCommands once
// exceeded.
func (s *Session) recordBadCommand() error {
	s.badCommands++
	if s.badCommands > maxRetries {
		s.state = StateClosed
		return ErrTooManyBadCommands
	}
	return nil
}

// BeginUser records the USER argument and advances to AUTH_PASS.
func (s *Session) BeginUser(name string) {
	s.pendingUser = name
	s.state = StateAuthPass
}

// authFailed records a failed PASS attempt, reverting to AUTH_USER. Once
// the retry limit is exceeded the session is closed.
func (s *Session) authFailed() error {
	s.authFailures++
	s.pendingUser = ""
	s.state = StateAuthUser
	if s.authFailures > maxRetries {
		s.state = StateClosed
		return ErrTooManyAuthFailures
	}
	return nil
}

// Authenticate checks password against the user table for the pending
// username, enforces single-session-per-user, and on success loads the
// mailbox snapshot and advances to TRANSACTION.
func (s *Session) Authenticate(password string) (Response, error) {
	username := s.pendingUser
	record, ok := s.shared.Users[username]
	if !ok {
		if err := s.authFailed(); err != nil {
			return Response{OK: false, Message: "Auth Failed: unknown user"}, err
		}
		return Response{OK: false, Message: "Auth Failed: unknown user"}, nil
	}

	info, err := pwhash.Parse(record.PasswordHash)
	if err != nil || !pwhash.Check(password, info) {
		if err := s.authFailed(); err != nil {
			return Response{OK: false, Message: "Auth Failed: bad credentials"}, err
		}
		return Response{OK: false, Message: "Auth Failed: bad credentials"}, nil
	}

	if !s.shared.TryLogin(username) {
		if err := s.authFailed(); err != nil {
			return Response{OK: false, Message: "Auth Failed: Already logged in"}, err
		}
		return Response{OK: false, Message: "Auth Failed: Already logged in"}, nil
	}

	if err := s.loadMailbox(username, record.Mbox); err != nil {
		s.shared.Logout(username)
		return Response{}, err
	}

	s.username = username
	s.state = StateTransaction
	return Response{OK: true, Message: "Login successful"}, nil
}

func (s *Session) loadMailbox(username, mbox string) error {
	entries, err := maildir.ScanNew(s.mailsPath, mbox)
	if err != nil {
		return err
	}
	deleted, err := maildir.ReadDeletedItems(s.mailsPath, mbox, username)
	if err != nil {
		return err
	}
	s.mbox = mbox
	s.list = maildir.NewList(entries, deleted)
	return nil
}

// Username returns the authenticated username, or "" before PASS succeeds.
func (s *Session) Username() string { return s.username }

// EnterUpdate transitions TRANSACTION -> UPDATE on QUIT.
func (s *Session) EnterUpdate() {
	if s.state == StateTransaction {
		s.state = StateUpdate
	}
}

// Finish persists deletions (if any) and releases the logged-in slot. Safe
// to call from any state, any number of times.
func (s *Session) Finish() error {
	defer s.shared.Logout(s.username)
	if s.list == nil {
		return nil
	}
	deleted := s.list.DeletedUIDs()
	if len(deleted) == 0 {
		return nil
	}
	return maildir.WriteDeletedItems(s.mailsPath, s.mbox, s.username, deleted)
}
