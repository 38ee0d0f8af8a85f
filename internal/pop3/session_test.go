package pop3

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/balki/mail4one/internal/pwhash"
)

func newTestSession(t *testing.T, mailsPath string, users map[string]UserRecord) (*Session, *SharedState) {
	t.Helper()
	shared := NewSharedState(users)
	sess := NewSession("localhost", mailsPath, shared)
	sess.Greet()
	return sess, shared
}

func hashFor(t *testing.T, password string) string {
	t.Helper()
	h, err := pwhash.Generate(password)
	if err != nil {
		t.Fatalf("pwhash.Generate: %v", err)
	}
	return h
}

func TestAuthHappyPath(t *testing.T) {
	mailsPath := t.TempDir()
	users := map[string]UserRecord{"alice": {PasswordHash: hashFor(t, "swordfish"), Mbox: "inbox"}}
	sess, _ := newTestSession(t, mailsPath, users)

	if sess.State() != StateAuthUser {
		t.Fatalf("after Greet, state = %v, want AUTH_USER", sess.State())
	}

	resp, err := GetMustCommand(t, "USER").Execute(context.Background(), sess, []string{"alice"})
	if err != nil || !resp.OK || sess.State() != StateAuthPass {
		t.Fatalf("USER: resp=%+v err=%v state=%v", resp, err, sess.State())
	}

	resp, err = GetMustCommand(t, "PASS").Execute(context.Background(), sess, []string{"swordfish"})
	if err != nil || !resp.OK || sess.State() != StateTransaction {
		t.Fatalf("PASS: resp=%+v err=%v state=%v", resp, err, sess.State())
	}
	if sess.Username() != "alice" {
		t.Errorf("Username() = %q, want alice", sess.Username())
	}
}

func TestAuthWrongPassword(t *testing.T) {
	mailsPath := t.TempDir()
	users := map[string]UserRecord{"alice": {PasswordHash: hashFor(t, "swordfish"), Mbox: "inbox"}}
	sess, _ := newTestSession(t, mailsPath, users)

	GetMustCommand(t, "USER").Execute(context.Background(), sess, []string{"alice"})
	resp, err := GetMustCommand(t, "PASS").Execute(context.Background(), sess, []string{"wrong"})
	if err != nil {
		t.Fatalf("PASS with wrong password should not error on first attempt: %v", err)
	}
	if resp.OK {
		t.Fatal("PASS with wrong password should fail")
	}
	if sess.State() != StateAuthUser {
		t.Errorf("state after failed auth = %v, want AUTH_USER", sess.State())
	}
}

func TestAuthExceedingRetriesCloses(t *testing.T) {
	mailsPath := t.TempDir()
	users := map[string]UserRecord{"alice": {PasswordHash: hashFor(t, "swordfish"), Mbox: "inbox"}}
	sess, _ := newTestSession(t, mailsPath, users)

	var lastErr error
	for i := 0; i < 4; i++ {
		GetMustCommand(t, "USER").Execute(context.Background(), sess, []string{"alice"})
		_, lastErr = GetMustCommand(t, "PASS").Execute(context.Background(), sess, []string{"wrong"})
	}
	if lastErr != ErrTooManyAuthFailures {
		t.Fatalf("after 4 failed PASS attempts, err = %v, want ErrTooManyAuthFailures", lastErr)
	}
	if sess.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", sess.State())
	}
}

func TestSingleSessionPerUser(t *testing.T) {
	mailsPath := t.TempDir()
	users := map[string]UserRecord{"alice": {PasswordHash: hashFor(t, "swordfish"), Mbox: "inbox"}}
	shared := NewSharedState(users)

	first := NewSession("localhost", mailsPath, shared)
	first.Greet()
	GetMustCommand(t, "USER").Execute(context.Background(), first, []string{"alice"})
	resp, err := GetMustCommand(t, "PASS").Execute(context.Background(), first, []string{"swordfish"})
	if err != nil || !resp.OK {
		t.Fatalf("first login should succeed: %+v %v", resp, err)
	}

	second := NewSession("localhost", mailsPath, shared)
	second.Greet()
	GetMustCommand(t, "USER").Execute(context.Background(), second, []string{"alice"})
	resp, err = GetMustCommand(t, "PASS").Execute(context.Background(), second, []string{"swordfish"})
	if err != nil {
		t.Fatalf("second login attempt should not error on first try: %v", err)
	}
	if resp.OK || resp.Message != "Auth Failed: Already logged in" {
		t.Errorf("second concurrent login = %+v, want Already logged in failure", resp)
	}

	if err := first.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	third := NewSession("localhost", mailsPath, shared)
	third.Greet()
	GetMustCommand(t, "USER").Execute(context.Background(), third, []string{"alice"})
	resp, err = GetMustCommand(t, "PASS").Execute(context.Background(), third, []string{"swordfish"})
	if err != nil || !resp.OK {
		t.Fatalf("login after first session Finish should succeed: %+v %v", resp, err)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	mailsPath := t.TempDir()
	newDir := filepath.Join(mailsPath, "inbox", "new")
	if err := os.MkdirAll(newDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(newDir, "msg1"), []byte("Subject: hi\r\n\r\nbody\r\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	users := map[string]UserRecord{"alice": {PasswordHash: hashFor(t, "swordfish"), Mbox: "inbox"}}
	sess, _ := newTestSession(t, mailsPath, users)
	GetMustCommand(t, "USER").Execute(context.Background(), sess, []string{"alice"})
	GetMustCommand(t, "PASS").Execute(context.Background(), sess, []string{"swordfish"})

	resp, _ := GetMustCommand(t, "STAT").Execute(context.Background(), sess, nil)
	if resp.Message != "1 21" {
		t.Errorf("STAT = %q, want \"1 21\"", resp.Message)
	}

	resp, _ = GetMustCommand(t, "RETR").Execute(context.Background(), sess, []string{"1"})
	if !resp.OK {
		t.Fatalf("RETR: %+v", resp)
	}

	resp, _ = GetMustCommand(t, "STAT").Execute(context.Background(), sess, nil)
	if resp.Message != "0 0" {
		t.Errorf("STAT after implicit-delete RETR = %q, want \"0 0\"", resp.Message)
	}

	GetMustCommand(t, "RSET").Execute(context.Background(), sess, nil)
	resp, _ = GetMustCommand(t, "STAT").Execute(context.Background(), sess, nil)
	if resp.Message != "1 21" {
		t.Errorf("STAT after RSET = %q, want \"1 21\" (re-admitted)", resp.Message)
	}

	resp, err := GetMustCommand(t, "QUIT").Execute(context.Background(), sess, nil)
	if err != ErrClientQuit || !resp.OK {
		t.Fatalf("QUIT: resp=%+v err=%v", resp, err)
	}
	if sess.State() != StateUpdate {
		t.Errorf("state after QUIT from TRANSACTION = %v, want UPDATE", sess.State())
	}
}

// GetMustCommand is a small test helper wrapping GetCommand with a fatal
// lookup failure, since every test here exercises a command that must be
// registered by this package's init().
func GetMustCommand(t *testing.T, name string) Command {
	t.Helper()
	cmd, ok := GetCommand(name)
	if !ok {
		t.Fatalf("command %q not registered", name)
	}
	return cmd
}
