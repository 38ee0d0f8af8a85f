package pop3

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func authenticatedSession(t *testing.T) *Session {
	t.Helper()
	mailsPath := t.TempDir()
	newDir := filepath.Join(mailsPath, "inbox", "new")
	if err := os.MkdirAll(newDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(newDir, "uid-a"), []byte("a"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	users := map[string]UserRecord{"alice": {PasswordHash: hashFor(t, "swordfish"), Mbox: "inbox"}}
	sess, _ := newTestSession(t, mailsPath, users)
	GetMustCommand(t, "USER").Execute(context.Background(), sess, []string{"alice"})
	GetMustCommand(t, "PASS").Execute(context.Background(), sess, []string{"swordfish"})
	return sess
}

func TestListAndUidlShapes(t *testing.T) {
	sess := authenticatedSession(t)

	resp, _ := GetMustCommand(t, "LIST").Execute(context.Background(), sess, nil)
	if len(resp.Lines) != 1 || resp.Lines[0] != "1 1" {
		t.Errorf("LIST = %+v", resp)
	}

	resp, _ = GetMustCommand(t, "UIDL").Execute(context.Background(), sess, nil)
	if len(resp.Lines) != 1 || resp.Lines[0] != "1 uid-a" {
		t.Errorf("UIDL = %+v", resp)
	}

	resp, _ = GetMustCommand(t, "LIST").Execute(context.Background(), sess, []string{"99"})
	if resp.OK {
		t.Errorf("LIST 99 should fail, got %+v", resp)
	}
}

func TestDeleThenStat(t *testing.T) {
	sess := authenticatedSession(t)

	resp, _ := GetMustCommand(t, "DELE").Execute(context.Background(), sess, []string{"1"})
	if !resp.OK || resp.Message != "Deleted" {
		t.Fatalf("DELE = %+v", resp)
	}

	resp, _ = GetMustCommand(t, "DELE").Execute(context.Background(), sess, []string{"1"})
	if resp.OK {
		t.Error("DELE on already-deleted message should fail")
	}

	resp, _ = GetMustCommand(t, "STAT").Execute(context.Background(), sess, nil)
	if resp.Message != "0 0" {
		t.Errorf("STAT after DELE = %q, want \"0 0\"", resp.Message)
	}
}

func TestCapaVariesByState(t *testing.T) {
	mailsPath := t.TempDir()
	users := map[string]UserRecord{"alice": {PasswordHash: hashFor(t, "swordfish"), Mbox: "inbox"}}
	sess, _ := newTestSession(t, mailsPath, users)

	resp, _ := GetMustCommand(t, "CAPA").Execute(context.Background(), sess, nil)
	if len(resp.Lines) != 1 || resp.Lines[0] != "USER" {
		t.Errorf("CAPA in AUTH_USER = %+v", resp)
	}

	GetMustCommand(t, "USER").Execute(context.Background(), sess, []string{"alice"})
	GetMustCommand(t, "PASS").Execute(context.Background(), sess, []string{"swordfish"})

	resp, _ = GetMustCommand(t, "CAPA").Execute(context.Background(), sess, nil)
	if len(resp.Lines) != 1 || resp.Lines[0] != "UIDL" {
		t.Errorf("CAPA in TRANSACTION = %+v", resp)
	}
}

func TestNoopOutsideTransactionFails(t *testing.T) {
	mailsPath := t.TempDir()
	users := map[string]UserRecord{"alice": {PasswordHash: hashFor(t, "swordfish"), Mbox: "inbox"}}
	sess, _ := newTestSession(t, mailsPath, users)

	resp, _ := GetMustCommand(t, "NOOP").Execute(context.Background(), sess, nil)
	if resp.OK {
		t.Error("NOOP before TRANSACTION should fail")
	}
}
