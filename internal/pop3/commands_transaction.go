package pop3

import (
	"context"
	"fmt"
	"strconv"

	"github.com/balki/mail4one/internal/maildir"
)

func notTransaction(sess *Session) (Response, bool) {
	if sess.State() != StateTransaction {
		return Response{OK: false, Message: "Command not valid in this state"}, true
	}
	return Response{}, false
}

// statCommand implements STAT.
type statCommand struct{}

func (s *statCommand) Name() string { return "STAT" }

func (s *statCommand) Execute(ctx context.Context, sess *Session, args []string) (Response, error) {
	if resp, bad := notTransaction(sess); bad {
		return resp, nil
	}
	count, size := sess.list.Stat()
	return Response{OK: true, Message: fmt.Sprintf("%d %d", count, size)}, nil
}

// listCommand implements LIST.
type listCommand struct{}

func (l *listCommand) Name() string { return "LIST" }

func (l *listCommand) Execute(ctx context.Context, sess *Session, args []string) (Response, error) {
	if resp, bad := notTransaction(sess); bad {
		return resp, nil
	}
	if len(args) == 0 {
		lines := []string{}
		for _, pair := range sess.list.GetAll() {
			lines = append(lines, fmt.Sprintf("%d %d", pair.Nid, pair.Entry.Size))
		}
		return Response{OK: true, Message: "Mails follow", Lines: lines}, nil
	}

	nid, err := strconv.Atoi(args[0])
	if err != nil {
		return Response{OK: false, Message: "Not found"}, nil
	}
	entry, ok := sess.list.Get(nid)
	if !ok {
		return Response{OK: false, Message: "Not found"}, nil
	}
	return Response{OK: true, Message: fmt.Sprintf("%d %d", nid, entry.Size)}, nil
}

// uidlCommand implements UIDL: same shape as LIST, with uid in place of size.
type uidlCommand struct{}

func (u *uidlCommand) Name() string { return "UIDL" }

func (u *uidlCommand) Execute(ctx context.Context, sess *Session, args []string) (Response, error) {
	if resp, bad := notTransaction(sess); bad {
		return resp, nil
	}
	if len(args) == 0 {
		lines := []string{}
		for _, pair := range sess.list.GetAll() {
			lines = append(lines, fmt.Sprintf("%d %s", pair.Nid, pair.Entry.UID))
		}
		return Response{OK: true, Message: "Mails follow", Lines: lines}, nil
	}

	nid, err := strconv.Atoi(args[0])
	if err != nil {
		return Response{OK: false, Message: "Not found"}, nil
	}
	entry, ok := sess.list.Get(nid)
	if !ok {
		return Response{OK: false, Message: "Not found"}, nil
	}
	return Response{OK: true, Message: fmt.Sprintf("%d %s", nid, entry.UID)}, nil
}

// retrCommand implements RETR: on hit, returns the raw file content as
// Lines and marks the message deleted (implicit-delete-on-RETR, matching
// the source behavior some clients rely on).
type retrCommand struct{}

func (r *retrCommand) Name() string { return "RETR" }

func (r *retrCommand) Execute(ctx context.Context, sess *Session, args []string) (Response, error) {
	if resp, bad := notTransaction(sess); bad {
		return resp, nil
	}
	if len(args) != 1 {
		return Response{OK: false, Message: "Not found"}, nil
	}
	nid, err := strconv.Atoi(args[0])
	if err != nil {
		return Response{OK: false, Message: "Not found"}, nil
	}
	entry, ok := sess.list.Get(nid)
	if !ok {
		return Response{OK: false, Message: "Not found"}, nil
	}

	data, err := maildir.ReadFile(entry.Path)
	if err != nil {
		return Response{}, err
	}
	sess.list.Delete(nid)

	return Response{OK: true, Message: "Contents follow", Lines: splitRetrLines(data)}, nil
}

func splitRetrLines(data []byte) []string {
	lines := []string{}
	start := 0
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			end := i
			if end > start && data[end-1] == '\r' {
				end--
			}
			lines = append(lines, string(data[start:end]))
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines
}

// deleCommand implements DELE.
type deleCommand struct{}

func (d *deleCommand) Name() string { return "DELE" }

func (d *deleCommand) Execute(ctx context.Context, sess *Session, args []string) (Response, error) {
	if resp, bad := notTransaction(sess); bad {
		return resp, nil
	}
	if len(args) != 1 {
		return Response{OK: false, Message: "Not found"}, nil
	}
	nid, err := strconv.Atoi(args[0])
	if err != nil {
		return Response{OK: false, Message: "Not found"}, nil
	}
	if !sess.list.Delete(nid) {
		return Response{OK: false, Message: "Not found"}, nil
	}
	return Response{OK: true, Message: "Deleted"}, nil
}

// rsetCommand implements RSET: rebuilds the live set from the original
// vector, re-admitting messages deleted (explicitly or implicitly via
// RETR) during this session.
type rsetCommand struct{}

func (r *rsetCommand) Name() string { return "RSET" }

func (r *rsetCommand) Execute(ctx context.Context, sess *Session, args []string) (Response, error) {
	if resp, bad := notTransaction(sess); bad {
		return resp, nil
	}
	sess.list.Reset()
	return Response{OK: true, Message: "Reset"}, nil
}

// noopCommand implements NOOP.
type noopCommand struct{}

func (n *noopCommand) Name() string { return "NOOP" }

func (n *noopCommand) Execute(ctx context.Context, sess *Session, args []string) (Response, error) {
	if resp, bad := notTransaction(sess); bad {
		return resp, nil
	}
	return Response{OK: true, Message: "Hmm"}, nil
}
