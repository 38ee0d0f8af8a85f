package pop3

import "context"

// capaCommand implements CAPA (RFC 2449). Its reply differs by state: the
// AUTH_USER form advertises USER only, the TRANSACTION form advertises
// UIDL only, matching the minimal command set this server supports.
type capaCommand struct{}

func (c *capaCommand) Name() string { return "CAPA" }

func (c *capaCommand) Execute(ctx context.Context, sess *Session, args []string) (Response, error) {
	switch sess.State() {
	case StateAuthUser, StateAuthPass:
		return Response{OK: true, Message: "Following are supported", Lines: []string{"USER"}}, nil
	case StateTransaction:
		return Response{OK: true, Message: "CAPA follows", Lines: []string{"UIDL"}}, nil
	default:
		return Response{OK: false, Message: "Command not valid in this state"}, nil
	}
}

// userCommand implements USER (RFC 1939): accepted only in AUTH_USER,
// advances to AUTH_PASS.
type userCommand struct{}

func (u *userCommand) Name() string { return "USER" }

func (u *userCommand) Execute(ctx context.Context, sess *Session, args []string) (Response, error) {
	if sess.State() != StateAuthUser {
		return Response{OK: false, Message: "Command not valid in this state"}, nil
	}
	if len(args) != 1 || args[0] == "" {
		if err := sess.recordBadCommand(); err != nil {
			return Response{OK: false, Message: "Bad command"}, err
		}
		return Response{OK: false, Message: "Bad command"}, nil
	}

	sess.BeginUser(args[0])
	return Response{OK: true, Message: "Welcome"}, nil
}

// passCommand implements PASS (RFC 1939): accepted only in AUTH_PASS,
// checks credentials, enforces single-session-per-user, and on success
// loads the mailbox snapshot and advances to TRANSACTION.
type passCommand struct{}

func (p *passCommand) Name() string { return "PASS" }

func (p *passCommand) Execute(ctx context.Context, sess *Session, args []string) (Response, error) {
	if sess.State() != StateAuthPass {
		return Response{OK: false, Message: "Command not valid in this state"}, nil
	}
	if len(args) != 1 {
		if err := sess.recordBadCommand(); err != nil {
			return Response{OK: false, Message: "Bad command"}, err
		}
		return Response{OK: false, Message: "Bad command"}, nil
	}

	return sess.Authenticate(args[0])
}

// quitCommand implements QUIT. Valid from any pre-TRANSACTION state
// (immediate close) and from TRANSACTION (advances to UPDATE, handled by
// the connection loop after this response is sent).
type quitCommand struct{}

func (q *quitCommand) Name() string { return "QUIT" }

func (q *quitCommand) Execute(ctx context.Context, sess *Session, args []string) (Response, error) {
	if sess.State() == StateTransaction {
		sess.EnterUpdate()
	}
	return Response{OK: true, Message: "Bye"}, ErrClientQuit
}
