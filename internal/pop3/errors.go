package pop3

import "errors"

// Session-level conditions, distinct from the wire-level -ERR replies they
// usually cause: Listener.handle inspects these with errors.Is to decide
// whether to close quietly, retry, or log.
var (
	// ErrClientQuit is returned by QUIT; the connection loop then closes
	// without logging it as a failure, and Session.Finish persists the
	// session's deletions (the UPDATE stage).
	ErrClientQuit = errors.New("pop3: client quit")

	// ErrTooManyBadCommands is returned once the retry limit (3) for bad
	// commands in AUTH_USER/AUTH_PASS is exceeded.
	ErrTooManyBadCommands = errors.New("pop3: too many invalid commands")

	// ErrTooManyAuthFailures is returned once the AUTH retry limit (3) is
	// exceeded.
	ErrTooManyAuthFailures = errors.New("pop3: too many authentication failures")

	// ErrUnknownCommand names a command not in the dispatch table while in
	// TRANSACTION, which is fatal. Listener.handle answers that case inline
	// ("-ERR Not implemented", then close) and does not produce this value.
	ErrUnknownCommand = errors.New("pop3: unknown command")

	// ErrNoSuchMessage names a LIST/RETR/DELE argument that does not name a
	// live message. The commands answer that case with "-ERR Not found" and
	// do not return this value.
	ErrNoSuchMessage = errors.New("pop3: no such message")
)
