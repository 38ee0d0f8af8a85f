package pop3

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/balki/mail4one/internal/logging"
	"github.com/balki/mail4one/internal/metrics"
	"github.com/balki/mail4one/internal/server"
)

// defaultMaxConnections bounds concurrent connections per listener; a
// runaway client loop should not be able to exhaust file descriptors for
// every other user of the same listener.
const defaultMaxConnections = 256

// Connection wraps one accepted net.Conn with buffered line I/O and the
// single hard wall-clock deadline the protocol requires: set once at
// accept, never extended, covering reads and writes alike.
type Connection struct {
	netConn net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	isTLS   bool
}

func newConnection(netConn net.Conn, timeout time.Duration) *Connection {
	netConn.SetDeadline(time.Now().Add(timeout))
	_, isTLS := netConn.(*tls.Conn)
	return &Connection{
		netConn: netConn,
		reader:  bufio.NewReader(netConn),
		writer:  bufio.NewWriter(netConn),
		isTLS:   isTLS,
	}
}

func (c *Connection) ReadLine() (string, error) {
	return c.reader.ReadString('\n')
}

func (c *Connection) WriteResponse(r Response) error {
	if _, err := c.writer.WriteString(r.String()); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *Connection) Close() error { return c.netConn.Close() }

// Listener accepts POP3 connections on Address, optionally wrapping them
// in TLS, and runs the GREETED..UPDATE state machine for each.
type Listener struct {
	Address   string
	Hostname  string
	MailsPath string
	TLSConfig *tls.Config // non-nil means implicit TLS, wrapped before first byte
	Timeout   time.Duration
	Shared    *SharedState
	Collector metrics.Collector
	Logger    *slog.Logger

	limiter *server.ConnectionLimiter
}

// Serve accepts connections until ctx is cancelled or the listener fails.
func (l *Listener) Serve(ctx context.Context) error {
	if l.limiter == nil {
		l.limiter = server.NewConnectionLimiter(defaultMaxConnections)
	}

	netListener, err := net.Listen("tcp", l.Address)
	if err != nil {
		return fmt.Errorf("pop3: listening on %s: %w", l.Address, err)
	}
	if l.TLSConfig != nil {
		netListener = tls.NewListener(netListener, l.TLSConfig)
	}
	defer netListener.Close()

	go func() {
		<-ctx.Done()
		netListener.Close()
	}()

	for {
		netConn, err := netListener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("pop3: accept on %s: %w", l.Address, err)
			}
		}
		if !l.limiter.TryAcquire() {
			netConn.Close()
			continue
		}
		go func() {
			defer l.limiter.Release()
			l.handle(ctx, netConn)
		}()
	}
}

func (l *Listener) handle(ctx context.Context, netConn net.Conn) {
	logger := l.Logger.With(slog.String("remote", netConn.RemoteAddr().String()))
	ctx = logging.WithLogger(ctx, logger)

	l.Collector.ConnectionOpened()
	defer l.Collector.ConnectionClosed()
	if l.TLSConfig != nil {
		l.Collector.TLSConnectionEstablished()
	}

	conn := newConnection(netConn, l.Timeout)
	defer conn.Close()

	sess := NewSession(l.Hostname, l.MailsPath, l.Shared)
	defer func() {
		if err := sess.Finish(); err != nil {
			logger.Error("persisting deletions", slog.String("error", err.Error()))
		}
	}()

	if err := conn.WriteResponse(sess.Greet()); err != nil {
		return
	}

	for {
		line, err := conn.ReadLine()
		if err != nil {
			if err != io.EOF {
				logger.Debug("read error", slog.String("error", err.Error()))
			}
			return
		}

		name, args, err := ParseCommand(line)
		if err != nil {
			continue // blank line: RFC 1939 clients don't send these, but be lenient
		}

		cmd, ok := GetCommand(name)
		if !ok {
			if sess.State() == StateTransaction {
				conn.WriteResponse(Response{OK: false, Message: "Not implemented"})
				return
			}
			if err := sess.recordBadCommand(); err != nil {
				conn.WriteResponse(Response{OK: false, Message: "Bad command"})
				return
			}
			conn.WriteResponse(Response{OK: false, Message: "Bad command"})
			continue
		}
		if st := sess.State(); (st == StateAuthUser && name != "CAPA" && name != "USER" && name != "QUIT") ||
			(st == StateAuthPass && name != "CAPA" && name != "PASS" && name != "QUIT") {
			err := sess.recordBadCommand()
			conn.WriteResponse(Response{OK: false, Message: "Bad command"})
			if err != nil {
				return
			}
			continue
		}

		l.Collector.CommandProcessed(name)
		resp, err := cmd.Execute(ctx, sess, args)
		if writeErr := conn.WriteResponse(resp); writeErr != nil {
			return
		}

		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, ErrClientQuit):
			return
		case errors.Is(err, ErrTooManyBadCommands), errors.Is(err, ErrTooManyAuthFailures):
			return
		default:
			logger.Error("session error", slog.String("error", err.Error()))
			conn.WriteResponse(Response{OK: false, Message: "Something went wrong"})
			return
		}
	}
}
