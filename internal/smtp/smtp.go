// Package smtp implements inbound delivery: an embedded RFC-5321 engine
// (github.com/emersion/go-smtp) whose only server-side additions over the
// bare protocol are an X-SSL trace header and the router-driven Maildir
// fan-out performed on DATA acceptance.
package smtp

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/balki/mail4one/internal/maildir"
	"github.com/balki/mail4one/internal/metrics"
	"github.com/balki/mail4one/internal/router"
)

// TLSMode distinguishes how (if at all) a listener is protected by TLS;
// it decides the X-SSL trace header and whether STARTTLS is advertised.
type TLSMode int

const (
	// TLSModePlain never advertises STARTTLS; used for the plaintext
	// relay-facing listener on port 25.
	TLSModePlain TLSMode = iota
	// TLSModeRequireStartTLS advertises STARTTLS and rejects mail commands
	// until the client upgrades.
	TLSModeRequireStartTLS
	// TLSModeImplicit wraps the socket in TLS before the first byte.
	TLSModeImplicit
)

// Backend adapts the router, mail store path, and metrics collector to the
// go-smtp Session contract. One Backend instance is shared by however many
// listeners (plain/starttls/implicit) the configuration declares; they
// differ only in TLSMode and the *smtp.Server wrapping them.
type Backend struct {
	MailsPath string
	Router    *router.Table
	Collector metrics.Collector
	Logger    *slog.Logger
	Mode      TLSMode
}

// NewSession implements smtp.Backend.
func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b, conn: c}, nil
}

// session handles one SMTP connection's envelope-then-DATA lifecycle. A
// session is single-message-at-a-time: Mail resets any prior envelope,
// Data consumes it and resets again for pipelined MAIL commands on the
// same connection.
type session struct {
	backend *Backend
	conn    *smtp.Conn

	from string
	rcpt []string
}

func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	if _, isTLS := s.conn.TLSConnectionState(); s.backend.Mode == TLSModeRequireStartTLS && !isTLS {
		return &smtp.SMTPError{Code: 530, Message: "must issue STARTTLS first"}
	}
	s.from = from
	s.rcpt = nil
	return nil
}

func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.rcpt = append(s.rcpt, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return &smtp.SMTPError{Code: 451, Message: "error reading message body"}
	}

	mboxes := s.targetMboxes()
	if len(mboxes) == 0 {
		s.backend.Logger.Info("message dropped, no matching mailbox",
			slog.String("from", s.from), slog.Any("rcpt", s.rcpt))
		return nil
	}

	data = withTraceHeader(data, s.traceHeader())

	filename := uuid.NewString() + ".eml"
	if err := maildir.Deliver(s.backend.MailsPath, mboxes, filename, data); err != nil {
		s.backend.Logger.Error("delivery failed", slog.String("error", err.Error()))
		for _, mbox := range mboxes {
			s.backend.Collector.DeliveryFailed(mbox)
		}
		return &smtp.SMTPError{Code: 451, Message: "local delivery failed"}
	}

	for _, mbox := range mboxes {
		s.backend.Collector.MessageDelivered(mbox)
	}

	peer := ""
	if tcpAddr, ok := s.conn.Conn().RemoteAddr().(*net.TCPAddr); ok {
		peer = tcpAddr.String()
	}
	s.backend.Logger.Info("delivered",
		slog.String("filename", filename),
		slog.Any("rcpt", s.rcpt),
		slog.Any("mailboxes", mboxes),
		slog.String("peer", peer),
	)
	return nil
}

// targetMboxes lowercases each recipient, runs the router, unions the
// results, and drops duplicates (router.GetMboxes may itself return
// duplicates within or across recipients).
func (s *session) targetMboxes() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rcpt := range s.rcpt {
		for _, mbox := range s.backend.Router.GetMboxes(strings.ToLower(rcpt)) {
			if _, ok := seen[mbox]; ok {
				continue
			}
			seen[mbox] = struct{}{}
			out = append(out, mbox)
		}
	}
	return out
}

// traceHeader reports Type as which listener accepted the connection
// (starttls vs plain), and STARTTLS as whether this particular connection
// is actually TLS-protected right now. The two are independent: a message
// delivered through the implicit-TLS listener (port 465) is TLS-protected
// but did not arrive via STARTTLS negotiation, so it reports Type: plain,
// STARTTLS: true — matching original_source/mail4one/smtp.py, where
// protocol_factory (serving both the plaintext port-25 listener and the
// implicit-TLS port-465 listener) always constructs MyHandler with
// listener_type "plain", and only protocol_factory_starttls uses
// "starttls".
func (s *session) traceHeader() string {
	_, isTLS := s.conn.TLSConnectionState()
	return fmt.Sprintf("X-SSL: Type: %s, STARTTLS: %t\r\n", sslType(s.backend.Mode), isTLS)
}

func sslType(mode TLSMode) string {
	if mode == TLSModeRequireStartTLS {
		return "starttls"
	}
	return "plain"
}

func (s *session) Reset() {
	s.from = ""
	s.rcpt = nil
}

func (s *session) Logout() error {
	return nil
}

// withTraceHeader prepends the trace header to the raw RFC-5322 message,
// ahead of any existing headers.
func withTraceHeader(data []byte, header string) []byte {
	var buf bytes.Buffer
	buf.WriteString(header)
	buf.Write(data)
	return buf.Bytes()
}

// NewServer builds a *smtp.Server for mode, sharing backend across however
// many listeners are configured. For TLSModeRequireStartTLS, tlsConfig is
// advertised for in-band STARTTLS upgrade; the caller still dials a plain
// net.Listener. For TLSModeImplicit, the caller wraps the net.Listener in
// TLS itself; NewServer neither uses nor checks tlsConfig in that mode.
func NewServer(backend *Backend, domain string, mode TLSMode, tlsConfig *tls.Config) (*smtp.Server, error) {
	if mode == TLSModeRequireStartTLS && tlsConfig == nil {
		return nil, fmt.Errorf("smtp: starttls listener requires a TLS context")
	}

	srv := smtp.NewServer(backend)
	srv.Domain = domain
	srv.EnableSMTPUTF8 = true
	srv.AllowInsecureAuth = mode != TLSModeRequireStartTLS

	if mode == TLSModeRequireStartTLS {
		srv.TLSConfig = tlsConfig
	}

	return srv, nil
}
