// Package orchestrator reads the configuration, compiles the router and
// user table once, resolves TLS contexts, and brings up every configured
// POP3 and SMTP listener side by side. Termination of any one listener
// terminates the process.
package orchestrator

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	smtplib "github.com/emersion/go-smtp"

	"github.com/balki/mail4one/internal/config"
	"github.com/balki/mail4one/internal/logging"
	"github.com/balki/mail4one/internal/metrics"
	"github.com/balki/mail4one/internal/pop3"
	"github.com/balki/mail4one/internal/router"
	"github.com/balki/mail4one/internal/smtp"
)

// Run loads cfg, builds the shared router/user table/TLS contexts, and
// serves every configured listener until one of them fails or ctx is
// cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger(cfg.Logging.LogFile, cfg.Logging.Level)
	ctx = logging.WithLogger(ctx, logger)

	table, err := router.Compile(cfg.Matches, cfg.Boxes)
	if err != nil {
		return fmt.Errorf("orchestrator: compiling router: %w", err)
	}

	users := make(map[string]pop3.UserRecord, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Username] = pop3.UserRecord{PasswordHash: u.PasswordHash, Mbox: u.Mbox}
	}
	shared := pop3.NewSharedState(users)

	defaultTLS, err := config.DefaultTLSConfig(cfg.DefaultTLS)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	collector := metrics.Collector(&metrics.NoopCollector{})

	tasks := make([]func() error, 0, len(cfg.Servers))
	for _, serverCfg := range cfg.Servers {
		serverCfg := serverCfg
		tlsCfg, err := config.ResolveTLS(serverCfg.TLS, defaultTLS)
		if err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}

		switch serverCfg.Type {
		case config.ServerTypePOP:
			listener := &pop3.Listener{
				Address:   net.JoinHostPort(cfg.ResolveHost(serverCfg.Host), portString(serverCfg.Port)),
				Hostname:  cfg.ResolveHost(serverCfg.Host),
				MailsPath: cfg.MailsPath,
				TLSConfig: tlsCfg,
				Timeout:   time.Duration(serverCfg.TimeoutSeconds) * time.Second,
				Shared:    shared,
				Collector: collector,
				Logger:    logger,
			}
			tasks = append(tasks, func() error { return listener.Serve(ctx) })

		case config.ServerTypeSMTPStartTLS, config.ServerTypeSMTP:
			mode := smtp.TLSModeRequireStartTLS
			if serverCfg.Type == config.ServerTypeSMTP {
				mode = smtp.TLSModeImplicit
				if tlsCfg == nil {
					mode = smtp.TLSModePlain
				}
			}
			backend := &smtp.Backend{
				MailsPath: cfg.MailsPath,
				Router:    table,
				Collector: collector,
				Logger:    logger,
				Mode:      mode,
			}
			srv, err := smtp.NewServer(backend, cfg.ResolveHost(serverCfg.Host), mode, tlsCfg)
			if err != nil {
				return fmt.Errorf("orchestrator: %w", err)
			}
			srv.Addr = net.JoinHostPort(cfg.ResolveHost(serverCfg.Host), portString(serverCfg.Port))

			tasks = append(tasks, smtpTask(ctx, srv, mode, tlsCfg))

		default:
			return fmt.Errorf("orchestrator: unknown server_type %q", serverCfg.Type)
		}
	}

	return runAll(ctx, tasks)
}

func portString(port int) string {
	return fmt.Sprintf("%d", port)
}

// smtpTask builds the run function for one SMTP listener: for implicit TLS
// it wraps the raw listener before Serve; for STARTTLS-required and
// plaintext it hands go-smtp a bare listener (STARTTLS is negotiated
// in-band once a connection is open).
func smtpTask(ctx context.Context, srv *smtplib.Server, mode smtp.TLSMode, tlsCfg *tls.Config) func() error {
	return func() error {
		netListener, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("smtp: listening on %s: %w", srv.Addr, err)
		}
		if mode == smtp.TLSModeImplicit {
			if tlsCfg == nil {
				return fmt.Errorf("smtp: implicit-tls listener on %s requires a TLS context", srv.Addr)
			}
			netListener = tls.NewListener(netListener, tlsCfg)
		}

		go func() {
			<-ctx.Done()
			srv.Close()
		}()

		if err := srv.Serve(netListener); err != nil && ctx.Err() == nil {
			return fmt.Errorf("smtp: serving %s: %w", srv.Addr, err)
		}
		return nil
	}
}

// runAll starts every task in its own goroutine and returns as soon as any
// one of them returns (successfully or not), per the fatal-listener policy.
func runAll(ctx context.Context, tasks []func() error) error {
	if len(tasks) == 0 {
		return fmt.Errorf("orchestrator: no servers configured")
	}

	errCh := make(chan error, len(tasks))
	for _, task := range tasks {
		task := task
		go func() { errCh <- task() }()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
