// Package config decodes the JSON configuration file that describes the
// mail store location, address routing rules, the user table, and the
// set of listeners the orchestrator should bring up.
package config

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"

	"github.com/balki/mail4one/internal/router"
)

// ServerType tags the variant of ServerConfig.
type ServerType string

const (
	ServerTypePOP          ServerType = "pop"
	ServerTypeSMTPStartTLS ServerType = "smtp_starttls"
	ServerTypeSMTP         ServerType = "smtp"
)

// TLSSetting is the tagged union accepted wherever a listener names a TLS
// context: the literal string "default" or "disable", or an inline
// {certfile,keyfile} pair. UnmarshalJSON distinguishes the forms.
type TLSSetting struct {
	Kind     string // "default", "disable", or "inline"
	CertFile string
	KeyFile  string
}

func (t *TLSSetting) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		switch asString {
		case "default", "disable":
			t.Kind = asString
			return nil
		default:
			return fmt.Errorf("tls: unrecognized string value %q", asString)
		}
	}

	var inline struct {
		CertFile string `json:"certfile"`
		KeyFile  string `json:"keyfile"`
	}
	if err := json.Unmarshal(data, &inline); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	t.Kind = "inline"
	t.CertFile = inline.CertFile
	t.KeyFile = inline.KeyFile
	return nil
}

// CertPair is an inline {certfile,keyfile} pair, used for default_tls.
type CertPair struct {
	CertFile string `json:"certfile"`
	KeyFile  string `json:"keyfile"`
}

// ServerConfig is one entry of the "servers" array. Fields not applicable
// to Type are left zero.
type ServerConfig struct {
	Type             ServerType `json:"server_type"`
	Host             string     `json:"host,omitempty"`
	Port             int        `json:"port,omitempty"`
	TLS              TLSSetting `json:"tls"`
	TimeoutSeconds   int        `json:"timeout_seconds,omitempty"`
	RequireStartTLS  bool       `json:"require_starttls,omitempty"`
	SMTPUTF8         bool       `json:"smtputf8,omitempty"`
}

// UserConfig is one entry of the "users" array.
type UserConfig struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	Mbox         string `json:"mbox"`
}

// LoggingConfig controls the ambient structured logger.
type LoggingConfig struct {
	LogFile string `json:"logfile"`
	Level   string `json:"level"`
}

// Config is the top-level decoded form of the JSON configuration file.
type Config struct {
	MailsPath  string                 `json:"mails_path"`
	DefaultTLS *CertPair              `json:"default_tls"`
	DefaultHost string                `json:"default_host"`
	Logging    LoggingConfig          `json:"logging"`
	Matches    []router.MatchConfig   `json:"matches"`
	Boxes      []router.MailboxConfig `json:"boxes"`
	Users      []UserConfig           `json:"users"`
	Servers    []ServerConfig         `json:"servers"`
}

// Load reads and decodes the configuration file at path, applying the
// per-ServerConfig defaults documented for each server_type.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if cfg.DefaultHost == "" {
		cfg.DefaultHost = "0.0.0.0"
	}
	if cfg.Logging.LogFile == "" {
		cfg.Logging.LogFile = "CONSOLE"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}

	for i := range cfg.Servers {
		applyServerDefaults(&cfg.Servers[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyServerDefaults(s *ServerConfig) {
	if s.Host == "" || s.Host == "default" {
		s.Host = "default"
	}
	switch s.Type {
	case ServerTypePOP:
		if s.Port == 0 {
			s.Port = 995
		}
		if s.TimeoutSeconds == 0 {
			s.TimeoutSeconds = 60
		}
	case ServerTypeSMTPStartTLS:
		if s.Port == 0 {
			s.Port = 25
		}
		s.RequireStartTLS = true
		s.SMTPUTF8 = true
	case ServerTypeSMTP:
		if s.Port == 0 {
			s.Port = 465
		}
		s.SMTPUTF8 = true
	}
}

// Validate checks structural requirements Load cannot express through
// zero values alone.
func (c *Config) Validate() error {
	if c.MailsPath == "" {
		return fmt.Errorf("config: mails_path is required")
	}
	for i, s := range c.Servers {
		switch s.Type {
		case ServerTypePOP, ServerTypeSMTPStartTLS, ServerTypeSMTP:
		default:
			return fmt.Errorf("config: servers[%d]: unknown server_type %q", i, s.Type)
		}
		if s.Type == ServerTypeSMTPStartTLS && s.TLS.Kind == "disable" {
			return fmt.Errorf("config: servers[%d]: smtp_starttls requires a TLS context", i)
		}
	}
	return nil
}

// ResolveHost resolves the "default" sentinel against DefaultHost.
func (c *Config) ResolveHost(host string) string {
	if host == "" || host == "default" {
		return c.DefaultHost
	}
	return host
}

// ResolveTLS builds a *tls.Config for setting, given the shared default
// context (nil if default_tls was not configured). Returns nil for
// "disable". Inline certs are loaded fresh from disk.
func ResolveTLS(setting TLSSetting, defaultCtx *tls.Config) (*tls.Config, error) {
	switch setting.Kind {
	case "", "disable":
		return nil, nil
	case "default":
		return defaultCtx, nil
	case "inline":
		cert, err := tls.LoadX509KeyPair(setting.CertFile, setting.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("config: loading inline TLS cert/key: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
	default:
		return nil, fmt.Errorf("config: unrecognized tls setting %q", setting.Kind)
	}
}

// DefaultTLSConfig builds the shared default TLS context, or nil if
// default_tls was not configured.
func DefaultTLSConfig(pair *CertPair) (*tls.Config, error) {
	if pair == nil {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(pair.CertFile, pair.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("config: loading default TLS cert/key: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
