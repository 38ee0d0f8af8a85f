package pop3

import (
	"context"
	"fmt"
	"strings"
)

// Command is one POP3 verb. Execute processes it against sess and returns
// the response to write back; conn-level concerns (logging, auth bookkeeping)
// live on Session, not here.
type Command interface {
	Name() string
	Execute(ctx context.Context, sess *Session, args []string) (Response, error)
}

// Response is a single POP3 reply. Lines, if present, is emitted after
// Message and terminated by a lone ".".
type Response struct {
	OK      bool
	Message string
	Lines   []string
}

// String formats r as wire bytes, including byte-stuffing of Lines entries
// that begin with ".".
func (r Response) String() string {
	var sb strings.Builder
	if r.OK {
		sb.WriteString("+OK")
	} else {
		sb.WriteString("-ERR")
	}
	if r.Message != "" {
		sb.WriteString(" ")
		sb.WriteString(r.Message)
	}
	sb.WriteString("\r\n")

	if r.Lines != nil {
		for _, line := range r.Lines {
			if strings.HasPrefix(line, ".") {
				sb.WriteString(".")
			}
			sb.WriteString(line)
			sb.WriteString("\r\n")
		}
		sb.WriteString(".\r\n")
	}
	return sb.String()
}

var commandRegistry = make(map[string]Command)

// RegisterCommand registers cmd under its upper-cased name. Called once at
// package init for every command this server understands.
func RegisterCommand(cmd Command) {
	commandRegistry[strings.ToUpper(cmd.Name())] = cmd
}

// GetCommand looks up a registered command by name, case-insensitively.
func GetCommand(name string) (Command, bool) {
	cmd, ok := commandRegistry[strings.ToUpper(name)]
	return cmd, ok
}

// ParseCommand splits a command line into its verb and arguments.
func ParseCommand(line string) (string, []string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, fmt.Errorf("pop3: empty command line")
	}
	parts := strings.Fields(line)
	return strings.ToUpper(parts[0]), parts[1:], nil
}

func init() {
	RegisterCommand(&capaCommand{})
	RegisterCommand(&userCommand{})
	RegisterCommand(&passCommand{})
	RegisterCommand(&quitCommand{})
	RegisterCommand(&statCommand{})
	RegisterCommand(&listCommand{})
	RegisterCommand(&uidlCommand{})
	RegisterCommand(&retrCommand{})
	RegisterCommand(&deleCommand{})
	RegisterCommand(&rsetCommand{})
	RegisterCommand(&noopCommand{})
}
