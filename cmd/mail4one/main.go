// Command mail4one runs the personal mail server, or acts as a small CLI
// for managing password hashes, depending on which mutually exclusive flag
// is given.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/balki/mail4one/internal/config"
	"github.com/balki/mail4one/internal/orchestrator"
	"github.com/balki/mail4one/internal/pwhash"
)

const version = "mail4one 1.0.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("mail4one", flag.ContinueOnError)

	var configPath string
	var genPwHash bool
	var pwVerify bool
	var echoPassword bool
	var showVersion bool

	fs.StringVar(&configPath, "c", "", "run server with the JSON configuration at this path")
	fs.StringVar(&configPath, "config", "", "run server with the JSON configuration at this path")
	fs.BoolVar(&genPwHash, "g", false, "print a new password hash")
	fs.BoolVar(&genPwHash, "genpwhash", false, "print a new password hash")
	fs.BoolVar(&pwVerify, "r", false, "verify a password against a hash")
	fs.BoolVar(&pwVerify, "pwverify", false, "verify a password against a hash")
	fs.BoolVar(&echoPassword, "e", false, "echo password when prompting on the terminal")
	fs.BoolVar(&echoPassword, "echo_password", false, "echo password when prompting on the terminal")
	fs.BoolVar(&showVersion, "v", false, "print version and exit")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if showVersion {
		fmt.Println(version)
		return 0
	}

	modes := 0
	for _, set := range []bool{configPath != "", genPwHash, pwVerify} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		fmt.Fprintln(os.Stderr, "exactly one of -c, -g, or -r is required")
		return 2
	}

	switch {
	case configPath != "":
		return runServer(configPath)
	case genPwHash:
		return runGenPwHash(fs.Args(), echoPassword)
	case pwVerify:
		return runPwVerify(fs.Args())
	default:
		return 2
	}
}

func runServer(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := orchestrator.Run(ctx, cfg); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		return 1
	}
	return 0
}

func runGenPwHash(args []string, echo bool) int {
	password, err := resolvePassword(args, echo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading password: %v\n", err)
		return 1
	}

	hash, err := pwhash.Generate(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating hash: %v\n", err)
		return 1
	}
	fmt.Println(hash)
	return 0
}

func runPwVerify(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: mail4one -r <password> <pwhash>")
		return 2
	}
	password, encoded := args[0], args[1]

	info, err := pwhash.Parse(encoded)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing hash: %v\n", err)
		return 1
	}

	if pwhash.Check(password, info) {
		fmt.Println("✓ password and hash match")
		return 0
	}
	fmt.Println("✗ password and hash do not match")
	return 1
}

// resolvePassword returns args[0] if given, otherwise reads a password
// from the terminal, echoing keystrokes only if echo is true.
func resolvePassword(args []string, echo bool) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	if echo {
		var line string
		if _, err := fmt.Scanln(&line); err != nil {
			return "", err
		}
		return line, nil
	}

	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
