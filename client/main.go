package main

import (
	goflag "flag"
	"fmt"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"treedrive/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: client [flags]                 interactive prompt")
		fmt.Fprintln(os.Stderr, "       client login <username>       remember who you are")
		fmt.Fprintln(os.Stderr, "       client list | push <file> | get <file> | delete <file>")
		fmt.Fprintln(os.Stderr, "       client status | logout")
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "YAML configuration file (default $"+config.EnvVar+")")
	flags := config.ClientFlags(fs)
	fs.AddGoFlagSet(goflag.CommandLine)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	goflag.CommandLine.Parse(nil)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: invalid configuration:", err)
		return 1
	}

	state := NewClientState(cfg.Client.Server, cfg.Client.Timeout, os.Stdout)
	defer state.Close()

	if fs.NArg() == 0 {
		return interactive(state)
	}
	return oneShot(state, config.ExpandHome(cfg.Client.SessionFile), fs.Args())
}

func interactive(s *ClientState) int {
	c, err := s.connection()
	if err != nil {
		s.printError(err)
		return 1
	}
	s.info(c.Welcome)

	p := prompt.New(
		func(line string) {
			if err := s.Execute(line); err != nil {
				s.printError(err)
			}
		},
		s.Complete,
		prompt.OptionTitle("TreeDrive"),
		prompt.OptionLivePrefix(s.livePrefix),
		prompt.OptionPrefixTextColor(prompt.Green),
		prompt.OptionPreviewSuggestionTextColor(prompt.Blue),
		prompt.OptionSelectedSuggestionBGColor(prompt.LightGray),
		prompt.OptionSuggestionBGColor(prompt.DarkGray),
		prompt.OptionCompletionWordSeparator(" "),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool { return s.quit }),
	)
	p.Run()
	return 0
}

// oneShot runs a single command as the user remembered in the session
// file.
func oneShot(s *ClientState, sessionPath string, args []string) int {
	switch strings.ToLower(args[0]) {
	case "logout":
		if err := ClearSession(sessionPath); err != nil {
			s.printError(err)
			return 1
		}
		s.success("Logged out successfully")
		return 0
	case "status":
		session, err := LoadSession(sessionPath)
		if err != nil {
			s.printError(err)
			return 1
		}
		if session.Username == "" {
			s.info("Status: Not logged in")
			s.info("Run 'client login <username>' to login")
		} else {
			s.info("Status: Logged in as " + session.Username)
		}
		return 0
	case "login":
		s.OnLogin = func(user string) {
			if err := SaveSession(sessionPath, SessionData{Username: user}); err != nil {
				s.printError(errors.Wrap(err, "remembering login"))
			}
		}
	default:
		session, err := LoadSession(sessionPath)
		if err != nil {
			s.printError(err)
			return 1
		}
		s.UserID = session.Username
	}

	if err := s.Execute(strings.Join(args, " ")); err != nil {
		s.printError(err)
		return 1
	}
	return 0
}
