package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/sessionkeeper/internal/adapters/devgateway"
	"github.com/target/sessionkeeper/internal/adapters/oidc"
	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	"github.com/target/sessionkeeper/internal/ports"
	"github.com/target/sessionkeeper/internal/service"
)

type commandFn func(cc *commandContext, args []string) error

type command struct {
	name        string
	usage       string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx        context.Context
	Controller *service.Controller
	Gateway    ports.Gateway
	Out        io.Writer
}

var errUsage = errors.New("usage")

func commands() map[string]command {
	return map[string]command{
		"login": {
			name:        "login",
			description: "Navigate to the provider login page",
			run:         runLogin,
		},
		"logout": {
			name:        "logout",
			description: "Clear the session and navigate to the provider logout page",
			run:         runLogout,
		},
		"check": {
			name:        "check",
			description: "Reconcile the session with the provider",
			run:         runCheck,
		},
		"continue": {
			name:        "continue",
			description: "Dismiss the idle warning and keep the session",
			run:         runContinue,
		},
		"activity": {
			name:        "activity",
			usage:       "<kind>",
			description: "Record user input (" + activityKindList() + ")",
			run:         runActivity,
		},
		"status": {
			name:        "status",
			description: "Print the current session view",
			run:         runStatus,
		},
		"callback": {
			name:        "callback",
			usage:       "<code> <state>",
			description: "Complete an OIDC login with the redirect parameters",
			run:         runCallback,
		},
		"dev-mode": {
			name:        "dev-mode",
			usage:       "<authenticated|unauthenticated|banned|forbidden>",
			description: "Change how the mock gateway answers",
			run:         runDevMode,
		},
		"help": {
			name:        "help",
			description: "List commands",
			run:         runHelp,
		},
	}
}

// execute runs a single input line. It reports quit for "quit" and "exit".
func execute(cc *commandContext, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	name := strings.ToLower(fields[0])
	if name == "quit" || name == "exit" {
		return true, nil
	}
	cmd, ok := commands()[name]
	if !ok {
		return false, fmt.Errorf("unknown command %q (try \"help\")", name)
	}
	if err := cmd.run(cc, fields[1:]); err != nil {
		if errors.Is(err, errUsage) {
			return false, fmt.Errorf("usage: %s %s", cmd.name, cmd.usage)
		}
		return false, fmt.Errorf("%s: %w", cmd.name, err)
	}
	return false, nil
}

func runLogin(cc *commandContext, _ []string) error {
	return cc.Controller.Login(cc.Ctx)
}

func runLogout(cc *commandContext, _ []string) error {
	return cc.Controller.Logout(cc.Ctx)
}

func runCheck(cc *commandContext, _ []string) error {
	outcome := cc.Controller.CheckAuth(cc.Ctx)
	return writef(cc.Out, "outcome: %s\n", outcome)
}

func runContinue(cc *commandContext, _ []string) error {
	if !cc.Controller.ResetActivity() {
		return writef(cc.Out, "no active session\n")
	}
	return writef(cc.Out, "session continued\n")
}

func runActivity(cc *commandContext, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	kind := domainauth.ActivityKind(strings.ToLower(args[0]))
	if !kind.IsQualifying() {
		return fmt.Errorf("unknown activity %q", args[0])
	}
	if !cc.Controller.RecordActivity(kind) {
		return writef(cc.Out, "activity ignored\n")
	}
	return nil
}

func runStatus(cc *commandContext, _ []string) error {
	v := cc.Controller.Snapshot()
	tw := tabwriter.NewWriter(cc.Out, 0, 4, 2, ' ', 0)
	user := "-"
	if v.User != nil {
		user = v.User.ID
		if v.User.Email != "" {
			user += " <" + v.User.Email + ">"
		}
	}
	rows := [][2]string{
		{"authenticated", fmt.Sprint(v.IsAuthenticated)},
		{"user", user},
		{"loading", fmt.Sprint(v.IsLoading)},
		{"idle warning", fmt.Sprint(v.ShowWarning)},
	}
	if v.ShowWarning {
		rows = append(rows, [2]string{"remaining", v.RemainingTime.Round(time.Second).String()})
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runCallback(cc *commandContext, args []string) error {
	gw, ok := cc.Gateway.(*oidc.Gateway)
	if !ok {
		return errors.New("callback requires the oidc gateway")
	}
	if len(args) != 2 {
		return errUsage
	}
	if err := gw.CompleteLogin(cc.Ctx, args[0], args[1]); err != nil {
		return err
	}
	return runCheck(cc, nil)
}

func runDevMode(cc *commandContext, args []string) error {
	gw, ok := cc.Gateway.(*devgateway.Gateway)
	if !ok {
		return errors.New("dev-mode requires the mock gateway")
	}
	if len(args) != 1 {
		return errUsage
	}
	mode := devgateway.Mode(strings.ToLower(args[0]))
	switch mode {
	case devgateway.ModeAuthenticated, devgateway.ModeUnauthenticated, devgateway.ModeBanned, devgateway.ModeForbidden:
	default:
		return errUsage
	}
	gw.SetMode(mode)
	return writef(cc.Out, "mock gateway now answers %s\n", mode)
}

func runHelp(cc *commandContext, _ []string) error {
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	slices.Sort(names)

	tw := tabwriter.NewWriter(cc.Out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		c := cmds[name]
		if _, err := fmt.Fprintf(tw, "  %s %s\t%s\n", c.name, c.usage, c.description); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(tw, "  quit\tStop the agent\n"); err != nil {
		return err
	}
	return tw.Flush()
}

func activityKindList() string {
	kinds := domainauth.ActivityKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
