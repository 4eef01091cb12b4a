package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/sessionkeeper/internal/adapters/devgateway"
	sessionmocks "github.com/target/sessionkeeper/internal/mocks/session"
	"github.com/target/sessionkeeper/internal/service"
	"github.com/target/sessionkeeper/internal/session"
)

type cliFixture struct {
	cc  *commandContext
	out *bytes.Buffer
	gw  *devgateway.Gateway
	nav *sessionmocks.RecordingNavigator
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	ctx := context.Background()
	gw, err := devgateway.New(devgateway.Config{UserID: "dev-user", Name: "Dev", Email: "dev@example.com"})
	require.NoError(t, err)
	nav := &sessionmocks.RecordingNavigator{}
	ctrl, err := service.NewController(service.ControllerOptions{
		Store:     session.NewStore(ctx, session.StoreOptions{}),
		Gateway:   gw,
		Navigator: nav,
	})
	require.NoError(t, err)
	ctrl.Start(ctx)
	t.Cleanup(ctrl.Stop)

	out := &bytes.Buffer{}
	return &cliFixture{
		cc:  &commandContext{Ctx: ctx, Controller: ctrl, Gateway: gw, Out: out},
		out: out,
		gw:  gw,
		nav: nav,
	}
}

func TestExecute_CheckAndStatus(t *testing.T) {
	f := newCLIFixture(t)

	quit, err := execute(f.cc, "check")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Contains(t, f.out.String(), "outcome: authenticated")

	f.out.Reset()
	_, err = execute(f.cc, "  status ")
	require.NoError(t, err)
	assert.Contains(t, f.out.String(), "authenticated:")
	assert.Contains(t, f.out.String(), "dev-user <dev@example.com>")
}

func TestExecute_LoginAndLogoutNavigate(t *testing.T) {
	f := newCLIFixture(t)

	_, err := execute(f.cc, "check")
	require.NoError(t, err)
	_, err = execute(f.cc, "logout")
	require.NoError(t, err)

	assert.False(t, f.cc.Controller.Snapshot().IsAuthenticated)
	require.Len(t, f.nav.Targets(), 1)

	_, err = execute(f.cc, "login")
	require.NoError(t, err)
	assert.Len(t, f.nav.Targets(), 2)
}

func TestExecute_DevModeBanned(t *testing.T) {
	f := newCLIFixture(t)

	_, err := execute(f.cc, "dev-mode banned")
	require.NoError(t, err)
	_, err = execute(f.cc, "check")
	require.NoError(t, err)

	assert.Contains(t, f.out.String(), "outcome: banned")
	assert.Equal(t, "/login?banned=true", f.nav.Last())

	_, err = execute(f.cc, "dev-mode sleepy")
	require.ErrorContains(t, err, "usage: dev-mode")
}

func TestExecute_ActivityAndContinue(t *testing.T) {
	f := newCLIFixture(t)

	_, err := execute(f.cc, "continue")
	require.NoError(t, err)
	assert.Contains(t, f.out.String(), "no active session")

	_, err = execute(f.cc, "check")
	require.NoError(t, err)

	f.out.Reset()
	_, err = execute(f.cc, "activity keydown")
	require.NoError(t, err)
	assert.Empty(t, f.out.String())

	_, err = execute(f.cc, "activity wink")
	require.ErrorContains(t, err, "unknown activity")

	_, err = execute(f.cc, "activity")
	require.ErrorContains(t, err, "usage: activity <kind>")

	_, err = execute(f.cc, "continue")
	require.NoError(t, err)
	assert.Contains(t, f.out.String(), "session continued")
}

func TestExecute_UnknownQuitAndGatewaySpecific(t *testing.T) {
	f := newCLIFixture(t)

	_, err := execute(f.cc, "teleport")
	require.ErrorContains(t, err, "unknown command")

	quit, err := execute(f.cc, "quit")
	require.NoError(t, err)
	assert.True(t, quit)

	quit, err = execute(f.cc, "")
	require.NoError(t, err)
	assert.False(t, quit)

	_, err = execute(f.cc, "callback code state")
	require.ErrorContains(t, err, "requires the oidc gateway")
}

func TestExecute_Help(t *testing.T) {
	f := newCLIFixture(t)

	_, err := execute(f.cc, "help")
	require.NoError(t, err)
	for _, name := range []string{"login", "logout", "check", "continue", "activity", "status", "quit"} {
		assert.Contains(t, f.out.String(), name)
	}
}

func TestRepl_StopsAtQuit(t *testing.T) {
	f := newCLIFixture(t)

	in := strings.NewReader("check\nstatus\nquit\ncheck\n")
	done := make(chan error, 1)
	go func() { done <- repl(context.Background(), in, f.cc) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("repl did not stop at quit")
	}
	assert.Equal(t, 1, strings.Count(f.out.String(), "outcome:"))
}

func TestRepl_ReportsErrorsAndContinues(t *testing.T) {
	f := newCLIFixture(t)

	require.NoError(t, repl(context.Background(), strings.NewReader("bogus\ncheck\n"), f.cc))
	assert.Contains(t, f.out.String(), "error: unknown command")
	assert.Contains(t, f.out.String(), "outcome: authenticated")
}

func TestLogNavigator(t *testing.T) {
	out := &bytes.Buffer{}
	nav := newLogNavigator(out, nil)

	require.NoError(t, nav.Navigate(context.Background(), "http://localhost:3002/auth/google"))
	assert.Equal(t, "navigate: http://localhost:3002/auth/google\n", out.String())
}
