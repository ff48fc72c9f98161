// Scriptable end-to-end tests for fluxctl, backed by rsc.io/script — the
// txtar-driven CLI test harness SPEC_FULL.md's Ambient Stack section
// assigns to cmd/fluxctl, filling the role the teacher reserves for its
// own cmd/bd script-based command tests. Each testdata/script/*.txt file
// is a txtar archive: a sequence of commands (here, just `fluxctl ...`,
// run in-process against this package's cobra root) interleaved with file
// fixtures, checked against `stdout`/`stderr` assertions.
package main

import (
	"bytes"
	"context"
	"os"
	"testing"

	"rsc.io/script"
	"rsc.io/script/scripttest"
)

// newEngine builds the script.Engine used by every testdata/script/*.txt
// file: the default command/condition set plus an `fluxctl` command that
// invokes this package's own cobra root in-process (so the test never
// shells out to a separately built binary).
func newEngine() *script.Engine {
	cmds := script.DefaultCmds()
	cmds["fluxctl"] = scriptCmdFluxctl()
	return &script.Engine{
		Cmds:  cmds,
		Conds: script.DefaultConds(),
	}
}

func TestScripts(t *testing.T) {
	ctx := context.Background()
	scripttest.Test(t, ctx, newEngine, os.Environ(), "testdata/script/*.txt")
}

// scriptCmdFluxctl wraps rootCmd.Execute so testdata scripts can invoke
// `fluxctl <args...>` against the real cobra command tree, capturing
// its stdout/stderr the way script.Cmd expects, without a subprocess. It
// runs with the script's working directory as the process's, so relative
// paths in args resolve against the script's files.
func scriptCmdFluxctl() script.Cmd {
	return script.Command(
		script.CmdUsage{
			Summary: "run the fluxctl admin CLI in-process",
			Args:    "args...",
		},
		func(s *script.State, args ...string) (script.WaitFunc, error) {
			wd, werr := os.Getwd()
			if werr != nil {
				return nil, werr
			}
			if werr := os.Chdir(s.Getwd()); werr != nil {
				return nil, werr
			}
			defer os.Chdir(wd)
			var stdout, stderr bytes.Buffer
			rootCmd.SetOut(&stdout)
			rootCmd.SetErr(&stderr)
			rootCmd.SetArgs(args)
			err := rootCmd.Execute()
			return func(*script.State) (string, string, error) {
				return stdout.String(), stderr.String(), err
			}, nil
		},
	)
}
