package cli

import (
	"context"
	"os"

	"github.com/mna/mainer"

	"github.com/mna/lumen/lang/runtime"
	"github.com/mna/lumen/lang/vm"
)

// Run interprets the program at args[0] to completion, exiting with the
// code that matches its compile/runtime outcome.
func (c *Cmd) Run(ctx context.Context, stdio mainer.Stdio, args []string) error {
	src, err := os.ReadFile(args[0])
	if err != nil {
		return readError{err: err}
	}

	cfg, err := runtime.Load()
	if err != nil {
		return err
	}
	m := vm.New(cfg, stdio.Stdout, stdio.Stderr)
	status := m.Interpret(string(src))
	if status != runtime.StatusOK {
		return statusError{code: status.ExitCode()}
	}
	return nil
}
