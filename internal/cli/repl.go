package cli

import (
	"bufio"
	"context"
	"fmt"

	"github.com/mna/mainer"

	"github.com/mna/lumen/lang/runtime"
	"github.com/mna/lumen/lang/vm"
)

// Repl reads one line at a time from stdin, interpreting each as a
// complete program against a persistent VM (so top-level var/fun/class
// declarations survive across lines), printing diagnostics but never
// exiting non-zero.
func (c *Cmd) Repl(ctx context.Context, stdio mainer.Stdio, args []string) error {
	cfg, err := runtime.Load()
	if err != nil {
		return err
	}
	m := vm.New(cfg, stdio.Stdout, stdio.Stderr)

	scanner := bufio.NewScanner(stdio.Stdin)
	for {
		fmt.Fprint(stdio.Stdout, "> ")
		if !scanner.Scan() {
			return nil
		}
		m.Interpret(scanner.Text())
	}
}
