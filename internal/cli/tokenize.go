package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"

	"github.com/mna/lumen/lang/scanner"
	"github.com/mna/lumen/lang/token"
)

// Tokenize prints the token stream for the file at args[0], one token per
// line. It is a debug surface around the core, not part of the VM itself.
func (c *Cmd) Tokenize(ctx context.Context, stdio mainer.Stdio, args []string) error {
	src, err := os.ReadFile(args[0])
	if err != nil {
		return readError{err: err}
	}

	var sc scanner.Scanner
	sc.Init(string(src))
	for {
		tok := sc.Scan()
		fmt.Fprintln(stdio.Stdout, tok)
		if tok.Kind == token.EOF {
			break
		}
	}
	return nil
}
