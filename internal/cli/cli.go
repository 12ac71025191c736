// Package cli implements the lumen command-line driver on mna/mainer's Cmd
// pattern: a flag-tagged struct, a Validate method, reflection-discovered
// subcommand methods, and a Main entry point returning a mainer.ExitCode.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/mna/mainer"
)

const binName = "lumen"

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] <command> [<path>...]
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] <command> [<path>...]
       %[1]s -h|--help
       %[1]s -v|--version
       %[1]s

With no command and no path, starts a REPL reading from stdin.

The <command> can be one of:
       run PATH                  Interpret the program at PATH.
       repl                      Start an interactive read-eval-print loop.
       tokenize PATH             Print the token stream for PATH.
       disassemble PATH          Compile PATH and print its bytecode.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.

More information on the %[1]s repository:
       https://github.com/mna/lumen
`, binName)
)

// Cmd is the top-level command, populated by mainer.Parser from flags and
// positional arguments.
type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	args  []string
	cmdFn func(context.Context, mainer.Stdio, []string) error
}

func (c *Cmd) SetArgs(args []string)          { c.args = args }
func (c *Cmd) SetFlags(flags map[string]bool) {}

// Validate resolves the requested subcommand (defaulting to "repl" when no
// command is given) and checks its argument count.
func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}

	cmdName := "repl"
	if len(c.args) > 0 {
		cmdName = c.args[0]
	}

	commands := buildCmds(c)
	c.cmdFn = commands[cmdName]
	if c.cmdFn == nil {
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	rest := c.args
	if len(c.args) > 0 {
		rest = c.args[1:]
	}
	switch cmdName {
	case "run", "tokenize", "disassemble":
		if len(rest) != 1 {
			return fmt.Errorf("%s: exactly one file path is required", cmdName)
		}
	case "repl":
		if len(rest) != 0 {
			return errors.New("repl: takes no arguments")
		}
	}
	c.args = rest
	return nil
}

// exitCoder is implemented by errors that carry a specific process exit
// code (65 CompileError, 70 RuntimeError, 74 file-read error).
type exitCoder interface {
	ExitCode() int
}

// Main parses args, validates them, and dispatches to the resolved
// subcommand, translating its error (if any) into a mainer.ExitCode.
func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{EnvVars: false, EnvPrefix: strings.ToUpper(binName) + "_"}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return mainer.ExitCode(64) // sysexits.h EX_USAGE
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success
	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	if err := c.cmdFn(ctx, stdio, c.args); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(stdio.Stderr, msg)
		}
		var ec exitCoder
		if errors.As(err, &ec) {
			return mainer.ExitCode(ec.ExitCode())
		}
		return mainer.Failure
	}
	return mainer.Success
}

// buildCmds discovers every method on v with the subcommand signature
// (context.Context, mainer.Stdio, []string) error and indexes it by its
// lowercased name.
func buildCmds(v interface{}) map[string]func(context.Context, mainer.Stdio, []string) error {
	cmds := make(map[string]func(context.Context, mainer.Stdio, []string) error)

	vv := reflect.ValueOf(v)
	vt := vv.Type()
	for i := 0; i < vt.NumMethod(); i++ {
		m := vt.Method(i)
		mt := m.Type
		if mt.NumIn() != 4 || mt.NumOut() != 1 {
			continue
		}
		if rt := mt.Out(0); rt.Kind() != reflect.Interface || rt.Name() != "error" {
			continue
		}
		if p0 := mt.In(0); p0.Kind() != reflect.Ptr || p0.Elem().Name() != "Cmd" {
			continue
		}
		if p1 := mt.In(1); p1.Kind() != reflect.Interface || p1.Name() != "Context" {
			continue
		}
		if p2 := mt.In(2); p2.Kind() != reflect.Struct || p2.Name() != "Stdio" {
			continue
		}
		if p3 := mt.In(3); p3.Kind() != reflect.Slice || p3.Elem().Name() != "string" {
			continue
		}
		cmds[strings.ToLower(m.Name)] = vv.Method(i).Interface().(func(context.Context, mainer.Stdio, []string) error)
	}
	return cmds
}
