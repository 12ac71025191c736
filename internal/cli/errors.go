package cli

import "fmt"

// statusError adapts a runtime.Status into an error carrying the process
// exit code for file mode (65 or 70). The message was already written to
// stderr by the VM or compiler, so Error returns empty to avoid a duplicate
// line when Cmd.Main prints the error.
type statusError struct{ code int }

func (e statusError) Error() string { return "" }
func (e statusError) ExitCode() int { return e.code }

// readError wraps a file-read failure, reported with exit code 74
// (sysexits.h EX_IOERR).
type readError struct{ err error }

func (e readError) Error() string { return fmt.Sprintf("lumen: %s", e.err) }
func (e readError) ExitCode() int { return 74 }
