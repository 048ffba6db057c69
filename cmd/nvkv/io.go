package main

import (
	"fmt"
	"io"
)

// IO handles command output, grounded on the teacher's internal/cli.IO:
// a thin writer pair plus a warning channel that always surfaces on
// stderr, regardless of how stdout is piped or truncated.
type IO struct {
	out      io.Writer
	errOut   io.Writer
	warnings []string
	started  bool
	flushed  int
}

// NewIO creates a new IO instance.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Warn records a warning to be surfaced on stderr. A command that issues
// any warning still exits 0 via Run, but Finish reports exit code 1 so
// scripts notice.
func (o *IO) Warn(format string, a ...any) {
	o.warnings = append(o.warnings, fmt.Sprintf(format, a...))
}

// Println writes to stdout, flushing any pending warnings to stderr first.
func (o *IO) Println(a ...any) {
	o.flushWarningsStart()
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted output to stdout, flushing pending warnings first.
func (o *IO) Printf(format string, a ...any) {
	o.flushWarningsStart()
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes directly to stderr, bypassing the warning buffer.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Finish prints any remaining warnings to stderr and returns an exit code:
// 1 if any warning was ever recorded, 0 otherwise.
func (o *IO) Finish() int {
	o.flushWarningsStart()

	for _, w := range o.warnings[o.flushed:] {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w)
	}

	if len(o.warnings) > 0 {
		return 1
	}

	return 0
}

func (o *IO) flushWarningsStart() {
	if !o.started && len(o.warnings) > 0 {
		for _, w := range o.warnings {
			_, _ = fmt.Fprintln(o.errOut, "warning:", w)
		}

		o.started = true
		o.flushed = len(o.warnings)
	}
}
