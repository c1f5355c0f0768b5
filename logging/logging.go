// Package logging adapts pterm printers to the auth.Logger interface for
// the console binaries.
package logging

import (
	"github.com/pterm/pterm"
)

// Logger writes scoped, leveled lines through pterm
type Logger struct {
	name  string
	debug *pterm.PrefixPrinter
	info  *pterm.PrefixPrinter
	warn  *pterm.PrefixPrinter
	err   *pterm.PrefixPrinter
}

// New returns a logger scoped to name. Debug lines are printed only when
// debug is true.
func New(name string, debug bool) *Logger {
	if debug {
		pterm.EnableDebugMessages()
	}

	scope := pterm.Scope{Text: name, Style: pterm.NewStyle(pterm.FgGray)}
	return &Logger{
		name:  name,
		debug: pterm.Debug.WithScope(scope),
		info:  pterm.Info.WithScope(scope),
		warn:  pterm.Warning.WithScope(scope),
		err:   pterm.Error.WithScope(scope),
	}
}

// Named returns a sibling logger with a different scope
func (l *Logger) Named(name string) *Logger {
	scope := pterm.Scope{Text: name, Style: pterm.NewStyle(pterm.FgGray)}
	return &Logger{
		name:  name,
		debug: l.debug.WithScope(scope),
		info:  l.info.WithScope(scope),
		warn:  l.warn.WithScope(scope),
		err:   l.err.WithScope(scope),
	}
}

func (l *Logger) Debug(format string, args ...any) {
	l.debug.Printfln(format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.info.Printfln(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.warn.Printfln(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.err.Printfln(format, args...)
}
