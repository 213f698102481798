package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"golang.org/x/term"
)

// Formatter applies semantic formatting to text.
type Formatter struct {
	color  *color.Color
	prefix string
	suffix string
}

// Sprint formats the arguments and returns the resulting string.
func (f Formatter) Sprint(a ...any) string {
	text := fmt.Sprint(a...)
	if NoColor() {
		return f.prefix + text + f.suffix
	}
	return f.color.Sprint(text)
}

// Sprintf formats according to a format specifier.
func (f Formatter) Sprintf(format string, a ...any) string {
	return f.Sprint(fmt.Sprintf(format, a...))
}

// NoColor reports whether color output is disabled, by NO_COLOR or by a
// terminal without color support.
func NoColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	return color.NoColor
}

// Semantic formatters for CLI output.
var (
	Code      = Formatter{color.New(color.FgYellow), "`", "`"}
	Success   = Formatter{color.New(color.FgGreen), "", ""}
	Error     = Formatter{color.New(color.FgRed), "", ""}
	Warning   = Formatter{color.New(color.FgYellow), "", ""}
	Info      = Formatter{color.New(color.FgCyan), "", ""}
	Highlight = Formatter{color.New(color.FgCyan), "'", "'"}
	Muted     = Formatter{color.New(color.FgHiBlack), "(", ")"}
)

// Status line prefixes.
func OK(msg string) string   { return Success.Sprint("✓") + " " + msg }
func Fail(msg string) string { return Error.Sprint("✗") + " " + msg }
func Warn(msg string) string { return Warning.Sprint("!") + " " + msg }
func Hint(msg string) string { return Info.Sprint("→") + " " + msg }

// StartSpinner shows message with a spinner on w while slow work runs.
// Nothing is drawn unless w is a terminal. The returned function stops
// the spinner and prints finalMsg, if any.
func StartSpinner(w io.Writer, message string) (stop func(finalMsg string)) {
	if f, ok := w.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return func(finalMsg string) {
			if finalMsg != "" {
				fmt.Fprint(w, EnsureNewline(finalMsg))
			}
		}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + message
	if !NoColor() {
		_ = s.Color("cyan")
	}
	s.Start()

	return func(finalMsg string) {
		if finalMsg != "" {
			s.FinalMSG = EnsureNewline(finalMsg)
		}
		s.Stop()
	}
}

// EnsureNewline ensures s ends with a newline character.
func EnsureNewline(s string) string {
	if !strings.HasSuffix(s, "\n") {
		return s + "\n"
	}
	return s
}

// ErrEmptyInput indicates nothing was entered.
var ErrEmptyInput = errors.New("input is empty")

// ReadSecret prompts on out and reads a line without echo when in is a
// terminal, or reads all of in otherwise (piped input). A single trailing
// newline is removed.
func ReadSecret(in *os.File, out io.Writer, prompt string) ([]byte, error) {
	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprint(out, prompt)
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		if len(b) == 0 {
			return nil, ErrEmptyInput
		}
		return b, nil
	}

	b, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	b = trimNewline(b)
	if len(b) == 0 {
		return nil, ErrEmptyInput
	}
	return b, nil
}

func trimNewline(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
		if n := len(b); n > 0 && b[n-1] == '\r' {
			b = b[:n-1]
		}
	}
	return b
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
