// Package shellfmt normalizes shell one-liners for display. Command lines
// echoed into task logs arrive in whatever shape the agent produced them;
// formatting them makes terminal output readable and copy-pastable.
package shellfmt

import (
	"bytes"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Option configures the formatter.
type Option func(*config)

type config struct {
	indent  int
	variant syntax.LangVariant
}

// WithIndent sets the indentation width in spaces (default: 2).
func WithIndent(n int) Option {
	return func(c *config) { c.indent = n }
}

// WithPOSIX parses input as POSIX shell instead of Bash.
func WithPOSIX() Option {
	return func(c *config) { c.variant = syntax.LangPOSIX }
}

// Format parses a shell one-liner and re-prints it in canonical form.
// On parse error the input is returned unchanged with a nil error, so the
// caller can feed it arbitrary log lines without checking first.
func Format(input string, opts ...Option) (string, error) {
	cfg := &config{indent: 2, variant: syntax.LangBash}
	for _, opt := range opts {
		opt(cfg)
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return "", nil
	}

	parser := syntax.NewParser(
		syntax.Variant(cfg.variant),
		syntax.KeepComments(true),
	)
	prog, err := parser.Parse(strings.NewReader(input), "")
	if err != nil {
		return input, nil
	}

	printer := syntax.NewPrinter(
		syntax.Indent(uint(cfg.indent)),
		syntax.SpaceRedirects(true),
	)
	var buf bytes.Buffer
	if err := printer.Print(&buf, prog); err != nil {
		return input, nil
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// commandPrefix marks log lines that echo a shell command.
const commandPrefix = "$ "

// PrettyLine formats a log line when it is a command echo and returns any
// other line untouched.
func PrettyLine(line string) string {
	rest, ok := strings.CutPrefix(line, commandPrefix)
	if !ok {
		return line
	}
	formatted, err := Format(rest)
	if err != nil || formatted == "" {
		return line
	}
	return commandPrefix + formatted
}
