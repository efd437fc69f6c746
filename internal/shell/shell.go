// Package shell is a line-oriented client that drives the navigation
// controller from a text stream.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/sarvekshan/internal/navigation"
	"github.com/pitabwire/sarvekshan/model"
)

// Shell reads commands line by line and writes results to out. Errors are
// printed and never end the session. A Shell runs one command at a time.
type Shell struct {
	c      *navigation.Controller
	in     io.Reader
	out    io.Writer
	prompt string
	logger *zap.Logger

	// editing holds profile changes not yet saved.
	editing *model.Profile
}

// Option configures a Shell.
type Option func(*Shell)

// WithPrompt sets the prompt printed before each command. An empty prompt
// disables it.
func WithPrompt(p string) Option {
	return func(s *Shell) { s.prompt = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Shell) { s.logger = l }
}

// New creates a shell driving c.
func New(c *navigation.Controller, in io.Reader, out io.Writer, opts ...Option) *Shell {
	s := &Shell{
		c:      c,
		in:     in,
		out:    out,
		prompt: "> ",
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes commands until the input ends, quit is entered or ctx is
// cancelled.
func (s *Shell) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(s.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	s.printPrompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("reading commands: %w", err)
					}
				default:
				}
				return nil
			}
			if s.Exec(ctx, line) {
				return nil
			}
			s.printPrompt()
		}
	}
}

// Exec runs one command line and reports whether the session should end.
func (s *Shell) Exec(ctx context.Context, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name, args := fields[0], fields[1:]

	cmd, ok := commands[name]
	if !ok {
		s.printError(usageError("command", fmt.Sprintf("unknown command %q; type help", name)))
		return false
	}
	if cmd.quit {
		return true
	}
	if len(args) < cmd.minArgs {
		s.printError(usageError("args", "usage: "+cmd.usage))
		return false
	}
	if err := cmd.run(ctx, s, args); err != nil {
		s.printError(err)
	}
	return false
}

func (s *Shell) printPrompt() {
	if s.prompt != "" {
		fmt.Fprint(s.out, s.prompt)
	}
}

func (s *Shell) println(a ...any) {
	fmt.Fprintln(s.out, a...)
}

func (s *Shell) printf(format string, a ...any) {
	fmt.Fprintf(s.out, format, a...)
}

func (s *Shell) printError(err error) {
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) {
		s.logger.Error("unexpected command failure", zap.Error(err))
		env = model.NewInternalError(err)
	}
	s.printf("error: %s\n", env.Error())
	for _, d := range env.Details {
		s.printf("  - %s: %s\n", d.Field, d.Message)
	}
}

func usageError(field, msg string) error {
	return model.NewValidationError([]model.FieldError{{
		Field:   field,
		Code:    model.FieldFormat,
		Message: msg,
	}})
}
