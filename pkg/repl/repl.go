// Package repl is a tiny command dispatcher shared by the engine's CLI
// tools: register a trigger word against a handler, then run it over a
// line-oriented input/output pair. Adapted from the teacher's pkg/repl,
// which the original console and stress-test commands both built on;
// generalized by dropping the network-listener path (pagetreectl talks to
// one local engine.Engine, not a TCP server) and renaming the identifiers
// and welcome banner away from the teacher's project.
package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"pagetree/pkg/config"
)

// Command handles one REPL trigger: the full input line and a Config,
// returning text to print or an error.
type Command func(line string, cfg *Config) (output string, err error)

// TriggerHelp is the built-in meta-command that prints every registered
// command's help string.
const TriggerHelp = ".help"

// ErrorPrefix is prepended to any error text before it reaches the output.
const ErrorPrefix = "ERROR: "

var (
	// ErrOverlappingCommands is returned by Combine when two REPLs register
	// the same trigger.
	ErrOverlappingCommands = errors.New("repl: overlapping command triggers")

	// ErrCommandNotFound is printed when a line's trigger matches no
	// registered command.
	ErrCommandNotFound = errors.New("command not found")
)

// REPL is a set of triggers mapped to Commands, plus their help text.
type REPL struct {
	commands map[string]Command
	help     map[string]string
}

// Config carries per-session state into a Command; today that's just the
// session's identity, which a multi-client build could use to scope a
// long-lived lock.Locker per connection.
type Config struct {
	SessionID uuid.UUID
}

// New returns an empty REPL.
func New() *REPL {
	return &REPL{commands: make(map[string]Command), help: make(map[string]string)}
}

// Add registers action under trigger, overwriting any existing registration.
func (r *REPL) Add(trigger string, action Command, help string) {
	if trigger == TriggerHelp {
		return
	}
	r.commands[trigger] = action
	r.help[trigger] = help
}

// Combine merges repls into one, erroring if any two share a trigger.
func Combine(repls ...*REPL) (*REPL, error) {
	out := New()
	for _, r := range repls {
		for trigger, action := range r.commands {
			if _, exists := out.commands[trigger]; exists {
				return nil, ErrOverlappingCommands
			}
			out.Add(trigger, action, r.help[trigger])
		}
	}
	return out, nil
}

// Help renders every registered command's help line.
func (r *REPL) Help() string {
	var sb strings.Builder
	for trigger, text := range r.help {
		fmt.Fprintf(&sb, "%s: %s\n", trigger, text)
	}
	return sb.String()
}

// Run reads lines from input (stdin if nil), dispatches each to its
// registered command, and writes results to output (stdout if nil), until
// input is exhausted.
func (r *REPL) Run(session uuid.UUID, prompt string, input io.Reader, output io.Writer) {
	if input == nil {
		input = os.Stdin
	}
	if output == nil {
		output = os.Stdout
	}

	scanner := bufio.NewScanner(input)
	cfg := &Config{SessionID: session}
	fmt.Fprintf(output, "%s. Type '.help' to list commands.\n", config.EngineName)
	io.WriteString(output, prompt)

	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			io.WriteString(output, prompt)
			continue
		}
		trigger := fields[0]

		if trigger == TriggerHelp {
			io.WriteString(output, r.Help())
			io.WriteString(output, prompt)
			continue
		}

		if command, ok := r.commands[trigger]; ok {
			result, err := command(line, cfg)
			if err != nil {
				fmt.Fprintf(output, "%s%s\n", ErrorPrefix, err)
			} else {
				if len(result) != 0 && !strings.HasSuffix(result, "\n") {
					result += "\n"
				}
				io.WriteString(output, result)
			}
		} else {
			fmt.Fprintf(output, "%s%s\n", ErrorPrefix, ErrCommandNotFound)
		}
		io.WriteString(output, prompt)
	}
	io.WriteString(output, "\n")
}

// RunChan drives the REPL from a channel of pre-split lines rather than a
// scanner, so a bench driver can feed commands from multiple goroutines
// without each needing its own input stream (grounded in the teacher's
// cmd/dinodb_stress workload-over-channel pattern).
func (r *REPL) RunChan(lines <-chan string, session uuid.UUID, output io.Writer) {
	if output == nil {
		output = os.Stdout
	}
	cfg := &Config{SessionID: session}
	for line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		trigger := fields[0]
		command, ok := r.commands[trigger]
		if !ok {
			fmt.Fprintf(output, "%s%s\n", ErrorPrefix, ErrCommandNotFound)
			continue
		}
		result, err := command(line, cfg)
		if err != nil {
			fmt.Fprintf(output, "%s%s\n", ErrorPrefix, err)
		} else if result != "" {
			fmt.Fprintln(output, result)
		}
	}
}
