// Package shell is the interactive front end: a Session holds the loaded
// recording and the signal being worked on, and each command either prints a
// result or proposes a new signal that the user keeps or discards.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lucasjlepore/vital-signal/logging"
	"github.com/lucasjlepore/vital-signal/pipeline"
	"github.com/lucasjlepore/vital-signal/recording"
)

// Prompt is printed before each command line.
const Prompt = "vitalsig> "

var (
	errNoData   = errors.New("please load data first")
	errNoSignal = errors.New("please select a signal first")
	errUsage    = errors.New("usage")
)

// Options configures a Session.
type Options struct {
	// AutoConfirm keeps every proposed transform without asking.
	AutoConfirm bool
	// TimeReference locates the time column used to derive the sample rate.
	TimeReference recording.TimeReference
	// Batch supplies defaults for the extract command. RecordingsDir and
	// GroundTruthPath are taken from the command arguments.
	Batch pipeline.Options
	// PATChannel is the PPG column used by pat when no channel is given.
	PATChannel string
}

// Session is the state one interactive user works on.
type Session struct {
	opts   Options
	in     *bufio.Scanner
	out    io.Writer
	logger zerolog.Logger

	rec    *recording.Recording
	rate   float64
	column string
	signal []float64
}

// New returns a Session reading commands from in and writing results to out.
func New(in io.Reader, out io.Writer, opts Options) *Session {
	if len(opts.TimeReference.Columns) == 0 {
		opts.TimeReference = recording.DefaultTimeReference()
	}
	if opts.PATChannel == "" {
		opts.PATChannel = pipeline.DefaultPATChannel
	}
	return &Session{
		opts:   opts,
		in:     bufio.NewScanner(in),
		out:    out,
		logger: logging.WithComponent("shell"),
	}
}

// Signal returns a copy of the current signal and its sample rate.
func (s *Session) Signal() ([]float64, float64) {
	return append([]float64(nil), s.signal...), s.rate
}

// Recording returns the loaded recording, or nil.
func (s *Session) Recording() *recording.Recording { return s.rec }

// Run reads commands until quit, end of input or cancellation.
func (s *Session) Run(ctx context.Context) error {
	fmt.Fprintln(s.out, "vital-signal shell. Type help to list commands.")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(s.out, Prompt)
		if !s.in.Scan() {
			fmt.Fprintln(s.out)
			return s.in.Err()
		}
		if s.Execute(ctx, s.in.Text()) {
			return nil
		}
	}
}

// Execute runs one command line and reports whether the session should end.
// Failures are printed and leave the session unchanged.
func (s *Session) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	if name == "quit" || name == "exit" {
		return true
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(s.out, "unknown command %q (type help)\n", name)
		return false
	}
	s.logger.Debug().Str("command", name).Strs("args", args).Msg("executing")
	if err := cmd.run(ctx, s, args); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(s.out, "usage: %s\n", cmd.usage)
			return false
		}
		fmt.Fprintf(s.out, "%s: %v\n", name, err)
	}
	return false
}

// propose shows the effect of a transform and installs it if confirmed.
func (s *Session) propose(next []float64) {
	fmt.Fprintf(s.out, "%d samples -> %d samples\n", len(s.signal), len(next))
	if !s.confirm() {
		fmt.Fprintln(s.out, "changes discarded")
		return
	}
	s.signal = next
	fmt.Fprintln(s.out, "changes applied")
}

func (s *Session) confirm() bool {
	if s.opts.AutoConfirm {
		return true
	}
	fmt.Fprint(s.out, "Keep changes? (y/n): ")
	if !s.in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(s.in.Text()))
	return answer == "y" || answer == "yes"
}

func (s *Session) requireData() error {
	if s.rec == nil {
		return errNoData
	}
	return nil
}

func (s *Session) requireSignal() error {
	if err := s.requireData(); err != nil {
		return err
	}
	if s.signal == nil {
		return errNoSignal
	}
	return nil
}

func (s *Session) help() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(s.out, "  %-28s %s\n", commands[name].usage, commands[name].summary)
	}
	fmt.Fprintf(s.out, "  %-28s %s\n", "quit", "leave the shell")
}
