// Package shell reads operator commands line by line and submits them to
// the scheduler.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/aion/internal/kernel"
	"github.com/invisible-tech/aion/internal/version"
)

// Prompt is written before each line is read.
const Prompt = "AION> "

// HelpText lists the commands the shell understands.
const HelpText = "commands: help, status, topology, nodes, organs, peripherals, health, awareness, alerts, metrics, " +
	"save state, load state, history [n], damage <organ> <amount>, heal <organ> <amount>, " +
	"sim off|low|high, logs all|commands|silent, quit"

// ErrQuit is returned by Run when the operator asks to stop.
var ErrQuit = errors.New("shell: quit requested")

// Action says what the shell does with a parsed line.
type Action int

const (
	ActionNone Action = iota
	ActionSubmit
	ActionHelp
	ActionQuit
)

// Submitter accepts a request and waits for its response.
type Submitter interface {
	Submit(ctx context.Context, req kernel.Request) (kernel.Response, error)
}

// Parse turns one input line into a request.
func Parse(line string) (kernel.Request, Action, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(line)))
	if len(fields) == 0 {
		return kernel.Request{}, ActionNone, nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help", "?":
		return kernel.Request{}, ActionHelp, nil
	case "quit", "exit":
		return kernel.Request{}, ActionQuit, nil
	case "status", "topology", "nodes", "organs", "peripherals", "health", "alerts", "metrics", "awareness":
		if len(args) != 0 {
			return kernel.Request{}, ActionNone, fmt.Errorf("%s takes no arguments", cmd)
		}
		return kernel.Request{Op: kernel.Op(cmd)}, ActionSubmit, nil
	case "damage", "heal":
		if len(args) != 2 {
			return kernel.Request{}, ActionNone, fmt.Errorf("usage: %s <organ> <amount>", cmd)
		}
		amount, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return kernel.Request{}, ActionNone, fmt.Errorf("invalid amount %q", args[1])
		}
		return kernel.Request{Op: kernel.Op(cmd), Organ: args[0], Amount: amount}, ActionSubmit, nil
	case "sim":
		if len(args) != 1 {
			return kernel.Request{}, ActionNone, errors.New("usage: sim off|low|high")
		}
		return kernel.Request{Op: kernel.OpSim, Level: args[0]}, ActionSubmit, nil
	case "logs":
		if len(args) != 1 {
			return kernel.Request{}, ActionNone, errors.New("usage: logs all|commands|silent")
		}
		return kernel.Request{Op: kernel.OpLogs, Filter: args[0]}, ActionSubmit, nil
	case "save", "load":
		if len(args) != 1 || args[0] != "state" {
			return kernel.Request{}, ActionNone, fmt.Errorf("usage: %s state", cmd)
		}
		return kernel.Request{Op: kernel.Op(cmd)}, ActionSubmit, nil
	case "history":
		req := kernel.Request{Op: kernel.OpHistory}
		if len(args) > 1 {
			return kernel.Request{}, ActionNone, errors.New("usage: history [n]")
		}
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return kernel.Request{}, ActionNone, fmt.Errorf("invalid history limit %q", args[0])
			}
			req.Limit = n
		}
		return req, ActionSubmit, nil
	}
	return kernel.Request{}, ActionNone, fmt.Errorf("unknown command: '%s'", strings.TrimSpace(line))
}

// Format renders a response for the terminal.
func Format(resp kernel.Response) string {
	if len(resp.History) == 0 {
		return resp.Message
	}
	var b strings.Builder
	b.WriteString(resp.Message)
	for _, h := range resp.History {
		fmt.Fprintf(&b, "\n - #%d saved %s (%d bytes)", h.ID, h.SavedAt.Format("2006-01-02 15:04:05"), len(h.Payload))
	}
	return b.String()
}

// Shell is an interactive command loop.
type Shell struct {
	k   Submitter
	in  io.Reader
	out io.Writer
	log *logrus.Logger
}

// New creates a shell reading from in and writing to out.
func New(k Submitter, in io.Reader, out io.Writer, log *logrus.Logger) *Shell {
	return &Shell{k: k, in: in, out: out, log: log}
}

// Run reads lines until EOF, quit, or ctx is cancelled. It returns ErrQuit
// when the operator typed quit and nil otherwise.
func (s *Shell) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	fmt.Fprintln(s.out, version.Banner())
	fmt.Fprintln(s.out, HelpText)
	fmt.Fprint(s.out, Prompt)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						s.log.WithError(err).Warn("Shell input failed")
					}
				default:
				}
				return nil
			}
			if quit := s.handle(ctx, line); quit {
				fmt.Fprintln(s.out, "shutting down")
				return ErrQuit
			}
			fmt.Fprint(s.out, Prompt)
		}
	}
}

func (s *Shell) handle(ctx context.Context, line string) bool {
	req, action, err := Parse(line)
	if err != nil {
		fmt.Fprintln(s.out, err)
		return false
	}
	switch action {
	case ActionHelp:
		fmt.Fprintln(s.out, HelpText)
	case ActionQuit:
		return true
	case ActionSubmit:
		req.Source = "shell"
		resp, err := s.k.Submit(ctx, req)
		if err != nil {
			fmt.Fprintf(s.out, "%s failed: %v\n", req.Op, err)
			return false
		}
		fmt.Fprintln(s.out, Format(resp))
	}
	return false
}
