package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/aion/internal/kernel"
	"github.com/invisible-tech/aion/internal/persist"
)

type fakeSubmitter struct {
	reqs []kernel.Request
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, req kernel.Request) (kernel.Response, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return kernel.Response{}, f.err
	}
	return kernel.Response{Op: req.Op, Message: "did " + string(req.Op)}, nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestParse(t *testing.T) {
	tests := []struct {
		line   string
		want   kernel.Request
		action Action
	}{
		{"", kernel.Request{}, ActionNone},
		{"   ", kernel.Request{}, ActionNone},
		{"help", kernel.Request{}, ActionHelp},
		{"quit", kernel.Request{}, ActionQuit},
		{"status", kernel.Request{Op: kernel.OpStatus}, ActionSubmit},
		{"  ALERTS ", kernel.Request{Op: kernel.OpAlerts}, ActionSubmit},
		{"damage cortex 0.2", kernel.Request{Op: kernel.OpDamage, Organ: "cortex", Amount: 0.2}, ActionSubmit},
		{"heal io 0.1", kernel.Request{Op: kernel.OpHeal, Organ: "io", Amount: 0.1}, ActionSubmit},
		{"sim high", kernel.Request{Op: kernel.OpSim, Level: "high"}, ActionSubmit},
		{"logs commands", kernel.Request{Op: kernel.OpLogs, Filter: "commands"}, ActionSubmit},
		{"save state", kernel.Request{Op: kernel.OpSave}, ActionSubmit},
		{"load state", kernel.Request{Op: kernel.OpLoad}, ActionSubmit},
		{"history", kernel.Request{Op: kernel.OpHistory}, ActionSubmit},
		{"history 5", kernel.Request{Op: kernel.OpHistory, Limit: 5}, ActionSubmit},
	}
	for _, tt := range tests {
		got, action, err := Parse(tt.line)
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.line, err)
			continue
		}
		if action != tt.action || got != tt.want {
			t.Errorf("Parse(%q) = %+v, %v; want %+v, %v", tt.line, got, action, tt.want, tt.action)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	for _, line := range []string{
		"dance",
		"damage cortex",
		"damage cortex lots",
		"heal",
		"sim",
		"logs a b",
		"save",
		"save everything",
		"history -1",
		"status now",
	} {
		if _, _, err := Parse(line); err == nil {
			t.Errorf("Parse(%q): expected error", line)
		}
	}
}

func TestParse_UnknownCommandMessage(t *testing.T) {
	_, _, err := Parse("dance")
	if err == nil || err.Error() != "unknown command: 'dance'" {
		t.Errorf("err = %v", err)
	}
}

func TestFormat_History(t *testing.T) {
	resp := kernel.Response{
		Message: "2 saved state(s)",
		History: []persist.Snapshot{
			{ID: 2, SavedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), Payload: "format=1\n"},
			{ID: 1, SavedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Payload: "format=1\n"},
		},
	}
	out := Format(resp)
	if !strings.HasPrefix(out, "2 saved state(s)") {
		t.Errorf("Format missing message: %q", out)
	}
	if !strings.Contains(out, "#2 saved 2024-01-02 03:04:05 (9 bytes)") {
		t.Errorf("Format missing history line: %q", out)
	}
}

func TestShell_Run(t *testing.T) {
	sub := &fakeSubmitter{}
	in := strings.NewReader("status\n\ndance\nhelp\ndamage memory 0.3\n")
	var out bytes.Buffer
	sh := New(sub, in, &out, quietLogger())

	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sub.reqs) != 2 {
		t.Fatalf("submitted %d requests, want 2", len(sub.reqs))
	}
	for _, r := range sub.reqs {
		if r.Source != "shell" {
			t.Errorf("request source = %q", r.Source)
		}
	}
	text := out.String()
	for _, want := range []string{"did status", "unknown command: 'dance'", "did damage", Prompt} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestShell_Quit(t *testing.T) {
	sub := &fakeSubmitter{}
	sh := New(sub, strings.NewReader("status\nquit\nstatus\n"), &bytes.Buffer{}, quietLogger())

	if err := sh.Run(context.Background()); !errors.Is(err, ErrQuit) {
		t.Fatalf("Run = %v, want ErrQuit", err)
	}
	if len(sub.reqs) != 1 {
		t.Errorf("submitted %d requests after quit, want 1", len(sub.reqs))
	}
}

func TestShell_SubmitError(t *testing.T) {
	sub := &fakeSubmitter{err: fmt.Errorf("%w: unknown organ", kernel.ErrInvalidRequest)}
	var out bytes.Buffer
	sh := New(sub, strings.NewReader("damage spleen 0.1\n"), &out, quietLogger())

	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "damage failed: invalid request: unknown organ") {
		t.Errorf("output = %q", out.String())
	}
}

type blockingReader struct{ done chan struct{} }

func (r blockingReader) Read([]byte) (int, error) {
	<-r.done
	return 0, errors.New("closed")
}

func TestShell_ContextCancel(t *testing.T) {
	r := blockingReader{done: make(chan struct{})}
	defer close(r.done)
	sh := New(&fakeSubmitter{}, r, &bytes.Buffer{}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sh.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run after cancel = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
