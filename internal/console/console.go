// Package console renders chat lines on a terminal and asks the startup
// questions the launcher needs.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/ryandielhenn/zephyrchat/pkg/history"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	accentColor  = lipgloss.Color("#10B981")
	peerColor    = lipgloss.Color("#3B82F6")
	mutedColor   = lipgloss.Color("#6B7280")

	timestampStyle = lipgloss.NewStyle().Foreground(mutedColor).Faint(true)
	selfStyle      = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	peerStyle      = lipgloss.NewStyle().Foreground(peerColor).Bold(true)
	systemStyle    = lipgloss.NewStyle().Foreground(accentColor).Italic(true)
	promptStyle    = lipgloss.NewStyle().Foreground(primaryColor)
)

// ErrNoInput is returned when the input ends before an answer is read.
var ErrNoInput = errors.New("console: no input")

// Console owns the terminal: chat lines and notices go to out, answers and
// chat text are read from in. Writes are serialized because chat lines
// arrive on the node's receive goroutine.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	in  *bufio.Scanner
}

func New(in io.Reader, out io.Writer) *Console {
	return &Console{out: out, in: bufio.NewScanner(in)}
}

// Format renders l as "YYYY-MM-DD HH:MM:SS name: text" with styling.
func Format(l history.Line) string {
	name := peerStyle.Render(l.From)
	if l.Outgoing {
		name = selfStyle.Render(l.From)
	}
	return timestampStyle.Render(l.Timestamp.Format(history.DisplayLayout)) + " " + name + ": " + l.Text
}

// Print writes one chat line.
func (c *Console) Print(l history.Line) {
	c.writeln(Format(l))
}

// Notice writes a status line.
func (c *Console) Notice(format string, args ...any) {
	c.writeln(systemStyle.Render(fmt.Sprintf(format, args...)))
}

func (c *Console) writeln(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

// Ask prints question and returns the trimmed answer.
func (c *Console) Ask(question string) (string, error) {
	c.mu.Lock()
	fmt.Fprint(c.out, promptStyle.Render(question)+" ")
	c.mu.Unlock()

	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return "", err
		}
		return "", ErrNoInput
	}
	return strings.TrimSpace(c.in.Text()), nil
}

// AskName asks until a non-empty name is given.
func (c *Console) AskName() (string, error) {
	for {
		name, err := c.Ask("Your name:")
		if err != nil {
			return "", err
		}
		if name != "" {
			return name, nil
		}
	}
}

// AskWait asks whether to wait for an inbound connection. Only y or yes
// (any case) means yes.
func (c *Console) AskWait() (bool, error) {
	ans, err := c.Ask("Wait for a connection? [y/N]:")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(ans) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// AskTarget asks for the peer to chat with, refusing self.
func (c *Console) AskTarget(self string) (string, error) {
	for {
		name, err := c.Ask("Connect to:")
		if err != nil {
			return "", err
		}
		if name != "" && name != self {
			return name, nil
		}
	}
}

// Lines calls fn with every non-empty input line until the input ends or
// fn returns an error.
func (c *Console) Lines(fn func(string) error) error {
	for c.in.Scan() {
		text := strings.TrimSpace(c.in.Text())
		if text == "" {
			continue
		}
		if err := fn(text); err != nil {
			return err
		}
	}
	return c.in.Err()
}
