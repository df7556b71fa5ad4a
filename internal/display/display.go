// Package display renders scan events on the device's local console. It only
// consumes events; nothing in the scan path depends on what it draws.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/anstrom/netstick/internal/config"
	"github.com/anstrom/netstick/internal/scanning"
)

// Display consumes command lifecycle, result and progress events.
type Display interface {
	PeerConnected(connected bool)
	CommandStarted(name string)
	HostFound(h scanning.Host)
	PortOpen(p scanning.OpenPort)
	Progress(p scanning.Progress)
	CommandFinished(name, summary string)
	Error(message string)
}

// New returns the display selected by cfg. A disabled display is a Nop.
func New(cfg config.DisplayConfig) (Display, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	switch cfg.Output {
	case "", "stderr":
		return NewConsole(os.Stderr), nil
	case "stdout":
		return NewConsole(os.Stdout), nil
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open display output: %w", err)
		}
		return NewConsole(f), nil
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) PeerConnected(bool)             {}
func (Nop) CommandStarted(string)          {}
func (Nop) HostFound(scanning.Host)        {}
func (Nop) PortOpen(scanning.OpenPort)     {}
func (Nop) Progress(scanning.Progress)     {}
func (Nop) CommandFinished(string, string) {}
func (Nop) Error(string)                   {}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	hostStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	portStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#3C9DFF"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#767676"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
)

const barWidth = 20

// Console writes one styled line per event. Progress is drawn only when the
// percentage moves by at least a tenth, and always at 100.
type Console struct {
	mu       sync.Mutex
	w        io.Writer
	lastDraw int
}

// NewConsole creates a console display writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, lastDraw: -1}
}

func (c *Console) line(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, s)
}

func (c *Console) PeerConnected(connected bool) {
	state := "disconnected"
	if connected {
		state = "connected"
	}
	c.line(dimStyle.Render("peer " + state))
}

func (c *Console) CommandStarted(name string) {
	c.mu.Lock()
	c.lastDraw = -1
	c.mu.Unlock()
	c.line(titleStyle.Render(name))
}

func (c *Console) HostFound(h scanning.Host) {
	c.line(hostStyle.Render(fmt.Sprintf("%-15s %s", h.IP, h.MAC)) + " " + dimStyle.Render(h.Vendor))
}

func (c *Console) PortOpen(p scanning.OpenPort) {
	text := fmt.Sprintf("%5d/tcp %s", p.Port, p.Service)
	if p.Version != "" {
		text += " " + p.Version
	}
	c.line(portStyle.Render(text))
}

func (c *Console) Progress(p scanning.Progress) {
	c.mu.Lock()
	if p.Percent < 100 && c.lastDraw >= 0 && p.Percent-c.lastDraw < 10 {
		c.mu.Unlock()
		return
	}
	c.lastDraw = p.Percent
	c.mu.Unlock()
	c.line(dimStyle.Render(fmt.Sprintf("%s %s %3d%%", p.Stage, Bar(p.Percent, barWidth), p.Percent)))
}

func (c *Console) CommandFinished(name, summary string) {
	c.line(titleStyle.Render(name) + " " + summary)
}

func (c *Console) Error(message string) {
	c.line(errorStyle.Render("error: " + message))
}

// Bar renders percent as a fixed-width bar.
func Bar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
