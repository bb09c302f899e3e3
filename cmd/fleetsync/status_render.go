package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"fleetsync/internal/queue"
)

// tone drives both the bracketed tag and the colour of a report line.
type tone int

const (
	toneInfo tone = iota
	toneOK
	toneWarn
	toneError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
	ansiBold   = "\x1b[1m"
)

const reportLabelWidth = 16

func (t tone) tag() string {
	switch t {
	case toneOK:
		return "OK"
	case toneWarn:
		return "WARN"
	case toneError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (t tone) color() string {
	switch t {
	case toneOK:
		return ansiGreen
	case toneWarn:
		return ansiYellow
	case toneError:
		return ansiRed
	default:
		return ansiCyan
	}
}

// report accumulates the lines printed by status and doctor.
type report struct {
	colorize bool
	lines    []string
}

func newReport(w io.Writer) *report {
	return &report{colorize: shouldColorize(w)}
}

func (r *report) section(title string) {
	if len(r.lines) > 0 {
		r.lines = append(r.lines, "")
	}
	title = strings.TrimSpace(title)
	if r.colorize {
		title = ansiBold + title + ansiReset
	}
	r.lines = append(r.lines, title)
}

func (r *report) line(label string, t tone, detail string) {
	text := fmt.Sprintf("[%s]", t.tag())
	if detail != "" {
		text += " " + detail
	}
	row := fmt.Sprintf("  %-*s %s", reportLabelWidth, label+":", text)
	if r.colorize {
		row = t.color() + row + ansiReset
	}
	r.lines = append(r.lines, row)
}

// queueState adds the count line for one action status. Failed actions are a
// warning while they can still be retried; processing actions without a
// running agent were interrupted and need `queue recover` or a restart.
func (r *report) queueState(status queue.Status, count int, agentRunning bool) {
	t := toneInfo
	switch status {
	case queue.StatusFailed:
		if count > 0 {
			t = toneWarn
		} else {
			t = toneOK
		}
	case queue.StatusProcessing:
		if count > 0 && !agentRunning {
			t = toneWarn
		}
	case queue.StatusCompleted:
		t = toneOK
	}
	r.line(displayLabel(string(status)), t, fmt.Sprint(count))
}

// exhausted adds the count of failed actions past their retry budget. Only
// an explicit retry with a larger budget or removal moves them.
func (r *report) exhausted(count, maxRetries int) {
	if count == 0 {
		r.line("Exhausted", toneOK, "0")
		return
	}
	r.line("Exhausted", toneError, fmt.Sprintf("%d (retry budget %d spent; see `fleetsync queue list --status failed`)", count, maxRetries))
}

func (r *report) flush(w io.Writer) {
	for _, line := range r.lines {
		fmt.Fprintln(w, line)
	}
	r.lines = nil
}

func shouldColorize(writer io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
