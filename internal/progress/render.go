package progress

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// ConsoleRenderer redraws a single status line on w.
func ConsoleRenderer(w io.Writer) RenderFunc {
	label := color.New(color.FgCyan, color.Bold)
	ctrl := color.New(color.FgRed)
	nonCtrl := color.New(color.FgYellow)
	lastWidth := 0

	return func(s Stats, final bool) {
		line := fmt.Sprintf("%s %s  files %d  entities %d (%s / %s)  %s at %s/s",
			label.Sprint("scanning"),
			percentText(s),
			s.FilesProcessed,
			s.EntitiesFound,
			ctrl.Sprintf("%d controlled", s.Controlled),
			nonCtrl.Sprintf("%d non-controlled", s.NonControlled),
			humanize.Bytes(uint64(s.BytesProcessed)),
			humanize.Bytes(uint64(s.BytesPerSecond)),
		)
		if s.ETA > 0 && !final {
			line += "  eta " + s.ETA.Round(time.Second).String()
		}
		pad := ""
		if n := len(line); n < lastWidth {
			pad = strings.Repeat(" ", lastWidth-n)
		}
		lastWidth = len(line)
		fmt.Fprintf(w, "\r%s%s", line, pad)
		if final {
			fmt.Fprintln(w)
		}
	}
}

// LogRenderer emits each snapshot as a structured log line.
func LogRenderer(logger *slog.Logger) RenderFunc {
	return func(s Stats, final bool) {
		msg := "scan progress"
		if final {
			msg = "scan progress final"
		}
		logger.Info(msg,
			"items", s.ProcessedItems,
			"total", s.TotalItems,
			"files", s.FilesProcessed,
			"entities", s.EntitiesFound,
			"controlled", s.Controlled,
			"noncontrolled", s.NonControlled,
			"bytes", humanize.Bytes(uint64(s.BytesProcessed)),
			"rate", humanize.Bytes(uint64(s.BytesPerSecond))+"/s",
			"elapsed", s.Elapsed.Round(time.Millisecond),
		)
	}
}

// Auto picks ConsoleRenderer when stdout is a terminal, LogRenderer otherwise.
func Auto() RenderFunc {
	if IsTerminal(os.Stdout) {
		return ConsoleRenderer(os.Stdout)
	}
	color.NoColor = true
	return LogRenderer(slog.Default())
}

func percentText(s Stats) string {
	if s.Percent < 0 {
		return fmt.Sprintf("%d items", s.ProcessedItems)
	}
	return fmt.Sprintf("%5.1f%% (%d/%d)", s.Percent, s.ProcessedItems, s.TotalItems)
}
