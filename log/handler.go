// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
)

var termTimeFormat = "01-02|15:04:05.000"

var colorForLevel = map[slog.Level]int{
	LevelCrit:  35, // magenta
	LevelError: 31, // red
	LevelWarn:  33, // yellow
	LevelInfo:  32, // green
	LevelDebug: 36, // cyan
	LevelTrace: 34, // blue
}

// terminalHandler writes human-readable, optionally colorized log lines,
// one per record, in the "LEVEL [timestamp] message key=value ..." shape
// the corpus's own terminal logger uses.
type terminalHandler struct {
	mu       sync.Mutex
	wr       io.Writer
	level    slog.Level
	useColor bool
	attrs    []slog.Attr
}

// NewTerminalHandler returns a handler writing colorized (if useColor) log
// lines at LevelInfo and above.
func NewTerminalHandler(wr io.Writer, useColor bool) slog.Handler {
	return NewTerminalHandlerWithLevel(wr, LevelInfo, useColor)
}

// NewTerminalHandlerWithLevel is NewTerminalHandler with an explicit
// minimum level.
func NewTerminalHandlerWithLevel(wr io.Writer, level slog.Level, useColor bool) slog.Handler {
	return &terminalHandler{wr: wr, level: level, useColor: useColor}
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var line strings.Builder
	fmt.Fprintf(&line, "%-5s [%s] %s", LevelString(r.Level), r.Time.Format(termTimeFormat), r.Message)

	attrs := append([]slog.Attr{}, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	for _, a := range attrs {
		fmt.Fprintf(&line, " %s=%s", a.Key, formatAttrValue(a.Value))
	}
	line.WriteByte('\n')

	if h.useColor {
		color := colorForLevel[r.Level]
		_, err := fmt.Fprintf(h.wr, "\x1b[%dm%s\x1b[0m", color, line.String())
		return err
	}
	_, err := io.WriteString(h.wr, line.String())
	return err
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *terminalHandler) WithGroup(_ string) slog.Handler { return h }

func formatAttrValue(v slog.Value) string {
	return formatAttrValueString(v.String())
}

func formatAttrValueString(s string) string {
	if strings.ContainsAny(s, " \t\n\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// JSONHandler returns a handler emitting one JSON object per record at any
// level (Trace and up).
func JSONHandler(wr io.Writer) slog.Handler {
	return slog.NewJSONHandler(wr, &slog.HandlerOptions{Level: LevelTrace})
}

// JSONHandlerWithLevel is JSONHandler with an explicit minimum level.
func JSONHandlerWithLevel(wr io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewJSONHandler(wr, &slog.HandlerOptions{Level: level})
}

// LogfmtHandler returns a handler emitting key=value lines.
func LogfmtHandler(wr io.Writer) slog.Handler {
	return slog.NewTextHandler(wr, &slog.HandlerOptions{Level: LevelTrace})
}

// GlogHandler wraps another handler, adding glog-style global verbosity
// plus per-source-file verbosity overrides (--vmodule), used so the sync
// engine and the processor can be made noisy independently in production.
type GlogHandler struct {
	inner slog.Handler

	mu        sync.RWMutex
	verbosity slog.Level
	patterns  []vmodulePattern
}

type vmodulePattern struct {
	re    *regexp.Regexp
	level slog.Level
}

// NewGlogHandler creates a GlogHandler around inner, defaulting to only
// passing Crit records through until Verbosity or Vmodule relaxes it.
func NewGlogHandler(inner slog.Handler) *GlogHandler {
	return &GlogHandler{inner: inner, verbosity: LevelCrit}
}

// Verbosity sets the global minimum level.
func (g *GlogHandler) Verbosity(level slog.Level) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verbosity = level
}

// Vmodule parses a comma-separated list of file=level overrides, e.g.
// "logger_test.go=5,scheduler*.go=4". Levels follow the classic glog scale
// (higher = more verbose); level 5 maps to LevelTrace.
func (g *GlogHandler) Vmodule(spec string) error {
	var patterns []vmodulePattern
	for _, part := range strings.Split(spec, ",") {
		if part == "" {
			continue
		}
		eq := strings.LastIndex(part, "=")
		if eq < 0 {
			return fmt.Errorf("invalid vmodule pattern %q", part)
		}
		var lvl int
		if _, err := fmt.Sscanf(part[eq+1:], "%d", &lvl); err != nil {
			return fmt.Errorf("invalid vmodule level in %q: %w", part, err)
		}
		pattern := "^" + strings.ReplaceAll(regexp.QuoteMeta(part[:eq]), `\*`, ".*") + "$"
		re, err := regexp.Compile(pattern)
		if err != nil {
			return err
		}
		patterns = append(patterns, vmodulePattern{re: re, level: LevelCrit - slog.Level(4*lvl)})
	}
	g.mu.Lock()
	g.patterns = patterns
	g.mu.Unlock()
	return nil
}

func (g *GlogHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (g *GlogHandler) Handle(ctx context.Context, r slog.Record) error {
	g.mu.RLock()
	threshold := g.verbosity
	if len(g.patterns) > 0 {
		if file := callerFile(r.PC); file != "" {
			for _, p := range g.patterns {
				if p.re.MatchString(file) {
					threshold = p.level
					break
				}
			}
		}
	}
	g.mu.RUnlock()

	if r.Level < threshold {
		return nil
	}
	return g.inner.Handle(ctx, r)
}

func (g *GlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &GlogHandler{inner: g.inner.WithAttrs(attrs), verbosity: g.verbosity, patterns: g.patterns}
}

func (g *GlogHandler) WithGroup(name string) slog.Handler {
	return &GlogHandler{inner: g.inner.WithGroup(name), verbosity: g.verbosity, patterns: g.patterns}
}

func callerFile(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.File == "" {
		return ""
	}
	return filepath.Base(frame.File)
}
