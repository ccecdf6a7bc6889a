// Package clog provides slog helpers shared by the daemon: a colored text
// handler for local runs and a chi middleware that logs each request at a
// level derived from the response status.
package clog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fatih/color"
)

// TextHandler renders records as single colored lines for local development.
// Production deployments use slog.NewJSONHandler instead.
type TextHandler struct {
	level slog.Leveler
	attrs []slog.Attr
	w     io.Writer
}

type TextHandlerOption func(*TextHandler)

func WithLevel(level slog.Leveler) TextHandlerOption {
	return func(h *TextHandler) { h.level = level }
}

func NewTextHandler(w io.Writer, opts ...TextHandlerOption) *TextHandler {
	h := &TextHandler{w: w, level: slog.LevelInfo}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TextHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

func (h *TextHandler) WithGroup(string) slog.Handler {
	return h
}

func (h *TextHandler) Handle(_ context.Context, record slog.Record) error {
	buf := bytes.NewBuffer(make([]byte, 0, 256))

	fmt.Fprintf(buf, "%s %s %s", record.Time.Format(time.RFC3339), levelColor(record.Level), record.Message)
	for _, attr := range h.attrs {
		fmt.Fprintf(buf, " %s=%v", attr.Key, attr.Value)
	}
	record.Attrs(func(attr slog.Attr) bool {
		fmt.Fprintf(buf, " %s=%v", attr.Key, attr.Value)
		return true
	})
	buf.WriteByte('\n')

	_, err := h.w.Write(buf.Bytes())
	return err
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return color.RedString("ERROR")
	case l >= slog.LevelWarn:
		return color.YellowString("WARN ")
	case l >= slog.LevelInfo:
		return color.GreenString("INFO ")
	default:
		return color.CyanString("DEBUG")
	}
}

// HTTPStatusToLevel maps a response status to the level its access log line
// is emitted at.
func HTTPStatusToLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
