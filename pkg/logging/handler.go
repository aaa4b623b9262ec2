package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Handler writes one line per record:
//
//	2024-05-02 10:11:12 [INFO] [daqproc] file processed run=ds1/run_001 file=x.root
//
// The module attribute is printed in brackets before the message and every
// other attribute, such as the run directory or file name, after it.
type Handler struct {
	level  slog.Leveler
	mu     *sync.Mutex
	out    io.Writer
	module string
	attrs  []slog.Attr
	group  string
}

func NewHandler(o io.Writer, opts *slog.HandlerOptions) *Handler {
	h := &Handler{out: o, mu: &sync.Mutex{}, level: slog.LevelInfo}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		c.add(a)
	}
	return &c
}

func (h *Handler) WithGroup(name string) slog.Handler {
	c := *h
	c.group = h.prefix(name)
	return &c
}

func (h *Handler) prefix(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

func (h *Handler) add(a slog.Attr) {
	if a.Key == "module" && h.group == "" {
		h.module = a.Value.String()
		return
	}
	h.attrs = append(h.attrs, slog.Attr{Key: h.prefix(a.Key), Value: a.Value})
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	rec := *h
	rec.attrs = append([]slog.Attr(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		rec.add(a)
		return true
	})

	var b strings.Builder
	b.WriteString(r.Time.Format("2006-01-02 15:04:05"))
	b.WriteString(" [" + r.Level.String() + "]")
	if rec.module != "" {
		b.WriteString(" [" + rec.module + "]")
	}
	b.WriteString(" " + r.Message)
	for _, a := range rec.attrs {
		b.WriteString(" " + a.Key + "=" + a.Value.String())
	}
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}
