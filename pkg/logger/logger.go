package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var (
	Log             *slog.Logger
	defaultLevel    slog.Level
	componentLevels map[string]slog.Level
	levelsMu        sync.RWMutex
	format          string
	output          io.Writer
	outputMu        sync.Mutex
	pid             int
	loggerCache     sync.Map
)

func init() {
	defaultLevel = slog.LevelInfo
	componentLevels = make(map[string]slog.Level)
	format = "text"
	output = os.Stdout
	pid = os.Getpid()

	Log = slog.New(newHandler(""))
}

// Configure resets levels and format. Loggers obtained earlier through Get
// keep their old handler; callers configure before creating components.
func Configure(logFormat string, level LogLevel, components map[string]LogLevel) {
	levelsMu.Lock()
	defaultLevel = parseLevel(string(level))
	format = strings.ToLower(logFormat)
	componentLevels = make(map[string]slog.Level)
	for name, lvl := range components {
		componentLevels[name] = parseLevel(string(lvl))
	}
	levelsMu.Unlock()

	loggerCache = sync.Map{}
	Log = slog.New(newHandler(""))
}

// SetOutput redirects every logger created afterwards to w. A nil writer
// restores stdout.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	levelsMu.Lock()
	output = w
	levelsMu.Unlock()

	loggerCache = sync.Map{}
	Log = slog.New(newHandler(""))
}

func newHandler(component string) slog.Handler {
	levelsMu.RLock()
	f, w := format, output
	levelsMu.RUnlock()

	if f == "json" {
		return newJSONHandler(w, component)
	}
	return NewTextHandler(w, nil, component)
}

// TextHandler writes one line per record: timestamp, pid, component,
// message, then attributes in the order they were added.
type TextHandler struct {
	opts      *slog.HandlerOptions
	mu        *sync.Mutex
	w         io.Writer
	attrs     []slog.Attr
	component string
}

func NewTextHandler(w io.Writer, opts *slog.HandlerOptions, component string) *TextHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &TextHandler{
		w:         w,
		mu:        &outputMu,
		opts:      opts,
		component: component,
	}
}

func (h *TextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= getEffectiveLevel(h.component)
}

func (h *TextHandler) Handle(ctx context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = append(buf, r.Time.Format("2006/01/02 15:04:05.000")...)
	buf = append(buf, fmt.Sprintf(" [%d]", pid)...)

	if h.component != "" {
		buf = append(buf, fmt.Sprintf(" [%s]", h.component)...)
	}
	if r.Level != slog.LevelInfo {
		buf = append(buf, ' ')
		buf = append(buf, r.Level.String()...)
	}

	buf = append(buf, ' ')
	buf = append(buf, r.Message...)

	for _, a := range h.attrs {
		buf = appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = appendAttr(buf, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func appendAttr(buf []byte, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}
	return append(buf, fmt.Sprintf(" %s=%v", a.Key, a.Value.Resolve().Any())...)
}

func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TextHandler{
		w:         h.w,
		mu:        h.mu,
		opts:      h.opts,
		attrs:     append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
		component: h.component,
	}
}

func (h *TextHandler) WithGroup(name string) slog.Handler {
	return &TextHandler{
		w:         h.w,
		mu:        h.mu,
		opts:      h.opts,
		attrs:     h.attrs,
		component: subComponent(h.component, name),
	}
}

func subComponent(component, name string) string {
	if component == "" {
		return name
	}
	return component + "." + name
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ValidLevel(level LogLevel) bool {
	switch strings.ToLower(string(level)) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// getEffectiveLevel resolves a dotted component name to the most specific
// configured level, falling back to the default.
func getEffectiveLevel(component string) slog.Level {
	levelsMu.RLock()
	defer levelsMu.RUnlock()

	path := component
	for {
		if level, ok := componentLevels[path]; ok {
			return level
		}
		idx := strings.LastIndex(path, ".")
		if idx < 0 {
			break
		}
		path = path[:idx]
	}

	return defaultLevel
}

type JSONHandler struct {
	inner     *slog.JSONHandler
	component string
}

func newJSONHandler(w io.Writer, component string) *JSONHandler {
	return &JSONHandler{
		inner: slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}),
		component: component,
	}
}

func (h *JSONHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= getEffectiveLevel(h.component)
}

func (h *JSONHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.component != "" {
		r.AddAttrs(slog.String("component", h.component))
	}
	return h.inner.Handle(ctx, r)
}

func (h *JSONHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &JSONHandler{
		inner:     h.inner.WithAttrs(attrs).(*slog.JSONHandler),
		component: h.component,
	}
}

func (h *JSONHandler) WithGroup(name string) slog.Handler {
	return &JSONHandler{
		inner:     h.inner,
		component: subComponent(h.component, name),
	}
}

// Get returns the cached logger of a component.
func Get(name string) *slog.Logger {
	if l, ok := loggerCache.Load(name); ok {
		return l.(*slog.Logger)
	}

	l := slog.New(newHandler(name))
	actual, _ := loggerCache.LoadOrStore(name, l)
	return actual.(*slog.Logger)
}

// SetComponentLevel changes a component level at runtime. Existing loggers
// observe the change because levels are resolved per record.
func SetComponentLevel(name string, level LogLevel) {
	levelsMu.Lock()
	componentLevels[name] = parseLevel(string(level))
	levelsMu.Unlock()
}

func SetDefaultLevel(level LogLevel) {
	levelsMu.Lock()
	defaultLevel = parseLevel(string(level))
	levelsMu.Unlock()
}

func ClearComponentLevel(name string) {
	levelsMu.Lock()
	delete(componentLevels, name)
	levelsMu.Unlock()
}

func GetComponentLevels() map[string]LogLevel {
	levelsMu.RLock()
	defer levelsMu.RUnlock()
	result := make(map[string]LogLevel)
	for name, level := range componentLevels {
		result[name] = levelToLogLevel(level)
	}
	return result
}

func GetDefaultLevel() LogLevel {
	levelsMu.RLock()
	defer levelsMu.RUnlock()
	return levelToLogLevel(defaultLevel)
}

func levelToLogLevel(level slog.Level) LogLevel {
	switch level {
	case slog.LevelDebug:
		return LogLevelDebug
	case slog.LevelInfo:
		return LogLevelInfo
	case slog.LevelWarn:
		return LogLevelWarn
	case slog.LevelError:
		return LogLevelError
	default:
		return LogLevelInfo
	}
}
