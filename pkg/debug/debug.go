// Package debug gates verbose diagnostics behind named categories.
//
// Categories pick which subsystems talk (LMBROKER_DEBUG, comma separated,
// "all" for everything). The slog level picks how much they say
// (LMBROKER_LOG_LEVEL). Both environment variables win over config.
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

// Category names a subsystem whose diagnostics can be switched on.
type Category string

const (
	Broker    Category = "broker"
	Streaming Category = "streaming"
	Providers Category = "providers"
	Storage   Category = "storage"
	Transport Category = "transport"
	Auth      Category = "auth"

	all Category = "all"
)

// LevelTrace sits below slog.LevelDebug. Backend payloads are only written
// at this level.
const LevelTrace = slog.LevelDebug - 4

type set map[Category]bool

var active atomic.Pointer[set]

func init() {
	Enable(os.Getenv("LMBROKER_DEBUG"))
}

// Init applies the configured categories, level and format and installs
// the default slog logger on stderr.
func Init(categories, level, format string) {
	Enable(cmpEnv("LMBROKER_DEBUG", categories))
	lvl := ParseLevel(cmpEnv("LMBROKER_LOG_LEVEL", level))
	slog.SetDefault(slog.New(NewHandler(os.Stderr, format, lvl)))
}

// Enable replaces the active categories with the comma separated list in s.
func Enable(s string) {
	cats := parseCategories(s)
	active.Store(&cats)
}

func cmpEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewHandler returns a text handler, or a JSON one when format is "json".
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Enabled reports whether c is switched on.
func Enabled(c Category) bool {
	cats := *active.Load()
	return cats[all] || cats[c]
}

// Log writes a debug record tagged with c when c is enabled.
func Log(c Category, msg string, args ...any) {
	emit(c, slog.LevelDebug, msg, args)
}

// Trace is Log at LevelTrace.
func Trace(c Category, msg string, args ...any) {
	emit(c, LevelTrace, msg, args)
}

// Dump writes body as a single trace record. Large payloads are clipped
// to limit bytes.
func Dump(c Category, msg, body string, limit int) {
	emit(c, LevelTrace, msg, []any{"body", Truncate(body, limit)})
}

func emit(c Category, level slog.Level, msg string, args []any) {
	if !Enabled(c) {
		return
	}
	ctx := context.Background()
	logger := slog.Default()
	if !logger.Enabled(ctx, level) {
		return
	}
	logger.Log(ctx, level, msg, append([]any{"debug", string(c)}, args...)...)
}

// ParseLevel maps TRACE, DEBUG, INFO, WARN(ING) and ERROR to slog levels.
// Anything else is INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Truncate clips s to at most max bytes without splitting a rune and
// marks the cut with "...".
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func parseCategories(s string) set {
	cats := set{}
	for name := range strings.SplitSeq(s, ",") {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			cats[Category(name)] = true
		}
	}
	return cats
}
