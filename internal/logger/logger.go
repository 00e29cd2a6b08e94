package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Per-component level overrides. Shard-heavy components (shard-index,
// read-coordinator) get noisy at debug; overrides let one component be turned
// up without drowning the node log.
var (
	mu        sync.RWMutex
	overrides = map[string]zerolog.Level{}
)

// Setup initializes the global logger
func Setup(level, format string) {
	zerolog.SetGlobalLevel(parseLevel(level))

	var output io.Writer = os.Stdout
	if strings.ToLower(format) == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetComponentLevels installs per-component level overrides from
// "component=level" entries, e.g. "shard-index=debug".
func SetComponentLevels(entries []string) error {
	parsed := make(map[string]zerolog.Level, len(entries))
	for _, e := range entries {
		component, level, ok := strings.Cut(e, "=")
		if !ok || component == "" {
			return fmt.Errorf("malformed log component entry %q, want component=level", e)
		}
		parsed[component] = parseLevel(level)
	}

	mu.Lock()
	overrides = parsed
	mu.Unlock()
	return nil
}

// parseLevel converts string level to zerolog.Level
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get returns a logger with the given component name, honoring any
// per-component level override.
func Get(component string) zerolog.Logger {
	l := log.With().Str("component", component).Logger()

	mu.RLock()
	level, ok := overrides[component]
	mu.RUnlock()
	if ok {
		return l.Level(level)
	}
	return l
}
