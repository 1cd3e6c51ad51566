package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu         sync.RWMutex
	logger     zerolog.Logger
	loggerOnce sync.Once
)

// initLogger initializes the global logger to write JSON lines to stderr.
func initLogger() {
	loggerOnce.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		logger = zerolog.New(os.Stderr).
			Level(zerolog.InfoLevel).
			With().
			Timestamp().
			Str("service", "crewcal").
			Logger()
	})
}

// Setup configures output format and minimum level. format is "json"
// (default) or "console".
func Setup(level, format string) {
	initLogger()

	var w io.Writer = os.Stderr
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	mu.Lock()
	logger = logger.Output(w).Level(parseLevel(level))
	mu.Unlock()
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w io.Writer) {
	initLogger()
	mu.Lock()
	logger = logger.Output(w)
	mu.Unlock()
}

func SetLevel(l Level) {
	initLogger()
	mu.Lock()
	logger = logger.Level(parseLevel(string(l)))
	mu.Unlock()
}

func Debug(msg string, kv ...any) {
	current().Debug().Fields(pairs(kv)).Msg(msg)
}

func Info(msg string, kv ...any) {
	current().Info().Fields(pairs(kv)).Msg(msg)
}

func Warn(msg string, kv ...any) {
	current().Warn().Fields(pairs(kv)).Msg(msg)
}

func Error(msg string, err error, kv ...any) {
	current().Error().Err(err).Fields(pairs(kv)).Msg(msg)
}

func current() *zerolog.Logger {
	initLogger()
	mu.RLock()
	l := logger
	mu.RUnlock()
	return &l
}

// pairs drops a trailing key without value and any non-string key, so a
// sloppy call site never panics.
func pairs(kv []any) []any {
	out := make([]any, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		if _, ok := kv[i].(string); !ok {
			continue
		}
		out = append(out, kv[i], kv[i+1])
	}
	return out
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(LevelDebug):
		return zerolog.DebugLevel
	case string(LevelWarn), "WARNING":
		return zerolog.WarnLevel
	case string(LevelError):
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
