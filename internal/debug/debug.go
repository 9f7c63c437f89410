package debug

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (moves, limits, failures)
	LevelLive    = 2 // Live info (notifications, gap writes)
	LevelVerbose = 3 // Verbose (conversions, poll iterations)
	LevelTrace   = 4 // Trace (raw device attribute traffic)
)

var (
	mu     sync.RWMutex
	level  int
	format           = "console"
	out    io.Writer = os.Stdout
	base             = zerolog.Nop()
)

// Init initializes the debug system with a level (0-4) and an output format
// ("console" or "json").
// 0 = no output
// 1 = important info (moves, limits, failures)
// 2 = live info (state/energy notifications, gap writes)
// 3 = verbose (conversions, poll iterations)
// 4 = trace (raw device attribute traffic)
func Init(debugLevel int, logFormat string) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	if logFormat != "" {
		format = logFormat
	}
	rebuild()
}

// SetOutput redirects log output, e.g. to mirror it onto the event stream.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

func rebuild() {
	if level <= LevelOff {
		base = zerolog.Nop()
		return
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	w := out
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000", NoColor: out != os.Stdout}
	}
	base = zerolog.New(w).Level(zerologLevel(level)).With().
		Timestamp().
		Str("service", "energyctl").
		Logger()
}

func zerologLevel(l int) zerolog.Level {
	switch {
	case l >= LevelTrace:
		return zerolog.TraceLevel
	case l >= LevelLive:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// Logger returns the base logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Component returns a child logger annotated with the given component name.
func Component(name string) zerolog.Logger {
	l := Logger()
	return l.With().Str("component", name).Logger()
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if IsEnabled(LevelInfo) {
		l := Logger()
		l.Info().Msgf(format, args...)
	}
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	if IsEnabled(LevelInfo) {
		l := Logger()
		l.Info().Interface("value", value).Msg(name)
	}
}

// Error prints an error (level 1+).
func Error(err error) {
	if IsEnabled(LevelInfo) {
		l := Logger()
		l.Error().Err(err).Send()
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if IsEnabled(LevelLive) {
		l := Logger()
		l.Debug().Str("verbosity", "live").Msgf(format, args...)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if IsEnabled(LevelVerbose) {
		l := Logger()
		l.Debug().Str("verbosity", "verbose").Msgf(format, args...)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if IsEnabled(LevelVerbose) {
		l := Logger()
		l.Debug().Str("section", name).Msg("━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if IsEnabled(LevelVerbose) {
		l := Logger()
		l.Debug().Int("step", num).Msg(description)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	if IsEnabled(LevelTrace) {
		l := Logger()
		l.Trace().Msgf(format, args...)
	}
}

// Attr prints a raw device attribute operation (level 4).
func Attr(operation, device, attr string, value interface{}) {
	if IsEnabled(LevelTrace) {
		l := Logger()
		l.Trace().
			Str("op", operation).
			Str("device", device).
			Str("attr", attr).
			Interface("value", value).
			Msg("device attribute")
	}
}

// Pin prints a GPIO operation (level 4).
func Pin(operation string, pin int, value interface{}) {
	if IsEnabled(LevelTrace) {
		l := Logger()
		l.Trace().
			Str("op", operation).
			Int("pin", pin).
			Interface("value", value).
			Msg("gpio")
	}
}
